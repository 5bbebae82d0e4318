package controller

import (
	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type DraftController struct {
	DB        *gorm.DB
	Logger    *logrus.Entry
	Generator *utils.GeneratorClient
}

func NewDraftController(db *gorm.DB, logger *logrus.Entry) *DraftController {
	return &DraftController{
		DB:        db,
		Logger:    logger,
		Generator: utils.NewGeneratorClient(db),
	}
}

// RequestDraft asks the content-generation backend for a draft for one
// (lead, stage) pair. The prompt defaults to the stage template's
// configured prompt.
func (dc *DraftController) RequestDraft(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var input struct {
		LeadID uint   `json:"lead_id" validate:"required"`
		Stage  string `json:"stage" validate:"required"`
		Prompt string `json:"prompt"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var lead models.Lead
	if err := dc.DB.Where("id = ? AND tenant_id = ?", input.LeadID, tenant.ID).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	prompt := input.Prompt
	if prompt == "" {
		var tpl models.ContentTemplate
		if err := dc.DB.Where("tenant_id = ? AND stage = ?", tenant.ID, input.Stage).
			First(&tpl).Error; err == nil {
			prompt = tpl.Prompt
		}
	}

	draft, err := dc.Generator.RequestDraft(tenant, &lead, input.Stage, prompt)
	if err != nil {
		dc.Logger.WithError(err).Warn("draft generation failed")
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Draft generation failed", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(draft))
}

// DeliverDraft is the webhook for asynchronous draft delivery from the
// generation backend
func (dc *DraftController) DeliverDraft(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var input struct {
		LeadID  uint   `json:"lead_id" validate:"required"`
		Stage   string `json:"stage" validate:"required"`
		Subject string `json:"subject" validate:"required"`
		Body    string `json:"body" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	var lead models.Lead
	if err := dc.DB.Where("id = ? AND tenant_id = ?", input.LeadID, tenant.ID).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	draft, err := dc.Generator.StoreDraft(tenant.ID, lead.ID, input.Stage, input.Subject, input.Body)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to store draft", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(draft))
}

// GetDrafts lists drafts for a lead
func (dc *DraftController) GetDrafts(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	query := dc.DB.Where("tenant_id = ?", tenant.ID)
	if leadID := c.Query("lead_id"); leadID != "" {
		query = query.Where("lead_id = ?", utils.ParseUint(leadID))
	}
	if c.Query("unconsumed") == "true" {
		query = query.Where("consumed = ?", false)
	}

	var drafts []models.GeneratedDraft
	if err := query.Order("id DESC").Limit(200).Find(&drafts).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch drafts", err)
	}

	return c.JSON(utils.SuccessResponse(drafts))
}
