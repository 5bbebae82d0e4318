package controller

import (
	"leadpilot/models"
	"leadpilot/sequence"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type TemplateController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewTemplateController(db *gorm.DB, logger *logrus.Entry) *TemplateController {
	return &TemplateController{DB: db, Logger: logger}
}

type UpsertTemplateInput struct {
	Stage      string `json:"stage" validate:"required"`
	Subject    string `json:"subject" validate:"required"`
	Prompt     string `json:"prompt"`
	Body       string `json:"body" validate:"required"`
	Signature  string `json:"signature"`
	MediaBlock string `json:"media_block"`
	IsActive   *bool  `json:"is_active"`
}

// GetTemplates lists the tenant's templates
func (tc *TemplateController) GetTemplates(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var templates []models.ContentTemplate
	if err := tc.DB.Where("tenant_id = ?", tenant.ID).Order("stage ASC").
		Find(&templates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch templates", err)
	}

	return c.JSON(utils.SuccessResponse(templates))
}

// GetTemplate returns the template for one stage
func (tc *TemplateController) GetTemplate(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var tpl models.ContentTemplate
	if err := tc.DB.Where("tenant_id = ? AND stage = ?", tenant.ID, c.Params("stage")).
		First(&tpl).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	return c.JSON(utils.SuccessResponse(tpl))
}

// UpsertTemplate writes the template for a stage. Uniqueness on
// (tenant, stage) is honored by updating the existing row instead of
// duplicating it.
func (tc *TemplateController) UpsertTemplate(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var input UpsertTemplateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}

	var tpl models.ContentTemplate
	err := tc.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("tenant_id = ? AND stage = ?", tenant.ID, input.Stage).First(&tpl).Error
		if err == gorm.ErrRecordNotFound {
			tpl = models.ContentTemplate{
				TenantID:   tenant.ID,
				Stage:      input.Stage,
				Subject:    input.Subject,
				Prompt:     input.Prompt,
				Body:       input.Body,
				Signature:  input.Signature,
				MediaBlock: input.MediaBlock,
				IsActive:   isActive,
			}
			return tx.Create(&tpl).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&tpl).Updates(map[string]interface{}{
			"subject":     input.Subject,
			"prompt":      input.Prompt,
			"body":        input.Body,
			"signature":   input.Signature,
			"media_block": input.MediaBlock,
			"is_active":   isActive,
		}).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save template", err)
	}

	return c.JSON(utils.SuccessResponse(tpl))
}

// DeleteTemplate removes a stage's template
func (tc *TemplateController) DeleteTemplate(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	// Hard delete: a soft-deleted row would keep holding the unique
	// (tenant_id, stage) index and block re-creating the stage's template
	res := tc.DB.Unscoped().Where("tenant_id = ? AND stage = ?", tenant.ID, c.Params("stage")).
		Delete(&models.ContentTemplate{})
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete template", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Template not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}

// PreviewContent renders what the content resolver would produce for a
// lead and stage, without consuming any draft
func (tc *TemplateController) PreviewContent(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var lead models.Lead
	if err := tc.DB.Where("id = ? AND tenant_id = ?", c.Params("leadID"), tenant.ID).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	stage := c.Params("stage")
	resolver := sequence.NewContentResolver(tc.DB)
	content, err := resolver.Peek(tenant, &lead, stage)
	if err == sequence.ErrContentUnavailable {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No content configured for stage", nil)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to render content", err)
	}

	return c.JSON(utils.SuccessResponse(content))
}
