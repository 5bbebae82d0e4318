package controller

import (
	"strconv"
	"time"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type LeadController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewLeadController(db *gorm.DB, logger *logrus.Entry) *LeadController {
	return &LeadController{DB: db, Logger: logger}
}

type CreateLeadInput struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`
	Website   string `json:"website"`
	Source    string `json:"source"`
}

// CreateLead adds a single lead for the tenant. The lead starts outside
// any sequence: active=false, stage unset.
func (lc *LeadController) CreateLead(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var input CreateLeadInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid email address", err)
	}

	var existing models.Lead
	if err := lc.DB.Where("tenant_id = ? AND email = ?", tenant.ID, input.Email).
		First(&existing).Error; err == nil {
		return utils.ErrorResponse(c, fiber.StatusConflict, "Lead already exists", nil)
	}

	lead := models.Lead{
		TenantID:  tenant.ID,
		Email:     input.Email,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Company:   input.Company,
		Position:  input.Position,
		Phone:     input.Phone,
		Website:   input.Website,
		Source:    input.Source,
	}
	if lead.Source == "" {
		lead.Source = "manual"
	}

	if err := lc.DB.Create(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create lead", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(lead))
}

// IngestLeads accepts a batch from the lead-acquisition pipeline. Each
// record is deduplicated on (tenant, email); existing leads keep their
// sequencing state untouched.
func (lc *LeadController) IngestLeads(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var input struct {
		Leads []CreateLeadInput `json:"leads" validate:"required,min=1"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if len(input.Leads) == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "No leads provided", nil)
	}

	created, skipped := 0, 0
	for _, in := range input.Leads {
		if checkmail.ValidateFormat(in.Email) != nil {
			skipped++
			continue
		}
		var existing models.Lead
		if err := lc.DB.Where("tenant_id = ? AND email = ?", tenant.ID, in.Email).
			First(&existing).Error; err == nil {
			skipped++
			continue
		}
		lead := models.Lead{
			TenantID:  tenant.ID,
			Email:     in.Email,
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Company:   in.Company,
			Position:  in.Position,
			Phone:     in.Phone,
			Website:   in.Website,
			Source:    "pipeline",
		}
		if err := lc.DB.Create(&lead).Error; err != nil {
			lc.Logger.WithError(err).WithField("email", in.Email).Warn("failed to ingest lead")
			skipped++
			continue
		}
		created++
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"created": created,
		"skipped": skipped,
	}))
}

// GetLeads lists the tenant's leads with pagination and status filters
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}

	query := lc.DB.Model(&models.Lead{}).Where("tenant_id = ?", tenant.ID)
	if stage := c.Query("stage"); stage != "" {
		query = query.Where("stage = ?", stage)
	}
	switch c.Query("status") {
	case "active":
		query = query.Where("active = ?", true)
	case "stopped":
		query = query.Where("stopped_reason IS NOT NULL")
	case "completed":
		query = query.Where("completed_at IS NOT NULL")
	case "quarantined":
		query = query.Where("quarantined = ?", true)
	case "unenrolled":
		query = query.Where("stage IS NULL")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count leads", err)
	}

	var leads []models.Lead
	if err := query.Order("id DESC").Offset((page - 1) * limit).Limit(limit).Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetLead returns one lead with its send history
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND tenant_id = ?", c.Params("id"), tenant.ID).
		Preload("SendRecords", func(db *gorm.DB) *gorm.DB {
			return db.Order("sent_at ASC")
		}).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// UpdateLead edits contact fields only; sequencing state is owned by the
// state machine and never writable here.
func (lc *LeadController) UpdateLead(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND tenant_id = ?", c.Params("id"), tenant.ID).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	var input struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		Company   *string `json:"company"`
		Position  *string `json:"position"`
		Phone     *string `json:"phone"`
		Website   *string `json:"website"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	updates := map[string]interface{}{}
	if input.FirstName != nil {
		updates["first_name"] = *input.FirstName
	}
	if input.LastName != nil {
		updates["last_name"] = *input.LastName
	}
	if input.Company != nil {
		updates["company"] = *input.Company
	}
	if input.Position != nil {
		updates["position"] = *input.Position
	}
	if input.Phone != nil {
		updates["phone"] = *input.Phone
	}
	if input.Website != nil {
		updates["website"] = *input.Website
	}
	if len(updates) == 0 {
		return c.JSON(utils.SuccessResponse(lead))
	}

	if err := lc.DB.Model(&lead).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// DeleteLead soft-deletes a lead
func (lc *LeadController) DeleteLead(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	res := lc.DB.Where("id = ? AND tenant_id = ?", c.Params("id"), tenant.ID).
		Delete(&models.Lead{})
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete lead", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}

// RecordReply marks a reply signal for a lead. Normally stamped by the
// reply worker; exposed so external inbound-mail integrations can push
// the same boundary event.
func (lc *LeadController) RecordReply(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var lead models.Lead
	if err := lc.DB.Where("id = ? AND tenant_id = ?", c.Params("id"), tenant.ID).
		First(&lead).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
	}

	if err := lc.DB.Model(&lead).Update("last_replied_at", utils.Pointer(time.Now())).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to record reply", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"recorded": true}))
}
