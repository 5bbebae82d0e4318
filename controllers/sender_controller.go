package controller

import (
	"leadpilot/models"
	"leadpilot/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type SenderController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewSenderController(db *gorm.DB, logger *logrus.Entry) *SenderController {
	return &SenderController{DB: db, Logger: logger}
}

type SenderInput struct {
	Name           string `json:"name" validate:"required"`
	FromName       string `json:"from_name"`
	FromEmail      string `json:"from_email" validate:"required,email"`
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPUsername   string `json:"smtp_username"`
	SMTPPassword   string `json:"smtp_password"`
	SMTPEncryption string `json:"smtp_encryption"`
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"imap_password"`
	IMAPEncryption string `json:"imap_encryption"`
	IMAPMailbox    string `json:"imap_mailbox"`
}

// CreateSender registers a mail identity. Passwords are encrypted
// before they touch the store.
func (sc *SenderController) CreateSender(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var input SenderInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}
	if err := checkmail.ValidateFormat(input.FromEmail); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid from_email", err)
	}

	smtpPassword, err := utils.Encrypt(input.SMTPPassword)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
	}
	imapPassword, err := utils.Encrypt(input.IMAPPassword)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
	}

	sender := models.Sender{
		TenantID:       tenant.ID,
		Name:           input.Name,
		FromName:       input.FromName,
		FromEmail:      input.FromEmail,
		IsActive:       true,
		SMTPHost:       input.SMTPHost,
		SMTPPort:       input.SMTPPort,
		SMTPUsername:   input.SMTPUsername,
		SMTPPassword:   smtpPassword,
		SMTPEncryption: input.SMTPEncryption,
		IMAPHost:       input.IMAPHost,
		IMAPPort:       input.IMAPPort,
		IMAPUsername:   input.IMAPUsername,
		IMAPPassword:   imapPassword,
		IMAPEncryption: input.IMAPEncryption,
		IMAPMailbox:    input.IMAPMailbox,
	}

	if err := sc.DB.Create(&sender).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to create sender", err)
	}

	return c.Status(fiber.StatusCreated).JSON(utils.SuccessResponse(sender))
}

// GetSenders lists the tenant's senders
func (sc *SenderController) GetSenders(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var senders []models.Sender
	if err := sc.DB.Where("tenant_id = ?", tenant.ID).Find(&senders).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch senders", err)
	}

	return c.JSON(utils.SuccessResponse(senders))
}

// UpdateSender edits a sender; blank passwords keep the stored ones
func (sc *SenderController) UpdateSender(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var sender models.Sender
	if err := sc.DB.Where("id = ? AND tenant_id = ?", c.Params("id"), tenant.ID).
		First(&sender).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sender not found", nil)
	}

	var input SenderInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}

	updates := map[string]interface{}{
		"name":            input.Name,
		"from_name":       input.FromName,
		"from_email":      input.FromEmail,
		"smtp_host":       input.SMTPHost,
		"smtp_port":       input.SMTPPort,
		"smtp_username":   input.SMTPUsername,
		"smtp_encryption": input.SMTPEncryption,
		"imap_host":       input.IMAPHost,
		"imap_port":       input.IMAPPort,
		"imap_username":   input.IMAPUsername,
		"imap_encryption": input.IMAPEncryption,
		"imap_mailbox":    input.IMAPMailbox,
	}
	if input.SMTPPassword != "" {
		enc, err := utils.Encrypt(input.SMTPPassword)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
		}
		updates["smtp_password"] = enc
	}
	if input.IMAPPassword != "" {
		enc, err := utils.Encrypt(input.IMAPPassword)
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to encrypt credentials", err)
		}
		updates["imap_password"] = enc
	}

	if err := sc.DB.Model(&sender).Updates(updates).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update sender", err)
	}

	return c.JSON(utils.SuccessResponse(sender))
}

// DeleteSender removes a sender
func (sc *SenderController) DeleteSender(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	res := sc.DB.Where("id = ? AND tenant_id = ?", c.Params("id"), tenant.ID).
		Delete(&models.Sender{})
	if res.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete sender", res.Error)
	}
	if res.RowsAffected == 0 {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Sender not found", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}
