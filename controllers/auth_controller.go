package controller

import (
	"time"

	"leadpilot/config"
	"leadpilot/models"
	"leadpilot/utils"

	"github.com/badoux/checkmail"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegisterInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
	CompanyName string `json:"company_name"`
	FromName    string `json:"from_name"`
	FromEmail   string `json:"from_email"`
}

type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Register creates a new tenant account
func Register(c *fiber.Ctx) error {
	var input RegisterInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err := checkmail.ValidateFormat(input.Email); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid email address",
		})
	}

	var existing models.Tenant
	if err := config.DB.Where("email = ?", input.Email).First(&existing).Error; err == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Email already registered",
		})
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to hash password",
		})
	}

	tenant := models.Tenant{
		Email:        input.Email,
		PasswordHash: string(hash),
		CompanyName:  input.CompanyName,
		FromName:     input.FromName,
		FromEmail:    input.FromEmail,
		IsActive:     true,
	}
	if tenant.FromEmail == "" {
		tenant.FromEmail = input.Email
	}

	if err := config.DB.Create(&tenant).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create account",
		})
	}

	accessToken, refreshToken, err := issueTokens(&tenant)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to issue tokens",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"tenant":        tenant,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// Login authenticates a tenant and issues a token pair
func Login(c *fiber.Ctx) error {
	var input LoginInput
	if err := c.BodyParser(&input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var tenant models.Tenant
	if err := config.DB.Where("email = ?", input.Email).First(&tenant).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(tenant.PasswordHash), []byte(input.Password)); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	if !tenant.IsActive {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Account is not active",
		})
	}

	accessToken, refreshToken, err := issueTokens(&tenant)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to issue tokens",
		})
	}

	return c.JSON(fiber.Map{
		"tenant":        tenant,
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// RefreshToken exchanges a refresh token for a fresh pair
func RefreshToken(c *fiber.Ctx) error {
	var input struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}
	if err := c.BodyParser(&input); err != nil || input.RefreshToken == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "refresh_token is required",
		})
	}

	var stored models.RefreshToken
	if err := config.DB.Where("token = ? AND revoked = ?", input.RefreshToken, false).
		First(&stored).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid refresh token",
		})
	}
	if time.Now().After(stored.ExpiresAt) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Refresh token expired",
		})
	}

	accessToken, refreshToken, err := utils.RefreshTokens(input.RefreshToken)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid or expired token",
		})
	}

	// Rotate: revoke the old token and store the new one
	if err := config.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&stored).Update("revoked", true).Error; err != nil {
			return err
		}
		return tx.Create(&models.RefreshToken{
			TenantID:  stored.TenantID,
			Token:     refreshToken,
			ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
		}).Error
	}); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to rotate refresh token",
		})
	}

	return c.JSON(fiber.Map{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

// GetCurrentTenant returns the authenticated tenant
func GetCurrentTenant(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)
	return c.JSON(tenant)
}

func issueTokens(tenant *models.Tenant) (string, string, error) {
	accessToken, refreshToken, err := utils.GenerateJWTToken(tenant)
	if err != nil {
		return "", "", err
	}
	err = config.DB.Create(&models.RefreshToken{
		TenantID:  tenant.ID,
		Token:     refreshToken,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	}).Error
	return accessToken, refreshToken, err
}
