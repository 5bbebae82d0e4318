package controller

import (
	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type PolicyController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewPolicyController(db *gorm.DB, logger *logrus.Entry) *PolicyController {
	return &PolicyController{DB: db, Logger: logger}
}

type TimingRuleInput struct {
	Stage       string `json:"stage" validate:"required"`
	DelayAmount int    `json:"delay_amount" validate:"min=0"`
	DelayUnit   string `json:"delay_unit" validate:"required,oneof=minutes hours days"`
	Description string `json:"description"`
}

type UpsertPolicyInput struct {
	Name  string            `json:"name"`
	Rules []TimingRuleInput `json:"rules" validate:"required,min=1,dive"`
}

// GetPolicy returns the tenant's timing policy, or the global default
// when no override exists
func (pc *PolicyController) GetPolicy(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	policy, err := pc.loadPolicy(tenant.ID)
	if err == gorm.ErrRecordNotFound {
		policy, err = pc.loadPolicy(models.DefaultTenantID)
	}
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No timing policy configured", nil)
	}

	return c.JSON(utils.SuccessResponse(policy))
}

// GetDefaultPolicy returns the reserved global-default policy
func (pc *PolicyController) GetDefaultPolicy(c *fiber.Ctx) error {
	policy, err := pc.loadPolicy(models.DefaultTenantID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Default policy missing", err)
	}
	return c.JSON(utils.SuccessResponse(policy))
}

// UpsertPolicy replaces the tenant's policy wholesale. At most one
// policy exists per tenant: a second write updates the existing record
// and swaps its rule list inside one transaction.
func (pc *PolicyController) UpsertPolicy(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var input UpsertPolicyInput
	if err := c.BodyParser(&input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(input); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	seen := map[string]bool{}
	for _, rule := range input.Rules {
		if seen[rule.Stage] {
			return utils.ErrorResponse(c, fiber.StatusBadRequest, "Duplicate stage in rules: "+rule.Stage, nil)
		}
		seen[rule.Stage] = true
	}

	var policy models.TimingPolicy
	err := pc.DB.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("tenant_id = ?", tenant.ID).First(&policy).Error
		if err == gorm.ErrRecordNotFound {
			policy = models.TimingPolicy{TenantID: tenant.ID, Name: input.Name}
			if err := tx.Create(&policy).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else if input.Name != "" && input.Name != policy.Name {
			if err := tx.Model(&policy).Update("name", input.Name).Error; err != nil {
				return err
			}
		}

		if err := tx.Unscoped().Where("policy_id = ?", policy.ID).Delete(&models.TimingRule{}).Error; err != nil {
			return err
		}
		for i, in := range input.Rules {
			rule := models.TimingRule{
				PolicyID:    policy.ID,
				Position:    i + 1,
				Stage:       in.Stage,
				DelayAmount: in.DelayAmount,
				DelayUnit:   in.DelayUnit,
				Description: in.Description,
			}
			if err := tx.Create(&rule).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to save policy", err)
	}

	saved, err := pc.loadPolicy(tenant.ID)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to reload policy", err)
	}

	return c.JSON(utils.SuccessResponse(saved))
}

// DeletePolicy removes the tenant's override so the global default
// applies again
func (pc *PolicyController) DeletePolicy(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var policy models.TimingPolicy
	if err := pc.DB.Where("tenant_id = ?", tenant.ID).First(&policy).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "No policy override to delete", nil)
	}

	// Hard delete: a soft-deleted row would keep holding the unique
	// tenant_id index and block re-creating an override later
	err := pc.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("policy_id = ?", policy.ID).Delete(&models.TimingRule{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&policy).Error
	})
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to delete policy", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{"deleted": true}))
}

func (pc *PolicyController) loadPolicy(tenantID uint) (*models.TimingPolicy, error) {
	var policy models.TimingPolicy
	err := pc.DB.Where("tenant_id = ?", tenantID).
		Preload("Rules", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		First(&policy).Error
	if err != nil {
		return nil, err
	}
	return &policy, nil
}
