package controller

import (
	"time"

	"leadpilot/models"
	"leadpilot/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type DashboardController struct {
	DB     *gorm.DB
	Logger *logrus.Entry
}

func NewDashboardController(db *gorm.DB, logger *logrus.Entry) *DashboardController {
	return &DashboardController{DB: db, Logger: logger}
}

type DashboardStats struct {
	TotalLeads       int64   `json:"total_leads"`
	ActiveLeads      int64   `json:"active_leads"`
	CompletedLeads   int64   `json:"completed_leads"`
	StoppedLeads     int64   `json:"stopped_leads"`
	QuarantinedLeads int64   `json:"quarantined_leads"`
	RepliedLeads     int64   `json:"replied_leads"`
	EmailsSent       int64   `json:"emails_sent"`
	EmailsFailed     int64   `json:"emails_failed"`
	ReplyRate        float64 `json:"reply_rate"`
}

type StageBreakdown struct {
	Stage string `json:"stage"`
	Count int64  `json:"count"`
}

// GetStats returns the tenant's sequencing summary for the dashboard
// cards
func (dc *DashboardController) GetStats(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	timeFrame := c.Query("time_frame", "week")
	now := time.Now()
	var startTime time.Time
	switch timeFrame {
	case "day":
		startTime = now.Add(-24 * time.Hour)
	case "week":
		startTime = now.Add(-7 * 24 * time.Hour)
	case "month":
		startTime = now.Add(-30 * 24 * time.Hour)
	default:
		startTime = now.Add(-7 * 24 * time.Hour)
	}

	var stats DashboardStats
	leads := func() *gorm.DB { return dc.DB.Model(&models.Lead{}).Where("tenant_id = ?", tenant.ID) }

	if err := leads().Count(&stats.TotalLeads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get lead stats", err)
	}
	leads().Where("active = ?", true).Count(&stats.ActiveLeads)
	leads().Where("completed_at IS NOT NULL").Count(&stats.CompletedLeads)
	leads().Where("stopped_reason IS NOT NULL").Count(&stats.StoppedLeads)
	leads().Where("quarantined = ?", true).Count(&stats.QuarantinedLeads)
	leads().Where("last_replied_at IS NOT NULL").Count(&stats.RepliedLeads)

	sends := dc.DB.Model(&models.SendRecord{}).
		Where("tenant_id = ? AND sent_at BETWEEN ? AND ?", tenant.ID, startTime, now)
	sends.Session(&gorm.Session{}).Where("success = ?", true).Count(&stats.EmailsSent)
	sends.Session(&gorm.Session{}).Where("success = ?", false).Count(&stats.EmailsFailed)

	var contacted int64
	leads().Where("last_sent_at IS NOT NULL").Count(&contacted)
	if contacted > 0 {
		stats.ReplyRate = float64(stats.RepliedLeads) / float64(contacted) * 100
	}

	return c.JSON(utils.SuccessResponse(stats))
}

// GetStageBreakdown returns how many active leads sit at each stage
func (dc *DashboardController) GetStageBreakdown(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var breakdown []StageBreakdown
	err := dc.DB.Model(&models.Lead{}).
		Select("stage, COUNT(*) as count").
		Where("tenant_id = ? AND active = ? AND stage IS NOT NULL", tenant.ID, true).
		Group("stage").
		Scan(&breakdown).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get stage breakdown", err)
	}

	return c.JSON(utils.SuccessResponse(breakdown))
}

// GetRecentActivity returns the tenant's latest send records
func (dc *DashboardController) GetRecentActivity(c *fiber.Ctx) error {
	tenant := c.Locals("tenant").(*models.Tenant)

	var records []models.SendRecord
	if err := dc.DB.Where("tenant_id = ?", tenant.ID).
		Order("sent_at DESC").Limit(25).
		Find(&records).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to get recent activity", err)
	}

	return c.JSON(utils.SuccessResponse(records))
}
