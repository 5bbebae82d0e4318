package models

import (
	"time"

	"gorm.io/gorm"
)

// GeneratedDraft holds AI-produced content for one (lead, stage) request.
// A draft is consumable at most once: the content resolver flips Consumed
// with a conditional update before using it.
type GeneratedDraft struct {
	gorm.Model
	TenantID uint   `gorm:"not null;index" json:"tenant_id"`
	LeadID   uint   `gorm:"not null;index:idx_drafts_lead_stage" json:"lead_id"`
	Stage    string `gorm:"not null;index:idx_drafts_lead_stage" json:"stage"`

	Subject string `gorm:"type:text" json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	Consumed   bool       `gorm:"default:false;index" json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at"`

	// Relations
	Lead Lead `json:"-"`
}
