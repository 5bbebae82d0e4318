package models

import (
	"time"

	"gorm.io/gorm"
)

// SweepRun is the audit record of one dispatch cycle across all due
// leads. Counts are always recorded, even when the cycle partially fails.
type SweepRun struct {
	gorm.Model
	StartedAt  time.Time `gorm:"not null" json:"started_at"`
	FinishedAt time.Time `gorm:"not null" json:"finished_at"`
	Trigger    string    `gorm:"default:'scheduled'" json:"trigger"` // scheduled, manual

	Processed int `gorm:"default:0" json:"processed"`
	Sent      int `gorm:"default:0" json:"sent"`
	Failed    int `gorm:"default:0" json:"failed"`
	Stopped   int `gorm:"default:0" json:"stopped"`
	Completed int `gorm:"default:0" json:"completed"`
	Skipped   int `gorm:"default:0" json:"skipped"`

	// Per-lead outcomes, stored as JSON
	Detail []SweepLeadOutcome `gorm:"type:jsonb;serializer:json" json:"detail"`
}

// SweepLeadOutcome is the per-lead detail embedded in a SweepRun
type SweepLeadOutcome struct {
	LeadID    uint       `json:"lead_id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Outcome   string     `json:"outcome"` // sent, failed, stopped, completed, skipped, error
	Stage     string     `json:"stage,omitempty"`
	NextStage string     `json:"next_stage,omitempty"`
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}
