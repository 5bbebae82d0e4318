package models

import (
	"time"

	"gorm.io/gorm"
)

// Stop reasons recorded when a sequence terminates
const (
	StopReasonReplied     = "replied"
	StopReasonComplete    = "sequence_complete"
	StopReasonManual      = "manual"
	StopReasonErrorBudget = "error_budget_exhausted"
)

// Lead represents a single contact owned by a tenant, together with the
// sequencing subset that the outreach engine mutates. The acquisition
// pipeline creates leads with Active=false and Stage=nil; the enroll
// action starts the sequence.
type Lead struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Email     string `gorm:"not null;index" json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Company   string `json:"company"`
	Position  string `json:"position"`
	Phone     string `json:"phone"`
	Website   string `json:"website"`
	Source    string `json:"source"` // manual, pipeline, csv, api

	// Sequencing state. Invariants: Active implies NextScheduledAt != nil;
	// StoppedReason != nil implies Active == false.
	Stage           *string    `gorm:"index" json:"stage"`
	Step            int        `gorm:"default:0" json:"step"`
	Active          bool       `gorm:"default:false;index" json:"active"`
	NextScheduledAt *time.Time `gorm:"index" json:"next_scheduled_at"`
	StoppedReason   *string    `json:"stopped_reason"`
	CompletedAt     *time.Time `json:"completed_at"`

	// Signals consumed by the stop-condition evaluator
	LastSentAt    *time.Time `json:"last_sent_at"`
	LastRepliedAt *time.Time `json:"last_replied_at"`
	FailStreak    int        `gorm:"default:0" json:"fail_streak"`

	// Quarantine for leads whose state contradicts the invariants above.
	// Never picked up by a sweep again until an operator clears it.
	Quarantined    bool   `gorm:"default:false;index" json:"quarantined"`
	QuarantineNote string `json:"quarantine_note"`

	// Relations
	SendRecords []SendRecord `gorm:"foreignKey:LeadID" json:"send_records,omitempty"`
}

// FullName joins first and last name for display and substitution
func (l *Lead) FullName() string {
	switch {
	case l.FirstName != "" && l.LastName != "":
		return l.FirstName + " " + l.LastName
	case l.FirstName != "":
		return l.FirstName
	default:
		return l.LastName
	}
}

// SendRecord is one entry in a lead's append-only send history. Rows are
// only ever created, never updated or deleted.
type SendRecord struct {
	gorm.Model
	LeadID   uint `gorm:"not null;index" json:"lead_id"`
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Stage     string    `gorm:"not null" json:"stage"`
	Step      int       `gorm:"not null" json:"step"`
	Subject   string    `json:"subject"`
	MessageID string    `json:"message_id"`
	Success   bool      `gorm:"not null" json:"success"`
	ErrorNote string    `json:"error_note"`
	SentAt    time.Time `gorm:"not null" json:"sent_at"`

	// Relations
	Lead Lead `json:"-"`
}
