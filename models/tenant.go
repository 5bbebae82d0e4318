package models

import (
	"time"

	"gorm.io/gorm"
)

// Tenant represents an account whose leads, templates and timing policy
// are isolated from every other account. The reserved row with ID
// DefaultTenantID owns the global-default policy and templates.
type Tenant struct {
	gorm.Model
	Email        string `gorm:"not null;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	CompanyName  string `json:"company_name"`

	// Sender identity used for variable substitution and as the
	// default From header when no dedicated sender is configured
	FromName  string `json:"from_name"`
	FromEmail string `json:"from_email"`
	Signature string `gorm:"type:text" json:"signature"`

	// Status
	IsActive     bool `gorm:"default:true" json:"is_active"`
	TokenVersion int  `gorm:"default:0" json:"-"`

	// Relations
	Leads     []Lead            `gorm:"foreignKey:TenantID" json:"leads,omitempty"`
	Senders   []Sender          `gorm:"foreignKey:TenantID" json:"senders,omitempty"`
	Templates []ContentTemplate `gorm:"foreignKey:TenantID" json:"templates,omitempty"`
}

// DefaultTenantID is the reserved tenant that holds the global-default
// timing policy and fallback templates served to tenants without overrides.
const DefaultTenantID uint = 0

// RefreshToken stores issued refresh tokens so they can be revoked
type RefreshToken struct {
	gorm.Model
	TenantID  uint      `gorm:"not null;index" json:"tenant_id"`
	Token     string    `gorm:"not null;uniqueIndex" json:"-"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Revoked   bool      `gorm:"default:false" json:"revoked"`
}
