package models

import (
	"time"

	"gorm.io/gorm"
)

// Sender is a tenant's mail identity: SMTP credentials for outbound
// sequence mail and optional IMAP credentials polled by the reply worker.
// Passwords are stored AES-encrypted (utils.Encrypt).
type Sender struct {
	gorm.Model
	TenantID uint `gorm:"not null;index" json:"tenant_id"`

	Name      string `gorm:"not null" json:"name"`
	FromName  string `json:"from_name"`
	FromEmail string `gorm:"not null" json:"from_email"`
	IsActive  bool   `gorm:"default:true" json:"is_active"`

	// SMTP settings
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	SMTPUsername   string `json:"smtp_username"`
	SMTPPassword   string `json:"-"` // encrypted
	SMTPEncryption string `json:"smtp_encryption"` // SSL, TLS, STARTTLS, none

	// IMAP settings for reply detection
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port"`
	IMAPUsername   string `json:"imap_username"`
	IMAPPassword   string `json:"-"` // encrypted
	IMAPEncryption string `json:"imap_encryption"`
	IMAPMailbox    string `json:"imap_mailbox"`

	LastError     string     `json:"last_error"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
}
