package utils

import (
	"context"
	"crypto/tls"
	"fmt"

	"leadpilot/config"
	"leadpilot/models"
	"leadpilot/sequence"

	"gopkg.in/gomail.v2"
	"gorm.io/gorm"
)

// SMTPMailer sends sequence mail over SMTP. It prefers the tenant's own
// active sender (decrypting its stored credentials) and falls back to
// the globally configured transport. Send respects the caller's context
// so one stuck connection cannot stall a sweep.
type SMTPMailer struct {
	db *gorm.DB
}

func NewSMTPMailer(db *gorm.DB) *SMTPMailer {
	return &SMTPMailer{db: db}
}

var _ sequence.Mailer = (*SMTPMailer)(nil)

func (m *SMTPMailer) Send(ctx context.Context, email sequence.Email) (string, error) {
	dialer, from, fromName, err := m.dialerFor(email)
	if err != nil {
		return "", err
	}
	if email.From != "" {
		from = email.From
	}
	if email.FromName != "" {
		fromName = email.FromName
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", fmt.Sprintf("%s <%s>", fromName, from))
	msg.SetHeader("To", email.To)
	msg.SetHeader("Subject", email.Subject)
	msg.SetHeader("Message-ID", fmt.Sprintf("<%s@leadpilot>", email.MessageID))
	msg.SetBody("text/plain", email.Body)

	// gomail has no context support; run the dial-and-send in a
	// goroutine so the per-send timeout holds
	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("smtp send failed: %w", err)
		}
		return email.MessageID, nil
	case <-ctx.Done():
		return "", fmt.Errorf("smtp send timed out: %w", ctx.Err())
	}
}

// dialerFor picks the transport for one email: the sender matching the
// From address if it has SMTP configured, else the global transport.
func (m *SMTPMailer) dialerFor(email sequence.Email) (*gomail.Dialer, string, string, error) {
	var sender models.Sender
	err := m.db.Where("from_email = ? AND is_active = ? AND smtp_host != ''", email.From, true).
		First(&sender).Error
	if err == nil {
		password, derr := Decrypt(sender.SMTPPassword)
		if derr != nil {
			return nil, "", "", fmt.Errorf("failed to decrypt SMTP password: %w", derr)
		}
		d := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, password)
		if sender.SMTPEncryption == "SSL" || sender.SMTPEncryption == "TLS" {
			d.SSL = true
		}
		d.TLSConfig = &tls.Config{ServerName: sender.SMTPHost}
		return d, sender.FromEmail, sender.FromName, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, "", "", err
	}

	cfg := config.AppConfig
	if cfg.SMTPHost == "" {
		return nil, "", "", fmt.Errorf("no SMTP transport configured")
	}
	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	d.TLSConfig = &tls.Config{ServerName: cfg.SMTPHost}
	return d, cfg.FromEmail, cfg.FromName, nil
}
