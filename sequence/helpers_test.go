package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"leadpilot/models"

	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A single connection, so every goroutine sees the same in-memory
	// database rather than a fresh one per pooled connection
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Tenant{},
		&models.Sender{},
		&models.Lead{},
		&models.SendRecord{},
		&models.TimingPolicy{},
		&models.TimingRule{},
		&models.ContentTemplate{},
		&models.GeneratedDraft{},
		&models.SweepRun{},
	))
	require.NoError(t, models.CreateDefaultTimingPolicy(db))

	return db
}

func seedTenant(t *testing.T, db *gorm.DB) *models.Tenant {
	t.Helper()

	tenant := &models.Tenant{
		Email:        "owner@acme.test",
		PasswordHash: "x",
		CompanyName:  "Acme",
		FromName:     "Alex Sender",
		FromEmail:    "alex@acme.test",
		IsActive:     true,
	}
	require.NoError(t, db.Create(tenant).Error)
	return tenant
}

func seedLead(t *testing.T, db *gorm.DB, tenantID uint, email string) *models.Lead {
	t.Helper()

	lead := &models.Lead{
		TenantID:  tenantID,
		Email:     email,
		FirstName: "Jordan",
		LastName:  "Doe",
		Company:   "Globex",
		Source:    "manual",
	}
	require.NoError(t, db.Create(lead).Error)
	return lead
}

// seedTemplates writes an active template for every default stage
func seedTemplates(t *testing.T, db *gorm.DB, tenantID uint) {
	t.Helper()

	for _, stage := range []string{"intro", "followup-1", "followup-2", "breakup"} {
		tpl := models.ContentTemplate{
			TenantID: tenantID,
			Stage:    stage,
			Subject:  "Hello {{first_name}}",
			Body:     "Message for stage " + stage,
			IsActive: true,
		}
		require.NoError(t, db.Create(&tpl).Error)
	}
}

// enrolledLead creates a lead that is active at a stage and due now
func enrolledLead(t *testing.T, db *gorm.DB, tenantID uint, email, stage string, step int) *models.Lead {
	t.Helper()

	lead := seedLead(t, db, tenantID, email)
	due := time.Now().Add(-time.Minute)
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"stage":             stage,
		"step":              step,
		"active":            true,
		"next_scheduled_at": due,
	}).Error)
	require.NoError(t, db.First(lead, lead.ID).Error)
	return lead
}

// fakeMailer records sends and fails addresses listed in failFor. A
// non-zero delay holds each send open to widen overlap between
// concurrent sweeps.
type fakeMailer struct {
	mu      sync.Mutex
	sent    []Email
	failFor map[string]bool
	delay   time.Duration
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failFor: map[string]bool{}}
}

func (f *fakeMailer) Send(ctx context.Context, email Email) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[email.To] {
		return "", errors.New("mailbox unavailable")
	}
	f.sent = append(f.sent, email)
	return email.MessageID, nil
}

func (f *fakeMailer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testDispatcher(t *testing.T, db *gorm.DB, mailer Mailer, opts Options) *Dispatcher {
	t.Helper()

	if opts.Workers == 0 {
		opts.Workers = 1
	}
	if opts.ClaimWindow == 0 {
		opts.ClaimWindow = 10 * time.Minute
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = 30 * time.Minute
	}
	if opts.SendTimeout == 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.ErrorBudget == 0 {
		opts.ErrorBudget = 5
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewDispatcher(db, mailer, logrus.NewEntry(log), opts)
}
