package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadpilot/models"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Outcome labels for per-lead sweep results
const (
	OutcomeSent        = "sent"
	OutcomeCompleted   = "completed"
	OutcomeFailed      = "failed"
	OutcomeStopped     = "stopped"
	OutcomeSkipped     = "skipped"
	OutcomeQuarantined = "quarantined"
	OutcomeError       = "error"
)

// Options tunes one dispatcher instance
type Options struct {
	Workers      int
	ClaimWindow  time.Duration
	RetryBackoff time.Duration
	SendTimeout  time.Duration
	ErrorBudget  int
}

// Dispatcher drives due leads through the stop evaluator, the resolvers
// and the mail transport, committing every transition through the state
// machine. One Run is one sweep.
type Dispatcher struct {
	db      *gorm.DB
	timing  *TimingResolver
	content *ContentResolver
	state   *StateMachine
	mailer  Mailer
	logger  *logrus.Entry
	opts    Options

	// Now is swappable in tests
	Now func() time.Time

	// OnComplete, when set, receives every finished sweep (used to feed
	// the websocket progress hub)
	OnComplete func(*models.SweepRun)
}

func NewDispatcher(db *gorm.DB, mailer Mailer, logger *logrus.Entry, opts Options) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	timing := NewTimingResolver(db)
	return &Dispatcher{
		db:      db,
		timing:  timing,
		content: NewContentResolver(db),
		state:   NewStateMachine(db, timing, opts.RetryBackoff),
		mailer:  mailer,
		logger:  logger,
		opts:    opts,
		Now:     time.Now,
	}
}

// StateMachine exposes the dispatcher's state machine for the manual
// control endpoints, so every mutation shares one transition path.
func (d *Dispatcher) StateMachine() *StateMachine {
	return d.state
}

// Run executes one sweep: find due leads, claim each one exclusively,
// and process the claimed leads on a bounded worker pool. A single
// lead's failure never aborts the batch; only the initial store query
// does. The returned SweepRun is already persisted.
func (d *Dispatcher) Run(ctx context.Context, trigger string) (*models.SweepRun, error) {
	started := d.Now()

	var due []models.Lead
	if err := d.db.Where("active = ? AND quarantined = ? AND next_scheduled_at <= ?", true, false, started).
		Find(&due).Error; err != nil {
		return nil, fmt.Errorf("querying due leads: %w", err)
	}

	run := &models.SweepRun{StartedAt: started, Trigger: trigger}

	var mu sync.Mutex
	var wg sync.WaitGroup
	jobs := make(chan models.Lead)

	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for lead := range jobs {
				outcome := d.processLead(ctx, lead)
				mu.Lock()
				d.tally(run, outcome)
				mu.Unlock()
			}
		}()
	}

	for _, lead := range due {
		select {
		case <-ctx.Done():
		case jobs <- lead:
		}
	}
	close(jobs)
	wg.Wait()

	run.FinishedAt = d.Now()
	if err := d.db.Create(run).Error; err != nil {
		d.logger.WithError(err).Error("failed to persist sweep run")
	}
	if d.OnComplete != nil {
		d.OnComplete(run)
	}

	d.logger.WithFields(logrus.Fields{
		"processed": run.Processed,
		"sent":      run.Sent,
		"failed":    run.Failed,
		"stopped":   run.Stopped,
		"completed": run.Completed,
		"skipped":   run.Skipped,
	}).Info("sweep finished")

	return run, nil
}

func (d *Dispatcher) tally(run *models.SweepRun, outcome models.SweepLeadOutcome) {
	run.Detail = append(run.Detail, outcome)
	run.Processed++
	switch outcome.Outcome {
	case OutcomeSent:
		run.Sent++
	case OutcomeCompleted:
		run.Sent++
		run.Completed++
	case OutcomeFailed:
		run.Failed++
	case OutcomeStopped:
		run.Stopped++
	case OutcomeSkipped:
		run.Skipped++
	case OutcomeQuarantined, OutcomeError:
		run.Failed++
	}
}

// processLead claims and drives one lead. Every exit path records an
// outcome; no lead is dropped silently.
func (d *Dispatcher) processLead(ctx context.Context, lead models.Lead) (outcome models.SweepLeadOutcome) {
	outcome = models.SweepLeadOutcome{LeadID: lead.ID, Email: lead.Email, Name: lead.FullName()}
	log := d.logger.WithFields(logrus.Fields{"lead_id": lead.ID, "tenant_id": lead.TenantID})

	defer func() {
		if r := recover(); r != nil {
			outcome.Outcome = OutcomeError
			outcome.Error = fmt.Sprintf("panic: %v", r)
			log.Errorf("panic while processing lead: %v", r)
		}
	}()

	// Claim: push next_scheduled_at past the claim window, conditioned
	// on the value we read. Zero rows means another worker got here
	// first; that is a silent skip, not an error.
	claim := d.db.Model(&models.Lead{}).
		Where("id = ? AND active = ? AND next_scheduled_at = ?", lead.ID, true, lead.NextScheduledAt).
		Update("next_scheduled_at", d.Now().Add(d.opts.ClaimWindow))
	if claim.Error != nil {
		outcome.Outcome = OutcomeError
		outcome.Error = claim.Error.Error()
		return outcome
	}
	if claim.RowsAffected == 0 {
		outcome.Outcome = OutcomeSkipped
		outcome.Error = "claim lost"
		return outcome
	}

	// Re-read under the claim so signals recorded since the query
	// (replies, manual pauses) are visible.
	if err := d.db.First(&lead, lead.ID).Error; err != nil {
		outcome.Outcome = OutcomeError
		outcome.Error = err.Error()
		return outcome
	}
	if lead.Stage != nil {
		outcome.Stage = *lead.Stage
	}

	if err := CheckInvariants(&lead); err != nil {
		log.WithError(err).Error("quarantining lead")
		sentry.CaptureException(err)
		if qerr := d.state.Quarantine(&lead, err.Error()); qerr != nil {
			log.WithError(qerr).Error("failed to quarantine lead")
		}
		outcome.Outcome = OutcomeQuarantined
		outcome.Error = err.Error()
		return outcome
	}

	stages := d.timing.Stages(lead.TenantID)
	if verdict := EvaluateStop(&lead, stages, d.opts.ErrorBudget); verdict.Stop {
		if err := d.state.Stop(&lead, verdict.Reason); err != nil && err != ErrStateConflict {
			outcome.Outcome = OutcomeError
			outcome.Error = err.Error()
			return outcome
		}
		outcome.Outcome = OutcomeStopped
		outcome.Error = verdict.Reason
		return outcome
	}

	var tenant models.Tenant
	if err := d.db.First(&tenant, lead.TenantID).Error; err != nil {
		outcome.Outcome = OutcomeError
		outcome.Error = fmt.Sprintf("loading tenant: %v", err)
		return outcome
	}

	content, err := d.content.Resolve(&tenant, &lead, *lead.Stage)
	if err == ErrContentUnavailable {
		// Step not consumed; the claim window doubles as the retry delay
		log.Warn("no content configured for stage, skipping")
		outcome.Outcome = OutcomeSkipped
		outcome.Error = err.Error()
		return outcome
	}
	if err != nil {
		outcome.Outcome = OutcomeError
		outcome.Error = err.Error()
		return outcome
	}

	messageID := uuid.New().String()
	email := Email{
		From:      tenant.FromEmail,
		FromName:  tenant.FromName,
		To:        lead.Email,
		Subject:   content.Subject,
		Body:      content.Body,
		MessageID: messageID,
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	defer cancel()

	returnedID, sendErr := d.mailer.Send(sendCtx, email)
	if returnedID != "" {
		messageID = returnedID
	}

	if sendErr != nil {
		log.WithError(sendErr).Warn("transport rejected send")
		if _, err := d.state.CommitFailure(&lead, content.Subject, messageID, sendErr.Error()); err != nil {
			outcome.Outcome = OutcomeError
			outcome.Error = err.Error()
			return outcome
		}
		outcome.Outcome = OutcomeFailed
		outcome.Error = sendErr.Error()
		// Stop in the same sweep the budget exhausts rather than waiting
		// for the next cycle to notice
		if d.opts.ErrorBudget > 0 && lead.FailStreak >= d.opts.ErrorBudget {
			if err := d.state.Stop(&lead, models.StopReasonErrorBudget); err == nil {
				outcome.Outcome = OutcomeStopped
				outcome.Error = models.StopReasonErrorBudget
			}
		} else {
			outcome.NextDueAt = lead.NextScheduledAt
		}
		return outcome
	}

	if _, err := d.state.CommitSend(&lead, content.Subject, messageID); err != nil {
		outcome.Outcome = OutcomeError
		outcome.Error = err.Error()
		return outcome
	}

	if lead.CompletedAt != nil {
		outcome.Outcome = OutcomeCompleted
		return outcome
	}
	outcome.Outcome = OutcomeSent
	if lead.Stage != nil {
		outcome.NextStage = *lead.Stage
	}
	outcome.NextDueAt = lead.NextScheduledAt
	return outcome
}
