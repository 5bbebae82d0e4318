package sequence

import (
	"context"
	"sync"
	"testing"
	"time"

	"leadpilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepSendsDueLead(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{})

	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 1, run.Sent)
	assert.Equal(t, 0, run.Failed)
	require.Len(t, run.Detail, 1)
	assert.Equal(t, OutcomeSent, run.Detail[0].Outcome)
	assert.Equal(t, "intro", run.Detail[0].Stage)
	assert.Equal(t, "followup-1", run.Detail[0].NextStage)

	assert.Equal(t, 1, mailer.sentCount())
	assert.Equal(t, "jordan@globex.test", mailer.sent[0].To)
	assert.Equal(t, "Hello Jordan", mailer.sent[0].Subject)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.Equal(t, "followup-1", *lead.Stage)
	assert.Equal(t, 2, lead.Step)

	// The run is persisted
	var stored models.SweepRun
	require.NoError(t, db.First(&stored, run.ID).Error)
	assert.Equal(t, "manual", stored.Trigger)
	assert.Equal(t, 1, stored.Sent)
}

func TestSweepIgnoresNotDueAndInactiveLeads(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)

	// Not yet due
	future := enrolledLead(t, db, tenant.ID, "future@globex.test", "intro", 1)
	require.NoError(t, db.Model(future).Update("next_scheduled_at", time.Now().Add(time.Hour)).Error)
	// Never enrolled
	seedLead(t, db, tenant.ID, "idle@globex.test")
	// Quarantined
	parked := enrolledLead(t, db, tenant.ID, "parked@globex.test", "intro", 1)
	require.NoError(t, db.Model(parked).Update("quarantined", true).Error)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{})

	run, err := d.Run(context.Background(), "scheduled")
	require.NoError(t, err)
	assert.Equal(t, 0, run.Processed)
	assert.Zero(t, mailer.sentCount())
}

func TestSweepCompletesLastStage(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "breakup", 4)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{})

	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, run.Sent)
	assert.Equal(t, 1, run.Completed)
	require.Len(t, run.Detail, 1)
	assert.Equal(t, OutcomeCompleted, run.Detail[0].Outcome)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.False(t, lead.Active)
	require.NotNil(t, lead.CompletedAt)
	assert.Nil(t, lead.StoppedReason)
}

func TestSweepFailureRetriesWithBackoff(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	mailer := newFakeMailer()
	mailer.failFor["jordan@globex.test"] = true
	d := testDispatcher(t, db, mailer, Options{RetryBackoff: 30 * time.Minute})

	before := time.Now()
	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Detail, 1)
	assert.Equal(t, OutcomeFailed, run.Detail[0].Outcome)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.True(t, lead.Active)
	assert.Equal(t, "intro", *lead.Stage)
	assert.Equal(t, 1, lead.FailStreak)
	require.NotNil(t, lead.NextScheduledAt)
	assert.WithinDuration(t, before.Add(30*time.Minute), *lead.NextScheduledAt, 10*time.Second)

	// The failure is part of the append-only history
	var rec models.SendRecord
	require.NoError(t, db.Where("lead_id = ?", lead.ID).First(&rec).Error)
	assert.False(t, rec.Success)
	assert.NotEmpty(t, rec.ErrorNote)
}

func TestSweepStopsWhenBudgetExhausts(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)
	require.NoError(t, db.Model(lead).Update("fail_streak", 4).Error)

	mailer := newFakeMailer()
	mailer.failFor["jordan@globex.test"] = true
	d := testDispatcher(t, db, mailer, Options{ErrorBudget: 5})

	// The fifth consecutive failure stops the lead in the same sweep
	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)

	require.Len(t, run.Detail, 1)
	assert.Equal(t, OutcomeStopped, run.Detail[0].Outcome)
	assert.Equal(t, models.StopReasonErrorBudget, run.Detail[0].Error)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.False(t, lead.Active)
	require.NotNil(t, lead.StoppedReason)
	assert.Equal(t, models.StopReasonErrorBudget, *lead.StoppedReason)
	assert.Equal(t, 5, lead.FailStreak)
	assert.Nil(t, lead.NextScheduledAt)
}

func TestSweepStopsRepliedLeadWithoutSending(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "followup-1", 2)
	replied := time.Now().Add(-time.Minute)
	require.NoError(t, db.Model(lead).Update("last_replied_at", replied).Error)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{})

	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, run.Stopped)
	assert.Zero(t, mailer.sentCount())

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.False(t, lead.Active)
	require.NotNil(t, lead.StoppedReason)
	assert.Equal(t, models.StopReasonReplied, *lead.StoppedReason)
}

func TestSweepSkipsWhenNoContentConfigured(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{ClaimWindow: 10 * time.Minute})

	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, run.Skipped)
	assert.Zero(t, mailer.sentCount())

	// The lead stays active; the pushed-forward claim acts as the retry
	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.True(t, lead.Active)
	assert.Equal(t, 1, lead.Step)
	require.NotNil(t, lead.NextScheduledAt)
	assert.True(t, lead.NextScheduledAt.After(time.Now()))
}

func TestSweepQuarantinesInvariantViolation(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)

	// Active and due but with no stage: contradicts the invariants
	lead := seedLead(t, db, tenant.ID, "broken@globex.test")
	require.NoError(t, db.Model(lead).Updates(map[string]interface{}{
		"active":            true,
		"next_scheduled_at": time.Now().Add(-time.Minute),
	}).Error)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{})

	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Detail, 1)
	assert.Equal(t, OutcomeQuarantined, run.Detail[0].Outcome)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.True(t, lead.Quarantined)
	assert.NotEmpty(t, lead.QuarantineNote)
	assert.False(t, lead.Active)
}

func TestSweepClaimLostIsSkipped(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{})

	// Simulate a concurrent worker winning the claim between the batch
	// query and our conditional update
	stale := *lead
	require.NoError(t, db.Model(lead).
		Update("next_scheduled_at", time.Now().Add(10*time.Minute)).Error)

	outcome := d.processLead(context.Background(), stale)
	assert.Equal(t, OutcomeSkipped, outcome.Outcome)
	assert.Equal(t, "claim lost", outcome.Error)
	assert.Zero(t, mailer.sentCount())
}

func TestConcurrentSweepsSendOncePerStage(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	// Both sweeps share the database and the mailer; the send delay keeps
	// the first delivery in flight while the other sweep scans the batch
	mailer := newFakeMailer()
	mailer.delay = 50 * time.Millisecond
	first := testDispatcher(t, db, mailer, Options{Workers: 2})
	second := testDispatcher(t, db, mailer, Options{Workers: 2})

	var wg sync.WaitGroup
	errCh := make(chan error, 2)
	for _, d := range []*Dispatcher{first, second} {
		wg.Add(1)
		go func(d *Dispatcher) {
			defer wg.Done()
			if _, err := d.Run(context.Background(), "manual"); err != nil {
				errCh <- err
			}
		}(d)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}

	// Whichever sweep loses the claim must not deliver a duplicate
	assert.Equal(t, 1, mailer.sentCount())

	var records []models.SendRecord
	require.NoError(t, db.Where("lead_id = ? AND stage = ?", lead.ID, "intro").Find(&records).Error)
	require.Len(t, records, 1)
	assert.True(t, records[0].Success)

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.Equal(t, "followup-1", *lead.Stage)
	assert.Equal(t, 2, lead.Step)
	assert.True(t, lead.Active)
}

func TestSweepOneFailureDoesNotAbortBatch(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	enrolledLead(t, db, tenant.ID, "bad@globex.test", "intro", 1)
	enrolledLead(t, db, tenant.ID, "good@globex.test", "intro", 1)

	mailer := newFakeMailer()
	mailer.failFor["bad@globex.test"] = true
	d := testDispatcher(t, db, mailer, Options{})

	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)

	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 1, run.Sent)
	assert.Equal(t, 1, run.Failed)
	assert.Equal(t, 1, mailer.sentCount())
}

func TestSweepOnCompleteCallback(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{})

	var received *models.SweepRun
	d.OnComplete = func(run *models.SweepRun) { received = run }

	run, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)
	require.NotNil(t, received)
	assert.Equal(t, run.ID, received.ID)
}

func TestSweepAppendOnlyHistory(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	seedTemplates(t, db, tenant.ID)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	mailer := newFakeMailer()
	d := testDispatcher(t, db, mailer, Options{})

	// First sweep sends intro; make the next stage due and sweep again
	_, err := d.Run(context.Background(), "manual")
	require.NoError(t, err)
	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", lead.ID).
		Update("next_scheduled_at", time.Now().Add(-time.Minute)).Error)
	_, err = d.Run(context.Background(), "manual")
	require.NoError(t, err)

	var records []models.SendRecord
	require.NoError(t, db.Where("lead_id = ?", lead.ID).Order("sent_at ASC").Find(&records).Error)
	require.Len(t, records, 2)
	assert.Equal(t, "intro", records[0].Stage)
	assert.Equal(t, 1, records[0].Step)
	assert.Equal(t, "followup-1", records[1].Stage)
	assert.Equal(t, 2, records[1].Step)
	assert.NotEqual(t, records[0].MessageID, records[1].MessageID)
}
