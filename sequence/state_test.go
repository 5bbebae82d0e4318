package sequence

import (
	"testing"
	"time"

	"leadpilot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStateMachine(db *gorm.DB) *StateMachine {
	return NewStateMachine(db, NewTimingResolver(db), 30*time.Minute)
}

func TestEnroll(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := seedLead(t, db, tenant.ID, "jordan@globex.test")

	sm := newTestStateMachine(db)
	require.NoError(t, sm.Enroll(lead))

	assert.True(t, lead.Active)
	require.NotNil(t, lead.Stage)
	assert.Equal(t, "intro", *lead.Stage)
	assert.Equal(t, 1, lead.Step)
	require.NotNil(t, lead.NextScheduledAt)
	// intro has a zero-minute delay: due immediately
	assert.WithinDuration(t, time.Now(), *lead.NextScheduledAt, 5*time.Second)

	// Enrolling twice is refused
	assert.ErrorIs(t, sm.Enroll(lead), ErrInvalidTransition)
}

func TestEnrollQuarantinedRefused(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := seedLead(t, db, tenant.ID, "jordan@globex.test")
	require.NoError(t, db.Model(lead).Update("quarantined", true).Error)
	require.NoError(t, db.First(lead, lead.ID).Error)

	sm := newTestStateMachine(db)
	assert.ErrorIs(t, sm.Enroll(lead), ErrInvalidTransition)
}

func TestEnrollWithoutAnyPolicy(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := seedLead(t, db, tenant.ID, "jordan@globex.test")
	require.NoError(t, db.Where("1 = 1").Delete(&models.TimingRule{}).Error)
	require.NoError(t, db.Where("1 = 1").Delete(&models.TimingPolicy{}).Error)

	sm := newTestStateMachine(db)
	assert.ErrorIs(t, sm.Enroll(lead), ErrConfigurationMissing)
}

func TestCommitSendAdvancesStage(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	sm := newTestStateMachine(db)
	before := time.Now()
	rec, err := sm.CommitSend(lead, "Hello", "msg-1")
	require.NoError(t, err)

	assert.Equal(t, "intro", rec.Stage)
	assert.Equal(t, 1, rec.Step)
	assert.True(t, rec.Success)

	require.NotNil(t, lead.Stage)
	assert.Equal(t, "followup-1", *lead.Stage)
	assert.Equal(t, 2, lead.Step)
	assert.True(t, lead.Active)
	assert.Zero(t, lead.FailStreak)
	require.NotNil(t, lead.LastSentAt)
	require.NotNil(t, lead.NextScheduledAt)
	// followup-1 carries a 3-day delay in the default schedule
	assert.WithinDuration(t, before.Add(3*24*time.Hour), *lead.NextScheduledAt, 10*time.Second)
}

func TestCommitSendLastStageCompletes(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "breakup", 4)

	sm := newTestStateMachine(db)
	_, err := sm.CommitSend(lead, "Goodbye", "msg-4")
	require.NoError(t, err)

	assert.False(t, lead.Active)
	require.NotNil(t, lead.CompletedAt)
	assert.Nil(t, lead.NextScheduledAt)
	assert.Nil(t, lead.StoppedReason)
}

func TestCommitSendStaleStateConflicts(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	// Another worker advanced the lead behind our back
	stale := *lead
	require.NoError(t, db.Model(&models.Lead{}).Where("id = ?", lead.ID).
		Updates(map[string]interface{}{"stage": "followup-1", "step": 2}).Error)

	sm := newTestStateMachine(db)
	_, err := sm.CommitSend(&stale, "Hello", "msg-1")
	assert.ErrorIs(t, err, ErrStateConflict)
}

func TestCommitFailureBacksOffAndCounts(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	sm := newTestStateMachine(db)
	before := time.Now()
	rec, err := sm.CommitFailure(lead, "Hello", "msg-1", "mailbox unavailable")
	require.NoError(t, err)

	assert.False(t, rec.Success)
	assert.Equal(t, "mailbox unavailable", rec.ErrorNote)

	// Stage and step stay put; the retry is the short backoff, not the
	// stage delay, and the streak grows
	require.NotNil(t, lead.Stage)
	assert.Equal(t, "intro", *lead.Stage)
	assert.Equal(t, 1, lead.Step)
	assert.Equal(t, 1, lead.FailStreak)
	assert.Nil(t, lead.LastSentAt)
	require.NotNil(t, lead.NextScheduledAt)
	assert.WithinDuration(t, before.Add(30*time.Minute), *lead.NextScheduledAt, 10*time.Second)
}

func TestStopAndResume(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "followup-1", 2)

	sm := newTestStateMachine(db)
	require.NoError(t, sm.Stop(lead, models.StopReasonManual))

	assert.False(t, lead.Active)
	require.NotNil(t, lead.StoppedReason)
	assert.Equal(t, models.StopReasonManual, *lead.StoppedReason)
	assert.Nil(t, lead.NextScheduledAt)

	// Stopping an inactive lead is a conflict
	assert.ErrorIs(t, sm.Stop(lead, models.StopReasonManual), ErrStateConflict)

	require.NoError(t, sm.Resume(lead))
	assert.True(t, lead.Active)
	assert.Nil(t, lead.StoppedReason)
	require.NotNil(t, lead.Stage)
	assert.Equal(t, "followup-1", *lead.Stage)
	require.NotNil(t, lead.NextScheduledAt)
}

func TestResumeOnlyFromManualStop(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "followup-1", 2)

	sm := newTestStateMachine(db)
	require.NoError(t, sm.Stop(lead, models.StopReasonReplied))
	assert.ErrorIs(t, sm.Resume(lead), ErrInvalidTransition)
}

func TestAdvanceSkipsWithoutSending(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	sm := newTestStateMachine(db)
	require.NoError(t, sm.Advance(lead))

	require.NotNil(t, lead.Stage)
	assert.Equal(t, "followup-1", *lead.Stage)
	assert.Equal(t, 2, lead.Step)
	assert.Nil(t, lead.LastSentAt)

	var count int64
	require.NoError(t, db.Model(&models.SendRecord{}).Where("lead_id = ?", lead.ID).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAdvanceFromLastStageCompletes(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "breakup", 4)

	sm := newTestStateMachine(db)
	require.NoError(t, sm.Advance(lead))

	assert.False(t, lead.Active)
	require.NotNil(t, lead.CompletedAt)
	assert.Nil(t, lead.NextScheduledAt)
}

func TestQuarantine(t *testing.T) {
	db := newTestDB(t)
	tenant := seedTenant(t, db)
	lead := enrolledLead(t, db, tenant.ID, "jordan@globex.test", "intro", 1)

	sm := newTestStateMachine(db)
	require.NoError(t, sm.Quarantine(lead, "state mismatch"))

	require.NoError(t, db.First(lead, lead.ID).Error)
	assert.True(t, lead.Quarantined)
	assert.Equal(t, "state mismatch", lead.QuarantineNote)
	assert.False(t, lead.Active)
	assert.Nil(t, lead.NextScheduledAt)
}

func TestCheckInvariants(t *testing.T) {
	stage := "intro"
	now := time.Now()
	reason := models.StopReasonManual

	assert.NoError(t, CheckInvariants(&models.Lead{Active: true, Stage: &stage, NextScheduledAt: &now}))
	assert.NoError(t, CheckInvariants(&models.Lead{Active: false, StoppedReason: &reason}))

	assert.ErrorIs(t, CheckInvariants(&models.Lead{Active: true, Stage: &stage}), ErrInvariantViolation)
	assert.ErrorIs(t, CheckInvariants(&models.Lead{Active: true, Stage: &stage, NextScheduledAt: nil}), ErrInvariantViolation)
	assert.ErrorIs(t, CheckInvariants(&models.Lead{Active: true, StoppedReason: &reason, Stage: &stage, NextScheduledAt: &now}), ErrInvariantViolation)
	assert.ErrorIs(t, CheckInvariants(&models.Lead{Active: true, NextScheduledAt: &now}), ErrInvariantViolation)
}
