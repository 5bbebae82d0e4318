package sequence

import (
	"fmt"
	"time"

	"leadpilot/models"

	"gorm.io/gorm"
)

// StateMachine owns every mutation of a lead's sequencing state. Each
// transition is committed as one conditional update keyed by the lead's
// identity and the state the caller read; a concurrent change makes the
// update touch zero rows and the transition is refused with
// ErrStateConflict.
type StateMachine struct {
	db           *gorm.DB
	timing       *TimingResolver
	retryBackoff time.Duration

	// Now is swappable in tests
	Now func() time.Time
}

func NewStateMachine(db *gorm.DB, timing *TimingResolver, retryBackoff time.Duration) *StateMachine {
	return &StateMachine{
		db:           db,
		timing:       timing,
		retryBackoff: retryBackoff,
		Now:          time.Now,
	}
}

// CheckInvariants verifies the stored state against the sequencing
// invariants. A violation means the lead must be quarantined.
func CheckInvariants(lead *models.Lead) error {
	if lead.Active && lead.NextScheduledAt == nil {
		return fmt.Errorf("%w: lead %d active without next_scheduled_at", ErrInvariantViolation, lead.ID)
	}
	if lead.StoppedReason != nil && lead.Active {
		return fmt.Errorf("%w: lead %d active with stopped_reason %q", ErrInvariantViolation, lead.ID, *lead.StoppedReason)
	}
	if lead.Active && lead.Stage == nil {
		return fmt.Errorf("%w: lead %d active without a stage", ErrInvariantViolation, lead.ID)
	}
	return nil
}

// Enroll starts the sequence for a not-yet-enrolled lead: first
// configured stage, step 1, due after that stage's delay.
func (sm *StateMachine) Enroll(lead *models.Lead) error {
	if lead.Quarantined {
		return ErrInvalidTransition
	}
	stages := sm.timing.Stages(lead.TenantID)
	if len(stages) == 0 {
		return ErrConfigurationMissing
	}

	first := stages[0]
	now := sm.Now()
	due := now.Add(sm.timing.ResolveDelay(lead.TenantID, first).Duration())

	res := sm.db.Model(&models.Lead{}).
		Where("id = ? AND active = ? AND stage IS NULL", lead.ID, false).
		Updates(map[string]interface{}{
			"stage":             first,
			"step":              1,
			"active":            true,
			"next_scheduled_at": due,
			"stopped_reason":    nil,
			"completed_at":      nil,
			"fail_streak":       0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInvalidTransition
	}
	return sm.db.First(lead, lead.ID).Error
}

// CommitSend records a successful send at the lead's current stage and
// advances to the next configured stage, or to Completed when the
// current stage was the last.
func (sm *StateMachine) CommitSend(lead *models.Lead, subject, messageID string) (*models.SendRecord, error) {
	if lead.Stage == nil {
		return nil, ErrInvalidTransition
	}
	stage := *lead.Stage
	stages := sm.timing.Stages(lead.TenantID)
	idx := stageIndex(stages, stage)
	now := sm.Now()

	rec := &models.SendRecord{
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		Stage:     stage,
		Step:      lead.Step,
		Subject:   subject,
		MessageID: messageID,
		Success:   true,
		SentAt:    now,
	}

	updates := map[string]interface{}{
		"last_sent_at": now,
		"fail_streak":  0,
	}
	if idx == -1 || idx == len(stages)-1 {
		updates["active"] = false
		updates["completed_at"] = now
		updates["next_scheduled_at"] = nil
		updates["stopped_reason"] = nil
	} else {
		next := stages[idx+1]
		updates["stage"] = next
		updates["step"] = lead.Step + 1
		updates["next_scheduled_at"] = now.Add(sm.timing.ResolveDelay(lead.TenantID, next).Duration())
	}

	err := sm.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Lead{}).
			Where("id = ? AND active = ? AND stage = ? AND step = ?", lead.ID, true, stage, lead.Step).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, sm.db.First(lead, lead.ID).Error
}

// CommitFailure records a rejected send. The stage and step stay put;
// the lead is retried after a short backoff, distinct from and shorter
// than the stage delay, and the failure counts toward the error budget.
func (sm *StateMachine) CommitFailure(lead *models.Lead, subject, messageID, errNote string) (*models.SendRecord, error) {
	if lead.Stage == nil {
		return nil, ErrInvalidTransition
	}
	stage := *lead.Stage
	now := sm.Now()

	rec := &models.SendRecord{
		LeadID:    lead.ID,
		TenantID:  lead.TenantID,
		Stage:     stage,
		Step:      lead.Step,
		Subject:   subject,
		MessageID: messageID,
		Success:   false,
		ErrorNote: errNote,
		SentAt:    now,
	}

	err := sm.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		res := tx.Model(&models.Lead{}).
			Where("id = ? AND active = ? AND stage = ? AND step = ?", lead.ID, true, stage, lead.Step).
			Updates(map[string]interface{}{
				"fail_streak":       gorm.Expr("fail_streak + ?", 1),
				"next_scheduled_at": now.Add(sm.retryBackoff),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStateConflict
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, sm.db.First(lead, lead.ID).Error
}

// Stop terminates the sequence with a reason. Terminal: no sweep claims
// a stopped lead again.
func (sm *StateMachine) Stop(lead *models.Lead, reason string) error {
	res := sm.db.Model(&models.Lead{}).
		Where("id = ? AND active = ?", lead.ID, true).
		Updates(map[string]interface{}{
			"active":            false,
			"stopped_reason":    reason,
			"next_scheduled_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return sm.db.First(lead, lead.ID).Error
}

// Resume re-activates a manually paused lead at its current stage. Only
// Stopped(manual) can resume; completed and otherwise-stopped leads are
// terminal.
func (sm *StateMachine) Resume(lead *models.Lead) error {
	if lead.Stage == nil || lead.StoppedReason == nil || *lead.StoppedReason != models.StopReasonManual {
		return ErrInvalidTransition
	}
	due := sm.Now().Add(sm.timing.ResolveDelay(lead.TenantID, *lead.Stage).Duration())

	res := sm.db.Model(&models.Lead{}).
		Where("id = ? AND active = ? AND stopped_reason = ?", lead.ID, false, models.StopReasonManual).
		Updates(map[string]interface{}{
			"active":            true,
			"stopped_reason":    nil,
			"next_scheduled_at": due,
			"fail_streak":       0,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return sm.db.First(lead, lead.ID).Error
}

// Advance force-moves an active lead to the next configured stage
// without sending, recomputing the due time from the new stage's delay.
// At the last stage it completes the sequence.
func (sm *StateMachine) Advance(lead *models.Lead) error {
	if !lead.Active || lead.Stage == nil {
		return ErrInvalidTransition
	}
	stage := *lead.Stage
	stages := sm.timing.Stages(lead.TenantID)
	idx := stageIndex(stages, stage)
	now := sm.Now()

	updates := map[string]interface{}{"fail_streak": 0}
	if idx == -1 || idx == len(stages)-1 {
		updates["active"] = false
		updates["completed_at"] = now
		updates["next_scheduled_at"] = nil
	} else {
		next := stages[idx+1]
		updates["stage"] = next
		updates["step"] = lead.Step + 1
		updates["next_scheduled_at"] = now.Add(sm.timing.ResolveDelay(lead.TenantID, next).Duration())
	}

	res := sm.db.Model(&models.Lead{}).
		Where("id = ? AND active = ? AND stage = ? AND step = ?", lead.ID, true, stage, lead.Step).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStateConflict
	}
	return sm.db.First(lead, lead.ID).Error
}

// Quarantine parks a lead whose state contradicts the invariants. The
// lead is surfaced to operators and never picked up automatically again.
func (sm *StateMachine) Quarantine(lead *models.Lead, note string) error {
	return sm.db.Model(&models.Lead{}).
		Where("id = ?", lead.ID).
		Updates(map[string]interface{}{
			"quarantined":       true,
			"quarantine_note":   note,
			"active":            false,
			"next_scheduled_at": nil,
		}).Error
}
