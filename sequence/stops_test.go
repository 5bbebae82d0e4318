package sequence

import (
	"testing"
	"time"

	"leadpilot/models"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateStop(t *testing.T) {
	stages := []string{"intro", "followup-1", "breakup"}
	now := time.Now()
	earlier := now.Add(-time.Hour)
	stage := "followup-1"

	tests := []struct {
		name   string
		lead   models.Lead
		budget int
		stop   bool
		reason string
	}{
		{
			name:   "active lead with no signals advances",
			lead:   models.Lead{Active: true, Stage: &stage, Step: 2},
			budget: 5,
			stop:   false,
		},
		{
			name: "reply after last send stops",
			lead: models.Lead{Active: true, Stage: &stage, Step: 2,
				LastSentAt: &earlier, LastRepliedAt: &now},
			budget: 5,
			stop:   true,
			reason: models.StopReasonReplied,
		},
		{
			name: "reply before any send stops",
			lead: models.Lead{Active: true, Stage: &stage, Step: 2,
				LastRepliedAt: &earlier},
			budget: 5,
			stop:   true,
			reason: models.StopReasonReplied,
		},
		{
			name: "reply older than last send does not stop",
			lead: models.Lead{Active: true, Stage: &stage, Step: 2,
				LastSentAt: &now, LastRepliedAt: &earlier},
			budget: 5,
			stop:   false,
		},
		{
			name:   "step beyond schedule completes",
			lead:   models.Lead{Active: true, Stage: &stage, Step: 4},
			budget: 5,
			stop:   true,
			reason: models.StopReasonComplete,
		},
		{
			name: "stage removed from schedule completes",
			lead: func() models.Lead {
				gone := "re-engage"
				return models.Lead{Active: true, Stage: &gone, Step: 2}
			}(),
			budget: 5,
			stop:   true,
			reason: models.StopReasonComplete,
		},
		{
			name:   "deactivated lead stops as manual",
			lead:   models.Lead{Active: false, Stage: &stage, Step: 2},
			budget: 5,
			stop:   true,
			reason: models.StopReasonManual,
		},
		{
			name:   "fail streak at budget stops",
			lead:   models.Lead{Active: true, Stage: &stage, Step: 2, FailStreak: 5},
			budget: 5,
			stop:   true,
			reason: models.StopReasonErrorBudget,
		},
		{
			name:   "fail streak under budget advances",
			lead:   models.Lead{Active: true, Stage: &stage, Step: 2, FailStreak: 4},
			budget: 5,
			stop:   false,
		},
		{
			name:   "zero budget disables the error stop",
			lead:   models.Lead{Active: true, Stage: &stage, Step: 2, FailStreak: 100},
			budget: 0,
			stop:   false,
		},
		{
			name: "replied wins over completion",
			lead: models.Lead{Active: true, Stage: &stage, Step: 4,
				LastRepliedAt: &now},
			budget: 5,
			stop:   true,
			reason: models.StopReasonReplied,
		},
		{
			name:   "completion wins over manual deactivation",
			lead:   models.Lead{Active: false, Stage: &stage, Step: 4},
			budget: 5,
			stop:   true,
			reason: models.StopReasonComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := EvaluateStop(&tt.lead, stages, tt.budget)
			assert.Equal(t, tt.stop, verdict.Stop)
			if tt.stop {
				assert.Equal(t, tt.reason, verdict.Reason)
			}
		})
	}
}
