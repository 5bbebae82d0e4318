package sequence

import "leadpilot/models"

// Verdict is the stop-condition evaluator's decision for one lead
type Verdict struct {
	Stop   bool
	Reason string
}

// EvaluateStop inspects a lead's recorded signals and decides whether
// the sequence may advance. First matching reason wins, in priority
// order: replied, sequence complete, manual deactivation, error budget
// exhausted. Pure and side-effect-free; the caller commits the
// resulting transition.
func EvaluateStop(lead *models.Lead, stages []string, errorBudget int) Verdict {
	if replied(lead) {
		return Verdict{Stop: true, Reason: models.StopReasonReplied}
	}

	if len(stages) > 0 {
		if lead.Step > len(stages) {
			return Verdict{Stop: true, Reason: models.StopReasonComplete}
		}
		if lead.Stage != nil && stageIndex(stages, *lead.Stage) == -1 {
			// Stage was removed from the schedule after enrollment
			return Verdict{Stop: true, Reason: models.StopReasonComplete}
		}
	}

	if !lead.Active {
		return Verdict{Stop: true, Reason: models.StopReasonManual}
	}

	if errorBudget > 0 && lead.FailStreak >= errorBudget {
		return Verdict{Stop: true, Reason: models.StopReasonErrorBudget}
	}

	return Verdict{}
}

// replied reports whether a reply was recorded since the last sent stage
func replied(lead *models.Lead) bool {
	if lead.LastRepliedAt == nil {
		return false
	}
	if lead.LastSentAt == nil {
		return true
	}
	return lead.LastRepliedAt.After(*lead.LastSentAt) || lead.LastRepliedAt.Equal(*lead.LastSentAt)
}
