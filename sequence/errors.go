package sequence

import "errors"

var (
	// ErrContentUnavailable means no draft and no usable template exists
	// for the lead's current stage. The step is not consumed; the lead is
	// retried on a later sweep once content is configured.
	ErrContentUnavailable = errors.New("no usable content for stage")

	// ErrConfigurationMissing means no stage schedule exists at all, not
	// even the reserved global default.
	ErrConfigurationMissing = errors.New("no timing policy configured")

	// ErrStateConflict means the lead's stored state no longer matches
	// what the caller read, so the conditional update touched no rows.
	ErrStateConflict = errors.New("lead state changed concurrently")

	// ErrInvalidTransition means the requested transition is not legal
	// from the lead's current state.
	ErrInvalidTransition = errors.New("invalid sequence transition")

	// ErrInvariantViolation means the lead's stored state contradicts the
	// sequencing invariants. Such leads are quarantined, never retried.
	ErrInvariantViolation = errors.New("sequence invariant violation")
)
