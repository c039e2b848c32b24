package billing

import "errors"

var (
	// ErrNotFound indicates a referenced account, template, session or
	// ledger row does not exist.
	ErrNotFound = errors.New("billing: not found")
	// ErrRateNotConfigured indicates an account has neither a rate for the
	// requested member class nor a standard fallback. Surfaced rather than
	// billing zero.
	ErrRateNotConfigured = errors.New("billing: rate not configured")
	// ErrConcurrencyConflict indicates a per-key write lost a race and the
	// recomputation should be re-run wholesale.
	ErrConcurrencyConflict = errors.New("billing: concurrency conflict")
	// ErrReversalInconsistency indicates a reversal targets an account that
	// no longer exists; the ledger cannot be recomputed for it.
	ErrReversalInconsistency = errors.New("billing: reversal for missing account")
	// ErrDuplicateInstance indicates an instance already exists for the
	// (template, date) pair.
	ErrDuplicateInstance = errors.New("billing: instance already materialized")
	// ErrInvalidWeekday indicates a weekday value outside 0..6.
	ErrInvalidWeekday = errors.New("billing: weekday must be between 0 and 6")
	// ErrInvalidAmount indicates a non-positive monetary amount.
	ErrInvalidAmount = errors.New("billing: amount must be positive")
)
