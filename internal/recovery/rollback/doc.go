// Package rollback restores the latest (or a named) checkpoint when a
// fault is detected and keeps a sliding window of pre-transaction states.
//
// Every failure is reported as domain.ErrRollbackFailed wrapping the
// underlying cause, so callers can match both:
//
//	err := m.TriggerRollback(rollback.ErrorDetected("vm trap"))
//	errors.Is(err, domain.ErrRollbackFailed)  // true
//	errors.Is(err, domain.ErrNoCheckpoints)   // true when none exist
package rollback
