// Package domain defines the shared types of the vmstate core.
package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a state core error with a structured error code.
// Codes have the form VS-<AREA>-<NNNN>.
type DomainError struct {
	Code    string // Error code (e.g., "VS-CKPT-4040")
	Message string // Human-readable message
	Details string // Optional additional details
	Cause   error  // Underlying error (if any)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying error for errors.Unwrap() support.
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is() support for error comparison.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewDomainError creates a new DomainError with the given code and message.
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *DomainError) WithDetails(details string) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// WithDetailsf is WithDetails with fmt.Sprintf formatting.
func (e *DomainError) WithDetailsf(format string, args ...any) *DomainError {
	return e.WithDetails(fmt.Sprintf(format, args...))
}

// WithCause returns a copy of the error wrapping the given cause.
func (e *DomainError) WithCause(cause error) *DomainError {
	return &DomainError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		Cause:   cause,
	}
}

// IsDomainError checks if an error is a DomainError with the given code.
// If code is empty, it only checks if the error is a DomainError.
func IsDomainError(err error, code string) bool {
	var de *DomainError
	if errors.As(err, &de) {
		if code == "" {
			return true
		}
		return de.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error if it's a DomainError.
func GetErrorCode(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// ============================================================================
// Snapshot Errors (SNAP)
// ============================================================================

var (
	// ErrSnapshotNotFound indicates no snapshot exists with the requested id.
	ErrSnapshotNotFound = NewDomainError("VS-SNAP-4040", "snapshot not found")
)

// ============================================================================
// Checkpoint Errors (CKPT)
// ============================================================================

var (
	// ErrCheckpointNotFound indicates no checkpoint exists with the requested id.
	ErrCheckpointNotFound = NewDomainError("VS-CKPT-4040", "checkpoint not found")

	// ErrNoCheckpoints indicates a rollback target was requested but none exist.
	ErrNoCheckpoints = NewDomainError("VS-CKPT-4041", "no checkpoints available")

	// ErrCorruptArchive indicates an encoded checkpoint failed integrity checks.
	ErrCorruptArchive = NewDomainError("VS-ARCH-4220", "corrupt checkpoint archive")
)

// ============================================================================
// Rollback / Recovery Errors (RBK, RCV, VRF)
// ============================================================================

var (
	// ErrRollbackFailed wraps any failure during a rollback.
	ErrRollbackFailed = NewDomainError("VS-RBK-5000", "rollback failed")

	// ErrRecoveryFailed indicates a recovery run did not complete.
	ErrRecoveryFailed = NewDomainError("VS-RCV-5000", "recovery failed")

	// ErrVerificationFailed indicates a consistency check failed or is unknown.
	ErrVerificationFailed = NewDomainError("VS-VRF-4220", "verification failed")
)

// ============================================================================
// Merkle Errors (MRKL)
// ============================================================================

var (
	// ErrEmptyTree indicates a proof was requested from a tree without leaves.
	ErrEmptyTree = NewDomainError("VS-MRKL-4000", "merkle tree is empty")

	// ErrKeyNotInTree indicates a proof was requested for an absent key.
	ErrKeyNotInTree = NewDomainError("VS-MRKL-4040", "key not in merkle tree")
)

// ============================================================================
// System Errors (SYS)
// ============================================================================

var (
	// ErrOperationFailed is the generic catch-all failure.
	ErrOperationFailed = NewDomainError("VS-SYS-5000", "operation failed")

	// ErrStateStorage indicates internal synchronization of a component failed,
	// typically a panic recovered inside a critical section.
	ErrStateStorage = NewDomainError("VS-SYS-5001", "state storage error")

	// ErrRateLimited indicates an operation was refused by a rate limiter.
	ErrRateLimited = NewDomainError("VS-SYS-4290", "rate limited")
)

// ============================================================================
// Argument Errors (ARG)
// ============================================================================

var (
	// ErrInvalidArgument indicates an invalid argument.
	ErrInvalidArgument = NewDomainError("VS-ARG-1001", "invalid argument")
)

// RecoverPanic converts a recovered panic value into ErrStateStorage.
// Use it as `defer domain.RecoverPanic(&err, "op")`.
func RecoverPanic(err *error, op string) {
	if r := recover(); r != nil {
		*err = ErrStateStorage.WithDetailsf("%s: panic: %v", op, r)
	}
}
