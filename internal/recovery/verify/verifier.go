package verify

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/yndnr/vmstate-go/internal/core/domain"
	"github.com/yndnr/vmstate-go/internal/storage/merkle"
	"github.com/yndnr/vmstate-go/internal/telemetry/logger"
)

// CheckFunc inspects a state and returns nil when it is consistent.
// The error text becomes the failure reason.
type CheckFunc func(state domain.SystemState) error

// Result is the outcome of a verification run.
type Result struct {
	Valid  bool
	Reason string
}

// Valid is the passing result.
var Valid = Result{Valid: true}

// Invalid returns a failing result with reason.
func Invalid(reason string) Result {
	return Result{Reason: reason}
}

func (r Result) String() string {
	if r.Valid {
		return "valid"
	}
	return "invalid: " + r.Reason
}

type check struct {
	fn       CheckFunc
	critical bool
}

// Verifier holds registered checks keyed by name.
type Verifier struct {
	mu     sync.RWMutex
	checks map[string]check
	logger logger.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// New creates a verifier with no checks.
func New(opts ...Option) *Verifier {
	v := &Verifier{
		checks: make(map[string]check),
		logger: logger.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.logger = v.logger.With("component", "verifier")
	return v
}

// AddCheck registers fn under name, replacing any check with that name.
func (v *Verifier) AddCheck(name string, fn CheckFunc, critical bool) error {
	if name == "" || fn == nil {
		return domain.ErrInvalidArgument.WithDetails("check needs a name and a function")
	}

	v.mu.Lock()
	v.checks[name] = check{fn: fn, critical: critical}
	v.mu.Unlock()

	v.logger.Info("verification check added", "check", name, "critical", critical)
	return nil
}

// Verify runs every check in name order.
func (v *Verifier) Verify(state domain.SystemState) Result {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.checks) == 0 {
		v.logger.Warn("no verification checks registered")
		return Valid
	}

	var failures []string
	for _, name := range v.namesLocked() {
		c := v.checks[name]
		err := runCheck(c.fn, state)
		if err == nil {
			v.logger.Debug("check passed", "check", name)
			continue
		}

		msg := fmt.Sprintf("check %q failed: %v", name, err)
		if c.critical {
			v.logger.Error("critical check failed, verification aborted", "check", name, "error", err)
			return Invalid(msg)
		}
		v.logger.Warn("check failed", "check", name, "error", err)
		failures = append(failures, msg)
	}

	if len(failures) == 0 {
		return Valid
	}
	summary := fmt.Sprintf("%d verification checks failed: %s", len(failures), strings.Join(failures, "; "))
	v.logger.Warn("verification failed", "failures", len(failures))
	return Invalid(summary)
}

// Run executes a single check.
func (v *Verifier) Run(name string, state domain.SystemState) (Result, error) {
	v.mu.RLock()
	c, ok := v.checks[name]
	v.mu.RUnlock()
	if !ok {
		return Result{}, domain.ErrVerificationFailed.WithDetailsf("check %q not found", name)
	}

	if err := runCheck(c.fn, state); err != nil {
		v.logger.Warn("check failed", "check", name, "error", err)
		return Invalid(err.Error()), nil
	}
	return Valid, nil
}

// Checks returns the registered check names, sorted.
func (v *Verifier) Checks() []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.namesLocked()
}

// Details maps each check name to whether it is critical.
func (v *Verifier) Details() map[string]bool {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make(map[string]bool, len(v.checks))
	for name, c := range v.checks {
		out[name] = c.critical
	}
	return out
}

func (v *Verifier) namesLocked() []string {
	names := make([]string, 0, len(v.checks))
	for name := range v.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// runCheck turns a panicking check into a failure.
func runCheck(fn CheckFunc, state domain.SystemState) (err error) {
	defer domain.RecoverPanic(&err, "verification check")
	return fn(state)
}

// RootHashCheck fails when the Merkle root of the state differs from
// expected. An empty state never matches.
func RootHashCheck(expected merkle.Hash, alg merkle.Algorithm) CheckFunc {
	return func(state domain.SystemState) error {
		root, ok := merkle.RootOf(state, merkle.WithAlgorithm(alg))
		if !ok {
			return domain.ErrEmptyTree
		}
		if root != expected {
			return fmt.Errorf("root hash %s, want %s", root, expected)
		}
		return nil
	}
}

// RequiredKeysCheck fails when any of keys is absent from the state.
func RequiredKeysCheck(keys ...string) CheckFunc {
	return func(state domain.SystemState) error {
		var missing []string
		for _, k := range keys {
			if _, ok := state[k]; !ok {
				missing = append(missing, k)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing keys: %s", strings.Join(missing, ", "))
		}
		return nil
	}
}
