package rollback

import "fmt"

// TriggerKind classifies why a rollback was requested.
type TriggerKind uint8

const (
	TriggerErrorDetected TriggerKind = iota + 1
	TriggerManualIntervention
	TriggerInconsistencyDetected
)

// String returns the snake_case name used in logs and metric labels.
func (k TriggerKind) String() string {
	switch k {
	case TriggerErrorDetected:
		return "error_detected"
	case TriggerManualIntervention:
		return "manual_intervention"
	case TriggerInconsistencyDetected:
		return "inconsistency_detected"
	default:
		return "unknown"
	}
}

// Trigger is the reason for a rollback. Detail is empty for manual
// intervention.
type Trigger struct {
	Kind   TriggerKind
	Detail string
}

// ErrorDetected returns a trigger for an execution error.
func ErrorDetected(reason string) Trigger {
	return Trigger{Kind: TriggerErrorDetected, Detail: reason}
}

// ManualIntervention returns an operator-requested trigger.
func ManualIntervention() Trigger {
	return Trigger{Kind: TriggerManualIntervention}
}

// InconsistencyDetected returns a trigger for failed state verification.
func InconsistencyDetected(details string) Trigger {
	return Trigger{Kind: TriggerInconsistencyDetected, Detail: details}
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerErrorDetected:
		return fmt.Sprintf("error detected: %s", t.Detail)
	case TriggerManualIntervention:
		return "manual intervention"
	case TriggerInconsistencyDetected:
		return fmt.Sprintf("inconsistency detected: %s", t.Detail)
	default:
		return "unknown trigger"
	}
}
