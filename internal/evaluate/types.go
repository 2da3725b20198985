package evaluate

import "time"

// ViolationKind classifies the rule a violation event breached.
type ViolationKind int

const (
	KindUnspecified ViolationKind = iota
	KindMultiplePersons
	KindHeadPose
	KindBodyVisibility
	KindTabSwitch
	KindWindowBlur
)

// String returns the snake_case kind name (used for storage and the API).
func (k ViolationKind) String() string {
	switch k {
	case KindMultiplePersons:
		return "multiple_persons"
	case KindHeadPose:
		return "head_pose"
	case KindBodyVisibility:
		return "body_visibility"
	case KindTabSwitch:
		return "tab_switch"
	case KindWindowBlur:
		return "window_blur"
	default:
		return "unspecified"
	}
}

// HeadDirection is the head-pose classifier's output label.
type HeadDirection string

const (
	DirectionForward HeadDirection = "forward"
	DirectionLeft    HeadDirection = "left"
	DirectionRight   HeadDirection = "right"
	DirectionUp      HeadDirection = "up"
	DirectionDown    HeadDirection = "down"
	DirectionUnknown HeadDirection = "unknown"
)

// DetectionSnapshot is one evaluation cycle's input, produced by the
// detector adapter. Immutable; discarded after evaluation.
type DetectionSnapshot struct {
	PersonCount      int
	PersonConfidence float32
	HeadDirection    HeadDirection
	HeadConfidence   float32
	HeadSource       string // "model" or "geometry_fallback"
	BodyVisible      bool
	BodyConfidence   float32
	Timestamp        time.Time
}

// ViolationEvent is a detected rule breach. Appended to the per-session
// event log; never mutated.
type ViolationEvent struct {
	Kind       ViolationKind
	Message    string
	Confidence float32
	Timestamp  time.Time
	// Informational events are logged but not dispatched (locked sessions).
	Informational bool
}

// CycleState is the slice of session state the evaluator reads and hands
// back. Holding it here keeps the evaluator a pure reducer: it owns no
// state across cycles.
type CycleState struct {
	ConsecutiveViolationSeconds float64
	LastAlertAt                 time.Time
}
