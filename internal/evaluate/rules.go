package evaluate

import "fmt"

// Rule checks one violation category against a snapshot. Rules are pure and
// independent; each one is evaluated every cycle.
type Rule interface {
	// Kind returns the violation category this rule covers.
	Kind() ViolationKind

	// Check inspects the snapshot and reports whether the category is in
	// violation this cycle, with a confidence and a human-readable message.
	Check(snap *DetectionSnapshot, cfg Config) (triggered bool, confidence float32, message string)
}

// MultiPersonRule fires when more than one person is in frame.
type MultiPersonRule struct{}

func (MultiPersonRule) Kind() ViolationKind { return KindMultiplePersons }

func (MultiPersonRule) Check(snap *DetectionSnapshot, _ Config) (bool, float32, string) {
	if snap.PersonCount <= 1 {
		return false, 0, ""
	}
	return true, snap.PersonConfidence, fmt.Sprintf("%d people detected in frame", snap.PersonCount)
}

// HeadPoseRule fires when the student looks left, right, or down with
// sufficient classifier confidence. Up, forward, and unknown never violate:
// "unknown" means the model had no face to work with, which is ambiguous
// sensor data, not evidence of cheating.
type HeadPoseRule struct{}

func (HeadPoseRule) Kind() ViolationKind { return KindHeadPose }

func (HeadPoseRule) Check(snap *DetectionSnapshot, cfg Config) (bool, float32, string) {
	switch snap.HeadDirection {
	case DirectionLeft, DirectionRight, DirectionDown:
	default:
		return false, 0, ""
	}
	if snap.HeadConfidence < cfg.SensitivityThreshold {
		return false, 0, ""
	}
	msg := fmt.Sprintf("head turned %s (confidence %.2f)", snap.HeadDirection, snap.HeadConfidence)
	if snap.HeadSource == SourceGeometryFallback {
		msg += " [geometry fallback]"
	}
	return true, snap.HeadConfidence, msg
}

// BodyVisibilityRule fires when the upper body is not visible in frame.
type BodyVisibilityRule struct{}

func (BodyVisibilityRule) Kind() ViolationKind { return KindBodyVisibility }

func (BodyVisibilityRule) Check(snap *DetectionSnapshot, _ Config) (bool, float32, string) {
	if snap.BodyVisible {
		return false, 0, ""
	}
	return true, snap.BodyConfidence, "upper body not visible in frame"
}

// SourceGeometryFallback tags head-pose estimates produced by the secondary
// geometric heuristic rather than the primary classifier.
const SourceGeometryFallback = "geometry_fallback"

// DefaultRules returns the three per-frame category rules.
func DefaultRules() []Rule {
	return []Rule{
		MultiPersonRule{},
		HeadPoseRule{},
		BodyVisibilityRule{},
	}
}
