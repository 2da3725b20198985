// Package detector wraps the vision inference sidecar behind a typed
// client. The sidecar runs the pretrained models (person detection, head
// pose classification, body-visibility heuristics); this package only
// speaks its HTTP/JSON contract and normalizes the results for the
// evaluator.
package detector

import (
	"context"
	"encoding/json"
	"time"

	"github.com/invigilo-ai/sentinel/internal/evaluate"
)

// BoundingBox is a detected person box in pixel coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// PersonLocation is one person detection after the sidecar's NMS pass.
type PersonLocation struct {
	PersonID   int         `json:"person_id"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float32     `json:"confidence"`
}

// MultiPersonResult is the sidecar's person-detection output.
type MultiPersonResult struct {
	NumPeople       int              `json:"num_people"`
	Confidence      float32          `json:"confidence"`
	Violation       bool             `json:"violation"`
	PeopleLocations []PersonLocation `json:"people_locations"`
}

// HeadPoseResult is the sidecar's head-pose classification output.
type HeadPoseResult struct {
	Direction  string  `json:"direction"`
	Confidence float32 `json:"confidence"`
	Violation  bool    `json:"violation"`
	Method     string  `json:"method,omitempty"`
}

// BodyVisibilityResult is the sidecar's body-visibility output.
type BodyVisibilityResult struct {
	UpperBodyVisible bool    `json:"upper_body_visible"`
	Confidence       float32 `json:"confidence"`
	Violation        bool    `json:"violation"`
	Reason           string  `json:"reason,omitempty"`
}

// UnifiedResult is the combined output of one inference call.
type UnifiedResult struct {
	MultiPerson    MultiPersonResult    `json:"multi_person"`
	HeadPose       HeadPoseResult       `json:"head_pose"`
	BodyVisibility BodyVisibilityResult `json:"body_visibility"`
}

// Client is the detector adapter contract. Implementations must respect
// context deadlines; any error means the cycle is skipped, never that a
// violation occurred.
type Client interface {
	// DetectUnified runs all three detection categories on one frame.
	DetectUnified(ctx context.Context, image []byte) (*UnifiedResult, error)

	// DetectHeadPose, DetectMultiPerson, and DetectBodyVisibility run a
	// single category (the stateless pass-through endpoints).
	DetectHeadPose(ctx context.Context, image []byte) (*HeadPoseResult, error)
	DetectMultiPerson(ctx context.Context, image []byte) (*MultiPersonResult, error)
	DetectBodyVisibility(ctx context.Context, image []byte) (*BodyVisibilityResult, error)

	// SystemStatus returns the sidecar's model status document verbatim.
	SystemStatus(ctx context.Context) (json.RawMessage, error)

	// Healthy reports whether the sidecar answers its health endpoint.
	Healthy(ctx context.Context) bool
}

// Snapshot converts a unified result into an evaluation snapshot, applying
// the two-tier head-pose strategy: when the primary classifier comes back
// unknown or with zero confidence, a geometric estimate from the person box
// position substitutes for it at reduced trust, tagged so it is never
// mistaken for a primary result downstream.
func Snapshot(res *UnifiedResult, frameWidth, frameHeight int, now time.Time) *evaluate.DetectionSnapshot {
	snap := &evaluate.DetectionSnapshot{
		PersonCount:      res.MultiPerson.NumPeople,
		PersonConfidence: res.MultiPerson.Confidence,
		HeadDirection:    normalizeDirection(res.HeadPose.Direction),
		HeadConfidence:   res.HeadPose.Confidence,
		HeadSource:       "model",
		BodyVisible:      !res.BodyVisibility.Violation,
		BodyConfidence:   res.BodyVisibility.Confidence,
		Timestamp:        now,
	}

	if snap.HeadDirection == evaluate.DirectionUnknown || snap.HeadConfidence == 0 {
		if est, ok := estimatePoseFromGeometry(res.MultiPerson.PeopleLocations, frameWidth, frameHeight); ok {
			snap.HeadDirection = est.Direction
			snap.HeadConfidence = est.Confidence
			snap.HeadSource = evaluate.SourceGeometryFallback
		}
	}

	return snap
}

func normalizeDirection(s string) evaluate.HeadDirection {
	switch evaluate.HeadDirection(s) {
	case evaluate.DirectionForward, evaluate.DirectionLeft, evaluate.DirectionRight,
		evaluate.DirectionUp, evaluate.DirectionDown:
		return evaluate.HeadDirection(s)
	default:
		return evaluate.DirectionUnknown
	}
}
