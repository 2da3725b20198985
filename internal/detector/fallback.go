package detector

import "github.com/invigilo-ai/sentinel/internal/evaluate"

// Displacement thresholds for the geometric pose estimate, normalized by
// half the box size. A face center offset right of frame center means the
// student is looking left (mirror view).
const (
	fallbackYawThreshold   = 0.4
	fallbackPitchThreshold = 0.3
	fallbackMaxConfidence  = 0.9
)

// poseEstimate is a secondary head-pose guess from box geometry alone.
type poseEstimate struct {
	Direction  evaluate.HeadDirection
	Confidence float32
}

// estimatePoseFromGeometry derives a coarse head direction from the largest
// detected person box's displacement from frame center. Used only when the
// primary classifier returned nothing usable; its confidence is capped well
// below a confident classifier result.
func estimatePoseFromGeometry(people []PersonLocation, frameWidth, frameHeight int) (poseEstimate, bool) {
	if len(people) == 0 || frameWidth <= 0 || frameHeight <= 0 {
		return poseEstimate{}, false
	}

	largest := people[0]
	largestArea := boxArea(largest.BBox)
	for _, p := range people[1:] {
		if a := boxArea(p.BBox); a > largestArea {
			largest, largestArea = p, a
		}
	}

	w := largest.BBox.X2 - largest.BBox.X1
	h := largest.BBox.Y2 - largest.BBox.Y1
	if w <= 0 || h <= 0 {
		return poseEstimate{}, false
	}

	dx := (largest.BBox.X1+largest.BBox.X2)/2 - float64(frameWidth)/2
	dy := (largest.BBox.Y1+largest.BBox.Y2)/2 - float64(frameHeight)/2
	dxNorm := dx / (w / 2)
	dyNorm := dy / (h / 2)

	est := poseEstimate{Direction: evaluate.DirectionForward, Confidence: 0.5}

	if abs(dxNorm) > abs(dyNorm) {
		switch {
		case dxNorm > fallbackYawThreshold:
			est.Direction = evaluate.DirectionLeft
			est.Confidence = clampConfidence(0.5 + abs(dxNorm)*0.4)
		case dxNorm < -fallbackYawThreshold:
			est.Direction = evaluate.DirectionRight
			est.Confidence = clampConfidence(0.5 + abs(dxNorm)*0.4)
		}
	} else {
		switch {
		case dyNorm > fallbackPitchThreshold:
			est.Direction = evaluate.DirectionDown
			est.Confidence = clampConfidence(0.5 + abs(dyNorm)*0.5)
		case dyNorm < -fallbackPitchThreshold:
			est.Direction = evaluate.DirectionUp
			est.Confidence = clampConfidence(0.5 + abs(dyNorm)*0.5)
		}
	}

	return est, true
}

func boxArea(b BoundingBox) float64 {
	return (b.X2 - b.X1) * (b.Y2 - b.Y1)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func clampConfidence(f float64) float32 {
	if f > fallbackMaxConfidence {
		return fallbackMaxConfidence
	}
	return float32(f)
}
