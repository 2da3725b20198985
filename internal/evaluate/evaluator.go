package evaluate

import (
	"time"

	"go.uber.org/zap"
)

// Evaluator converts one detection snapshot plus the prior cycle state into
// updated sustained-violation counters and zero or more violation events.
//
// It is a pure reducer over (CycleState, DetectionSnapshot): all state lives
// in the CycleState handed in and out, so a session tracker can own the
// state while the evaluator stays shareable across sessions.
type Evaluator struct {
	rules  []Rule
	logger *zap.Logger
}

// NewEvaluator creates an evaluator with the given category rules.
func NewEvaluator(rules []Rule, logger *zap.Logger) *Evaluator {
	return &Evaluator{rules: rules, logger: logger}
}

// Outcome is the result of evaluating one cycle.
type Outcome struct {
	State CycleState
	// Active holds the categories in violation this cycle, whether or not
	// events were emitted for them.
	Active []ViolationKind
	// Events holds the emitted violation events (empty until the sustained
	// counter crosses the alert threshold and the cooldown has elapsed).
	Events []ViolationEvent
	// WarnActive reports the UI-facing "warning" escalation level.
	WarnActive bool
}

// Evaluate runs every rule against the snapshot and applies the
// sustained-duration and cooldown gates. It never fails: ambiguous or
// low-confidence detector output is treated as no violation for that
// category.
//
// Evaluate must only be called for cycles with a valid snapshot. A detector
// failure is a skipped cycle: the caller keeps the prior CycleState
// untouched, so transient model errors neither trigger violations nor reset
// the sustained counter.
func (e *Evaluator) Evaluate(prior CycleState, snap *DetectionSnapshot, cfg Config, now time.Time) Outcome {
	type hit struct {
		kind       ViolationKind
		confidence float32
		message    string
	}

	var hits []hit
	for _, r := range e.rules {
		triggered, conf, msg := r.Check(snap, cfg)
		if triggered {
			hits = append(hits, hit{kind: r.Kind(), confidence: conf, message: msg})
		}
	}

	out := Outcome{State: prior}

	if len(hits) == 0 {
		out.State.ConsecutiveViolationSeconds = 0
		return out
	}

	out.State.ConsecutiveViolationSeconds += cfg.PollInterval.Seconds()
	for _, h := range hits {
		out.Active = append(out.Active, h.kind)
	}

	sustained := time.Duration(out.State.ConsecutiveViolationSeconds * float64(time.Second))
	out.WarnActive = sustained >= cfg.WarnThreshold

	if sustained < cfg.AlertThreshold {
		return out
	}
	if !prior.LastAlertAt.IsZero() && now.Sub(prior.LastAlertAt) < cfg.AlertCooldown {
		return out
	}

	// One event per currently-active category, all stamped with the same
	// cycle timestamp.
	for _, h := range hits {
		out.Events = append(out.Events, ViolationEvent{
			Kind:       h.kind,
			Message:    h.message,
			Confidence: h.confidence,
			Timestamp:  now,
		})
	}
	out.State.LastAlertAt = now

	if e.logger != nil {
		e.logger.Debug("violation events emitted",
			zap.Int("count", len(out.Events)),
			zap.Float64("sustained_seconds", out.State.ConsecutiveViolationSeconds),
		)
	}

	return out
}
