package evaluate

import (
	"testing"
	"time"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func cleanSnapshot() *DetectionSnapshot {
	return &DetectionSnapshot{
		PersonCount:    1,
		HeadDirection:  DirectionForward,
		HeadConfidence: 0.9,
		BodyVisible:    true,
		BodyConfidence: 0.9,
	}
}

func headPoseSnapshot(conf float32) *DetectionSnapshot {
	return &DetectionSnapshot{
		PersonCount:    1,
		HeadDirection:  DirectionLeft,
		HeadConfidence: conf,
		BodyVisible:    true,
		BodyConfidence: 0.9,
	}
}

func newTestEvaluator() *Evaluator {
	return NewEvaluator(DefaultRules(), nil)
}

func TestEvaluate_CleanCyclesStayAtZero(t *testing.T) {
	e := newTestEvaluator()
	cfg := DefaultConfig()
	state := CycleState{}

	for i := 0; i < 20; i++ {
		now := t0.Add(time.Duration(i) * cfg.PollInterval)
		out := e.Evaluate(state, cleanSnapshot(), cfg, now)
		if out.State.ConsecutiveViolationSeconds != 0 {
			t.Fatalf("cycle %d: counter = %.1f, want 0", i, out.State.ConsecutiveViolationSeconds)
		}
		if len(out.Events) != 0 {
			t.Fatalf("cycle %d: emitted %d events for clean snapshot", i, len(out.Events))
		}
		if out.WarnActive {
			t.Fatalf("cycle %d: warn active for clean snapshot", i)
		}
		state = out.State
	}
}

func TestEvaluate_CleanCycleResetsCounter(t *testing.T) {
	e := newTestEvaluator()
	cfg := DefaultConfig()

	state := CycleState{ConsecutiveViolationSeconds: 4}
	out := e.Evaluate(state, cleanSnapshot(), cfg, t0)
	if out.State.ConsecutiveViolationSeconds != 0 {
		t.Errorf("counter = %.1f after clean cycle, want 0", out.State.ConsecutiveViolationSeconds)
	}
}

// The worked example: Δt=2s, warn=3s, alert=5s, cooldown=4s. A constant
// head-pose violation emits its first event at cycle 3 (counter 6s ≥ 5s)
// and its second at cycle 5 (cooldown elapsed), never in between.
func TestEvaluate_SustainedViolationScenario(t *testing.T) {
	e := newTestEvaluator()
	cfg := Config{
		PollInterval:         2 * time.Second,
		SensitivityThreshold: 0.6,
		WarnThreshold:        3 * time.Second,
		AlertThreshold:       5 * time.Second,
		AlertCooldown:        4 * time.Second,
	}

	steps := []struct {
		atSeconds   int
		wantCounter float64
		wantWarn    bool
		wantEvents  int
	}{
		{0, 2, false, 0},
		{2, 4, true, 0},
		{4, 6, true, 1},
		{6, 8, true, 0}, // 6s−4s = 2s < cooldown
		{8, 10, true, 1},
	}

	state := CycleState{}
	for i, step := range steps {
		now := t0.Add(time.Duration(step.atSeconds) * time.Second)
		out := e.Evaluate(state, headPoseSnapshot(0.7), cfg, now)

		if out.State.ConsecutiveViolationSeconds != step.wantCounter {
			t.Errorf("cycle %d: counter = %.1f, want %.1f",
				i+1, out.State.ConsecutiveViolationSeconds, step.wantCounter)
		}
		if out.WarnActive != step.wantWarn {
			t.Errorf("cycle %d: warnActive = %v, want %v", i+1, out.WarnActive, step.wantWarn)
		}
		if len(out.Events) != step.wantEvents {
			t.Errorf("cycle %d: %d events, want %d", i+1, len(out.Events), step.wantEvents)
		}
		for _, ev := range out.Events {
			if ev.Kind != KindHeadPose {
				t.Errorf("cycle %d: event kind = %s, want head_pose", i+1, ev.Kind)
			}
			if !ev.Timestamp.Equal(now) {
				t.Errorf("cycle %d: event timestamp not the cycle instant", i+1)
			}
		}
		state = out.State
	}
}

func TestEvaluate_FirstEventNeverEarly(t *testing.T) {
	e := newTestEvaluator()
	cfg := DefaultConfig() // Δt=2s, alert=5s → first event at cycle 3

	state := CycleState{}
	for i := 0; i < 10; i++ {
		now := t0.Add(time.Duration(i) * cfg.PollInterval)
		out := e.Evaluate(state, headPoseSnapshot(0.8), cfg, now)
		elapsed := float64(i+1) * cfg.PollInterval.Seconds()
		if len(out.Events) > 0 && elapsed < cfg.AlertThreshold.Seconds() {
			t.Fatalf("event emitted at cycle %d (%.0fs elapsed), before alert threshold", i+1, elapsed)
		}
		if len(out.Events) > 0 {
			return // first event at the smallest qualifying cycle
		}
		state = out.State
	}
	t.Fatal("no event emitted over 10 sustained violating cycles")
}

func TestEvaluate_MultipleCategoriesEmitTogether(t *testing.T) {
	e := newTestEvaluator()
	cfg := DefaultConfig()

	snap := &DetectionSnapshot{
		PersonCount:    2,
		HeadDirection:  DirectionDown,
		HeadConfidence: 0.8,
		BodyVisible:    true,
		BodyConfidence: 0.9,
	}

	// Counter already past the threshold, cooldown clear.
	state := CycleState{ConsecutiveViolationSeconds: 6}
	out := e.Evaluate(state, snap, cfg, t0)

	if len(out.Events) != 2 {
		t.Fatalf("%d events, want 2 (multi-person + head pose)", len(out.Events))
	}
	kinds := map[ViolationKind]bool{}
	for _, ev := range out.Events {
		kinds[ev.Kind] = true
	}
	if !kinds[KindMultiplePersons] || !kinds[KindHeadPose] {
		t.Errorf("unexpected event kinds: %v", kinds)
	}
}

// A skipped cycle (detector failure) means the evaluator is simply not
// called; the untouched state must not delay the threshold crossing by more
// than one cycle's worth of time.
func TestEvaluate_SkippedCycleDoesNotReset(t *testing.T) {
	e := newTestEvaluator()
	cfg := DefaultConfig()

	state := CycleState{}
	evaluated := 0
	var firstEventAt time.Time

	for i := 0; i < 10 && firstEventAt.IsZero(); i++ {
		now := t0.Add(time.Duration(i) * cfg.PollInterval)
		if i == 1 {
			continue // detector timeout: skip, state untouched
		}
		out := e.Evaluate(state, headPoseSnapshot(0.8), cfg, now)
		evaluated++
		if out.State.ConsecutiveViolationSeconds == 0 {
			t.Fatalf("cycle %d: counter reset despite continuous violation", i+1)
		}
		if len(out.Events) > 0 {
			firstEventAt = now
		}
		state = out.State
	}

	if firstEventAt.IsZero() {
		t.Fatal("no event emitted")
	}
	// Without the skip the first event lands at t0+4s; the single skipped
	// cycle may push it to t0+6s but no further.
	if firstEventAt.After(t0.Add(6 * time.Second)) {
		t.Errorf("first event at %v, more than one cycle late", firstEventAt.Sub(t0))
	}
}

func TestEvaluate_CooldownBlocksSameCategory(t *testing.T) {
	e := newTestEvaluator()
	cfg := DefaultConfig()

	state := CycleState{ConsecutiveViolationSeconds: 10, LastAlertAt: t0}

	// 2s after the last alert: inside the 4s cooldown.
	out := e.Evaluate(state, headPoseSnapshot(0.8), cfg, t0.Add(2*time.Second))
	if len(out.Events) != 0 {
		t.Errorf("event emitted inside cooldown window")
	}
	if !out.State.LastAlertAt.Equal(t0) {
		t.Errorf("LastAlertAt moved without an emission")
	}

	// Exactly at the cooldown boundary: emits.
	out = e.Evaluate(out.State, headPoseSnapshot(0.8), cfg, t0.Add(4*time.Second))
	if len(out.Events) != 1 {
		t.Errorf("%d events at cooldown boundary, want 1", len(out.Events))
	}
}

func TestOverrides_Apply(t *testing.T) {
	base := DefaultConfig()

	var nilOverrides *Overrides
	if got := nilOverrides.Apply(base); got != base {
		t.Error("nil overrides must return base config unchanged")
	}

	warn := 1.5
	sens := float32(0.4)
	o := &Overrides{WarnSeconds: &warn, SensitivityThreshold: &sens}
	got := o.Apply(base)
	if got.WarnThreshold != 1500*time.Millisecond {
		t.Errorf("WarnThreshold = %v, want 1.5s", got.WarnThreshold)
	}
	if got.SensitivityThreshold != 0.4 {
		t.Errorf("SensitivityThreshold = %v, want 0.4", got.SensitivityThreshold)
	}
	if got.AlertThreshold != base.AlertThreshold {
		t.Errorf("AlertThreshold changed without an override")
	}

	if n := o.EffectiveMaxTabSwitches(3); n != 3 {
		t.Errorf("EffectiveMaxTabSwitches = %d, want server default 3", n)
	}
	limit := 5
	o.MaxTabSwitches = &limit
	if n := o.EffectiveMaxTabSwitches(3); n != 5 {
		t.Errorf("EffectiveMaxTabSwitches = %d, want 5", n)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	e := newTestEvaluator()
	cfg := DefaultConfig()
	snap := headPoseSnapshot(0.8)
	state := CycleState{ConsecutiveViolationSeconds: 4}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		e.Evaluate(state, snap, cfg, t0)
	}
}
