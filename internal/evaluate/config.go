package evaluate

import "time"

// Config holds the evaluator thresholds.
type Config struct {
	// PollInterval is the fixed cycle length Δt the client captures at.
	// Each violating cycle adds this much to the sustained counter.
	PollInterval time.Duration
	// SensitivityThreshold is the minimum head-pose confidence that counts
	// as a violation. Low-confidence classifier output fails open.
	SensitivityThreshold float32
	// WarnThreshold is the sustained-violation duration at which the
	// UI-facing indicator escalates to "warning". No alert is emitted.
	WarnThreshold time.Duration
	// AlertThreshold is the sustained-violation duration at which
	// violation events are emitted.
	AlertThreshold time.Duration
	// AlertCooldown is the minimum interval between successive emissions,
	// decoupling alert rate from poll rate.
	AlertCooldown time.Duration
}

// DefaultConfig returns the server default thresholds.
func DefaultConfig() Config {
	return Config{
		PollInterval:         2 * time.Second,
		SensitivityThreshold: 0.6,
		WarnThreshold:        3 * time.Second,
		AlertThreshold:       5 * time.Second,
		AlertCooldown:        4 * time.Second,
	}
}

// Overrides carries per-course threshold overrides loaded from the
// courses.proctor_config JSONB column. All pointer fields use nil to mean
// "use server default".
type Overrides struct {
	PollIntervalSeconds  *float64 `json:"poll_interval_seconds"`
	SensitivityThreshold *float32 `json:"sensitivity_threshold"`
	WarnSeconds          *float64 `json:"warn_seconds"`
	AlertSeconds         *float64 `json:"alert_seconds"`
	CooldownSeconds      *float64 `json:"cooldown_seconds"`
	MaxTabSwitches       *int     `json:"max_tab_switches"`
	GraceSeconds         *float64 `json:"grace_seconds"`
}

// Apply returns a copy of base with any non-nil overrides applied.
func (o *Overrides) Apply(base Config) Config {
	if o == nil {
		return base
	}
	if o.PollIntervalSeconds != nil {
		base.PollInterval = secondsToDuration(*o.PollIntervalSeconds)
	}
	if o.SensitivityThreshold != nil {
		base.SensitivityThreshold = *o.SensitivityThreshold
	}
	if o.WarnSeconds != nil {
		base.WarnThreshold = secondsToDuration(*o.WarnSeconds)
	}
	if o.AlertSeconds != nil {
		base.AlertThreshold = secondsToDuration(*o.AlertSeconds)
	}
	if o.CooldownSeconds != nil {
		base.AlertCooldown = secondsToDuration(*o.CooldownSeconds)
	}
	return base
}

// EffectiveMaxTabSwitches returns the tab-switch limit, falling back to the
// given server default when unset.
func (o *Overrides) EffectiveMaxTabSwitches(serverDefault int) int {
	if o == nil || o.MaxTabSwitches == nil {
		return serverDefault
	}
	return *o.MaxTabSwitches
}

// EffectiveGraceDelay returns the lock-to-termination grace delay.
func (o *Overrides) EffectiveGraceDelay(serverDefault time.Duration) time.Duration {
	if o == nil || o.GraceSeconds == nil {
		return serverDefault
	}
	return secondsToDuration(*o.GraceSeconds)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
