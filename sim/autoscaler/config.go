package autoscaler

import (
	"fmt"
	"math"

	"go.uber.org/multierr"
	"k8s.io/utils/ptr"
)

// Policy names accepted in Config.Policy.
const (
	PolicyInferline    = "inferline"
	PolicyServiceLevel = "service_level"
)

// Service levels of the service_level policy.
const (
	LevelLowCost    = 1 // fewer replicas, slower to scale up, quicker to scale down
	LevelBalanced   = 2 // the inferline baseline
	LevelLowLatency = 3 // more headroom, quicker to scale up, slower to scale down
)

const defaultThroughputAlpha = 0.5

// Config is the YAML form of the autoscaler settings. Times are in seconds,
// throughput in tokens per second per replica.
type Config struct {
	Enabled bool   `yaml:"enabled"`
	Policy  string `yaml:"policy"` // "inferline" (default) or "service_level"

	// ServiceLevel selects a preset of the service_level policy. nil = LevelBalanced.
	ServiceLevel *int `yaml:"service_level,omitempty"`

	MinReplicas    int     `yaml:"min_replicas"`
	TuneInterval   float64 `yaml:"tune_interval"`
	ScaleUpDelay   float64 `yaml:"scale_up_delay"`
	ScaleDownDelay float64 `yaml:"scale_down_delay"`

	InitialReplicaTokenThroughput float64 `yaml:"initial_replica_token_throughput"`
	// ThroughputAlpha is the EMA weight of the newest batch. nil = 0.5.
	ThroughputAlpha *float64 `yaml:"throughput_alpha,omitempty"`

	MinWindowSizeScaleUp   float64 `yaml:"min_window_size_scale_up"`
	LookBackTimeScaleUp    float64 `yaml:"look_back_time_scale_up"`
	MinWindowSizeScaleDown float64 `yaml:"min_window_size_scale_down"`
	LookBackTimeScaleDown  float64 `yaml:"look_back_time_scale_down"`
	StabilizationDelay     float64 `yaml:"stabilization_delay"`
}

// DefaultConfig returns a disabled inferline autoscaler with balanced windows.
func DefaultConfig() Config {
	return Config{
		Policy:                        PolicyInferline,
		MinReplicas:                   1,
		TuneInterval:                  10,
		ScaleUpDelay:                  30,
		ScaleDownDelay:                0,
		InitialReplicaTokenThroughput: 1000,
		MinWindowSizeScaleUp:          10,
		LookBackTimeScaleUp:           30,
		MinWindowSizeScaleDown:        64,
		LookBackTimeScaleDown:         300,
		StabilizationDelay:            300,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var err error
	switch c.Policy {
	case "", PolicyInferline, PolicyServiceLevel:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown autoscaler policy %q; valid options: %s, %s", c.Policy, PolicyInferline, PolicyServiceLevel))
	}
	if c.ServiceLevel != nil && (*c.ServiceLevel < LevelLowCost || *c.ServiceLevel > LevelLowLatency) {
		err = multierr.Append(err, fmt.Errorf("service_level must be 1, 2 or 3, got %d", *c.ServiceLevel))
	}
	if c.MinReplicas < 0 {
		err = multierr.Append(err, fmt.Errorf("min_replicas must be >= 0, got %d", c.MinReplicas))
	}
	if c.Enabled && !(c.TuneInterval > 0) {
		err = multierr.Append(err, fmt.Errorf("tune_interval must be > 0 when autoscaling is enabled, got %v", c.TuneInterval))
	}
	if c.ThroughputAlpha != nil && !(*c.ThroughputAlpha >= 0 && *c.ThroughputAlpha <= 1) {
		err = multierr.Append(err, fmt.Errorf("throughput_alpha must be in [0, 1], got %v", *c.ThroughputAlpha))
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"scale_up_delay", c.ScaleUpDelay},
		{"scale_down_delay", c.ScaleDownDelay},
		{"initial_replica_token_throughput", c.InitialReplicaTokenThroughput},
		{"min_window_size_scale_up", c.MinWindowSizeScaleUp},
		{"look_back_time_scale_up", c.LookBackTimeScaleUp},
		{"min_window_size_scale_down", c.MinWindowSizeScaleDown},
		{"look_back_time_scale_down", c.LookBackTimeScaleDown},
		{"stabilization_delay", c.StabilizationDelay},
	} {
		if f.value < 0 || math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			err = multierr.Append(err, fmt.Errorf("%s must be a finite value >= 0, got %v", f.name, f.value))
		}
	}
	return err
}

// Params are the tuning parameters after the policy preset is applied.
type Params struct {
	ScaleUpUtilization   float64
	ScaleDownUtilization float64
	WindowUp             float64
	LookBackUp           float64
	WindowDown           float64
	LookBackDown         float64
	Stabilization        float64
	MinReplicas          int
	ThroughputAlpha      float64
}

// ResolveParams applies the configured policy to the baseline windows.
// The inferline policy and service level 2 use the configuration unchanged.
func ResolveParams(c Config) Params {
	p := Params{
		ScaleUpUtilization:   1.0,
		ScaleDownUtilization: 1.0,
		WindowUp:             c.MinWindowSizeScaleUp,
		LookBackUp:           c.LookBackTimeScaleUp,
		WindowDown:           c.MinWindowSizeScaleDown,
		LookBackDown:         c.LookBackTimeScaleDown,
		Stabilization:        c.StabilizationDelay,
		MinReplicas:          c.MinReplicas,
		ThroughputAlpha:      ptr.Deref(c.ThroughputAlpha, defaultThroughputAlpha),
	}
	if c.Policy != PolicyServiceLevel {
		return p
	}
	switch ptr.Deref(c.ServiceLevel, LevelBalanced) {
	case LevelLowCost:
		p.ScaleUpUtilization = 1.15
		p.ScaleDownUtilization = 1.1
		p.WindowUp *= 1.5
		p.WindowDown /= 2
		p.LookBackDown /= 2
		p.Stabilization /= 2
	case LevelLowLatency:
		p.ScaleUpUtilization = 0.70
		p.ScaleDownUtilization = 0.60
		p.WindowUp /= 2
		p.WindowDown *= 1.5
		p.LookBackDown *= 1.5
		p.Stabilization *= 1.5
	}
	return p
}
