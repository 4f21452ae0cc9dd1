// Package workload produces the request stream of a simulation run, either
// synthesized from arrival and token-length distributions or replayed from a CSV trace.
package workload

import (
	"fmt"
	"math"
	"math/rand"

	"go.uber.org/multierr"

	"github.com/inference-sim/elastic-sim/sim"
)

// Phase holds the arrival rate for a stretch of simulated time.
type Phase struct {
	Duration float64 `yaml:"duration"` // seconds
	Rate     float64 `yaml:"rate"`     // requests per second; 0 = idle
}

// LengthSpec is a Gaussian token length clamped to [Min, Max].
type LengthSpec struct {
	Mean int `yaml:"mean"`
	Std  int `yaml:"std"`
	Min  int `yaml:"min"`
	Max  int `yaml:"max"`
}

// Sample draws one length.
func (l LengthSpec) Sample(rng *rand.Rand) int {
	if l.Min == l.Max {
		return l.Min
	}
	val := rng.NormFloat64()*float64(l.Std) + float64(l.Mean)
	val = math.Max(float64(l.Min), math.Min(float64(l.Max), val))
	return int(math.Round(val))
}

func (l LengthSpec) validate(name string) error {
	var err error
	if l.Min < 0 || l.Max < l.Min {
		err = multierr.Append(err, fmt.Errorf("%s: need 0 <= min <= max, got min=%d max=%d", name, l.Min, l.Max))
	}
	if l.Std < 0 {
		err = multierr.Append(err, fmt.Errorf("%s: std must be >= 0, got %d", name, l.Std))
	}
	return err
}

// Spec describes the workload. With Trace set the requests are replayed from
// that CSV file and every other field is ignored.
type Spec struct {
	Trace string `yaml:"trace,omitempty"`

	Arrival ArrivalSpec `yaml:"arrival"`
	// Phases run back to back from time 0. Generation stops at the end of the
	// last phase or after NumRequests requests, whichever comes first.
	Phases      []Phase    `yaml:"phases"`
	NumRequests int        `yaml:"num_requests"` // 0 = until the phases end
	Prefill     LengthSpec `yaml:"prefill_tokens"`
	Decode      LengthSpec `yaml:"decode_tokens"`
}

// DefaultSpec returns one minute of Poisson arrivals at 5 requests/s.
func DefaultSpec() Spec {
	return Spec{
		Arrival: ArrivalSpec{Process: ProcessPoisson},
		Phases:  []Phase{{Duration: 60, Rate: 5}},
		Prefill: LengthSpec{Mean: 512, Std: 128, Min: 16, Max: 2048},
		Decode:  LengthSpec{Mean: 128, Std: 32, Min: 1, Max: 512},
	}
}

// Validate reports every invalid field. A trace-driven spec only needs the trace path.
func (s Spec) Validate() error {
	if s.Trace != "" {
		return nil
	}
	var err error
	switch s.Arrival.Process {
	case "", ProcessPoisson, ProcessGamma, ProcessConstant:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown arrival process %q", s.Arrival.Process))
	}
	if len(s.Phases) == 0 {
		err = multierr.Append(err, fmt.Errorf("workload needs at least one phase or a trace"))
	}
	for i, p := range s.Phases {
		if !(p.Duration > 0) || math.IsInf(p.Duration, 0) {
			err = multierr.Append(err, fmt.Errorf("phases[%d]: duration must be a finite value > 0, got %v", i, p.Duration))
		}
		if p.Rate < 0 || math.IsNaN(p.Rate) || math.IsInf(p.Rate, 0) {
			err = multierr.Append(err, fmt.Errorf("phases[%d]: rate must be a finite value >= 0, got %v", i, p.Rate))
		}
	}
	if s.NumRequests < 0 {
		err = multierr.Append(err, fmt.Errorf("num_requests must be >= 0, got %d", s.NumRequests))
	}
	err = multierr.Append(err, s.Prefill.validate("prefill_tokens"))
	err = multierr.Append(err, s.Decode.validate("decode_tokens"))
	return err
}

// Generate produces the requests in arrival order with IDs 0..n-1.
// Inter-arrival times draw from the arrivals subsystem of rng and token lengths
// from the tokens subsystem, so changing one never shifts the other.
func Generate(spec Spec, rng *sim.PartitionedRNG) ([]*sim.Request, error) {
	if spec.Trace != "" {
		return LoadTraceCSV(spec.Trace)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload: %w", err)
	}
	arrivalRNG := rng.ForSubsystem(sim.SubsystemArrivals)
	tokenRNG := rng.ForSubsystem(sim.SubsystemTokens)

	var requests []*sim.Request
	phaseStart := 0.0
	for _, phase := range spec.Phases {
		phaseEnd := phaseStart + phase.Duration
		if phase.Rate > 0 {
			sampler, err := NewArrivalSampler(spec.Arrival, phase.Rate)
			if err != nil {
				return nil, err
			}
			// each phase restarts its arrival process at the phase boundary
			t := phaseStart + sampler.SampleIAT(arrivalRNG)
			for t < phaseEnd {
				if spec.NumRequests > 0 && len(requests) >= spec.NumRequests {
					return requests, nil
				}
				id := int64(len(requests))
				requests = append(requests, sim.NewRequest(id, t, spec.Prefill.Sample(tokenRNG), spec.Decode.Sample(tokenRNG)))
				t += sampler.SampleIAT(arrivalRNG)
			}
		}
		phaseStart = phaseEnd
	}
	return requests, nil
}
