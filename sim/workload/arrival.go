package workload

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Arrival processes accepted in ArrivalSpec.Process.
const (
	ProcessPoisson  = "poisson"
	ProcessGamma    = "gamma"
	ProcessConstant = "constant"
)

// ArrivalSpec selects the inter-arrival distribution.
type ArrivalSpec struct {
	Process string   `yaml:"process"`      // "poisson" (default), "gamma" or "constant"
	CV      *float64 `yaml:"cv,omitempty"` // gamma only, coefficient of variation; nil = 1
}

// ArrivalSampler generates inter-arrival times.
type ArrivalSampler interface {
	// SampleIAT returns the next inter-arrival time in seconds. Always > 0.
	SampleIAT(rng *rand.Rand) float64
}

// minIAT keeps consecutive arrivals strictly ordered.
const minIAT = 1e-9

// PoissonSampler generates exponentially-distributed inter-arrival times (CV=1).
type PoissonSampler struct {
	rate float64 // requests per second
}

func (s *PoissonSampler) SampleIAT(rng *rand.Rand) float64 {
	return math.Max(rng.ExpFloat64()/s.rate, minIAT)
}

// GammaSampler generates Gamma-distributed inter-arrival times.
// CV > 1 produces bursty arrivals.
// Implemented using Marsaglia-Tsang's method for shape >= 1,
// with transformation for shape < 1.
type GammaSampler struct {
	shape float64 // 1/CV²
	scale float64 // CV²/rate, in seconds
}

func (s *GammaSampler) SampleIAT(rng *rand.Rand) float64 {
	return math.Max(gammaRand(rng, s.shape, s.scale), minIAT)
}

// ConstantSampler spaces arrivals evenly.
type ConstantSampler struct {
	interval float64
}

func (s *ConstantSampler) SampleIAT(_ *rand.Rand) float64 {
	return s.interval
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)
	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()

		// squeeze
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// NewArrivalSampler creates an ArrivalSampler for the given rate in requests per second.
// Returns an error for a non-positive rate or an unknown process.
func NewArrivalSampler(spec ArrivalSpec, rate float64) (ArrivalSampler, error) {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("arrival rate must be a finite value > 0, got %v", rate)
	}
	switch spec.Process {
	case "", ProcessPoisson:
		return &PoissonSampler{rate: rate}, nil
	case ProcessConstant:
		return &ConstantSampler{interval: 1 / rate}, nil
	case ProcessGamma:
		cv := 1.0
		if spec.CV != nil && *spec.CV > 0 {
			cv = *spec.CV
		}
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to Poisson", shape, cv)
			return &PoissonSampler{rate: rate}, nil
		}
		return &GammaSampler{shape: shape, scale: cv * cv / rate}, nil
	default:
		return nil, fmt.Errorf("unknown arrival process %q; valid options: %s, %s, %s",
			spec.Process, ProcessPoisson, ProcessGamma, ProcessConstant)
	}
}
