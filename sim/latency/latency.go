// Package latency provides execution time predictors for the simulator.
// The ExecutionTimePredictor interface is defined in sim/ (parent package).
// This package provides BlackboxPredictor, a linear regression over the
// batch's prefill and decode token counts.
package latency

import (
	"fmt"
	"math"

	"github.com/inference-sim/elastic-sim/sim"
)

// Config selects and parameterizes the execution time predictor.
type Config struct {
	// BetaCoeffs estimate batch time in seconds:
	// beta0 + (beta1*prefillTokens + beta2*decodeTokens) / tensorParallelSize.
	BetaCoeffs []float64 `yaml:"beta_coeffs"`
}

// DefaultConfig returns coefficients that make a single-device replica process
// roughly 1000 prefill tokens/s and 100 decode tokens/s with a 10ms fixed cost.
func DefaultConfig() Config {
	return Config{BetaCoeffs: []float64{0.01, 0.001, 0.01}}
}

// Validate checks coefficient count and finiteness.
func (c Config) Validate() error {
	if len(c.BetaCoeffs) < 3 {
		return fmt.Errorf("latency model: BetaCoeffs requires at least 3 elements, got %d", len(c.BetaCoeffs))
	}
	if err := validateCoeffs("BetaCoeffs", c.BetaCoeffs); err != nil {
		return err
	}
	for i, b := range c.BetaCoeffs {
		if b < 0 {
			return fmt.Errorf("latency model: BetaCoeffs[%d] must be non-negative, got %v", i, b)
		}
	}
	return nil
}

// BlackboxPredictor estimates batch execution time from trained regression coefficients.
// Pipeline stages do not change the estimate: a batch crosses every stage once.
type BlackboxPredictor struct {
	betaCoeffs []float64
}

// PredictBatchTime implements sim.ExecutionTimePredictor.
func (p *BlackboxPredictor) PredictBatchTime(cfg sim.ReplicaConfig, batch *sim.Batch) float64 {
	var prefillTokens, decodeTokens int
	for _, req := range batch.Requests {
		prefillTokens += req.NumPrefillTokens
		decodeTokens += req.NumDecodeTokens
	}
	tp := float64(max(cfg.TensorParallelSize, 1))
	t := p.betaCoeffs[0]
	t += (p.betaCoeffs[1]*float64(prefillTokens) + p.betaCoeffs[2]*float64(decodeTokens)) / tp
	return t
}

// validateCoeffs checks for NaN or Inf in a coefficient slice.
func validateCoeffs(name string, coeffs []float64) error {
	for i, c := range coeffs {
		if math.IsNaN(c) {
			return fmt.Errorf("latency model: %s[%d] is NaN", name, i)
		}
		if math.IsInf(c, 0) {
			return fmt.Errorf("latency model: %s[%d] is Inf", name, i)
		}
	}
	return nil
}

// NewPredictor creates the predictor described by cfg.
// Returns an error if the coefficients are too few, negative, NaN or Inf.
func NewPredictor(cfg Config) (sim.ExecutionTimePredictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BlackboxPredictor{betaCoeffs: append([]float64(nil), cfg.BetaCoeffs...)}, nil
}
