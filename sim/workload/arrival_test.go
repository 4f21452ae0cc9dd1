package workload

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoissonSampler_MeanIAT_MatchesRate(t *testing.T) {
	// GIVEN a Poisson sampler at 10 req/sec
	rng := rand.New(rand.NewSource(42))
	sampler, err := NewArrivalSampler(ArrivalSpec{Process: ProcessPoisson}, 10)
	require.NoError(t, err)

	// WHEN 10000 IATs are sampled
	n := 10000
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = sampler.SampleIAT(rng)
	}

	// THEN mean IAT ≈ 1/rate = 0.1s (within 5%)
	mean, _ := meanAndVariance(vals)
	if math.Abs(mean-0.1)/0.1 > 0.05 {
		t.Errorf("mean IAT = %.4f s, want ≈ 0.1 s (within 5%%)", mean)
	}
}

func TestGammaSampler_MeanAndVariance_MatchTheoretical(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	cv := 2.0
	sampler, err := NewArrivalSampler(ArrivalSpec{Process: ProcessGamma, CV: &cv}, 10)
	require.NoError(t, err)

	n := 50000
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = sampler.SampleIAT(rng)
	}
	// mean = 1/rate = 0.1s, variance = mean² * CV²
	mean, variance := meanAndVariance(vals)
	expectedVar := 0.1 * 0.1 * cv * cv
	if math.Abs(mean-0.1)/0.1 > 0.05 {
		t.Errorf("gamma mean = %.4f, want ≈ 0.1 (within 5%%)", mean)
	}
	if math.Abs(variance-expectedVar)/expectedVar > 0.15 {
		t.Errorf("gamma variance = %.5f, want ≈ %.5f (within 15%%)", variance, expectedVar)
	}
}

func TestConstantSampler_EvenSpacing(t *testing.T) {
	sampler, err := NewArrivalSampler(ArrivalSpec{Process: ProcessConstant}, 4)
	require.NoError(t, err)
	assert.Equal(t, 0.25, sampler.SampleIAT(nil))
}

func TestNewArrivalSampler_Errors(t *testing.T) {
	_, err := NewArrivalSampler(ArrivalSpec{Process: "weibull"}, 1)
	assert.ErrorContains(t, err, "unknown arrival process")

	_, err = NewArrivalSampler(ArrivalSpec{}, 0)
	assert.ErrorContains(t, err, "arrival rate")
}

func meanAndVariance(vals []float64) (float64, float64) {
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	ss := 0.0
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	return mean, ss / float64(len(vals))
}
