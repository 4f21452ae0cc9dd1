package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inference-sim/elastic-sim/sim"
)

// completedRequest returns a request that arrived at arrivedAt and finished e2e seconds later.
func completedRequest(id int64, arrivedAt, e2e float64) *sim.Request {
	r := sim.NewRequest(id, arrivedAt, 10, 5)
	b := sim.NewBatch(id, 0, []*sim.Request{r}, arrivedAt)
	b.OnBatchEnd(arrivedAt + e2e)
	return r
}

func TestCost_TimeWeightedAverage(t *testing.T) {
	s := NewStore(Config{})
	s.OnAutoscalingEvent(0, 1, 10)
	s.OnAutoscalingEvent(100, 3, 30)
	s.OnAutoscalingEvent(300, 2, 20)

	m := s.Cost(400)

	// 10*100 + 30*200 + 20*100 = 9000 over 400s
	assert.InDelta(t, 22.5, m.AverageCostPerHour, 1e-9)
	assert.InDelta(t, 9000.0/3600, m.TotalCost, 1e-9)
	assert.Equal(t, 400.0, m.Duration)
	assert.Equal(t, 3, m.PeakReplicas)
}

func TestCost_ZeroDurationUsesLastCost(t *testing.T) {
	s := NewStore(Config{})
	assert.Equal(t, CostMetrics{}, s.Cost(10))

	s.OnAutoscalingEvent(5, 2, 8)
	m := s.Cost(5)
	assert.Equal(t, 8.0, m.AverageCostPerHour)
	assert.Equal(t, 0.0, m.TotalCost)
}

func TestE2ECDF_PercentileLookup(t *testing.T) {
	s := NewStore(Config{})
	for i, e2e := range []float64{4, 1, 3, 2} {
		s.OnRequestArrival(0, completedRequest(int64(i), 0, e2e))
	}
	s.OnRequestArrival(0, sim.NewRequest(9, 0, 1, 1)) // never completes

	cdf := s.E2ECDF()

	require.Len(t, cdf, 4)
	assert.Equal(t, []float64{0.25, 0.5, 0.75, 1}, []float64{cdf[0].CDF, cdf[1].CDF, cdf[2].CDF, cdf[3].CDF})
	assert.Equal(t, 1.0, cdf.Percentile(10))
	assert.Equal(t, 2.0, cdf.Percentile(50), "first row whose cdf reaches 0.5")
	assert.Equal(t, 3.0, cdf.Percentile(51))
	assert.Equal(t, 4.0, cdf.Percentile(100))
	assert.Equal(t, 0.0, E2ECDF(nil).Percentile(90))
}

func TestStore_PrometheusCollectors(t *testing.T) {
	s := NewStore(Config{})
	s.OnAutoscalingEvent(0, 2, 4)
	s.AddReplica(2)
	s.OnAutoscalingEvent(1, 3, 6)
	s.OnAutoscalingEvent(2, 2, 4)
	s.OnAutoscalingEvent(3, 1, 2)

	r := completedRequest(1, 0, 0.5)
	s.OnRequestArrival(0, r)
	b := sim.NewBatch(7, 1, []*sim.Request{sim.NewRequest(2, 0, 100, 20)}, 1)
	b.OnBatchEnd(1.25)
	s.OnBatchEnd(1.25, b, 1, 42)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.arrivals))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.batchesTotal))
	assert.Equal(t, 120.0, testutil.ToFloat64(s.tokensTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.replicas))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.costPerHour))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.scalingTotal.WithLabelValues("up")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.scalingTotal.WithLabelValues("down")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.replicasCreated))
	assert.Equal(t, 42.0, testutil.ToFloat64(s.memoryUsage.WithLabelValues("1")))
	assert.Equal(t, []int{2}, s.AddedReplicas())

	sum := s.Summarize(4)
	assert.Equal(t, 1, sum.ScaleUps)
	assert.Equal(t, 2, sum.ScaleDowns)
	assert.Equal(t, 1, sum.NumCompleted)
	assert.InDelta(t, 0.25, sum.BatchDuration.Mean, 1e-9)
}

func TestWriteResults_WritesEveryFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	s := NewStore(Config{OutputDir: dir})
	s.OnAutoscalingEvent(0, 1, 10)
	for i, e2e := range []float64{2, 1} {
		s.OnRequestArrival(0, completedRequest(int64(i), 0, e2e))
	}
	b := sim.NewBatch(0, 0, []*sim.Request{sim.NewRequest(5, 0, 1, 1)}, 0)
	b.OnBatchEnd(1)
	s.OnBatchEnd(1, b, 0, 0.2)

	require.NoError(t, s.WriteResults(3600))

	for _, name := range []string{RequestE2EFile, BatchFile, AutoscalingFile, CostFile, PrometheusFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	cdf, err := ReadE2ECDF(dir)
	require.NoError(t, err)
	assert.Equal(t, s.E2ECDF(), cdf)

	cost, err := ReadCostMetrics(dir)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, cost.AverageCostPerHour, 1e-9)
	assert.InDelta(t, 10.0, cost.TotalCost, 1e-9)

	prom, err := os.ReadFile(filepath.Join(dir, PrometheusFile))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(prom), "elastic_sim_batches_total 1"), string(prom))

	batches, err := os.ReadFile(filepath.Join(dir, BatchFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(batches)), "\n")
	assert.Equal(t, "time,replica_id,batch_id,batch_size,num_tokens,execution_time,memory_usage_percent", lines[0])
	assert.Equal(t, "1,0,0,1,2,1,0.2", lines[1])
}

func TestWriteResults_NoOutputDirIsNoop(t *testing.T) {
	assert.NoError(t, NewStore(Config{}).WriteResults(1))
}

func TestReadE2ECDF_MissingFile(t *testing.T) {
	_, err := ReadE2ECDF(t.TempDir())
	assert.ErrorContains(t, err, "reading request latency")
}

func TestNewDistribution(t *testing.T) {
	assert.Equal(t, Distribution{}, NewDistribution(nil))

	d := NewDistribution([]float64{5, 1, 3})
	assert.Equal(t, 3, d.Count)
	assert.InDelta(t, 3.0, d.Mean, 1e-9)
	assert.Equal(t, 1.0, d.Min)
	assert.Equal(t, 5.0, d.Max)
	assert.LessOrEqual(t, d.P50, d.P99)
}
