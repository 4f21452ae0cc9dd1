package metrics

import (
	"fmt"
	"io"
	"sort"
)

// CostMetrics summarizes the cost timeline of a run.
type CostMetrics struct {
	// AverageCostPerHour is the time-weighted mean of the hourly cost over the run.
	AverageCostPerHour float64 `json:"cost_per_hour"`
	// TotalCost is the cost accrued over the simulated duration.
	TotalCost    float64 `json:"total_cost"`
	Duration     float64 `json:"duration_seconds"`
	PeakReplicas int     `json:"peak_replicas"`
}

// Cost integrates the piecewise-constant hourly cost from the first autoscaling
// record to endTime. With a zero-length run the average is the last recorded cost.
func (s *Store) Cost(endTime float64) CostMetrics {
	var m CostMetrics
	if len(s.autoscaling) == 0 {
		return m
	}
	start := s.autoscaling[0].Time
	integral := 0.0
	for i, rec := range s.autoscaling {
		m.PeakReplicas = max(m.PeakReplicas, rec.NumReplicas)
		until := endTime
		if i+1 < len(s.autoscaling) {
			until = min(s.autoscaling[i+1].Time, endTime)
		}
		if until > rec.Time {
			integral += rec.CostPerHour * (until - rec.Time)
		}
	}
	m.Duration = max(endTime-start, 0)
	if m.Duration > 0 {
		m.AverageCostPerHour = integral / m.Duration
	} else {
		m.AverageCostPerHour = s.autoscaling[len(s.autoscaling)-1].CostPerHour
	}
	m.TotalCost = integral / 3600
	return m
}

// E2EPoint is one row of the request latency CDF.
type E2EPoint struct {
	RequestID int64
	E2ETime   float64
	CDF       float64
}

// E2ECDF is the empirical distribution of request end-to-end time, sorted by latency.
type E2ECDF []E2EPoint

// E2ECDF builds the latency CDF over completed requests.
// Ties in latency are ordered by request ID.
func (s *Store) E2ECDF() E2ECDF {
	var cdf E2ECDF
	for _, req := range s.requests {
		if req.Completed {
			cdf = append(cdf, E2EPoint{RequestID: req.ID, E2ETime: req.E2ETime()})
		}
	}
	sort.Slice(cdf, func(i, j int) bool {
		if cdf[i].E2ETime != cdf[j].E2ETime {
			return cdf[i].E2ETime < cdf[j].E2ETime
		}
		return cdf[i].RequestID < cdf[j].RequestID
	})
	for i := range cdf {
		cdf[i].CDF = float64(i+1) / float64(len(cdf))
	}
	return cdf
}

// Percentile returns the latency of the first row whose CDF reaches p/100.
// Returns 0 for an empty CDF.
func (c E2ECDF) Percentile(p float64) float64 {
	if len(c) == 0 {
		return 0
	}
	i := sort.Search(len(c), func(i int) bool { return c[i].CDF >= p/100 })
	if i == len(c) {
		i = len(c) - 1
	}
	return c[i].E2ETime
}

// Summary aggregates a run for printing.
type Summary struct {
	NumRequests   int
	NumCompleted  int
	NumBatches    int
	E2E           Distribution
	BatchDuration Distribution
	MemoryUsage   Distribution
	Cost          CostMetrics
	ScaleUps      int
	ScaleDowns    int
}

// Summarize computes the run summary as of endTime.
func (s *Store) Summarize(endTime float64) Summary {
	sum := Summary{
		NumRequests: len(s.requests),
		NumBatches:  len(s.batches),
		Cost:        s.Cost(endTime),
	}
	e2e := make([]float64, 0, len(s.requests))
	for _, req := range s.requests {
		if req.Completed {
			e2e = append(e2e, req.E2ETime())
		}
	}
	sum.NumCompleted = len(e2e)
	sum.E2E = NewDistribution(e2e)

	durations := make([]float64, len(s.batches))
	memory := make([]float64, len(s.batches))
	for i, b := range s.batches {
		durations[i] = b.ExecutionTime
		memory[i] = b.MemoryUsagePercent
	}
	sum.BatchDuration = NewDistribution(durations)
	sum.MemoryUsage = NewDistribution(memory)

	for i := 1; i < len(s.autoscaling); i++ {
		switch {
		case s.autoscaling[i].NumReplicas > s.autoscaling[i-1].NumReplicas:
			sum.ScaleUps++
		case s.autoscaling[i].NumReplicas < s.autoscaling[i-1].NumReplicas:
			sum.ScaleDowns++
		}
	}
	return sum
}

// Print writes a human-readable summary.
func (sum Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "=== Simulation Metrics ===")
	fmt.Fprintf(w, "Requests:            %d arrived, %d completed\n", sum.NumRequests, sum.NumCompleted)
	fmt.Fprintf(w, "Batches:             %d\n", sum.NumBatches)
	fmt.Fprintf(w, "E2E time (s):        mean %.3f  p50 %.3f  p90 %.3f  p99 %.3f  max %.3f\n",
		sum.E2E.Mean, sum.E2E.P50, sum.E2E.P90, sum.E2E.P99, sum.E2E.Max)
	fmt.Fprintf(w, "Batch duration (s):  mean %.4f  p99 %.4f\n", sum.BatchDuration.Mean, sum.BatchDuration.P99)
	fmt.Fprintf(w, "Memory usage (%%):    mean %.1f  max %.1f\n", sum.MemoryUsage.Mean, sum.MemoryUsage.Max)
	fmt.Fprintf(w, "Scaling:             %d up, %d down, peak %d replicas\n", sum.ScaleUps, sum.ScaleDowns, sum.Cost.PeakReplicas)
	fmt.Fprintf(w, "Cost:                %.2f/hour average, %.4f total over %.1fs\n",
		sum.Cost.AverageCostPerHour, sum.Cost.TotalCost, sum.Cost.Duration)
}
