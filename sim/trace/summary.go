package trace

import (
	"fmt"
	"io"
	"sort"
)

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalRoutings      int
	UniqueTargets      int
	TargetDistribution map[int]int // replica ID → count of requests routed

	TuningPasses    int
	ScaleUpPasses   int
	ScaleDownPasses int
	ReplicasAdded   int
	ReplicasMarked  int
	ReplicasFreed   int
	SkippedFrees    int
	PeakReplicas    int
	ReasonCounts    map[string]int // tuning reason → passes
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		TargetDistribution: make(map[int]int),
		ReasonCounts:       make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalRoutings = len(st.Routings)
	for _, r := range st.Routings {
		summary.TargetDistribution[r.ReplicaID]++
	}
	summary.UniqueTargets = len(summary.TargetDistribution)

	summary.TuningPasses = len(st.Scalings)
	for _, s := range st.Scalings {
		summary.ReasonCounts[s.Reason]++
		switch {
		case s.Delta > 0:
			summary.ScaleUpPasses++
		case s.Delta < 0:
			summary.ScaleDownPasses++
		}
		summary.PeakReplicas = max(summary.PeakReplicas, s.NumReplicas)
	}

	for _, r := range st.Replicas {
		switch r.Action {
		case ReplicaAdded:
			summary.ReplicasAdded++
		case ReplicaMarked:
			summary.ReplicasMarked++
		case ReplicaFreed:
			summary.ReplicasFreed++
		case ReplicaSkipped:
			summary.SkippedFrees++
		}
		summary.PeakReplicas = max(summary.PeakReplicas, r.NumReplicas)
	}
	return summary
}

// Print writes a human-readable summary to w.
func (s *TraceSummary) Print(w io.Writer) {
	fmt.Fprintf(w, "=== Decision Trace ===\n")
	fmt.Fprintf(w, "Routed requests: %d across %d replicas\n", s.TotalRoutings, s.UniqueTargets)
	ids := make([]int, 0, len(s.TargetDistribution))
	for id := range s.TargetDistribution {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  replica %d: %d\n", id, s.TargetDistribution[id])
	}
	fmt.Fprintf(w, "Tuning passes: %d (up %d, down %d)\n", s.TuningPasses, s.ScaleUpPasses, s.ScaleDownPasses)
	fmt.Fprintf(w, "Replicas: added %d, marked %d, freed %d, skipped %d, peak %d\n",
		s.ReplicasAdded, s.ReplicasMarked, s.ReplicasFreed, s.SkippedFrees, s.PeakReplicas)
}
