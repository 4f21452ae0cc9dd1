// Package trace provides decision-trace recording for routing and autoscaling analysis.
// This package has no dependencies on sim/ or its sub-packages; it stores pure data types.
package trace

// RoutingRecord captures the global scheduler's assignment of one request.
type RoutingRecord struct {
	RequestID int64
	Time      float64
	ReplicaID int
	Policy    string
	Load      int // outstanding requests on the chosen replica before the assignment
}

// ScalingRecord captures one autoscaler tuning pass.
type ScalingRecord struct {
	Time              float64
	Delta             int // > 0 scale up, < 0 scale down
	NumReplicas       int // live replicas when the pass ran
	EffectiveReplicas int
	Throughput        float64
	RateUp            float64
	TargetUp          int
	RateDown          float64
	TargetDown        int
	Reason            string
}

// ReplicaAction names a replica lifecycle step.
type ReplicaAction string

const (
	ReplicaAdded  ReplicaAction = "added"
	ReplicaMarked ReplicaAction = "marked"
	ReplicaFreed  ReplicaAction = "freed"
	// ReplicaSkipped records a scale-down that found no eligible replica.
	ReplicaSkipped ReplicaAction = "skipped"
)

// ReplicaRecord captures a realized scale operation.
type ReplicaRecord struct {
	Time        float64
	ReplicaID   int // -1 for ReplicaSkipped
	Action      ReplicaAction
	NumReplicas int // live replicas after the action
}
