package sim

// ReplicaScheduler decides, within one replica, which queued requests form the next batch.
// The global scheduler treats it as opaque apart from the methods below.
type ReplicaScheduler interface {
	ReplicaID() int

	// AddRequest enqueues a request routed to this replica.
	AddRequest(req *Request)

	// NextBatch forms and starts the next batch at time now.
	// Returns nil when the replica is busy or has nothing queued.
	NextBatch(now float64) *Batch

	// OnBatchEnd releases the resources held by a finished batch.
	OnBatchEnd(batch *Batch)

	// IsEmpty reports whether the replica has neither queued nor in-flight work.
	IsEmpty() bool

	// NumPendingRequests counts queued plus in-flight requests.
	NumPendingRequests() int

	// MemoryUsagePercent is the share of replica memory held by in-flight work, in [0, 100].
	MemoryUsagePercent() float64

	GetReplicaStageScheduler(stageID int) *ReplicaStageScheduler
}

// ReplicaStageScheduler tracks the batch occupying one pipeline stage of a replica.
type ReplicaStageScheduler struct {
	ReplicaID int
	StageID   int
	Current   *Batch // nil when the stage is idle
}

// IsBusy reports whether a batch currently occupies the stage.
func (s *ReplicaStageScheduler) IsBusy() bool {
	return s.Current != nil
}
