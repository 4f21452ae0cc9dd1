package scheduler

import (
	"fmt"

	"github.com/inference-sim/elastic-sim/sim"
)

// FCFSReplicaScheduler is the default intra-replica batching policy: requests
// are served strictly in arrival order with at most one batch in flight.
// A batch takes queued requests while it stays within MaxBatchSize requests and
// MaxTokensPerBatch tokens, and always takes at least one request so an
// oversized request cannot stall the queue.
//
// Thread-safety: NOT thread-safe. All methods must be called from the event loop.
type FCFSReplicaScheduler struct {
	replica   *sim.Replica
	config    Config
	predictor sim.ExecutionTimePredictor

	queue       []*sim.Request
	inFlight    *sim.Batch
	stages      []*sim.ReplicaStageScheduler
	nextBatchID int64
}

// NewFCFSReplicaScheduler creates the scheduler for one replica.
// Panics if predictor is nil.
func NewFCFSReplicaScheduler(replica *sim.Replica, config Config, predictor sim.ExecutionTimePredictor) *FCFSReplicaScheduler {
	if predictor == nil {
		panic("NewFCFSReplicaScheduler: predictor must not be nil")
	}
	numStages := max(replica.Config.NumPipelineStages, 1)
	stages := make([]*sim.ReplicaStageScheduler, numStages)
	for i := range stages {
		stages[i] = &sim.ReplicaStageScheduler{ReplicaID: replica.ID, StageID: i}
	}
	return &FCFSReplicaScheduler{
		replica:   replica,
		config:    config,
		predictor: predictor,
		stages:    stages,
	}
}

// NewFCFSFactory returns a ReplicaSchedulerFactory that builds FCFS schedulers
// sharing one configuration and predictor.
func NewFCFSFactory(config Config, predictor sim.ExecutionTimePredictor) ReplicaSchedulerFactory {
	return func(replica *sim.Replica) sim.ReplicaScheduler {
		return NewFCFSReplicaScheduler(replica, config, predictor)
	}
}

func (s *FCFSReplicaScheduler) ReplicaID() int {
	return s.replica.ID
}

// AddRequest enqueues a routed request.
func (s *FCFSReplicaScheduler) AddRequest(req *sim.Request) {
	req.ReplicaID = s.replica.ID
	s.queue = append(s.queue, req)
}

// NextBatch forms a batch from the head of the queue and predicts its execution time.
// Returns nil when a batch is already in flight or nothing is queued.
func (s *FCFSReplicaScheduler) NextBatch(now float64) *sim.Batch {
	if s.inFlight != nil || len(s.queue) == 0 {
		return nil
	}
	n, tokens := 0, 0
	for _, req := range s.queue {
		if n > 0 {
			if s.config.MaxBatchSize > 0 && n >= s.config.MaxBatchSize {
				break
			}
			if s.config.MaxTokensPerBatch > 0 && tokens+req.TotalTokens() > s.config.MaxTokensPerBatch {
				break
			}
		}
		n++
		tokens += req.TotalTokens()
	}
	reqs := make([]*sim.Request, n)
	copy(reqs, s.queue[:n])
	s.queue = s.queue[n:]

	batch := sim.NewBatch(s.nextBatchID, s.replica.ID, reqs, now)
	s.nextBatchID++
	batch.PredictedTime = s.predictor.PredictBatchTime(s.replica.Config, batch)
	if batch.PredictedTime < 0 {
		panic(fmt.Sprintf("FCFSReplicaScheduler: negative predicted time %f for batch %d", batch.PredictedTime, batch.ID))
	}
	s.inFlight = batch
	for _, stage := range s.stages {
		stage.Current = batch
	}
	return batch
}

// OnBatchEnd releases the in-flight batch.
// Panics if batch is not the batch this replica is running.
func (s *FCFSReplicaScheduler) OnBatchEnd(batch *sim.Batch) {
	if s.inFlight != batch {
		panic(fmt.Sprintf("FCFSReplicaScheduler: replica %d ended batch %d which is not in flight", s.replica.ID, batch.ID))
	}
	s.inFlight = nil
	for _, stage := range s.stages {
		stage.Current = nil
	}
}

func (s *FCFSReplicaScheduler) IsEmpty() bool {
	return s.inFlight == nil && len(s.queue) == 0
}

// NumPendingRequests counts queued plus in-flight requests.
func (s *FCFSReplicaScheduler) NumPendingRequests() int {
	n := len(s.queue)
	if s.inFlight != nil {
		n += s.inFlight.Size()
	}
	return n
}

// MemoryUsagePercent is the in-flight token count over the replica's memory capacity,
// capped at 100. Returns 0 when the capacity is not configured.
func (s *FCFSReplicaScheduler) MemoryUsagePercent() float64 {
	capacity := s.replica.Config.MemoryCapacityTokens
	if capacity <= 0 || s.inFlight == nil {
		return 0
	}
	return min(100*float64(s.inFlight.TotalNumTokens)/float64(capacity), 100)
}

// GetReplicaStageScheduler returns the stage scheduler for a pipeline stage.
// Panics if stageID is out of range.
func (s *FCFSReplicaScheduler) GetReplicaStageScheduler(stageID int) *sim.ReplicaStageScheduler {
	if stageID < 0 || stageID >= len(s.stages) {
		panic(fmt.Sprintf("FCFSReplicaScheduler: replica %d has no stage %d", s.replica.ID, stageID))
	}
	return s.stages[stageID]
}
