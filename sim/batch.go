// batch.go
//
// Defines the Batch struct which represents a group of requests executed together
// on one replica between a scheduled time and a completion time.

package sim

import "fmt"

// Batch represents a group of requests executed together on one replica.
// Created by a replica scheduler; consumed by the event loop, the metrics sink
// and the autoscaler's throughput estimator.
type Batch struct {
	ID             int64
	ReplicaID      int
	Requests       []*Request // Requests included in the batch, in scheduling order
	ScheduledAt    float64
	CompletedAt    float64
	TotalNumTokens int     // Sum of TotalTokens over Requests
	PredictedTime  float64 // Execution time predicted when the batch was formed
	Completed      bool
}

// NewBatch creates a new Batch scheduled at the given time on a replica.
func NewBatch(id int64, replicaID int, reqs []*Request, scheduledAt float64) *Batch {
	total := 0
	for _, req := range reqs {
		total += req.TotalTokens()
		if !req.Scheduled {
			req.Scheduled = true
			req.ScheduledAt = scheduledAt
		}
	}
	return &Batch{
		ID:             id,
		ReplicaID:      replicaID,
		Requests:       reqs,
		ScheduledAt:    scheduledAt,
		TotalNumTokens: total,
	}
}

// Size returns the number of requests in the batch.
func (b *Batch) Size() int {
	return len(b.Requests)
}

// ExecutionTime returns CompletedAt - ScheduledAt, or 0 for a batch still in flight.
func (b *Batch) ExecutionTime() float64 {
	if !b.Completed {
		return 0
	}
	return b.CompletedAt - b.ScheduledAt
}

// OnBatchEnd finalizes the batch at time now and completes its requests.
// Panics if now precedes ScheduledAt or the batch already ended.
func (b *Batch) OnBatchEnd(now float64) {
	if b.Completed {
		panic(fmt.Sprintf("Batch.OnBatchEnd: batch %d already completed", b.ID))
	}
	if now < b.ScheduledAt {
		panic(fmt.Sprintf("Batch.OnBatchEnd: batch %d completed at %f before scheduled at %f", b.ID, now, b.ScheduledAt))
	}
	b.CompletedAt = now
	b.Completed = true
	for _, req := range b.Requests {
		req.CompletedAt = now
		req.Completed = true
	}
}
