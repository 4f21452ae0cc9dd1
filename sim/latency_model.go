package sim

// ExecutionTimePredictor estimates how long a batch takes to execute on a replica.
// It is a black box to the event loop: only the replica scheduler's caller consumes
// its result, as the completion timestamp of a BatchEnd event.
// All durations are in seconds.
type ExecutionTimePredictor interface {
	// PredictBatchTime returns the execution time of batch on a replica configured as cfg.
	// Must return a value >= 0.
	PredictBatchTime(cfg ReplicaConfig, batch *Batch) float64
}
