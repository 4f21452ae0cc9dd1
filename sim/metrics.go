package sim

// MetricsSink records per-request, per-batch, per-autoscaling-event and
// per-replica-lifecycle facts for later analysis. Calls are fire-and-forget:
// the event loop never reads anything back through this interface.
type MetricsSink interface {
	OnRequestArrival(now float64, req *Request)
	OnBatchEnd(now float64, batch *Batch, replicaID int, memoryUsagePercent float64)
	OnAutoscalingEvent(now float64, numReplicas int, costPerHour float64)
	AddReplica(replicaID int)
}

// NopMetricsSink discards everything. Useful in tests that only check control flow.
type NopMetricsSink struct{}

func (NopMetricsSink) OnRequestArrival(float64, *Request) {}
func (NopMetricsSink) OnBatchEnd(float64, *Batch, int, float64) {}
func (NopMetricsSink) OnAutoscalingEvent(float64, int, float64) {}
func (NopMetricsSink) AddReplica(int) {}
