package cluster

import (
	"fmt"
	"math"
	"os"

	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/ptr"

	"github.com/inference-sim/elastic-sim/sim"
	"github.com/inference-sim/elastic-sim/sim/autoscaler"
	"github.com/inference-sim/elastic-sim/sim/latency"
	"github.com/inference-sim/elastic-sim/sim/metrics"
	"github.com/inference-sim/elastic-sim/sim/scheduler"
	"github.com/inference-sim/elastic-sim/sim/trace"
	"github.com/inference-sim/elastic-sim/sim/workload"
)

// ClusterSimulator drives one run: it owns the event queue and the clock and
// wires the cluster, the global scheduler, the autoscaler and the metrics store
// together through the event handlers.
//
// Thread-safety: NOT thread-safe. Run executes on the calling goroutine.
type ClusterSimulator struct {
	config     DeploymentConfig
	requests   []*sim.Request
	cluster    *sim.Cluster
	scheduler  *scheduler.GlobalScheduler
	autoscaler *autoscaler.Autoscaler // nil when autoscaling is disabled
	metrics    *metrics.Store
	trace      *trace.SimulationTrace // nil when tracing is disabled
	queue      *EventQueue
	clock      float64
	numEvents  int
	hasRun     bool
}

// GenerateRequests builds the workload of config, seeded by config.Seed.
func GenerateRequests(config DeploymentConfig) ([]*sim.Request, error) {
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(config.Seed))
	reqs, err := workload.Generate(config.Workload, rng)
	if err != nil {
		return nil, fmt.Errorf("generating workload: %w", err)
	}
	return reqs, nil
}

// NewClusterSimulator validates config and builds a simulator that will replay requests.
// When an output directory is configured the initial topology is written to it.
func NewClusterSimulator(config DeploymentConfig, requests []*sim.Request) (*ClusterSimulator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid deployment config: %w", err)
	}
	predictor, err := latency.NewPredictor(config.Latency)
	if err != nil {
		return nil, err
	}

	c := sim.NewCluster(config.Cluster)
	replicas := make([]*sim.Replica, 0, c.NumReplicas())
	for _, id := range c.ReplicaIDs() {
		replicas = append(replicas, c.Replica(id))
	}
	gs := scheduler.NewGlobalScheduler(
		scheduler.NewRoutingPolicy(config.Scheduler.Policy),
		scheduler.NewFCFSFactory(config.Scheduler, predictor),
		replicas,
	)
	store := metrics.NewStore(config.Metrics)

	cs := &ClusterSimulator{
		config:    config,
		requests:  requests,
		cluster:   c,
		scheduler: gs,
		metrics:   store,
		trace:     trace.NewSimulationTrace(config.TraceLevel),
		queue:     NewEventQueue(),
	}
	if config.Autoscaler.Enabled {
		cs.autoscaler = autoscaler.New(config.Autoscaler, c, gs, store)
	}

	if dir := config.Metrics.OutputDir; dir != "" {
		if err := ensureDir(dir); err != nil {
			return nil, err
		}
		if err := c.WriteTopology(dir); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

// Run executes the event loop until no work is left or the time limit passes,
// then writes the result files. Panics if called more than once.
func (cs *ClusterSimulator) Run() error {
	if cs.hasRun {
		panic("ClusterSimulator.Run() called more than once")
	}
	cs.hasRun = true

	for _, req := range cs.requests {
		cs.queue.Push(NewRequestArrivalEvent(req.ArrivedAt, req))
	}
	cs.recordClusterShape(0)
	if cs.autoscaler != nil {
		cs.queue.Push(NewAutoscaleTuneEvent(0))
	}

	limit := ptr.Deref(cs.config.TimeLimit, math.Inf(1))
	for {
		e, ok := cs.queue.PopNext()
		if !ok {
			break
		}
		if e.Time < cs.clock {
			panic(fmt.Sprintf("ClusterSimulator: clock regression from %f to %f on %s", cs.clock, e.Time, e))
		}
		if e.Time > limit {
			logrus.Infof("Time limit %.3fs reached with %d events pending", limit, cs.queue.Len()+1)
			break
		}
		cs.clock = e.Time
		cs.numEvents++
		logrus.Debugf("[t=%.6f] executing %s", cs.clock, e)

		for _, next := range cs.handle(e) {
			if next.Time < e.Time {
				panic(fmt.Sprintf("ClusterSimulator: %s scheduled before the event that produced it (%s)", next, e))
			}
			cs.queue.Push(next)
		}

		if cs.scheduler.IsEmpty() && !cs.queue.hasWork() {
			break
		}
	}

	logrus.Infof("Simulation ended at t=%.3fs after %d events", cs.clock, cs.numEvents)
	if err := cs.metrics.WriteResults(cs.clock); err != nil {
		return fmt.Errorf("writing results: %w", err)
	}
	return nil
}

// handle dispatches one event and returns its follow-ups.
func (cs *ClusterSimulator) handle(e Event) []Event {
	switch e.Type {
	case EventRequestArrival:
		return cs.handleRequestArrival(e)
	case EventGlobalSchedule:
		return cs.handleGlobalSchedule(e)
	case EventReplicaSchedule:
		return cs.handleReplicaSchedule(e)
	case EventBatchEnd:
		return cs.handleBatchEnd(e)
	case EventAutoscaleTune:
		return cs.handleAutoscaleTune(e)
	case EventReplicaScaleUp:
		return cs.handleReplicaScaleUp(e)
	case EventReplicaScaleDown:
		return cs.handleReplicaScaleDown(e)
	default:
		panic(fmt.Sprintf("ClusterSimulator: unknown event type %s", e.Type))
	}
}

func (cs *ClusterSimulator) handleRequestArrival(e Event) []Event {
	cs.scheduler.AddRequest(e.Request)
	if cs.autoscaler != nil {
		cs.autoscaler.OnRequestArrival(e.Request)
	}
	cs.metrics.OnRequestArrival(e.Time, e.Request)
	return []Event{NewGlobalScheduleEvent(e.Time)}
}

func (cs *ClusterSimulator) handleGlobalSchedule(e Event) []Event {
	assignments := cs.scheduler.Schedule()
	if len(assignments) == 0 {
		if n := cs.scheduler.NumPendingRequests(); n > 0 {
			logrus.Warnf("[t=%.6f] %d requests waiting with no schedulable replica", e.Time, n)
		}
		return nil
	}
	touched := sets.New[int]()
	policy := cs.scheduler.Policy().Name()
	for _, a := range assignments {
		rs := cs.scheduler.ReplicaScheduler(a.ReplicaID)
		cs.trace.RecordRouting(trace.RoutingRecord{
			RequestID: a.Request.ID,
			Time:      e.Time,
			ReplicaID: a.ReplicaID,
			Policy:    policy,
			Load:      rs.NumPendingRequests(),
		})
		rs.AddRequest(a.Request)
		touched.Insert(a.ReplicaID)
	}
	events := make([]Event, 0, touched.Len())
	for _, id := range sets.List(touched) {
		events = append(events, NewReplicaScheduleEvent(e.Time, id))
	}
	return events
}

func (cs *ClusterSimulator) handleReplicaSchedule(e Event) []Event {
	if !cs.scheduler.HasReplica(e.ReplicaID) {
		logrus.Warnf("[t=%.6f] replica %d was freed before it could schedule", e.Time, e.ReplicaID)
		return nil
	}
	batch := cs.scheduler.ReplicaScheduler(e.ReplicaID).NextBatch(e.Time)
	if batch == nil {
		return nil
	}
	return []Event{NewBatchEndEvent(e.Time+batch.PredictedTime, e.ReplicaID, batch)}
}

func (cs *ClusterSimulator) handleBatchEnd(e Event) []Event {
	e.Batch.OnBatchEnd(e.Time)
	rs := cs.scheduler.ReplicaScheduler(e.ReplicaID)
	// occupancy of the finished batch, read before the replica releases it
	mem := rs.MemoryUsagePercent()
	rs.OnBatchEnd(e.Batch)
	cs.metrics.OnBatchEnd(e.Time, e.Batch, e.ReplicaID, mem)
	if cs.autoscaler != nil {
		cs.autoscaler.OnBatchEnd(e.Batch)
	}

	if !rs.IsEmpty() {
		return []Event{NewReplicaScheduleEvent(e.Time, e.ReplicaID)}
	}
	if cs.scheduler.IsMarkedToFree(e.ReplicaID) {
		cs.autoscaler.FreeReplicaWithID(e.ReplicaID)
		logrus.Infof("[t=%.6f] freed drained replica %d, %d replicas left", e.Time, e.ReplicaID, cs.cluster.NumReplicas())
		cs.recordReplica(e.Time, e.ReplicaID, trace.ReplicaFreed)
		cs.recordClusterShape(e.Time)
	}
	return nil
}

func (cs *ClusterSimulator) handleAutoscaleTune(e Event) []Event {
	cfg := cs.autoscaler.Config()
	delta := cs.autoscaler.Tune(e.Time)
	d := cs.autoscaler.LastDecision()
	cs.trace.RecordScaling(trace.ScalingRecord{
		Time:              d.Time,
		Delta:             d.Delta,
		NumReplicas:       cs.cluster.NumReplicas(),
		EffectiveReplicas: d.EffectiveReplicas,
		Throughput:        d.Throughput,
		RateUp:            d.RateUp,
		TargetUp:          d.TargetUp,
		RateDown:          d.RateDown,
		TargetDown:        d.TargetDown,
		Reason:            d.Reason,
	})

	events := []Event{NewAutoscaleTuneEvent(e.Time + cfg.TuneInterval)}
	if delta != 0 {
		logrus.Infof("[t=%.6f] autoscaler decided %+d replicas (%s, effective %d)", e.Time, delta, d.Reason, d.EffectiveReplicas)
	}
	for i := 0; i < delta; i++ {
		events = append(events, NewReplicaScaleUpEvent(e.Time+cfg.ScaleUpDelay))
	}
	for i := 0; i < -delta; i++ {
		events = append(events, NewReplicaScaleDownEvent(e.Time+cfg.ScaleDownDelay))
	}
	return events
}

func (cs *ClusterSimulator) handleReplicaScaleUp(e Event) []Event {
	r := cs.autoscaler.AddReplica()
	logrus.Infof("[t=%.6f] added replica %d, %d replicas live", e.Time, r.ID, cs.cluster.NumReplicas())
	cs.recordReplica(e.Time, r.ID, trace.ReplicaAdded)
	cs.recordClusterShape(e.Time)
	if cs.scheduler.NumPendingRequests() > 0 {
		return []Event{NewGlobalScheduleEvent(e.Time)}
	}
	return nil
}

func (cs *ClusterSimulator) handleReplicaScaleDown(e Event) []Event {
	id, freed, marked := cs.autoscaler.FreeReplica()
	switch {
	case freed:
		logrus.Infof("[t=%.6f] freed idle replica %d, %d replicas left", e.Time, id, cs.cluster.NumReplicas())
		cs.recordReplica(e.Time, id, trace.ReplicaFreed)
		cs.recordClusterShape(e.Time)
	case marked:
		logrus.Infof("[t=%.6f] marked replica %d to drain", e.Time, id)
		cs.recordReplica(e.Time, id, trace.ReplicaMarked)
	default:
		logrus.Warnf("[t=%.6f] scale-down found no replica to free; reservation released", e.Time)
		cs.recordReplica(e.Time, -1, trace.ReplicaSkipped)
	}
	return nil
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	return nil
}

// recordClusterShape reports the replica count and cost after a topology change.
func (cs *ClusterSimulator) recordClusterShape(now float64) {
	cs.metrics.OnAutoscalingEvent(now, cs.cluster.NumReplicas(), cs.cluster.CostPerHour())
}

func (cs *ClusterSimulator) recordReplica(now float64, id int, action trace.ReplicaAction) {
	cs.trace.RecordReplica(trace.ReplicaRecord{
		Time:        now,
		ReplicaID:   id,
		Action:      action,
		NumReplicas: cs.cluster.NumReplicas(),
	})
}

// Clock returns the time of the last executed event.
func (cs *ClusterSimulator) Clock() float64 { return cs.clock }

// NumEvents returns the number of events executed so far.
func (cs *ClusterSimulator) NumEvents() int { return cs.numEvents }

func (cs *ClusterSimulator) Requests() []*sim.Request { return cs.requests }

func (cs *ClusterSimulator) Cluster() *sim.Cluster { return cs.cluster }

func (cs *ClusterSimulator) Scheduler() *scheduler.GlobalScheduler { return cs.scheduler }

// Autoscaler returns nil when autoscaling is disabled.
func (cs *ClusterSimulator) Autoscaler() *autoscaler.Autoscaler { return cs.autoscaler }

func (cs *ClusterSimulator) Metrics() *metrics.Store { return cs.metrics }

// Trace returns nil when tracing is disabled.
func (cs *ClusterSimulator) Trace() *trace.SimulationTrace { return cs.trace }
