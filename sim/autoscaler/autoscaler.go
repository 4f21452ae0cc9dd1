// Package autoscaler decides how many replicas the cluster should add or remove.
//
// Each tuning pass compares the peak token arrival rate (NetworkEnvelope) with
// the per-replica token throughput (an EMA over finished batches) and reserves
// the resulting scale operations in a ScaleLedger. The event loop realizes them
// later through AddReplica, FreeReplica and FreeReplicaWithID.
package autoscaler

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/inference-sim/elastic-sim/sim"
	"github.com/inference-sim/elastic-sim/sim/scheduler"
)

// Reasons recorded on a Decision.
const (
	ReasonScaleUp     = "scale_up"
	ReasonStabilizing = "stabilizing"
	ReasonScaleDown   = "scale_down"
	ReasonMinReplicas = "min_replicas"
	ReasonSteady      = "steady"
)

// Decision records the inputs and outcome of one Tune call.
type Decision struct {
	Time              float64
	Delta             int
	EffectiveReplicas int
	Throughput        float64
	RateUp            float64
	TargetUp          int
	RateDown          float64 // zero unless the scale-down path ran
	TargetDown        int
	Reason            string
}

// Autoscaler owns the arrival-rate envelope, the throughput estimate and the scale ledger,
// and realizes scale operations against the cluster and the global scheduler.
//
// Thread-safety: NOT thread-safe. All methods must be called from the event loop.
type Autoscaler struct {
	config  Config
	params  Params
	cluster *sim.Cluster
	sched   *scheduler.GlobalScheduler
	metrics sim.MetricsSink

	envelope    *NetworkEnvelope
	throughput  float64
	lastScaleUp float64
	ledger      ScaleLedger
	last        Decision
}

// New creates an autoscaler over cluster and sched. Panics if either is nil.
// A nil metrics sink discards replica registrations.
func New(config Config, cluster *sim.Cluster, sched *scheduler.GlobalScheduler, metrics sim.MetricsSink) *Autoscaler {
	if cluster == nil || sched == nil {
		panic("autoscaler.New: cluster and scheduler must not be nil")
	}
	if metrics == nil {
		metrics = sim.NopMetricsSink{}
	}
	params := ResolveParams(config)
	return &Autoscaler{
		config:      config,
		params:      params,
		cluster:     cluster,
		sched:       sched,
		metrics:     metrics,
		envelope:    NewNetworkEnvelope(max(params.LookBackUp, params.LookBackDown)),
		throughput:  config.InitialReplicaTokenThroughput,
		lastScaleUp: math.Inf(-1),
	}
}

// Config returns the configuration the autoscaler was built with.
func (a *Autoscaler) Config() Config { return a.config }

// Params returns the resolved tuning parameters.
func (a *Autoscaler) Params() Params { return a.params }

// Ledger exposes the pending scale operations.
func (a *Autoscaler) Ledger() *ScaleLedger { return &a.ledger }

// Envelope exposes the arrival-rate estimator.
func (a *Autoscaler) Envelope() *NetworkEnvelope { return a.envelope }

// Throughput returns the current per-replica token throughput estimate.
func (a *Autoscaler) Throughput() float64 { return a.throughput }

// LastDecision returns the outcome of the latest Tune call.
func (a *Autoscaler) LastDecision() Decision { return a.last }

func (a *Autoscaler) NumReplicas() int { return a.cluster.NumReplicas() }

func (a *Autoscaler) CostPerHour() float64 { return a.cluster.CostPerHour() }

// OnRequestArrival records the arrival in the envelope.
func (a *Autoscaler) OnRequestArrival(req *sim.Request) {
	a.envelope.OnRequestArrival(req)
}

// OnBatchEnd folds the batch's token throughput into the EMA estimate.
// Batches with a non-positive duration are skipped.
func (a *Autoscaler) OnBatchEnd(batch *sim.Batch) {
	duration := batch.CompletedAt - batch.ScheduledAt
	if duration <= 0 {
		return
	}
	current := float64(batch.TotalNumTokens) / duration
	alpha := a.params.ThroughputAlpha
	a.throughput = alpha*current + (1-alpha)*a.throughput
}

// Tune returns the signed number of replicas to add (positive) or remove (negative).
// Any non-zero result is already reserved in the ledger; the caller only schedules
// the delayed scale events.
//
// Scale-up is checked first. Scale-down is suppressed until the stabilization delay
// has passed since the last scale-up, and never takes the effective replica count
// below MinReplicas.
func (a *Autoscaler) Tune(now float64) int {
	p := a.params
	effective := a.ledger.EffectiveReplicas(a.cluster.NumReplicas())
	d := Decision{
		Time:              now,
		EffectiveReplicas: effective,
		Throughput:        a.throughput,
	}

	d.RateUp = a.envelope.MaxRequestRate(now, p.WindowUp, p.LookBackUp)
	d.TargetUp = a.targetReplicas(d.RateUp, p.ScaleUpUtilization)
	if surplus := d.TargetUp - effective; surplus > 0 {
		a.lastScaleUp = now
		a.ledger.ReserveUp(surplus)
		d.Delta = surplus
		d.Reason = ReasonScaleUp
		return a.record(d)
	}

	if now-a.lastScaleUp < p.Stabilization {
		d.Reason = ReasonStabilizing
		return a.record(d)
	}

	d.RateDown = a.envelope.MaxRequestRate(now, p.WindowDown, p.LookBackDown)
	d.TargetDown = a.targetReplicas(d.RateDown, p.ScaleDownUtilization)
	shrink := effective - d.TargetDown
	if shrink <= 0 {
		d.Reason = ReasonSteady
		return a.record(d)
	}
	if effective-shrink < p.MinReplicas {
		shrink = effective - p.MinReplicas
		if shrink <= 0 {
			d.Reason = ReasonMinReplicas
			return a.record(d)
		}
	}
	a.ledger.ReserveDown(shrink)
	d.Delta = -shrink
	d.Reason = ReasonScaleDown
	return a.record(d)
}

// targetReplicas converts a token rate into a replica count at the given utilization.
func (a *Autoscaler) targetReplicas(rate, utilization float64) int {
	if a.throughput <= 0 {
		return 0
	}
	return int(math.Ceil(rate / a.throughput / utilization))
}

func (a *Autoscaler) record(d Decision) int {
	a.last = d
	logrus.Debugf("[autoscaler] t=%.3f effective=%d throughput=%.2f rate_up=%.2f target_up=%d rate_down=%.2f target_down=%d -> %+d (%s)",
		d.Time, d.EffectiveReplicas, d.Throughput, d.RateUp, d.TargetUp, d.RateDown, d.TargetDown, d.Delta, d.Reason)
	return d.Delta
}

// AddReplica realizes one reserved scale-up: the cluster allocates the replica,
// the global scheduler registers it and the metrics sink learns its ID.
func (a *Autoscaler) AddReplica() *sim.Replica {
	r := a.cluster.AddReplica()
	a.sched.AddReplica(r)
	a.metrics.AddReplica(r.ID)
	a.ledger.RealizeUp()
	return r
}

// FreeReplicaWithID realizes one reserved scale-down by removing the replica from
// the cluster and the global scheduler in the same step. A replica that was never
// marked moves through PendingFree on its way to Freed.
// Panics if the replica still has queued or in-flight work.
func (a *Autoscaler) FreeReplicaWithID(id int) {
	rs := a.sched.ReplicaScheduler(id)
	if !rs.IsEmpty() {
		panic(fmt.Sprintf("Autoscaler: cannot free replica %d with %d pending requests", id, rs.NumPendingRequests()))
	}
	if r := a.cluster.Replica(id); r != nil && r.State == sim.ReplicaActive {
		a.cluster.MarkPendingFree(id)
	}
	a.cluster.FreeReplicaWithID(id)
	a.sched.FreeReplicaWithID(id)
	a.ledger.RealizeDown()
}

// FreeReplica serves one reserved scale-down.
// An empty replica not already draining is freed at once (freed = true).
// Otherwise one replica is marked to drain (marked = true) and is freed when its last batch ends.
// When no replica is eligible the reservation is released so the next tuning pass re-evaluates.
func (a *Autoscaler) FreeReplica() (id int, freed bool, marked bool) {
	for _, rid := range a.sched.ReplicaIDs() {
		if a.sched.ReplicaScheduler(rid).IsEmpty() && !a.sched.IsMarkedToFree(rid) {
			a.FreeReplicaWithID(rid)
			return rid, true, false
		}
	}
	rid, ok := a.sched.MarkReplicaToFree()
	if !ok {
		a.ledger.ReleaseDown()
		return 0, false, false
	}
	a.cluster.MarkPendingFree(rid)
	return rid, false, true
}
