package autoscaler

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"k8s.io/utils/ptr"

	"github.com/inference-sim/elastic-sim/sim"
	"github.com/inference-sim/elastic-sim/sim/scheduler"
)

type fixedPredictor float64

func (p fixedPredictor) PredictBatchTime(sim.ReplicaConfig, *sim.Batch) float64 {
	return float64(p)
}

// recordingSink remembers the replica IDs it was told about.
type recordingSink struct {
	sim.NopMetricsSink
	added []int
}

func (s *recordingSink) AddReplica(id int) { s.added = append(s.added, id) }

func newTestAutoscaler(t *testing.T, cfg Config, numReplicas int) (*Autoscaler, *sim.Cluster, *scheduler.GlobalScheduler) {
	t.Helper()
	cluster := sim.NewCluster(sim.ClusterConfig{
		NumReplicas: numReplicas,
		Replica: sim.ReplicaConfig{
			TensorParallelSize: 1,
			NumPipelineStages:  1,
			Node:               sim.NodeConfig{NumDevicesPerNode: 1, CostPerHour: 2},
		},
	})
	replicas := make([]*sim.Replica, 0, numReplicas)
	for _, id := range cluster.ReplicaIDs() {
		replicas = append(replicas, cluster.Replica(id))
	}
	gs := scheduler.NewGlobalScheduler(
		scheduler.NewRoutingPolicy(scheduler.PolicyRoundRobin),
		scheduler.NewFCFSFactory(scheduler.Config{}, fixedPredictor(1)),
		replicas,
	)
	return New(cfg, cluster, gs, &recordingSink{}), cluster, gs
}

func burstConfig() Config {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.InitialReplicaTokenThroughput = 10
	cfg.MinWindowSizeScaleUp = 10
	cfg.LookBackTimeScaleUp = 20
	cfg.MinWindowSizeScaleDown = 10
	cfg.LookBackTimeScaleDown = 20
	cfg.StabilizationDelay = 30
	cfg.MinReplicas = 1
	return cfg
}

// arriveBurst records 10 tokens every 0.1s in [from, to): 100 tokens/s.
func arriveBurst(a *Autoscaler, from, to int) {
	for i := from * 10; i < to*10; i++ {
		a.OnRequestArrival(sim.NewRequest(int64(i), float64(i)/10, 10, 0))
	}
}

// TestTune_BurstScalesUp:
// GIVEN one replica, throughput fixed at 10 tokens/s and scale-up utilization 1.0
// WHEN 100 tokens/s arrive for the whole scale-up window
// THEN Tune returns at least ceil(100/10)-1 = 9 and reserves it.
func TestTune_BurstScalesUp(t *testing.T) {
	a, _, _ := newTestAutoscaler(t, burstConfig(), 1)
	arriveBurst(a, 10, 20)

	delta := a.Tune(20)

	assert.GreaterOrEqual(t, delta, 9)
	assert.Equal(t, delta, a.Ledger().PendingUp())
	assert.Equal(t, ReasonScaleUp, a.LastDecision().Reason)
	assert.Equal(t, 10, a.LastDecision().TargetUp)

	// capacity already in flight is not requested twice
	assert.Equal(t, 0, a.Tune(20))
	assert.Equal(t, delta, a.Ledger().PendingUp())
}

// TestTune_AntiFlap:
// GIVEN a scale-up at t=20
// WHEN load vanishes and Tune runs before the stabilization delay has passed
// THEN no scale-down is decided; once the delay passes it is.
func TestTune_AntiFlap(t *testing.T) {
	a, _, _ := newTestAutoscaler(t, burstConfig(), 1)
	arriveBurst(a, 10, 20)
	require.Positive(t, a.Tune(20))
	for a.Ledger().PendingUp() > 0 {
		a.AddReplica()
	}

	for _, now := range []float64{25, 40, 49.9} {
		assert.Equal(t, 0, a.Tune(now), "t=%v", now)
		assert.Equal(t, ReasonStabilizing, a.LastDecision().Reason)
	}

	delta := a.Tune(50)
	assert.Negative(t, delta)
	assert.Equal(t, ReasonScaleDown, a.LastDecision().Reason)
	assert.Equal(t, 1, a.Ledger().EffectiveReplicas(a.NumReplicas()), "shrink stops at min_replicas")
}

func TestTune_ClampsAtMinReplicas(t *testing.T) {
	cfg := burstConfig()
	cfg.MinReplicas = 3
	a, _, _ := newTestAutoscaler(t, cfg, 3)

	assert.Equal(t, 0, a.Tune(100))
	assert.Equal(t, ReasonMinReplicas, a.LastDecision().Reason)
	assert.Equal(t, 0, a.Ledger().PendingDown())
}

func TestTune_ZeroThroughputTargetsZero(t *testing.T) {
	cfg := burstConfig()
	cfg.InitialReplicaTokenThroughput = 0
	cfg.MinReplicas = 0
	a, _, _ := newTestAutoscaler(t, cfg, 2)
	arriveBurst(a, 0, 10)

	assert.Equal(t, -2, a.Tune(10))
	assert.Equal(t, 0, a.LastDecision().TargetUp)
}

// TestTune_NeverBelowMinReplicas drives random arrivals, tuning passes and scale
// realizations and checks the effective replica floor after every step.
func TestTune_NeverBelowMinReplicas(t *testing.T) {
	for _, policy := range []Config{burstConfig(), serviceLevel(burstConfig(), LevelLowCost), serviceLevel(burstConfig(), LevelLowLatency)} {
		policy.MinReplicas = 2
		a, _, _ := newTestAutoscaler(t, policy, 2)
		rng := rand.New(rand.NewSource(7))
		now := 0.0
		for step := 0; step < 500; step++ {
			now += rng.Float64() * 5
			for i := rng.Intn(30); i > 0; i-- {
				a.OnRequestArrival(sim.NewRequest(int64(step), now, rng.Intn(50), 0))
			}
			a.Tune(now)
			if rng.Intn(2) == 0 && a.Ledger().PendingUp() > 0 {
				a.AddReplica()
			}
			if rng.Intn(2) == 0 && a.Ledger().PendingDown() > 0 {
				a.FreeReplica()
			}
			require.GreaterOrEqual(t, a.Ledger().EffectiveReplicas(a.NumReplicas()), 2, "step %d", step)
			require.GreaterOrEqual(t, a.Ledger().PendingUp(), 0)
			require.GreaterOrEqual(t, a.Ledger().PendingDown(), 0)
		}
	}
}

func serviceLevel(cfg Config, level int) Config {
	cfg.Policy = PolicyServiceLevel
	cfg.ServiceLevel = ptr.To(level)
	return cfg
}

func TestOnBatchEnd_UpdatesEMA(t *testing.T) {
	cfg := burstConfig()
	cfg.ThroughputAlpha = ptr.To(0.25)
	a, _, _ := newTestAutoscaler(t, cfg, 1)

	b := sim.NewBatch(0, 0, []*sim.Request{sim.NewRequest(1, 0, 100, 0)}, 0)
	b.OnBatchEnd(2) // 50 tokens/s
	a.OnBatchEnd(b)
	assert.InDelta(t, 0.25*50+0.75*10, a.Throughput(), 1e-9)

	zero := sim.NewBatch(1, 0, []*sim.Request{sim.NewRequest(2, 5, 100, 0)}, 5)
	zero.OnBatchEnd(5)
	before := a.Throughput()
	a.OnBatchEnd(zero)
	assert.Equal(t, before, a.Throughput(), "zero-duration batch must be skipped")
}

// TestAddThenFree_RoundTrip:
// GIVEN a cluster and global scheduler
// WHEN a replica is added and freed again with no request routed to it
// THEN both replica ID sets are unchanged and the ledger is settled.
func TestAddThenFree_RoundTrip(t *testing.T) {
	a, cluster, gs := newTestAutoscaler(t, burstConfig(), 2)
	clusterBefore := cluster.ReplicaIDs()
	schedBefore := gs.ReplicaIDs()

	a.Ledger().ReserveUp(1)
	r := a.AddReplica()
	require.True(t, gs.HasReplica(r.ID))
	a.Ledger().ReserveDown(1)
	a.FreeReplicaWithID(r.ID)

	if diff := cmp.Diff(clusterBefore, cluster.ReplicaIDs()); diff != "" {
		t.Errorf("cluster replica ids changed (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(schedBefore, gs.ReplicaIDs()); diff != "" {
		t.Errorf("scheduler replica ids changed (-before +after):\n%s", diff)
	}
	assert.Equal(t, 0, a.Ledger().PendingUp())
	assert.Equal(t, 0, a.Ledger().PendingDown())
	assert.Equal(t, sim.ReplicaFreed, r.State)
	assert.Equal(t, []int{r.ID}, a.metrics.(*recordingSink).added)
}

func TestFreeReplica_PrefersEmptyReplica(t *testing.T) {
	a, cluster, gs := newTestAutoscaler(t, burstConfig(), 2)
	gs.ReplicaScheduler(0).AddRequest(sim.NewRequest(1, 0, 1, 1))

	idle := cluster.Replica(1)
	a.Ledger().ReserveDown(1)
	id, freed, marked := a.FreeReplica()

	assert.Equal(t, 1, id)
	assert.True(t, freed)
	assert.Equal(t, sim.ReplicaFreed, idle.State)
	assert.False(t, marked)
	assert.Equal(t, []int{0}, cluster.ReplicaIDs())
	assert.Equal(t, 0, a.Ledger().PendingDown())
}

func TestFreeReplica_MarksBusyReplica(t *testing.T) {
	a, cluster, gs := newTestAutoscaler(t, burstConfig(), 2)
	gs.ReplicaScheduler(0).AddRequest(sim.NewRequest(1, 0, 1, 1))
	gs.ReplicaScheduler(1).AddRequest(sim.NewRequest(2, 0, 1, 1))

	a.Ledger().ReserveDown(2)
	id, freed, marked := a.FreeReplica()
	assert.Equal(t, 0, id)
	assert.False(t, freed)
	assert.True(t, marked)
	assert.True(t, gs.IsMarkedToFree(0))
	assert.Equal(t, sim.ReplicaPendingFree, cluster.Replica(0).State)
	assert.Equal(t, 2, a.Ledger().PendingDown(), "a marked replica stays pending until freed")

	_, _, marked = a.FreeReplica()
	require.True(t, marked)

	// nothing left to mark: the reservation is released
	_, freed, marked = a.FreeReplica()
	assert.False(t, freed)
	assert.False(t, marked)
	assert.Equal(t, 1, a.Ledger().PendingDown())
}

func TestFreeReplicaWithID_PanicsOnBusyReplica(t *testing.T) {
	a, _, gs := newTestAutoscaler(t, burstConfig(), 1)
	gs.ReplicaScheduler(0).AddRequest(sim.NewRequest(1, 0, 1, 1))
	a.Ledger().ReserveDown(1)

	assert.Panics(t, func() { a.FreeReplicaWithID(0) })
}

func TestLedger_PanicsOnUnderflow(t *testing.T) {
	var l ScaleLedger
	assert.Panics(t, func() { l.RealizeUp() })
	assert.Panics(t, func() { l.RealizeDown() })
	assert.Panics(t, func() { l.ReleaseDown() })
	assert.Panics(t, func() { l.ReserveUp(0) })
	assert.Panics(t, func() { l.ReserveDown(-1) })

	l.ReserveUp(2)
	l.ReserveDown(1)
	assert.Equal(t, 4, l.EffectiveReplicas(3))
}

func TestResolveParams_ServiceLevels(t *testing.T) {
	base := DefaultConfig()

	inferline := ResolveParams(base)
	assert.Equal(t, 1.0, inferline.ScaleUpUtilization)
	assert.Equal(t, base.MinWindowSizeScaleUp, inferline.WindowUp)
	assert.Equal(t, defaultThroughputAlpha, inferline.ThroughputAlpha)

	balanced := ResolveParams(serviceLevel(base, LevelBalanced))
	assert.Equal(t, inferline, balanced)

	lowCost := ResolveParams(serviceLevel(base, LevelLowCost))
	assert.Equal(t, 1.15, lowCost.ScaleUpUtilization)
	assert.Equal(t, 1.1, lowCost.ScaleDownUtilization)
	assert.Equal(t, base.MinWindowSizeScaleUp*1.5, lowCost.WindowUp)
	assert.Equal(t, base.LookBackTimeScaleUp, lowCost.LookBackUp)
	assert.Equal(t, base.MinWindowSizeScaleDown/2, lowCost.WindowDown)
	assert.Equal(t, base.LookBackTimeScaleDown/2, lowCost.LookBackDown)
	assert.Equal(t, base.StabilizationDelay/2, lowCost.Stabilization)

	lowLatency := ResolveParams(serviceLevel(base, LevelLowLatency))
	assert.Equal(t, 0.70, lowLatency.ScaleUpUtilization)
	assert.Equal(t, 0.60, lowLatency.ScaleDownUtilization)
	assert.Equal(t, base.MinWindowSizeScaleUp/2, lowLatency.WindowUp)
	assert.Equal(t, base.MinWindowSizeScaleDown*1.5, lowLatency.WindowDown)
	assert.Equal(t, base.LookBackTimeScaleDown*1.5, lowLatency.LookBackDown)
	assert.Equal(t, base.StabilizationDelay*1.5, lowLatency.Stabilization)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Enabled = true
	bad.Policy = "knative"
	bad.ServiceLevel = ptr.To(4)
	bad.TuneInterval = 0
	bad.ThroughputAlpha = ptr.To(1.5)
	bad.ScaleUpDelay = -1
	err := bad.Validate()
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 5)
}
