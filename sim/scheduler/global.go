// Package scheduler routes pending requests to replicas and manages the
// replica side of scale-down: marking a replica to drain and removing it once empty.
package scheduler

import (
	"fmt"
	"sort"

	"go.uber.org/multierr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/inference-sim/elastic-sim/sim"
)

// Config holds global and per-replica scheduling parameters.
type Config struct {
	Policy            string `yaml:"policy"`               // "round_robin" (default) or "lor"
	MaxBatchSize      int    `yaml:"max_batch_size"`       // 0 = unlimited
	MaxTokensPerBatch int    `yaml:"max_tokens_per_batch"` // 0 = unlimited
}

// DefaultConfig returns round-robin routing with batches of up to 32 requests.
func DefaultConfig() Config {
	return Config{
		Policy:            PolicyRoundRobin,
		MaxBatchSize:      32,
		MaxTokensPerBatch: 8192,
	}
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var err error
	if !IsValidRoutingPolicy(c.Policy) {
		err = multierr.Append(err, fmt.Errorf("unknown scheduler policy %q; valid options: %s, %s", c.Policy, PolicyRoundRobin, PolicyLOR))
	}
	if c.MaxBatchSize < 0 {
		err = multierr.Append(err, fmt.Errorf("max_batch_size must be >= 0, got %d", c.MaxBatchSize))
	}
	if c.MaxTokensPerBatch < 0 {
		err = multierr.Append(err, fmt.Errorf("max_tokens_per_batch must be >= 0, got %d", c.MaxTokensPerBatch))
	}
	return err
}

// ReplicaSchedulerFactory builds the per-replica scheduler for a newly registered replica.
type ReplicaSchedulerFactory func(replica *sim.Replica) sim.ReplicaScheduler

// GlobalScheduler owns the pending request queue and one ReplicaScheduler per live replica.
// Replicas are referenced by ID only; the sim.Cluster owns replica data.
//
// Thread-safety: NOT thread-safe. All methods must be called from the event loop.
type GlobalScheduler struct {
	queue               []*sim.Request
	replicaSchedulers   map[int]sim.ReplicaScheduler
	markedToFree        sets.Set[int]
	policy              RoutingPolicy
	newReplicaScheduler ReplicaSchedulerFactory
}

// NewGlobalScheduler creates a scheduler with one replica scheduler per replica in replicas.
// Panics if policy or factory is nil.
func NewGlobalScheduler(policy RoutingPolicy, factory ReplicaSchedulerFactory, replicas []*sim.Replica) *GlobalScheduler {
	if policy == nil {
		panic("NewGlobalScheduler: policy must not be nil")
	}
	if factory == nil {
		panic("NewGlobalScheduler: factory must not be nil")
	}
	gs := &GlobalScheduler{
		replicaSchedulers:   make(map[int]sim.ReplicaScheduler, len(replicas)),
		markedToFree:        sets.New[int](),
		policy:              policy,
		newReplicaScheduler: factory,
	}
	for _, r := range replicas {
		gs.AddReplica(r)
	}
	return gs
}

// Policy returns the routing policy.
func (gs *GlobalScheduler) Policy() RoutingPolicy {
	return gs.policy
}

// AddRequest appends a request to the pending queue.
func (gs *GlobalScheduler) AddRequest(req *sim.Request) {
	gs.queue = append(gs.queue, req)
}

// SortRequests orders the pending queue by arrival time, keeping insertion order among equal times.
func (gs *GlobalScheduler) SortRequests() {
	sort.SliceStable(gs.queue, func(i, j int) bool {
		return gs.queue[i].ArrivedAt < gs.queue[j].ArrivedAt
	})
}

// Schedule drains the pending queue and returns one assignment per request.
// Only replicas not marked for removal receive requests. With no schedulable
// replica it returns nil and leaves the queue untouched.
// The caller hands each assignment to ReplicaScheduler(a.ReplicaID).
func (gs *GlobalScheduler) Schedule() []Assignment {
	if len(gs.queue) == 0 {
		return nil
	}
	state := gs.routerState()
	if len(state.Replicas) == 0 {
		return nil
	}
	gs.SortRequests()
	assignments := gs.policy.Route(gs.queue, state)
	gs.queue = nil
	return assignments
}

// MarkReplicaToFree selects one schedulable replica to stop receiving requests
// and adds it to the removal set. Returns false when no replica is eligible.
func (gs *GlobalScheduler) MarkReplicaToFree() (int, bool) {
	id, ok := gs.policy.SelectReplicaToFree(gs.routerState())
	if !ok {
		return 0, false
	}
	gs.markedToFree.Insert(id)
	return id, true
}

// IsMarkedToFree reports whether the replica is draining toward removal.
func (gs *GlobalScheduler) IsMarkedToFree(id int) bool {
	return gs.markedToFree.Has(id)
}

// MarkedToFree returns the IDs in the removal set, ascending.
func (gs *GlobalScheduler) MarkedToFree() []int {
	return sets.List(gs.markedToFree)
}

// AddReplica registers a new replica and creates its replica scheduler.
// Panics if the ID is already registered.
func (gs *GlobalScheduler) AddReplica(replica *sim.Replica) {
	if _, ok := gs.replicaSchedulers[replica.ID]; ok {
		panic(fmt.Sprintf("GlobalScheduler: replica %d already registered", replica.ID))
	}
	gs.replicaSchedulers[replica.ID] = gs.newReplicaScheduler(replica)
}

// FreeReplicaWithID removes the replica from the removal set and the scheduler map.
// Panics if the replica is unknown or still has queued or in-flight work.
func (gs *GlobalScheduler) FreeReplicaWithID(id int) {
	rs := gs.ReplicaScheduler(id)
	if !rs.IsEmpty() {
		panic(fmt.Sprintf("GlobalScheduler: cannot free replica %d with %d pending requests", id, rs.NumPendingRequests()))
	}
	gs.markedToFree.Delete(id)
	delete(gs.replicaSchedulers, id)
}

// ReplicaScheduler returns the scheduler of a registered replica.
// Panics if the replica is unknown.
func (gs *GlobalScheduler) ReplicaScheduler(id int) sim.ReplicaScheduler {
	rs, ok := gs.replicaSchedulers[id]
	if !ok {
		panic(fmt.Sprintf("GlobalScheduler: unknown replica id %d", id))
	}
	return rs
}

// HasReplica reports whether id is registered.
func (gs *GlobalScheduler) HasReplica(id int) bool {
	_, ok := gs.replicaSchedulers[id]
	return ok
}

// ReplicaIDs returns the registered replica IDs, ascending.
func (gs *GlobalScheduler) ReplicaIDs() []int {
	ids := make([]int, 0, len(gs.replicaSchedulers))
	for id := range gs.replicaSchedulers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// NumPendingRequests returns the number of requests waiting in the global queue.
func (gs *GlobalScheduler) NumPendingRequests() int {
	return len(gs.queue)
}

// IsEmpty reports whether the global queue and every replica scheduler are empty.
func (gs *GlobalScheduler) IsEmpty() bool {
	if len(gs.queue) > 0 {
		return false
	}
	for _, rs := range gs.replicaSchedulers {
		if !rs.IsEmpty() {
			return false
		}
	}
	return true
}

// routerState builds the schedulable replica view in ascending ID order.
func (gs *GlobalScheduler) routerState() *RouterState {
	state := &RouterState{Replicas: make([]ReplicaLoad, 0, len(gs.replicaSchedulers))}
	for _, id := range gs.ReplicaIDs() {
		if gs.markedToFree.Has(id) {
			continue
		}
		state.Replicas = append(state.Replicas, ReplicaLoad{
			ID:                  id,
			OutstandingRequests: gs.replicaSchedulers[id].NumPendingRequests(),
		})
	}
	return state
}
