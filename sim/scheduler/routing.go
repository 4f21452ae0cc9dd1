package scheduler

import (
	"container/heap"
	"fmt"

	"github.com/inference-sim/elastic-sim/sim"
)

// Policy names accepted by NewRoutingPolicy.
const (
	PolicyRoundRobin = "round_robin"
	PolicyLOR        = "lor"
)

// ReplicaLoad is a lightweight view of one schedulable replica for policy decisions.
type ReplicaLoad struct {
	ID                  int
	OutstandingRequests int // queued + in flight on the replica scheduler
}

// RouterState is the input to one routing pass: the schedulable replicas in ascending ID order.
// Replicas marked for removal are never present.
type RouterState struct {
	Replicas []ReplicaLoad
}

// Assignment pairs a request with the replica chosen to serve it.
type Assignment struct {
	ReplicaID int
	Request   *sim.Request
}

// RoutingPolicy decides which replica serves each pending request and which
// replica to drain when capacity is shed.
type RoutingPolicy interface {
	Name() string

	// Route assigns every request, in order, to a replica in state.
	// Panics if state has no replicas.
	Route(requests []*sim.Request, state *RouterState) []Assignment

	// SelectReplicaToFree picks the replica that should stop receiving requests.
	// Returns false when state has no replicas.
	SelectReplicaToFree(state *RouterState) (int, bool)
}

// RoundRobin cycles through the current schedulable replicas.
// The counter persists across passes and is reduced modulo the replica count
// on every assignment, so replicas joining or leaving between passes never
// leave a gap in the rotation.
type RoundRobin struct {
	counter int
}

func (rr *RoundRobin) Name() string { return PolicyRoundRobin }

// Route implements RoutingPolicy for RoundRobin.
func (rr *RoundRobin) Route(requests []*sim.Request, state *RouterState) []Assignment {
	if len(state.Replicas) == 0 {
		panic("RoundRobin.Route: empty replica set")
	}
	assignments := make([]Assignment, 0, len(requests))
	for _, req := range requests {
		target := state.Replicas[rr.counter%len(state.Replicas)]
		rr.counter++
		assignments = append(assignments, Assignment{ReplicaID: target.ID, Request: req})
	}
	return assignments
}

// SelectReplicaToFree implements the base rule: the lowest eligible replica ID.
func (rr *RoundRobin) SelectReplicaToFree(state *RouterState) (int, bool) {
	if len(state.Replicas) == 0 {
		return 0, false
	}
	return state.Replicas[0].ID, true
}

// LeastOutstandingRequests routes each request to the replica with the fewest
// outstanding requests, counting the requests already assigned in the same pass.
// Ties are broken by lowest replica ID.
type LeastOutstandingRequests struct{}

func (l *LeastOutstandingRequests) Name() string { return PolicyLOR }

// Route implements RoutingPolicy for LeastOutstandingRequests.
// O(requests × log replicas).
func (l *LeastOutstandingRequests) Route(requests []*sim.Request, state *RouterState) []Assignment {
	if len(state.Replicas) == 0 {
		panic("LeastOutstandingRequests.Route: empty replica set")
	}
	h := make(loadHeap, len(state.Replicas))
	copy(h, state.Replicas)
	heap.Init(&h)

	assignments := make([]Assignment, 0, len(requests))
	for _, req := range requests {
		assignments = append(assignments, Assignment{ReplicaID: h[0].ID, Request: req})
		h[0].OutstandingRequests++
		heap.Fix(&h, 0)
	}
	return assignments
}

// SelectReplicaToFree picks the replica with the fewest outstanding requests,
// lowest ID on ties, so the drain finishes soonest.
func (l *LeastOutstandingRequests) SelectReplicaToFree(state *RouterState) (int, bool) {
	if len(state.Replicas) == 0 {
		return 0, false
	}
	best := state.Replicas[0]
	for _, r := range state.Replicas[1:] {
		if less(r, best) {
			best = r
		}
	}
	return best.ID, true
}

func less(a, b ReplicaLoad) bool {
	if a.OutstandingRequests != b.OutstandingRequests {
		return a.OutstandingRequests < b.OutstandingRequests
	}
	return a.ID < b.ID
}

// loadHeap implements heap.Interface ordered by (OutstandingRequests, ID).
type loadHeap []ReplicaLoad

func (h loadHeap) Len() int           { return len(h) }
func (h loadHeap) Less(i, j int) bool { return less(h[i], h[j]) }
func (h loadHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *loadHeap) Push(x any) {
	*h = append(*h, x.(ReplicaLoad))
}

func (h *loadHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// validRoutingPolicies lists the names NewRoutingPolicy accepts. Empty means round-robin.
var validRoutingPolicies = map[string]bool{
	"":               true,
	PolicyRoundRobin: true,
	PolicyLOR:        true,
}

// IsValidRoutingPolicy reports whether name is a recognized routing policy.
func IsValidRoutingPolicy(name string) bool {
	return validRoutingPolicies[name]
}

// NewRoutingPolicy creates a routing policy by name.
// Empty string defaults to round-robin. Panics on unrecognized names.
func NewRoutingPolicy(name string) RoutingPolicy {
	switch name {
	case "", PolicyRoundRobin:
		return &RoundRobin{}
	case PolicyLOR:
		return &LeastOutstandingRequests{}
	default:
		panic(fmt.Sprintf("unknown routing policy %q", name))
	}
}
