package sim

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
)

// ReplicaState is the lifecycle state of a replica.
type ReplicaState string

const (
	ReplicaActive      ReplicaState = "active"
	ReplicaPendingFree ReplicaState = "pending_free" // draining, receives no new requests
	ReplicaFreed       ReplicaState = "freed"
)

// NodeConfig describes the machines replicas are packed onto.
type NodeConfig struct {
	NumDevicesPerNode int     `yaml:"num_devices_per_node"`
	CostPerHour       float64 `yaml:"cost_per_hour"` // per node
}

// ReplicaConfig holds the static capacity and cost attributes shared by all replicas.
type ReplicaConfig struct {
	Model                string     `yaml:"model"`
	Device               string     `yaml:"device"`
	TensorParallelSize   int        `yaml:"tensor_parallel_size"`
	NumPipelineStages    int        `yaml:"num_pipeline_stages"`
	MemoryCapacityTokens int        `yaml:"memory_capacity_tokens"` // KV capacity used for memory usage percent
	Node                 NodeConfig `yaml:"node"`
}

// WorldSize returns the number of devices one replica occupies.
func (c ReplicaConfig) WorldSize() int {
	return c.TensorParallelSize * c.NumPipelineStages
}

// ClusterConfig holds the initial cluster shape.
type ClusterConfig struct {
	NumReplicas int           `yaml:"num_replicas"`
	Replica     ReplicaConfig `yaml:"replica"`
}

// Replica is one unit of serving capacity. Owned exclusively by a Cluster;
// every other component refers to it by ID.
type Replica struct {
	ID     int
	Config ReplicaConfig
	State  ReplicaState
}

// transition moves the replica forward in its lifecycle.
// Active -> PendingFree -> Freed.
func (r *Replica) transition(to ReplicaState) {
	legal := false
	switch r.State {
	case ReplicaActive:
		legal = to == ReplicaPendingFree
	case ReplicaPendingFree:
		legal = to == ReplicaFreed
	}
	if !legal {
		panic(fmt.Sprintf("Replica %d: illegal state transition %s -> %s", r.ID, r.State, to))
	}
	r.State = to
}

// replicaRecord is the on-disk form of a replica in the topology snapshot.
type replicaRecord struct {
	ID                 int    `json:"id"`
	Model              string `json:"model,omitempty"`
	Device             string `json:"device,omitempty"`
	TensorParallelSize int    `json:"tensor_parallel_size"`
	NumPipelineStages  int    `json:"num_pipeline_stages"`
	WorldSize          int    `json:"world_size"`
}

// Cluster owns the set of live replicas and derives aggregate cost.
//
// Thread-safety: NOT thread-safe. All methods must be called from the event loop.
type Cluster struct {
	config   ClusterConfig
	replicas map[int]*Replica
	nextID   int
}

// NewCluster creates a cluster with config.NumReplicas active replicas (IDs 0..N-1).
// Panics if the replica world size or node size is not positive.
func NewCluster(config ClusterConfig) *Cluster {
	if config.Replica.WorldSize() < 1 {
		panic(fmt.Sprintf("NewCluster: replica world size must be >= 1, got %d", config.Replica.WorldSize()))
	}
	if config.Replica.Node.NumDevicesPerNode < 1 {
		panic(fmt.Sprintf("NewCluster: num_devices_per_node must be >= 1, got %d", config.Replica.Node.NumDevicesPerNode))
	}
	c := &Cluster{
		config:   config,
		replicas: make(map[int]*Replica, config.NumReplicas),
	}
	for i := 0; i < config.NumReplicas; i++ {
		c.AddReplica()
	}
	return c
}

// Config returns the cluster configuration.
func (c *Cluster) Config() ClusterConfig {
	return c.config
}

// NumReplicas returns the number of live replicas, draining ones included.
func (c *Cluster) NumReplicas() int {
	return len(c.replicas)
}

// CostPerHour is the hourly cost of the nodes needed to host all live replicas:
// total devices rounded up to whole nodes, times the per-node cost.
func (c *Cluster) CostPerHour() float64 {
	numDevices := c.NumReplicas() * c.config.Replica.WorldSize()
	numNodes := math.Ceil(float64(numDevices) / float64(c.config.Replica.Node.NumDevicesPerNode))
	return c.config.Replica.Node.CostPerHour * numNodes
}

// AddReplica allocates a new active replica with the next free ID.
func (c *Cluster) AddReplica() *Replica {
	r := &Replica{
		ID:     c.nextID,
		Config: c.config.Replica,
		State:  ReplicaActive,
	}
	c.nextID++
	c.replicas[r.ID] = r
	return r
}

// Replica returns the replica with the given ID, or nil.
func (c *Cluster) Replica(id int) *Replica {
	return c.replicas[id]
}

// HasReplica reports whether id is a live replica.
func (c *Cluster) HasReplica(id int) bool {
	_, ok := c.replicas[id]
	return ok
}

// ReplicaIDs returns the live replica IDs in ascending order.
func (c *Cluster) ReplicaIDs() []int {
	ids := make([]int, 0, len(c.replicas))
	for id := range c.replicas {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// MarkPendingFree records that the replica is draining toward removal.
// Panics if the replica is unknown or not active.
func (c *Cluster) MarkPendingFree(id int) {
	c.mustGet(id).transition(ReplicaPendingFree)
}

// FreeReplicaWithID removes the replica from the cluster and returns it in the Freed state.
// Panics if the replica is unknown or was not marked pending free first.
func (c *Cluster) FreeReplicaWithID(id int) *Replica {
	r := c.mustGet(id)
	r.transition(ReplicaFreed)
	delete(c.replicas, id)
	return r
}

func (c *Cluster) mustGet(id int) *Replica {
	r, ok := c.replicas[id]
	if !ok {
		panic(fmt.Sprintf("Cluster: unknown replica id %d", id))
	}
	return r
}

// WriteTopology writes a snapshot of the current replicas to dir/cluster.json.
// The file is for downstream analysis and is never read back.
func (c *Cluster) WriteTopology(dir string) error {
	records := make([]replicaRecord, 0, len(c.replicas))
	for _, id := range c.ReplicaIDs() {
		r := c.replicas[id]
		records = append(records, replicaRecord{
			ID:                 r.ID,
			Model:              r.Config.Model,
			Device:             r.Config.Device,
			TensorParallelSize: r.Config.TensorParallelSize,
			NumPipelineStages:  r.Config.NumPipelineStages,
			WorldSize:          r.Config.WorldSize(),
		})
	}
	data, err := json.MarshalIndent(struct {
		NumReplicas int             `json:"num_replicas"`
		Replicas    []replicaRecord `json:"replicas"`
	}{NumReplicas: len(records), Replicas: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cluster topology: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cluster.json"), data, 0o644); err != nil {
		return fmt.Errorf("writing cluster topology: %w", err)
	}
	return nil
}
