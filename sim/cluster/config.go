package cluster

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/elastic-sim/sim"
	"github.com/inference-sim/elastic-sim/sim/autoscaler"
	"github.com/inference-sim/elastic-sim/sim/latency"
	"github.com/inference-sim/elastic-sim/sim/metrics"
	"github.com/inference-sim/elastic-sim/sim/scheduler"
	"github.com/inference-sim/elastic-sim/sim/trace"
	"github.com/inference-sim/elastic-sim/sim/workload"
)

// DeploymentConfig is the YAML document describing one simulation run.
// Each section is owned and validated by the package that consumes it.
type DeploymentConfig struct {
	Seed       int64             `yaml:"seed"`
	TimeLimit  *float64          `yaml:"time_limit,omitempty"` // seconds; nil = run until the work is done
	TraceLevel trace.TraceLevel  `yaml:"trace_level"`
	Cluster    sim.ClusterConfig `yaml:"cluster"`
	Scheduler  scheduler.Config  `yaml:"scheduler"`
	Latency    latency.Config    `yaml:"latency"`
	Autoscaler autoscaler.Config `yaml:"autoscaler"`
	Workload   workload.Spec     `yaml:"workload"`
	Metrics    metrics.Config    `yaml:"metrics"`
}

// DefaultDeploymentConfig returns a single-replica cluster on 8-device nodes,
// a fixed-size deployment (autoscaling off) and the default workload.
func DefaultDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{
		Seed:       42,
		TraceLevel: trace.TraceLevelNone,
		Cluster: sim.ClusterConfig{
			NumReplicas: 1,
			Replica: sim.ReplicaConfig{
				Model:                "meta-llama/Meta-Llama-3-8B",
				Device:               "a100",
				TensorParallelSize:   1,
				NumPipelineStages:    1,
				MemoryCapacityTokens: 200000,
				Node: sim.NodeConfig{
					NumDevicesPerNode: 8,
					CostPerHour:       32.77,
				},
			},
		},
		Scheduler:  scheduler.DefaultConfig(),
		Latency:    latency.DefaultConfig(),
		Autoscaler: autoscaler.DefaultConfig(),
		Workload:   workload.DefaultSpec(),
	}
}

// LoadDeploymentConfig reads a YAML deployment config. Fields absent from the
// file keep their DefaultDeploymentConfig values; unknown fields are rejected.
func LoadDeploymentConfig(path string) (DeploymentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DeploymentConfig{}, fmt.Errorf("reading deployment config: %w", err)
	}
	cfg, err := ParseDeploymentConfig(data)
	if err != nil {
		return DeploymentConfig{}, fmt.Errorf("parsing deployment config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseDeploymentConfig decodes and validates a YAML deployment config.
func ParseDeploymentConfig(data []byte) (DeploymentConfig, error) {
	cfg := DefaultDeploymentConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return DeploymentConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return DeploymentConfig{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field across all sections.
func (c DeploymentConfig) Validate() error {
	var err error
	if c.TimeLimit != nil && (!(*c.TimeLimit > 0) || math.IsInf(*c.TimeLimit, 0)) {
		err = multierr.Append(err, fmt.Errorf("time_limit must be a finite value > 0, got %v", *c.TimeLimit))
	}
	if !trace.IsValidTraceLevel(string(c.TraceLevel)) {
		err = multierr.Append(err, fmt.Errorf("unknown trace_level %q; valid options: %s, %s", c.TraceLevel, trace.TraceLevelNone, trace.TraceLevelDecisions))
	}
	err = multierr.Append(err, validateCluster(c.Cluster))
	err = multierr.Append(err, c.Scheduler.Validate())
	err = multierr.Append(err, c.Latency.Validate())
	err = multierr.Append(err, c.Autoscaler.Validate())
	if c.Autoscaler.Enabled && c.Autoscaler.MinReplicas < 1 {
		err = multierr.Append(err, fmt.Errorf("autoscaler.min_replicas must be >= 1 when autoscaling is enabled, got %d", c.Autoscaler.MinReplicas))
	}
	err = multierr.Append(err, c.Workload.Validate())
	return err
}

func validateCluster(c sim.ClusterConfig) error {
	var err error
	if c.NumReplicas < 1 {
		err = multierr.Append(err, fmt.Errorf("cluster.num_replicas must be >= 1, got %d", c.NumReplicas))
	}
	r := c.Replica
	if r.TensorParallelSize < 1 {
		err = multierr.Append(err, fmt.Errorf("cluster.replica.tensor_parallel_size must be >= 1, got %d", r.TensorParallelSize))
	}
	if r.NumPipelineStages < 1 {
		err = multierr.Append(err, fmt.Errorf("cluster.replica.num_pipeline_stages must be >= 1, got %d", r.NumPipelineStages))
	}
	if r.MemoryCapacityTokens < 1 {
		err = multierr.Append(err, fmt.Errorf("cluster.replica.memory_capacity_tokens must be >= 1, got %d", r.MemoryCapacityTokens))
	}
	if r.Node.NumDevicesPerNode < 1 {
		err = multierr.Append(err, fmt.Errorf("cluster.replica.node.num_devices_per_node must be >= 1, got %d", r.Node.NumDevicesPerNode))
	}
	if r.Node.CostPerHour < 0 || math.IsNaN(r.Node.CostPerHour) || math.IsInf(r.Node.CostPerHour, 0) {
		err = multierr.Append(err, fmt.Errorf("cluster.replica.node.cost_per_hour must be a finite value >= 0, got %v", r.Node.CostPerHour))
	}
	return err
}
