// Package sim provides the shared types of the elastic cluster simulator.
//
// # Reading Guide
//
// Start with these files to understand the data model:
//   - request.go: Request identity, token demand and serving timestamps
//   - batch.go: Batch lifecycle (scheduled -> completed)
//   - replica.go: Replica lifecycle (active -> pending_free -> freed) and the Cluster that owns replicas
//
// # Architecture
//
// The sim package defines entities and collaborator interfaces; the moving parts
// live in sub-packages:
//   - sim/cluster/: event queue, event handlers and the simulation loop
//   - sim/scheduler/: global scheduler, routing policies, default replica scheduler
//   - sim/autoscaler/: arrival-rate envelope, scale ledger, tuning policies
//   - sim/latency/: execution time predictors
//   - sim/metrics/: metrics sink, result files and Prometheus export
//   - sim/workload/: request generation and trace replay
//   - sim/trace/: routing and scaling decision records
//
// # Key Interfaces
//
//   - ExecutionTimePredictor: batch execution time for a replica configuration
//   - ReplicaScheduler: per-replica batching, occupancy and batch callbacks
//   - MetricsSink: fire-and-forget recording of batches, scaling and replica lifecycle
//
// All simulated times are float64 seconds.
package sim
