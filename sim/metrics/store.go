// Package metrics records what happened during a simulation run and turns it
// into result files: per-request latency with its CDF, per-batch records, the
// replica count and cost timeline, the average cost, and a Prometheus text dump.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/inference-sim/elastic-sim/sim"
)

// Config controls where result files are written.
type Config struct {
	// OutputDir receives the result files. Empty disables file output.
	OutputDir string `yaml:"output_dir"`
}

// BatchRecord is one finished batch.
type BatchRecord struct {
	Time               float64
	ReplicaID          int
	BatchID            int64
	Size               int
	NumTokens          int
	ExecutionTime      float64
	MemoryUsagePercent float64
}

// AutoscalingRecord is the cluster shape after a replica was added or removed.
type AutoscalingRecord struct {
	Time        float64
	NumReplicas int
	CostPerHour float64
}

// Store is the default sim.MetricsSink. It keeps every record in memory and mirrors
// the run's counters and gauges in a private Prometheus registry.
//
// Thread-safety: NOT thread-safe. All methods must be called from the event loop.
type Store struct {
	config      Config
	requests    []*sim.Request
	batches     []BatchRecord
	autoscaling []AutoscalingRecord
	replicasAdd []int

	registry        *prometheus.Registry
	arrivals        prometheus.Counter
	batchesTotal    prometheus.Counter
	tokensTotal     prometheus.Counter
	batchDuration   prometheus.Histogram
	memoryUsage     *prometheus.GaugeVec
	replicas        prometheus.Gauge
	costPerHour     prometheus.Gauge
	scalingTotal    *prometheus.CounterVec
	replicasCreated prometheus.Counter
}

// NewStore creates an empty store and registers its collectors.
func NewStore(config Config) *Store {
	s := &Store{
		config:   config,
		registry: prometheus.NewRegistry(),
		arrivals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elastic_sim_request_arrivals_total",
			Help: "Total number of requests that arrived at the cluster",
		}),
		batchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elastic_sim_batches_total",
			Help: "Total number of batches executed",
		}),
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elastic_sim_batch_tokens_total",
			Help: "Total number of tokens processed in batches",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "elastic_sim_batch_duration_seconds",
			Help:    "Simulated execution time of a batch",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}),
		memoryUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "elastic_sim_replica_memory_usage_percent",
			Help: "Memory usage of a replica at its latest batch end",
		}, []string{"replica_id"}),
		replicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elastic_sim_replicas",
			Help: "Current number of live replicas",
		}),
		costPerHour: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "elastic_sim_cost_per_hour",
			Help: "Current hourly cost of the cluster",
		}),
		scalingTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "elastic_sim_replica_scaling_total",
			Help: "Total number of replica count changes",
		}, []string{"direction"}),
		replicasCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "elastic_sim_replicas_added_total",
			Help: "Total number of replicas added after start",
		}),
	}
	s.registry.MustRegister(
		s.arrivals,
		s.batchesTotal,
		s.tokensTotal,
		s.batchDuration,
		s.memoryUsage,
		s.replicas,
		s.costPerHour,
		s.scalingTotal,
		s.replicasCreated,
	)
	return s
}

// Registry exposes the Prometheus registry holding the run's collectors.
func (s *Store) Registry() *prometheus.Registry {
	return s.registry
}

// OnRequestArrival implements sim.MetricsSink.
func (s *Store) OnRequestArrival(_ float64, req *sim.Request) {
	s.requests = append(s.requests, req)
	s.arrivals.Inc()
}

// OnBatchEnd implements sim.MetricsSink.
func (s *Store) OnBatchEnd(now float64, batch *sim.Batch, replicaID int, memoryUsagePercent float64) {
	rec := BatchRecord{
		Time:               now,
		ReplicaID:          replicaID,
		BatchID:            batch.ID,
		Size:               batch.Size(),
		NumTokens:          batch.TotalNumTokens,
		ExecutionTime:      now - batch.ScheduledAt,
		MemoryUsagePercent: memoryUsagePercent,
	}
	s.batches = append(s.batches, rec)
	s.batchesTotal.Inc()
	s.tokensTotal.Add(float64(rec.NumTokens))
	s.batchDuration.Observe(rec.ExecutionTime)
	s.memoryUsage.WithLabelValues(strconv.Itoa(replicaID)).Set(memoryUsagePercent)
}

// OnAutoscalingEvent implements sim.MetricsSink.
func (s *Store) OnAutoscalingEvent(now float64, numReplicas int, costPerHour float64) {
	if n := len(s.autoscaling); n > 0 {
		prev := s.autoscaling[n-1].NumReplicas
		switch {
		case numReplicas > prev:
			s.scalingTotal.WithLabelValues("up").Inc()
		case numReplicas < prev:
			s.scalingTotal.WithLabelValues("down").Inc()
		}
	}
	s.autoscaling = append(s.autoscaling, AutoscalingRecord{Time: now, NumReplicas: numReplicas, CostPerHour: costPerHour})
	s.replicas.Set(float64(numReplicas))
	s.costPerHour.Set(costPerHour)
}

// AddReplica implements sim.MetricsSink.
func (s *Store) AddReplica(replicaID int) {
	s.replicasAdd = append(s.replicasAdd, replicaID)
	s.replicasCreated.Inc()
}

// Requests returns every request seen by OnRequestArrival, in arrival order.
func (s *Store) Requests() []*sim.Request { return s.requests }

// Batches returns the batch records in completion order.
func (s *Store) Batches() []BatchRecord { return s.batches }

// AutoscalingEvents returns the replica count timeline.
func (s *Store) AutoscalingEvents() []AutoscalingRecord { return s.autoscaling }

// AddedReplicas returns the IDs of replicas added after start.
func (s *Store) AddedReplicas() []int { return s.replicasAdd }
