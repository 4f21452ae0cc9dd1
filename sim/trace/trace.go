package trace

// TraceLevel controls the verbosity of decision tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelDecisions captures every routing, tuning and replica lifecycle decision.
	TraceLevelDecisions TraceLevel = "decisions"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:      true,
	TraceLevelDecisions: true,
	"":                  true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// Enabled reports whether the level records anything.
func (l TraceLevel) Enabled() bool {
	return l == TraceLevelDecisions
}

// SimulationTrace collects decision records during a cluster simulation.
// A nil *SimulationTrace is valid and records nothing.
type SimulationTrace struct {
	Level    TraceLevel
	Routings []RoutingRecord
	Scalings []ScalingRecord
	Replicas []ReplicaRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
// Returns nil when the level disables tracing.
func NewSimulationTrace(level TraceLevel) *SimulationTrace {
	if !level.Enabled() {
		return nil
	}
	return &SimulationTrace{
		Level:    level,
		Routings: make([]RoutingRecord, 0),
		Scalings: make([]ScalingRecord, 0),
		Replicas: make([]ReplicaRecord, 0),
	}
}

// RecordRouting appends a routing decision record.
func (st *SimulationTrace) RecordRouting(record RoutingRecord) {
	if st == nil {
		return
	}
	st.Routings = append(st.Routings, record)
}

// RecordScaling appends a tuning pass record.
func (st *SimulationTrace) RecordScaling(record ScalingRecord) {
	if st == nil {
		return
	}
	st.Scalings = append(st.Scalings, record)
}

// RecordReplica appends a replica lifecycle record.
func (st *SimulationTrace) RecordReplica(record ReplicaRecord) {
	if st == nil {
		return
	}
	st.Replicas = append(st.Replicas, record)
}
