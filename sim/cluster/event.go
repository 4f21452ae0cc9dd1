// Package cluster runs the discrete-event loop of the elastic cluster simulator:
// the event queue, the event handlers and the deployment configuration.
package cluster

import (
	"fmt"

	"github.com/inference-sim/elastic-sim/sim"
)

// EventType tags the kind of an Event.
type EventType int

const (
	EventRequestArrival EventType = iota
	EventGlobalSchedule
	EventReplicaSchedule
	EventBatchEnd
	EventAutoscaleTune
	EventReplicaScaleUp
	EventReplicaScaleDown
)

var eventTypeNames = map[EventType]string{
	EventRequestArrival:   "RequestArrival",
	EventGlobalSchedule:   "GlobalSchedule",
	EventReplicaSchedule:  "ReplicaSchedule",
	EventBatchEnd:         "BatchEnd",
	EventAutoscaleTune:    "AutoscaleTune",
	EventReplicaScaleUp:   "ReplicaScaleUp",
	EventReplicaScaleDown: "ReplicaScaleDown",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// carriesWork reports whether events of this type can still move a request forward.
// A run whose queue only holds other event types has no work left.
func (t EventType) carriesWork() bool {
	switch t {
	case EventRequestArrival, EventGlobalSchedule, EventReplicaSchedule, EventBatchEnd:
		return true
	}
	return false
}

// Event is a scheduled occurrence in simulated time. The payload fields that
// matter depend on Type; the rest stay zero.
//
//	RequestArrival   Request
//	ReplicaSchedule  ReplicaID
//	BatchEnd         ReplicaID, Batch
type Event struct {
	Type      EventType
	Time      float64
	Request   *sim.Request
	ReplicaID int
	Batch     *sim.Batch
}

func (e Event) String() string {
	switch e.Type {
	case EventRequestArrival:
		return fmt.Sprintf("%s(t=%.6f, request=%d)", e.Type, e.Time, e.Request.ID)
	case EventReplicaSchedule:
		return fmt.Sprintf("%s(t=%.6f, replica=%d)", e.Type, e.Time, e.ReplicaID)
	case EventBatchEnd:
		return fmt.Sprintf("%s(t=%.6f, replica=%d, batch=%d)", e.Type, e.Time, e.ReplicaID, e.Batch.ID)
	default:
		return fmt.Sprintf("%s(t=%.6f)", e.Type, e.Time)
	}
}

func NewRequestArrivalEvent(t float64, req *sim.Request) Event {
	return Event{Type: EventRequestArrival, Time: t, Request: req}
}

func NewGlobalScheduleEvent(t float64) Event {
	return Event{Type: EventGlobalSchedule, Time: t}
}

func NewReplicaScheduleEvent(t float64, replicaID int) Event {
	return Event{Type: EventReplicaSchedule, Time: t, ReplicaID: replicaID}
}

func NewBatchEndEvent(t float64, replicaID int, batch *sim.Batch) Event {
	return Event{Type: EventBatchEnd, Time: t, ReplicaID: replicaID, Batch: batch}
}

func NewAutoscaleTuneEvent(t float64) Event {
	return Event{Type: EventAutoscaleTune, Time: t}
}

func NewReplicaScaleUpEvent(t float64) Event {
	return Event{Type: EventReplicaScaleUp, Time: t}
}

func NewReplicaScaleDownEvent(t float64) Event {
	return Event{Type: EventReplicaScaleDown, Time: t}
}
