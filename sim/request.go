// Defines the Request struct that models an individual inference request in the simulation.
// Tracks arrival time, prefill/decode token demand, and the timestamps set while it is served.

package sim

import (
	"fmt"
)

// Request models a single request's lifecycle in the simulation.
// Identity, arrival time and token counts are fixed at creation; the remaining
// fields are scheduling bookkeeping written by the replica scheduler serving it.
type Request struct {
	ID               int64   // Unique identifier for the request
	ArrivedAt        float64 // Simulated arrival time in seconds
	NumPrefillTokens int     // Prompt tokens
	NumDecodeTokens  int     // Tokens to generate

	ReplicaID   int     // Replica the request was routed to (-1 until routed)
	ScheduledAt float64 // Time the request first entered a batch
	CompletedAt float64 // Time the batch carrying the request ended
	Scheduled   bool
	Completed   bool
}

// NewRequest creates a request that has not been routed yet.
func NewRequest(id int64, arrivedAt float64, prefillTokens, decodeTokens int) *Request {
	return &Request{
		ID:               id,
		ArrivedAt:        arrivedAt,
		NumPrefillTokens: prefillTokens,
		NumDecodeTokens:  decodeTokens,
		ReplicaID:        -1,
	}
}

// TotalTokens returns the token demand of the request (prefill + decode).
// Used both as the routing cost and as the arrival weight of the rate estimator.
func (r *Request) TotalTokens() int {
	return r.NumPrefillTokens + r.NumDecodeTokens
}

// E2ETime returns the arrival-to-completion latency in seconds.
// Returns 0 for requests that have not completed.
func (r *Request) E2ETime() float64 {
	if !r.Completed {
		return 0
	}
	return r.CompletedAt - r.ArrivedAt
}

// This method returns a human-readable string representation of a Request.
func (r Request) String() string {
	return fmt.Sprintf("Request: (ID: %d, ArrivedAt: %.6f, Prefill: %d, Decode: %d, Replica: %d)",
		r.ID, r.ArrivedAt, r.NumPrefillTokens, r.NumDecodeTokens, r.ReplicaID)
}
