package autoscaler

import (
	"github.com/inference-sim/elastic-sim/sim"
)

// arrival is one token-weighted request arrival.
type arrival struct {
	time   float64
	tokens float64
}

// NetworkEnvelope keeps a time-bounded history of token-weighted arrivals and
// answers the highest sustained token arrival rate over any window of a given
// size inside a trailing look-back period.
//
// Arrivals must be recorded in non-decreasing time order, which the event loop
// guarantees. History is pruned from the front only, so memory is bounded by the
// arrivals inside the longest look-back in use.
//
// Thread-safety: NOT thread-safe. All methods must be called from the event loop.
type NetworkEnvelope struct {
	arrivals []arrival

	// retention keeps arrivals needed by a longer look-back than the one being queried,
	// so a short scale-up query does not discard history a scale-down query still reads.
	retention float64
}

// NewNetworkEnvelope creates an envelope that never prunes arrivals newer than
// time - retention. A zero retention prunes strictly by each query's look-back.
func NewNetworkEnvelope(retention float64) *NetworkEnvelope {
	return &NetworkEnvelope{retention: max(retention, 0)}
}

// OnRequestArrival records the request's token demand at its arrival time.
func (e *NetworkEnvelope) OnRequestArrival(req *sim.Request) {
	e.arrivals = append(e.arrivals, arrival{time: req.ArrivedAt, tokens: float64(req.TotalTokens())})
}

// Len returns the number of retained arrivals.
func (e *NetworkEnvelope) Len() int {
	return len(e.arrivals)
}

// MaxRequestRate returns the maximum tokens/second over any window of exactly
// windowSize seconds lying inside [time - lookBack, time].
//
// Only windows with an edge on an arrival are examined: the token count of a
// window is piecewise constant between arrivals, so the maximum is always
// reached with one edge on an arrival. Left-anchored windows cover
// [a, a+windowSize) and right-anchored windows cover (a-windowSize, a].
//
// Returns 0 for windowSize <= 0 or when no arrival is retained.
func (e *NetworkEnvelope) MaxRequestRate(time, windowSize, lookBack float64) float64 {
	if windowSize <= 0 {
		return 0
	}
	start := time - lookBack
	e.prune(time - max(lookBack, e.retention))
	if len(e.arrivals) == 0 {
		return 0
	}

	a := e.arrivals
	n := len(a)
	maxRate := 0.0

	// left-anchored windows, two pointers over [a[left], a[left]+w)
	right := 0
	tokens := 0.0
	for left := 0; left < n; left++ {
		windowStart := a[left].time
		windowEnd := windowStart + windowSize
		for right < n && a[right].time < windowEnd {
			tokens += a[right].tokens
			right++
		}
		if windowStart >= start && windowEnd <= time {
			maxRate = max(maxRate, tokens/windowSize)
		}
		tokens -= a[left].tokens
	}

	// right-anchored windows, two pointers over (a[right]-w, a[right]]
	left := 0
	tokens = 0
	for right := 0; right < n; right++ {
		windowEnd := a[right].time
		windowStart := windowEnd - windowSize
		tokens += a[right].tokens
		for left < right && a[left].time <= windowStart {
			tokens -= a[left].tokens
			left++
		}
		if windowStart >= start && windowEnd <= time {
			maxRate = max(maxRate, tokens/windowSize)
		}
	}
	return maxRate
}

// prune drops every arrival strictly older than horizon.
func (e *NetworkEnvelope) prune(horizon float64) {
	i := 0
	for i < len(e.arrivals) && e.arrivals[i].time < horizon {
		i++
	}
	if i == 0 {
		return
	}
	if i == len(e.arrivals) {
		e.arrivals = e.arrivals[:0]
		return
	}
	e.arrivals = e.arrivals[i:]
}
