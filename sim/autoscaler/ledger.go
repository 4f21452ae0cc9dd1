package autoscaler

import "fmt"

// ScaleLedger is the single owner of scale operations that were decided but not yet realized.
// Every reserved operation is settled exactly once: realized when the replica is
// added or removed, or released when a scale-down finds nothing to drain.
//
// Invariant: effective replicas = live + PendingUp - PendingDown.
type ScaleLedger struct {
	pendingUp   int
	pendingDown int
}

// ReserveUp records n decided scale-ups. Panics if n is not positive.
func (l *ScaleLedger) ReserveUp(n int) {
	if n <= 0 {
		panic(fmt.Sprintf("ScaleLedger: ReserveUp(%d) requires n > 0", n))
	}
	l.pendingUp += n
}

// ReserveDown records n decided scale-downs. Panics if n is not positive.
func (l *ScaleLedger) ReserveDown(n int) {
	if n <= 0 {
		panic(fmt.Sprintf("ScaleLedger: ReserveDown(%d) requires n > 0", n))
	}
	l.pendingDown += n
}

// RealizeUp settles one scale-up after the replica joined the cluster.
func (l *ScaleLedger) RealizeUp() {
	if l.pendingUp == 0 {
		panic("ScaleLedger: RealizeUp with no pending scale-up")
	}
	l.pendingUp--
}

// RealizeDown settles one scale-down after the replica left the cluster.
func (l *ScaleLedger) RealizeDown() {
	if l.pendingDown == 0 {
		panic("ScaleLedger: RealizeDown with no pending scale-down")
	}
	l.pendingDown--
}

// ReleaseDown cancels one scale-down that could not pick a replica to drain.
func (l *ScaleLedger) ReleaseDown() {
	if l.pendingDown == 0 {
		panic("ScaleLedger: ReleaseDown with no pending scale-down")
	}
	l.pendingDown--
}

// PendingUp returns the scale-ups reserved but not yet realized.
func (l *ScaleLedger) PendingUp() int { return l.pendingUp }

// PendingDown returns the scale-downs reserved but not yet realized or released.
func (l *ScaleLedger) PendingDown() int { return l.pendingDown }

// EffectiveReplicas returns the replica count the next tuning decision reasons about.
func (l *ScaleLedger) EffectiveReplicas(live int) int {
	return live + l.pendingUp - l.pendingDown
}
