package replication

import "sync/atomic"

// Gate is the scanning-active flag shared between the scan intake
// coordinator and the replication manager. While it is held, neither
// direction of replication moves a single document.
type Gate struct {
	active atomic.Bool
}

// NewGate builds an open gate.
func NewGate() *Gate {
	return &Gate{}
}

// SetScanning raises or lowers the flag.
func (g *Gate) SetScanning(active bool) {
	g.active.Store(active)
}

// Scanning reports whether a scan burst currently holds the gate.
func (g *Gate) Scanning() bool {
	if g == nil {
		return false
	}
	return g.active.Load()
}
