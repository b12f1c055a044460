package approval

import "sync/atomic"

// Gate is the administrative release kill switch. When disabled, every
// evaluation short-circuits to needs-review regardless of rule
// configuration.
//
// The gate is explicit injected state, not a process-wide global; the
// evaluator receives it at construction. Toggles are last-writer-wins,
// which is acceptable because the gate is operator-toggled, not
// contended by the hot path.
type Gate struct {
	enabled atomic.Bool
}

// NewGate creates a gate with the given initial state.
func NewGate(enabled bool) *Gate {
	g := &Gate{}
	g.enabled.Store(enabled)
	return g
}

// Enabled reports whether auto-release is currently permitted.
func (g *Gate) Enabled() bool {
	return g.enabled.Load()
}

// Set toggles auto-release on or off.
func (g *Gate) Set(enabled bool) {
	g.enabled.Store(enabled)
}
