package session

import "sync"

type State int

const (
	Idle State = iota
	Scanning
	Exporting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Exporting:
		return "exporting"
	default:
		return "unknown"
	}
}

// Gate makes scanning and exporting mutually exclusive.
type Gate struct {
	mu    sync.Mutex
	state State
}

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// TryEnter moves from Idle to next. It reports false if another operation
// holds the gate.
func (g *Gate) TryEnter(next State) bool {
	if next == Idle {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Idle {
		return false
	}
	g.state = next
	return true
}

// Leave returns to Idle if the gate is held in from.
func (g *Gate) Leave(from State) {
	g.mu.Lock()
	if g.state == from {
		g.state = Idle
	}
	g.mu.Unlock()
}
