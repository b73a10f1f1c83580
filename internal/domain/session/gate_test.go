package session

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestGate_MutualExclusion(t *testing.T) {
	var g Gate
	if !g.TryEnter(Scanning) {
		t.Fatalf("expected to enter scanning from idle")
	}
	if g.TryEnter(Exporting) {
		t.Fatalf("export must be rejected while scanning")
	}
	if g.TryEnter(Scanning) {
		t.Fatalf("second scan must be rejected")
	}
	g.Leave(Exporting)
	if g.State() != Scanning {
		t.Fatalf("leave from wrong state must not release, got %v", g.State())
	}
	g.Leave(Scanning)
	if g.State() != Idle {
		t.Fatalf("expected idle, got %v", g.State())
	}
	if g.TryEnter(Idle) {
		t.Fatalf("entering idle is not an operation")
	}
	if !g.TryEnter(Exporting) {
		t.Fatalf("expected to enter exporting from idle")
	}
}

func TestGate_ConcurrentEnterOnlyOneWins(t *testing.T) {
	var g Gate
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := Scanning
			if i%2 == 0 {
				st = Exporting
			}
			if g.TryEnter(st) {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Scanning: "scanning", Exporting: "exporting", State(9): "unknown"} {
		if s.String() != want {
			t.Fatalf("State(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
