package execute

import (
	"errors"
	"testing"
)

func TestRegistryReserveActivatePurge(t *testing.T) {
	r := NewRegistry()

	h, err := r.reserve("engineer", "a")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := r.reserve("engineer", "b"); !errors.Is(err, ErrAgentBusy) {
		t.Errorf("second reserve err = %v, want ErrAgentBusy", err)
	}
	if _, ok := r.Get("engineer"); ok {
		t.Error("reserved handle visible before activate")
	}

	h.PID = 4242
	r.activate(h)
	got, ok := r.Get("engineer")
	if !ok || got.PID != 4242 {
		t.Errorf("Get = %+v, %v", got, ok)
	}
	if id, ok := r.BoundTask("engineer"); !ok || id != "a" {
		t.Errorf("BoundTask = %q, %v; want a", id, ok)
	}
	if _, err := r.reserve("engineer", "b"); !errors.Is(err, ErrAgentBusy) {
		t.Errorf("reserve while running err = %v, want ErrAgentBusy", err)
	}

	close(h.done)
	h2, err := r.reserve("engineer", "b")
	if err != nil {
		t.Fatalf("reserve after exit failed: %v", err)
	}
	r.release(h2)

	r.Purge(h)
	if _, ok := r.Get("engineer"); ok {
		t.Error("handle still present after Purge")
	}
	if id, _ := r.BoundTask("engineer"); id != "a" {
		t.Errorf("BoundTask after Purge = %q, want a", id)
	}
	if agents := r.Agents(); len(agents) != 0 {
		t.Errorf("Agents = %v, want none", agents)
	}
}
