package execute

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/task"
	"github.com/agentk-dev/agentk/internal/testutil"
)

func TestDispatcherRunsDependencyChain(t *testing.T) {
	env := newTestEnv(t, testutil.EchoScript(testutil.ClaudeResult("ok", 1, 1), 0), nil)
	env.create(t, "impl", task.AgentEngineer)
	env.create(t, "test", task.AgentTester, "impl")
	env.create(t, "review", task.AgentSecurity, "impl")
	env.create(t, "final", task.AgentEngineer, "test", "review")

	var mu sync.Mutex
	var order []string
	d := NewDispatcher(env.sup)
	d.OnEvent = func(ev DispatchEvent) {
		if ev.Kind == DispatchLaunched {
			mu.Lock()
			order = append(order, ev.TaskID)
			mu.Unlock()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	summary, err := d.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Launched != 4 || summary.Completed != 4 {
		t.Errorf("summary = %+v, want 4 launched and completed", summary)
	}
	if len(summary.Blocked) != 0 {
		t.Errorf("Blocked = %v, want none", summary.Blocked)
	}
	if len(order) != 4 || order[0] != "impl" || order[3] != "final" {
		t.Errorf("launch order = %v", order)
	}

	// The final task's prompt quotes its completed dependencies.
	input, err := os.ReadFile(filepath.Join(env.root, "run", "inputs", "final.md"))
	if err != nil {
		t.Fatalf("reading input artifact: %v", err)
	}
	for _, want := range []string{"## Completed dependencies", "### test (tester)", "### review (security)"} {
		if !strings.Contains(string(input), want) {
			t.Errorf("final prompt missing %q", want)
		}
	}
}

func TestDispatcherBlockPolicyLeavesDependentsPending(t *testing.T) {
	env := newTestEnv(t, "echo broken >&2\nexit 2", nil)
	env.create(t, "a", task.AgentEngineer)
	env.create(t, "b", task.AgentTester, "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	summary, err := NewDispatcher(env.sup).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 || summary.Cancelled != 0 {
		t.Errorf("summary = %+v, want 1 failed", summary)
	}
	if len(summary.Blocked) != 1 || summary.Blocked[0].Reason != task.BlockDead {
		t.Errorf("Blocked = %+v, want b blocked on dead dependency", summary.Blocked)
	}
	b, _ := env.store.Get("b")
	if b.Status != task.StatusPending {
		t.Errorf("b Status = %q, want pending", b.Status)
	}
}

func TestDispatcherCancelPolicyPropagates(t *testing.T) {
	env := newTestEnv(t, "exit 1", func(cfg *config.Config) {
		cfg.Execution.DependencyPolicy = "cancel"
	})
	env.create(t, "a", task.AgentEngineer)
	env.create(t, "b", task.AgentTester, "a")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	summary, err := NewDispatcher(env.sup).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Failed != 1 || summary.Cancelled != 1 {
		t.Errorf("summary = %+v, want 1 failed and 1 cancelled", summary)
	}
	b, _ := env.store.Get("b")
	if b.Status != task.StatusCancelled || b.Error == nil || !strings.Contains(*b.Error, "dependency a") {
		t.Errorf("b = %+v, want cancelled naming dependency a", b)
	}
}

func TestDispatcherSpawnFailureCancelsTask(t *testing.T) {
	env := newTestEnv(t, "exit 0", func(cfg *config.Config) {
		cfg.Agent.Command = "/nonexistent/agentk-test-cli"
	})
	env.create(t, "a", task.AgentEngineer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := NewDispatcher(env.sup).Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if summary.Cancelled != 1 || summary.Launched != 0 {
		t.Errorf("summary = %+v", summary)
	}
	a, _ := env.store.Get("a")
	if a.Status != task.StatusCancelled || a.Error == nil || !strings.HasPrefix(*a.Error, "spawn failed") {
		t.Errorf("a = %+v", a)
	}
}

func TestDispatcherStopsAfterConsecutiveFailures(t *testing.T) {
	env := newTestEnv(t, "echo boom >&2\nexit 1", func(cfg *config.Config) {
		cfg.Execution.FailureThreshold = 2
	})
	for _, id := range []string{"a", "b", "c"} {
		env.create(t, id, task.AgentEngineer)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	summary, err := NewDispatcher(env.sup).Run(ctx)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if summary.Failed != 2 || summary.Launched != 2 {
		t.Errorf("summary = %+v, want 2 launched and 2 failed", summary)
	}
	c, _ := env.store.Get("c")
	if c.Status != task.StatusPending {
		t.Errorf("c = %s, want pending", c.Status)
	}
}

func TestDispatcherStopsOnContext(t *testing.T) {
	env := newTestEnv(t, "sleep 5", nil)
	env.create(t, "a", task.AgentEngineer)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := NewDispatcher(env.sup).Run(ctx)
	if err == nil {
		t.Fatal("expected context error")
	}
	if !env.sup.IsRunning(task.AgentEngineer) {
		t.Error("cancelling the dispatcher should not kill agents")
	}
}

func TestDispatcherKillsAgentOfCancelledTask(t *testing.T) {
	env := newTestEnv(t, "sleep 5", nil)
	env.create(t, "c", task.AgentEngineer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	type runResult struct {
		summary *Summary
		err     error
	}
	done := make(chan runResult, 1)
	go func() {
		s, err := NewDispatcher(env.sup).Run(ctx)
		done <- runResult{s, err}
	}()

	var h *Handle
	deadline := time.Now().Add(5 * time.Second)
	for h == nil || h.PID == 0 {
		if time.Now().After(deadline) {
			t.Fatal("agent never started")
		}
		time.Sleep(20 * time.Millisecond)
		h, _ = env.sup.Registry().Get(task.AgentEngineer)
	}

	if err := env.store.Cancel("c", "changed plan"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	var res runResult
	select {
	case res = <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("Run kept waiting on the cancelled task's agent")
	}
	if res.err != nil {
		t.Fatalf("Run failed: %v", res.err)
	}
	if res.summary.Cancelled != 1 {
		t.Errorf("summary = %+v, want 1 cancelled", res.summary)
	}
	if processAlive(h.PID) {
		t.Error("agent process still alive after its task was cancelled")
	}
	got, _ := env.store.Get("c")
	if got.Status != task.StatusCancelled || got.Error == nil || *got.Error != "changed plan" {
		t.Errorf("task = %s %v, want cancelled with the original reason", got.Status, got.Error)
	}
	if _, err := env.store.GetResult("c"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("killed agent wrote a Result: %v", err)
	}
}

func TestExecutionPoolCountsOnce(t *testing.T) {
	p := NewExecutionPool()
	p.RecordLaunch()
	p.RecordLaunch()
	if !p.RecordOutcome("a", task.StatusCompleted) {
		t.Error("first outcome not recorded")
	}
	if p.RecordOutcome("a", task.StatusCompleted) {
		t.Error("duplicate outcome recorded")
	}
	if p.RecordOutcome("b", task.StatusInProgress) {
		t.Error("non-terminal outcome recorded")
	}
	if got := p.Progress(); got != "[1/2]" {
		t.Errorf("Progress = %q, want [1/2]", got)
	}
}
