// dispatcher.go drives the ready set to completion: launch every ready
// task whose agent is free, wait for an exit, re-evaluate, repeat.
package execute

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentk-dev/agentk/internal/task"
)

// Dispatch event kinds.
const (
	DispatchLaunched    = "launched"
	DispatchFinished    = "finished"
	DispatchSpawnFailed = "spawn_failed"
	DispatchCancelled   = "cancelled"
)

// DispatchEvent describes one step of a dispatch run.
type DispatchEvent struct {
	Kind   string
	TaskID string
	Agent  string
	Status task.Status
	Err    error
}

// Summary is the outcome of Dispatcher.Run.
type Summary struct {
	Launched  int
	Completed int
	Failed    int
	Cancelled int
	// Blocked lists pending tasks that could not run when the run ended.
	Blocked []task.Blocked
}

// Dispatcher launches ready tasks through a Supervisor, at most
// MaxParallel at a time and one per agent.
type Dispatcher struct {
	sup         *Supervisor
	pool        *ExecutionPool
	poll        time.Duration
	maxParallel int
	inFlight    map[string]*Handle // task id -> handle
	breaker     *CircuitBreaker

	// OnEvent, when set, is called from Run's goroutine for every event.
	OnEvent func(DispatchEvent)
}

// NewDispatcher returns a Dispatcher using the supervisor's configuration.
func NewDispatcher(sup *Supervisor) *Dispatcher {
	maxParallel := sup.cfg.Execution.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 5
	}
	poll := sup.cfg.Execution.PollInterval()
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	return &Dispatcher{
		sup:         sup,
		pool:        NewExecutionPool(),
		poll:        poll,
		maxParallel: maxParallel,
		inFlight:    make(map[string]*Handle),
		breaker:     NewCircuitBreaker(sup.cfg.Execution.FailureThreshold),
	}
}

// Pool exposes the run's progress counters.
func (d *Dispatcher) Pool() *ExecutionPool {
	return d.pool
}

// Run loops until nothing is ready and nothing it launched is still
// running, or ctx ends. Cancelling ctx does not kill running agents; the
// caller decides whether to KillAll.
func (d *Dispatcher) Run(ctx context.Context) (*Summary, error) {
	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		exited := d.sup.Exited()
		if err := ctx.Err(); err != nil {
			return d.summary(), err
		}

		cancelled, err := d.sup.resolver.Propagate()
		if err != nil {
			return d.summary(), err
		}
		for _, id := range cancelled {
			d.pool.RecordOutcome(id, task.StatusCancelled)
			d.emit(DispatchEvent{Kind: DispatchCancelled, TaskID: id, Status: task.StatusCancelled})
		}

		if err := d.stopCancelled(); err != nil {
			return d.summary(), err
		}
		if err := d.collect(); err != nil {
			return d.summary(), err
		}
		launched := 0
		if d.breaker.Open() {
			if len(d.inFlight) == 0 {
				return d.summary(), fmt.Errorf("%w: %d failed in a row", ErrCircuitOpen, d.breaker.Failures())
			}
		} else if launched, err = d.launchReady(ctx); err != nil {
			return d.summary(), err
		}

		if launched == 0 && len(d.inFlight) == 0 && len(d.sup.Running()) == 0 {
			s := d.summary()
			s.Blocked, err = d.sup.resolver.Blocked()
			return s, err
		}

		select {
		case <-ctx.Done():
		case <-exited:
		case <-ticker.C:
		}
	}
}

// launchReady spawns ready tasks into the free slots and returns how many
// started.
func (d *Dispatcher) launchReady(ctx context.Context) (int, error) {
	ready, err := d.sup.resolver.Ready()
	if err != nil {
		return 0, err
	}

	busy := make(map[string]bool)
	for _, h := range d.inFlight {
		busy[h.AgentName] = true
	}
	for _, agent := range d.sup.Running() {
		busy[agent] = true
	}

	slots := d.maxParallel - len(d.inFlight)
	var ids []string
	for _, t := range ready {
		if slots <= 0 {
			break
		}
		if busy[t.AssignedTo] {
			continue
		}
		busy[t.AssignedTo] = true
		ids = append(ids, t.ID)
		slots--
	}
	if len(ids) == 0 {
		return 0, nil
	}

	started := 0
	for _, o := range d.sup.SpawnAgentsParallel(ctx, ids) {
		var spawnErr *SpawnError
		switch {
		case o.Err == nil:
			d.inFlight[o.TaskID] = o.Handle
			d.pool.RecordLaunch()
			started++
			d.emit(DispatchEvent{Kind: DispatchLaunched, TaskID: o.TaskID, Agent: o.Agent, Status: task.StatusInProgress})
		case errors.As(o.Err, &spawnErr):
			// The binary cannot run; retrying would spin forever.
			reason := fmt.Sprintf("spawn failed: %v", spawnErr.Err)
			if err := d.sup.store.Cancel(o.TaskID, reason); err != nil && !errors.Is(err, task.ErrTerminal) {
				return started, err
			}
			d.pool.RecordOutcome(o.TaskID, task.StatusCancelled)
			d.breaker.RecordFailure()
			d.emit(DispatchEvent{Kind: DispatchSpawnFailed, TaskID: o.TaskID, Agent: o.Agent, Status: task.StatusCancelled, Err: o.Err})
		case errors.Is(o.Err, ErrAgentBusy), errors.Is(o.Err, ErrNotReady),
			errors.Is(o.Err, task.ErrTerminal), errors.Is(o.Err, context.Canceled),
			errors.Is(o.Err, context.DeadlineExceeded):
			// Lost a race with another writer or the caller; re-evaluated next round.
		default:
			var te *task.TransitionError
			if errors.As(o.Err, &te) {
				continue
			}
			return started, o.Err
		}
	}
	return started, nil
}

// stopCancelled kills the agent of every in-flight task that was cancelled
// behind the dispatcher's back, by another process or through the store.
func (d *Dispatcher) stopCancelled() error {
	for id, h := range d.inFlight {
		if h.Exited() {
			continue
		}
		t, err := d.sup.store.Get(id)
		if err != nil {
			if errors.Is(err, task.ErrNotFound) {
				continue
			}
			return err
		}
		if t.Status != task.StatusCancelled {
			continue
		}
		if err := d.sup.KillAgent(h.AgentName); err != nil && !errors.Is(err, ErrNotRunning) {
			return err
		}
	}
	return nil
}

// collect records the outcome of every launched task whose process exited.
func (d *Dispatcher) collect() error {
	for id, h := range d.inFlight {
		if !h.Exited() {
			continue
		}
		delete(d.inFlight, id)
		t, err := d.sup.store.Get(id)
		if err != nil {
			if errors.Is(err, task.ErrNotFound) {
				continue
			}
			return err
		}
		switch t.Status {
		case task.StatusCompleted:
			d.breaker.RecordSuccess()
		case task.StatusFailed:
			d.breaker.RecordFailure()
		}
		if d.pool.RecordOutcome(id, t.Status) {
			d.emit(DispatchEvent{Kind: DispatchFinished, TaskID: id, Agent: h.AgentName, Status: t.Status})
		}
	}
	return nil
}

func (d *Dispatcher) summary() *Summary {
	launched, completed, failed, cancelled := d.pool.Snapshot()
	return &Summary{Launched: launched, Completed: completed, Failed: failed, Cancelled: cancelled}
}

func (d *Dispatcher) emit(ev DispatchEvent) {
	if d.OnEvent != nil {
		d.OnEvent(ev)
	}
}
