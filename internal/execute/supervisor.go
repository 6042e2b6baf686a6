// Package execute supervises agent CLI processes: spawning them for ready
// tasks, probing and waiting on them, killing them, and dispatching the
// ready set until the task graph drains.
package execute

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/task"
)

// StatusReporter receives per-agent status changes for display.
type StatusReporter interface {
	UpdateAgent(agent, status, message string) error
}

// Options configures a Supervisor.
type Options struct {
	Config   *config.Config
	Store    *task.Store
	Resolver *task.Resolver
	Logger   *log.Logger
	Reporter StatusReporter
	// RunDir receives logs/<agent>.log and inputs/<task>.md.
	RunDir string
	// WorkDir is the working directory of agent processes.
	WorkDir string
	Now     func() time.Time
}

// Supervisor owns every agent process it spawns. No other component
// signals those processes.
type Supervisor struct {
	cfg      *config.Config
	store    *task.Store
	resolver *task.Resolver
	logger   *log.Logger
	reporter StatusReporter
	runDir   string
	workDir  string
	now      func() time.Time
	registry *Registry

	notifyMu sync.Mutex
	exited   chan struct{}
}

// NewSupervisor creates the run directory layout and returns a Supervisor.
func NewSupervisor(opts Options) (*Supervisor, error) {
	if opts.Store == nil {
		return nil, errors.New("supervisor needs a task store")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	resolver := opts.Resolver
	if resolver == nil {
		policy, err := task.ParsePolicy(cfg.Execution.DependencyPolicy)
		if err != nil {
			return nil, err
		}
		resolver = task.NewResolver(opts.Store, policy)
	}
	for _, dir := range []string{"logs", "inputs"} {
		if err := os.MkdirAll(filepath.Join(opts.RunDir, dir), 0755); err != nil {
			return nil, fmt.Errorf("creating run %s directory: %w", dir, err)
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Supervisor{
		cfg:      cfg,
		store:    opts.Store,
		resolver: resolver,
		logger:   opts.Logger,
		reporter: opts.Reporter,
		runDir:   opts.RunDir,
		workDir:  opts.WorkDir,
		now:      now,
		registry: NewRegistry(),
		exited:   make(chan struct{}),
	}, nil
}

// Registry exposes the process registry for read-only inspection.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Resolver returns the dependency resolver used for readiness checks.
func (s *Supervisor) Resolver() *task.Resolver {
	return s.resolver
}

// Store returns the task store the supervisor writes Results to.
func (s *Supervisor) Store() *task.Store {
	return s.store
}

// SetReporter replaces the status reporter. Call before spawning.
func (s *Supervisor) SetReporter(r StatusReporter) {
	s.reporter = r
}

func (s *Supervisor) report(agent, status, message string) {
	if s.reporter == nil {
		return
	}
	if err := s.reporter.UpdateAgent(agent, status, message); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to update status of %s: %v\n", agent, err)
	}
}

// Exited returns a channel closed the next time any agent process exits.
func (s *Supervisor) Exited() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.exited
}

func (s *Supervisor) broadcast() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	close(s.exited)
	s.exited = make(chan struct{})
}

// IsRunning probes the agent's process with signal 0. A handle whose
// process is gone is purged.
func (s *Supervisor) IsRunning(agent string) bool {
	h, ok := s.registry.Get(agent)
	if !ok || h.PID == 0 {
		return false
	}
	if h.Exited() || !processAlive(h.PID) {
		s.registry.Purge(h)
		return false
	}
	return true
}

// Running returns the agents whose process is alive.
func (s *Supervisor) Running() []string {
	var names []string
	for _, agent := range s.registry.Agents() {
		if s.IsRunning(agent) {
			names = append(names, agent)
		}
	}
	return names
}

// WaitAgent blocks until the agent's process exits, timeout elapses or ctx
// ends. On timeout it returns WaitTimeout and leaves the process running.
// A zero timeout waits without limit.
func (s *Supervisor) WaitAgent(ctx context.Context, agent string, timeout time.Duration) (WaitStatus, error) {
	h, ok := s.registry.Get(agent)
	if !ok || h.PID == 0 {
		return WaitNotRunning, nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-h.Done():
		return WaitExited, nil
	case <-expired:
		return WaitTimeout, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// KillAgent cancels the agent's bound task, then sends SIGTERM, waits the
// grace period and escalates to SIGKILL. The task is cancelled first so
// that the exit callback finds it terminal and records nothing.
func (s *Supervisor) KillAgent(agent string) error {
	h, hasHandle := s.registry.Get(agent)
	taskID := ""
	if hasHandle {
		taskID = h.TaskID
	} else if id, ok := s.registry.BoundTask(agent); ok {
		taskID = id
	}
	if !hasHandle && taskID == "" {
		return fmt.Errorf("%s: %w", agent, ErrNotRunning)
	}

	if taskID != "" {
		err := s.store.Cancel(taskID, fmt.Sprintf("killed: agent %s stopped", agent))
		if err != nil && !errors.Is(err, task.ErrTerminal) && !errors.Is(err, task.ErrNotFound) {
			return fmt.Errorf("cancelling task %s: %w", taskID, err)
		}
	}

	pid := 0
	if hasHandle && h.PID > 0 {
		pid = h.PID
		s.stop(h)
		s.registry.Purge(h)
	}

	s.logger.Warn(log.LogEvent{
		Event:  log.EventAgentKilled,
		Agent:  agent,
		TaskID: taskID,
		PID:    pid,
	})
	s.report(agent, "idle", "killed")
	return nil
}

// stop terminates h gracefully, then forcibly after the grace period.
func (s *Supervisor) stop(h *Handle) {
	if h.Exited() {
		return
	}
	grace := s.cfg.Execution.KillGrace()
	_ = terminate(h.PID)
	select {
	case <-h.Done():
		return
	case <-time.After(grace):
	}
	_ = forceKill(h.PID)
	select {
	case <-h.Done():
	case <-time.After(grace + time.Second):
	}
}

// KillAll kills every agent with a live process, concurrently.
func (s *Supervisor) KillAll() error {
	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for _, agent := range s.Running() {
		g.Go(func() error {
			if err := s.KillAgent(agent); err != nil && !errors.Is(err, ErrNotRunning) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// GetAgentStatus reports "running" when the agent's process is alive,
// otherwise the status of its bound task, otherwise "idle".
func (s *Supervisor) GetAgentStatus(agent string) string {
	if s.IsRunning(agent) {
		return StatusRunning
	}
	if id, ok := s.registry.BoundTask(agent); ok {
		t, err := s.store.Get(id)
		if err == nil {
			return string(t.Status)
		}
	}
	return StatusIdle
}

// SpawnOutcome is the per-task result of SpawnAgentsParallel.
type SpawnOutcome struct {
	TaskID string
	Agent  string
	Handle *Handle
	Err    error
}

// SpawnAgentsParallel spawns the assignee of each task concurrently, at
// most MaxParallel launches at a time. It returns once every launch was
// attempted; it does not wait for the processes to finish. One failed
// launch never stops the others.
func (s *Supervisor) SpawnAgentsParallel(ctx context.Context, taskIDs []string) []SpawnOutcome {
	outcomes := make([]SpawnOutcome, len(taskIDs))
	limit := s.cfg.Execution.MaxParallel
	if limit <= 0 {
		limit = -1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range taskIDs {
		g.Go(func() error {
			outcomes[i] = s.spawnTask(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Supervisor) spawnTask(ctx context.Context, id string) SpawnOutcome {
	out := SpawnOutcome{TaskID: id}
	if err := ctx.Err(); err != nil {
		out.Err = err
		return out
	}
	t, err := s.store.Get(id)
	if err != nil {
		out.Err = err
		return out
	}
	out.Agent = t.AssignedTo
	out.Handle, out.Err = s.SpawnAgent(t.AssignedTo, id)
	return out
}
