package execute

import (
	"errors"
	"fmt"
)

var (
	// ErrAgentBusy is returned when spawning an agent that already runs a task.
	ErrAgentBusy = errors.New("agent is busy")

	// ErrNotReady is returned when a task's dependencies are not all completed.
	ErrNotReady = errors.New("task is not ready")

	// ErrNotRunning is returned when killing an agent with no process and no task.
	ErrNotRunning = errors.New("agent is not running")
)

// SpawnError reports that the agent process could not be started at all.
// The task is left pending.
type SpawnError struct {
	Agent   string
	TaskID  string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s for task %s (%s): %v", e.Agent, e.TaskID, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// WaitStatus is the outcome of WaitAgent.
type WaitStatus string

const (
	WaitExited     WaitStatus = "exited"
	WaitTimeout    WaitStatus = "timeout"
	WaitNotRunning WaitStatus = "not_running"
)

// AgentStatus values reported by GetAgentStatus besides a task status.
const (
	StatusRunning = "running"
	StatusIdle    = "idle"
)
