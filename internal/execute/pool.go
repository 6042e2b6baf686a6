// pool.go tracks progress across the tasks of one dispatch run.
package execute

import (
	"fmt"
	"sync"

	"github.com/agentk-dev/agentk/internal/task"
)

// ExecutionPool counts dispatched tasks by outcome. All methods are
// thread-safe via mu.
type ExecutionPool struct {
	mu        sync.Mutex
	Launched  int
	Completed int
	Failed    int
	Cancelled int
	seen      map[string]bool
}

// NewExecutionPool creates an empty ExecutionPool.
func NewExecutionPool() *ExecutionPool {
	return &ExecutionPool{seen: make(map[string]bool)}
}

// RecordLaunch counts one started task.
func (p *ExecutionPool) RecordLaunch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Launched++
}

// RecordOutcome counts a task's terminal status once per task id.
// It reports whether the outcome was new.
func (p *ExecutionPool) RecordOutcome(id string, status task.Status) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.seen[id] || !status.Terminal() {
		return false
	}
	p.seen[id] = true
	switch status {
	case task.StatusCompleted:
		p.Completed++
	case task.StatusFailed:
		p.Failed++
	case task.StatusCancelled:
		p.Cancelled++
	}
	return true
}

// Progress returns a formatted progress string like "[2/5]".
func (p *ExecutionPool) Progress() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	done := p.Completed + p.Failed + p.Cancelled
	return fmt.Sprintf("[%d/%d]", done, p.Launched)
}

// Snapshot returns a copy of the counters.
func (p *ExecutionPool) Snapshot() (launched, completed, failed, cancelled int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Launched, p.Completed, p.Failed, p.Cancelled
}
