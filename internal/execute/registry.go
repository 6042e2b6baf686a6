package execute

import (
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"time"
)

// Handle is the runtime record of one spawned agent process.
type Handle struct {
	AgentName string
	PID       int
	TaskID    string
	StartedAt time.Time

	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
	timer    *time.Timer

	mu       sync.Mutex
	timedOut bool
}

func newHandle(agent, taskID string) *Handle {
	return &Handle{AgentName: agent, TaskID: taskID, done: make(chan struct{}), exitCode: -1}
}

// Done is closed once the process has exited and its Result was handled.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether Done is closed.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// ExitCode is the process exit code, or -1 before exit or when killed by a signal.
func (h *Handle) ExitCode() int {
	<-h.done
	return h.exitCode
}

func (h *Handle) markTimedOut() {
	h.mu.Lock()
	h.timedOut = true
	h.mu.Unlock()
}

func (h *Handle) wasTimedOut() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timedOut
}

// Registry maps agent names to their live process handle and remembers
// the last task bound to each agent after the handle is purged. A handle
// is reserved while its process starts and becomes visible once active.
type Registry struct {
	mu       sync.Mutex
	reserved map[string]*Handle
	handles  map[string]*Handle
	bound    map[string]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		reserved: make(map[string]*Handle),
		handles:  make(map[string]*Handle),
		bound:    make(map[string]string),
	}
}

// reserve claims agent for taskID. It fails with ErrAgentBusy while the
// agent is starting or its previous process has not exited.
func (r *Registry) reserve(agent, taskID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.reserved[agent]; ok {
		return nil, fmt.Errorf("%s starting task %s: %w", agent, h.TaskID, ErrAgentBusy)
	}
	if h, ok := r.handles[agent]; ok && !h.Exited() {
		return nil, fmt.Errorf("%s on task %s: %w", agent, h.TaskID, ErrAgentBusy)
	}
	h := newHandle(agent, taskID)
	r.reserved[agent] = h
	return h, nil
}

// activate publishes a started handle and binds its task to the agent.
func (r *Registry) activate(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved[h.AgentName] == h {
		delete(r.reserved, h.AgentName)
	}
	r.handles[h.AgentName] = h
	r.bound[h.AgentName] = h.TaskID
}

// release drops a reservation whose process never became active.
func (r *Registry) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.reserved[h.AgentName] == h {
		delete(r.reserved, h.AgentName)
	}
}

// Get returns the active handle for agent.
func (r *Registry) Get(agent string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[agent]
	return h, ok
}

// BoundTask returns the last task started by agent.
func (r *Registry) BoundTask(agent string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bound[agent]
	return id, ok
}

// Purge removes h if it is still the agent's active handle.
func (r *Registry) Purge(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handles[h.AgentName] == h {
		delete(r.handles, h.AgentName)
	}
}

// Agents returns the names with an active handle, sorted.
func (r *Registry) Agents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
