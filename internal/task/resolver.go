package task

import (
	"errors"
	"fmt"
	"sort"
)

// DependencyPolicy decides what happens to tasks whose dependency can no
// longer complete.
type DependencyPolicy string

const (
	// PolicyBlock leaves such tasks pending until someone cancels them.
	PolicyBlock DependencyPolicy = "block"
	// PolicyCancel cancels them, naming the dependency in the task error.
	PolicyCancel DependencyPolicy = "cancel"
)

// ParsePolicy maps a config string to a policy; empty means PolicyBlock.
func ParsePolicy(s string) (DependencyPolicy, error) {
	switch DependencyPolicy(s) {
	case "", PolicyBlock:
		return PolicyBlock, nil
	case PolicyCancel:
		return PolicyCancel, nil
	default:
		return "", fmt.Errorf("unknown dependency policy %q (want block or cancel)", s)
	}
}

// BlockReason explains why a pending task is not ready.
type BlockReason string

const (
	BlockWaiting BlockReason = "waiting"  // dependency pending or in progress
	BlockMissing BlockReason = "missing"  // dependency id does not exist
	BlockDead    BlockReason = "dead-dep" // dependency failed or was cancelled
)

// Blocked describes one unmet dependency of a pending task.
type Blocked struct {
	Task       *Task
	Dependency string
	Reason     BlockReason
}

// Resolver computes the ready set over a Store. It keeps no cache: every
// call re-reads the store.
type Resolver struct {
	store  *Store
	policy DependencyPolicy
}

// NewResolver binds a resolver to store with the given policy.
func NewResolver(store *Store, policy DependencyPolicy) *Resolver {
	if policy == "" {
		policy = PolicyBlock
	}
	return &Resolver{store: store, policy: policy}
}

// Policy returns the configured dependency policy.
func (r *Resolver) Policy() DependencyPolicy {
	return r.policy
}

// Ready returns every pending task whose dependencies are all completed,
// ordered by priority (lower value first), then creation time, then id.
// It has no side effects.
func (r *Resolver) Ready() ([]*Task, error) {
	all, err := r.store.List()
	if err != nil {
		return nil, err
	}
	index := indexByID(all)

	var ready []*Task
	for _, t := range all {
		if t.Status == StatusPending && len(unmet(t, index)) == 0 {
			ready = append(ready, t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority < ready[j].Priority
	})
	return ready, nil
}

// CheckReady returns nil when id is pending with all dependencies
// completed, ErrBlocked when a dependency is unmet, and a TransitionError
// style error when the task is not pending.
func (r *Resolver) CheckReady(id string) (*Task, error) {
	t, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusPending {
		return t, &TransitionError{ID: id, From: t.Status, To: StatusInProgress}
	}
	for _, dep := range t.Context.Dependencies {
		d, err := r.store.Get(dep)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return t, fmt.Errorf("task %s: dependency %s missing: %w", id, dep, ErrBlocked)
			}
			return t, err
		}
		if d.Status != StatusCompleted {
			return t, fmt.Errorf("task %s: dependency %s is %s: %w", id, dep, d.Status, ErrBlocked)
		}
	}
	return t, nil
}

// Blocked lists every unmet dependency of every pending task.
func (r *Resolver) Blocked() ([]Blocked, error) {
	all, err := r.store.List(StatusPending)
	if err != nil {
		return nil, err
	}
	everything, err := r.store.List()
	if err != nil {
		return nil, err
	}
	index := indexByID(everything)

	var out []Blocked
	for _, t := range all {
		out = append(out, unmet(t, index)...)
	}
	return out, nil
}

// Propagate applies PolicyCancel: pending tasks with a failed or cancelled
// dependency are cancelled, repeatedly, until no more change. Under
// PolicyBlock it does nothing. Returns the cancelled ids.
func (r *Resolver) Propagate() ([]string, error) {
	if r.policy != PolicyCancel {
		return nil, nil
	}
	var cancelled []string
	for {
		blocked, err := r.Blocked()
		if err != nil {
			return cancelled, err
		}
		changed := false
		for _, b := range blocked {
			if b.Reason != BlockDead {
				continue
			}
			reason := fmt.Sprintf("dependency %s did not complete", b.Dependency)
			err := r.store.Cancel(b.Task.ID, reason)
			if err != nil {
				if errors.Is(err, ErrTerminal) {
					continue
				}
				return cancelled, err
			}
			cancelled = append(cancelled, b.Task.ID)
			changed = true
		}
		if !changed {
			return cancelled, nil
		}
	}
}

func indexByID(tasks []*Task) map[string]*Task {
	index := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		index[t.ID] = t
	}
	return index
}

func unmet(t *Task, index map[string]*Task) []Blocked {
	var out []Blocked
	for _, dep := range t.Context.Dependencies {
		d, ok := index[dep]
		switch {
		case !ok:
			out = append(out, Blocked{Task: t, Dependency: dep, Reason: BlockMissing})
		case d.Status == StatusFailed || d.Status == StatusCancelled:
			out = append(out, Blocked{Task: t, Dependency: dep, Reason: BlockDead})
		case d.Status != StatusCompleted:
			out = append(out, Blocked{Task: t, Dependency: dep, Reason: BlockWaiting})
		}
	}
	return out
}
