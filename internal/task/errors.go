package task

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches any NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrTerminal is matched by transition errors whose source state is terminal.
	ErrTerminal = errors.New("task already terminal")

	// ErrResultExists is returned when a second Result is written for a task.
	ErrResultExists = errors.New("result already exists")

	// ErrExists is returned when creating a task whose id is taken.
	ErrExists = errors.New("task already exists")

	// ErrUnknownAgent is returned when an assignee is not a role of the mode.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrBlocked is returned when a task's dependencies are not all completed.
	ErrBlocked = errors.New("task dependencies not completed")
)

// NotFoundError reports a missing Task or Result record.
type NotFoundError struct {
	Kind string // "task" | "result"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) succeed.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// TransitionError reports a status change that the state machine forbids.
type TransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", e.ID, e.From, e.To)
}

// Is makes errors.Is(err, ErrTerminal) succeed when the task was already terminal.
func (e *TransitionError) Is(target error) bool {
	return target == ErrTerminal && e.From.Terminal()
}
