// Package task implements the task/result store shared by the supervisor,
// the session registry and the status API. Every Task and Result is an
// individually addressable JSON record keyed by task id.
package task

import "time"

// Status is the lifecycle state of a Task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// transitions is the full state machine. pending is the only initial state.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Type is the kind of work a Task represents.
type Type string

const (
	TypeImplement Type = "implement"
	TypeTest      Type = "test"
	TypeReview    Type = "review"
	TypeResearch  Type = "research"
	TypeEvaluate  Type = "evaluate"
)

// Valid reports whether t is a known task type.
func (t Type) Valid() bool {
	switch t {
	case TypeImplement, TypeTest, TypeReview, TypeResearch, TypeEvaluate:
		return true
	default:
		return false
	}
}

// Context carries advisory inputs for the agent plus the dependency set.
type Context struct {
	Files        []string `json:"files"`
	Dependencies []string `json:"dependencies"`
}

// Task is one unit of work assigned to a logical agent.
type Task struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	AssignedTo  string     `json:"assigned_to"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	Prompt      string     `json:"prompt"`
	Context     Context    `json:"context"`
	Result      *string    `json:"result"` // id of the Result record, set once produced
	Error       *string    `json:"error"`
}

// Result is the immutable outcome of running a Task.
type Result struct {
	TaskID        string    `json:"task_id"`
	Agent         string    `json:"agent"`
	Status        Status    `json:"status"`
	Output        string    `json:"output"`
	FilesModified []string  `json:"files_modified"`
	NextSteps     []string  `json:"next_steps"`
	CompletedAt   time.Time `json:"completed_at"`
}

// NewTask holds the caller-supplied fields for Store.Create.
// ID is optional; one is generated when empty.
type NewTask struct {
	ID           string
	Type         Type
	AssignedTo   string
	Prompt       string
	Priority     int
	Dependencies []string
	Files        []string
}

// NewResult holds the fields for Store.CreateResult.
type NewResult struct {
	TaskID        string
	Agent         string
	Status        Status
	Output        string
	FilesModified []string
	NextSteps     []string
}

// Field names a Task attribute that UpdateField may change.
type Field string

const (
	FieldPrompt       Field = "prompt"
	FieldPriority     Field = "priority"
	FieldAssignedTo   Field = "assigned_to"
	FieldError        Field = "error"
	FieldFiles        Field = "context.files"
	FieldDependencies Field = "context.dependencies"
)
