package api

import "github.com/agentk-dev/agentk/internal/task"

// TaskList is the response of GET /tasks.
type TaskList struct {
	Tasks []*task.Task `json:"tasks"`
	Count int          `json:"count"`
}

// BlockedTask describes one unmet dependency of a pending task.
type BlockedTask struct {
	TaskID     string `json:"task_id"`
	Agent      string `json:"agent"`
	Dependency string `json:"dependency"`
	Reason     string `json:"reason"`
}

// ReadyResponse is the response of GET /ready.
type ReadyResponse struct {
	Ready   []*task.Task  `json:"ready"`
	Blocked []BlockedTask `json:"blocked"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func blockedViews(in []task.Blocked) []BlockedTask {
	out := make([]BlockedTask, 0, len(in))
	for _, b := range in {
		out = append(out, BlockedTask{
			TaskID:     b.Task.ID,
			Agent:      b.Task.AssignedTo,
			Dependency: b.Dependency,
			Reason:     string(b.Reason),
		})
	}
	return out
}
