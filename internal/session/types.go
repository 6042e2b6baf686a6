// Package session provides SQLite-backed persistence for agentk sessions
// and the per-agent status rows shown by status views.
package session

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("session not found")

// Agent status values reported by the supervisor.
const (
	AgentIdle   = "idle"
	AgentActive = "active"
	AgentDone   = "done"
	AgentFailed = "failed"
)

// Session represents one interactive run.
type Session struct {
	ID        string
	Mode      string
	StartedAt time.Time
	EndedAt   *time.Time
	Agents    map[string]AgentState
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// AgentState is the last status an agent reported within a session.
type AgentState struct {
	Agent     string
	Status    string
	Message   string
	UpdatedAt time.Time
}

// Summary provides a high-level view of a session for listing.
type Summary struct {
	ID        string
	Mode      string
	StartedAt time.Time
	EndedAt   *time.Time
	Agents    int
}

// AgentView is the derived status of one agent in a Snapshot.
type AgentView struct {
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Snapshot is the aggregate, read-only state of a session.
type Snapshot struct {
	ID        string         `json:"id"`
	Mode      string         `json:"mode"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Agents    []AgentView    `json:"agents"`
	Tasks     map[string]int `json:"tasks"`
}
