package session

import (
	"fmt"
	"time"

	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/task"
)

// StatusSource reports the live status of an agent. The process
// supervisor implements it; a nil source falls back to reported rows.
type StatusSource interface {
	GetAgentStatus(agent string) string
}

// Registry ties sessions to the task store they coordinate.
type Registry struct {
	db     *Store
	tasks  *task.Store
	logger *log.Logger
	source StatusSource
}

// NewRegistry returns a Registry. logger may be nil.
func NewRegistry(db *Store, tasks *task.Store, logger *log.Logger) *Registry {
	return &Registry{db: db, tasks: tasks, logger: logger}
}

// SetStatusSource attaches a live status source used by Snapshot and
// AgentStatus.
func (r *Registry) SetStatusSource(src StatusSource) {
	r.source = src
}

// Store returns the underlying session store.
func (r *Registry) Store() *Store {
	return r.db
}

// Start opens a session for the task store's mode with every role idle.
func (r *Registry) Start() (*Session, error) {
	mode := r.tasks.Mode()
	sess, err := r.db.CreateSession(string(mode))
	if err != nil {
		return nil, err
	}
	for _, agent := range task.Roles(mode) {
		if err := r.db.UpdateAgent(sess.ID, agent, AgentIdle, ""); err != nil {
			return nil, err
		}
	}
	r.log(log.LogEvent{Event: log.EventSessionStarted, SessionID: sess.ID, Data: map[string]interface{}{"mode": string(mode)}})
	return r.db.GetSession(sess.ID)
}

// End cancels every pending or in_progress task and marks the session
// ended. It returns the ids it cancelled. Kill running agents first;
// their late exit callbacks are then no-ops against cancelled tasks.
func (r *Registry) End(sessionID string) ([]string, error) {
	if _, err := r.db.GetSession(sessionID); err != nil {
		return nil, err
	}
	cancelled, err := r.tasks.CancelNonTerminal("session ended")
	if err != nil {
		return cancelled, fmt.Errorf("cancelling open tasks: %w", err)
	}
	if err := r.db.MarkEnded(sessionID); err != nil {
		return cancelled, err
	}
	r.log(log.LogEvent{Event: log.EventSessionEnded, SessionID: sessionID, Data: map[string]interface{}{"cancelled": len(cancelled)}})
	return cancelled, nil
}

// Reporter returns a status reporter bound to sessionID.
func (r *Registry) Reporter(sessionID string) *Reporter {
	return &Reporter{db: r.db, sessionID: sessionID}
}

// AgentStatus returns the derived status of one agent: the live source
// when it knows more than "idle", otherwise the last reported row.
func (r *Registry) AgentStatus(sessionID, agent string) (AgentView, error) {
	sess, err := r.db.GetSession(sessionID)
	if err != nil {
		return AgentView{}, err
	}
	return r.view(sess, agent), nil
}

// Snapshot returns the aggregate state of a session: every role's derived
// status and task counts by status.
func (r *Registry) Snapshot(sessionID string) (*Snapshot, error) {
	sess, err := r.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:        sess.ID,
		Mode:      sess.Mode,
		StartedAt: sess.StartedAt,
		EndedAt:   sess.EndedAt,
		Tasks:     map[string]int{},
	}

	names := task.Roles(task.Mode(sess.Mode))
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}
	for n := range sess.Agents {
		if !known[n] {
			names = append(names, n)
		}
	}
	for _, n := range names {
		snap.Agents = append(snap.Agents, r.view(sess, n))
	}

	tasks, err := r.tasks.List()
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		snap.Tasks[string(t.Status)]++
	}

	return snap, nil
}

func (r *Registry) view(sess *Session, agent string) AgentView {
	v := AgentView{Name: agent, Status: AgentIdle}
	if st, ok := sess.Agents[agent]; ok {
		v.Status = st.Status
		v.Message = st.Message
		at := st.UpdatedAt
		v.UpdatedAt = &at
	}
	if r.source != nil && sess.Active() {
		if live := r.source.GetAgentStatus(agent); live != AgentIdle {
			v.Status = live
		}
	}
	return v
}

func (r *Registry) log(ev log.LogEvent) {
	if r.logger == nil {
		return
	}
	ev.Time = time.Now().UTC()
	r.logger.Warn(ev)
}

// Reporter writes agent status changes into one session.
type Reporter struct {
	db        *Store
	sessionID string
}

// UpdateAgent records status and message for agent.
func (p *Reporter) UpdateAgent(agent, status, message string) error {
	return p.db.UpdateAgent(p.sessionID, agent, status, message)
}
