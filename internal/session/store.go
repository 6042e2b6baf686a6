package session

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store provides SQLite-backed persistence for sessions.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the SQLite database at dbPath and creates tables if they don't exist.
func NewStore(dbPath string) (*Store, error) {
	// The run process and status readers share the file; wait on locks
	// instead of failing with SQLITE_BUSY.
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS agent_states (
		session_id TEXT NOT NULL,
		agent TEXT NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (session_id, agent),
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateSession inserts a new, active session and returns it.
func (s *Store) CreateSession(mode string) (*Session, error) {
	sess := &Session{
		ID:        uuid.New().String(),
		Mode:      mode,
		StartedAt: s.stamp(),
		Agents:    map[string]AgentState{},
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, mode, started_at) VALUES (?, ?, ?)`,
		sess.ID, sess.Mode, sess.StartedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return sess, nil
}

// GetSession retrieves a session and its agent rows by id.
func (s *Store) GetSession(id string) (*Session, error) {
	var sess Session
	var ended sql.NullTime
	err := s.db.QueryRow(
		`SELECT id, mode, started_at, ended_at FROM sessions WHERE id = ?`,
		id,
	).Scan(&sess.ID, &sess.Mode, &sess.StartedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	if ended.Valid {
		t := ended.Time.UTC()
		sess.EndedAt = &t
	}
	sess.StartedAt = sess.StartedAt.UTC()

	states, err := s.agentStates(id)
	if err != nil {
		return nil, err
	}
	sess.Agents = make(map[string]AgentState, len(states))
	for _, st := range states {
		sess.Agents[st.Agent] = st
	}

	return &sess, nil
}

func (s *Store) agentStates(sessionID string) ([]AgentState, error) {
	rows, err := s.db.Query(
		`SELECT agent, status, message, updated_at
		 FROM agent_states
		 WHERE session_id = ?
		 ORDER BY agent ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("query agent states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []AgentState
	for rows.Next() {
		var st AgentState
		if err := rows.Scan(&st.Agent, &st.Status, &st.Message, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan agent state: %w", err)
		}
		st.UpdatedAt = st.UpdatedAt.UTC()
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return states, nil
}

// GetLatestActive returns the most recently started session that has not
// ended, or ErrNotFound.
func (s *Store) GetLatestActive() (*Session, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT id FROM sessions
		 WHERE ended_at IS NULL
		 ORDER BY started_at DESC, rowid DESC
		 LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active session", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest session: %w", err)
	}

	return s.GetSession(id)
}

// ListSessions returns up to limit sessions, newest first. A limit of
// zero or less returns all of them.
func (s *Store) ListSessions(limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT s.id, s.mode, s.started_at, s.ended_at, COUNT(a.agent)
		 FROM sessions s
		 LEFT JOIN agent_states a ON a.session_id = s.id
		 GROUP BY s.id
		 ORDER BY s.started_at DESC, s.rowid DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		var ended sql.NullTime
		if err := rows.Scan(&sum.ID, &sum.Mode, &sum.StartedAt, &ended, &sum.Agents); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sum.StartedAt = sum.StartedAt.UTC()
		if ended.Valid {
			t := ended.Time.UTC()
			sum.EndedAt = &t
		}
		summaries = append(summaries, sum)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return summaries, nil
}

// UpdateAgent records the latest status of agent in a session.
func (s *Store) UpdateAgent(sessionID, agent, status, message string) error {
	if err := s.exists(sessionID); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO agent_states (session_id, agent, status, message, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (session_id, agent)
		 DO UPDATE SET status = excluded.status, message = excluded.message, updated_at = excluded.updated_at`,
		sessionID, agent, status, message, s.stamp(),
	)
	if err != nil {
		return fmt.Errorf("upsert agent state: %w", err)
	}

	return nil
}

// MarkEnded sets ended_at on a session. Ending an ended session keeps the
// first timestamp.
func (s *Store) MarkEnded(id string) error {
	if err := s.exists(id); err != nil {
		return err
	}

	_, err := s.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`,
		s.stamp(), id,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}

	return nil
}

func (s *Store) exists(id string) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("query session: %w", err)
	}
	return nil
}
