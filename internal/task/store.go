package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// lockStripes is the number of in-process mutexes task ids hash onto.
const lockStripes = 64

// Store persists Tasks and Results as one JSON file per record under
// <root>/tasks and <root>/results. Writes to one task id are serialized by
// an in-process mutex, picked from a fixed set by hashing the id, plus an
// advisory file lock, so several processes may share a workspace. Every
// write is a write-to-temp-then-rename, so readers never observe a partial
// record.
type Store struct {
	root string
	mode Mode
	now  func() time.Time

	locks [lockStripes]sync.Mutex

	notifyMu sync.Mutex
	changed  chan struct{}
}

// NewStore opens (creating if needed) a store rooted at root. mode selects
// the agent roles accepted as assignees.
func NewStore(root string, mode Mode) (*Store, error) {
	for _, dir := range []string{"tasks", "results"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return &Store{
		root:    root,
		mode:    mode,
		now:     func() time.Time { return time.Now().UTC() },
		changed: make(chan struct{}),
	}, nil
}

// SetClock replaces the clock used for every timestamp. Tests only.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Mode returns the agent mode the store validates assignees against.
func (s *Store) Mode() Mode {
	return s.mode
}

// stamp returns the current time at one-second precision.
func (s *Store) stamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Store) taskPath(id string) string {
	return filepath.Join(s.root, "tasks", id+".json")
}

func (s *Store) resultPath(id string) string {
	return filepath.Join(s.root, "results", id+".json")
}

func (s *Store) lockPath(id string) string {
	return filepath.Join(s.root, "tasks", "."+id+".lock")
}

// lock serializes writers on one task id, in this process and across processes.
func (s *Store) lock(id string) (func(), error) {
	if !idPattern.MatchString(id) {
		return nil, &NotFoundError{Kind: "task", ID: id}
	}
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &s.locks[h.Sum32()%lockStripes]

	m.Lock()
	release, err := lockFile(s.lockPath(id))
	if err != nil {
		m.Unlock()
		return nil, fmt.Errorf("lock task %s: %w", id, err)
	}
	return func() {
		release()
		m.Unlock()
	}, nil
}

// Create validates spec and writes a new pending Task.
func (s *Store) Create(spec NewTask) (*Task, error) {
	if !spec.Type.Valid() {
		return nil, fmt.Errorf("invalid task type %q", spec.Type)
	}
	if err := ValidateAgent(s.mode, spec.AssignedTo); err != nil {
		return nil, err
	}

	now := s.stamp()
	id := spec.ID
	if id == "" {
		id = fmt.Sprintf("task_%d_%s", now.Unix(), uuid.NewString()[:8])
	}
	if !idPattern.MatchString(id) {
		return nil, fmt.Errorf("invalid task id %q", id)
	}

	deps := dedupe(spec.Dependencies)
	for _, dep := range deps {
		if dep == id {
			return nil, fmt.Errorf("task %s cannot depend on itself", id)
		}
	}

	t := &Task{
		ID:         id,
		Type:       spec.Type,
		Status:     StatusPending,
		AssignedTo: spec.AssignedTo,
		Priority:   spec.Priority,
		CreatedAt:  now,
		Prompt:     spec.Prompt,
		Context: Context{
			Files:        nonNil(spec.Files),
			Dependencies: deps,
		},
	}

	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, err := os.Stat(s.taskPath(id)); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrExists, id)
	}
	if err := writeJSONAtomic(s.taskPath(id), t); err != nil {
		return nil, fmt.Errorf("write task %s: %w", id, err)
	}
	s.broadcast()
	return t, nil
}

// Get loads a Task. A missing id yields a *NotFoundError.
func (s *Store) Get(id string) (*Task, error) {
	if !idPattern.MatchString(id) {
		return nil, &NotFoundError{Kind: "task", ID: id}
	}
	var t Task
	if err := readJSON(s.taskPath(id), &t); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Kind: "task", ID: id}
		}
		return nil, fmt.Errorf("read task %s: %w", id, err)
	}
	return &t, nil
}

// GetResult loads the Result for a task id.
func (s *Store) GetResult(taskID string) (*Result, error) {
	if !idPattern.MatchString(taskID) {
		return nil, &NotFoundError{Kind: "result", ID: taskID}
	}
	var r Result
	if err := readJSON(s.resultPath(taskID), &r); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NotFoundError{Kind: "result", ID: taskID}
		}
		return nil, fmt.Errorf("read result %s: %w", taskID, err)
	}
	return &r, nil
}

// mutate runs fn on a fresh copy of the task under the task's lock and
// replaces the record atomically when fn returns nil.
func (s *Store) mutate(id string, fn func(t *Task) error) (*Task, error) {
	unlock, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	if err := writeJSONAtomic(s.taskPath(id), t); err != nil {
		return nil, fmt.Errorf("write task %s: %w", id, err)
	}
	s.broadcast()
	return t, nil
}

// applyStatus moves t to status, stamping started_at/completed_at.
func (s *Store) applyStatus(t *Task, status Status) error {
	if !CanTransition(t.Status, status) {
		return &TransitionError{ID: t.ID, From: t.Status, To: status}
	}
	now := s.stamp()
	t.Status = status
	if status == StatusInProgress {
		t.StartedAt = &now
	}
	if status.Terminal() {
		t.CompletedAt = &now
	}
	return nil
}

// UpdateStatus moves a task along the state machine. Backward or
// otherwise illegal moves return a *TransitionError.
func (s *Store) UpdateStatus(id string, status Status) error {
	_, err := s.mutate(id, func(t *Task) error {
		return s.applyStatus(t, status)
	})
	return err
}

// Cancel moves a non-terminal task to cancelled and records reason.
func (s *Store) Cancel(id, reason string) error {
	_, err := s.mutate(id, func(t *Task) error {
		if err := s.applyStatus(t, StatusCancelled); err != nil {
			return err
		}
		if reason != "" {
			t.Error = &reason
		}
		return nil
	})
	return err
}

// UpdateField sets one non-status attribute. Terminal tasks are frozen.
func (s *Store) UpdateField(id string, field Field, value any) error {
	_, err := s.mutate(id, func(t *Task) error {
		if t.Status.Terminal() {
			return fmt.Errorf("task %s: cannot update %s: %w", id, field, ErrTerminal)
		}
		return s.setField(t, field, value)
	})
	return err
}

func (s *Store) setField(t *Task, field Field, value any) error {
	switch field {
	case FieldPrompt:
		v, ok := value.(string)
		if !ok {
			return fieldTypeError(field, "string", value)
		}
		t.Prompt = v
	case FieldPriority:
		v, ok := value.(int)
		if !ok {
			return fieldTypeError(field, "int", value)
		}
		t.Priority = v
	case FieldAssignedTo:
		v, ok := value.(string)
		if !ok {
			return fieldTypeError(field, "string", value)
		}
		if err := ValidateAgent(s.mode, v); err != nil {
			return err
		}
		t.AssignedTo = v
	case FieldError:
		v, ok := value.(string)
		if !ok {
			return fieldTypeError(field, "string", value)
		}
		t.Error = &v
	case FieldFiles:
		v, ok := value.([]string)
		if !ok {
			return fieldTypeError(field, "[]string", value)
		}
		t.Context.Files = nonNil(v)
	case FieldDependencies:
		v, ok := value.([]string)
		if !ok {
			return fieldTypeError(field, "[]string", value)
		}
		deps := dedupe(v)
		for _, dep := range deps {
			if dep == t.ID {
				return fmt.Errorf("task %s cannot depend on itself", t.ID)
			}
		}
		t.Context.Dependencies = deps
	default:
		return fmt.Errorf("unknown task field %q", field)
	}
	return nil
}

func fieldTypeError(field Field, want string, got any) error {
	return fmt.Errorf("field %s wants %s, got %T", field, want, got)
}

// CreateResult records the outcome of a task and moves the task to the
// result's terminal status in the same locked step. Only one Result may
// exist per task; a task that is already terminal is left untouched.
func (s *Store) CreateResult(spec NewResult) (*Result, error) {
	if !spec.Status.Terminal() {
		return nil, fmt.Errorf("result status must be terminal, got %q", spec.Status)
	}

	unlock, err := s.lock(spec.TaskID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.Get(spec.TaskID)
	if err != nil {
		return nil, fmt.Errorf("create result: %w", err)
	}
	if _, err := os.Stat(s.resultPath(spec.TaskID)); err == nil {
		return nil, fmt.Errorf("task %s: %w", spec.TaskID, ErrResultExists)
	}
	if err := s.applyStatus(t, spec.Status); err != nil {
		return nil, err
	}

	r := &Result{
		TaskID:        spec.TaskID,
		Agent:         spec.Agent,
		Status:        spec.Status,
		Output:        spec.Output,
		FilesModified: nonNil(spec.FilesModified),
		NextSteps:     nonNil(spec.NextSteps),
		CompletedAt:   *t.CompletedAt,
	}
	ref := spec.TaskID
	t.Result = &ref
	if spec.Status == StatusFailed && t.Error == nil {
		detail := strings.TrimSpace(spec.Output)
		if detail == "" {
			detail = "agent exited with failure"
		}
		t.Error = &detail
	}

	if err := writeJSONAtomic(s.resultPath(spec.TaskID), r); err != nil {
		return nil, fmt.Errorf("write result %s: %w", spec.TaskID, err)
	}
	if err := writeJSONAtomic(s.taskPath(spec.TaskID), t); err != nil {
		_ = os.Remove(s.resultPath(spec.TaskID))
		return nil, fmt.Errorf("write task %s: %w", spec.TaskID, err)
	}
	s.broadcast()
	return r, nil
}

// List returns tasks ordered by creation time. With filters, only tasks
// whose status is one of them are returned.
func (s *Store) List(filters ...Status) ([]*Task, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "tasks"))
	if err != nil {
		return nil, fmt.Errorf("reading tasks directory: %w", err)
	}

	want := make(map[Status]bool, len(filters))
	for _, f := range filters {
		want[f] = true
	}

	var tasks []*Task
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		t, err := s.Get(strings.TrimSuffix(name, ".json"))
		if err != nil {
			// Deleted between ReadDir and Get.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if len(want) > 0 && !want[t.Status] {
			continue
		}
		tasks = append(tasks, t)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
	return tasks, nil
}

// Delete removes a task together with its result.
func (s *Store) Delete(id string) error {
	if !idPattern.MatchString(id) {
		return &NotFoundError{Kind: "task", ID: id}
	}
	unlock, err := s.lock(id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := os.Remove(s.taskPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &NotFoundError{Kind: "task", ID: id}
		}
		return fmt.Errorf("remove task %s: %w", id, err)
	}
	if err := os.Remove(s.resultPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove result %s: %w", id, err)
	}
	s.broadcast()
	return nil
}

// CancelNonTerminal cancels every pending or in_progress task and returns
// the ids it cancelled. Tasks that finish concurrently are skipped.
func (s *Store) CancelNonTerminal(reason string) ([]string, error) {
	open, err := s.List(StatusPending, StatusInProgress)
	if err != nil {
		return nil, err
	}
	var cancelled []string
	for _, t := range open {
		err := s.Cancel(t.ID, reason)
		if err == nil {
			cancelled = append(cancelled, t.ID)
			continue
		}
		if errors.Is(err, ErrTerminal) || errors.Is(err, ErrNotFound) {
			continue
		}
		return cancelled, err
	}
	return cancelled, nil
}

// Wait blocks until the task reaches a terminal status or ctx ends. It
// wakes on in-process writes and re-reads every poll interval to observe
// writes made by other processes.
func (s *Store) Wait(ctx context.Context, id string, poll time.Duration) (*Task, error) {
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		changed := s.changes()
		t, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if t.Status.Terminal() {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-changed:
		case <-ticker.C:
		}
	}
}

func (s *Store) changes() <-chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.changed
}

func (s *Store) broadcast() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	close(s.changed)
	s.changed = make(chan struct{})
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
