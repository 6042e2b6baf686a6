// Package api serves a read-only JSON view of the task store, agent
// statuses and the current session.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/agentk-dev/agentk/internal/session"
	"github.com/agentk-dev/agentk/internal/task"
)

// Options configures a Server. Sessions, SessionID and Agents are
// optional; without them /session answers 404 and agent statuses come
// from whichever source is present.
type Options struct {
	// Addr defaults to a random localhost port.
	Addr      string
	Store     *task.Store
	Resolver  *task.Resolver
	Sessions  *session.Registry
	SessionID string
	Agents    session.StatusSource
}

// Server is the status HTTP server.
type Server struct {
	opts     Options
	listener net.Listener
	server   *http.Server
}

// NewServer creates a server bound to opts.Addr.
func NewServer(opts Options) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("api: server needs a task store")
	}
	if opts.Resolver == nil {
		opts.Resolver = task.NewResolver(opts.Store, task.PolicyBlock)
	}
	addr := opts.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("api: binding listener: %w", err)
	}

	s := &Server{opts: opts, listener: ln}
	s.server = &http.Server{Handler: s.Handler()}
	return s, nil
}

// Handler returns the route table. Every route is GET only.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /tasks", s.handleListTasks)
	mux.HandleFunc("GET /tasks/{id}", s.handleGetTask)
	mux.HandleFunc("GET /tasks/{id}/result", s.handleGetResult)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /agents/{name}", s.handleAgent)
	mux.HandleFunc("GET /session", s.handleSession)
	return mux
}

// Addr returns the address the server is listening on (e.g. "127.0.0.1:12345").
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving HTTP requests. It blocks until the server stops;
// a clean shutdown returns nil.
func (s *Server) Start() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Close stops the server immediately and releases the listener.
func (s *Server) Close() error {
	err := s.server.Close()
	if lerr := s.listener.Close(); err == nil && lerr != nil && !errors.Is(lerr, net.ErrClosed) {
		err = lerr
	}
	return err
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var filters []task.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			st := task.Status(strings.TrimSpace(part))
			if !st.Valid() {
				writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", part))
				return
			}
			filters = append(filters, st)
		}
	}

	tasks, err := s.opts.Store.List(filters...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, TaskList{Tasks: nonNil(tasks), Count: len(tasks)})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.opts.Store.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.opts.Store.Get(id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	res, err := s.opts.Store.GetResult(id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	ready, err := s.opts.Resolver.Ready()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	blocked, err := s.opts.Resolver.Blocked()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, ReadyResponse{Ready: nonNil(ready), Blocked: blockedViews(blocked)})
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := task.ValidateAgent(s.opts.Store.Mode(), name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	view := session.AgentView{Name: name, Status: session.AgentIdle}
	switch {
	case s.opts.Sessions != nil && s.opts.SessionID != "":
		v, err := s.opts.Sessions.AgentStatus(s.opts.SessionID, name)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		view = v
	case s.opts.Agents != nil:
		view.Status = s.opts.Agents.GetAgentStatus(name)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Sessions == nil || s.opts.SessionID == "" {
		writeError(w, http.StatusNotFound, errors.New("no session"))
		return
	}
	snap, err := s.opts.Sessions.Snapshot(s.opts.SessionID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// --- Helpers ---

func statusFor(err error) int {
	if errors.Is(err, task.ErrNotFound) || errors.Is(err, session.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, ErrorResponse{Error: err.Error()})
}

func nonNil(tasks []*task.Task) []*task.Task {
	if tasks == nil {
		return []*task.Task{}
	}
	return tasks
}
