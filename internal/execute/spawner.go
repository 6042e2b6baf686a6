// spawner.go launches agent CLI processes and records their Results.
package execute

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/output"
	"github.com/agentk-dev/agentk/internal/task"
	"github.com/agentk-dev/agentk/prompts"
)

// SpawnAgent starts agent on taskID in the background. The task must be
// ready; it moves to in_progress once the process has started. When the
// process exits a Result is written: completed on exit code 0, failed
// otherwise. A process that cannot be started yields a *SpawnError and
// leaves the task pending.
func (s *Supervisor) SpawnAgent(agent, taskID string) (*Handle, error) {
	mode := s.store.Mode()
	if err := task.ValidateAgent(mode, agent); err != nil {
		return nil, err
	}
	t, err := s.resolver.CheckReady(taskID)
	if err != nil {
		if errors.Is(err, task.ErrBlocked) {
			return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
		}
		return nil, err
	}

	h, err := s.registry.reserve(agent, taskID)
	if err != nil {
		return nil, err
	}

	persona, err := prompts.Persona(s.cfg.Agent.PersonaDir, string(mode), agent)
	if err != nil {
		s.registry.release(h)
		return nil, err
	}
	prompt, err := BuildAgentPrompt(s.now(), persona, t, s.dependencyResults(t))
	if err != nil {
		s.registry.release(h)
		return nil, err
	}

	inputPath := filepath.Join(s.runDir, "inputs", taskID+".md")
	if err := os.WriteFile(inputPath, []byte(prompt), 0644); err != nil {
		s.registry.release(h)
		return nil, fmt.Errorf("writing input for task %s: %w", taskID, err)
	}

	logFile, err := os.OpenFile(filepath.Join(s.runDir, "logs", agent+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.registry.release(h)
		return nil, fmt.Errorf("opening log for %s: %w", agent, err)
	}
	fmt.Fprintf(logFile, "=== %s task %s ===\n", s.now().UTC().Format(time.RFC3339), taskID)

	cmd := s.command(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = io.MultiWriter(logFile, &stdout)
	cmd.Stderr = io.MultiWriter(logFile, &stderr)
	cmd.WaitDelay = s.cfg.Execution.KillGrace()
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		s.registry.release(h)
		return nil, &SpawnError{Agent: agent, TaskID: taskID, Command: cmd.Path, Err: err}
	}
	h.cmd = cmd
	h.PID = cmd.Process.Pid
	h.StartedAt = s.now()

	if err := s.store.UpdateStatus(taskID, task.StatusInProgress); err != nil {
		// The task moved on (cancelled or taken) between the readiness check and now.
		_ = forceKill(h.PID)
		_ = cmd.Wait()
		logFile.Close()
		s.registry.release(h)
		close(h.done)
		return nil, fmt.Errorf("starting task %s: %w", taskID, err)
	}
	s.registry.activate(h)

	if timeout := s.cfg.Execution.TaskTimeout(); timeout > 0 {
		h.timer = time.AfterFunc(timeout, func() {
			h.markTimedOut()
			s.logger.Warn(log.LogEvent{
				Event:  log.EventAgentTimeout,
				Agent:  agent,
				TaskID: taskID,
				PID:    h.PID,
			})
			s.stop(h)
		})
	}

	s.logger.Warn(log.LogEvent{
		Event:  log.EventAgentSpawned,
		Agent:  agent,
		TaskID: taskID,
		PID:    h.PID,
	})
	s.report(agent, "active", "working on "+taskID)

	go s.watch(h, &stdout, &stderr, logFile)
	return h, nil
}

// watch waits for the process, records its Result and closes h.done.
func (s *Supervisor) watch(h *Handle, stdout, stderr *bytes.Buffer, logFile *os.File) {
	waitErr := h.cmd.Wait()
	if h.timer != nil {
		h.timer.Stop()
	}
	logFile.Close()

	code := -1
	if h.cmd.ProcessState != nil {
		code = h.cmd.ProcessState.ExitCode()
	}

	var usage output.Usage
	status := task.StatusCompleted
	var out string
	switch {
	case h.wasTimedOut():
		status = task.StatusFailed
		out = joinNonEmpty(
			fmt.Sprintf("timed out after %s", s.cfg.Execution.TaskTimeout()),
			stderr.String(),
		)
	case code == 0 && waitErr == nil:
		if parsed, err := output.Parse(stdout.Bytes()); err == nil {
			out = parsed.Text
			usage = parsed.Usage
		}
	default:
		status = task.StatusFailed
		out = joinNonEmpty(stderr.String(), stdout.String())
		if out == "" {
			out = fmt.Sprintf("exit code %d", code)
			if waitErr != nil {
				out = waitErr.Error()
			}
		}
	}

	_, err := s.store.CreateResult(task.NewResult{
		TaskID: h.TaskID,
		Agent:  h.AgentName,
		Status: status,
		Output: out,
	})
	late := errors.Is(err, task.ErrTerminal) || errors.Is(err, task.ErrResultExists)
	if err != nil && !late {
		fmt.Fprintf(os.Stderr, "Warning: failed to record result for task %s: %v\n", h.TaskID, err)
	}

	h.exitCode = code
	event := log.LogEvent{
		Event:        log.EventAgentExited,
		Agent:        h.AgentName,
		TaskID:       h.TaskID,
		PID:          h.PID,
		ExitCode:     code,
		Status:       string(status),
		InputTokens:  usage.Input,
		OutputTokens: usage.Output,
		DurationMs:   time.Since(h.StartedAt).Milliseconds(),
	}
	if late {
		event.Data = map[string]interface{}{"ignored": "task already terminal"}
	}
	s.logger.Warn(event)

	if !late {
		if status == task.StatusCompleted {
			s.report(h.AgentName, "done", "completed "+h.TaskID)
		} else {
			s.report(h.AgentName, "failed", "failed "+h.TaskID)
		}
	}

	close(h.done)
	s.broadcast()
}

// command builds the agent CLI invocation. Args containing the prompt
// placeholder are used as given; otherwise the default Claude flags come
// first and the configured args are appended.
func (s *Supervisor) command(prompt string) *exec.Cmd {
	args, found := config.ExpandArgs(s.cfg.Agent.Args, prompt)
	if !found {
		args = append(buildClaudeArgs(s.cfg, prompt), args...)
	}
	cmd := exec.Command(s.cfg.Agent.Command, args...)
	cmd.Dir = s.workDir
	return cmd
}

// buildClaudeArgs constructs the CLI argument slice for a Claude invocation.
func buildClaudeArgs(cfg *config.Config, prompt string) []string {
	args := []string{
		"-p", prompt,
		"--output-format", "json",
		"--dangerously-skip-permissions",
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	return args
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
