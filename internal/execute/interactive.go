package execute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/output"
	"github.com/agentk-dev/agentk/internal/task"
	"github.com/agentk-dev/agentk/prompts"
)

// InteractiveResult is what a foreground agent run produced.
type InteractiveResult struct {
	Text     string
	Usage    output.Usage
	ExitCode int
	// Structured is false when the CLI printed plain text.
	Structured bool
}

// RunInteractive runs agent in the foreground on a free-form prompt, with
// no task and no background tracking. Non-JSON lines are streamed to w as
// they arrive; once the process exits, the parsed answer is written to w
// when the output was structured. A nonzero exit returns the result and an
// error carrying stderr.
func RunInteractive(ctx context.Context, cfg *config.Config, mode task.Mode, agent, prompt string, w io.Writer) (*InteractiveResult, error) {
	if err := task.ValidateAgent(mode, agent); err != nil {
		return nil, err
	}
	persona, err := prompts.Persona(cfg.Agent.PersonaDir, string(mode), agent)
	if err != nil {
		return nil, err
	}
	full, err := BuildAgentPrompt(time.Now(), persona, &task.Task{
		ID:     "interactive",
		Type:   task.TypeResearch,
		Prompt: prompt,
	}, nil)
	if err != nil {
		return nil, err
	}

	args, found := config.ExpandArgs(cfg.Agent.Args, full)
	if !found {
		args = append(buildClaudeArgs(cfg, full), args...)
	}
	cmd := exec.CommandContext(ctx, cfg.Agent.Command, args...)
	cmd.WaitDelay = cfg.Execution.KillGrace()

	var stdout, stderr bytes.Buffer
	lines := output.NewLineWriter(func(line []byte) {
		if json.Valid(bytes.TrimSpace(line)) {
			return
		}
		fmt.Fprintf(w, "%s\n", line)
	})
	cmd.Stdout = io.MultiWriter(&stdout, lines)
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Agent: agent, TaskID: "interactive", Command: cmd.Path, Err: err}
	}
	waitErr := cmd.Wait()
	lines.Flush()

	res := &InteractiveResult{ExitCode: -1}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if parsed, err := output.Parse(stdout.Bytes()); err == nil {
		res.Text = parsed.Text
		res.Usage = parsed.Usage
		res.Structured = parsed.Structured()
		if res.Structured {
			fmt.Fprintln(w, strings.TrimSpace(parsed.Text))
		}
	}

	if waitErr != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = waitErr.Error()
		}
		return res, fmt.Errorf("%s exited with code %d: %s", agent, res.ExitCode, detail)
	}
	return res, nil
}
