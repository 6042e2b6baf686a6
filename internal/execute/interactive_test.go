package execute

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/task"
	"github.com/agentk-dev/agentk/internal/testutil"
)

func interactiveConfig(t *testing.T, script string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Agent.Command = testutil.FakeCLI(t, script)
	return cfg
}

func TestRunInteractiveStructured(t *testing.T) {
	cfg := interactiveConfig(t, testutil.EchoScript(testutil.ClaudeResult("use a channel", 42, 7), 0))

	var out bytes.Buffer
	res, err := RunInteractive(context.Background(), cfg, task.ModeDev, task.AgentEngineer, "how?", &out)
	if err != nil {
		t.Fatalf("RunInteractive failed: %v", err)
	}
	if !res.Structured {
		t.Error("Structured = false, want true")
	}
	if res.Usage.Input != 42 || res.Usage.Output != 7 {
		t.Errorf("Usage = %+v, want 42/7", res.Usage)
	}
	if strings.TrimSpace(out.String()) != "use a channel" {
		t.Errorf("displayed %q, want only the answer", out.String())
	}
}

func TestRunInteractivePlainTextFallback(t *testing.T) {
	cfg := interactiveConfig(t, testutil.EchoScript("line one\nline two", 0))

	var out bytes.Buffer
	res, err := RunInteractive(context.Background(), cfg, task.ModeDev, task.AgentScout, "news?", &out)
	if err != nil {
		t.Fatalf("RunInteractive failed: %v", err)
	}
	if res.Structured {
		t.Error("Structured = true for plain text")
	}
	if out.String() != "line one\nline two\n" {
		t.Errorf("displayed %q", out.String())
	}
	if res.Usage.Total() != 0 {
		t.Errorf("Usage = %+v, want zero", res.Usage)
	}
}

func TestRunInteractiveFailure(t *testing.T) {
	cfg := interactiveConfig(t, "echo 'rate limited' >&2\nexit 3")

	var out bytes.Buffer
	res, err := RunInteractive(context.Background(), cfg, task.ModeDev, task.AgentTester, "x", &out)
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want stderr detail", err)
	}
	if res == nil || res.ExitCode != 3 {
		t.Errorf("res = %+v, want exit code 3", res)
	}
}

func TestRunInteractiveSpawnError(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Command = "/nonexistent/agentk-test-cli"

	_, err := RunInteractive(context.Background(), cfg, task.ModeDev, task.AgentTester, "x", &bytes.Buffer{})
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Errorf("err = %v, want *SpawnError", err)
	}
}
