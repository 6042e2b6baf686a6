package cli

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/task"
)

func resetFlags() {
	rootFlag, modeFlag = "", ""
	taskIDFlag, taskAgentFlag, taskReasonFlag = "", "", "cancelled by user"
	taskTypeFlag, taskPriorityFlag = string(task.TypeImplement), 1
	taskDependsFlag, taskFilesFlag, taskStatusFlag = nil, nil, nil
	jsonFlag, keepFlag, dryRunFlag = false, 0, false
}

// runCLI runs the root command with args on fresh global flag state.
func runCLI(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestInitAndTaskCommands(t *testing.T) {
	root := t.TempDir()

	if err := runCLI(t, "--root", root, "init"); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	if _, err := config.ReadConfig(root); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	if err := runCLI(t, "--root", root, "task", "create", "--id", "a", "--agent", "engineer", "write the parser"); err != nil {
		t.Fatalf("task create failed: %v", err)
	}
	if err := runCLI(t, "--root", root, "task", "create", "--id", "b", "--agent", "tester", "--type", "test", "--depends", "a", "test the parser"); err != nil {
		t.Fatalf("task create b failed: %v", err)
	}
	if err := runCLI(t, "--root", root, "task", "cancel", "a", "--reason", "changed plan"); err != nil {
		t.Fatalf("task cancel failed: %v", err)
	}

	store, err := task.NewStore(config.Dir(root), task.ModeDev)
	if err != nil {
		t.Fatal(err)
	}
	a, err := store.Get("a")
	if err != nil {
		t.Fatalf("Get(a) failed: %v", err)
	}
	if a.Status != task.StatusCancelled || a.Error == nil || *a.Error != "changed plan" {
		t.Errorf("a = %s %v, want cancelled with reason", a.Status, a.Error)
	}
	b, _ := store.Get("b")
	if b.Type != task.TypeTest || len(b.Context.Dependencies) != 1 {
		t.Errorf("b = %+v", b)
	}

	events, err := (mustLogger(t, root)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	var created int
	for _, ev := range events {
		if ev.Event == log.EventTaskCreated {
			created++
		}
	}
	if created != 2 {
		t.Errorf("task_created events = %d, want 2", created)
	}
}

func TestTaskCreateRejectsUnknownAgent(t *testing.T) {
	root := t.TempDir()
	err := runCLI(t, "--root", root, "task", "create", "--agent", "researcher", "study")
	if !errors.Is(err, task.ErrUnknownAgent) {
		t.Errorf("err = %v, want ErrUnknownAgent", err)
	}
}

func TestModeFlagOverridesConfig(t *testing.T) {
	root := t.TempDir()
	if err := runCLI(t, "--root", root, "--mode", "ml", "task", "create", "--id", "r", "--agent", "researcher", "--type", "research", "survey"); err != nil {
		t.Fatalf("create in ml mode failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(config.Dir(root), "tasks", "r.json")); err != nil {
		t.Errorf("task file missing: %v", err)
	}
}

func TestCleanDryRunKeepsRuns(t *testing.T) {
	root := t.TempDir()
	runs := filepath.Join(config.Dir(root), "runs")
	old := filepath.Join(runs, time.Now().AddDate(0, 0, -90).UTC().Format("20060102-150405"))
	if err := os.MkdirAll(old, 0755); err != nil {
		t.Fatal(err)
	}

	if err := runCLI(t, "--root", root, "clean", "--dry-run"); err != nil {
		t.Fatalf("clean --dry-run failed: %v", err)
	}
	if _, err := os.Stat(old); err != nil {
		t.Errorf("dry run removed %s", old)
	}

	if err := runCLI(t, "--root", root, "clean"); err != nil {
		t.Fatalf("clean failed: %v", err)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed", old)
	}
}

func TestSessionEndWithoutSession(t *testing.T) {
	root := t.TempDir()
	err := runCLI(t, "--root", root, "session", "end")
	if err == nil || !strings.Contains(err.Error(), "no active session") {
		t.Errorf("err = %v, want no active session", err)
	}
}

func TestFormatEvent(t *testing.T) {
	ev := log.LogEvent{
		Time:         time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local),
		Event:        log.EventAgentExited,
		TaskID:       "t1",
		Agent:        "engineer",
		PID:          4242,
		InputTokens:  10,
		OutputTokens: 5,
	}
	want := "12:00:00 agent_exited task=t1 agent=engineer pid=4242 tokens=10/5"
	if got := formatEvent(ev); got != want {
		t.Errorf("formatEvent = %q, want %q", got, want)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.n); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("fix the bug\nin detail", 60); got != "fix the bug" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine(strings.Repeat("x", 20), 10); got != "xxxxxxx..." {
		t.Errorf("firstLine truncation = %q", got)
	}
}

func mustLogger(t *testing.T, root string) *log.Logger {
	t.Helper()
	l, err := log.NewLogger(root)
	if err != nil {
		t.Fatal(err)
	}
	return l
}
