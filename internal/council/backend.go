package council

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/output"
)

// ErrNoBackend is returned when no backend can take part in a run.
var ErrNoBackend = errors.New("no backend available")

// BackendUnavailableError reports why a backend was left out of a run.
type BackendUnavailableError struct {
	Backend string
	Reason  string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %s", e.Backend, e.Reason)
}

// Reply is one model answer and the tokens it cost.
type Reply struct {
	Text  string
	Usage output.Usage
}

// Backend is a model provider the council can query.
type Backend interface {
	Name() string
	// Available returns a *BackendUnavailableError when the backend cannot
	// be used, for example because its binary or credential is missing.
	Available() error
	Complete(ctx context.Context, prompt string) (Reply, error)
}

// CLIBackend queries a model through its command line client.
type CLIBackend struct {
	cfg       config.BackendConfig
	waitDelay time.Duration
	lookPath  func(string) (string, error)
	getenv    func(string) string
}

// NewCLIBackend returns a backend that runs cfg.Command.
func NewCLIBackend(cfg config.BackendConfig) *CLIBackend {
	return &CLIBackend{
		cfg:       cfg,
		waitDelay: 2 * time.Second,
		lookPath:  exec.LookPath,
		getenv:    os.Getenv,
	}
}

// BackendsFromConfig builds a CLIBackend for every configured backend.
func BackendsFromConfig(cfg config.CouncilConfig) []Backend {
	out := make([]Backend, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		out = append(out, NewCLIBackend(b))
	}
	return out
}

func (b *CLIBackend) Name() string {
	return b.cfg.Name
}

// Available checks the command is on PATH and, when credential variables
// are configured, that at least one of them is set.
func (b *CLIBackend) Available() error {
	if _, err := b.lookPath(b.cfg.Command); err != nil {
		return &BackendUnavailableError{Backend: b.cfg.Name, Reason: fmt.Sprintf("%s not found", b.cfg.Command)}
	}
	if len(b.cfg.CredentialEnv) == 0 {
		return nil
	}
	for _, env := range b.cfg.CredentialEnv {
		if b.getenv(env) != "" {
			return nil
		}
	}
	return &BackendUnavailableError{
		Backend: b.cfg.Name,
		Reason:  "missing credential: set " + strings.Join(b.cfg.CredentialEnv, " or "),
	}
}

// Complete runs the client once and parses whatever it printed. The
// process is killed when ctx ends.
func (b *CLIBackend) Complete(ctx context.Context, prompt string) (Reply, error) {
	args, found := config.ExpandArgs(b.cfg.Args, prompt)
	if !found {
		args = append(args, prompt)
	}
	cmd := exec.CommandContext(ctx, b.cfg.Command, args...)
	cmd.WaitDelay = b.waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			detail = err.Error()
		}
		return Reply{}, fmt.Errorf("%s: %s", b.cfg.Name, detail)
	}

	parsed, err := output.Parse(stdout.Bytes())
	if err != nil {
		return Reply{}, fmt.Errorf("%s: %w", b.cfg.Name, err)
	}
	if parsed.IsError {
		return Reply{}, fmt.Errorf("%s reported an error: %s", b.cfg.Name, parsed.Text)
	}
	return Reply{Text: strings.TrimSpace(parsed.Text), Usage: parsed.Usage}, nil
}
