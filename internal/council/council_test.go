package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/output"
)

// trace records the stage of every backend call in arrival order.
type trace struct {
	mu     sync.Mutex
	stages []Stage
}

func (tr *trace) add(s Stage) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.stages = append(tr.stages, s)
}

type fakeBackend struct {
	name        string
	unavailable string
	usage       output.Usage
	fail        map[Stage]bool
	block       bool
	trace       *trace

	mu      sync.Mutex
	prompts []string
}

func stageOf(prompt string) Stage {
	switch {
	case strings.Contains(prompt, "collect current facts"):
		return StageScout
	case strings.Contains(prompt, "Critique each answer"):
		return Stage2
	case strings.Contains(prompt, "You chair a panel"):
		return Stage3
	}
	return Stage1
}

func (f *fakeBackend) Name() string { return f.name }

func (f *fakeBackend) Available() error {
	if f.unavailable != "" {
		return &BackendUnavailableError{Backend: f.name, Reason: f.unavailable}
	}
	return nil
}

func (f *fakeBackend) Complete(ctx context.Context, prompt string) (Reply, error) {
	st := stageOf(prompt)
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	if f.trace != nil {
		f.trace.add(st)
	}
	if f.block {
		<-ctx.Done()
		return Reply{}, ctx.Err()
	}
	if f.fail[st] {
		return Reply{}, fmt.Errorf("%s broke", f.name)
	}
	return Reply{Text: f.name + " " + string(st), Usage: f.usage}, nil
}

func (f *fakeBackend) promptsFor(st Stage) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, p := range f.prompts {
		if stageOf(p) == st {
			out = append(out, p)
		}
	}
	return out
}

type updateLog struct {
	mu      sync.Mutex
	updates []StageUpdate
}

func (l *updateLog) record(u StageUpdate) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func TestCouncilRunExcludesUnavailableBackend(t *testing.T) {
	tr := &trace{}
	claude := &fakeBackend{name: "claude", usage: output.Usage{Input: 10, Output: 5}, trace: tr}
	gemini := &fakeBackend{name: "gemini", usage: output.Usage{Input: 7, Output: 3}, trace: tr}
	codex := &fakeBackend{name: "codex", unavailable: "missing credential", trace: tr}

	logger, err := log.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	c := New([]Backend{claude, gemini, codex}, Options{Chairman: "claude", Logger: logger})

	var got updateLog
	res, err := c.Run(context.Background(), "Which queue should we use?", got.record)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if res.Excluded["codex"] == "" {
		t.Errorf("Excluded = %v, want codex", res.Excluded)
	}
	if res.Chairman != "claude" || res.FinalResponse != "claude stage3" {
		t.Errorf("final = %q by %q", res.FinalResponse, res.Chairman)
	}
	if len(res.Stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(res.Stages))
	}
	if len(res.Stages[0].Responses) != 2 || res.Stages[0].Responses["gemini"] != "gemini stage1" {
		t.Errorf("stage1 responses = %v", res.Stages[0].Responses)
	}
	if len(res.Stages[1].Responses) != 2 {
		t.Errorf("stage2 reviews = %v", res.Stages[1].Responses)
	}

	// 2 stage-1 calls, 2 reviews, 1 synthesis.
	want := output.Usage{Input: 10*3 + 7*2, Output: 5*3 + 3*2}
	if res.TotalTokens != want {
		t.Errorf("TotalTokens = %+v, want %+v", res.TotalTokens, want)
	}
	if len(codex.prompts) != 0 {
		t.Errorf("unavailable backend was called %d times", len(codex.prompts))
	}

	// Every stage-2 prompt quotes both stage-1 answers.
	for _, p := range gemini.promptsFor(Stage2) {
		if !strings.Contains(p, "claude stage1") || !strings.Contains(p, "gemini stage1") {
			t.Errorf("review prompt lacks answers:\n%s", p)
		}
	}

	events, _ := logger.ReadAll()
	var excluded, complete int
	for _, ev := range events {
		switch ev.Event {
		case log.EventBackendExcluded:
			excluded++
		case log.EventCouncilComplete:
			complete++
		}
	}
	if excluded != 1 || complete != 1 {
		t.Errorf("logged %d exclusions and %d completions, want 1 each", excluded, complete)
	}
}

func TestCouncilStagesAreSequential(t *testing.T) {
	tr := &trace{}
	var backends []Backend
	for _, n := range []string{"a", "b", "c", "d"} {
		backends = append(backends, &fakeBackend{name: n, usage: output.Usage{Input: 1, Output: 1}, trace: tr})
	}
	c := New(backends, Options{Scout: true})

	var got updateLog
	if _, err := c.Run(context.Background(), "q", got.record); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	rank := map[Stage]int{StageScout: 0, Stage1: 1, Stage2: 2, Stage3: 3}
	for i := 1; i < len(tr.stages); i++ {
		if rank[tr.stages[i]] < rank[tr.stages[i-1]] {
			t.Fatalf("call order went backwards: %v", tr.stages)
		}
	}
	for i := 1; i < len(got.updates); i++ {
		if got.updates[i].Number < got.updates[i-1].Number {
			t.Fatalf("update %d (%s) after %s", i, got.updates[i].Stage, got.updates[i-1].Stage)
		}
	}

	// Each stage closes with exactly one Done update, after its call updates.
	for _, st := range []Stage{StageScout, Stage1, Stage2, Stage3} {
		var done, after int
		for _, u := range got.updates {
			if u.Stage != st {
				continue
			}
			if u.Done {
				done++
			} else if done > 0 {
				after++
			}
		}
		if done != 1 || after != 0 {
			t.Errorf("%s: %d done updates, %d call updates after done", st, done, after)
		}
	}
}

func TestCouncilTokenTotalsAreRunningSums(t *testing.T) {
	backends := []Backend{
		&fakeBackend{name: "a", usage: output.Usage{Input: 3, Output: 1}},
		&fakeBackend{name: "b", usage: output.Usage{Input: 5, Output: 2}},
	}
	c := New(backends, Options{Scout: true})

	var got updateLog
	res, err := c.Run(context.Background(), "q", got.record)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var sum output.Usage
	for _, call := range res.Calls {
		sum.Add(call.Usage)
	}
	if sum != res.TotalTokens {
		t.Errorf("sum of calls %+v != TotalTokens %+v", sum, res.TotalTokens)
	}

	var prev output.Usage
	for _, u := range got.updates {
		if u.TotalTokens.Input < prev.Input || u.TotalTokens.Output < prev.Output {
			t.Fatalf("running total decreased: %+v after %+v", u.TotalTokens, prev)
		}
		prev = u.TotalTokens
	}
	if last := got.updates[len(got.updates)-1]; last.TotalTokens != res.TotalTokens {
		t.Errorf("last update total %+v, result %+v", last.TotalTokens, res.TotalTokens)
	}
}

func TestCouncilNoBackend(t *testing.T) {
	c := New([]Backend{
		&fakeBackend{name: "gemini", unavailable: "missing credential"},
	}, Options{})

	_, err := c.Run(context.Background(), "q", nil)
	if !errors.Is(err, ErrNoBackend) {
		t.Fatalf("err = %v, want ErrNoBackend", err)
	}
	if !strings.Contains(err.Error(), "gemini: ") {
		t.Errorf("error %q does not name the excluded backend", err)
	}

	if _, err := New(nil, Options{}).Run(context.Background(), "q", nil); !errors.Is(err, ErrNoBackend) {
		t.Errorf("empty backend list err = %v, want ErrNoBackend", err)
	}
}

func TestCouncilSoloMode(t *testing.T) {
	claude := &fakeBackend{name: "claude", usage: output.Usage{Input: 2, Output: 2}}
	gemini := &fakeBackend{name: "gemini"}
	c := New([]Backend{gemini, claude}, Options{
		Mode:        ModeSolo,
		SoloBackend: "claude",
		Personas:    []string{"architect", "skeptic"},
	})

	res, err := c.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	answers := res.Stages[0].Responses
	if len(answers) != 2 || answers["architect"] == "" || answers["skeptic"] == "" {
		t.Errorf("stage1 responses = %v, want one per persona", answers)
	}
	if res.Chairman != "claude" {
		t.Errorf("Chairman = %q, want claude", res.Chairman)
	}
	if len(gemini.prompts) != 0 {
		t.Errorf("solo mode called another backend %d times", len(gemini.prompts))
	}
	for _, p := range claude.promptsFor(Stage1) {
		if !strings.Contains(p, "Answer as the architect") && !strings.Contains(p, "Answer as the skeptic") {
			t.Errorf("stage1 prompt has no persona:\n%s", p)
		}
	}
	// 2 answers, 2 reviews, 1 synthesis.
	if res.TotalTokens.Input != 10 {
		t.Errorf("TotalTokens = %+v, want 10 input", res.TotalTokens)
	}
}

func TestCouncilFailedAnswerDropsParticipant(t *testing.T) {
	a := &fakeBackend{name: "a"}
	b := &fakeBackend{name: "b", fail: map[Stage]bool{Stage1: true}}
	c := New([]Backend{a, b}, Options{Chairman: "a"})

	res, err := c.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Stages[0].Responses) != 1 {
		t.Errorf("stage1 responses = %v, want only a", res.Stages[0].Responses)
	}
	if len(b.promptsFor(Stage2)) != 0 {
		t.Error("participant without an answer was asked to review")
	}
	var failed int
	for _, call := range res.Calls {
		if call.Error != "" {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("%d failed calls recorded, want 1", failed)
	}
}

func TestCouncilEveryAnswerFails(t *testing.T) {
	c := New([]Backend{
		&fakeBackend{name: "a", fail: map[Stage]bool{Stage1: true}},
	}, Options{})
	_, err := c.Run(context.Background(), "q", nil)
	if err == nil || !strings.Contains(err.Error(), "a broke") {
		t.Errorf("err = %v, want stage 1 failure naming a", err)
	}
}

func TestCouncilChairmanFallback(t *testing.T) {
	a := &fakeBackend{name: "a", fail: map[Stage]bool{Stage3: true}}
	b := &fakeBackend{name: "b"}
	c := New([]Backend{a, b}, Options{Chairman: "a"})

	res, err := c.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Chairman != "b" || res.FinalResponse != "b stage3" {
		t.Errorf("final = %q by %q, want b", res.FinalResponse, res.Chairman)
	}
}

func TestCouncilScoutFeedsStage1(t *testing.T) {
	a := &fakeBackend{name: "a"}
	c := New([]Backend{a}, Options{Scout: true})

	res, err := c.Run(context.Background(), "q", nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res.Stages[0].Stage != StageScout || res.Stages[0].Number != 0 {
		t.Errorf("first stage = %+v, want scout", res.Stages[0])
	}
	for _, p := range a.promptsFor(Stage1) {
		if !strings.Contains(p, "a scout") {
			t.Errorf("stage1 prompt lacks scout background:\n%s", p)
		}
	}
}

func TestCouncilTimeout(t *testing.T) {
	c := New([]Backend{&fakeBackend{name: "slow", block: true}}, Options{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := c.Run(context.Background(), "q", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("run did not stop at the timeout")
	}
}

func TestCouncilEmptyQuery(t *testing.T) {
	if _, err := New([]Backend{&fakeBackend{name: "a"}}, Options{}).Run(context.Background(), "  ", nil); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("Solo"); err != nil || m != ModeSolo {
		t.Errorf("ParseMode(Solo) = %q, %v", m, err)
	}
	if _, err := ParseMode("panel"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestOptionsFromConfigUsesRunTimeout(t *testing.T) {
	opts := OptionsFromConfig(config.CouncilConfig{Timeout: 42, Chairman: "gemini"}, ModeSolo, nil)
	if opts.Timeout != 42*time.Second || opts.Mode != ModeSolo || opts.Chairman != "gemini" {
		t.Errorf("Options = %+v", opts)
	}
}
