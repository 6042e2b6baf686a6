// Package council runs a three-stage consensus protocol over one or more
// model backends: independent answers, cross-review, then a chairman's
// synthesis. An optional scouting pass gathers background first.
package council

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/output"
	"github.com/agentk-dev/agentk/prompts"
)

// DefaultTimeout bounds a whole run when Options.Timeout is zero.
const DefaultTimeout = 5 * time.Minute

// Mode selects who sits on the panel.
type Mode string

const (
	// ModeCouncil asks every available backend.
	ModeCouncil Mode = "council"
	// ModeSolo asks one backend once per persona.
	ModeSolo Mode = "solo"
)

// ParseMode accepts "council" or "solo".
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeCouncil, ModeSolo:
		return m, nil
	}
	return "", fmt.Errorf("unknown council mode %q (want council or solo)", s)
}

// Stage identifies one step of a run.
type Stage string

const (
	StageScout Stage = "scout"
	Stage1     Stage = "stage1"
	Stage2     Stage = "stage2"
	Stage3     Stage = "stage3"
)

var stageInfo = map[Stage]struct {
	number int
	name   string
}{
	StageScout: {0, "Scouting"},
	Stage1:     {1, "Independent analysis"},
	Stage2:     {2, "Cross-review"},
	Stage3:     {3, "Chairman synthesis"},
}

// StageUpdate is emitted as a run progresses. Updates with Participant
// set report one finished call; the update with Done set closes the stage.
// TotalTokens is the running sum over every call so far.
type StageUpdate struct {
	Stage       Stage             `json:"stage"`
	Number      int               `json:"stage_number"`
	Name        string            `json:"stage_name"`
	Participant string            `json:"participant,omitempty"`
	Done        bool              `json:"done"`
	Responses   map[string]string `json:"responses,omitempty"`
	Reviews     map[string]string `json:"reviews,omitempty"`
	Final       string            `json:"final,omitempty"`
	Chairman    string            `json:"chairman,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
	TotalTokens output.Usage      `json:"total_tokens"`
}

// StageRecord is the collected output of one completed stage.
type StageRecord struct {
	Stage     Stage             `json:"stage"`
	Number    int               `json:"stage_number"`
	Name      string            `json:"stage_name"`
	Responses map[string]string `json:"responses"`
	Timestamp time.Time         `json:"timestamp"`
}

// Call records one backend invocation.
type Call struct {
	Stage       Stage        `json:"stage"`
	Participant string       `json:"participant"`
	Backend     string       `json:"backend"`
	Usage       output.Usage `json:"usage"`
	DurationMs  int64        `json:"duration_ms"`
	Error       string       `json:"error,omitempty"`
}

// Result is everything a run produced.
type Result struct {
	Query         string            `json:"query"`
	Mode          Mode              `json:"mode"`
	Stages        []StageRecord     `json:"stages"`
	FinalResponse string            `json:"final_response"`
	Chairman      string            `json:"chairman"`
	TotalTokens   output.Usage      `json:"total_tokens"`
	Calls         []Call            `json:"calls"`
	Excluded      map[string]string `json:"excluded,omitempty"`
}

// Options configures a Council.
type Options struct {
	Mode Mode
	// Scout runs the background-gathering pass before stage 1.
	Scout bool
	// Chairman names the preferred synthesis backend.
	Chairman string
	// SoloBackend names the backend used in solo mode.
	SoloBackend string
	// Personas are the panel roles in solo mode.
	Personas []string
	Timeout  time.Duration
	Logger   *log.Logger
	Now      func() time.Time
}

// OptionsFromConfig maps the council section of cfg onto Options.
func OptionsFromConfig(cfg config.CouncilConfig, mode Mode, logger *log.Logger) Options {
	return Options{
		Mode:        mode,
		Scout:       cfg.Scout,
		Chairman:    cfg.Chairman,
		SoloBackend: cfg.SoloBackend,
		Personas:    cfg.Personas,
		Timeout:     cfg.RunTimeout(),
		Logger:      logger,
	}
}

// Council runs queries against a fixed set of backends.
type Council struct {
	backends []Backend
	opts     Options
}

// New returns a Council over backends.
func New(backends []Backend, opts Options) *Council {
	if opts.Mode == "" {
		opts.Mode = ModeCouncil
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if len(opts.Personas) == 0 {
		opts.Personas = []string{"architect", "pragmatist", "skeptic"}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Council{backends: backends, opts: opts}
}

var (
	scoutTmpl  = template.Must(template.New("scout").Parse(prompts.CouncilScoutTemplate))
	stage1Tmpl = template.Must(template.New("stage1").Parse(prompts.CouncilStage1Template))
	stage2Tmpl = template.Must(template.New("stage2").Parse(prompts.CouncilStage2Template))
	stage3Tmpl = template.Must(template.New("stage3").Parse(prompts.CouncilStage3Template))
)

type entry struct {
	Name string
	Text string
}

type participant struct {
	name    string
	persona string
	backend Backend
}

// Run executes the protocol for query. onUpdate, when non-nil, receives
// updates one at a time and in stage order. A run that exceeds the
// timeout is aborted and its in-flight backend processes are killed.
func (c *Council) Run(ctx context.Context, query string, onUpdate func(StageUpdate)) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty query")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	r := &run{council: c, onUpdate: onUpdate, started: c.opts.Now()}
	res := &Result{Query: query, Mode: c.opts.Mode}

	available, excluded := c.available()
	if len(excluded) > 0 {
		res.Excluded = excluded
	}
	if len(available) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBackend, joinReasons(excluded))
	}
	panel := c.panel(available)
	chairs := c.chairOrder(available)

	var scout string
	if c.opts.Scout {
		b := chairs[0]
		p := participant{name: b.Name(), backend: b}
		prompt, err := render(scoutTmpl, map[string]any{"Date": r.date(), "Query": query})
		if err != nil {
			return nil, err
		}
		reply, err := r.call(ctx, StageScout, p, prompt)
		if err := r.interrupted(ctx); err != nil {
			return nil, err
		}
		responses := map[string]string{}
		if err == nil {
			scout = reply.Text
			responses[b.Name()] = scout
		}
		r.finishStage(res, StageUpdate{Stage: StageScout, Responses: responses}, responses)
	}

	answers, failures := r.fanOut(ctx, Stage1, panel, func(p participant) (string, error) {
		return render(stage1Tmpl, map[string]any{
			"Date": r.date(), "Persona": p.persona, "Scout": scout, "Query": query,
		})
	})
	if err := r.interrupted(ctx); err != nil {
		return nil, err
	}
	if len(answers) == 0 {
		return nil, fmt.Errorf("stage 1: every participant failed: %s", joinReasons(failures))
	}
	r.finishStage(res, StageUpdate{Stage: Stage1, Responses: answers}, answers)

	answered := make([]participant, 0, len(answers))
	for _, p := range panel {
		if _, ok := answers[p.name]; ok {
			answered = append(answered, p)
		}
	}
	answerList := sorted(answers)

	reviews, _ := r.fanOut(ctx, Stage2, answered, func(p participant) (string, error) {
		return render(stage2Tmpl, map[string]any{
			"Date": r.date(), "Persona": p.persona, "Query": query, "Answers": answerList,
		})
	})
	if err := r.interrupted(ctx); err != nil {
		return nil, err
	}
	r.finishStage(res, StageUpdate{Stage: Stage2, Reviews: reviews}, reviews)

	prompt, err := render(stage3Tmpl, map[string]any{
		"Date": r.date(), "Query": query, "Answers": answerList, "Reviews": sorted(reviews),
	})
	if err != nil {
		return nil, err
	}
	final, chair, err := r.synthesize(ctx, chairs, prompt)
	if err != nil {
		return nil, err
	}
	r.finishStage(res, StageUpdate{Stage: Stage3, Final: final, Chairman: chair}, map[string]string{chair: final})

	res.FinalResponse = final
	res.Chairman = chair
	res.TotalTokens, res.Calls = r.totals()
	c.log(log.LogEvent{
		Event:        log.EventCouncilComplete,
		Backend:      chair,
		InputTokens:  res.TotalTokens.Input,
		OutputTokens: res.TotalTokens.Output,
		DurationMs:   c.opts.Now().Sub(r.started).Milliseconds(),
		Data:         map[string]interface{}{"mode": string(c.opts.Mode), "calls": len(res.Calls)},
	})
	return res, nil
}

// available splits backends into usable ones and the reasons the rest
// were left out.
func (c *Council) available() ([]Backend, map[string]string) {
	var ok []Backend
	excluded := map[string]string{}
	for _, b := range c.backends {
		if err := b.Available(); err != nil {
			excluded[b.Name()] = err.Error()
			c.log(log.LogEvent{Event: log.EventBackendExcluded, Backend: b.Name(), Error: err.Error()})
			continue
		}
		ok = append(ok, b)
	}
	return ok, excluded
}

func (c *Council) panel(available []Backend) []participant {
	if c.opts.Mode == ModeSolo {
		b := pick(available, c.opts.SoloBackend, c.opts.Chairman)
		out := make([]participant, 0, len(c.opts.Personas))
		for _, persona := range c.opts.Personas {
			out = append(out, participant{name: persona, persona: persona, backend: b})
		}
		return out
	}
	out := make([]participant, 0, len(available))
	for _, b := range available {
		out = append(out, participant{name: b.Name(), backend: b})
	}
	return out
}

// chairOrder lists synthesis candidates, preferred chairman first.
func (c *Council) chairOrder(available []Backend) []Backend {
	if c.opts.Mode == ModeSolo {
		return []Backend{pick(available, c.opts.SoloBackend, c.opts.Chairman)}
	}
	first := pick(available, c.opts.Chairman)
	out := []Backend{first}
	for _, b := range available {
		if b != first {
			out = append(out, b)
		}
	}
	return out
}

func (c *Council) log(ev log.LogEvent) {
	if c.opts.Logger == nil {
		return
	}
	ev.Time = time.Now().UTC()
	c.opts.Logger.Warn(ev)
}

// pick returns the first available backend named in names, else the
// first available backend.
func pick(available []Backend, names ...string) Backend {
	for _, n := range names {
		for _, b := range available {
			if n != "" && b.Name() == n {
				return b
			}
		}
	}
	return available[0]
}

// run holds the mutable state of one Council.Run.
type run struct {
	council  *Council
	onUpdate func(StageUpdate)
	started  time.Time

	mu    sync.Mutex
	total output.Usage
	calls []Call

	emitMu sync.Mutex
}

func (r *run) date() string {
	return r.council.opts.Now().Format("2006-01-02")
}

// call invokes one backend and folds its usage into the running total
// before reporting it.
func (r *run) call(ctx context.Context, stage Stage, p participant, prompt string) (Reply, error) {
	start := r.council.opts.Now()
	reply, err := p.backend.Complete(ctx, prompt)

	rec := Call{
		Stage:       stage,
		Participant: p.name,
		Backend:     p.backend.Name(),
		Usage:       reply.Usage,
		DurationMs:  r.council.opts.Now().Sub(start).Milliseconds(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	r.mu.Lock()
	r.total.Add(reply.Usage)
	r.calls = append(r.calls, rec)
	r.mu.Unlock()

	if err == nil {
		r.emit(StageUpdate{Stage: stage, Participant: p.name})
	}
	return reply, err
}

// fanOut runs one call per participant concurrently and returns once all
// of them finished. Failed calls are reported, not fatal.
func (r *run) fanOut(ctx context.Context, stage Stage, panel []participant, prompt func(participant) (string, error)) (map[string]string, map[string]string) {
	var mu sync.Mutex
	texts := map[string]string{}
	failures := map[string]string{}

	var g errgroup.Group
	for _, p := range panel {
		g.Go(func() error {
			text, err := prompt(p)
			if err == nil {
				var reply Reply
				reply, err = r.call(ctx, stage, p, text)
				text = reply.Text
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[p.name] = err.Error()
				return nil
			}
			texts[p.name] = text
			return nil
		})
	}
	_ = g.Wait()
	return texts, failures
}

// synthesize asks each chair candidate in turn until one answers.
func (r *run) synthesize(ctx context.Context, chairs []Backend, prompt string) (string, string, error) {
	var errs []error
	for _, b := range chairs {
		reply, err := r.call(ctx, Stage3, participant{name: b.Name(), backend: b}, prompt)
		if err == nil {
			return reply.Text, b.Name(), nil
		}
		if ierr := r.interrupted(ctx); ierr != nil {
			return "", "", ierr
		}
		errs = append(errs, err)
	}
	return "", "", fmt.Errorf("stage 3: no chairman could synthesize: %w", errors.Join(errs...))
}

func (r *run) finishStage(res *Result, u StageUpdate, responses map[string]string) {
	info := stageInfo[u.Stage]
	now := r.council.opts.Now().UTC()
	res.Stages = append(res.Stages, StageRecord{
		Stage:     u.Stage,
		Number:    info.number,
		Name:      info.name,
		Responses: responses,
		Timestamp: now,
	})
	u.Done = true
	r.emit(u)

	total, _ := r.totals()
	r.council.log(log.LogEvent{
		Event:        log.EventCouncilStage,
		Stage:        string(u.Stage),
		InputTokens:  total.Input,
		OutputTokens: total.Output,
		Data:         map[string]interface{}{"responses": len(responses)},
	})
}

func (r *run) emit(u StageUpdate) {
	if r.onUpdate == nil {
		return
	}
	info := stageInfo[u.Stage]
	u.Number = info.number
	u.Name = info.name

	r.emitMu.Lock()
	defer r.emitMu.Unlock()
	u.Timestamp = r.council.opts.Now().UTC()
	u.TotalTokens, _ = r.totals()
	r.onUpdate(u)
}

func (r *run) totals() (output.Usage, []Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	calls := make([]Call, len(r.calls))
	copy(calls, r.calls)
	return r.total, calls
}

// interrupted returns a descriptive error once ctx is done.
func (r *run) interrupted(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("council timed out after %s: %w", r.council.opts.Timeout, err)
	}
	return err
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}

func sorted(m map[string]string) []entry {
	out := make([]entry, 0, len(m))
	for name, text := range m {
		out = append(out, entry{Name: name, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func joinReasons(m map[string]string) string {
	if len(m) == 0 {
		return "none configured"
	}
	parts := make([]string, 0, len(m))
	for _, e := range sorted(m) {
		parts = append(parts, e.Name+": "+e.Text)
	}
	return strings.Join(parts, "; ")
}
