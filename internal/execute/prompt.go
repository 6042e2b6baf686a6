// prompt.go builds the full text prompt handed to an agent process.
package execute

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
	"unicode/utf8"

	"github.com/agentk-dev/agentk/internal/task"
	"github.com/agentk-dev/agentk/prompts"
)

// maxDepOutput bounds how much of a dependency's output is quoted.
const maxDepOutput = 4000

var taskTemplate = template.Must(template.New("task").Parse(prompts.TaskTemplate))

// DepResult is a completed dependency quoted into a prompt.
type DepResult struct {
	ID     string
	Agent  string
	Output string
}

// promptData holds the template data for agent task prompt rendering.
type promptData struct {
	Date    string
	Persona string
	ID      string
	Type    task.Type
	Prompt  string
	Files   []string
	Deps    []DepResult
}

// BuildAgentPrompt renders the date preamble, the persona text and the
// task context into one prompt.
func BuildAgentPrompt(now time.Time, persona string, t *task.Task, deps []DepResult) (string, error) {
	data := promptData{
		Date:    now.Format("2006-01-02"),
		Persona: strings.TrimSpace(persona),
		ID:      t.ID,
		Type:    t.Type,
		Prompt:  strings.TrimSpace(t.Prompt),
		Files:   t.Context.Files,
	}
	for _, d := range deps {
		d.Output = truncateOutput(d.Output, maxDepOutput)
		data.Deps = append(data.Deps, d)
	}

	var buf bytes.Buffer
	if err := taskTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering task prompt: %w", err)
	}
	return buf.String(), nil
}

// truncateOutput cuts s to at most limit bytes on a rune boundary.
func truncateOutput(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	n := limit
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "\n[truncated]"
}

// dependencyResults loads the results of t's dependencies. Missing
// results are skipped.
func (s *Supervisor) dependencyResults(t *task.Task) []DepResult {
	var deps []DepResult
	for _, id := range t.Context.Dependencies {
		r, err := s.store.GetResult(id)
		if err != nil {
			continue
		}
		deps = append(deps, DepResult{ID: id, Agent: r.Agent, Output: r.Output})
	}
	return deps
}
