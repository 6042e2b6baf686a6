// Package plan turns task-plan files into Tasks. A plan names each task
// with a key and expresses dependencies between keys; Apply maps keys to
// the generated task ids.
package plan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agentk-dev/agentk/internal/task"
)

// Plan is an ordered set of task specifications.
type Plan struct {
	Title string     `yaml:"title"`
	Mode  string     `yaml:"mode"`
	Tasks []TaskSpec `yaml:"tasks"`
}

// TaskSpec defines a single task within a plan.
type TaskSpec struct {
	Key        string   `yaml:"key"`
	Title      string   `yaml:"title"`
	Type       string   `yaml:"type"`
	AssignedTo string   `yaml:"assigned_to"`
	Prompt     string   `yaml:"prompt"`
	Priority   int      `yaml:"priority"`
	Files      []string `yaml:"files"`
	DependsOn  []string `yaml:"depends_on"`
}

// Load reads a plan file. Files ending in .md are parsed as markdown
// plans; anything else as YAML.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".md") {
		return ParseMarkdown(string(data))
	}
	return ParseYAML(data)
}

// ParseYAML parses and validates a YAML plan.
func ParseYAML(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that keys are unique, dependencies name known keys and
// the dependency graph has no cycle.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return errors.New("plan has no tasks")
	}
	if p.Mode != "" {
		if _, err := task.ParseMode(p.Mode); err != nil {
			return err
		}
	}
	seen := make(map[string]bool, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.Key == "" {
			return fmt.Errorf("task %d has no key", i+1)
		}
		if seen[t.Key] {
			return fmt.Errorf("duplicate task key %q", t.Key)
		}
		seen[t.Key] = true
		if t.AssignedTo == "" {
			return fmt.Errorf("task %s has no assignee", t.Key)
		}
		if t.Type != "" && !task.Type(t.Type).Valid() {
			return fmt.Errorf("task %s: invalid type %q", t.Key, t.Type)
		}
	}
	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %s depends on unknown key %q", t.Key, dep)
			}
		}
	}
	_, err := p.Order()
	return err
}

// Order returns the tasks sorted so that every task follows its
// dependencies. Ties keep file order.
func (p *Plan) Order() ([]TaskSpec, error) {
	index := make(map[string]int, len(p.Tasks))
	for i, t := range p.Tasks {
		index[t.Key] = i
	}
	indegree := make([]int, len(p.Tasks))
	dependents := make(map[string][]int)
	for i, t := range p.Tasks {
		for _, dep := range uniq(t.DependsOn) {
			indegree[i]++
			dependents[dep] = append(dependents[dep], i)
		}
	}

	var queue []int
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	var out []TaskSpec
	for len(queue) > 0 {
		sort.Ints(queue)
		i := queue[0]
		queue = queue[1:]
		out = append(out, p.Tasks[i])
		for _, j := range dependents[p.Tasks[i].Key] {
			indegree[j]--
			if indegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	if len(out) != len(p.Tasks) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, p.Tasks[i].Key)
			}
		}
		return nil, fmt.Errorf("dependency cycle among %s", strings.Join(stuck, ", "))
	}
	return out, nil
}

// defaultType picks a task type from the assignee when the plan omits it.
func defaultType(agent string) task.Type {
	switch agent {
	case task.AgentTester:
		return task.TypeTest
	case task.AgentSecurity:
		return task.TypeReview
	case task.AgentScout, task.AgentResearcher:
		return task.TypeResearch
	case task.AgentEvaluator:
		return task.TypeEvaluate
	}
	return task.TypeImplement
}

// Apply creates one task per plan entry in dependency order and returns
// the key to task id mapping. On failure the tasks created so far are
// left in place and the partial mapping is returned.
func Apply(store *task.Store, p *Plan) (map[string]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Mode != "" && task.Mode(strings.ToLower(p.Mode)) != store.Mode() {
		return nil, fmt.Errorf("plan is for %s mode, workspace is in %s mode", p.Mode, store.Mode())
	}
	ordered, err := p.Order()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(ordered))
	for _, spec := range ordered {
		typ := task.Type(spec.Type)
		if typ == "" {
			typ = defaultType(spec.AssignedTo)
		}
		deps := make([]string, 0, len(spec.DependsOn))
		for _, dep := range spec.DependsOn {
			deps = append(deps, ids[dep])
		}
		prompt := spec.Prompt
		if prompt == "" {
			prompt = spec.Title
		}
		created, err := store.Create(task.NewTask{
			Type:         typ,
			AssignedTo:   spec.AssignedTo,
			Prompt:       prompt,
			Priority:     spec.Priority,
			Files:        spec.Files,
			Dependencies: deps,
		})
		if err != nil {
			return ids, fmt.Errorf("creating task %s: %w", spec.Key, err)
		}
		ids[spec.Key] = created.ID
	}
	return ids, nil
}

func uniq(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	var out []string
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
