package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentk-dev/agentk/internal/task"
)

const yamlPlan = `title: login feature
mode: dev
tasks:
  - key: final
    assigned_to: engineer
    prompt: wire everything together
    depends_on: [tests, review]
  - key: impl
    assigned_to: engineer
    prompt: implement login
    priority: 3
    files: [auth/login.go]
  - key: tests
    assigned_to: tester
    prompt: test login
    depends_on: [impl]
  - key: review
    assigned_to: security
    title: review login
    depends_on: [impl]
`

func TestParseYAMLAndOrder(t *testing.T) {
	p, err := ParseYAML([]byte(yamlPlan))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}
	ordered, err := p.Order()
	if err != nil {
		t.Fatalf("Order failed: %v", err)
	}
	var keys []string
	for _, s := range ordered {
		keys = append(keys, s.Key)
	}
	if got := strings.Join(keys, ","); got != "impl,tests,review,final" {
		t.Errorf("order = %s, want impl,tests,review,final", got)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "tasks: []", "no tasks"},
		{"no key", "tasks:\n  - assigned_to: engineer", "no key"},
		{"duplicate", "tasks:\n  - {key: a, assigned_to: engineer}\n  - {key: a, assigned_to: tester}", "duplicate"},
		{"unknown dep", "tasks:\n  - {key: a, assigned_to: engineer, depends_on: [b]}", "unknown key"},
		{"cycle", "tasks:\n  - {key: a, assigned_to: engineer, depends_on: [b]}\n  - {key: b, assigned_to: tester, depends_on: [a]}", "cycle"},
		{"bad type", "tasks:\n  - {key: a, assigned_to: engineer, type: deploy}", "invalid type"},
		{"bad mode", "mode: ops\ntasks:\n  - {key: a, assigned_to: engineer}", "unknown mode"},
		{"no assignee", "tasks:\n  - {key: a}", "no assignee"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestApplyMapsKeysToIDs(t *testing.T) {
	store, err := task.NewStore(t.TempDir(), task.ModeDev)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	p, err := ParseYAML([]byte(yamlPlan))
	if err != nil {
		t.Fatalf("ParseYAML failed: %v", err)
	}

	ids, err := Apply(store, p)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if len(ids) != 4 {
		t.Fatalf("got %d ids, want 4", len(ids))
	}

	final, err := store.Get(ids["final"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	deps := final.Context.Dependencies
	if len(deps) != 2 || deps[0] != ids["tests"] || deps[1] != ids["review"] {
		t.Errorf("final deps = %v, want ids of tests and review", deps)
	}

	impl, _ := store.Get(ids["impl"])
	if impl.Priority != 3 || impl.Type != task.TypeImplement || impl.Context.Files[0] != "auth/login.go" {
		t.Errorf("impl = %+v", impl)
	}
	review, _ := store.Get(ids["review"])
	if review.Type != task.TypeReview || review.Prompt != "review login" {
		t.Errorf("review type/prompt = %q/%q, want defaults from agent and title", review.Type, review.Prompt)
	}

	ready, err := task.NewResolver(store, task.PolicyBlock).Ready()
	if err != nil {
		t.Fatalf("Ready failed: %v", err)
	}
	if len(ready) != 1 || ready[0].ID != ids["impl"] {
		t.Errorf("ready = %v, want only impl", ready)
	}
}

func TestApplyRejectsModeMismatch(t *testing.T) {
	store, _ := task.NewStore(t.TempDir(), task.ModeML)
	p, _ := ParseYAML([]byte(yamlPlan))
	if _, err := Apply(store, p); err == nil || !strings.Contains(err.Error(), "dev mode") {
		t.Errorf("err = %v, want mode mismatch", err)
	}
}

func TestApplyUnknownAgent(t *testing.T) {
	store, _ := task.NewStore(t.TempDir(), task.ModeDev)
	p := &Plan{Tasks: []TaskSpec{
		{Key: "a", AssignedTo: "engineer", Prompt: "x"},
		{Key: "b", AssignedTo: "researcher", Prompt: "y", DependsOn: []string{"a"}},
	}}
	ids, err := Apply(store, p)
	if err == nil {
		t.Fatal("expected error for ml agent in dev mode")
	}
	if len(ids) != 1 {
		t.Errorf("partial ids = %v, want a only", ids)
	}
}

func TestLoadDispatchesOnExtension(t *testing.T) {
	dir := t.TempDir()
	md := filepath.Join(dir, "plan.md")
	if err := os.WriteFile(md, []byte("### a: A\n- agent: engineer\ndo it\n"), 0644); err != nil {
		t.Fatal(err)
	}
	yml := filepath.Join(dir, "plan.yaml")
	if err := os.WriteFile(yml, []byte(yamlPlan), 0644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(md)
	if err != nil || len(p.Tasks) != 1 || p.Tasks[0].Prompt != "do it" {
		t.Errorf("Load(md) = %+v, %v", p, err)
	}
	p, err = Load(yml)
	if err != nil || len(p.Tasks) != 4 {
		t.Errorf("Load(yaml) = %+v, %v", p, err)
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
