package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPersonaEmbedded(t *testing.T) {
	for _, tc := range []struct{ mode, agent, want string }{
		{"dev", "engineer", "# Engineer"},
		{"dev", "scout", "# Scout"},
		{"ml", "ml-engineer", "# ML Engineer"},
		{"ml", "evaluator", "# Evaluator"},
	} {
		got, err := Persona("", tc.mode, tc.agent)
		if err != nil {
			t.Errorf("Persona(%s, %s) error: %v", tc.mode, tc.agent, err)
			continue
		}
		if !strings.HasPrefix(got, tc.want) {
			t.Errorf("Persona(%s, %s) = %q, want prefix %q", tc.mode, tc.agent, got, tc.want)
		}
	}
}

func TestPersonaOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "dev"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "dev", "tester.md"), []byte("custom tester"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Persona(dir, "dev", "tester")
	if err != nil || got != "custom tester" {
		t.Errorf("Persona with override = %q, %v", got, err)
	}

	// Agents without an override file fall back to the embedded copy.
	got, err = Persona(dir, "dev", "engineer")
	if err != nil || !strings.HasPrefix(got, "# Engineer") {
		t.Errorf("Persona fallback = %q, %v", got, err)
	}
}

func TestPersonaUnknown(t *testing.T) {
	if _, err := Persona("", "dev", "researcher"); err == nil {
		t.Error("expected error for ml persona in dev mode")
	}
}
