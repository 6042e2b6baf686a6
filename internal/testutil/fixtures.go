// Package testutil provides test helper utilities for agentk tests.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
)

// TempProject creates a temporary directory with the given files and returns its path.
// Files is a map of relative path -> content. Directories are created as needed.
// The directory is automatically cleaned up when the test finishes.
func TempProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()

	for relPath, content := range files {
		absPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			t.Fatalf("creating directory for %s: %v", relPath, err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
			t.Fatalf("writing %s: %v", relPath, err)
		}
	}

	return dir
}

// FakeCLI writes body as an executable /bin/sh script and returns its path.
// The script receives the same arguments a real agent CLI would. Tests
// using it are skipped on Windows.
func FakeCLI(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI scripts need /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fake-cli")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("writing fake CLI: %v", err)
	}
	return path
}

// ClaudeResult returns a one-line Claude --output-format json envelope.
func ClaudeResult(text string, input, output int) string {
	data, _ := json.Marshal(map[string]interface{}{
		"type":     "result",
		"subtype":  "success",
		"result":   text,
		"is_error": false,
		"usage": map[string]int{
			"input_tokens":  input,
			"output_tokens": output,
		},
	})
	return string(data)
}

// EchoScript returns a FakeCLI body that prints out verbatim on stdout
// and exits with code.
func EchoScript(out string, code int) string {
	return "cat <<'AGENTK_EOF'\n" + out + "\nAGENTK_EOF\nexit " + strconv.Itoa(code)
}
