// parser.go parses markdown plans, the format the orchestrator persona
// writes, into a Plan.
package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ParseMarkdown parses a markdown plan. The first "# " heading is the
// title. Each task starts with a "### key: Title" heading followed by
// field lines:
//
//	- agent: engineer
//	- type: implement
//	- priority: 2
//	- files: [auth/login.go, auth/session.go]
//	- depends: impl-1, impl-2
//	- mode: dev            (plan-level, before the first task)
//
// Other non-empty lines inside a task form its prompt.
func ParseMarkdown(text string) (*Plan, error) {
	p := &Plan{}
	var current *TaskSpec
	var prompt []string

	flush := func() {
		if current == nil {
			return
		}
		if body := strings.TrimSpace(strings.Join(prompt, "\n")); body != "" {
			current.Prompt = body
		}
		p.Tasks = append(p.Tasks, *current)
		current, prompt = nil, nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if isTaskHeading(trimmed) {
			flush()
			key, title := parseHeading(strings.TrimSpace(strings.TrimPrefix(trimmed, "###")))
			current = &TaskSpec{Key: key, Title: title}
			continue
		}

		if current == nil {
			if p.Title == "" && strings.HasPrefix(trimmed, "# ") {
				p.Title = strings.TrimPrefix(trimmed, "# ")
				continue
			}
			if val, ok := extractField(trimmed, "mode"); ok {
				p.Mode = val
			}
			continue
		}

		handled, err := parseTaskField(current, trimmed)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", current.Key, err)
		}
		if !handled && trimmed != "" {
			prompt = append(prompt, line)
		}
	}
	flush()

	if len(p.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks found in plan")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// isTaskHeading returns true for "### key: Title" lines.
func isTaskHeading(line string) bool {
	return strings.HasPrefix(line, "###") && !strings.HasPrefix(line, "####")
}

// parseHeading splits "key: Title". Without a colon the whole heading is
// both key and title.
func parseHeading(heading string) (string, string) {
	parts := strings.SplitN(heading, ":", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(heading), strings.TrimSpace(heading)
}

// parseTaskField applies one field line to spec and reports whether the
// line was a field.
func parseTaskField(spec *TaskSpec, line string) (bool, error) {
	if val, ok := extractField(line, "agent"); ok {
		spec.AssignedTo = val
		return true, nil
	}
	if val, ok := extractField(line, "type"); ok {
		spec.Type = val
		return true, nil
	}
	if val, ok := extractField(line, "priority"); ok {
		n, err := strconv.Atoi(val)
		if err != nil {
			return true, fmt.Errorf("invalid priority %q", val)
		}
		spec.Priority = n
		return true, nil
	}
	if val, ok := extractField(line, "files"); ok {
		spec.Files = parseList(val)
		return true, nil
	}
	if val, ok := extractField(line, "depends"); ok {
		spec.DependsOn = parseDependsList(val)
		return true, nil
	}
	return false, nil
}

// extractField checks if the line matches "- fieldName: value" and returns the value.
func extractField(line, fieldName string) (string, bool) {
	prefix := fmt.Sprintf("- %s:", fieldName)
	if strings.HasPrefix(line, prefix) {
		return strings.TrimSpace(strings.TrimPrefix(line, prefix)), true
	}

	// Also handle without leading dash (just "fieldName:")
	prefix2 := fmt.Sprintf("%s:", fieldName)
	if strings.HasPrefix(line, prefix2) {
		return strings.TrimSpace(strings.TrimPrefix(line, prefix2)), true
	}

	return "", false
}

// parseList parses a bracketed comma-separated list, quoted or not.
// Input: `[a.go, b.go]`, `["a.go", "b.go"]` or `a.go, b.go`
func parseList(val string) []string {
	val = strings.TrimPrefix(strings.TrimSpace(val), "[")
	val = strings.TrimSuffix(val, "]")

	var quoted []string
	if err := json.Unmarshal([]byte("["+val+"]"), &quoted); err == nil && len(quoted) > 0 {
		return trimAll(quoted)
	}
	return trimAll(strings.Split(val, ","))
}

// parseDependsList parses a dependency list.
// Input: "none" -> empty, "impl-1, impl-2" -> ["impl-1", "impl-2"]
func parseDependsList(val string) []string {
	lower := strings.ToLower(strings.TrimSpace(val))
	if lower == "none" || lower == "" || lower == "[]" || lower == "n/a" {
		return nil
	}
	return parseList(val)
}

// trimAll trims whitespace from all strings in a slice and removes empty entries.
func trimAll(ss []string) []string {
	var result []string
	for _, s := range ss {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
