// Package prompts embeds the persona files and prompt templates.
package prompts

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

//go:embed dev/*.md ml/*.md
var personas embed.FS

//go:embed task.md.tmpl
var TaskTemplate string

//go:embed council/scout.md.tmpl
var CouncilScoutTemplate string

//go:embed council/stage1.md.tmpl
var CouncilStage1Template string

//go:embed council/stage2.md.tmpl
var CouncilStage2Template string

//go:embed council/stage3.md.tmpl
var CouncilStage3Template string

// Persona returns the persona text for agent in mode. A file
// <overrideDir>/<mode>/<agent>.md takes precedence over the embedded copy.
func Persona(overrideDir, mode, agent string) (string, error) {
	name := mode + "/" + agent + ".md"
	if overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(overrideDir, mode, agent+".md"))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("reading persona %s: %w", name, err)
		}
	}
	data, err := fs.ReadFile(personas, name)
	if err != nil {
		return "", fmt.Errorf("no persona for %s agent %q: %w", mode, agent, err)
	}
	return string(data), nil
}
