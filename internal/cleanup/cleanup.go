// Package cleanup creates and prunes agentk run directories. A run
// directory holds the agent logs and prompt inputs of one `agentk run`.
package cleanup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// runTimestampLayout is the format used for run directory names. A name
// may carry a "-N" suffix when two runs start in the same second.
const runTimestampLayout = "20060102-150405"

// Run is one run directory.
type Run struct {
	Name    string
	Started time.Time
	Bytes   int64
}

// NewRunDir creates a fresh run directory under runsDir named after now
// and returns its path.
func NewRunDir(runsDir string, now time.Time) (string, error) {
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return "", fmt.Errorf("creating runs directory: %w", err)
	}
	base := now.UTC().Format(runTimestampLayout)
	name := base
	for i := 2; ; i++ {
		path := filepath.Join(runsDir, name)
		err := os.Mkdir(path, 0755)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("creating run directory: %w", err)
		}
		name = base + "-" + strconv.Itoa(i)
	}
}

// parseRunName returns the start time encoded in a run directory name.
func parseRunName(name string) (time.Time, bool) {
	if len(name) < len(runTimestampLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(runTimestampLayout, name[:len(runTimestampLayout)])
	if err != nil {
		return time.Time{}, false
	}
	if rest := name[len(runTimestampLayout):]; rest != "" {
		if rest[0] != '-' {
			return time.Time{}, false
		}
		if _, err := strconv.Atoi(rest[1:]); err != nil {
			return time.Time{}, false
		}
	}
	return t, true
}

// ListRuns returns the run directories in runsDir, oldest first.
// Directories whose names are not run timestamps are ignored. A missing
// runsDir yields no runs.
func ListRuns(runsDir string) ([]Run, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	var runs []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		started, ok := parseRunName(entry.Name())
		if !ok {
			continue
		}
		runs = append(runs, Run{
			Name:    entry.Name(),
			Started: started,
			Bytes:   dirSize(filepath.Join(runsDir, entry.Name())),
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].Started.Equal(runs[j].Started) {
			return runs[i].Started.Before(runs[j].Started)
		}
		return runs[i].Name < runs[j].Name
	})
	return runs, nil
}

// Options selects which runs Prune removes.
type Options struct {
	// MaxAge removes runs that started longer ago than this. Ignored
	// when Keep is set.
	MaxAge time.Duration
	// Keep removes all but the Keep most recent runs.
	Keep int
	// DryRun reports what would be removed without deleting.
	DryRun bool
	// Skip names runs that are never removed, such as the active one.
	Skip []string
	Now  func() time.Time
}

// Prune removes old run directories and returns the removed runs, oldest
// first. With neither MaxAge nor Keep set nothing is removed.
func Prune(runsDir string, opts Options) ([]Run, error) {
	runs, err := ListRuns(runsDir)
	if err != nil {
		return nil, err
	}
	skip := make(map[string]bool, len(opts.Skip))
	for _, name := range opts.Skip {
		skip[name] = true
	}

	var candidates []Run
	switch {
	case opts.Keep > 0:
		if len(runs) > opts.Keep {
			candidates = runs[:len(runs)-opts.Keep]
		}
	case opts.MaxAge > 0:
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		cutoff := now().Add(-opts.MaxAge)
		for _, r := range runs {
			if r.Started.Before(cutoff) {
				candidates = append(candidates, r)
			}
		}
	}

	var pruned []Run
	for _, r := range candidates {
		if skip[r.Name] {
			continue
		}
		if !opts.DryRun {
			if err := os.RemoveAll(filepath.Join(runsDir, r.Name)); err != nil {
				return pruned, fmt.Errorf("removing %s: %w", r.Name, err)
			}
		}
		pruned = append(pruned, r)
	}
	return pruned, nil
}

func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
