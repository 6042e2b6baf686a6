// clean.go implements the "agentk clean" command for manual run directory cleanup.
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/cleanup"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old run directories",
	Long: `Remove old run directories from .agentk/runs/.

By default, removes runs older than the configured max_age_days (default 30).
Use --keep to keep only the N most recent runs instead.
Use --dry-run to preview what would be removed.`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

var (
	keepFlag   int
	dryRunFlag bool
)

func init() {
	cleanCmd.Flags().IntVar(&keepFlag, "keep", 0, "Keep only the last N runs (0 = use age-based cleanup)")
	cleanCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Preview what would be removed without deleting")
}

func runClean(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	opts := cleanup.Options{Keep: keepFlag, DryRun: dryRunFlag}
	if keepFlag <= 0 {
		maxAge := ws.cfg.Cleanup.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 30
		}
		opts.MaxAge = time.Duration(maxAge) * 24 * time.Hour
	}

	pruned, err := cleanup.Prune(ws.runsDir(), opts)
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}

	if len(pruned) == 0 {
		fmt.Println("No runs to clean up.")
		return nil
	}

	verb := "Removed"
	if dryRunFlag {
		verb = "Would remove"
	}

	var total int64
	for _, r := range pruned {
		fmt.Printf("  %s %s (%s)\n", verb, r.Name, formatBytes(r.Bytes))
		total += r.Bytes
	}
	fmt.Printf("%s %d run(s), %s.\n", verb, len(pruned), formatBytes(total))

	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
