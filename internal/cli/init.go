// init.go implements the "agentk init" command.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/config"
	"github.com/agentk-dev/agentk/internal/task"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize agentk in the current project",
	Long: `Create the .agentk/ directory with a default config.yaml, the task
and result stores, and the runs directory. An existing config is kept
unless --force is given.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

var forceInitFlag bool

func init() {
	initCmd.Flags().BoolVar(&forceInitFlag, "force", false, "Overwrite an existing config.yaml")
}

func runInit(cmd *cobra.Command, args []string) error {
	root := rootFlag
	if root == "" {
		var err error
		if root, err = config.ResolveRoot(); err != nil {
			return fmt.Errorf("resolving workspace root: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	if modeFlag != "" {
		mode, err := task.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		cfg.Mode = string(mode)
	}

	dir := config.Dir(root)
	configPath := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(configPath); err == nil && !forceInitFlag {
		fmt.Printf("Keeping existing %s\n", configPath)
	} else if err := config.WriteConfig(root, cfg); err != nil {
		return err
	}

	for _, sub := range []string{"tasks", "results", "runs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", sub, err)
		}
	}

	fmt.Printf("Initialized agentk in %s (%s mode)\n", dir, cfg.Mode)
	return nil
}
