// status.go implements the "agentk status" and "agentk watch" commands.
package cli

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/session"
	"github.com/agentk-dev/agentk/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show agent and task status",
	Long: `Display the agents of a session (default: the latest active one) with
their last reported status, followed by every task in the store.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

var watchCmd = &cobra.Command{
	Use:   "watch [session-id]",
	Short: "Live view of a running session",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

var (
	statusJSONFlag bool
	watchEveryFlag time.Duration
)

func init() {
	statusCmd.Flags().BoolVar(&statusJSONFlag, "json", false, "Print the session snapshot as JSON")
	watchCmd.Flags().DurationVar(&watchEveryFlag, "interval", time.Second, "Refresh interval")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	db, reg, err := ws.sessions()
	if err != nil {
		return err
	}
	defer db.Close()

	var snap *session.Snapshot
	id, err := resolveSession(db, argOrEmpty(args))
	if err == nil {
		if snap, err = reg.Snapshot(id); err != nil {
			return err
		}
	} else if len(args) == 1 {
		return err
	}

	if statusJSONFlag {
		if snap == nil {
			return errors.New("no active session")
		}
		return printJSON(snap)
	}

	tasks, err := ws.store.List()
	if err != nil {
		return err
	}
	return tui.RenderStatus(os.Stdout, tui.StatusView{Snapshot: snap, Tasks: tasks, Now: time.Now()}, tui.IsTTY())
}

func runWatch(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	db, reg, err := ws.sessions()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := resolveSession(db, argOrEmpty(args))
	if err != nil {
		return err
	}
	fetch := func() (*session.Snapshot, error) { return reg.Snapshot(id) }

	if !tui.IsTTY() {
		snap, err := fetch()
		if err != nil {
			return err
		}
		return tui.RenderStatus(os.Stdout, tui.StatusView{Snapshot: snap, Now: time.Now()}, false)
	}
	return tui.Run(tui.NewWatchModel(fetch, watchEveryFlag))
}

func argOrEmpty(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}
