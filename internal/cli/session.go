// session.go implements the "agentk session" command group.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/tui"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "List, inspect and end sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show one session (default: the latest active one)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionShow,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end [session-id]",
	Short: "End a session and cancel its open tasks",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSessionEnd,
}

var sessionLimitFlag int

func init() {
	sessionListCmd.Flags().IntVarP(&sessionLimitFlag, "limit", "n", 20, "Show at most this many sessions (0 = all)")
	sessionCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "Print JSON instead of text")
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionEndCmd)
}

func runSessionList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	db, _, err := ws.sessions()
	if err != nil {
		return err
	}
	defer db.Close()

	summaries, err := db.ListSessions(sessionLimitFlag)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(summaries)
	}
	if len(summaries) == 0 {
		fmt.Println("No sessions.")
		return nil
	}
	now := time.Now()
	for _, s := range summaries {
		state := "active"
		if s.EndedAt != nil {
			state = "ended " + tui.FormatAge(now.Sub(*s.EndedAt)) + " ago"
		}
		fmt.Printf("  %s  %-3s  %d agents  started %s ago  %s\n",
			s.ID, s.Mode, s.Agents, tui.FormatAge(now.Sub(s.StartedAt)), state)
	}
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
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
	snap, err := reg.Snapshot(id)
	if err != nil {
		return err
	}
	if jsonFlag {
		return printJSON(snap)
	}
	return tui.RenderStatus(os.Stdout, tui.StatusView{Snapshot: snap, Now: time.Now()}, tui.IsTTY())
}

// runSessionEnd ends a session from outside the process that started it.
// Agent processes of that run belong to its supervisor; their tasks are
// cancelled here and the late exits are ignored.
func runSessionEnd(cmd *cobra.Command, args []string) error {
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
	cancelled, err := reg.End(id)
	if err != nil {
		return err
	}
	fmt.Printf("Ended session %s\n", id)
	for _, taskID := range cancelled {
		fmt.Printf("  %s %s\n", tui.Icon("cancelled", tui.IsTTY()), taskID)
	}
	if len(cancelled) > 0 {
		fmt.Printf("Cancelled %d open task(s).\n", len(cancelled))
	}
	return nil
}
