// log.go implements the "agentk log" command for reading the event log.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/log"
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent events from .agentk/log.jsonl",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

var (
	logTailFlag  int
	logEventFlag string
)

func init() {
	logCmd.Flags().IntVarP(&logTailFlag, "lines", "n", 20, "Number of events to show (0 = all)")
	logCmd.Flags().StringVar(&logEventFlag, "event", "", "Only show events of this type")
	logCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print raw JSON events")
}

func runLog(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	var events []log.LogEvent
	if logTailFlag > 0 && logEventFlag == "" {
		events, err = ws.logger.Tail(logTailFlag)
	} else {
		events, err = ws.logger.ReadAll()
	}
	if err != nil {
		return err
	}
	if logEventFlag != "" {
		filtered := events[:0]
		for _, ev := range events {
			if ev.Event == logEventFlag {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
		if logTailFlag > 0 && len(events) > logTailFlag {
			events = events[len(events)-logTailFlag:]
		}
	}

	if jsonFlag {
		return printJSON(events)
	}
	for _, ev := range events {
		fmt.Println(formatEvent(ev))
	}
	return nil
}

func formatEvent(ev log.LogEvent) string {
	parts := []string{ev.Time.Local().Format("15:04:05"), ev.Event}
	for _, kv := range [][2]string{
		{"session", ev.SessionID},
		{"task", ev.TaskID},
		{"agent", ev.Agent},
		{"status", ev.Status},
		{"stage", ev.Stage},
		{"backend", ev.Backend},
		{"error", ev.Error},
	} {
		if kv[1] != "" {
			parts = append(parts, kv[0]+"="+kv[1])
		}
	}
	if ev.PID != 0 {
		parts = append(parts, fmt.Sprintf("pid=%d", ev.PID))
	}
	if ev.InputTokens+ev.OutputTokens > 0 {
		parts = append(parts, fmt.Sprintf("tokens=%d/%d", ev.InputTokens, ev.OutputTokens))
	}
	return strings.Join(parts, " ")
}
