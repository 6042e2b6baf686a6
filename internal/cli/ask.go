// ask.go implements the "agentk ask" command.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/execute"
)

var askCmd = &cobra.Command{
	Use:   "ask <agent> <prompt>",
	Short: "Run one agent in the foreground on a free-form prompt",
	Long: `Run an agent with its persona on a prompt, streaming its output to the
terminal. No task is created and nothing is tracked in the session.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := execute.RunInteractive(ctx, ws.cfg, ws.mode, args[0], strings.Join(args[1:], " "), os.Stdout)
	if err != nil {
		return interruptedOr(ctx, err)
	}
	if res.Usage.Total() > 0 {
		fmt.Fprintf(os.Stderr, "\nTokens: %d in / %d out\n", res.Usage.Input, res.Usage.Output)
	}
	return nil
}
