// council.go implements the "agentk council" command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/council"
	"github.com/agentk-dev/agentk/internal/tui"
)

var councilCmd = &cobra.Command{
	Use:   "council <query>",
	Short: "Ask several LLM backends and synthesize one answer",
	Long: `Run the council protocol: every backend answers independently, each
reviews the others' anonymized answers, and a chairman writes the final
response. --solo runs the same stages with personas on one backend.
--json streams stage updates and the result as JSON lines on stdout.
--from renders a previously recorded JSON-lines stream ("-" for stdin).`,
	Args: func(cmd *cobra.Command, args []string) error {
		if councilFromFlag != "" {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	RunE: runCouncil,
}

var (
	councilSoloFlag    bool
	councilScoutFlag   bool
	councilJSONFlag    bool
	councilChairFlag   string
	councilFromFlag    string
	councilShowAllFlag bool
)

func init() {
	councilCmd.Flags().BoolVar(&councilSoloFlag, "solo", false, "Use personas on a single backend")
	councilCmd.Flags().BoolVar(&councilScoutFlag, "scout", false, "Gather background before stage 1")
	councilCmd.Flags().BoolVar(&councilJSONFlag, "json", false, "Stream JSON lines instead of text")
	councilCmd.Flags().StringVar(&councilChairFlag, "chairman", "", "Preferred chairman backend")
	councilCmd.Flags().StringVar(&councilFromFlag, "from", "", "Render a recorded JSON-lines stream")
	councilCmd.Flags().BoolVar(&councilShowAllFlag, "verbose", false, "Print every stage response, not only the final answer")
}

func runCouncil(cmd *cobra.Command, args []string) error {
	if councilFromFlag != "" {
		return replayCouncil(councilFromFlag)
	}

	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	mode := council.ModeCouncil
	if councilSoloFlag {
		mode = council.ModeSolo
	}
	opts := council.OptionsFromConfig(ws.cfg.Council, mode, ws.logger)
	if councilScoutFlag {
		opts.Scout = true
	}
	if councilChairFlag != "" {
		opts.Chairman = councilChairFlag
	}
	c := council.New(council.BackendsFromConfig(ws.cfg.Council), opts)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	query := strings.Join(args, " ")
	if councilJSONFlag {
		em := council.NewJSONLinesEmitter(os.Stdout)
		res, err := c.Run(ctx, query, em.Update)
		if err != nil {
			_ = em.Error(err)
			return interruptedOr(ctx, err)
		}
		return em.Result(res)
	}

	res, err := c.Run(ctx, query, progressPrinter(os.Stderr))
	if err != nil {
		return interruptedOr(ctx, err)
	}
	printCouncilResult(res)
	return nil
}

func replayCouncil(path string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening stream: %w", err)
		}
		defer f.Close()
		r = f
	}
	res, err := council.DecodeStream(r, progressPrinter(os.Stderr))
	if err != nil {
		return err
	}
	printCouncilResult(res)
	return nil
}

// progressPrinter writes one line per finished call and per finished stage.
func progressPrinter(w io.Writer) func(council.StageUpdate) {
	color := tui.IsTTY()
	return func(u council.StageUpdate) {
		if u.Done {
			label := fmt.Sprintf("Stage %d: %s", u.Number, u.Name)
			if color {
				label = tui.TitleStyle.Render(label)
			}
			fmt.Fprintf(w, "%s done (%d tokens so far)\n", label, u.TotalTokens.Total())
			if councilShowAllFlag {
				printResponses(w, u.Responses)
				printResponses(w, u.Reviews)
			}
			return
		}
		if u.Participant != "" {
			fmt.Fprintf(w, "  %s %s\n", tui.Icon("done", color), u.Participant)
		}
	}
}

func printResponses(w io.Writer, responses map[string]string) {
	names := make([]string, 0, len(responses))
	for name := range responses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "\n--- %s ---\n%s\n", name, strings.TrimSpace(responses[name]))
	}
}

func printCouncilResult(res *council.Result) {
	if len(res.Excluded) > 0 {
		names := make([]string, 0, len(res.Excluded))
		for name := range res.Excluded {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(os.Stderr, "Skipped %s: %s\n", name, res.Excluded[name])
		}
	}
	fmt.Println(strings.TrimSpace(res.FinalResponse))
	fmt.Fprintf(os.Stderr, "\nChairman: %s, tokens: %d in / %d out\n",
		res.Chairman, res.TotalTokens.Input, res.TotalTokens.Output)
}

// interruptedOr maps a ctx cancelled by a signal to errInterrupted.
func interruptedOr(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return errInterrupted
	}
	return err
}
