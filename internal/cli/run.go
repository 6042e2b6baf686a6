// run.go implements the "agentk run" command which loads an optional plan
// file, opens a session and dispatches ready tasks until none remain.
package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/api"
	"github.com/agentk-dev/agentk/internal/cleanup"
	"github.com/agentk-dev/agentk/internal/execute"
	"github.com/agentk-dev/agentk/internal/log"
	"github.com/agentk-dev/agentk/internal/plan"
	"github.com/agentk-dev/agentk/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run [plan-file]",
	Short: "Run every ready task with its assigned agent",
	Long: `Start a session and hand each ready task to its agent until nothing is
ready or running. A plan file (.yaml or .md) is loaded into the task store
first. Ctrl-C kills every agent, cancels open tasks and ends the session.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var (
	serveAddrFlag string
	keepOpenFlag  bool
)

func init() {
	runCmd.Flags().StringVar(&serveAddrFlag, "serve", "", "Also serve the status API on this address (e.g. 127.0.0.1:7070)")
	runCmd.Flags().BoolVar(&keepOpenFlag, "keep-open", false, "Leave the session active when the run finishes")
}

func runRun(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if err := loadPlan(ws, args[0]); err != nil {
			return err
		}
	}

	db, reg, err := ws.sessions()
	if err != nil {
		return err
	}
	defer db.Close()

	sess, err := reg.Start()
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	runDir, err := cleanup.NewRunDir(ws.runsDir(), time.Now())
	if err != nil {
		return err
	}
	autoClean(ws, filepath.Base(runDir))

	resolver, err := ws.resolver()
	if err != nil {
		return err
	}
	sup, err := execute.NewSupervisor(execute.Options{
		Config:   ws.cfg,
		Store:    ws.store,
		Resolver: resolver,
		Logger:   ws.logger,
		Reporter: reg.Reporter(sess.ID),
		RunDir:   runDir,
		WorkDir:  ws.root,
	})
	if err != nil {
		return err
	}
	reg.SetStatusSource(sup)

	fmt.Printf("Session %s (%s mode)\n", sess.ID, sess.Mode)
	fmt.Printf("Logs: %s\n", filepath.Join(runDir, "logs"))

	if serveAddrFlag != "" {
		srv, err := api.NewServer(api.Options{
			Addr:      serveAddrFlag,
			Store:     ws.store,
			Resolver:  resolver,
			Sessions:  reg,
			SessionID: sess.ID,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: status API stopped: %v\n", err)
			}
		}()
		defer srv.Close()
		fmt.Printf("Status API: http://%s\n", srv.Addr())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := execute.NewDispatcher(sup)
	d.OnEvent = func(ev execute.DispatchEvent) {
		printDispatchEvent(ev, d.Pool().Progress())
	}
	summary, runErr := d.Run(ctx)

	if ctx.Err() != nil && cmd.Context().Err() == nil {
		fmt.Println("\nStopping agents...")
		if err := sup.KillAll(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		cancelled, err := reg.End(sess.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: ending session: %v\n", err)
		}
		fmt.Printf("Session ended, %d task(s) cancelled.\n", len(cancelled))
		return errInterrupted
	}
	if runErr != nil {
		_ = sup.KillAll()
		return fmt.Errorf("dispatch failed: %w", runErr)
	}

	fmt.Printf("\nLaunched %d, completed %d, failed %d, cancelled %d.\n",
		summary.Launched, summary.Completed, summary.Failed, summary.Cancelled)
	if len(summary.Blocked) > 0 {
		fmt.Println("Blocked:")
		for _, b := range summary.Blocked {
			fmt.Printf("  %s waits on %s (%s)\n", b.Task.ID, b.Dependency, b.Reason)
		}
		fmt.Printf("Session %s left open; end it with: agentk session end %s\n", sess.ID, sess.ID)
		return nil
	}
	if keepOpenFlag {
		return nil
	}
	if _, err := reg.End(sess.ID); err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d task(s) failed", summary.Failed)
	}
	return nil
}

func loadPlan(ws *workspace, path string) error {
	p, err := plan.Load(path)
	if err != nil {
		return err
	}
	ids, err := plan.Apply(ws.store, p)
	for key, id := range ids {
		ws.logger.Warn(log.LogEvent{Event: log.EventTaskCreated, TaskID: id, Data: map[string]interface{}{"key": key, "plan": path}})
	}
	if err != nil {
		return fmt.Errorf("applying plan: %w", err)
	}

	keys := make([]string, 0, len(ids))
	for key := range ids {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	title := p.Title
	if title == "" {
		title = filepath.Base(path)
	}
	fmt.Printf("Plan %q: %d task(s)\n", title, len(ids))
	for _, key := range keys {
		fmt.Printf("  %s -> %s\n", key, ids[key])
	}
	return nil
}

// autoClean prunes runs older than the configured age. Failures only warn.
func autoClean(ws *workspace, current string) {
	days := ws.cfg.Cleanup.MaxAgeDays
	if days <= 0 {
		return
	}
	_, err := cleanup.Prune(ws.runsDir(), cleanup.Options{
		MaxAge: time.Duration(days) * 24 * time.Hour,
		Skip:   []string{current},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cleaning old runs: %v\n", err)
	}
}

func printDispatchEvent(ev execute.DispatchEvent, progress string) {
	color := tui.IsTTY()
	switch ev.Kind {
	case execute.DispatchLaunched:
		fmt.Printf("%s %s started %s\n", tui.Icon("running", color), ev.Agent, ev.TaskID)
	case execute.DispatchFinished:
		fmt.Printf("%s %s %s %s  [%s]\n", tui.Icon(string(ev.Status), color), ev.Agent, ev.Status, ev.TaskID, progress)
	case execute.DispatchSpawnFailed:
		msg := "spawn failed"
		if ev.Err != nil {
			msg = ev.Err.Error()
		}
		fmt.Printf("%s %s could not start %s: %s\n", tui.Icon("failed", color), ev.Agent, ev.TaskID, msg)
	case execute.DispatchCancelled:
		fmt.Printf("%s %s cancelled  [%s]\n", tui.Icon("cancelled", color), ev.TaskID, progress)
	}
}
