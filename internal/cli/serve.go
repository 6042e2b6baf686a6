// serve.go implements the "agentk serve" command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only status API",
	Long: `Serve task, agent and session status as JSON over HTTP. Agent
statuses come from the latest active session; without one, /session
answers 404 and every agent reads idle.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var listenFlag string

func init() {
	serveCmd.Flags().StringVar(&listenFlag, "addr", "127.0.0.1:7070", "Listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	db, reg, err := ws.sessions()
	if err != nil {
		return err
	}
	defer db.Close()
	resolver, err := ws.resolver()
	if err != nil {
		return err
	}

	opts := api.Options{Addr: listenFlag, Store: ws.store, Resolver: resolver}
	if id, err := resolveSession(db, ""); err == nil {
		opts.Sessions = reg
		opts.SessionID = id
	}
	srv, err := api.NewServer(opts)
	if err != nil {
		return err
	}
	fmt.Printf("Serving on http://%s\n", srv.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
