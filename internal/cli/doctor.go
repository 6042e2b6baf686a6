// doctor.go implements the "agentk doctor" dependency check.
package cli

import (
	"errors"
	"fmt"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/agentk-dev/agentk/internal/council"
	"github.com/agentk-dev/agentk/internal/tui"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the agent CLI and council backends are usable",
	Args:  cobra.NoArgs,
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return err
	}
	color := tui.IsTTY()

	fmt.Printf("Workspace: %s (%s mode)\n\n", ws.root, ws.mode)

	agentOK := true
	if path, err := exec.LookPath(ws.cfg.Agent.Command); err != nil {
		agentOK = false
		fmt.Printf("  %s agent command %q not found in PATH\n", tui.Icon("failed", color), ws.cfg.Agent.Command)
	} else {
		fmt.Printf("  %s agent command %s\n", tui.Icon("done", color), path)
	}

	backends := council.BackendsFromConfig(ws.cfg.Council)
	usable := 0
	for _, b := range backends {
		if err := b.Available(); err != nil {
			reason := err.Error()
			var unavailable *council.BackendUnavailableError
			if errors.As(err, &unavailable) {
				reason = unavailable.Reason
			}
			fmt.Printf("  %s council backend %s: %s\n", tui.Icon("failed", color), b.Name(), reason)
			continue
		}
		usable++
		fmt.Printf("  %s council backend %s\n", tui.Icon("done", color), b.Name())
	}

	fmt.Println()
	switch {
	case usable == 0:
		fmt.Println("No council backend is usable; agentk council will fail.")
	case usable == 1:
		fmt.Println("One council backend is usable; use agentk council --solo.")
	}
	if !agentOK {
		return fmt.Errorf("agent command %q is missing", ws.cfg.Agent.Command)
	}
	return nil
}
