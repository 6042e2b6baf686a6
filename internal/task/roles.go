package task

import (
	"fmt"
	"strings"
)

// Mode selects the agent team.
type Mode string

const (
	ModeDev Mode = "dev"
	ModeML  Mode = "ml"
)

// Agent role names.
const (
	AgentOrchestrator = "orchestrator"
	AgentEngineer     = "engineer"
	AgentTester       = "tester"
	AgentSecurity     = "security"
	AgentScout        = "scout"
	AgentResearcher   = "researcher"
	AgentMLEngineer   = "ml-engineer"
	AgentDataEngineer = "data-engineer"
	AgentEvaluator    = "evaluator"
)

var roles = map[Mode][]string{
	ModeDev: {AgentOrchestrator, AgentEngineer, AgentTester, AgentSecurity, AgentScout},
	ModeML:  {AgentOrchestrator, AgentResearcher, AgentMLEngineer, AgentDataEngineer, AgentEvaluator, AgentScout},
}

// ParseMode accepts "dev" or "ml" (case-insensitive).
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roles[m]; !ok {
		return "", fmt.Errorf("unknown mode %q (want dev or ml)", s)
	}
	return m, nil
}

// Roles returns the agent names available in mode.
func Roles(mode Mode) []string {
	out := make([]string, len(roles[mode]))
	copy(out, roles[mode])
	return out
}

// ValidateAgent returns ErrUnknownAgent when name is not a role of mode.
func ValidateAgent(mode Mode, name string) error {
	for _, r := range roles[mode] {
		if r == name {
			return nil
		}
	}
	return fmt.Errorf("%w: %q is not a %s-mode agent (have %s)",
		ErrUnknownAgent, name, mode, strings.Join(roles[mode], ", "))
}
