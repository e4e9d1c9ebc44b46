package pipeline

import "github.com/kurolabs/kuro-gateway/pkg/models"

// AgentSelection is the orchestration stage's output: which persona
// handles the request and under what effective mode.
type AgentSelection struct {
	Agent        string
	Mode         string
	Downgraded   bool
	DowngradeWhy string
}

// agentByIntent picks the persona. Default persona is kuro.
var agentByIntent = map[string]string{
	"code":     "forge",
	"math":     "sage",
	"analysis": "sage",
	"creative": "muse",
}

// SelectAgent resolves intent, requested mode and caller level into a
// selection. Elevated modes require level; a shortfall downgrades to
// the standard mode and reports why, mirroring the dial router.
func SelectAgent(intent Intent, caller *models.Caller, requestedMode string, profile *models.Profile) AgentSelection {
	agent, ok := agentByIntent[intent.Label]
	if !ok {
		agent = "kuro"
	}

	mode := requestedMode
	if mode == "" {
		mode = "standard"
	}
	sel := AgentSelection{Agent: agent, Mode: mode}

	switch mode {
	case "red_team":
		if caller.Level < 3 {
			sel.Mode = "standard"
			sel.Downgraded = true
			sel.DowngradeWhy = "red_team requires operator level"
		}
	case "incubation":
		if caller.Level < 2 {
			sel.Mode = "standard"
			sel.Downgraded = true
			sel.DowngradeWhy = "incubation requires analyst level"
		}
	case "standard", "focus":
	default:
		sel.Mode = "standard"
		sel.Downgraded = true
		sel.DowngradeWhy = "unknown mode"
	}

	// Deep reasoning modes are pointless on an instant profile.
	if profile != nil && profile.Dial == models.DialInstant && sel.Mode == "incubation" {
		sel.Mode = "standard"
		sel.Downgraded = true
		sel.DowngradeWhy = "instant profile"
	}
	return sel
}
