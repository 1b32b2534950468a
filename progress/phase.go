package progress

import "strings"

// Phase is a coarse stage of a backend analysis.
type Phase string

const (
	PhaseInit         Phase = "init"
	PhaseClone        Phase = "clone"
	PhaseSecurity     Phase = "security"
	PhaseAnalysis     Phase = "analysis"
	PhaseEvolution    Phase = "evolution"
	PhaseVerification Phase = "verification"
	PhaseDone         Phase = "done"
	PhaseError        Phase = "error"
)

// Rank orders phases. Security and analysis run side by side, as do evolution
// and verification; error sits outside the order.
func (p Phase) Rank() int {
	switch p {
	case PhaseInit:
		return 0
	case PhaseClone:
		return 1
	case PhaseSecurity, PhaseAnalysis:
		return 2
	case PhaseEvolution, PhaseVerification:
		return 3
	case PhaseDone:
		return 4
	default:
		return -1
	}
}

// Pipeline lists the non-error phases in display order.
var Pipeline = []Phase{
	PhaseInit,
	PhaseClone,
	PhaseSecurity,
	PhaseAnalysis,
	PhaseEvolution,
	PhaseVerification,
	PhaseDone,
}

func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseError
}

// Label is the user-facing name of the phase.
func (p Phase) Label() string {
	switch p {
	case PhaseInit:
		return "Starting"
	case PhaseClone:
		return "Cloning"
	case PhaseSecurity:
		return "Security scan"
	case PhaseAnalysis:
		return "Code analysis"
	case PhaseEvolution:
		return "Evolution"
	case PhaseVerification:
		return "Verification"
	case PhaseDone:
		return "Done"
	case PhaseError:
		return "Failed"
	default:
		return string(p)
	}
}

var phaseAliases = map[string]Phase{
	"init":               PhaseInit,
	"start":              PhaseInit,
	"starting":           PhaseInit,
	"clone":              PhaseClone,
	"cloning":            PhaseClone,
	"clone_repository":   PhaseClone,
	"security":           PhaseSecurity,
	"security_scan":      PhaseSecurity,
	"security_scanning":  PhaseSecurity,
	"analysis":           PhaseAnalysis,
	"analyze":            PhaseAnalysis,
	"analyzing":          PhaseAnalysis,
	"code_analysis":      PhaseAnalysis,
	"analyze_code":       PhaseAnalysis,
	"evolution":          PhaseEvolution,
	"evolution_analysis": PhaseEvolution,
	"analyze_evolution":  PhaseEvolution,
	"verification":       PhaseVerification,
	"verify":             PhaseVerification,
	"verifying":          PhaseVerification,
	"verify_issue":       PhaseVerification,
	"done":               PhaseDone,
	"complete":           PhaseDone,
	"completed":          PhaseDone,
	"error":              PhaseError,
	"failed":             PhaseError,
}

// NormalizePhase maps a backend phase name to a Phase.
func NormalizePhase(s string) (Phase, bool) {
	p, ok := phaseAliases[strings.ToLower(strings.TrimSpace(s))]
	return p, ok
}

type toolInfo struct {
	phase Phase
	step  string
}

var knownTools = map[string]toolInfo{
	"clone_repository":  {PhaseClone, "Cloning repository"},
	"security_scan":     {PhaseSecurity, "Scanning for security vulnerabilities"},
	"analyze_code":      {PhaseAnalysis, "Analyzing code quality"},
	"verify_issue":      {PhaseVerification, "Verifying issue"},
	"generate_fix":      {PhaseVerification, "Generating fix"},
	"analyze_evolution": {PhaseEvolution, "Analyzing evolution opportunities"},
}
