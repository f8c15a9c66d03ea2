package skills

// ActionState is the externally observable state of a slug, joined from
// the four stores plus analysis and install progress.
type ActionState string

const (
	StateNotAnalyzed    ActionState = "not_analyzed"
	StateAnalyzing      ActionState = "analyzing"
	StateAnalysisFailed ActionState = "analysis_failed"
	StateAnalyzed       ActionState = "analyzed"
	StateInstalling     ActionState = "installing"
	StateInstalled      ActionState = "installed"
	StateBlocked        ActionState = "blocked"
	StateUntrusted      ActionState = "untrusted"
	StateDisabled       ActionState = "disabled"
	StateWorkspace      ActionState = "workspace"
)

// StateInput carries the facts DeriveState joins. Cached means the slug
// has a marketplace-cache entry; Workspace marks a bundle uploaded from
// the operator's workspace rather than any store.
type StateInput struct {
	Approved       bool
	OnDisk         bool
	Installing     bool
	Cached         bool
	WasInstalled   bool
	Workspace      bool
	Analyzing      bool
	Analyzed       bool
	AnalysisFailed bool
	Critical       bool
}

// DeriveState computes the reported actionState. Precedence: an install
// in progress wins over everything, then the deployed/trust axis, then
// the disabled/untrusted cache states, then the analysis axis.
func DeriveState(in StateInput) ActionState {
	switch {
	case in.Installing:
		return StateInstalling
	case in.OnDisk && in.Approved:
		return StateInstalled
	case in.OnDisk && !in.Approved:
		return StateUntrusted
	case in.Critical:
		return StateBlocked
	case in.Cached && in.WasInstalled:
		return StateDisabled
	case in.Cached && !in.Approved && in.Analyzed:
		// Quarantined by the watcher, analysis already ran.
		return StateUntrusted
	case in.Workspace:
		return StateWorkspace
	case in.Analyzing:
		return StateAnalyzing
	case in.AnalysisFailed:
		return StateAnalysisFailed
	case in.Analyzed:
		return StateAnalyzed
	default:
		return StateNotAnalyzed
	}
}
