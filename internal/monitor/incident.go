package monitor

import "github.com/hazz-dev/canary/internal/model"

// Thresholds of the incident state machine.
const (
	FailuresToOpen     = 3
	SuccessesToResolve = 2
)

// IncidentSummary is recorded on every incident the engine opens.
const IncidentSummary = "Consecutive failures detected"

// Transition is the incident change a single result caused.
type Transition string

const (
	TransitionNone      Transition = "NONE"
	TransitionDown      Transition = "DOWN"
	TransitionRecovered Transition = "RECOVERED"
)

// Evaluate decides the transition for the latest status given the current streak and
// whether the check already has an open incident.
func Evaluate(latest model.Status, s Streak, hasOpen bool) Transition {
	switch {
	case latest == model.StatusDown && s.LeadingFailures >= FailuresToOpen && !hasOpen:
		return TransitionDown
	case latest == model.StatusUp && s.LeadingSuccesses >= SuccessesToResolve && hasOpen:
		return TransitionRecovered
	default:
		return TransitionNone
	}
}
