package monitor

import "github.com/hazz-dev/canary/internal/model"

// RecentWindow is how many of the most recent results feed streak analysis.
const RecentWindow = 5

// Streak counts the run of identical statuses at the head of the recent results.
// At most one of the two fields is non-zero.
type Streak struct {
	LeadingFailures  int
	LeadingSuccesses int
}

// AnalyzeStreak inspects statuses ordered newest first. Only the first RecentWindow
// entries are considered.
func AnalyzeStreak(statuses []model.Status) Streak {
	if len(statuses) > RecentWindow {
		statuses = statuses[:RecentWindow]
	}
	var s Streak
	if len(statuses) == 0 {
		return s
	}

	head := statuses[0]
	n := 0
	for _, st := range statuses {
		if st != head {
			break
		}
		n++
	}

	switch head {
	case model.StatusDown:
		s.LeadingFailures = n
	case model.StatusUp:
		s.LeadingSuccesses = n
	}
	return s
}

func statusesOf(results []model.CheckResult) []model.Status {
	out := make([]model.Status, len(results))
	for i, r := range results {
		out[i] = r.Status
	}
	return out
}
