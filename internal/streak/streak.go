// Package streak tracks consecutive activity days for a project.
package streak

import "time"

type Outcome string

const (
	Started     Outcome = "started"
	Incremented Outcome = "incremented"
	Reset       Outcome = "reset"
	Unchanged   Outcome = "unchanged"
)

type State struct {
	Current      int        `json:"current"`
	Longest      int        `json:"longest"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// DayDiff counts calendar days between last and now as seen in loc. Times of
// day are ignored, so 23:59 and 00:01 the next day are one day apart.
func DayDiff(last, now time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	ly, lm, ld := last.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	// Noon UTC keeps DST shifts out of the subtraction.
	from := time.Date(ly, lm, ld, 12, 0, 0, 0, time.UTC)
	to := time.Date(ny, nm, nd, 12, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

// Apply records activity at now and returns the new state.
//
//	no previous activity  current = 1
//	diff == 0             unchanged
//	diff == 1             current++
//	diff  > 1             current = 1
//
// Longest never drops below current. Activity dated before LastActivity
// leaves the state untouched.
func Apply(state State, now time.Time, loc *time.Location) (State, Outcome) {
	next := state
	if state.LastActivity == nil {
		next.Current = 1
		next.Longest = max(state.Longest, 1)
		next.LastActivity = timePtr(now)
		return next, Started
	}

	diff := DayDiff(*state.LastActivity, now, loc)
	var outcome Outcome
	switch {
	case diff < 0:
		return state, Unchanged
	case diff == 0:
		outcome = Unchanged
	case diff == 1:
		next.Current = state.Current + 1
		outcome = Incremented
	default:
		next.Current = 1
		outcome = Reset
	}
	next.Longest = max(state.Longest, next.Current)
	next.LastActivity = timePtr(now)
	return next, outcome
}

// Active reports whether the streak is still alive at now, i.e. activity
// happened today or yesterday.
func Active(state State, now time.Time, loc *time.Location) bool {
	if state.LastActivity == nil || state.Current == 0 {
		return false
	}
	diff := DayDiff(*state.LastActivity, now, loc)
	return diff >= 0 && diff <= 1
}

func timePtr(t time.Time) *time.Time {
	return &t
}
