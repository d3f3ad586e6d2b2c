// Package usage provides pure admission arithmetic for the usage
// accounting service. All functions are deterministic with no side
// effects.
package usage

import "github.com/artpar/metergate/domain/plan"

// Window is a read-only snapshot of one usage window, derived from the
// counter cache for decision-making and reporting. It is never
// persisted by this layer.
type Window struct {
	Scope    string `json:"scope"`
	Bucket   string `json:"bucket"`
	IsHourly bool   `json:"is_hourly"`
	Total    int64  `json:"total"`
	Blocked  int64  `json:"blocked"`
	Limit    int64  `json:"limit"`
	Enforced bool   `json:"enforced"`
}

// BlockedPortion returns how much of an increment of n, which brought
// a window's running total to newTotal, exceeds limit. Only the part
// of this increment over the line is blocked, never the historical
// total. A negative limit means unlimited.
func BlockedPortion(newTotal, n, limit int64) int64 {
	if limit < 0 || n <= 0 {
		return 0
	}
	if newTotal <= limit {
		return 0
	}
	over := newTotal - limit
	if over > n {
		over = n
	}
	return over
}

// Decide computes the blocked share of an increment of n given the
// post-increment hourly and monthly totals and the resolved policy.
// hourlyOnly confines the decision to the hourly window (monthTotal is
// ignored).
//
// A unit blocked by either window is a blocked event, so the returned
// blocked count is the larger of the two over-limit portions, and it
// is recorded in every window bucket the call touched. overHourly and
// overMonthly report which window crossed its own line this call,
// which drives overage notifications.
func Decide(p plan.Policy, hourTotal, monthTotal, n int64, hourlyOnly bool) (blocked int64, overHourly, overMonthly bool) {
	if n <= 0 {
		return 0, false, false
	}
	if p.Suspended {
		// No headroom past the moment of suspension: the whole
		// increment is blocked in every window it touched.
		return n, true, !hourlyOnly
	}
	h := BlockedPortion(hourTotal, n, p.HourlyLimit)
	var m int64
	if !hourlyOnly {
		m = BlockedPortion(monthTotal, n, p.MonthlyLimit)
	}
	blocked = h
	if m > blocked {
		blocked = m
	}
	return blocked, h > 0, m > 0
}
