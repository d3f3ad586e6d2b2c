// Package plan provides pure functions for deriving usage limits from
// plan and organization facts. All functions are deterministic with no
// side effects.
package plan

import (
	"time"

	"github.com/artpar/metergate/ports"
)

// Unlimited marks a window without a numeric cap.
const Unlimited int64 = -1

// Policy is the limit strategy resolved once per admission call
// (value type). Suspended takes precedence over both limits: a
// suspended organization gets no headroom at all, so every unit of a
// post-suspension increment counts as blocked.
type Policy struct {
	HourlyLimit  int64
	MonthlyLimit int64
	Enforce      bool // false for non-throttling tiers: overages are tracked, not enforced
	Suspended    bool
}

// HourlyLimit derives the hourly allowance from a monthly cap. The
// hourly budget is the even per-hour share of the month with a 5x
// burst factor, clamped to [1, monthly].
func HourlyLimit(maxEventsPerMonth int64) int64 {
	if maxEventsPerMonth < 0 {
		return Unlimited
	}
	h := maxEventsPerMonth / (30 * 24) * 5
	if h < 1 {
		h = 1
	}
	if h > maxEventsPerMonth {
		h = maxEventsPerMonth
	}
	return h
}

// ResolvePolicy computes the limit strategy for an organization at a
// given instant.
func ResolvePolicy(p ports.Plan, org ports.Organization, now time.Time) Policy {
	suspended := org.IsSuspended && !org.SuspensionDate.After(now)
	return Policy{
		HourlyLimit:  HourlyLimit(p.MaxEventsPerMonth),
		MonthlyLimit: p.MaxEventsPerMonth,
		Enforce:      p.ThrottlingEnabled,
		Suspended:    suspended,
	}
}
