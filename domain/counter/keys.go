// Package counter builds the cache keys shared by the usage accounting
// service and the stack occurrence aggregator. All functions are pure.
//
// Usage counters form a tuple (metric, window, scope): metric is
// "total" or "blocked", window is a calendar bucket, scope is either an
// organization id or "orgID:projectID". Per-stack delta keys and the
// pending-flush set have their own prefixes.
package counter

import (
	"fmt"
	"strings"
	"time"
)

// Metric names for usage counters.
const (
	MetricTotal   = "total"
	MetricBlocked = "blocked"
)

// Window names for usage counters.
const (
	WindowHour  = "hour"
	WindowMonth = "month"
)

// Key expiries. Windows live slightly longer than the period they
// cover so stale buckets self-clean; stack delta keys outlive the
// longest reasonable gap between flushes.
const (
	HourTTL  = 90 * time.Minute
	MonthTTL = 32 * 24 * time.Hour
	StackTTL = 48 * time.Hour
)

// PendingSetKey is the set of "orgID:projectID:stackID" tuples whose
// cached deltas await a flush.
const PendingSetKey = "stack:pending"

// HourBucket formats t's calendar hour, e.g. "2026-09-01-13". Always UTC.
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02-15")
}

// MonthBucket formats t's calendar month, e.g. "2026-09". The year is
// part of the bucket so counters never alias across years. Always UTC.
func MonthBucket(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// OrgScope returns the scope id for organization-wide counters.
func OrgScope(orgID string) string {
	return orgID
}

// ProjectScope returns the scope id for per-project counters.
func ProjectScope(orgID, projectID string) string {
	return orgID + ":" + projectID
}

// HourlyUsageKey builds the key for an hourly usage counter.
func HourlyUsageKey(metric, scope string, t time.Time) string {
	return usageKey(metric, WindowHour, HourBucket(t), scope)
}

// MonthlyUsageKey builds the key for a monthly usage counter.
func MonthlyUsageKey(metric, scope string, t time.Time) string {
	return usageKey(metric, WindowMonth, MonthBucket(t), scope)
}

func usageKey(metric, window, bucket, scope string) string {
	return fmt.Sprintf("usage:%s:%s:%s:%s", metric, window, bucket, scope)
}

// StackCountKey holds a stack's unflushed occurrence count.
func StackCountKey(stackID string) string {
	return "stack:count:" + stackID
}

// StackMinDateKey holds a stack's unflushed earliest occurrence, as
// unix milliseconds. Absent means unset.
func StackMinDateKey(stackID string) string {
	return "stack:mindate:" + stackID
}

// StackMaxDateKey holds a stack's unflushed latest occurrence, as
// unix milliseconds. Absent means unset.
func StackMaxDateKey(stackID string) string {
	return "stack:maxdate:" + stackID
}

// StackDirtySinceKey holds the unix-millisecond timestamp of the first
// unflushed increment for a stack, used by the flush dwell heuristic.
func StackDirtySinceKey(stackID string) string {
	return "stack:dirtysince:" + stackID
}

// EncodeTuple encodes a pending-set member. IDs must not contain ':'.
func EncodeTuple(orgID, projectID, stackID string) string {
	return orgID + ":" + projectID + ":" + stackID
}

// DecodeTuple splits a pending-set member back into its ids.
func DecodeTuple(member string) (orgID, projectID, stackID string, err error) {
	parts := strings.SplitN(member, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", "", "", fmt.Errorf("malformed pending tuple %q", member)
	}
	return parts[0], parts[1], parts[2], nil
}
