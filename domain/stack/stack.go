// Package stack defines the deduplicated error group entity and the
// pure merge of buffered occurrence deltas into it.
package stack

import "time"

// Stack is a deduplicated group of events sharing a signature. Its
// occurrence statistics are mutated only by the aggregator's flush path.
type Stack struct {
	ID               string
	OrganizationID   string
	ProjectID        string
	Title            string
	TotalOccurrences int64
	FirstOccurrence  time.Time // zero until the first delta lands
	LastOccurrence   time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Delta is a drained cache delta awaiting commit (value type).
// MinDate/MaxDate may be zero when the cache lost them to a drain
// race; the merge then keeps the persisted bounds.
type Delta struct {
	Count   int64
	MinDate time.Time
	MaxDate time.Time
}

// ApplyDelta merges a drained delta into a stack record. Totals only
// grow; FirstOccurrence only moves earlier; LastOccurrence only moves
// later. This is a PURE function.
func ApplyDelta(s Stack, d Delta) Stack {
	s.TotalOccurrences += d.Count
	if !d.MinDate.IsZero() && (s.FirstOccurrence.IsZero() || d.MinDate.Before(s.FirstOccurrence)) {
		s.FirstOccurrence = d.MinDate
	}
	if !d.MaxDate.IsZero() && d.MaxDate.After(s.LastOccurrence) {
		s.LastOccurrence = d.MaxDate
	}
	return s
}
