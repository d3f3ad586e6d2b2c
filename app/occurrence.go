package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/adapters/metrics"
	"github.com/artpar/metergate/domain/counter"
	"github.com/artpar/metergate/domain/stack"
	"github.com/artpar/metergate/ports"
)

// OccurrenceAggregator buffers per-stack occurrence statistics in the
// counter cache and periodically commits them to the durable stack
// store. Increments land on the hot path without a durable write;
// SaveStackUsages drains the accumulated deltas.
type OccurrenceAggregator struct {
	counters ports.CounterStore
	stacks   ports.StackStore
	clock    ports.Clock
	logger   zerolog.Logger
	metrics  *metrics.Collector // optional

	// Only one flush runs at a time; increments never take this lock.
	flushMu sync.Mutex

	dwell    time.Duration
	minBatch int64
}

// OccurrenceDeps contains dependencies for OccurrenceAggregator.
type OccurrenceDeps struct {
	Counters ports.CounterStore
	Stacks   ports.StackStore
	Clock    ports.Clock
	Logger   zerolog.Logger
	Metrics  *metrics.Collector
}

// OccurrenceConfig tunes the flush heuristics.
type OccurrenceConfig struct {
	// Dwell is how long a small delta may sit before a non-forced
	// flush picks it up (default: 30s).
	Dwell time.Duration

	// MinBatch is the delta size at which a non-forced flush commits
	// regardless of age (default: 10).
	MinBatch int64
}

// NewOccurrenceAggregator creates a new stack occurrence aggregator.
func NewOccurrenceAggregator(deps OccurrenceDeps, cfg OccurrenceConfig) *OccurrenceAggregator {
	if cfg.Dwell <= 0 {
		cfg.Dwell = 30 * time.Second
	}
	if cfg.MinBatch <= 0 {
		cfg.MinBatch = 10
	}
	return &OccurrenceAggregator{
		counters: deps.Counters,
		stacks:   deps.Stacks,
		clock:    deps.Clock,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		dwell:    cfg.Dwell,
		minBatch: cfg.MinBatch,
	}
}

// SetTuning replaces the flush heuristics. Zero values keep the
// current setting. Takes effect on the next flush cycle.
func (a *OccurrenceAggregator) SetTuning(dwell time.Duration, minBatch int64) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()
	if dwell > 0 {
		a.dwell = dwell
	}
	if minBatch > 0 {
		a.minBatch = minBatch
	}
}

// IncrementStackUsage records count occurrences of a stack spanning
// [minDate, maxDate]. Safe for unbounded concurrent callers: the count
// accumulates atomically, the min/max window only widens, and the
// stack's tuple joins the pending-flush set idempotently.
func (a *OccurrenceAggregator) IncrementStackUsage(ctx context.Context, orgID, projectID, stackID string, minDate, maxDate time.Time, count int64) error {
	if count < 0 {
		return fmt.Errorf("negative occurrence count %d", count)
	}
	if count == 0 {
		return nil
	}
	if minDate.After(maxDate) {
		minDate, maxDate = maxDate, minDate
	}

	if _, err := a.counters.Increment(ctx, counter.StackCountKey(stackID), count, counter.StackTTL); err != nil {
		return fmt.Errorf("increment stack count: %w", err)
	}
	if err := a.counters.SetIfLess(ctx, counter.StackMinDateKey(stackID), minDate.UTC().UnixMilli(), counter.StackTTL); err != nil {
		return fmt.Errorf("widen stack min date: %w", err)
	}
	if err := a.counters.SetIfGreater(ctx, counter.StackMaxDateKey(stackID), maxDate.UTC().UnixMilli(), counter.StackTTL); err != nil {
		return fmt.Errorf("widen stack max date: %w", err)
	}
	if err := a.counters.SetIfLess(ctx, counter.StackDirtySinceKey(stackID), a.clock.Now().UnixMilli(), counter.StackTTL); err != nil {
		return fmt.Errorf("mark stack dirty: %w", err)
	}
	member := counter.EncodeTuple(orgID, projectID, stackID)
	if err := a.counters.AddToSet(ctx, counter.PendingSetKey, member, counter.StackTTL); err != nil {
		return fmt.Errorf("add stack to pending set: %w", err)
	}
	return nil
}

// SaveReport summarizes one flush cycle.
type SaveReport struct {
	Pending int // tuples in the set when the cycle started
	Flushed int // stacks committed to the durable store
	Skipped int // tuples left for a later cycle (dwell or zero delta)
	Failed  int // tuples whose commit failed; deltas were restored
}

// SaveStackUsages drains pending stack deltas into the durable store.
// With flushAll false, small and young deltas are left to accumulate;
// flushAll true forces a complete drain (shutdown, tests).
//
// Flushes are serialized; a second caller waits for the first. The
// loop checks ctx between tuples, never mid-tuple, so cancellation
// leaves a consistent partially-flushed state. Per-tuple failures are
// logged and counted but do not halt the cycle; the failed tuple's
// delta is restored so the next cycle retries the still-uncommitted
// remainder.
func (a *OccurrenceAggregator) SaveStackUsages(ctx context.Context, flushAll bool) (SaveReport, error) {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	start := a.clock.Now()
	var report SaveReport

	members, err := a.counters.GetSet(ctx, counter.PendingSetKey)
	if err != nil {
		return report, fmt.Errorf("read pending set: %w", err)
	}
	report.Pending = len(members)
	if a.metrics != nil {
		a.metrics.PendingStacks.Set(float64(len(members)))
	}

	for _, member := range members {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		switch a.flushOne(ctx, member, flushAll) {
		case flushCommitted:
			report.Flushed++
		case flushSkipped:
			report.Skipped++
		case flushFailed:
			report.Failed++
		}
	}

	if a.metrics != nil {
		a.metrics.FlushDuration.Observe(a.clock.Now().Sub(start).Seconds())
		a.metrics.FlushedStacks.Add(float64(report.Flushed))
		a.metrics.FlushFailures.Add(float64(report.Failed))
	}

	a.logger.Debug().
		Int("pending", report.Pending).
		Int("flushed", report.Flushed).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Bool("flush_all", flushAll).
		Msg("stack usage flush cycle complete")

	if report.Failed > 0 {
		return report, fmt.Errorf("flush: %d of %d pending stacks failed", report.Failed, report.Pending)
	}
	return report, nil
}

type flushOutcome int

const (
	flushCommitted flushOutcome = iota
	flushSkipped
	flushFailed
)

// flushOne drains and commits a single pending tuple.
func (a *OccurrenceAggregator) flushOne(ctx context.Context, member string, flushAll bool) flushOutcome {
	orgID, projectID, stackID, err := counter.DecodeTuple(member)
	if err != nil {
		// A malformed member can never flush; drop it.
		a.logger.Warn().Err(err).Msg("dropping malformed pending tuple")
		a.counters.RemoveFromSet(ctx, counter.PendingSetKey, member)
		return flushSkipped
	}

	countKey := counter.StackCountKey(stackID)
	cnt, err := a.counters.Get(ctx, countKey)
	if err != nil {
		a.logger.Warn().Err(err).Str("stack_id", stackID).Msg("failed to read pending stack count")
		return flushFailed
	}

	if cnt == 0 {
		// Nothing to commit. Remove the tuple, then re-add if an
		// increment slipped in behind the removal.
		a.counters.RemoveFromSet(ctx, counter.PendingSetKey, member)
		if v, _ := a.counters.Get(ctx, countKey); v != 0 {
			a.counters.AddToSet(ctx, counter.PendingSetKey, member, counter.StackTTL)
			return flushSkipped
		}
		a.counters.Reset(ctx, counter.StackDirtySinceKey(stackID))
		return flushSkipped
	}

	if !flushAll && cnt < a.minBatch {
		dirtySince, _ := a.counters.Get(ctx, counter.StackDirtySinceKey(stackID))
		if dirtySince > 0 && a.clock.Now().Sub(time.UnixMilli(dirtySince)) < a.dwell {
			return flushSkipped
		}
	}

	// Atomic drain: subtract exactly the observed count so increments
	// racing with this flush survive as residual for the next cycle.
	if _, err := a.counters.Increment(ctx, countKey, -cnt, counter.StackTTL); err != nil {
		a.logger.Warn().Err(err).Str("stack_id", stackID).Msg("failed to drain stack count")
		return flushFailed
	}

	minMs, _ := a.counters.Get(ctx, counter.StackMinDateKey(stackID))
	maxMs, _ := a.counters.Get(ctx, counter.StackMaxDateKey(stackID))
	a.counters.Reset(ctx, counter.StackMinDateKey(stackID))
	a.counters.Reset(ctx, counter.StackMaxDateKey(stackID))

	delta := stack.Delta{Count: cnt}
	if minMs > 0 {
		delta.MinDate = time.UnixMilli(minMs).UTC()
	}
	if maxMs > 0 {
		delta.MaxDate = time.UnixMilli(maxMs).UTC()
	}

	if err := a.commit(ctx, orgID, projectID, stackID, delta); err != nil {
		a.logger.Error().Err(err).
			Str("stack_id", stackID).
			Int64("count", cnt).
			Msg("failed to persist stack delta, restoring for retry")
		a.restore(ctx, stackID, delta)
		return flushFailed
	}

	a.counters.RemoveFromSet(ctx, counter.PendingSetKey, member)
	a.counters.Reset(ctx, counter.StackDirtySinceKey(stackID))

	// An increment that landed after the drain re-queues the tuple.
	if v, _ := a.counters.Get(ctx, countKey); v != 0 {
		a.counters.AddToSet(ctx, counter.PendingSetKey, member, counter.StackTTL)
	}
	return flushCommitted
}

// commit merges a drained delta into the durable stack record.
func (a *OccurrenceAggregator) commit(ctx context.Context, orgID, projectID, stackID string, delta stack.Delta) error {
	s, err := a.stacks.GetByID(ctx, stackID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			// First delta for a stack the repository has not seen:
			// create the record from the delta itself.
			s = stack.Stack{
				ID:             stackID,
				OrganizationID: orgID,
				ProjectID:      projectID,
				CreatedAt:      a.clock.Now(),
			}
		} else {
			return fmt.Errorf("load stack: %w", err)
		}
	}

	s = stack.ApplyDelta(s, delta)
	s.UpdatedAt = a.clock.Now()
	if err := a.stacks.Save(ctx, s); err != nil {
		return fmt.Errorf("save stack: %w", err)
	}
	return nil
}

// restore puts a drained delta back into the cache after a failed
// commit so the retry re-adds exactly the uncommitted amount.
func (a *OccurrenceAggregator) restore(ctx context.Context, stackID string, delta stack.Delta) {
	if _, err := a.counters.Increment(ctx, counter.StackCountKey(stackID), delta.Count, counter.StackTTL); err != nil {
		a.logger.Error().Err(err).Str("stack_id", stackID).Msg("failed to restore drained stack count")
	}
	if !delta.MinDate.IsZero() {
		a.counters.SetIfLess(ctx, counter.StackMinDateKey(stackID), delta.MinDate.UnixMilli(), counter.StackTTL)
	}
	if !delta.MaxDate.IsZero() {
		a.counters.SetIfGreater(ctx, counter.StackMaxDateKey(stackID), delta.MaxDate.UnixMilli(), counter.StackTTL)
	}
}

// PendingStacks returns the current pending-set snapshot (for
// reporting and tests).
func (a *OccurrenceAggregator) PendingStacks(ctx context.Context) ([]string, error) {
	return a.counters.GetSet(ctx, counter.PendingSetKey)
}
