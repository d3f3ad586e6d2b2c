package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/adapters/clock"
	"github.com/artpar/metergate/adapters/memory"
	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/domain/counter"
	"github.com/artpar/metergate/domain/stack"
	"github.com/artpar/metergate/ports"
)

type occurrenceFixture struct {
	agg      *app.OccurrenceAggregator
	counters *memory.CounterStore
	stacks   *memory.StackStore
	clock    *clock.Fake
}

func newOccurrenceFixture(t *testing.T, cfg app.OccurrenceConfig) *occurrenceFixture {
	t.Helper()

	counters := memory.NewCounterStore(memory.CounterStoreConfig{})
	t.Cleanup(func() { counters.Close() })

	stacks := memory.NewStackStore()
	fake := clock.NewFake(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))

	agg := app.NewOccurrenceAggregator(app.OccurrenceDeps{
		Counters: counters,
		Stacks:   stacks,
		Clock:    fake,
		Logger:   zerolog.Nop(),
	}, cfg)

	return &occurrenceFixture{agg: agg, counters: counters, stacks: stacks, clock: fake}
}

func TestIncrementStackUsage_ConcurrentAccumulation(t *testing.T) {
	f := newOccurrenceFixture(t, app.OccurrenceConfig{})
	ctx := context.Background()

	base := f.clock.Now()
	earliest := base.Add(-10 * time.Minute)
	latest := base

	var wg sync.WaitGroup
	for batch := 0; batch < 10; batch++ {
		wg.Add(1)
		go func(batch int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				// Every batch submits a different sub-window; the cache
				// must converge on the widest one.
				min := earliest.Add(time.Duration(batch) * time.Minute)
				max := latest.Add(-time.Duration(i) * time.Second)
				if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", min, max, 1); err != nil {
					t.Errorf("IncrementStackUsage failed: %v", err)
					return
				}
				if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", "stackB", min, max, 2); err != nil {
					t.Errorf("IncrementStackUsage failed: %v", err)
					return
				}
			}
		}(batch)
	}
	wg.Wait()

	if got, _ := f.counters.Get(ctx, counter.StackCountKey("stackA")); got != 100 {
		t.Errorf("stackA cached count = %d, want 100", got)
	}
	if got, _ := f.counters.Get(ctx, counter.StackCountKey("stackB")); got != 200 {
		t.Errorf("stackB cached count = %d, want 200", got)
	}

	if got, _ := f.counters.Get(ctx, counter.StackMinDateKey("stackA")); got != earliest.UnixMilli() {
		t.Errorf("stackA min date = %d, want %d", got, earliest.UnixMilli())
	}
	if got, _ := f.counters.Get(ctx, counter.StackMaxDateKey("stackA")); got != latest.UnixMilli() {
		t.Errorf("stackA max date = %d, want %d", got, latest.UnixMilli())
	}

	pending, err := f.agg.PendingStacks(ctx)
	if err != nil {
		t.Fatalf("PendingStacks failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending set has %d members, want 2: %v", len(pending), pending)
	}
}

func TestSaveStackUsages_FlushCorrectness(t *testing.T) {
	f := newOccurrenceFixture(t, app.OccurrenceConfig{})
	ctx := context.Background()

	max := f.clock.Now()
	min := max.Add(-time.Minute)
	if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", min, max, 10); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}

	report, err := f.agg.SaveStackUsages(ctx, true)
	if err != nil {
		t.Fatalf("SaveStackUsages failed: %v", err)
	}
	if report.Flushed != 1 {
		t.Errorf("flushed %d stacks, want 1", report.Flushed)
	}

	persisted, err := f.stacks.GetByID(ctx, "stackA")
	if err != nil {
		t.Fatalf("stack not persisted: %v", err)
	}
	if persisted.TotalOccurrences != 10 {
		t.Errorf("TotalOccurrences = %d, want 10", persisted.TotalOccurrences)
	}
	if !persisted.FirstOccurrence.Equal(min) {
		t.Errorf("FirstOccurrence = %v, want %v", persisted.FirstOccurrence, min)
	}
	if !persisted.LastOccurrence.Equal(max) {
		t.Errorf("LastOccurrence = %v, want %v", persisted.LastOccurrence, max)
	}
	if persisted.OrganizationID != "org1" || persisted.ProjectID != "proj1" {
		t.Errorf("persisted scope = %s/%s", persisted.OrganizationID, persisted.ProjectID)
	}

	if got, _ := f.counters.Get(ctx, counter.StackCountKey("stackA")); got != 0 {
		t.Errorf("cached count after flush = %d, want 0", got)
	}
	pending, _ := f.agg.PendingStacks(ctx)
	if len(pending) != 0 {
		t.Errorf("pending set not drained: %v", pending)
	}
}

func TestSaveStackUsages_NoDoubleCounting(t *testing.T) {
	f := newOccurrenceFixture(t, app.OccurrenceConfig{})
	ctx := context.Background()

	now := f.clock.Now()
	if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now, now, 7); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}

	if _, err := f.agg.SaveStackUsages(ctx, true); err != nil {
		t.Fatalf("first flush failed: %v", err)
	}
	if _, err := f.agg.SaveStackUsages(ctx, true); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}

	persisted, err := f.stacks.GetByID(ctx, "stackA")
	if err != nil {
		t.Fatalf("stack not persisted: %v", err)
	}
	if persisted.TotalOccurrences != 7 {
		t.Errorf("TotalOccurrences = %d after double flush, want 7", persisted.TotalOccurrences)
	}
}

func TestSaveStackUsages_MergesIntoExistingStack(t *testing.T) {
	f := newOccurrenceFixture(t, app.OccurrenceConfig{})
	ctx := context.Background()

	first := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	last := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	f.stacks.Save(ctx, stack.Stack{
		ID:               "stackA",
		OrganizationID:   "org1",
		ProjectID:        "proj1",
		TotalOccurrences: 40,
		FirstOccurrence:  first,
		LastOccurrence:   last,
	})

	now := f.clock.Now()
	if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now.Add(-time.Minute), now, 3); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}
	if _, err := f.agg.SaveStackUsages(ctx, true); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	persisted, _ := f.stacks.GetByID(ctx, "stackA")
	if persisted.TotalOccurrences != 43 {
		t.Errorf("TotalOccurrences = %d, want 43", persisted.TotalOccurrences)
	}
	if !persisted.FirstOccurrence.Equal(first) {
		t.Errorf("FirstOccurrence = %v, want existing %v kept", persisted.FirstOccurrence, first)
	}
	if !persisted.LastOccurrence.Equal(now) {
		t.Errorf("LastOccurrence = %v, want widened to %v", persisted.LastOccurrence, now)
	}
}

func TestSaveStackUsages_ZeroDeltaRemovedThenReadded(t *testing.T) {
	f := newOccurrenceFixture(t, app.OccurrenceConfig{})
	ctx := context.Background()
	now := f.clock.Now()

	if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now, now, 4); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}
	if _, err := f.agg.SaveStackUsages(ctx, true); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	pending, _ := f.agg.PendingStacks(ctx)
	if len(pending) != 0 {
		t.Fatalf("pending set should be empty after drain, got %v", pending)
	}

	// A fresh increment re-adds the tuple.
	if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now, now, 1); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}
	pending, _ = f.agg.PendingStacks(ctx)
	if len(pending) != 1 {
		t.Errorf("pending set has %d members, want 1", len(pending))
	}
}

// flakyStackStore fails Save a configurable number of times before
// succeeding.
type flakyStackStore struct {
	inner     *memory.StackStore
	mu        sync.Mutex
	failures  int
	saveCalls int
}

func (s *flakyStackStore) GetByID(ctx context.Context, id string) (stack.Stack, error) {
	return s.inner.GetByID(ctx, id)
}

func (s *flakyStackStore) Save(ctx context.Context, st stack.Stack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.failures > 0 {
		s.failures--
		return ports.ErrConflict
	}
	return s.inner.Save(ctx, st)
}

func TestSaveStackUsages_FailedCommitRetriesWithoutDoubleCounting(t *testing.T) {
	counters := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer counters.Close()

	flaky := &flakyStackStore{inner: memory.NewStackStore(), failures: 1}
	fake := clock.NewFake(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	agg := app.NewOccurrenceAggregator(app.OccurrenceDeps{
		Counters: counters,
		Stacks:   flaky,
		Clock:    fake,
		Logger:   zerolog.Nop(),
	}, app.OccurrenceConfig{})

	ctx := context.Background()
	now := fake.Now()
	if err := agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now.Add(-time.Minute), now, 6); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}

	report, err := agg.SaveStackUsages(ctx, true)
	if err == nil {
		t.Error("flush with failing save should report an error")
	}
	if report.Failed != 1 {
		t.Errorf("report.Failed = %d, want 1", report.Failed)
	}

	// The delta was restored; the tuple is still pending.
	if got, _ := counters.Get(ctx, counter.StackCountKey("stackA")); got != 6 {
		t.Errorf("restored count = %d, want 6", got)
	}
	pending, _ := agg.PendingStacks(ctx)
	if len(pending) != 1 {
		t.Fatalf("tuple should remain pending after failure, got %v", pending)
	}

	// The retry commits exactly once.
	if _, err := agg.SaveStackUsages(ctx, true); err != nil {
		t.Fatalf("retry flush failed: %v", err)
	}
	persisted, err := flaky.GetByID(ctx, "stackA")
	if err != nil {
		t.Fatalf("stack not persisted after retry: %v", err)
	}
	if persisted.TotalOccurrences != 6 {
		t.Errorf("TotalOccurrences = %d, want 6 (no double counting)", persisted.TotalOccurrences)
	}
	if !persisted.FirstOccurrence.Equal(now.Add(-time.Minute)) || !persisted.LastOccurrence.Equal(now) {
		t.Errorf("occurrence window = [%v, %v], want restored dates", persisted.FirstOccurrence, persisted.LastOccurrence)
	}
}

// hookedStackStore runs a callback before each Save, simulating an
// increment racing with the flush's drain-commit sequence.
type hookedStackStore struct {
	inner      *memory.StackStore
	beforeSave func()
}

func (s *hookedStackStore) GetByID(ctx context.Context, id string) (stack.Stack, error) {
	return s.inner.GetByID(ctx, id)
}

func (s *hookedStackStore) Save(ctx context.Context, st stack.Stack) error {
	if s.beforeSave != nil {
		s.beforeSave()
	}
	return s.inner.Save(ctx, st)
}

func TestSaveStackUsages_IncrementDuringFlushIsPreserved(t *testing.T) {
	counters := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer counters.Close()

	inner := memory.NewStackStore()
	fake := clock.NewFake(time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))

	var agg *app.OccurrenceAggregator
	ctx := context.Background()
	now := fake.Now()

	hooked := &hookedStackStore{inner: inner}
	hooked.beforeSave = func() {
		// Lands after the drain, while the commit is in flight.
		agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now, now, 5)
	}

	agg = app.NewOccurrenceAggregator(app.OccurrenceDeps{
		Counters: counters,
		Stacks:   hooked,
		Clock:    fake,
		Logger:   zerolog.Nop(),
	}, app.OccurrenceConfig{})

	if err := agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now, now, 10); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}

	if _, err := agg.SaveStackUsages(ctx, true); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	hooked.beforeSave = nil

	// The first flush committed 10; the racing 5 stayed cached.
	persisted, _ := inner.GetByID(ctx, "stackA")
	if persisted.TotalOccurrences != 10 {
		t.Errorf("TotalOccurrences = %d after first flush, want 10", persisted.TotalOccurrences)
	}
	if got, _ := counters.Get(ctx, counter.StackCountKey("stackA")); got != 5 {
		t.Errorf("residual cached count = %d, want 5", got)
	}
	pending, _ := agg.PendingStacks(ctx)
	if len(pending) != 1 {
		t.Fatalf("racing increment should leave the tuple pending, got %v", pending)
	}

	if _, err := agg.SaveStackUsages(ctx, true); err != nil {
		t.Fatalf("second flush failed: %v", err)
	}
	persisted, _ = inner.GetByID(ctx, "stackA")
	if persisted.TotalOccurrences != 15 {
		t.Errorf("TotalOccurrences = %d after second flush, want 15", persisted.TotalOccurrences)
	}
}

func TestSaveStackUsages_DwellSkipsSmallYoungDeltas(t *testing.T) {
	f := newOccurrenceFixture(t, app.OccurrenceConfig{Dwell: time.Minute, MinBatch: 10})
	ctx := context.Background()
	now := f.clock.Now()

	if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now, now, 2); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}

	// Young and tiny: a non-forced flush leaves it alone.
	report, err := f.agg.SaveStackUsages(ctx, false)
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if report.Flushed != 0 || report.Skipped != 1 {
		t.Errorf("report = %+v, want 0 flushed / 1 skipped", report)
	}
	if _, err := f.stacks.GetByID(ctx, "stackA"); !errors.Is(err, ports.ErrNotFound) {
		t.Error("young delta should not have been committed")
	}

	// Old enough: the next non-forced flush commits it.
	f.clock.Advance(2 * time.Minute)
	report, err = f.agg.SaveStackUsages(ctx, false)
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if report.Flushed != 1 {
		t.Errorf("report = %+v, want 1 flushed after dwell", report)
	}
}

func TestSaveStackUsages_CancelledBetweenTuples(t *testing.T) {
	f := newOccurrenceFixture(t, app.OccurrenceConfig{})
	ctx := context.Background()
	now := f.clock.Now()

	for _, id := range []string{"stackA", "stackB", "stackC"} {
		if err := f.agg.IncrementStackUsage(ctx, "org1", "proj1", id, now, now, 1); err != nil {
			t.Fatalf("IncrementStackUsage failed: %v", err)
		}
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := f.agg.SaveStackUsages(cancelled, true); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}

	// Everything is still pending and a live flush drains it all.
	report, err := f.agg.SaveStackUsages(ctx, true)
	if err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if report.Flushed != 3 {
		t.Errorf("flushed %d stacks, want 3", report.Flushed)
	}
}
