package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/adapters/clock"
	"github.com/artpar/metergate/adapters/memory"
	"github.com/artpar/metergate/app"
)

func TestFlushScheduler_PeriodicFlush(t *testing.T) {
	counters := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer counters.Close()
	stacks := memory.NewStackStore()

	agg := app.NewOccurrenceAggregator(app.OccurrenceDeps{
		Counters: counters,
		Stacks:   stacks,
		Clock:    clock.Real{},
		Logger:   zerolog.Nop(),
	}, app.OccurrenceConfig{MinBatch: 1, Dwell: time.Nanosecond})

	ctx := context.Background()
	now := time.Now()
	if err := agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now, now, 5); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}

	scheduler := app.NewFlushScheduler(agg, 20*time.Millisecond, zerolog.Nop())
	defer scheduler.Close()

	deadline := time.After(2 * time.Second)
	for {
		if stacks.Len() == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler never flushed the pending stack")
		case <-time.After(10 * time.Millisecond):
		}
	}

	persisted, err := stacks.GetByID(ctx, "stackA")
	if err != nil {
		t.Fatalf("stack not persisted: %v", err)
	}
	if persisted.TotalOccurrences != 5 {
		t.Errorf("TotalOccurrences = %d, want 5", persisted.TotalOccurrences)
	}
}

func TestFlushScheduler_CloseDrainsEverything(t *testing.T) {
	counters := memory.NewCounterStore(memory.CounterStoreConfig{})
	defer counters.Close()
	stacks := memory.NewStackStore()

	agg := app.NewOccurrenceAggregator(app.OccurrenceDeps{
		Counters: counters,
		Stacks:   stacks,
		Clock:    clock.Real{},
		Logger:   zerolog.Nop(),
	}, app.OccurrenceConfig{})

	// A long interval so only Close's forced drain can commit.
	scheduler := app.NewFlushScheduler(agg, time.Hour, zerolog.Nop())

	ctx := context.Background()
	now := time.Now()
	if err := agg.IncrementStackUsage(ctx, "org1", "proj1", "stackA", now, now, 3); err != nil {
		t.Fatalf("IncrementStackUsage failed: %v", err)
	}

	if err := scheduler.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	persisted, err := stacks.GetByID(ctx, "stackA")
	if err != nil {
		t.Fatalf("stack not persisted after Close: %v", err)
	}
	if persisted.TotalOccurrences != 3 {
		t.Errorf("TotalOccurrences = %d, want 3", persisted.TotalOccurrences)
	}

	// Close is idempotent.
	if err := scheduler.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
