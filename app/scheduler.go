package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FlushScheduler periodically drives the aggregator's flush. It owns
// no state of its own; Close stops the loop and forces a final
// complete drain.
type FlushScheduler struct {
	agg       *OccurrenceAggregator
	interval  time.Duration
	logger    zerolog.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewFlushScheduler creates a scheduler and starts its loop.
func NewFlushScheduler(agg *OccurrenceAggregator, interval time.Duration, logger zerolog.Logger) *FlushScheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}

	s := &FlushScheduler{
		agg:      agg,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()

	return s
}

func (s *FlushScheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.agg.SaveStackUsages(context.Background(), false); err != nil {
				s.logger.Warn().Err(err).Msg("scheduled stack flush had failures")
			}
		case <-s.stopCh:
			return
		}
	}
}

// Close stops the loop and drains everything still pending.
func (s *FlushScheduler) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err = s.agg.SaveStackUsages(ctx, true)
	})
	return err
}
