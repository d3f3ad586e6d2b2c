// Package notify provides NotificationBus implementations for plan
// overage notifications.
package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/ports"
)

// Memory records published notifications in memory (for testing).
type Memory struct {
	mu        sync.Mutex
	published []ports.PlanOverage
}

// NewMemory creates a new in-memory bus.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the notification.
func (m *Memory) Publish(ctx context.Context, overage ports.PlanOverage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, overage)
	return nil
}

// Published returns a copy of everything published so far.
func (m *Memory) Published() []ports.PlanOverage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ports.PlanOverage{}, m.published...)
}

// Clear removes all recorded notifications (for testing).
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = nil
}

// Ensure interface compliance.
var _ ports.NotificationBus = (*Memory)(nil)

// Log writes each notification to the log and drops it. Used when no
// external consumer is configured.
type Log struct {
	logger zerolog.Logger
}

// NewLog creates a log-only bus.
func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

// Publish logs the notification.
func (l *Log) Publish(ctx context.Context, overage ports.PlanOverage) error {
	window := "month"
	if overage.IsHourly {
		window = "hour"
	}
	l.logger.Warn().
		Str("organization_id", overage.OrganizationID).
		Str("window", window).
		Time("occurred_at", overage.OccurredAt).
		Msg("organization over plan limit")
	return nil
}

// Ensure interface compliance.
var _ ports.NotificationBus = (*Log)(nil)
