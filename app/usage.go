// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/metergate/adapters/metrics"
	"github.com/artpar/metergate/domain/counter"
	"github.com/artpar/metergate/domain/plan"
	"github.com/artpar/metergate/domain/usage"
	"github.com/artpar/metergate/ports"
)

// UsageService is the admission-control side of the write-behind
// counter layer: it gates event ingestion per organization and project
// against hourly and monthly plan limits, maintains the total/blocked
// counters in the shared cache, and publishes overage notifications
// when a window crosses its limit.
type UsageService struct {
	counters ports.CounterStore
	orgs     ports.OrganizationStore
	projects ports.ProjectStore
	plans    ports.PlanCatalog
	bus      ports.NotificationBus
	clock    ports.Clock
	idGen    ports.IDGenerator
	logger   zerolog.Logger
	metrics  *metrics.Collector // optional
}

// UsageDeps contains dependencies for UsageService.
type UsageDeps struct {
	Counters ports.CounterStore
	Orgs     ports.OrganizationStore
	Projects ports.ProjectStore
	Plans    ports.PlanCatalog
	Bus      ports.NotificationBus
	Clock    ports.Clock
	IDGen    ports.IDGenerator
	Logger   zerolog.Logger
	Metrics  *metrics.Collector
}

// NewUsageService creates a new usage accounting service.
func NewUsageService(deps UsageDeps) *UsageService {
	return &UsageService{
		counters: deps.Counters,
		orgs:     deps.Orgs,
		projects: deps.Projects,
		plans:    deps.Plans,
		bus:      deps.Bus,
		clock:    deps.Clock,
		idGen:    deps.IDGen,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
}

// IncrementUsage counts an increment of n events for the given scope
// and decides whether any of it is over limit. Totals are bumped
// first; the blocked share of this increment (never the historical
// total) is then mirrored into the blocked counters of every window
// the call touched. hourlyOnly confines the call to the hourly
// counters and the hourly decision.
//
// Returns true when any evaluated window went over limit as a result
// of this call. A counter store failure is returned as an error
// wrapping ports.ErrStoreUnavailable; callers must treat that as a
// deny.
func (s *UsageService) IncrementUsage(ctx context.Context, orgID, projectID string, hourlyOnly bool, n int64) (bool, error) {
	if n < 0 {
		return false, fmt.Errorf("negative usage increment %d", n)
	}

	scope, err := s.resolveScope(ctx, orgID, projectID)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	now := s.clock.Now()
	orgScope := counter.OrgScope(orgID)
	projScope := counter.ProjectScope(orgID, projectID)

	hourTotal, err := s.counters.Increment(ctx, counter.HourlyUsageKey(counter.MetricTotal, orgScope, now), n, counter.HourTTL)
	if err != nil {
		return false, s.storeErr("increment hourly total", err)
	}
	if _, err := s.counters.Increment(ctx, counter.HourlyUsageKey(counter.MetricTotal, projScope, now), n, counter.HourTTL); err != nil {
		return false, s.storeErr("increment project hourly total", err)
	}

	var monthTotal int64
	if !hourlyOnly {
		monthTotal, err = s.counters.Increment(ctx, counter.MonthlyUsageKey(counter.MetricTotal, orgScope, now), n, counter.MonthTTL)
		if err != nil {
			return false, s.storeErr("increment monthly total", err)
		}
		if _, err := s.counters.Increment(ctx, counter.MonthlyUsageKey(counter.MetricTotal, projScope, now), n, counter.MonthTTL); err != nil {
			return false, s.storeErr("increment project monthly total", err)
		}
	}

	blocked, overHourly, overMonthly := usage.Decide(scope.policy, hourTotal, monthTotal, n, hourlyOnly)
	if blocked > 0 {
		if err := s.recordBlocked(ctx, orgScope, projScope, now, blocked, hourlyOnly); err != nil {
			return true, err
		}
		if overHourly {
			s.publishOverage(ctx, orgID, true)
		}
		if overMonthly {
			s.publishOverage(ctx, orgID, false)
		}
		s.logger.Debug().
			Str("organization_id", orgID).
			Str("project_id", projectID).
			Int64("count", n).
			Int64("blocked", blocked).
			Msg("usage increment over limit")
	}

	if s.metrics != nil {
		s.metrics.EventsTotal.WithLabelValues("admitted").Add(float64(n - blocked))
		if blocked > 0 {
			s.metrics.EventsTotal.WithLabelValues("blocked").Add(float64(blocked))
		}
	}

	return blocked > 0, nil
}

// recordBlocked mirrors the blocked share of an increment into the
// blocked counters of every window the call touched.
func (s *UsageService) recordBlocked(ctx context.Context, orgScope, projScope string, now time.Time, blocked int64, hourlyOnly bool) error {
	if _, err := s.counters.Increment(ctx, counter.HourlyUsageKey(counter.MetricBlocked, orgScope, now), blocked, counter.HourTTL); err != nil {
		return s.storeErr("increment hourly blocked", err)
	}
	if _, err := s.counters.Increment(ctx, counter.HourlyUsageKey(counter.MetricBlocked, projScope, now), blocked, counter.HourTTL); err != nil {
		return s.storeErr("increment project hourly blocked", err)
	}
	if hourlyOnly {
		return nil
	}
	if _, err := s.counters.Increment(ctx, counter.MonthlyUsageKey(counter.MetricBlocked, orgScope, now), blocked, counter.MonthTTL); err != nil {
		return s.storeErr("increment monthly blocked", err)
	}
	if _, err := s.counters.Increment(ctx, counter.MonthlyUsageKey(counter.MetricBlocked, projScope, now), blocked, counter.MonthTTL); err != nil {
		return s.storeErr("increment project monthly blocked", err)
	}
	return nil
}

// publishOverage fires one notification for a window that crossed its
// limit this call. Failures are logged, never retried, and never
// surface to the admission caller.
func (s *UsageService) publishOverage(ctx context.Context, orgID string, hourly bool) {
	overage := ports.PlanOverage{
		ID:             s.idGen.New(),
		OrganizationID: orgID,
		IsHourly:       hourly,
		OccurredAt:     s.clock.Now(),
	}
	if err := s.bus.Publish(ctx, overage); err != nil {
		s.logger.Error().Err(err).
			Str("organization_id", orgID).
			Bool("hourly", hourly).
			Msg("failed to publish overage notification")
		return
	}
	if s.metrics != nil {
		window := "month"
		if hourly {
			window = "hour"
		}
		s.metrics.OverageNotifications.WithLabelValues(window).Inc()
	}
}

// UsageSnapshot returns the current hourly and monthly windows for an
// organization and project, read straight from the counter cache.
// Used by reporting code; never persisted.
func (s *UsageService) UsageSnapshot(ctx context.Context, orgID, projectID string) ([]usage.Window, error) {
	scope, err := s.resolveScope(ctx, orgID, projectID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	specs := []struct {
		scope    string
		isHourly bool
		limit    int64
	}{
		{counter.OrgScope(orgID), true, scope.policy.HourlyLimit},
		{counter.OrgScope(orgID), false, scope.policy.MonthlyLimit},
		{counter.ProjectScope(orgID, projectID), true, scope.policy.HourlyLimit},
		{counter.ProjectScope(orgID, projectID), false, scope.policy.MonthlyLimit},
	}

	windows := make([]usage.Window, 0, len(specs))
	for _, sp := range specs {
		var totalKey, blockedKey, bucket string
		if sp.isHourly {
			totalKey = counter.HourlyUsageKey(counter.MetricTotal, sp.scope, now)
			blockedKey = counter.HourlyUsageKey(counter.MetricBlocked, sp.scope, now)
			bucket = counter.HourBucket(now)
		} else {
			totalKey = counter.MonthlyUsageKey(counter.MetricTotal, sp.scope, now)
			blockedKey = counter.MonthlyUsageKey(counter.MetricBlocked, sp.scope, now)
			bucket = counter.MonthBucket(now)
		}

		total, err := s.counters.Get(ctx, totalKey)
		if err != nil {
			return nil, s.storeErr("read total", err)
		}
		blocked, err := s.counters.Get(ctx, blockedKey)
		if err != nil {
			return nil, s.storeErr("read blocked", err)
		}

		windows = append(windows, usage.Window{
			Scope:    sp.scope,
			Bucket:   bucket,
			IsHourly: sp.isHourly,
			Total:    total,
			Blocked:  blocked,
			Limit:    sp.limit,
			Enforced: scope.policy.Enforce,
		})
	}
	return windows, nil
}

// resolvedScope carries the per-call facts looked up once.
type resolvedScope struct {
	org     ports.Organization
	project ports.Project
	policy  plan.Policy
}

func (s *UsageService) resolveScope(ctx context.Context, orgID, projectID string) (resolvedScope, error) {
	org, err := s.orgs.Get(ctx, orgID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return resolvedScope{}, fmt.Errorf("%w: organization %s", ports.ErrInvalidScope, orgID)
		}
		return resolvedScope{}, fmt.Errorf("load organization %s: %w", orgID, err)
	}

	project, err := s.projects.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return resolvedScope{}, fmt.Errorf("%w: project %s", ports.ErrInvalidScope, projectID)
		}
		return resolvedScope{}, fmt.Errorf("load project %s: %w", projectID, err)
	}
	if project.OrganizationID != orgID {
		return resolvedScope{}, fmt.Errorf("%w: project %s does not belong to organization %s", ports.ErrInvalidScope, projectID, orgID)
	}

	p, err := s.plans.Resolve(ctx, org.PlanID)
	if err != nil {
		return resolvedScope{}, fmt.Errorf("resolve plan %s: %w", org.PlanID, err)
	}

	return resolvedScope{
		org:     org,
		project: project,
		policy:  plan.ResolvePolicy(p, org, s.clock.Now()),
	}, nil
}

func (s *UsageService) storeErr(op string, err error) error {
	if s.metrics != nil {
		s.metrics.AdmissionErrors.Inc()
	}
	return fmt.Errorf("%s: %w", op, err)
}
