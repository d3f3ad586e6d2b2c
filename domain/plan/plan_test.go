package plan_test

import (
	"testing"
	"time"

	"github.com/artpar/metergate/domain/plan"
	"github.com/artpar/metergate/ports"
)

func TestHourlyLimit_WithinMonthlyBounds(t *testing.T) {
	cases := []struct {
		monthly int64
	}{
		{750},
		{5000},
		{250000},
		{1},
	}
	for _, c := range cases {
		h := plan.HourlyLimit(c.monthly)
		if h < 1 || h > c.monthly {
			t.Errorf("HourlyLimit(%d) = %d, want within [1, %d]", c.monthly, h, c.monthly)
		}
	}
}

func TestHourlyLimit_Unlimited(t *testing.T) {
	if h := plan.HourlyLimit(-1); h != plan.Unlimited {
		t.Errorf("HourlyLimit(-1) = %d, want Unlimited", h)
	}
}

func TestResolvePolicy_Active(t *testing.T) {
	p := ports.Plan{ID: "small", MaxEventsPerMonth: 750, ThrottlingEnabled: true}
	org := ports.Organization{ID: "org1", PlanID: "small"}
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	pol := plan.ResolvePolicy(p, org, now)
	if pol.Suspended {
		t.Error("active org resolved as suspended")
	}
	if !pol.Enforce {
		t.Error("throttling plan should enforce")
	}
	if pol.MonthlyLimit != 750 {
		t.Errorf("MonthlyLimit = %d, want 750", pol.MonthlyLimit)
	}
	if pol.HourlyLimit < 1 || pol.HourlyLimit > 750 {
		t.Errorf("HourlyLimit = %d, want within [1, 750]", pol.HourlyLimit)
	}
}

func TestResolvePolicy_Suspended(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	p := ports.Plan{ID: "small", MaxEventsPerMonth: 750, ThrottlingEnabled: true}
	org := ports.Organization{
		ID:             "org1",
		PlanID:         "small",
		IsSuspended:    true,
		SuspensionDate: now.Add(-time.Hour),
	}

	pol := plan.ResolvePolicy(p, org, now)
	if !pol.Suspended {
		t.Error("suspended org not resolved as suspended")
	}
}

func TestResolvePolicy_SuspensionInFuture(t *testing.T) {
	// A scheduled suspension does not apply yet.
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	p := ports.Plan{ID: "small", MaxEventsPerMonth: 750, ThrottlingEnabled: true}
	org := ports.Organization{
		ID:             "org1",
		PlanID:         "small",
		IsSuspended:    true,
		SuspensionDate: now.Add(time.Hour),
	}

	pol := plan.ResolvePolicy(p, org, now)
	if pol.Suspended {
		t.Error("future suspension should not apply yet")
	}
}

func TestResolvePolicy_NonThrottling(t *testing.T) {
	p := ports.Plan{ID: "free", MaxEventsPerMonth: 3000, ThrottlingEnabled: false}
	org := ports.Organization{ID: "org1", PlanID: "free"}

	pol := plan.ResolvePolicy(p, org, time.Now())
	if pol.Enforce {
		t.Error("non-throttling plan should not enforce")
	}
	if pol.MonthlyLimit != 3000 {
		t.Errorf("MonthlyLimit = %d, want 3000", pol.MonthlyLimit)
	}
}
