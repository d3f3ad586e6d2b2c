package usage_test

import (
	"testing"

	"github.com/artpar/metergate/domain/plan"
	"github.com/artpar/metergate/domain/usage"
)

func TestBlockedPortion(t *testing.T) {
	cases := []struct {
		name     string
		newTotal int64
		n        int64
		limit    int64
		want     int64
	}{
		{"under limit", 4, 4, 5, 0},
		{"exactly at limit", 5, 5, 5, 0},
		{"crossing by one", 6, 2, 5, 1},
		{"entire increment over", 20, 3, 5, 3},
		{"unlimited", 1000, 10, -1, 0},
		{"zero increment", 10, 0, 5, 0},
	}
	for _, c := range cases {
		if got := usage.BlockedPortion(c.newTotal, c.n, c.limit); got != c.want {
			t.Errorf("%s: BlockedPortion(%d, %d, %d) = %d, want %d",
				c.name, c.newTotal, c.n, c.limit, got, c.want)
		}
	}
}

func TestDecide_HourlyCrossing(t *testing.T) {
	p := plan.Policy{HourlyLimit: 5, MonthlyLimit: 750, Enforce: true}

	blocked, overHourly, overMonthly := usage.Decide(p, 6, 6, 2, false)
	if blocked != 1 {
		t.Errorf("blocked = %d, want 1", blocked)
	}
	if !overHourly {
		t.Error("hourly window should be over")
	}
	if overMonthly {
		t.Error("monthly window should not be over")
	}
}

func TestDecide_BothWindowsOver(t *testing.T) {
	p := plan.Policy{HourlyLimit: 5, MonthlyLimit: 10, Enforce: true}

	blocked, overHourly, overMonthly := usage.Decide(p, 8, 13, 4, false)
	// Hourly portion is 3, monthly portion is 3; blocked is the larger.
	if blocked != 3 {
		t.Errorf("blocked = %d, want 3", blocked)
	}
	if !overHourly || !overMonthly {
		t.Errorf("overHourly = %v, overMonthly = %v, want both true", overHourly, overMonthly)
	}
}

func TestDecide_Suspended(t *testing.T) {
	p := plan.Policy{HourlyLimit: 5000, MonthlyLimit: 5000, Enforce: true, Suspended: true}

	blocked, overHourly, overMonthly := usage.Decide(p, 5000, 5000, 4995, false)
	if blocked != 4995 {
		t.Errorf("blocked = %d, want 4995 (all of post-suspension increment)", blocked)
	}
	if !overHourly || !overMonthly {
		t.Error("suspension blocks every window the call touched")
	}
}

func TestDecide_HourlyOnlyIgnoresMonth(t *testing.T) {
	p := plan.Policy{HourlyLimit: 100, MonthlyLimit: 5, Enforce: true}

	blocked, overHourly, overMonthly := usage.Decide(p, 10, 9999, 10, true)
	if blocked != 0 || overHourly || overMonthly {
		t.Errorf("hourlyOnly decision = (%d, %v, %v), want (0, false, false)",
			blocked, overHourly, overMonthly)
	}
}

func TestDecide_ZeroIncrement(t *testing.T) {
	p := plan.Policy{HourlyLimit: 1, MonthlyLimit: 1, Enforce: true, Suspended: true}

	blocked, overHourly, overMonthly := usage.Decide(p, 50, 50, 0, false)
	if blocked != 0 || overHourly || overMonthly {
		t.Error("n = 0 must be a no-op even when suspended")
	}
}
