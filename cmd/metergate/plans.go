package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/artpar/metergate/adapters/sqlite"
	"github.com/artpar/metergate/domain/plan"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Inspect plans",
	Long: `Inspect metering plans.

Plans define monthly event quotas and whether throttling is enforced.
They are seeded from the config file on startup; edit the config and
reload to change them.

Examples:
  metergate plans list
  metergate plans get <plan-id>`,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enabled plans",
	RunE:  runPlansList,
}

var plansGetCmd = &cobra.Command{
	Use:   "get <plan-id>",
	Short: "Get plan details",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlansGet,
}

func init() {
	rootCmd.AddCommand(plansCmd)

	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansGetCmd)
}

func runPlansList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	planStore := sqlite.NewPlanStore(db)
	plans, err := planStore.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list plans: %w", err)
	}

	if len(plans) == 0 {
		fmt.Println("No plans found. Plans are seeded from the config file on startup.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEVENTS/MO\tEVENTS/HR\tTHROTTLING\tDEFAULT")
	fmt.Fprintln(w, "--\t----\t---------\t---------\t----------\t-------")

	for _, p := range plans {
		monthly := fmt.Sprintf("%d", p.MaxEventsPerMonth)
		hourly := fmt.Sprintf("%d", plan.HourlyLimit(p.MaxEventsPerMonth))
		if p.MaxEventsPerMonth < 0 {
			monthly = "unlimited"
			hourly = "unlimited"
		}
		throttling := "off"
		if p.ThrottlingEnabled {
			throttling = "on"
		}
		isDefault := ""
		if p.IsDefault {
			isDefault = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, monthly, hourly, throttling, isDefault)
	}
	return w.Flush()
}

func runPlansGet(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	planStore := sqlite.NewPlanStore(db)
	p, err := planStore.Resolve(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("plan not found: %s", args[0])
	}

	fmt.Printf("ID:          %s\n", p.ID)
	fmt.Printf("Name:        %s\n", p.Name)
	if p.MaxEventsPerMonth < 0 {
		fmt.Printf("Quota:       unlimited\n")
	} else {
		fmt.Printf("Quota:       %d events/month\n", p.MaxEventsPerMonth)
		fmt.Printf("Hourly cap:  %d events/hour\n", plan.HourlyLimit(p.MaxEventsPerMonth))
	}
	fmt.Printf("Throttling:  %v\n", p.ThrottlingEnabled)
	fmt.Printf("Default:     %v\n", p.IsDefault)
	fmt.Printf("Enabled:     %v\n", p.Enabled)
	return nil
}
