package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/artpar/metergate/adapters/sqlite"
	"github.com/artpar/metergate/config"
	"github.com/artpar/metergate/ports"
)

var orgsCmd = &cobra.Command{
	Use:   "orgs",
	Short: "Manage organizations",
	Long: `Manage metered organizations.

Examples:
  metergate orgs list
  metergate orgs get <org-id>
  metergate orgs create --name="Acme" --plan=free
  metergate orgs suspend <org-id>
  metergate orgs reinstate <org-id>`,
}

var orgsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all organizations",
	RunE:  runOrgsList,
}

var orgsGetCmd = &cobra.Command{
	Use:   "get <org-id>",
	Short: "Get organization details",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgsGet,
}

var orgsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new organization",
	RunE:  runOrgsCreate,
}

var orgsSuspendCmd = &cobra.Command{
	Use:   "suspend <org-id>",
	Short: "Suspend an organization",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgsSuspend,
}

var orgsReinstateCmd = &cobra.Command{
	Use:   "reinstate <org-id>",
	Short: "Lift an organization's suspension",
	Args:  cobra.ExactArgs(1),
	RunE:  runOrgsReinstate,
}

var (
	orgID    string
	orgName  string
	orgPlan  string
	orgLimit int
)

func init() {
	rootCmd.AddCommand(orgsCmd)

	orgsCmd.AddCommand(orgsListCmd)
	orgsCmd.AddCommand(orgsGetCmd)
	orgsCmd.AddCommand(orgsCreateCmd)
	orgsCmd.AddCommand(orgsSuspendCmd)
	orgsCmd.AddCommand(orgsReinstateCmd)

	orgsListCmd.Flags().IntVar(&orgLimit, "limit", 50, "number of organizations to show")

	orgsCreateCmd.Flags().StringVar(&orgID, "id", "", "organization ID (generated if empty)")
	orgsCreateCmd.Flags().StringVar(&orgName, "name", "", "organization name (required)")
	orgsCreateCmd.Flags().StringVar(&orgPlan, "plan", "free", "plan ID")
	orgsCreateCmd.MarkFlagRequired("name")
}

func runOrgsList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	orgStore := sqlite.NewOrganizationStore(db)
	orgs, err := orgStore.List(context.Background(), orgLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}

	if len(orgs) == 0 {
		fmt.Println("No organizations found.")
		fmt.Println()
		fmt.Println("Create one with: metergate orgs create --name=\"Acme\" --plan=free")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPLAN\tSUSPENDED\tCREATED")
	fmt.Fprintln(w, "--\t----\t----\t---------\t-------")

	for _, org := range orgs {
		suspended := ""
		if org.IsSuspended {
			suspended = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			org.ID, org.Name, org.PlanID, suspended,
			org.CreatedAt.Format("2006-01-02"))
	}
	return w.Flush()
}

func runOrgsGet(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	orgStore := sqlite.NewOrganizationStore(db)
	org, err := orgStore.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("organization not found: %s", args[0])
	}

	fmt.Printf("ID:        %s\n", org.ID)
	fmt.Printf("Name:      %s\n", org.Name)
	fmt.Printf("Plan:      %s\n", org.PlanID)
	fmt.Printf("Suspended: %v\n", org.IsSuspended)
	if !org.SuspensionDate.IsZero() {
		fmt.Printf("Since:     %s\n", org.SuspensionDate.Format(time.RFC3339))
	}
	fmt.Printf("Created:   %s\n", org.CreatedAt.Format(time.RFC3339))
	return nil
}

func runOrgsCreate(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	id := orgID
	if id == "" {
		id = uuid.NewString()
	}

	orgStore := sqlite.NewOrganizationStore(db)
	org := ports.Organization{
		ID:     id,
		Name:   orgName,
		PlanID: orgPlan,
	}
	if err := orgStore.Create(context.Background(), org); err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	fmt.Printf("%s Created organization: %s\n", checkMark, id)
	return nil
}

func runOrgsSuspend(cmd *cobra.Command, args []string) error {
	return setSuspension(args[0], true)
}

func runOrgsReinstate(cmd *cobra.Command, args []string) error {
	return setSuspension(args[0], false)
}

func setSuspension(id string, suspended bool) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	orgStore := sqlite.NewOrganizationStore(db)
	ctx := context.Background()

	org, err := orgStore.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("organization not found: %s", id)
	}

	org.IsSuspended = suspended
	if suspended {
		org.SuspensionDate = time.Now().UTC()
	} else {
		org.SuspensionDate = time.Time{}
	}

	if err := orgStore.Update(ctx, org); err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}

	if suspended {
		fmt.Printf("%s Suspended organization: %s\n", checkMark, id)
	} else {
		fmt.Printf("%s Reinstated organization: %s\n", checkMark, id)
	}
	return nil
}

func openDatabase() (*sqlite.DB, error) {
	// Load config to get database path
	cfg, err := config.LoadWithFallback(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database.Driver != "sqlite" {
		return nil, fmt.Errorf("management commands need the sqlite driver, config uses %q", cfg.Database.Driver)
	}

	db, err := sqlite.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return db, nil
}
