package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/metergate/adapters/sqlite"
)

var stacksCmd = &cobra.Command{
	Use:   "stacks",
	Short: "Inspect stack occurrence rollups",
	Long: `Inspect durable per-stack occurrence rollups.

These are the flushed totals; counts still sitting in the write-behind
cache of a running server are not included.

Examples:
  metergate stacks list --org=org_123 --project=proj_456
  metergate stacks get <stack-id>`,
}

var stacksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stacks for a project",
	RunE:  runStacksList,
}

var stacksGetCmd = &cobra.Command{
	Use:   "get <stack-id>",
	Short: "Get stack details",
	Args:  cobra.ExactArgs(1),
	RunE:  runStacksGet,
}

var (
	stacksOrgID     string
	stacksProjectID string
	stacksLimit     int
)

func init() {
	rootCmd.AddCommand(stacksCmd)

	stacksCmd.AddCommand(stacksListCmd)
	stacksCmd.AddCommand(stacksGetCmd)

	stacksListCmd.Flags().StringVar(&stacksOrgID, "org", "", "organization ID (required)")
	stacksListCmd.Flags().StringVar(&stacksProjectID, "project", "", "project ID (required)")
	stacksListCmd.Flags().IntVar(&stacksLimit, "limit", 20, "number of stacks to show")
	stacksListCmd.MarkFlagRequired("org")
	stacksListCmd.MarkFlagRequired("project")
}

func runStacksList(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	stackStore := sqlite.NewStackStore(db)
	stacks, err := stackStore.ListByProject(context.Background(), stacksOrgID, stacksProjectID, stacksLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list stacks: %w", err)
	}

	if len(stacks) == 0 {
		fmt.Println("No stacks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tOCCURRENCES\tLAST SEEN")
	fmt.Fprintln(w, "--\t-----\t-----------\t---------")

	for _, st := range stacks {
		lastSeen := ""
		if !st.LastOccurrence.IsZero() {
			lastSeen = st.LastOccurrence.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			st.ID, st.Title, st.TotalOccurrences, lastSeen)
	}
	return w.Flush()
}

func runStacksGet(cmd *cobra.Command, args []string) error {
	db, err := openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	stackStore := sqlite.NewStackStore(db)
	st, err := stackStore.GetByID(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("stack not found: %s", args[0])
	}

	fmt.Printf("ID:           %s\n", st.ID)
	fmt.Printf("Organization: %s\n", st.OrganizationID)
	fmt.Printf("Project:      %s\n", st.ProjectID)
	fmt.Printf("Title:        %s\n", st.Title)
	fmt.Printf("Occurrences:  %d\n", st.TotalOccurrences)
	if !st.FirstOccurrence.IsZero() {
		fmt.Printf("First seen:   %s\n", st.FirstOccurrence.Format(time.RFC3339))
	}
	if !st.LastOccurrence.IsZero() {
		fmt.Printf("Last seen:    %s\n", st.LastOccurrence.Format(time.RFC3339))
	}
	return nil
}
