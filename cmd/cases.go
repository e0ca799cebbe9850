package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/findwatch/findwatch/internal/config"
	"github.com/findwatch/findwatch/internal/store"
)

var casesCmd = &cobra.Command{
	Use:   "cases",
	Short: "Manage missing-person cases",
}

var casesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cases",
	Long: `List cases in the store.

By default all cases are shown. Use --status to filter:
  findwatch cases list --status open`,
	RunE: runCasesList,
}

var casesCreateCmd = &cobra.Command{
	Use:   "create <name> [description]",
	Short: "Open a new case",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runCasesCreate,
}

var casesCloseCmd = &cobra.Command{
	Use:   "close <case-id>",
	Short: "Close a case and remove its face crops",
	Args:  cobra.ExactArgs(1),
	RunE:  runCasesClose,
}

func init() {
	rootCmd.AddCommand(casesCmd)
	casesCmd.AddCommand(casesListCmd)
	casesCmd.AddCommand(casesCreateCmd)
	casesCmd.AddCommand(casesCloseCmd)

	casesListCmd.Flags().String("status", "", "Filter by status (open or closed)")
}

func runCasesList(cmd *cobra.Command, args []string) error {
	status := mustGetString(cmd, "status")
	if status != "" && status != store.CaseStatusOpen && status != store.CaseStatusClosed {
		return fmt.Errorf("invalid status %q (want open or closed)", status)
	}

	cfg := config.Load()
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	cases, err := st.ListCases(context.Background(), status)
	if err != nil {
		return fmt.Errorf("failed to list cases: %w", err)
	}

	if len(cases) == 0 {
		fmt.Println("No cases found.")
		return nil
	}

	for _, c := range cases {
		fmt.Printf("%s  %-8s %s  %s\n", c.ID, c.Status, c.CreatedAt.Format(time.RFC3339), c.Name)
	}
	fmt.Printf("\n%d case(s)\n", len(cases))
	return nil
}

func runCasesCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	description := ""
	if len(args) > 1 {
		description = args[1]
	}

	cfg := config.Load()
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	c := &store.Case{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		Status:      store.CaseStatusOpen,
		CreatedAt:   time.Now().UTC(),
	}
	if err := st.CreateCase(context.Background(), c); err != nil {
		return fmt.Errorf("failed to create case: %w", err)
	}

	fmt.Printf("Created case %s (%s)\n", c.ID, c.Name)
	fmt.Println("Register reference photos with: findwatch register " + c.ID + " <folder-path>")
	return nil
}

func runCasesClose(cmd *cobra.Command, args []string) error {
	caseID := args[0]

	cfg := config.Load()
	st, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	if err := st.CloseCase(context.Background(), caseID); err != nil {
		return fmt.Errorf("failed to close case: %w", err)
	}

	if err := removeCaseCrops(cfg, caseID); err != nil {
		return fmt.Errorf("case closed but crop cleanup failed: %w", err)
	}

	fmt.Printf("Closed case %s\n", caseID)
	return nil
}
