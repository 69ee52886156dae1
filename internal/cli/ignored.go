package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kumasuke/s3harness/internal/ledger"
)

var ignoredReason string

// NewIgnoredCmd creates the ignored command group for the ignored-tests
// ledger.
func NewIgnoredCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ignored",
		Short: "Manage the ignored-tests ledger",
	}

	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List ignored tests",
		RunE:  runIgnoredList,
	}

	addCmd := &cobra.Command{
		Use:   "add <test-id>...",
		Short: "Mark tests as ignored",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runIgnoredAdd,
	}
	addCmd.Flags().StringVarP(&ignoredReason, "reason", "r", "", "why the tests are ignored")
	_ = addCmd.MarkFlagRequired("reason")

	cleanCmd := &cobra.Command{
		Use:   "clean [test-id]...",
		Short: "Remove ignored tests, or all of them when no id is given",
		RunE:  runIgnoredClean,
	}

	cmd.AddCommand(listCmd, addCmd, cleanCmd)
	return cmd
}

func openLedger() (*ledger.Ledger, error) {
	cfg, err := loadHarnessConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return ledger.Open(cfg.LedgerPath)
}

func runIgnoredList(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	tests, err := l.List()
	if err != nil {
		return err
	}

	if len(tests) == 0 {
		fmt.Println("no ignored tests")
		return nil
	}
	for _, t := range tests {
		fmt.Printf("%s\t%s\t%s\t%s\n",
			t.TestID, t.Reason, t.RunID, t.IgnoredAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runIgnoredAdd(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	runID := uuid.NewString()
	for _, id := range args {
		if err := l.Add(id, ignoredReason, runID); err != nil {
			return err
		}
	}

	fmt.Printf("marked %d test(s) as ignored\n", len(args))
	return nil
}

func runIgnoredClean(cmd *cobra.Command, args []string) error {
	l, err := openLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	n, err := l.Clean(args)
	if err != nil {
		return err
	}

	fmt.Printf("removed %d entr(y/ies)\n", n)
	return nil
}
