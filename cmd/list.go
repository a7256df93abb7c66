package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/report"
)

var (
	listPrefix string
	listLimit  int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded extraction outcomes, newest first",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listPrefix, "prefix", "", "only show this data prefix (e.g. pc, drsboot-)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum rows (0 = all)")
}

func runList(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	recs, err := db.ListExtractions(listPrefix, listLimit)
	if err != nil {
		return fmt.Errorf("list extractions: %w", err)
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stdout, "No extractions recorded yet. Run 'ptlogs extract' or 'ptlogs aggregate' first.")
		return nil
	}
	report.PrintExtractions(os.Stdout, recs)
	return nil
}
