package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/report"
)

var sqlCmd = &cobra.Command{
	Use:   "sql <query>",
	Short: "Run a raw SQL query against the ptlogs database",
	Long: `Run an arbitrary SQL query against the ptlogs database and print results as a table.

Schema overview:
  game(id TEXT, size, length)
  broker(id, name)
  broker_game(broker_id, game_id, game_broker_id)
  extraction(id, game_id, prefix, path, cached, status, message, at)
  broker_accounting(game_id, broker, item, value)

Example: ptlogs sql "SELECT b.name, COUNT(*) FROM broker b JOIN broker_game bg ON bg.broker_id = b.id GROUP BY b.name"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSQL,
}

func runSQL(_ *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	cols, rows, err := db.QueryRaw(strings.Join(args, " "))
	if err != nil {
		return err
	}
	report.PrintQuery(os.Stdout, cols, rows)
	return nil
}
