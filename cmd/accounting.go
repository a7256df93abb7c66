package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/accounting"
	"github.com/powertac/powertac-tools/internal/extract"
	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/report"
	"github.com/powertac/powertac-tools/internal/storage"
)

var (
	acctFactors []string
	acctStore   bool
	acctForce   bool
)

var accountingCmd = &cobra.Command{
	Use:   "accounting <manifest> <dir>",
	Short: "Summarise broker credits and debits across a tournament",
	Long: `Run the BrokerAccounting extractor over every game and sum each broker's
credit and debit columns per game, scaled to an eight-broker game. Prints the
median per-game total of each factor for every broker.

Factors are item columns (mtx-c, bank-d, cash, ...) or credit+debit pairs:
ttx-s, ttx-u, mtx, btx, dtx, ctx, bce, bank.`,
	Args: cobra.ExactArgs(2),
	RunE: runAccounting,
}

func init() {
	accountingCmd.Flags().StringSliceVar(&acctFactors, "factors", accounting.DefaultFactors, "factors to show")
	accountingCmd.Flags().BoolVar(&acctStore, "store", false, "save per-game totals to the broker_accounting table")
	accountingCmd.Flags().BoolVar(&acctForce, "force", false, "re-run the extractor even when output exists")
}

func runAccounting(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db := openLedger()
	defer closeDB(db)
	if acctStore && db == nil {
		return fmt.Errorf("--store needs a database")
	}
	p, err := newPipeline(args[1], db, nil)
	if err != nil {
		return err
	}

	s := accounting.New()
	s.Threshold = cfg.Aggregate.OutlierThreshold
	req := extract.Request{Extractor: accounting.Extractor, Prefix: accounting.Prefix, Force: acctForce}
	for df, err := range p.Iterate(ctx, args[0], req) {
		if err != nil {
			if df.GameID == "" {
				return err
			}
			continue
		}
		totals, err := s.AddFile(df.GameID, df.Path)
		if err != nil {
			var bad *accounting.BadFileError
			if errors.As(err, &bad) {
				logger.Warning("bad accounting file", "game", df.GameID, "broker", bad.Broker, "item", bad.Item, "value", bad.Value)
			} else {
				logger.Error("accounting parse failed", "game", df.GameID, "err", err)
			}
			continue
		}
		if acctStore {
			saveAccounting(db, totals)
		}
	}

	fmt.Fprintf(os.Stdout, "\nGames: %d  |  Skipped: %d\n\n", len(s.Games()), len(s.Skipped))
	report.PrintAccounting(os.Stdout, s, acctFactors)
	return nil
}

func saveAccounting(db *storage.DB, totals accounting.GameTotals) {
	if err := db.SaveAccounting(totals.Rows()); err != nil {
		logger.Error("store accounting failed", "game", totals.GameID, "err", err)
	}
}
