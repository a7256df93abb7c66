package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/extract"
	"github.com/powertac/powertac-tools/internal/model"
	"github.com/powertac/powertac-tools/internal/report"
	"github.com/powertac/powertac-tools/internal/storage"
)

const gameBrokerInfoClass = "org.powertac.logtool.example.GameBrokerInfo"

var brokersForce bool

var brokersCmd = &cobra.Command{
	Use:   "brokers [<manifest> <dir>]",
	Short: "Load game and broker metadata into the database",
	Long: `Run the GameBrokerInfo extractor over every game in the manifest and upsert
the game, broker and broker_game tables. Without arguments, print the games
already stored.`,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("want no arguments or <manifest> <dir>, got %d", len(args))
		}
		return nil
	},
	RunE: runBrokers,
}

func init() {
	brokersCmd.Flags().BoolVar(&brokersForce, "force", false, "re-run the extractor even when output exists")
}

func runBrokers(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if len(args) == 2 {
		ctx, cancel := signalContext()
		defer cancel()
		p, err := newPipeline(args[1], db, nil)
		if err != nil {
			return err
		}
		if err := loadBrokers(ctx, p, db, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout)
	}

	games, err := db.ListGames()
	if err != nil {
		return fmt.Errorf("list games: %w", err)
	}
	if len(games) == 0 {
		fmt.Fprintln(os.Stdout, "No games stored yet. Run 'ptlogs brokers <manifest> <dir>' to load some.")
		return nil
	}
	report.PrintGames(os.Stdout, games)
	return nil
}

// loadBrokers runs GameBrokerInfo for every game and upserts the results.
func loadBrokers(ctx context.Context, p *extract.Pipeline, db *storage.DB, manifestURL string) error {
	req := extract.Request{Extractor: gameBrokerInfoClass, Prefix: "gb", Ext: "txt", Force: brokersForce}
	failed, total := 0, 0
	for df, err := range p.Iterate(ctx, manifestURL, req) {
		if err != nil {
			if df.GameID == "" {
				return err
			}
			total++
			failed++
			report.Status(os.Stdout, df.GameID, "error", err.Error())
			continue
		}
		total++
		game, err := loadBrokerFile(db, df.Path)
		if err != nil {
			failed++
			report.Status(os.Stdout, df.GameID, "error", err.Error())
			continue
		}
		report.Status(os.Stdout, df.GameID, "ok", fmt.Sprintf("game %s: %d brokers, %d timeslots", game.GameID, game.Size, game.Length))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d games failed", failed, total)
	}
	return nil
}

func loadBrokerFile(db *storage.DB, path string) (model.GameInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.GameInfo{}, err
	}
	defer f.Close()
	return db.LoadGameBrokers(f)
}
