package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/aggregator"
	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/report"
)

var (
	peaksType         string
	peaksIntervalDays int
	peaksThreshold    float64
	peaksN            int
	peaksImpute       int
)

var peaksCmd = &cobra.Command{
	Use:   "peaks <manifest> <dir>",
	Short: "Find demand peaks above mean + k*sigma, seeded by the boot session",
	Long: `For each game, running mean and standard deviation are seeded with the boot
session and extended through the game. After every --interval-days days the
--npeaks largest values above mean + --threshold*sigma are reported.

Seasons without boot sessions need --impute N, which samples every Nth game
value as a stand-in boot series.`,
	Args: cobra.ExactArgs(2),
	RunE: runPeaks,
}

func init() {
	peaksCmd.Flags().StringVar(&peaksType, "type", "net-demand", "data type to scan")
	peaksCmd.Flags().IntVar(&peaksIntervalDays, "interval-days", 5, "days per assessment interval")
	peaksCmd.Flags().Float64Var(&peaksThreshold, "threshold", 1.5, "sigmas above the running mean")
	peaksCmd.Flags().IntVar(&peaksN, "npeaks", 1, "peaks reported per interval")
	peaksCmd.Flags().IntVar(&peaksImpute, "impute", 0, "synthesise boot series from every Nth game value")
}

func runPeaks(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	useBoot := peaksImpute == 0
	a, err := buildAggregator(ctx, args[0], args[1], peaksType, useBoot, false)
	if err != nil {
		return err
	}
	if peaksImpute > 0 {
		a.ImputeBoot(peaksImpute)
	}

	report.AggregateSummary(os.Stdout, a)
	report.PrintPeaks(os.Stdout, peakRows(a, peaksIntervalDays, peaksThreshold, peaksN))
	return nil
}

// peakRows runs the peak search over every game that has a boot series.
func peakRows(a *aggregator.Aggregator, intervalDays int, threshold float64, n int) []report.PeakRow {
	var rows []report.PeakRow
	for _, id := range a.Games() {
		boot := a.Boot(id)
		if len(boot) == 0 {
			logger.Warning("game skipped: no boot series", "game", id)
			continue
		}
		for _, p := range aggregator.Peaks(boot, a.Game(id), intervalDays, threshold, n) {
			rows = append(rows, report.PeakRow{GameID: id, Peak: p})
		}
	}
	return rows
}
