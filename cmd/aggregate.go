package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/aggregator"
	"github.com/powertac/powertac-tools/internal/datatype"
	"github.com/powertac/powertac-tools/internal/extract"
	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/model"
	"github.com/powertac/powertac-tools/internal/report"
)

var (
	aggType     string
	aggInterval string
	aggStats    []string
	aggContours []float64
	aggBoot     bool
	aggImpute   int
	aggHist     int
	aggForce    bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <manifest> <dir>",
	Short: "Aggregate an extracted data type into windowed statistics",
	Long: `Extract (or reuse cached) per-game data for --type, bin every timeslot into
the Game, Weekly, Daily, Weekday and Weekend windows, and print one row per
bin index for the selected --interval.

Games with any value above aggregate.outlier_threshold are discarded whole.
Run 'ptlogs types' for the known data types.`,
	Args: cobra.ExactArgs(2),
	RunE: runAggregate,
}

func init() {
	aggregateCmd.Flags().StringVar(&aggType, "type", "net-demand", "data type to aggregate")
	aggregateCmd.Flags().StringVar(&aggInterval, "interval", "Weekly", "window: Game, Weekly, Daily, Weekday or Weekend")
	aggregateCmd.Flags().StringSliceVar(&aggStats, "stat", []string{"mean", "std"}, "statistics per bin index: mean, std")
	aggregateCmd.Flags().Float64SliceVar(&aggContours, "contours", []float64{0.05, 0.5, 0.95}, "nearest-rank percentiles per bin index")
	aggregateCmd.Flags().BoolVar(&aggBoot, "boot", false, "also collect boot-session data")
	aggregateCmd.Flags().IntVar(&aggImpute, "impute", 0, "synthesise boot series from every Nth game value")
	aggregateCmd.Flags().IntVar(&aggHist, "hist", 0, "also print a histogram of all window values with N buckets")
	aggregateCmd.Flags().BoolVar(&aggForce, "force", false, "re-run the extractor even when output exists")
}

func runAggregate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	iv, err := aggregator.ParseInterval(aggInterval)
	if err != nil {
		return err
	}
	var ops []aggregator.Op
	for _, s := range aggStats {
		op, err := aggregator.ParseOp(s)
		if err != nil {
			return err
		}
		ops = append(ops, op)
	}
	for _, p := range aggContours {
		if p < 0 || p > 1 {
			return fmt.Errorf("contour %g outside [0,1]", p)
		}
		ops = append(ops, aggregator.OpContour(p))
	}

	a, err := buildAggregator(ctx, args[0], args[1], aggType, aggBoot, aggForce)
	if err != nil {
		return err
	}
	if aggImpute > 0 {
		a.ImputeBoot(aggImpute)
	}

	report.AggregateSummary(os.Stdout, a)
	b := a.Bin(iv)
	report.PrintBinTable(os.Stdout, b, report.ReduceColumns(b, ops))
	if aggHist > 0 {
		fmt.Fprintln(os.Stdout)
		edges, counts := aggregator.Histogram(aggregator.Flatten(b), aggHist)
		report.PrintHistogram(os.Stdout, edges, counts)
	}
	return nil
}

// buildAggregator runs the extraction pipeline for one data type and feeds
// every game into a fresh aggregator.
func buildAggregator(ctx context.Context, manifestURL, dir, typeName string, boot, force bool) (*aggregator.Aggregator, error) {
	dt, err := lookupType(typeName)
	if err != nil {
		return nil, err
	}
	db := openLedger()
	defer closeDB(db)
	p, err := newPipeline(dir, db, nil)
	if err != nil {
		return nil, err
	}
	a := aggregator.New(dt, aggregator.Options{OutlierThreshold: cfg.Aggregate.OutlierThreshold})
	if err := collect(ctx, p, manifestURL, dt, a, force); err != nil {
		return nil, err
	}
	if boot {
		if !p.Store.Layout.HasBoot {
			return nil, fmt.Errorf("season %s has no boot sessions; use --impute", p.Store.Layout.Name)
		}
		if err := collectBoot(ctx, p, manifestURL, dt, a, force); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// collect ingests the sim data file of every game the pipeline yields.
// Per-game extraction and sanity-gate failures are logged and skipped; only
// manifest or cancellation errors are returned.
func collect(ctx context.Context, p *extract.Pipeline, manifestURL string, dt datatype.Type, a *aggregator.Aggregator, force bool) error {
	for df, err := range p.Iterate(ctx, manifestURL, requestFor(dt, model.LogSim, force)) {
		if err != nil {
			if df.GameID == "" {
				return err
			}
			continue
		}
		if err := a.IngestFile(df.GameID, df.Path); err != nil {
			logGameSkip(df.GameID, err)
		}
	}
	return nil
}

func collectBoot(ctx context.Context, p *extract.Pipeline, manifestURL string, dt datatype.Type, a *aggregator.Aggregator, force bool) error {
	for df, err := range p.Iterate(ctx, manifestURL, requestFor(dt, model.LogBoot, force)) {
		if err != nil {
			if df.GameID == "" {
				return err
			}
			continue
		}
		if err := a.IngestBootFile(df.GameID, df.Path); err != nil {
			logGameSkip(df.GameID, err)
		}
	}
	return nil
}

func logGameSkip(gameID string, err error) {
	var rej *aggregator.OutlierRejection
	if errors.As(err, &rej) {
		logger.Warning("game rejected", "game", gameID, "line", rej.Line, "value", rej.Value)
		return
	}
	logger.Error("ingest failed", "game", gameID, "err", err)
}
