package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/report"
	"github.com/powertac/powertac-tools/internal/trace"
)

var traceOut string

var traceCmd = &cobra.Command{
	Use:   "trace <trace-file> | trace <manifest> <dir>",
	Short: "Extract balancing prices and total imbalance from trace logs",
	Long: `Scan sim trace logs for deactivated timeslots, balancing prices and total
imbalance, writing one line per timeslot:

  gameId,timeslot,pPlus,pMinus,totalImbalance

With a single trace file the output is <file>-pp.csv. With a manifest and a
tournament directory every game is fetched as needed and written to
<dir>/data/pp-data-<gameId>.csv. --out redirects either form to a directory.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runTrace,
}

func init() {
	traceCmd.Flags().StringVar(&traceOut, "out", "", "output directory")
}

func runTrace(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		out := args[0] + "-pp.csv"
		if traceOut != "" {
			out = filepath.Join(traceOut, filepath.Base(args[0])+"-pp.csv")
		}
		n, err := traceFile(args[0], trace.GameID(args[0]), out)
		if err != nil {
			return err
		}
		report.Status(os.Stdout, trace.GameID(args[0]), "ok", fmt.Sprintf("%s (%d timeslots)", out, n))
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()
	store, err := newStore(args[1])
	if err != nil {
		return err
	}
	refs, err := resolveRefs(ctx, store, args[0])
	if err != nil {
		return err
	}
	outDir := traceOut
	if outDir == "" {
		outDir = dataDir(args[1])
	}
	failed := 0
	for _, ref := range refs {
		a, err := store.Ensure(ctx, ref)
		if err != nil {
			failed++
			report.Status(os.Stdout, ref.GameID, "error", err.Error())
			continue
		}
		if a.TraceLog == "" {
			report.Status(os.Stdout, ref.GameID, "skip", "no trace log")
			continue
		}
		out := filepath.Join(outDir, "pp-data-"+ref.GameID+".csv")
		n, err := traceFile(a.TraceLog, trace.GameID(a.TraceLog), out)
		if err != nil {
			failed++
			report.Status(os.Stdout, ref.GameID, "error", err.Error())
			continue
		}
		report.Status(os.Stdout, ref.GameID, "ok", fmt.Sprintf("%s (%d timeslots)", out, n))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d games failed", failed, len(refs))
	}
	return nil
}

func traceFile(in, gameID, out string) (int, error) {
	f, err := os.Open(in)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	recs, err := trace.Scan(f, gameID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return 0, err
	}
	w, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	if err := trace.WriteCSV(w, recs); err != nil {
		w.Close()
		os.Remove(out)
		return 0, err
	}
	logger.Debug("trace written", "game", gameID, "records", len(recs), "out", out)
	return len(recs), w.Close()
}
