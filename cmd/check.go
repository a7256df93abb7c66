package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/report"
	"github.com/powertac/powertac-tools/internal/trace"
)

var checkMax int

var checkCmd = &cobra.Command{
	Use:   "check [<manifest>] <dir>",
	Short: "Report ERROR lines in the sim trace log of every game",
	Long: `Report ERROR lines in the sim trace log of every game in the manifest.
Without a manifest the games with a bundle in <dir> are checked.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().IntVar(&checkMax, "max", 5, "ERROR lines shown per game (0 = all)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	store, refs, err := localOrManifest(ctx, args)
	if err != nil {
		return err
	}

	dirty := 0
	for _, ref := range refs {
		a, err := store.Ensure(ctx, ref)
		if err != nil {
			report.Status(os.Stdout, ref.GameID, "error", err.Error())
			continue
		}
		if a.TraceLog == "" {
			report.Status(os.Stdout, ref.GameID, "skip", "no trace log")
			continue
		}
		lines, err := scanErrors(a.TraceLog)
		if err != nil {
			report.Status(os.Stdout, ref.GameID, "error", err.Error())
			continue
		}
		if len(lines) == 0 {
			report.Status(os.Stdout, ref.GameID, "ok", "clean")
			continue
		}
		dirty++
		report.Status(os.Stdout, ref.GameID, "error", fmt.Sprintf("%d ERROR lines", len(lines)))
		shown := lines
		if checkMax > 0 && len(shown) > checkMax {
			shown = shown[:checkMax]
		}
		for _, l := range shown {
			fmt.Fprintf(os.Stdout, "    %6d: %s\n", l.Line, l.Text)
		}
	}
	fmt.Fprintf(os.Stdout, "\n%d of %d games report errors\n", dirty, len(refs))
	return nil
}

func scanErrors(path string) ([]trace.ErrorLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return trace.ScanErrors(f)
}
