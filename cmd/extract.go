package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/extract"
	"github.com/powertac/powertac-tools/internal/model"
	"github.com/powertac/powertac-tools/internal/report"
)

var (
	extractForce bool
	extractBoot  bool
	extractExt   string
)

var extractCmd = &cobra.Command{
	Use:   "extract <manifest> <dir> <extractorClass> <dataPrefix> [options...]",
	Short: "Run a logtool extractor over every game of a tournament",
	Long: `Run a logtool extractor over every game in the manifest, writing
<dir>/data/<dataPrefix><gameId>.<ext>. Games whose output already exists are
skipped unless --force is given. Failures are reported per game and do not
stop the run.`,
	Args: cobra.MinimumNArgs(4),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().BoolVar(&extractForce, "force", false, "re-run the extractor even when output exists")
	extractCmd.Flags().BoolVar(&extractBoot, "boot", false, "extract from the boot session log (prefix gets boot-)")
	extractCmd.Flags().StringVar(&extractExt, "ext", "csv", "output file extension")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	db := openLedger()
	defer closeDB(db)
	p, err := newPipeline(args[1], db, nil)
	if err != nil {
		return err
	}
	req := extract.Request{
		Extractor: args[2],
		Prefix:    args[3],
		Options:   args[4:],
		Ext:       extractExt,
		Force:     extractForce,
	}
	if extractBoot {
		req.LogType = model.LogBoot
	}

	total, failed := 0, 0
	for df, err := range p.Iterate(ctx, args[0], req) {
		total++
		switch {
		case err != nil && df.GameID == "":
			// manifest or cancellation
			return err
		case err != nil:
			failed++
			report.Status(os.Stdout, df.GameID, "error", err.Error())
		case df.Cached:
			report.Status(os.Stdout, df.GameID, "cached", df.Path)
		default:
			report.Status(os.Stdout, df.GameID, "ok", df.Path)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d games failed", failed, total)
	}
	return nil
}
