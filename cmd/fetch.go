package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/extract"
	"github.com/powertac/powertac-tools/internal/report"
)

var fetchWorkers int

var fetchCmd = &cobra.Command{
	Use:   "fetch <manifest> <dir>",
	Short: "Download and unpack every game bundle listed in a tournament manifest",
	Long: `Download and unpack the game bundles of a tournament into <dir>/<gameId>.
Bundles already on disk are not downloaded again and unpacked logs are not
unpacked again. <manifest> may be an http(s) URL, a file: URL or a path.`,
	Args: cobra.ExactArgs(2),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().IntVar(&fetchWorkers, "workers", 0, "concurrent downloads (default fetch.workers from config)")
}

func runFetch(cmd *cobra.Command, args []string) error {
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
	workers := fetchWorkers
	if workers == 0 {
		workers = cfg.Fetch.Workers
	}

	archives, err := extract.Prefetch(ctx, store, refs, workers)
	failed := 0
	for i, a := range archives {
		if a.StateLog == "" {
			failed++
			report.Status(os.Stdout, refs[i].GameID, "error", "not available")
			continue
		}
		detail := a.StateLog
		if a.BootLog == "" && store.Layout.HasBoot {
			detail += " (no boot log)"
		}
		report.Status(os.Stdout, a.GameID, "ok", detail)
	}
	if err != nil {
		return fmt.Errorf("%d of %d games failed: %w", failed, len(refs), err)
	}
	return nil
}
