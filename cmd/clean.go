package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/report"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [<manifest>] <dir>",
	Short: "Remove unpacked logs, keeping bundles and extracted data",
	Long: `Remove the log/ and boot-log/ directories of every game in the manifest.
Bundles stay on disk, so a later run unpacks again without downloading.
Without a manifest every game with a bundle in <dir> is cleaned.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runClean,
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()
	store, refs, err := localOrManifest(ctx, args)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if err := store.Clean(ref.GameID); err != nil {
			report.Status(os.Stdout, ref.GameID, "error", err.Error())
			continue
		}
		report.Status(os.Stdout, ref.GameID, "ok", store.GameDir(ref.GameID))
	}
	return nil
}
