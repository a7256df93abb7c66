package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/powertac/powertac-tools/internal/config"
	"github.com/powertac/powertac-tools/internal/logger"
)

var (
	cfgPath  string
	dbPath   string
	season   string
	logLevel string

	// cfg is loaded once per invocation before any command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ptlogs",
	Short: "Power TAC tournament log tool",
	Long: `Download and unpack Power TAC tournament game logs, run logtool extractors
over them with an on-disk cache, and aggregate the extracted per-timeslot data
into weekly, daily, weekday and weekend statistics.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath(), "path to YAML config")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path to SQLite database (overrides database.sqlite_path)")
	rootCmd.PersistentFlags().StringVar(&season, "season", "", "layout policy: tournament, 2016, em or a configured season")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(peaksCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(brokersCmd)
	rootCmd.AddCommand(accountingCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if dbPath != "" {
		c.Database.Driver = "sqlite"
		c.Database.SQLitePath = dbPath
	}
	if season != "" {
		c.Season = season
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if err := logger.Initialize(c.Logging); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	cfg = c
	return nil
}
