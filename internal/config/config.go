// Package config loads the ptlogs YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/powertac/powertac-tools/internal/datatype"
	"github.com/powertac/powertac-tools/internal/layout"
	"github.com/powertac/powertac-tools/internal/logger"
)

// Config holds every setting the pipeline needs.
type Config struct {
	// Season names the layout policy used when --season is not given.
	Season string `yaml:"season"`

	// Seasons adds or replaces layout policies by name.
	Seasons map[string]layout.Policy `yaml:"seasons"`

	Logtool   LogtoolConfig   `yaml:"logtool"`
	Fetch     FetchConfig     `yaml:"fetch"`
	Aggregate AggregateConfig `yaml:"aggregate"`
	Database  DatabaseConfig  `yaml:"database"`
	Logging   logger.Config   `yaml:"logging"`

	// DataTypes adds or replaces entries of the data-type registry.
	DataTypes []datatype.Type `yaml:"data_types"`
}

// LogtoolConfig describes how the external extractor is launched.
type LogtoolConfig struct {
	// Dir is the working directory of the extractor process.
	Dir string `yaml:"dir"`

	// Command is the argv template. An element containing "{args}" has it
	// replaced by the space-joined extractor arguments; if none does, the
	// arguments are appended as separate elements.
	Command []string `yaml:"command"`

	// Timeout bounds a single extractor invocation. 0 disables the limit.
	Timeout time.Duration `yaml:"timeout"`

	// DataDir is the subdirectory of the tournament dir holding extracted files.
	DataDir string `yaml:"data_dir"`
}

// FetchConfig holds download settings.
type FetchConfig struct {
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// Workers bounds concurrent downloads during prefetch.
	Workers int `yaml:"workers"`
}

// AggregateConfig holds aggregator settings.
type AggregateConfig struct {
	// OutlierThreshold discards a whole game when any value exceeds it in magnitude.
	OutlierThreshold float64 `yaml:"outlier_threshold"`
}

// DatabaseConfig selects the SQL sink.
type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`

	SQLitePath string `yaml:"sqlite_path"`

	// DSN is passed to lib/pq when Driver is "postgres".
	DSN string `yaml:"dsn"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Season: "tournament",
		Logtool: LogtoolConfig{
			Dir:     "../logtool-examples",
			Command: []string{"mvn", "exec:exec", "-Dexec.args={args}"},
			Timeout: 30 * time.Minute,
			DataDir: "data",
		},
		Fetch: FetchConfig{
			HTTPTimeout: 10 * time.Minute,
			Workers:     1,
		},
		Aggregate: AggregateConfig{
			OutlierThreshold: 1e9,
		},
		Database: DatabaseConfig{
			Driver:     "sqlite",
			SQLitePath: filepath.Join(home, ".ptlogs", "ptlogs.db"),
		},
		Logging: logger.DefaultConfig(),
	}
}

// DefaultPath is ~/.ptlogs/config.yaml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ptlogs", "config.yaml")
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error. Environment overrides for logging are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.Logging.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that cannot be defaulted at use time.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for postgres")
	}
	if len(c.Logtool.Command) == 0 {
		return fmt.Errorf("logtool.command must not be empty")
	}
	if c.Aggregate.OutlierThreshold <= 0 {
		return fmt.Errorf("aggregate.outlier_threshold must be positive")
	}
	for name, p := range c.Seasons {
		if p.Name == "" {
			p.Name = name
		}
		if _, err := p.Compile(); err != nil {
			return err
		}
	}
	return nil
}

// Layout returns the compiled layout for a season: configured seasons win,
// otherwise the builtin policy applies.
func (c *Config) Layout(season string) (*layout.Layout, error) {
	if season == "" {
		season = c.Season
	}
	if p, ok := c.Seasons[season]; ok {
		if p.Name == "" {
			p.Name = season
		}
		return p.Compile()
	}
	return layout.Builtin(season).Compile()
}

// Registry builds the data-type registry including configured overrides.
func (c *Config) Registry() (*datatype.Registry, error) {
	return datatype.NewRegistry(c.DataTypes...)
}

// LogtoolArgv expands the command template for one extractor run.
func (c *Config) LogtoolArgv(args []string) []string {
	joined := strings.Join(args, " ")
	out := make([]string, 0, len(c.Logtool.Command)+len(args))
	substituted := false
	for _, part := range c.Logtool.Command {
		if strings.Contains(part, "{args}") {
			part = strings.ReplaceAll(part, "{args}", joined)
			substituted = true
		}
		out = append(out, part)
	}
	if !substituted {
		out = append(out, args...)
	}
	return out
}
