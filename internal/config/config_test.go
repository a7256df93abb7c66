package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Aggregate.OutlierThreshold != 1e9 {
		t.Errorf("OutlierThreshold = %g, want 1e9", cfg.Aggregate.OutlierThreshold)
	}
	if cfg.Logtool.DataDir != "data" {
		t.Errorf("DataDir = %q, want data", cfg.Logtool.DataDir)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	path := writeConfig(t, `
season: "2016"
logtool:
  dir: /opt/logtool
  command: ["java", "-jar", "logtool.jar"]
  timeout: 90s
fetch:
  http_timeout: 2m
  workers: 4
aggregate:
  outlier_threshold: 5e8
data_types:
  - name: wind
    extractor: org.example.Wind
    prefix: wind-
    policy: offset
    net: production
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Season != "2016" {
		t.Errorf("Season = %q", cfg.Season)
	}
	if cfg.Logtool.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v, want 90s", cfg.Logtool.Timeout)
	}
	if cfg.Fetch.HTTPTimeout != 2*time.Minute || cfg.Fetch.Workers != 4 {
		t.Errorf("Fetch = %+v", cfg.Fetch)
	}
	if cfg.Aggregate.OutlierThreshold != 5e8 {
		t.Errorf("OutlierThreshold = %g", cfg.Aggregate.OutlierThreshold)
	}
	// unspecified fields keep their defaults
	if cfg.Logtool.DataDir != "data" {
		t.Errorf("DataDir = %q, want default", cfg.Logtool.DataDir)
	}
	reg, err := cfg.Registry()
	if err != nil {
		t.Fatalf("Registry: %v", err)
	}
	if _, err := reg.Lookup("wind"); err != nil {
		t.Errorf("configured data type missing: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "logtool: [unterminated\n")
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"empty command", func(c *Config) { c.Logtool.Command = nil }},
		{"zero threshold", func(c *Config) { c.Aggregate.OutlierThreshold = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLayoutPrefersConfiguredSeason(t *testing.T) {
	path := writeConfig(t, `
seasons:
  lab:
    bundle_name: "run-{id}.tgz"
    bundle_regex: '^run-(\w+)\.tgz$'
    sim_dir: logs
    state_regex: '^sim\.state$'
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	l, err := cfg.Layout("lab")
	if err != nil {
		t.Fatalf("Layout: %v", err)
	}
	if l.Name != "lab" || l.BundleFile("7") != "run-7.tgz" {
		t.Errorf("unexpected layout %+v", l.Policy)
	}
	def, err := cfg.Layout("")
	if err != nil {
		t.Fatalf("default Layout: %v", err)
	}
	if def.Name != "tournament" {
		t.Errorf("default layout = %q", def.Name)
	}
}

func TestLogtoolArgv(t *testing.T) {
	cfg := DefaultConfig()
	args := []string{"org.x.Pc", "in.state", "out.csv"}
	got := cfg.LogtoolArgv(args)
	want := []string{"mvn", "exec:exec", "-Dexec.args=org.x.Pc in.state out.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("template argv = %q, want %q", got, want)
	}

	cfg.Logtool.Command = []string{"java", "-jar", "logtool.jar"}
	got = cfg.LogtoolArgv(args)
	want = []string{"java", "-jar", "logtool.jar", "org.x.Pc", "in.state", "out.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("appended argv = %q, want %q", got, want)
	}
}
