// Package layout describes how a season's game bundles are named and how
// their contents are arranged once unpacked.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/powertac/powertac-tools/internal/model"
)

// Policy is the YAML-configurable description of one season's conventions.
// Regexes are matched against base filenames.
type Policy struct {
	Name string `yaml:"name"`
	// BundleName is the compressed bundle filename; "{id}" is replaced by the game ID.
	BundleName string `yaml:"bundle_name"`
	// BundleRegex captures the game ID from a bundle filename.
	BundleRegex string `yaml:"bundle_regex"`
	SimDir      string `yaml:"sim_dir"`
	BootDir     string `yaml:"boot_dir"`
	StateRegex  string `yaml:"state_regex"`
	TraceRegex  string `yaml:"trace_regex"`
	// HasBoot is false for experiment-manager bundles, which carry no boot session.
	HasBoot bool `yaml:"has_boot"`
}

var builtin = map[string]Policy{
	"tournament": {
		Name:        "tournament",
		BundleName:  "game-{id}-sim-logs.tar.gz",
		BundleRegex: `^game-(\d+)-sim-logs\.tar\.gz$`,
		SimDir:      "log",
		BootDir:     "boot-log",
		StateRegex:  `^powertac-sim-.+\.state$`,
		TraceRegex:  `^powertac-sim-.+\.trace$`,
		HasBoot:     true,
	},
	"2016": {
		Name:        "2016",
		BundleName:  "game-{id}-sim.tar.gz",
		BundleRegex: `^game-(\d+)-sim\.tar\.gz$`,
		SimDir:      "log",
		BootDir:     "boot-log",
		StateRegex:  `^powertac-sim-2016_finals_\d+\.state$`,
		TraceRegex:  `^powertac-sim-2016_finals_\d+\.trace$`,
		HasBoot:     true,
	},
	"em": {
		Name:        "em",
		BundleName:  "{id}.tar.gz",
		BundleRegex: `^([^.]+)\.tar\.gz$`,
		SimDir:      "log",
		StateRegex:  `^powertac-sim-.+\.state$`,
		TraceRegex:  `^powertac-sim-.+\.trace$`,
		HasBoot:     false,
	},
}

// Builtin returns the predefined policy for a season or source name.
// Seasons other than 2016 share the "tournament" conventions.
func Builtin(season string) Policy {
	if p, ok := builtin[season]; ok {
		return p
	}
	return builtin["tournament"]
}

// Names lists the predefined policy names.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Layout is a compiled Policy.
type Layout struct {
	Policy
	bundle *regexp.Regexp
	state  *regexp.Regexp
	trace  *regexp.Regexp
}

// Compile validates the policy's regular expressions.
func (p Policy) Compile() (*Layout, error) {
	l := &Layout{Policy: p}
	var err error
	if l.bundle, err = compileOptional(p.BundleRegex); err != nil {
		return nil, fmt.Errorf("policy %s: bundle_regex: %w", p.Name, err)
	}
	if p.StateRegex == "" {
		return nil, fmt.Errorf("policy %s: state_regex is required", p.Name)
	}
	if l.state, err = regexp.Compile(p.StateRegex); err != nil {
		return nil, fmt.Errorf("policy %s: state_regex: %w", p.Name, err)
	}
	if l.trace, err = compileOptional(p.TraceRegex); err != nil {
		return nil, fmt.Errorf("policy %s: trace_regex: %w", p.Name, err)
	}
	if l.SimDir == "" {
		l.SimDir = "log"
	}
	return l, nil
}

// MustCompile is Compile for the builtin policies.
func MustCompile(p Policy) *Layout {
	l, err := p.Compile()
	if err != nil {
		panic(err)
	}
	return l
}

func compileOptional(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		return nil, nil
	}
	return regexp.Compile(expr)
}

// BundleFile returns the expected bundle filename for a game.
func (l *Layout) BundleFile(gameID string) string {
	if l.BundleName == "" {
		return gameID + ".tar.gz"
	}
	return strings.ReplaceAll(l.BundleName, "{id}", gameID)
}

// GameIDFromBundle extracts the game ID from a bundle filename.
func (l *Layout) GameIDFromBundle(name string) (string, bool) {
	if l.bundle == nil {
		return "", false
	}
	m := l.bundle.FindStringSubmatch(filepath.Base(name))
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// FindStateLog returns the state log of the given session inside an unpacked
// game directory. The "init.state" companions are ignored.
func (l *Layout) FindStateLog(gameDir string, t model.LogType) (string, error) {
	sub := l.SimDir
	if t == model.LogBoot {
		if !l.HasBoot || l.BootDir == "" {
			return "", fmt.Errorf("policy %s has no boot session", l.Name)
		}
		sub = l.BootDir
	}
	dir := filepath.Join(gameDir, sub)
	name, err := l.findIn(dir, l.state, func(n string) bool {
		return strings.HasSuffix(n, "init.state")
	})
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("no file matching %s in %s", l.state, dir)
	}
	return filepath.Join(dir, name), nil
}

// FindTraceLog returns the sim trace log, or "" if the policy defines none or
// the bundle does not contain one.
func (l *Layout) FindTraceLog(gameDir string) string {
	if l.trace == nil {
		return ""
	}
	dir := filepath.Join(gameDir, l.SimDir)
	name, err := l.findIn(dir, l.trace, nil)
	if err != nil || name == "" {
		return ""
	}
	return filepath.Join(dir, name)
}

// FindBootRecord returns the bootstrap .xml record at the top of the game dir.
func FindBootRecord(gameDir string) string {
	matches, _ := filepath.Glob(filepath.Join(gameDir, "*.xml"))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

// findIn returns the last (lexically) matching name so that reruns pick the
// same file when a directory contains more than one candidate.
func (l *Layout) findIn(dir string, re *regexp.Regexp, skip func(string) bool) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	var found string
	for _, e := range entries {
		if e.IsDir() || !re.MatchString(e.Name()) {
			continue
		}
		if skip != nil && skip(e.Name()) {
			continue
		}
		if e.Name() > found {
			found = e.Name()
		}
	}
	return found, nil
}
