// Package extract runs the external logtool over unpacked game logs and
// caches the per-game data files it writes.
package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/model"
)

// Request names one extraction: which logtool class to run and where its
// output goes.
type Request struct {
	Extractor string
	// Prefix is the sim prefix; boot requests get "boot-" appended.
	Prefix  string
	Options []string
	Ext     string
	LogType model.LogType
	Force   bool
}

func (r Request) fileName(gameID string) string {
	ext := r.Ext
	if ext == "" {
		ext = "csv"
	}
	return r.LogType.DataPrefix(r.Prefix) + gameID + "." + ext
}

// Extractor turns a state log into a data file.
type Extractor struct {
	DataDir    string
	LogtoolDir string
	// Argv expands the extractor arguments into a full command line.
	Argv    func(args []string) []string
	Timeout time.Duration
	Runner  Runner
}

// OutputPath is where the data file for a game is cached.
func (x *Extractor) OutputPath(req Request, gameID string) string {
	return filepath.Join(x.DataDir, req.fileName(gameID))
}

// Cached reports whether the game's output exists and force is not set.
func (x *Extractor) Cached(req Request, gameID string) (model.DataFile, bool) {
	out := x.OutputPath(req, gameID)
	if req.Force {
		return model.DataFile{}, false
	}
	if _, err := os.Stat(out); err != nil {
		return model.DataFile{}, false
	}
	return x.dataFile(req, gameID, out, true), true
}

func (x *Extractor) dataFile(req Request, gameID, path string, cached bool) model.DataFile {
	return model.DataFile{
		GameID:    gameID,
		Extractor: req.Extractor,
		Prefix:    req.LogType.DataPrefix(req.Prefix),
		Path:      path,
		Cached:    cached,
	}
}

// Extract runs the logtool for one game unless its output is already cached.
// A failed run never leaves a partial output behind.
func (x *Extractor) Extract(ctx context.Context, arch model.GameArchive, req Request) (model.DataFile, error) {
	if df, ok := x.Cached(req, arch.GameID); ok {
		logger.Debug("data file cached", "game", arch.GameID, "path", df.Path)
		return df, nil
	}

	fail := func(code int, stderr string, err error) (model.DataFile, error) {
		return model.DataFile{}, &ExtractionError{
			GameID: arch.GameID, Extractor: req.Extractor,
			ExitCode: code, Stderr: stderr, Err: err,
		}
	}

	input := arch.Log(req.LogType)
	if input == "" {
		return fail(-1, "", fmt.Errorf("no %s state log in %s", req.LogType, arch.Dir))
	}
	out, err := filepath.Abs(x.OutputPath(req, arch.GameID))
	if err != nil {
		return fail(-1, "", err)
	}
	if input, err = filepath.Abs(input); err != nil {
		return fail(-1, "", err)
	}
	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fail(-1, "", fmt.Errorf("create data dir: %w", err))
	}

	args := make([]string, 0, len(req.Options)+3)
	args = append(args, req.Extractor)
	args = append(args, req.Options...)
	args = append(args, input, out)
	argv := args
	if x.Argv != nil {
		argv = x.Argv(args)
	}

	runCtx := ctx
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}

	logger.Info("running extractor", "game", arch.GameID, "class", req.Extractor)
	start := time.Now()
	if err := x.Runner.Run(runCtx, x.LogtoolDir, argv); err != nil {
		os.Remove(out)
		var ee *ExitError
		if errors.As(err, &ee) {
			return fail(ee.Code, ee.Stderr, err)
		}
		return fail(-1, "", err)
	}
	if _, err := os.Stat(out); err != nil {
		return fail(0, "", fmt.Errorf("extractor produced no output %s", out))
	}
	logger.Debug("extractor finished", "game", arch.GameID, "elapsed", time.Since(start).Round(time.Millisecond))
	return x.dataFile(req, arch.GameID, out, false), nil
}
