// Package archive keeps a local, unpacked copy of each game's log bundle.
package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/powertac/powertac-tools/internal/layout"
	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/model"
)

// DownloadError reports a failed bundle fetch.
type DownloadError struct {
	GameID string
	URL    string
	Err    error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("game %s: download %s: %v", e.GameID, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// UnpackError reports a corrupt bundle or one missing the expected logs.
type UnpackError struct {
	GameID string
	Bundle string
	Err    error
}

func (e *UnpackError) Error() string {
	return fmt.Sprintf("game %s: unpack %s: %v", e.GameID, e.Bundle, e.Err)
}

func (e *UnpackError) Unwrap() error { return e.Err }

// Store downloads and unpacks bundles below Root.
type Store struct {
	Root   string
	Layout *layout.Layout
	Client *http.Client
}

// NewStore returns a Store using an HTTP client with the given timeout.
func NewStore(root string, l *layout.Layout, timeout time.Duration) *Store {
	return &Store{Root: root, Layout: l, Client: &http.Client{Timeout: timeout}}
}

// Ensure is Store.Ensure with a default HTTP client.
func Ensure(ctx context.Context, ref model.GameRef, targetDir string, l *layout.Layout) (model.GameArchive, error) {
	return NewStore(targetDir, l, 10*time.Minute).Ensure(ctx, ref)
}

// GameDir is the per-game working directory.
func (s *Store) GameDir(gameID string) string {
	return filepath.Join(s.Root, gameID)
}

// BundleName is the last path segment of the log URL, or the layout's bundle
// name when the URL has none.
func (s *Store) BundleName(ref model.GameRef) string {
	if u, err := url.Parse(ref.LogURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}
	return s.Layout.BundleFile(ref.GameID)
}

// Ensure makes sure the game's logs are unpacked locally. Nothing is fetched
// or unpacked when the sim state log is already in place.
func (s *Store) Ensure(ctx context.Context, ref model.GameRef) (model.GameArchive, error) {
	dir := s.GameDir(ref.GameID)
	bundle := filepath.Join(dir, s.BundleName(ref))

	if _, err := s.Layout.FindStateLog(dir, model.LogSim); err != nil {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return model.GameArchive{}, fmt.Errorf("create game dir: %w", err)
		}
		if _, statErr := os.Stat(bundle); os.IsNotExist(statErr) {
			logger.Info("downloading bundle", "game", ref.GameID, "url", ref.LogURL)
			if err := s.download(ctx, ref, bundle); err != nil {
				return model.GameArchive{}, err
			}
		} else {
			logger.Debug("bundle present", "game", ref.GameID, "bundle", bundle)
		}
		logger.Info("unpacking bundle", "game", ref.GameID, "bundle", filepath.Base(bundle))
		if err := Unpack(bundle, dir); err != nil {
			return model.GameArchive{}, &UnpackError{GameID: ref.GameID, Bundle: bundle, Err: err}
		}
	} else {
		logger.Debug("logs present", "game", ref.GameID)
	}

	return s.locate(ref.GameID, dir, bundle)
}

func (s *Store) locate(gameID, dir, bundle string) (model.GameArchive, error) {
	sim, err := s.Layout.FindStateLog(dir, model.LogSim)
	if err != nil {
		return model.GameArchive{}, &UnpackError{GameID: gameID, Bundle: bundle, Err: err}
	}
	a := model.GameArchive{
		GameID:     gameID,
		Dir:        dir,
		BundlePath: bundle,
		StateLog:   sim,
		TraceLog:   s.Layout.FindTraceLog(dir),
		BootRecord: layout.FindBootRecord(dir),
	}
	if s.Layout.HasBoot {
		if boot, err := s.Layout.FindStateLog(dir, model.LogBoot); err == nil {
			a.BootLog = boot
		}
	}
	return a, nil
}

// download writes into a temp file renamed into place, so an interrupted
// transfer never looks like a cached bundle.
func (s *Store) download(ctx context.Context, ref model.GameRef, dst string) error {
	fail := func(err error) error {
		return &DownloadError{GameID: ref.GameID, URL: ref.LogURL, Err: err}
	}
	if ref.LogURL == "" {
		return fail(fmt.Errorf("no log URL"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.LogURL, nil)
	if err != nil {
		return fail(err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("HTTP %d", resp.StatusCode))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return fail(err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fail(fmt.Errorf("write: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fail(err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return fail(err)
	}
	return nil
}

// Local lists the games that already have a bundle below Root, in directory
// order. The refs carry no log URL; Ensure unpacks them from the bundle.
func (s *Store) Local() ([]model.GameRef, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Root, err)
	}
	var refs []model.GameRef
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.Root, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		for _, f := range files {
			if id, ok := s.Layout.GameIDFromBundle(f.Name()); ok && id == e.Name() {
				refs = append(refs, model.GameRef{GameID: id})
				break
			}
		}
	}
	return refs, nil
}

// Clean removes the unpacked logs of a game, keeping the bundle.
func (s *Store) Clean(gameID string) error {
	return Clean(s.Root, gameID)
}

// Clean removes log/ and boot-log/ from targetDir/gameID. A missing game
// directory is not an error.
func Clean(targetDir, gameID string) error {
	dir := filepath.Join(targetDir, gameID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	for _, sub := range []string{"log", "boot-log"} {
		if err := os.RemoveAll(filepath.Join(dir, sub)); err != nil {
			return fmt.Errorf("clean %s: %w", gameID, err)
		}
	}
	return nil
}
