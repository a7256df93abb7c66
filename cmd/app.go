package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/powertac/powertac-tools/internal/archive"
	"github.com/powertac/powertac-tools/internal/datatype"
	"github.com/powertac/powertac-tools/internal/extract"
	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/manifest"
	"github.com/powertac/powertac-tools/internal/model"
	"github.com/powertac/powertac-tools/internal/storage"
)

// signalContext is cancelled on Ctrl-C so that running extractors are killed
// and partial outputs removed.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func openDB() (*storage.DB, error) {
	if cfg.Database.Driver == "postgres" {
		return storage.OpenDialect(storage.DialectPostgres, cfg.Database.DSN)
	}
	return storage.Open(cfg.Database.SQLitePath)
}

// newStore builds the archive store rooted at the tournament directory.
func newStore(dir string) (*archive.Store, error) {
	l, err := cfg.Layout("")
	if err != nil {
		return nil, err
	}
	return archive.NewStore(dir, l, cfg.Fetch.HTTPTimeout), nil
}

func dataDir(dir string) string {
	if filepath.IsAbs(cfg.Logtool.DataDir) {
		return cfg.Logtool.DataDir
	}
	return filepath.Join(dir, cfg.Logtool.DataDir)
}

// newPipeline wires manifest, store and extractor for a tournament directory.
// When db is non-nil every outcome is written to the extraction ledger.
func newPipeline(dir string, db *storage.DB, runner extract.Runner) (*extract.Pipeline, error) {
	store, err := newStore(dir)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = extract.ExecRunner{}
	}
	p := &extract.Pipeline{
		Resolver: &manifest.Resolver{Client: store.Client},
		Store:    store,
		Extractor: &extract.Extractor{
			DataDir:    dataDir(dir),
			LogtoolDir: cfg.Logtool.Dir,
			Argv:       cfg.LogtoolArgv,
			Timeout:    cfg.Logtool.Timeout,
			Runner:     runner,
		},
	}
	if db != nil {
		p.Record = func(rec model.ExtractionRecord) {
			if err := db.RecordExtraction(rec); err != nil {
				logger.Warning("ledger write failed", "game", rec.GameID, "err", err)
			}
		}
	}
	return p, nil
}

// openLedger opens the sink for the extraction ledger. A sink that cannot be
// opened only costs the ledger, so it is logged rather than returned.
func openLedger() *storage.DB {
	db, err := openDB()
	if err != nil {
		logger.Warning("extraction ledger disabled", "err", err)
		return nil
	}
	return db
}

func closeDB(db *storage.DB) {
	if db != nil {
		db.Close()
	}
}

func requestFor(dt datatype.Type, lt model.LogType, force bool) extract.Request {
	return extract.Request{
		Extractor: dt.Extractor,
		Prefix:    dt.Prefix,
		Options:   strings.Fields(dt.Options),
		Ext:       dt.FileExt(),
		LogType:   lt,
		Force:     force,
	}
}

func lookupType(name string) (datatype.Type, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return datatype.Type{}, err
	}
	return reg.Lookup(name)
}

// resolveRefs reads the manifest with the store's HTTP client.
// localOrManifest reads games from a manifest when args holds one, otherwise
// from the bundles already below the last arg.
func localOrManifest(ctx context.Context, args []string) (*archive.Store, []model.GameRef, error) {
	store, err := newStore(args[len(args)-1])
	if err != nil {
		return nil, nil, err
	}
	if len(args) == 1 {
		refs, err := store.Local()
		return store, refs, err
	}
	refs, err := resolveRefs(ctx, store, args[0])
	return store, refs, err
}

func resolveRefs(ctx context.Context, store *archive.Store, location string) ([]model.GameRef, error) {
	refs, err := (&manifest.Resolver{Client: store.Client}).Resolve(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return refs, nil
}
