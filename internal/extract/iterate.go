package extract

import (
	"context"
	"errors"
	"iter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/powertac/powertac-tools/internal/archive"
	"github.com/powertac/powertac-tools/internal/logger"
	"github.com/powertac/powertac-tools/internal/manifest"
	"github.com/powertac/powertac-tools/internal/model"
)

// Pipeline ties manifest resolution, archive retrieval and extraction together.
type Pipeline struct {
	Resolver  *manifest.Resolver
	Store     *archive.Store
	Extractor *Extractor
	// Record, if set, is called once per game with the outcome.
	Record func(model.ExtractionRecord)
}

// Iterate yields one data file per manifest game, in manifest order. Each
// call resolves the manifest again. A failing game yields its error and the
// sequence continues; only a manifest failure ends it early.
func (p *Pipeline) Iterate(ctx context.Context, manifestURL string, req Request) iter.Seq2[model.DataFile, error] {
	return func(yield func(model.DataFile, error) bool) {
		refs, err := p.resolve(ctx, manifestURL)
		if err != nil {
			yield(model.DataFile{}, err)
			return
		}
		for _, ref := range refs {
			if ctx.Err() != nil {
				yield(model.DataFile{}, ctx.Err())
				return
			}
			df, err := p.one(ctx, ref, req)
			p.record(ref.GameID, req, df, err)
			if err != nil {
				logger.Error("game failed", "game", ref.GameID, "err", err)
			}
			if !yield(df, err) {
				return
			}
		}
	}
}

func (p *Pipeline) resolve(ctx context.Context, manifestURL string) ([]model.GameRef, error) {
	if p.Resolver != nil {
		return p.Resolver.Resolve(ctx, manifestURL)
	}
	return manifest.Resolve(ctx, manifestURL)
}

// one skips the archive entirely when the output is cached.
func (p *Pipeline) one(ctx context.Context, ref model.GameRef, req Request) (model.DataFile, error) {
	if df, ok := p.Extractor.Cached(req, ref.GameID); ok {
		return df, nil
	}
	arch, err := p.Store.Ensure(ctx, ref)
	if err != nil {
		return model.DataFile{GameID: ref.GameID}, err
	}
	df, err := p.Extractor.Extract(ctx, arch, req)
	if err != nil {
		df.GameID = ref.GameID
	}
	return df, err
}

func (p *Pipeline) record(gameID string, req Request, df model.DataFile, err error) {
	if p.Record == nil {
		return
	}
	rec := model.ExtractionRecord{
		GameID: gameID,
		Prefix: req.LogType.DataPrefix(req.Prefix),
		Path:   df.Path,
		Cached: df.Cached,
		Status: "ok",
		At:     time.Now().UTC().Format(time.RFC3339),
	}
	if err != nil {
		rec.Status = "error"
		rec.Message = err.Error()
	}
	p.Record(rec)
}

// Prefetch ensures the archives of refs with at most workers concurrent
// downloads. Results are index-aligned with refs; failed games are left zero
// and reported in the joined error.
func Prefetch(ctx context.Context, store *archive.Store, refs []model.GameRef, workers int) ([]model.GameArchive, error) {
	if workers < 1 {
		workers = 1
	}
	out := make([]model.GameArchive, len(refs))
	errs := make([]error, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, ref := range refs {
		g.Go(func() error {
			a, err := store.Ensure(gctx, ref)
			if err != nil {
				logger.Error("prefetch failed", "game", ref.GameID, "err", err)
				errs[i] = err
				return nil
			}
			out[i] = a
			return nil
		})
	}
	_ = g.Wait()
	return out, errors.Join(errs...)
}
