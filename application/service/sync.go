package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hermesindex/hermes/domain/catalog"
	"github.com/hermesindex/hermes/domain/feature"
	"github.com/hermesindex/hermes/domain/vector"
	"github.com/hermesindex/hermes/infrastructure/gpu"
	"github.com/hermesindex/hermes/infrastructure/postgres"
	"github.com/hermesindex/hermes/internal/config"
)

// inflightWait is how long the producer backs off when every pending row is
// already claimed by a worker.
const inflightWait = 100 * time.Millisecond

// StateStore is the sync bookkeeping surface used by the pipeline.
type StateStore interface {
	EnsureTables(ctx context.Context) error
	Upsert(ctx context.Context, source string, updates []postgres.StateUpdate) error
	MarkFailure(ctx context.Context, source, pgID, message string) error
}

// TMDBAutoEnricher enriches TMDB references inline during sync.
type TMDBAutoEnricher interface {
	AutoEnrich(ctx context.Context, refs []postgres.TMDBRef)
}

// TPDBAutoEnricher enriches TPDB references inline during sync.
type TPDBAutoEnricher interface {
	AutoEnrich(ctx context.Context, refs []postgres.TPDBRef)
}

// Sync drives the incremental indexing pipeline: pending rows are fetched in
// batches, optionally enriched, embedded and scored on the GPU service, and
// committed to the vector store before their sync state is recorded.
type Sync struct {
	cfg    config.Config
	reader catalog.Reader
	store  vector.Store
	states StateStore
	gpu    *gpu.Client
	tmdb   TMDBAutoEnricher
	tpdb   TPDBAutoEnricher
	logger *slog.Logger
}

// NewSync creates the pipeline. tmdb and tpdb may be nil to disable inline
// enrichment.
func NewSync(cfg config.Config, reader catalog.Reader, store vector.Store, states StateStore, gpuClient *gpu.Client, tmdb TMDBAutoEnricher, tpdb TPDBAutoEnricher, logger *slog.Logger) *Sync {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sync{
		cfg:    cfg,
		reader: reader,
		store:  store,
		states: states,
		gpu:    gpuClient,
		tmdb:   tmdb,
		tpdb:   tpdb,
		logger: logger,
	}
}

// Run syncs the named source, or every configured source when name is empty.
// The GPU model dimension is checked against the index up front so a
// misconfigured deployment fails before any row is touched.
func (s *Sync) Run(ctx context.Context, name string) error {
	if err := s.states.EnsureTables(ctx); err != nil {
		return err
	}
	health, err := s.gpu.Healthcheck(ctx)
	if err != nil {
		return fmt.Errorf("gpu health: %w", err)
	}
	if health.Dim != 0 && health.Dim != s.cfg.VectorStore.Dim {
		return fmt.Errorf("gpu model dim %d does not match vector_store.dim %d", health.Dim, s.cfg.VectorStore.Dim)
	}

	sources := s.cfg.Sources
	if name != "" {
		src, ok := s.cfg.SourceByName(name)
		if !ok {
			return fmt.Errorf("unknown source: %s", name)
		}
		sources = []config.Source{src}
	}
	for _, src := range sources {
		if err := s.syncSource(ctx, src); err != nil {
			return fmt.Errorf("sync %s: %w", src.Name, err)
		}
	}
	return nil
}

// syncSource drains one source with a single producer feeding concurrent
// batch workers. The producer refetches pending rows until none remain;
// rows claimed by a worker but not yet committed are skipped, and when a
// fetch yields only claimed rows the producer waits for commits instead of
// spinning.
func (s *Sync) syncSource(ctx context.Context, src config.Source) error {
	batchSize := s.cfg.SourceBatchSize(src)
	if batchSize > gpu.MaxTextsPerCall {
		batchSize = gpu.MaxTextsPerCall
	}
	workers := s.cfg.SourceConcurrency(src)

	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []catalog.Row)
	inflight := newInflightSet()

	for range workers {
		g.Go(func() error {
			for rows := range batches {
				err := s.processBatch(gctx, src, rows)
				inflight.release(rows)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	var total int
	produce := func() error {
		for {
			rows, err := s.reader.FetchPending(gctx, src.Name, batchSize)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return nil
			}
			fresh := inflight.claim(rows)
			if len(fresh) == 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(inflightWait):
				}
				continue
			}
			select {
			case <-gctx.Done():
				inflight.release(fresh)
				return gctx.Err()
			case batches <- fresh:
				total += len(fresh)
			}
		}
	}

	err := produce()
	close(batches)
	if werr := g.Wait(); err == nil {
		err = werr
	}
	if err != nil {
		return err
	}
	s.logger.Info("source synced", slog.String("source", src.Name), slog.Int("rows", total))
	return nil
}

// processBatch indexes one batch end to end. Inference and commit failures
// are recorded per row and abort the source.
func (s *Sync) processBatch(ctx context.Context, src config.Source, rows []catalog.Row) error {
	s.autoEnrich(ctx, src, rows)
	hydrated := s.hydrateBatch(ctx, src, rows)

	texts := make([]string, len(rows))
	for i, row := range rows {
		texts[i] = feature.Normalize(row.Text)
		if texts[i] == "" {
			texts[i] = row.Text
		}
	}
	res, err := s.gpu.Infer(ctx, texts)
	if err != nil {
		s.markBatch(ctx, src.Name, rows, err)
		return fmt.Errorf("infer batch: %w", err)
	}
	if res.Dim != s.cfg.VectorStore.Dim {
		return fmt.Errorf("embedding dim %d does not match vector_store.dim %d", res.Dim, s.cfg.VectorStore.Dim)
	}

	payloads := make([]vector.Payload, len(rows))
	for i, row := range rows {
		h, ok := hydrated[row.PGID]
		if !ok {
			h = row
		}
		payloads[i] = s.buildPayload(src, row, h, res.NSFWScores[i])
		if s.cfg.VectorStore.Metric == "cosine" {
			gpu.Normalize(res.Embeddings[i])
		}
	}

	ids, err := s.store.Add(ctx, res.Embeddings, payloads)
	if err != nil {
		s.markBatch(ctx, src.Name, rows, err)
		return fmt.Errorf("index batch: %w", err)
	}

	updates := make([]postgres.StateUpdate, len(rows))
	for i, row := range rows {
		updates[i] = postgres.StateUpdate{
			PGID:             row.PGID,
			TextHash:         payloads[i].TextHash,
			EmbeddingVersion: s.cfg.EmbeddingModelVersion,
			VectorID:         ids[i].String(),
			NSFWScore:        res.NSFWScores[i],
		}
	}
	if err := s.states.Upsert(ctx, src.Name, updates); err != nil {
		return fmt.Errorf("record sync state: %w", err)
	}
	s.logger.Debug("batch indexed", slog.String("source", src.Name), slog.Int("rows", len(rows)))
	return nil
}

// autoEnrich kicks inline TMDB and TPDB enrichment for rows that carry the
// needed references. The enrichers gate themselves on configuration.
func (s *Sync) autoEnrich(ctx context.Context, src config.Source, rows []catalog.Row) {
	if s.tmdb != nil && src.PG.TMDBEnrich {
		var refs []postgres.TMDBRef
		for _, row := range rows {
			tmdbID := fieldString(row, "tmdb_id")
			contentType := fieldString(row, "content_type", "type")
			if tmdbID != "" && contentType != "" {
				refs = append(refs, postgres.TMDBRef{ContentType: contentType, TMDBID: tmdbID})
			}
		}
		if len(refs) > 0 {
			s.tmdb.AutoEnrich(ctx, refs)
		}
	}
	if s.tpdb != nil && src.PG.TPDBEnrich {
		var refs []postgres.TPDBRef
		for _, row := range rows {
			ref := postgres.TPDBRef{
				ContentType:   fieldString(row, "content_type", "type"),
				ContentSource: src.Name,
				ContentID:     row.PGID,
				Title:         row.Text,
				TPDBType:      fieldString(row, "tpdb_type"),
			}
			if ref.Valid() {
				refs = append(refs, ref)
			}
		}
		if len(refs) > 0 {
			s.tpdb.AutoEnrich(ctx, refs)
		}
	}
}

// hydrateBatch re-reads the batch rows with joins so freshly enriched fields
// land in the payloads. A failed hydration degrades to the pending rows.
func (s *Sync) hydrateBatch(ctx context.Context, src config.Source, rows []catalog.Row) map[string]catalog.Row {
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.PGID
	}
	hydrated, err := s.reader.FetchByIDs(ctx, src.Name, ids)
	if err != nil {
		s.logger.Warn("batch hydration failed", slog.String("source", src.Name), slog.String("error", err.Error()))
		return nil
	}
	return hydrated
}

func (s *Sync) buildPayload(src config.Source, row, hydrated catalog.Row, nsfwScore float64) vector.Payload {
	audio, subtitle := feature.DetectLanguages(row.Text)

	genreText := row.Text
	if g := fieldString(hydrated, "genre"); g != "" {
		genreText += " " + g
	}

	textHash := row.TextHash
	if textHash == "" {
		textHash = catalog.HashText(row.Text)
	}

	tmdbID := fieldString(hydrated, "tmdb_id")
	tpdbID := fieldString(hydrated, "tpdb_id")

	var size int64
	if n := rowSize(hydrated, src.PG.SizeField); n != nil {
		size = *n
	}

	return vector.Payload{
		Source:           src.Name,
		PGID:             row.PGID,
		TextHash:         textHash,
		EmbeddingVersion: s.cfg.EmbeddingModelVersion,
		NSFW:             src.Tagging.NSFWEnabled() && nsfwScore >= s.cfg.NSFWThreshold,
		NSFWScore:        nsfwScore,
		HasTMDB:          tmdbID != "",
		TMDBID:           tmdbID,
		HasTPDB:          tpdbID != "",
		TPDBID:           tpdbID,
		GenreTags:        feature.ExtractGenres(genreText),
		FileType:         feature.DetectFileType(row.Text),
		AudioLangs:       audio,
		SubtitleLangs:    subtitle,
		Size:             size,
		Title:            row.Text,
	}
}

// markBatch records a batch-wide failure against every row so the status
// endpoint can surface it. Marking runs even when ctx is already cancelled.
func (s *Sync) markBatch(ctx context.Context, source string, rows []catalog.Row, cause error) {
	ctx = context.WithoutCancel(ctx)
	for _, row := range rows {
		if err := s.states.MarkFailure(ctx, source, row.PGID, cause.Error()); err != nil {
			s.logger.Warn("mark failure", slog.String("source", source), slog.String("pg_id", row.PGID), slog.String("error", err.Error()))
		}
	}
}
