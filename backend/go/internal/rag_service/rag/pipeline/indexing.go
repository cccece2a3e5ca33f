package pipeline

import (
	"context"
	"errors"
	"fmt"

	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// OnError decides what a failing source does to an ingestion run.
type OnError string

const (
	// OnErrorAbort stops the run before anything is written.
	OnErrorAbort OnError = "abort"
	// OnErrorSkip drops the failing source and ingests the rest.
	OnErrorSkip OnError = "skip"
)

// IndexingConfig tunes the embedding stage.
type IndexingConfig struct {
	BatchSize   int
	Concurrency int
	OnError     OnError
}

// RunOptions are per-run switches.
type RunOptions struct {
	// Reset clears the store right before the new records are written.
	Reset bool
	// OnError overrides the configured policy when set.
	OnError OnError
}

// SourceFailure records a source dropped under the skip policy.
type SourceFailure struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// IngestReport summarises a successful run.
type IngestReport struct {
	Sources []string        `json:"sources"`
	Pages   int             `json:"pages"`
	Chunks  int             `json:"chunks"`
	Records int             `json:"records"`
	Skipped []SourceFailure `json:"skipped,omitempty"`
}

// IndexingPipeline orchestrates the process of loading, splitting, embedding, and storing documents.
type IndexingPipeline struct {
	loader      interfaces.Loader
	splitter    interfaces.Splitter
	embedder    interfaces.EmbeddingModel
	vectorStore interfaces.VectorStore
	cfg         IndexingConfig
	log         *logger.Logger
}

// NewIndexingPipeline creates a new IndexingPipeline.
func NewIndexingPipeline(
	loader interfaces.Loader,
	splitter interfaces.Splitter,
	embedder interfaces.EmbeddingModel,
	vectorStore interfaces.VectorStore,
	cfg IndexingConfig,
	log *logger.Logger,
) *IndexingPipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.OnError == "" {
		cfg.OnError = OnErrorAbort
	}
	return &IndexingPipeline{
		loader:      loader,
		splitter:    splitter,
		embedder:    embedder,
		vectorStore: vectorStore,
		cfg:         cfg,
		log:         log,
	}
}

// Run ingests sources. Every source is loaded, split and embedded before the
// store is touched, so a failing run leaves the store unchanged.
func (p *IndexingPipeline) Run(ctx context.Context, sources []string, opts RunOptions) (*IngestReport, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("%w: no sources to ingest", schema.ErrEmptyInput)
	}
	policy := p.cfg.OnError
	if opts.OnError != "" {
		policy = opts.OnError
	}
	if policy != OnErrorAbort && policy != OnErrorSkip {
		return nil, fmt.Errorf("%w: unknown error policy %q", schema.ErrInvalidInput, policy)
	}

	if !opts.Reset {
		if err := p.checkManifest(ctx); err != nil {
			return nil, err
		}
	}

	report := &IngestReport{}
	log := p.log.WithField("sources", len(sources))
	log.Info("starting ingestion")

	// 1. Load every source
	var pages []*schema.Document
	for _, source := range sources {
		docs, err := p.loader.Load(ctx, source)
		if err == nil && len(docs) == 0 {
			err = fmt.Errorf("%w: %s contains no text", schema.ErrEmptyInput, source)
		}
		if err != nil {
			if ctx.Err() != nil || policy == OnErrorAbort || !isSourceError(err) {
				log.WithError(err).WithField("source", source).Error("ingestion aborted")
				return nil, err
			}
			log.WithError(err).WithField("source", source).Warn("skipping source")
			report.Skipped = append(report.Skipped, SourceFailure{Source: source, Kind: schema.Kind(err), Error: err.Error()})
			continue
		}
		report.Sources = append(report.Sources, source)
		pages = append(pages, docs...)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: none of the %d sources yielded text", schema.ErrEmptyInput, len(sources))
	}
	report.Pages = len(pages)

	// 2. Split documents into chunks
	chunks, err := p.splitter.Split(ctx, pages)
	if err != nil {
		return nil, fmt.Errorf("splitting documents: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: documents produced no chunks", schema.ErrEmptyInput)
	}
	report.Chunks = len(chunks)
	log.WithFields(map[string]interface{}{"pages": report.Pages, "chunks": report.Chunks}).Info("split documents")

	// 3. Embed the chunks
	if err := p.embed(ctx, chunks); err != nil {
		log.WithError(err).Error("failed to embed chunks")
		return nil, err
	}

	// 4. Store the chunks
	if opts.Reset {
		if err := p.vectorStore.Reset(ctx); err != nil {
			return nil, fmt.Errorf("resetting index: %w", err)
		}
		log.Info("index reset")
	}
	if err := p.vectorStore.Add(ctx, chunks); err != nil {
		log.WithError(err).Error("failed to add chunks to vector store")
		return nil, err
	}
	report.Records = len(chunks)

	log.WithField("records", report.Records).Info("ingestion finished")
	return report, nil
}

// checkManifest refuses to mix vectors of different embedding models in one index.
func (p *IndexingPipeline) checkManifest(ctx context.Context) error {
	m, err := p.vectorStore.Manifest(ctx)
	if err != nil {
		return err
	}
	if m != nil && m.EmbeddingModel != p.embedder.ModelName() {
		return fmt.Errorf("%w: index was built with embedding model %q but %q is configured; re-ingest with reset",
			schema.ErrConfiguration, m.EmbeddingModel, p.embedder.ModelName())
	}
	return nil
}

// embed fills chunk embeddings in batches, keeping input order.
func (p *IndexingPipeline) embed(ctx context.Context, chunks []*schema.Document) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for start := 0; start < len(chunks); start += p.cfg.BatchSize {
		batch := chunks[start:min(start+p.cfg.BatchSize, len(chunks))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}
			vectors, err := p.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("%w: embedder returned %d vectors for %d chunks", schema.ErrModelUnavailable, len(vectors), len(batch))
			}
			for i, c := range batch {
				c.Embedding = vectors[i]
			}
			return nil
		})
	}
	return g.Wait()
}

// isSourceError reports whether err concerns one source rather than the whole run.
func isSourceError(err error) bool {
	return errors.Is(err, schema.ErrLoad) || errors.Is(err, schema.ErrEmptyInput)
}
