// Package service is the application context of the assistant: it builds the
// index, the model clients and the pipelines once from configuration and
// exposes ingestion and question answering to the HTTP layer and the CLIs.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"ragdesk/backend/go/internal/config"
	"ragdesk/backend/go/internal/database/milvus"
	"ragdesk/backend/go/internal/database/minio"
	"ragdesk/backend/go/internal/database/redis"
	"ragdesk/backend/go/internal/embedding"
	"ragdesk/backend/go/internal/llm"
	"ragdesk/backend/go/internal/rag_service/rag/embeddings"
	"ragdesk/backend/go/internal/rag_service/rag/guard"
	"ragdesk/backend/go/internal/rag_service/rag/interfaces"
	"ragdesk/backend/go/internal/rag_service/rag/llms"
	"ragdesk/backend/go/internal/rag_service/rag/loaders"
	"ragdesk/backend/go/internal/rag_service/rag/pipeline"
	"ragdesk/backend/go/internal/rag_service/rag/schema"
	"ragdesk/backend/go/internal/rag_service/rag/splitters"
	"ragdesk/backend/go/internal/rag_service/rag/storages/vectorstore"
	"ragdesk/backend/go/pkg/circuitbreaker"
	"ragdesk/backend/go/pkg/logger"
)

// Deps are the collaborators a Service runs on.
type Deps struct {
	Store    interfaces.VectorStore
	Loader   interfaces.Loader
	Splitter interfaces.Splitter
	Embedder interfaces.EmbeddingModel
	LLM      interfaces.LLM
	// Closers run on Close after the store is closed.
	Closers []func() error
}

// IngestRequest names the sources of one ingestion run.
type IngestRequest struct {
	Sources []string
	Reset   bool
	// OnError overrides ingest.onError when set.
	OnError pipeline.OnError
	// Confined marks sources named by an untrusted caller: they are resolved
	// under ingest.dataDir and remote sources need ingest.allowRemote.
	Confined bool
}

// Option adjusts how a Service is built.
type Option func(*options)

type options struct {
	modelChange bool
}

// WithModelChange accepts an index built with another embedding model. Use it
// only for a run that resets the index before writing; the indexing pipeline
// still refuses to add to a mismatched index without a reset.
func WithModelChange() Option {
	return func(o *options) { o.modelChange = true }
}

// Status describes the index the service answers from.
type Status struct {
	Ready          bool      `json:"ready"`
	Records        int       `json:"records"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	Backend        string    `json:"backend"`
}

// Service answers questions from the index and ingests documents into it.
type Service struct {
	cfg      *config.AppConfig
	log      *logger.Logger
	store    interfaces.VectorStore
	embedder interfaces.EmbeddingModel
	indexing *pipeline.IndexingPipeline
	answerer *pipeline.Answerer
	metrics  *Metrics
	closers  []func() error
}

// New builds every collaborator from cfg. Opening the index or finding it was
// built with another embedding model is a ConfigurationError unless
// WithModelChange is given.
func New(ctx context.Context, cfg *config.AppConfig, log *logger.Logger, opts ...Option) (*Service, error) {
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	var registryOpts []loaders.Option
	if cfg.Databases.MinIO.Endpoint != "" {
		objects, err := minio.NewClient(ctx, cfg.Databases.MinIO)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", schema.ErrConfiguration, err)
		}
		registryOpts = append(registryOpts, loaders.WithObjectStore(objects))
		log.WithField("endpoint", cfg.Databases.MinIO.Endpoint).Info("object storage sources enabled")
	}

	embedder, closeCache, err := newEmbedder(ctx, cfg.Embedding, cfg.Databases.Redis)
	if err != nil {
		return nil, err
	}
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	model, err := newLLM(cfg.LLM)
	if err != nil {
		closeAll()
		return nil, err
	}

	splitter, err := splitters.New(cfg.Chunking.Strategy, cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("%w: %w", schema.ErrConfiguration, err)
	}

	store, err := OpenStore(ctx, cfg, embedder.ModelName(), log)
	if err != nil {
		closeAll()
		return nil, err
	}

	svc, err := NewWithDeps(ctx, cfg, Deps{
		Store:    store,
		Loader:   loaders.NewRegistry(registryOpts...),
		Splitter: splitter,
		Embedder: embedder,
		LLM:      model,
		Closers:  closers,
	}, log, opts...)
	if err != nil {
		store.Close()
		closeAll()
		return nil, err
	}
	return svc, nil
}

// NewWithDeps wires a Service around ready-made collaborators.
func NewWithDeps(ctx context.Context, cfg *config.AppConfig, deps Deps, log *logger.Logger, opts ...Option) (*Service, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	manifest, err := deps.Store.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case manifest == nil || manifest.EmbeddingModel == deps.Embedder.ModelName():
	case o.modelChange:
		log.WithFields(map[string]interface{}{
			"index_model":      manifest.EmbeddingModel,
			"configured_model": deps.Embedder.ModelName(),
		}).Warn("index was built with another embedding model; it must be reset before use")
	default:
		return nil, fmt.Errorf("%w: index was built with embedding model %q but %q is configured; re-ingest with reset",
			schema.ErrConfiguration, manifest.EmbeddingModel, deps.Embedder.ModelName())
	}

	qa, err := pipeline.NewQAPipeline(deps.LLM, cfg.LLM.PromptTemplate, log.WithField("component", "qa"))
	if err != nil {
		return nil, err
	}

	indexing := pipeline.NewIndexingPipeline(deps.Loader, deps.Splitter, deps.Embedder, deps.Store, pipeline.IndexingConfig{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		OnError:     pipeline.OnError(cfg.Ingest.OnError),
	}, log.WithField("component", "indexing"))

	retrieval := pipeline.NewRetrievalPipeline(deps.Embedder, deps.Store, log.WithField("component", "retrieval"))

	s := &Service{
		cfg:      cfg,
		log:      log,
		store:    deps.Store,
		embedder: deps.Embedder,
		indexing: indexing,
		answerer: pipeline.NewAnswerer(retrieval, qa, log),
		metrics:  NewMetrics(),
		closers:  deps.Closers,
	}
	s.refreshGauge(ctx)
	return s, nil
}

// OpenStore opens the configured index for vectors of model.
func OpenStore(ctx context.Context, cfg *config.AppConfig, model string, log *logger.Logger) (interfaces.VectorStore, error) {
	switch cfg.Index.Backend {
	case "sqlite":
		return vectorstore.OpenSQLite(ctx, cfg.Index.Path, model)
	case "memory":
		return vectorstore.NewMemoryStore(model), nil
	case "milvus":
		client, err := milvus.NewClient(ctx, cfg.Databases.Milvus, log)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", schema.ErrConfiguration, err)
		}
		store, err := vectorstore.NewMilvusStore(ctx, client, cfg.Index.Collection, model, log)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("%w: %w", schema.ErrConfiguration, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown index backend %q", schema.ErrConfiguration, cfg.Index.Backend)
	}
}

func newBreaker(cfg config.CircuitBreakerConfig) *circuitbreaker.Breaker {
	if !cfg.Enabled {
		return nil
	}
	return circuitbreaker.New(cfg.FailureThreshold, cfg.SuccessThreshold, config.Duration(cfg.Timeout, 30*time.Second))
}

// newEmbedder builds the guarded, optionally cached embedding model. The
// returned func closes the cache connection, if any.
func newEmbedder(ctx context.Context, cfg config.EmbeddingConfig, redisCfg config.RedisConfig) (interfaces.EmbeddingModel, func() error, error) {
	client, err := embedding.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: embedding provider: %w", schema.ErrConfiguration, err)
	}

	var closer func() error
	ttl := config.Duration(cfg.Cache.TTL, 0)
	switch cfg.Cache.Backend {
	case "memory":
		cache, err := embedding.NewMemoryCache(cfg.Cache.Capacity, ttl)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: embedding cache: %w", schema.ErrConfiguration, err)
		}
		client = embedding.NewCached(client, cache)
	case "redis":
		rdb, err := redis.NewClient(ctx, redisCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: embedding cache: %w", schema.ErrConfiguration, err)
		}
		client = embedding.NewCached(client, embedding.NewRedisCache(rdb, ttl))
		closer = rdb.Close
	}

	g := guard.New("embedder "+cfg.Model, config.Duration(cfg.Timeout, 60*time.Second), newBreaker(cfg.CircuitBreaker))
	return embeddings.NewAdapter(client, g), closer, nil
}

func newLLM(cfg config.LLMConfig) (interfaces.LLM, error) {
	client, err := llm.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: llm provider: %w", schema.ErrConfiguration, err)
	}
	g := guard.New("llm "+cfg.Model, config.Duration(cfg.Timeout, 60*time.Second), newBreaker(cfg.CircuitBreaker))
	return llms.NewAdapter(client, g), nil
}

// Ingest loads, chunks, embeds and stores the requested sources.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*pipeline.IngestReport, error) {
	sources := req.Sources
	var names map[string]string // resolved path -> name given by the caller
	if req.Confined {
		sources = make([]string, len(req.Sources))
		names = make(map[string]string, len(req.Sources))
		for i, src := range req.Sources {
			path, err := ConfineSource(s.cfg.Ingest, src)
			if err != nil {
				s.log.WithError(err).WithField("source", src).Warn("refused ingestion source")
				return nil, err
			}
			sources[i], names[path] = path, src
		}
	}

	report, err := s.indexing.Run(ctx, sources, pipeline.RunOptions{Reset: req.Reset, OnError: req.OnError})
	if err != nil {
		s.metrics.ingestDocuments.WithLabelValues("failed").Add(float64(len(req.Sources)))
		return nil, err
	}
	if names != nil {
		for i, path := range report.Sources {
			if name, ok := names[path]; ok {
				report.Sources[i] = name
			}
		}
		for i, f := range report.Skipped {
			if name, ok := names[f.Source]; ok {
				report.Skipped[i].Error = strings.ReplaceAll(f.Error, f.Source, name)
				report.Skipped[i].Source = name
			}
		}
	}

	s.metrics.ingestRecords.Add(float64(report.Records))
	s.metrics.ingestDocuments.WithLabelValues("ingested").Add(float64(len(report.Sources)))
	s.metrics.ingestDocuments.WithLabelValues("skipped").Add(float64(len(report.Skipped)))
	s.refreshGauge(ctx)
	return report, nil
}

// Answer answers question from k passages. k of 0 selects retrieval.topK and
// values above retrieval.maxTopK are clamped.
func (s *Service) Answer(ctx context.Context, question string, k int) (*schema.Answer, error) {
	start := time.Now()
	answer, err := s.answer(ctx, question, k)

	outcome := "ok"
	if err != nil {
		outcome = schema.Kind(err)
	}
	s.metrics.queries.WithLabelValues(outcome).Inc()
	s.metrics.queryDuration.Observe(time.Since(start).Seconds())
	return answer, err
}

func (s *Service) answer(ctx context.Context, question string, k int) (*schema.Answer, error) {
	switch {
	case k < 0:
		return nil, fmt.Errorf("%w: k must not be negative, got %d", schema.ErrInvalidInput, k)
	case k == 0:
		k = s.cfg.Retrieval.TopK
	case k > s.cfg.Retrieval.MaxTopK:
		k = s.cfg.Retrieval.MaxTopK
	}
	return s.answerer.Answer(ctx, question, k, nil)
}

// Status reports whether the index can answer questions.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{EmbeddingModel: s.embedder.ModelName(), Backend: s.cfg.Index.Backend}

	count, err := s.store.Count(ctx)
	if err != nil {
		return st, fmt.Errorf("%w: %w", schema.ErrRetrievalUnavailable, err)
	}
	manifest, err := s.store.Manifest(ctx)
	if err != nil {
		return st, fmt.Errorf("%w: %w", schema.ErrRetrievalUnavailable, err)
	}

	st.Records = count
	st.Ready = count > 0
	if manifest != nil {
		st.Dimension = manifest.Dimension
		st.CreatedAt = manifest.CreatedAt
	}
	return st, nil
}

// DefaultSources resolves the configured data directory and pattern. Unless
// all is set exactly one document must match.
func (s *Service) DefaultSources(all bool) ([]string, error) {
	return DiscoverSources(s.cfg.Ingest, all)
}

// DiscoverSources lists the documents under cfg.DataDir matching cfg.Pattern.
func DiscoverSources(cfg config.IngestConfig, all bool) ([]string, error) {
	if all {
		matches, err := loaders.Discover(cfg.DataDir, cfg.Pattern)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: no document matching %q in %s", schema.ErrLoad, cfg.Pattern, cfg.DataDir)
		}
		return matches, nil
	}
	one, err := loaders.DiscoverOne(cfg.DataDir, cfg.Pattern)
	if err != nil {
		return nil, err
	}
	return []string{one}, nil
}

// ConfineSource resolves a source named by an untrusted caller. Local names
// are taken relative to cfg.DataDir and may not leave it, through ".." or a
// symlink. Web and object sources need cfg.AllowRemote.
func ConfineSource(cfg config.IngestConfig, source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", fmt.Errorf("%w: source is empty", schema.ErrEmptyInput)
	}
	if loaders.IsRemote(source) {
		if !cfg.AllowRemote {
			return "", fmt.Errorf("%w: remote source %s is not allowed; enable ingest.allowRemote", schema.ErrInvalidInput, source)
		}
		return source, nil
	}
	if filepath.IsAbs(source) || filepath.VolumeName(source) != "" {
		return "", fmt.Errorf("%w: source %s must be relative to the data directory", schema.ErrInvalidInput, source)
	}

	root, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return "", fmt.Errorf("%w: data directory %s: %w", schema.ErrConfiguration, cfg.DataDir, err)
	}
	path := filepath.Join(root, source)
	if !within(root, path) {
		return "", fmt.Errorf("%w: source %s is outside the data directory", schema.ErrInvalidInput, source)
	}
	if real, err := filepath.EvalSymlinks(path); err == nil {
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			realRoot = root
		}
		if !within(realRoot, real) {
			return "", fmt.Errorf("%w: source %s links outside the data directory", schema.ErrInvalidInput, source)
		}
	}
	return path, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// Metrics returns the service's collectors.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// Close releases the index and every remote connection.
func (s *Service) Close() error {
	errs := []error{s.store.Close()}
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func (s *Service) refreshGauge(ctx context.Context) {
	count, err := s.store.Count(ctx)
	if err != nil {
		s.log.WithError(err).Warn("could not count index records")
		return
	}
	s.metrics.indexRecords.Set(float64(count))
}
