package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kirillkom/evidence-router/internal/config"
	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
	"github.com/kirillkom/evidence-router/internal/core/retrieval"
	"github.com/kirillkom/evidence-router/internal/core/routing"
	"github.com/kirillkom/evidence-router/internal/core/usecase"
	rediscache "github.com/kirillkom/evidence-router/internal/infrastructure/cache/redis"
	"github.com/kirillkom/evidence-router/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/evidence-router/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/evidence-router/internal/infrastructure/queue/nats"
	"github.com/kirillkom/evidence-router/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/evidence-router/internal/infrastructure/resilience"
	"github.com/kirillkom/evidence-router/internal/infrastructure/search/elasticsearch"
	"github.com/kirillkom/evidence-router/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/evidence-router/internal/observability/metrics"
)

// App is the answer pipeline shared by the api, mcp and evalreport binaries.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Executor    *resilience.Executor
	HTTPMetrics *metrics.HTTPServerMetrics
	AnswerUC    *usecase.AnswerUseCase

	closers []func()
	probes  map[string]func(context.Context) error
}

const probeTimeout = 3 * time.Second

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger, probes: map[string]func(context.Context) error{}}
	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	app.HTTPMetrics = metrics.NewHTTPServerMetrics(service)
	app.Executor = resilience.NewExecutor(cfg.Resilience,
		resilience.WithLogger(logger),
		resilience.WithStateChange(app.HTTPMetrics.RecordBreakerState),
	)

	ollamaClient := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel,
		ollama.WithExecutor(app.Executor),
		ollama.WithHTTPClient(&http.Client{Timeout: cfg.QuestionTimeout}),
	)
	embedder := ollama.NewEmbedder(ollamaClient)
	vectorDB := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
		DenseVectorName:  cfg.QdrantDenseVector,
		SparseVectorName: cfg.QdrantSparseVector,
		Executor:         app.Executor,
	})
	app.probes["qdrant"] = vectorDB.Ping

	keyword, err := app.keywordSearcher(cfg, vectorDB)
	if err != nil {
		return nil, err
	}

	retrievers := []ports.Retriever{
		retrieval.NewSemantic(embedder, vectorDB),
		retrieval.NewFused(embedder, vectorDB, keyword, retrieval.FusedConfig{
			Fusion:       retrieval.FusionStrategy(cfg.FusionStrategy),
			RRFK:         cfg.FusionRRFK,
			VectorWeight: cfg.FusionVectorWeight,
			Candidates:   cfg.FusionCandidates,
			RerankTopN:   cfg.RerankTopN,
		}, logger),
	}
	if cfg.StructuredEnable {
		structured, err := app.structuredRetriever(cfg, ollamaClient)
		if err != nil {
			return nil, err
		}
		retrievers = append(retrievers, structured)
	}
	registry := retrieval.NewRegistry(retrievers...)

	classifier, err := app.intentClassifier(cfg, ollamaClient)
	if err != nil {
		return nil, err
	}

	table := routing.DefaultRoutingTable()
	if cfg.RoutingTablePath != "" {
		table, err = routing.LoadRoutingTable(cfg.RoutingTablePath)
		if err != nil {
			return nil, fmt.Errorf("load routing table: %w", err)
		}
	}
	selector, err := routing.NewSelector(table, registry.Strategies(), routing.SelectorConfig{
		FanOutConfidence: cfg.FanOutConfidence,
		AlwaysFanOut:     cfg.AlwaysFanOut,
	})
	if err != nil {
		return nil, fmt.Errorf("build strategy selector: %w", err)
	}

	var aliases ports.SourceAliasResolver
	if cfg.PostgresDSN != "" {
		db, err := app.openPostgres(ctx, cfg)
		if err != nil {
			// Alias canonicalization is an enrichment of the merge step.
			logger.Warn("source_aliases_disabled", "error", err)
		} else {
			aliases = postgres.NewAliasRepository(db)
		}
	}

	var publisher ports.TracePublisher
	if cfg.TracePublishEnabled {
		bus, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: app.Executor,
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init trace bus: %w", err)
		}
		app.closers = append(app.closers, bus.Close)
		publisher = bus
	}

	observer := app.HTTPMetrics.Router
	coordinator := usecase.NewCoordinator(registry, usecase.CoordinatorConfig{
		TopK:             cfg.RAGTopK,
		MinRelevance:     cfg.MinRelevance,
		RetrieverTimeout: cfg.RetrieverTimeout,
	}, observer, logger)
	merger := usecase.NewMerger(aliases, cfg.MergeMaxItems, logger)
	gate := usecase.NewGate(ollama.NewDraftGenerator(ollamaClient, logger), logger)

	app.AnswerUC = usecase.NewAnswerUseCase(
		classifier,
		selector,
		coordinator,
		merger,
		gate,
		publisher,
		observer,
		usecase.AnswerConfig{
			QuestionTimeout: cfg.QuestionTimeout,
			PublishTimeout:  cfg.TracePublishTimeout,
		},
		logger,
	)

	app.probeDependencies(ctx)
	logger.Info("answer_pipeline_ready",
		"strategies", registry.Strategies(),
		"keyword_backend", cfg.KeywordBackend,
		"classifier", cfg.ClassifierMode,
		"always_fan_out", cfg.AlwaysFanOut,
	)
	ok = true
	return app, nil
}

func (a *App) keywordSearcher(cfg config.Config, vectorDB *qdrant.Client) (ports.KeywordSearcher, error) {
	switch cfg.KeywordBackend {
	case "", "qdrant":
		return vectorDB, nil
	case "elasticsearch":
		searcher, err := elasticsearch.New(elasticsearch.Config{
			Addresses: cfg.ElasticsearchURLs,
			Username:  cfg.ElasticsearchUsername,
			Password:  cfg.ElasticsearchPassword,
			Index:     cfg.ElasticsearchIndex,
		}, a.Executor)
		if err != nil {
			return nil, fmt.Errorf("init keyword search: %w", err)
		}
		a.probes["elasticsearch"] = searcher.Ping
		return searcher, nil
	default:
		return nil, fmt.Errorf("unknown keyword backend %q", cfg.KeywordBackend)
	}
}

func (a *App) structuredRetriever(cfg config.Config, client *ollama.Client) (ports.Retriever, error) {
	graphSchema := ""
	if cfg.GraphSchemaPath != "" {
		raw, err := os.ReadFile(cfg.GraphSchemaPath)
		if err != nil {
			return nil, fmt.Errorf("read graph schema: %w", err)
		}
		graphSchema = string(raw)
	}
	store, err := neo4j.New(neo4j.Config{
		URI:      cfg.Neo4jURI,
		Username: cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
		Database: cfg.Neo4jDatabase,
	}, a.Executor)
	if err != nil {
		return nil, fmt.Errorf("init graph store: %w", err)
	}
	a.closers = append(a.closers, func() {
		_ = store.Close(context.Background())
	})
	a.probes["neo4j"] = store.Ping
	return retrieval.NewStructured(ollama.NewCypherTranslator(client, graphSchema), store), nil
}

func (a *App) intentClassifier(cfg config.Config, client *ollama.Client) (ports.IntentClassifier, error) {
	var base ports.IntentClassifier
	switch cfg.ClassifierMode {
	case "", "rules":
		rules := routing.DefaultRuleSet()
		if cfg.ClassifierRulesPath != "" {
			loaded, err := routing.LoadRuleSet(cfg.ClassifierRulesPath)
			if err != nil {
				return nil, fmt.Errorf("load classifier rules: %w", err)
			}
			rules = loaded
		}
		base = routing.NewRuleClassifier(rules)
	case "llm":
		base = ollama.NewIntentClassifier(client)
	default:
		return nil, fmt.Errorf("unknown classifier mode %q", cfg.ClassifierMode)
	}

	if cfg.RedisAddr != "" {
		cache := rediscache.NewIntentCache(rediscache.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			TTL:      cfg.IntentCacheTTL,
		})
		a.closers = append(a.closers, func() {
			_ = cache.Close()
		})
		a.probes["redis"] = cache.Ping
		base = routing.NewCachedClassifier(base, cache, a.Logger)
	}
	return routing.NewSafeClassifier(base, a.Logger), nil
}

func (a *App) openPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	a.closers = append(a.closers, func() {
		_ = db.Close()
	})
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return db, nil
}

// probeDependencies logs unreachable backends. Retrieval degrades per
// strategy at request time, so startup does not fail on them.
func (a *App) probeDependencies(ctx context.Context) {
	for name, ping := range a.probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := ping(probeCtx)
		cancel()
		if err != nil {
			a.Logger.Warn("dependency_unreachable", "dependency", name, "error", err)
		}
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Worker persists answer traces consumed from the trace bus.
type Worker struct {
	Config  config.Config
	Logger  *slog.Logger
	Bus     *nats.TraceBus
	TraceUC ports.TraceRecorder
	Metrics *metrics.WorkerMetrics

	closers []func()
}

func NewWorker(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*Worker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{Config: cfg, Logger: logger, Metrics: metrics.NewWorkerMetrics(service)}
	ok := false
	defer func() {
		if !ok {
			w.Close()
		}
	}()

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	w.closers = append(w.closers, func() {
		_ = db.Close()
	})
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	executor := resilience.NewExecutor(cfg.Resilience, resilience.WithLogger(logger))
	bus, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init trace bus: %w", err)
	}
	w.closers = append(w.closers, bus.Close)

	w.Bus = bus
	w.TraceUC = usecase.NewTraceUseCase(postgres.NewTraceRepository(db))
	ok = true
	return w, nil
}

// HandleTrace records one trace with the configured timeout and metrics.
func (w *Worker) HandleTrace(ctx context.Context, trace domain.AnswerTrace) error {
	ctx, cancel := context.WithTimeout(ctx, w.Config.WorkerHandlerTimeout)
	defer cancel()

	w.Metrics.StartTrace(trace)
	start := time.Now()
	err := w.TraceUC.Record(ctx, trace)
	w.Metrics.FinishTrace(trace, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("record trace %s: %w", trace.ID, err)
	}
	return nil
}

func (w *Worker) Close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		w.closers[i]()
	}
	w.closers = nil
}
