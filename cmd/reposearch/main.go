// Command reposearch is the thin CLI frontend that wires the core
// pipeline together: config -> store -> chunker -> indexer -> retriever ->
// engine -> verifier -> dispatcher -> formatter. One binary, subcommands
// index, search, ask, status, and serve. The bidirectional line-delimited
// wire protocol a remote client would speak belongs to whatever frontend
// embeds this engine; serve exposes the same three operations shaped as
// plain HTTP instead.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/seanblong/rlmcode/internal/ai"
	"github.com/seanblong/rlmcode/internal/config"
	"github.com/seanblong/rlmcode/internal/dispatcher"
	"github.com/seanblong/rlmcode/internal/embedcache"
	"github.com/seanblong/rlmcode/internal/engine"
	"github.com/seanblong/rlmcode/internal/evidence"
	"github.com/seanblong/rlmcode/internal/formatter"
	"github.com/seanblong/rlmcode/internal/indexer"
	"github.com/seanblong/rlmcode/internal/retriever"
	"github.com/seanblong/rlmcode/internal/store"
	"github.com/seanblong/rlmcode/internal/verifier"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	sub := os.Args[1]
	os.Args = append(os.Args[:1], os.Args[2:]...)

	fs := pflag.NewFlagSet("reposearch-"+sub, pflag.ExitOnError)
	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("invalid log level %q: %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx := context.Background()

	switch sub {
	case "index":
		runIndex(ctx, cfg, logger, fs.Args())
	case "search":
		runSearch(ctx, cfg, logger, fs.Args())
	case "ask":
		runAsk(ctx, cfg, logger, fs.Args())
	case "status":
		runStatus(ctx, cfg, logger)
	case "serve":
		runServe(ctx, cfg, logger)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: reposearch <index|search|ask|status|serve> [flags] [args]")
}

// embedderFor constructs the Embedder collaborator for cfg.Provider,
// falling back to a stub so index/search/ask remain runnable without
// network credentials configured.
func embedderFor(ctx context.Context, cfg config.Specification) (ai.Embedder, error) {
	return ai.NewEmbedder(ctx, &ai.Config{
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
		Provider:   ai.Provider(cfg.Provider),
		Location:   cfg.Location,
	})
}

// modelFor constructs the reasoning Model collaborator. Stub provider
// yields a deterministic offline model; any genai-backed provider yields a
// GenAIModel using the same project/location credentials as the embedder.
func modelFor(ctx context.Context, cfg config.Specification) (engine.Model, error) {
	if ai.Provider(cfg.Provider) == ai.ProviderStub {
		return &engine.StubModel{}, nil
	}
	return engine.NewGenAIModel(ctx, engine.GenAIModelConfig{
		APIKey:    cfg.APIKey,
		ProjectID: cfg.ProjectID,
		Location:  cfg.Location,
		Model:     cfg.SummaryModel,
	})
}

func newCache(cfg config.Specification) *embedcache.Cache {
	return embedcache.New(embedcache.Config{
		MaxEntries:     cfg.Cache.MaxEntries,
		MaxMemoryBytes: int64(cfg.Cache.MaxMemoryBytes),
		TTL:            time.Duration(cfg.Cache.TTLSeconds) * time.Second,
	})
}

func openStore(ctx context.Context, cfg config.Specification, dim int) (*store.Store, error) {
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := st.CreateCollection(ctx, cfg.Collection, dim); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func runIndex(ctx context.Context, cfg config.Specification, logger zerolog.Logger, args []string) {
	root := cfg.RepoRoot
	if len(args) > 0 {
		root = args[0]
	}

	embedder, err := embedderFor(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build embedder: %v", err)
	}
	dim := embedder.Dim()
	if dim == 0 {
		dim = 768
	}

	st, err := openStore(ctx, cfg, dim)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	cache := newCache(cfg)
	opts := indexer.DefaultOptions(embedder, cache)
	opts.ChunkOptions.MaxChunkSize = cfg.Engine.MaxChunkSize

	result, err := indexer.IndexDirectory(ctx, st, cfg.Collection, root, opts)
	if err != nil {
		log.Fatalf("index directory: %v", err)
	}

	logger.Info().Int("indexed", result.Indexed).Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).Str("root", root).Msg("indexing complete")
	for _, e := range result.Errors {
		logger.Warn().Err(e).Msg("file indexing error")
	}
	fmt.Printf("indexed=%d skipped=%d errors=%d\n", result.Indexed, result.Skipped, len(result.Errors))
}

func buildRetrieverOptions(cfg config.Specification, embedder ai.Embedder, cache *embedcache.Cache) retriever.Options {
	opts := retriever.DefaultOptions(embedder, cache)
	opts.ScoreThreshold = cfg.Dispatcher.ScoreThreshold
	if cfg.Dispatcher.Oversample > 0 {
		opts.Oversample = cfg.Dispatcher.Oversample
	}
	return opts
}

func runSearch(ctx context.Context, cfg config.Specification, logger zerolog.Logger, args []string) {
	if len(args) == 0 {
		log.Fatal("search requires a query argument")
	}
	query := strings.Join(args, " ")

	embedder, err := embedderFor(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build embedder: %v", err)
	}
	st, err := openStore(ctx, cfg, embedder.Dim())
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	cache := newCache(cfg)
	opts := buildRetrieverOptions(cfg, embedder, cache)
	opts.Timeout = retriever.DefaultQuickTimeout

	results, err := retriever.HybridSearch(ctx, st, cfg.Collection, query, opts)
	if err != nil {
		log.Fatalf("hybrid search: %v", err)
	}
	logger.Info().Str("query", query).Int("results", len(results)).Msg("search complete")
	fmt.Println(formatter.EncodeMarkdown(results))
}

// buildDispatcher wires retriever, engine, evidence tracker, and verifier
// into a Dispatcher, the same assembly both "ask" and "serve" share.
func buildDispatcher(ctx context.Context, cfg config.Specification, logger zerolog.Logger) (*dispatcher.Dispatcher, *store.Store, error) {
	embedder, err := embedderFor(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("embedder: %w", err)
	}
	st, err := openStore(ctx, cfg, embedder.Dim())
	if err != nil {
		return nil, nil, fmt.Errorf("store: %w", err)
	}

	model, err := modelFor(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("model: %w", err)
	}

	cache := newCache(cfg)
	searchOpts := buildRetrieverOptions(cfg, embedder, cache)

	eng := engine.New(model, cfg.Engine.MaxDepth, cfg.Engine.TokenBudget, logger)
	tracker := evidence.New()
	v := verifier.New(tracker, verifier.DefaultOptions(), logger)

	d := dispatcher.New(st, eng, tracker, v, dispatcher.Options{
		Collection:          cfg.Collection,
		SearchOptions:       searchOpts,
		MaxRecursions:       cfg.Dispatcher.MaxRecursions,
		ConfidenceThreshold: cfg.Dispatcher.ConfidenceThreshold,
		VerifyEnabled:       true,
	}, logger)
	return d, st, nil
}

func runAsk(ctx context.Context, cfg config.Specification, logger zerolog.Logger, args []string) {
	if len(args) == 0 {
		log.Fatal("ask requires a query argument")
	}
	query := strings.Join(args, " ")

	d, st, err := buildDispatcher(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to build dispatcher: %v", err)
	}
	defer st.Close()

	result, err := d.Dispatch(ctx, query)
	if err != nil {
		log.Fatalf("dispatch: %v", err)
	}

	fmt.Println(result.Response)
	fmt.Printf("\nconfidence: %.2f (%s)  iterations: %d  tokens: %d\n",
		result.ConfidenceReport.Score, result.ConfidenceReport.Level, result.Iterations, result.TokensUsed)
	for _, w := range result.ConfidenceReport.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
	for _, e := range result.Evidence {
		fmt.Printf("evidence: %s -> %v\n", e.Claim, e.SourceChunkIDs)
	}
}

// statusResponse is the get_status payload:
// { store_connected, collection_present, chunk_count }.
type statusResponse struct {
	StoreConnected    bool `json:"store_connected"`
	CollectionPresent bool `json:"collection_present"`
	ChunkCount        int  `json:"chunk_count"`
}

func getStatus(ctx context.Context, cfg config.Specification) statusResponse {
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		return statusResponse{}
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		return statusResponse{StoreConnected: false}
	}
	stats, err := st.Stats(ctx, cfg.Collection)
	if err != nil {
		return statusResponse{StoreConnected: true, CollectionPresent: false}
	}
	return statusResponse{StoreConnected: true, CollectionPresent: true, ChunkCount: stats.PointsCount}
}

func runStatus(ctx context.Context, cfg config.Specification, logger zerolog.Logger) {
	st := getStatus(ctx, cfg)
	logger.Debug().Interface("status", st).Msg("status checked")
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Fatalf("encode status: %v", err)
	}
	fmt.Println(string(b))
}
