// Command treeline serves a document QA API.
//
// Documents are chunked into a size hierarchy, leaf chunks are embedded, and
// queries run auto-merging retrieval over the per-document store before the
// LLM synthesizes an answer from the retrieved context.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	treeline "github.com/treelinehq/treeline"
	"github.com/treelinehq/treeline/ingest"
	"github.com/treelinehq/treeline/internal/api"
	"github.com/treelinehq/treeline/internal/config"
	"github.com/treelinehq/treeline/observer"
	"github.com/treelinehq/treeline/provider/gemini"
	"github.com/treelinehq/treeline/store/sqlite"
)

func main() {
	// 1. Load config
	cfg := config.Load(os.Getenv("TREELINE_CONFIG"))

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// 2. Create providers
	chatLLM := treeline.WithRetry(
		gemini.New(cfg.LLM.APIKey, cfg.LLM.Model),
		treeline.RetryLogger(logger))
	if cfg.LLM.RPM > 0 || cfg.LLM.TPM > 0 {
		chatLLM = treeline.WithRateLimit(chatLLM, treeline.RPM(cfg.LLM.RPM), treeline.TPM(cfg.LLM.TPM))
	}
	embedding := treeline.WithEmbeddingRetry(
		gemini.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions),
		treeline.RetryLogger(logger))

	// 3. Observability (optional)
	var shutdownOTEL func(context.Context) error
	if cfg.Observer.Enabled {
		inst, shutdown, err := observer.Init(context.Background())
		if err != nil {
			log.Fatalf("observer init: %v", err)
		}
		shutdownOTEL = shutdown
		chatLLM = observer.WrapProvider(chatLLM, cfg.LLM.Model, inst)
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
	}

	// 4. Create pipeline + backend + library
	pipeline, err := ingest.NewPipeline(cfg.Ingest.ChunkSizes, ingest.WithPipelineLogger(logger))
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	backend := sqlite.NewBackend(sqlite.WithLogger(logger))

	lib, err := treeline.NewLibrary(cfg.Storage.DataDir, pipeline, backend, chatLLM, embedding,
		treeline.WithLogger(logger),
		treeline.WithEmbedBatchSize(cfg.Embedding.BatchSize),
		treeline.WithEmbedConcurrency(cfg.Embedding.Concurrency),
		treeline.WithRetrieverOptions(
			treeline.WithInitialK(cfg.Retrieval.TopK),
			treeline.WithMergeThreshold(float32(cfg.Retrieval.MergeThreshold)),
		),
		treeline.WithSynthesizerOptions(
			treeline.WithContextBudget(cfg.Synthesizer.ContextBudget),
		),
	)
	if err != nil {
		log.Fatalf("library: %v", err)
	}

	// 5. HTTP server
	apiServer := api.NewServer(lib, api.WithServerLogger(logger))
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  30 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("treeline: listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("treeline: shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		logger.Error("treeline: shutdown error", "error", err)
	}

	apiServer.Close()
	if err := lib.Close(); err != nil {
		logger.Error("treeline: library close error", "error", err)
	}
	if shutdownOTEL != nil {
		if err := shutdownOTEL(shutCtx); err != nil {
			logger.Error("treeline: otel shutdown error", "error", err)
		}
	}
	logger.Info("treeline: stopped")
}
