package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tmazur/legalrag"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// A local .env is convenient in development; ignore its absence.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	cfg := legalrag.DefaultConfig()
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			slog.Error("reading config", "error", err)
			os.Exit(1)
		}
		// yaml.v3 handles JSON input too.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			slog.Error("parsing config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}

	applyEnvOverrides(&cfg)

	apiKey := os.Getenv("LEGALRAG_API_KEY")
	corsOrigins := os.Getenv("LEGALRAG_CORS_ORIGINS")

	pipeline, err := legalrag.New(cfg)
	if err != nil {
		slog.Error("creating pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	h := newHandler(pipeline)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /ingest/directory", h.handleIngestDirectory)
	mux.HandleFunc("POST /ingest/api", h.handleIngestAPI)
	mux.HandleFunc("POST /search", h.handleSearch)
	mux.HandleFunc("POST /ask", h.handleAsk)
	mux.HandleFunc("POST /documents/{id}/supersede", h.handleSupersede)
	mux.HandleFunc("POST /documents/{id}/abolish", h.handleAbolish)
	mux.HandleFunc("GET /documents/{id}/current", h.handleResolveCurrent)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // ingestion responses can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// applyEnvOverrides lets deployment environments adjust config without a
// file. Only the operationally interesting knobs are exposed.
func applyEnvOverrides(cfg *legalrag.Config) {
	if v := os.Getenv("LEGALRAG_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEGALRAG_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("LEGALRAG_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("LEGALRAG_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("LEGALRAG_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("LEGALRAG_GEN_PROVIDER"); v != "" {
		cfg.Generation.Provider = v
	}
	if v := os.Getenv("LEGALRAG_GEN_MODEL"); v != "" {
		cfg.Generation.Model = v
	}
	if v := os.Getenv("LEGALRAG_GEN_BASE_URL"); v != "" {
		cfg.Generation.BaseURL = v
	}
	if v := os.Getenv("LEGALRAG_GEN_API_KEY"); v != "" {
		cfg.Generation.APIKey = v
	}
	if v := os.Getenv("LEGALRAG_INDEX_BACKEND"); v != "" {
		cfg.Index.Backend = v
	}
	if v := os.Getenv("LEGALRAG_QDRANT_URL"); v != "" {
		cfg.Index.QdrantURL = v
	}
	if v := os.Getenv("LEGALRAG_QDRANT_API_KEY"); v != "" {
		cfg.Index.QdrantAPIKey = v
	}
	if v := os.Getenv("LEGALRAG_SOURCE_API_URL"); v != "" {
		cfg.SourceAPI.BaseURL = v
	}
	if v := os.Getenv("LEGALRAG_SOURCE_API_KEY"); v != "" {
		cfg.SourceAPI.APIKey = v
	}
	if v := os.Getenv("LEGALRAG_FILES_TYPE"); v != "" {
		cfg.Files.Type = v
	}
	if v := os.Getenv("LEGALRAG_FILES_PATH"); v != "" {
		cfg.Files.LocalPath = filepath.Clean(v)
	}
	if v := os.Getenv("LEGALRAG_S3_BUCKET"); v != "" {
		cfg.Files.S3Bucket = v
	}
	if v := os.Getenv("LEGALRAG_S3_REGION"); v != "" {
		cfg.Files.S3Region = v
	}

	// Fallback: well-known provider env vars for API keys.
	if cfg.Embedding.APIKey == "" && strings.EqualFold(cfg.Embedding.Provider, "openai") {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Generation.APIKey == "" && strings.EqualFold(cfg.Generation.Provider, "openai") {
		cfg.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}
