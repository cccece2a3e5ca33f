// Command frontend_service serves the chat page and relays questions to a
// separately deployed RAG service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ragdesk/backend/go/internal/config"
	httpserver "ragdesk/backend/go/pkg/http"
	"ragdesk/backend/go/pkg/logger"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Logger.Level, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.New("frontend_service")
	if cfg.Frontend.RAGServiceURL == "" {
		appLogger.Fatal("RAG_SERVICE_URL is not set")
	}

	srv, err := newServer(cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to create HTTP server")
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			appLogger.WithError(err).Fatal("HTTP server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.WithError(err).Error("graceful shutdown failed")
	}
}

// newServer wires the chat proxy and the static page onto a pkg/http server.
func newServer(cfg *config.AppConfig, log *logger.Logger) (*httpserver.Server, error) {
	client, err := newRAGClient(cfg)
	if err != nil {
		return nil, err
	}

	srv, err := httpserver.NewServer(cfg,
		httpserver.WithAddress(cfg.Frontend.Address),
		httpserver.WithLogger(log.WithField("component", "http")),
	)
	if err != nil {
		return nil, err
	}
	srv.Handle("/api/chat", newChatProxy(cfg.Frontend.RAGServiceURL, client, log))
	staticDir := cfg.Frontend.StaticDir
	if staticDir == "" {
		staticDir = "frontend"
	}
	srv.Handle("/", staticHandler(staticDir))
	return srv, nil
}

// newRAGClient always guards the upstream with a breaker, falling back to
// 5 failures / 2 successes / 30s when the middleware breaker is disabled.
func newRAGClient(cfg *config.AppConfig) (*httpserver.Client, error) {
	cb := cfg.Middleware.CircuitBreaker
	if !cb.Enabled {
		cb = config.CircuitBreakerConfig{Enabled: true, FailureThreshold: 5, SuccessThreshold: 2, Timeout: "30s"}
	}
	return httpserver.NewClient(
		config.Duration(cfg.Frontend.Timeout, 60*time.Second),
		cb,
		// 502 and 503 from the RAG service are answers (model down, index empty)
		httpserver.WithFailureStatus(func(status int) bool {
			return status == http.StatusInternalServerError || status == http.StatusGatewayTimeout
		}),
	)
}
