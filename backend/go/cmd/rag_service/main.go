package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ragdesk/backend/go/internal/config"
	"ragdesk/backend/go/internal/rag_service/api"
	"ragdesk/backend/go/internal/rag_service/service"
	httpserver "ragdesk/backend/go/pkg/http"
	"ragdesk/backend/go/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// 1. 加载 .env 与配置
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}
	cfg, err := config.LoadConfig(configPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化 Logger
	if err := logger.Init(cfg.Logger.Level, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}
	appLogger := logger.New("rag_service")
	appLogger.WithFields(map[string]interface{}{
		"backend":   cfg.Index.Backend,
		"embedding": cfg.Embedding.Provider + "/" + cfg.Embedding.Model,
		"llm":       cfg.LLM.Provider + "/" + cfg.LLM.Model,
	}).Info("starting RAG service")

	// 3. 构建应用上下文 (索引、模型、流水线)
	ctx := context.Background()
	svc, err := service.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to initialise RAG service")
	}
	defer func() {
		if err := svc.Close(); err != nil {
			appLogger.WithError(err).Error("failed to close RAG service cleanly")
		}
	}()

	if st, err := svc.Status(ctx); err == nil && !st.Ready {
		appLogger.Warn("index is empty; queries answer 'not ready' until documents are ingested")
	}

	// 4. 注册 HTTP 路由
	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(svc, appLogger.WithField("component", "api"), cfg.Server.UploadLimitMB)
	router := api.NewRouter(handler, api.RouterOptions{
		Metrics:   svc.Metrics().Handler(),
		StaticDir: cfg.Server.StaticDir,
	})

	srv, err := httpserver.NewServer(cfg,
		httpserver.WithHandler(router),
		httpserver.WithLogger(appLogger.WithField("component", "http")),
	)
	if err != nil {
		appLogger.WithError(err).Fatal("failed to create HTTP server")
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	// 5. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			appLogger.WithError(err).Error("HTTP server stopped")
		}
		return
	case sig := <-quit:
		appLogger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("graceful shutdown failed")
	}
	appLogger.Info("server stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}
