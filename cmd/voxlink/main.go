package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/voxlink/voxlink/internal/config"
	"github.com/voxlink/voxlink/internal/httpapi"
	"github.com/voxlink/voxlink/internal/hub"
	"github.com/voxlink/voxlink/internal/observability"
	"github.com/voxlink/voxlink/internal/persona"
	"github.com/voxlink/voxlink/internal/protocol"
	"github.com/voxlink/voxlink/internal/realtime"
	"github.com/voxlink/voxlink/internal/relay"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	catalog, err := persona.Load(ctx, cfg.DatabaseURL, cfg.PersonaCatalogPath)
	if err != nil {
		log.Fatalf("persona catalog load failed: %v", err)
	}
	logger.Info("persona catalog loaded", zap.Int("personas", catalog.Len()))

	upstreamCfg := realtime.Config{
		APIKey: cfg.OpenAIAPIKey,
		URL:    cfg.OpenAIRealtimeURL,
		Model:  cfg.OpenAIModel,
	}
	if err := upstreamCfg.Validate(); err != nil {
		log.Fatalf("realtime config invalid: %v", err)
	}

	registry := realtime.NewRegistry(func() (*realtime.Client, error) {
		return realtime.NewClient(upstreamCfg, logger, metrics)
	}, metrics)

	clients := hub.NewManager(logger, metrics)
	orchestrator := relay.NewOrchestrator(logger, metrics, catalog,
		relay.RegistrySessions{Registry: registry}, clients)

	api := httpapi.New(cfg, logger, metrics, catalog, clients, orchestrator)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	clients.Broadcast(protocol.ConversationEnded{
		Type:    protocol.TypeConversationEnded,
		Message: "Server shutting down",
	})
	for _, id := range clients.ClientIDs() {
		orchestrator.CleanupClient(id)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		httpServer.Close()
	}

	logger.Info("shutdown complete")
}
