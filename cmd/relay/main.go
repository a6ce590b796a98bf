package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alfan-chat/relay/internal/config"
	"github.com/alfan-chat/relay/internal/handlers"
	"github.com/alfan-chat/relay/internal/i18n"
	"github.com/alfan-chat/relay/internal/middleware"
	"github.com/alfan-chat/relay/internal/services/ai"
	"github.com/alfan-chat/relay/internal/services/cache"
	"github.com/alfan-chat/relay/internal/services/memory"
	"github.com/alfan-chat/relay/internal/services/persona"
	"github.com/alfan-chat/relay/internal/services/search"
	"github.com/alfan-chat/relay/internal/stream"
	"github.com/alfan-chat/relay/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithFields(logrus.Fields{
		"models":      cfg.Gemini.Models,
		"server_key":  cfg.Gemini.APIKey != "",
		"max_retries": cfg.Gemini.MaxRetries,
	}).Info("Starting persona chat relay...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	metrics := middleware.NewMetrics()

	// Upstream
	generator := ai.NewGeminiClient(&cfg.Gemini, log)
	policy := ai.NewPolicy(&cfg.Gemini, log)
	policy.OnAttempt = func(model string, err error, elapsed time.Duration) {
		metrics.RecordUpstreamAttempt(model, ai.StatusLabel(err), elapsed)
	}
	validator := ai.NewCredentialValidator(&cfg.Gemini, &cfg.Credential, log)
	classifier := ai.NewEmotionClassifier(&cfg.Gemini, log)

	// Response cache
	cacheService := cache.NewCache(&cfg.Cache, log)
	defer cacheService.Close()

	// Memory store
	memoryStore := memory.NewStore(&cfg.Memory, log)
	if err := memoryStore.EnsureReady(ctx); err != nil {
		log.WithError(err).Fatal("Failed to initialize memory store")
	}
	defer memoryStore.Close()

	// Prompt assembly
	var searcher persona.WebSearcher
	if cfg.Search.Enabled {
		searcher = search.NewSearcher(&cfg.Search, log)
	}
	assembler := persona.NewAssembler(cfg, persona.NewTable(cfg.Persona.Default), memoryStore, searcher, log)

	orchestrator := stream.NewOrchestrator(
		generator,
		policy,
		cacheService,
		localizer,
		metrics,
		stream.OptionsFromConfig(cfg),
		log,
	)

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, metrics, log)
	go rateLimiter.Run(ctx, time.Minute)

	router := handlers.NewRouter(cfg, handlers.Handlers{
		Chat:    handlers.NewChatHandler(cfg, orchestrator, assembler, localizer, log),
		Memory:  handlers.NewMemoryHandler(memoryStore, localizer, metrics, log),
		Admin:   handlers.NewAdminHandler(cacheService, memoryStore, validator, localizer, log),
		Emotion: handlers.NewEmotionHandler(cfg, classifier, localizer, log),
	}, rateLimiter, metrics, localizer, log)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start metrics server if enabled
	var metricsServer *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		metricsServer = middleware.NewMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info("Shutdown signal received")
	case err := <-serverErr:
		log.WithError(err).Error("HTTP server failed")
	}

	// Stop background work, then drain open streams.
	cancel()
	shutdown(server, metricsServer, cfg.Server.ShutdownTimeout, log)

	log.Info("Relay stopped")
}

func shutdown(server, metricsServer *http.Server, timeout time.Duration, log *logrus.Logger) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("HTTP server did not shut down cleanly")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			log.WithError(err).Warn("Metrics server did not shut down cleanly")
		}
	}
}
