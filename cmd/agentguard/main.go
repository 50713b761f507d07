// Command agentguard runs the AgentGuard policy enforcement point: the
// HTTP surface, the background anomaly auditor, and the SQLite-backed
// tool registry and policy store that back both.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentguard/agentguard/internal/auditor"
	"github.com/agentguard/agentguard/internal/config"
	"github.com/agentguard/agentguard/internal/enforce"
	"github.com/agentguard/agentguard/internal/generator"
	"github.com/agentguard/agentguard/internal/httpapi"
	"github.com/agentguard/agentguard/internal/policy"
	"github.com/agentguard/agentguard/internal/registry"
	"github.com/agentguard/agentguard/internal/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("agentguard exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.Default()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	reg, err := registry.New(ctx, s, []byte(cfg.EnforcementHMACKey), logger)
	if err != nil {
		return fmt.Errorf("init registry: %w", err)
	}

	policies := policy.New(s)
	if cfg.AutoSeed {
		if err := policies.SeedDemoPolicy(ctx, logger); err != nil {
			return fmt.Errorf("seed demo policy: %w", err)
		}
	}

	pipeline := enforce.New(reg, policies, s, logger)
	aud := auditor.New(s, logger)

	var gen *generator.Generator
	if cfg.PolicyGeneratorPath != "" {
		gen = generator.New(cfg.PolicyGeneratorPath, cfg.GeminiAPIKey, cfg.GeminiModel)
	}

	mux := http.NewServeMux()
	httpapi.New(pipeline, reg, policies, aud, s, gen, logger).RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if !cfg.SkipBackgroundService {
		go aud.Run(ctx)
	} else {
		logger.Info("background auditor disabled via SKIP_BACKGROUND_SERVICES")
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("agentguard listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}
