package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nexus-core/nexus/internal/agent"
	"github.com/nexus-core/nexus/internal/agent/providers"
	"github.com/nexus-core/nexus/internal/config"
	"github.com/nexus-core/nexus/internal/costguard"
	"github.com/nexus-core/nexus/internal/httpapi"
	"github.com/nexus-core/nexus/internal/observability"
	"github.com/nexus-core/nexus/internal/sessions"
	"github.com/nexus-core/nexus/internal/tools/policy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func buildServeCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Nexus HTTP API and agentic runtime",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "nexus.yaml", "path to config file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "enable debug logging")
	return cmd
}

// runServe wires the engine's pieces (session store, LLM provider, tool
// registry, cost guard, HTTP API) and runs the server until ctx is
// cancelled, draining in-flight requests on shutdown. Grounded on the
// teacher's handlers_serve.go: signal-driven graceful shutdown with a
// bounded drain window.
func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	logger.Info("loading config", "path", configPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store, err := newSessionStore(cfg)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}

	provider, err := newLLMProvider(cfg)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	registry := agent.NewToolRegistry()
	resolver := policy.NewResolver()
	approvals := agent.NewApprovalGate()

	guard := costguard.New(costguard.Config{
		MaxTokensPerTurn:     200_000,
		MaxTurnsPerSession:   200,
		MaxRequestsPerMinute: 60,
		MaxRequestsPerHour:   1000,
	})

	srv := httpapi.NewServer(nil, store, approvals, registry, resolver)
	srv.Logger = logger
	srv.Webhooks = httpapi.WebhookConfig{
		ChatwootSecret:      os.Getenv("CHATWOOT_WEBHOOK_SECRET"),
		WhatsAppVerifyToken: os.Getenv("WHATSAPP_VERIFY_TOKEN"),
	}
	if secret := cfg.Auth.JWTSecret; secret != "" {
		srv.Auth = httpapi.NewTokenVerifier(secret, cfg.Auth.TokenExpiry)
	}

	srv.Metrics = observability.NewMetrics()
	guard.Metrics = srv.Metrics
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "nexus",
		ServiceVersion: version,
		Endpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	})
	srv.Tracer = tracer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	loop := agent.NewAgenticLoop(provider, registry, store, &agent.LoopConfig{
		MaxIterations: 10,
		MaxTokens:     4096,
		ApprovalGate:  approvals,
		CostGuard:     guard,
		OnTrace:       srv.OnTrace(),
	})
	srv.Loop = loop
	if srv.Metrics != nil {
		loop.Executor().Recorder = srv.Metrics
	}

	watcher, err := config.Watch(configPath, func(reloaded *config.Config, err error) {
		if err != nil {
			logger.Error("config reload failed, keeping last-good config", "error", err)
			return
		}
		logger.Info("config reloaded", "path", configPath)
		srv.Webhooks = httpapi.WebhookConfig{
			ChatwootSecret:      os.Getenv("CHATWOOT_WEBHOOK_SECRET"),
			WhatsAppVerifyToken: os.Getenv("WHATSAPP_VERIFY_TOKEN"),
		}
		if secret := reloaded.Auth.JWTSecret; secret != "" {
			srv.Auth = httpapi.NewTokenVerifier(secret, reloaded.Auth.TokenExpiry)
		} else {
			srv.Auth = nil
		}
	})
	if err != nil {
		logger.Warn("config hot-reload unavailable", "error", err)
	} else {
		defer watcher.Close()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	if cfg.Server.HTTPPort == 0 {
		addr = fmt.Sprintf("%s:8080", orDefault(cfg.Server.Host, "0.0.0.0"))
	}
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	if cfg.Server.MetricsPort != 0 {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("GET /metrics", promhttp.Handler())
		metricsSrv := &http.Server{
			Addr:    fmt.Sprintf("%s:%d", orDefault(cfg.Server.Host, "0.0.0.0"), cfg.Server.MetricsPort),
			Handler: metricsMux,
		}
		go func() {
			logger.Info("metrics server listening", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				approvals.SweepExpired(ctx)
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func newSessionStore(cfg *config.Config) (sessions.Store, error) {
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return sessions.NewMemoryStore(), nil
	}
	return sessions.NewCockroachStoreFromDSN(cfg.Database.URL, nil)
}

// newLLMProvider picks the configured default provider, matching the
// teacher's provider-per-channel selection but scoped to a single default
// since this engine has one agentic loop per server, not one per channel.
func newLLMProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	providerCfg := cfg.LLM.Providers[cfg.LLM.DefaultProvider]

	switch name {
	case "", "anthropic":
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       apiKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "openai":
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return providers.NewOpenAIProvider(apiKey), nil
	case "google":
		apiKey := providerCfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("GOOGLE_API_KEY")
		}
		return providers.NewGoogleProvider(providers.GoogleConfig{APIKey: apiKey})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}
