package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"github.com/meikuraledutech/btchat"
	"github.com/meikuraledutech/btchat/engine"
	"github.com/meikuraledutech/btchat/gemini"
	"github.com/meikuraledutech/btchat/genai"
	"github.com/meikuraledutech/btchat/memory"
	"github.com/meikuraledutech/btchat/observability"
	"github.com/meikuraledutech/btchat/openai"
	"github.com/meikuraledutech/btchat/postgres"
	"github.com/meikuraledutech/btchat/sqlite"
	"github.com/meikuraledutech/btchat/webhook"
)

// sessionStore is implemented by every store backend.
type sessionStore interface {
	btchat.Store
	btchat.RequestLogger
}

// app holds the wired components for one command invocation.
type app struct {
	cfg     *btchat.AppConfig
	logger  *observability.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
	store   sessionStore
	engine  *engine.Engine

	closers []func(context.Context) error
}

// providerFunc builds the completion provider once the store is open.
type providerFunc func(ctx context.Context, a *app) (btchat.Provider, error)

// newApp wires observability, the store, the provider and the engine. A nil
// newProvider builds the provider named in cfg.
func newApp(ctx context.Context, cfg *btchat.AppConfig, newProvider providerFunc) (*app, error) {
	if newProvider == nil {
		newProvider = func(ctx context.Context, a *app) (btchat.Provider, error) {
			return a.newProvider(ctx)
		}
	}

	a := &app{
		cfg:    cfg,
		logger: observability.NewLogger(cfg.Observability.Logging, os.Stderr),
	}

	var err error
	if a.metrics, err = observability.NewMetricsCollector(cfg.Observability.Metrics); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.metrics.Shutdown)

	if a.tracer, err = observability.NewTracerProvider(cfg.Observability.Tracing); err != nil {
		a.close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, a.tracer.Shutdown)

	if err := a.openStore(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}

	provider, err := newProvider(ctx, a)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	defaultMode, err := btchat.ParseMode(cfg.Engine.DefaultMode)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.engine = engine.New(a.store, provider,
		engine.WithRules(cfg.Provider.MaxTokens, cfg.Provider.Temperature),
		engine.WithDefaultMode(defaultMode),
		engine.WithLogger(a.logger),
		engine.WithMetrics(a.metrics),
		engine.WithTracer(a.tracer),
	)
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	cfg := a.cfg.Store
	switch cfg.Backend {
	case "memory", "":
		store, err := memory.New(cfg.MaxSessions, a.logger)
		if err != nil {
			return err
		}
		a.store = store

	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.store = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })

	case "postgres":
		store, err := a.openPostgres(ctx)
		if err != nil {
			return err
		}
		if err := store.CreateSchema(ctx); err != nil {
			store.Close()
			return fmt.Errorf("btchat: apply migrations: %w", err)
		}
		a.store = store

	default:
		return fmt.Errorf("btchat: unknown store backend %q", cfg.Backend)
	}

	a.logger.Debug("store opened", "backend", cfg.Backend)
	return nil
}

func (a *app) openPostgres(ctx context.Context) (*postgres.PGStore, error) {
	if a.cfg.Store.DatabaseURL == "" {
		return nil, errors.New("btchat: store.database_url (DATABASE_URL) is required for the postgres backend")
	}
	store, err := postgres.Connect(ctx, a.cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	return store, nil
}

func (a *app) newProvider(ctx context.Context) (btchat.Provider, error) {
	cfg := a.cfg.Provider

	var logs btchat.RequestLogger
	if cfg.LogRequests {
		logs = a.store
	}

	var provider btchat.Provider
	switch cfg.Name {
	case "openai", "":
		p := openai.New(openai.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		}, a.logger)
		provider = p.WithStore(logs)

	case "gemini":
		p := gemini.New(cfg.APIKey, cfg.Model).WithHTTPClient(&http.Client{Timeout: cfg.Timeout})
		if cfg.BaseURL != "" {
			p = p.WithBaseURL(cfg.BaseURL)
		}
		provider = p.WithStore(logs)

	case "genai":
		p, err := genai.New(ctx, cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, err
		}
		provider = p.WithStore(logs)

	case "webhook":
		if cfg.BaseURL == "" {
			return nil, errors.New("btchat: provider.base_url is required for the webhook provider")
		}
		provider = webhook.New(cfg.BaseURL, cfg.APIKey, cfg.Timeout).WithStore(logs)

	default:
		return nil, fmt.Errorf("btchat: unknown provider %q", cfg.Name)
	}

	if cfg.Name != "webhook" && cfg.APIKey == "" {
		a.logger.Warn("provider api key is empty", "provider", cfg.Name)
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return btchat.RateLimited(provider, limiter), nil
}

// close runs every registered closer in reverse order.
func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("shutdown", "error", err)
		}
	}
	a.closers = nil
}
