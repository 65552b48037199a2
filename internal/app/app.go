// Copyright 2026 © The Concierge Authors
// SPDX-License-Identifier: Apache-2.0

// Package app wires configuration, the language model backend, the
// capability registry and the session host together.
package app

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jllopis/concierge/internal/builtin"
	"github.com/jllopis/concierge/pkg/capability"
	"github.com/jllopis/concierge/pkg/config"
	"github.com/jllopis/concierge/pkg/dialog"
	"github.com/jllopis/concierge/pkg/gateway"
	"github.com/jllopis/concierge/pkg/llm"
	"github.com/jllopis/concierge/pkg/resilience"
	"github.com/jllopis/concierge/pkg/telemetry"
	"github.com/jllopis/concierge/pkg/transcript"
)

// ServiceName identifies the process in telemetry.
const ServiceName = "concierge"

// OfflineReply is what the mock backend says when asked to talk.
const OfflineReply = "Je tourne sans modèle de langage pour l'instant, je ne peux pas encore t'aider."

// Options selects where configuration comes from.
type Options struct {
	ConfigPath string
	Profile    string
	Sets       []string
	Version    string

	// LogOutput receives logs; nil means os.Stderr.
	LogOutput io.Writer

	// Provider replaces the configured backend when set.
	Provider llm.Provider

	// WatchInterval is how often WatchConfig polls; zero keeps the default.
	WatchInterval time.Duration
}

// App is the assembled host.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Level    *slog.LevelVar
	Registry *capability.Registry
	Gateway  *gateway.Gateway
	Sessions *dialog.Manager
	Env      *capability.Env

	opts    Options
	metrics *telemetry.Metrics
	audit   transcript.AuditLog
	closers []func(context.Context) error
}

// New loads the configuration and builds every component.
func New(opts Options) (*App, error) {
	cfg, err := config.LoadWithOverrides(opts.ConfigPath, opts.Profile, opts.Sets)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out := opts.LogOutput
	if out == nil {
		out = os.Stderr
	}
	logger, level := telemetry.NewLevelLogger(out, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	a := &App{Config: cfg, Logger: logger, Level: level, opts: opts}

	shutdown, err := telemetry.InitWithConfig(ServiceName, opts.Version, telemetry.Config{
		Exporter:     cfg.TelemetryExporter(),
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if a.metrics, err = telemetry.NewMetrics(); err != nil {
		a.Close(context.Background())
		return nil, fmt.Errorf("init metrics: %w", err)
	}

	if err := a.build(); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.Config

	provider := a.opts.Provider
	if provider == nil {
		var err error
		if provider, err = NewProvider(cfg.LLM); err != nil {
			return err
		}
	}
	a.Gateway = gateway.New(provider,
		gateway.WithModel(cfg.LLM.Model),
		gateway.WithTimeout(cfg.LLM.Timeout),
		gateway.WithRetry(resilience.DefaultRetryConfig().WithMaxAttempts(cfg.LLM.Retries+1)),
		gateway.WithBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			FailureThreshold: cfg.Breaker.Failures,
			Cooldown:         cfg.Breaker.Cooldown,
			Name:             "llm",
		})),
		gateway.WithParams(llm.PurposeClassify, params(cfg.Gateway.Classify)),
		gateway.WithParams(llm.PurposeExtract, params(cfg.Gateway.Extract)),
		gateway.WithParams(llm.PurposeSynthesize, params(cfg.Gateway.Synthesize)),
		gateway.WithLogger(a.Logger),
		gateway.WithMetrics(a.metrics),
	)

	reg, err := builtin.Registry(cfg.Skills.Dir)
	if err != nil {
		return err
	}
	a.Registry = reg

	loc, err := cfg.Storage.Location()
	if err != nil {
		return err
	}
	a.Env = &capability.Env{
		FilesDir:     cfg.Storage.FilesDir,
		MediaDir:     cfg.Storage.MediaDir,
		CalendarPath: cfg.Storage.CalendarPath,
		MailPath:     cfg.Storage.MailPath,
		Location:     loc,
		Summarizer:   a.Gateway.SynthesizeReply,
		Logger:       a.Logger.With(slog.String("component", "capability")),
	}
	if player, err := builtin.NewExecPlayer(); err == nil {
		a.Env.Player = player
	} else {
		a.Logger.Warn("audio playback disabled", "error", err)
	}

	if cfg.Storage.AuditDB != "" {
		db, err := transcript.OpenSQLite(cfg.Storage.AuditDB)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		audit, err := transcript.NewSQLiteAudit(db)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		a.audit = audit
	}

	a.Sessions = dialog.NewManager(a.NewSession, dialog.WithIdleTimeout(cfg.Dialog.IdleTimeout))
	a.Logger.Info("concierge ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"capabilities", reg.Names())
	return nil
}

// NewSession builds a session sharing the host registry, gateway and
// environment.
func (a *App) NewSession(id string) *dialog.Session {
	opts := []dialog.Option{
		dialog.WithID(id),
		dialog.WithLogger(a.Logger),
		dialog.WithEnv(a.Env),
		dialog.WithCancelWords(a.Config.Dialog.CancelWords...),
		dialog.WithMaxAttempts(a.Config.Dialog.MaxAttempts),
		dialog.WithHistory(a.Config.Dialog.History),
		dialog.WithMetrics(a.metrics),
	}
	if a.audit != nil {
		opts = append(opts, dialog.WithAudit(a.audit))
	}
	return dialog.NewSession(a.Registry, a.Gateway, opts...)
}

// Audit returns the turn audit log, nil when disabled.
func (a *App) Audit() transcript.AuditLog {
	return a.audit
}

// WatchConfig reloads the configuration file when it changes and applies
// the new log level. Other settings need a restart.
func (a *App) WatchConfig(ctx context.Context) (*config.Watcher, error) {
	if a.opts.ConfigPath == "" {
		return nil, nil
	}
	w, err := config.NewWatcher(a.opts.ConfigPath,
		config.WithWatchProfile(a.opts.Profile),
		config.WithWatchInterval(a.opts.WatchInterval),
		config.WithWatchLogger(a.Logger))
	if err != nil {
		return nil, err
	}
	w.OnChange(func(cfg *config.Config) {
		level := telemetry.ParseLevel(cfg.Log.Level)
		if level != a.Level.Level() {
			a.Level.Set(level)
			a.Logger.Info("log level changed", "level", level.String())
		}
	})
	w.Start(ctx)
	a.closers = append(a.closers, func(context.Context) error {
		w.Stop()
		return nil
	})
	return w, nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return stderrors.Join(errs...)
}

// NewProvider builds the configured language model backend.
func NewProvider(cfg config.LLMConfig) (llm.Provider, error) {
	switch cfg.Provider {
	case "ollama":
		return llm.NewOllama(cfg.BaseURL, cfg.Model), nil
	case "openai":
		return llm.NewOpenAI(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "anthropic":
		return llm.NewAnthropic(cfg.BaseURL, cfg.APIKey, cfg.Model), nil
	case "gemini":
		return llm.NewGemini(context.Background(), cfg.BaseURL, cfg.APIKey, cfg.Model)
	case "mock":
		return llm.NewRoutingMockProvider().
			Reply(llm.PurposeClassify, dialog.NoCapability).
			Reply(llm.PurposeExtract, "AUCUN").
			Reply(llm.PurposeSynthesize, OfflineReply), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

func params(p config.ParamsConfig) gateway.Params {
	return gateway.Params{Temperature: p.Temperature, MaxTokens: p.MaxTokens}
}
