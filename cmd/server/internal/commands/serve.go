package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/authdemo/internal/config"
	"github.com/wolfeidau/authdemo/internal/logger"
	"github.com/wolfeidau/authdemo/internal/provider"
	"github.com/wolfeidau/authdemo/internal/session"
	"github.com/wolfeidau/authdemo/internal/store"
	memorystore "github.com/wolfeidau/authdemo/internal/store/memory"
	postgresstore "github.com/wolfeidau/authdemo/internal/store/postgres"
	sqlitestore "github.com/wolfeidau/authdemo/internal/store/sqlite"
	"github.com/wolfeidau/authdemo/internal/telemetry"
	"github.com/wolfeidau/authdemo/internal/web"
)

type ServeCmd struct {
	// Server configuration
	Listen string `help:"HTTP server listen address" default:"127.0.0.1:3000" env:"AUTHDEMO_LISTEN"`
	Cert   string `help:"path to TLS cert file, serves plain HTTP when empty" default:"" env:"AUTHDEMO_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"AUTHDEMO_TLS_KEY"`

	// Public origin used for OAuth callbacks
	BaseURL string `help:"public base URL of the site, expected in production; derived from the request Host and X-Forwarded-Proto when empty" default:"" env:"AUTHDEMO_BASE_URL"`

	// CORS configuration
	CORSOrigins []string `help:"allowed CORS origins for the JSON API" default:"" env:"AUTHDEMO_CORS_ORIGINS"`

	// Session cookies
	SecureCookies bool `help:"mark session cookies Secure (required behind HTTPS)" default:"false" env:"AUTHDEMO_SECURE_COOKIES"`

	// Identity provider client
	SettingsCacheDir string `help:"directory for the provider settings HTTP cache, in memory when empty" default:"" env:"AUTHDEMO_SETTINGS_CACHE_DIR"`
	ProviderRetries  uint   `help:"attempts for idempotent provider reads" default:"3" env:"AUTHDEMO_PROVIDER_RETRIES"`

	// Telemetry
	Tracing     bool    `help:"enable tracing and metrics export" default:"false" env:"AUTHDEMO_TRACING"`
	SampleRatio float64 `help:"fraction of root traces to sample" default:"1.0" env:"AUTHDEMO_TRACE_SAMPLE_RATIO"`

	// Auth event store
	StoreType      string             `help:"auth event store type (memory, postgres or sqlite)" default:"memory" env:"AUTHDEMO_STORE_TYPE" enum:"memory,postgres,sqlite"`
	PostgresStore  PostgresStoreFlags `embed:"" prefix:"postgres-"`
	SQLitePath     string             `help:"path of the SQLite auth event database" default:"authdemo.db" env:"AUTHDEMO_SQLITE_PATH"`
	EventRetention time.Duration      `help:"how long auth events are kept, 0 keeps them forever" default:"720h" env:"AUTHDEMO_EVENT_RETENTION"`
}

type PostgresStoreFlags struct {
	// Connection Configuration
	ConnString string `help:"PostgreSQL connection string" env:"POSTGRES_CONNECTION_STRING"`

	// Connection Pool Configuration
	MaxConns        int32 `help:"maximum number of connections in pool" default:"10"`
	MinConns        int32 `help:"minimum number of connections in pool" default:"1"`
	MaxConnLifetime int32 `help:"maximum connection lifetime in seconds" default:"3600"`
	MaxConnIdleTime int32 `help:"maximum connection idle time in seconds" default:"1800"`

	// Migration Configuration
	AutoMigrate bool `help:"run database migrations on startup" default:"false" env:"AUTHDEMO_POSTGRES_AUTO_MIGRATE"`
}

func (s *PostgresStoreFlags) validate() error {
	if s.ConnString == "" {
		return errors.New("PostgreSQL connection string is required (--postgres-conn-string or POSTGRES_CONNECTION_STRING)")
	}
	return nil
}

func (c *ServeCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS requires both --cert and --key")
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return errors.New("--sample-ratio must be between 0 and 1")
	}
	if c.EventRetention < 0 {
		return errors.New("--event-retention must not be negative")
	}
	if c.ProviderRetries == 0 {
		return errors.New("--provider-retries must be at least 1")
	}
	return nil
}

func (c *ServeCmd) warnUnsafeDefaults(log zerolog.Logger) {
	if c.BaseURL == "" {
		log.Warn().Msg("No --base-url set, OAuth redirect URLs trust the request Host and X-Forwarded-Proto headers")
	}
}

func (c *ServeCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting server")
	c.warnUnsafeDefaults(log)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, telemetry.Config{
			ServiceName: "authdemo-server",
			Version:     globals.Version,
			SampleRatio: c.SampleRatio,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	api, err := provider.New(cfg,
		provider.WithHTTPClient(provider.NewHTTPClient(cfg.Timeout, c.Tracing)),
		provider.WithCachingHTTPClient(provider.NewCachingHTTPClient(c.SettingsCacheDir, cfg.Timeout)),
		provider.WithRetry(c.ProviderRetries, func() backoff.BackOff { return backoff.NewExponentialBackOff() }),
	)
	if err != nil {
		return err
	}

	cookieOpts := session.DefaultCookieOptions()
	cookieOpts.Secure = c.SecureCookies

	factory, err := session.NewServerFactory(cfg, api, session.WithCookieOptions(cookieOpts))
	if err != nil {
		return err
	}

	events, err := c.createAuthEventStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := events.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close auth event store")
		}
	}()

	if c.EventRetention > 0 {
		go pruneAuthEvents(ctx, events, c.EventRetention)
	}

	siteOpts := []web.Option{web.WithCORSOrigins(nonEmpty(c.CORSOrigins)...)}
	if c.BaseURL != "" {
		siteOpts = append(siteOpts, web.WithBaseURL(c.BaseURL))
	}

	site, err := web.NewSite(factory, events, siteOpts...)
	if err != nil {
		return fmt.Errorf("failed to create site: %w", err)
	}

	srv := configureHTTPServer(c.Listen, logger.HTTPRequests(log)(site.Handler()))
	srv.BaseContext = func(_ net.Listener) context.Context { return ctx }

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", c.Listen).
			Str("provider", cfg.URL).
			Str("store", c.StoreType).
			Bool("tls", c.Cert != "").
			Msg("Starting HTTP server")

		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// createAuthEventStore opens the configured auth event store.
func (c *ServeCmd) createAuthEventStore(ctx context.Context) (store.AuthEventStore, error) {
	log := zerolog.Ctx(ctx)

	switch c.StoreType {
	case "postgres":
		if err := c.PostgresStore.validate(); err != nil {
			return nil, fmt.Errorf("failed to validate postgres flags: %w", err)
		}

		pool, err := postgresstore.NewPool(ctx, &postgresstore.PoolConfig{
			ConnString:      c.PostgresStore.ConnString,
			ApplicationName: "authdemo-server",
			MaxConns:        c.PostgresStore.MaxConns,
			MinConns:        c.PostgresStore.MinConns,
			MaxConnLifetime: c.PostgresStore.MaxConnLifetime,
			MaxConnIdleTime: c.PostgresStore.MaxConnIdleTime,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create auth event store pool: %w", err)
		}

		events, err := postgresstore.NewAuthEventStore(ctx, pool, postgresstore.AuthEventStoreConfig{
			AutoMigrate: c.PostgresStore.AutoMigrate,
		})
		if err != nil {
			pool.Close()
			return nil, err
		}

		log.Info().Msg("Using PostgreSQL auth event store")
		return events, nil

	case "sqlite":
		events, err := sqlitestore.Open(c.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite auth event store: %w", err)
		}

		log.Info().Str("path", c.SQLitePath).Msg("Using SQLite auth event store")
		return events, nil

	default:
		log.Info().Msg("Using in-memory auth event store")
		return memorystore.NewAuthEventStore(), nil
	}
}

// pruneAuthEvents deletes events older than retention once an hour until ctx is done.
func pruneAuthEvents(ctx context.Context, events store.AuthEventStore, retention time.Duration) {
	log := zerolog.Ctx(ctx)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		deleted, err := events.DeleteBefore(ctx, time.Now().Add(-retention))
		if err != nil {
			log.Warn().Err(err).Msg("Failed to prune auth events")
		} else if deleted > 0 {
			log.Info().Int64("deleted", deleted).Msg("Pruned auth events")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func nonEmpty(values []string) []string {
	out := values[:0:0]
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
