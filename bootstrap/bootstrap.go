// Package bootstrap wires all dependencies and starts the application.
// Configuration comes from a YAML file when one exists, and from
// TUTORQUOTA_* environment variables otherwise.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/artpar/tutorquota/adapters/clock"
	apihttp "github.com/artpar/tutorquota/adapters/http"
	"github.com/artpar/tutorquota/adapters/idgen"
	"github.com/artpar/tutorquota/adapters/metrics"
	"github.com/artpar/tutorquota/adapters/upstream"
	"github.com/artpar/tutorquota/app"
	"github.com/artpar/tutorquota/config"
	"github.com/artpar/tutorquota/domain/chat"
	"github.com/artpar/tutorquota/domain/usage"
	"github.com/artpar/tutorquota/ports"
	"github.com/artpar/tutorquota/retention"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultConfigPath is used when no --config flag is given.
const DefaultConfigPath = "tutorquota.yaml"

// shutdownTimeout bounds graceful shutdown.
const shutdownTimeout = 30 * time.Second

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Config     *config.Holder
	Stores     *Stores
	HTTPServer *http.Server
	Metrics    *metrics.Collector

	// Services
	Ledger    *app.Ledger
	Quota     *app.QuotaService
	Chat      *app.ChatService
	Retention *retention.Scheduler

	shutdownOnce sync.Once
}

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath is the YAML file to load and watch. When the file does not
	// exist the configuration is read from the environment.
	ConfigPath string

	// Version is reported by /version.
	Version string

	// Clock overrides the wall clock. Tests use a fake.
	Clock ports.Clock

	// LogOutput overrides where logs are written (default: stdout).
	LogOutput io.Writer
}

// New loads configuration and creates the application.
func New(opts Options) (*App, error) {
	if opts.ConfigPath == "" {
		opts.ConfigPath = DefaultConfigPath
	}

	cfg, err := config.LoadWithFallback(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	logger := NewLogger(cfg.Logging, opts.LogOutput)

	var holder *config.Holder
	if _, statErr := os.Stat(opts.ConfigPath); statErr == nil {
		holder, err = config.NewHolder(opts.ConfigPath, logger)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Info().Str("path", opts.ConfigPath).Msg("config file not found, using environment")
		holder = config.NewStaticHolder(cfg, logger)
	}

	return NewWithHolder(holder, opts)
}

// NewWithHolder creates the application from an already loaded configuration.
func NewWithHolder(holder *config.Holder, opts Options) (*App, error) {
	cfg := holder.Get()
	logger := NewLogger(cfg.Logging, opts.LogOutput)

	a := &App{
		Logger: logger,
		Config: holder,
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stores, err := OpenStores(ctx, cfg.Database, cfg.Quota.DefaultPlan, logger)
	if err != nil {
		return nil, err
	}
	a.Stores = stores

	ledgerDeps := app.LedgerDeps{
		Store:  stores.Usage,
		Clock:  clk,
		IDGen:  idgen.UUID{},
		Logger: logger,
	}
	if a.Metrics != nil {
		ledgerDeps.Observer = a.Metrics
	}
	a.Ledger = app.NewLedger(ledgerDeps, app.LedgerConfig{
		StoreTimeout: cfg.Quota.StoreTimeout,
	})
	a.Quota = app.NewQuotaService(a.Ledger, stores.Plans, QuotaPolicy(cfg.Quota), logger)

	var upstreamOpts []upstream.Option
	if a.Metrics != nil {
		upstreamOpts = append(upstreamOpts, upstream.WithMetrics(a.Metrics))
	}
	client := upstream.New(cfg.Upstream.BaseURL, cfg.Upstream.APIKey, cfg.Upstream.Timeout, upstreamOpts...)

	a.Chat = app.NewChatService(app.ChatDeps{
		Quota:     a.Quota,
		Completer: client,
		Clock:     clk,
		Logger:    logger,
	}, ChatOptions(cfg.Upstream))

	if cfg.Retention.Enabled {
		a.Retention, err = retention.NewScheduler(retention.Config{
			Pruner:   stores.Pruner,
			Clock:    clk,
			Metrics:  a.Metrics,
			Logger:   logger,
			Schedule: cfg.Retention.Schedule,
			Days:     cfg.Retention.Days,
		})
		if err != nil {
			stores.Close()
			return nil, err
		}
	}

	router := apihttp.NewRouter(apihttp.RouterConfig{
		Quota:          a.Quota,
		Chat:           a.Chat,
		Sessions:       stores.Sessions,
		Clock:          clk,
		Health:         apihttp.NewHealthHandler(map[string]ports.HealthChecker{"database": stores.Health}),
		CookieName:     cfg.Session.CookieName,
		Version:        opts.Version,
		RequestTimeout: cfg.Server.WriteTimeout,
		Metrics:        a.Metrics,
		MetricsPath:    cfg.Metrics.Path,
		MaxGatedBody:   upstream.MaxAudioBody,
		Gated: map[usage.Action]http.Handler{
			usage.ActionSpeech:        upstream.NewAudioForwarder(client, upstream.SpeechPath, logger),
			usage.ActionTranscription: upstream.NewAudioForwarder(client, upstream.TranscriptionPath, logger),
		},
	}, logger)

	a.HTTPServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	holder.OnChange(a.applyConfig)
	holder.OnError(func(error) {
		if a.Metrics != nil {
			a.Metrics.ConfigReloadErrors.Inc()
		}
	})

	logger.Info().
		Str("driver", stores.Driver).
		Str("default_plan", cfg.Quota.DefaultPlan).
		Int("plans", len(cfg.Quota.Plans)).
		Bool("metrics", cfg.Metrics.Enabled).
		Bool("retention", cfg.Retention.Enabled).
		Msg("application initialized")

	return a, nil
}

// applyConfig pushes the reloadable parts of a new configuration into the
// running services.
func (a *App) applyConfig(cfg *config.Config) {
	a.Quota.UpdatePolicy(QuotaPolicy(cfg.Quota))
	a.Chat.UpdateOptions(ChatOptions(cfg.Upstream))

	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	if a.Metrics != nil {
		a.Metrics.ConfigReloads.Inc()
		a.Metrics.ConfigLastReload.SetToCurrentTime()
	}
}

// Run starts the HTTP server, config watching and the retention job, and
// blocks until ctx is cancelled, a termination signal arrives or the server
// fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Config.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watching disabled")
	}
	a.Config.WatchSignals()

	g, gctx := errgroup.WithContext(ctx)

	if a.Retention != nil {
		if err := a.Retention.Start(gctx); err != nil {
			return err
		}
	}

	g.Go(func() error {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutting down")
		return a.Shutdown()
	})

	return g.Wait()
}

// Shutdown gracefully stops the application. It is safe to call more than once.
func (a *App) Shutdown() error {
	a.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if a.HTTPServer != nil {
			if err := a.HTTPServer.Shutdown(ctx); err != nil {
				a.Logger.Error().Err(err).Msg("http server shutdown error")
			}
		}

		if a.Retention != nil {
			a.Retention.Stop()
		}

		if a.Config != nil {
			a.Config.Stop()
		}

		if err := a.Stores.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}

		a.Logger.Info().Msg("shutdown complete")
	})
	return nil
}

// QuotaPolicy converts the quota section into the ledger's limit table.
func QuotaPolicy(q config.QuotaConfig) app.QuotaPolicy {
	return app.QuotaPolicy{
		Plans:       q.PlanList(),
		DefaultPlan: q.DefaultPlan,
		FailOpen:    q.FailOpenActions(),
	}
}

// ChatOptions converts the upstream section into generation options.
func ChatOptions(u config.UpstreamConfig) chat.Options {
	return chat.Options{
		Model:            u.Model,
		Temperature:      u.Temperature,
		TopP:             u.TopP,
		PresencePenalty:  u.PresencePenalty,
		FrequencyPenalty: u.FrequencyPenalty,
		MaxTokens:        u.MaxTokens,
	}
}

// NewLogger builds the process logger and sets the global level.
func NewLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stdout
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}

	return zerolog.New(out).With().Timestamp().Logger()
}
