// Package bootstrap wires all dependencies and starts the service.
// Configuration comes from a YAML file with METERGATE_* environment
// overrides; the file is watched for hot reload of the tunable fields.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/artpar/metergate/adapters/clock"
	"github.com/artpar/metergate/adapters/idgen"
	"github.com/artpar/metergate/adapters/memory"
	"github.com/artpar/metergate/adapters/metrics"
	"github.com/artpar/metergate/adapters/notify"
	"github.com/artpar/metergate/adapters/sqlite"
	"github.com/artpar/metergate/app"
	"github.com/artpar/metergate/config"
	"github.com/artpar/metergate/ports"
	"github.com/artpar/metergate/web"
)

// App represents the running application.
type App struct {
	Logger     zerolog.Logger
	Holder     *config.Holder
	DB         *sqlite.DB
	Counters   *memory.CounterStore
	Metrics    *metrics.Collector
	HTTPServer *http.Server

	// Services
	Usage       *app.UsageService
	Occurrences *app.OccurrenceAggregator

	scheduler *app.FlushScheduler
	webhook   *notify.Webhook
	plans     planSeeder
}

// planSeeder lets config reloads push plan changes into whichever
// catalog backs the deployment.
type planSeeder interface {
	apply(ctx context.Context, plans []config.PlanConfig) error
}

// Options provides optional configuration for application initialization.
type Options struct {
	// ConfigPath is the YAML config file. Empty means environment
	// variables only, with no hot reload.
	ConfigPath string

	// Version is reported by the /version endpoint.
	Version string

	// DisableWatch turns off config hot reload even when a config
	// file is present.
	DisableWatch bool
}

// New creates and initializes the application.
func New(configPath string) (*App, error) {
	return NewWithOptions(Options{ConfigPath: configPath})
}

// NewWithOptions creates and initializes the application with custom options.
func NewWithOptions(opts Options) (*App, error) {
	a := &App{}

	cfg, err := a.initConfig(opts.ConfigPath, opts.DisableWatch)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	a.Logger = setupLogger(cfg.Logging)
	a.Logger.Info().Msg("initializing metergate")

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
		a.Logger.Info().Msg("prometheus metrics enabled")
	}

	a.Counters = memory.NewCounterStore(memory.CounterStoreConfig{
		NumShards:       cfg.Counters.Shards,
		CleanupInterval: cfg.Counters.CleanupInterval,
	})

	orgs, projects, planCatalog, stacks, err := a.initStores(cfg)
	if err != nil {
		a.Counters.Close()
		return nil, fmt.Errorf("init stores: %w", err)
	}

	bus := a.initNotifications(cfg.Notifications)

	a.Usage = app.NewUsageService(app.UsageDeps{
		Counters: a.Counters,
		Orgs:     orgs,
		Projects: projects,
		Plans:    planCatalog,
		Bus:      bus,
		Clock:    clock.Real{},
		IDGen:    idgen.UUID{},
		Logger:   a.Logger,
		Metrics:  a.Metrics,
	})

	a.Occurrences = app.NewOccurrenceAggregator(app.OccurrenceDeps{
		Counters: a.Counters,
		Stacks:   stacks,
		Clock:    clock.Real{},
		Logger:   a.Logger,
		Metrics:  a.Metrics,
	}, app.OccurrenceConfig{
		Dwell:    cfg.Flush.Dwell,
		MinBatch: cfg.Flush.MinBatch,
	})

	a.scheduler = app.NewFlushScheduler(a.Occurrences, cfg.Flush.Interval, a.Logger)

	a.initHTTPServer(cfg, orgs, projects, opts.Version)
	a.watchConfig()

	return a, nil
}

// initConfig loads the config, through a Holder when a file path is
// given so the tunable fields can reload at runtime.
func (a *App) initConfig(path string, disableWatch bool) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	if _, err := os.Stat(path); err != nil {
		return config.LoadFromEnv()
	}
	if disableWatch {
		return config.Load(path)
	}

	holder, err := config.NewHolder(path, zerolog.New(os.Stdout).With().Timestamp().Logger())
	if err != nil {
		return nil, err
	}
	a.Holder = holder
	return holder.Get(), nil
}

// sqlitePlanSeeder re-seeds config plans into the plans table.
type sqlitePlanSeeder struct {
	store *sqlite.PlanStore
}

func (s *sqlitePlanSeeder) apply(ctx context.Context, plans []config.PlanConfig) error {
	for _, pc := range plans {
		if err := s.store.Upsert(ctx, planFromConfig(pc)); err != nil {
			return fmt.Errorf("seed plan %s: %w", pc.ID, err)
		}
	}
	return nil
}

// memoryPlanSeeder replaces plans in the in-memory catalog.
type memoryPlanSeeder struct {
	catalog *memory.PlanCatalog
}

func (m *memoryPlanSeeder) apply(ctx context.Context, plans []config.PlanConfig) error {
	for _, pc := range plans {
		m.catalog.Put(planFromConfig(pc))
	}
	return nil
}

func planFromConfig(pc config.PlanConfig) ports.Plan {
	return ports.Plan{
		ID:                pc.ID,
		Name:              pc.Name,
		MaxEventsPerMonth: pc.MaxEventsPerMonth,
		ThrottlingEnabled: pc.ThrottlingEnabled,
		IsDefault:         pc.IsDefault,
		Enabled:           true,
	}
}

func (a *App) initStores(cfg *config.Config) (ports.OrganizationStore, ports.ProjectStore, ports.PlanCatalog, ports.StackStore, error) {
	switch cfg.Database.Driver {
	case "memory":
		catalog := memory.NewPlanCatalog(nil)
		a.plans = &memoryPlanSeeder{catalog: catalog}
		if err := a.plans.apply(context.Background(), cfg.Plans); err != nil {
			return nil, nil, nil, nil, err
		}
		a.Logger.Info().Msg("using in-memory stores")
		return memory.NewOrganizationStore(), memory.NewProjectStore(), catalog, memory.NewStackStore(), nil

	default:
		db, err := sqlite.Open(cfg.Database.DSN)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, nil, nil, nil, fmt.Errorf("migrate: %w", err)
		}
		a.DB = db

		planStore := sqlite.NewPlanStore(db)
		a.plans = &sqlitePlanSeeder{store: planStore}
		if err := a.plans.apply(context.Background(), cfg.Plans); err != nil {
			db.Close()
			return nil, nil, nil, nil, err
		}

		a.Logger.Info().Str("dsn", cfg.Database.DSN).Msg("database initialized")
		return sqlite.NewOrganizationStore(db), sqlite.NewProjectStore(db), planStore, sqlite.NewStackStore(db), nil
	}
}

func (a *App) initNotifications(cfg config.NotificationsConfig) ports.NotificationBus {
	switch cfg.Mode {
	case "webhook":
		a.webhook = notify.NewWebhook(cfg.Webhook.URL, cfg.Webhook.Secret, a.Logger)
		a.Logger.Info().Str("url", cfg.Webhook.URL).Msg("webhook notifications enabled")
		return a.webhook
	case "log":
		return notify.NewLog(a.Logger)
	default:
		return notify.NewLog(zerolog.Nop())
	}
}

func (a *App) initHTTPServer(cfg *config.Config, orgs ports.OrganizationStore, projects ports.ProjectStore, version string) {
	handler := web.NewHandler(web.Deps{
		Usage:       a.Usage,
		Occurrences: a.Occurrences,
		Orgs:        orgs,
		Projects:    projects,
		Clock:       clock.Real{},
		IDGen:       idgen.UUID{},
		Logger:      a.Logger,
		Version:     version,
	})

	routerCfg := web.RouterConfig{MetricsPath: cfg.Metrics.Path}
	if a.Metrics != nil {
		routerCfg.MetricsHandler = promhttp.Handler()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	a.HTTPServer = &http.Server{
		Addr:         addr,
		Handler:      handler.RouterWithConfig(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	a.Logger.Info().Str("addr", addr).Msg("http server configured")
}

// watchConfig wires config hot reload: plan changes re-seed the
// catalog, flush tuning is pushed into the aggregator.
func (a *App) watchConfig() {
	if a.Holder == nil {
		return
	}

	a.Holder.OnChange(func(cfg *config.Config) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := a.plans.apply(ctx, cfg.Plans); err != nil {
			a.Logger.Error().Err(err).Msg("plan reload failed")
		} else {
			a.Logger.Info().Int("count", len(cfg.Plans)).Msg("plans reloaded")
		}

		a.Occurrences.SetTuning(cfg.Flush.Dwell, cfg.Flush.MinBatch)

		if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(level)
		}
	})

	if err := a.Holder.WatchFile(); err != nil {
		a.Logger.Warn().Err(err).Msg("config file watch unavailable")
	}
	a.Holder.WatchSignals()
}

// Run starts the HTTP server and flush scheduler and blocks until
// shutdown.
func (a *App) Run() error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().
			Str("addr", a.HTTPServer.Addr).
			Msg("starting http server")
		if err := a.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	return a.Shutdown()
}

// Shutdown gracefully stops the application. The flush scheduler is
// closed first so its final full flush lands before the stores go away.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.scheduler != nil {
		if err := a.scheduler.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("flush scheduler close error")
		}
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
	}

	if a.webhook != nil {
		if err := a.webhook.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("webhook close error")
		}
	}

	if a.Counters != nil {
		if err := a.Counters.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("counter store close error")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
		}
	}

	if a.Holder != nil {
		a.Holder.Stop()
	}

	a.Logger.Info().Msg("shutdown complete")
	return nil
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		return zerolog.New(output).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
