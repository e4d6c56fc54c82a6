// Package bootstrap wires configuration, infrastructure and the tenant orchestrator into one process
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bandtrader/internal/alert"
	"bandtrader/internal/auth"
	"bandtrader/internal/core"
	"bandtrader/internal/engine/band"
	"bandtrader/internal/exchange"
	"bandtrader/internal/infrastructure/health"
	"bandtrader/internal/infrastructure/metrics"
	"bandtrader/internal/risk"
	"bandtrader/internal/safety"
	"bandtrader/internal/store"
	"bandtrader/internal/trading/orchestrator"
	"bandtrader/pkg/concurrency"
	"bandtrader/pkg/logging"
	"bandtrader/pkg/telemetry"

	"golang.org/x/sync/errgroup"
)

const serviceName = "bandtrader"

// App represents the application context and holds core dependencies.
type App struct {
	Cfg          *Config
	Logger       *logging.ZapLogger
	Telemetry    *telemetry.Telemetry
	Store        *store.SQLiteStore
	Alerts       *alert.AlertManager
	Health       *health.HealthManager
	Orchestrator *orchestrator.Orchestrator

	pool  *concurrency.WorkerPool
	specs []core.TenantSpec
}

// NewApp creates a new App instance by bootstrapping all dependencies.
func NewApp(configPath string) (*App, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// telemetry first so the logger bridges into the installed log provider
	topts := telemetry.Options{}
	if cfg.Telemetry.StdoutTraces {
		topts.TraceWriter = os.Stdout
	}
	tel, err := telemetry.Setup(serviceName, topts)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	logger, err := InitLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.App.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	a := &App{
		Cfg:       cfg,
		Logger:    logger,
		Telemetry: tel,
		Store:     st,
		Alerts:    newAlertManager(cfg, logger),
		Health:    health.NewHealthManager(logger),
	}

	factory, err := a.newEngineFactory()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:        "tenants",
		MaxWorkers:  cfg.Concurrency.MaxTenants,
		NonBlocking: true,
	}, logger)
	a.Orchestrator = orchestrator.NewOrchestrator(factory, a.pool, logger)
	a.specs = a.tenantSpecs()

	a.Health.Register("store", st.Ping)
	a.Health.Register("tenants", a.tenantsHealthy)

	return a, nil
}

func newAlertManager(cfg *Config, logger core.ILogger) *alert.AlertManager {
	am := alert.NewAlertManager(logger)
	if cfg.Alerts.SlackWebhookURL != "" {
		am.AddChannel(alert.NewSlackChannel(cfg.Alerts.SlackWebhookURL.Reveal()))
	}
	if cfg.Alerts.TelegramBotToken != "" {
		am.AddChannel(alert.NewTelegramChannel(cfg.Alerts.TelegramBotToken.Reveal(), cfg.Alerts.TelegramChatID))
	}
	return am
}

func (a *App) newEngineFactory() (*band.Factory, error) {
	fcfg, err := FactoryConfig(a.Cfg)
	if err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	tokens := make(map[string]string, len(a.Cfg.Tenants))
	for _, t := range a.Cfg.Tenants {
		tokens[t.AccountID] = t.AccessToken.Reveal()
	}
	sessions := auth.NewChainProvider(auth.NewStaticProvider(tokens), auth.NewStoreProvider(a.Store))
	brokers := exchange.NewFactory(a.Cfg, sessions, a.Logger)
	checker := safety.NewSafetyChecker(a.Logger)

	brokerFor := func(spec core.TenantSpec) (core.IBroker, error) {
		if err := checker.ValidateTradingParameters(spec, fcfg.MaxLots, fcfg.MaxBuyTrades); err != nil {
			return nil, err
		}
		b, err := brokers.NewBroker(spec)
		if err != nil {
			return nil, err
		}
		if err := checker.CheckBrokerConnectivity(context.Background(), b, spec); err != nil {
			return nil, err
		}
		return b, nil
	}

	return band.NewFactory(brokerFor, a.Store, fcfg, a.Logger).
		WithSummaryHook(a.Alerts.SessionSummary).
		WithTripHook(func(accountID string) risk.TripFunc {
			return a.Alerts.IndexGuardTripped(accountID)
		}), nil
}

// tenantSpecs returns the tenants that pass validation. Invalid ones are
// logged and skipped so the rest can trade.
func (a *App) tenantSpecs() []core.TenantSpec {
	specs := make([]core.TenantSpec, 0, len(a.Cfg.Tenants))
	for i, t := range a.Cfg.Tenants {
		if err := a.Cfg.ValidateTenant(i); err != nil {
			a.Logger.Error("Skipping invalid tenant", "account", t.AccountID, "error", err)
			continue
		}
		specs = append(specs, a.Cfg.TenantSpec(i))
	}
	return specs
}

func (a *App) tenantsHealthy(context.Context) error {
	entries := a.Orchestrator.Registry().List()
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.State != orchestrator.TenantFailed {
			return nil
		}
	}
	return errors.New("every tenant engine has failed")
}

// Runner is an interface for components that can be run and stopped gracefully.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// Run starts every tenant and the metrics server, and blocks until the
// sessions end or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	if len(a.specs) == 0 {
		return errors.New("no valid tenant configured")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// the metrics server lives only as long as the tenants
	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	runners := []Runner{RunnerFunc(func(ctx context.Context) error {
		defer cancelServe()
		return a.Orchestrator.Run(ctx, a.specs)
	})}
	if a.Cfg.Telemetry.EnableMetrics {
		srv := metrics.NewServer(a.Cfg.Telemetry.MetricsPort, a.Health, a.Orchestrator, a.Logger)
		runners = append(runners, RunnerFunc(func(context.Context) error {
			// a dead status endpoint must not stop trading
			if err := srv.Run(serveCtx); err != nil {
				a.Logger.Error("Metrics server stopped", "error", err)
			}
			return nil
		}))
	}

	a.Logger.Info("Starting application", "tenants", len(a.specs), "broker", a.Cfg.App.Broker)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range runners {
		g.Go(func() error {
			return r.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error("Application stopped with error", "error", err)
		return err
	}

	a.Logger.Info("Application shut down gracefully")
	return nil
}

// Close releases every resource NewApp acquired
func (a *App) Close() error {
	a.pool.Stop()
	a.Alerts.Wait()

	var errs []error
	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry: %w", err))
	}
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
