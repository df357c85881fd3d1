package daemon

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/clud-dev/clud/internal/appconfig"
	"github.com/clud-dev/clud/internal/applog"
	"github.com/clud-dev/clud/internal/cron"
	"github.com/clud-dev/clud/internal/instance"
	"github.com/clud-dev/clud/internal/pool"
	"github.com/clud-dev/clud/internal/registry"
	"github.com/clud-dev/clud/internal/router"
	"github.com/clud-dev/clud/internal/store"
	"github.com/clud-dev/clud/internal/subsystem"
)

// Daemon owns every in-memory component for the process lifetime:
// the Pool, Router, Registry, Scheduler, and Subsystem Manager.
type Daemon struct {
	cfg    *appconfig.Config
	logger *log.Logger
	logCl  interface{ Close() error }

	startedAt time.Time
	listener  net.Listener
	httpSrv   *http.Server

	pool       *pool.Pool
	router     *router.Router
	registry   *registry.Registry
	scheduler  *cron.Scheduler
	subsystems *subsystem.Manager

	cronStore *store.CronStore

	agentFactory instance.Factory

	shutdownOnce sync.Once
}

// FactoryBuilder constructs the subsystem factory table once the
// Pool, Router, and agent Factory exist, so subsystems (e.g. the
// Telegram bridge) can share them — the Router is the one object
// every subsystem has in common.
type FactoryBuilder func(p *pool.Pool, rt *router.Router, agentFactory instance.Factory) map[string]subsystem.RunnerFactory

// New wires every component from cfg but does not yet claim the PID
// file/port or start background tasks; call Run for that.
func New(cfg *appconfig.Config, buildFactories FactoryBuilder) (*Daemon, error) {
	logger, logCl, err := applog.New(cfg.LogFile(), false)
	if err != nil {
		return nil, err
	}

	rt := router.New(cfg.PerSessionRingBytes, cfg.SubscriberChannelCapacity)

	instancePool := pool.New(pool.Config{
		MaxInstances:   cfg.MaxInstances,
		IdleTimeout:    cfg.IdleTimeout(),
		SweepInterval:  cfg.SweepInterval(),
		TerminateGrace: cfg.TerminateGrace(),
	})

	cronStore := store.NewCronStore(cronJSONPath(cfg))
	registryStore := store.NewRegistryStore(registryJSONPath(cfg))

	reg := registry.New(registryStore, cfg.StaleThreshold(), cfg.StaleScanInterval(), cfg.RetentionWindow(), logger)

	agentFactory := func(ctx context.Context, sessionID string) (instance.Process, error) {
		return instance.NewExecProcess(ctx, cfg.AgentCommand, cfg.ConfigDir, os.Environ())
	}

	scheduler := cron.New(
		cronStore,
		instancePool,
		rt,
		agentFactory,
		cron.RetryPolicy{Attempts: cfg.CronRetryAttempts, Base: cfg.CronRetryBase()},
		cfg.CronLogDir,
		logger,
		30*time.Minute,
	)

	var factories map[string]subsystem.RunnerFactory
	if buildFactories != nil {
		factories = buildFactories(instancePool, rt, agentFactory)
	}
	subsystems := subsystem.New(factories)

	return &Daemon{
		cfg:          cfg,
		logger:       logger,
		logCl:        logCl,
		pool:         instancePool,
		router:       rt,
		registry:     reg,
		scheduler:    scheduler,
		subsystems:   subsystems,
		cronStore:    cronStore,
		agentFactory: agentFactory,
	}, nil
}

func cronJSONPath(cfg *appconfig.Config) string {
	return cfg.ConfigDir + "/cron.json"
}

func registryJSONPath(cfg *appconfig.Config) string {
	return cfg.ConfigDir + "/registry.json"
}

func subsystemsCatalogPath(cfg *appconfig.Config) string {
	return cfg.ConfigDir + "/subsystems.toml"
}

// Run executes the full startup sequence and blocks until a shutdown
// signal arrives or ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := Claim(d.cfg.PidFile(), d.cfg.DaemonPort)
	if err != nil {
		return err
	}
	d.listener = ln
	d.startedAt = time.Now()

	d.registry.Start()

	if cat, err := subsystem.LoadCatalog(subsystemsCatalogPath(d.cfg)); err != nil {
		applog.Record(d.logger, "error", "daemon", "Internal", "subsystem catalog not loaded", map[string]any{"error": err.Error()})
	} else if cat != nil {
		for _, startErr := range subsystem.StartCatalog(d.subsystems, cat) {
			applog.Record(d.logger, "error", "daemon", "Internal", "subsystem catalog entry failed to start", map[string]any{"error": startErr.Error()})
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go d.scheduler.Run(runCtx)

	d.httpSrv = &http.Server{Handler: d.routes()}

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- d.httpSrv.Serve(ln) }()

	applog.Record(d.logger, "info", "daemon", "", "daemon started", map[string]any{"pid": os.Getpid(), "port": d.cfg.DaemonPort})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		go func() {
			<-sigCh // a second signal forces immediate exit
			os.Exit(1)
		}()
	case err := <-serveErrCh:
		if err != nil && err != http.ErrServerClosed {
			applog.Record(d.logger, "error", "daemon", "Internal", "http server stopped unexpectedly", map[string]any{"error": err.Error()})
		}
	case <-ctx.Done():
	}

	d.shutdown()
	return nil
}

func (d *Daemon) shutdown() {
	d.shutdownOnce.Do(func() {
		applog.Record(d.logger, "info", "daemon", "", "shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownGrace())
		defer cancel()
		_ = d.httpSrv.Shutdown(shutdownCtx)

		d.scheduler.Stop()
		d.subsystems.StopAll(d.cfg.TerminateGrace())
		d.registry.Stop()
		d.pool.TerminateAll(d.cfg.TerminateGrace())
		d.pool.Stop()

		Release(d.cfg.PidFile())
		if d.logCl != nil {
			_ = d.logCl.Close()
		}
	})
}

// withRequestDeadline enforces a default 30s per-request deadline. The
// streaming endpoint is exempt — it runs per-connection for the
// session's lifetime.
func withRequestDeadline(h http.Handler, d time.Duration) http.Handler {
	return http.TimeoutHandler(h, d, `{"error":{"kind":"DeadlineExceeded","message":"request exceeded deadline"}}`)
}
