package main

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"k8s.io/utils/clock"

	"github.com/telekom/tenant-control-plane/pkg/api"
	"github.com/telekom/tenant-control-plane/pkg/audit"
	"github.com/telekom/tenant-control-plane/pkg/authz"
	"github.com/telekom/tenant-control-plane/pkg/cache"
	"github.com/telekom/tenant-control-plane/pkg/cli"
	"github.com/telekom/tenant-control-plane/pkg/config"
	"github.com/telekom/tenant-control-plane/pkg/control"
	"github.com/telekom/tenant-control-plane/pkg/failures"
	"github.com/telekom/tenant-control-plane/pkg/flags"
	"github.com/telekom/tenant-control-plane/pkg/mail"
	"github.com/telekom/tenant-control-plane/pkg/ratelimit"
	"github.com/telekom/tenant-control-plane/pkg/resolver"
	"github.com/telekom/tenant-control-plane/pkg/storage"
	"github.com/telekom/tenant-control-plane/pkg/telemetry"
	"github.com/telekom/tenant-control-plane/pkg/tenantcontrol"
	"github.com/telekom/tenant-control-plane/pkg/tenants"
	"github.com/telekom/tenant-control-plane/pkg/version"
)

func main() {
	cliConfig := cli.Parse()

	zl := setupLogger(cliConfig.Debug)
	defer func() { _ = zl.Sync() }()
	log := zl.Sugar()
	log.With("version", version.Version, "commit", version.GitCommit).Info("Starting tenant control plane")
	cliConfig.Print(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cliConfig, zl); err != nil {
		log.Errorw("Control plane stopped with error", "error", err)
		_ = zl.Sync()
		os.Exit(1)
	}
	log.Info("Control plane stopped")
}

func run(ctx context.Context, cliConfig *cli.Config, zl *zap.Logger) error {
	log := zl.Sugar()

	cfg, err := config.Load(cliConfig.ConfigPath)
	if err != nil {
		return err
	}
	if cliConfig.ListenAddress != "" {
		cfg.Server.ListenAddress = cliConfig.ListenAddress
	}
	if cliConfig.DisableEmail {
		cfg.Notifications.Enabled = false
	}
	if cliConfig.DisableRateLimit {
		cfg.RateLimit.Enabled = false
	}

	telemetryOpts := cfg.TelemetryOptions(version.Version)
	telemetryOpts.Logger = log
	_, shutdownTracing, err := telemetry.Init(ctx, telemetryOpts)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	store, err := openStorage(ctx, cfg, cliConfig.MigrateOnStartup, log)
	if err != nil {
		return err
	}
	defer store.Close()

	directory, err := openTenantDirectory(cfg, store, log)
	if err != nil {
		return err
	}
	if fd, ok := directory.(*tenants.FileDirectory); ok {
		interval := config.ParseDurationOrDefault(cfg.Tenants.ReloadInterval, 0)
		interval = cli.ParseTenantReloadInterval(cliConfig.TenantReloadEvery, interval, log)
		if interval > 0 {
			go reloadTenants(ctx, fd, interval, log)
		}
	}

	authzCfg, err := cfg.AuthorizerConfig()
	if err != nil {
		return err
	}
	authorizer, err := authz.New(authzCfg, log)
	if err != nil {
		return fmt.Errorf("initializing authorizer: %w", err)
	}

	forwarderCfg, err := cfg.ForwarderConfig()
	if err != nil {
		return err
	}
	forwarder := audit.NewForwarder(forwarderCfg, zl)
	defer func() {
		if err := forwarder.Close(); err != nil {
			log.Warnw("Closing audit sinks failed", "error", err)
		}
	}()

	notifier, err := mail.NewNotifier(cfg.Notifications, log)
	if err != nil {
		return fmt.Errorf("initializing notifications: %w", err)
	}

	clk := clock.RealClock{}
	ttl := cfg.CacheTTL()
	auditLog := audit.NewLog(store, forwarder, clk, log)
	flagStore := flags.New(store, auditLog, authorizer,
		cache.New[map[control.Key]bool]("system_flags", ttl, clk), log)
	controlStore := tenantcontrol.New(store, directory, auditLog, authorizer,
		cache.New[map[control.Key]bool]("tenant_controls", ttl, clk), log)
	registry := failures.New(store, auditLog, log,
		failures.WithAuthorizer(authorizer),
		failures.WithNotifier(notifier),
		failures.WithCache(cache.New[[]control.FailureRecord]("failures", ttl, clk)))
	stateResolver := resolver.New(flagStore, controlStore, registry, clk, log)

	auth, err := api.NewAuth(log, api.AuthConfig{
		Secret:          cfg.Auth.JWTSecret,
		JWKSURL:         cfg.Auth.JWKSURL,
		Issuer:          cfg.Auth.Issuer,
		Audience:        cfg.Auth.Audience,
		RoleClaim:       cfg.Auth.RoleClaim,
		RefreshInterval: config.ParseDurationOrDefault(cfg.Auth.JWKSRefreshInterval, time.Hour),
	})
	if err != nil {
		return fmt.Errorf("initializing authentication: %w", err)
	}

	opts := api.ServerOptions{
		ListenAddress:     cfg.Server.ListenAddress,
		TLSCertFile:       cfg.Server.TLSCertFile,
		TLSKeyFile:        cfg.Server.TLSKeyFile,
		TrustedProxies:    cfg.Server.TrustedProxies,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout(),
		EnableHTTP2:       cliConfig.EnableHTTP2,
		Debug:             cliConfig.Debug,
		Health:            store,
	}
	var reportMiddleware gin.HandlerFunc
	if cfg.RateLimit.Enabled {
		opts.RateLimiter = ratelimit.NewActor(cfg.RateLimit.API)
		reportLimiter := ratelimit.New("failure_reports", cfg.RateLimit.Reports)
		defer reportLimiter.Stop()
		reportMiddleware = reportLimiter.Middleware()
	}

	server, err := api.NewServer(zl, opts, auth)
	if err != nil {
		auth.Close()
		return err
	}
	if err := server.RegisterAll([]api.APIController{
		api.NewSystemFlagsController(flagStore, log),
		api.NewTenantsController(controlStore, registry, stateResolver, log),
		api.NewFailuresController(registry, reportMiddleware, log),
		api.NewOperationsController(stateResolver, auditLog, authorizer, log),
	}); err != nil {
		server.Close()
		return fmt.Errorf("registering controllers: %w", err)
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err = <-serveErr:
		server.Close()
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err == nil {
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Warnw("HTTP server shutdown incomplete", "error", shutdownErr)
		}
	}
	if stopErr := notifier.Stop(shutdownCtx); stopErr != nil {
		log.Warnw("Mail queue did not drain", "error", stopErr)
	}
	if traceErr := shutdownTracing(shutdownCtx); traceErr != nil {
		log.Warnw("Flushing traces failed", "error", traceErr)
	}
	return err
}

func openStorage(ctx context.Context, cfg config.Config, migrate bool, log *zap.SugaredLogger) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		log.Warn("Using in-memory storage; state is lost on restart")
		return storage.NewMemory(), nil
	case "postgres":
		pool, err := storage.OpenPool(ctx, cfg.PostgresConfig())
		if err != nil {
			return nil, err
		}
		pg := storage.NewPostgres(pool, log)
		if migrate || cfg.Storage.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				pg.Close()
				return nil, fmt.Errorf("applying schema: %w", err)
			}
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func openTenantDirectory(cfg config.Config, store storage.Store, log *zap.SugaredLogger) (tenants.Directory, error) {
	switch cfg.Tenants.Source {
	case "static":
		log.Infow("Using static tenant list", "tenants", len(cfg.Tenants.Static))
		return tenants.NewStatic(cfg.Tenants.Static...), nil
	case "file":
		return tenants.LoadFile(cfg.Tenants.File, log)
	case "postgres":
		pg, ok := store.(*storage.Postgres)
		if !ok {
			return nil, errors.New("tenant source postgres requires the postgres storage driver")
		}
		return tenants.NewPostgres(pg), nil
	default:
		return nil, errors.New("unknown tenant source " + cfg.Tenants.Source)
	}
}

func reloadTenants(ctx context.Context, d *tenants.FileDirectory, interval time.Duration, log *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Reload(); err != nil {
				log.Warnw("Tenant directory reload failed; keeping previous content", "error", err)
			}
		}
	}
}

func setupLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	// Disable automatic stacktraces for non-fatal levels to avoid noisy traces in WARN/INFO logs
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.UTC().Format(time.RFC3339))
	}
	cfg.EncoderConfig.TimeKey = "ts"
	logger, err := cfg.Build()
	if err != nil {
		stdlog.Fatalf("failed to set up logger: %v", err)
	}
	return logger
}
