package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valinor-ai/haven/internal/audit"
	"github.com/valinor-ai/haven/internal/auth"
	"github.com/valinor-ai/haven/internal/catalog"
	"github.com/valinor-ai/haven/internal/configsync"
	"github.com/valinor-ai/haven/internal/plan"
	"github.com/valinor-ai/haven/internal/platform/config"
	"github.com/valinor-ai/haven/internal/platform/crypto"
	"github.com/valinor-ai/haven/internal/platform/database"
	"github.com/valinor-ai/haven/internal/platform/server"
	"github.com/valinor-ai/haven/internal/platform/telemetry"
	"github.com/valinor-ai/haven/internal/quota"
	"github.com/valinor-ai/haven/internal/rbac"
	"github.com/valinor-ai/haven/internal/records"
	"github.com/valinor-ai/haven/internal/tenant"
	"github.com/valinor-ai/haven/internal/tenantstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Setup logging
	logger := telemetry.NewLogger(cfg.Log.Level, cfg.Log.Format)
	telemetry.SetDefault(logger)

	slog.Info("haven starting",
		"version", "0.1.0",
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.TracingConfig{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		ServiceName: "haven",
		SampleRate:  cfg.Telemetry.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var metrics *telemetry.Metrics
	if cfg.Telemetry.MetricsEnabled {
		metrics = telemetry.NewMetrics()
	}

	// Permission catalog
	cat, err := catalog.LoadFile(cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("loading permission catalog: %w", err)
	}
	slog.Info("permission catalog loaded", "version", cat.Version())

	// Connect to database. Without one, every store lives in memory.
	var pool *database.Pool
	if cfg.Database.URL != "" {
		slog.Info("connecting to database")
		p, err := database.Connect(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		pool = p
		defer pool.Close()

		// Run migrations
		migrationsURL := fmt.Sprintf("file://%s", cfg.Database.MigrationsPath)
		if err := database.RunMigrations(cfg.Database.URL, migrationsURL); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		slog.Info("migrations complete")
	}

	var (
		registry tenant.Registry
		plans    plan.Repository
		stores   tenantstore.Manager
	)
	if pool != nil {
		registry = tenant.NewStore(pool)
		plans = plan.NewStore(pool)
		stores = tenantstore.NewPGStores(pool, cfg.Provisioning.TemplateStore)
	} else {
		slog.Warn("no database configured, tenant data is kept in memory")
		mem := tenantstore.NewMemoryStores()
		if err := mem.CreateStore(ctx, tenant.SystemStoreID); err != nil {
			return fmt.Errorf("creating system store: %w", err)
		}
		registry = tenant.NewMemoryStore()
		plans = plan.NewMemoryStore()
		stores = mem
	}

	// Limit cache
	limitCache, err := newLimitCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}

	// Field decryption for company claims
	var decrypter quota.Decrypter
	if cfg.Crypto.FieldKey != "" {
		fc, err := crypto.New(cfg.Crypto.FieldKey)
		if err != nil {
			return fmt.Errorf("loading field key: %w", err)
		}
		decrypter = fc
	}

	// Audit
	var auditLogger audit.Logger = audit.NopLogger{}
	var auditHandler *audit.Handler
	if pool != nil {
		asyncLogger := audit.NewAsyncLogger(audit.PostgresSink(pool, audit.NewStore()), audit.LoggerConfig{
			BufferSize:    cfg.Audit.BufferSize,
			BatchSize:     cfg.Audit.BatchSize,
			FlushInterval: cfg.Audit.FlushInterval(),
			Logger:        telemetry.Component(logger, "audit"),
		})
		defer asyncLogger.Close()
		auditLogger = asyncLogger
		auditHandler = audit.NewHandler(pool)
		slog.Info("audit logger started")
	}

	// Engine
	syncer := configsync.New(stores, cat, configsync.Config{
		Invalidator: limitCache,
		Metrics:     metrics,
		Logger:      telemetry.Component(logger, "configsync"),
	})
	provisioner := tenant.NewProvisioner(registry, stores, plans, syncer, cat, tenant.ProvisionerConfig{
		SuperRole: cfg.Provisioning.SuperRole,
		Metrics:   metrics,
		Logger:    telemetry.Component(logger, "provisioner"),
	})
	propagator := plan.NewPropagator(plans, registry, syncer, cat, plan.PropagatorConfig{
		Concurrency: cfg.Propagation.Concurrency,
		Metrics:     metrics,
		Logger:      telemetry.Component(logger, "propagator"),
	})
	enforcer := quota.NewEnforcer(registry, stores, quota.Config{
		Cache:     limitCache,
		Decrypter: decrypter,
		Metrics:   metrics,
		Logger:    telemetry.Component(logger, "quota"),
	})

	// RBAC roles come from the system tenant's store
	rbacEngine := rbac.NewEvaluator(rbac.WithRoleLoader(rbac.NewStoreRoleLoader(stores, registry)))
	if err := rbacEngine.ReloadRoles(ctx); err != nil {
		slog.Warn("loading platform roles failed, only platform admins are authorized", "error", err)
	}

	// Dev mode identity
	var devIdentity *auth.Identity
	if cfg.Auth.DevMode {
		slog.Warn("running in dev mode, authentication bypassed with 'Bearer dev'")
		devIdentity = &auth.Identity{
			UserID:        "dev-user",
			PlatformAdmin: true,
		}
	}

	readiness := map[string]func(context.Context) error{}
	if rc, ok := limitCache.(*quota.RedisLimitCache); ok {
		readiness["cache"] = rc.Ping
	}

	// Create and start server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, server.Dependencies{
		Pool:               pool,
		Auth:               auth.NewTokenService(cfg.Auth.JWT.SigningKey, cfg.Auth.JWT.Issuer, cfg.Auth.JWT.ExpiryHours),
		RBAC:               rbacEngine,
		TenantHandler:      tenant.NewHandler(provisioner, auditLogger),
		PlanHandler:        plan.NewHandler(propagator, auditLogger),
		CatalogHandler:     catalog.NewHandler(cat),
		RecordsHandler:     records.NewHandler(enforcer, stores, telemetry.Component(logger, "records")),
		AuditHandler:       auditHandler,
		RBACAuditLogger:    auditLogger,
		Metrics:            metrics,
		DevMode:            cfg.Auth.DevMode,
		DevIdentity:        devIdentity,
		Logger:             logger,
		CORSAllowedOrigins: cfg.Server.AllowedOrigins,
		ReadinessChecks:    readiness,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("server ready", "addr", addr, "dev_mode", cfg.Auth.DevMode, "cache", cfg.Cache.Driver)
	return srv.Start(ctx)
}

func newLimitCache(ctx context.Context, cfg config.CacheConfig) (quota.LimitCache, error) {
	switch cfg.Driver {
	case "redis":
		c := quota.NewRedisLimitCache(quota.RedisConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.TTL(),
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := c.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Redis.Addr, err)
		}
		slog.Info("limit cache connected to redis", "addr", cfg.Redis.Addr)
		return c, nil
	case "none":
		return nil, nil
	default:
		return quota.NewMemoryLimitCache(cfg.TTL()), nil
	}
}
