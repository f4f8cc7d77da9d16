package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	otelapi "go.opentelemetry.io/otel"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/harborguard/scanhub/internal/api"
	"github.com/harborguard/scanhub/internal/app/patching"
	"github.com/harborguard/scanhub/internal/app/reporting"
	"github.com/harborguard/scanhub/internal/app/scanning"
	"github.com/harborguard/scanhub/internal/config"
	"github.com/harborguard/scanhub/internal/domain/events"
	domainpatching "github.com/harborguard/scanhub/internal/domain/patching"
	domainscanning "github.com/harborguard/scanhub/internal/domain/scanning"
	"github.com/harborguard/scanhub/internal/infra/adapters"
	"github.com/harborguard/scanhub/internal/infra/container"
	"github.com/harborguard/scanhub/internal/infra/eventbus/kafka"
	"github.com/harborguard/scanhub/internal/infra/eventbus/memory"
	"github.com/harborguard/scanhub/internal/infra/registry"
	patchStore "github.com/harborguard/scanhub/internal/infra/storage/patching/postgres"
	scanStore "github.com/harborguard/scanhub/internal/infra/storage/scanning/postgres"
	"github.com/harborguard/scanhub/pkg/common"
	"github.com/harborguard/scanhub/pkg/common/logger"
	"github.com/harborguard/scanhub/pkg/common/otel"
)

const serviceType = "orchestrator"

// allEventTypes lists every event the orchestrator emits, used to bridge the
// in-process bus onto the external Kafka feed.
var allEventTypes = []events.EventType{
	events.EventTypeScanQueued,
	events.EventTypeScanStarted,
	events.EventTypeScanProgressUpdated,
	events.EventTypeScanCompleted,
	events.EventTypeScanCancelled,
	events.EventTypePatchStatusChanged,
	events.EventTypePatchCompleted,
}

func main() {
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		log.Fatalf("failed to get hostname: %v", err)
	}

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			// Add any error-specific attributes.
			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("ORCHESTRATOR-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	logg := logger.NewWithMetadata(os.Stdout, logger.LevelDebug, svcName, traceIDFn, logEvents, metadata)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(os.Getenv("SCANHUB_CONFIG"))
	if err != nil {
		logg.Error(ctx, "failed to load configuration", "error", err)
		os.Exit(1)
	}

	settings, err := config.LoadAdapterSettings(os.Getenv("SCANHUB_ADAPTER_CONFIG"))
	if err != nil {
		logg.Error(ctx, "failed to load adapter settings", "error", err)
		os.Exit(1)
	}

	tp, telemetryTeardown, err := otel.InitTelemetry(logg, otel.Config{
		ServiceName:      svcName,
		ExporterEndpoint: cfg.Otel.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/health":    {},
			"/v1/readiness": {},
		},
		Probability: cfg.Otel.SampleRate,
		ResourceAttributes: map[string]string{
			"environment": cfg.Otel.Environment,
			"host":        cfg.Host,
		},
		InsecureExporter: true, // TODO: Come back to setup TLS.
	})
	if err != nil {
		logg.Error(ctx, "failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer telemetryTeardown(ctx)

	tracer := tp.Tracer(svcName)

	ready := &atomic.Bool{}
	healthServer := common.NewHealthServer(ready)
	defer func() {
		if err := healthServer.Server().Shutdown(ctx); err != nil {
			logg.Error(ctx, "Error shutting down health server", "error", err)
		}
	}()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		logg.Error(ctx, "failed to parse db config", "error", err)
		os.Exit(1)
	}
	poolCfg.MinConns = 5
	poolCfg.MaxConns = 20
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		logg.Error(ctx, "failed to open db", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := runMigrations(pool, cfg.Database.MigrationsPath); err != nil {
		logg.Error(ctx, "failed to run migrations", "error", err)
		os.Exit(1)
	}

	logg.Info(ctx, "Migrations applied successfully. Starting application...")

	bus := memory.NewBroker(logg)

	if len(cfg.Kafka.Brokers) > 0 {
		feed, err := kafka.ConnectPublisher(&kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			ClientID: svcName,
		}, logg)
		if err != nil {
			logg.Error(ctx, "failed to connect kafka event feed", "error", err)
			os.Exit(1)
		}
		defer feed.Close()

		err = bus.Subscribe(ctx, allEventTypes, func(ctx context.Context, evt events.DomainEvent) error {
			return feed.PublishDomainEvent(ctx, evt)
		})
		if err != nil {
			logg.Error(ctx, "failed to bridge event bus to kafka", "error", err)
			os.Exit(1)
		}
		logg.Info(ctx, "Kafka event feed enabled", "topic", cfg.Kafka.Topic)
	}

	images := scanStore.NewImageStore(pool, tracer)
	scans := scanStore.NewScanStore(pool, tracer)
	findings := scanStore.NewFindingStore(pool, tracer)
	operations := patchStore.NewOperationStore(pool, tracer)

	adapterRunner := adapters.NewRunner(cfg.AdapterTimeout)
	var enabledAdapters []adapters.Adapter
	for _, a := range adapters.DefaultAdapters(adapterRunner, logg) {
		if !settings.Enabled(a.Name()) {
			logg.Info(ctx, "adapter disabled by configuration", "adapter", a.Name())
			continue
		}
		enabledAdapters = append(enabledAdapters, a)
	}
	if len(enabledAdapters) == 0 {
		logg.Error(ctx, "all scanner adapters are disabled")
		os.Exit(1)
	}

	registryClient := registry.NewClient(
		registry.NewCommandRunner(cfg.RegistryTimeout),
		cfg.RuntimeBin,
		cfg.RegistryRPS,
		logg,
		tracer,
	)

	jobRegistry := domainscanning.NewJobRegistry()
	tracker := scanning.NewProgressTracker(jobRegistry, bus, cfg.DownloadWindow, logg)

	executor := scanning.NewExecutor(
		enabledAdapters,
		registryClient,
		images,
		tracker,
		cfg.WorkDir,
		cfg.KeepArchives,
		settings.EnvFor,
		logg,
		tracer,
	)

	reporter := reporting.NewService(findings, scans, adapters.VulnerabilityAdapterCount, logg, tracer)

	mp := otelapi.GetMeterProvider()
	metricCollector, err := scanning.NewOrchestrationMetrics(mp)
	if err != nil {
		logg.Error(ctx, "failed to create metrics collector", "error", err)
		os.Exit(1)
	}

	scanService := scanning.NewService(
		ctx,
		jobRegistry,
		tracker,
		executor,
		reporter,
		images,
		scans,
		registryClient,
		cfg.MaxConcurrentScans,
		metricCollector,
		logg,
		tracer,
	)

	containerRunner := registry.NewCommandRunner(cfg.RegistryTimeout)
	containers := container.NewManager(containerRunner, logg, tracer)
	chroot := container.NewChrootRunner(containerRunner)

	strategies := map[domainpatching.PackageManager]domainpatching.PatchStrategy{
		domainpatching.PackageManagerApt: patching.NewAptStrategy(chroot, logg),
		domainpatching.PackageManagerYum: patching.NewYumStrategy(chroot, logg),
		domainpatching.PackageManagerApk: patching.NewApkStrategy(chroot, logg),
	}

	patchService := patching.NewService(
		ctx,
		operations,
		findings,
		scans,
		images,
		registryClient,
		containers,
		strategies,
		executor.ArchivePath,
		scanService,
		bus,
		cfg.WorkDir,
		cfg.VerifyDelay,
		logg,
		tracer,
	)
	apiServer := api.NewServer(
		cfg.APIAddr,
		scanService,
		patchService,
		reporter,
		findings,
		scans,
		logg,
		tracer,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return apiServer.Start(gctx) })
	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logg.Info(gctx, "Received shutdown signal, draining...", "signal", sig.String())
			ready.Store(false)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	ready.Store(true)
	logg.Info(ctx, "Orchestrator ready",
		"api_addr", cfg.APIAddr,
		"max_concurrent_scans", cfg.MaxConcurrentScans,
		"adapters", len(enabledAdapters),
		"work_dir", cfg.WorkDir,
	)

	if err := g.Wait(); err != nil {
		logg.Error(ctx, "orchestrator exited with error", "error", err)
		os.Exit(1)
	}
}

func runMigrations(pool *pgxpool.Pool, migrationsPath string) error {
	db := stdlib.OpenDBFromPool(pool)

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("could not create pgx driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+migrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration up failed: %w", err)
	}

	return nil
}
