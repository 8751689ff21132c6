package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/heymumford/ztoq/internal/client"
	"github.com/heymumford/ztoq/internal/config"
	"github.com/heymumford/ztoq/internal/coordinator"
	"github.com/heymumford/ztoq/internal/health"
	"github.com/heymumford/ztoq/internal/mapping"
	"github.com/heymumford/ztoq/internal/metrics"
	"github.com/heymumford/ztoq/internal/model"
	"github.com/heymumford/ztoq/internal/resilience"
	"github.com/heymumford/ztoq/internal/server"
	"github.com/heymumford/ztoq/internal/store"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: ztoq <command> [arguments]

Commands:
  run <project> [phase ...]       run a migration; named phases are re-run explicitly
  status <project>                print the migration status report as JSON
  rollback <project> [phase ...]  undo the named phases (default: everything)

Phases: extract transform load validate
`)
	os.Exit(2)
}

func parsePhases(args []string) ([]model.Phase, error) {
	phases := make([]model.Phase, 0, len(args))
	for _, arg := range args {
		phase := model.Phase(arg)
		if !model.IsValidPhase(phase) {
			return nil, fmt.Errorf("unknown phase %q", arg)
		}
		phases = append(phases, phase)
	}
	return phases, nil
}

func main() {
	if len(os.Args) < 3 {
		usage()
	}
	command := os.Args[1]
	project := os.Args[2]

	phases, err := parsePhases(os.Args[3:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting ztoq",
		zap.String("command", command),
		zap.String("project", project),
		zap.String("database_host", cfg.Database.Host),
		zap.String("redis_host", cfg.Redis.Host))

	entityStore, err := store.NewPostgresStore(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Database,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.MaxConnections,
		cfg.Database.MinConnections,
		cfg.Database.ConnMaxIdleTime,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize entity store", zap.Error(err))
	}
	defer entityStore.Close()

	checkpointStore, err := store.NewRedisCheckpointStore(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
		cfg.Redis.PoolSize,
		cfg.Redis.MinIdleConns,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize checkpoint store", zap.Error(err))
	}
	defer checkpointStore.Close()

	m := metrics.NewMetrics()

	sourcePolicy := resilience.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, logger)
	targetPolicy := resilience.NewPolicy(cfg.Retry.MaxAttempts, cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, logger)
	sourcePolicy.OnRetry(func(string) { m.RecordRetry("zephyr") })
	targetPolicy.OnRetry(func(string) { m.RecordRetry("qtest") })

	sourceBreaker := resilience.NewBreaker("zephyr", cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, logger)
	targetBreaker := resilience.NewBreaker("qtest", cfg.Breaker.FailureThreshold, cfg.Breaker.Cooldown, logger)
	sourceBreaker.OnStateChange(func(name string, state resilience.BreakerState) {
		m.SetBreakerState(name, int(state))
	})
	targetBreaker.OnStateChange(func(name string, state resilience.BreakerState) {
		m.SetBreakerState(name, int(state))
	})

	source := client.NewZephyrClient(
		cfg.Zephyr.BaseURL,
		cfg.Zephyr.APIToken,
		cfg.Zephyr.PageSize,
		cfg.Zephyr.RequestTimeout,
		cfg.Zephyr.RequestsPerSecond,
		cfg.Zephyr.Burst,
		sourcePolicy,
		sourceBreaker,
		m,
		logger,
	)
	target := client.NewQTestClient(
		cfg.QTest.BaseURL,
		cfg.QTest.APIToken,
		cfg.QTest.RequestTimeout,
		cfg.QTest.RequestsPerSecond,
		cfg.QTest.Burst,
		targetPolicy,
		targetBreaker,
		m,
		logger,
	)

	tables, err := mapping.LoadTables(cfg.Migration.MappingTablePath)
	if err != nil {
		logger.Fatal("Failed to load mapping tables", zap.Error(err))
	}
	engine := mapping.NewEngine(tables, cfg.Migration.DefaultStatus, cfg.Migration.DefaultPriority, logger)

	coord := coordinator.New(
		source,
		target,
		entityStore,
		entityStore,
		entityStore,
		checkpointStore,
		engine,
		m,
		cfg.Migration,
		logger,
	)
	defer coord.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "run":
		runMigration(ctx, cfg, coord, entityStore, checkpointStore, project, phases, logger)
	case "status":
		printStatus(ctx, coord, project, logger)
	case "rollback":
		if err := coord.Rollback(ctx, project, phases...); err != nil {
			logger.Fatal("Rollback failed", zap.Error(err))
		}
	default:
		usage()
	}
}

// runMigration runs a full migration with the status server alongside.
func runMigration(
	ctx context.Context,
	cfg *config.Config,
	coord *coordinator.Coordinator,
	entityStore store.EntityStore,
	checkpointStore store.CheckpointStore,
	project string,
	phases []model.Phase,
	logger *zap.Logger,
) {
	var statusServer *server.Server
	if cfg.Server.Enabled {
		healthCheck := health.NewHealthChecker(entityStore, checkpointStore, logger)
		statusServer = server.New(cfg.Server, cfg.Metrics, coord, healthCheck, logger)
		go func() {
			if err := statusServer.Start(); err != nil {
				logger.Error("Status server failed", zap.Error(err))
			}
		}()
	}

	var err error
	if len(phases) > 0 {
		err = coord.RunPhases(ctx, project, phases)
	} else {
		err = coord.Run(ctx, project)
	}

	if statusServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if shutdownErr := statusServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Error("Status server shutdown failed", zap.Error(shutdownErr))
		}
	}

	if err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}
}

// printStatus writes the status report to stdout as JSON.
func printStatus(ctx context.Context, coord *coordinator.Coordinator, project string, logger *zap.Logger) {
	reportCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	report, err := coord.Status(reportCtx, project)
	if err != nil {
		logger.Fatal("Failed to build status report", zap.Error(err))
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		logger.Fatal("Failed to encode status report", zap.Error(err))
	}
}

// newLogger builds the zap logger from the logging configuration.
func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
