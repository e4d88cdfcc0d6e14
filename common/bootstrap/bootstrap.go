// Package bootstrap brings a service process from zero to ready:
// config, logging, database pools, redis, profiling. Components are
// torn down in reverse order on shutdown.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/metrics"
	"github.com/lyzr/agentflow/common/redis"
	"github.com/lyzr/agentflow/common/telemetry"
)

// Setup initializes all service components
// This is the main entry point for all services
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	sysInfo := metrics.CaptureSystemInfo()
	components.Logger.Info("runtime environment",
		"hostname", sysInfo.Hostname,
		"os", sysInfo.OSVersion,
		"arch", sysInfo.Arch,
		"cpus", sysInfo.CPULogical,
		"memory_mb", sysInfo.TotalMemoryMB,
		"go", sysInfo.GoVersion,
		"container", sysInfo.ContainerRuntime,
	)

	// 3. Initialize database (if not skipped)
	if !options.skipDB {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.Logger.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		// Checkpoints can live on a separate database. When they don't,
		// reuse the primary pool instead of opening a second one.
		if components.Config.Database.CheckpointURL != "" &&
			components.Config.Database.CheckpointURL != components.Config.Database.URL {
			components.Logger.Info("connecting to checkpoint store")
			components.CheckpointDB, err = db.NewCheckpoint(ctx, components.Config, components.Logger)
			if err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("failed to connect to checkpoint store: %w", err)
			}
			components.addCleanup(func() error {
				components.CheckpointDB.Close()
				return nil
			})
		} else {
			components.CheckpointDB = components.DB
		}
	}

	// 4. Initialize redis event relay (if configured)
	if !options.skipRedis && components.Config.Redis.URL != "" {
		components.Logger.Info("connecting to redis")
		components.Redis, err = redis.NewClient(ctx, components.Config.Redis.URL, components.Logger)
		if err != nil {
			components.Logger.Warn("redis unavailable, event relay disabled", "error", err)
			// Don't fail startup; event streams stay in-process
		} else {
			components.addCleanup(func() error {
				return components.Redis.Close()
			})
		}
	}

	// 5. Start the pprof listener (if configured)
	if port := components.Config.Telemetry.PprofPort; port > 0 {
		tel := telemetry.New(port, components.Logger)
		tel.Start()
		components.addCleanup(func() error {
			return tel.Stop(ctx)
		})
	}

	components.Logger.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
	)

	return components, nil
}
