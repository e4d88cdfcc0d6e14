package bootstrap

import (
	"context"
	"errors"

	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/db"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/redis"
)

// Components holds the initialized service dependencies. CheckpointDB
// aliases DB unless a dedicated checkpoint store is configured; Redis
// is nil when no REDIS_URL is set or the connection failed at boot.
type Components struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *db.DB
	CheckpointDB *db.DB
	Redis        *redis.Client

	cleanupFuncs []func() error
}

// Shutdown tears components down in reverse setup order. Every cleanup
// runs even when earlier ones fail; their errors come back joined.
func (c *Components) Shutdown(ctx context.Context) error {
	c.Logger.Info("shutting down components")

	var errs error
	for i := len(c.cleanupFuncs) - 1; i >= 0; i-- {
		if err := c.cleanupFuncs[i](); err != nil {
			c.Logger.Error("cleanup error", "error", err)
			errs = errors.Join(errs, err)
		}
	}
	c.cleanupFuncs = nil

	if errs != nil {
		return errs
	}
	c.Logger.Info("shutdown complete")
	return nil
}

// addCleanup registers a cleanup function
func (c *Components) addCleanup(fn func() error) {
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}
