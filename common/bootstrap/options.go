package bootstrap

import (
	"github.com/lyzr/agentflow/common/config"
	"github.com/lyzr/agentflow/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipDB       bool
	skipRedis    bool
	customLogger *logger.Logger
	customConfig *config.Config
}

// WithoutDB skips database initialization
func WithoutDB() Option {
	return func(o *options) { o.skipDB = true }
}

// WithoutRedis skips redis initialization even when REDIS_URL is set
func WithoutRedis() Option {
	return func(o *options) { o.skipRedis = true }
}

// WithCustomLogger uses the given logger instead of building one from
// config
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) { o.customLogger = log }
}

// WithCustomConfig uses the given config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) { o.customConfig = cfg }
}

func defaultOptions() *options {
	return &options{}
}
