package runtime

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/redis/go-redis/v9"

	"github.com/tjfontaine/taskgate/internal/adapters/config/file"
	lockmemory "github.com/tjfontaine/taskgate/internal/adapters/lock/memory"
	lockredis "github.com/tjfontaine/taskgate/internal/adapters/lock/redis"
	"github.com/tjfontaine/taskgate/internal/adapters/storage/postgres"
	"github.com/tjfontaine/taskgate/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/pkg/config"
	"github.com/tjfontaine/taskgate/internal/storage/memory"
)

// Option is a functional option for configuring a Service.
type Option func(*Service) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(s *Service) error {
		provider, err := file.NewProvider(path, s.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		s.config = provider
		return nil
	}
}

// WithConfig uses a fixed configuration. Nothing is watched.
func WithConfig(cfg *config.Config) Option {
	return func(s *Service) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		s.config = staticConfig{cfg: cfg}
		return nil
	}
}

// WithConfigProvider sets a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(s *Service) error {
		s.config = provider
		return nil
	}
}

// WithSQLite uses SQLite storage (default for single-instance deployments).
func WithSQLite(path string) Option {
	return func(s *Service) error {
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return fmt.Errorf("create sqlite storage: %w", err)
		}
		s.storage = store
		return nil
	}
}

// WithPostgres uses PostgreSQL storage.
// Recommended when several instances share one database.
func WithPostgres(dsn string) Option {
	return func(s *Service) error {
		store, err := postgres.NewProvider(dsn)
		if err != nil {
			return fmt.Errorf("create postgres storage: %w", err)
		}
		s.storage = store
		return nil
	}
}

// WithMemoryStorage keeps everything in process memory. State is lost on
// shutdown.
func WithMemoryStorage() Option {
	return func(s *Service) error {
		s.storage = memory.New()
		return nil
	}
}

// WithStorageProvider sets a custom storage provider.
func WithStorageProvider(provider ports.StorageProvider) Option {
	return func(s *Service) error {
		s.storage = provider
		return nil
	}
}

// WithMemoryLock serializes transitions inside this process only (default).
func WithMemoryLock() Option {
	return func(s *Service) error {
		s.locker = lockmemory.New()
		return nil
	}
}

// WithRedisLock serializes transitions across processes through Redis.
func WithRedisLock(cfg config.RedisConfig) Option {
	return func(s *Service) error {
		s.locker = newRedisLocker(cfg, s.logger)
		return nil
	}
}

// WithLocker sets a custom task locker.
func WithLocker(locker ports.TaskLocker) Option {
	return func(s *Service) error {
		s.locker = locker
		return nil
	}
}

// WithEventSink sets a custom audit event sink. Defaults to writing events
// to storage.
func WithEventSink(sink ports.EventSink) Option {
	return func(s *Service) error {
		s.events = sink
		return nil
	}
}

// WithOutcomeRecorder sets the recorder that receives assignee outcomes.
func WithOutcomeRecorder(recorder ports.OutcomeRecorder) Option {
	return func(s *Service) error {
		s.outcomes = recorder
		return nil
	}
}

// WithClock overrides wall-clock time.
func WithClock(clock ports.Clock) Option {
	return func(s *Service) error {
		s.clock = clock
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithListener serves HTTP on ln instead of the configured port.
func WithListener(ln net.Listener) Option {
	return func(s *Service) error {
		s.listener = ln
		return nil
	}
}

func newRedisLocker(cfg config.RedisConfig, logger *slog.Logger) *lockredis.Locker {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return lockredis.New(client,
		lockredis.WithPrefix(cfg.Prefix),
		lockredis.WithTTL(cfg.TTLDuration()),
		lockredis.WithLogger(logger),
	)
}
