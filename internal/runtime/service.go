// Package runtime composes storage, locking, the gating engine, the
// lifecycle coordinator and the HTTP server into a runnable Service.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/tjfontaine/taskgate/internal/adapters/events/bus"
	"github.com/tjfontaine/taskgate/internal/adapters/events/direct"
	lockmemory "github.com/tjfontaine/taskgate/internal/adapters/lock/memory"
	"github.com/tjfontaine/taskgate/internal/adapters/outcome/basic"
	"github.com/tjfontaine/taskgate/internal/adapters/storage/postgres"
	"github.com/tjfontaine/taskgate/internal/adapters/storage/sqlite"
	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/hooks"
	"github.com/tjfontaine/taskgate/internal/lifecycle"
	"github.com/tjfontaine/taskgate/internal/pkg/clock"
	"github.com/tjfontaine/taskgate/internal/pkg/config"
	"github.com/tjfontaine/taskgate/internal/pkg/safehttp"
	"github.com/tjfontaine/taskgate/internal/server"
	"github.com/tjfontaine/taskgate/internal/storage/memory"
)

// Service runs the task lifecycle API.
type Service struct {
	// Dependencies (injected via options, or built from config on Start)
	config   ports.ConfigProvider
	storage  ports.StorageProvider
	events   ports.EventSink
	locker   ports.TaskLocker
	outcomes ports.OutcomeRecorder
	clock    ports.Clock
	logger   *slog.Logger
	listener net.Listener

	// Built on Start
	notifier    *bus.Bus
	engine      *hooks.Engine
	dispatcher  *hooks.Dispatcher
	guard       *safehttp.Guard
	coordinator *lifecycle.Coordinator
	server      *server.Server
	addr        string
	serveDone   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
}

// New creates a Service with the given options. A config source is
// required; storage and locking default to what the configuration selects.
func New(opts ...Option) (*Service, error) {
	s := &Service{
		logger: slog.Default(),
		clock:  clock.System{},
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if s.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfig)")
	}

	return s, nil
}

// Start loads configuration, wires components, seeds configured records and
// begins serving HTTP in the background.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)

	cfg, err := s.config.Load(s.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := s.initStorage(cfg.Storage); err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	if err := s.initLocker(s.ctx, cfg.Lock); err != nil {
		return fmt.Errorf("init lock: %w", err)
	}

	if s.events == nil {
		publisher, err := direct.NewPublisher(s.storage)
		if err != nil {
			return fmt.Errorf("create default event sink: %w", err)
		}
		s.events = publisher
	}
	if s.outcomes == nil {
		s.outcomes = basic.NewRecorder(s.logger)
	}

	s.notifier = bus.New(s.logger)
	s.notifier.Subscribe(bus.AllTopics, func(ctx context.Context, n *domain.Notification) {
		s.logger.Debug("task notification",
			slog.String("topic", n.Topic),
			slog.String("org_id", n.OrgID),
			slog.String("from", string(n.From)),
			slog.String("to", string(n.To)))
	})

	s.engine, s.guard = hooks.NewEngineFromConfig(cfg.Hooks, s.storage, s.events, s.notifier, s.clock, s.logger)
	s.dispatcher = hooks.NewDispatcher(s.engine, s.logger)
	for _, topic := range hooks.DispatchTopics {
		s.notifier.Subscribe(topic, s.dispatcher.Handle)
	}
	s.coordinator = lifecycle.NewCoordinator(lifecycle.Config{
		Tasks:        s.storage,
		Dependencies: s.storage,
		Gate:         s.engine,
		Events:       s.events,
		Notifier:     s.notifier,
		Outcomes:     s.outcomes,
		Clock:        s.clock,
		Logger:       s.logger,
	})

	if err := s.seed(s.ctx, cfg.Seed); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	s.server = server.New(server.Options{
		Port:           cfg.Server.Port,
		RequestTimeout: cfg.Server.Timeout(),
		Logger:         s.logger,
		Tasks:          s.storage,
		Lifecycle:      s.coordinator,
		Gate:           s.engine,
		Locker:         s.locker,
	})

	ln := s.listener
	if ln == nil {
		ln, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	s.addr = ln.Addr().String()

	s.serveDone = make(chan struct{})
	go func() {
		defer close(s.serveDone)
		if err := s.server.Serve(ln); err != nil {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	// Watch for config changes
	s.watchConfig()

	s.logger.Info("service started",
		slog.String("addr", s.addr),
		slog.String("storage", cfg.Storage.Type),
		slog.String("lock", cfg.Lock.Type),
		slog.Int("max_concurrency", cfg.Hooks.MaxConcurrency),
		slog.Int("failure_threshold", cfg.Hooks.FailureThreshold))

	return nil
}

// Shutdown gracefully stops the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("shutting down service")

	if s.cancel != nil {
		s.cancel()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			return err
		}
		<-s.serveDone
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Close(ctx); err != nil {
			s.logger.Warn("post hook deliveries still running at shutdown", slog.String("error", err.Error()))
		}
	}

	if closer, ok := s.locker.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("failed to close lock", slog.String("error", err.Error()))
		}
	}

	if s.storage != nil {
		if err := s.storage.Close(); err != nil {
			s.logger.Error("failed to close storage", slog.String("error", err.Error()))
		}
	}

	if s.config != nil {
		if err := s.config.Close(); err != nil {
			s.logger.Error("failed to close config", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("service shutdown complete")
	return nil
}

// Addr returns the address the HTTP server listens on.
func (s *Service) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Coordinator returns the lifecycle coordinator. Nil before Start.
func (s *Service) Coordinator() *lifecycle.Coordinator {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coordinator
}

// Engine returns the hook gating engine. Nil before Start.
func (s *Service) Engine() *hooks.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Storage returns the storage provider. Nil before Start unless set by an
// option.
func (s *Service) Storage() ports.StorageProvider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage
}

// Subscribe registers h for task notifications on topic (bus.AllTopics for
// all). Must be called after Start.
func (s *Service) Subscribe(topic string, h bus.Handler) (unsubscribe func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.notifier.Subscribe(topic, h)
}

// watchConfig registers a reload callback with the config provider.
func (s *Service) watchConfig() {
	onChange := func(newCfg *config.Config) {
		s.logger.Info("config changed, reloading")
		if err := s.reload(newCfg); err != nil {
			s.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := s.config.Watch(s.ctx, onChange); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("config watch failed", slog.String("error", err.Error()))
		}
	}
}

// reload applies the hot-reloadable settings: gate limits and newly
// configured seed hooks. Storage, lock and server settings need a restart.
func (s *Service) reload(cfg *config.Config) error {
	s.mu.RLock()
	engine, ctx := s.engine, s.ctx
	s.mu.RUnlock()

	if engine == nil {
		return fmt.Errorf("service not started")
	}

	engine.Configure(cfg.Hooks.MaxConcurrency, cfg.Hooks.FailureThreshold)

	if err := s.seedHooks(ctx, cfg.Seed.Hooks); err != nil {
		return fmt.Errorf("seed hooks: %w", err)
	}

	s.logger.Info("reload complete",
		slog.Int("max_concurrency", cfg.Hooks.MaxConcurrency),
		slog.Int("failure_threshold", engine.FailureThreshold()))
	return nil
}

func (s *Service) initStorage(cfg config.StorageConfig) error {
	if s.storage != nil {
		return nil
	}

	switch cfg.Type {
	case "memory":
		s.storage = memory.New()
	case "", "sqlite":
		path := cfg.SQLite.Path
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		store, err := sqlite.NewProvider(path)
		if err != nil {
			return err
		}
		s.storage = store
	case "postgres":
		store, err := postgres.NewProvider(cfg.Database.DSN)
		if err != nil {
			return err
		}
		s.storage = store
	default:
		return fmt.Errorf("unsupported storage type %q", cfg.Type)
	}
	return nil
}

func (s *Service) initLocker(ctx context.Context, cfg config.LockConfig) error {
	if s.locker != nil {
		return nil
	}

	switch cfg.Type {
	case "", "memory":
		s.locker = lockmemory.New()
	case "redis":
		locker := newRedisLocker(cfg.Redis, s.logger)
		if err := locker.Ping(ctx); err != nil {
			locker.Close()
			return fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		s.locker = locker
	default:
		return fmt.Errorf("unsupported lock type %q", cfg.Type)
	}
	return nil
}
