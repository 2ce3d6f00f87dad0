package hooks

import (
	"log/slog"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/pkg/config"
	"github.com/tjfontaine/taskgate/internal/pkg/safehttp"
)

// NewEngineFromConfig builds a delivery client and gating engine from the
// hooks configuration. notifier may be nil. The returned guard is the one deliveries validate
// against and should be reused for registration checks.
func NewEngineFromConfig(cfg config.HooksConfig, store ports.HookStore, events ports.EventSink, notifier ports.Notifier, clock ports.Clock, logger *slog.Logger) (*Engine, *safehttp.Guard) {
	guard := safehttp.NewGuard(safehttp.AllowPrivateNetworks(cfg.AllowPrivateNetworks))

	transport := safehttp.NewTransport(cfg.DialTimeoutDuration(), cfg.AllowPrivateNetworks)
	client := NewClient(ClientConfig{
		HTTPClient:       &http.Client{Transport: otelhttp.NewTransport(transport)},
		Guard:            guard,
		Clock:            clock,
		UserAgent:        cfg.UserAgent,
		MaxResponseBytes: cfg.MaxResponseBytes,
	})

	engine := NewEngine(EngineConfig{
		Store:            store,
		Deliverer:        client,
		Events:           events,
		Notifier:         notifier,
		Clock:            clock,
		Logger:           logger,
		MaxConcurrency:   cfg.MaxConcurrency,
		FailureThreshold: cfg.FailureThreshold,
	})

	return engine, guard
}
