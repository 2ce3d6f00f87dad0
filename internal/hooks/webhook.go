package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/taskgate/internal/core/domain"
	"github.com/tjfontaine/taskgate/internal/core/ports"
	"github.com/tjfontaine/taskgate/internal/pkg/clock"
	"github.com/tjfontaine/taskgate/internal/pkg/safehttp"
)

// Delivery headers.
const (
	HeaderEvent     = "X-Hook-Event"
	HeaderDelivery  = "X-Hook-Delivery"
	HeaderSignature = "X-Hook-Signature"
)

// DefaultUserAgent identifies outbound deliveries.
const DefaultUserAgent = "taskgate-hooks/1.0"

// DefaultMaxResponseBytes caps how much of a hook response is read.
const DefaultMaxResponseBytes int64 = 64 << 10

// FailureKind classifies a failed delivery.
type FailureKind string

const (
	FailureInvalidURL  FailureKind = "invalid_url"
	FailureTransport   FailureKind = "transport"
	FailureTimeout     FailureKind = "timeout"
	FailureStatus      FailureKind = "status"
	FailureBadResponse FailureKind = "bad_response"
)

// DeliveryError is returned by Client.Deliver for every failed delivery.
type DeliveryError struct {
	HookID     string
	Kind       FailureKind
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("hook %s: %s: status %d: %v", e.HookID, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("hook %s: %s: %v", e.HookID, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Payload is the JSON body posted to a hook.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// response is the body a hook answers with. A missing allow means allow.
type response struct {
	Allow  *bool  `json:"allow"`
	Reason string `json:"reason"`
}

// Client delivers events to a single hook at a time.
type Client struct {
	httpClient       *http.Client
	guard            *safehttp.Guard
	clock            ports.Clock
	userAgent        string
	maxResponseBytes int64
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// HTTPClient performs requests. Its transport should refuse private
	// addresses (safehttp.NewTransport). Defaults to safehttp.SafeTransport.
	HTTPClient *http.Client
	// Guard validates hook URLs before any network call. Defaults to a guard
	// using the system resolver.
	Guard            *safehttp.Guard
	Clock            ports.Clock
	UserAgent        string
	MaxResponseBytes int64
}

// NewClient creates a delivery client.
func NewClient(cfg ClientConfig) *Client {
	c := &Client{
		httpClient:       cfg.HTTPClient,
		guard:            cfg.Guard,
		clock:            cfg.Clock,
		userAgent:        cfg.UserAgent,
		maxResponseBytes: cfg.MaxResponseBytes,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: safehttp.SafeTransport}
	}
	if c.guard == nil {
		c.guard = safehttp.NewGuard()
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	if c.userAgent == "" {
		c.userAgent = DefaultUserAgent
	}
	if c.maxResponseBytes <= 0 {
		c.maxResponseBytes = DefaultMaxResponseBytes
	}
	return c
}

// Deliver posts event to hook and returns its vote. The whole call, URL
// validation included, runs under the hook's own timeout. Any failure is
// returned as a *DeliveryError; the caller decides how to vote for it.
func (c *Client) Deliver(ctx context.Context, hook *domain.Hook, event string, data map[string]any) (*domain.HookDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, hook.Timeout())
	defer cancel()

	if err := c.guard.ValidateURL(ctx, hook.URL); err != nil {
		return nil, c.fail(hook, FailureInvalidURL, 0, err)
	}

	if data == nil {
		data = map[string]any{}
	}
	body, err := json.Marshal(Payload{
		Event:     event,
		Timestamp: c.clock.Now().UTC().Format(time.RFC3339Nano),
		Data:      data,
	})
	if err != nil {
		return nil, c.fail(hook, FailureBadResponse, 0, fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(hook, FailureInvalidURL, 0, fmt.Errorf("create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, uuid.NewString())
	if hook.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(hook.Secret, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, c.fail(hook, FailureTimeout, 0, err)
		}
		return nil, c.fail(hook, FailureTransport, 0, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, c.fail(hook, FailureTimeout, resp.StatusCode, err)
		}
		return nil, c.fail(hook, FailureTransport, resp.StatusCode, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.fail(hook, FailureStatus, resp.StatusCode, errors.New(snippet(respBody)))
	}

	var out response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, c.fail(hook, FailureBadResponse, resp.StatusCode, fmt.Errorf("unmarshal response: %w", err))
	}

	decision := &domain.HookDecision{Allow: true, Reason: out.Reason}
	if out.Allow != nil {
		decision.Allow = *out.Allow
	}
	return decision, nil
}

func (c *Client) fail(hook *domain.Hook, kind FailureKind, status int, err error) *DeliveryError {
	return &DeliveryError{HookID: hook.ID, Kind: kind, StatusCode: status, Err: err}
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
