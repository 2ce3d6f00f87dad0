package safehttp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"
)

// ErrBlockedAddress is returned when a URL or connection targets a private,
// loopback or link-local address.
var ErrBlockedAddress = errors.New("address is not publicly routable")

// ErrInvalidURL is returned for URLs that cannot be used for outbound calls.
var ErrInvalidURL = errors.New("invalid outbound url")

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard validates outbound URLs against SSRF targets.
type Guard struct {
	resolver     Resolver
	allowPrivate bool
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithResolver overrides DNS resolution.
func WithResolver(r Resolver) GuardOption {
	return func(g *Guard) {
		g.resolver = r
	}
}

// AllowPrivateNetworks disables address checks. Only for local development
// against hooks running on the same machine.
func AllowPrivateNetworks(allow bool) GuardOption {
	return func(g *Guard) {
		g.allowPrivate = allow
	}
}

// NewGuard creates a Guard that resolves hosts with net.DefaultResolver.
func NewGuard(opts ...GuardOption) *Guard {
	g := &Guard{resolver: net.DefaultResolver}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// AllowsPrivate reports whether address checks are disabled.
func (g *Guard) AllowsPrivate() bool {
	return g.allowPrivate
}

// ValidateURL checks that raw is an http(s) URL whose host resolves only to
// public addresses. No connection is made.
func (g *Guard) ValidateURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q not allowed", ErrInvalidURL, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if g.allowPrivate {
		return nil
	}

	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsBlockedIP(ip) {
			return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
		}
		return nil
	}

	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("resolve %s: no addresses", host)
	}

	// Every address must be public; a single private record is enough for a
	// rebinding attack.
	for _, addr := range addrs {
		if IsBlockedIP(addr.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrBlockedAddress, host, addr.IP)
		}
	}

	return nil
}

// IsBlockedIP reports whether ip is loopback, private (RFC 1918 or IPv6 ULA),
// link-local, multicast link-local or unspecified. IPv4-mapped IPv6 addresses
// are checked as IPv4.
func IsBlockedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsUnspecified()
}

// NewTransport returns an http.Transport whose dialer refuses blocked
// addresses after DNS resolution, so a host that passed ValidateURL cannot
// rebind to a private address at connect time.
func NewTransport(dialTimeout time.Duration, allowPrivate bool) *http.Transport {
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}

	dialer := &net.Dialer{
		Timeout: dialTimeout,
		Control: func(network, address string, _ syscall.RawConn) error {
			if allowPrivate {
				return nil
			}
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("failed to parse dial address %q: %w", address, err)
			}
			ip := net.ParseIP(host)
			if ip == nil {
				return fmt.Errorf("failed to parse remote IP for %q", address)
			}
			if IsBlockedIP(ip) {
				return fmt.Errorf("%w: access to %s is denied", ErrBlockedAddress, ip)
			}
			return nil
		},
	}

	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   dialTimeout,
		ExpectContinueTimeout: time.Second,
	}
}

// SafeTransport rejects connections to private or loopback IP ranges to reduce SSRF risk.
var SafeTransport = NewTransport(5*time.Second, false)
