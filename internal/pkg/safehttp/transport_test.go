package safehttp

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// staticResolver answers every lookup with a fixed address list.
type staticResolver struct {
	addrs []string
	err   error
	calls atomic.Int32
}

func (r *staticResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	out := make([]net.IPAddr, 0, len(r.addrs))
	for _, a := range r.addrs {
		out = append(out, net.IPAddr{IP: net.ParseIP(a)})
	}
	return out, nil
}

func TestIsBlockedIP(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"127.0.0.1", true},
		{"127.8.9.10", true},
		{"10.0.0.5", true},
		{"172.16.0.1", true},
		{"172.31.255.255", true},
		{"192.168.1.1", true},
		{"169.254.169.254", true},
		{"0.0.0.0", true},
		{"::1", true},
		{"::", true},
		{"fe80::1", true},
		{"fc00::1", true},
		{"fd12:3456:789a::1", true},
		{"::ffff:127.0.0.1", true},
		{"::ffff:10.1.2.3", true},
		{"ff02::1", true},
		{"8.8.8.8", false},
		{"172.32.0.1", false},
		{"93.184.216.34", false},
		{"2606:4700:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			ip := net.ParseIP(tt.ip)
			if ip == nil {
				t.Fatalf("bad test ip %q", tt.ip)
			}
			if got := IsBlockedIP(ip); got != tt.blocked {
				t.Errorf("IsBlockedIP(%s) = %v, want %v", tt.ip, got, tt.blocked)
			}
		})
	}
}

func TestGuard_ValidateURL(t *testing.T) {
	public := &staticResolver{addrs: []string{"93.184.216.34"}}
	private := &staticResolver{addrs: []string{"93.184.216.34", "10.0.0.7"}}

	tests := []struct {
		name     string
		url      string
		resolver Resolver
		wantErr  error
	}{
		{"public host", "https://hooks.example.com/gate", public, nil},
		{"public ip literal", "http://93.184.216.34/gate", public, nil},
		{"ftp scheme", "ftp://hooks.example.com/gate", public, ErrInvalidURL},
		{"file scheme", "file:///etc/passwd", public, ErrInvalidURL},
		{"missing host", "https:///gate", public, ErrInvalidURL},
		{"unparsable", "http://[::1", public, ErrInvalidURL},
		{"loopback literal", "http://127.0.0.1:8080/gate", public, ErrBlockedAddress},
		{"ipv6 loopback literal", "http://[::1]:8080/gate", public, ErrBlockedAddress},
		{"metadata endpoint", "http://169.254.169.254/latest", public, ErrBlockedAddress},
		{"rfc1918 literal", "http://192.168.0.10/gate", public, ErrBlockedAddress},
		{"localhost name", "http://localhost:9000/gate", public, ErrBlockedAddress},
		{"resolves to private", "https://rebind.example.com/gate", private, ErrBlockedAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGuard(WithResolver(tt.resolver))
			err := g.ValidateURL(context.Background(), tt.url)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateURL(%q) error = %v", tt.url, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestGuard_ValidateURL_IPLiteralSkipsDNS(t *testing.T) {
	r := &staticResolver{addrs: []string{"93.184.216.34"}}
	g := NewGuard(WithResolver(r))

	_ = g.ValidateURL(context.Background(), "http://10.0.0.1/")
	if r.calls.Load() != 0 {
		t.Errorf("resolver called %d times for an IP literal", r.calls.Load())
	}
}

func TestGuard_ValidateURL_ResolveError(t *testing.T) {
	g := NewGuard(WithResolver(&staticResolver{err: errors.New("nxdomain")}))
	if err := g.ValidateURL(context.Background(), "https://nope.invalid/"); err == nil {
		t.Fatal("expected resolve error")
	}
}

func TestGuard_AllowPrivateNetworks(t *testing.T) {
	g := NewGuard(AllowPrivateNetworks(true))
	if err := g.ValidateURL(context.Background(), "http://127.0.0.1:9000/gate"); err != nil {
		t.Fatalf("expected loopback to be allowed, got %v", err)
	}
	if err := g.ValidateURL(context.Background(), "gopher://127.0.0.1/"); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("scheme check must still apply, got %v", err)
	}
}

func TestNewTransport_RefusesLoopback(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(time.Second, false), Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected dial to loopback to fail")
	}
	if !errors.Is(err, ErrBlockedAddress) {
		t.Errorf("error = %v, want ErrBlockedAddress", err)
	}
	if hits.Load() != 0 {
		t.Errorf("server received %d requests", hits.Load())
	}
}

func TestNewTransport_AllowPrivate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(time.Second, true), Timeout: 2 * time.Second}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
