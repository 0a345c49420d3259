package probe

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"netaccess/internal/portal"
)

// Strategy defines one reachability check against the portal.
type Strategy interface {
	// Name returns the strategy identifier ("tcp", "http" or "route").
	Name() string
	// Probe performs the check and returns how long it took plus a short
	// detail for display.
	Probe(ctx context.Context, target *url.URL) (time.Duration, string, error)
}

// TCPStrategy measures a TCP handshake to the portal host.
// Fast, only verifies network reachability.
type TCPStrategy struct{}

func (s *TCPStrategy) Name() string { return "tcp" }

func (s *TCPStrategy) Probe(ctx context.Context, target *url.URL) (time.Duration, string, error) {
	address := hostPort(target)

	start := time.Now()
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return 0, "", fmt.Errorf("tcp handshake failed: %w", err)
	}
	elapsed := time.Since(start)
	conn.Close()

	return elapsed, address, nil
}

// HTTPStrategy fetches the portal's login page without following redirects.
// Heavier than TCP but validates TLS and the web server.
type HTTPStrategy struct {
	Client *http.Client
}

// NewHTTPStrategy creates an HTTP strategy with its own client.
func NewHTTPStrategy() *HTTPStrategy {
	return &HTTPStrategy{
		Client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DisableKeepAlives:     true,
				ResponseHeaderTimeout: 10 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse // Don't follow redirects.
			},
		},
	}
}

func (s *HTTPStrategy) Name() string { return "http" }

func (s *HTTPStrategy) Probe(ctx context.Context, target *url.URL) (time.Duration, string, error) {
	login := target.JoinPath(portal.LoginPath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, login.String(), nil)
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := s.Client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("http request failed: %w", err)
	}
	resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode >= http.StatusInternalServerError {
		return 0, "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return elapsed, resp.Status, nil
}

// RouteStrategy reports the local address the portal will see.
type RouteStrategy struct {
	Resolver portal.AddressResolver
}

func (s *RouteStrategy) Name() string { return "route" }

func (s *RouteStrategy) Probe(ctx context.Context, target *url.URL) (time.Duration, string, error) {
	resolver := s.Resolver
	if resolver == nil {
		resolver = portal.RouteResolver{Target: hostPort(target)}
	}

	start := time.Now()
	ip, err := resolver.LocalAddr()
	if err != nil {
		return 0, "", err
	}
	return time.Since(start), ip.String(), nil
}

// NewStrategy creates a Strategy by name. Valid names: "tcp", "http", "route".
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "http", "":
		return NewHTTPStrategy(), nil
	case "tcp":
		return &TCPStrategy{}, nil
	case "route":
		return &RouteStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown probe strategy: %s (available: tcp, http, route)", name)
	}
}

func hostPort(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
