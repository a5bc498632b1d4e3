package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"nexus/internal/shared/logging"
)

const proxyDialTimeout = 300 * time.Millisecond

// ProxyMode selects how environment proxies are honoured.
type ProxyMode uint8

const (
	// ProxyAuto uses the environment proxy but skips dead loopback proxies.
	ProxyAuto ProxyMode = iota
	// ProxyStrict always uses the environment proxy.
	ProxyStrict
	// ProxyDirect never uses a proxy.
	ProxyDirect
)

// ParseProxyMode maps HTTP_PROXY_MODE values; unknown values mean ProxyAuto.
func ParseProxyMode(value string) ProxyMode {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return ProxyStrict
	case "direct", "none", "off":
		return ProxyDirect
	default:
		return ProxyAuto
	}
}

func (m ProxyMode) String() string {
	switch m {
	case ProxyStrict:
		return "strict"
	case ProxyDirect:
		return "direct"
	default:
		return "auto"
	}
}

type proxyResolver struct {
	mode    ProxyMode
	logger  logging.Logger
	fromEnv func(*http.Request) (*url.URL, error)

	bypass sync.Map // proxy url -> bool
	warned sync.Map // proxy url -> struct{}
}

func newProxyResolver(mode ProxyMode, logger logging.Logger, fromEnv func(*http.Request) (*url.URL, error)) *proxyResolver {
	return &proxyResolver{mode: mode, logger: logging.OrNop(logger), fromEnv: fromEnv}
}

func (r *proxyResolver) resolve(req *http.Request) (*url.URL, error) {
	switch r.mode {
	case ProxyDirect:
		return nil, nil
	case ProxyStrict:
		return r.fromEnv(req)
	}
	if req == nil || req.URL == nil {
		return r.fromEnv(req)
	}
	if isLoopbackHost(req.URL.Hostname()) {
		return nil, nil
	}

	proxyURL, err := r.fromEnv(req)
	if proxyURL == nil || err != nil {
		return proxyURL, err
	}
	if !isLoopbackHost(proxyURL.Hostname()) {
		return proxyURL, nil
	}
	hostPort, ok := proxyHostPort(proxyURL)
	if !ok {
		return proxyURL, nil
	}

	key := proxyURL.String()
	if skip, ok := r.bypass.Load(key); ok {
		if skip.(bool) {
			return nil, nil
		}
		return proxyURL, nil
	}
	if isProxyReachable(req.Context(), hostPort) {
		r.bypass.Store(key, false)
		return proxyURL, nil
	}
	r.bypass.Store(key, true)
	if _, loaded := r.warned.LoadOrStore(key, struct{}{}); !loaded {
		r.logger.Warn("Local proxy %s is unreachable; sending outbound requests directly (set HTTP_PROXY_MODE=strict to disable)", proxyURL.Redacted())
	}
	return nil, nil
}

func isLoopbackHost(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func proxyHostPort(proxyURL *url.URL) (string, bool) {
	host := strings.TrimSpace(proxyURL.Hostname())
	if host == "" {
		return "", false
	}
	port := proxyURL.Port()
	if port == "" {
		switch strings.ToLower(proxyURL.Scheme) {
		case "", "http":
			port = "80"
		case "https":
			port = "443"
		case "socks5", "socks5h":
			port = "1080"
		default:
			return "", false
		}
	}
	return net.JoinHostPort(host, port), true
}

func isProxyReachable(ctx context.Context, hostPort string) bool {
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := net.Dialer{Timeout: proxyDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
