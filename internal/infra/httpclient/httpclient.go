package httpclient

import (
	"net/http"
	"time"

	"nexus/internal/shared/logging"
)

const defaultTimeout = 30 * time.Second

// Options configures outbound clients.
type Options struct {
	Timeout   time.Duration
	ProxyMode ProxyMode
	Logger    logging.Logger
}

// New returns an http.Client for calls to LLM providers, GitHub and Stripe.
//
// Proxies come from HTTP(S)_PROXY/ALL_PROXY/NO_PROXY. In ProxyAuto mode an
// unreachable loopback proxy is skipped so local runs keep working.
func New(opts Options) *http.Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(opts.ProxyMode, opts.Logger),
	}
}

// Transport clones http.DefaultTransport with the proxy policy for mode.
func Transport(mode ProxyMode, logger logging.Logger) *http.Transport {
	resolver := newProxyResolver(mode, logger, http.ProxyFromEnvironment)
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: resolver.resolve}
	}
	transport := base.Clone()
	transport.Proxy = resolver.resolve
	return transport
}
