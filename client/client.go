// Package client builds the outbound HTTP machinery shared by the challenge
// resolver, the quota lookup and the transparent proxy.
//
// Clients created here never carry a cookie jar: every upstream call sends
// exactly the Cookie header its caller composed, so no state leaks between
// inbound requests.
package client

import (
	"net/http"
	"time"

	"github.com/firasghr/ChallengeGate/proxy"
)

// Options tunes the upstream transport.
type Options struct {
	// Proxies rotates outbound proxies per request.  Nil connects directly.
	Proxies *proxy.ProxyManager

	// Fingerprint swaps the stock transport for the Chrome 120 uTLS + HTTP/2
	// transport.  It cannot be combined with Proxies.
	Fingerprint bool

	// ResponseHeaderTimeout bounds the wait for upstream response headers.
	// Zero means no limit.
	ResponseHeaderTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
}

// defaultOptions holds the pool sizing used when callers leave fields zero.
// These numbers are sized for a few hundred concurrent callers hitting a
// single origin.
var defaultOptions = Options{
	MaxIdleConns:        500,
	MaxIdleConnsPerHost: 100,
	MaxConnsPerHost:     200,
}

func (o Options) withDefaults() Options {
	if o.MaxIdleConns <= 0 {
		o.MaxIdleConns = defaultOptions.MaxIdleConns
	}
	if o.MaxIdleConnsPerHost <= 0 {
		o.MaxIdleConnsPerHost = defaultOptions.MaxIdleConnsPerHost
	}
	if o.MaxConnsPerHost <= 0 {
		o.MaxConnsPerHost = defaultOptions.MaxConnsPerHost
	}
	return o
}

// NewTransport returns the upstream RoundTripper described by opts.  One
// transport is meant to be shared by every client so the connection pool is
// shared too.
func NewTransport(opts Options) http.RoundTripper {
	opts = opts.withDefaults()
	if opts.Fingerprint {
		return NewChrome120H2Transport(H2TransportConfig{
			MaxHeaderWait: opts.ResponseHeaderTimeout,
		})
	}
	return buildTransport(opts)
}

// NewHTTPClient wraps rt in an *http.Client.
//
// With followRedirects false the client hands 3xx responses back to the
// caller untouched, which is what a transparent proxy needs.  There is no
// client-wide Timeout: it would also cut off long streamed bodies, so callers
// bound their calls with a context instead.
func NewHTTPClient(rt http.RoundTripper, followRedirects bool) *http.Client {
	c := &http.Client{Transport: rt}
	if !followRedirects {
		c.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return c
}

// buildTransport creates an *http.Transport with tuned pool limits and the
// optional proxy rotation hook.
func buildTransport(opts Options) *http.Transport {
	t := &http.Transport{
		DisableKeepAlives: false,

		MaxIdleConns:        opts.MaxIdleConns,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxConnsPerHost:     opts.MaxConnsPerHost,

		// Evict idle connections after 90 s so we do not hold dead sockets.
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: opts.ResponseHeaderTimeout,

		ForceAttemptHTTP2: true,
	}
	if opts.Proxies != nil && opts.Proxies.Count() > 0 {
		t.Proxy = opts.Proxies.Proxy
	}
	return t
}
