package client

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	utls "github.com/refraction-networking/utls"
)

// Chrome 120 HTTP/2 SETTINGS values that golang.org/x/net/http2 lets us set
// directly.
const (
	chrome120H2HeaderTableSize   uint32 = 65536
	chrome120H2MaxHeaderListSize uint32 = 262144
)

// H2TransportConfig groups the tunable parameters for NewChrome120H2Transport.
type H2TransportConfig struct {
	// HelloID is the uTLS ClientHello fingerprint to use for TLS.
	// Defaults to utls.HelloChrome_120 when zero.
	HelloID utls.ClientHelloID

	// IdleConnTimeout is the maximum time an idle HTTP/2 connection is kept
	// alive.  Defaults to 90 s.
	IdleConnTimeout time.Duration

	// MaxHeaderWait aborts a request whose response headers have not
	// arrived in time.  Zero means no limit.  The body is not affected.
	MaxHeaderWait time.Duration
}

// NewChrome120H2Transport returns an http.RoundTripper that speaks HTTP/2
// over a uTLS Chrome 120 ClientHello and fills in Chrome's identity headers
// on requests that do not carry them already.
//
// Only https upstreams are supported: the transport always negotiates TLS.
func NewChrome120H2Transport(cfg H2TransportConfig) http.RoundTripper {
	if cfg.HelloID == (utls.ClientHelloID{}) {
		cfg.HelloID = utls.HelloChrome_120
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	dialFn := UTLSDialer(cfg.HelloID)
	h2t := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			return dialFn(ctx, network, addr, tlsCfg)
		},
		MaxDecoderHeaderTableSize: chrome120H2HeaderTableSize,
		MaxEncoderHeaderTableSize: chrome120H2HeaderTableSize,
		MaxHeaderListSize:         chrome120H2MaxHeaderListSize,
		IdleConnTimeout:           cfg.IdleConnTimeout,
	}
	return &chrome120RoundTripper{h2: h2t, headerWait: cfg.MaxHeaderWait}
}

// chrome120RoundTripper wraps an http2.Transport and tops up every request
// with the Chrome 120 identity headers.
type chrome120RoundTripper struct {
	h2         http.RoundTripper
	headerWait time.Duration
}

// RoundTrip clones req, adds the Chrome defaults the caller did not set and
// delegates to the http2 layer.  Caller headers always win.
func (t *chrome120RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var cancel context.CancelFunc
	var timer *time.Timer
	if t.headerWait > 0 {
		ctx, cancel = context.WithCancel(ctx)
		timer = time.AfterFunc(t.headerWait, cancel)
	}

	r := req.Clone(ctx)
	ChromeOrderedHeaders().FillMissing(r.Header)

	resp, err := t.h2.RoundTrip(r)
	if cancel == nil {
		return resp, err
	}
	timer.Stop()
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the per-request context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
