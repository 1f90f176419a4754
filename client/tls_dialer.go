package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// UTLSDialer returns a DialTLSContext-compatible function that performs the
// TLS handshake with uTLS, impersonating the browser fingerprint described by
// helloID.  It is safe for concurrent use and plugs straight into
// http2.Transport.DialTLSContext.
//
// tlsCfg may be nil; when set, its ServerName overrides the SNI derived from
// addr.
func UTLSDialer(helloID utls.ClientHelloID) func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	return func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("utls dialer: parse addr %q: %w", addr, err)
		}
		sni := host
		if tlsCfg != nil && tlsCfg.ServerName != "" {
			sni = tlsCfg.ServerName
		}

		var d net.Dialer
		rawConn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("utls dialer: dial %s: %w", addr, err)
		}

		// Only the fields uTLS still honours are forwarded; the rest is
		// dictated by the ClientHelloSpec.
		uCfg := &utls.Config{
			ServerName:         sni,
			NextProtos:         []string{"h2"},
			InsecureSkipVerify: tlsCfg != nil && tlsCfg.InsecureSkipVerify, // #nosec G402 – caller-controlled
		}
		uConn := utls.UClient(rawConn, uCfg, utls.HelloCustom)

		spec := buildClientHelloSpec(helloID)
		if err := uConn.ApplyPreset(&spec); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("utls dialer: apply preset for %s: %w", helloID.Str(), err)
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = uConn.Close()
			return nil, fmt.Errorf("utls dialer: TLS handshake with %s: %w", addr, err)
		}
		if proto := uConn.ConnectionState().NegotiatedProtocol; proto != "h2" {
			_ = uConn.Close()
			return nil, fmt.Errorf("utls dialer: %s negotiated %q, want h2", addr, proto)
		}
		return uConn, nil
	}
}

// buildClientHelloSpec returns the parrot spec for helloID, falling back to
// Chrome 120 for IDs uTLS has no spec for.
func buildClientHelloSpec(helloID utls.ClientHelloID) utls.ClientHelloSpec {
	if spec, err := utls.UTLSIdToSpec(helloID); err == nil {
		return spec
	}
	spec, _ := utls.UTLSIdToSpec(utls.HelloChrome_120)
	return spec
}
