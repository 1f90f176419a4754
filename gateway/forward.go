package gateway

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

// hopHeaders are connection-scoped and never relayed in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// forward relays any request the router does not own to the upstream, with
// a freshly resolved crumb prepended to the caller's cookies.  Redirects are
// handed back to the caller, and the upstream body is streamed unmodified.
func (s *Server) forward(c *gin.Context) {
	log := requestLog(c, s.log)
	r := c.Request
	target := s.mirrorURL(r.URL)

	res := s.resolver.Resolve(r.Context(), target)
	if !res.OK() {
		s.metrics.RecordProxy("no_cookie")
		c.String(http.StatusBadGateway, "Failed to obtain dynamic cookie: %s", errString(res.Err))
		return
	}

	var body io.Reader
	var bodyLen int64
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		buf, err := io.ReadAll(r.Body)
		if err != nil {
			s.metrics.RecordProxy("bad_request")
			c.String(http.StatusBadRequest, "Failed to read request body: %s", err)
			return
		}
		body = bytes.NewReader(buf)
		bodyLen = int64(len(buf))
	}

	out, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
	if err != nil {
		s.metrics.RecordProxy("bad_request")
		c.String(http.StatusBadRequest, "Invalid upstream request: %s", err)
		return
	}
	out.Header = outboundHeaders(r.Header, res.Cookie, s.upstream.Scheme+"://"+s.upstream.Host)
	out.Host = s.upstream.Host
	out.ContentLength = bodyLen

	resp, err := s.proxy.Do(out)
	if err != nil {
		log.Warn("upstream request failed", "target", target.String(), "error", err)
		s.metrics.RecordProxy("upstream_error")
		c.String(http.StatusBadGateway, "Upstream request failed: %s", err)
		return
	}
	defer resp.Body.Close()

	dst := c.Writer.Header()
	for k, vv := range resp.Header {
		dst[k] = append([]string(nil), vv...)
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	s.metrics.RecordProxy(strconv.Itoa(resp.StatusCode))
	log.Info("proxied", "target", target.String(), "status", resp.StatusCode)

	if err := streamBody(c.Writer, resp.Body); err != nil && !errors.Is(err, r.Context().Err()) {
		log.Warn("streaming upstream body aborted", "target", target.String(), "error", err)
	}
}

// outboundHeaders copies the inbound headers and applies the upstream
// identity: merged Cookie, Origin and Referer.  Content-Length is dropped
// because the body is re-framed.
func outboundHeaders(in http.Header, crumb, origin string) http.Header {
	h := in.Clone()
	for _, name := range hopHeaders {
		h.Del(name)
	}
	h.Del("Content-Length")

	cookies := []string{crumb}
	if existing := strings.Join(in.Values("Cookie"), "; "); existing != "" {
		cookies = append(cookies, existing)
	}
	h.Set("Cookie", strings.Join(cookies, "; "))
	h.Set("Origin", origin)
	h.Set("Referer", origin+"/")
	return h
}

// streamBody copies src to w, flushing after every chunk so event streams
// and long polls reach the caller as they arrive.
func streamBody(w gin.ResponseWriter, src io.Reader) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			w.Flush()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
