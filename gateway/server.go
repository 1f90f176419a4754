// Package gateway is the public HTTP surface: the debug console, the
// /debug-cookie probe, the quota lookup and the catch-all transparent proxy.
//
// Each inbound request resolves its own crumb through the Resolver.  Nothing
// obtained for one request is ever reused for another.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/firasghr/ChallengeGate/challenge"
	"github.com/firasghr/ChallengeGate/config"
	"github.com/firasghr/ChallengeGate/logger"
	"github.com/firasghr/ChallengeGate/metrics"
)

// Resolver obtains a fresh crumb for an upstream URL.
type Resolver interface {
	Resolve(ctx context.Context, target *url.URL) challenge.Resolution
}

// Options wires a Server.  Config, Resolver, ProxyClient and DataClient are
// required.
type Options struct {
	Config   *config.Config
	Resolver Resolver

	// ProxyClient carries proxied requests and must not follow redirects.
	ProxyClient *http.Client
	// DataClient carries the quota data call.
	DataClient *http.Client

	Metrics *metrics.Metrics
	Logger  *logger.Logger
}

// Server holds the router and its collaborators.
type Server struct {
	cfg      *config.Config
	upstream *url.URL
	resolver Resolver
	proxy    *http.Client
	data     *http.Client
	metrics  *metrics.Metrics
	log      *logger.Logger
	router   *gin.Engine

	// owned maps the gateway's own paths to their handler chains.
	owned map[string]gin.HandlerFunc
}

// New builds the Server and its routes.
func New(opts Options) *Server {
	s := &Server{
		cfg:      opts.Config,
		upstream: opts.Config.UpstreamURL(),
		resolver: opts.Resolver,
		proxy:    opts.ProxyClient,
		data:     opts.DataClient,
		metrics:  opts.Metrics,
		log:      opts.Logger,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics()
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.router = s.routes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	// Unknown paths are proxied verbatim; gin must not rewrite them.
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(s.log))
	router.Use(metricsMiddleware(s.metrics))

	api := localCORS()
	s.owned = map[string]gin.HandlerFunc{
		"/":             chain(exposeRequestID, s.debugPage),
		"/debug":        chain(exposeRequestID, s.debugPage),
		"/debug-cookie": chain(exposeRequestID, api, s.debugCookie),
		"/api/quota":    chain(exposeRequestID, api, s.quota),
	}
	for path, h := range s.owned {
		router.Any(path, h)
	}

	router.NoRoute(s.fallback)
	return router
}

// fallback serves requests no route matched.  router.Any only covers the
// standard methods, so an owned path reached with any other method is still
// served by its own handler; everything else is proxied.
func (s *Server) fallback(c *gin.Context) {
	if h, ok := s.owned[c.Request.URL.Path]; ok {
		c.Set(routeKey, c.Request.URL.Path)
		h(c)
		return
	}
	s.forward(c)
}

// chain runs handlers in order until one aborts.
func chain(handlers ...gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
	}
}

// localCORS lets the debug console be served from elsewhere.  It is only
// attached to the gateway's own JSON endpoints; proxied responses keep the
// upstream's headers untouched.
func localCORS() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Content-Type", "Accept", "Origin", "X-Requested-With"},
		ExposeHeaders:   []string{requestIDHeader},
		MaxAge:          12 * time.Hour,
	})
}

// resolveTarget resolves a caller-supplied path against the upstream origin.
// Targets that would leave the upstream host are rejected.
func (s *Server) resolveTarget(target string) (*url.URL, error) {
	if target == "" {
		target = s.cfg.DefaultTarget
	}
	ref, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid target %q: %w", target, err)
	}
	u := s.upstream.ResolveReference(ref)
	if u.Scheme != s.upstream.Scheme || u.Host != s.upstream.Host {
		return nil, fmt.Errorf("target must stay on %s", s.upstream.Host)
	}
	return u, nil
}

// mirrorURL maps an inbound request URL onto the upstream origin, keeping
// path and query byte-for-byte.
func (s *Server) mirrorURL(in *url.URL) *url.URL {
	u := *s.upstream
	u.Path = in.Path
	u.RawPath = in.RawPath
	u.RawQuery = in.RawQuery
	u.Fragment = ""
	return &u
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
