// Package challenge fetches an upstream URL, runs the challenge page it
// serves through the script sandbox and returns the verification crumb.
//
// Every call performs a fresh fetch and a fresh execution.  Nothing is
// cached: the crumb is time-sensitive and bound to the request that produced
// it.
package challenge

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/firasghr/ChallengeGate/client"
	"github.com/firasghr/ChallengeGate/jschallenge"
	"github.com/firasghr/ChallengeGate/logger"
	"github.com/firasghr/ChallengeGate/metrics"
	"github.com/firasghr/ChallengeGate/worker"
)

// SampleLimit is the number of characters of the fetched body kept in a
// Resolution for diagnostics.
const SampleLimit = 2000

// Resolution is the outcome of one Resolve call.  Exactly one of Cookie and
// Err is set.
type Resolution struct {
	Cookie string
	Err    error

	// Sample holds the beginning of the fetched body.  Fetched is false when
	// the fetch itself failed, in which case Sample is empty.
	Sample  string
	Fetched bool
}

// OK reports whether a crumb was obtained.
func (r Resolution) OK() bool { return r.Err == nil && r.Cookie != "" }

// Options configures a Resolver.  Client and Sandbox are required.
type Options struct {
	Client    *http.Client
	Sandbox   jschallenge.Sandbox
	Pool      *worker.WorkerPool
	Metrics   *metrics.Metrics
	Logger    *logger.Logger
	UserAgent string
	// Timeout bounds the challenge fetch.  Zero means no limit.
	Timeout time.Duration
}

// Resolver obtains crumbs.  It is safe for concurrent use.
type Resolver struct {
	client    *http.Client
	selector  *jschallenge.Selector
	pool      *worker.WorkerPool
	metrics   *metrics.Metrics
	log       *logger.Logger
	userAgent string
	timeout   time.Duration
}

// NewResolver builds a Resolver from opts.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		client:    opts.Client,
		selector:  jschallenge.NewSelector(opts.Sandbox),
		pool:      opts.Pool,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	r.selector.OnAttempt = func(index int, err error) {
		if r.metrics != nil {
			r.metrics.RecordScriptRun(err == nil)
		}
		if err != nil {
			r.log.Debug("challenge script failed", "index", index, "error", err)
		}
	}
	return r
}

// Resolve fetches target without following redirects and solves the page it
// returns.  The body is read whatever the status code, since challenge pages
// are often served with non-200 codes.
func (r *Resolver) Resolve(ctx context.Context, target *url.URL) Resolution {
	start := time.Now()
	res := r.resolve(ctx, target)

	outcome := metrics.OutcomeCookie
	switch {
	case !res.Fetched:
		outcome = metrics.OutcomeTransport
	case !res.OK():
		outcome = metrics.OutcomeNoCookie
	}
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordResolution(outcome, elapsed)
	}
	if res.OK() {
		r.log.Info("challenge resolved", "target", target.String(), "duration", elapsed)
		r.log.Debug("challenge crumb", "target", target.String(), "cookie", res.Cookie)
	} else {
		r.log.Warn("challenge not resolved", "target", target.String(), "duration", elapsed, "outcome", outcome, "error", res.Err)
	}
	return res
}

func (r *Resolver) resolve(ctx context.Context, target *url.URL) Resolution {
	fetchCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Resolution{Err: err}
	}
	client.BrowserHeaders(r.userAgent, client.AcceptHTML).ApplyTo(req.Header)

	resp, err := r.client.Do(req)
	if err != nil {
		return Resolution{Err: err}
	}
	body, err := client.ReadBody(resp)
	if err != nil {
		return Resolution{Err: err}
	}
	html := string(body)
	res := Resolution{Sample: truncate(html, SampleLimit), Fetched: true}

	res.Cookie, res.Err = r.solve(ctx, html)
	if res.Err == nil && res.Cookie == "" {
		res.Err = jschallenge.ErrNoCookieProduced
	}
	if res.Err != nil {
		res.Cookie = ""
	}
	return res
}

// solve runs the selector on the worker pool when one is configured.
func (r *Resolver) solve(ctx context.Context, html string) (string, error) {
	if r.pool == nil {
		return r.selector.Solve(ctx, html)
	}
	type solved struct {
		cookie string
		err    error
	}
	ch := make(chan solved, 1)
	if err := r.pool.Do(ctx, func() {
		c, err := r.selector.Solve(ctx, html)
		ch <- solved{c, err}
	}); err != nil {
		return "", err
	}
	s := <-ch
	return s.cookie, s.err
}

// truncate returns the first n characters of s.
func truncate(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
