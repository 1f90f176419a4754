package main

import (
	"fmt"
	"runtime"

	"github.com/firasghr/ChallengeGate/challenge"
	"github.com/firasghr/ChallengeGate/client"
	"github.com/firasghr/ChallengeGate/config"
	"github.com/firasghr/ChallengeGate/dashboard"
	"github.com/firasghr/ChallengeGate/gateway"
	"github.com/firasghr/ChallengeGate/jschallenge"
	"github.com/firasghr/ChallengeGate/logger"
	"github.com/firasghr/ChallengeGate/metrics"
	"github.com/firasghr/ChallengeGate/proxy"
	"github.com/firasghr/ChallengeGate/worker"
)

// app is the fully wired gateway.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	metrics   *metrics.Metrics
	pool      *worker.WorkerPool
	gateway   *gateway.Server
	dashboard *dashboard.Server
}

// newApp builds every component from cfg and starts the sandbox pool.  Call
// close when done.
func newApp(cfg *config.Config) (*app, error) {
	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	ring := logger.NewRing(logger.DefaultRingSize)
	log := logger.New(logger.Options{Level: level, Development: cfg.LogDevelopment, Ring: ring})

	pm := &proxy.ProxyManager{}
	if cfg.ProxyFile != "" {
		if err := pm.LoadProxies(cfg.ProxyFile); err != nil {
			return nil, err
		}
		log.Infof("loaded %d proxies from %q", pm.Count(), cfg.ProxyFile)
	} else {
		log.Info("no proxy file configured; connecting to the upstream directly")
	}

	sb, err := jschallenge.New(cfg.Engine, cfg.ScriptTimeout.Std())
	if err != nil {
		return nil, fmt.Errorf("sandbox: %w", err)
	}

	workers := cfg.SandboxWorkers
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	pool := worker.NewWorkerPool(workers)
	pool.Start()

	m := metrics.NewMetrics()
	rt := client.NewTransport(client.Options{
		Proxies:               pm,
		Fingerprint:           cfg.TLSFingerprint,
		ResponseHeaderTimeout: cfg.RequestTimeout.Std(),
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
	})
	noRedirect := client.NewHTTPClient(rt, false)

	resolver := challenge.NewResolver(challenge.Options{
		Client:    noRedirect,
		Sandbox:   sb,
		Pool:      pool,
		Metrics:   m,
		Logger:    log.With("component", "resolver"),
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.RequestTimeout.Std(),
	})

	gw := gateway.New(gateway.Options{
		Config:      cfg,
		Resolver:    resolver,
		ProxyClient: noRedirect,
		DataClient:  client.NewHTTPClient(rt, true),
		Metrics:     m,
		Logger:      log.With("component", "gateway"),
	})

	log.Infof("engine=%s sandbox_workers=%d tls_fingerprint=%v upstream=%s",
		cfg.Engine, pool.Size(), cfg.TLSFingerprint, cfg.Upstream)

	return &app{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		pool:      pool,
		gateway:   gw,
		dashboard: dashboard.New(m, cfg, log, ring),
	}, nil
}

// close stops the sandbox pool and flushes the logger.
func (a *app) close() {
	a.pool.Stop()
	a.log.Sync()
}
