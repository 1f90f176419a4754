// ChallengeGate is a reverse proxy that clears a script-based anti-bot
// challenge on behalf of its callers.
//
// Every inbound request triggers a fresh challenge fetch, the challenge
// script runs in an isolated JavaScript sandbox, and the resulting cookie
// crumb is attached to the real upstream call.
//
// Commands:
//
//	challengegate [serve]          run the gateway and the admin listener
//	challengegate resolve [path]   resolve one crumb and print the result
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/firasghr/ChallengeGate/config"
)

const shutdownGrace = 10 * time.Second

var configFile string

var errNoCookie = errors.New("no cookie produced")

var rootCmd = &cobra.Command{
	Use:   "challengegate",
	Short: "Anti-bot challenge gateway",
	Long: `challengegate forwards requests to a challenge-protected upstream.

For every request it fetches the challenge page, runs its inline scripts in
a JavaScript sandbox and presents the resulting cookie upstream.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway and the admin listener",
	RunE:  runServe,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [target]",
	Short: "Resolve one cookie for an upstream path and print it as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResolve,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (.json, .yaml or .toml); GATE_* variables override it")
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(serveCmd, resolveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if !cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()
	log := a.log

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	servers := []*http.Server{{
		Addr:              cfg.Listen,
		Handler:           a.gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// No WriteTimeout: proxied bodies may stream for a long time.
	}}
	if cfg.AdminAddr != "" {
		servers = append(servers, &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           a.dashboard.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		})
		go a.dashboard.Run(ctx)
	}
	for _, srv := range servers {
		go func(srv *http.Server) {
			log.Infof("listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case runErr = <-errCh:
		log.Errorf("server error: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnf("shutdown %s: %v", srv.Addr, err)
		}
	}

	total, cookie, failed := a.metrics.Snapshot()
	log.Infof("final metrics: resolutions=%d cookie=%d failed=%d", total, cookie, failed)
	log.Info("ChallengeGate shut down cleanly")
	return runErr
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	target := ""
	if len(args) == 1 {
		target = args[0]
	}
	resp, _ := a.gateway.DebugCookie(cmd.Context(), target)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if resp.Cookie == nil {
		return errNoCookie
	}
	return nil
}
