// ABOUTME: CLI command for running scheduled syncs in the foreground.
// ABOUTME: Runs the orchestrator poll loop and serves Prometheus metrics until signalled.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveMetricsAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run scheduled syncs",
	Long: `Run the sync scheduler in the foreground. Each connected device is synced on
its cadence; failing devices back off and recover on the next success.

Prometheus metrics are served at /metrics on metrics_addr (default :9464)
unless --metrics-addr="" is given.

Stop with Ctrl-C; an in-progress sync cycle is allowed to finish.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := cfg.MetricsAddr
		if cmd.Flags().Changed("metrics-addr") {
			addr = serveMetricsAddr
		}

		orch := application.Orchestrator
		if err := orch.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Scheduler running every %s\n", orch.Config().PollInterval)

		g, gctx := errgroup.WithContext(ctx)
		if addr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				if !orch.IsRunning() {
					http.Error(w, "scheduler stopped", http.StatusServiceUnavailable)
					return
				}
				_, _ = w.Write([]byte("ok\n"))
			})
			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}
			g.Go(func() error {
				logger.Info("metrics server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			return orch.Stop(stopCtx)
		})

		err := g.Wait()
		fmt.Fprintln(cmd.OutOrStdout(), "Scheduler stopped.")
		return err
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", "", "metrics listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
