package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/adrianmcphee/canarystore"
	"github.com/adrianmcphee/canarystore/internal/api"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server with the configured accounts.

Example:
  canarystore serve --config canarystore.yaml
  canarystore serve --listen :9000 --log-level debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen != "" {
				a.cfg.Server.Listen = listen
			}
			return serve(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address override")

	return cmd
}

func serve(ctx context.Context, a *app) error {
	server := api.NewServer(a.storage,
		api.WithLogger(a.logger.Named("api")),
		api.WithQueryProcessor(a.queries),
		api.WithCanaryConfigService(a.configs),
	)
	server.Router().Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}

	exporter := canarystore.NewMetricsExporter(a.accounts.Registry, a.index, a.metrics, a.cfg.Server.ExportInterval).
		WithLogger(a.logger.Named("exporter"))
	go exporter.Start(ctx)
	defer exporter.Stop()

	if monitor := a.healthMonitor(); monitor != nil {
		if err := monitor.Start(ctx); err != nil {
			return err
		}
		defer monitor.Stop()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("listening", "addr", httpServer.Addr, "accounts", a.accounts.Registry.Len(), "index", a.cfg.Index.Type)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
