package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/metrics"
	"github.com/m-mizutani/mathmentor/pkg/service/mcp"
	"github.com/m-mizutani/mathmentor/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg         config
		metricsAddr string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "Listen address of the Prometheus /metrics endpoint (disabled if empty)",
			Sources:     cli.EnvVars("MATHMENTOR_METRICS_ADDR"),
			Destination: &metricsAddr,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server over stdio",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.withLogger(ctx)

			m := metrics.New()
			uc, closer, err := cfg.newUseCase(ctx, m)
			if err != nil {
				return err
			}
			defer closer()

			if metricsAddr != "" {
				stop := serveMetrics(ctx, metricsAddr, m)
				defer stop()
			}

			logging.From(ctx).Info("starting MCP server", "version", Version)
			return mcp.NewServer(uc, Version).Run(ctx)
		},
	}
}

// serveMetrics exposes m on addr until the returned function is called
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.From(ctx).Info("serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.From(ctx).Error("metrics server stopped", "error", goerr.Wrap(err, "failed to serve metrics"))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logging.From(ctx).Warn("failed to shut down metrics server", "error", err)
		}
	}
}
