// Command gateway is the composition root for astech-api-gateway: it
// loads configuration, constructs one instance of every core
// component, and wires them together explicitly (spec.md §9 — no
// hidden process-wide state). It is intentionally thin; every policy
// decision lives in the internal packages.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pookie0613/astech-api-gateway/internal/adminapi"
	"github.com/pookie0613/astech-api-gateway/internal/clock"
	"github.com/pookie0613/astech-api-gateway/internal/config"
	"github.com/pookie0613/astech-api-gateway/internal/health"
	"github.com/pookie0613/astech-api-gateway/internal/metrics"
	"github.com/pookie0613/astech-api-gateway/internal/proxy"
	"github.com/pookie0613/astech-api-gateway/internal/queue"
	"github.com/pookie0613/astech-api-gateway/internal/server"
	"github.com/pookie0613/astech-api-gateway/internal/worker"
)

type components struct {
	cfg     config.Config
	logger  *zap.Logger
	store   queue.Store
	reg     *health.Registry
	sink    *metrics.Sink
	prox    *proxy.Proxy
	work    *worker.Worker
	admin   *adminapi.API
	handler http.Handler
}

func build() (*components, error) {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	store := queue.NewRedisStore(cfg.RedisAddr)
	cacheFallback := queue.NewCacheFallback(cfg.CacheFallbackTTL)
	forensics := queue.NewForensicsStore(cfg.ForensicsTTL)

	prober := health.NewHTTPProber(cfg.HealthProbeTimeout)
	urls := health.NewStaticURLs(cfg.ServiceBaseURL)
	reg := health.NewRegistry(urls, prober, cfg.HealthTTL, logger)

	sink := metrics.NewSink(prometheus.DefaultRegisterer)
	clk := clock.Real{}

	prox := proxy.New(reg, store, cacheFallback, cfg.ForwardTimeout, clk, logger)
	work := worker.New(reg, store, forensics, sink, cfg.ForwardTimeout, cfg.MainDrainLimit, cfg.DeadLetterDrainLimit, clk, logger)

	services := make([]string, 0, len(cfg.ServiceBaseURL))
	for name := range cfg.ServiceBaseURL {
		services = append(services, name)
	}
	admin := adminapi.New(store, reg, sink, work, services)

	srv := server.New(cfg, prox, reg, admin, logger)

	return &components{
		cfg: cfg, logger: logger, store: store, reg: reg, sink: sink,
		prox: prox, work: work, admin: admin, handler: srv,
	}, nil
}

func newServeCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway and the background drain worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			defer c.logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpSrv := &http.Server{Addr: c.cfg.ListenAddr, Handler: c.handler}

			go runDrainLoop(ctx, c, interval)

			go func() {
				c.logger.Info("gateway listening", zap.String("addr", c.cfg.ListenAddr))
				if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					c.logger.Error("http server exited", zap.Error(err))
				}
			}()

			<-ctx.Done()
			c.logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "interval between continuous drain cycles")
	return cmd
}

func runDrainLoop(ctx context.Context, c *components, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						c.logger.Error("drain cycle panicked", zap.Any("panic", r))
					}
				}()
				c.work.DrainMain(ctx)
				c.work.DrainDeadLetter(ctx)
			}()
		}
	}
}

func newDrainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Run a single drain cycle over both queues and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := build()
			if err != nil {
				return err
			}
			defer c.logger.Sync() //nolint:errcheck

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			c.work.DrainMain(ctx)
			c.work.DrainDeadLetter(ctx)
			return nil
		},
	}
}

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "astech-api-gateway: health-aware forwarding proxy with store-and-forward retry",
	}
	root.AddCommand(newServeCmd(), newDrainCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
