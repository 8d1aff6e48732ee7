package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/speculare-cloud/speculare-client/internal/agent"
	"github.com/speculare-cloud/speculare-client/internal/cache"
	"github.com/speculare-cloud/speculare-client/internal/config"
	"github.com/speculare-cloud/speculare-client/internal/events"
	"github.com/speculare-cloud/speculare-client/internal/harvest"
	"github.com/speculare-cloud/speculare-client/internal/metrics"
	"github.com/speculare-cloud/speculare-client/internal/otel"
	"github.com/speculare-cloud/speculare-client/internal/plugin"
	"github.com/speculare-cloud/speculare-client/internal/scheduler"
	"github.com/speculare-cloud/speculare-client/internal/transport"
)

// Set via -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newCommand(os.Stdin, os.Stdout).Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newCommand(in io.Reader, out io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "speculare-client",
		Usage:   "Collect host metrics and push them to a Speculare server",
		Version: version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to the YAML config file",
				Sources: cli.EnvVars("SPECULARE_CONFIG"),
				Value:   config.DefaultPath,
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Optional dotenv file loaded before the config",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Override the configured log level (debug, info, warn, error)",
				Sources: cli.EnvVars("SPECULARE_LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"), cmd.String("env-file"))
			if err != nil {
				return err
			}
			if lvl := cmd.String("log-level"); lvl != "" {
				cfg.LogLevel = lvl
			}
			return run(ctx, cfg)
		},
		Commands: []*cli.Command{
			{
				Name:  "config",
				Usage: "Interactively write a config file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "path",
						Usage: "Directory the config file is written to",
						Value: config.DefaultDir,
					},
				},
				Action: func(_ context.Context, cmd *cli.Command) error {
					_, err := config.Prompt(in, out, cmd.String("path"))
					return err
				},
			},
		},
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	level, err := events.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := events.NewLogger(os.Stderr, level, cfg.LogFormat)
	slog.SetDefault(logger)

	plugins, err := plugin.DefaultRegistry.Select(cfg.Plugins)
	if err != nil {
		return err
	}

	harvester, err := harvest.NewHarvester(ctx, harvest.NewSystemSource(),
		harvest.WithPlugins(plugins...))
	if err != nil {
		return err
	}
	host := harvester.Host()

	el := events.NewEventLogger(logger, host.UUID, host.Hostname)
	events.SetGlobalEventLogger(el)
	harvester.SetEventLogger(el)

	tracer, err := otel.NewTracer(ctx, otel.ConfigFrom(cfg.OTel, version, host.UUID, host.Hostname))
	if err != nil {
		return err
	}
	otel.SetGlobalTracer(tracer)

	hc := transport.NewHTTPClient()
	hc.Transport = otel.RoundTripper(tracer, hc.Transport)
	client := transport.New(cfg.APIURL, cfg.APIToken, host.UUID,
		transport.WithSSOURL(cfg.SSOURL),
		transport.WithHTTPClient(hc),
		transport.WithUserAgent("speculare-client/"+version),
	)

	// The scheduler needs the metrics instance and the metrics callbacks need
	// the scheduler; collections before it exists report zero stats.
	var schedRef atomic.Pointer[scheduler.Scheduler]
	otelMetrics, err := otel.NewMetrics(ctx,
		otel.MetricsConfigFrom(cfg.OTel, version, host.UUID, host.Hostname),
		agent.StatsFunc(func() agent.Stats {
			if s := schedRef.Load(); s != nil {
				return s.Stats()
			}
			return agent.Stats{}
		}))
	if err != nil {
		return err
	}
	otel.SetGlobalMetrics(otelMetrics)

	opts := []scheduler.Option{
		scheduler.WithEventLogger(el),
		scheduler.WithTracer(tracer),
		scheduler.WithMetrics(otelMetrics),
	}
	if client.CanRegister() {
		opts = append(opts, scheduler.WithRegistrar(client))
	}
	settings := scheduler.SettingsFrom(cfg)
	sched, err := scheduler.New(settings, harvester, cache.New(int(cfg.CacheSize)), client, opts...)
	if err != nil {
		return err
	}
	schedRef.Store(sched)

	logger.Info("agent started",
		"version", version,
		"host_uuid", host.UUID,
		"harvest_interval", cfg.HarvestInterval,
		"sync_threshold", sched.SyncThreshold(),
		"cache_size", sched.CacheSize(),
		"plugins", len(plugins),
	)

	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector(sched, host.UUID)
		reg, err := metrics.NewRegistry(collector)
		if err != nil {
			return err
		}
		metricsServer = metrics.NewServer(cfg.MetricsAddr, reg, collector)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if metricsServer != nil {
		g.Go(func() error {
			return metricsServer.Run(gctx)
		})
	}
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := otelMetrics.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics shutdown failed", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("agent stopped", "ticks", sched.Stats().Ticks)
	return nil
}
