package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/analytics"
	"github.com/otherjamesbrown/calinsight/pkg/assistant"
	"github.com/otherjamesbrown/calinsight/pkg/db"
	"github.com/otherjamesbrown/calinsight/pkg/directory"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
	"github.com/otherjamesbrown/calinsight/pkg/observability"
	"github.com/otherjamesbrown/calinsight/pkg/server"
	"github.com/otherjamesbrown/calinsight/pkg/store"
	"github.com/otherjamesbrown/calinsight/pkg/syncer"
)

type serveFlags struct {
	listen       string
	syncInterval time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(deps *Deps) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API server",
		Long: `Serve the dashboard JSON API, sync run history, the assistant chat endpoint,
health, version and Prometheus metrics.

When redis.addr is set, query results are cached for server.cache_ttl and the
cache is flushed whenever any process finishes a sync.

With --sync-interval the server also runs incremental syncs for calendar.users
on that schedule. A file directory with directory.watch set is reloaded when
the file changes.`,
		Example: `  calinsight serve
  calinsight serve --listen :9090 --sync-interval 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), deps, flags)
		},
	}

	cmd.Flags().StringVar(&flags.listen, "listen", "", "Listen address (default server.listen)")
	cmd.Flags().DurationVar(&flags.syncInterval, "sync-interval", 0, "Run an incremental sync on this interval (0 disables)")

	return cmd
}

func runServe(ctx context.Context, deps *Deps, flags serveFlags) error {
	cfg, err := deps.config()
	if err != nil {
		return err
	}
	logger := deps.logger().With(logging.F("component", "serve"))

	st, err := deps.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb := deps.redis()
	if rdb != nil {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if pg, ok := st.(*store.PostgresStore); ok {
		if _, err := db.RegisterPoolStatsCollector(reg, pg.Pool(), observability.Namespace); err != nil {
			return fmt.Errorf("registering pool metrics: %w", err)
		}
	}
	gatherers := prometheus.Gatherers{reg}

	svcOpts := []analytics.ServiceOption{analytics.WithLogger(logger)}
	if rdb != nil {
		svcOpts = append(svcOpts, analytics.WithCache(analytics.NewRedisCache(rdb), cfg.Server.CacheTTL.Std()))
	}
	svc := analytics.NewService(st, svcOpts...)
	if rdb != nil {
		if err := svc.InvalidateOnSync(ctx, rdb); err != nil {
			logger.Warn("cache invalidation disabled", logging.Err(err))
		}
	}

	var asker server.Asker
	if cfg.Assistant.Enabled() {
		opts := assistant.OptionsFromConfig(cfg.Assistant)
		opts.Logger = logger
		a, err := assistant.New(svc, opts)
		if err != nil {
			return err
		}
		asker = a
	}

	if flags.syncInterval > 0 {
		metrics, stop, err := startScheduledSync(ctx, deps, cfg, st, rdb, svc, flags.syncInterval, logger)
		if err != nil {
			return err
		}
		defer stop()
		gatherers = append(gatherers, metrics.Registry())
	}

	addr := flags.listen
	if addr == "" {
		addr = cfg.Server.Listen
	}
	router := server.NewRouter(svc, st, asker, gatherers, logger)
	return server.New(addr, router.Handler(), logger).Run(ctx)
}

// startScheduledSync runs incremental syncs every interval until ctx is done
// or stop is called. stop returns once the sync loop has exited.
func startScheduledSync(ctx context.Context, deps *Deps, cfg *config.Config, repo meetings.Repository, rdb redis.UniversalClient, svc *analytics.Service, interval time.Duration, logger logging.Logger) (metrics *observability.SyncMetrics, stop func(), err error) {
	if len(cfg.Calendar.Users) == 0 {
		return nil, nil, fmt.Errorf("--sync-interval needs calendar.users")
	}
	metrics = observability.NewSyncMetrics()
	newSource := deps.NewSource
	if newSource == nil {
		newSource = buildSource
	}
	source, err := newSource(cfg, metrics, logger)
	if err != nil {
		return nil, nil, err
	}

	dir, err := openDirectory(ctx, cfg, rdb, logger)
	if err != nil {
		return nil, nil, err
	}
	if dir.Static != nil && cfg.Directory.Watch {
		if err := dir.Static.Watch(ctx, logger); err != nil {
			logger.Warn("directory watch disabled", logging.Err(err))
		}
	}

	options := []syncer.Option{syncer.WithLogger(logger), syncer.WithMetrics(metrics), syncer.WithClock(deps.now)}
	if rdb != nil {
		options = append(options,
			syncer.WithPublisher(observability.NewPublisher(rdb, logger)),
			syncer.WithLocker(observability.NewLocker(rdb)),
		)
	}
	req := syncer.Request{Mode: syncer.ModeIncremental}
	for _, u := range cfg.Calendar.Users {
		req.Users = append(req.Users, directory.NormalizeEmail(u))
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer dir.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			// A fresh memo per run so directory changes are picked up.
			normalizer := meetings.NewNormalizer(directory.Memo(dir), logger)
			s := syncer.New(source, repo, normalizer, syncer.OptionsFromConfig(cfg), options...)
			sum, err := s.Run(ctx, req)
			if err != nil {
				logger.Error("scheduled sync aborted", logging.Err(err))
			}
			if sum != nil && rdb == nil {
				if err := svc.Invalidate(ctx); err != nil {
					logger.Warn("cache invalidation failed", logging.Err(err))
				}
			}
			if url := cfg.Metrics.PushgatewayURL; url != "" {
				if err := metrics.Push(ctx, url, cfg.Metrics.JobName); err != nil {
					logger.Warn("metrics push failed", logging.Err(err))
				}
			}
		}
	}()
	logger.Info("scheduled sync enabled", logging.F("interval", interval), logging.F("users", len(req.Users)))
	stop = func() {
		cancel()
		<-done
	}
	return metrics, stop, nil
}
