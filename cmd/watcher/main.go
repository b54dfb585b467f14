// watcher streams logs notifications for watched wallets and forwards them
// to subscribers.
//
// Usage: go run ./cmd/watcher --config configs/watcher.local.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/wallet-watch/internal/config"
	"github.com/rickgao/wallet-watch/internal/connection"
	"github.com/rickgao/wallet-watch/internal/database"
	"github.com/rickgao/wallet-watch/internal/dispatch"
	"github.com/rickgao/wallet-watch/internal/httpapi"
	"github.com/rickgao/wallet-watch/internal/journal"
	"github.com/rickgao/wallet-watch/internal/metrics"
	"github.com/rickgao/wallet-watch/internal/model"
	"github.com/rickgao/wallet-watch/internal/notify"
	"github.com/rickgao/wallet-watch/internal/pool"
	"github.com/rickgao/wallet-watch/internal/rpc"
	"github.com/rickgao/wallet-watch/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/watcher.local.yaml", "path to config file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(os.Stdout, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("starting watcher",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"instance_id", cfg.Instance.ID,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("watcher failed", "error", err)
		os.Exit(1)
	}
	logger.Info("watcher stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	rpcClient := rpc.NewClient(
		cfg.RPC.HTTPURL,
		cfg.RPC.APIKey,
		rpc.WithLogger(logger),
		rpc.WithTimeout(cfg.RPC.Timeout),
		rpc.WithRetries(cfg.RPC.MaxRetries, time.Second),
		rpc.WithCommitment(cfg.RPC.Commitment),
	)

	checkCtx, checkCancel := context.WithTimeout(ctx, cfg.RPC.Timeout)
	if err := rpcClient.Health(checkCtx); err != nil {
		// Not fatal: the streaming endpoint may still be usable
		logger.Warn("rpc health check failed", "url", cfg.RPC.HTTPURL, "error", err)
	}
	checkCancel()

	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		return err
	}

	// Optional delivery journal
	var (
		db   *pgxpool.Pool
		jrnl *journal.Journal
	)
	if cfg.Database.Enabled() {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		db, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer db.Close()

		jrnl = journal.New(journal.Config{
			BatchSize:     cfg.Journal.BatchSize,
			FlushInterval: cfg.Journal.FlushInterval,
			BufferSize:    cfg.Journal.BufferSize,
		}, db, logger.With("component", "journal"), journal.WithMetrics(m))

		if err := jrnl.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := jrnl.Start(context.Background()); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
	}

	// The pool feeds the dispatcher and the dispatcher reads subscribers
	// back from the pool; the sink closes over the dispatcher variable.
	var disp *dispatch.Dispatcher
	sink := sinkFunc(func(ev model.TransactionEvent) { disp.Submit(ev) })

	p := pool.New(poolConfig(cfg), sink, logger.With("component", "pool"), pool.WithMetrics(m))

	dispOpts := []dispatch.Option{dispatch.WithMetrics(m)}
	if jrnl != nil {
		dispOpts = append(dispOpts, dispatch.WithRecorder(jrnl))
	}
	disp = dispatch.New(
		dispatchConfig(cfg),
		p,
		newResolver(cfg.Dispatch.ResolveBy, rpcClient),
		notifier,
		logger.With("component", "dispatch"),
		dispOpts...,
	)

	// Pool, dispatcher and journal are stopped explicitly below, in that
	// order, so queued notifications drain against the pool's final
	// subscriptions and the last batch is written.
	if err := disp.Start(context.Background()); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	if err := p.Start(context.Background()); err != nil {
		return fmt.Errorf("start pool: %w", err)
	}

	httpOpts := []httpapi.Option{
		httpapi.WithMetricsHandler(m.Handler()),
		httpapi.WithCheck("rpc", rpcClient.Health),
		httpapi.WithStats("dispatch", func() any { return disp.Stats() }),
	}
	if db != nil {
		httpOpts = append(httpOpts,
			httpapi.WithCheck("database", db.Ping),
			httpapi.WithStats("journal", func() any { return jrnl.Stats() }),
		)
	}
	server := httpapi.New(httpapi.Config{
		Port:        cfg.HTTP.Port,
		MetricsPath: cfg.HTTP.MetricsPath,
	}, p, logger.With("component", "http"), httpOpts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return nil
		case <-p.Done():
			return errors.New("pool stopped unexpectedly")
		}
	})

	logger.Info("watcher running",
		"instance_id", cfg.Instance.ID,
		"ws_url", cfg.RPC.WSURL,
		"http_port", cfg.HTTP.Port,
	)

	<-gctx.Done()
	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := p.Shutdown(shutdownCtx); err != nil {
		logger.Warn("pool shutdown incomplete", "error", err)
	}
	if err := disp.Stop(shutdownCtx); err != nil {
		logger.Warn("dispatcher stop incomplete", "error", err)
	}
	if jrnl != nil {
		if err := jrnl.Stop(shutdownCtx); err != nil {
			logger.Warn("journal stop incomplete", "error", err)
		}
	}

	return g.Wait()
}

// sinkFunc adapts a function to pool.NotificationSink.
type sinkFunc func(ev model.TransactionEvent)

func (f sinkFunc) Submit(ev model.TransactionEvent) { f(ev) }

func poolConfig(cfg *config.Config) pool.Config {
	return pool.Config{
		WalletsPerConnection: cfg.Pool.WalletsPerConnection,
		MaxConnections:       cfg.Pool.MaxConnections,
		ReconnectBaseDelay:   cfg.Pool.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Pool.ReconnectMaxDelay,
		MaxReconnectAttempts: cfg.Pool.MaxReconnectAttempts,
		ConnectTimeout:       cfg.Pool.ConnectTimeout,
		Commitment:           cfg.RPC.Commitment,
		Client: connection.ClientConfig{
			URL:          cfg.RPC.WSURL,
			APIKey:       cfg.RPC.APIKey,
			PingInterval: cfg.Pool.PingInterval,
			PingTimeout:  cfg.Pool.PingTimeout,
			WriteTimeout: cfg.Pool.WriteTimeout,
			BufferSize:   connection.DefaultClientConfig().BufferSize,
		},
	}
}

func dispatchConfig(cfg *config.Config) dispatch.Config {
	c := dispatch.DefaultConfig()
	c.Workers = cfg.Dispatch.Workers
	c.QueueSize = cfg.Dispatch.QueueSize
	c.DedupeTTL = cfg.Dispatch.DedupeTTL
	c.DedupeSize = cfg.Dispatch.DedupeSize
	c.ExplorerURL = cfg.Dispatch.ExplorerURL
	c.MaxLogLines = cfg.Dispatch.MaxLogLines
	return c
}

func newResolver(by string, lookup dispatch.SignerLookup) dispatch.OwnerResolver {
	if by == dispatch.ResolveBySubscription {
		return dispatch.SubscriptionResolver{}
	}
	return dispatch.SignerResolver{Lookup: lookup}
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) (dispatch.Notifier, error) {
	if cfg.TelegramToken == "" {
		logger.Warn("no telegram token configured, notifications will only be logged")
		return notify.NewLog(logger.With("component", "notify")), nil
	}
	tg, err := notify.NewTelegram(cfg.TelegramToken, notify.WithLogger(logger.With("component", "notify")))
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return tg, nil
}
