// streamtest watches a few wallets over the streaming endpoint and prints
// every logs notification to the console. No subscribers, dispatcher or
// database are involved.
//
// Usage: go run ./cmd/streamtest --config configs/watcher.local.yaml \
//
//	--address 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/rickgao/wallet-watch/internal/config"
	"github.com/rickgao/wallet-watch/internal/connection"
	"github.com/rickgao/wallet-watch/internal/dispatch"
	"github.com/rickgao/wallet-watch/internal/httpapi"
	"github.com/rickgao/wallet-watch/internal/model"
	"github.com/rickgao/wallet-watch/internal/pool"
)

type sink chan model.TransactionEvent

func (s sink) Submit(ev model.TransactionEvent) {
	select {
	case s <- ev:
	default:
	}
}

func main() {
	configPath := flag.String("config", "configs/watcher.example.yaml", "path to config file")
	addresses := flag.String("address", "", "comma-separated wallet addresses to watch")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	godotenv.Load()

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	var wallets []string
	for _, a := range strings.Split(*addresses, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if err := httpapi.ValidateAddress(a); err != nil {
			logger.Error("invalid address", "error", err)
			os.Exit(1)
		}
		wallets = append(wallets, a)
	}
	if len(wallets) == 0 {
		logger.Error("at least one --address is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	events := make(sink, 1000)
	p := pool.New(pool.Config{
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
			BufferSize:   1000,
		},
	}, events, logger)

	if err := p.Start(ctx); err != nil {
		logger.Error("failed to start pool", "error", err)
		os.Exit(1)
	}

	logger.Info("connecting", "ws_url", cfg.RPC.WSURL, "wallets", len(wallets))
	for _, w := range wallets {
		if err := p.Add(ctx, w, 0); err != nil {
			logger.Error("failed to watch wallet", "address", w, "error", err)
			os.Exit(1)
		}
		logger.Info("watching", "address", w)
	}

	go printEvents(ctx, events, *verbose, cfg.Dispatch.ExplorerURL)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, s := range p.Status() {
					logger.Info("connection",
						"id", s.ID,
						"state", s.State,
						"wallets", s.WalletCount,
						"reconnecting", s.IsReconnecting,
						"attempts", s.ReconnectAttempts,
					)
				}
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Info("shutting down...")
	p.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}

func printEvents(ctx context.Context, events <-chan model.TransactionEvent, verbose bool, explorerURL string) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if verbose {
				data, _ := json.MarshalIndent(ev, "", "  ")
				fmt.Printf("[EVENT] %s\n", data)
				continue
			}
			fmt.Printf("[EVENT conn=%d]\n%s\n", ev.ConnID, dispatch.Render(ev, explorerURL, dispatch.DefaultMaxLogLines))
		}
	}
}
