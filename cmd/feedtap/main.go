// feedtap connects to the market-data stream and prints tick and candle
// updates to the console.
// Usage: go run ./cmd/feedtap --config configs/feedtap.example.yaml --symbols AAPL,MSFT
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/anvilabs/marketpipe/internal/candles"
	"github.com/anvilabs/marketpipe/internal/chart"
	"github.com/anvilabs/marketpipe/internal/config"
	"github.com/anvilabs/marketpipe/internal/history"
	"github.com/anvilabs/marketpipe/internal/metrics"
	"github.com/anvilabs/marketpipe/internal/model"
	"github.com/anvilabs/marketpipe/internal/pricestore"
	"github.com/anvilabs/marketpipe/internal/stream"
	"github.com/anvilabs/marketpipe/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/feedtap.example.yaml", "path to config file")
	symbolsFlag := flag.String("symbols", "AAPL", "comma-separated symbols to subscribe")
	intervalFlag := flag.String("interval", "1m", "candle interval for the chart session")
	backfill := flag.Int("backfill", 0, "keep loading older candles until this many bars are held")
	verbose := flag.Bool("verbose", false, "print every stored tick")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load config
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))

	interval := model.Interval(*intervalFlag)
	if !interval.Valid() {
		logger.Error("invalid interval", "interval", *intervalFlag)
		os.Exit(1)
	}

	symbols := splitSymbols(*symbolsFlag)
	if len(symbols) == 0 {
		logger.Error("no symbols given")
		os.Exit(1)
	}

	wsURL, err := cfg.StreamURL()
	if err != nil {
		logger.Error("failed to derive stream url", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	// Metrics
	m := metrics.New()
	reg := prometheus.NewRegistry()
	m.Register(reg)
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", "addr", cfg.Metrics.Addr, "path", cfg.Metrics.Path)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	// Price store and stream client
	store := pricestore.New()

	streamCfg := stream.DefaultConfig()
	streamCfg.URL = wsURL
	streamCfg.PingInterval = cfg.Stream.PingInterval
	streamCfg.ReconnectBaseDelay = cfg.Stream.ReconnectBaseDelay
	streamCfg.ReconnectMaxDelay = cfg.Stream.ReconnectMaxDelay
	streamCfg.MaxReconnects = cfg.Stream.MaxReconnects
	streamCfg.WriteTimeout = cfg.Stream.WriteTimeout
	streamCfg.BufferSize = cfg.Stream.BufferSize

	client := stream.NewClient(streamCfg, store, logger, stream.WithMetrics(m))
	client.Subscribe(symbols...)

	logger.Info("starting stream client", "url", wsURL, "symbols", symbols)
	client.Start(ctx)

	// Candle history session for the first symbol
	hist := history.NewClient(cfg.BaseURL,
		history.WithTimeout(cfg.History.Timeout),
		history.WithRetries(cfg.History.MaxRetries, cfg.History.RetryBackoff),
		history.WithLogger(logger),
	)

	acc := candles.New(hist, logger, candles.WithMetrics(m))
	bridge := chart.NewBridge(acc, &consoleChart{symbol: symbols[0]}, logger)

	if err := acc.OpenSession(ctx, symbols[0], interval); err != nil {
		logger.Warn("initial candle load failed", "symbol", symbols[0], "error", err)
	}

	if *backfill > 0 {
		go func() {
			ticker := time.NewTicker(500 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if len(acc.Candles()) >= *backfill || !acc.HasMore() {
						return
					}
					bridge.NearLeftEdge(ctx)
				}
			}
		}()
	}

	// Tick printer
	go printTicks(ctx, store, symbols, *verbose, logger)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logger.Info("stats",
					"state", client.State(),
					"connected", store.Connected(),
					"symbols_tracked", store.Len(),
					"candles", len(acc.Candles()),
					"has_more", acc.HasMore(),
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	client.Stop()
	acc.Close()

	logger.Info("shutdown complete")
}

func printTicks(ctx context.Context, store *pricestore.Store, symbols []string, verbose bool, logger *slog.Logger) {
	updates := store.Watch()
	for {
		select {
		case <-ctx.Done():
			return
		case <-updates:
			for _, sym := range symbols {
				tick, ok := store.GetPrice(sym)
				if !ok {
					continue
				}
				if verbose {
					fmt.Printf("[TICK] symbol=%s ltp=%.2f prev=%.2f dir=%s ts=%d\n",
						tick.Symbol, tick.LTP, tick.PrevLTP, tick.Direction(), tick.TimestampMs)
				} else {
					fmt.Printf("[TICK] symbol=%s ltp=%.2f dir=%s\n", tick.Symbol, tick.LTP, tick.Direction())
				}
			}
		}
	}
}

// consoleChart renders candle updates as console lines.
type consoleChart struct {
	symbol string
}

func (c *consoleChart) SetSeries(cs []model.Candle) {
	fmt.Printf("[CHART] symbol=%s bars=%d\n", c.symbol, len(cs))
}

func (c *consoleChart) UpdateBar(bar model.Candle) {
	fmt.Printf("[BAR] symbol=%s time=%s o=%.2f h=%.2f l=%.2f c=%.2f\n",
		c.symbol, bar.Time.Text(), bar.Open, bar.High, bar.Low, bar.Close)
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
