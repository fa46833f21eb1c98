// Interval Sniper — an automated trader for 5-minute Up/Down binary markets
// on the Polymarket CLOB.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — interval clock + orchestrator: SL > TP > Buy per tick
//	engine/sell.go       — liquidation sub-protocol: cancel, reconcile balance, FAK retry loop
//	engine/buy.go        — entry-side selection, band pricing, share sizing
//	market/book.go       — shared top-of-book cache fed by the WebSocket stream
//	market/resolver.go   — interval slug math + Gamma market lookup
//	exchange/client.go   — CLOB REST façade (place/cancel/balance/book)
//	exchange/auth.go     — EIP-712 order signing + HMAC L2 request auth
//	exchange/ws.go       — market data stream (book / best_bid_ask / price_change)
//	strategy/            — intent dedupe + position ledger
//	journal/             — JSONL session journal (closes, interval summaries)
//
// How it trades:
//
//	Each 5-minute interval opens a fresh Up/Down market. When the best ask of
//	a side sits inside the configured price band, the bot buys with a FAK
//	order, then watches the best bid of the token it holds: it liquidates at
//	the take-profit target or the stop-loss trigger with aggressive
//	immediate-or-cancel retries until the position is flat or the interval
//	ends. One re-entry per interval is allowed, and only after a stop loss.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"interval-sniper/internal/config"
	"interval-sniper/internal/engine"
	"interval-sniper/internal/exchange"
	"interval-sniper/internal/journal"
	"interval-sniper/internal/market"
	"interval-sniper/internal/metrics"
)

func main() {
	// .env is optional; the environment wins over the file.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	var auth *exchange.Auth
	if cfg.DryRun && cfg.PrivateKey == "" {
		// Dry-run can operate without credentials; the client never signs.
		auth = nil
	} else {
		auth, err = exchange.NewAuth(cfg)
		if err != nil {
			logger.Error("failed to initialise auth", "error", err)
			os.Exit(1)
		}
	}

	clob := exchange.NewClient(cfg, auth, logger)
	resolver := market.NewResolver(cfg.GammaBaseURL, logger)

	var jrnl *journal.Journal
	if cfg.SessionLogEnabled {
		jrnl, err = journal.Open(cfg.SessionLogDir, logger)
		if err != nil {
			logger.Error("failed to open session journal", "error", err)
			os.Exit(1)
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", cfg.MetricsAddr)
	}

	eng := engine.New(cfg, clob, resolver, jrnl, logger)
	eng.Start()

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("interval sniper started",
		"market", cfg.Asset,
		"band", cfg.MinBuyPrice.String()+"-"+cfg.MaxBuyPrice.String(),
		"size_shares", cfg.SizeShares,
		"tp", cfg.TakeProfitPrice,
		"sl", cfg.StopLossPrice,
		"loop_ms", cfg.LoopMS,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())
	eng.Stop()
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
