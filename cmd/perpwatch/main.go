// Perpwatch - realtime anomaly monitor for Binance USDT-M perpetual futures.
//
// Pipeline:
// 1. Stream all-market miniTickers and per-symbol depth over WebSocket
// 2. Detect price/volume/OI/spread/reversal and order-book anomalies by tier
// 3. Filter fake signals, thin books and stale data before alerting
// 4. Build feature vectors, label them with future returns, persist for ML
// 5. Paper-trade the signals on a virtual account with full exit management
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/internal/config"
	"github.com/quantfeed/perpwatch/internal/core"
	"github.com/quantfeed/perpwatch/internal/dashboard"
	"github.com/quantfeed/perpwatch/internal/detector"
	"github.com/quantfeed/perpwatch/internal/exchange"
	"github.com/quantfeed/perpwatch/internal/features"
	"github.com/quantfeed/perpwatch/internal/labels"
	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/notify"
	"github.com/quantfeed/perpwatch/internal/orderbook"
	"github.com/quantfeed/perpwatch/internal/paper"
	"github.com/quantfeed/perpwatch/internal/risk"
	"github.com/quantfeed/perpwatch/internal/storage"
	"github.com/quantfeed/perpwatch/types"
)

const version = "1.0.0"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	setLogLevel(os.Getenv("LOG_LEVEL"))

	configPath := flag.String("config", "", "path to config.yaml (default $CONFIG_PATH or config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	setLogLevel(cfg.Logging.Level)

	log.Info().
		Str("version", version).
		Bool("trading", cfg.Trading.Enabled).
		Bool("ml", cfg.ML.Enabled).
		Bool("telegram", cfg.Telegram.Enabled).
		Msg("⚡ Perpwatch starting...")

	store, err := storage.New(cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open data store")
	}

	// ====== CORE COMPONENTS ======

	queue := notify.NewQueue(notify.DefaultQueueCapacity)
	tracker := market.NewTracker(cfg.Market())
	book := orderbook.NewMonitor(cfg.Orderbook(), queue, store, nil)
	riskF := risk.NewFilter(cfg.Risk(), tracker, book)
	book.SetWallEventRecorder(riskF)
	det := detector.NewEngine(cfg.Detector(), tracker, riskF, queue, store)
	feat := features.NewEngine(cfg.Features(), tracker, book, cfg.Indicators(), det.TierLabel)
	labeler := labels.NewGenerator(cfg.Labels(), tracker, store)
	offline := labels.NewOfflineGenerator(store, cfg.ML.Label.DirectionThreshold)
	trading := paper.NewEngine(cfg.PaperEngine(), cfg.Account(), cfg.Strategy(), cfg.StopLoss(), store)

	engine := core.NewEngine(cfg, core.Deps{
		Store:   store,
		Tracker: tracker,
		Det:     det,
		Book:    book,
		Risk:    riskF,
		Feat:    feat,
		Labeler: labeler,
		Offline: offline,
		Trading: trading,
		Rest:    exchange.NewClient(),
	})

	// ====== TELEGRAM SURFACE ======

	var bot *notify.Bot
	if cfg.Telegram.Enabled {
		dash := dashboard.New(store, trading, tracker, riskF, labeler)
		bot, err = notify.NewBot(cfg.Notify(), queue, dash, trading)
		if err != nil {
			log.Error().Err(err).Msg("❌ Telegram connect failed, continuing without it")
			bot = nil
		} else {
			if cfg.Telegram.TradeAlerts {
				trading.SetListener(&tradeRelay{bot: bot})
			}
			bot.Start()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}
	log.Info().Msg("🚀 All systems running...")

	// ═══════════════════════════════════════════════════════════════════════════════
	// GRACEFUL SHUTDOWN
	// ═══════════════════════════════════════════════════════════════════════════════

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("🛑 Shutting down...")
	cancel()
	engine.Stop()
	if bot != nil {
		bot.Stop()
	}
	if err := store.Close(); err != nil {
		log.Error().Err(err).Msg("❌ Store close failed")
	}
	log.Info().Msg("👋 Goodbye!")
}

// tradeRelay forwards simulation fills to the telegram bot.
type tradeRelay struct {
	bot *notify.Bot
}

func (r *tradeRelay) PositionOpened(p *types.Position) {
	r.bot.NotifyTrade(notify.TradeOpenedMessage(p))
}

func (r *tradeRelay) TradeClosed(t types.Trade) {
	r.bot.NotifyTrade(notify.TradeClosedMessage(t))
}

func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
