package core

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/internal/config"
	"github.com/quantfeed/perpwatch/internal/detector"
	"github.com/quantfeed/perpwatch/internal/exchange"
	"github.com/quantfeed/perpwatch/internal/features"
	"github.com/quantfeed/perpwatch/internal/labels"
	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/orderbook"
	"github.com/quantfeed/perpwatch/internal/paper"
	"github.com/quantfeed/perpwatch/internal/risk"
	"github.com/quantfeed/perpwatch/internal/scheduler"
	"github.com/quantfeed/perpwatch/internal/storage"
	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Feed → Tracker → Detectors → Risk → Queue
//                  ↘ Features → Labels → Storage
//                             ↘ Paper trading
//
// Ticker dispatch never blocks on storage: snapshots go through a buffered
// writer channel and excess batches are dropped.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	snapshotBuffer  = 16
	labelInterval   = 10 * time.Second
	cleanupInterval = 5 * time.Minute
	trackerMaxAge   = time.Hour
	retentionAge    = 30 * 24 * time.Hour
	storageCleanup  = 24 * time.Hour
	backfillBatch   = 200
)

// Engine owns the pipeline goroutines and the scheduler.
type Engine struct {
	cfg *config.Config

	store   *storage.Store
	tracker *market.Tracker
	det     *detector.Engine
	book    *orderbook.Monitor
	riskF   *risk.Filter
	feat    *features.Engine
	labeler *labels.Generator
	offline *labels.OfflineGenerator
	trading *paper.Engine
	feed    *exchange.Feed
	rest    *exchange.Client
	sched   *scheduler.Runner

	snapshotCh chan []types.Ticker
	alertMarks *alertMarks
	stopCh     chan struct{}
}

// Deps carries the wired components. All fields required except trading.
type Deps struct {
	Store   *storage.Store
	Tracker *market.Tracker
	Det     *detector.Engine
	Book    *orderbook.Monitor
	Risk    *risk.Filter
	Feat    *features.Engine
	Labeler *labels.Generator
	Offline *labels.OfflineGenerator
	Trading *paper.Engine
	Rest    *exchange.Client
}

// NewEngine wires the orchestrator. The websocket feed is created here so
// its handlers close over the pipeline.
func NewEngine(cfg *config.Config, d Deps) *Engine {
	e := &Engine{
		cfg:        cfg,
		store:      d.Store,
		tracker:    d.Tracker,
		det:        d.Det,
		book:       d.Book,
		riskF:      d.Risk,
		feat:       d.Feat,
		labeler:    d.Labeler,
		offline:    d.Offline,
		trading:    d.Trading,
		rest:       d.Rest,
		sched:      scheduler.New(),
		snapshotCh: make(chan []types.Ticker, snapshotBuffer),
		alertMarks: newAlertMarks(),
		stopCh:     make(chan struct{}),
	}
	e.feed = exchange.NewFeed(cfg.Feed(), e.onTickers, e.onDepth)
	e.registerTasks()
	return e
}

// Feed exposes the websocket feed, mainly for shutdown ordering.
func (e *Engine) Feed() *exchange.Feed { return e.feed }

// Start discovers symbols, opens the streams and launches the scheduler.
func (e *Engine) Start(ctx context.Context) error {
	if symbols, err := e.rest.PerpetualSymbols(ctx); err != nil {
		log.Warn().Err(err).Msg("⚠️ Symbol discovery failed, streaming all")
	} else {
		log.Info().Int("symbols", len(symbols)).Msg("📋 Perpetual universe loaded")
	}

	go e.snapshotWriter()

	if e.trading != nil && e.cfg.Trading.Enabled {
		e.trading.Start()
	}
	e.feed.Start()
	e.sched.Start(ctx)

	log.Info().Msg("⚡ Engine started")
	return nil
}

// Stop tears the pipeline down: streams first, then positions, then tasks.
func (e *Engine) Stop() {
	e.feed.Stop()
	e.sched.Stop()

	if e.trading != nil {
		trades := e.trading.CloseAll(types.ExitManual)
		if len(trades) > 0 {
			log.Info().Int("trades", len(trades)).Msg("🔚 Open positions closed on shutdown")
		}
		e.trading.Stop()
	}

	close(e.stopCh)
	log.Info().Msg("⚡ Engine stopped")
}

// onTickers is the hot path: one all-market frame per second.
func (e *Engine) onTickers(tickers []types.Ticker) {
	// ProcessTickers feeds the tracker itself; updating here too would put
	// every frame into the history twice and skew the volume baselines.
	events := e.det.ProcessTickers(tickers)
	for _, ev := range events {
		e.alertMarks.add(ev.Symbol, ev.Kind)
	}

	select {
	case e.snapshotCh <- tickers:
	default:
		// Writer behind, drop the batch. The tracker still has the prices.
	}
}

func (e *Engine) onDepth(snapshot *types.DepthSnapshot) {
	events := e.book.ProcessSnapshot(snapshot)
	for _, ev := range events {
		e.alertMarks.add(ev.Symbol, ev.Kind)
	}
}

func (e *Engine) snapshotWriter() {
	for {
		select {
		case batch := <-e.snapshotCh:
			if err := e.store.SavePriceSnapshots(batch); err != nil {
				log.Error().Err(err).Msg("❌ Snapshot batch save failed")
			}
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) registerTasks() {
	e.sched.Add(scheduler.Task{
		Name:       "oi-poll",
		Interval:   e.cfg.OIPollInterval(),
		RunAtStart: true,
		Fn:         e.pollOpenInterest,
	})
	e.sched.Add(scheduler.Task{
		Name:       "spot-poll",
		Interval:   e.cfg.SpotPollInterval(),
		RunAtStart: true,
		Fn:         e.pollSpotPrices,
	})
	if e.cfg.ML.Enabled {
		e.sched.Add(scheduler.Task{
			Name:     "feature-batch",
			Interval: e.cfg.FeatureSaveInterval(),
			Fn:       e.computeFeatures,
		})
		e.sched.Add(scheduler.Task{
			Name:     "label-attempt",
			Interval: labelInterval,
			Fn:       e.generateLabels,
		})
		e.sched.Add(scheduler.Task{
			Name:       "label-backfill",
			Interval:   cleanupInterval,
			RunAtStart: true,
			Fn:         e.backfillLabels,
		})
	}
	e.sched.Add(scheduler.Task{
		Name:     "state-cleanup",
		Interval: cleanupInterval,
		Fn:       e.cleanupState,
	})
	e.sched.Add(scheduler.Task{
		Name:     "storage-cleanup",
		Interval: storageCleanup,
		Fn:       e.cleanupStorage,
	})
}

func (e *Engine) pollOpenInterest(ctx context.Context) {
	symbols := e.tracker.AllSymbols()
	if len(symbols) == 0 {
		return
	}
	values := e.rest.AllOpenInterest(ctx, symbols)
	now := time.Now()
	for symbol, oi := range values {
		e.tracker.UpdateOI(symbol, oi, now)
	}
}

func (e *Engine) pollSpotPrices(ctx context.Context) {
	prices, err := e.rest.SpotPrices(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Spot price poll failed")
		return
	}
	e.tracker.BatchUpdateSpot(prices, time.Now())
}

// computeFeatures runs the vector batch over every tracked symbol, feeds the
// label generator and the paper engine, and persists the batch.
func (e *Engine) computeFeatures(ctx context.Context) {
	symbols := e.tracker.AllSymbols()
	if len(symbols) == 0 {
		return
	}

	snapshots := make(map[string]*types.DepthSnapshot)
	for _, symbol := range symbols {
		if snap, ok := e.book.Snapshot(symbol); ok {
			snapshots[symbol] = snap
		}
	}

	vectors := e.feat.ComputeBatch(symbols, snapshots)
	marks := e.alertMarks.drain()
	for _, fv := range vectors {
		for _, kind := range marks[fv.Symbol] {
			e.feat.MarkAlert(fv, kind)
		}
		e.labeler.Register(fv)
		if e.trading != nil {
			e.trading.OnFeatureUpdate(fv.Symbol, fv, fv.Price)
		}
	}

	if ctx.Err() != nil || len(vectors) == 0 {
		return
	}
	batch := make([]types.FeatureVector, 0, len(vectors))
	for _, fv := range vectors {
		batch = append(batch, *fv)
	}
	if err := e.store.SaveFeatureBatch(batch); err != nil {
		log.Error().Err(err).Int("vectors", len(batch)).Msg("❌ Feature batch save failed")
	}
}

func (e *Engine) generateLabels(ctx context.Context) {
	generated := e.labeler.TryGenerateAll()
	if len(generated) == 0 {
		return
	}

	var batch []types.Label
	for _, ls := range generated {
		batch = append(batch, ls...)
	}
	if err := e.store.SaveLabels(batch); err != nil {
		log.Error().Err(err).Int("labels", len(batch)).Msg("❌ Label save failed")
		return
	}
	log.Debug().Int("labels", len(batch)).Msg("🏷️ Labels persisted")
}

func (e *Engine) backfillLabels(ctx context.Context) {
	n, err := e.offline.Backfill("", backfillBatch)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ Label backfill failed")
		return
	}
	if n > 0 {
		log.Info().Int("labels", n).Msg("🏷️ Backfilled labels from stored prices")
	}
}

func (e *Engine) cleanupState(ctx context.Context) {
	e.tracker.CleanupOlderThan(trackerMaxAge)
	e.riskF.Cleanup(trackerMaxAge)
	e.det.PurgeCooldowns()
}

func (e *Engine) cleanupStorage(ctx context.Context) {
	if _, err := e.store.CleanupOldData(retentionAge); err != nil {
		log.Error().Err(err).Msg("❌ Storage cleanup failed")
	}
	if err := e.store.CleanupTradingData(retentionAge); err != nil {
		log.Error().Err(err).Msg("❌ Trading data cleanup failed")
	}
}
