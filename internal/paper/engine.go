package paper

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfeed/perpwatch/types"
)

// TradingStore persists the simulation. Satisfied by the trading data store.
type TradingStore interface {
	SavePosition(p *types.Position) error
	SaveTrade(t types.Trade) error
	SaveAccountState(state types.AccountState) error
	SaveEquityPoint(symbol string, ts time.Time, equity, balance, drawdown decimal.Decimal) error
}

// EngineConfig tunes the realtime simulation loop.
type EngineConfig struct {
	Enabled               bool          `yaml:"enabled"`
	SaveInterval          time.Duration `yaml:"save_interval"`
	LogTrades             bool          `yaml:"log_trades"`
	MaxPositionsPerSymbol int           `yaml:"max_positions_per_symbol"`
	AllowedSymbols        []string      `yaml:"allowed_symbols"`
}

// DefaultEngineConfig returns the stock realtime setup.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Enabled:               true,
		SaveInterval:          time.Minute,
		LogTrades:             true,
		MaxPositionsPerSymbol: 1,
	}
}

// TradeListener observes opened positions and closed trades, for outbound
// notifications. Calls happen on the feature-update path and must be quick.
type TradeListener interface {
	PositionOpened(p *types.Position)
	TradeClosed(t types.Trade)
}

// Engine drives the paper simulation off feature updates.
type Engine struct {
	cfg      EngineConfig
	account  *VirtualAccount
	stops    *StopLossManager
	manager  *PositionManager
	strategy *Strategy
	store    TradingStore
	listener TradeListener

	mu           sync.Mutex
	running      bool
	lastSave     time.Time
	latestPrices map[string]decimal.Decimal
	allowed      map[string]struct{}
	signalCount  int64
	tradeCount   int64
	symbolsSeen  map[string]struct{}

	nowFunc func() time.Time
}

// NewEngine assembles the simulation. store may be nil for a memory-only run.
func NewEngine(cfg EngineConfig, accountCfg AccountConfig, strategyCfg StrategyConfig, stopCfg StopLossConfig, store TradingStore) *Engine {
	account := NewVirtualAccount(accountCfg)
	stops := NewStopLossManager(stopCfg)

	var allowed map[string]struct{}
	if len(cfg.AllowedSymbols) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedSymbols))
		for _, s := range cfg.AllowedSymbols {
			allowed[s] = struct{}{}
		}
	}

	return &Engine{
		cfg:          cfg,
		account:      account,
		stops:        stops,
		manager:      NewPositionManager(account, stops),
		strategy:     NewStrategy(strategyCfg, stops),
		store:        store,
		latestPrices: make(map[string]decimal.Decimal),
		allowed:      allowed,
		symbolsSeen:  make(map[string]struct{}),
		nowFunc:      time.Now,
	}
}

// SetListener installs a trade observer. Call before Start.
func (e *Engine) SetListener(l TradeListener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

func (e *Engine) notifyOpened(p *types.Position) {
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l.PositionOpened(p)
	}
}

func (e *Engine) notifyClosed(t types.Trade) {
	e.mu.Lock()
	l := e.listener
	e.mu.Unlock()
	if l != nil {
		l.TradeClosed(t)
	}
}

// Start arms the engine.
func (e *Engine) Start() {
	e.mu.Lock()
	e.running = true
	e.lastSave = e.nowFunc()
	e.mu.Unlock()
	log.Info().Msg("🎮 Paper trading engine started")
}

// Stop disarms the engine and persists the final account state.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveAccountState(e.account.State(e.nowFunc())); err != nil {
			log.Error().Err(err).Msg("❌ Final account state save failed")
		}
	}
	stats := e.account.Stats()
	log.Info().
		Int("trades", stats.TotalTrades).
		Str("return_pct", stats.ReturnPct.StringFixed(2)).
		Msg("🎮 Paper trading engine stopped")
}

// Running reports whether the engine processes updates.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// OnFeatureUpdate is the integration point with the feature pipeline: mark
// positions, run exits, score an entry, and periodically persist state.
func (e *Engine) OnFeatureUpdate(symbol string, fv *types.FeatureVector, price float64) {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if e.allowed != nil {
		if _, ok := e.allowed[symbol]; !ok {
			e.mu.Unlock()
			return
		}
	}
	mark := decimal.NewFromFloat(price)
	e.latestPrices[symbol] = mark
	e.symbolsSeen[symbol] = struct{}{}
	e.mu.Unlock()

	ts := fv.Timestamp
	if ts.IsZero() {
		ts = e.nowFunc()
	}

	e.manager.UpdatePnL(map[string]decimal.Decimal{symbol: mark})
	e.closeTriggered(symbol, mark, fv, ts)
	e.maybeOpen(symbol, fv, mark, ts)
	e.maybeSave()
}

func (e *Engine) closeTriggered(symbol string, price decimal.Decimal, fv *types.FeatureVector, ts time.Time) {
	for _, p := range e.manager.Positions(symbol) {
		hit, reason := e.manager.CheckExit(p, price, fv, ts)
		if !hit {
			if exit, why := e.strategy.ShouldClose(fv, p.Side); exit {
				hit, reason = true, types.ExitSignalExit
				log.Debug().Str("symbol", symbol).Str("why", why).Msg("📉 Signal exit")
			}
		}
		if !hit {
			continue
		}

		trade := e.manager.Close(p, price, reason, ts)
		e.mu.Lock()
		e.tradeCount++
		e.mu.Unlock()

		if e.store != nil {
			if err := e.store.SaveTrade(trade); err != nil {
				log.Error().Err(err).Str("symbol", symbol).Msg("❌ Trade save failed")
			}
		}
		e.notifyClosed(trade)
	}
}

func (e *Engine) maybeOpen(symbol string, fv *types.FeatureVector, price decimal.Decimal, ts time.Time) {
	if len(e.manager.Positions(symbol)) >= e.cfg.MaxPositionsPerSymbol {
		return
	}

	signal := e.strategy.GenerateSignal(symbol, fv, price)
	if signal == nil {
		return
	}
	e.mu.Lock()
	e.signalCount++
	e.mu.Unlock()

	if e.manager.HasPosition(symbol, signal.Side) {
		return
	}

	position, _ := e.manager.Open(OpenRequest{
		Symbol:    symbol,
		Side:      signal.Side,
		Price:     price,
		Signal:    signal,
		Timestamp: ts,
	})
	if position == nil {
		return
	}
	if e.store != nil {
		if err := e.store.SavePosition(position); err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("❌ Position save failed")
		}
	}
	e.notifyOpened(position)
}

func (e *Engine) maybeSave() {
	e.mu.Lock()
	now := e.nowFunc()
	due := now.Sub(e.lastSave) >= e.cfg.SaveInterval
	if due {
		e.lastSave = now
	}
	e.mu.Unlock()

	if !due {
		return
	}
	e.account.RecordEquity(now)
	if e.store == nil {
		return
	}

	state := e.account.State(now)
	if err := e.store.SaveAccountState(state); err != nil {
		log.Error().Err(err).Msg("❌ Account state save failed")
		return
	}
	if err := e.store.SaveEquityPoint("ALL", state.Timestamp, state.Equity, state.Balance, state.MaxDrawdown); err != nil {
		log.Error().Err(err).Msg("❌ Equity point save failed")
	}
}

// CloseAll force-closes every position at the latest marks.
func (e *Engine) CloseAll(reason string) []types.Trade {
	e.mu.Lock()
	prices := make(map[string]decimal.Decimal, len(e.latestPrices))
	for s, p := range e.latestPrices {
		prices[s] = p
	}
	e.mu.Unlock()

	trades := e.manager.CloseAll(prices, reason, e.nowFunc())
	for _, t := range trades {
		if e.store != nil {
			if err := e.store.SaveTrade(t); err != nil {
				log.Error().Err(err).Str("symbol", t.Symbol).Msg("❌ Trade save failed")
			}
		}
		e.notifyClosed(t)
	}
	return trades
}

// Account exposes the underlying account for dashboards.
func (e *Engine) Account() *VirtualAccount { return e.account }

// Positions lists open positions, all symbols when symbol is "".
func (e *Engine) Positions(symbol string) []*types.Position { return e.manager.Positions(symbol) }

// EngineStats summarizes the run.
type EngineStats struct {
	SignalCount      int64
	TradeCount       int64
	OpenPositions    int
	ProcessedSymbols int
	Account          Statistics
}

// Stats snapshots the run counters.
func (e *Engine) Stats() EngineStats {
	e.mu.Lock()
	signals, trades, seen := e.signalCount, e.tradeCount, len(e.symbolsSeen)
	e.mu.Unlock()

	return EngineStats{
		SignalCount:      signals,
		TradeCount:       trades,
		OpenPositions:    e.account.OpenCount(),
		ProcessedSymbols: seen,
		Account:          e.account.Stats(),
	}
}
