// ═══════════════════════════════════════════════════════════════════════════
// FEATURE ENGINE - Fixed-schema feature vectors for model training
//
// Aggregates the price tracker, orderbook monitor and indicator bundle into
// one FeatureVector per symbol. Read-only over its collaborators: computing
// features never mutates tracker state and never schedules a label.
// ═══════════════════════════════════════════════════════════════════════════

package features

import (
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/internal/indicators"
	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/orderbook"
	"github.com/quantfeed/perpwatch/types"
)

const minPricePoints = 5

// WallSource exposes the orderbook state the engine folds into features.
// Satisfied by *orderbook.Monitor.
type WallSource interface {
	Snapshot(symbol string) (*types.DepthSnapshot, bool)
	TrackedWalls(symbol string) []types.WallState
	DepthInfo(symbol string) (orderbook.DepthInfo, bool)
}

// Config tunes the windows the engine samples.
type Config struct {
	ReversalWindow  time.Duration `yaml:"reversal_window"`
	VolumePeriods1m int           `yaml:"volume_periods_1m"`
	VolumePeriods5m int           `yaml:"volume_periods_5m"`
}

// DefaultConfig returns the production windows.
func DefaultConfig() Config {
	return Config{
		ReversalWindow:  300 * time.Second,
		VolumePeriods1m: 6,
		VolumePeriods5m: 30,
	}
}

// Engine builds feature vectors. tierFn and walls may be nil.
type Engine struct {
	cfg     Config
	tracker *market.Tracker
	walls   WallSource
	calc    *indicators.Calculator
	tierFn  func(symbol string) string

	nowFunc func() time.Time
}

// NewEngine wires a feature engine around the tracker.
func NewEngine(cfg Config, tracker *market.Tracker, walls WallSource, calc *indicators.Calculator, tierFn func(string) string) *Engine {
	if calc == nil {
		calc = indicators.NewCalculator()
	}
	return &Engine{
		cfg:     cfg,
		tracker: tracker,
		walls:   walls,
		calc:    calc,
		tierFn:  tierFn,
		nowFunc: time.Now,
	}
}

// Compute builds the feature vector for one symbol. snapshot may override the
// monitor's cached book. Returns nil when fewer than five price points exist.
func (e *Engine) Compute(symbol string, snapshot *types.DepthSnapshot) *types.FeatureVector {
	state, ok := e.tracker.Snapshot(symbol)
	if !ok || len(state.PriceHistory) < minPricePoints {
		return nil
	}
	if state.LatestPrice == 0 {
		return nil
	}

	now := e.nowFunc()
	fv := &types.FeatureVector{
		Symbol:      symbol,
		Timestamp:   now,
		Price:       state.LatestPrice,
		QuoteVolume: state.LatestQuoteVolume,
	}

	fv.PriceChange1m = e.priceChangeWindow(state, now, time.Minute)
	fv.PriceChange5m = e.priceChangeWindow(state, now, 5*time.Minute)
	fv.PriceChange15m = e.priceChangeWindow(state, now, 15*time.Minute)

	fv.Volatility1m = volatilityWindow(state, now, time.Minute)
	fv.Volatility5m = volatilityWindow(state, now, 5*time.Minute)

	fv.VolumeRatio1m = volumeRatioPeriods(state, e.cfg.VolumePeriods1m)
	fv.VolumeRatio5m = volumeRatioPeriods(state, e.cfg.VolumePeriods5m)

	if oi, ok := e.tracker.OIChange(symbol); ok {
		fv.OIChange5m = oi
	}
	if oi, ok := e.tracker.OIChangeWindow(symbol, 15*time.Minute); ok {
		fv.OIChange15m = oi
	}
	if spread, _, _, ok := e.tracker.SpotFuturesSpread(symbol); ok {
		fv.SpotFuturesSpread = spread
	}

	e.fillOrderbook(fv, symbol, snapshot)

	prices := make([]float64, len(state.PriceHistory))
	for i, p := range state.PriceHistory {
		prices[i] = p.Price
	}
	bundle := e.calc.CalculateAll(prices)
	fv.MA5 = bundle.MA[5]
	fv.MA20 = bundle.MA[20]
	fv.MA60 = bundle.MA[60]
	fv.EMA12 = bundle.EMA12
	fv.EMA26 = bundle.EMA26
	fv.RSI14 = bundle.RSI
	fv.MACDLine = bundle.MACDLine
	fv.MACDSignal = bundle.MACDSignal
	fv.MACDHistogram = bundle.MACDHistogram
	fv.BollingerUpper = bundle.BollingerUpper
	fv.BollingerMiddle = bundle.BollingerMiddle
	fv.BollingerLower = bundle.BollingerLower

	if rev, ok := e.tracker.PriceReversal(symbol, e.cfg.ReversalWindow); ok {
		fv.ReversalType = rev.Type
		fv.ReversalRisePct = rev.RisePct
		fv.ReversalFallPct = rev.FallPct
	}

	if e.tierFn != nil {
		fv.TierLabel = e.tierFn(symbol)
	}
	return fv
}

// ComputeBatch builds vectors for many symbols, skipping the ones with too
// little data. snapshots keys by symbol and may be nil.
func (e *Engine) ComputeBatch(symbols []string, snapshots map[string]*types.DepthSnapshot) []*types.FeatureVector {
	out := make([]*types.FeatureVector, 0, len(symbols))
	for _, symbol := range symbols {
		fv := e.Compute(symbol, snapshots[symbol])
		if fv != nil {
			out = append(out, fv)
		}
	}
	if len(out) > 0 {
		log.Debug().Int("symbols", len(symbols)).Int("vectors", len(out)).Msg("🧮 Feature batch computed")
	}
	return out
}

// MarkAlert flags a vector as alert-adjacent. Deduplicates kinds.
func (e *Engine) MarkAlert(fv *types.FeatureVector, kind types.AnomalyKind) {
	fv.AlertTriggered = true
	for _, k := range fv.AlertKinds {
		if k == string(kind) {
			return
		}
	}
	fv.AlertKinds = append(fv.AlertKinds, string(kind))
}

func (e *Engine) priceChangeWindow(state market.SymbolState, now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	var start float64
	count := 0
	for _, p := range state.PriceHistory {
		if p.Timestamp.Before(cutoff) {
			continue
		}
		if count == 0 {
			start = p.Price
		}
		count++
	}
	if count < 2 || start == 0 {
		return 0
	}
	return (state.LatestPrice - start) / start * 100
}

// volatilityWindow is the stdev of simple percent returns inside the window.
func volatilityWindow(state market.SymbolState, now time.Time, window time.Duration) float64 {
	cutoff := now.Add(-window)
	var prices []float64
	for _, p := range state.PriceHistory {
		if !p.Timestamp.Before(cutoff) {
			prices = append(prices, p.Price)
		}
	}
	if len(prices) < 3 {
		return 0
	}

	var returns []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			returns = append(returns, (prices[i]-prices[i-1])/prices[i-1]*100)
		}
	}
	if len(returns) < 2 {
		return 0
	}

	var mean float64
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	var variance float64
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	return math.Sqrt(variance)
}

// volumeRatioPeriods compares the latest tick volume to the average of the
// preceding N volumes. Neutral 1.0 when history is short.
func volumeRatioPeriods(state market.SymbolState, periods int) float64 {
	history := state.PriceHistory
	if periods <= 0 || len(history) < periods+1 {
		return 1.0
	}

	var sum float64
	for _, p := range history[len(history)-periods-1 : len(history)-1] {
		sum += p.Volume
	}
	avg := sum / float64(periods)
	if avg == 0 {
		return 1.0
	}
	return state.LatestVolume / avg
}

func (e *Engine) fillOrderbook(fv *types.FeatureVector, symbol string, snapshot *types.DepthSnapshot) {
	if snapshot == nil && e.walls != nil {
		snapshot, _ = e.walls.Snapshot(symbol)
	}
	if snapshot == nil {
		if e.walls != nil {
			if info, ok := e.walls.DepthInfo(symbol); ok {
				fv.ImbalanceRatio10 = info.ImbalanceRatio
				fv.SpreadBps = info.SpreadPercent * 100
			}
		}
		return
	}

	fv.ImbalanceRatio5 = snapshot.ImbalanceRatio(5)
	fv.ImbalanceRatio10 = snapshot.ImbalanceRatio(10)
	fv.ImbalanceRatio20 = snapshot.ImbalanceRatio(20)
	fv.SpreadBps = snapshot.SpreadPercent() * 100

	mid := snapshot.MidPrice()
	if mid <= 0 || e.walls == nil {
		return
	}

	var bidWalls, askWalls []types.WallState
	for _, w := range e.walls.TrackedWalls(symbol) {
		if w.Side == "bid" {
			bidWalls = append(bidWalls, w)
		} else {
			askWalls = append(askWalls, w)
		}
	}

	if len(bidWalls) > 0 {
		closest := bidWalls[0]
		maxValue := bidWalls[0].Value
		for _, w := range bidWalls[1:] {
			if w.Price > closest.Price {
				closest = w
			}
			if w.Value > maxValue {
				maxValue = w.Value
			}
		}
		dist := (mid - closest.Price) / mid * 100
		fv.BidWallDistance = &dist
		fv.BidWallValue = &maxValue
	}
	if len(askWalls) > 0 {
		closest := askWalls[0]
		maxValue := askWalls[0].Value
		for _, w := range askWalls[1:] {
			if w.Price < closest.Price {
				closest = w
			}
			if w.Value > maxValue {
				maxValue = w.Value
			}
		}
		dist := (closest.Price - mid) / mid * 100
		fv.AskWallDistance = &dist
		fv.AskWallValue = &maxValue
	}
}

// FeatureNames lists the numeric columns, in the order ToArray emits them.
func FeatureNames() []string {
	return []string{
		"price", "price_change_1m", "price_change_5m", "price_change_15m",
		"volatility_1m", "volatility_5m", "volume_ratio_1m", "volume_ratio_5m",
		"quote_volume", "oi_change_5m", "oi_change_15m", "spot_futures_spread",
		"imbalance_ratio_5", "imbalance_ratio_10", "imbalance_ratio_20",
		"spread_bps", "ma_5", "ma_20", "ma_60", "ema_12", "ema_26",
		"rsi_14", "macd_line", "macd_signal", "macd_histogram",
		"bollinger_upper", "bollinger_middle", "bollinger_lower",
		"reversal_rise_pct", "reversal_fall_pct",
	}
}

// ToArray flattens the numeric fields into a model input row, matching
// FeatureNames order.
func ToArray(fv *types.FeatureVector) []float64 {
	return []float64{
		fv.Price, fv.PriceChange1m, fv.PriceChange5m, fv.PriceChange15m,
		fv.Volatility1m, fv.Volatility5m, fv.VolumeRatio1m, fv.VolumeRatio5m,
		fv.QuoteVolume, fv.OIChange5m, fv.OIChange15m, fv.SpotFuturesSpread,
		fv.ImbalanceRatio5, fv.ImbalanceRatio10, fv.ImbalanceRatio20,
		fv.SpreadBps, fv.MA5, fv.MA20, fv.MA60, fv.EMA12, fv.EMA26,
		fv.RSI14, fv.MACDLine, fv.MACDSignal, fv.MACDHistogram,
		fv.BollingerUpper, fv.BollingerMiddle, fv.BollingerLower,
		fv.ReversalRisePct, fv.ReversalFallPct,
	}
}
