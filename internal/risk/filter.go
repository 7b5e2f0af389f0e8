// ═══════════════════════════════════════════════════════════════════════════
// RISK FILTER - Pre-emission sanity checks for anomaly alerts
//
// Every candidate alert passes through five checks before it reaches the
// notifier: websocket latency, orderbook liquidity, fake-signal reversion,
// flash-wall manipulation and isolated volume spikes. A flagged alert is
// recorded in the filtered-alerts log instead of being published.
// ═══════════════════════════════════════════════════════════════════════════

package risk

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/orderbook"
	"github.com/quantfeed/perpwatch/types"
)

const wallEventCap = 100

// DepthProvider exposes the cached liquidity view of the orderbook monitor.
type DepthProvider interface {
	DepthInfo(symbol string) (orderbook.DepthInfo, bool)
}

// Config tunes the filter thresholds.
type Config struct {
	Enabled      bool `yaml:"enabled"`
	FilterAlerts bool `yaml:"filter_alerts"`

	MaxWsLatencyMs float64 `yaml:"max_ws_latency_ms"`
	MaxDataAgeMs   float64 `yaml:"max_data_age_ms"`

	MinDepthValue float64 `yaml:"min_depth_value"`
	MaxSpreadBps  float64 `yaml:"max_spread_bps"`

	FakeSignalWindow      time.Duration `yaml:"fake_signal_window"`
	FakeSignalRevertRatio float64       `yaml:"fake_signal_revert_ratio"`
	FakeSignalMinChange   float64       `yaml:"fake_signal_min_change"`

	WallFlashWindow  time.Duration `yaml:"wall_flash_window"`
	WallFlashCount   int           `yaml:"wall_flash_count"`
	VolumeSpikeRatio float64       `yaml:"volume_spike_ratio"`
}

// DefaultConfig returns production thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:               true,
		FilterAlerts:          true,
		MaxWsLatencyMs:        500,
		MaxDataAgeMs:          2000,
		MinDepthValue:         50_000,
		MaxSpreadBps:          50,
		FakeSignalWindow:      30 * time.Second,
		FakeSignalRevertRatio: 0.8,
		FakeSignalMinChange:   1.0,
		WallFlashWindow:       10 * time.Second,
		WallFlashCount:        3,
		VolumeSpikeRatio:      5.0,
	}
}

// Stats counts check outcomes since start or the last reset.
type Stats struct {
	TotalChecks     int64
	FakeSignals     int64
	LatencyIssues   int64
	LiquidityIssues int64
	Manipulations   int64
}

type wallEvent struct {
	ts       time.Time
	appeared bool
}

// Filter runs the risk checks. It satisfies the detector's RiskChecker and
// the orderbook monitor's WallEventRecorder.
type Filter struct {
	mu  sync.Mutex
	cfg Config

	tracker *market.Tracker
	depth   DepthProvider

	wallEvents   map[string][]wallEvent
	fakeCooldown map[string]time.Time
	stats        Stats

	nowFunc func() time.Time
}

// NewFilter wires a filter. depth may be nil when orderbook monitoring is off.
func NewFilter(cfg Config, tracker *market.Tracker, depth DepthProvider) *Filter {
	return &Filter{
		cfg:          cfg,
		tracker:      tracker,
		depth:        depth,
		wallEvents:   make(map[string][]wallEvent),
		fakeCooldown: make(map[string]time.Time),
		nowFunc:      time.Now,
	}
}

// Check evaluates one ticker and returns the result plus a filter reason.
// The reason is empty when the alert may be published.
func (f *Filter) Check(ticker types.Ticker) (types.RiskResult, string) {
	result := types.RiskResult{
		Symbol:    ticker.Symbol,
		Timestamp: f.now(),
	}
	if !f.cfg.Enabled {
		return result, ""
	}

	f.mu.Lock()
	f.stats.TotalChecks++
	f.mu.Unlock()

	f.checkLatency(ticker, &result)
	f.checkLiquidity(ticker.Symbol, &result)
	f.checkFakeSignal(ticker.Symbol, &result)
	result.WallManipulation = f.wallManipulated(ticker.Symbol)
	result.VolumeManipulation = f.volumeManipulated(ticker.Symbol)

	f.mu.Lock()
	if result.IsFake {
		f.stats.FakeSignals++
		f.fakeCooldown[ticker.Symbol] = f.now()
	}
	if result.SpreadTooWide || result.DepthTooThin {
		f.stats.LiquidityIssues++
	}
	if result.WallManipulation || result.VolumeManipulation {
		f.stats.Manipulations++
	}
	f.mu.Unlock()

	if !f.cfg.FilterAlerts {
		return result, ""
	}
	return result, f.filterReason(&result)
}

func (f *Filter) filterReason(r *types.RiskResult) string {
	var reasons []string
	if r.WsLatencyMs > f.cfg.MaxWsLatencyMs {
		reasons = append(reasons, "ws_latency")
	}
	if r.DataAgeMs > f.cfg.MaxDataAgeMs {
		reasons = append(reasons, "stale_data")
	}
	if r.SpreadTooWide {
		reasons = append(reasons, "spread_too_wide")
	}
	if r.DepthTooThin {
		reasons = append(reasons, "depth_too_thin")
	}
	if r.IsFake {
		reasons = append(reasons, "fake_signal: "+r.FakeReason)
	}
	if r.WallManipulation {
		reasons = append(reasons, "wall_manipulation")
	}
	if r.VolumeManipulation {
		reasons = append(reasons, "volume_manipulation")
	}
	return strings.Join(reasons, "; ")
}

func (f *Filter) checkLatency(ticker types.Ticker, result *types.RiskResult) {
	if !ticker.WsRecvTime.IsZero() && !ticker.Timestamp.IsZero() {
		result.WsLatencyMs = float64(ticker.WsRecvTime.Sub(ticker.Timestamp)) / float64(time.Millisecond)
	}
	if !ticker.Timestamp.IsZero() {
		result.DataAgeMs = float64(f.now().Sub(ticker.Timestamp)) / float64(time.Millisecond)
	}
	if result.WsLatencyMs > f.cfg.MaxWsLatencyMs {
		f.mu.Lock()
		f.stats.LatencyIssues++
		f.mu.Unlock()
		log.Debug().
			Str("symbol", ticker.Symbol).
			Float64("latency_ms", result.WsLatencyMs).
			Msg("⏱️ ws latency above bound")
	}
}

func (f *Filter) checkLiquidity(symbol string, result *types.RiskResult) {
	if f.depth == nil {
		return
	}
	info, ok := f.depth.DepthInfo(symbol)
	if !ok {
		return
	}

	spreadBps := info.SpreadPercent * 100
	if spreadBps > f.cfg.MaxSpreadBps {
		result.SpreadTooWide = true
	}
	if info.BidDepth+info.AskDepth < f.cfg.MinDepthValue*2 {
		result.DepthTooThin = true
	}
}

// checkFakeSignal looks for a pump that already reverted. A move counts as
// fake when one leg exceeds the minimum change and the opposite leg gave
// back more than revertRatio of it inside the window.
func (f *Filter) checkFakeSignal(symbol string, result *types.RiskResult) {
	state, ok := f.tracker.Snapshot(symbol)
	if !ok || len(state.PriceHistory) < 10 {
		return
	}

	cutoff := f.now().Add(-f.cfg.FakeSignalWindow)
	var window []types.PricePoint
	for _, p := range state.PriceHistory {
		if !p.Timestamp.Before(cutoff) {
			window = append(window, p)
		}
	}
	if len(window) < 5 {
		return
	}

	start := window[0].Price
	current := window[len(window)-1].Price
	high, low := start, start
	for _, p := range window {
		if p.Price > high {
			high = p.Price
		}
		if p.Price < low {
			low = p.Price
		}
	}
	if start == 0 || high == 0 || low == 0 {
		return
	}

	riseToHigh := (high - start) / start * 100
	fallFromHigh := (high - current) / high * 100
	if riseToHigh > f.cfg.FakeSignalMinChange && riseToHigh > 0 {
		if fallFromHigh/riseToHigh >= f.cfg.FakeSignalRevertRatio {
			result.IsFake = true
			result.FakeReason = fmt.Sprintf("pump reverted: +%.2f%% then -%.2f%%", riseToHigh, fallFromHigh)
			return
		}
	}

	fallToLow := (start - low) / start * 100
	riseFromLow := (current - low) / low * 100
	if fallToLow > f.cfg.FakeSignalMinChange && fallToLow > 0 {
		if riseFromLow/fallToLow >= f.cfg.FakeSignalRevertRatio {
			result.IsFake = true
			result.FakeReason = fmt.Sprintf("dump reverted: -%.2f%% then +%.2f%%", fallToLow, riseFromLow)
		}
	}
}

// wallManipulated reports flash walls: enough appears AND disappears packed
// into the flash window.
func (f *Filter) wallManipulated(symbol string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	events := f.wallEvents[symbol]
	if len(events) == 0 {
		return false
	}

	cutoff := f.now().Add(-f.cfg.WallFlashWindow)
	appears, disappears := 0, 0
	for _, e := range events {
		if e.ts.Before(cutoff) {
			continue
		}
		if e.appeared {
			appears++
		} else {
			disappears++
		}
	}
	return appears >= f.cfg.WallFlashCount && disappears >= f.cfg.WallFlashCount
}

// volumeManipulated reports isolated volume spikes with no follow-through
// on either side.
func (f *Filter) volumeManipulated(symbol string) bool {
	state, ok := f.tracker.Snapshot(symbol)
	if !ok {
		return false
	}
	history := state.PriceHistory
	if len(history) > 20 {
		history = history[len(history)-20:]
	}

	var sum float64
	volumes := make([]float64, len(history))
	for i, p := range history {
		volumes[i] = p.Volume
		sum += p.Volume
	}
	if len(volumes) == 0 || sum == 0 {
		return false
	}

	avg := sum / float64(len(volumes))
	maxIdx := 0
	for i, v := range volumes {
		if v > volumes[maxIdx] {
			maxIdx = i
		}
	}
	if volumes[maxIdx] <= avg*f.cfg.VolumeSpikeRatio {
		return false
	}

	before := neighborhoodMean(volumes, maxIdx-3, maxIdx, avg)
	after := neighborhoodMean(volumes, maxIdx+1, maxIdx+4, avg)
	return before < avg*1.5 && after < avg*1.5
}

// neighborhoodMean averages volumes[lo:hi] clamped to bounds, falling back
// to the series average when the slice is empty.
func neighborhoodMean(volumes []float64, lo, hi int, fallback float64) float64 {
	if lo < 0 {
		lo = 0
	}
	if hi > len(volumes) {
		hi = len(volumes)
	}
	if hi <= lo {
		return fallback
	}
	var sum float64
	for _, v := range volumes[lo:hi] {
		sum += v
	}
	return sum / float64(hi-lo)
}

// RecordWallEvent feeds the flash-wall detector. Called by the orderbook
// monitor on wall appear/disappear transitions.
func (f *Filter) RecordWallEvent(symbol string, appeared bool, ts time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	events := append(f.wallEvents[symbol], wallEvent{ts: ts, appeared: appeared})
	if len(events) > wallEventCap {
		events = events[len(events)-wallEventCap:]
	}
	f.wallEvents[symbol] = events
}

// InFakeCooldown reports whether the symbol flagged a fake signal recently.
func (f *Filter) InFakeCooldown(symbol string, cooldown time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	last, ok := f.fakeCooldown[symbol]
	if !ok {
		return false
	}
	return f.now().Sub(last) < cooldown
}

// Stats returns a copy of the counters.
func (f *Filter) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// ResetStats zeroes the counters.
func (f *Filter) ResetStats() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = Stats{}
}

// Cleanup drops wall events older than maxAge.
func (f *Filter) Cleanup(maxAge time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := f.now().Add(-maxAge)
	for symbol, events := range f.wallEvents {
		kept := events[:0]
		for _, e := range events {
			if e.ts.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(f.wallEvents, symbol)
			continue
		}
		f.wallEvents[symbol] = kept
	}
}

func (f *Filter) now() time.Time {
	return f.nowFunc()
}
