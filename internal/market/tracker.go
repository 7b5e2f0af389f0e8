package market

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRACKER - Per-symbol rolling market state
// ═══════════════════════════════════════════════════════════════════════════════
//
// One SymbolState per contract: bounded price ring plus OI and spot history.
// Single writer (the tick dispatcher), many readers (detectors, feature
// engine, label generator).
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	priceRingCap = 1000
	oiRingCap    = 100
	spotRingCap  = 100
)

// SymbolState holds the rolling windows for one symbol.
type SymbolState struct {
	Symbol       string
	PriceHistory []types.PricePoint
	OIHistory    []types.OIObservation
	SpotHistory  []types.SpotPrice

	LatestPrice       float64
	LatestVolume      float64
	LatestQuoteVolume float64
	LatestOI          float64
	LastUpdate        time.Time
}

// Reversal describes a detected price reversal inside a window.
type Reversal struct {
	Type       string // "top" or "bottom"
	StartPrice float64
	High       float64
	Low        float64
	Current    float64
	RisePct    float64
	FallPct    float64
	ExtremeTs  time.Time
}

// Config holds the detection windows.
type Config struct {
	PriceWindow    time.Duration // price-change anchor window
	VolumeLookback int           // periods for volume ratio
	OIWindow       time.Duration
	SpreadWindow   time.Duration
}

// DefaultConfig mirrors the conventional windows: 60s price, 10-period
// volume, 300s OI, 60s spread.
func DefaultConfig() Config {
	return Config{
		PriceWindow:    60 * time.Second,
		VolumeLookback: 10,
		OIWindow:       300 * time.Second,
		SpreadWindow:   60 * time.Second,
	}
}

// Tracker maintains rolling state for every observed symbol.
type Tracker struct {
	mu       sync.RWMutex
	cfg      Config
	trackers map[string]*SymbolState

	nowFunc func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config) *Tracker {
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 10
	}
	return &Tracker{
		cfg:      cfg,
		trackers: make(map[string]*SymbolState),
		nowFunc:  time.Now,
	}
}

// Update applies one ticker frame.
func (t *Tracker) Update(ticker types.Ticker) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.trackers[ticker.Symbol]
	if st == nil {
		st = &SymbolState{Symbol: ticker.Symbol}
		t.trackers[ticker.Symbol] = st
	}

	st.PriceHistory = append(st.PriceHistory, types.PricePoint{
		Price:     ticker.Price,
		Volume:    ticker.BaseVolume,
		Timestamp: ticker.Timestamp,
	})
	if len(st.PriceHistory) > priceRingCap {
		st.PriceHistory = st.PriceHistory[len(st.PriceHistory)-priceRingCap:]
	}

	st.LatestPrice = ticker.Price
	st.LatestVolume = ticker.BaseVolume
	st.LatestQuoteVolume = ticker.QuoteVolume
	st.LastUpdate = ticker.Timestamp
}

// BatchUpdate applies a full ticker frame, preserving arrival order.
func (t *Tracker) BatchUpdate(tickers []types.Ticker) {
	for _, tk := range tickers {
		t.Update(tk)
	}
}

// UpdateOI appends one open-interest observation.
func (t *Tracker) UpdateOI(symbol string, oi float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.trackers[symbol]
	if st == nil {
		st = &SymbolState{Symbol: symbol}
		t.trackers[symbol] = st
	}

	st.OIHistory = append(st.OIHistory, types.OIObservation{Symbol: symbol, OpenInterest: oi, Timestamp: ts})
	if len(st.OIHistory) > oiRingCap {
		st.OIHistory = st.OIHistory[len(st.OIHistory)-oiRingCap:]
	}
	st.LatestOI = oi
}

// UpdateSpot appends one spot quote.
func (t *Tracker) UpdateSpot(symbol string, price float64, ts time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.trackers[symbol]
	if st == nil {
		st = &SymbolState{Symbol: symbol}
		t.trackers[symbol] = st
	}

	st.SpotHistory = append(st.SpotHistory, types.SpotPrice{Symbol: symbol, Price: price, Timestamp: ts})
	if len(st.SpotHistory) > spotRingCap {
		st.SpotHistory = st.SpotHistory[len(st.SpotHistory)-spotRingCap:]
	}
}

// BatchUpdateSpot applies a spot price map from one REST poll.
func (t *Tracker) BatchUpdateSpot(prices map[string]float64, ts time.Time) {
	for symbol, price := range prices {
		// Only symbols we already track from the futures stream
		t.mu.RLock()
		_, known := t.trackers[symbol]
		t.mu.RUnlock()
		if known {
			t.UpdateSpot(symbol, price, ts)
		}
	}
}

// PriceChange computes the percent move over the price window, anchored at
// the first in-window point, plus the window low/high.
func (t *Tracker) PriceChange(symbol string) (changePct, low, high float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil || len(st.PriceHistory) < 2 {
		return 0, 0, 0, false
	}

	windowStart := t.nowFunc().Add(-t.cfg.PriceWindow)
	first := -1
	for i, p := range st.PriceHistory {
		if !p.Timestamp.Before(windowStart) {
			first = i
			break
		}
	}
	if first < 0 || len(st.PriceHistory)-first < 2 {
		return 0, 0, 0, false
	}

	window := st.PriceHistory[first:]
	startPrice := window[0].Price
	if startPrice == 0 {
		return 0, 0, 0, false
	}

	low, high = window[0].Price, window[0].Price
	for _, p := range window[1:] {
		if p.Price < low {
			low = p.Price
		}
		if p.Price > high {
			high = p.Price
		}
	}

	changePct = (st.LatestPrice - startPrice) / startPrice * 100
	return changePct, low, high, true
}

// VolumeRatio divides the current tick volume by the mean of the previous
// lookback-1 tick volumes. The current tick is excluded from the mean.
func (t *Tracker) VolumeRatio(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil || len(st.PriceHistory) < t.cfg.VolumeLookback {
		return 0, false
	}

	recent := st.PriceHistory[len(st.PriceHistory)-t.cfg.VolumeLookback:]
	sum := 0.0
	for _, p := range recent[:len(recent)-1] {
		sum += p.Volume
	}
	if sum == 0 {
		return 0, false
	}

	avg := sum / float64(len(recent)-1)
	return st.LatestVolume / avg, true
}

// OIChange computes the percent open-interest move over the OI window.
func (t *Tracker) OIChange(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.oiChangeWindowLocked(symbol, t.cfg.OIWindow)
}

// OIChangeWindow computes the percent OI move over an arbitrary window.
func (t *Tracker) OIChangeWindow(symbol string, window time.Duration) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.oiChangeWindowLocked(symbol, window)
}

func (t *Tracker) oiChangeWindowLocked(symbol string, window time.Duration) (float64, bool) {
	st := t.trackers[symbol]
	if st == nil || len(st.OIHistory) < 2 {
		return 0, false
	}

	windowStart := t.nowFunc().Add(-window)
	first := -1
	for i, o := range st.OIHistory {
		if !o.Timestamp.Before(windowStart) {
			first = i
			break
		}
	}
	if first < 0 || len(st.OIHistory)-first < 2 {
		return 0, false
	}

	startOI := st.OIHistory[first].OpenInterest
	if startOI == 0 {
		return 0, false
	}
	currentOI := st.OIHistory[len(st.OIHistory)-1].OpenInterest
	return (currentOI - startOI) / startOI * 100, true
}

// SpotFuturesSpread returns (spot-futures)/futures × 100 with the underlying
// quotes. Stale spot data (older than twice the spread window) yields no
// result.
func (t *Tracker) SpotFuturesSpread(symbol string) (spreadPct, spot, futures float64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil || len(st.SpotHistory) == 0 || st.LatestPrice == 0 {
		return 0, 0, 0, false
	}

	latest := st.SpotHistory[len(st.SpotHistory)-1]
	if t.nowFunc().Sub(latest.Timestamp) > 2*t.cfg.SpreadWindow {
		return 0, 0, 0, false
	}

	futures = st.LatestPrice
	spot = latest.Price
	return (spot - futures) / futures * 100, spot, futures, true
}

// PriceReversal looks for a V or inverted-V shape inside the window. The
// extreme must sit in the first half of the window and both legs must move
// strictly in the reversal direction.
func (t *Tracker) PriceReversal(symbol string, window time.Duration) (Reversal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil || len(st.PriceHistory) < 3 {
		return Reversal{}, false
	}

	now := t.nowFunc()
	windowStart := now.Add(-window)
	first := -1
	for i, p := range st.PriceHistory {
		if !p.Timestamp.Before(windowStart) {
			first = i
			break
		}
	}
	if first < 0 || len(st.PriceHistory)-first < 3 {
		return Reversal{}, false
	}

	pts := st.PriceHistory[first:]
	start := pts[0].Price
	current := pts[len(pts)-1].Price
	if start == 0 {
		return Reversal{}, false
	}

	high, low := pts[0], pts[0]
	for _, p := range pts[1:] {
		if p.Price > high.Price {
			high = p
		}
		if p.Price < low.Price {
			low = p
		}
	}

	halfway := windowStart.Add(window / 2)

	// Top: rise to the high, then fall back
	if high.Timestamp.Before(halfway) && high.Price > start && current < high.Price {
		rise := (high.Price - start) / start * 100
		fall := (high.Price - current) / high.Price * 100
		if rise > 0 && fall > 0 {
			return Reversal{
				Type:       "top",
				StartPrice: start,
				High:       high.Price,
				Low:        low.Price,
				Current:    current,
				RisePct:    rise,
				FallPct:    fall,
				ExtremeTs:  high.Timestamp,
			}, true
		}
	}

	// Bottom: fall to the low, then recover
	if low.Timestamp.Before(halfway) && low.Price < start && current > low.Price && low.Price > 0 {
		fall := (start - low.Price) / start * 100
		rise := (current - low.Price) / low.Price * 100
		if rise > 0 && fall > 0 {
			return Reversal{
				Type:       "bottom",
				StartPrice: start,
				High:       high.Price,
				Low:        low.Price,
				Current:    current,
				RisePct:    rise,
				FallPct:    fall,
				ExtremeTs:  low.Timestamp,
			}, true
		}
	}

	return Reversal{}, false
}

// OIValue returns currentPrice × latestOI, the position value used for tier
// classification.
func (t *Tracker) OIValue(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil {
		return 0
	}
	return st.LatestPrice * st.LatestOI
}

// QuoteVolume returns the latest 24h quote volume.
func (t *Tracker) QuoteVolume(symbol string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil {
		return 0
	}
	return st.LatestQuoteVolume
}

// LatestPrice returns the last futures price, ok=false if unknown.
func (t *Tracker) LatestPrice(symbol string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil || st.LatestPrice == 0 {
		return 0, false
	}
	return st.LatestPrice, true
}

// PriceAt returns the stored price closest to ts within tolerance.
func (t *Tracker) PriceAt(symbol string, ts time.Time, tolerance time.Duration) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil {
		return 0, false
	}

	best := 0.0
	bestDiff := tolerance + 1
	for _, p := range st.PriceHistory {
		diff := p.Timestamp.Sub(ts)
		if diff < 0 {
			diff = -diff
		}
		if diff <= tolerance && diff < bestDiff {
			best = p.Price
			bestDiff = diff
		}
	}
	if bestDiff > tolerance {
		return 0, false
	}
	return best, true
}

// PricesInRange returns price points with ts in [start, end], ascending.
func (t *Tracker) PricesInRange(symbol string, start, end time.Time) []types.PricePoint {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil {
		return nil
	}

	var out []types.PricePoint
	for _, p := range st.PriceHistory {
		if !p.Timestamp.Before(start) && !p.Timestamp.After(end) {
			out = append(out, p)
		}
	}
	return out
}

// Snapshot returns a copy of the symbol state for lock-free reads.
func (t *Tracker) Snapshot(symbol string) (SymbolState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st := t.trackers[symbol]
	if st == nil {
		return SymbolState{}, false
	}

	cp := *st
	cp.PriceHistory = append([]types.PricePoint(nil), st.PriceHistory...)
	cp.OIHistory = append([]types.OIObservation(nil), st.OIHistory...)
	cp.SpotHistory = append([]types.SpotPrice(nil), st.SpotHistory...)
	return cp, true
}

// AllSymbols lists every tracked symbol.
func (t *Tracker) AllSymbols() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.trackers))
	for s := range t.trackers {
		out = append(out, s)
	}
	return out
}

// CleanupOlderThan drops symbols with no updates for maxAge and trims stale
// points from the front of each ring.
func (t *Tracker) CleanupOlderThan(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.nowFunc().Add(-maxAge)
	removed := 0
	for symbol, st := range t.trackers {
		if st.LastUpdate.Before(cutoff) {
			delete(t.trackers, symbol)
			removed++
			continue
		}
		st.PriceHistory = trimPriceFront(st.PriceHistory, cutoff)
		st.OIHistory = trimOIFront(st.OIHistory, cutoff)
		st.SpotHistory = trimSpotFront(st.SpotHistory, cutoff)
	}

	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("🧹 Evicted stale symbols from tracker")
	}
}

func trimPriceFront(pts []types.PricePoint, cutoff time.Time) []types.PricePoint {
	i := 0
	for i < len(pts) && pts[i].Timestamp.Before(cutoff) {
		i++
	}
	return pts[i:]
}

func trimOIFront(obs []types.OIObservation, cutoff time.Time) []types.OIObservation {
	i := 0
	for i < len(obs) && obs[i].Timestamp.Before(cutoff) {
		i++
	}
	return obs[i:]
}

func trimSpotFront(sp []types.SpotPrice, cutoff time.Time) []types.SpotPrice {
	i := 0
	for i < len(sp) && sp[i].Timestamp.Before(cutoff) {
		i++
	}
	return sp[i:]
}
