// ═══════════════════════════════════════════════════════════════════════════
// LABEL GENERATOR - Delay-gated supervised labels
//
// Labels describe what the price did AFTER a feature vector was taken, so a
// label may only exist once the longest window has fully elapsed. GeneratedAt
// records when the label was actually computed; a label stamped inside its
// own window is a lookahead bug and generation short-circuits on it.
// ═══════════════════════════════════════════════════════════════════════════

package labels

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/types"
)

// Label windows, seconds of future price each return covers.
var Windows = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
}

// MaxWindow is the longest label window. No label exists before it elapses.
const MaxWindow = 30 * time.Minute

const priceTolerance = 5 * time.Second

// PriceStore is the persistent fallback when tracker memory no longer covers
// a lookup. Satisfied by the data store.
type PriceStore interface {
	PriceAt(symbol string, ts time.Time, tolerance time.Duration) (float64, bool)
	PricesInWindow(symbol string, start, end time.Time) []types.PricePoint
}

// Config tunes the generator.
type Config struct {
	DirectionThreshold  float64       `yaml:"direction_threshold"`
	MaxPendingPerSymbol int           `yaml:"max_pending_per_symbol"`
	PendingBuffer       time.Duration `yaml:"pending_buffer"`
}

// DefaultConfig returns production settings: 0.1% direction threshold, 500
// pending entries per symbol, 10 minute grace past the longest window.
func DefaultConfig() Config {
	return Config{
		DirectionThreshold:  0.1,
		MaxPendingPerSymbol: 500,
		PendingBuffer:       10 * time.Minute,
	}
}

// Stats counts label outcomes.
type Stats struct {
	PendingTotal int
	Generated    int64
	Dropped      int64
}

type pendingEntry struct {
	ts      time.Time
	feature *types.FeatureVector
}

// Generator holds per-symbol queues of features awaiting their future data.
type Generator struct {
	mu      sync.Mutex
	cfg     Config
	tracker *market.Tracker
	store   PriceStore

	pending   map[string][]pendingEntry
	generated int64
	dropped   int64

	nowFunc func() time.Time
}

// NewGenerator wires a generator. store may be nil; lookups then rely on
// tracker memory alone.
func NewGenerator(cfg Config, tracker *market.Tracker, store PriceStore) *Generator {
	return &Generator{
		cfg:     cfg,
		tracker: tracker,
		store:   store,
		pending: make(map[string][]pendingEntry),
		nowFunc: time.Now,
	}
}

// Register queues a freshly computed feature for later labelling.
func (g *Generator) Register(fv *types.FeatureVector) {
	if fv == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pending[fv.Symbol] = append(g.pending[fv.Symbol], pendingEntry{ts: fv.Timestamp, feature: fv})
	g.prunePendingLocked(fv.Symbol)
}

// TryGenerate walks the symbol's queue in order. Ripe entries are labelled or
// dropped; entries whose window has not elapsed stay queued, order preserved.
func (g *Generator) TryGenerate(symbol string) []types.Label {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.nowFunc()
	var out []types.Label
	var still []pendingEntry

	for _, entry := range g.pending[symbol] {
		if now.Sub(entry.ts) < MaxWindow {
			still = append(still, entry)
			continue
		}
		label, ok := g.computeLabel(symbol, entry.ts, entry.feature, now)
		if ok {
			out = append(out, label)
			g.generated++
		} else {
			g.dropped++
			log.Debug().Str("symbol", symbol).Time("feature_ts", entry.ts).Msg("🏷️ Label dropped, no future data")
		}
	}
	g.pending[symbol] = still

	if len(out) > 0 {
		log.Debug().Str("symbol", symbol).Int("labels", len(out)).Msg("🏷️ Labels generated")
	}
	return out
}

// TryGenerateAll runs TryGenerate for every symbol with pending entries.
func (g *Generator) TryGenerateAll() map[string][]types.Label {
	g.mu.Lock()
	symbols := make([]string, 0, len(g.pending))
	for s := range g.pending {
		symbols = append(symbols, s)
	}
	g.mu.Unlock()

	all := make(map[string][]types.Label)
	for _, symbol := range symbols {
		if labels := g.TryGenerate(symbol); len(labels) > 0 {
			all[symbol] = labels
		}
	}
	return all
}

func (g *Generator) computeLabel(symbol string, featureTs time.Time, fv *types.FeatureVector, now time.Time) (types.Label, bool) {
	base := fv.Price
	if base == 0 {
		return types.Label{}, false
	}

	// Lookahead guard. A label stamped before the full window elapsed would
	// leak future data into training.
	if !now.After(featureTs.Add(MaxWindow)) {
		log.Error().
			Str("symbol", symbol).
			Time("feature_ts", featureTs).
			Time("now", now).
			Msg("❌ Label timing violation, refusing to generate")
		return types.Label{}, false
	}

	returns := make(map[string]float64, len(Windows))
	found := false
	for name, window := range Windows {
		price, ok := g.priceAt(symbol, featureTs.Add(window))
		if ok {
			returns[name] = (price - base) / base * 100
			found = true
		} else {
			returns[name] = 0.0
		}
	}
	if !found {
		return types.Label{}, false
	}

	maxProfit, maxDrawdown := g.extremesInWindow(symbol, featureTs, featureTs.Add(Windows["5m"]), base)

	return types.Label{
		Symbol:           symbol,
		FeatureTimestamp: featureTs,
		Return1m:         returns["1m"],
		Return5m:         returns["5m"],
		Return15m:        returns["15m"],
		Return30m:        returns["30m"],
		Direction5m:      direction(returns["5m"], g.cfg.DirectionThreshold),
		Direction15m:     direction(returns["15m"], g.cfg.DirectionThreshold),
		MaxProfit5m:      maxProfit,
		MaxDrawdown5m:    maxDrawdown,
		GeneratedAt:      now,
	}, true
}

func direction(ret, threshold float64) int {
	switch {
	case ret > threshold:
		return 1
	case ret < -threshold:
		return -1
	default:
		return 0
	}
}

// priceAt resolves a historical price, tracker memory first, store second.
func (g *Generator) priceAt(symbol string, ts time.Time) (float64, bool) {
	if price, ok := g.tracker.PriceAt(symbol, ts, priceTolerance); ok {
		return price, true
	}
	if g.store != nil {
		return g.store.PriceAt(symbol, ts, priceTolerance)
	}
	return 0, false
}

// extremesInWindow returns the best unrealized gain and worst drawdown
// against base inside [start, end]. Both clamp at zero.
func (g *Generator) extremesInWindow(symbol string, start, end time.Time, base float64) (float64, float64) {
	if base == 0 {
		return 0, 0
	}

	points := g.tracker.PricesInRange(symbol, start, end)
	if len(points) == 0 && g.store != nil {
		points = g.store.PricesInWindow(symbol, start, end)
	}
	if len(points) == 0 {
		return 0, 0
	}

	high, low := points[0].Price, points[0].Price
	for _, p := range points[1:] {
		if p.Price > high {
			high = p.Price
		}
		if p.Price < low {
			low = p.Price
		}
	}

	profit := (high - base) / base * 100
	drawdown := (base - low) / base * 100
	if profit < 0 {
		profit = 0
	}
	if drawdown < 0 {
		drawdown = 0
	}
	return profit, drawdown
}

// prunePendingLocked drops entries past maxWait and trims the queue to the
// per-symbol cap, oldest first.
func (g *Generator) prunePendingLocked(symbol string) {
	maxWait := MaxWindow + g.cfg.PendingBuffer
	cutoff := g.nowFunc().Add(-maxWait)

	pending := g.pending[symbol]
	valid := pending[:0]
	for _, entry := range pending {
		if entry.ts.After(cutoff) {
			valid = append(valid, entry)
		} else {
			g.dropped++
		}
	}
	if over := len(valid) - g.cfg.MaxPendingPerSymbol; over > 0 && g.cfg.MaxPendingPerSymbol > 0 {
		g.dropped += int64(over)
		valid = valid[over:]
	}
	g.pending[symbol] = valid
}

// PendingCount returns the queue length for one symbol, or the total when
// symbol is empty.
func (g *Generator) PendingCount(symbol string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	if symbol != "" {
		return len(g.pending[symbol])
	}
	total := 0
	for _, q := range g.pending {
		total += len(q)
	}
	return total
}

// Stats returns the counters.
func (g *Generator) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	total := 0
	for _, q := range g.pending {
		total += len(q)
	}
	return Stats{PendingTotal: total, Generated: g.generated, Dropped: g.dropped}
}

// ClearPending empties one symbol's queue, or all queues when symbol is "".
func (g *Generator) ClearPending(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if symbol != "" {
		delete(g.pending, symbol)
		return
	}
	g.pending = make(map[string][]pendingEntry)
}
