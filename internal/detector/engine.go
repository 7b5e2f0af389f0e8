package detector

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ALERT ENGINE - Tiered anomaly detection over tracker state
// ═══════════════════════════════════════════════════════════════════════════════
//
// Five detector families:
//   📈 price change       vs tier price threshold
//   📊 volume spike       vs tier volume multiple
//   🏦 open interest      vs tier OI threshold
//   ⚖️ spot/futures gap   vs tier spread threshold
//   🔄 price reversal      min(rise, fall) vs tier price threshold
//
// Every event passes the risk filter before reaching the sink; filtered
// events are persisted with their filter reason.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Filter modes for the symbol filter.
const (
	FilterAll       = "all"
	FilterWhitelist = "whitelist"
	FilterBlacklist = "blacklist"
)

// Tier projections.
const (
	TierByPositionValue = "position_value"
	TierByQuoteVolume   = "quote_volume"
)

// DetectorToggle enables one detector family with its window.
type DetectorToggle struct {
	Enabled bool
	Window  time.Duration
}

// Config selects which detectors run and how tiers are chosen.
type Config struct {
	PriceChange   DetectorToggle
	VolumeSpike   struct {
		Enabled  bool
		Lookback int
	}
	OIChange      DetectorToggle
	SpotSpread    DetectorToggle
	PriceReversal DetectorToggle

	Cooldown time.Duration
	Tiers    []types.TierConfig
	TierBy   string // position_value (default) or quote_volume

	FilterMode string
	Whitelist  []string
	Blacklist  []string
}

// RiskChecker evaluates an event before emission.
type RiskChecker interface {
	Check(ticker types.Ticker) (types.RiskResult, string)
}

// Sink receives events that pass the risk filter. Must not block.
type Sink interface {
	Publish(types.AnomalyEvent)
}

// AlertRecorder persists every event with its filter outcome.
type AlertRecorder interface {
	RecordAlert(ev types.AnomalyEvent, filtered bool, reason string)
}

// Engine runs the detector families over tracker state.
type Engine struct {
	cfg       Config
	tracker   *market.Tracker
	cooldowns *CooldownMap
	risk      RiskChecker
	sink      Sink
	recorder  AlertRecorder

	whitelist map[string]struct{}
	blacklist map[string]struct{}
	tiers     []types.TierConfig // sorted by MinOIValue desc

	nowFunc func() time.Time
}

// NewEngine wires an engine. risk, sink and recorder may be nil.
func NewEngine(cfg Config, tracker *market.Tracker, risk RiskChecker, sink Sink, recorder AlertRecorder) *Engine {
	tiers := append([]types.TierConfig(nil), cfg.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinOIValue > tiers[j].MinOIValue })

	e := &Engine{
		cfg:       cfg,
		tracker:   tracker,
		cooldowns: NewCooldownMap(cfg.Cooldown),
		risk:      risk,
		sink:      sink,
		recorder:  recorder,
		whitelist: toSet(cfg.Whitelist),
		blacklist: toSet(cfg.Blacklist),
		tiers:     tiers,
		nowFunc:   time.Now,
	}
	return e
}

func toSet(symbols []string) map[string]struct{} {
	m := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		m[s] = struct{}{}
	}
	return m
}

// ProcessTickers applies one stream frame and runs every detector per symbol.
func (e *Engine) ProcessTickers(tickers []types.Ticker) []types.AnomalyEvent {
	e.tracker.BatchUpdate(tickers)

	var all []types.AnomalyEvent
	for _, tk := range tickers {
		all = append(all, e.CheckAll(tk)...)
	}
	return all
}

// CheckAll runs every enabled detector for one symbol and routes the results
// through the risk filter to the sink.
func (e *Engine) CheckAll(ticker types.Ticker) []types.AnomalyEvent {
	symbol := ticker.Symbol
	var events []types.AnomalyEvent

	if ev, ok := e.checkPriceChange(symbol); ok {
		events = append(events, ev)
		log.Info().Str("symbol", symbol).Float64("change_pct", ev.ChangePct).Str("tier", ev.Tier).Msg("📈 Price change alert")
	}
	if ev, ok := e.checkVolumeSpike(symbol); ok {
		events = append(events, ev)
		log.Info().Str("symbol", symbol).Float64("ratio", ev.ChangePct).Str("tier", ev.Tier).Msg("📊 Volume spike alert")
	}
	if ev, ok := e.checkOIChange(symbol); ok {
		events = append(events, ev)
		log.Info().Str("symbol", symbol).Float64("change_pct", ev.ChangePct).Str("tier", ev.Tier).Msg("🏦 Open interest alert")
	}
	if ev, ok := e.checkSpotSpread(symbol); ok {
		events = append(events, ev)
		log.Info().Str("symbol", symbol).Float64("spread_pct", ev.ChangePct).Str("tier", ev.Tier).Msg("⚖️ Spot/futures spread alert")
	}
	if ev, ok := e.checkPriceReversal(symbol); ok {
		events = append(events, ev)
		log.Info().Str("symbol", symbol).Str("type", ev.ExtraText["type"]).Str("tier", ev.Tier).Msg("🔄 Price reversal alert")
	}

	for _, ev := range events {
		e.route(ev, ticker)
	}
	return events
}

// route sends one event through the risk filter and on to the sink.
func (e *Engine) route(ev types.AnomalyEvent, ticker types.Ticker) {
	filtered := false
	reason := ""
	if e.risk != nil {
		_, r := e.risk.Check(ticker)
		if r != "" {
			filtered = true
			reason = r
			log.Debug().Str("symbol", ev.Symbol).Str("kind", string(ev.Kind)).Str("reason", reason).Msg("🛡️ Alert filtered")
		}
	}

	if e.recorder != nil {
		e.recorder.RecordAlert(ev, filtered, reason)
	}
	if !filtered && e.sink != nil {
		e.sink.Publish(ev)
	}
}

// PurgeCooldowns drops expired cooldown entries.
func (e *Engine) PurgeCooldowns() {
	e.cooldowns.Purge()
}

// tierFor selects the threshold bucket for a symbol, or nil if the symbol is
// below every tier floor.
func (e *Engine) tierFor(symbol string) *types.TierConfig {
	var value float64
	if e.cfg.TierBy == TierByQuoteVolume {
		value = e.tracker.QuoteVolume(symbol)
	} else {
		value = e.tracker.OIValue(symbol)
	}

	for i := range e.tiers {
		if value >= e.tiers[i].MinOIValue {
			return &e.tiers[i]
		}
	}
	return nil
}

// TierLabel returns the label of the tier the symbol currently falls in,
// or "" when below every tier floor. The feature engine uses this for the
// tier_label column.
func (e *Engine) TierLabel(symbol string) string {
	if tier := e.tierFor(symbol); tier != nil {
		return tier.Label
	}
	return ""
}

// symbolFiltered applies whitelist/blacklist mode.
func (e *Engine) symbolFiltered(symbol string) bool {
	switch e.cfg.FilterMode {
	case FilterWhitelist:
		_, ok := e.whitelist[symbol]
		return !ok
	case FilterBlacklist:
		_, ok := e.blacklist[symbol]
		return ok
	}
	return false
}

// gate applies the shared preconditions: enabled, symbol filter, cooldown,
// tier. Returns the tier when all pass.
func (e *Engine) gate(symbol string, kind types.AnomalyKind, enabled bool) (*types.TierConfig, bool) {
	if !enabled || e.symbolFiltered(symbol) || !e.cooldowns.Ready(symbol, kind) {
		return nil, false
	}
	tier := e.tierFor(symbol)
	if tier == nil {
		return nil, false
	}
	return tier, true
}

func (e *Engine) checkPriceChange(symbol string) (types.AnomalyEvent, bool) {
	tier, ok := e.gate(symbol, types.KindPriceChange, e.cfg.PriceChange.Enabled)
	if !ok {
		return types.AnomalyEvent{}, false
	}

	change, low, high, ok := e.tracker.PriceChange(symbol)
	if !ok || math.Abs(change) < tier.PriceThreshold {
		return types.AnomalyEvent{}, false
	}

	price, _ := e.tracker.LatestPrice(symbol)
	ev := types.AnomalyEvent{
		Symbol:       symbol,
		Kind:         types.KindPriceChange,
		Tier:         tier.Label,
		CurrentPrice: price,
		ChangePct:    change,
		Threshold:    tier.PriceThreshold,
		Window:       e.cfg.PriceChange.Window,
		Timestamp:    e.nowFunc(),
		Extras: map[string]float64{
			"window_low":  low,
			"window_high": high,
			"oi_value":    e.tracker.OIValue(symbol),
		},
	}
	e.cooldowns.Record(symbol, types.KindPriceChange)
	return ev, true
}

func (e *Engine) checkVolumeSpike(symbol string) (types.AnomalyEvent, bool) {
	tier, ok := e.gate(symbol, types.KindVolumeSpike, e.cfg.VolumeSpike.Enabled)
	if !ok {
		return types.AnomalyEvent{}, false
	}

	ratio, ok := e.tracker.VolumeRatio(symbol)
	if !ok || ratio < tier.VolumeThreshold {
		return types.AnomalyEvent{}, false
	}

	price, _ := e.tracker.LatestPrice(symbol)
	ev := types.AnomalyEvent{
		Symbol:       symbol,
		Kind:         types.KindVolumeSpike,
		Tier:         tier.Label,
		CurrentPrice: price,
		ChangePct:    ratio,
		Threshold:    tier.VolumeThreshold,
		Timestamp:    e.nowFunc(),
		Extras: map[string]float64{
			"volume_ratio": ratio,
			"oi_value":     e.tracker.OIValue(symbol),
		},
	}
	e.cooldowns.Record(symbol, types.KindVolumeSpike)
	return ev, true
}

func (e *Engine) checkOIChange(symbol string) (types.AnomalyEvent, bool) {
	tier, ok := e.gate(symbol, types.KindOIChange, e.cfg.OIChange.Enabled)
	if !ok {
		return types.AnomalyEvent{}, false
	}

	change, ok := e.tracker.OIChange(symbol)
	if !ok || math.Abs(change) < tier.OIThreshold {
		return types.AnomalyEvent{}, false
	}

	price, _ := e.tracker.LatestPrice(symbol)
	ev := types.AnomalyEvent{
		Symbol:       symbol,
		Kind:         types.KindOIChange,
		Tier:         tier.Label,
		CurrentPrice: price,
		ChangePct:    change,
		Threshold:    tier.OIThreshold,
		Window:       e.cfg.OIChange.Window,
		Timestamp:    e.nowFunc(),
		Extras: map[string]float64{
			"oi_value": e.tracker.OIValue(symbol),
		},
	}
	e.cooldowns.Record(symbol, types.KindOIChange)
	return ev, true
}

func (e *Engine) checkSpotSpread(symbol string) (types.AnomalyEvent, bool) {
	tier, ok := e.gate(symbol, types.KindSpotFuturesSpread, e.cfg.SpotSpread.Enabled)
	if !ok {
		return types.AnomalyEvent{}, false
	}

	spread, spot, futures, ok := e.tracker.SpotFuturesSpread(symbol)
	if !ok || math.Abs(spread) < tier.SpreadThreshold {
		return types.AnomalyEvent{}, false
	}

	ev := types.AnomalyEvent{
		Symbol:       symbol,
		Kind:         types.KindSpotFuturesSpread,
		Tier:         tier.Label,
		CurrentPrice: futures,
		ChangePct:    spread,
		Threshold:    tier.SpreadThreshold,
		Window:       e.cfg.SpotSpread.Window,
		Timestamp:    e.nowFunc(),
		Extras: map[string]float64{
			"spot":     spot,
			"futures":  futures,
			"oi_value": e.tracker.OIValue(symbol),
		},
	}
	e.cooldowns.Record(symbol, types.KindSpotFuturesSpread)
	return ev, true
}

func (e *Engine) checkPriceReversal(symbol string) (types.AnomalyEvent, bool) {
	tier, ok := e.gate(symbol, types.KindPriceReversal, e.cfg.PriceReversal.Enabled)
	if !ok {
		return types.AnomalyEvent{}, false
	}

	rev, ok := e.tracker.PriceReversal(symbol, e.cfg.PriceReversal.Window)
	if !ok {
		return types.AnomalyEvent{}, false
	}

	// Both legs must clear the tier price threshold
	magnitude := math.Min(rev.RisePct, rev.FallPct)
	if magnitude < tier.PriceThreshold {
		return types.AnomalyEvent{}, false
	}

	ev := types.AnomalyEvent{
		Symbol:       symbol,
		Kind:         types.KindPriceReversal,
		Tier:         tier.Label,
		CurrentPrice: rev.Current,
		ChangePct:    magnitude,
		Threshold:    tier.PriceThreshold,
		Window:       e.cfg.PriceReversal.Window,
		Timestamp:    e.nowFunc(),
		Extras: map[string]float64{
			"start_price": rev.StartPrice,
			"high":        rev.High,
			"low":         rev.Low,
			"rise_pct":    rev.RisePct,
			"fall_pct":    rev.FallPct,
		},
		ExtraText: map[string]string{"type": rev.Type},
	}
	e.cooldowns.Record(symbol, types.KindPriceReversal)
	return ev, true
}
