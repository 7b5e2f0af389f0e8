package orderbook

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/internal/detector"
	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ORDER BOOK MONITOR - Diff-based wall / imbalance / sweep detection
// ═══════════════════════════════════════════════════════════════════════════════
//
// Keeps the last depth snapshot per symbol and a price-keyed map of tracked
// walls. Sweeps are diffed against the PREVIOUS tracked set before the set is
// replaced, so a wall never sweeps itself in the snapshot that detected it.
//
// ═══════════════════════════════════════════════════════════════════════════════

const wallScanLevels = 20

// Config controls the three order-book detectors.
type Config struct {
	Enabled bool
	Symbols []string

	WallDetection      bool
	WallValueThreshold float64 // min single-level value (USDT)
	WallRatioThreshold float64 // × average level value
	WallDistanceMax    float64 // max percent distance from mid

	ImbalanceDetection  bool
	ImbalanceThreshold  float64 // |ratio| trigger, 0..1
	ImbalanceDepthLevels int

	SweepDetection      bool
	SweepValueThreshold float64

	Cooldown    time.Duration
	DepthLevels int // stream subscription depth
	UpdateSpeed string
}

// DefaultConfig mirrors the conventional thresholds.
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		WallDetection:        true,
		WallValueThreshold:   500_000,
		WallRatioThreshold:   3.0,
		WallDistanceMax:      2.0,
		ImbalanceDetection:   true,
		ImbalanceThreshold:   0.6,
		ImbalanceDepthLevels: 10,
		SweepDetection:       true,
		SweepValueThreshold:  300_000,
		Cooldown:             300 * time.Second,
		DepthLevels:          20,
		UpdateSpeed:          "500ms",
	}
}

// DepthInfo is the cached liquidity view handed to the risk filter and the
// feature engine.
type DepthInfo struct {
	Symbol         string
	BestBid        float64
	BestAsk        float64
	SpreadPercent  float64
	BidDepth       float64
	AskDepth       float64
	ImbalanceRatio float64
	Timestamp      time.Time
}

// WallEventRecorder observes wall appear/disappear transitions. The risk
// filter uses this stream for flash-wall manipulation checks.
type WallEventRecorder interface {
	RecordWallEvent(symbol string, appeared bool, ts time.Time)
}

// Monitor detects walls, imbalance and sweeps over depth snapshots.
type Monitor struct {
	mu        sync.RWMutex
	cfg       Config
	snapshots map[string]*types.DepthSnapshot
	walls     map[string]map[float64]*types.WallState

	cooldowns  *detector.CooldownMap
	sink       detector.Sink
	recorder   detector.AlertRecorder
	wallEvents WallEventRecorder

	nowFunc func() time.Time
}

// NewMonitor wires a monitor. sink, recorder and wallEvents may be nil.
func NewMonitor(cfg Config, sink detector.Sink, recorder detector.AlertRecorder, wallEvents WallEventRecorder) *Monitor {
	return &Monitor{
		cfg:        cfg,
		snapshots:  make(map[string]*types.DepthSnapshot),
		walls:      make(map[string]map[float64]*types.WallState),
		cooldowns:  detector.NewCooldownMap(cfg.Cooldown),
		sink:       sink,
		recorder:   recorder,
		wallEvents: wallEvents,
		nowFunc:    time.Now,
	}
}

// SetWallEventRecorder installs the flash-wall observer after construction.
// The risk filter consumes these events but also needs the monitor for depth
// checks, so it is built second and attached here.
func (m *Monitor) SetWallEventRecorder(r WallEventRecorder) {
	m.mu.Lock()
	m.wallEvents = r
	m.mu.Unlock()
}

// ProcessSnapshot diffs one depth frame against tracked state and emits any
// order-book events.
func (m *Monitor) ProcessSnapshot(snapshot *types.DepthSnapshot) []types.AnomalyEvent {
	if !m.cfg.Enabled || snapshot == nil {
		return nil
	}

	m.mu.Lock()
	symbol := snapshot.Symbol
	prevWalls := m.walls[symbol]

	var events []types.AnomalyEvent
	currentWalls := map[float64]*types.WallState{}

	if m.cfg.WallDetection {
		currentWalls = m.scanWalls(snapshot)
		events = append(events, m.diffNewWalls(symbol, currentWalls, prevWalls)...)
	}

	if m.cfg.ImbalanceDetection {
		if ev, ok := m.checkImbalance(snapshot); ok {
			events = append(events, ev)
		}
	}

	if m.cfg.SweepDetection && len(prevWalls) > 0 {
		events = append(events, m.checkSweeps(snapshot, prevWalls)...)
	}

	m.noteDisappearances(symbol, currentWalls, prevWalls, snapshot.Timestamp)

	m.walls[symbol] = currentWalls
	m.snapshots[symbol] = snapshot
	m.mu.Unlock()

	for _, ev := range events {
		if m.recorder != nil {
			m.recorder.RecordAlert(ev, false, "")
		}
		if m.sink != nil {
			m.sink.Publish(ev)
		}
	}
	return events
}

// scanWalls finds price levels in the top levels that satisfy all three wall
// conditions: close to mid, above the absolute value floor, and a multiple of
// the side's average level value.
func (m *Monitor) scanWalls(snapshot *types.DepthSnapshot) map[float64]*types.WallState {
	walls := make(map[float64]*types.WallState)

	mid := snapshot.MidPrice()
	if mid == 0 {
		return walls
	}

	avgBid := avgLevelValue(snapshot.Bids, wallScanLevels)
	avgAsk := avgLevelValue(snapshot.Asks, wallScanLevels)
	now := m.nowFunc()

	scan := func(levels []types.PriceLevel, side string, avg float64) {
		n := wallScanLevels
		if n > len(levels) {
			n = len(levels)
		}
		for _, lvl := range levels[:n] {
			value := lvl.Price * lvl.Quantity
			var distance float64
			if side == "bid" {
				distance = (mid - lvl.Price) / mid * 100
			} else {
				distance = (lvl.Price - mid) / mid * 100
			}
			if distance > m.cfg.WallDistanceMax {
				continue
			}
			if value < m.cfg.WallValueThreshold || avg <= 0 || value < avg*m.cfg.WallRatioThreshold {
				continue
			}
			walls[lvl.Price] = &types.WallState{
				Symbol:    snapshot.Symbol,
				Side:      side,
				Price:     lvl.Price,
				Quantity:  lvl.Quantity,
				Value:     value,
				FirstSeen: now,
				LastSeen:  now,
			}
		}
	}

	scan(snapshot.Bids, "bid", avgBid)
	scan(snapshot.Asks, "ask", avgAsk)
	return walls
}

func avgLevelValue(levels []types.PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	if n == 0 {
		return 0
	}
	sum := 0.0
	for _, lvl := range levels[:n] {
		sum += lvl.Price * lvl.Quantity
	}
	return sum / float64(n)
}

// diffNewWalls emits wall_detected for prices absent from the previous set.
func (m *Monitor) diffNewWalls(symbol string, current, prev map[float64]*types.WallState) []types.AnomalyEvent {
	var events []types.AnomalyEvent
	for price, wall := range current {
		if old, seen := prev[price]; seen {
			wall.FirstSeen = old.FirstSeen
			continue
		}

		if m.wallEvents != nil {
			m.wallEvents.RecordWallEvent(symbol, true, wall.FirstSeen)
		}

		key := types.AnomalyKind("wall_" + wall.Side)
		if !m.cooldowns.Ready(symbol, key) {
			continue
		}
		m.cooldowns.Record(symbol, key)

		log.Info().Str("symbol", symbol).Str("side", wall.Side).Float64("price", wall.Price).Float64("value", wall.Value).Msg("🧱 Wall detected")
		events = append(events, types.AnomalyEvent{
			Symbol:       symbol,
			Kind:         types.KindOrderBookWall,
			CurrentPrice: wall.Price,
			ChangePct:    wall.Value,
			Threshold:    m.cfg.WallValueThreshold,
			Timestamp:    m.nowFunc(),
			Extras: map[string]float64{
				"price":    wall.Price,
				"quantity": wall.Quantity,
				"value":    wall.Value,
			},
			ExtraText: map[string]string{"side": wall.Side},
		})
	}
	return events
}

// checkImbalance emits one event when |ratio| clears the threshold, with the
// cooldown keyed by the dominant side.
func (m *Monitor) checkImbalance(snapshot *types.DepthSnapshot) (types.AnomalyEvent, bool) {
	levels := m.cfg.ImbalanceDepthLevels
	ratio := snapshot.ImbalanceRatio(levels)
	if ratio < m.cfg.ImbalanceThreshold && ratio > -m.cfg.ImbalanceThreshold {
		return types.AnomalyEvent{}, false
	}

	side := "bid"
	if ratio < 0 {
		side = "ask"
	}
	key := types.AnomalyKind("imbalance_" + side)
	if !m.cooldowns.Ready(snapshot.Symbol, key) {
		return types.AnomalyEvent{}, false
	}
	m.cooldowns.Record(snapshot.Symbol, key)

	bidDepth := snapshot.BidDepth(levels)
	askDepth := snapshot.AskDepth(levels)
	log.Info().Str("symbol", snapshot.Symbol).Float64("ratio", ratio).Float64("bid_depth", bidDepth).Float64("ask_depth", askDepth).Msg("⚖️ Depth imbalance")

	return types.AnomalyEvent{
		Symbol:       snapshot.Symbol,
		Kind:         types.KindOrderBookImbalance,
		CurrentPrice: snapshot.MidPrice(),
		ChangePct:    ratio,
		Threshold:    m.cfg.ImbalanceThreshold,
		Timestamp:    m.nowFunc(),
		Extras: map[string]float64{
			"imbalance_ratio": ratio,
			"bid_depth":       bidDepth,
			"ask_depth":       askDepth,
		},
		ExtraText: map[string]string{"side": side},
	}, true
}

// checkSweeps fires when a previously tracked wall lost >80% of its quantity
// and the vanished value clears the threshold.
func (m *Monitor) checkSweeps(snapshot *types.DepthSnapshot, prevWalls map[float64]*types.WallState) []types.AnomalyEvent {
	currentBids := levelMap(snapshot.Bids)
	currentAsks := levelMap(snapshot.Asks)

	var events []types.AnomalyEvent
	for price, wall := range prevWalls {
		var currentQty float64
		if wall.Side == "bid" {
			currentQty = currentBids[price]
		} else {
			currentQty = currentAsks[price]
		}

		if currentQty >= wall.Quantity*0.2 {
			continue
		}
		removedValue := wall.Value - price*currentQty
		if removedValue < m.cfg.SweepValueThreshold {
			continue
		}

		key := types.AnomalyKind("sweep_" + wall.Side)
		if !m.cooldowns.Ready(snapshot.Symbol, key) {
			continue
		}
		m.cooldowns.Record(snapshot.Symbol, key)

		log.Info().Str("symbol", snapshot.Symbol).Str("side", wall.Side).Float64("removed", removedValue).Msg("🌊 Wall swept")
		events = append(events, types.AnomalyEvent{
			Symbol:       snapshot.Symbol,
			Kind:         types.KindOrderBookSweep,
			CurrentPrice: wall.Price,
			ChangePct:    removedValue,
			Threshold:    m.cfg.SweepValueThreshold,
			Timestamp:    m.nowFunc(),
			Extras: map[string]float64{
				"price":          wall.Price,
				"original_value": wall.Value,
				"removed_value":  removedValue,
			},
			ExtraText: map[string]string{"side": wall.Side},
		})
	}
	return events
}

// noteDisappearances feeds the wall appear/disappear stream for walls that
// dropped out of the tracked set.
func (m *Monitor) noteDisappearances(symbol string, current, prev map[float64]*types.WallState, ts time.Time) {
	if m.wallEvents == nil {
		return
	}
	for price := range prev {
		if _, still := current[price]; !still {
			m.wallEvents.RecordWallEvent(symbol, false, ts)
		}
	}
}

// TrackedWalls returns copies of the walls currently tracked for a symbol.
func (m *Monitor) TrackedWalls(symbol string) []types.WallState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.WallState
	for _, w := range m.walls[symbol] {
		out = append(out, *w)
	}
	return out
}

// DepthInfo returns the cached liquidity view for a symbol.
func (m *Monitor) DepthInfo(symbol string) (DepthInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := m.snapshots[symbol]
	if snapshot == nil {
		return DepthInfo{}, false
	}

	levels := m.cfg.ImbalanceDepthLevels
	return DepthInfo{
		Symbol:         symbol,
		BestBid:        snapshot.BestBid().Price,
		BestAsk:        snapshot.BestAsk().Price,
		SpreadPercent:  snapshot.SpreadPercent(),
		BidDepth:       snapshot.BidDepth(levels),
		AskDepth:       snapshot.AskDepth(levels),
		ImbalanceRatio: snapshot.ImbalanceRatio(levels),
		Timestamp:      snapshot.Timestamp,
	}, true
}

// Snapshot returns the last stored depth frame for a symbol.
func (m *Monitor) Snapshot(symbol string) (*types.DepthSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[symbol]
	return s, ok
}

// ImbalanceAt computes the current imbalance ratio at an arbitrary depth.
func (m *Monitor) ImbalanceAt(symbol string, levels int) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := m.snapshots[symbol]
	if snapshot == nil {
		return 0, false
	}
	return snapshot.ImbalanceRatio(levels), true
}

func levelMap(levels []types.PriceLevel) map[float64]float64 {
	m := make(map[float64]float64, len(levels))
	for _, lvl := range levels {
		m[lvl.Price] = lvl.Quantity
	}
	return m
}
