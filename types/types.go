package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Ticker is a point-in-time futures quote from the exchange stream.
type Ticker struct {
	Symbol      string
	Price       float64
	BaseVolume  float64
	QuoteVolume float64
	Timestamp   time.Time
	WsRecvTime  time.Time // when the frame hit our socket
}

// SpotPrice is the latest spot quote for a symbol.
type SpotPrice struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}

// OIObservation is one polled open-interest sample.
type OIObservation struct {
	Symbol       string
	OpenInterest float64
	Timestamp    time.Time
}

// PricePoint is one entry in the per-symbol price ring.
type PricePoint struct {
	Price     float64
	Volume    float64
	Timestamp time.Time
}

// PriceLevel is a single depth level.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// DepthSnapshot is one order-book frame. Bids are sorted descending by price,
// asks ascending.
type DepthSnapshot struct {
	Symbol       string
	Bids         []PriceLevel
	Asks         []PriceLevel
	LastUpdateID int64
	Timestamp    time.Time
}

// BestBid returns the highest bid, or zero value if empty.
func (d *DepthSnapshot) BestBid() PriceLevel {
	if len(d.Bids) == 0 {
		return PriceLevel{}
	}
	return d.Bids[0]
}

// BestAsk returns the lowest ask, or zero value if empty.
func (d *DepthSnapshot) BestAsk() PriceLevel {
	if len(d.Asks) == 0 {
		return PriceLevel{}
	}
	return d.Asks[0]
}

// MidPrice returns (bestBid+bestAsk)/2, or 0 if either side is empty.
func (d *DepthSnapshot) MidPrice() float64 {
	if len(d.Bids) == 0 || len(d.Asks) == 0 {
		return 0
	}
	return (d.Bids[0].Price + d.Asks[0].Price) / 2
}

// SpreadPercent returns (ask-bid)/mid × 100, or 0 if unavailable.
func (d *DepthSnapshot) SpreadPercent() float64 {
	mid := d.MidPrice()
	if mid == 0 {
		return 0
	}
	return (d.Asks[0].Price - d.Bids[0].Price) / mid * 100
}

// BidDepth sums price×qty over the top n bid levels.
func (d *DepthSnapshot) BidDepth(n int) float64 {
	return depthValue(d.Bids, n)
}

// AskDepth sums price×qty over the top n ask levels.
func (d *DepthSnapshot) AskDepth(n int) float64 {
	return depthValue(d.Asks, n)
}

// ImbalanceRatio returns (bidDepth-askDepth)/(bidDepth+askDepth) over the top
// n levels, in [-1, 1]. Returns 0 when both sides are empty.
func (d *DepthSnapshot) ImbalanceRatio(n int) float64 {
	bid := d.BidDepth(n)
	ask := d.AskDepth(n)
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}

func depthValue(levels []PriceLevel, n int) float64 {
	if n > len(levels) {
		n = len(levels)
	}
	total := 0.0
	for i := 0; i < n; i++ {
		total += levels[i].Price * levels[i].Quantity
	}
	return total
}

// WallState tracks a large resting order between depth snapshots.
type WallState struct {
	Symbol    string
	Side      string // "bid" or "ask"
	Price     float64
	Quantity  float64
	Value     float64
	FirstSeen time.Time
	LastSeen  time.Time
}

// TierConfig is one threshold bucket, selected by position value.
type TierConfig struct {
	MinOIValue      float64 `yaml:"min_oi_value"`
	PriceThreshold  float64 `yaml:"price_threshold"`
	VolumeThreshold float64 `yaml:"volume_threshold"`
	OIThreshold     float64 `yaml:"oi_threshold"`
	SpreadThreshold float64 `yaml:"spread_threshold"`
	Label           string  `yaml:"label"`
}

// AnomalyKind identifies a detector family.
type AnomalyKind string

const (
	KindPriceChange        AnomalyKind = "price_change"
	KindVolumeSpike        AnomalyKind = "volume_spike"
	KindOIChange           AnomalyKind = "oi_change"
	KindSpotFuturesSpread  AnomalyKind = "spot_futures_spread"
	KindPriceReversal      AnomalyKind = "price_reversal"
	KindOrderBookWall      AnomalyKind = "orderbook_wall"
	KindOrderBookImbalance AnomalyKind = "orderbook_imbalance"
	KindOrderBookSweep     AnomalyKind = "orderbook_sweep"
)

// AnomalyEvent is an alert emitted by a detector.
type AnomalyEvent struct {
	Symbol       string
	Kind         AnomalyKind
	Tier         string
	CurrentPrice float64
	ChangePct    float64
	Threshold    float64
	Window       time.Duration
	Timestamp    time.Time
	Extras       map[string]float64
	ExtraText    map[string]string
}

// FeatureVector is the fixed-schema feature record produced per symbol.
type FeatureVector struct {
	Symbol    string
	Timestamp time.Time
	Price     float64

	PriceChange1m  float64
	PriceChange5m  float64
	PriceChange15m float64

	Volatility1m float64
	Volatility5m float64

	VolumeRatio1m float64
	VolumeRatio5m float64
	QuoteVolume   float64

	OIChange5m  float64
	OIChange15m float64

	SpotFuturesSpread float64
	FundingRate       *float64

	ImbalanceRatio5  float64
	ImbalanceRatio10 float64
	ImbalanceRatio20 float64
	BidWallDistance  *float64
	AskWallDistance  *float64
	BidWallValue     *float64
	AskWallValue     *float64
	SpreadBps        float64

	MA5             float64
	MA20            float64
	MA60            float64
	EMA12           float64
	EMA26           float64
	RSI14           float64
	MACDLine        float64
	MACDSignal      float64
	MACDHistogram   float64
	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64

	ReversalType    string // "top", "bottom" or ""
	ReversalRisePct float64
	ReversalFallPct float64

	TierLabel      string
	AlertTriggered bool
	AlertKinds     []string
}

// Label is the delayed supervised label for one FeatureVector.
type Label struct {
	Symbol           string
	FeatureTimestamp time.Time
	Return1m         float64
	Return5m         float64
	Return15m        float64
	Return30m        float64
	Direction5m      int
	Direction15m     int
	MaxProfit5m      float64
	MaxDrawdown5m    float64
	GeneratedAt      time.Time
}

// RiskResult is the outcome of one risk evaluation.
type RiskResult struct {
	Symbol             string
	Timestamp          time.Time
	WsLatencyMs        float64
	DataAgeMs          float64
	SpreadTooWide      bool
	DepthTooThin       bool
	IsFake             bool
	FakeReason         string
	WallManipulation   bool
	VolumeManipulation bool
}

// Filtered reports whether any risk flag fired.
func (r *RiskResult) Filtered() bool {
	return r.SpreadTooWide || r.DepthTooThin || r.IsFake ||
		r.WallManipulation || r.VolumeManipulation
}

// Side of a position.
const (
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Exit reasons for closed trades.
const (
	ExitTakeProfit   = "take_profit"
	ExitStopLoss     = "stop_loss"
	ExitTrailingStop = "trailing_stop"
	ExitTimeExit     = "time_exit"
	ExitSignalExit   = "signal_exit"
	ExitLiquidation  = "liquidation"
	ExitManual       = "manual"
)

// Position is an open simulated position.
type Position struct {
	ID         string
	Symbol     string
	Side       string // LONG or SHORT
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	EntryTime  time.Time
	Leverage   int
	Margin     decimal.Decimal

	TakeProfitPrice  decimal.Decimal // zero = unset
	StopLossPrice    decimal.Decimal // zero = unset
	TrailingDistance decimal.Decimal // percent, zero = disabled
	MaxHoldSeconds   int

	CurrentPrice     decimal.Decimal
	HighestPrice     decimal.Decimal
	LowestPrice      decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	UnrealizedPnLPct decimal.Decimal

	SignalConfidence float64
	SignalReason     string
}

// UpdatePnL refreshes mark price, monotone extrema and unrealized PnL.
func (p *Position) UpdatePnL(price decimal.Decimal) {
	p.CurrentPrice = price
	if p.HighestPrice.IsZero() || price.GreaterThan(p.HighestPrice) {
		p.HighestPrice = price
	}
	if p.LowestPrice.IsZero() || price.LessThan(p.LowestPrice) {
		p.LowestPrice = price
	}

	if p.EntryPrice.IsZero() {
		return
	}
	hundred := decimal.NewFromInt(100)
	var pct decimal.Decimal
	if p.Side == SideLong {
		pct = price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
	} else {
		pct = p.EntryPrice.Sub(price).Div(p.EntryPrice).Mul(hundred)
	}
	p.UnrealizedPnLPct = pct
	p.UnrealizedPnL = p.Margin.Mul(pct).Div(hundred).Mul(decimal.NewFromInt(int64(p.Leverage)))
}

// HoldDuration returns how long the position has been open.
func (p *Position) HoldDuration(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// Trade is a closed position, immutable once built.
type Trade struct {
	ID             string
	Symbol         string
	Side           string
	Quantity       decimal.Decimal
	EntryPrice     decimal.Decimal
	EntryTime      time.Time
	ExitPrice      decimal.Decimal
	ExitTime       time.Time
	ExitReason     string
	Leverage       int
	Margin         decimal.Decimal
	Commission     decimal.Decimal
	RealizedPnL    decimal.Decimal
	RealizedPnLPct decimal.Decimal
	ROI            decimal.Decimal

	SignalConfidence float64
	SignalReason     string
}

// NewTrade builds a Trade from a closed position, deriving realized PnL from
// the exit price and commission.
func NewTrade(p *Position, exitPrice decimal.Decimal, exitTime time.Time, reason string, commission decimal.Decimal) Trade {
	hundred := decimal.NewFromInt(100)
	var pct decimal.Decimal
	if !p.EntryPrice.IsZero() {
		if p.Side == SideLong {
			pct = exitPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
		} else {
			pct = p.EntryPrice.Sub(exitPrice).Div(p.EntryPrice).Mul(hundred)
		}
	}
	lev := decimal.NewFromInt(int64(p.Leverage))
	roi := pct.Mul(lev)
	realized := p.Margin.Mul(roi).Div(hundred).Sub(commission)

	return Trade{
		ID:               p.ID,
		Symbol:           p.Symbol,
		Side:             p.Side,
		Quantity:         p.Quantity,
		EntryPrice:       p.EntryPrice,
		EntryTime:        p.EntryTime,
		ExitPrice:        exitPrice,
		ExitTime:         exitTime,
		ExitReason:       reason,
		Leverage:         p.Leverage,
		Margin:           p.Margin,
		Commission:       commission,
		RealizedPnL:      realized,
		RealizedPnLPct:   pct,
		ROI:              roi,
		SignalConfidence: p.SignalConfidence,
		SignalReason:     p.SignalReason,
	}
}

// AccountState is a periodic snapshot of the virtual account.
type AccountState struct {
	Timestamp       time.Time
	Balance         decimal.Decimal
	Equity          decimal.Decimal
	MarginUsed      decimal.Decimal
	MarginAvailable decimal.Decimal
	MarginRatio     decimal.Decimal
	OpenPositions   int
	TotalTrades     int
	WinTrades       int
	TotalPnL        decimal.Decimal
	MaxDrawdown     decimal.Decimal
	WinRate         decimal.Decimal
}
