package paper

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfeed/perpwatch/types"
)

// OpenRequest describes a position to open. Quantity zero means size by the
// account's risk rule.
type OpenRequest struct {
	Symbol           string
	Side             string
	Price            decimal.Decimal
	Signal           *Signal
	Quantity         decimal.Decimal
	TakeProfit       decimal.Decimal
	StopLoss         decimal.Decimal
	TrailingDistance decimal.Decimal
	MaxHoldSeconds   int
	Timestamp        time.Time
}

// PositionManager runs the position lifecycle against the virtual account.
type PositionManager struct {
	account *VirtualAccount
	stops   *StopLossManager

	nowFunc func() time.Time
}

// NewPositionManager wires a manager. stops may be nil; exit checks then use
// only the position's own levels plus time and liquidation.
func NewPositionManager(account *VirtualAccount, stops *StopLossManager) *PositionManager {
	return &PositionManager{account: account, stops: stops, nowFunc: time.Now}
}

// Open sizes, validates and registers a new position. Returns nil with the
// rejection reason when the account refuses.
func (m *PositionManager) Open(req OpenRequest) (*types.Position, string) {
	if req.Timestamp.IsZero() {
		req.Timestamp = m.nowFunc()
	}
	if req.Signal != nil {
		if req.TakeProfit.IsZero() {
			req.TakeProfit = req.Signal.TakeProfit
		}
		if req.StopLoss.IsZero() {
			req.StopLoss = req.Signal.StopLoss
		}
	}

	stopLossPct := 1.5
	if !req.StopLoss.IsZero() && req.Price.GreaterThan(decimal.Zero) {
		dist := req.Price.Sub(req.StopLoss).Abs().Div(req.Price).Mul(hundred)
		stopLossPct, _ = dist.Float64()
	}

	quantity := req.Quantity
	if quantity.IsZero() {
		quantity = m.account.SizeFor(req.Price, stopLossPct, 0)
	}
	if quantity.LessThanOrEqual(decimal.Zero) {
		log.Warn().Str("symbol", req.Symbol).Msg("⚠️ Computed size is zero, not opening")
		return nil, "zero size"
	}

	margin := m.account.MarginFor(quantity, req.Price)
	if ok, reason := m.account.CanOpen(margin); !ok {
		log.Warn().Str("symbol", req.Symbol).Str("reason", reason).Msg("⚠️ Open rejected")
		return nil, reason
	}

	commission := m.account.Commission(quantity, req.Price, false)
	m.account.DebitCommission(commission)

	confidence := 0.0
	reason := ""
	if req.Signal != nil {
		confidence = req.Signal.Confidence
		reason = req.Signal.Reason
	}

	position := &types.Position{
		ID:               uuid.NewString()[:8],
		Symbol:           req.Symbol,
		Side:             req.Side,
		Quantity:         quantity,
		EntryPrice:       req.Price,
		EntryTime:        req.Timestamp,
		Leverage:         m.account.Leverage(),
		Margin:           margin,
		TakeProfitPrice:  req.TakeProfit,
		StopLossPrice:    req.StopLoss,
		TrailingDistance: req.TrailingDistance,
		MaxHoldSeconds:   req.MaxHoldSeconds,
		CurrentPrice:     req.Price,
		HighestPrice:     req.Price,
		LowestPrice:      req.Price,
		SignalConfidence: confidence,
		SignalReason:     reason,
	}
	m.account.AddPosition(position)

	log.Info().
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Str("qty", quantity.StringFixed(4)).
		Str("price", req.Price.StringFixed(4)).
		Str("margin", margin.StringFixed(2)).
		Msg("🟢 Position opened")
	return position, ""
}

// Close settles a position at the exit price and records the trade.
func (m *PositionManager) Close(p *types.Position, exitPrice decimal.Decimal, reason string, ts time.Time) types.Trade {
	if ts.IsZero() {
		ts = m.nowFunc()
	}
	commission := m.account.Commission(p.Quantity, exitPrice, false)
	trade := types.NewTrade(p, exitPrice, ts, reason, commission)

	m.account.RemovePosition(p.ID)
	m.account.RecordTrade(trade)

	log.Info().
		Str("symbol", p.Symbol).
		Str("side", p.Side).
		Str("exit", exitPrice.StringFixed(4)).
		Str("pnl", trade.RealizedPnL.StringFixed(2)).
		Str("reason", reason).
		Msg("🔴 Position closed")
	return trade
}

// UpdatePnL marks all positions in the given symbols to the latest price.
func (m *PositionManager) UpdatePnL(prices map[string]decimal.Decimal) {
	for _, p := range m.account.Positions() {
		if price, ok := prices[p.Symbol]; ok {
			p.UpdatePnL(price)
		}
	}
}

// CheckExit evaluates exit conditions in fixed order: take-profit, stop
// manager, time stop, liquidation.
func (m *PositionManager) CheckExit(p *types.Position, price decimal.Decimal, fv *types.FeatureVector, ts time.Time) (bool, string) {
	if ts.IsZero() {
		ts = m.nowFunc()
	}

	if !p.TakeProfitPrice.IsZero() {
		if p.Side == types.SideLong && price.GreaterThanOrEqual(p.TakeProfitPrice) {
			return true, types.ExitTakeProfit
		}
		if p.Side == types.SideShort && price.LessThanOrEqual(p.TakeProfitPrice) {
			return true, types.ExitTakeProfit
		}
	}

	if m.stops != nil {
		if hit, reason := m.stops.CheckStop(p, price, fv); hit {
			return true, reason
		}
	} else if !p.StopLossPrice.IsZero() {
		if p.Side == types.SideLong && price.LessThanOrEqual(p.StopLossPrice) {
			return true, types.ExitStopLoss
		}
		if p.Side == types.SideShort && price.GreaterThanOrEqual(p.StopLossPrice) {
			return true, types.ExitStopLoss
		}
	}

	maxHold := p.MaxHoldSeconds
	if maxHold > 0 && ts.Sub(p.EntryTime) > time.Duration(maxHold)*time.Second {
		return true, types.ExitTimeExit
	}

	// A 100%/leverage adverse move wipes the margin.
	if p.Leverage > 0 {
		liq := decimal.NewFromInt(-100).Div(decimal.NewFromInt(int64(p.Leverage)))
		if p.UnrealizedPnLPct.LessThan(liq) {
			return true, types.ExitLiquidation
		}
	}
	return false, ""
}

// Positions lists open positions, all symbols when symbol is "".
func (m *PositionManager) Positions(symbol string) []*types.Position {
	all := m.account.Positions()
	if symbol == "" {
		return all
	}
	var out []*types.Position
	for _, p := range all {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

// HasPosition reports an open position for symbol; side "" matches any.
func (m *PositionManager) HasPosition(symbol, side string) bool {
	for _, p := range m.Positions(symbol) {
		if side == "" || p.Side == side {
			return true
		}
	}
	return false
}

// CloseAll settles every open position at the given prices, falling back to
// each position's mark price.
func (m *PositionManager) CloseAll(prices map[string]decimal.Decimal, reason string, ts time.Time) []types.Trade {
	var trades []types.Trade
	for _, p := range m.account.Positions() {
		price, ok := prices[p.Symbol]
		if !ok {
			price = p.CurrentPrice
		}
		trades = append(trades, m.Close(p, price, reason, ts))
	}
	return trades
}
