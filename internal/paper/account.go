// ═══════════════════════════════════════════════════════════════════════════
// PAPER TRADING - Virtual account, stops, strategy and the realtime engine
//
// Simulated perp trading against the live feed. All money math runs on
// decimals; feature inputs stay float64 and convert at the boundary.
// ═══════════════════════════════════════════════════════════════════════════

package paper

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfeed/perpwatch/types"
)

var hundred = decimal.NewFromInt(100)

// AccountConfig sets the virtual account's funding and limits.
type AccountConfig struct {
	InitialBalance  float64 `yaml:"initial_balance"`
	Leverage        int     `yaml:"leverage"`
	MakerFee        float64 `yaml:"maker_fee"`
	TakerFee        float64 `yaml:"taker_fee"`
	MaxPositions    int     `yaml:"max_positions"`
	PositionRiskPct float64 `yaml:"position_risk_pct"`
	MaxMarginRatio  float64 `yaml:"max_margin_ratio"`
}

// DefaultAccountConfig returns the stock simulation account: $10k, 15x,
// taker 5bps, 2% risk per trade.
func DefaultAccountConfig() AccountConfig {
	return AccountConfig{
		InitialBalance:  10_000,
		Leverage:        15,
		MakerFee:        0.0002,
		TakerFee:        0.0005,
		MaxPositions:    5,
		PositionRiskPct: 2.0,
		MaxMarginRatio:  0.8,
	}
}

// VirtualAccount tracks balance, open positions and closed trades for the
// simulation. Safe for concurrent use.
type VirtualAccount struct {
	mu  sync.RWMutex
	cfg AccountConfig

	initialBalance decimal.Decimal
	balance        decimal.Decimal
	leverage       decimal.Decimal
	makerFee       decimal.Decimal
	takerFee       decimal.Decimal

	positions map[string]*types.Position
	trades    []types.Trade

	equityHistory  []EquityPoint
	lastEquityTime time.Time

	totalTrades    int
	winTrades      int
	totalPnL       decimal.Decimal
	maxEquity      decimal.Decimal
	minEquity      decimal.Decimal
	maxDrawdown    decimal.Decimal
	maxDrawdownPct decimal.Decimal
}

// EquityPoint is one sample on the equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Equity    decimal.Decimal
	Balance   decimal.Decimal
}

// NewVirtualAccount funds a fresh account.
func NewVirtualAccount(cfg AccountConfig) *VirtualAccount {
	initial := decimal.NewFromFloat(cfg.InitialBalance)
	a := &VirtualAccount{
		cfg:            cfg,
		initialBalance: initial,
		balance:        initial,
		leverage:       decimal.NewFromInt(int64(cfg.Leverage)),
		makerFee:       decimal.NewFromFloat(cfg.MakerFee),
		takerFee:       decimal.NewFromFloat(cfg.TakerFee),
		positions:      make(map[string]*types.Position),
		maxEquity:      initial,
		minEquity:      initial,
	}
	log.Info().
		Str("balance", initial.StringFixed(2)).
		Int("leverage", cfg.Leverage).
		Int("max_positions", cfg.MaxPositions).
		Msg("💰 Virtual account funded")
	return a
}

// Equity is balance plus unrealized PnL across open positions.
func (a *VirtualAccount) Equity() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.equityLocked()
}

func (a *VirtualAccount) equityLocked() decimal.Decimal {
	equity := a.balance
	for _, p := range a.positions {
		equity = equity.Add(p.UnrealizedPnL)
	}
	return equity
}

// Balance returns the settled balance.
func (a *VirtualAccount) Balance() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance
}

// MarginUsed sums margin across open positions.
func (a *VirtualAccount) MarginUsed() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.marginUsedLocked()
}

func (a *VirtualAccount) marginUsedLocked() decimal.Decimal {
	used := decimal.Zero
	for _, p := range a.positions {
		used = used.Add(p.Margin)
	}
	return used
}

// AvailableMargin is balance minus margin in use.
func (a *VirtualAccount) AvailableMargin() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.balance.Sub(a.marginUsedLocked())
}

// MarginRatio is used margin over balance, 1.0 when the balance is gone.
func (a *VirtualAccount) MarginRatio() decimal.Decimal {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.balance.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	return a.marginUsedLocked().Div(a.balance)
}

// CanOpen reports whether a position needing the given margin may open.
func (a *VirtualAccount) CanOpen(marginRequired decimal.Decimal) (bool, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.positions) >= a.cfg.MaxPositions {
		return false, fmt.Sprintf("position cap reached (%d)", a.cfg.MaxPositions)
	}

	available := a.balance.Sub(a.marginUsedLocked())
	if available.LessThan(marginRequired) {
		return false, fmt.Sprintf("insufficient margin: need %s, available %s",
			marginRequired.StringFixed(2), available.StringFixed(2))
	}

	if a.balance.GreaterThan(decimal.Zero) {
		newRatio := a.marginUsedLocked().Add(marginRequired).Div(a.balance)
		if newRatio.GreaterThan(decimal.NewFromFloat(a.cfg.MaxMarginRatio)) {
			return false, fmt.Sprintf("margin ratio %s over cap %.0f%%",
				newRatio.Mul(hundred).StringFixed(1), a.cfg.MaxMarginRatio*100)
		}
	}
	return true, ""
}

// SizeFor computes the quantity for a new position using the fixed-risk
// method: risk a percentage of equity against the stop distance, cap the
// margin at half the free margin.
func (a *VirtualAccount) SizeFor(price decimal.Decimal, stopLossPct, riskPct float64) decimal.Decimal {
	if riskPct <= 0 {
		riskPct = a.cfg.PositionRiskPct
	}
	if stopLossPct <= 0 || price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}

	a.mu.RLock()
	equity := a.equityLocked()
	available := a.balance.Sub(a.marginUsedLocked())
	a.mu.RUnlock()

	riskAmount := equity.Mul(decimal.NewFromFloat(riskPct)).Div(hundred)
	positionValue := riskAmount.Div(decimal.NewFromFloat(stopLossPct).Div(hundred)).Mul(a.leverage)
	marginRequired := positionValue.Div(a.leverage)

	maxMargin := available.Mul(decimal.NewFromFloat(0.5))
	if marginRequired.GreaterThan(maxMargin) {
		marginRequired = maxMargin
	}
	if marginRequired.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	return marginRequired.Mul(a.leverage).Div(price)
}

// MarginFor returns the margin a quantity at price requires.
func (a *VirtualAccount) MarginFor(quantity, price decimal.Decimal) decimal.Decimal {
	return quantity.Mul(price).Div(a.leverage)
}

// Commission for a fill.
func (a *VirtualAccount) Commission(quantity, price decimal.Decimal, isMaker bool) decimal.Decimal {
	rate := a.takerFee
	if isMaker {
		rate = a.makerFee
	}
	return quantity.Mul(price).Mul(rate)
}

// Leverage returns the configured leverage.
func (a *VirtualAccount) Leverage() int { return a.cfg.Leverage }

// AddPosition registers an open position.
func (a *VirtualAccount) AddPosition(p *types.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.positions[p.ID] = p
}

// RemovePosition drops a position by id, returning it if present.
func (a *VirtualAccount) RemovePosition(id string) *types.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	p := a.positions[id]
	delete(a.positions, id)
	return p
}

// Positions returns the open positions.
func (a *VirtualAccount) Positions() []*types.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*types.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out
}

// OpenCount returns the number of open positions.
func (a *VirtualAccount) OpenCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.positions)
}

// DebitCommission charges an open-side fee against the balance.
func (a *VirtualAccount) DebitCommission(commission decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance = a.balance.Sub(commission)
}

// RecordTrade settles a closed trade into the balance and statistics.
func (a *VirtualAccount) RecordTrade(trade types.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.trades = append(a.trades, trade)
	a.totalTrades++
	if trade.RealizedPnL.GreaterThan(decimal.Zero) {
		a.winTrades++
	}
	a.totalPnL = a.totalPnL.Add(trade.RealizedPnL)
	a.balance = a.balance.Add(trade.RealizedPnL)
	a.updateDrawdownLocked()

	log.Info().
		Str("symbol", trade.Symbol).
		Str("side", trade.Side).
		Str("pnl", trade.RealizedPnL.StringFixed(2)).
		Str("roi", trade.ROI.StringFixed(2)).
		Str("reason", trade.ExitReason).
		Msg("💱 Trade settled")
}

func (a *VirtualAccount) updateDrawdownLocked() {
	equity := a.equityLocked()
	if equity.GreaterThan(a.maxEquity) {
		a.maxEquity = equity
	}
	if equity.LessThan(a.minEquity) {
		a.minEquity = equity
	}
	if a.maxEquity.GreaterThan(decimal.Zero) {
		dd := a.maxEquity.Sub(equity)
		if dd.GreaterThan(a.maxDrawdown) {
			a.maxDrawdown = dd
			a.maxDrawdownPct = dd.Div(a.maxEquity).Mul(hundred)
		}
	}
}

// RecordEquity samples the equity curve, at most once per second.
func (a *VirtualAccount) RecordEquity(ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.lastEquityTime.IsZero() && ts.Sub(a.lastEquityTime) < time.Second {
		return
	}
	a.lastEquityTime = ts
	a.equityHistory = append(a.equityHistory, EquityPoint{
		Timestamp: ts,
		Equity:    a.equityLocked(),
		Balance:   a.balance,
	})
	a.updateDrawdownLocked()
}

// EquityCurve returns a copy of the sampled curve.
func (a *VirtualAccount) EquityCurve() []EquityPoint {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]EquityPoint(nil), a.equityHistory...)
}

// Trades returns the most recent trades, all when limit <= 0.
func (a *VirtualAccount) Trades(limit int) []types.Trade {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if limit <= 0 || limit >= len(a.trades) {
		return append([]types.Trade(nil), a.trades...)
	}
	return append([]types.Trade(nil), a.trades[len(a.trades)-limit:]...)
}

// State snapshots the account for persistence and display.
func (a *VirtualAccount) State(ts time.Time) types.AccountState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	winRate := decimal.Zero
	if a.totalTrades > 0 {
		winRate = decimal.NewFromInt(int64(a.winTrades)).Div(decimal.NewFromInt(int64(a.totalTrades)))
	}
	return types.AccountState{
		Timestamp:       ts,
		Balance:         a.balance,
		Equity:          a.equityLocked(),
		MarginUsed:      a.marginUsedLocked(),
		MarginAvailable: a.balance.Sub(a.marginUsedLocked()),
		MarginRatio:     a.marginRatioLocked(),
		OpenPositions:   len(a.positions),
		TotalTrades:     a.totalTrades,
		WinTrades:       a.winTrades,
		TotalPnL:        a.totalPnL,
		MaxDrawdown:     a.maxDrawdownPct,
		WinRate:         winRate,
	}
}

func (a *VirtualAccount) marginRatioLocked() decimal.Decimal {
	if a.balance.LessThanOrEqual(decimal.Zero) {
		return decimal.NewFromInt(1)
	}
	return a.marginUsedLocked().Div(a.balance)
}

// Statistics summarizes closed trades.
type Statistics struct {
	TotalTrades    int
	WinTrades      int
	LossTrades     int
	WinRate        decimal.Decimal
	TotalPnL       decimal.Decimal
	AvgWin         decimal.Decimal
	AvgLoss        decimal.Decimal
	ProfitFactor   decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	ReturnPct      decimal.Decimal
}

// Stats computes the trade summary.
func (a *VirtualAccount) Stats() Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Statistics{
		TotalTrades:    a.totalTrades,
		WinTrades:      a.winTrades,
		TotalPnL:       a.totalPnL,
		MaxDrawdownPct: a.maxDrawdownPct,
	}
	if a.initialBalance.GreaterThan(decimal.Zero) {
		s.ReturnPct = a.equityLocked().Div(a.initialBalance).Sub(decimal.NewFromInt(1)).Mul(hundred)
	}
	if a.totalTrades == 0 {
		return s
	}

	s.LossTrades = a.totalTrades - a.winTrades
	s.WinRate = decimal.NewFromInt(int64(a.winTrades)).Div(decimal.NewFromInt(int64(a.totalTrades)))

	winSum, lossSum := decimal.Zero, decimal.Zero
	for _, t := range a.trades {
		if t.RealizedPnL.GreaterThan(decimal.Zero) {
			winSum = winSum.Add(t.RealizedPnL)
		} else {
			lossSum = lossSum.Add(t.RealizedPnL.Abs())
		}
	}
	if a.winTrades > 0 {
		s.AvgWin = winSum.Div(decimal.NewFromInt(int64(a.winTrades)))
	}
	if s.LossTrades > 0 {
		s.AvgLoss = lossSum.Div(decimal.NewFromInt(int64(s.LossTrades)))
	}
	if s.AvgLoss.GreaterThan(decimal.Zero) {
		s.ProfitFactor = s.AvgWin.Div(s.AvgLoss)
	}
	return s
}

// Reset returns the account to its opening state.
func (a *VirtualAccount) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.balance = a.initialBalance
	a.positions = make(map[string]*types.Position)
	a.trades = nil
	a.equityHistory = nil
	a.lastEquityTime = time.Time{}
	a.totalTrades = 0
	a.winTrades = 0
	a.totalPnL = decimal.Zero
	a.maxEquity = a.initialBalance
	a.minEquity = a.initialBalance
	a.maxDrawdown = decimal.Zero
	a.maxDrawdownPct = decimal.Zero
	log.Info().Msg("💰 Account reset")
}
