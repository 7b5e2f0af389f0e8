package paper

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfeed/perpwatch/types"
)

// Stop method names.
const (
	StopFixed    = "fixed"
	StopATR      = "atr"
	StopTrailing = "trailing"
	StopMultiple = "multiple"
)

// StopLossConfig tunes exit placement and triggers.
type StopLossConfig struct {
	Method string `yaml:"method"`

	FixedStopPct  float64 `yaml:"fixed_stop_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`

	ATRMultiplier float64 `yaml:"atr_multiplier"`
	ATRPeriod     int     `yaml:"atr_period"`

	TrailingDistance   float64 `yaml:"trailing_distance"`
	TrailingActivation float64 `yaml:"trailing_activation"`

	MaxHoldSeconds int `yaml:"max_hold_seconds"`
}

// DefaultStopLossConfig returns the stock setup: multiple mode, 1.5% stop,
// 3% target, 1% trailing after 1% gain, 15 minute time stop.
func DefaultStopLossConfig() StopLossConfig {
	return StopLossConfig{
		Method:             StopMultiple,
		FixedStopPct:       1.5,
		TakeProfitPct:      3.0,
		ATRMultiplier:      2.0,
		ATRPeriod:          14,
		TrailingDistance:   1.0,
		TrailingActivation: 1.0,
		MaxHoldSeconds:     900,
	}
}

// StopLossManager evaluates stop triggers and places initial exit prices.
type StopLossManager struct {
	cfg StopLossConfig

	nowFunc func() time.Time
}

// NewStopLossManager builds a manager.
func NewStopLossManager(cfg StopLossConfig) *StopLossManager {
	return &StopLossManager{cfg: cfg, nowFunc: time.Now}
}

// CheckStop reports whether the position should close and why. feature may
// be nil; ATR mode then falls back to the fixed stop.
func (m *StopLossManager) CheckStop(p *types.Position, price decimal.Decimal, fv *types.FeatureVector) (bool, string) {
	switch m.cfg.Method {
	case StopFixed:
		return m.checkFixed(p, price)
	case StopTrailing:
		return m.checkTrailing(p, price)
	case StopATR:
		return m.checkATR(p, price, fv)
	case StopMultiple:
		return m.checkMultiple(p, price, fv)
	default:
		return false, ""
	}
}

func (m *StopLossManager) checkFixed(p *types.Position, price decimal.Decimal) (bool, string) {
	if !p.StopLossPrice.IsZero() {
		if p.Side == types.SideLong && price.LessThanOrEqual(p.StopLossPrice) {
			return true, types.ExitStopLoss
		}
		if p.Side == types.SideShort && price.GreaterThanOrEqual(p.StopLossPrice) {
			return true, types.ExitStopLoss
		}
	}

	pct := decimal.NewFromFloat(m.cfg.FixedStopPct).Div(hundred)
	if p.Side == types.SideLong {
		stop := p.EntryPrice.Mul(decimal.NewFromInt(1).Sub(pct))
		if price.LessThanOrEqual(stop) {
			return true, types.ExitStopLoss
		}
	} else {
		stop := p.EntryPrice.Mul(decimal.NewFromInt(1).Add(pct))
		if price.GreaterThanOrEqual(stop) {
			return true, types.ExitStopLoss
		}
	}
	return false, ""
}

// checkTrailing arms once the favorable extreme has moved activation% past
// entry, then trails that extreme by the configured distance. Activation is
// judged on the extreme, not current PnL, so a retrace cannot disarm it.
func (m *StopLossManager) checkTrailing(p *types.Position, price decimal.Decimal) (bool, string) {
	distance := p.TrailingDistance
	if distance.IsZero() {
		distance = decimal.NewFromFloat(m.cfg.TrailingDistance)
	}
	if p.EntryPrice.LessThanOrEqual(decimal.Zero) {
		return false, ""
	}

	activation := decimal.NewFromFloat(m.cfg.TrailingActivation)
	var bestMovePct decimal.Decimal
	if p.Side == types.SideLong {
		bestMovePct = p.HighestPrice.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(hundred)
	} else {
		bestMovePct = p.EntryPrice.Sub(p.LowestPrice).Div(p.EntryPrice).Mul(hundred)
	}
	if bestMovePct.LessThan(activation) {
		return false, ""
	}

	frac := distance.Div(hundred)
	if p.Side == types.SideLong {
		if p.HighestPrice.GreaterThan(decimal.Zero) {
			stop := p.HighestPrice.Mul(decimal.NewFromInt(1).Sub(frac))
			if price.LessThanOrEqual(stop) {
				return true, types.ExitTrailingStop
			}
		}
	} else {
		if p.LowestPrice.GreaterThan(decimal.Zero) {
			stop := p.LowestPrice.Mul(decimal.NewFromInt(1).Add(frac))
			if price.GreaterThanOrEqual(stop) {
				return true, types.ExitTrailingStop
			}
		}
	}
	return false, ""
}

func (m *StopLossManager) checkATR(p *types.Position, price decimal.Decimal, fv *types.FeatureVector) (bool, string) {
	atr := atrEstimate(p, fv)
	if atr.LessThanOrEqual(decimal.Zero) {
		return m.checkFixed(p, price)
	}

	offset := atr.Mul(decimal.NewFromFloat(m.cfg.ATRMultiplier))
	if p.Side == types.SideLong {
		if price.LessThanOrEqual(p.EntryPrice.Sub(offset)) {
			return true, types.ExitStopLoss
		}
	} else {
		if price.GreaterThanOrEqual(p.EntryPrice.Add(offset)) {
			return true, types.ExitStopLoss
		}
	}
	return false, ""
}

func (m *StopLossManager) checkTime(p *types.Position) (bool, string) {
	maxHold := p.MaxHoldSeconds
	if maxHold <= 0 {
		maxHold = m.cfg.MaxHoldSeconds
	}
	if m.nowFunc().Sub(p.EntryTime) > time.Duration(maxHold)*time.Second {
		return true, types.ExitTimeExit
	}
	return false, ""
}

// checkMultiple applies the combined policy: fixed stop first, then
// trailing, then the time stop.
func (m *StopLossManager) checkMultiple(p *types.Position, price decimal.Decimal, fv *types.FeatureVector) (bool, string) {
	if hit, reason := m.checkFixed(p, price); hit {
		return true, reason
	}
	if hit, reason := m.checkTrailing(p, price); hit {
		return true, reason
	}
	if hit, reason := m.checkTime(p); hit {
		return true, reason
	}
	return false, ""
}

// atrEstimate derives an ATR proxy from the 5m volatility feature.
func atrEstimate(p *types.Position, fv *types.FeatureVector) decimal.Decimal {
	if fv == nil || fv.Volatility5m <= 0 {
		return decimal.Zero
	}
	return p.EntryPrice.Mul(decimal.NewFromFloat(fv.Volatility5m).Div(hundred))
}

// StopPrice places the initial stop for a new position.
func (m *StopLossManager) StopPrice(entry decimal.Decimal, side string) decimal.Decimal {
	pct := decimal.NewFromFloat(m.cfg.FixedStopPct).Div(hundred)
	if side == types.SideLong {
		return entry.Mul(decimal.NewFromInt(1).Sub(pct))
	}
	return entry.Mul(decimal.NewFromInt(1).Add(pct))
}

// TakeProfitPrice places the initial target for a new position.
func (m *StopLossManager) TakeProfitPrice(entry decimal.Decimal, side string) decimal.Decimal {
	pct := decimal.NewFromFloat(m.cfg.TakeProfitPct).Div(hundred)
	if side == types.SideLong {
		return entry.Mul(decimal.NewFromInt(1).Add(pct))
	}
	return entry.Mul(decimal.NewFromInt(1).Sub(pct))
}
