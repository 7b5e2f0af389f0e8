package paper

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfeed/perpwatch/types"
)

// Signal is a scored entry proposal.
type Signal struct {
	Symbol     string
	Timestamp  time.Time
	Side       string
	Confidence float64
	EntryPrice decimal.Decimal
	TakeProfit decimal.Decimal
	StopLoss   decimal.Decimal
	Reason     string
}

// StrategyConfig tunes the rule-based signal scorer.
type StrategyConfig struct {
	MinConfidence   float64 `yaml:"min_confidence"`
	SignalThreshold float64 `yaml:"signal_threshold"`

	IndicatorFilter bool `yaml:"indicator_filter"`

	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`

	MinVolatility  float64 `yaml:"min_volatility"`
	MinVolumeRatio float64 `yaml:"min_volume_ratio"`

	ImbalanceLongThreshold  float64 `yaml:"imbalance_long_threshold"`
	ImbalanceShortThreshold float64 `yaml:"imbalance_short_threshold"`

	TrendFilterPct float64 `yaml:"trend_filter_pct"`
}

// DefaultStrategyConfig returns the stock rule thresholds.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		MinConfidence:           0.5,
		SignalThreshold:         0.4,
		IndicatorFilter:         true,
		RSIOversold:             30,
		RSIOverbought:           70,
		MinVolatility:           0.3,
		MinVolumeRatio:          0.5,
		// Imbalance ratio lives in [-1, 1]; ±0.3 marks a strongly lopsided
		// book.
		ImbalanceLongThreshold:  0.3,
		ImbalanceShortThreshold: -0.3,
		TrendFilterPct:          1.0,
	}
}

// Strategy scores feature vectors into directional signals, then filters on
// indicator context and book health before sizing exits.
type Strategy struct {
	cfg   StrategyConfig
	stops *StopLossManager
}

// NewStrategy wires the scorer with its stop manager.
func NewStrategy(cfg StrategyConfig, stops *StopLossManager) *Strategy {
	return &Strategy{cfg: cfg, stops: stops}
}

// GenerateSignal scores a feature vector. Returns nil when no entry should
// be taken.
func (s *Strategy) GenerateSignal(symbol string, fv *types.FeatureVector, price decimal.Decimal) *Signal {
	direction, confidence, reasons := s.predictDirection(fv)
	if direction == 0 {
		return nil
	}
	if confidence < s.cfg.MinConfidence {
		log.Debug().Str("symbol", symbol).Float64("confidence", confidence).Msg("📉 Signal confidence below floor")
		return nil
	}

	if s.cfg.IndicatorFilter {
		if ok, reason := s.passIndicatorFilter(fv, direction); !ok {
			log.Debug().Str("symbol", symbol).Str("reason", reason).Msg("📉 Indicator filter rejected signal")
			return nil
		}
	}
	if ok, reason := s.passRiskCheck(fv); !ok {
		log.Debug().Str("symbol", symbol).Str("reason", reason).Msg("📉 Risk check rejected signal")
		return nil
	}

	side := types.SideLong
	if direction < 0 {
		side = types.SideShort
	}

	sig := &Signal{
		Symbol:     symbol,
		Timestamp:  fv.Timestamp,
		Side:       side,
		Confidence: confidence,
		EntryPrice: price,
		TakeProfit: s.stops.TakeProfitPrice(price, side),
		StopLoss:   s.stops.StopPrice(price, side),
		Reason:     formatReason(direction, reasons),
	}
	log.Info().
		Str("symbol", symbol).
		Str("side", side).
		Float64("confidence", confidence).
		Str("reason", sig.Reason).
		Msg("📶 Entry signal")
	return sig
}

// predictDirection sums rule scores: RSI extremes, MACD cross, book
// imbalance, short momentum and reversal fade.
func (s *Strategy) predictDirection(fv *types.FeatureVector) (int, float64, []string) {
	score := 0.0
	var reasons []string

	if fv.RSI14 < s.cfg.RSIOversold {
		score += 0.3
		reasons = append(reasons, fmt.Sprintf("rsi oversold (%.1f)", fv.RSI14))
	} else if fv.RSI14 > s.cfg.RSIOverbought {
		score -= 0.3
		reasons = append(reasons, fmt.Sprintf("rsi overbought (%.1f)", fv.RSI14))
	}

	if fv.MACDLine > fv.MACDSignal {
		score += 0.2
	} else {
		score -= 0.2
	}

	if fv.ImbalanceRatio10 > s.cfg.ImbalanceLongThreshold {
		score += 0.25
		reasons = append(reasons, fmt.Sprintf("bid pressure (%.2f)", fv.ImbalanceRatio10))
	} else if fv.ImbalanceRatio10 < s.cfg.ImbalanceShortThreshold {
		score -= 0.25
		reasons = append(reasons, fmt.Sprintf("ask pressure (%.2f)", fv.ImbalanceRatio10))
	}

	if fv.PriceChange1m > 0.5 {
		score += 0.15
		reasons = append(reasons, fmt.Sprintf("1m up %.2f%%", fv.PriceChange1m))
	} else if fv.PriceChange1m < -0.5 {
		score -= 0.15
		reasons = append(reasons, fmt.Sprintf("1m down %.2f%%", fv.PriceChange1m))
	}

	switch fv.ReversalType {
	case "top":
		score -= 0.3
		reasons = append(reasons, "top reversal")
	case "bottom":
		score += 0.3
		reasons = append(reasons, "bottom reversal")
	}

	confidence := math.Min(math.Abs(score), 1.0)
	if score > s.cfg.SignalThreshold {
		return 1, confidence, reasons
	}
	if score < -s.cfg.SignalThreshold {
		return -1, confidence, reasons
	}
	return 0, 0, reasons
}

func (s *Strategy) passIndicatorFilter(fv *types.FeatureVector, direction int) (bool, string) {
	if fv.Volatility5m < s.cfg.MinVolatility {
		return false, fmt.Sprintf("volatility %.2f%% too low", fv.Volatility5m)
	}
	if fv.VolumeRatio5m < s.cfg.MinVolumeRatio {
		return false, fmt.Sprintf("volume ratio %.2fx too low", fv.VolumeRatio5m)
	}
	if direction > 0 && fv.PriceChange5m < -s.cfg.TrendFilterPct {
		return false, fmt.Sprintf("5m trend down %.2f%%", fv.PriceChange5m)
	}
	if direction < 0 && fv.PriceChange5m > s.cfg.TrendFilterPct {
		return false, fmt.Sprintf("5m trend up %.2f%%", fv.PriceChange5m)
	}
	return true, ""
}

func (s *Strategy) passRiskCheck(fv *types.FeatureVector) (bool, string) {
	if fv.SpreadBps > 100 {
		return false, fmt.Sprintf("spread %.0f bps too wide", fv.SpreadBps)
	}
	if fv.ImbalanceRatio10 > 0.95 || fv.ImbalanceRatio10 < -0.95 {
		return false, fmt.Sprintf("extreme imbalance %.2f", fv.ImbalanceRatio10)
	}
	return true, ""
}

// ShouldClose reports whether a confident opposite signal argues for exit.
func (s *Strategy) ShouldClose(fv *types.FeatureVector, side string) (bool, string) {
	direction, confidence, reasons := s.predictDirection(fv)
	if direction == 0 || confidence < s.cfg.MinConfidence {
		return false, ""
	}
	if side == types.SideLong && direction < 0 {
		return true, "opposite signal: " + strings.Join(truncate(reasons, 2), ", ")
	}
	if side == types.SideShort && direction > 0 {
		return true, "opposite signal: " + strings.Join(truncate(reasons, 2), ", ")
	}
	return false, ""
}

func formatReason(direction int, reasons []string) string {
	if len(reasons) == 0 {
		return "rule signal"
	}
	prefix := "long"
	if direction < 0 {
		prefix = "short"
	}
	return prefix + "|" + strings.Join(truncate(reasons, 3), ",")
}

func truncate(reasons []string, n int) []string {
	if len(reasons) > n {
		return reasons[:n]
	}
	return reasons
}
