package indicators

import (
	"math"

	"github.com/shopspring/decimal"
)

// Pure numeric indicator functions over a price series ordered oldest→newest.
// Every function returns ok=false when the input is too short; callers decide
// the neutral fallback (see Calculator.CalculateAll).

// SMA calculates the Simple Moving Average of the last period prices.
func SMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	return average(prices[len(prices)-period:]), true
}

// EMA calculates the Exponential Moving Average, seeded by the SMA of the
// first period prices.
func EMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}

	multiplier := 2.0 / float64(period+1)
	ema := average(prices[:period])

	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}
	return ema, true
}

// RSI calculates the Relative Strength Index with Wilder smoothing.
func RSI(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}

	gains := make([]float64, 0, len(prices)-1)
	losses := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			gains = append(gains, change)
			losses = append(losses, 0)
		} else {
			gains = append(gains, 0)
			losses = append(losses, -change)
		}
	}

	avgGain := average(gains[:period])
	avgLoss := average(losses[:period])
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*float64(period-1) + gains[i]) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + losses[i]) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// MACD returns (line, signal, histogram). The signal line is the EMA of the
// MACD series built from prefix fast/slow EMAs, not a shortcut off the last
// value.
func MACD(prices []float64, fastPeriod, slowPeriod, signalPeriod int) (line, signal, histogram float64, ok bool) {
	if len(prices) < slowPeriod+signalPeriod {
		return 0, 0, 0, false
	}

	macdSeries := make([]float64, 0, len(prices)-slowPeriod+1)
	for i := slowPeriod; i <= len(prices); i++ {
		fast, _ := EMA(prices[:i], fastPeriod)
		slow, _ := EMA(prices[:i], slowPeriod)
		macdSeries = append(macdSeries, fast-slow)
	}

	line = macdSeries[len(macdSeries)-1]
	signal, sok := EMA(macdSeries, signalPeriod)
	if !sok {
		signal = average(macdSeries)
	}
	return line, signal, line - signal, true
}

// Bollinger returns the (upper, middle, lower) bands using a population
// standard deviation over the last period prices.
func Bollinger(prices []float64, period int, stdDev float64) (upper, middle, lower float64, ok bool) {
	if period <= 0 || len(prices) < period {
		return 0, 0, 0, false
	}

	window := prices[len(prices)-period:]
	middle = average(window)

	variance := 0.0
	for _, p := range window {
		d := p - middle
		variance += d * d
	}
	sd := math.Sqrt(variance / float64(period))

	return middle + stdDev*sd, middle, middle - stdDev*sd, true
}

// ATR calculates the Average True Range over highs/lows/closes.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}

	trs := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		tr := highs[i] - lows[i]
		if hc := math.Abs(highs[i] - closes[i-1]); hc > tr {
			tr = hc
		}
		if lc := math.Abs(lows[i] - closes[i-1]); lc > tr {
			tr = lc
		}
		trs = append(trs, tr)
	}

	return average(trs[len(trs)-period:]), true
}

// Volatility is the standard deviation of log returns × 100.
func Volatility(prices []float64, period int) (float64, bool) {
	if period <= 1 || len(prices) < period {
		return 0, false
	}

	window := prices[len(prices)-period:]
	returns := make([]float64, 0, len(window)-1)
	for i := 1; i < len(window); i++ {
		if window[i-1] <= 0 || window[i] <= 0 {
			return 0, false
		}
		returns = append(returns, math.Log(window[i]/window[i-1]))
	}

	mean := average(returns)
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	return math.Sqrt(variance/float64(len(returns))) * 100, true
}

// Momentum is the absolute price difference over period ticks.
func Momentum(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}
	return prices[len(prices)-1] - prices[len(prices)-1-period], true
}

// ROC is the rate of change in percent over period ticks.
func ROC(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}
	base := prices[len(prices)-1-period]
	if base == 0 {
		return 0, false
	}
	return (prices[len(prices)-1] - base) / base * 100, true
}

// Stochastic returns %K over the last period prices.
func Stochastic(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	window := prices[len(prices)-period:]
	lo := minOf(window)
	hi := maxOf(window)
	if hi == lo {
		return 50, true
	}
	return (prices[len(prices)-1] - lo) / (hi - lo) * 100, true
}

// WilliamsR returns %R over the last period prices, in [-100, 0].
func WilliamsR(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	window := prices[len(prices)-period:]
	lo := minOf(window)
	hi := maxOf(window)
	if hi == lo {
		return -50, true
	}
	return (hi - prices[len(prices)-1]) / (hi - lo) * -100, true
}

// Helpers

func average(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

func minOf(data []float64) float64 {
	m := data[0]
	for _, v := range data[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func maxOf(data []float64) float64 {
	m := data[0]
	for _, v := range data[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// DecimalToFloat converts a decimal to float64 for numeric analysis.
func DecimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// FloatToDecimal converts a float64 back to decimal for money math.
func FloatToDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
