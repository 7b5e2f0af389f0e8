package indicators

// Bundle is the fixed-schema indicator set consumed by the feature engine.
type Bundle struct {
	MA              map[int]float64
	EMA12           float64
	EMA26           float64
	RSI             float64
	MACDLine        float64
	MACDSignal      float64
	MACDHistogram   float64
	BollingerUpper  float64
	BollingerMiddle float64
	BollingerLower  float64
}

// Calculator computes the full bundle with configured periods, substituting
// neutral defaults when the series is short: RSI falls back to 50 and the
// Bollinger bands collapse onto the last price.
type Calculator struct {
	MAPeriods  []int
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	BBPeriod   int
	BBStd      float64
}

// NewCalculator returns a Calculator with the conventional periods.
func NewCalculator() *Calculator {
	return &Calculator{
		MAPeriods:  []int{5, 20, 60},
		RSIPeriod:  14,
		MACDFast:   12,
		MACDSlow:   26,
		MACDSignal: 9,
		BBPeriod:   20,
		BBStd:      2.0,
	}
}

// CalculateAll evaluates every configured indicator over prices.
func (c *Calculator) CalculateAll(prices []float64) Bundle {
	b := Bundle{MA: make(map[int]float64, len(c.MAPeriods))}

	lastPrice := 0.0
	if len(prices) > 0 {
		lastPrice = prices[len(prices)-1]
	}

	for _, p := range c.MAPeriods {
		if v, ok := SMA(prices, p); ok {
			b.MA[p] = v
		} else {
			b.MA[p] = lastPrice
		}
	}

	if v, ok := EMA(prices, c.MACDFast); ok {
		b.EMA12 = v
	} else {
		b.EMA12 = lastPrice
	}
	if v, ok := EMA(prices, c.MACDSlow); ok {
		b.EMA26 = v
	} else {
		b.EMA26 = lastPrice
	}

	if v, ok := RSI(prices, c.RSIPeriod); ok {
		b.RSI = v
	} else {
		b.RSI = 50
	}

	if line, signal, hist, ok := MACD(prices, c.MACDFast, c.MACDSlow, c.MACDSignal); ok {
		b.MACDLine = line
		b.MACDSignal = signal
		b.MACDHistogram = hist
	}

	if upper, middle, lower, ok := Bollinger(prices, c.BBPeriod, c.BBStd); ok {
		b.BollingerUpper = upper
		b.BollingerMiddle = middle
		b.BollingerLower = lower
	} else {
		b.BollingerUpper = lastPrice
		b.BollingerMiddle = lastPrice
		b.BollingerLower = lastPrice
	}

	return b
}
