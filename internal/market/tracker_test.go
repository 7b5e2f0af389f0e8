package market

import (
	"math"
	"testing"
	"time"

	"github.com/quantfeed/perpwatch/types"
)

func fixedNow(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func feedTicks(tr *Tracker, symbol string, start time.Time, prices []float64, volumes []float64) {
	for i, p := range prices {
		vol := 1.0
		if volumes != nil {
			vol = volumes[i]
		}
		tr.Update(types.Ticker{
			Symbol:     symbol,
			Price:      p,
			BaseVolume: vol,
			Timestamp:  start.Add(time.Duration(i) * time.Second),
		})
	}
}

func TestPriceChangeLinearRise(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	// 61 ticks at 1s intervals, 100 → 103 linearly
	prices := make([]float64, 61)
	for i := range prices {
		prices[i] = 100 + 3*float64(i)/60
	}
	feedTicks(tr, "AAAUSDT", base, prices, nil)

	tr.nowFunc = fixedNow(base.Add(60 * time.Second))
	change, low, high, ok := tr.PriceChange("AAAUSDT")
	if !ok {
		t.Fatal("expected a price change")
	}
	if math.Abs(change-3.0) > 0.2 {
		t.Errorf("change = %v, want ≈3.0", change)
	}
	if low >= high {
		t.Errorf("window low %v should be below high %v", low, high)
	}
}

func TestPriceChangeInsufficientWindow(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())
	feedTicks(tr, "BTCUSDT", base, []float64{100}, nil)

	tr.nowFunc = fixedNow(base)
	if _, _, _, ok := tr.PriceChange("BTCUSDT"); ok {
		t.Error("single point should not produce a change")
	}
	if _, _, _, ok := tr.PriceChange("UNKNOWN"); ok {
		t.Error("unknown symbol should not produce a change")
	}
}

func TestVolumeRatioExcludesCurrentTick(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	volumes := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 10}
	prices := make([]float64, len(volumes))
	for i := range prices {
		prices[i] = 100
	}
	feedTicks(tr, "AAAUSDT", base, prices, volumes)

	ratio, ok := tr.VolumeRatio("AAAUSDT")
	if !ok {
		t.Fatal("expected a ratio")
	}
	if math.Abs(ratio-10.0) > 1e-9 {
		t.Errorf("ratio = %v, want 10.0", ratio)
	}
}

func TestVolumeRatioGuards(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	// History shorter than lookback
	feedTicks(tr, "AAAUSDT", base, []float64{100, 100, 100}, []float64{1, 1, 1})
	if _, ok := tr.VolumeRatio("AAAUSDT"); ok {
		t.Error("short history should not produce a ratio")
	}

	// All-zero prior volumes
	zero := []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 5}
	prices := make([]float64, len(zero))
	for i := range prices {
		prices[i] = 100
	}
	feedTicks(tr, "BBBUSDT", base, prices, zero)
	if _, ok := tr.VolumeRatio("BBBUSDT"); ok {
		t.Error("zero mean should not produce a ratio")
	}
}

func TestOIChange(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	tr.UpdateOI("AAAUSDT", 1000, base)
	tr.UpdateOI("AAAUSDT", 1100, base.Add(60*time.Second))

	tr.nowFunc = fixedNow(base.Add(61 * time.Second))
	change, ok := tr.OIChange("AAAUSDT")
	if !ok {
		t.Fatal("expected an OI change")
	}
	if math.Abs(change-10.0) > 1e-9 {
		t.Errorf("OI change = %v, want 10.0", change)
	}
}

func TestSpotFuturesSpread(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	feedTicks(tr, "AAAUSDT", base, []float64{100}, nil)
	tr.UpdateSpot("AAAUSDT", 100.3, base)

	tr.nowFunc = fixedNow(base.Add(10 * time.Second))
	spread, spot, futures, ok := tr.SpotFuturesSpread("AAAUSDT")
	if !ok {
		t.Fatal("expected a spread")
	}
	if math.Abs(spread-0.3) > 1e-9 || spot != 100.3 || futures != 100 {
		t.Errorf("spread = (%v, %v, %v)", spread, spot, futures)
	}

	// Stale spot: older than 2× spread window
	tr.nowFunc = fixedNow(base.Add(3 * time.Minute))
	if _, _, _, ok := tr.SpotFuturesSpread("AAAUSDT"); ok {
		t.Error("stale spot data should not produce a spread")
	}
}

func TestPriceReversalTop(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	// Rise 100→105 over first 60s, drift down to 101 by t=300s (10s cadence)
	var prices []float64
	for i := 0; i <= 6; i++ {
		prices = append(prices, 100+5*float64(i)/6)
	}
	for i := 7; i <= 30; i++ {
		frac := float64(i-6) / 24
		prices = append(prices, 105-4*frac)
	}
	for i, p := range prices {
		tr.Update(types.Ticker{
			Symbol:    "AAAUSDT",
			Price:     p,
			Timestamp: base.Add(time.Duration(i*10) * time.Second),
		})
	}

	tr.nowFunc = fixedNow(base.Add(300 * time.Second))
	rev, ok := tr.PriceReversal("AAAUSDT", 300*time.Second)
	if !ok {
		t.Fatal("expected a reversal")
	}
	if rev.Type != "top" {
		t.Fatalf("type = %q, want top", rev.Type)
	}
	if math.Abs(rev.RisePct-5.0) > 0.1 {
		t.Errorf("rise = %v, want ≈5", rev.RisePct)
	}
	wantFall := (105.0 - 101.0) / 105.0 * 100
	if math.Abs(rev.FallPct-wantFall) > 0.1 {
		t.Errorf("fall = %v, want ≈%v", rev.FallPct, wantFall)
	}
	halfway := base.Add(150 * time.Second)
	if !rev.ExtremeTs.Before(halfway) {
		t.Errorf("extreme at %v should be in first half of window", rev.ExtremeTs)
	}
}

func TestPriceReversalLateExtremeRejected(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	// High occurs in the second half of the window
	prices := []float64{100, 100.5, 101, 102, 105, 104}
	for i, p := range prices {
		tr.Update(types.Ticker{
			Symbol:    "AAAUSDT",
			Price:     p,
			Timestamp: base.Add(time.Duration(i*50) * time.Second),
		})
	}

	tr.nowFunc = fixedNow(base.Add(300 * time.Second))
	if _, ok := tr.PriceReversal("AAAUSDT", 300*time.Second); ok {
		t.Error("late extreme should not produce a reversal")
	}
}

func TestPriceAtTolerance(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())
	feedTicks(tr, "AAAUSDT", base, []float64{100, 101, 102}, nil)

	if p, ok := tr.PriceAt("AAAUSDT", base.Add(time.Second), 5*time.Second); !ok || p != 101 {
		t.Errorf("PriceAt exact = (%v, %v), want 101", p, ok)
	}
	if p, ok := tr.PriceAt("AAAUSDT", base.Add(4*time.Second), 5*time.Second); !ok || p != 102 {
		t.Errorf("PriceAt nearest = (%v, %v), want 102", p, ok)
	}
	if _, ok := tr.PriceAt("AAAUSDT", base.Add(time.Hour), 5*time.Second); ok {
		t.Error("out-of-tolerance lookup should miss")
	}
}

func TestCleanupEvictsStaleSymbols(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	feedTicks(tr, "OLDUSDT", base.Add(-2*time.Hour), []float64{100}, nil)
	feedTicks(tr, "NEWUSDT", base, []float64{100}, nil)

	tr.nowFunc = fixedNow(base.Add(time.Minute))
	tr.CleanupOlderThan(time.Hour)

	if _, ok := tr.Snapshot("OLDUSDT"); ok {
		t.Error("stale symbol should be evicted")
	}
	if _, ok := tr.Snapshot("NEWUSDT"); !ok {
		t.Error("fresh symbol should survive cleanup")
	}
}

func TestPriceHistoryOrderAndCap(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(DefaultConfig())

	for i := 0; i < priceRingCap+50; i++ {
		tr.Update(types.Ticker{
			Symbol:    "AAAUSDT",
			Price:     100,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	st, ok := tr.Snapshot("AAAUSDT")
	if !ok {
		t.Fatal("missing snapshot")
	}
	if len(st.PriceHistory) != priceRingCap {
		t.Fatalf("ring size = %d, want %d", len(st.PriceHistory), priceRingCap)
	}
	for i := 1; i < len(st.PriceHistory); i++ {
		if st.PriceHistory[i].Timestamp.Before(st.PriceHistory[i-1].Timestamp) {
			t.Fatal("price history must stay time-ordered after eviction")
		}
	}
}
