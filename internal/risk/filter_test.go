package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/orderbook"
	"github.com/quantfeed/perpwatch/types"
)

type stubDepth struct {
	info orderbook.DepthInfo
	ok   bool
}

func (s *stubDepth) DepthInfo(string) (orderbook.DepthInfo, bool) { return s.info, s.ok }

// feedPath pushes one tick per second ending at now, walking the given prices.
func feedPath(t *testing.T, tracker *market.Tracker, symbol string, prices []float64, volume float64) {
	t.Helper()
	now := time.Now()
	for i, p := range prices {
		tracker.Update(types.Ticker{
			Symbol:    symbol,
			Price:     p,
			BaseVolume:    volume,
			Timestamp: now.Add(-time.Duration(len(prices)-1-i) * time.Second),
		})
	}
}

func freshTicker(symbol string) types.Ticker {
	now := time.Now()
	return types.Ticker{Symbol: symbol, Price: 100, Timestamp: now, WsRecvTime: now}
}

func TestFakeSignalPumpReverted(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())

	// 100 -> 103 over 15s, then back down to 100.1. The retrace gives back
	// ~94% of the rise, well past the 0.8 revert ratio.
	prices := make([]float64, 0, 31)
	for i := 0; i <= 15; i++ {
		prices = append(prices, 100+3*float64(i)/15)
	}
	for i := 1; i <= 15; i++ {
		prices = append(prices, 103-2.9*float64(i)/15)
	}
	feedPath(t, tracker, "AAAUSDT", prices, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	result, reason := f.Check(freshTicker("AAAUSDT"))

	if !result.IsFake {
		t.Fatalf("expected fake signal, got %+v", result)
	}
	if !strings.Contains(reason, "fake_signal") {
		t.Fatalf("reason = %q, want fake_signal", reason)
	}
	if !f.InFakeCooldown("AAAUSDT", time.Minute) {
		t.Fatal("fake signal should start the cooldown")
	}
	if f.InFakeCooldown("BBBUSDT", time.Minute) {
		t.Fatal("cooldown must be per symbol")
	}
}

func TestFakeSignalHoldingPumpPasses(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())

	// Same rise but the price holds near the high.
	prices := make([]float64, 0, 31)
	for i := 0; i <= 15; i++ {
		prices = append(prices, 100+3*float64(i)/15)
	}
	for i := 1; i <= 15; i++ {
		prices = append(prices, 102.9)
	}
	feedPath(t, tracker, "AAAUSDT", prices, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	result, reason := f.Check(freshTicker("AAAUSDT"))

	if result.IsFake {
		t.Fatalf("holding pump flagged fake: %q", result.FakeReason)
	}
	if reason != "" {
		t.Fatalf("expected clean pass, got %q", reason)
	}
}

func TestFakeSignalDumpReverted(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())

	prices := make([]float64, 0, 31)
	for i := 0; i <= 15; i++ {
		prices = append(prices, 100-3*float64(i)/15)
	}
	for i := 1; i <= 15; i++ {
		prices = append(prices, 97+2.9*float64(i)/15)
	}
	feedPath(t, tracker, "AAAUSDT", prices, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	result, _ := f.Check(freshTicker("AAAUSDT"))

	if !result.IsFake {
		t.Fatal("expected dump reversion to flag fake")
	}
	if !strings.Contains(result.FakeReason, "dump reverted") {
		t.Fatalf("FakeReason = %q", result.FakeReason)
	}
}

func TestFakeSignalNeedsHistory(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedPath(t, tracker, "AAAUSDT", []float64{100, 103, 100.1}, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	result, _ := f.Check(freshTicker("AAAUSDT"))

	if result.IsFake {
		t.Fatal("three points are not enough history to call a fake")
	}
}

func TestLiquidityChecks(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedPath(t, tracker, "AAAUSDT", []float64{100}, 10)

	cases := []struct {
		name      string
		info      orderbook.DepthInfo
		wantWide  bool
		wantThin  bool
	}{
		{
			name:     "healthy book",
			info:     orderbook.DepthInfo{SpreadPercent: 0.01, BidDepth: 200_000, AskDepth: 200_000},
			wantWide: false, wantThin: false,
		},
		{
			name:     "wide spread",
			info:     orderbook.DepthInfo{SpreadPercent: 0.6, BidDepth: 200_000, AskDepth: 200_000},
			wantWide: true, wantThin: false,
		},
		{
			name:     "thin depth",
			info:     orderbook.DepthInfo{SpreadPercent: 0.01, BidDepth: 40_000, AskDepth: 40_000},
			wantWide: false, wantThin: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := NewFilter(DefaultConfig(), tracker, &stubDepth{info: tc.info, ok: true})
			result, _ := f.Check(freshTicker("AAAUSDT"))
			if result.SpreadTooWide != tc.wantWide {
				t.Fatalf("SpreadTooWide = %v, want %v", result.SpreadTooWide, tc.wantWide)
			}
			if result.DepthTooThin != tc.wantThin {
				t.Fatalf("DepthTooThin = %v, want %v", result.DepthTooThin, tc.wantThin)
			}
		})
	}
}

func TestWallFlashManipulation(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedPath(t, tracker, "AAAUSDT", []float64{100}, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	now := time.Now()
	for i := 0; i < 3; i++ {
		f.RecordWallEvent("AAAUSDT", true, now.Add(-time.Duration(i)*time.Second))
		f.RecordWallEvent("AAAUSDT", false, now.Add(-time.Duration(i)*time.Second))
	}

	result, reason := f.Check(freshTicker("AAAUSDT"))
	if !result.WallManipulation {
		t.Fatal("3 appears + 3 disappears in window must flag wall manipulation")
	}
	if !strings.Contains(reason, "wall_manipulation") {
		t.Fatalf("reason = %q", reason)
	}
}

func TestWallFlashBelowCountPasses(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedPath(t, tracker, "AAAUSDT", []float64{100}, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	now := time.Now()
	f.RecordWallEvent("AAAUSDT", true, now)
	f.RecordWallEvent("AAAUSDT", true, now)
	f.RecordWallEvent("AAAUSDT", true, now)
	f.RecordWallEvent("AAAUSDT", false, now)

	result, _ := f.Check(freshTicker("AAAUSDT"))
	if result.WallManipulation {
		t.Fatal("one disappearance should not flag manipulation")
	}
}

func TestWallFlashOldEventsExpire(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedPath(t, tracker, "AAAUSDT", []float64{100}, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	old := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		f.RecordWallEvent("AAAUSDT", true, old)
		f.RecordWallEvent("AAAUSDT", false, old)
	}

	result, _ := f.Check(freshTicker("AAAUSDT"))
	if result.WallManipulation {
		t.Fatal("events outside the flash window must not count")
	}

	f.Cleanup(30 * time.Second)
	f.mu.Lock()
	n := len(f.wallEvents["AAAUSDT"])
	f.mu.Unlock()
	if n != 0 {
		t.Fatalf("cleanup left %d stale events", n)
	}
}

func TestVolumeManipulation(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())

	// Flat volume with one isolated 20x spike in the middle.
	prices := make([]float64, 20)
	now := time.Now()
	for i := range prices {
		vol := 10.0
		if i == 10 {
			vol = 200
		}
		tracker.Update(types.Ticker{
			Symbol:    "AAAUSDT",
			Price:     100,
			BaseVolume:    vol,
			Timestamp: now.Add(-time.Duration(len(prices)-1-i) * time.Second),
		})
	}

	f := NewFilter(DefaultConfig(), tracker, nil)
	result, _ := f.Check(freshTicker("AAAUSDT"))
	if !result.VolumeManipulation {
		t.Fatal("isolated spike must flag volume manipulation")
	}
}

func TestVolumeSpikeWithFollowThroughPasses(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())

	// Spike surrounded by elevated volume on both sides: real activity.
	now := time.Now()
	for i := 0; i < 20; i++ {
		vol := 10.0
		if i >= 8 && i <= 12 {
			vol = 120
		}
		if i == 10 {
			vol = 400
		}
		tracker.Update(types.Ticker{
			Symbol:    "AAAUSDT",
			Price:     100,
			BaseVolume:    vol,
			Timestamp: now.Add(-time.Duration(19-i) * time.Second),
		})
	}

	f := NewFilter(DefaultConfig(), tracker, nil)
	result, _ := f.Check(freshTicker("AAAUSDT"))
	if result.VolumeManipulation {
		t.Fatal("spike with follow-through volume is not manipulation")
	}
}

func TestLatencyReason(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedPath(t, tracker, "AAAUSDT", []float64{100}, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	now := time.Now()
	ticker := types.Ticker{
		Symbol:     "AAAUSDT",
		Price:      100,
		Timestamp:  now.Add(-time.Second),
		WsRecvTime: now,
	}

	result, reason := f.Check(ticker)
	if result.WsLatencyMs < 900 {
		t.Fatalf("WsLatencyMs = %.1f, want ~1000", result.WsLatencyMs)
	}
	if !strings.Contains(reason, "ws_latency") {
		t.Fatalf("reason = %q, want ws_latency", reason)
	}

	stats := f.Stats()
	if stats.LatencyIssues != 1 {
		t.Fatalf("LatencyIssues = %d, want 1", stats.LatencyIssues)
	}
}

func TestDisabledFilterPassesEverything(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedPath(t, tracker, "AAAUSDT", []float64{100}, 10)

	cfg := DefaultConfig()
	cfg.Enabled = false
	f := NewFilter(cfg, tracker, &stubDepth{info: orderbook.DepthInfo{SpreadPercent: 5}, ok: true})

	result, reason := f.Check(types.Ticker{Symbol: "AAAUSDT", Timestamp: time.Now().Add(-time.Hour)})
	if result.Filtered() || reason != "" {
		t.Fatalf("disabled filter must pass everything, got %+v %q", result, reason)
	}
}

func TestStatsCounters(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedPath(t, tracker, "AAAUSDT", []float64{100}, 10)

	f := NewFilter(DefaultConfig(), tracker, nil)
	f.Check(freshTicker("AAAUSDT"))
	f.Check(freshTicker("AAAUSDT"))

	if got := f.Stats().TotalChecks; got != 2 {
		t.Fatalf("TotalChecks = %d, want 2", got)
	}
	f.ResetStats()
	if got := f.Stats().TotalChecks; got != 0 {
		t.Fatalf("TotalChecks after reset = %d, want 0", got)
	}
}
