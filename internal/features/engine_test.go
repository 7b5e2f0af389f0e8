package features

import (
	"math"
	"testing"
	"time"

	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/orderbook"
	"github.com/quantfeed/perpwatch/types"
)

type stubWalls struct {
	snapshot *types.DepthSnapshot
	walls    []types.WallState
	info     orderbook.DepthInfo
	infoOK   bool
}

func (s *stubWalls) Snapshot(string) (*types.DepthSnapshot, bool) {
	return s.snapshot, s.snapshot != nil
}
func (s *stubWalls) TrackedWalls(string) []types.WallState          { return s.walls }
func (s *stubWalls) DepthInfo(string) (orderbook.DepthInfo, bool)   { return s.info, s.infoOK }

func feedLinear(t *testing.T, tracker *market.Tracker, symbol string, n int, from, to float64) {
	t.Helper()
	now := time.Now()
	for i := 0; i < n; i++ {
		frac := float64(i) / float64(n-1)
		tracker.Update(types.Ticker{
			Symbol:      symbol,
			Price:       from + (to-from)*frac,
			BaseVolume:      10,
			QuoteVolume: 1_000_000,
			Timestamp:   now.Add(-time.Duration(n-1-i) * time.Second),
		})
	}
}

func TestComputeNeedsFivePoints(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	eng := NewEngine(DefaultConfig(), tracker, nil, nil, nil)

	now := time.Now()
	for i := 0; i < 4; i++ {
		tracker.Update(types.Ticker{Symbol: "AAAUSDT", Price: 100, BaseVolume: 1, Timestamp: now.Add(-time.Duration(4-i) * time.Second)})
	}
	if fv := eng.Compute("AAAUSDT", nil); fv != nil {
		t.Fatal("four price points must yield nil")
	}

	tracker.Update(types.Ticker{Symbol: "AAAUSDT", Price: 100, BaseVolume: 1, Timestamp: now})
	if fv := eng.Compute("AAAUSDT", nil); fv == nil {
		t.Fatal("five price points must yield a vector")
	}
}

func TestPriceChangeWindows(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	eng := NewEngine(DefaultConfig(), tracker, nil, nil, nil)

	// 2% rise spread over the last 40 seconds; every window sees the same
	// anchor because all points fit inside one minute.
	feedLinear(t, tracker, "AAAUSDT", 41, 100, 102)

	fv := eng.Compute("AAAUSDT", nil)
	if fv == nil {
		t.Fatal("expected a vector")
	}
	if math.Abs(fv.PriceChange1m-2.0) > 0.1 {
		t.Fatalf("PriceChange1m = %.3f, want ~2.0", fv.PriceChange1m)
	}
	if math.Abs(fv.PriceChange5m-2.0) > 0.1 {
		t.Fatalf("PriceChange5m = %.3f, want ~2.0", fv.PriceChange5m)
	}
	if fv.Price != 102 {
		t.Fatalf("Price = %.3f, want 102", fv.Price)
	}
}

func TestVolatilityFlatSeriesIsZero(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	eng := NewEngine(DefaultConfig(), tracker, nil, nil, nil)
	feedLinear(t, tracker, "AAAUSDT", 20, 100, 100)

	fv := eng.Compute("AAAUSDT", nil)
	if fv.Volatility1m != 0 || fv.Volatility5m != 0 {
		t.Fatalf("flat series volatility = %.4f / %.4f, want 0", fv.Volatility1m, fv.Volatility5m)
	}
}

func TestVolumeRatioPeriods(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	now := time.Now()
	// Six quiet ticks then a 5x burst on the latest.
	for i := 0; i < 7; i++ {
		vol := 10.0
		if i == 6 {
			vol = 50
		}
		tracker.Update(types.Ticker{Symbol: "AAAUSDT", Price: 100, BaseVolume: vol, Timestamp: now.Add(-time.Duration(6-i) * time.Second)})
	}

	eng := NewEngine(DefaultConfig(), tracker, nil, nil, nil)
	fv := eng.Compute("AAAUSDT", nil)
	if math.Abs(fv.VolumeRatio1m-5.0) > 1e-9 {
		t.Fatalf("VolumeRatio1m = %.3f, want 5.0", fv.VolumeRatio1m)
	}
	// 30-period window has too little history, neutral 1.0.
	if fv.VolumeRatio5m != 1.0 {
		t.Fatalf("VolumeRatio5m = %.3f, want neutral 1.0", fv.VolumeRatio5m)
	}
}

func TestOrderbookFeaturesFromSnapshot(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedLinear(t, tracker, "AAAUSDT", 10, 100, 100)

	snapshot := &types.DepthSnapshot{
		Symbol: "AAAUSDT",
		Bids:   []types.PriceLevel{{Price: 99.9, Quantity: 30}, {Price: 99.8, Quantity: 10}},
		Asks:   []types.PriceLevel{{Price: 100.1, Quantity: 10}, {Price: 100.2, Quantity: 10}},
	}
	walls := &stubWalls{walls: []types.WallState{
		{Symbol: "AAAUSDT", Side: "bid", Price: 99.0, Value: 600_000},
		{Symbol: "AAAUSDT", Side: "bid", Price: 98.0, Value: 900_000},
		{Symbol: "AAAUSDT", Side: "ask", Price: 101.5, Value: 550_000},
	}}

	eng := NewEngine(DefaultConfig(), tracker, walls, nil, nil)
	fv := eng.Compute("AAAUSDT", snapshot)

	if fv.SpreadBps <= 0 {
		t.Fatalf("SpreadBps = %.3f, want > 0", fv.SpreadBps)
	}
	if fv.ImbalanceRatio10 <= 0 {
		t.Fatalf("bid-heavy book should give positive imbalance, got %.3f", fv.ImbalanceRatio10)
	}
	if fv.BidWallDistance == nil || fv.BidWallValue == nil {
		t.Fatal("bid wall features missing")
	}
	mid := snapshot.MidPrice()
	wantDist := (mid - 99.0) / mid * 100
	if math.Abs(*fv.BidWallDistance-wantDist) > 1e-9 {
		t.Fatalf("BidWallDistance = %.4f, want %.4f", *fv.BidWallDistance, wantDist)
	}
	if *fv.BidWallValue != 900_000 {
		t.Fatalf("BidWallValue = %.0f, want largest bid wall 900000", *fv.BidWallValue)
	}
	if fv.AskWallDistance == nil || *fv.AskWallValue != 550_000 {
		t.Fatal("ask wall features missing or wrong")
	}
}

func TestOrderbookFallbackToDepthInfo(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedLinear(t, tracker, "AAAUSDT", 10, 100, 100)

	walls := &stubWalls{
		info:   orderbook.DepthInfo{ImbalanceRatio: 0.4, SpreadPercent: 0.02},
		infoOK: true,
	}
	eng := NewEngine(DefaultConfig(), tracker, walls, nil, nil)
	fv := eng.Compute("AAAUSDT", nil)

	if fv.ImbalanceRatio10 != 0.4 {
		t.Fatalf("ImbalanceRatio10 = %.3f, want 0.4", fv.ImbalanceRatio10)
	}
	if math.Abs(fv.SpreadBps-2.0) > 1e-9 {
		t.Fatalf("SpreadBps = %.3f, want 2.0", fv.SpreadBps)
	}
}

func TestTierLabelProjection(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedLinear(t, tracker, "AAAUSDT", 10, 100, 100)

	eng := NewEngine(DefaultConfig(), tracker, nil, nil, func(symbol string) string {
		if symbol == "AAAUSDT" {
			return "mid"
		}
		return ""
	})
	fv := eng.Compute("AAAUSDT", nil)
	if fv.TierLabel != "mid" {
		t.Fatalf("TierLabel = %q, want mid", fv.TierLabel)
	}
}

func TestComputeDoesNotMutateTracker(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedLinear(t, tracker, "AAAUSDT", 10, 100, 101)
	before, _ := tracker.Snapshot("AAAUSDT")

	eng := NewEngine(DefaultConfig(), tracker, nil, nil, nil)
	eng.Compute("AAAUSDT", nil)

	after, _ := tracker.Snapshot("AAAUSDT")
	if len(before.PriceHistory) != len(after.PriceHistory) {
		t.Fatal("compute must not mutate tracker history")
	}
	if before.LatestPrice != after.LatestPrice {
		t.Fatal("compute must not touch latest price")
	}
}

func TestComputeBatchSkipsThin(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	feedLinear(t, tracker, "AAAUSDT", 10, 100, 101)
	tracker.Update(types.Ticker{Symbol: "BBBUSDT", Price: 50, BaseVolume: 1, Timestamp: time.Now()})

	eng := NewEngine(DefaultConfig(), tracker, nil, nil, nil)
	out := eng.ComputeBatch([]string{"AAAUSDT", "BBBUSDT", "CCCUSDT"}, nil)
	if len(out) != 1 || out[0].Symbol != "AAAUSDT" {
		t.Fatalf("batch = %d vectors, want only AAAUSDT", len(out))
	}
}

func TestMarkAlertDeduplicates(t *testing.T) {
	fv := &types.FeatureVector{}
	eng := NewEngine(DefaultConfig(), market.NewTracker(market.DefaultConfig()), nil, nil, nil)

	eng.MarkAlert(fv, types.KindPriceChange)
	eng.MarkAlert(fv, types.KindPriceChange)
	eng.MarkAlert(fv, types.KindVolumeSpike)

	if !fv.AlertTriggered {
		t.Fatal("AlertTriggered must be set")
	}
	if len(fv.AlertKinds) != 2 {
		t.Fatalf("AlertKinds = %v, want two distinct kinds", fv.AlertKinds)
	}
}

func TestToArrayMatchesFeatureNames(t *testing.T) {
	fv := &types.FeatureVector{Price: 100, RSI14: 50}
	row := ToArray(fv)
	names := FeatureNames()
	if len(row) != len(names) {
		t.Fatalf("row has %d values for %d names", len(row), len(names))
	}
	if row[0] != 100 {
		t.Fatalf("row[0] = %.1f, want price 100", row[0])
	}
}
