package orderbook

import (
	"math"
	"testing"
	"time"

	"github.com/quantfeed/perpwatch/types"
)

type wallEventLog struct {
	appears    int
	disappears int
}

func (w *wallEventLog) RecordWallEvent(symbol string, appeared bool, ts time.Time) {
	if appeared {
		w.appears++
	} else {
		w.disappears++
	}
}

func flatBook(symbol string, ts time.Time) *types.DepthSnapshot {
	snap := &types.DepthSnapshot{Symbol: symbol, Timestamp: ts}
	for i := 0; i < 20; i++ {
		snap.Bids = append(snap.Bids, types.PriceLevel{Price: 100 - float64(i)*0.01, Quantity: 10})
		snap.Asks = append(snap.Asks, types.PriceLevel{Price: 100.01 + float64(i)*0.01, Quantity: 10})
	}
	return snap
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WallValueThreshold = 5_000
	cfg.SweepValueThreshold = 3_000
	return cfg
}

func TestWallDetectionConditions(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(testConfig(), nil, nil, nil)

	snap := flatBook("AAAUSDT", base)
	// Level value ≈ 1000 per side; plant a 100×100 = 10,000 bid at 99.95
	snap.Bids[5] = types.PriceLevel{Price: 99.95, Quantity: 100}

	events := m.ProcessSnapshot(snap)
	var walls int
	for _, ev := range events {
		if ev.Kind == types.KindOrderBookWall {
			walls++
			if ev.ExtraText["side"] != "bid" {
				t.Errorf("side = %q, want bid", ev.ExtraText["side"])
			}
			if math.Abs(ev.Extras["value"]-9995) > 1 {
				t.Errorf("wall value = %v, want ≈9995", ev.Extras["value"])
			}
		}
	}
	if walls != 1 {
		t.Fatalf("wall events = %d, want 1", walls)
	}

	// Same book again: known wall, no new event
	for _, ev := range m.ProcessSnapshot(flatBookWithWall(base.Add(time.Second))) {
		if ev.Kind == types.KindOrderBookWall {
			t.Fatal("an already tracked wall must not re-emit")
		}
	}
}

func flatBookWithWall(ts time.Time) *types.DepthSnapshot {
	snap := flatBook("AAAUSDT", ts)
	snap.Bids[5] = types.PriceLevel{Price: 99.95, Quantity: 100}
	return snap
}

func TestWallTooFarFromMidIgnored(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.WallDistanceMax = 0.02 // only the top couple of levels qualify
	m := NewMonitor(cfg, nil, nil, nil)

	snap := flatBook("AAAUSDT", base)
	snap.Bids[19] = types.PriceLevel{Price: 99.81, Quantity: 1000}

	for _, ev := range m.ProcessSnapshot(snap) {
		if ev.Kind == types.KindOrderBookWall {
			t.Fatal("wall outside the distance cap should be ignored")
		}
	}
}

func TestImbalanceDetection(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(testConfig(), nil, nil, nil)

	snap := flatBook("AAAUSDT", base)
	for i := range snap.Bids {
		snap.Bids[i].Quantity = 50 // bid depth 5× ask depth → ratio ≈ 0.67
	}

	events := m.ProcessSnapshot(snap)
	found := false
	for _, ev := range events {
		if ev.Kind == types.KindOrderBookImbalance {
			found = true
			if ev.ChangePct < 0.6 {
				t.Errorf("ratio = %v, want ≥ 0.6", ev.ChangePct)
			}
			if ev.ExtraText["side"] != "bid" {
				t.Errorf("side = %q, want bid", ev.ExtraText["side"])
			}
		}
	}
	if !found {
		t.Fatal("expected an imbalance event")
	}

	// Same imbalance again: cooldown holds
	snap2 := flatBook("AAAUSDT", base.Add(time.Second))
	for i := range snap2.Bids {
		snap2.Bids[i].Quantity = 50
	}
	for _, ev := range m.ProcessSnapshot(snap2) {
		if ev.Kind == types.KindOrderBookImbalance {
			t.Fatal("imbalance inside cooldown should not re-emit")
		}
	}
}

func TestSweepDetection(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(testConfig(), nil, nil, nil)

	m.ProcessSnapshot(flatBookWithWall(base))

	// Wall drops to 10% of its size
	snap := flatBook("AAAUSDT", base.Add(time.Second))
	snap.Bids[5] = types.PriceLevel{Price: 99.95, Quantity: 10}

	events := m.ProcessSnapshot(snap)
	found := false
	for _, ev := range events {
		if ev.Kind == types.KindOrderBookSweep {
			found = true
			wantRemoved := 99.95*100 - 99.95*10
			if math.Abs(ev.Extras["removed_value"]-wantRemoved) > 1 {
				t.Errorf("removed = %v, want ≈%v", ev.Extras["removed_value"], wantRemoved)
			}
		}
	}
	if !found {
		t.Fatal("expected a sweep event")
	}
}

func TestSweepBelowThresholdIgnored(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := testConfig()
	cfg.SweepValueThreshold = 50_000
	m := NewMonitor(cfg, nil, nil, nil)

	m.ProcessSnapshot(flatBookWithWall(base))
	snap := flatBook("AAAUSDT", base.Add(time.Second))
	snap.Bids[5] = types.PriceLevel{Price: 99.95, Quantity: 10}

	for _, ev := range m.ProcessSnapshot(snap) {
		if ev.Kind == types.KindOrderBookSweep {
			t.Fatal("sweep below the value threshold should be ignored")
		}
	}
}

func TestWallEventStream(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := &wallEventLog{}
	m := NewMonitor(testConfig(), nil, nil, events)

	m.ProcessSnapshot(flatBookWithWall(base))
	if events.appears != 1 {
		t.Fatalf("appears = %d, want 1", events.appears)
	}

	m.ProcessSnapshot(flatBook("AAAUSDT", base.Add(time.Second)))
	if events.disappears != 1 {
		t.Fatalf("disappears = %d, want 1", events.disappears)
	}
}

func TestWallEventRecorderAttachedLate(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := &wallEventLog{}
	m := NewMonitor(testConfig(), nil, nil, nil)
	m.SetWallEventRecorder(events)

	m.ProcessSnapshot(flatBookWithWall(base))
	m.ProcessSnapshot(flatBook("AAAUSDT", base.Add(time.Second)))
	if events.appears != 1 || events.disappears != 1 {
		t.Fatalf("events = %d appears / %d disappears, want 1/1", events.appears, events.disappears)
	}
}

func TestDepthInfo(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMonitor(testConfig(), nil, nil, nil)

	if _, ok := m.DepthInfo("AAAUSDT"); ok {
		t.Fatal("no snapshot yet")
	}

	m.ProcessSnapshot(flatBook("AAAUSDT", base))
	info, ok := m.DepthInfo("AAAUSDT")
	if !ok {
		t.Fatal("expected depth info")
	}
	if info.BestBid != 100 || info.BestAsk != 100.01 {
		t.Errorf("best = (%v, %v), want (100, 100.01)", info.BestBid, info.BestAsk)
	}
	if info.SpreadPercent <= 0 {
		t.Errorf("spread = %v, want > 0", info.SpreadPercent)
	}
}
