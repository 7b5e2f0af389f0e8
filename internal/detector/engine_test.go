package detector

import (
	"math"
	"testing"
	"time"

	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/types"
)

type captureSink struct {
	events []types.AnomalyEvent
}

func (s *captureSink) Publish(ev types.AnomalyEvent) { s.events = append(s.events, ev) }

type captureRecorder struct {
	rows []struct {
		ev       types.AnomalyEvent
		filtered bool
		reason   string
	}
}

func (r *captureRecorder) RecordAlert(ev types.AnomalyEvent, filtered bool, reason string) {
	r.rows = append(r.rows, struct {
		ev       types.AnomalyEvent
		filtered bool
		reason   string
	}{ev, filtered, reason})
}

type stubRisk struct {
	result types.RiskResult
	reason string
}

func (s *stubRisk) Check(types.Ticker) (types.RiskResult, string) { return s.result, s.reason }

func smallTierConfig() Config {
	cfg := Config{
		Cooldown:   300 * time.Second,
		Tiers:      []types.TierConfig{{MinOIValue: 0, PriceThreshold: 2, VolumeThreshold: 3, OIThreshold: 5, SpreadThreshold: 0.3, Label: "small"}},
		FilterMode: FilterAll,
	}
	cfg.PriceChange = DetectorToggle{Enabled: true, Window: 60 * time.Second}
	cfg.VolumeSpike.Enabled = true
	cfg.VolumeSpike.Lookback = 10
	cfg.OIChange = DetectorToggle{Enabled: true, Window: 300 * time.Second}
	cfg.SpotSpread = DetectorToggle{Enabled: true, Window: 60 * time.Second}
	cfg.PriceReversal = DetectorToggle{Enabled: true, Window: 300 * time.Second}
	return cfg
}

func linearTicks(symbol string, end time.Time, seconds int, from, to float64) []types.Ticker {
	ticks := make([]types.Ticker, 0, seconds+1)
	for i := 0; i <= seconds; i++ {
		frac := float64(i) / float64(seconds)
		ticks = append(ticks, types.Ticker{
			Symbol:     symbol,
			Price:      from + (to-from)*frac,
			BaseVolume: 1,
			Timestamp:  end.Add(-time.Duration(seconds-i) * time.Second),
		})
	}
	return ticks
}

func TestPriceChangeEmissionAndCooldown(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	sink := &captureSink{}
	eng := NewEngine(smallTierConfig(), tracker, nil, sink, nil)

	now := time.Now()
	events := eng.ProcessTickers(linearTicks("AAAUSDT", now, 60, 100, 103))

	var priceEvents []types.AnomalyEvent
	for _, ev := range events {
		if ev.Kind == types.KindPriceChange {
			priceEvents = append(priceEvents, ev)
		}
	}
	if len(priceEvents) != 1 {
		t.Fatalf("price change events = %d, want 1", len(priceEvents))
	}
	ev := priceEvents[0]
	if math.Abs(ev.ChangePct-3.0) > 0.2 {
		t.Errorf("change = %v, want ≈3.0", ev.ChangePct)
	}
	if ev.Tier != "small" {
		t.Errorf("tier = %q, want small", ev.Tier)
	}

	// Identical move again inside the cooldown emits nothing
	events = eng.ProcessTickers(linearTicks("AAAUSDT", now.Add(30*time.Second), 30, 103, 106.2))
	for _, ev := range events {
		if ev.Kind == types.KindPriceChange {
			t.Fatal("second price change inside cooldown should not emit")
		}
	}
}

func TestVolumeSpikeGuard(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	eng := NewEngine(smallTierConfig(), tracker, nil, nil, nil)

	now := time.Now()
	volumes := []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 10}
	var ticks []types.Ticker
	for i, v := range volumes {
		ticks = append(ticks, types.Ticker{
			Symbol:     "AAAUSDT",
			Price:      100,
			BaseVolume: v,
			Timestamp:  now.Add(-time.Duration(len(volumes)-1-i) * time.Second),
		})
	}

	events := eng.ProcessTickers(ticks)
	found := false
	for _, ev := range events {
		if ev.Kind == types.KindVolumeSpike {
			found = true
			if math.Abs(ev.ChangePct-10.0) > 1e-9 {
				t.Errorf("ratio = %v, want 10.0", ev.ChangePct)
			}
		}
	}
	if !found {
		t.Fatal("expected a volume spike event")
	}

	// Flat volumes: no spike
	tracker2 := market.NewTracker(market.DefaultConfig())
	eng2 := NewEngine(smallTierConfig(), tracker2, nil, nil, nil)
	for i := range ticks {
		ticks[i].BaseVolume = 1
		ticks[i].Symbol = "BBBUSDT"
	}
	for _, ev := range eng2.ProcessTickers(ticks) {
		if ev.Kind == types.KindVolumeSpike {
			t.Fatal("flat volumes should not emit a spike")
		}
	}
}

func TestTierSelectionDescending(t *testing.T) {
	cfg := smallTierConfig()
	cfg.Tiers = []types.TierConfig{
		{MinOIValue: 0, PriceThreshold: 5, Label: "small"},
		{MinOIValue: 1_000_000, PriceThreshold: 2, Label: "large"},
	}
	tracker := market.NewTracker(market.DefaultConfig())
	eng := NewEngine(cfg, tracker, nil, nil, nil)

	now := time.Now()
	tracker.Update(types.Ticker{Symbol: "AAAUSDT", Price: 100, Timestamp: now})

	if tier := eng.tierFor("AAAUSDT"); tier == nil || tier.Label != "small" {
		t.Fatalf("zero OI value should pick the floor tier, got %+v", tier)
	}

	tracker.UpdateOI("AAAUSDT", 50_000, now) // position value = 5,000,000
	if tier := eng.tierFor("AAAUSDT"); tier == nil || tier.Label != "large" {
		t.Fatalf("high position value should promote to the large tier, got %+v", tier)
	}
}

func TestSymbolFilterModes(t *testing.T) {
	tests := []struct {
		mode     string
		white    []string
		black    []string
		symbol   string
		filtered bool
	}{
		{FilterAll, nil, nil, "AAAUSDT", false},
		{FilterWhitelist, []string{"AAAUSDT"}, nil, "AAAUSDT", false},
		{FilterWhitelist, []string{"AAAUSDT"}, nil, "BBBUSDT", true},
		{FilterBlacklist, nil, []string{"BBBUSDT"}, "BBBUSDT", true},
		{FilterBlacklist, nil, []string{"BBBUSDT"}, "AAAUSDT", false},
	}

	for _, tt := range tests {
		cfg := smallTierConfig()
		cfg.FilterMode = tt.mode
		cfg.Whitelist = tt.white
		cfg.Blacklist = tt.black
		eng := NewEngine(cfg, market.NewTracker(market.DefaultConfig()), nil, nil, nil)
		if got := eng.symbolFiltered(tt.symbol); got != tt.filtered {
			t.Errorf("mode=%s symbol=%s: filtered = %v, want %v", tt.mode, tt.symbol, got, tt.filtered)
		}
	}
}

func TestRiskFilteredAlertRecordedNotPublished(t *testing.T) {
	tracker := market.NewTracker(market.DefaultConfig())
	sink := &captureSink{}
	rec := &captureRecorder{}
	risk := &stubRisk{result: types.RiskResult{IsFake: true, FakeReason: "fast revert"}, reason: "fake_signal"}
	eng := NewEngine(smallTierConfig(), tracker, risk, sink, rec)

	now := time.Now()
	eng.ProcessTickers(linearTicks("AAAUSDT", now, 60, 100, 103))

	if len(sink.events) != 0 {
		t.Fatalf("filtered events must not reach the sink, got %d", len(sink.events))
	}
	if len(rec.rows) == 0 {
		t.Fatal("filtered events must still be recorded")
	}
	if !rec.rows[0].filtered || rec.rows[0].reason != "fake_signal" {
		t.Errorf("record = %+v, want filtered with fake_signal reason", rec.rows[0])
	}
}

func TestCooldownMap(t *testing.T) {
	cm := NewCooldownMap(300 * time.Second)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cm.nowFunc = func() time.Time { return base }

	if !cm.Ready("AAAUSDT", types.KindPriceChange) {
		t.Fatal("fresh key should be ready")
	}
	cm.Record("AAAUSDT", types.KindPriceChange)
	if cm.Ready("AAAUSDT", types.KindPriceChange) {
		t.Fatal("just-recorded key should be cooling down")
	}
	if !cm.Ready("AAAUSDT", types.KindVolumeSpike) {
		t.Fatal("cooldown is per kind")
	}

	cm.nowFunc = func() time.Time { return base.Add(301 * time.Second) }
	if !cm.Ready("AAAUSDT", types.KindPriceChange) {
		t.Fatal("key should be ready after the cooldown")
	}

	cm.nowFunc = func() time.Time { return base.Add(601 * time.Second) }
	cm.Purge()
	if cm.Len() != 0 {
		t.Errorf("purge should drop entries older than 2× cooldown, have %d", cm.Len())
	}
}
