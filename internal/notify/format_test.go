package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfeed/perpwatch/types"
)

func TestAlertMessagePriceChange(t *testing.T) {
	ev := types.AnomalyEvent{
		Symbol:       "BTCUSDT",
		Kind:         types.KindPriceChange,
		Tier:         "large",
		CurrentPrice: 50123.45,
		ChangePct:    3.25,
		Threshold:    3.0,
		Window:       60 * time.Second,
		Timestamp:    time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		Extras:       map[string]float64{"volume_ratio": 4.5},
	}

	msg := AlertMessage(ev)
	for _, want := range []string{"📈", "BTCUSDT", "large", "+3.25%", "3.00%", "60s", "volume_ratio"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}

	ev.ChangePct = -3.25
	if !strings.Contains(AlertMessage(ev), "📉") {
		t.Error("negative move should use the down emoji")
	}
}

func TestAlertMessageKindEmojis(t *testing.T) {
	cases := map[types.AnomalyKind]string{
		types.KindVolumeSpike:        "📊",
		types.KindOIChange:           "💰",
		types.KindPriceReversal:      "🔄",
		types.KindOrderBookWall:      "🧱",
		types.KindOrderBookImbalance: "⚖️",
		types.KindOrderBookSweep:     "💥",
	}
	for kind, emoji := range cases {
		msg := AlertMessage(types.AnomalyEvent{Symbol: "ETHUSDT", Kind: kind, ChangePct: 1, Timestamp: time.Now()})
		if !strings.HasPrefix(msg, emoji) {
			t.Errorf("%s: expected prefix %q, got %q", kind, emoji, msg[:12])
		}
	}
}

func TestSpreadMessageBannerStyle(t *testing.T) {
	ev := types.AnomalyEvent{
		Symbol:    "SOLUSDT",
		Kind:      types.KindSpotFuturesSpread,
		Tier:      "mid",
		ChangePct: 1.8,
		Threshold: 1.0,
		Timestamp: time.Now(),
		Extras:    map[string]float64{"spot": 151.2, "futures": 148.5},
	}

	msg := AlertMessage(ev)
	if !strings.Contains(msg, strings.Repeat("═", 30)) {
		t.Error("spread message missing banner rule")
	}
	for _, want := range []string{"🔺", "spot premium", "151.2", "148.5", "SOLUSDT"} {
		if !strings.Contains(msg, want) {
			t.Errorf("spread message missing %q:\n%s", want, msg)
		}
	}

	ev.ChangePct = -1.8
	msg = AlertMessage(ev)
	if !strings.Contains(msg, "futures premium") || !strings.Contains(msg, "🔻") {
		t.Error("negative spread should flip direction")
	}
}

func TestTradeMessages(t *testing.T) {
	d := func(s string) decimal.Decimal {
		v, _ := decimal.NewFromString(s)
		return v
	}
	pos := &types.Position{
		Symbol:           "BTCUSDT",
		Side:             types.SideLong,
		Quantity:         d("0.1"),
		EntryPrice:       d("50000"),
		Leverage:         15,
		Margin:           d("333.33"),
		TakeProfitPrice:  d("51500"),
		StopLossPrice:    d("49250"),
		SignalConfidence: 0.8,
		SignalReason:     "long|rsi_oversold",
	}
	open := TradeOpenedMessage(pos)
	for _, want := range []string{"🟢", "LONG BTCUSDT", "15x", "51500", "49250", "rsi_oversold", "80%"} {
		if !strings.Contains(open, want) {
			t.Errorf("open message missing %q:\n%s", want, open)
		}
	}

	entry := time.Now().Add(-5 * time.Minute)
	trade := types.Trade{
		Symbol:      "BTCUSDT",
		Side:        types.SideLong,
		EntryPrice:  d("50000"),
		EntryTime:   entry,
		ExitPrice:   d("51500"),
		ExitTime:    entry.Add(5 * time.Minute),
		ExitReason:  types.ExitTakeProfit,
		RealizedPnL: d("149.49"),
		ROI:         d("45"),
	}
	closed := TradeClosedMessage(trade)
	for _, want := range []string{"✅ WIN", "149.49", types.ExitTakeProfit, "5m0s"} {
		if !strings.Contains(closed, want) {
			t.Errorf("closed message missing %q:\n%s", want, closed)
		}
	}

	trade.RealizedPnL = d("-42.10")
	if !strings.Contains(TradeClosedMessage(trade), "❌ LOSS: -$42.10") {
		t.Error("loss message should show negated loss amount")
	}
}
