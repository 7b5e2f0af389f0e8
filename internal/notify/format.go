package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quantfeed/perpwatch/types"
)

// Message formatting. Telegram markdown with the per-kind emoji scheme.

var kindTitles = map[types.AnomalyKind]string{
	types.KindPriceChange:        "Price Move",
	types.KindVolumeSpike:        "Volume Spike",
	types.KindOIChange:           "Open Interest Shift",
	types.KindPriceReversal:      "Price Reversal",
	types.KindOrderBookWall:      "Order Book Wall",
	types.KindOrderBookImbalance: "Order Book Imbalance",
	types.KindOrderBookSweep:     "Wall Sweep",
}

func kindEmoji(ev types.AnomalyEvent) string {
	switch ev.Kind {
	case types.KindPriceChange:
		if ev.ChangePct > 0 {
			return "📈"
		}
		return "📉"
	case types.KindVolumeSpike:
		return "📊"
	case types.KindOIChange:
		return "💰"
	case types.KindPriceReversal:
		return "🔄"
	case types.KindOrderBookWall:
		return "🧱"
	case types.KindOrderBookImbalance:
		return "⚖️"
	case types.KindOrderBookSweep:
		return "💥"
	default:
		return "🚨"
	}
}

// AlertMessage renders one anomaly event as a markdown alert.
func AlertMessage(ev types.AnomalyEvent) string {
	if ev.Kind == types.KindSpotFuturesSpread {
		return spreadMessage(ev)
	}

	title := kindTitles[ev.Kind]
	if title == "" {
		title = "Anomaly"
	}

	lines := []string{
		fmt.Sprintf("%s *%s Alert*", kindEmoji(ev), title),
		"",
		fmt.Sprintf("📌 Symbol: `%s`", ev.Symbol),
	}
	if ev.Tier != "" {
		lines = append(lines, fmt.Sprintf("📊 Tier: %s", ev.Tier))
	}
	lines = append(lines,
		fmt.Sprintf("💵 Price: $%s", formatPrice(ev.CurrentPrice)),
		fmt.Sprintf("📈 Change: %+.2f%%", ev.ChangePct),
		fmt.Sprintf("⚡ Threshold: %.2f%%", ev.Threshold),
	)
	if ev.Window > 0 {
		lines = append(lines, fmt.Sprintf("⏱ Window: %ds", int(ev.Window.Seconds())))
	}
	lines = append(lines, fmt.Sprintf("🕐 Time: %s", ev.Timestamp.Format("15:04:05")))

	if extras := extraLines(ev); len(extras) > 0 {
		lines = append(lines, "")
		lines = append(lines, extras...)
	}
	return strings.Join(lines, "\n")
}

// spreadMessage uses a distinct banner style so spot-futures divergence is
// visually separate from futures-only alerts.
func spreadMessage(ev types.AnomalyEvent) string {
	arrow := "🔺"
	direction := "spot premium"
	if ev.ChangePct < 0 {
		arrow = "🔻"
		direction = "futures premium"
	}

	rule := strings.Repeat("═", 30)
	lines := []string{
		rule,
		fmt.Sprintf("%s *Spot-Futures Divergence* %s", arrow, arrow),
		rule,
		"",
		fmt.Sprintf("🪙 Symbol: `%s`", ev.Symbol),
	}
	if ev.Tier != "" {
		lines = append(lines, fmt.Sprintf("📊 Tier: %s", ev.Tier))
	}
	if spot, ok := ev.Extras["spot"]; ok {
		lines = append(lines, "", fmt.Sprintf("💵 Spot: $%s", formatPrice(spot)))
	}
	if fut, ok := ev.Extras["futures"]; ok {
		lines = append(lines, fmt.Sprintf("⚡ Futures: $%s", formatPrice(fut)))
	}
	lines = append(lines,
		"",
		fmt.Sprintf("📊 Spread: *%+.2f%%* (%s)", ev.ChangePct, direction),
		fmt.Sprintf("⚠️ Threshold: %.2f%%", ev.Threshold),
		"",
		fmt.Sprintf("🕐 Time: %s", ev.Timestamp.Format("2006-01-02 15:04:05")),
	)
	return strings.Join(lines, "\n")
}

func extraLines(ev types.AnomalyEvent) []string {
	keys := make([]string, 0, len(ev.Extras))
	for k := range ev.Extras {
		if k == "spot" || k == "futures" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("• %s: %.4g", k, ev.Extras[k]))
	}
	textKeys := make([]string, 0, len(ev.ExtraText))
	for k := range ev.ExtraText {
		textKeys = append(textKeys, k)
	}
	sort.Strings(textKeys)
	for _, k := range textKeys {
		lines = append(lines, fmt.Sprintf("• %s: %s", k, ev.ExtraText[k]))
	}
	return lines
}

// TradeOpenedMessage announces a new simulated position.
func TradeOpenedMessage(p *types.Position) string {
	emoji := "🟢"
	if p.Side == types.SideShort {
		emoji = "🔴"
	}
	lines := []string{
		fmt.Sprintf("%s *Position Opened: %s %s*", emoji, p.Side, p.Symbol),
		"",
		fmt.Sprintf("💵 Entry: $%s", p.EntryPrice.StringFixed(4)),
		fmt.Sprintf("📦 Size: %s (%dx)", p.Quantity.StringFixed(4), p.Leverage),
		fmt.Sprintf("💰 Margin: $%s", p.Margin.StringFixed(2)),
	}
	if !p.TakeProfitPrice.IsZero() {
		lines = append(lines, fmt.Sprintf("🎯 TP: $%s", p.TakeProfitPrice.StringFixed(4)))
	}
	if !p.StopLossPrice.IsZero() {
		lines = append(lines, fmt.Sprintf("🛑 SL: $%s", p.StopLossPrice.StringFixed(4)))
	}
	if p.SignalReason != "" {
		lines = append(lines, "", fmt.Sprintf("_Signal: %s (%.0f%%)_", p.SignalReason, p.SignalConfidence*100))
	}
	return strings.Join(lines, "\n")
}

// TradeClosedMessage announces a closed simulated trade with its result.
func TradeClosedMessage(t types.Trade) string {
	result := fmt.Sprintf("✅ WIN: +$%s", t.RealizedPnL.StringFixed(2))
	if t.RealizedPnL.IsNegative() {
		result = fmt.Sprintf("❌ LOSS: -$%s", t.RealizedPnL.Abs().StringFixed(2))
	}
	hold := t.ExitTime.Sub(t.EntryTime).Round(time.Second)

	return strings.Join([]string{
		fmt.Sprintf("🏁 *Position Closed: %s %s*", t.Side, t.Symbol),
		"",
		fmt.Sprintf("💵 Entry: $%s → Exit: $%s", t.EntryPrice.StringFixed(4), t.ExitPrice.StringFixed(4)),
		fmt.Sprintf("📊 ROI: %s%% | Held: %s", t.ROI.StringFixed(2), hold),
		fmt.Sprintf("🧾 Reason: %s", t.ExitReason),
		"",
		result,
	}, "\n")
}

func formatPrice(price float64) string {
	if price >= 100 {
		return fmt.Sprintf("%.2f", price)
	}
	return fmt.Sprintf("%.4f", price)
}
