// Package notify delivers anomaly alerts and trade notifications over
// Telegram and serves the interactive command surface.
package notify

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quantfeed/perpwatch/internal/dashboard"
	"github.com/quantfeed/perpwatch/types"
)

var hundredDec = decimal.NewFromInt(100)

// TradingControl pauses and resumes paper-trading signal intake. Satisfied by
// the paper engine.
type TradingControl interface {
	Start()
	Stop()
	Running() bool
}

type Config struct {
	Token         string `yaml:"token"`
	ChatID        int64  `yaml:"chat_id"`
	Enabled       bool   `yaml:"enabled"`
	AlertsEnabled bool   `yaml:"alerts_enabled"`
	TradeAlerts   bool   `yaml:"trade_alerts"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		AlertsEnabled: true,
		TradeAlerts:   true,
	}
}

// Bot drains the alert queue into Telegram and answers status commands from
// the configured chat.
type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     Config
	queue   *Queue
	dash    *dashboard.Facade
	trading TradingControl
	stopCh  chan struct{}
}

func NewBot(cfg Config, queue *Queue, dash *dashboard.Facade, trading TradingControl) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot connected")

	return &Bot{
		api:     api,
		cfg:     cfg,
		queue:   queue,
		dash:    dash,
		trading: trading,
		stopCh:  make(chan struct{}),
	}, nil
}

func (b *Bot) Start() {
	go b.listenForCommands()
	go b.drainAlerts()

	if b.cfg.ChatID != 0 {
		b.sendMarkdown(b.cfg.ChatID, "🟢 *Perpwatch Online*\n\nAnomaly monitoring active. Use /status for a health check.")
	}
}

func (b *Bot) Stop() {
	close(b.stopCh)
	if b.cfg.ChatID != 0 {
		b.sendMarkdown(b.cfg.ChatID, "🔴 *Perpwatch Stopping*")
	}
}

// NotifyTrade pushes a trade open/close message. Safe to call from the paper
// engine's callbacks.
func (b *Bot) NotifyTrade(text string) {
	if !b.cfg.TradeAlerts || b.cfg.ChatID == 0 {
		return
	}
	b.sendMarkdown(b.cfg.ChatID, text)
}

func (b *Bot) drainAlerts() {
	for {
		select {
		case <-b.queue.Wake():
			for _, ev := range b.queue.Drain(20) {
				if !b.cfg.AlertsEnabled || b.cfg.ChatID == 0 {
					continue
				}
				if err := b.sendMarkdown(b.cfg.ChatID, AlertMessage(ev)); err != nil {
					log.Error().Str("symbol", ev.Symbol).Err(err).Msg("❌ Failed to send alert")
				}
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bot) listenForCommands() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				go b.handleMessage(update.Message)
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bot) handleMessage(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	// Only the configured chat may drive the bot.
	if b.cfg.ChatID != 0 && chatID != b.cfg.ChatID {
		log.Warn().Int64("chat_id", chatID).Msg("⚠️ Ignoring command from unauthorized chat")
		return
	}

	if !msg.IsCommand() {
		return
	}

	log.Debug().Int64("chat_id", chatID).Str("command", msg.Command()).Msg("Received command")

	switch msg.Command() {
	case "start", "help":
		b.cmdHelp(chatID)
	case "status":
		b.cmdStatus(chatID)
	case "balance":
		b.cmdBalance(chatID)
	case "positions":
		b.cmdPositions(chatID)
	case "trades":
		b.cmdTrades(chatID)
	case "stats":
		b.cmdStats(chatID)
	case "pause":
		b.cmdPause(chatID)
	case "resume":
		b.cmdResume(chatID)
	default:
		b.sendText(chatID, "❓ Unknown command. Use /help for available commands.")
	}
}

// Commands

func (b *Bot) cmdHelp(chatID int64) {
	b.sendMarkdown(chatID, `📚 *Perpwatch Commands*

*📊 Monitoring:*
/status - System health and counters
/stats - Trading statistics

*💰 Paper Trading:*
/balance - Account snapshot
/positions - Open positions
/trades - Recent closed trades
/pause - Pause signal intake
/resume - Resume signal intake`)
}

func (b *Bot) cmdStatus(chatID int64) {
	s := b.dash.SystemStatus()

	tradingState := "🔴 Paused"
	if s.TradingRunning {
		tradingState = "🟢 Running"
	}

	text := fmt.Sprintf(`📊 *System Status*

🤖 *Uptime:* %s
📡 *Tracked symbols:* %d
🏷 *Pending labels:* %d (generated %d, dropped %d)
🎮 *Paper trading:* %s

*Risk Filter:*
• Checks: %d
• Fake signals: %d
• Latency issues: %d
• Liquidity issues: %d
• Manipulations: %d

*Storage:*
• Features: %d
• Labels: %d
• Alerts: %d
• Trades: %d

📪 Queue drops: %d`,
		s.Uptime.Round(time.Second),
		s.TrackedSymbols,
		s.PendingLabels, s.LabelStats.Generated, s.LabelStats.Dropped,
		tradingState,
		s.RiskStats.TotalChecks,
		s.RiskStats.FakeSignals,
		s.RiskStats.LatencyIssues,
		s.RiskStats.LiquidityIssues,
		s.RiskStats.Manipulations,
		s.TableCounts["features"],
		s.TableCounts["labels"],
		s.TableCounts["alerts"],
		s.TableCounts["trades"],
		b.queue.Dropped(),
	)
	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdBalance(chatID int64) {
	state := b.dash.AccountSnapshot()

	text := fmt.Sprintf(`💰 *Account Snapshot*

*Balance:* $%s
*Equity:* $%s
*Margin used:* $%s
*Margin available:* $%s

*Open positions:* %d
*Total PnL:* $%s
*Max drawdown:* $%s`,
		state.Balance.StringFixed(2),
		state.Equity.StringFixed(2),
		state.MarginUsed.StringFixed(2),
		state.MarginAvailable.StringFixed(2),
		state.OpenPositions,
		state.TotalPnL.StringFixed(2),
		state.MaxDrawdown.StringFixed(2),
	)
	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdPositions(chatID int64) {
	positions := b.dash.OpenPositions()
	if len(positions) == 0 {
		b.sendText(chatID, "📭 No open positions.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📋 *Open Positions*\n")
	for _, p := range positions {
		emoji := "🟢"
		if p.Side == types.SideShort {
			emoji = "🔴"
		}
		sb.WriteString(fmt.Sprintf(`
%s *%s %s* (%dx)
├ Entry: $%s
├ Mark: $%s
└ PnL: $%s (%s%%)
`,
			emoji, p.Side, p.Symbol, p.Leverage,
			p.EntryPrice.StringFixed(4),
			p.CurrentPrice.StringFixed(4),
			p.UnrealizedPnL.StringFixed(2),
			p.UnrealizedPnLPct.StringFixed(2),
		))
	}
	b.sendMarkdown(chatID, sb.String())
}

func (b *Bot) cmdTrades(chatID int64) {
	trades := b.dash.RecentTrades(10)
	if len(trades) == 0 {
		b.sendText(chatID, "📭 No trades yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("🧾 *Recent Trades*\n")
	for _, t := range trades {
		mark := "✅"
		if t.RealizedPnL.IsNegative() {
			mark = "❌"
		}
		sb.WriteString(fmt.Sprintf("\n%s %s %s: $%s (%s)",
			mark, t.Side, t.Symbol, t.RealizedPnL.StringFixed(2), t.ExitReason))
	}
	b.sendMarkdown(chatID, sb.String())
}

func (b *Bot) cmdStats(chatID int64) {
	stats, err := b.dash.TradeStatistics()
	if err != nil {
		b.sendText(chatID, "❌ Could not load statistics.")
		return
	}
	if stats.TotalTrades == 0 {
		b.sendText(chatID, "📭 No closed trades to summarize.")
		return
	}

	text := fmt.Sprintf(`📈 *Trading Statistics*

*Trades:* %d (W %d / L %d)
*Win rate:* %s%%
*Total PnL:* $%s

*Avg win:* $%s
*Avg loss:* $%s
*Best:* $%s
*Worst:* $%s
*Profit factor:* %s`,
		stats.TotalTrades, stats.WinTrades, stats.LossTrades,
		stats.WinRate.Mul(hundredDec).StringFixed(1),
		stats.TotalPnL.StringFixed(2),
		stats.AvgWin.StringFixed(2),
		stats.AvgLoss.StringFixed(2),
		stats.MaxWin.StringFixed(2),
		stats.MaxLoss.StringFixed(2),
		stats.ProfitFactor.StringFixed(2),
	)
	b.sendMarkdown(chatID, text)
}

func (b *Bot) cmdPause(chatID int64) {
	if b.trading == nil {
		b.sendText(chatID, "❌ Paper trading not enabled.")
		return
	}
	if !b.trading.Running() {
		b.sendText(chatID, "⏸ Already paused.")
		return
	}
	b.trading.Stop()
	b.sendText(chatID, "⏸ Paper trading paused. Open positions keep updating.")
}

func (b *Bot) cmdResume(chatID int64) {
	if b.trading == nil {
		b.sendText(chatID, "❌ Paper trading not enabled.")
		return
	}
	if b.trading.Running() {
		b.sendText(chatID, "▶️ Already running.")
		return
	}
	b.trading.Start()
	b.sendText(chatID, "▶️ Paper trading resumed.")
}

// Helpers

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendMarkdown(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	_, err := b.api.Send(msg)
	return err
}
