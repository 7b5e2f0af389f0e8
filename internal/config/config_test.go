package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if !cfg.Alerts.PriceChange.Enabled || cfg.Alerts.PriceChange.TimeWindow != 60 {
		t.Errorf("price change defaults: %+v", cfg.Alerts.PriceChange)
	}
	if cfg.Alerts.OpenInterest.PollInterval != 30 || cfg.Alerts.OpenInterest.TimeWindow != 300 {
		t.Errorf("open interest defaults: %+v", cfg.Alerts.OpenInterest)
	}
	if cfg.Alerts.Cooldown != 300 {
		t.Errorf("cooldown default: %d", cfg.Alerts.Cooldown)
	}
	if len(cfg.VolumeTiers) != 3 || cfg.VolumeTiers[2].Label != "small" {
		t.Errorf("tier defaults: %+v", cfg.VolumeTiers)
	}
	if cfg.Trading.Account.InitialBalance != 10_000 || cfg.Trading.Account.Leverage != 15 {
		t.Errorf("account defaults: %+v", cfg.Trading.Account)
	}
	if cfg.Trading.StopLoss.Method != "multiple" || cfg.Trading.StopLoss.MaxHoldSeconds != 900 {
		t.Errorf("stop loss defaults: %+v", cfg.Trading.StopLoss)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
alerts:
  price_change:
    enabled: false
    time_window: 120
  cooldown: 60
volume_tiers:
  - min_oi_value: 0
    price_threshold: 5.0
    volume_threshold: 4.0
    oi_threshold: 9.0
    spread_threshold: 0.8
    label: only
filter:
  mode: whitelist
  whitelist: [BTCUSDT, ETHUSDT]
trading:
  account:
    initial_balance: 25000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerts.PriceChange.Enabled || cfg.Alerts.PriceChange.TimeWindow != 120 {
		t.Errorf("yaml override not applied: %+v", cfg.Alerts.PriceChange)
	}
	if cfg.Alerts.Cooldown != 60 {
		t.Errorf("cooldown: %d", cfg.Alerts.Cooldown)
	}
	// Untouched sections keep their defaults.
	if !cfg.Alerts.VolumeSpike.Enabled || cfg.Alerts.VolumeSpike.LookbackPeriods != 10 {
		t.Errorf("volume spike defaults lost: %+v", cfg.Alerts.VolumeSpike)
	}
	if len(cfg.VolumeTiers) != 1 || cfg.VolumeTiers[0].Label != "only" {
		t.Errorf("tiers: %+v", cfg.VolumeTiers)
	}
	if cfg.Filter.Mode != "whitelist" || len(cfg.Filter.Whitelist) != 2 {
		t.Errorf("filter: %+v", cfg.Filter)
	}
	if cfg.Trading.Account.InitialBalance != 25000 {
		t.Errorf("account: %+v", cfg.Trading.Account)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Alerts.PriceChange.TimeWindow != 60 {
		t.Errorf("defaults not applied: %+v", cfg.Alerts.PriceChange)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "token-123")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("DATABASE_URL", "postgres://example/db")
	t.Setenv("TRADING_ENABLED", "false")
	t.Setenv("INITIAL_BALANCE", "5000")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.BotToken != "token-123" || cfg.Telegram.ChatID != 42 {
		t.Errorf("telegram env: %+v", cfg.Telegram)
	}
	if cfg.Database.URL != "postgres://example/db" {
		t.Errorf("database env: %+v", cfg.Database)
	}
	if cfg.Trading.Enabled {
		t.Errorf("trading should be disabled via env")
	}
	if cfg.Trading.Account.InitialBalance != 5000 {
		t.Errorf("balance env: %v", cfg.Trading.Account.InitialBalance)
	}
}

func TestBadChatIDFails(t *testing.T) {
	t.Setenv("TELEGRAM_CHAT_ID", "not-a-number")
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for invalid chat id")
	}
}

func TestValidateDowngrades(t *testing.T) {
	cfg := Default()
	cfg.Telegram.Enabled = true
	cfg.Telegram.BotToken = ""
	cfg.Filter.Mode = "bogus"
	cfg.VolumeTiers = nil
	cfg.validate()

	if cfg.Telegram.Enabled {
		t.Errorf("telegram should be disabled without a token")
	}
	if cfg.Filter.Mode != "all" {
		t.Errorf("filter mode: %s", cfg.Filter.Mode)
	}
	if len(cfg.VolumeTiers) == 0 {
		t.Errorf("tiers should fall back to defaults")
	}
}

func TestComponentProjections(t *testing.T) {
	cfg := Default()
	cfg.Alerts.PriceChange.TimeWindow = 90
	cfg.Alerts.Cooldown = 120
	cfg.Alerts.Orderbook.Symbols = []string{"BTCUSDT"}

	det := cfg.Detector()
	if det.PriceChange.Window != 90*time.Second {
		t.Errorf("detector window: %v", det.PriceChange.Window)
	}
	if det.Cooldown != 120*time.Second {
		t.Errorf("detector cooldown: %v", det.Cooldown)
	}
	if len(det.Tiers) != 3 {
		t.Errorf("detector tiers: %d", len(det.Tiers))
	}

	mkt := cfg.Market()
	if mkt.PriceWindow != 90*time.Second || mkt.OIWindow != 300*time.Second {
		t.Errorf("market config: %+v", mkt)
	}

	feed := cfg.Feed()
	if len(feed.DepthSymbols) != 1 || feed.DepthLevels != 20 {
		t.Errorf("feed config: %+v", feed)
	}
	cfg.Alerts.Orderbook.Enabled = false
	if feed := cfg.Feed(); len(feed.DepthSymbols) != 0 {
		t.Errorf("disabled orderbook should drop depth symbols")
	}

	calc := cfg.Indicators()
	if calc.RSIPeriod != 14 || calc.BBStd != 2.0 {
		t.Errorf("indicator calc: %+v", calc)
	}

	sl := cfg.StopLoss()
	if sl.Method != "multiple" || sl.TakeProfitPct != 3.0 {
		t.Errorf("stop loss: %+v", sl)
	}
}
