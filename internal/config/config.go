package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/quantfeed/perpwatch/internal/detector"
	"github.com/quantfeed/perpwatch/internal/exchange"
	"github.com/quantfeed/perpwatch/internal/features"
	"github.com/quantfeed/perpwatch/internal/indicators"
	"github.com/quantfeed/perpwatch/internal/labels"
	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/notify"
	"github.com/quantfeed/perpwatch/internal/orderbook"
	"github.com/quantfeed/perpwatch/internal/paper"
	"github.com/quantfeed/perpwatch/internal/risk"
	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG - Layered configuration
// ═══════════════════════════════════════════════════════════════════════════════
//
// Priority: environment variables > .env file > YAML file > defaults.
// Secrets (telegram token, database URL) come from the environment; the
// nested alerts/ml/trading tree comes from the YAML file at CONFIG_PATH.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config is the full configuration tree.
type Config struct {
	Telegram    TelegramSettings `yaml:"telegram"`
	Alerts      AlertsSettings   `yaml:"alerts"`
	VolumeTiers []VolumeTier     `yaml:"volume_tiers"`
	Filter      FilterSettings   `yaml:"filter"`
	ML          MLSettings       `yaml:"ml"`
	Trading     TradingSettings  `yaml:"trading"`
	Exchange    ExchangeSettings `yaml:"exchange"`
	Database    DatabaseSettings `yaml:"database"`
	Logging     LoggingSettings  `yaml:"logging"`
}

type TelegramSettings struct {
	Enabled       bool   `yaml:"enabled"`
	BotToken      string `yaml:"bot_token"`
	ChatID        int64  `yaml:"chat_id"`
	AlertsEnabled bool   `yaml:"alerts_enabled"`
	TradeAlerts   bool   `yaml:"trade_alerts"`
}

type AlertsSettings struct {
	PriceChange       PriceChangeAlert       `yaml:"price_change"`
	VolumeSpike       VolumeSpikeAlert       `yaml:"volume_spike"`
	OpenInterest      OpenInterestAlert      `yaml:"open_interest"`
	SpotFuturesSpread SpotFuturesSpreadAlert `yaml:"spot_futures_spread"`
	PriceReversal     PriceReversalAlert     `yaml:"price_reversal"`
	Orderbook         OrderbookSettings      `yaml:"orderbook"`
	Cooldown          int                    `yaml:"cooldown"` // seconds
	TierBy            string                 `yaml:"tier_by"`  // position_value or quote_volume
}

type PriceChangeAlert struct {
	Enabled    bool `yaml:"enabled"`
	TimeWindow int  `yaml:"time_window"` // seconds
}

type VolumeSpikeAlert struct {
	Enabled         bool `yaml:"enabled"`
	LookbackPeriods int  `yaml:"lookback_periods"`
}

type OpenInterestAlert struct {
	Enabled      bool `yaml:"enabled"`
	PollInterval int  `yaml:"poll_interval"` // seconds
	TimeWindow   int  `yaml:"time_window"`   // seconds
}

type SpotFuturesSpreadAlert struct {
	Enabled      bool    `yaml:"enabled"`
	Threshold    float64 `yaml:"threshold"` // percent
	TimeWindow   int     `yaml:"time_window"`
	PollInterval int     `yaml:"poll_interval"`
}

type PriceReversalAlert struct {
	Enabled    bool `yaml:"enabled"`
	TimeWindow int  `yaml:"time_window"`
}

type OrderbookSettings struct {
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"`

	WallDetection      bool    `yaml:"wall_detection"`
	WallValueThreshold float64 `yaml:"wall_value_threshold"`
	WallRatioThreshold float64 `yaml:"wall_ratio_threshold"`
	WallDistanceMax    float64 `yaml:"wall_distance_max"`

	ImbalanceDetection   bool    `yaml:"imbalance_detection"`
	ImbalanceThreshold   float64 `yaml:"imbalance_threshold"`
	ImbalanceDepthLevels int     `yaml:"imbalance_depth_levels"`

	SweepDetection      bool    `yaml:"sweep_detection"`
	SweepValueThreshold float64 `yaml:"sweep_value_threshold"`

	Cooldown    int    `yaml:"cooldown"`
	DepthLevels int    `yaml:"depth_levels"`
	UpdateSpeed string `yaml:"update_speed"`
}

// VolumeTier is one threshold bucket, selected in descending min_oi_value.
type VolumeTier struct {
	MinOIValue      float64 `yaml:"min_oi_value"`
	PriceThreshold  float64 `yaml:"price_threshold"`
	VolumeThreshold float64 `yaml:"volume_threshold"`
	OIThreshold     float64 `yaml:"oi_threshold"`
	SpreadThreshold float64 `yaml:"spread_threshold"`
	Label           string  `yaml:"label"`
}

type FilterSettings struct {
	Mode      string   `yaml:"mode"` // all / whitelist / blacklist
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

type MLSettings struct {
	Enabled    bool               `yaml:"enabled"`
	Feature    FeatureSettings    `yaml:"feature"`
	Label      LabelSettings      `yaml:"label"`
	Indicators IndicatorSettings  `yaml:"indicators"`
	Risk       RiskSettings       `yaml:"risk"`
}

type FeatureSettings struct {
	SaveInterval    int `yaml:"save_interval"` // seconds
	ReversalWindow  int `yaml:"reversal_window"`
	VolumePeriods1m int `yaml:"volume_periods_1m"`
	VolumePeriods5m int `yaml:"volume_periods_5m"`
}

type LabelSettings struct {
	DirectionThreshold  float64 `yaml:"direction_threshold"` // percent
	MaxPendingPerSymbol int     `yaml:"max_pending_per_symbol"`
	PendingBuffer       int     `yaml:"pending_buffer"` // seconds
}

type IndicatorSettings struct {
	MAPeriods  []int   `yaml:"ma_periods"`
	RSIPeriod  int     `yaml:"rsi_period"`
	MACDFast   int     `yaml:"macd_fast"`
	MACDSlow   int     `yaml:"macd_slow"`
	MACDSignal int     `yaml:"macd_signal"`
	BBPeriod   int     `yaml:"bb_period"`
	BBStd      float64 `yaml:"bb_std"`
}

type RiskSettings struct {
	Enabled      bool `yaml:"enabled"`
	FilterAlerts bool `yaml:"filter_alerts"`

	MaxWsLatencyMs float64 `yaml:"max_ws_latency_ms"`
	MaxDataAgeMs   float64 `yaml:"max_data_age_ms"`

	MinDepthValue float64 `yaml:"min_depth_value"`
	MaxSpreadBps  float64 `yaml:"max_spread_bps"`

	FakeSignalWindow      int     `yaml:"fake_signal_window"` // seconds
	FakeSignalRevertRatio float64 `yaml:"fake_signal_revert_ratio"`
	FakeSignalMinChange   float64 `yaml:"fake_signal_min_change"` // percent

	WallFlashWindow  int     `yaml:"wall_flash_window"` // seconds
	WallFlashCount   int     `yaml:"wall_flash_count"`
	VolumeSpikeRatio float64 `yaml:"volume_spike_ratio"`
}

type TradingSettings struct {
	Enabled  bool                 `yaml:"enabled"`
	Mode     string               `yaml:"mode"` // backtest / realtime / both
	Account  AccountSettings      `yaml:"account"`
	Strategy StrategySettings     `yaml:"strategy"`
	StopLoss StopLossSettings     `yaml:"stop_loss"`
	Realtime RealtimeSettings     `yaml:"realtime"`
}

type AccountSettings struct {
	InitialBalance  float64 `yaml:"initial_balance"`
	Leverage        int     `yaml:"leverage"`
	MakerFee        float64 `yaml:"maker_fee"`
	TakerFee        float64 `yaml:"taker_fee"`
	MaxPositions    int     `yaml:"max_positions"`
	PositionRiskPct float64 `yaml:"position_risk_pct"`
	MaxMarginRatio  float64 `yaml:"max_margin_ratio"`
}

type StrategySettings struct {
	MinConfidence   float64 `yaml:"min_confidence"`
	SignalThreshold float64 `yaml:"signal_threshold"`
	IndicatorFilter bool    `yaml:"indicator_filter"`

	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`

	MinVolatility  float64 `yaml:"min_volatility"`
	MinVolumeRatio float64 `yaml:"min_volume_ratio"`

	ImbalanceLongThreshold  float64 `yaml:"imbalance_long_threshold"`
	ImbalanceShortThreshold float64 `yaml:"imbalance_short_threshold"`

	TrendFilterPct float64 `yaml:"trend_filter_pct"`
}

type StopLossSettings struct {
	Method string `yaml:"method"` // fixed / atr / trailing / multiple

	FixedStopPct  float64 `yaml:"fixed_stop_pct"`
	TakeProfitPct float64 `yaml:"take_profit_pct"`

	ATRMultiplier float64 `yaml:"atr_multiplier"`
	ATRPeriod     int     `yaml:"atr_period"`

	TrailingDistance   float64 `yaml:"trailing_distance"`
	TrailingActivation float64 `yaml:"trailing_activation"`

	MaxHoldSeconds int `yaml:"max_hold_seconds"`
}

type RealtimeSettings struct {
	SaveInterval          int      `yaml:"save_interval"` // seconds
	LogTrades             bool     `yaml:"log_trades"`
	MaxPositionsPerSymbol int      `yaml:"max_positions_per_symbol"`
	AllowedSymbols        []string `yaml:"allowed_symbols"`
}

type ExchangeSettings struct {
	WsURL        string `yaml:"ws_url"`
	MaxReconnect int    `yaml:"max_reconnect"` // seconds
}

type DatabaseSettings struct {
	URL string `yaml:"url"`
}

type LoggingSettings struct {
	Level string `yaml:"level"`
}

// Default returns the full tree with production defaults.
func Default() *Config {
	return &Config{
		Telegram: TelegramSettings{
			Enabled:       true,
			AlertsEnabled: true,
			TradeAlerts:   true,
		},
		Alerts: AlertsSettings{
			PriceChange:  PriceChangeAlert{Enabled: true, TimeWindow: 60},
			VolumeSpike:  VolumeSpikeAlert{Enabled: true, LookbackPeriods: 10},
			OpenInterest: OpenInterestAlert{Enabled: true, PollInterval: 30, TimeWindow: 300},
			SpotFuturesSpread: SpotFuturesSpreadAlert{
				Enabled: true, Threshold: 0.3, TimeWindow: 60, PollInterval: 30,
			},
			PriceReversal: PriceReversalAlert{Enabled: true, TimeWindow: 300},
			Orderbook: OrderbookSettings{
				Enabled:              true,
				WallDetection:        true,
				WallValueThreshold:   500_000,
				WallRatioThreshold:   3.0,
				WallDistanceMax:      2.0,
				ImbalanceDetection:   true,
				ImbalanceThreshold:   0.6,
				ImbalanceDepthLevels: 10,
				SweepDetection:       true,
				SweepValueThreshold:  300_000,
				Cooldown:             300,
				DepthLevels:          20,
				UpdateSpeed:          "500ms",
			},
			Cooldown: 300,
			TierBy:   detector.TierByPositionValue,
		},
		VolumeTiers: []VolumeTier{
			{MinOIValue: 100_000_000, PriceThreshold: 1.0, VolumeThreshold: 3.0, OIThreshold: 3.0, SpreadThreshold: 0.2, Label: "large"},
			{MinOIValue: 10_000_000, PriceThreshold: 2.0, VolumeThreshold: 3.0, OIThreshold: 5.0, SpreadThreshold: 0.3, Label: "mid"},
			{MinOIValue: 0, PriceThreshold: 3.0, VolumeThreshold: 5.0, OIThreshold: 8.0, SpreadThreshold: 0.5, Label: "small"},
		},
		Filter: FilterSettings{Mode: detector.FilterAll},
		ML: MLSettings{
			Enabled: true,
			Feature: FeatureSettings{
				SaveInterval:    60,
				ReversalWindow:  300,
				VolumePeriods1m: 6,
				VolumePeriods5m: 30,
			},
			Label: LabelSettings{
				DirectionThreshold:  0.1,
				MaxPendingPerSymbol: 500,
				PendingBuffer:       600,
			},
			Indicators: IndicatorSettings{
				MAPeriods:  []int{5, 20, 60},
				RSIPeriod:  14,
				MACDFast:   12,
				MACDSlow:   26,
				MACDSignal: 9,
				BBPeriod:   20,
				BBStd:      2.0,
			},
			Risk: RiskSettings{
				Enabled:               true,
				FilterAlerts:          true,
				MaxWsLatencyMs:        500,
				MaxDataAgeMs:          2000,
				MinDepthValue:         50_000,
				MaxSpreadBps:          50,
				FakeSignalWindow:      30,
				FakeSignalRevertRatio: 0.8,
				FakeSignalMinChange:   1.0,
				WallFlashWindow:       10,
				WallFlashCount:        3,
				VolumeSpikeRatio:      5.0,
			},
		},
		Trading: TradingSettings{
			Enabled: true,
			Mode:    "realtime",
			Account: AccountSettings{
				InitialBalance:  10_000,
				Leverage:        15,
				MakerFee:        0.0002,
				TakerFee:        0.0005,
				MaxPositions:    5,
				PositionRiskPct: 2.0,
				MaxMarginRatio:  0.8,
			},
			Strategy: StrategySettings{
				MinConfidence:           0.5,
				SignalThreshold:         0.4,
				IndicatorFilter:         true,
				RSIOversold:             30,
				RSIOverbought:           70,
				MinVolatility:           0.3,
				MinVolumeRatio:          0.5,
				ImbalanceLongThreshold:  0.3,
				ImbalanceShortThreshold: -0.3,
				TrendFilterPct:          1.0,
			},
			StopLoss: StopLossSettings{
				Method:             paper.StopMultiple,
				FixedStopPct:       1.5,
				TakeProfitPct:      3.0,
				ATRMultiplier:      2.0,
				ATRPeriod:          14,
				TrailingDistance:   1.0,
				TrailingActivation: 1.0,
				MaxHoldSeconds:     900,
			},
			Realtime: RealtimeSettings{
				SaveInterval:          60,
				LogTrades:             true,
				MaxPositionsPerSymbol: 1,
			},
		},
		Exchange: ExchangeSettings{
			WsURL:        "wss://fstream.binance.com",
			MaxReconnect: 60,
		},
		Database: DatabaseSettings{URL: "data/perpwatch.db"},
		Logging:  LoggingSettings{Level: "info"},
	}
}

// Load builds the config tree: defaults, then the YAML file at path (or
// CONFIG_PATH, default config.yaml), then environment overrides. A missing
// YAML file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path == "" {
		path = getEnv("CONFIG_PATH", "config.yaml")
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		log.Info().Str("path", path).Msg("📄 Config file loaded")
	case os.IsNotExist(err):
		log.Debug().Str("path", path).Msg("No config file, using defaults")
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.validate()
	return cfg, nil
}

// applyEnv merges environment overrides on top of the file values.
func (c *Config) applyEnv() error {
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		c.Telegram.ChatID = id
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	c.Trading.Enabled = getEnvBool("TRADING_ENABLED", c.Trading.Enabled)
	c.ML.Enabled = getEnvBool("ML_ENABLED", c.ML.Enabled)
	c.Trading.Account.InitialBalance = getEnvFloat("INITIAL_BALANCE", c.Trading.Account.InitialBalance)
	c.Trading.Account.Leverage = getEnvInt("LEVERAGE", c.Trading.Account.Leverage)
	return nil
}

// validate downgrades impossible combinations instead of failing startup.
func (c *Config) validate() {
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		log.Warn().Msg("⚠️ Telegram enabled but TELEGRAM_BOT_TOKEN is empty, disabling")
		c.Telegram.Enabled = false
	}
	switch c.Filter.Mode {
	case detector.FilterAll, detector.FilterWhitelist, detector.FilterBlacklist:
	default:
		log.Warn().Str("mode", c.Filter.Mode).Msg("⚠️ Unknown filter mode, using all")
		c.Filter.Mode = detector.FilterAll
	}
	if len(c.VolumeTiers) == 0 {
		log.Warn().Msg("⚠️ No volume tiers configured, using defaults")
		c.VolumeTiers = Default().VolumeTiers
	}
}

// Component config projections

func secs(n int) time.Duration { return time.Duration(n) * time.Second }

// Tiers converts the tier table to the detector's representation.
func (c *Config) Tiers() []types.TierConfig {
	tiers := make([]types.TierConfig, 0, len(c.VolumeTiers))
	for _, t := range c.VolumeTiers {
		tiers = append(tiers, types.TierConfig{
			MinOIValue:      t.MinOIValue,
			PriceThreshold:  t.PriceThreshold,
			VolumeThreshold: t.VolumeThreshold,
			OIThreshold:     t.OIThreshold,
			SpreadThreshold: t.SpreadThreshold,
			Label:           t.Label,
		})
	}
	return tiers
}

func (c *Config) Market() market.Config {
	return market.Config{
		PriceWindow:    secs(c.Alerts.PriceChange.TimeWindow),
		VolumeLookback: c.Alerts.VolumeSpike.LookbackPeriods,
		OIWindow:       secs(c.Alerts.OpenInterest.TimeWindow),
		SpreadWindow:   secs(c.Alerts.SpotFuturesSpread.TimeWindow),
	}
}

func (c *Config) Detector() detector.Config {
	cfg := detector.Config{
		PriceChange: detector.DetectorToggle{
			Enabled: c.Alerts.PriceChange.Enabled,
			Window:  secs(c.Alerts.PriceChange.TimeWindow),
		},
		OIChange: detector.DetectorToggle{
			Enabled: c.Alerts.OpenInterest.Enabled,
			Window:  secs(c.Alerts.OpenInterest.TimeWindow),
		},
		SpotSpread: detector.DetectorToggle{
			Enabled: c.Alerts.SpotFuturesSpread.Enabled,
			Window:  secs(c.Alerts.SpotFuturesSpread.TimeWindow),
		},
		PriceReversal: detector.DetectorToggle{
			Enabled: c.Alerts.PriceReversal.Enabled,
			Window:  secs(c.Alerts.PriceReversal.TimeWindow),
		},
		Cooldown:   secs(c.Alerts.Cooldown),
		Tiers:      c.Tiers(),
		TierBy:     c.Alerts.TierBy,
		FilterMode: c.Filter.Mode,
		Whitelist:  c.Filter.Whitelist,
		Blacklist:  c.Filter.Blacklist,
	}
	cfg.VolumeSpike.Enabled = c.Alerts.VolumeSpike.Enabled
	cfg.VolumeSpike.Lookback = c.Alerts.VolumeSpike.LookbackPeriods
	return cfg
}

func (c *Config) Orderbook() orderbook.Config {
	ob := c.Alerts.Orderbook
	return orderbook.Config{
		Enabled:              ob.Enabled,
		Symbols:              ob.Symbols,
		WallDetection:        ob.WallDetection,
		WallValueThreshold:   ob.WallValueThreshold,
		WallRatioThreshold:   ob.WallRatioThreshold,
		WallDistanceMax:      ob.WallDistanceMax,
		ImbalanceDetection:   ob.ImbalanceDetection,
		ImbalanceThreshold:   ob.ImbalanceThreshold,
		ImbalanceDepthLevels: ob.ImbalanceDepthLevels,
		SweepDetection:       ob.SweepDetection,
		SweepValueThreshold:  ob.SweepValueThreshold,
		Cooldown:             secs(ob.Cooldown),
		DepthLevels:          ob.DepthLevels,
		UpdateSpeed:          ob.UpdateSpeed,
	}
}

func (c *Config) Risk() risk.Config {
	r := c.ML.Risk
	return risk.Config{
		Enabled:               r.Enabled,
		FilterAlerts:          r.FilterAlerts,
		MaxWsLatencyMs:        r.MaxWsLatencyMs,
		MaxDataAgeMs:          r.MaxDataAgeMs,
		MinDepthValue:         r.MinDepthValue,
		MaxSpreadBps:          r.MaxSpreadBps,
		FakeSignalWindow:      secs(r.FakeSignalWindow),
		FakeSignalRevertRatio: r.FakeSignalRevertRatio,
		FakeSignalMinChange:   r.FakeSignalMinChange,
		WallFlashWindow:       secs(r.WallFlashWindow),
		WallFlashCount:        r.WallFlashCount,
		VolumeSpikeRatio:      r.VolumeSpikeRatio,
	}
}

func (c *Config) Features() features.Config {
	return features.Config{
		ReversalWindow:  secs(c.ML.Feature.ReversalWindow),
		VolumePeriods1m: c.ML.Feature.VolumePeriods1m,
		VolumePeriods5m: c.ML.Feature.VolumePeriods5m,
	}
}

func (c *Config) Labels() labels.Config {
	return labels.Config{
		DirectionThreshold:  c.ML.Label.DirectionThreshold,
		MaxPendingPerSymbol: c.ML.Label.MaxPendingPerSymbol,
		PendingBuffer:       secs(c.ML.Label.PendingBuffer),
	}
}

func (c *Config) Indicators() *indicators.Calculator {
	ind := c.ML.Indicators
	calc := indicators.NewCalculator()
	if len(ind.MAPeriods) > 0 {
		calc.MAPeriods = ind.MAPeriods
	}
	if ind.RSIPeriod > 0 {
		calc.RSIPeriod = ind.RSIPeriod
	}
	if ind.MACDFast > 0 {
		calc.MACDFast = ind.MACDFast
	}
	if ind.MACDSlow > 0 {
		calc.MACDSlow = ind.MACDSlow
	}
	if ind.MACDSignal > 0 {
		calc.MACDSignal = ind.MACDSignal
	}
	if ind.BBPeriod > 0 {
		calc.BBPeriod = ind.BBPeriod
	}
	if ind.BBStd > 0 {
		calc.BBStd = ind.BBStd
	}
	return calc
}

func (c *Config) Feed() exchange.FeedConfig {
	cfg := exchange.FeedConfig{
		WsURL:        c.Exchange.WsURL,
		DepthLevels:  c.Alerts.Orderbook.DepthLevels,
		UpdateSpeed:  c.Alerts.Orderbook.UpdateSpeed,
		MaxReconnect: secs(c.Exchange.MaxReconnect),
	}
	if c.Alerts.Orderbook.Enabled {
		cfg.DepthSymbols = c.Alerts.Orderbook.Symbols
	}
	return cfg
}

func (c *Config) Account() paper.AccountConfig {
	a := c.Trading.Account
	return paper.AccountConfig{
		InitialBalance:  a.InitialBalance,
		Leverage:        a.Leverage,
		MakerFee:        a.MakerFee,
		TakerFee:        a.TakerFee,
		MaxPositions:    a.MaxPositions,
		PositionRiskPct: a.PositionRiskPct,
		MaxMarginRatio:  a.MaxMarginRatio,
	}
}

func (c *Config) Strategy() paper.StrategyConfig {
	s := c.Trading.Strategy
	return paper.StrategyConfig{
		MinConfidence:           s.MinConfidence,
		SignalThreshold:         s.SignalThreshold,
		IndicatorFilter:         s.IndicatorFilter,
		RSIOversold:             s.RSIOversold,
		RSIOverbought:           s.RSIOverbought,
		MinVolatility:           s.MinVolatility,
		MinVolumeRatio:          s.MinVolumeRatio,
		ImbalanceLongThreshold:  s.ImbalanceLongThreshold,
		ImbalanceShortThreshold: s.ImbalanceShortThreshold,
		TrendFilterPct:          s.TrendFilterPct,
	}
}

func (c *Config) StopLoss() paper.StopLossConfig {
	s := c.Trading.StopLoss
	return paper.StopLossConfig{
		Method:             s.Method,
		FixedStopPct:       s.FixedStopPct,
		TakeProfitPct:      s.TakeProfitPct,
		ATRMultiplier:      s.ATRMultiplier,
		ATRPeriod:          s.ATRPeriod,
		TrailingDistance:   s.TrailingDistance,
		TrailingActivation: s.TrailingActivation,
		MaxHoldSeconds:     s.MaxHoldSeconds,
	}
}

func (c *Config) PaperEngine() paper.EngineConfig {
	r := c.Trading.Realtime
	return paper.EngineConfig{
		Enabled:               c.Trading.Enabled,
		SaveInterval:          secs(r.SaveInterval),
		LogTrades:             r.LogTrades,
		MaxPositionsPerSymbol: r.MaxPositionsPerSymbol,
		AllowedSymbols:        r.AllowedSymbols,
	}
}

func (c *Config) Notify() notify.Config {
	return notify.Config{
		Token:         c.Telegram.BotToken,
		ChatID:        c.Telegram.ChatID,
		Enabled:       c.Telegram.Enabled,
		AlertsEnabled: c.Telegram.AlertsEnabled,
		TradeAlerts:   c.Telegram.TradeAlerts,
	}
}

// Scheduler intervals

func (c *Config) OIPollInterval() time.Duration {
	return secs(c.Alerts.OpenInterest.PollInterval)
}

func (c *Config) SpotPollInterval() time.Duration {
	return secs(c.Alerts.SpotFuturesSpread.PollInterval)
}

func (c *Config) FeatureSaveInterval() time.Duration {
	return secs(c.ML.Feature.SaveInterval)
}

// Env helpers

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}
