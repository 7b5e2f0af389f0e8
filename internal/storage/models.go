package storage

import (
	"time"

	"github.com/shopspring/decimal"
)

// Models. Table names follow the original schema so existing databases keep
// working across upgrades.

// FeatureRow holds one feature vector. The full vector is stored as JSON so
// schema evolution never needs a migration; hot columns are lifted out for
// indexed queries.
type FeatureRow struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Symbol      string    `gorm:"uniqueIndex:idx_features_symbol_ts"`
	Timestamp   time.Time `gorm:"uniqueIndex:idx_features_symbol_ts;index"`
	Price       float64
	FeatureJSON string
	CreatedAt   time.Time
}

func (FeatureRow) TableName() string { return "features" }

type LabelRow struct {
	ID               uint      `gorm:"primaryKey;autoIncrement"`
	Symbol           string    `gorm:"uniqueIndex:idx_labels_symbol_ts"`
	FeatureTimestamp time.Time `gorm:"uniqueIndex:idx_labels_symbol_ts"`
	Return1m         float64   `gorm:"column:return_1m"`
	Return5m         float64   `gorm:"column:return_5m"`
	Return15m        float64   `gorm:"column:return_15m"`
	Return30m        float64   `gorm:"column:return_30m"`
	Direction5m      int       `gorm:"column:direction_5m"`
	Direction15m     int       `gorm:"column:direction_15m"`
	MaxProfit5m      float64   `gorm:"column:max_profit_5m"`
	MaxDrawdown5m    float64   `gorm:"column:max_drawdown_5m"`
	GeneratedAt      time.Time
	CreatedAt        time.Time
}

func (LabelRow) TableName() string { return "labels" }

type PriceSnapshotRow struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	Symbol      string    `gorm:"uniqueIndex:idx_prices_symbol_ts"`
	Timestamp   time.Time `gorm:"uniqueIndex:idx_prices_symbol_ts"`
	Price       float64
	Volume      float64
	QuoteVolume float64
}

func (PriceSnapshotRow) TableName() string { return "price_snapshots" }

type AlertRow struct {
	ID            uint      `gorm:"primaryKey;autoIncrement"`
	Symbol        string    `gorm:"index:idx_alerts_symbol_ts"`
	Timestamp     time.Time `gorm:"index:idx_alerts_symbol_ts"`
	AlertType     string
	TierLabel     string
	ChangePercent float64
	Threshold     float64
	WasFiltered   bool `gorm:"index"`
	FilterReason  string
	ExtraJSON     string
	CreatedAt     time.Time
}

func (AlertRow) TableName() string { return "alerts" }

// Position lifecycle: a row is written "open" when the position opens and
// flipped to "closed" when its trade is recorded.
type PositionRow struct {
	PositionID       string `gorm:"primaryKey"`
	Symbol           string `gorm:"index"`
	Side             string
	Quantity         decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryPrice       decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryTime        time.Time
	Leverage         int
	Margin           decimal.Decimal `gorm:"type:decimal(20,6)"`
	TakeProfitPrice  decimal.Decimal `gorm:"type:decimal(20,8)"`
	StopLossPrice    decimal.Decimal `gorm:"type:decimal(20,8)"`
	TrailingDistance decimal.Decimal `gorm:"type:decimal(10,4)"`
	MaxHoldSeconds   int
	SignalConfidence float64
	SignalReason     string
	Status           string `gorm:"index;default:open"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (PositionRow) TableName() string { return "positions" }

type TradeRow struct {
	TradeID          string `gorm:"primaryKey"`
	Symbol           string `gorm:"index"`
	Side             string
	Quantity         decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryPrice       decimal.Decimal `gorm:"type:decimal(20,8)"`
	EntryTime        time.Time
	ExitPrice        decimal.Decimal `gorm:"type:decimal(20,8)"`
	ExitTime         time.Time       `gorm:"index"`
	ExitReason       string
	Leverage         int
	Margin           decimal.Decimal `gorm:"type:decimal(20,6)"`
	Commission       decimal.Decimal `gorm:"type:decimal(20,6)"`
	RealizedPnL      decimal.Decimal `gorm:"column:realized_pnl;type:decimal(20,6)"`
	RealizedPnLPct   decimal.Decimal `gorm:"column:realized_pnl_pct;type:decimal(10,4)"`
	ROI              decimal.Decimal `gorm:"type:decimal(10,4)"`
	SignalConfidence float64
	SignalReason     string
	CreatedAt        time.Time
}

func (TradeRow) TableName() string { return "trades" }

type AccountStateRow struct {
	ID              uint            `gorm:"primaryKey;autoIncrement"`
	Timestamp       time.Time       `gorm:"uniqueIndex"`
	Balance         decimal.Decimal `gorm:"type:decimal(20,6)"`
	Equity          decimal.Decimal `gorm:"type:decimal(20,6)"`
	MarginUsed      decimal.Decimal `gorm:"type:decimal(20,6)"`
	MarginAvailable decimal.Decimal `gorm:"type:decimal(20,6)"`
	MarginRatio     decimal.Decimal `gorm:"type:decimal(10,6)"`
	OpenPositions   int
	TotalTrades     int
	WinTrades       int
	TotalPnL        decimal.Decimal `gorm:"column:total_pnl;type:decimal(20,6)"`
	MaxDrawdown     decimal.Decimal `gorm:"type:decimal(20,6)"`
	WinRate         decimal.Decimal `gorm:"type:decimal(10,6)"`
}

func (AccountStateRow) TableName() string { return "account_states" }

type EquityPointRow struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	Symbol    string          `gorm:"uniqueIndex:idx_equity_symbol_ts"`
	Timestamp time.Time       `gorm:"uniqueIndex:idx_equity_symbol_ts;index"`
	Equity    decimal.Decimal `gorm:"type:decimal(20,6)"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,6)"`
	Drawdown  decimal.Decimal `gorm:"type:decimal(20,6)"`
}

func (EquityPointRow) TableName() string { return "equity_curve" }
