package storage

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"github.com/quantfeed/perpwatch/types"
)

// Trading persistence. Satisfies the paper engine's store interface.

const (
	positionOpen   = "open"
	positionClosed = "closed"
)

// SavePosition upserts an open position row.
func (s *Store) SavePosition(p *types.Position) error {
	row := PositionRow{
		PositionID:       p.ID,
		Symbol:           p.Symbol,
		Side:             p.Side,
		Quantity:         p.Quantity,
		EntryPrice:       p.EntryPrice,
		EntryTime:        p.EntryTime,
		Leverage:         p.Leverage,
		Margin:           p.Margin,
		TakeProfitPrice:  p.TakeProfitPrice,
		StopLossPrice:    p.StopLossPrice,
		TrailingDistance: p.TrailingDistance,
		MaxHoldSeconds:   p.MaxHoldSeconds,
		SignalConfidence: p.SignalConfidence,
		SignalReason:     p.SignalReason,
		Status:           positionOpen,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "position_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"take_profit_price", "stop_loss_price", "trailing_distance",
			"max_hold_seconds", "status", "updated_at",
		}),
	}).Create(&row).Error
}

// SaveTrade records a closed trade and flips its position row to closed.
func (s *Store) SaveTrade(t types.Trade) error {
	row := TradeRow{
		TradeID:          t.ID,
		Symbol:           t.Symbol,
		Side:             t.Side,
		Quantity:         t.Quantity,
		EntryPrice:       t.EntryPrice,
		EntryTime:        t.EntryTime,
		ExitPrice:        t.ExitPrice,
		ExitTime:         t.ExitTime,
		ExitReason:       t.ExitReason,
		Leverage:         t.Leverage,
		Margin:           t.Margin,
		Commission:       t.Commission,
		RealizedPnL:      t.RealizedPnL,
		RealizedPnLPct:   t.RealizedPnLPct,
		ROI:              t.ROI,
		SignalConfidence: t.SignalConfidence,
		SignalReason:     t.SignalReason,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_id"}},
		DoNothing: true,
	}).Create(&row).Error
	if err != nil {
		return err
	}
	return s.markPositionClosed(t.ID)
}

func (s *Store) markPositionClosed(positionID string) error {
	return s.db.Model(&PositionRow{}).
		Where("position_id = ?", positionID).
		Update("status", positionClosed).Error
}

// OpenPositions returns position rows still marked open ("" for all symbols).
func (s *Store) OpenPositions(symbol string) ([]PositionRow, error) {
	q := s.db.Where("status = ?", positionOpen)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var rows []PositionRow
	err := q.Order("entry_time DESC").Find(&rows).Error
	return rows, err
}

// Trades returns closed trades, newest exit first.
func (s *Store) Trades(symbol string, since time.Time, limit int) ([]types.Trade, error) {
	q := s.db.Model(&TradeRow{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if !since.IsZero() {
		q = q.Where("exit_time >= ?", since)
	}
	var rows []TradeRow
	if err := q.Order("exit_time DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	trades := make([]types.Trade, 0, len(rows))
	for _, row := range rows {
		trades = append(trades, types.Trade{
			ID:               row.TradeID,
			Symbol:           row.Symbol,
			Side:             row.Side,
			Quantity:         row.Quantity,
			EntryPrice:       row.EntryPrice,
			EntryTime:        row.EntryTime,
			ExitPrice:        row.ExitPrice,
			ExitTime:         row.ExitTime,
			ExitReason:       row.ExitReason,
			Leverage:         row.Leverage,
			Margin:           row.Margin,
			Commission:       row.Commission,
			RealizedPnL:      row.RealizedPnL,
			RealizedPnLPct:   row.RealizedPnLPct,
			ROI:              row.ROI,
			SignalConfidence: row.SignalConfidence,
			SignalReason:     row.SignalReason,
		})
	}
	return trades, nil
}

// TradeStats aggregates closed-trade performance.
type TradeStats struct {
	TotalTrades  int64
	WinTrades    int64
	LossTrades   int64
	WinRate      decimal.Decimal
	TotalPnL     decimal.Decimal
	AvgWin       decimal.Decimal
	AvgLoss      decimal.Decimal
	MaxWin       decimal.Decimal
	MaxLoss      decimal.Decimal
	ProfitFactor decimal.Decimal
}

// TradeStatistics computes aggregate stats over closed trades ("" for all
// symbols, zero since for all time).
func (s *Store) TradeStatistics(symbol string, since time.Time) (TradeStats, error) {
	var stats TradeStats

	q := s.db.Model(&TradeRow{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if !since.IsZero() {
		q = q.Where("exit_time >= ?", since)
	}

	var rows []TradeRow
	if err := q.Find(&rows).Error; err != nil {
		return stats, err
	}
	if len(rows) == 0 {
		return stats, nil
	}

	var winSum, lossSum decimal.Decimal
	for _, row := range rows {
		stats.TotalTrades++
		stats.TotalPnL = stats.TotalPnL.Add(row.RealizedPnL)
		if row.RealizedPnL.IsPositive() {
			stats.WinTrades++
			winSum = winSum.Add(row.RealizedPnL)
			if row.RealizedPnL.GreaterThan(stats.MaxWin) {
				stats.MaxWin = row.RealizedPnL
			}
		} else {
			stats.LossTrades++
			lossSum = lossSum.Add(row.RealizedPnL)
			if row.RealizedPnL.LessThan(stats.MaxLoss) {
				stats.MaxLoss = row.RealizedPnL
			}
		}
	}

	total := decimal.NewFromInt(stats.TotalTrades)
	stats.WinRate = decimal.NewFromInt(stats.WinTrades).Div(total)
	if stats.WinTrades > 0 {
		stats.AvgWin = winSum.Div(decimal.NewFromInt(stats.WinTrades))
	}
	if stats.LossTrades > 0 {
		stats.AvgLoss = lossSum.Div(decimal.NewFromInt(stats.LossTrades)).Abs()
	}
	if stats.AvgLoss.IsPositive() {
		stats.ProfitFactor = stats.AvgWin.Div(stats.AvgLoss)
	}
	return stats, nil
}

// Account state

// SaveAccountState upserts one snapshot keyed by timestamp.
func (s *Store) SaveAccountState(state types.AccountState) error {
	row := AccountStateRow{
		Timestamp:       state.Timestamp,
		Balance:         state.Balance,
		Equity:          state.Equity,
		MarginUsed:      state.MarginUsed,
		MarginAvailable: state.MarginAvailable,
		MarginRatio:     state.MarginRatio,
		OpenPositions:   state.OpenPositions,
		TotalTrades:     state.TotalTrades,
		WinTrades:       state.WinTrades,
		TotalPnL:        state.TotalPnL,
		MaxDrawdown:     state.MaxDrawdown,
		WinRate:         state.WinRate,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"balance", "equity", "margin_used", "margin_available", "margin_ratio",
			"open_positions", "total_trades", "win_trades", "total_pnl",
			"max_drawdown", "win_rate",
		}),
	}).Create(&row).Error
}

// LatestAccountState returns the most recent snapshot, or nil when none exist.
func (s *Store) LatestAccountState() (*types.AccountState, error) {
	var row AccountStateRow
	err := s.db.Order("timestamp DESC").First(&row).Error
	if err != nil {
		return nil, err
	}
	return &types.AccountState{
		Timestamp:       row.Timestamp,
		Balance:         row.Balance,
		Equity:          row.Equity,
		MarginUsed:      row.MarginUsed,
		MarginAvailable: row.MarginAvailable,
		MarginRatio:     row.MarginRatio,
		OpenPositions:   row.OpenPositions,
		TotalTrades:     row.TotalTrades,
		WinTrades:       row.WinTrades,
		TotalPnL:        row.TotalPnL,
		MaxDrawdown:     row.MaxDrawdown,
		WinRate:         row.WinRate,
	}, nil
}

// Equity curve

// SaveEquityPoint upserts one equity sample for a symbol ("ALL" for the
// account aggregate).
func (s *Store) SaveEquityPoint(symbol string, ts time.Time, equity, balance, drawdown decimal.Decimal) error {
	row := EquityPointRow{
		Symbol:    symbol,
		Timestamp: ts,
		Equity:    equity,
		Balance:   balance,
		Drawdown:  drawdown,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"equity", "balance", "drawdown"}),
	}).Create(&row).Error
}

// EquityCurve returns samples for a symbol, oldest first.
func (s *Store) EquityCurve(symbol string, since time.Time, limit int) ([]EquityPointRow, error) {
	q := s.db.Model(&EquityPointRow{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	var rows []EquityPointRow
	err := q.Order("timestamp ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

// CleanupTradingData removes account states and equity points older than
// maxAge. Trades are kept as the permanent record.
func (s *Store) CleanupTradingData(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge)
	if err := s.db.Where("timestamp < ?", cutoff).Delete(&AccountStateRow{}).Error; err != nil {
		return err
	}
	if err := s.db.Where("timestamp < ?", cutoff).Delete(&EquityPointRow{}).Error; err != nil {
		return err
	}
	log.Debug().Msg("🧹 Trading history trimmed")
	return nil
}
