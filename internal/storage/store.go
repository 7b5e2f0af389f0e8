package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORAGE - Feature, label, price and trading persistence
// ═══════════════════════════════════════════════════════════════════════════════

type Store struct {
	db *gorm.DB
}

// New opens the store. A postgres:// or postgresql:// DSN connects to
// PostgreSQL; anything else is treated as a SQLite file path.
func New(dsn string) (*Store, error) {
	var db *gorm.DB
	var err error

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("💾 Store connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("💾 Store initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&FeatureRow{}, &LabelRow{}, &PriceSnapshotRow{}, &AlertRow{},
		&PositionRow{}, &TradeRow{}, &AccountStateRow{}, &EquityPointRow{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Feature operations

func (s *Store) SaveFeature(fv types.FeatureVector) error {
	payload, err := json.Marshal(fv)
	if err != nil {
		return err
	}
	row := FeatureRow{
		Symbol:      fv.Symbol,
		Timestamp:   fv.Timestamp,
		Price:       fv.Price,
		FeatureJSON: string(payload),
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "feature_json"}),
	}).Create(&row).Error
}

func (s *Store) SaveFeatureBatch(features []types.FeatureVector) error {
	if len(features) == 0 {
		return nil
	}
	rows := make([]FeatureRow, 0, len(features))
	for _, fv := range features {
		payload, err := json.Marshal(fv)
		if err != nil {
			return err
		}
		rows = append(rows, FeatureRow{
			Symbol:      fv.Symbol,
			Timestamp:   fv.Timestamp,
			Price:       fv.Price,
			FeatureJSON: string(payload),
		})
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "feature_json"}),
	}).CreateInBatches(rows, 200).Error
	if err == nil {
		log.Debug().Int("count", len(rows)).Msg("💾 Feature batch saved")
	}
	return err
}

// Features returns stored vectors for a symbol ("" for all), newest first.
func (s *Store) Features(symbol string, start, end time.Time, limit int) ([]types.FeatureVector, error) {
	q := s.db.Model(&FeatureRow{})
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if !start.IsZero() {
		q = q.Where("timestamp >= ?", start)
	}
	if !end.IsZero() {
		q = q.Where("timestamp <= ?", end)
	}
	var rows []FeatureRow
	if err := q.Order("timestamp DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeFeatures(rows)
}

// UnlabeledFeatures returns vectors older than minAge that have no label yet,
// oldest first so the backfill catches up chronologically.
func (s *Store) UnlabeledFeatures(symbol string, minAge time.Duration, limit int) ([]types.FeatureVector, error) {
	cutoff := time.Now().Add(-minAge)
	q := s.db.Table("features f").
		Select("f.*").
		Joins("LEFT JOIN labels l ON f.symbol = l.symbol AND f.timestamp = l.feature_timestamp").
		Where("l.id IS NULL").
		Where("f.timestamp <= ?", cutoff)
	if symbol != "" {
		q = q.Where("f.symbol = ?", symbol)
	}
	var rows []FeatureRow
	if err := q.Order("f.timestamp ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return decodeFeatures(rows)
}

func decodeFeatures(rows []FeatureRow) ([]types.FeatureVector, error) {
	out := make([]types.FeatureVector, 0, len(rows))
	for _, row := range rows {
		var fv types.FeatureVector
		if err := json.Unmarshal([]byte(row.FeatureJSON), &fv); err != nil {
			log.Warn().Str("symbol", row.Symbol).Err(err).Msg("💾 Skipping corrupt feature row")
			continue
		}
		out = append(out, fv)
	}
	return out, nil
}

// Label operations

func (s *Store) SaveLabels(labels []types.Label) error {
	if len(labels) == 0 {
		return nil
	}
	rows := make([]LabelRow, 0, len(labels))
	for _, l := range labels {
		rows = append(rows, LabelRow{
			Symbol:           l.Symbol,
			FeatureTimestamp: l.FeatureTimestamp,
			Return1m:         l.Return1m,
			Return5m:         l.Return5m,
			Return15m:        l.Return15m,
			Return30m:        l.Return30m,
			Direction5m:      l.Direction5m,
			Direction15m:     l.Direction15m,
			MaxProfit5m:      l.MaxProfit5m,
			MaxDrawdown5m:    l.MaxDrawdown5m,
			GeneratedAt:      l.GeneratedAt,
		})
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "feature_timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"return_1m", "return_5m", "return_15m", "return_30m",
			"direction_5m", "direction_15m", "max_profit_5m", "max_drawdown_5m",
			"generated_at",
		}),
	}).CreateInBatches(rows, 200).Error
}

// Price snapshot operations

func (s *Store) SavePriceSnapshot(t types.Ticker) error {
	row := PriceSnapshotRow{
		Symbol:      t.Symbol,
		Timestamp:   t.Timestamp,
		Price:       t.Price,
		Volume:      t.BaseVolume,
		QuoteVolume: t.QuoteVolume,
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "volume", "quote_volume"}),
	}).Create(&row).Error
}

func (s *Store) SavePriceSnapshots(tickers []types.Ticker) error {
	if len(tickers) == 0 {
		return nil
	}
	rows := make([]PriceSnapshotRow, 0, len(tickers))
	for _, t := range tickers {
		rows = append(rows, PriceSnapshotRow{
			Symbol:      t.Symbol,
			Timestamp:   t.Timestamp,
			Price:       t.Price,
			Volume:      t.BaseVolume,
			QuoteVolume: t.QuoteVolume,
		})
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}},
		DoUpdates: clause.AssignmentColumns([]string{"price", "volume", "quote_volume"}),
	}).CreateInBatches(rows, 500).Error
}

// PriceAt returns the closest stored price within tolerance of ts.
func (s *Store) PriceAt(symbol string, ts time.Time, tolerance time.Duration) (float64, bool) {
	var rows []PriceSnapshotRow
	err := s.db.Where("symbol = ? AND timestamp BETWEEN ? AND ?",
		symbol, ts.Add(-tolerance), ts.Add(tolerance)).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return 0, false
	}
	best := rows[0]
	bestDiff := math.Abs(float64(rows[0].Timestamp.Sub(ts)))
	for _, row := range rows[1:] {
		diff := math.Abs(float64(row.Timestamp.Sub(ts)))
		if diff < bestDiff {
			best, bestDiff = row, diff
		}
	}
	return best.Price, true
}

// PricesInWindow returns stored prices in [start, end], oldest first.
func (s *Store) PricesInWindow(symbol string, start, end time.Time) []types.PricePoint {
	var rows []PriceSnapshotRow
	err := s.db.Where("symbol = ? AND timestamp >= ? AND timestamp <= ?", symbol, start, end).
		Order("timestamp ASC").Find(&rows).Error
	if err != nil {
		return nil
	}
	points := make([]types.PricePoint, 0, len(rows))
	for _, row := range rows {
		points = append(points, types.PricePoint{
			Price:     row.Price,
			Volume:    row.Volume,
			Timestamp: row.Timestamp,
		})
	}
	return points
}

// Alert operations

// RecordAlert persists an emitted or filtered event. Failures are logged, not
// returned, so the hot path never blocks on storage.
func (s *Store) RecordAlert(ev types.AnomalyEvent, filtered bool, reason string) {
	extra := map[string]interface{}{}
	for k, v := range ev.Extras {
		extra[k] = v
	}
	for k, v := range ev.ExtraText {
		extra[k] = v
	}
	payload, _ := json.Marshal(extra)

	row := AlertRow{
		Symbol:        ev.Symbol,
		Timestamp:     ev.Timestamp,
		AlertType:     string(ev.Kind),
		TierLabel:     ev.Tier,
		ChangePercent: ev.ChangePct,
		Threshold:     ev.Threshold,
		WasFiltered:   filtered,
		FilterReason:  reason,
		ExtraJSON:     string(payload),
	}
	if err := s.db.Create(&row).Error; err != nil {
		log.Error().Str("symbol", ev.Symbol).Err(err).Msg("❌ Failed to record alert")
	}
}

// Alerts returns recent alert rows, newest first.
func (s *Store) Alerts(since time.Time, limit int) ([]AlertRow, error) {
	q := s.db.Model(&AlertRow{})
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	var rows []AlertRow
	err := q.Order("timestamp DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// FilteredAlerts returns alerts that were suppressed, newest first.
func (s *Store) FilteredAlerts(symbol string, since time.Time, limit int) ([]AlertRow, error) {
	q := s.db.Where("was_filtered = ?", true)
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	var rows []AlertRow
	err := q.Order("timestamp DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Training data export

// ExportTrainingCSV writes joined feature+label rows to path and returns the
// row count. Only labelled features are exported.
func (s *Store) ExportTrainingCSV(path, symbol string, start, end time.Time) (int, error) {
	q := s.db.Table("features f").
		Select("f.feature_json, l.return_1m, l.return_5m, l.return_15m, l.return_30m, l.direction_5m, l.direction_15m, l.max_profit_5m, l.max_drawdown_5m").
		Joins("INNER JOIN labels l ON f.symbol = l.symbol AND f.timestamp = l.feature_timestamp")
	if symbol != "" {
		q = q.Where("f.symbol = ?", symbol)
	}
	if !start.IsZero() {
		q = q.Where("f.timestamp >= ?", start)
	}
	if !end.IsZero() {
		q = q.Where("f.timestamp <= ?", end)
	}

	type joinedRow struct {
		FeatureJSON   string
		Return1m      float64 `gorm:"column:return_1m"`
		Return5m      float64 `gorm:"column:return_5m"`
		Return15m     float64 `gorm:"column:return_15m"`
		Return30m     float64 `gorm:"column:return_30m"`
		Direction5m   int     `gorm:"column:direction_5m"`
		Direction15m  int     `gorm:"column:direction_15m"`
		MaxProfit5m   float64 `gorm:"column:max_profit_5m"`
		MaxDrawdown5m float64 `gorm:"column:max_drawdown_5m"`
	}
	var rows []joinedRow
	if err := q.Order("f.timestamp ASC").Find(&rows).Error; err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append(trainingFeatureColumns(),
		"return_1m", "return_5m", "return_15m", "return_30m",
		"direction_5m", "direction_15m", "max_profit_5m", "max_drawdown_5m")
	if err := w.Write(header); err != nil {
		return 0, err
	}

	count := 0
	for _, row := range rows {
		var fv types.FeatureVector
		if err := json.Unmarshal([]byte(row.FeatureJSON), &fv); err != nil {
			continue
		}
		record := trainingFeatureValues(fv)
		record = append(record,
			formatFloat(row.Return1m), formatFloat(row.Return5m),
			formatFloat(row.Return15m), formatFloat(row.Return30m),
			strconv.Itoa(row.Direction5m), strconv.Itoa(row.Direction15m),
			formatFloat(row.MaxProfit5m), formatFloat(row.MaxDrawdown5m))
		if err := w.Write(record); err != nil {
			return count, err
		}
		count++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return count, err
	}

	log.Info().Int("rows", count).Str("path", path).Msg("💾 Training data exported")
	return count, nil
}

func trainingFeatureColumns() []string {
	return []string{
		"symbol", "timestamp", "price",
		"price_change_1m", "price_change_5m", "price_change_15m",
		"volatility_1m", "volatility_5m",
		"volume_ratio_1m", "volume_ratio_5m", "quote_volume",
		"oi_change_5m", "oi_change_15m", "spot_futures_spread",
		"imbalance_5", "imbalance_10", "imbalance_20", "spread_bps",
		"ma_5", "ma_20", "ma_60", "rsi_14", "macd_histogram",
		"reversal_rise_pct", "reversal_fall_pct",
		"tier", "alert_triggered",
	}
}

func trainingFeatureValues(fv types.FeatureVector) []string {
	alert := "0"
	if fv.AlertTriggered {
		alert = "1"
	}
	return []string{
		fv.Symbol, fv.Timestamp.UTC().Format(time.RFC3339), formatFloat(fv.Price),
		formatFloat(fv.PriceChange1m), formatFloat(fv.PriceChange5m), formatFloat(fv.PriceChange15m),
		formatFloat(fv.Volatility1m), formatFloat(fv.Volatility5m),
		formatFloat(fv.VolumeRatio1m), formatFloat(fv.VolumeRatio5m), formatFloat(fv.QuoteVolume),
		formatFloat(fv.OIChange5m), formatFloat(fv.OIChange15m), formatFloat(fv.SpotFuturesSpread),
		formatFloat(fv.ImbalanceRatio5), formatFloat(fv.ImbalanceRatio10), formatFloat(fv.ImbalanceRatio20),
		formatFloat(fv.SpreadBps),
		formatFloat(fv.MA5), formatFloat(fv.MA20), formatFloat(fv.MA60),
		formatFloat(fv.RSI14), formatFloat(fv.MACDHistogram),
		formatFloat(fv.ReversalRisePct), formatFloat(fv.ReversalFallPct),
		fv.TierLabel, alert,
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Statistics

// FeatureStats summarizes the features table.
type FeatureStats struct {
	TotalCount  int64
	SymbolCount int64
	OldestTs    time.Time
	NewestTs    time.Time
}

func (s *Store) FeatureStatistics(since time.Time) (FeatureStats, error) {
	var stats FeatureStats
	q := s.db.Model(&FeatureRow{})
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	if err := q.Count(&stats.TotalCount).Error; err != nil {
		return stats, err
	}
	q = s.db.Model(&FeatureRow{})
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since)
	}
	if err := q.Distinct("symbol").Count(&stats.SymbolCount).Error; err != nil {
		return stats, err
	}
	if stats.TotalCount > 0 {
		var bounds struct {
			MinTs time.Time
			MaxTs time.Time
		}
		q = s.db.Model(&FeatureRow{})
		if !since.IsZero() {
			q = q.Where("timestamp >= ?", since)
		}
		if err := q.Select("MIN(timestamp) as min_ts, MAX(timestamp) as max_ts").Scan(&bounds).Error; err != nil {
			return stats, err
		}
		stats.OldestTs, stats.NewestTs = bounds.MinTs, bounds.MaxTs
	}
	return stats, nil
}

// LabelStats summarizes the labels table with the 5m direction distribution.
type LabelStats struct {
	TotalCount int64
	UpCount    int64
	FlatCount  int64
	DownCount  int64
}

func (s *Store) LabelStatistics(since time.Time) (LabelStats, error) {
	var stats LabelStats
	q := s.db.Model(&LabelRow{})
	if !since.IsZero() {
		q = q.Where("feature_timestamp >= ?", since)
	}
	if err := q.Count(&stats.TotalCount).Error; err != nil {
		return stats, err
	}
	if stats.TotalCount == 0 {
		return stats, nil
	}

	type dirCount struct {
		Direction5m int
		Cnt         int64
	}
	var counts []dirCount
	q = s.db.Model(&LabelRow{})
	if !since.IsZero() {
		q = q.Where("feature_timestamp >= ?", since)
	}
	if err := q.Select("direction_5m, count(*) as cnt").Group("direction_5m").Scan(&counts).Error; err != nil {
		return stats, err
	}
	for _, c := range counts {
		switch c.Direction5m {
		case 1:
			stats.UpCount = c.Cnt
		case -1:
			stats.DownCount = c.Cnt
		default:
			stats.FlatCount = c.Cnt
		}
	}
	return stats, nil
}

// Maintenance

// CleanupResult reports how many rows each table lost.
type CleanupResult struct {
	Features  int64
	Labels    int64
	Snapshots int64
	Alerts    int64
}

// CleanupOldData removes features, labels, price snapshots and alerts older
// than maxAge.
func (s *Store) CleanupOldData(maxAge time.Duration) (CleanupResult, error) {
	cutoff := time.Now().Add(-maxAge)
	var result CleanupResult

	res := s.db.Where("timestamp < ?", cutoff).Delete(&FeatureRow{})
	if res.Error != nil {
		return result, res.Error
	}
	result.Features = res.RowsAffected

	res = s.db.Where("feature_timestamp < ?", cutoff).Delete(&LabelRow{})
	if res.Error != nil {
		return result, res.Error
	}
	result.Labels = res.RowsAffected

	res = s.db.Where("timestamp < ?", cutoff).Delete(&PriceSnapshotRow{})
	if res.Error != nil {
		return result, res.Error
	}
	result.Snapshots = res.RowsAffected

	res = s.db.Where("timestamp < ?", cutoff).Delete(&AlertRow{})
	if res.Error != nil {
		return result, res.Error
	}
	result.Alerts = res.RowsAffected

	log.Info().
		Int64("features", result.Features).
		Int64("labels", result.Labels).
		Int64("snapshots", result.Snapshots).
		Int64("alerts", result.Alerts).
		Msg("🧹 Old data cleaned up")
	return result, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Stats returns row counts across all tables for the status surface.
func (s *Store) Stats() (map[string]int64, error) {
	stats := make(map[string]int64)
	for name, model := range map[string]interface{}{
		"features":        &FeatureRow{},
		"labels":          &LabelRow{},
		"price_snapshots": &PriceSnapshotRow{},
		"alerts":          &AlertRow{},
		"positions":       &PositionRow{},
		"trades":          &TradeRow{},
	} {
		var count int64
		if err := s.db.Model(model).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count %s: %w", name, err)
		}
		stats[name] = count
	}
	return stats, nil
}
