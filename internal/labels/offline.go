package labels

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/quantfeed/perpwatch/types"
)

// TrainingStore is the persisted-feature view the offline pass reads and
// writes. Satisfied by the data store.
type TrainingStore interface {
	PriceStore
	UnlabeledFeatures(symbol string, minAge time.Duration, limit int) ([]types.FeatureVector, error)
	SaveLabels(labels []types.Label) error
}

// OfflineGenerator backfills labels for features already persisted without
// one. Used on startup to reconcile rows the live generator missed during
// downtime, and for training exports.
type OfflineGenerator struct {
	store              TrainingStore
	directionThreshold float64

	nowFunc func() time.Time
}

// NewOfflineGenerator wires an offline pass over the store.
func NewOfflineGenerator(store TrainingStore, directionThreshold float64) *OfflineGenerator {
	return &OfflineGenerator{
		store:              store,
		directionThreshold: directionThreshold,
		nowFunc:            time.Now,
	}
}

// Backfill labels up to batchSize unlabeled features for symbol ("" means
// all symbols). Returns the number of labels written.
func (o *OfflineGenerator) Backfill(symbol string, batchSize int) (int, error) {
	unlabeled, err := o.store.UnlabeledFeatures(symbol, MaxWindow, batchSize)
	if err != nil {
		return 0, err
	}
	if len(unlabeled) == 0 {
		return 0, nil
	}

	now := o.nowFunc()
	labels := make([]types.Label, 0, len(unlabeled))
	for i := range unlabeled {
		fv := &unlabeled[i]
		if fv.Price == 0 || fv.Symbol == "" {
			continue
		}
		if !now.After(fv.Timestamp.Add(MaxWindow)) {
			continue
		}

		label := types.Label{
			Symbol:           fv.Symbol,
			FeatureTimestamp: fv.Timestamp,
			GeneratedAt:      now,
		}

		found := false
		for name, window := range Windows {
			price, ok := o.store.PriceAt(fv.Symbol, fv.Timestamp.Add(window), priceTolerance)
			if !ok {
				continue
			}
			found = true
			ret := (price - fv.Price) / fv.Price * 100
			switch name {
			case "1m":
				label.Return1m = ret
			case "5m":
				label.Return5m = ret
			case "15m":
				label.Return15m = ret
			case "30m":
				label.Return30m = ret
			}
		}
		if !found {
			continue
		}

		label.Direction5m = direction(label.Return5m, o.directionThreshold)
		label.Direction15m = direction(label.Return15m, o.directionThreshold)
		label.MaxProfit5m, label.MaxDrawdown5m = storeExtremes(o.store, fv.Symbol, fv.Timestamp, fv.Price)
		labels = append(labels, label)
	}

	if len(labels) == 0 {
		return 0, nil
	}
	if err := o.store.SaveLabels(labels); err != nil {
		return 0, err
	}
	log.Info().Str("symbol", symbol).Int("labels", len(labels)).Msg("🏷️ Offline labels backfilled")
	return len(labels), nil
}

func storeExtremes(store PriceStore, symbol string, start time.Time, base float64) (float64, float64) {
	points := store.PricesInWindow(symbol, start, start.Add(Windows["5m"]))
	if len(points) == 0 || base == 0 {
		return 0, 0
	}

	high, low := points[0].Price, points[0].Price
	for _, p := range points[1:] {
		if p.Price > high {
			high = p.Price
		}
		if p.Price < low {
			low = p.Price
		}
	}
	profit := (high - base) / base * 100
	drawdown := (base - low) / base * 100
	if profit < 0 {
		profit = 0
	}
	if drawdown < 0 {
		drawdown = 0
	}
	return profit, drawdown
}
