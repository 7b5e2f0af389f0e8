package labels

import (
	"math"
	"testing"
	"time"

	"github.com/quantfeed/perpwatch/types"
)

type stubTrainingStore struct {
	stubStore
	unlabeled []types.FeatureVector
	saved     []types.Label
}

func (s *stubTrainingStore) UnlabeledFeatures(symbol string, minAge time.Duration, limit int) ([]types.FeatureVector, error) {
	return s.unlabeled, nil
}

func (s *stubTrainingStore) SaveLabels(labels []types.Label) error {
	s.saved = append(s.saved, labels...)
	return nil
}

func TestOfflineBackfill(t *testing.T) {
	base := time.Now().Add(-2 * time.Hour)
	store := &stubTrainingStore{
		stubStore: stubStore{
			prices: map[time.Time]float64{
				base.Add(time.Minute):      101,
				base.Add(5 * time.Minute):  103,
				base.Add(15 * time.Minute): 98,
				base.Add(30 * time.Minute): 105,
			},
			points: []types.PricePoint{
				{Price: 100, Timestamp: base},
				{Price: 99, Timestamp: base.Add(2 * time.Minute)},
				{Price: 103, Timestamp: base.Add(5 * time.Minute)},
			},
		},
		unlabeled: []types.FeatureVector{
			{Symbol: "AAAUSDT", Timestamp: base, Price: 100},
			{Symbol: "BBBUSDT", Timestamp: base, Price: 0}, // bad row, skipped
		},
	}

	o := NewOfflineGenerator(store, 0.1)
	n, err := o.Backfill("", 100)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if n != 1 || len(store.saved) != 1 {
		t.Fatalf("backfilled %d labels, want 1", n)
	}

	l := store.saved[0]
	if math.Abs(l.Return5m-3) > 1e-9 || math.Abs(l.Return15m+2) > 1e-9 {
		t.Fatalf("returns = %.2f / %.2f, want 3 / -2", l.Return5m, l.Return15m)
	}
	if l.Direction5m != 1 || l.Direction15m != -1 {
		t.Fatalf("directions = %d / %d", l.Direction5m, l.Direction15m)
	}
	if math.Abs(l.MaxDrawdown5m-1) > 1e-9 {
		t.Fatalf("MaxDrawdown5m = %.4f, want 1 from the dip to 99", l.MaxDrawdown5m)
	}
}

func TestOfflineBackfillSkipsYoungFeatures(t *testing.T) {
	store := &stubTrainingStore{
		unlabeled: []types.FeatureVector{
			{Symbol: "AAAUSDT", Timestamp: time.Now().Add(-10 * time.Minute), Price: 100},
		},
	}
	o := NewOfflineGenerator(store, 0.1)
	n, err := o.Backfill("AAAUSDT", 100)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if n != 0 {
		t.Fatalf("young feature must not be labelled, got %d", n)
	}
}
