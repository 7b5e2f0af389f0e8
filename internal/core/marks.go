package core

import (
	"sync"

	"github.com/quantfeed/perpwatch/types"
)

// alertMarks accumulates anomaly kinds per symbol between feature batches so
// vectors computed after an alert carry the trigger flags.
type alertMarks struct {
	mu    sync.Mutex
	kinds map[string][]types.AnomalyKind
}

func newAlertMarks() *alertMarks {
	return &alertMarks{kinds: make(map[string][]types.AnomalyKind)}
}

func (a *alertMarks) add(symbol string, kind types.AnomalyKind) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range a.kinds[symbol] {
		if k == kind {
			return
		}
	}
	a.kinds[symbol] = append(a.kinds[symbol], kind)
}

// drain returns the accumulated marks and resets the buffer.
func (a *alertMarks) drain() map[string][]types.AnomalyKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.kinds
	a.kinds = make(map[string][]types.AnomalyKind)
	return out
}
