package dashboard

import (
	"time"

	"github.com/quantfeed/perpwatch/internal/labels"
	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/paper"
	"github.com/quantfeed/perpwatch/internal/risk"
	"github.com/quantfeed/perpwatch/internal/storage"
	"github.com/quantfeed/perpwatch/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DASHBOARD - Read-only query facade over the running pipeline
// ═══════════════════════════════════════════════════════════════════════════════

// Facade aggregates live component state and stored history for the status
// surfaces (telegram commands, startup report). It never mutates anything.
type Facade struct {
	store     *storage.Store
	trading   *paper.Engine
	tracker   *market.Tracker
	riskF     *risk.Filter
	labeler   *labels.Generator
	startedAt time.Time
}

func New(store *storage.Store, trading *paper.Engine, tracker *market.Tracker,
	riskF *risk.Filter, labeler *labels.Generator) *Facade {
	return &Facade{
		store:     store,
		trading:   trading,
		tracker:   tracker,
		riskF:     riskF,
		labeler:   labeler,
		startedAt: time.Now(),
	}
}

// Status is the system health snapshot behind /status.
type Status struct {
	Uptime         time.Duration
	TrackedSymbols int
	PendingLabels  int
	LabelStats     labels.Stats
	RiskStats      risk.Stats
	TradingRunning bool
	TradingStats   paper.EngineStats
	TableCounts    map[string]int64
}

func (f *Facade) SystemStatus() Status {
	s := Status{
		Uptime: time.Since(f.startedAt),
	}
	if f.tracker != nil {
		s.TrackedSymbols = len(f.tracker.AllSymbols())
	}
	if f.labeler != nil {
		s.PendingLabels = f.labeler.PendingCount("")
		s.LabelStats = f.labeler.Stats()
	}
	if f.riskF != nil {
		s.RiskStats = f.riskF.Stats()
	}
	if f.trading != nil {
		s.TradingRunning = f.trading.Running()
		s.TradingStats = f.trading.Stats()
	}
	if f.store != nil {
		if counts, err := f.store.Stats(); err == nil {
			s.TableCounts = counts
		}
	}
	return s
}

// AccountSnapshot returns the live account state, or a zero snapshot when
// paper trading is disabled.
func (f *Facade) AccountSnapshot() types.AccountState {
	if f.trading == nil {
		return types.AccountState{Timestamp: time.Now()}
	}
	return f.trading.Account().State(time.Now())
}

func (f *Facade) OpenPositions() []*types.Position {
	if f.trading == nil {
		return nil
	}
	return f.trading.Positions("")
}

// RecentTrades reads from storage so closed trades survive restarts.
func (f *Facade) RecentTrades(limit int) []types.Trade {
	if f.store == nil {
		return nil
	}
	trades, err := f.store.Trades("", time.Time{}, limit)
	if err != nil {
		return nil
	}
	return trades
}

func (f *Facade) TradeStatistics() (storage.TradeStats, error) {
	return f.store.TradeStatistics("", time.Time{})
}

func (f *Facade) EquityCurve(symbol string, since time.Time, limit int) ([]storage.EquityPointRow, error) {
	return f.store.EquityCurve(symbol, since, limit)
}

func (f *Facade) FeatureStatistics(since time.Time) (storage.FeatureStats, error) {
	return f.store.FeatureStatistics(since)
}

func (f *Facade) LabelStatistics(since time.Time) (storage.LabelStats, error) {
	return f.store.LabelStatistics(since)
}

func (f *Facade) Alerts(since time.Time, limit int) ([]storage.AlertRow, error) {
	return f.store.Alerts(since, limit)
}

func (f *Facade) FilteredAlerts(since time.Time, limit int) ([]storage.AlertRow, error) {
	return f.store.FilteredAlerts("", since, limit)
}
