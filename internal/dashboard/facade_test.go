package dashboard

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfeed/perpwatch/internal/market"
	"github.com/quantfeed/perpwatch/internal/storage"
	"github.com/quantfeed/perpwatch/types"
)

func testFacade(t *testing.T) (*Facade, *storage.Store) {
	t.Helper()
	store, err := storage.New(filepath.Join(t.TempDir(), "data", "dash.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tracker := market.NewTracker(market.DefaultConfig())
	return New(store, nil, tracker, nil, nil), store
}

func TestSystemStatusWithPartialComponents(t *testing.T) {
	f, _ := testFacade(t)

	s := f.SystemStatus()
	if s.Uptime < 0 {
		t.Errorf("uptime: %v", s.Uptime)
	}
	if s.TradingRunning {
		t.Error("no trading engine, should report not running")
	}
	if s.TableCounts == nil {
		t.Error("table counts should come from the store")
	}
	if s.TableCounts["trades"] != 0 {
		t.Errorf("fresh store should have zero trades: %v", s.TableCounts)
	}
}

func TestAccountSnapshotWithoutTrading(t *testing.T) {
	f, _ := testFacade(t)

	state := f.AccountSnapshot()
	if state.Timestamp.IsZero() {
		t.Error("snapshot should be timestamped even without an engine")
	}
	if !state.Balance.IsZero() {
		t.Errorf("balance: %v", state.Balance)
	}
	if f.OpenPositions() != nil {
		t.Error("no engine, no positions")
	}
}

func TestRecentTradesReadFromStore(t *testing.T) {
	f, store := testFacade(t)

	now := time.Now()
	trade := types.Trade{
		ID:           "t-1",
		Symbol:       "BTCUSDT",
		Side:         types.SideLong,
		Quantity:     decimal.NewFromFloat(0.5),
		EntryPrice:   decimal.NewFromInt(50000),
		ExitPrice:    decimal.NewFromInt(50500),
		EntryTime:    now.Add(-time.Minute),
		ExitTime:     now,
		Leverage:     15,
		Margin:       decimal.NewFromInt(100),
		RealizedPnL:  decimal.NewFromInt(250),
		ExitReason:   types.ExitTakeProfit,
		SignalReason: "momentum",
	}
	if err := store.SaveTrade(trade); err != nil {
		t.Fatalf("SaveTrade: %v", err)
	}

	trades := f.RecentTrades(10)
	if len(trades) != 1 || trades[0].Symbol != "BTCUSDT" {
		t.Fatalf("trades: %+v", trades)
	}

	stats, err := f.TradeStatistics()
	if err != nil {
		t.Fatalf("TradeStatistics: %v", err)
	}
	if stats.TotalTrades != 1 || stats.WinTrades != 1 {
		t.Errorf("stats: %+v", stats)
	}
}
