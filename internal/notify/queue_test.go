package notify

import (
	"fmt"
	"testing"
	"time"

	"github.com/quantfeed/perpwatch/types"
)

func event(symbol string) types.AnomalyEvent {
	return types.AnomalyEvent{
		Symbol:    symbol,
		Kind:      types.KindPriceChange,
		Timestamp: time.Now(),
	}
}

func TestQueuePreservesArrivalOrder(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 3; i++ {
		q.Publish(event(fmt.Sprintf("SYM%d", i)))
	}

	got := q.Drain(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	for i, ev := range got {
		want := fmt.Sprintf("SYM%d", i)
		if ev.Symbol != want {
			t.Errorf("position %d: got %s, want %s", i, ev.Symbol, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue not empty after drain: %d", q.Len())
	}
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	q := NewQueue(3)
	for i := 0; i < 5; i++ {
		q.Publish(event(fmt.Sprintf("SYM%d", i)))
	}

	if q.Dropped() != 2 {
		t.Errorf("expected 2 drops, got %d", q.Dropped())
	}
	got := q.Drain(0)
	if len(got) != 3 {
		t.Fatalf("expected 3 surviving events, got %d", len(got))
	}
	if got[0].Symbol != "SYM2" || got[2].Symbol != "SYM4" {
		t.Errorf("wrong survivors: %s..%s", got[0].Symbol, got[2].Symbol)
	}
}

func TestQueueDrainLimit(t *testing.T) {
	q := NewQueue(10)
	for i := 0; i < 5; i++ {
		q.Publish(event(fmt.Sprintf("SYM%d", i)))
	}

	first := q.Drain(2)
	if len(first) != 2 || first[0].Symbol != "SYM0" {
		t.Fatalf("partial drain wrong: %v", first)
	}
	rest := q.Drain(0)
	if len(rest) != 3 || rest[0].Symbol != "SYM2" {
		t.Fatalf("remainder wrong: %v", rest)
	}
}

func TestQueueWakeSignal(t *testing.T) {
	q := NewQueue(10)

	select {
	case <-q.Wake():
		t.Fatal("wake fired before publish")
	default:
	}

	q.Publish(event("BTCUSDT"))
	select {
	case <-q.Wake():
	case <-time.After(time.Second):
		t.Fatal("wake did not fire after publish")
	}
}

func TestQueuePublishNeverBlocks(t *testing.T) {
	q := NewQueue(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			q.Publish(event("BTCUSDT"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with no consumer")
	}
	if q.Dropped() != 999 {
		t.Errorf("expected 999 drops, got %d", q.Dropped())
	}
}

func TestQueueDrainEmpty(t *testing.T) {
	q := NewQueue(4)
	if got := q.Drain(0); got != nil {
		t.Errorf("expected nil from empty drain, got %v", got)
	}
}
