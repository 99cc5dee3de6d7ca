package relay

import (
	"testing"

	"eddnlistener/internal/eddn/queue"
	"eddnlistener/pkg/eddn"
)

func update(system, station, ts string) *eddn.MarketUpdate {
	return &eddn.MarketUpdate{System: system, Station: station, Timestamp: ts}
}

func TestBatchKeepsFreshest(t *testing.T) {
	older := update("SOL", "ABRAHAM LINCOLN", "2021-01-01 00:00:00")
	newer := update("SOL", "ABRAHAM LINCOLN", "2021-01-01 00:00:05")

	// Arrival order must not matter.
	b := newBatch()
	b.add(older)
	b.add(newer)
	if b.entries[newer.Key()].Timestamp != newer.Timestamp {
		t.Error("newer update should replace older (in-order arrival)")
	}

	b = newBatch()
	b.add(newer)
	if b.add(older) {
		t.Error("older update should be rejected")
	}
	if b.entries[newer.Key()].Timestamp != newer.Timestamp {
		t.Error("older update must not replace newer (reversed arrival)")
	}
}

func TestBatchEqualTimestampLastSeenWins(t *testing.T) {
	first := update("SOL", "DAEDALUS", "2021-01-01 00:00:00")
	first.Uploader = "first"
	second := update("SOL", "DAEDALUS", "2021-01-01 00:00:00")
	second.Uploader = "second"

	b := newBatch()
	b.add(first)
	if !b.add(second) {
		t.Fatal("equal timestamp must replace")
	}
	if b.entries[second.Key()].Uploader != "second" {
		t.Error("last-seen update should win a timestamp tie")
	}
}

func TestBatchOneEntryPerKey(t *testing.T) {
	b := newBatch()
	b.add(update("SOL", "ABRAHAM LINCOLN", "2021-01-01 00:00:00"))
	b.add(update("SOL", "DAEDALUS", "2021-01-01 00:00:00"))
	b.add(update("ACHENAR", "DAEDALUS", "2021-01-01 00:00:00"))
	b.add(update("SOL", "ABRAHAM LINCOLN", "2021-01-01 00:00:09"))

	if b.len() != 3 {
		t.Fatalf("batch holds %d entries, want 3 distinct keys", b.len())
	}
}

func TestBatchFlushEmptiesAndCounts(t *testing.T) {
	q := queue.New[*eddn.MarketUpdate](4)
	b := newBatch()
	b.add(update("SOL", "ABRAHAM LINCOLN", "2021-01-01 00:00:00"))
	b.add(update("SOL", "DAEDALUS", "2021-01-01 00:00:00"))

	if n := b.flush(q); n != 2 {
		t.Fatalf("flush reported %d, want 2", n)
	}
	if b.len() != 0 {
		t.Error("batch not reset after flush")
	}
	if q.Len() != 2 {
		t.Errorf("queue holds %d, want 2", q.Len())
	}
}
