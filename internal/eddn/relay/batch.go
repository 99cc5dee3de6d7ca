package relay

import (
	"eddnlistener/internal/eddn/queue"
	"eddnlistener/pkg/eddn"
)

// batch collects at most one market update per (system, station) key
// within one window. An incoming update replaces the held one unless the
// held one is strictly newer; equal timestamps replace (last seen wins).
type batch struct {
	entries map[string]*eddn.MarketUpdate
}

func newBatch() *batch {
	return &batch{entries: make(map[string]*eddn.MarketUpdate)}
}

// add merges one update and reports whether it was kept. Canonical
// timestamps compare correctly as strings.
func (b *batch) add(u *eddn.MarketUpdate) bool {
	if held, ok := b.entries[u.Key()]; ok && held.Timestamp > u.Timestamp {
		return false
	}
	b.entries[u.Key()] = u
	return true
}

func (b *batch) len() int { return len(b.entries) }

// flush hands the deduplicated updates to the queue and resets the
// batch. Emission order across keys is map order, i.e. unspecified.
func (b *batch) flush(q *queue.Queue[*eddn.MarketUpdate]) int {
	n := len(b.entries)
	for key, u := range b.entries {
		q.Push(u)
		delete(b.entries, key)
	}
	return n
}
