// Package coord implements the cooperative mutual-exclusion protocol
// shared by the market-update applier, the snapshot update checker and
// the live-listing exporter. No locks guard the store; instead each
// worker publishes intent through a busy flag and waits on the others'
// acknowledgements:
//
//   - the checker raises checkerBusy and waits until the applier's and
//     the exporter's acks are observed true together;
//   - the applier acks whenever checkerBusy or exporterBusy is raised
//     and suspends draining until both clear;
//   - the exporter acks checkerBusy only, and before exporting raises
//     exporterBusy and waits on the applier's ack alone (the checker
//     already waits on the exporter's ack separately).
//
// Each flag is written by exactly one owning worker. All waits abandon
// on shutdown so no worker blocks forever.
package coord

import (
	"sync"
	"sync/atomic"
	"time"
)

// pollInterval bounds how long a worker waits between re-reading the
// flags it depends on. Keeps shutdown and hand-off latency sub-second.
const pollInterval = 250 * time.Millisecond

// Signal is the shared coordination state.
type Signal struct {
	running      atomic.Bool
	checkerBusy  atomic.Bool // owned by the snapshot update checker
	exporterBusy atomic.Bool // owned by the live-listing exporter
	applierAck   atomic.Bool // owned by the market-update applier
	exporterAck  atomic.Bool // owned by the live-listing exporter

	done chan struct{}
	once sync.Once
}

func New() *Signal {
	s := &Signal{done: make(chan struct{})}
	s.running.Store(true)
	return s
}

// Shutdown flips the shared running flag. It transitions exactly once;
// further calls are no-ops.
func (s *Signal) Shutdown() {
	s.once.Do(func() {
		s.running.Store(false)
		close(s.done)
	})
}

// Running reports whether shutdown has not been requested yet.
func (s *Signal) Running() bool { return s.running.Load() }

// Done returns a channel closed on shutdown, for select-based waits.
func (s *Signal) Done() <-chan struct{} { return s.done }

func (s *Signal) SetCheckerBusy(v bool)  { s.checkerBusy.Store(v) }
func (s *Signal) CheckerBusy() bool      { return s.checkerBusy.Load() }
func (s *Signal) SetExporterBusy(v bool) { s.exporterBusy.Store(v) }
func (s *Signal) ExporterBusy() bool     { return s.exporterBusy.Load() }
func (s *Signal) SetApplierAck(v bool)   { s.applierAck.Store(v) }
func (s *Signal) ApplierAck() bool       { return s.applierAck.Load() }
func (s *Signal) SetExporterAck(v bool)  { s.exporterAck.Store(v) }
func (s *Signal) ExporterAck() bool      { return s.exporterAck.Load() }

// Sleep waits for d or until shutdown, whichever comes first, and
// reports whether the process is still running.
func (s *Signal) Sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-s.done:
		return false
	case <-t.C:
		return true
	}
}

// WaitUntil polls pred until it is observed true in a single evaluation,
// or until shutdown. Returns true when pred was satisfied, false when
// the wait was abandoned because of shutdown.
func (s *Signal) WaitUntil(pred func() bool) bool {
	for {
		if !s.Running() {
			return false
		}
		if pred() {
			return true
		}
		if !s.Sleep(pollInterval) {
			return false
		}
	}
}
