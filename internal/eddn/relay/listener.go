// Package relay maintains the live subscription to the EDDN firehose and
// turns its compressed frames into deduplicated batches of market updates.
package relay

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"eddnlistener/config"
	"eddnlistener/internal/eddn/coord"
	"eddnlistener/internal/eddn/queue"
	"eddnlistener/pkg/eddn"

	"go.uber.org/zap"
)

// burstGrace is how much longer a cycle sticks around after a full
// burst, so a burst in progress isn't truncated mid-flight.
const burstGrace = 500 * time.Millisecond

// redialBackoff is the pause between reconnect attempts when the relay
// refuses the dial. Variable so tests can shrink it.
var redialBackoff = 5 * time.Second

// Listener captures messages from the firehose across a window of
// between MinBatchTime and MaxBatchTime and emits them as deduplicated
// batches rather than individual updates.
type Listener struct {
	cfg  config.RelayConfig
	wl   eddn.Whitelist
	dial Dialer
	out  *queue.Queue[*eddn.MarketUpdate]
	sig  *coord.Signal
	log  *zap.Logger

	conn     Conn
	frames   chan []byte
	readErr  chan error
	lastRecv int64 // unix nanos of the last received frame; pump writes, cycle reads
}

func New(cfg config.RelayConfig, wl eddn.Whitelist, out *queue.Queue[*eddn.MarketUpdate], sig *coord.Signal, log *zap.Logger) *Listener {
	return &Listener{
		cfg:  cfg,
		wl:   wl,
		dial: Dial,
		out:  out,
		sig:  sig,
		log:  log,
	}
}

// Run subscribes and loops batch cycles until shutdown. It returns a
// non-nil error only for fatal transport failures; liveness timeouts are
// handled internally by reconnecting.
func (l *Listener) Run() error {
	if err := l.connect(); err != nil {
		return err
	}
	defer func() {
		if l.conn != nil {
			l.conn.Close()
		}
	}()

	for l.sig.Running() {
		b := newBatch()
		if err := l.collect(b); err != nil {
			return err
		}
		if n := b.flush(l.out); n > 0 {
			l.log.Debug("batch flushed",
				zap.Int("updates", n),
				zap.Int("queued", l.out.Len()),
			)
		}
	}

	l.log.Info("shutting down listener")
	return nil
}

// connect tears down any existing subscription and establishes a new
// one, with a fresh read pump feeding the frame channel.
func (l *Listener) connect() error {
	if l.conn != nil {
		l.conn.Close()
		// Unblock the dying pump; it closes the channel when done.
		go func(ch <-chan []byte) {
			for range ch {
			}
		}(l.frames)
	}

	conn, err := l.dial(l.cfg.URL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	l.conn = conn
	l.frames = make(chan []byte, l.cfg.BurstLimit)
	l.readErr = make(chan error, 1)
	storeTime(&l.lastRecv, time.Now())

	go l.readPump(conn, l.frames, l.readErr)
	return nil
}

// reconnect re-establishes a subscription that has gone silent, retrying
// a refused dial with a fixed backoff. A silent relay is exactly when a
// dial is most likely to fail, so a failure here is never fatal; only
// shutdown ends the retries. Reports whether a connection was made.
func (l *Listener) reconnect() bool {
	for l.sig.Running() {
		err := l.connect()
		if err == nil {
			return true
		}
		l.log.Warn("reconnect failed, retrying",
			zap.Duration("backoff", redialBackoff), zap.Error(err))
		if !l.sig.Sleep(redialBackoff) {
			return false
		}
	}
	return false
}

// readPump owns one connection for its lifetime, moving raw frames onto
// the channel until the connection dies.
func (l *Listener) readPump(conn Conn, frames chan<- []byte, readErr chan<- error) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			close(frames)
			return
		}
		storeTime(&l.lastRecv, time.Now())
		frames <- msg
	}
}

// collect runs one batching cycle: wait for data up to the soft/hard
// cutoffs, then greedily drain whatever is waiting, deduplicating per
// station. An empty batch is a normal outcome; the caller loops.
func (l *Listener) collect(b *batch) error {
	now := time.Now()
	hard := now.Add(l.cfg.MaxBatchTime)
	soft := now.Add(l.cfg.MinBatchTime)

	for {
		frame, ok, err := l.waitForData(soft, hard)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		bursts, err := l.drainBurst(frame, b)
		if err != nil {
			return err
		}
		if bursts < l.cfg.BurstLimit {
			return nil
		}
		// Hit the burst cap with data possibly still in flight:
		// stick around a little longer before closing the batch.
		soft = time.Now().Add(burstGrace)
	}
}

// waitForData blocks for the next frame up to min(soft, hard),
// reconnecting first when the subscription has been silent longer than
// the reconnect timeout. ok=false ends the cycle with what it has.
func (l *Listener) waitForData(soft, hard time.Time) (frame []byte, ok bool, err error) {
	for {
		if !l.sig.Running() {
			return nil, false, nil
		}

		cutoff := soft
		if hard.Before(cutoff) {
			cutoff = hard
		}
		now := time.Now()
		if !now.Before(cutoff) {
			return nil, false, nil
		}

		if now.Sub(loadTime(&l.lastRecv)) > l.cfg.ReconnectTimeout {
			l.log.Warn("no data within reconnect timeout, reconnecting",
				zap.Duration("timeout", l.cfg.ReconnectTimeout))
			if !l.reconnect() {
				return nil, false, nil
			}
		}

		// Wake at least once per second so the reconnect and
		// shutdown checks stay responsive during long windows.
		wait := time.Until(cutoff)
		if wait > time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case frame, open := <-l.frames:
			timer.Stop()
			if !open {
				return nil, false, l.pumpFailure()
			}
			return frame, true, nil
		case <-l.sig.Done():
			timer.Stop()
			return nil, false, nil
		case <-timer.C:
		}
	}
}

// drainBurst consumes what is already waiting, up to the burst limit,
// starting with the frame that ended the wait. Messages that fail
// validation are dropped without ending the burst.
func (l *Listener) drainBurst(first []byte, b *batch) (int, error) {
	bursts := 0
	frame := first
	for {
		bursts++
		l.ingest(frame, b)
		if bursts >= l.cfg.BurstLimit {
			return bursts, nil
		}
		select {
		case next, open := <-l.frames:
			if !open {
				return bursts, l.pumpFailure()
			}
			frame = next
		default:
			// Nothing else waiting; the burst is over.
			return bursts, nil
		}
	}
}

// ingest validates one frame and merges it into the batch. Every drop
// here is non-fatal: bad payloads and unauthorized uploaders are the
// relay's daily business.
func (l *Listener) ingest(frame []byte, b *batch) {
	u, err := eddn.Decode(frame, l.cfg.Schema)
	if err != nil {
		if !errors.Is(err, eddn.ErrUnsupportedSchema) {
			l.log.Debug("message dropped", zap.Error(err))
		}
		return
	}
	if !l.wl.Allows(u.Software, u.Version) {
		l.log.Debug("uploader rejected",
			zap.String("station", u.Key()),
			zap.String("software", u.Software),
			zap.String("version", u.Version),
		)
		return
	}
	b.add(u)
}

// pumpFailure surfaces the transport error behind a dead frame channel.
func (l *Listener) pumpFailure() error {
	err := <-l.readErr
	if !l.sig.Running() {
		// The deferred close in Run raced us; not a failure.
		return nil
	}
	return fmt.Errorf("subscription read: %w", err)
}

func storeTime(p *int64, t time.Time) { atomic.StoreInt64(p, t.UnixNano()) }

func loadTime(p *int64) time.Time { return time.Unix(0, atomic.LoadInt64(p)) }
