package checker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"eddnlistener/config"
	"eddnlistener/internal/eddn/coord"
	"eddnlistener/internal/eddn/idcache"

	"go.uber.org/zap"
)

type fakeReconciler struct {
	mu      sync.Mutex
	last    time.Time
	calls   []string
	err     error
	sawBusy bool
	sawAcks bool
	sig     *coord.Signal
}

func (f *fakeReconciler) Reconcile(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if f.sig != nil {
		f.sawBusy = f.sig.CheckerBusy()
		f.sawAcks = f.sig.ApplierAck() && f.sig.ExporterAck()
	}
	return f.err
}

func (f *fakeReconciler) LastImported() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeReconciler) reconciled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

type emptyLoader struct{}

func (emptyLoader) LoadNames(context.Context) (map[string]string, error) {
	return map[string]string{}, nil
}
func (emptyLoader) LoadItems(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}
func (emptyLoader) LoadSystems(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}
func (emptyLoader) LoadStations(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func snapshotServer(t *testing.T, lastModified time.Time, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestChecker(cfg config.CheckerConfig, clientMode bool, rec *fakeReconciler) (*Checker, *coord.Signal) {
	sig := coord.New()
	rec.sig = sig
	// The checker waits for both acks; grant them up front so checkOnce
	// runs to completion unless a test overrides the flags.
	sig.SetApplierAck(true)
	sig.SetExporterAck(true)
	c := New(cfg, clientMode, rec, idcache.New(), emptyLoader{}, sig, zap.NewNop())
	return c, sig
}

func TestCheckOnceReconcilesWhenSnapshotIsNewer(t *testing.T) {
	published := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := snapshotServer(t, published, http.StatusOK)

	rec := &fakeReconciler{last: published.Add(-time.Hour)}
	c, _ := newTestChecker(config.CheckerConfig{FallbackURL: srv.URL}, false, rec)

	c.checkOnce(context.Background())

	calls := rec.reconciled()
	if len(calls) != 1 || calls[0] != srv.URL {
		t.Fatalf("reconcile calls = %v, want one against %s", calls, srv.URL)
	}
	if !rec.sawBusy {
		t.Error("checker busy flag not raised during reconciliation")
	}
	if !rec.sawAcks {
		t.Error("reconciliation ran without both acknowledgements")
	}
}

func TestCheckOnceSkipsWhenSnapshotIsStale(t *testing.T) {
	published := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := snapshotServer(t, published, http.StatusOK)

	rec := &fakeReconciler{last: published} // same instant, not newer
	c, _ := newTestChecker(config.CheckerConfig{FallbackURL: srv.URL}, false, rec)

	c.checkOnce(context.Background())

	if calls := rec.reconciled(); len(calls) != 0 {
		t.Fatalf("stale snapshot must not reconcile, got %v", calls)
	}
}

func TestCheckOnceSkipsCycleWhenUnreachable(t *testing.T) {
	srv := snapshotServer(t, time.Time{}, http.StatusServiceUnavailable)

	rec := &fakeReconciler{}
	c, _ := newTestChecker(config.CheckerConfig{FallbackURL: srv.URL}, false, rec)

	c.checkOnce(context.Background())

	if calls := rec.reconciled(); len(calls) != 0 {
		t.Fatalf("unreachable source should skip the cycle, got %v", calls)
	}
}

func TestClientModePrefersMirrorThenFallsBack(t *testing.T) {
	published := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	mirror := snapshotServer(t, published, http.StatusOK)
	fallback := snapshotServer(t, published, http.StatusOK)

	rec := &fakeReconciler{last: published.Add(-time.Hour)}
	c, _ := newTestChecker(config.CheckerConfig{
		ListingsURL: mirror.URL,
		FallbackURL: fallback.URL,
	}, true, rec)

	c.checkOnce(context.Background())
	if calls := rec.reconciled(); len(calls) != 1 || calls[0] != mirror.URL {
		t.Fatalf("client mode should use the mirror first, got %v", calls)
	}

	// Mirror down: the fallback takes over.
	deadMirror := snapshotServer(t, time.Time{}, http.StatusBadGateway)
	rec2 := &fakeReconciler{last: published.Add(-time.Hour)}
	c2, _ := newTestChecker(config.CheckerConfig{
		ListingsURL: deadMirror.URL,
		FallbackURL: fallback.URL,
	}, true, rec2)

	c2.checkOnce(context.Background())
	if calls := rec2.reconciled(); len(calls) != 1 || calls[0] != fallback.URL {
		t.Fatalf("dead mirror should fall back, got %v", calls)
	}
}

func TestServerModeIgnoresMirror(t *testing.T) {
	published := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	mirror := snapshotServer(t, published, http.StatusOK)
	fallback := snapshotServer(t, published, http.StatusOK)

	rec := &fakeReconciler{last: published.Add(-time.Hour)}
	c, _ := newTestChecker(config.CheckerConfig{
		ListingsURL: mirror.URL,
		FallbackURL: fallback.URL,
	}, false, rec)

	c.checkOnce(context.Background())
	if calls := rec.reconciled(); len(calls) != 1 || calls[0] != fallback.URL {
		t.Fatalf("server mode must only consult the canonical source, got %v", calls)
	}
}

func TestCheckOnceAbandonedOnShutdown(t *testing.T) {
	published := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	srv := snapshotServer(t, published, http.StatusOK)

	rec := &fakeReconciler{last: published.Add(-time.Hour)}
	c, sig := newTestChecker(config.CheckerConfig{FallbackURL: srv.URL}, false, rec)
	sig.SetApplierAck(false) // never acked: the wait can only end by shutdown

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.checkOnce(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	sig.Shutdown()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("checkOnce did not abandon its wait on shutdown")
	}
	if calls := rec.reconciled(); len(calls) != 0 {
		t.Fatalf("abandoned check must not reconcile, got %v", calls)
	}
	if sig.CheckerBusy() {
		t.Error("busy flag left raised after abandoning")
	}
}
