package applier

import (
	"context"
	"sync"
	"testing"
	"time"

	"eddnlistener/internal/eddn/coord"
	"eddnlistener/internal/eddn/idcache"
	"eddnlistener/internal/eddn/queue"
	"eddnlistener/pkg/eddn"
	"eddnlistener/pkg/storage/postgres"

	"go.uber.org/zap"
)

type fakeStore struct {
	mu          sync.Mutex
	upserts     []postgres.StationItem
	updates     []postgres.StationItem
	systemMoves map[int64]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{systemMoves: map[int64]int64{}}
}

func (f *fakeStore) UpsertStationItem(_ context.Context, row *postgres.StationItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, *row)
	return nil
}

func (f *fakeStore) UpdateStationItem(_ context.Context, row *postgres.StationItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, *row)
	return nil
}

func (f *fakeStore) UpdateStationSystem(_ context.Context, stationID, systemID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.systemMoves[stationID] = systemID
	return nil
}

func (f *fakeStore) rows() []postgres.StationItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]postgres.StationItem, len(f.upserts))
	copy(out, f.upserts)
	return out
}

func (f *fakeStore) zeroWrites() []postgres.StationItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]postgres.StationItem, len(f.updates))
	copy(out, f.updates)
	return out
}

type fixedLoader struct{}

func (fixedLoader) LoadNames(context.Context) (map[string]string, error) {
	return map[string]string{"gold": "Gold", "drones": "Limpet", "tritium": "Tritium"}, nil
}
func (fixedLoader) LoadItems(context.Context) (map[string]int64, error) {
	// Tritium intentionally lacks an id: known name, unknown item.
	return map[string]int64{"Gold": 42, "Limpet": 43}, nil
}
func (fixedLoader) LoadSystems(context.Context) (map[string]int64, error) {
	return map[string]int64{"SOL": 1, "ACHENAR": 2}, nil
}
func (fixedLoader) LoadStations(context.Context) (map[string]int64, error) {
	return map[string]int64{
		"SOL/ABRAHAM LINCOLN": 128,
		"MEGASHIP/THE GNOSIS": 999,
	}, nil
}

func testCaches(t *testing.T) *idcache.Caches {
	t.Helper()
	c := idcache.New()
	if err := c.Rebuild(context.Background(), fixedLoader{}); err != nil {
		t.Fatalf("rebuild caches: %v", err)
	}
	return c
}

func newTestApplier(t *testing.T) (*Applier, *fakeStore, *queue.Queue[*eddn.MarketUpdate], *coord.Signal) {
	t.Helper()
	store := newFakeStore()
	q := queue.New[*eddn.MarketUpdate](8)
	sig := coord.New()
	a := New(store, testCaches(t), q, sig, zap.NewNop())
	return a, store, q, sig
}

func marketUpdate(commodities ...eddn.Commodity) *eddn.MarketUpdate {
	return &eddn.MarketUpdate{
		System:      "SOL",
		Station:     "ABRAHAM LINCOLN",
		Commodities: commodities,
		Timestamp:   "2021-01-01 00:00:00",
		Software:    "EDDiscovery",
	}
}

func TestApplyKnownAndUnmappableCommodity(t *testing.T) {
	a, store, _, _ := newTestApplier(t)

	a.apply(context.Background(), marketUpdate(
		eddn.Commodity{Name: "Gold", BuyPrice: 9000, SellPrice: 9400, Demand: 500, DemandBracket: 2, Stock: 120, StockBracket: 1},
		eddn.Commodity{Name: "thargoidtissue", SellPrice: 100000, Demand: 1},
	))

	rows := store.rows()
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want exactly 1 (unmappable names are dropped)", len(rows))
	}
	row := rows[0]
	if row.StationID != 128 || row.ItemID != 42 {
		t.Errorf("wrong row identity: %+v", row)
	}
	if row.DemandPrice != 9400 || row.DemandUnits != 500 || row.DemandLevel != 2 {
		t.Errorf("demand side wrong: %+v", row)
	}
	if row.SupplyPrice != 9000 || row.SupplyUnits != 120 || row.SupplyLevel != 1 {
		t.Errorf("supply side wrong: %+v", row)
	}
	if row.FromLive != 1 {
		t.Errorf("live rows must be flagged from_live=1: %+v", row)
	}
	if row.Modified != "2021-01-01 00:00:00" {
		t.Errorf("modified = %q", row.Modified)
	}
}

func TestApplyZeroesAbsentCommodities(t *testing.T) {
	a, store, _, _ := newTestApplier(t)

	// Gold present with prices; Limpet absent from the message.
	a.apply(context.Background(), marketUpdate(
		eddn.Commodity{Name: "Gold", BuyPrice: 9000, SellPrice: 9400},
	))

	// Absent commodities are zeroed, not left at their stale prices,
	// but the sparse rule means the zero record only updates a row that
	// already exists: no upsert, no new row.
	for _, row := range store.rows() {
		if row.DemandPrice == 0 && row.SupplyPrice == 0 {
			t.Errorf("priceless row inserted: %+v", row)
		}
		if row.ItemID == 43 {
			t.Errorf("absent commodity must not be upserted: %+v", row)
		}
	}
	zeroes := store.zeroWrites()
	if len(zeroes) != 1 {
		t.Fatalf("got %d zero writes, want exactly 1 for the absent commodity", len(zeroes))
	}
	z := zeroes[0]
	if z.StationID != 128 || z.ItemID != 43 {
		t.Errorf("zero write identity: %+v", z)
	}
	if z.DemandPrice != 0 || z.DemandUnits != 0 || z.DemandLevel != 0 ||
		z.SupplyPrice != 0 || z.SupplyUnits != 0 || z.SupplyLevel != 0 {
		t.Errorf("zero write carries values: %+v", z)
	}
	if z.Modified != "2021-01-01 00:00:00" || z.FromLive != 1 {
		t.Errorf("zero write must refresh modified and liveness: %+v", z)
	}
}

func TestApplyKnownNameWithoutItemID(t *testing.T) {
	a, store, _, _ := newTestApplier(t)

	a.apply(context.Background(), marketUpdate(
		eddn.Commodity{Name: "tritium", BuyPrice: 50000, SellPrice: 51000},
	))

	if n := len(store.rows()); n != 0 {
		t.Fatalf("names without an item id must be dropped, wrote %d rows", n)
	}
}

func TestApplyMegashipMovesSystem(t *testing.T) {
	a, store, _, _ := newTestApplier(t)

	u := marketUpdate(eddn.Commodity{Name: "Gold", BuyPrice: 9000, SellPrice: 9400})
	u.System = "ACHENAR"
	u.Station = "THE GNOSIS"
	a.apply(context.Background(), u)

	if got := store.systemMoves[999]; got != 2 {
		t.Errorf("megaship system not re-pointed: got %d, want 2", got)
	}
	rows := store.rows()
	if len(rows) != 1 || rows[0].StationID != 999 {
		t.Fatalf("megaship market rows not written: %+v", rows)
	}
}

func TestApplyUnknownStationDropsUpdate(t *testing.T) {
	a, store, _, _ := newTestApplier(t)

	u := marketUpdate(eddn.Commodity{Name: "Gold", BuyPrice: 9000, SellPrice: 9400})
	u.Station = "NOWHERE PORT"
	a.apply(context.Background(), u)

	if n := len(store.rows()); n != 0 {
		t.Fatalf("unknown station should drop the whole update, wrote %d rows", n)
	}
}

func TestRunAcknowledgesBusySignal(t *testing.T) {
	a, _, _, sig := newTestApplier(t)
	sig.SetCheckerBusy(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(context.Background())
	}()

	waitFor(t, "applier ack", func() bool { return sig.ApplierAck() })

	sig.SetCheckerBusy(false)
	waitFor(t, "ack cleared", func() bool { return !sig.ApplierAck() })

	sig.Shutdown()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("applier did not exit on shutdown")
	}
}

func TestRunAppliesDequeuedUpdateBeforeExit(t *testing.T) {
	a, store, q, sig := newTestApplier(t)
	q.Push(marketUpdate(eddn.Commodity{Name: "Gold", BuyPrice: 9000, SellPrice: 9400}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Run(context.Background())
	}()

	waitFor(t, "row written", func() bool { return len(store.rows()) == 1 })
	sig.Shutdown()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("applier did not exit on shutdown")
	}
}

func waitFor(t *testing.T, what string, pred func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if pred() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
