// Package applier drains the pending-update queue and turns market
// updates into store writes, pausing whenever the snapshot checker or
// the listings exporter needs the store to itself.
package applier

import (
	"context"
	"time"

	"eddnlistener/internal/eddn/coord"
	"eddnlistener/internal/eddn/idcache"
	"eddnlistener/internal/eddn/queue"
	"eddnlistener/pkg/eddn"
	"eddnlistener/pkg/storage/postgres"

	"go.uber.org/zap"
)

// Store is the subset of store operations the applier needs.
type Store interface {
	UpsertStationItem(ctx context.Context, row *postgres.StationItem) error
	UpdateStationItem(ctx context.Context, row *postgres.StationItem) error
	UpdateStationSystem(ctx context.Context, stationID, systemID int64) error
}

type Applier struct {
	store  Store
	caches *idcache.Caches
	in     *queue.Queue[*eddn.MarketUpdate]
	sig    *coord.Signal
	log    *zap.Logger
}

func New(store Store, caches *idcache.Caches, in *queue.Queue[*eddn.MarketUpdate], sig *coord.Signal, log *zap.Logger) *Applier {
	return &Applier{
		store:  store,
		caches: caches,
		in:     in,
		sig:    sig,
		log:    log,
	}
}

// Run drains the queue one update at a time until shutdown. An update
// that has been dequeued is always applied in full, including during
// shutdown, so no dequeued data is ever lost.
func (a *Applier) Run(ctx context.Context) {
	for a.sig.Running() {
		// Pause while either of the other workers holds the store.
		// The queue keeps growing; we only stop draining it.
		if a.sig.CheckerBusy() || a.sig.ExporterBusy() {
			a.log.Info("applier acknowledging busy signal")
			a.sig.SetApplierAck(true)
			a.sig.WaitUntil(func() bool {
				return !a.sig.CheckerBusy() && !a.sig.ExporterBusy()
			})
			a.sig.SetApplierAck(false)
			if !a.sig.Running() {
				break
			}
			a.log.Info("busy signal off, applier resuming")
		}

		u, ok := a.in.TryPop()
		if !ok {
			if !a.sig.Sleep(time.Second) {
				break
			}
			continue
		}

		start := time.Now()
		a.apply(ctx, u)

		if a.in.Len() == 0 {
			// Natural commit point: everything dequeued so far
			// has been written.
			a.log.Debug("queue drained, writes flushed")
		}
		a.log.Info("market update applied",
			zap.String("station", u.Key()),
			zap.Duration("took", time.Since(start)),
		)
	}
	a.log.Info("shutting down message processor")
}

// apply resolves one update against the identifier caches and upserts
// its rows. Unresolvable pieces are dropped with a log line; they are
// upstream data inconsistencies, not errors.
func (a *Applier) apply(ctx context.Context, u *eddn.MarketUpdate) {
	stationID, ok := a.caches.StationID(u.System, u.Station)
	if !ok {
		// Mobile stations are cached under the MEGASHIP bucket and
		// move between systems; re-point the one we found.
		stationID, ok = a.caches.MegashipStationID(u.Station)
		if ok {
			if systemID, found := a.caches.SystemID(u.System); found {
				if err := a.store.UpdateStationSystem(ctx, stationID, systemID); err != nil {
					a.log.Warn("failed to update megaship system",
						zap.String("station", u.Key()), zap.Error(err))
				} else {
					a.log.Info("megaship station, system updated",
						zap.String("station", u.Key()))
				}
			}
		}
	}
	if !ok {
		a.log.Info("station not found, dropping update",
			zap.String("station", u.Key()))
		return
	}

	// Resolve the commodities the message carries.
	present := make(map[int64]eddn.Commodity, len(u.Commodities))
	for _, com := range u.Commodities {
		name, ok := a.caches.CanonicalName(com.Name)
		if !ok {
			a.log.Debug("ignoring unmapped commodity",
				zap.String("name", com.Name))
			continue
		}
		itemID, ok := a.caches.ItemID(name)
		if !ok {
			a.log.Debug("commodity has no item id",
				zap.String("name", name))
			continue
		}
		present[itemID] = com
	}

	// Walk the full commodity universe: items the message omits are
	// recorded all-zero ("no longer offered"). The sparse rule only
	// blocks creating rows for them: a zero record updates an existing
	// row but never inserts one.
	for _, itemID := range a.caches.ItemIDs() {
		row := postgres.StationItem{
			StationID: stationID,
			ItemID:    itemID,
			Modified:  u.Timestamp,
			FromLive:  1,
		}
		if com, ok := present[itemID]; ok {
			row.DemandPrice = com.SellPrice
			row.DemandUnits = com.Demand
			row.DemandLevel = int64(com.DemandBracket)
			row.SupplyPrice = com.BuyPrice
			row.SupplyUnits = com.Stock
			row.SupplyLevel = int64(com.StockBracket)
		}
		var err error
		if row.DemandPrice == 0 && row.SupplyPrice == 0 {
			err = a.store.UpdateStationItem(ctx, &row)
		} else {
			err = a.store.UpsertStationItem(ctx, &row)
		}
		if err != nil {
			a.log.Warn("failed to write station item",
				zap.Int64("station_id", stationID),
				zap.Int64("item_id", itemID),
				zap.Error(err),
			)
		}
	}
}
