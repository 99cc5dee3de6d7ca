// Package exporter periodically publishes the live market rows as a CSV
// file for downstream mirrors. It runs in server mode only; clients pull
// the file this exporter produces.
package exporter

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"eddnlistener/config"
	"eddnlistener/internal/eddn/coord"
	"eddnlistener/pkg/eddn"
	"eddnlistener/pkg/storage/postgres"

	"go.uber.org/zap"
)

const (
	liveFile = "listings-live.csv"
	tempFile = "listings-live.tmp"
)

var csvHeader = []string{
	"id", "station_id", "commodity_id",
	"supply", "supply_bracket", "buy_price",
	"sell_price", "demand", "demand_bracket",
	"collected_at",
}

// Store is the subset of store operations the exporter needs.
type Store interface {
	LiveListings(ctx context.Context) ([]postgres.StationItem, error)
}

type Exporter struct {
	cfg   config.ExporterConfig
	store Store
	sig   *coord.Signal
	log   *zap.Logger
}

func New(cfg config.ExporterConfig, store Store, sig *coord.Signal, log *zap.Logger) *Exporter {
	return &Exporter{
		cfg:   cfg,
		store: store,
		sig:   sig,
		log:   log,
	}
}

// Run exports once per interval until shutdown, pausing the interval
// countdown whenever the snapshot checker takes the store.
func (e *Exporter) Run(ctx context.Context) {
	for e.waitInterval() {
		if err := e.exportOnce(ctx); err != nil {
			e.log.Error("live listings export failed", zap.Error(err))
		}
	}
	e.log.Info("shutting down live-listing exporter")
}

// waitInterval sleeps out the export interval, acknowledging the checker
// when it raises its busy flag. A checker pause restarts the countdown,
// since the snapshot it imported makes the pending export stale anyway.
func (e *Exporter) waitInterval() bool {
	deadline := time.Now().Add(e.cfg.Interval)
	for e.sig.Running() {
		if e.sig.CheckerBusy() {
			e.sig.SetExporterAck(true)
			if !e.sig.WaitUntil(func() bool { return !e.sig.CheckerBusy() }) {
				e.sig.SetExporterAck(false)
				return false
			}
			e.sig.SetExporterAck(false)
			deadline = time.Now().Add(e.cfg.Interval)
			continue
		}
		if !time.Now().Before(deadline) {
			return true
		}
		if !e.sig.Sleep(time.Second) {
			return false
		}
	}
	return false
}

// exportOnce snapshots the live rows and writes them out. The store is
// only held while reading; the file write happens after the applier is
// released.
func (e *Exporter) exportOnce(ctx context.Context) error {
	e.sig.SetExporterBusy(true)
	if !e.sig.WaitUntil(e.sig.ApplierAck) {
		e.sig.SetExporterBusy(false)
		return nil
	}
	start := time.Now()
	rows, err := e.store.LiveListings(ctx)
	e.sig.SetExporterBusy(false)
	if err != nil {
		return err
	}

	e.log.Info("exporting live listings", zap.Int("rows", len(rows)))
	if err := e.writeListings(rows); err != nil {
		return err
	}
	e.log.Info("live listings exported",
		zap.Int("rows", len(rows)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// writeListings writes the rows to a temporary file and renames it into
// place, so readers only ever see complete files. A shutdown mid-write
// discards the partial file rather than publishing it.
func (e *Exporter) writeListings(rows []postgres.StationItem) error {
	if err := os.MkdirAll(e.cfg.Path, 0o755); err != nil {
		return fmt.Errorf("create export path: %w", err)
	}
	tmp := filepath.Join(e.cfg.Path, tempFile)
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(csvHeader); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write export header: %w", err)
	}
	for n, row := range rows {
		if !e.sig.Running() {
			f.Close()
			os.Remove(tmp)
			e.log.Info("shutdown during export, discarding partial file")
			return nil
		}
		if err := w.Write(listingRecord(n+1, &row)); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush export: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close export: %w", err)
	}

	if err := os.Rename(tmp, filepath.Join(e.cfg.Path, liveFile)); err != nil {
		return fmt.Errorf("publish export: %w", err)
	}
	return nil
}

// listingRecord formats one row in the snapshot source's column order,
// with the row counter standing in for the id column.
func listingRecord(id int, row *postgres.StationItem) []string {
	collected := int64(0)
	if t, err := time.ParseInLocation(eddn.TimestampLayout, row.Modified, time.UTC); err == nil {
		collected = t.Unix()
	}
	return []string{
		strconv.Itoa(id),
		strconv.FormatInt(row.StationID, 10),
		strconv.FormatInt(row.ItemID, 10),
		strconv.FormatInt(row.SupplyUnits, 10),
		strconv.FormatInt(row.SupplyLevel, 10),
		strconv.FormatInt(row.SupplyPrice, 10),
		strconv.FormatInt(row.DemandPrice, 10),
		strconv.FormatInt(row.DemandUnits, 10),
		strconv.FormatInt(row.DemandLevel, 10),
		strconv.FormatInt(collected, 10),
	}
}
