// Package importer downloads published listings snapshots into the data
// directory and reconciles them against the store. It also supplies the
// identifier caches with fresh tables, combining the commodity name
// dictionary fetched over HTTP with the id tables held in the store.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"eddnlistener/config"
	"eddnlistener/pkg/eddn"
	"eddnlistener/pkg/storage/postgres"

	"go.uber.org/zap"
)

// listingsFile is the snapshot's on-disk name. Its mtime doubles as the
// last-imported marker the update checker compares against.
const listingsFile = "listings.csv"

// Store is the subset of store operations the importer needs.
type Store interface {
	ApplySnapshotListings(ctx context.Context, rows []postgres.StationItem) error
}

// Importer downloads and applies listings snapshots.
type Importer struct {
	dataPath string
	store    Store
	log      *zap.Logger

	client *http.Client
}

func New(cfg config.CheckerConfig, store Store, log *zap.Logger) *Importer {
	return &Importer{
		dataPath: cfg.DataPath,
		store:    store,
		log:      log,
		client:   &http.Client{Timeout: 10 * time.Minute},
	}
}

// LastImported reports when a snapshot was last applied, from the saved
// file's modification time. The zero time means never.
func (i *Importer) LastImported() time.Time {
	info, err := os.Stat(filepath.Join(i.dataPath, listingsFile))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

// Reconcile downloads the snapshot at url, applies it to the store, and
// saves it under the data path. The file lands via a temporary name and
// an atomic rename so a crash never leaves a half-written marker.
func (i *Importer) Reconcile(ctx context.Context, url string) error {
	if err := os.MkdirAll(i.dataPath, 0o755); err != nil {
		return fmt.Errorf("create data path: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build snapshot request: %w", err)
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download snapshot: unexpected status %s", resp.Status)
	}

	tmp := filepath.Join(i.dataPath, listingsFile+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("save snapshot: %w", err)
	}

	saved, err := os.Open(tmp)
	if err != nil {
		return fmt.Errorf("reopen snapshot: %w", err)
	}
	rows, err := ParseListings(saved)
	saved.Close()
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("parse snapshot: %w", err)
	}

	i.log.Info("applying listings snapshot", zap.Int("rows", len(rows)))
	if err := i.store.ApplySnapshotListings(ctx, rows); err != nil {
		os.Remove(tmp)
		return err
	}

	// Only a fully applied snapshot becomes the marker file.
	if err := os.Rename(tmp, filepath.Join(i.dataPath, listingsFile)); err != nil {
		return fmt.Errorf("install snapshot marker: %w", err)
	}
	return nil
}

// ParseListings reads a listings CSV into store rows. The expected
// columns are id, station_id, commodity_id, supply, supply_bracket,
// buy_price, sell_price, demand, demand_bracket, collected_at; the id
// column is a row counter and is discarded.
func ParseListings(r io.Reader) ([]postgres.StationItem, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for idx, name := range header {
		col[name] = idx
	}
	for _, required := range []string{
		"station_id", "commodity_id",
		"supply", "supply_bracket", "buy_price",
		"sell_price", "demand", "demand_bracket",
		"collected_at",
	} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("listings header missing %q", required)
		}
	}

	var rows []postgres.StationItem
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		field := func(name string) (int64, error) {
			v, err := strconv.ParseInt(record[col[name]], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("line %d: bad %s: %w", line, name, err)
			}
			return v, nil
		}

		var row postgres.StationItem
		var collected int64
		for name, dst := range map[string]*int64{
			"station_id":     &row.StationID,
			"commodity_id":   &row.ItemID,
			"supply":         &row.SupplyUnits,
			"supply_bracket": &row.SupplyLevel,
			"buy_price":      &row.SupplyPrice,
			"sell_price":     &row.DemandPrice,
			"demand":         &row.DemandUnits,
			"demand_bracket": &row.DemandLevel,
			"collected_at":   &collected,
		} {
			v, err := field(name)
			if err != nil {
				return nil, err
			}
			*dst = v
		}
		row.Modified = time.Unix(collected, 0).UTC().Format(eddn.TimestampLayout)
		rows = append(rows, row)
	}
	return rows, nil
}

// IDStore is the subset of store operations the cache loader needs.
type IDStore interface {
	ItemIDs(ctx context.Context) (map[string]int64, error)
	SystemIDs(ctx context.Context) (map[string]int64, error)
	StationKeys(ctx context.Context) (map[string]int64, error)
}

// Loader feeds the identifier caches: commodity names come from the
// market connector's dictionary over HTTP, everything else from the
// store's id tables.
type Loader struct {
	dictionaryURL string
	store         IDStore

	client *http.Client
}

func NewLoader(cfg config.CheckerConfig, store IDStore) *Loader {
	return &Loader{
		dictionaryURL: cfg.DictionaryURL,
		store:         store,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

// nameOverrides patches the handful of dictionary entries whose names
// differ from the snapshot source's canonical spelling.
var nameOverrides = map[string]string{
	"airelics":                    "Ai Relics",
	"drones":                      "Limpet",
	"liquidoxygen":                "Liquid Oxygen",
	"methanolmonohydratecrystals": "Methanol Monohydrate",
	"coolinghoses":                "Micro-Weave Cooling Hoses",
	"nonlethalweapons":            "Non-lethal Weapons",
	"sap8corecontainer":           "Sap 8 Core Container",
	"trinketsoffortune":           "Trinkets Of Hidden Fortune",
	"wreckagecomponents":          "Salvageable Wreckage",
}

// LoadNames fetches the commodity dictionary and maps lowercased wire
// symbols to canonical names, with the known mismatches patched.
func (l *Loader) LoadNames(ctx context.Context) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.dictionaryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build dictionary request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch commodity dictionary: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch commodity dictionary: unexpected status %s", resp.Status)
	}

	names, err := parseDictionary(resp.Body)
	if err != nil {
		return nil, err
	}
	for symbol, name := range nameOverrides {
		names[symbol] = name
	}
	return names, nil
}

func parseDictionary(r io.Reader) (map[string]string, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read dictionary header: %w", err)
	}
	symbolCol, nameCol := -1, -1
	for idx, name := range header {
		switch name {
		case "symbol":
			symbolCol = idx
		case "name":
			nameCol = idx
		}
	}
	if symbolCol < 0 || nameCol < 0 {
		return nil, fmt.Errorf("dictionary header missing symbol/name columns")
	}

	names := map[string]string{}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read dictionary: %w", err)
		}
		names[strings.ToLower(record[symbolCol])] = record[nameCol]
	}
	return names, nil
}

func (l *Loader) LoadItems(ctx context.Context) (map[string]int64, error) {
	return l.store.ItemIDs(ctx)
}

func (l *Loader) LoadSystems(ctx context.Context) (map[string]int64, error) {
	return l.store.SystemIDs(ctx)
}

func (l *Loader) LoadStations(ctx context.Context) (map[string]int64, error) {
	return l.store.StationKeys(ctx)
}
