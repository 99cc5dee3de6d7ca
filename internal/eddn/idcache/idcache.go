// Package idcache holds the read-mostly identifier lookup tables used to
// resolve wire names into store ids. The tables are rebuilt wholesale
// after every snapshot reconciliation and are never mutated in place.
package idcache

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MegashipBucket is the synthetic system bucket mobile stations are
// keyed under, since they move between systems.
const MegashipBucket = "MEGASHIP"

// Loader supplies fresh copies of all four tables.
type Loader interface {
	// LoadNames maps lowercased wire commodity names to canonical names.
	LoadNames(ctx context.Context) (map[string]string, error)
	// LoadItems maps canonical commodity names to item ids.
	LoadItems(ctx context.Context) (map[string]int64, error)
	// LoadSystems maps uppercased system names to system ids.
	LoadSystems(ctx context.Context) (map[string]int64, error)
	// LoadStations maps "SYSTEM/STATION" keys (mobile stations under
	// "MEGASHIP/STATION") to station ids.
	LoadStations(ctx context.Context) (map[string]int64, error)
}

// Caches is safe for concurrent readers; Rebuild swaps all four tables
// at once under the write lock.
type Caches struct {
	mu       sync.RWMutex
	names    map[string]string
	items    map[string]int64
	systems  map[string]int64
	stations map[string]int64
}

func New() *Caches {
	return &Caches{
		names:    map[string]string{},
		items:    map[string]int64{},
		systems:  map[string]int64{},
		stations: map[string]int64{},
	}
}

// Rebuild loads all four tables and installs them atomically. On any
// load error the previous tables stay in effect.
func (c *Caches) Rebuild(ctx context.Context, l Loader) error {
	names, err := l.LoadNames(ctx)
	if err != nil {
		return fmt.Errorf("load commodity names: %w", err)
	}
	items, err := l.LoadItems(ctx)
	if err != nil {
		return fmt.Errorf("load item ids: %w", err)
	}
	systems, err := l.LoadSystems(ctx)
	if err != nil {
		return fmt.Errorf("load system ids: %w", err)
	}
	stations, err := l.LoadStations(ctx)
	if err != nil {
		return fmt.Errorf("load station ids: %w", err)
	}

	c.mu.Lock()
	c.names, c.items, c.systems, c.stations = names, items, systems, stations
	c.mu.Unlock()
	return nil
}

// CanonicalName resolves a wire commodity name to its canonical form.
func (c *Caches) CanonicalName(wireName string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[strings.ToLower(wireName)]
	return name, ok
}

// ItemID resolves a canonical commodity name to its item id.
func (c *Caches) ItemID(canonicalName string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.items[canonicalName]
	return id, ok
}

// ItemIDs returns a copy of the full canonical-name → id table. The
// applier iterates it to zero-fill commodities a message omits.
func (c *Caches) ItemIDs() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

// SystemID resolves an uppercased system name to its system id.
func (c *Caches) SystemID(system string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.systems[system]
	return id, ok
}

// StationID resolves a station by its system and name.
func (c *Caches) StationID(system, station string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.stations[system+"/"+station]
	return id, ok
}

// MegashipStationID resolves a mobile station, which is keyed under the
// MEGASHIP bucket rather than under the system it currently occupies.
func (c *Caches) MegashipStationID(station string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.stations[MegashipBucket+"/"+station]
	return id, ok
}
