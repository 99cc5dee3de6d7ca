package postgres

import (
	"context"
	"fmt"
	"strings"
)

// ItemIDs maps canonical commodity names to item ids.
func (c *Client) ItemIDs(ctx context.Context) (map[string]int64, error) {
	var items []Item
	if err := c.DB.WithContext(ctx).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	out := make(map[string]int64, len(items))
	for _, it := range items {
		out[it.Name] = it.ItemID
	}
	return out, nil
}

// SystemIDs maps uppercased system names to system ids.
func (c *Client) SystemIDs(ctx context.Context) (map[string]int64, error) {
	var systems []System
	if err := c.DB.WithContext(ctx).Find(&systems).Error; err != nil {
		return nil, fmt.Errorf("load systems: %w", err)
	}
	out := make(map[string]int64, len(systems))
	for _, s := range systems {
		out[strings.ToUpper(s.Name)] = s.SystemID
	}
	return out, nil
}

// StationKeys maps "SYSTEM/STATION" composite keys to station ids.
// Megaship-class stations are keyed under the MEGASHIP bucket instead of
// whichever system they last reported from.
func (c *Client) StationKeys(ctx context.Context) (map[string]int64, error) {
	var systems []System
	if err := c.DB.WithContext(ctx).Find(&systems).Error; err != nil {
		return nil, fmt.Errorf("load systems: %w", err)
	}
	systemNames := make(map[int64]string, len(systems))
	for _, s := range systems {
		systemNames[s.SystemID] = strings.ToUpper(s.Name)
	}

	var stations []Station
	if err := c.DB.WithContext(ctx).Find(&stations).Error; err != nil {
		return nil, fmt.Errorf("load stations: %w", err)
	}

	out := make(map[string]int64, len(stations))
	for _, st := range stations {
		bucket := systemNames[st.SystemID]
		if st.TypeID == MegashipTypeID || st.StationID == orbisExceptionID {
			bucket = "MEGASHIP"
		}
		out[bucket+"/"+strings.ToUpper(st.Name)] = st.StationID
	}
	return out, nil
}
