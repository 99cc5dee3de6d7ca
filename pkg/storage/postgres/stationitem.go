package postgres

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"
)

// stationItemValueColumns are the columns an upsert refreshes when the
// (station_id, item_id) row already exists.
var stationItemValueColumns = []string{
	"modified",
	"demand_price", "demand_units", "demand_level",
	"supply_price", "supply_units", "supply_level",
	"from_live",
}

// UpsertStationItem inserts a market row, updating the existing row on a
// uniqueness conflict. Transient lock contention is retried indefinitely
// with a fixed backoff and never surfaces to the caller.
func (c *Client) UpsertStationItem(ctx context.Context, row *StationItem) error {
	return withLockRetry(ctx, func() error {
		tx := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "station_id"},
				{Name: "item_id"},
			},
			DoUpdates: clause.AssignmentColumns(stationItemValueColumns),
		}).Create(row)
		if tx.Error != nil {
			return fmt.Errorf("upsert station item: %w", tx.Error)
		}
		return nil
	})
}

// UpdateStationItem refreshes the values of an existing market row
// without ever creating one. Used for zero records: a commodity absent
// from a live message is zeroed out at stations already carrying it, but
// no row is created just to hold zeroes. Updating a row that does not
// exist is a no-op.
func (c *Client) UpdateStationItem(ctx context.Context, row *StationItem) error {
	return withLockRetry(ctx, func() error {
		tx := c.DB.WithContext(ctx).
			Model(&StationItem{}).
			Where("station_id = ? AND item_id = ?", row.StationID, row.ItemID).
			Select(stationItemValueColumns).
			Updates(row)
		if tx.Error != nil {
			return fmt.Errorf("update station item: %w", tx.Error)
		}
		return nil
	})
}

// UpdateStationSystem re-points a station at a new system. Used when a
// mobile station reports a market from somewhere else.
func (c *Client) UpdateStationSystem(ctx context.Context, stationID, systemID int64) error {
	return withLockRetry(ctx, func() error {
		tx := c.DB.WithContext(ctx).
			Model(&Station{}).
			Where("station_id = ?", stationID).
			Update("system_id", systemID)
		if tx.Error != nil {
			return fmt.Errorf("update station system: %w", tx.Error)
		}
		return nil
	})
}

// LiveListings returns every row last touched by the firehose, ordered
// by station then commodity, for the live-listing export.
func (c *Client) LiveListings(ctx context.Context) ([]StationItem, error) {
	var rows []StationItem
	err := c.DB.WithContext(ctx).
		Where("from_live = ?", 1).
		Order("station_id, item_id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("select live listings: %w", err)
	}
	return rows, nil
}

// snapshotBatchSize bounds how many rows one bulk statement carries.
const snapshotBatchSize = 1000

// ApplySnapshotListings bulk-upserts rows from a snapshot import. The
// rows arrive with FromLive already zeroed, superseding live rows.
func (c *Client) ApplySnapshotListings(ctx context.Context, rows []StationItem) error {
	if len(rows) == 0 {
		return nil
	}
	return withLockRetry(ctx, func() error {
		tx := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "station_id"},
				{Name: "item_id"},
			},
			DoUpdates: clause.AssignmentColumns(stationItemValueColumns),
		}).CreateInBatches(rows, snapshotBatchSize)
		if tx.Error != nil {
			return fmt.Errorf("apply snapshot listings: %w", tx.Error)
		}
		return nil
	})
}
