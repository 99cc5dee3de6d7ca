package postgres

// MegashipTypeID marks station records for megaship-class stations,
// which move between systems and are cached under the MEGASHIP bucket.
const MegashipTypeID = 19

// orbisExceptionID is the one Orbis station that is mobile despite its
// type saying otherwise.
const orbisExceptionID = 42041

// Item is one tradeable commodity known to the snapshot source.
type Item struct {
	ItemID int64  `gorm:"primaryKey;column:item_id"`
	Name   string `gorm:"type:text;not null;uniqueIndex:idx_item_name"`
}

func (Item) TableName() string { return "item" }

// System is a star system.
type System struct {
	SystemID int64  `gorm:"primaryKey;column:system_id"`
	Name     string `gorm:"type:text;not null;uniqueIndex:idx_system_name"`
}

func (System) TableName() string { return "system" }

// Station is a market location inside a system. TypeID distinguishes
// fixed stations from megaships.
type Station struct {
	StationID int64  `gorm:"primaryKey;column:station_id"`
	Name      string `gorm:"type:text;not null;index:idx_station_name"`
	SystemID  int64  `gorm:"not null;index:idx_station_system"`
	TypeID    int64  `gorm:"not null;default:0"`
}

func (Station) TableName() string { return "station" }

// StationItem is one market row: the live supply/demand state of a
// commodity at a station. FromLive is 1 when the row was last written
// by the firehose applier, 0 when it came from a bulk snapshot import.
type StationItem struct {
	StationID int64 `gorm:"primaryKey;column:station_id;autoIncrement:false"`
	ItemID    int64 `gorm:"primaryKey;column:item_id;autoIncrement:false"`

	Modified string `gorm:"type:varchar(19);not null"` // canonical "YYYY-MM-DD HH:MM:SS"

	DemandPrice int64 `gorm:"not null;default:0"`
	DemandUnits int64 `gorm:"not null;default:0"`
	DemandLevel int64 `gorm:"not null;default:0"`
	SupplyPrice int64 `gorm:"not null;default:0"`
	SupplyUnits int64 `gorm:"not null;default:0"`
	SupplyLevel int64 `gorm:"not null;default:0"`

	FromLive int `gorm:"not null;default:0;index:idx_station_item_live"`
}

func (StationItem) TableName() string { return "station_item" }
