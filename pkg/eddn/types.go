package eddn

import "encoding/json"

// TimestampLayout is the canonical form timestamps are normalized to
// before batching and storage. Lexical order equals chronological order.
const TimestampLayout = "2006-01-02 15:04:05"

// Envelope is the outer EDDN message as sent on the wire, after zlib
// decompression. Required fields are pointers so that missing keys can
// be told apart from zero values.
type Envelope struct {
	SchemaRef *string `json:"$schemaRef"`
	Header    Header  `json:"header"`
	Message   Message `json:"message"`
}

type Header struct {
	UploaderID      *string `json:"uploaderID"`
	SoftwareName    *string `json:"softwareName"`
	SoftwareVersion *string `json:"softwareVersion"`
}

type Message struct {
	SystemName  *string      `json:"systemName"`
	StationName *string      `json:"stationName"`
	Timestamp   *string      `json:"timestamp"`
	Commodities *[]Commodity `json:"commodities"`
}

// Commodity is one market line within a message.
type Commodity struct {
	Name          string  `json:"name"`
	BuyPrice      int64   `json:"buyPrice"`  // what the station charges (supply side)
	SellPrice     int64   `json:"sellPrice"` // what the station pays (demand side)
	Demand        int64   `json:"demand"`
	DemandBracket Bracket `json:"demandBracket"`
	Stock         int64   `json:"stock"`
	StockBracket  Bracket `json:"stockBracket"`
}

// Bracket is a coarse supply/demand level indicator. Some uploaders send
// an empty string instead of a number; that decodes as -1.
type Bracket int64

func (b *Bracket) UnmarshalJSON(data []byte) error {
	if string(data) == `""` {
		*b = -1
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*b = Bracket(n)
	return nil
}

func (b Bracket) MarshalJSON() ([]byte, error) {
	return json.Marshal(int64(b))
}

// MarketUpdate is one validated, normalized market snapshot for a single
// station. Immutable once constructed; identity while batching is
// (System, Station).
type MarketUpdate struct {
	System      string // uppercased
	Station     string // uppercased
	Commodities []Commodity
	Timestamp   string // canonical TimestampLayout form
	Uploader    string
	Software    string
	Version     string
}

// Key is the batching identity of the update.
func (u *MarketUpdate) Key() string {
	return u.System + "/" + u.Station
}
