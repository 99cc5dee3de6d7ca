package eddn

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnsupportedSchema marks a well-formed message for a schema this
// listener does not consume.
var ErrUnsupportedSchema = errors.New("unsupported schema")

// Decode decompresses and parses one raw frame from the relay into a
// normalized MarketUpdate. Any returned error means the message should
// be dropped; none of them are fatal to the subscription.
func Decode(raw []byte, supportedSchema string) (*MarketUpdate, error) {
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	payload, err := io.ReadAll(zr)
	zr.Close()
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	// Cheap schema check before decoding the full payload.
	var head struct {
		SchemaRef *string `json:"$schemaRef"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if head.SchemaRef == nil {
		return nil, missingField("$schemaRef")
	}
	if *head.SchemaRef != supportedSchema {
		return nil, ErrUnsupportedSchema
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	switch {
	case env.Header.UploaderID == nil:
		return nil, missingField("header.uploaderID")
	case env.Header.SoftwareName == nil:
		return nil, missingField("header.softwareName")
	case env.Header.SoftwareVersion == nil:
		return nil, missingField("header.softwareVersion")
	case env.Message.SystemName == nil:
		return nil, missingField("message.systemName")
	case env.Message.StationName == nil:
		return nil, missingField("message.stationName")
	case env.Message.Commodities == nil:
		return nil, missingField("message.commodities")
	case env.Message.Timestamp == nil:
		return nil, missingField("message.timestamp")
	}

	return &MarketUpdate{
		System:      strings.ToUpper(*env.Message.SystemName),
		Station:     strings.ToUpper(*env.Message.StationName),
		Commodities: *env.Message.Commodities,
		Timestamp:   NormalizeTimestamp(*env.Message.Timestamp),
		Uploader:    *env.Header.UploaderID,
		Software:    *env.Header.SoftwareName,
		Version:     *env.Header.SoftwareVersion,
	}, nil
}

func missingField(name string) error {
	return fmt.Errorf("missing field %s", name)
}

// NormalizeTimestamp rewrites a wire timestamp like
// "2021-01-01T00:00:00+00:00" or "2021-01-01T00:00:00Z" into the
// canonical TimestampLayout form.
func NormalizeTimestamp(ts string) string {
	ts = strings.Replace(ts, "T", " ", 1)
	ts = strings.TrimSuffix(ts, "+00:00")
	ts = strings.TrimSuffix(ts, "Z")
	return ts
}
