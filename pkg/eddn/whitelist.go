package eddn

import (
	"strings"

	"eddnlistener/config"

	version "github.com/hashicorp/go-version"
)

// Whitelist filters uploads by the software that produced them.
// Matching is case-insensitive on the software name; when an entry
// carries a minimum version the uploader's version must compare greater
// or equal numerically (dotted versions, not lexical strings).
type Whitelist []config.WhitelistEntry

// Allows reports whether an upload from the given software and version
// may enter the pipeline.
func (w Whitelist) Allows(software, swVersion string) bool {
	for _, entry := range w {
		if !strings.EqualFold(entry.Software, software) {
			continue
		}
		if entry.MinVersion == "" {
			return true
		}
		min, err := version.NewVersion(entry.MinVersion)
		if err != nil {
			// A broken minversion in the config shouldn't reject
			// everything from an otherwise trusted uploader.
			return true
		}
		got, err := version.NewVersion(swVersion)
		if err != nil {
			return false
		}
		return got.GreaterThanOrEqual(min)
	}
	return false
}
