package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string. Job IDs are store-assigned integers; ULIDs
// name per-job working directories so they sort by creation time on disk.
func NewID() string {
	return ulid.Make().String()
}
