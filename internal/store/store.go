// Package store defines the persistence contract for the tuning engine.
// The engine persists whole structures as opaque blobs at fixed logical
// addresses, mirroring the EEPROM layout of the device firmware. Reads
// and writes are always whole-blob so a power loss can never leave a
// partially updated structure behind; staleness is detected by the
// caller via a revision tag inside the blob, not by the store.
package store

import "context"

// BlobStore reads and writes opaque blobs keyed by a logical address.
type BlobStore interface {
	// Read returns the blob stored at addr, or (nil, nil) when nothing
	// has been written there yet.
	Read(ctx context.Context, addr uint32) ([]byte, error)

	// Write replaces the blob at addr atomically.
	Write(ctx context.Context, addr uint32, data []byte) error
}
