// Package blob selects and re-exports the archive blob store backends.
package blob

import (
	"context"
	"fmt"

	"bastioncore/internal/infra/blob/core"
	"bastioncore/internal/infra/blob/fs"
	"bastioncore/internal/infra/blob/memory"
	"bastioncore/internal/infra/blob/s3"
)

// Aliases so callers depend on this package alone.
type (
	Store      = core.Store
	Info       = core.Info
	PutOptions = core.PutOptions
	Driver     = core.Driver
)

const (
	DriverMemory     = core.DriverMemory
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// NewMemory returns an in-memory store.
func NewMemory() *memory.Store { return memory.New() }

// Open selects a Store implementation for driver. fsRoot applies only to the
// filesystem driver (empty selects ./archivedata); S3 connection settings come
// from the BASTIONCORE_BLOB_S3_* variables documented in the s3 package. An s3
// selection with no bucket configured fails rather than falling back.
func Open(ctx context.Context, driver Driver, fsRoot string) (Store, error) {
	switch driver {
	case DriverFilesystem:
		return fs.New(fsRoot)
	case DriverS3:
		return s3.OpenFromEnv(ctx)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
