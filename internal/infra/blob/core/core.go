// Package core defines the blob store contract shared by the archive
// backends. The archive treats blobs as immutable: a key is written once and
// never rewritten, so every backend enforces create-only Put semantics.
package core

import (
	"context"
	"errors"
	"io"
	"time"
)

// Driver identifies a concrete blob backend.
type Driver string

const (
	DriverMemory     Driver = "memory"
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

// ErrNotFound is returned when the requested key does not exist.
var ErrNotFound = errors.New("blob not found")

// ErrExists is returned by Put when the key is already written.
var ErrExists = errors.New("blob already exists")

// Info describes a stored blob.
type Info struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// PutOptions carries optional attributes for a Put.
type PutOptions struct {
	ContentType string
}

// Store is a minimal immutable blob store.
type Store interface {
	Driver() Driver
	// Put writes a new blob. Writing an existing key fails with ErrExists.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	Delete(ctx context.Context, key string) (bool, error)
	// List returns blobs under prefix ordered by key.
	List(ctx context.Context, prefix string) ([]Info, error)
}
