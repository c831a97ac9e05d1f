package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"bastioncore/internal/infra/blob/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	info, err := store.Put(ctx, "deltas/0001.jsonl.zst", strings.NewReader("compressed"), core.PutOptions{ContentType: "application/zstd"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != int64(len("compressed")) {
		t.Fatalf("unexpected size %d", info.Size)
	}

	got, rc, err := store.Get(ctx, "deltas/0001.jsonl.zst")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(data, []byte("compressed")) {
		t.Fatalf("content mismatch: %q", data)
	}
	if got.ContentType != "application/zstd" {
		t.Fatalf("content type lost: %+v", got)
	}

	if _, err := store.Put(ctx, "deltas/0001.jsonl.zst", strings.NewReader("x"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("overwrite must fail with ErrExists, got %v", err)
	}
}

func TestKeySanitization(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, key := range []string{"", "/abs", "../escape", "a/../../b"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("key %q must be rejected", key)
		}
	}
}

func TestGetMissingIsNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, _, err := store.Get(context.Background(), "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.Head(context.Background(), "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListWalksNestedKeys(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	for _, key := range []string{"deltas/b.zst", "deltas/a.zst", "misc/c.zst"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "deltas/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "deltas/a.zst" || infos[1].Key != "deltas/b.zst" {
		t.Fatalf("unexpected listing %+v", infos)
	}
}
