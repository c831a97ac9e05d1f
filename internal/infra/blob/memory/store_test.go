package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"bastioncore/internal/infra/blob/core"
)

func TestPutGetHeadDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	info, err := store.Put(ctx, "deltas/a", strings.NewReader("payload"), core.PutOptions{ContentType: "application/zstd"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 || info.ContentType != "application/zstd" {
		t.Fatalf("unexpected info %+v", info)
	}

	if _, err := store.Put(ctx, "deltas/a", strings.NewReader("other"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("second put must fail with ErrExists, got %v", err)
	}

	got, rc, err := store.Get(ctx, "deltas/a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if !bytes.Equal(data, []byte("payload")) || got.Key != "deltas/a" {
		t.Fatalf("get mismatch: %q %+v", data, got)
	}

	if _, err := store.Head(ctx, "deltas/a"); err != nil {
		t.Fatalf("head: %v", err)
	}
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	existed, err := store.Delete(ctx, "deltas/a")
	if err != nil || !existed {
		t.Fatalf("delete: %v existed=%v", err, existed)
	}
	existed, _ = store.Delete(ctx, "deltas/a")
	if existed {
		t.Fatal("second delete reported existence")
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, key := range []string{"deltas/b", "deltas/a", "other/c"} {
		if _, err := store.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}
	infos, err := store.List(ctx, "deltas/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "deltas/a" || infos[1].Key != "deltas/b" {
		t.Fatalf("unexpected listing %+v", infos)
	}
}
