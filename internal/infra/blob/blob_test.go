package blob

import (
	"context"
	"os"
	"testing"
)

func TestOpenSelectsMemoryDriver(t *testing.T) {
	store, err := Open(context.Background(), DriverMemory, "")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}
}

func TestOpenFilesystemDriver(t *testing.T) {
	store, err := Open(context.Background(), DriverFilesystem, t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", store.Driver())
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Driver("tape"), ""); err == nil {
		t.Fatal("expected unknown driver error")
	}
}

func TestOpenS3RequiresBucket(t *testing.T) {
	t.Setenv("BASTIONCORE_BLOB_S3_BUCKET", "")
	if err := os.Unsetenv("BASTIONCORE_BLOB_S3_BUCKET"); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}
	if _, err := Open(context.Background(), DriverS3, ""); err == nil {
		t.Fatal("expected missing bucket error")
	}
}
