// Package archive records committed turn deltas as zstd-compressed JSONL
// segments in a blob store. The archive is an observational history feed for
// replay tooling; the engine's durable state of record stays with the
// persistence adapter.
package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"bastioncore/internal/infra/blob"
	"bastioncore/pkg/domain"
)

const (
	// DefaultSegmentTurns is how many deltas a segment holds before it is
	// sealed and uploaded.
	DefaultSegmentTurns = 64

	keyPrefix   = "deltas/"
	contentType = "application/zstd"
)

// Writer batches deltas into segments and uploads each sealed segment as one
// immutable blob. Safe for concurrent use, though the engine serializes turns
// anyway.
type Writer struct {
	store        blob.Store
	segmentTurns int

	mu        sync.Mutex
	buf       bytes.Buffer
	enc       *zstd.Encoder
	w         *bufio.Writer
	count     int
	firstTurn int
	lastTurn  int
}

// NewWriter returns a Writer uploading to store. segmentTurns <= 0 selects
// DefaultSegmentTurns.
func NewWriter(store blob.Store, segmentTurns int) (*Writer, error) {
	if segmentTurns <= 0 {
		segmentTurns = DefaultSegmentTurns
	}
	w := &Writer{store: store, segmentTurns: segmentTurns}
	if err := w.resetLocked(); err != nil {
		return nil, err
	}
	return w, nil
}

// Record appends one committed delta to the open segment, sealing and
// uploading the segment once it reaches the configured size. The upload uses
// the caller's ctx, so cancellation mid-turn is visible to the blob store.
func (w *Writer) Record(ctx context.Context, delta domain.CommitDelta) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	line, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("encode delta: %w", err)
	}
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if w.count == 0 {
		w.firstTurn = delta.Turn
	}
	w.lastTurn = delta.Turn
	w.count++
	if w.count >= w.segmentTurns {
		return w.sealLocked(ctx)
	}
	return nil
}

// Flush seals and uploads the open segment even if it is short.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sealLocked(ctx)
}

// Close flushes the open segment.
func (w *Writer) Close() error {
	return w.Flush(context.Background())
}

func (w *Writer) sealLocked(ctx context.Context) error {
	if w.count == 0 {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.enc.Close(); err != nil {
		return err
	}
	key := segmentKey(w.firstTurn, w.lastTurn)
	if _, err := w.store.Put(ctx, key, bytes.NewReader(w.buf.Bytes()), blob.PutOptions{ContentType: contentType}); err != nil {
		return fmt.Errorf("upload segment %s: %w", key, err)
	}
	return w.resetLocked()
}

func (w *Writer) resetLocked() error {
	w.buf.Reset()
	enc, err := zstd.NewWriter(&w.buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return err
	}
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.count = 0
	return nil
}

// Turn ranges are zero-padded so lexical blob order equals turn order.
func segmentKey(first, last int) string {
	return fmt.Sprintf("%s%010d-%010d.jsonl.zst", keyPrefix, first, last)
}

// ReadAll decodes every archived delta in turn order.
func ReadAll(ctx context.Context, store blob.Store) ([]domain.CommitDelta, error) {
	infos, err := store.List(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	var deltas []domain.CommitDelta
	for _, info := range infos {
		if !strings.HasSuffix(info.Key, ".jsonl.zst") {
			continue
		}
		segment, err := readSegment(ctx, store, info.Key)
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, segment...)
	}
	sort.SliceStable(deltas, func(i, j int) bool { return deltas[i].Turn < deltas[j].Turn })
	return deltas, nil
}

func readSegment(ctx context.Context, store blob.Store, key string) ([]domain.CommitDelta, error) {
	_, rc, err := store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	dec, err := zstd.NewReader(rc)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", key, err)
	}
	defer dec.Close()
	var deltas []domain.CommitDelta
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var delta domain.CommitDelta
		if err := json.Unmarshal(line, &delta); err != nil {
			return nil, fmt.Errorf("decode segment %s: %w", key, err)
		}
		deltas = append(deltas, delta)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan segment %s: %w", key, err)
	}
	return deltas, nil
}
