// Package archive wraps a transport and keeps a parquet copy of every write-back in the
// object store, whether or not the controller accepted it.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/fleetd/fleetd/internal/observability"
	"github.com/fleetd/fleetd/internal/storage"
	"github.com/fleetd/fleetd/internal/transport"
)

type Transport struct {
	Next   transport.Plugin
	Store  storage.ObjectStore
	Logger *slog.Logger
	Clock  func() time.Time
}

func New(next transport.Plugin, store storage.ObjectStore, logger *slog.Logger) *Transport {
	return &Transport{Next: next, Store: store, Logger: logger}
}

func (t *Transport) GetQueries(ctx context.Context) (string, error) {
	return t.Next.GetQueries(ctx)
}

// WriteResults delivers through Next, then archives. Archive failures are logged and
// never change the delivery result.
func (t *Transport) WriteResults(ctx context.Context, payload string) error {
	err := t.Next.WriteResults(ctx, payload)
	if archiveErr := t.archive(ctx, payload, err == nil); archiveErr != nil && t.Logger != nil {
		t.Logger.WarnContext(ctx, "archive write-back failed", slog.Any("error", archiveErr))
	}
	return err
}

func (t *Transport) HandleAction(ctx context.Context, action string, request transport.Request) (transport.Response, error) {
	return transport.Dispatch(ctx, t.Next, request)
}

func (t *Transport) archive(ctx context.Context, payload string, delivered bool) (err error) {
	defer func() { observability.ObserveArchiveWrite(err) }()
	if t.Store == nil {
		return fmt.Errorf("object store is required")
	}
	clock := t.Clock
	if clock == nil {
		clock = time.Now
	}
	flushedAt := clock().UTC()

	encoded, err := EncodeWriteBack(payload, delivered, flushedAt)
	if err != nil {
		return err
	}
	key := storage.BuildArchivePath(flushedAt)
	if _, err := t.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	}); err != nil {
		return fmt.Errorf("store archive %q: %w", key, err)
	}
	if t.Logger != nil {
		t.Logger.DebugContext(ctx, "write-back archived", slog.String("key", key), slog.Int64("rows", encoded.RecordCount))
	}
	return nil
}

type EncodeResult struct {
	Data        []byte
	RecordCount int64
}

type archiveRow struct {
	QueryID     string `parquet:"query_id"`
	Status      int64  `parquet:"status"`
	RowIndex    int64  `parquet:"row_index"`
	RowJSON     string `parquet:"row_json"`
	Delivered   bool   `parquet:"delivered"`
	FlushedAtMs int64  `parquet:"flushed_at_ms"`
}

// EncodeWriteBack flattens a write-back document to one parquet row per result row. A
// query with no rows gets a single row with row_index -1 so it stays visible.
func EncodeWriteBack(payload string, delivered bool, flushedAt time.Time) (EncodeResult, error) {
	var doc struct {
		Queries  map[string][]json.RawMessage `json:"queries"`
		Statuses map[string]int64             `json:"statuses"`
	}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return EncodeResult{}, fmt.Errorf("decode write-back: %w", err)
	}

	ids := make([]string, 0, len(doc.Queries))
	for id := range doc.Queries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	flushedAtMs := flushedAt.UTC().UnixMilli()
	rows := make([]archiveRow, 0, len(ids))
	for _, id := range ids {
		base := archiveRow{QueryID: id, Status: doc.Statuses[id], Delivered: delivered, FlushedAtMs: flushedAtMs}
		if len(doc.Queries[id]) == 0 {
			base.RowIndex = -1
			rows = append(rows, base)
			continue
		}
		for i, raw := range doc.Queries[id] {
			row := base
			row.RowIndex = int64(i)
			row.RowJSON = string(raw)
			rows = append(rows, row)
		}
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[archiveRow](buf)
	if _, err := writer.Write(rows); err != nil {
		return EncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return EncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return EncodeResult{Data: buf.Bytes(), RecordCount: int64(len(rows))}, nil
}
