// Package carve exposes the "carves" table. Selecting from it with path = '<file>' and
// carve = 1 uploads that file to the object store, filed under the distributed request
// that ran the query; any other select lists the carves made by this process.
package carve

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/fleetd/fleetd/internal/distributed"
	"github.com/fleetd/fleetd/internal/observability"
	"github.com/fleetd/fleetd/internal/query"
	"github.com/fleetd/fleetd/internal/storage"
)

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"

	DefaultMaxBytes = 64 << 20
)

type Record struct {
	Time      time.Time
	Path      string
	RequestID string
	GUID      string
	Key       string
	Size      int64
	Digest    string
	Status    string
}

type Table struct {
	Store    storage.ObjectStore
	MaxBytes int64
	Logger   *slog.Logger
	Clock    func() time.Time
	NewGUID  func() string

	mu      sync.Mutex
	records []Record
}

func New(store storage.ObjectStore, maxBytes int64, logger *slog.Logger) *Table {
	return &Table{Store: store, MaxBytes: maxBytes, Logger: logger}
}

func (t *Table) Name() string { return "carves" }

func (t *Table) Columns() []query.Column {
	return []query.Column{
		{Name: "time", Type: query.TypeBigInt},
		{Name: "path", Type: query.TypeVarchar},
		{Name: "carve", Type: query.TypeBigInt},
		{Name: "request_id", Type: query.TypeVarchar},
		{Name: "carve_guid", Type: query.TypeVarchar},
		{Name: "object_key", Type: query.TypeVarchar},
		{Name: "size", Type: query.TypeBigInt},
		{Name: "blake3", Type: query.TypeVarchar},
		{Name: "status", Type: query.TypeVarchar},
	}
}

func (t *Table) Generate(ctx context.Context, constraints query.Constraints) ([][]any, error) {
	paths := constraints.Values("path")
	if constraints.Has("carve", "1") && len(paths) > 0 {
		rows := make([][]any, 0, len(paths))
		for _, path := range paths {
			record := t.carve(ctx, path)
			rows = append(rows, recordRow(record, 1))
		}
		return rows, nil
	}

	wanted := map[string]struct{}{}
	for _, path := range paths {
		wanted[path] = struct{}{}
	}
	var rows [][]any
	for _, record := range t.Records() {
		if len(wanted) > 0 {
			if _, ok := wanted[record.Path]; !ok {
				continue
			}
		}
		rows = append(rows, recordRow(record, 0))
	}
	return rows, nil
}

func (t *Table) Records() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Record(nil), t.records...)
}

func (t *Table) carve(ctx context.Context, path string) Record {
	t.ensureDefaults()
	record := Record{
		Time:      t.Clock().UTC(),
		Path:      path,
		RequestID: distributed.RequestIDFromContext(ctx),
		GUID:      t.NewGUID(),
	}

	if err := t.upload(ctx, &record); err != nil {
		record.Status = fmt.Sprintf("%s: %v", StatusFailed, err)
		if t.Logger != nil {
			t.Logger.WarnContext(ctx, "carve failed",
				slog.String("path", path),
				slog.String("request_id", record.RequestID),
				slog.Any("error", err),
			)
		}
	} else {
		record.Status = StatusSuccess
		observability.AddCarvedBytes(record.Size)
		if t.Logger != nil {
			t.Logger.InfoContext(ctx, "file carved",
				slog.String("path", path),
				slog.String("request_id", record.RequestID),
				slog.String("key", record.Key),
				slog.Int64("bytes", record.Size),
			)
		}
	}

	t.mu.Lock()
	t.records = append(t.records, record)
	t.mu.Unlock()
	return record
}

func (t *Table) upload(ctx context.Context, record *Record) error {
	if t.Store == nil {
		return fmt.Errorf("object store is not configured")
	}
	file, err := os.Open(record.Path)
	if err != nil {
		return fmt.Errorf("open %q: %w", record.Path, err)
	}
	defer func() { _ = file.Close() }()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat %q: %w", record.Path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%q is a directory", record.Path)
	}

	data, err := io.ReadAll(io.LimitReader(file, t.MaxBytes+1))
	if err != nil {
		return fmt.Errorf("read %q: %w", record.Path, err)
	}
	if int64(len(data)) > t.MaxBytes {
		return fmt.Errorf("%q exceeds carve limit of %d bytes", record.Path, t.MaxBytes)
	}

	key, err := storage.BuildCarvePath(record.RequestID, record.GUID, record.Path)
	if err != nil {
		return err
	}
	sum := blake3.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	if _, err := t.Store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		Metadata: map[string]string{
			"blake3":     digest,
			"request-id": record.RequestID,
			"source":     record.Path,
		},
	}); err != nil {
		return fmt.Errorf("upload carve: %w", err)
	}

	record.Key = key
	record.Size = int64(len(data))
	record.Digest = digest
	return nil
}

func (t *Table) ensureDefaults() {
	if t.MaxBytes <= 0 {
		t.MaxBytes = DefaultMaxBytes
	}
	if t.Clock == nil {
		t.Clock = time.Now
	}
	if t.NewGUID == nil {
		t.NewGUID = uuid.NewString
	}
}

func recordRow(record Record, carve int64) []any {
	return []any{
		record.Time.Unix(),
		record.Path,
		carve,
		record.RequestID,
		record.GUID,
		record.Key,
		record.Size,
		record.Digest,
		record.Status,
	}
}
