package distributed

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/fleetd/fleetd/internal/query"
)

func TestParseBatchSortsIDs(t *testing.T) {
	batch, err := ParseBatch(`{"discovery":{"z":"SELECT 1","a":"SELECT 2"},"queries":{"b":"SELECT 3","a":"SELECT 4"}}`)
	if err != nil {
		t.Fatalf("ParseBatch() error = %v", err)
	}
	if len(batch.Queries) != 2 || batch.Queries[0].ID != "a" || batch.Queries[1].Query != "SELECT 3" {
		t.Fatalf("Queries = %+v", batch.Queries)
	}
	if len(batch.Discovery) != 2 || batch.Discovery[0].ID != "a" {
		t.Fatalf("Discovery = %+v", batch.Discovery)
	}
}

func TestParseBatchRejectsMalformedJSON(t *testing.T) {
	for _, raw := range []string{`{`, `[]`, `{"queries":{"a":1}}`} {
		if _, err := ParseBatch(raw); !errors.Is(err, ErrParse) {
			t.Fatalf("ParseBatch(%q) error = %v, want ErrParse", raw, err)
		}
	}
}

func TestRowsFromResultRendersStrings(t *testing.T) {
	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	rows := rowsFromResult(query.Result{
		Columns: []string{"n", "f", "b", "s", "raw", "null", "ts"},
		Rows:    [][]any{{int64(7), 1.5, true, "x", []byte("y"), nil, ts}},
	})
	want := Row{"n": "7", "f": "1.5", "b": "1", "s": "x", "raw": "y", "null": "", "ts": "2026-10-18T12:00:00Z"}
	if len(rows) != 1 {
		t.Fatalf("rows = %#v", rows)
	}
	for column, value := range want {
		if rows[0][column] != value {
			t.Fatalf("%s = %q, want %q", column, rows[0][column], value)
		}
	}
}

func TestRowsFromResultRendersBinaryAndCompositeValues(t *testing.T) {
	rows := rowsFromResult(query.Result{
		Columns: []string{"blob", "list", "struct"},
		Rows:    [][]any{{[]byte{0xff, 0x00, 0x10}, []any{int32(1), int32(2)}, map[string]any{"a": int32(1)}}},
	})
	want := Row{"blob": "ff0010", "list": "[1,2]", "struct": `{"a":1}`}
	for column, value := range want {
		if rows[0][column] != value {
			t.Fatalf("%s = %q, want %q", column, rows[0][column], value)
		}
	}

	payload, err := encodeResults([]QueryResult{{
		Request: QueryRequest{ID: "bin"},
		Rows:    rows,
		State:   StateCompleted,
	}})
	if err != nil {
		t.Fatalf("encodeResults() error = %v", err)
	}
	if !utf8.ValidString(payload) || strings.Contains(payload, "\ufffd") || strings.ContainsRune(payload, utf8.RuneError) {
		t.Fatalf("payload = %q, want lossless UTF-8", payload)
	}
}

func TestEncodeResultsEmptyRowsAsArray(t *testing.T) {
	payload, err := encodeResults([]QueryResult{
		completedResult(QueryRequest{ID: "i"}, StatusInterrupted),
		{Request: QueryRequest{ID: "e"}, Status: StatusExecutionError, Message: "bad", State: StateCompleted},
	})
	if err != nil {
		t.Fatalf("encodeResults() error = %v", err)
	}
	want := `{"queries":{"e":[],"i":[]},"statuses":{"e":1,"i":9},"messages":{"e":"bad"}}`
	if payload != want {
		t.Fatalf("payload = %s, want %s", payload, want)
	}
}
