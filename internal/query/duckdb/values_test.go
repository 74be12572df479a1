package duckdb

import (
	"context"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb/v2"

	"github.com/fleetd/fleetd/internal/query"
)

func TestExecuteRendersDuckDBTypesAsText(t *testing.T) {
	engine := NewEngine()
	sqlText := `SELECT INTERVAL 1 DAY AS iv, [1, 2] AS l, gen_random_uuid() AS u, {'a': 1} AS s,
		'\xFF'::BLOB AS b, 'abc'::BLOB AS text_blob, 1.50::DECIMAL(4,2) AS d, MAP {'k': 'v'} AS m`
	result, err := engine.Execute(context.Background(), query.Request{SQL: sqlText})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(result.Rows))
	}

	got := make(map[string]string, len(result.Columns))
	for i, column := range result.Columns {
		text, ok := result.Rows[0][i].(string)
		if !ok {
			t.Fatalf("column %s = %T, want string", column, result.Rows[0][i])
		}
		if !utf8.ValidString(text) {
			t.Fatalf("column %s = %q is not valid UTF-8", column, text)
		}
		got[column] = text
	}

	want := map[string]string{
		"iv":        "1 day",
		"l":         "[1,2]",
		"s":         `{"a":1}`,
		"b":         "ff",
		"text_blob": "abc",
		"d":         "1.5",
		"m":         `{"k":"v"}`,
	}
	for column, value := range want {
		if got[column] != value {
			t.Fatalf("column %s = %q, want %q", column, got[column], value)
		}
	}
	if _, err := uuid.Parse(got["u"]); err != nil {
		t.Fatalf("uuid.Parse(%q) error = %v", got["u"], err)
	}
}

func TestFormatInterval(t *testing.T) {
	cases := []struct {
		value goduckdb.Interval
		want  string
	}{
		{value: goduckdb.Interval{}, want: "00:00:00"},
		{value: goduckdb.Interval{Days: 2}, want: "2 days"},
		{value: goduckdb.Interval{Months: 14, Days: 3, Micros: 14706500000}, want: "1 year 2 months 3 days 04:05:06.5"},
		{value: goduckdb.Interval{Micros: -1500000}, want: "-00:00:01.5"},
	}
	for _, tc := range cases {
		if got := formatInterval(tc.value); got != tc.want {
			t.Fatalf("formatInterval(%+v) = %q, want %q", tc.value, got, tc.want)
		}
	}
}

func TestNormalizeValuesUsesColumnTypes(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	values := normalizeValues([]any{id[:], []byte{0x00, 0xfe}, []any{id[:]}, nil}, []string{"UUID", "BLOB", "UUID[]"})

	if values[0] != id.String() {
		t.Fatalf("uuid = %v, want %s", values[0], id)
	}
	if values[1] != "00fe" {
		t.Fatalf("blob = %v, want 00fe", values[1])
	}
	if values[2] != `["`+id.String()+`"]` {
		t.Fatalf("uuid list = %v", values[2])
	}
	if values[3] != nil {
		t.Fatalf("null = %v, want nil", values[3])
	}
}
