package distributed

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fleetd/fleetd/internal/query"
)

// Batch is one parsed pull payload. Both lists are sorted by id.
type Batch struct {
	Queries   []QueryRequest
	Discovery []DiscoveryQuery
}

// ParseBatch decodes {"discovery": {id: sql}, "queries": {id: sql}}. An empty document
// is a batch with no work.
func ParseBatch(raw string) (Batch, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Batch{}, nil
	}
	var doc struct {
		Queries   map[string]string `json:"queries"`
		Discovery map[string]string `json:"discovery"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrParse, err)
	}

	batch := Batch{}
	for _, id := range sortedKeys(doc.Queries) {
		batch.Queries = append(batch.Queries, QueryRequest{ID: id, Query: doc.Queries[id]})
	}
	for _, id := range sortedKeys(doc.Discovery) {
		batch.Discovery = append(batch.Discovery, DiscoveryQuery{ID: id, Query: doc.Discovery[id]})
	}
	return batch, nil
}

type writeBack struct {
	Queries  map[string][]Row  `json:"queries"`
	Statuses map[string]int    `json:"statuses"`
	Messages map[string]string `json:"messages,omitempty"`
}

func encodeResults(results []QueryResult) (string, error) {
	doc := writeBack{
		Queries:  make(map[string][]Row, len(results)),
		Statuses: make(map[string]int, len(results)),
	}
	for _, result := range results {
		rows := result.Rows
		if rows == nil {
			rows = []Row{}
		}
		doc.Queries[result.Request.ID] = rows
		doc.Statuses[result.Request.ID] = result.Status
		if result.Message != "" {
			if doc.Messages == nil {
				doc.Messages = map[string]string{}
			}
			doc.Messages[result.Request.ID] = result.Message
		}
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode results: %w", err)
	}
	return string(encoded), nil
}

func rowsFromResult(result query.Result) []Row {
	rows := make([]Row, 0, len(result.Rows))
	for _, values := range result.Rows {
		row := make(Row, len(result.Columns))
		for i, column := range result.Columns {
			if i < len(values) {
				row[column] = formatValue(values[i])
			} else {
				row[column] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		if utf8.Valid(typed) {
			return string(typed)
		}
		return hex.EncodeToString(typed)
	case bool:
		if typed {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return typed.String()
	case []any, map[string]any:
		encoded, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	default:
		return fmt.Sprint(typed)
	}
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
