package duckdb

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	goduckdb "github.com/marcboeker/go-duckdb/v2"
)

// normalizeValues turns driver values into scalars the result encoder can
// render as text. Composite values become JSON documents.
func normalizeValues(values []any, typeNames []string) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		typeName := ""
		if i < len(typeNames) {
			typeName = typeNames[i]
		}
		normalized[i] = normalizeValue(value, typeName)
	}
	return normalized
}

func normalizeValue(value any, typeName string) any {
	switch typed := value.(type) {
	case []any, map[string]any, goduckdb.Map:
		encoded, err := json.Marshal(jsonValue(typed, typeName))
		if err != nil {
			return fmt.Sprint(typed)
		}
		return string(encoded)
	default:
		return scalarValue(value, typeName)
	}
}

func scalarValue(value any, typeName string) any {
	switch typed := value.(type) {
	case []byte:
		return formatBytes(typed, typeName)
	case goduckdb.UUID:
		return uuid.UUID(typed).String()
	case *goduckdb.UUID:
		if typed == nil {
			return nil
		}
		return uuid.UUID(*typed).String()
	case goduckdb.Interval:
		return formatInterval(typed)
	case goduckdb.Decimal:
		if typed.Value == nil {
			return "0"
		}
		return typed.String()
	case *big.Int:
		if typed == nil {
			return nil
		}
		return typed.String()
	case goduckdb.Union:
		return normalizeValue(typed.Value, "")
	default:
		return value
	}
}

func jsonValue(value any, typeName string) any {
	switch typed := value.(type) {
	case []any:
		elementType := strings.TrimSuffix(typeName, "[]")
		if elementType == typeName {
			elementType = ""
		}
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = jsonValue(item, elementType)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = jsonValue(item, "")
		}
		return out
	case goduckdb.Map:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(scalarValue(key, ""))] = jsonValue(item, "")
		}
		return out
	case time.Time:
		return typed.UTC().Format(time.RFC3339Nano)
	default:
		return scalarValue(value, typeName)
	}
}

func formatBytes(value []byte, typeName string) string {
	if strings.EqualFold(typeName, "UUID") {
		if id, err := uuid.FromBytes(value); err == nil {
			return id.String()
		}
	}
	if utf8.Valid(value) {
		return string(value)
	}
	return hex.EncodeToString(value)
}

// formatInterval renders an interval the way DuckDB prints one, e.g.
// "1 year 2 months 3 days 04:05:06.5".
func formatInterval(value goduckdb.Interval) string {
	parts := make([]string, 0, 4)
	years, months := value.Months/12, value.Months%12
	parts = appendUnit(parts, int64(years), "year")
	parts = appendUnit(parts, int64(months), "month")
	parts = appendUnit(parts, int64(value.Days), "day")
	if value.Micros != 0 || len(parts) == 0 {
		parts = append(parts, formatClock(value.Micros))
	}
	return strings.Join(parts, " ")
}

func appendUnit(parts []string, amount int64, unit string) []string {
	if amount == 0 {
		return parts
	}
	if amount == 1 || amount == -1 {
		return append(parts, fmt.Sprintf("%d %s", amount, unit))
	}
	return append(parts, fmt.Sprintf("%d %ss", amount, unit))
}

func formatClock(micros int64) string {
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}
	const microsPerSecond = int64(time.Second / time.Microsecond)
	seconds := micros / microsPerSecond
	fraction := micros % microsPerSecond
	clock := fmt.Sprintf("%s%02d:%02d:%02d", sign, seconds/3600, seconds/60%60, seconds%60)
	if fraction == 0 {
		return clock
	}
	return clock + "." + strings.TrimRight(fmt.Sprintf("%06d", fraction), "0")
}
