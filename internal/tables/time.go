package tables

import (
	"context"
	"time"

	"github.com/fleetd/fleetd/internal/query"
)

// Time reports the agent's clock as a single row.
type Time struct {
	Clock func() time.Time
}

func (t Time) Name() string { return "time" }

func (t Time) Columns() []query.Column {
	return []query.Column{
		{Name: "weekday", Type: query.TypeVarchar},
		{Name: "year", Type: query.TypeBigInt},
		{Name: "month", Type: query.TypeBigInt},
		{Name: "day", Type: query.TypeBigInt},
		{Name: "hour", Type: query.TypeBigInt},
		{Name: "minutes", Type: query.TypeBigInt},
		{Name: "seconds", Type: query.TypeBigInt},
		{Name: "timezone", Type: query.TypeVarchar},
		{Name: "unix_time", Type: query.TypeBigInt},
		{Name: "iso_8601", Type: query.TypeVarchar},
	}
}

func (t Time) Generate(context.Context, query.Constraints) ([][]any, error) {
	clock := t.Clock
	if clock == nil {
		clock = time.Now
	}
	now := clock().UTC()
	return [][]any{{
		now.Weekday().String(),
		int64(now.Year()),
		int64(now.Month()),
		int64(now.Day()),
		int64(now.Hour()),
		int64(now.Minute()),
		int64(now.Second()),
		"UTC",
		now.Unix(),
		now.Format(time.RFC3339),
	}}, nil
}
