package query

import "context"

const (
	TypeBigInt  = "BIGINT"
	TypeVarchar = "VARCHAR"
)

type Column struct {
	Name string
	Type string
}

// Table is a host table materialised on demand for a single query. Row values must be
// int64 or string, matching the column types.
type Table interface {
	Name() string
	Columns() []Column
	Generate(ctx context.Context, constraints Constraints) ([][]any, error)
}
