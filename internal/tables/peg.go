package tables

import (
	"context"
	"time"

	"github.com/zeebo/blake3"

	"github.com/fleetd/fleetd/internal/query"
)

const pegRowCount = 100

var pegContent = []byte("Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor " +
	"incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation " +
	"ullamco laboris nisi ut aliquip ex ea commodo consequat.")

// Peg burns CPU on purpose; it is the default target of the load-test transport.
type Peg struct {
	WorkRounds int
	Clock      func() time.Time
}

func (p Peg) Name() string { return "peg" }

func (p Peg) Columns() []query.Column {
	return []query.Column{
		{Name: "ts1", Type: query.TypeBigInt},
		{Name: "ts2", Type: query.TypeBigInt},
	}
}

func (p Peg) Generate(ctx context.Context, _ query.Constraints) ([][]any, error) {
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	rows := make([][]any, 0, pegRowCount)
	for i := 0; i < pegRowCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ts1 := clock().Unix()
		burn(p.WorkRounds)
		rows = append(rows, []any{ts1, clock().Unix()})
	}
	return rows, nil
}

func burn(rounds int) {
	for i := 0; i < rounds; i++ {
		_ = blake3.Sum256(pegContent)
	}
}
