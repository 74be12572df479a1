package tables

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/fleetd/fleetd/internal/query"
)

type SystemInfo struct{}

func (SystemInfo) Name() string { return "system_info" }

func (SystemInfo) Columns() []query.Column {
	return []query.Column{
		{Name: "hostname", Type: query.TypeVarchar},
		{Name: "cpu_count", Type: query.TypeBigInt},
		{Name: "os", Type: query.TypeVarchar},
		{Name: "arch", Type: query.TypeVarchar},
	}
}

func (SystemInfo) Generate(context.Context, query.Constraints) ([][]any, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("read hostname: %w", err)
	}
	return [][]any{{hostname, int64(runtime.NumCPU()), runtime.GOOS, runtime.GOARCH}}, nil
}
