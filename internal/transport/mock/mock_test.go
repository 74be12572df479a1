package mock

import (
	"context"
	"errors"
	"testing"

	"github.com/fleetd/fleetd/internal/transport"
)

func TestMockActionsThroughDispatch(t *testing.T) {
	ctx := context.Background()
	plugin := New()

	if _, err := transport.Dispatch(ctx, plugin, transport.Request{"action": ActionSetReadValue, "value": `{"queries":{"a":"SELECT 1"}}`}); err != nil {
		t.Fatalf("Dispatch(setMockReadValue) error = %v", err)
	}
	resp, err := transport.Dispatch(ctx, plugin, transport.Request{"action": transport.ActionGetQueries})
	if err != nil {
		t.Fatalf("Dispatch(getQueries) error = %v", err)
	}
	if resp[transport.KeyResults] != `{"queries":{"a":"SELECT 1"}}` {
		t.Fatalf("results = %q", resp[transport.KeyResults])
	}

	if _, err := transport.Dispatch(ctx, plugin, transport.Request{"action": transport.ActionWriteResults, transport.KeyResults: "one"}); err != nil {
		t.Fatalf("Dispatch(writeResults) error = %v", err)
	}
	if _, err := transport.Dispatch(ctx, plugin, transport.Request{"action": transport.ActionWriteResults}); err == nil {
		t.Fatal("expected error when results field is missing")
	}

	writes, err := transport.Dispatch(ctx, plugin, transport.Request{"action": ActionGetWrites})
	if err != nil {
		t.Fatalf("Dispatch(getMockWrites) error = %v", err)
	}
	if len(writes) != 1 || writes["W_0"] != "one" {
		t.Fatalf("writes = %#v", writes)
	}

	counters, err := transport.Dispatch(ctx, plugin, transport.Request{"action": ActionGetCounters})
	if err != nil {
		t.Fatalf("Dispatch(getMockCounters) error = %v", err)
	}
	if counters["reads"] != "1" || counters["writes"] != "1" {
		t.Fatalf("counters = %#v", counters)
	}
}

func TestMockForcedFailures(t *testing.T) {
	ctx := context.Background()
	plugin := New()

	if _, err := transport.Dispatch(ctx, plugin, transport.Request{"action": ActionSetReadStatus, "status": "1"}); err != nil {
		t.Fatalf("Dispatch(setMockReadStatus) error = %v", err)
	}
	if _, err := plugin.GetQueries(ctx); err == nil {
		t.Fatal("expected forced read failure")
	}

	if _, err := transport.Dispatch(ctx, plugin, transport.Request{"action": ActionSetWriteStatus, "status": "1"}); err != nil {
		t.Fatalf("Dispatch(setMockWriteStatus) error = %v", err)
	}
	if err := plugin.WriteResults(ctx, "lost"); err == nil {
		t.Fatal("expected forced write failure")
	}
	if got := plugin.Writes(); len(got) != 1 || got[0] != "lost" {
		t.Fatalf("Writes() = %#v", got)
	}

	if _, err := transport.Dispatch(ctx, plugin, transport.Request{"action": ActionSetWriteStatus, "status": "bad"}); err == nil {
		t.Fatal("expected status parse error")
	}
	if _, err := transport.Dispatch(ctx, plugin, transport.Request{"action": "explode"}); !errors.Is(err, transport.ErrUnknownAction) {
		t.Fatalf("Dispatch(explode) error = %v, want ErrUnknownAction", err)
	}
}
