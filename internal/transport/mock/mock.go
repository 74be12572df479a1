// Package mock is an in-memory transport for tests. Reads return a configurable payload,
// every write is recorded, and either side can be forced to fail.
package mock

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/fleetd/fleetd/internal/transport"
)

const (
	ActionGetWrites      = "getMockWrites"
	ActionGetCounters    = "getMockCounters"
	ActionSetReadValue   = "setMockReadValue"
	ActionSetReadStatus  = "setMockReadStatus"
	ActionSetWriteStatus = "setMockWriteStatus"
)

type Transport struct {
	mu          sync.Mutex
	readValue   string
	readStatus  int
	writeStatus int
	reads       int
	writes      []string
}

func New() *Transport {
	return &Transport{}
}

func (t *Transport) GetQueries(context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reads++
	if t.readStatus != 0 {
		return "", fmt.Errorf("mock read failed with status %d", t.readStatus)
	}
	return t.readValue, nil
}

// WriteResults records payload even when the forced write status makes the call fail,
// so tests can see what would have been delivered.
func (t *Transport) WriteResults(_ context.Context, payload string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = append(t.writes, payload)
	if t.writeStatus != 0 {
		return fmt.Errorf("mock write failed with status %d", t.writeStatus)
	}
	return nil
}

func (t *Transport) SetReadValue(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readValue = value
}

func (t *Transport) SetReadStatus(status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readStatus = status
}

func (t *Transport) SetWriteStatus(status int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeStatus = status
}

func (t *Transport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

func (t *Transport) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}

func (t *Transport) HandleAction(_ context.Context, action string, request transport.Request) (transport.Response, error) {
	switch action {
	case ActionGetWrites:
		writes := t.Writes()
		resp := make(transport.Response, len(writes))
		for i, payload := range writes {
			resp[fmt.Sprintf("W_%d", i)] = payload
		}
		return resp, nil
	case ActionGetCounters:
		return transport.Response{
			"reads":  strconv.Itoa(t.Reads()),
			"writes": strconv.Itoa(len(t.Writes())),
		}, nil
	case ActionSetReadValue:
		t.SetReadValue(request["value"])
		return transport.Response{}, nil
	case ActionSetReadStatus, ActionSetWriteStatus:
		status, err := strconv.Atoi(request["status"])
		if err != nil {
			return nil, fmt.Errorf("parse mock status %q: %w", request["status"], err)
		}
		if action == ActionSetReadStatus {
			t.SetReadStatus(status)
		} else {
			t.SetWriteStatus(status)
		}
		return transport.Response{}, nil
	}
	return nil, fmt.Errorf("%w: %q", transport.ErrUnknownAction, action)
}
