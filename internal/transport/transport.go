// Package transport defines how the agent talks to its controller. A Plugin pulls one batch
// of work as a JSON document and accepts the write-back document; concrete transports
// (tls, grpc, loadtest, mock) live in subpackages and are selected by name via Registry.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownAction     = errors.New("unknown transport action")
	ErrNoActiveTransport = errors.New("no active transport")
	ErrUnknownTransport  = errors.New("unknown transport")
)

const (
	ActionGetQueries   = "getQueries"
	ActionWriteResults = "writeResults"

	// KeyResults carries the pull payload in a getQueries response and the
	// write-back payload in a writeResults request.
	KeyResults = "results"
)

type Plugin interface {
	GetQueries(ctx context.Context) (string, error)
	WriteResults(ctx context.Context, payload string) error
}

// ActionHandler is implemented by plugins that accept actions beyond the two
// production ones, e.g. the mock's counters and forced failures.
type ActionHandler interface {
	HandleAction(ctx context.Context, action string, request Request) (Response, error)
}

type Request map[string]string

type Response map[string]string

// Dispatch routes an action-keyed request onto plugin. The "action" key selects
// the operation.
func Dispatch(ctx context.Context, plugin Plugin, request Request) (Response, error) {
	if plugin == nil {
		return nil, ErrNoActiveTransport
	}
	action := request["action"]
	switch action {
	case ActionGetQueries:
		payload, err := plugin.GetQueries(ctx)
		if err != nil {
			return nil, err
		}
		return Response{KeyResults: payload}, nil
	case ActionWriteResults:
		payload, ok := request[KeyResults]
		if !ok {
			return nil, fmt.Errorf("writeResults: missing %q field", KeyResults)
		}
		if err := plugin.WriteResults(ctx, payload); err != nil {
			return nil, err
		}
		return Response{}, nil
	}

	if handler, ok := plugin.(ActionHandler); ok {
		return handler.HandleAction(ctx, action, request)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// Registry holds named transports and forwards Plugin calls to the active one.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	active  string
}

func NewRegistry() *Registry {
	return &Registry{plugins: map[string]Plugin{}}
}

func (r *Registry) Register(name string, plugin Plugin) error {
	if name == "" {
		return fmt.Errorf("transport name is required")
	}
	if plugin == nil {
		return fmt.Errorf("transport %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("transport %q already registered", name)
	}
	r.plugins[name] = plugin
	return nil
}

func (r *Registry) SetActive(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[name]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTransport, name)
	}
	r.active = name
	return nil
}

func (r *Registry) ActiveName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Active returns the active plugin, or ErrNoActiveTransport.
func (r *Registry) Active() (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugin, ok := r.plugins[r.active]
	if !ok {
		return nil, ErrNoActiveTransport
	}
	return plugin, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) GetQueries(ctx context.Context) (string, error) {
	plugin, err := r.Active()
	if err != nil {
		return "", err
	}
	return plugin.GetQueries(ctx)
}

func (r *Registry) WriteResults(ctx context.Context, payload string) error {
	plugin, err := r.Active()
	if err != nil {
		return err
	}
	return plugin.WriteResults(ctx, payload)
}
