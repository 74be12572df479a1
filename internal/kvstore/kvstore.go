// Package kvstore holds the agent's durable key/value state. Values are opaque strings
// grouped by namespace; each Set replaces the previous value atomically.
package kvstore

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("key not found")

const NamespacePersistentSettings = "persistent_settings"

type Store interface {
	Get(ctx context.Context, namespace, key string) (string, error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) error
}

type Memory struct {
	mu     sync.RWMutex
	values map[string]map[string]string
}

func NewMemory() *Memory {
	return &Memory{values: map[string]map[string]string{}}
}

func (m *Memory) Get(_ context.Context, namespace, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[namespace][key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (m *Memory) Set(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values[namespace] == nil {
		m.values[namespace] = map[string]string{}
	}
	m.values[namespace][key] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values[namespace], key)
	return nil
}
