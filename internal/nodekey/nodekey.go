// Package nodekey supplies the enrollment secret the remote transports present to the
// controller.
package nodekey

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

const itemKey = "node_key"

var ErrNoNodeKey = errors.New("node key is not set")

type Provider interface {
	NodeKey(ctx context.Context) (string, error)
}

// Static is a fixed key, typically from FLEETD_NODE_KEY.
type Static string

func (s Static) NodeKey(context.Context) (string, error) {
	key := strings.TrimSpace(string(s))
	if key == "" {
		return "", ErrNoNodeKey
	}
	return key, nil
}

type Keyring struct {
	ring keyring.Keyring
}

func NewKeyring(ring keyring.Keyring) *Keyring {
	return &Keyring{ring: ring}
}

// OpenFile opens an encrypted file keyring under dir.
func OpenFile(dir, service, password string) (*Keyring, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("keyring dir is required")
	}
	if service == "" {
		service = "fleetd"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      service,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, fmt.Errorf("open keyring: %w", err)
	}
	return &Keyring{ring: ring}, nil
}

func (k *Keyring) NodeKey(context.Context) (string, error) {
	item, err := k.ring.Get(itemKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNoNodeKey
		}
		return "", fmt.Errorf("read node key: %w", err)
	}
	key := strings.TrimSpace(string(item.Data))
	if key == "" {
		return "", ErrNoNodeKey
	}
	return key, nil
}

func (k *Keyring) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNoNodeKey
	}
	if err := k.ring.Set(keyring.Item{Key: itemKey, Data: []byte(key), Label: "fleetd node key"}); err != nil {
		return fmt.Errorf("store node key: %w", err)
	}
	return nil
}

func (k *Keyring) Clear() error {
	if err := k.ring.Remove(itemKey); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("remove node key: %w", err)
	}
	return nil
}

// Chain returns the first provider that yields a key.
type Chain []Provider

func (c Chain) NodeKey(ctx context.Context) (string, error) {
	for _, provider := range c {
		if provider == nil {
			continue
		}
		key, err := provider.NodeKey(ctx)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrNoNodeKey) {
			return "", err
		}
	}
	return "", ErrNoNodeKey
}
