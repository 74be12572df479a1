package nodekey

import (
	"context"
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestStatic(t *testing.T) {
	key, err := Static(" abc ").NodeKey(context.Background())
	if err != nil {
		t.Fatalf("NodeKey() error = %v", err)
	}
	if key != "abc" {
		t.Fatalf("key = %q", key)
	}
	if _, err := Static("").NodeKey(context.Background()); !errors.Is(err, ErrNoNodeKey) {
		t.Fatalf("NodeKey() error = %v, want ErrNoNodeKey", err)
	}
}

func TestKeyringSetReadClear(t *testing.T) {
	ring := NewKeyring(keyring.NewArrayKeyring(nil))

	if _, err := ring.NodeKey(context.Background()); !errors.Is(err, ErrNoNodeKey) {
		t.Fatalf("NodeKey() error = %v, want ErrNoNodeKey", err)
	}
	if err := ring.Set("enrolled-1"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	key, err := ring.NodeKey(context.Background())
	if err != nil {
		t.Fatalf("NodeKey() error = %v", err)
	}
	if key != "enrolled-1" {
		t.Fatalf("key = %q", key)
	}
	if err := ring.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if err := ring.Clear(); err != nil {
		t.Fatalf("Clear() twice error = %v", err)
	}
	if _, err := ring.NodeKey(context.Background()); !errors.Is(err, ErrNoNodeKey) {
		t.Fatalf("NodeKey() after clear error = %v", err)
	}
}

func TestChainFallsThrough(t *testing.T) {
	ring := NewKeyring(keyring.NewArrayKeyring([]keyring.Item{{Key: itemKey, Data: []byte("from-ring")}}))

	key, err := Chain{Static(""), ring}.NodeKey(context.Background())
	if err != nil {
		t.Fatalf("NodeKey() error = %v", err)
	}
	if key != "from-ring" {
		t.Fatalf("key = %q", key)
	}

	key, err = Chain{Static("from-env"), ring}.NodeKey(context.Background())
	if err != nil {
		t.Fatalf("NodeKey() error = %v", err)
	}
	if key != "from-env" {
		t.Fatalf("key = %q", key)
	}

	if _, err := (Chain{}).NodeKey(context.Background()); !errors.Is(err, ErrNoNodeKey) {
		t.Fatalf("NodeKey() error = %v, want ErrNoNodeKey", err)
	}
}

func TestOpenFileRequiresDir(t *testing.T) {
	if _, err := OpenFile("", "fleetd", "pw"); err == nil {
		t.Fatal("expected error for empty dir")
	}
}
