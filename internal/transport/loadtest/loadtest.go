// Package loadtest is a synthetic transport that hands the agent one expensive query after
// a start delay, to exercise the execution path under load.
package loadtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultQuery      = "SELECT * FROM peg;"
	DefaultStartDelay = 10 * time.Second
)

type Config struct {
	Query      string
	StartDelay time.Duration
}

type Transport struct {
	Config Config
	Logger *slog.Logger
	Clock  func() time.Time
	NewID  func() string

	once    sync.Once
	mu      sync.Mutex
	started time.Time
	emitted bool
}

func New(cfg Config, logger *slog.Logger) *Transport {
	t := &Transport{Config: cfg, Logger: logger}
	t.ensureDefaults()
	return t
}

// GetQueries returns "" until StartDelay has elapsed since the first call or construction,
// then one batch, then "" forever.
func (t *Transport) GetQueries(ctx context.Context) (string, error) {
	t.ensureDefaults()
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.Clock()
	if t.emitted || now.Sub(t.started) < t.Config.StartDelay {
		return "", nil
	}
	t.emitted = true

	id := "loadtest_" + t.NewID()
	payload, err := json.Marshal(map[string]map[string]string{
		"queries": {id: t.Config.Query},
	})
	if err != nil {
		return "", fmt.Errorf("encode loadtest batch: %w", err)
	}
	if t.Logger != nil {
		t.Logger.WarnContext(ctx, "loadtest batch emitted", slog.String("query_id", id), slog.String("query", t.Config.Query))
	}
	return string(payload), nil
}

func (t *Transport) WriteResults(ctx context.Context, payload string) error {
	if t.Logger != nil {
		t.Logger.WarnContext(ctx, "loadtest results received", slog.Int("bytes", len(payload)))
	}
	return nil
}

func (t *Transport) ensureDefaults() {
	t.once.Do(func() {
		if t.Config.Query == "" {
			t.Config.Query = DefaultQuery
		}
		if t.Config.StartDelay <= 0 {
			t.Config.StartDelay = DefaultStartDelay
		}
		if t.Clock == nil {
			t.Clock = func() time.Time { return time.Now().UTC() }
		}
		if t.NewID == nil {
			t.NewID = uuid.NewString
		}
		t.started = t.Clock()
	})
}
