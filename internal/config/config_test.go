package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("fleetd", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != "127.0.0.1:9310" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.State.Backend != StateBackendSQLite {
		t.Fatalf("State.Backend = %q", cfg.State.Backend)
	}
	if !cfg.Distributed.Enabled || cfg.Distributed.Transport != "tls" {
		t.Fatalf("Distributed = %+v", cfg.Distributed)
	}
	if cfg.Distributed.Interval != time.Minute {
		t.Fatalf("Distributed.Interval = %s", cfg.Distributed.Interval)
	}
	if cfg.Remote.ReadEndpoint != "/distributed_read" || cfg.Remote.WriteEndpoint != "/distributed_write" {
		t.Fatalf("Remote endpoints = %q / %q", cfg.Remote.ReadEndpoint, cfg.Remote.WriteEndpoint)
	}
	if cfg.LoadTest.Query != "SELECT * FROM peg;" {
		t.Fatalf("LoadTest.Query = %q", cfg.LoadTest.Query)
	}
	if cfg.LoadTest.StartDelay != 10*time.Second {
		t.Fatalf("LoadTest.StartDelay = %s", cfg.LoadTest.StartDelay)
	}
	if cfg.Archive.Enabled || cfg.Carve.Enabled {
		t.Fatal("archive and carve should default to disabled")
	}
}

func TestLoadTestProfileDefaults(t *testing.T) {
	cfg, err := Load("fleetd", mapLookup(map[string]string{"FLEETD_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.State.Backend != StateBackendMemory {
		t.Fatalf("State.Backend = %q", cfg.State.Backend)
	}
	if cfg.Observability.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Engine.PegWorkRounds != 10 {
		t.Fatalf("Engine.PegWorkRounds = %d", cfg.Engine.PegWorkRounds)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("fleetd", mapLookup(map[string]string{"FLEETD_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Remote.Compress {
		t.Fatal("Remote.Compress should default to true in prod")
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"FLEETD_PROFILE":               "test",
		"FLEETD_HTTP_ADDR":             ":9999",
		"FLEETD_HTTP_READ_TIMEOUT":     "2s",
		"FLEETD_HTTP_TOKENS":           "ops:t0ken",
		"FLEETD_LOG_LEVEL":             "error",
		"FLEETD_SERVICE_NAME":          "fleetd-custom",
		"FLEETD_STATE_BACKEND":         "Postgres",
		"FLEETD_STATE_DSN":             "postgres://example",
		"FLEETD_STATE_MAX_OPEN_CONNS":  "42",
		"FLEETD_DISTRIBUTED_TRANSPORT": "grpc",
		"FLEETD_DISTRIBUTED_INTERVAL":  "15s",
		"FLEETD_REMOTE_BASE_URL":       "https://controller.example.com",
		"FLEETD_REMOTE_COMPRESS":       "true",
		"FLEETD_GRPC_TARGET":           "controller.example.com:443",
		"FLEETD_GRPC_INSECURE":         "true",
		"FLEETD_LOADTEST_START_DELAY":  "1s",
		"FLEETD_NODE_KEY":              "node-key-1",
		"FLEETD_OBJECTSTORE_BUCKET":    "fleet-prod",
		"FLEETD_ARCHIVE_ENABLED":       "true",
		"FLEETD_CARVE_ENABLED":         "true",
		"FLEETD_CARVE_MAX_BYTES":       "1024",
	})
	cfg, err := Load("fleetd", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "fleetd-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.Tokens != "ops:t0ken" {
		t.Fatalf("HTTP.Tokens = %q", cfg.HTTP.Tokens)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.State.Backend != StateBackendPostgres {
		t.Fatalf("State.Backend = %q", cfg.State.Backend)
	}
	if cfg.State.DSN != "postgres://example" || cfg.State.MaxOpenConns != 42 {
		t.Fatalf("State = %+v", cfg.State)
	}
	if cfg.Distributed.Transport != "grpc" || cfg.Distributed.Interval != 15*time.Second {
		t.Fatalf("Distributed = %+v", cfg.Distributed)
	}
	if cfg.Remote.BaseURL != "https://controller.example.com" || !cfg.Remote.Compress {
		t.Fatalf("Remote = %+v", cfg.Remote)
	}
	if cfg.GRPC.Target != "controller.example.com:443" || !cfg.GRPC.Insecure {
		t.Fatalf("GRPC = %+v", cfg.GRPC)
	}
	if cfg.LoadTest.StartDelay != time.Second {
		t.Fatalf("LoadTest.StartDelay = %s", cfg.LoadTest.StartDelay)
	}
	if cfg.NodeKey.Static != "node-key-1" {
		t.Fatalf("NodeKey.Static = %q", cfg.NodeKey.Static)
	}
	if cfg.ObjectStore.Bucket != "fleet-prod" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if !cfg.Archive.Enabled || !cfg.Carve.Enabled || cfg.Carve.MaxBytes != 1024 {
		t.Fatalf("Archive/Carve = %+v / %+v", cfg.Archive, cfg.Carve)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"FLEETD_PROFILE": "oops"},
		{"FLEETD_HTTP_READ_TIMEOUT": "NaN"},
		{"FLEETD_STATE_MAX_OPEN_CONNS": "oops"},
		{"FLEETD_STATE_BACKEND": "rocksdb"},
		{"FLEETD_DISTRIBUTED_ENABLED": "not-bool"},
		{"FLEETD_DISTRIBUTED_TRANSPORT": ""},
		{"FLEETD_DISTRIBUTED_INTERVAL": "0s"},
		{"FLEETD_CARVE_MAX_BYTES": "lots"},
		{"FLEETD_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("fleetd", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestParseFileLookupAndChain(t *testing.T) {
	fileLookup, err := ParseFileLookup([]byte(`
FLEETD_DISTRIBUTED_TRANSPORT: loadtest
FLEETD_REMOTE_COMPRESS: true
FLEETD_CARVE_MAX_BYTES: 2048
FLEETD_HTTP_ADDR: ":7000"
`))
	if err != nil {
		t.Fatalf("ParseFileLookup() error = %v", err)
	}

	env := mapLookup(map[string]string{"FLEETD_HTTP_ADDR": ":8000"})
	cfg, err := Load("fleetd", ChainLookup(env, fileLookup))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Distributed.Transport != "loadtest" {
		t.Fatalf("Distributed.Transport = %q", cfg.Distributed.Transport)
	}
	if !cfg.Remote.Compress {
		t.Fatal("Remote.Compress = false, want true")
	}
	if cfg.Carve.MaxBytes != 2048 {
		t.Fatalf("Carve.MaxBytes = %d", cfg.Carve.MaxBytes)
	}
	if cfg.HTTP.Address != ":8000" {
		t.Fatalf("HTTP.Address = %q, environment should win over file", cfg.HTTP.Address)
	}
}

func TestParseFileLookupRejectsForeignKeys(t *testing.T) {
	if _, err := ParseFileLookup([]byte("HOME: /root\n")); err == nil {
		t.Fatal("expected error for key without FLEETD_ prefix")
	}
	if _, err := ParseFileLookup([]byte("FLEETD_HTTP_ADDR: [1, 2]\n")); err == nil {
		t.Fatal("expected error for non-scalar value")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
