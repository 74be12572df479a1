// Package agent assembles a running fleetd node from configuration: the durable state
// store, the query engine with its host tables, the transport registry and the
// distributed orchestrator that ties them together.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fleetd/fleetd/internal/api"
	"github.com/fleetd/fleetd/internal/auth"
	"github.com/fleetd/fleetd/internal/carve"
	"github.com/fleetd/fleetd/internal/config"
	"github.com/fleetd/fleetd/internal/distributed"
	"github.com/fleetd/fleetd/internal/kvstore"
	kvpostgres "github.com/fleetd/fleetd/internal/kvstore/postgres"
	kvsqlite "github.com/fleetd/fleetd/internal/kvstore/sqlite"
	"github.com/fleetd/fleetd/internal/migrations"
	"github.com/fleetd/fleetd/internal/nodekey"
	duckdbengine "github.com/fleetd/fleetd/internal/query/duckdb"
	"github.com/fleetd/fleetd/internal/storage"
	s3store "github.com/fleetd/fleetd/internal/storage/s3"
	"github.com/fleetd/fleetd/internal/tables"
	"github.com/fleetd/fleetd/internal/transport"
	"github.com/fleetd/fleetd/internal/transport/archive"
	"github.com/fleetd/fleetd/internal/transport/grpcremote"
	"github.com/fleetd/fleetd/internal/transport/loadtest"
	"github.com/fleetd/fleetd/internal/transport/mock"
	"github.com/fleetd/fleetd/internal/transport/remote"
)

const (
	TransportTLS      = "tls"
	TransportGRPC     = "grpc"
	TransportLoadTest = "loadtest"
	TransportMock     = "mock"
)

// Options overrides pieces that would otherwise be built from configuration.
type Options struct {
	Logger      *slog.Logger
	StateStore  kvstore.Store
	ObjectStore storage.ObjectStore
	NodeKeys    nodekey.Provider
}

type Agent struct {
	Config      config.Config
	Logger      *slog.Logger
	Store       kvstore.Store
	Engine      *duckdbengine.Engine
	Registry    *transport.Registry
	Distributed *distributed.Distributed
	Runner      *distributed.Runner
	Carves      *carve.Table
	NodeKeys    nodekey.Provider
	Keyring     *nodekey.Keyring
	Tokens      *auth.StaticTokenValidator

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, opts Options) (*Agent, error) {
	a := &Agent{Config: cfg, Logger: opts.Logger}

	tokens, err := auth.NewStaticTokenValidator(cfg.HTTP.Tokens)
	if err != nil {
		return nil, fmt.Errorf("parse FLEETD_HTTP_TOKENS: %w", err)
	}
	a.Tokens = tokens

	store := opts.StateStore
	if store == nil {
		opened, closer, err := OpenStateStore(ctx, cfg, a.Logger)
		if err != nil {
			return nil, err
		}
		store = opened
		a.addCloser(closer)
	}
	a.Store = store

	objects := opts.ObjectStore
	if objects == nil && (cfg.Archive.Enabled || cfg.Carve.Enabled) {
		opened, err := OpenObjectStore(ctx, cfg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		objects = opened
	}

	a.NodeKeys = opts.NodeKeys
	if a.NodeKeys == nil {
		keys, ring, err := OpenNodeKeys(cfg)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.NodeKeys = keys
		a.Keyring = ring
	}

	a.Engine = duckdbengine.NewEngine(
		tables.Time{},
		tables.SystemInfo{},
		tables.Peg{WorkRounds: cfg.Engine.PegWorkRounds},
	)
	if cfg.Carve.Enabled {
		a.Carves = carve.New(objects, int64(cfg.Carve.MaxBytes), a.Logger)
		a.Engine.Register(a.Carves)
	}

	registry, closers, err := BuildRegistry(cfg, a.NodeKeys, objects, a.Logger)
	for _, closer := range closers {
		a.addCloser(closer)
	}
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Registry = registry

	a.Distributed = distributed.New(registry, a.Engine, store, a.Logger)
	a.Runner = &distributed.Runner{
		Distributed: a.Distributed,
		Interval:    cfg.Distributed.Interval,
		Logger:      a.Logger,
	}
	return a, nil
}

// Run drives the distributed loop until ctx is cancelled. It returns immediately when
// distributed queries are disabled.
func (a *Agent) Run(ctx context.Context) error {
	if !a.Config.Distributed.Enabled {
		if a.Logger != nil {
			a.Logger.InfoContext(ctx, "distributed queries disabled")
		}
		return nil
	}
	if a.Logger != nil {
		a.Logger.InfoContext(ctx, "starting distributed loop",
			slog.String("transport", a.Registry.ActiveName()),
			slog.String("interval", a.Config.Distributed.Interval.String()),
		)
	}
	return a.Runner.Run(ctx)
}

func (a *Agent) Handler() http.Handler {
	checks := []api.ReadinessCheck{a.checkStateStore}
	if a.Config.Archive.Enabled || a.Config.Carve.Enabled {
		checks = append(checks, api.CheckObjectStoreConfig(a.Config))
	}
	deps := api.Dependencies{
		Logger:            a.Logger,
		Readiness:         api.CombineReadinessChecks(checks...),
		DependencyTimeout: time.Second,
		ActiveTransport:   a.Registry.ActiveName,
	}
	if a.Config.Distributed.Enabled {
		deps.Distributed = a.Distributed
	}
	if a.Carves != nil {
		deps.Carves = a.Carves
	}
	if a.Tokens.Len() > 0 {
		deps.AuthMiddleware = auth.Middleware(a.Logger, a.Tokens)
	}
	return api.NewHandler(a.Config, deps)
}

func (a *Agent) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *Agent) checkStateStore(ctx context.Context) error {
	if _, err := a.Store.Get(ctx, distributed.WorkNamespace, distributed.WorkKey); err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("state store: %w", err)
	}
	return nil
}

func (a *Agent) addCloser(closer func() error) {
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
}

// OpenStateStore opens the configured durable store. The postgres backend is migrated
// before use.
func OpenStateStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (kvstore.Store, func() error, error) {
	switch cfg.State.Backend {
	case config.StateBackendMemory:
		return kvstore.NewMemory(), nil, nil
	case config.StateBackendSQLite:
		store, err := kvsqlite.Open(ctx, cfg.State.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StateBackendPostgres:
		db, err := kvpostgres.Open(ctx, kvpostgres.DBConfig{
			DSN:             cfg.State.DSN,
			MaxOpenConns:    cfg.State.MaxOpenConns,
			MaxIdleConns:    cfg.State.MaxIdleConns,
			ConnMaxIdleTime: cfg.State.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.State.ConnMaxLifetime,
		})
		if err != nil {
			return nil, nil, err
		}
		applied, err := migrations.NewRunner().Up(ctx, db, 0)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("migrate state db: %w", err)
		}
		if applied > 0 && logger != nil {
			logger.InfoContext(ctx, "state db migrated", slog.Int("applied", applied))
		}
		return kvpostgres.NewStore(db), db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported state backend %q", cfg.State.Backend)
	}
}

func OpenObjectStore(ctx context.Context, cfg config.Config) (storage.ObjectStore, error) {
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize object store: %w", err)
	}
	return store, nil
}

// OpenNodeKeys prefers a statically configured key and falls back to the file keyring
// when a keyring directory is configured.
func OpenNodeKeys(cfg config.Config) (nodekey.Provider, *nodekey.Keyring, error) {
	chain := nodekey.Chain{}
	if cfg.NodeKey.Static != "" {
		chain = append(chain, nodekey.Static(cfg.NodeKey.Static))
	}
	var ring *nodekey.Keyring
	if cfg.NodeKey.KeyringDir != "" {
		opened, err := nodekey.OpenFile(cfg.NodeKey.KeyringDir, cfg.NodeKey.Service, cfg.NodeKey.KeyringPassword)
		if err != nil {
			return nil, nil, err
		}
		ring = opened
		chain = append(chain, ring)
	}
	return chain, ring, nil
}

// BuildRegistry registers every transport and activates the configured one. With the
// archive enabled each transport is wrapped so its write-backs are also archived.
func BuildRegistry(cfg config.Config, keys nodekey.Provider, objects storage.ObjectStore, logger *slog.Logger) (*transport.Registry, []func() error, error) {
	registry := transport.NewRegistry()
	var closers []func() error

	tlsTransport, err := remote.New(remote.Config{
		BaseURL:       cfg.Remote.BaseURL,
		ReadEndpoint:  cfg.Remote.ReadEndpoint,
		WriteEndpoint: cfg.Remote.WriteEndpoint,
		CAFile:        cfg.Remote.CAFile,
		ServerName:    cfg.Remote.ServerName,
		Timeout:       cfg.Remote.Timeout,
		Compress:      cfg.Remote.Compress,
	}, keys, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build tls transport: %w", err)
	}
	grpcTransport, err := grpcremote.New(grpcremote.Config{
		Target:     cfg.GRPC.Target,
		Insecure:   cfg.GRPC.Insecure,
		ServerName: cfg.GRPC.ServerName,
		Timeout:    cfg.GRPC.Timeout,
	}, keys, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("build grpc transport: %w", err)
	}
	closers = append(closers, grpcTransport.Close)

	plugins := map[string]transport.Plugin{
		TransportTLS:  tlsTransport,
		TransportGRPC: grpcTransport,
		TransportLoadTest: loadtest.New(loadtest.Config{
			Query:      cfg.LoadTest.Query,
			StartDelay: cfg.LoadTest.StartDelay,
		}, logger),
	}
	if cfg.Profile == config.ProfileTest {
		plugins[TransportMock] = mock.New()
	}

	for name, plugin := range plugins {
		if cfg.Archive.Enabled {
			plugin = archive.New(plugin, objects, logger)
		}
		if err := registry.Register(name, plugin); err != nil {
			return nil, closers, err
		}
	}
	if cfg.Distributed.Enabled {
		if err := registry.SetActive(cfg.Distributed.Transport); err != nil {
			return nil, closers, fmt.Errorf("activate transport %q: %w", cfg.Distributed.Transport, err)
		}
	}
	return registry, closers, nil
}
