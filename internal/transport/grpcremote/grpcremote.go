// Package grpcremote is the gRPC transport. It speaks a two-method unary service whose
// messages are protobuf string wrappers, so no generated code is needed on either side.
package grpcremote

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/fleetd/fleetd/internal/nodekey"
)

type Config struct {
	Target     string
	Insecure   bool
	ServerName string
	Timeout    time.Duration
}

type Transport struct {
	conn    grpc.ClientConnInterface
	closer  io.Closer
	keys    nodekey.Provider
	timeout time.Duration
	logger  *slog.Logger
}

func New(cfg Config, keys nodekey.Provider, logger *slog.Logger) (*Transport, error) {
	target := strings.TrimSpace(cfg.Target)
	if target == "" {
		return nil, fmt.Errorf("grpc target is required")
	}
	creds := insecure.NewCredentials()
	if !cfg.Insecure {
		creds = credentials.NewTLS(&tls.Config{ServerName: cfg.ServerName, MinVersion: tls.VersionTLS12})
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("create grpc client: %w", err)
	}
	t, err := NewWithConn(conn, keys, cfg.Timeout, logger)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	t.closer = conn
	return t, nil
}

func NewWithConn(conn grpc.ClientConnInterface, keys nodekey.Provider, timeout time.Duration, logger *slog.Logger) (*Transport, error) {
	if conn == nil {
		return nil, fmt.Errorf("grpc connection is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("node key provider is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transport{conn: conn, keys: keys, timeout: timeout, logger: logger}, nil
}

func (t *Transport) GetQueries(ctx context.Context) (string, error) {
	ctx, key, cancel, err := t.callContext(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	out := new(wrapperspb.StringValue)
	if err := t.conn.Invoke(ctx, MethodGetQueries, wrapperspb.String(key), out); err != nil {
		return "", fmt.Errorf("grpc get queries: %w", err)
	}
	return out.GetValue(), nil
}

func (t *Transport) WriteResults(ctx context.Context, payload string) error {
	ctx, _, cancel, err := t.callContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	if err := t.conn.Invoke(ctx, MethodWriteResults, wrapperspb.String(payload), new(emptypb.Empty)); err != nil {
		return fmt.Errorf("grpc write results: %w", err)
	}
	if t.logger != nil {
		t.logger.DebugContext(ctx, "grpc results written", slog.Int("bytes", len(payload)))
	}
	return nil
}

func (t *Transport) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

func (t *Transport) callContext(ctx context.Context) (context.Context, string, context.CancelFunc, error) {
	key, err := t.keys.NodeKey(ctx)
	if err != nil {
		return nil, "", nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+key)
	return ctx, key, cancel, nil
}
