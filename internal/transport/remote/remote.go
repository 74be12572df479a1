// Package remote is the HTTPS transport: the agent POSTs its node key to the controller's
// read endpoint to receive work and POSTs the write-back document to the write endpoint.
package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/fleetd/fleetd/internal/nodekey"
)

const maxResponseBytes = 16 << 20

var ErrNodeInvalid = errors.New("controller rejected node key")

type Config struct {
	BaseURL       string
	ReadEndpoint  string
	WriteEndpoint string
	CAFile        string
	ServerName    string
	Timeout       time.Duration
	Compress      bool
}

type Transport struct {
	cfg    Config
	client *http.Client
	keys   nodekey.Provider
	logger *slog.Logger
}

func New(cfg Config, keys nodekey.Provider, logger *slog.Logger) (*Transport, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: cfg.ServerName,
	}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("ca file %q has no certificates", cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     tlsConfig,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        4,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return NewWithClient(cfg, client, keys, logger)
}

func NewWithClient(cfg Config, client *http.Client, keys nodekey.Provider, logger *slog.Logger) (*Transport, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base url is required")
	}
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if keys == nil {
		return nil, fmt.Errorf("node key provider is required")
	}
	if cfg.ReadEndpoint == "" {
		cfg.ReadEndpoint = "/distributed_read"
	}
	if cfg.WriteEndpoint == "" {
		cfg.WriteEndpoint = "/distributed_write"
	}
	return &Transport{cfg: cfg, client: client, keys: keys, logger: logger}, nil
}

func (t *Transport) GetQueries(ctx context.Context) (string, error) {
	key, err := t.keys.NodeKey(ctx)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(map[string]string{"node_key": key})
	if err != nil {
		return "", fmt.Errorf("encode read request: %w", err)
	}
	resp, err := t.post(ctx, t.cfg.ReadEndpoint, body)
	if err != nil {
		return "", err
	}
	if err := checkNodeInvalid(resp); err != nil {
		return "", err
	}
	return string(resp), nil
}

func (t *Transport) WriteResults(ctx context.Context, payload string) error {
	key, err := t.keys.NodeKey(ctx)
	if err != nil {
		return err
	}
	doc := map[string]json.RawMessage{}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return fmt.Errorf("decode write-back payload: %w", err)
	}
	encodedKey, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("encode node key: %w", err)
	}
	doc["node_key"] = encodedKey

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode write request: %w", err)
	}
	resp, err := t.post(ctx, t.cfg.WriteEndpoint, body)
	if err != nil {
		return err
	}
	return checkNodeInvalid(resp)
}

func (t *Transport) post(ctx context.Context, endpoint string, body []byte) ([]byte, error) {
	reqBody := body
	if t.cfg.Compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return nil, fmt.Errorf("compress request: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress request: %w", err)
		}
		reqBody = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.cfg.Compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	started := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", endpoint, err)
	}
	if t.logger != nil {
		t.logger.DebugContext(ctx, "controller request",
			slog.String("endpoint", endpoint),
			slog.Int("status", resp.StatusCode),
			slog.Int("request_bytes", len(reqBody)),
			slog.Int("response_bytes", len(payload)),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("post %s: status %d: %s", endpoint, resp.StatusCode, snippet(payload))
	}
	return payload, nil
}

func checkNodeInvalid(body []byte) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var envelope struct {
		NodeInvalid bool `json:"node_invalid"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Non-object bodies are left for the caller to parse.
		return nil
	}
	if envelope.NodeInvalid {
		return ErrNodeInvalid
	}
	return nil
}

func snippet(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > 256 {
		return text[:256] + "..."
	}
	return text
}
