package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fleetd/fleetd/internal/carve"
	"github.com/fleetd/fleetd/internal/config"
	"github.com/fleetd/fleetd/internal/distributed"
	"github.com/fleetd/fleetd/internal/observability"
)

type ReadinessCheck func(ctx context.Context) error

type DistributedStatus interface {
	Snapshot() distributed.Snapshot
}

type CarveLister interface {
	Records() []carve.Record
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Distributed       DistributedStatus
	ActiveTransport   func() string
	Carves            CarveLister
}

type distributedResponse struct {
	distributed.Snapshot
	Transport string `json:"transport,omitempty"`
}

type carveResponse struct {
	Time      time.Time `json:"time"`
	Path      string    `json:"path"`
	RequestID string    `json:"request_id,omitempty"`
	GUID      string    `json:"carve_guid"`
	Key       string    `json:"object_key,omitempty"`
	Size      int64     `json:"size"`
	Digest    string    `json:"blake3,omitempty"`
	Status    string    `json:"status"`
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	protected := http.NewServeMux()
	protected.HandleFunc("GET /v1/distributed", func(w http.ResponseWriter, r *http.Request) {
		if deps.Distributed == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "DISTRIBUTED_DISABLED", "distributed queries are not enabled", false)
			return
		}
		response := distributedResponse{Snapshot: deps.Distributed.Snapshot()}
		if deps.ActiveTransport != nil {
			response.Transport = deps.ActiveTransport()
		}
		writeJSON(w, http.StatusOK, response)
	})

	protected.HandleFunc("GET /v1/carves", func(w http.ResponseWriter, r *http.Request) {
		if deps.Carves == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "CARVE_DISABLED", "file carving is not enabled", false)
			return
		}
		records := deps.Carves.Records()
		items := make([]carveResponse, 0, len(records))
		for _, record := range records {
			items = append(items, carveResponse{
				Time:      record.Time,
				Path:      record.Path,
				RequestID: record.RequestID,
				GUID:      record.GUID,
				Key:       record.Key,
				Size:      record.Size,
				Digest:    record.Digest,
				Status:    record.Status,
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"carves": items})
	})

	var protectedHandler http.Handler = protected
	if deps.AuthMiddleware != nil {
		protectedHandler = deps.AuthMiddleware(protectedHandler)
	}
	mux.Handle("GET /v1/distributed", protectedHandler)
	mux.Handle("GET /v1/carves", protectedHandler)

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
