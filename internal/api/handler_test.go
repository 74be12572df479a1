package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fleetd/fleetd/internal/auth"
	"github.com/fleetd/fleetd/internal/carve"
	"github.com/fleetd/fleetd/internal/config"
	"github.com/fleetd/fleetd/internal/distributed"
)

type staticStatus struct {
	snapshot distributed.Snapshot
}

func (s staticStatus) Snapshot() distributed.Snapshot { return s.snapshot }

type staticCarves []carve.Record

func (s staticCarves) Records() []carve.Record { return s }

func TestHealthEndpoint(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"service":"fleetd"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{
		Readiness: func(context.Context) error {
			return errors.New("state store down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["error_code"] != "NOT_READY" || body["retryable"] != true {
		t.Fatalf("body = %#v", body)
	}
}

func TestDistributedEndpointReportsSnapshot(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{
		Distributed: staticStatus{snapshot: distributed.Snapshot{
			Pending:          2,
			Completed:        1,
			CurrentRequestID: "q1",
			Stats:            distributed.Stats{Reads: 3, Writes: 2, RecoveredReads: 1},
		}},
		ActiveTransport: func() string { return "tls" },
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/distributed", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	var body struct {
		Pending          int    `json:"pending"`
		Completed        int    `json:"completed"`
		CurrentRequestID string `json:"current_request_id"`
		Transport        string `json:"transport"`
		Stats            struct {
			Reads          int `json:"reads"`
			Writes         int `json:"writes"`
			RecoveredReads int `json:"recovered_reads"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body.Pending != 2 || body.Completed != 1 || body.CurrentRequestID != "q1" || body.Transport != "tls" {
		t.Fatalf("body = %+v", body)
	}
	if body.Stats.Reads != 3 || body.Stats.Writes != 2 || body.Stats.RecoveredReads != 1 {
		t.Fatalf("stats = %+v", body.Stats)
	}
}

func TestDistributedEndpointWhenDisabled(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/distributed", nil))
	if rr.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestErrorResponsesCarryTraceID(t *testing.T) {
	validator, err := auth.NewStaticTokenValidator("ops:s3cret")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(loadConfig(t), Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Readiness: func(context.Context) error {
			return errors.New("state store down")
		},
	})

	for _, path := range []string{"/v1/ready", "/v1/distributed"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Trace-ID", "trace-42")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)

		if got := rr.Header().Get("X-Trace-ID"); got != "trace-42" {
			t.Fatalf("%s: trace header = %q, want trace-42", path, got)
		}
		var body map[string]any
		if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: json decode failed: %v", path, err)
		}
		if body["trace_id"] != "trace-42" {
			t.Fatalf("%s: body = %#v", path, body)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Header().Get("X-Trace-ID") == "" {
		t.Fatalf("expected generated trace header")
	}
}

func TestOperatorRoutesUseAuthMiddleware(t *testing.T) {
	validator, err := auth.NewStaticTokenValidator("ops:s3cret")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}
	h := NewHandler(loadConfig(t), Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Distributed:    staticStatus{},
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/distributed", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/distributed", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("auth status = %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
}

func TestCarvesEndpointListsRecords(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{
		Carves: staticCarves{{
			Time:      time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
			Path:      "/var/log/auth.log",
			RequestID: "q1",
			GUID:      "g1",
			Key:       "carves/q1/g1/auth.log",
			Size:      12,
			Status:    carve.StatusSuccess,
		}},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/carves", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"object_key":"carves/q1/g1/auth.log"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestMetricsEndpointServesPrometheusText(t *testing.T) {
	h := NewHandler(loadConfig(t), Dependencies{})
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "fleetd_http_requests_total") {
		t.Fatal("metrics output missing fleetd_http_requests_total")
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		nil,
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	if err := combined(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckObjectStoreConfig(t *testing.T) {
	cfg := loadConfig(t)
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckObjectStoreConfig() error = %v", err)
	}
	cfg.ObjectStore.Bucket = ""
	if err := CheckObjectStoreConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected error for missing bucket")
	}
}

func loadConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("fleetd", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	return cfg
}
