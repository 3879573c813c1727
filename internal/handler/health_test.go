package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"bff-gateway/internal/client"
	"bff-gateway/internal/config"
)

func newTestHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHealthHandler(cfg, v, client.NewUpstreamClient(cfg, logger, nil), logger)
}

func TestHealthz(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newTestHealthHandler(testConfig("http://localhost:8000"), "test")
	if err := h.Healthz(c); err != nil {
		t.Fatalf("Healthz() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want %q", body["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		upstream   int
		wantStatus int
		wantBody   string
	}{
		{"upstream ok", http.StatusOK, http.StatusOK, "ok"},
		{"upstream 404 still reachable", http.StatusNotFound, http.StatusOK, "ok"},
		{"upstream 502", http.StatusBadGateway, http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.upstream)
			}))
			defer upstream.Close()

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			h := newTestHealthHandler(testConfig(upstream.URL), "test")
			if err := h.Readyz(c); err != nil {
				t.Fatalf("Readyz() error = %v", err)
			}

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["status"] != tt.wantBody {
				t.Errorf("status = %v, want %q", body["status"], tt.wantBody)
			}
			if body["upstream_status"] != float64(tt.upstream) {
				t.Errorf("upstream_status = %v, want %d", body["upstream_status"], tt.upstream)
			}
		})
	}
}

func TestReadyz_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newTestHealthHandler(testConfig("http://"+addr), "test")
	if err := h.Readyz(c); err != nil {
		t.Fatalf("Readyz() error = %v", err)
	}

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestStatus(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/-/status", http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := newTestHealthHandler(testConfig("http://analysis.internal:8000"), "1.2.3")
	if err := h.Status(c); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var body struct {
		Status      string   `json:"status"`
		Version     string   `json:"version"`
		UpstreamURL string   `json:"upstream_url"`
		Prefix      string   `json:"prefix"`
		Methods     []string `json:"methods"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	if body.Version != "1.2.3" {
		t.Errorf("version = %q, want %q", body.Version, "1.2.3")
	}
	if body.UpstreamURL != "http://analysis.internal:8000" {
		t.Errorf("upstream_url = %q", body.UpstreamURL)
	}
	if body.Prefix != "/api/proxy" {
		t.Errorf("prefix = %q, want %q", body.Prefix, "/api/proxy")
	}
	if len(body.Methods) != 4 {
		t.Errorf("methods = %v, want 4 entries", body.Methods)
	}
}
