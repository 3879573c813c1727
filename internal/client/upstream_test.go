package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bff-gateway/internal/config"
	"bff-gateway/internal/metrics"
	"bff-gateway/internal/model"
)

func testClient(timeoutSeconds int, m *metrics.Metrics) *UpstreamClient {
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			TimeoutSeconds:         timeoutSeconds,
			ResponseTimeoutSeconds: 30,
			IdleConnections:        10,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewUpstreamClient(cfg, logger, m)
}

func TestUpstreamClient_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	c := testClient(10, nil)

	resp, err := c.Send(&model.OutboundRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		URL:    srv.URL + "/test",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != `{"status":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"status":"ok"}`)
	}
}

func TestUpstreamClient_Send_NoInjectedHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := testClient(10, nil)
	header := http.Header{"X-Trace": {"a", "b"}}

	resp, err := c.Send(&model.OutboundRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		URL:    srv.URL + "/",
		Header: header,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_ = resp.Body.Close()

	if v := got.Values("User-Agent"); len(v) != 0 {
		t.Errorf("User-Agent = %q, want none", v)
	}
	if v := got.Values("Accept-Encoding"); len(v) != 0 {
		t.Errorf("Accept-Encoding = %q, want none", v)
	}
	if v := got.Values("X-Trace"); len(v) != 2 || v[0] != "a" || v[1] != "b" {
		t.Errorf("X-Trace = %q, want [a b]", v)
	}
	if _, ok := header["User-Agent"]; ok {
		t.Error("Send() mutated the caller's header map")
	}
}

func TestUpstreamClient_Send_KeepsCallerUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := testClient(10, nil)
	resp, err := c.Send(&model.OutboundRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		URL:    srv.URL + "/",
		Header: http.Header{"User-Agent": {"Mozilla/5.0"}},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_ = resp.Body.Close()

	if ua != "Mozilla/5.0" {
		t.Errorf("User-Agent = %q, want %q", ua, "Mozilla/5.0")
	}
}

func TestUpstreamClient_Send_BodyAndHost(t *testing.T) {
	var (
		gotBody   string
		gotLength int64
		gotHost   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotLength = r.ContentLength
		gotHost = r.Host
	}))
	defer srv.Close()

	c := testClient(10, nil)
	resp, err := c.Send(&model.OutboundRequest{
		Ctx:           context.Background(),
		Method:        http.MethodPost,
		URL:           srv.URL + "/api/analyze",
		Host:          "dashboard.local:3000",
		Header:        http.Header{"Content-Type": {"text/plain"}},
		ContentLength: 5,
		Body:          io.NopCloser(strings.NewReader("hello")),
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	_ = resp.Body.Close()

	if gotBody != "hello" {
		t.Errorf("body = %q, want %q", gotBody, "hello")
	}
	if gotLength != 5 {
		t.Errorf("ContentLength = %d, want 5", gotLength)
	}
	if gotHost != "dashboard.local:3000" {
		t.Errorf("Host = %q, want %q", gotHost, "dashboard.local:3000")
	}
}

func TestUpstreamClient_Send_DoesNotFollowRedirects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/final" {
			t.Error("redirect was followed")
		}
		http.Redirect(w, r, "/final", http.StatusFound)
	}))
	defer srv.Close()

	c := testClient(10, nil)
	resp, err := c.Send(&model.OutboundRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		URL:    srv.URL + "/start",
		Header: http.Header{},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/final" {
		t.Errorf("Location = %q, want %q", loc, "/final")
	}
}

func TestUpstreamClient_Send_CompressedBodyUntouched(t *testing.T) {
	raw := []byte{0x1f, 0x8b, 0x08, 0x00, 0x01, 0x02}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write(raw)
	}))
	defer srv.Close()

	c := testClient(10, nil)
	resp, err := c.Send(&model.OutboundRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		URL:    srv.URL + "/",
		Header: http.Header{"Accept-Encoding": {"gzip"}},
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != string(raw) {
		t.Errorf("body = %x, want %x", body, raw)
	}
	if resp.Header.Get("Content-Encoding") != "gzip" {
		t.Error("Content-Encoding header dropped")
	}
}

func TestUpstreamClient_Send_Error(t *testing.T) {
	c := testClient(1, nil)

	_, err := c.Send(&model.OutboundRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		URL:    "http://127.0.0.1:1/nonexistent",
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Send() expected error for unreachable host, got nil")
	}
}

func TestUpstreamClient_Send_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simulate a slow upstream; the request should be canceled before this completes.
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := testClient(30, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	_, err := c.Send(&model.OutboundRequest{
		Ctx:    ctx,
		Method: http.MethodGet,
		URL:    srv.URL + "/slow",
		Header: http.Header{},
	})
	if err == nil {
		t.Fatal("Send() expected error for canceled context, got nil")
	}
}

func TestUpstreamClient_Do_RecordsMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := metrics.New()
	c := testClient(10, m)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/missing", http.NoBody)
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	_ = resp.Body.Close()

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "bff_gateway_upstream_responses_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			labels := make(map[string]string)
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["status_code"] == "404" && labels["method"] == "GET" {
				return
			}
		}
	}
	t.Error("expected bff_gateway_upstream_responses_total with method=GET, status_code=404")
}

func TestUpstreamClient_Probe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Errorf("probe path = %q, want /", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"message":"Backend is running!"}`))
	}))
	defer srv.Close()

	c := testClient(10, nil)
	status, err := c.Probe(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("status = %d, want %d", status, http.StatusOK)
	}
}
