package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/clud-dev/clud/internal/appconfig"
)

func testClient(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &appconfig.Config{DaemonPort: 0}
	c := newAPIClient(cfg)
	c.baseURL = srv.URL
	return c
}

func TestAPIClientDoDecodesSuccessBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/health" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})

	var out map[string]any
	if err := c.do("GET", "/health", nil, &out); err != nil {
		t.Fatalf("do: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("out = %v, want status=ok", out)
	}
}

func TestAPIClientDoMarshalsRequestBody(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["name"] != "worker-1" {
			t.Errorf("body = %v, want name=worker-1", body)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.do("POST", "/agents", map[string]any{"name": "worker-1"}, nil); err != nil {
		t.Fatalf("do: %v", err)
	}
}

func TestAPIClientDoReturnsAPIErrorOnErrorEnvelope(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"kind": "not_found", "message": "agent not found"},
		})
	})

	err := c.do("GET", "/agents/missing", nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	apiErr, ok := err.(*apiError)
	if !ok {
		t.Fatalf("err = %T, want *apiError", err)
	}
	if apiErr.Kind != "not_found" || apiErr.Message != "agent not found" {
		t.Fatalf("apiErr = %+v, want kind=not_found message=%q", apiErr, "agent not found")
	}
}

func TestAPIClientDoWrapsUnreachableDaemon(t *testing.T) {
	cfg := &appconfig.Config{DaemonPort: 0}
	c := newAPIClient(cfg)
	c.baseURL = "http://127.0.0.1:1"

	err := c.do("GET", "/health", nil, nil)
	if err == nil {
		t.Fatal("expected error for unreachable daemon")
	}
	code, ok := exitCodeOf(err)
	if !ok || code != ExitDaemonUnreachable {
		t.Fatalf("exitCodeOf(err) = (%d, %v), want (%d, true)", code, ok, ExitDaemonUnreachable)
	}
}
