package runpod

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// --- helpers ---

func runpodServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func newTestClient(t *testing.T, baseURL string) *HTTPClient {
	t.Helper()
	return NewHTTPClient(baseURL, 5*time.Second).WithAPIKey("rp_test_key")
}

// --- ListPods tests ---

func TestListPods_ReturnsRawArray(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pods" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer rp_test_key" {
			t.Errorf("unexpected authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"pod-1","name":"piper-a"},{"id":"pod-2","gpu":{"count":2}}]`))
	})
	defer ts.Close()

	pods, err := newTestClient(t, ts.URL).ListPods(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pods) != 2 {
		t.Fatalf("expected 2 pods, got %d", len(pods))
	}
	if string(pods[1]) != `{"id":"pod-2","gpu":{"count":2}}` {
		t.Errorf("pod body was not passed through verbatim: %s", pods[1])
	}
}

func TestListPods_NonArrayBodyYieldsEmptyList(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pods":"unexpected"}`))
	})
	defer ts.Close()

	pods, err := newTestClient(t, ts.URL).ListPods(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pods == nil || len(pods) != 0 {
		t.Errorf("expected empty non-nil list, got %v", pods)
	}
}

func TestListPods_MissingKey(t *testing.T) {
	called := false
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, time.Second).ListPods(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if called {
		t.Error("provider must not be called without a key")
	}
}

// --- GetPod tests ---

func TestGetPod_NotFound(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pods/missing" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"pod not found"}`))
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetPod(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected *UpstreamError, got %T", err)
	}
	body, ok := upstream.Body.(map[string]any)
	if !ok || body["error"] != "pod not found" {
		t.Errorf("unexpected error body: %v", upstream.Body)
	}
}

func TestGetPod_UnparsableErrorBody(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetPod(context.Background(), "pod-1")

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", upstream.Status)
	}
	if body, ok := upstream.Body.(map[string]any); !ok || len(body) != 0 {
		t.Errorf("expected empty object body, got %v", upstream.Body)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("a 502 must not match ErrNotFound")
	}
}

func TestGetPod_Unreachable(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {})
	url := ts.URL
	ts.Close()

	_, err := newTestClient(t, url).GetPod(context.Background(), "pod-1")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestGetPod_Timeout(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL, 50*time.Millisecond).WithAPIKey("k")
	_, err := c.GetPod(context.Background(), "pod-1")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

// --- CreatePod tests ---

func TestCreatePod_InjectsKillerKeyIntoEnv(t *testing.T) {
	var received map[string]any
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/pods" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Fatalf("decoding payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"pod-new","name":"abc"}`))
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL, 5*time.Second).WithAPIKey("K")
	raw, err := c.CreatePod(context.Background(), map[string]any{
		"name": "abc",
		"env":  map[string]any{"FOO": "bar"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"id":"pod-new","name":"abc"}` {
		t.Errorf("unexpected response: %s", raw)
	}

	env, ok := received["env"].(map[string]any)
	if !ok {
		t.Fatalf("env missing from forwarded payload: %v", received)
	}
	if len(env) != 2 || env["FOO"] != "bar" || env[KillerKeyEnv] != "K" {
		t.Errorf("unexpected env: %v", env)
	}
}

func TestCreatePod_WithoutEnvForwardedUnchanged(t *testing.T) {
	var received map[string]any
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&received)
		w.Write([]byte(`{"id":"pod-new"}`))
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).CreatePod(context.Background(), map[string]any{"name": "abc"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := received["env"]; ok {
		t.Errorf("env must not be added when absent: %v", received)
	}
	if len(received) != 1 || received["name"] != "abc" {
		t.Errorf("unexpected payload: %v", received)
	}
}

func TestCreatePod_UpstreamError(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"no capacity"}`))
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).CreatePod(context.Background(), map[string]any{"name": "abc"})

	var upstream *UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected *UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", upstream.Status)
	}
}

func TestInjectKillerKey_NonObjectEnv(t *testing.T) {
	payload := map[string]any{"env": []any{"FOO=bar"}}
	InjectKillerKey(payload, "K")

	list, ok := payload["env"].([]any)
	if !ok || len(list) != 1 {
		t.Errorf("non-object env must be left untouched: %v", payload["env"])
	}
}

func TestInjectKillerKey_OverwritesOnlyItsOwnKey(t *testing.T) {
	env := map[string]any{"RUNPOD_API_KEY": "user-owned", KillerKeyEnv: "stale"}
	InjectKillerKey(map[string]any{"env": env}, "K")

	if env["RUNPOD_API_KEY"] != "user-owned" {
		t.Errorf("unrelated key changed: %v", env)
	}
	if env[KillerKeyEnv] != "K" {
		t.Errorf("killer key not set: %v", env)
	}
}

// --- StopPod / DeletePod tests ---

func TestStopPod(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/pods/pod-1/stop" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"id":"pod-1","desiredStatus":"EXITED"}`))
	})
	defer ts.Close()

	raw, err := newTestClient(t, ts.URL).StopPod(context.Background(), "pod-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(raw) != `{"id":"pod-1","desiredStatus":"EXITED"}` {
		t.Errorf("unexpected response: %s", raw)
	}
}

func TestDeletePod_EmptyBody(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/pods/pod-1" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	defer ts.Close()

	if err := newTestClient(t, ts.URL).DeletePod(context.Background(), "pod-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClassifyError(t *testing.T) {
	err := classifyError(context.DeadlineExceeded)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}

	err = classifyError(errors.New("connection refused"))
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("expected ErrUnreachable, got %v", err)
	}
}

func TestGetPod_MalformedBody(t *testing.T) {
	ts := runpodServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":`))
	})
	defer ts.Close()

	_, err := newTestClient(t, ts.URL).GetPod(context.Background(), "pod-1")
	if !errors.Is(err, ErrBadResponse) {
		t.Errorf("expected ErrBadResponse, got %v", err)
	}
}
