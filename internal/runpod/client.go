package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/kiranshivaraju/podpilot/internal/metrics"
)

// DefaultBaseURL is the RunPod REST API root.
const DefaultBaseURL = "https://rest.runpod.io/v1"

// KillerKeyEnv is the pod environment variable through which a training pod
// receives the key it uses to terminate itself.
const KillerKeyEnv = "RUNPOD_KILLER_API_KEY"

const maxResponseBytes = 10 << 20

// Sentinel errors for RunPod client failures.
var (
	ErrNotConfigured = errors.New("RUNPOD_API_KEY is not configured on server")
	ErrNotFound      = errors.New("pod not found")
	ErrUnreachable   = errors.New("runpod unreachable")
	ErrTimeout       = errors.New("runpod request timeout")
	ErrBadResponse   = errors.New("runpod returned a malformed response")
)

// UpstreamError is a non-2xx answer from the provider. Body holds the parsed
// JSON error body, or an empty object when it could not be parsed.
type UpstreamError struct {
	Status int
	Body   any
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("RunPod API error: status %d", e.Status)
}

// Is lets a provider 404 match ErrNotFound.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client is the interface for the RunPod pod API. Pod bodies are returned
// verbatim; shape normalization is left to consumers.
type Client interface {
	ListPods(ctx context.Context) ([]json.RawMessage, error)
	GetPod(ctx context.Context, podID string) (json.RawMessage, error)
	CreatePod(ctx context.Context, payload map[string]any) (json.RawMessage, error)
	StopPod(ctx context.Context, podID string) (json.RawMessage, error)
	DeletePod(ctx context.Context, podID string) error
}

// HTTPClient implements Client using RunPod's REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new RunPod HTTP client without a key. Use WithAPIKey
// to bind the credential calls are made with.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// WithAPIKey returns a copy of c that authenticates with key. The underlying
// http.Client and its connection pool are shared.
func (c *HTTPClient) WithAPIKey(key string) *HTTPClient {
	cp := *c
	cp.apiKey = key
	return &cp
}

func (c *HTTPClient) ListPods(ctx context.Context) ([]json.RawMessage, error) {
	raw, err := c.do(ctx, "list", http.MethodGet, "/pods", nil)
	if err != nil {
		return nil, err
	}

	var pods []json.RawMessage
	if err := json.Unmarshal(raw, &pods); err != nil || pods == nil {
		return []json.RawMessage{}, nil
	}
	return pods, nil
}

func (c *HTTPClient) GetPod(ctx context.Context, podID string) (json.RawMessage, error) {
	return c.do(ctx, "get", http.MethodGet, "/pods/"+url.PathEscape(podID), nil)
}

// CreatePod forwards payload to the provider after injecting the self-termination
// key into payload.env when env is a JSON object.
func (c *HTTPClient) CreatePod(ctx context.Context, payload map[string]any) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	InjectKillerKey(payload, c.apiKey)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding pod payload: %w", err)
	}
	return c.do(ctx, "create", http.MethodPost, "/pods", body)
}

func (c *HTTPClient) StopPod(ctx context.Context, podID string) (json.RawMessage, error) {
	return c.do(ctx, "stop", http.MethodPost, "/pods/"+url.PathEscape(podID)+"/stop", nil)
}

func (c *HTTPClient) DeletePod(ctx context.Context, podID string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, "/pods/"+url.PathEscape(podID), nil)
	return err
}

// InjectKillerKey sets KillerKeyEnv in payload["env"] when env is a JSON
// object. Any other env value, or a missing one, leaves payload untouched.
func InjectKillerKey(payload map[string]any, key string) {
	if payload == nil {
		return
	}
	if env, ok := payload["env"].(map[string]any); ok {
		env[KillerKeyEnv] = key
	}
}

func (c *HTTPClient) do(ctx context.Context, op, method, path string, body []byte) (json.RawMessage, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		err = classifyError(err)
		metrics.ProviderRequestsTotal.WithLabelValues(op, outcome(err)).Inc()
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		err = classifyError(err)
		metrics.ProviderRequestsTotal.WithLabelValues(op, outcome(err)).Inc()
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ProviderRequestsTotal.WithLabelValues(op, "upstream_error").Inc()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: parseErrorBody(data)}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		metrics.ProviderRequestsTotal.WithLabelValues(op, "ok").Inc()
		return nil, nil
	}
	if !json.Valid(data) {
		metrics.ProviderRequestsTotal.WithLabelValues(op, "bad_response").Inc()
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(op, "ok").Inc()
	return json.RawMessage(data), nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
}

func parseErrorBody(data []byte) any {
	var body any
	if err := json.Unmarshal(data, &body); err != nil || body == nil {
		return map[string]any{}
	}
	return body
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

func outcome(err error) string {
	if errors.Is(err, ErrTimeout) {
		return "timeout"
	}
	return "unreachable"
}

// Compile-time interface check.
var _ Client = (*HTTPClient)(nil)
