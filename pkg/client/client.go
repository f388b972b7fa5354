// Package client is the Go facade over the PodPilot HTTP API. It hides the
// proxy and logger endpoints behind one typed interface and normalizes the
// provider's pod shapes into models.PodSummary.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/podpilot/pkg/models"
)

const (
	apiPrefix      = "/api/v1"
	defaultTimeout = 60 * time.Second

	// APIKeyHeader carries the caller's RunPod key when the server runs in
	// header key mode.
	APIKeyHeader = "X-RunPod-Api-Key"
)

// ErrNotFound matches any *APIError with status 404.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx answer from the PodPilot API.
type APIError struct {
	Status  int
	Code    string
	Message string
	Details any
	// UpstreamStatus is the provider's status for UPSTREAM_ERROR responses.
	UpstreamStatus int
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if d, ok := e.Details.(map[string]any); ok {
		if s, ok := d["error"].(string); ok && s != "" {
			msg += ": " + s
		}
	}
	if e.Code == "" {
		return fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	return fmt.Sprintf("%s (%s, HTTP %d)", msg, e.Code, e.Status)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// Client calls a PodPilot server. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sends key in the X-RunPod-Api-Key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http = &http.Client{Timeout: d} }
}

// WithClock sets the clock pod uptime is derived from.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- pods ---

// CreatedPod identifies a pod returned by CreatePod.
type CreatedPod struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	CostPerHr *float64 `json:"costPerHr,omitempty"`
}

// ListPods returns every pod, normalized. Uptime is computed at call time.
func (c *Client) ListPods(ctx context.Context) ([]models.PodSummary, error) {
	var raw []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/pods", nil, &raw); err != nil {
		return nil, err
	}

	now := c.now()
	pods := make([]models.PodSummary, 0, len(raw))
	for _, r := range raw {
		p, err := NormalizePod(r, now)
		if err != nil {
			return nil, err
		}
		pods = append(pods, p)
	}
	return pods, nil
}

func (c *Client) GetPod(ctx context.Context, podID string) (*models.PodSummary, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/pods/"+url.PathEscape(podID), nil, &raw); err != nil {
		return nil, err
	}
	p, err := NormalizePod(raw, c.now())
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePod forwards a provider create payload, typically built with
// BuildPodPayload.
func (c *Client) CreatePod(ctx context.Context, payload map[string]any) (*CreatedPod, error) {
	var pod CreatedPod
	if err := c.do(ctx, http.MethodPost, "/pods", payload, &pod); err != nil {
		return nil, err
	}
	if pod.ID == "" {
		return nil, fmt.Errorf("create pod: response carried no pod id")
	}
	return &pod, nil
}

func (c *Client) StopPod(ctx context.Context, podID string) error {
	return c.do(ctx, http.MethodPost, "/pods/"+url.PathEscape(podID)+"/stop", nil, nil)
}

// DeletePod terminates a pod and returns the server's confirmation message.
func (c *Client) DeletePod(ctx context.Context, podID string) (string, error) {
	var resp struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodDelete, "/pods/"+url.PathEscape(podID), nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// --- session logs ---

// SessionLogResult is the server's answer to CreateSessionLog. ArchiveError is
// a warning: the session log exists locally even when it is set.
type SessionLogResult struct {
	SessionID    string              `json:"sessionId"    yaml:"sessionId"`
	LogFilePath  string              `json:"logFilePath"  yaml:"logFilePath,omitempty"`
	State        models.SessionState `json:"state"        yaml:"state"`
	ArchiveURL   string              `json:"archiveUrl"   yaml:"archiveUrl,omitempty"`
	ArchiveKey   string              `json:"archiveKey"   yaml:"archiveKey,omitempty"`
	ArchiveError string              `json:"archiveError" yaml:"archiveError,omitempty"`
}

func (c *Client) CreateSessionLog(ctx context.Context, req models.CreateSessionLogRequest) (*SessionLogResult, error) {
	var res SessionLogResult
	if err := c.do(ctx, http.MethodPost, "/logs/training", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetSessionLog returns a locally held session log. Archived sessions answer
// with an *APIError matching ErrNotFound whose Details carry the archive
// location.
func (c *Client) GetSessionLog(ctx context.Context, sessionID string) (*models.TrainingSessionLog, error) {
	var log models.TrainingSessionLog
	if err := c.do(ctx, http.MethodGet, "/logs/training/"+url.PathEscape(sessionID), nil, &log); err != nil {
		return nil, err
	}
	return &log, nil
}

// SessionQuery filters ListSessionLogs. Zero fields are not sent.
type SessionQuery struct {
	Username     string
	PodID        string
	TrainingType models.TrainingType
	State        models.SessionState
	Since        time.Time
	Page         int
	Limit        int
}

func (q SessionQuery) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("username", q.Username)
	set("podId", q.PodID)
	set("trainingType", string(q.TrainingType))
	set("state", string(q.State))
	if !q.Since.IsZero() {
		v.Set("since", q.Since.UTC().Format(time.RFC3339))
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// SessionPage is one page of indexed sessions.
type SessionPage struct {
	Sessions []models.SessionRecord `json:"data"`
	Meta     struct {
		Page    int  `json:"page"`
		Limit   int  `json:"limit"`
		Total   int  `json:"total"`
		HasNext bool `json:"has_next"`
	} `json:"meta"`
}

func (c *Client) ListSessionLogs(ctx context.Context, q SessionQuery) (*SessionPage, error) {
	path := "/logs/training"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}

	var page SessionPage
	if err := c.doRaw(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// --- transport ---

// do sends a request and decodes the "data" member of the response envelope
// into out. out may be nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if out == nil {
		return c.doRaw(ctx, method, path, body, nil)
	}
	env := struct {
		Data any `json:"data"`
	}{Data: out}
	return c.doRaw(ctx, method, path, body, &env)
}

// doRaw sends a request and decodes the whole response body into out.
func (c *Client) doRaw(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var env struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details any    `json:"details"`
			Status  int    `json:"status"`
		} `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(data, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
		apiErr.UpstreamStatus = env.Error.Status
	}
	return apiErr
}
