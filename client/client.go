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
	"strings"
	"sync"
	"time"

	"agentdash/config"
)

// APIKeyHeader carries the credential on every request when a key is set.
const APIKeyHeader = "X-API-Key"

const (
	defaultRequestTimeout = 60 * time.Second
	maxErrorBody          = 64 * 1024
)

// KeyStore owns the API key and where it is persisted.
// *config.CredentialStore is the production implementation.
type KeyStore interface {
	APIKey() string
	SetAPIKey(key string) error
	ClearAPIKey() error
	SetStorageType(t config.StorageType) error
	StorageType() config.StorageType
}

type Client struct {
	baseURL        string
	client         *http.Client
	requestTimeout time.Duration
	idleTimeout    time.Duration
	keys           KeyStore
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout should be
// zero, since a client-wide timeout would also cut long-lived streams.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.requestTimeout = d }
}

// WithIdleTimeout aborts a stream when no frame arrives for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) { c.idleTimeout = d }
}

func WithKeyStore(ks KeyStore) Option {
	return func(c *Client) {
		if ks != nil {
			c.keys = ks
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		baseURL = config.DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid backend URL %q", baseURL)
	}

	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		client:         &http.Client{},
		requestTimeout: defaultRequestTimeout,
		keys:           &memoryKeys{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewFromConfig builds a client from the loaded configuration and credential store.
func NewFromConfig(cfg *config.Config, keys KeyStore) (*Client, error) {
	return New(cfg.BaseURL,
		WithRequestTimeout(cfg.RequestTimeout),
		WithIdleTimeout(cfg.StreamIdleTimeout),
		WithKeyStore(keys),
	)
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) IdleTimeout() time.Duration {
	return c.idleTimeout
}

func (c *Client) APIKey() string {
	return c.keys.APIKey()
}

func (c *Client) HasAPIKey() bool {
	return c.keys.APIKey() != ""
}

func (c *Client) SetAPIKey(key string) error {
	return c.keys.SetAPIKey(key)
}

func (c *Client) ClearAPIKey() error {
	return c.keys.ClearAPIKey()
}

func (c *Client) SetStorageType(t config.StorageType) error {
	return c.keys.SetStorageType(t)
}

func (c *Client) StorageType() config.StorageType {
	return c.keys.StorageType()
}

// Health checks backend reachability. Any failure, including a non-2xx
// status, is an *UnreachableError.
func (c *Client) Health(ctx context.Context) (HealthInfo, error) {
	var info HealthInfo
	payload, err := c.request(ctx, http.MethodGet, "/health", nil, false)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) {
			return info, &UnreachableError{Op: "GET /health", StatusCode: reqErr.StatusCode}
		}
		return info, err
	}
	if err := json.Unmarshal(payload, &info); err != nil {
		return info, &UnreachableError{Op: "GET /health", Err: fmt.Errorf("decode health response: %w", err)}
	}
	return info, nil
}

func (c *Client) RunAgentTurn(ctx context.Context, req AgentRequest) (AgentResult, error) {
	var res AgentResult
	payload, err := c.request(ctx, http.MethodPost, "/v2/agent", req, true)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return res, fmt.Errorf("decode agent response: %w", err)
	}
	return res, nil
}

func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	payload, err := c.request(ctx, http.MethodGet, "/v2/tools", nil, false)
	if err != nil {
		return nil, err
	}
	var tools []ToolInfo
	if err := decodeList(payload, "tools", &tools); err != nil {
		return nil, fmt.Errorf("decode tools response: %w", err)
	}
	return tools, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	payload, err := c.request(ctx, http.MethodGet, "/v2/sessions", nil, false)
	if err != nil {
		return nil, err
	}
	var sessions []SessionInfo
	if err := decodeList(payload, "sessions", &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions response: %w", err)
	}
	return sessions, nil
}

// Analyze runs a non-streaming repository analysis.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (AnalysisResult, error) {
	var res AnalysisResult
	payload, err := c.request(ctx, http.MethodPost, "/v3/analyze", req, true)
	if err != nil {
		return res, err
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return res, fmt.Errorf("decode analysis response: %w", err)
	}
	return res, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := c.keys.APIKey(); key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	return req, nil
}

// request performs a JSON round trip. Long-running calls (agent turns,
// synchronous analysis) skip the request timeout and rely on ctx.
func (c *Client) request(ctx context.Context, method, path string, body any, longLived bool) ([]byte, error) {
	reqCtx := ctx
	if !longLived && c.requestTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.requestTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
		}
	}

	req, err := c.newRequest(reqCtx, method, path, body)
	if err != nil {
		return nil, err
	}

	op := method + " " + path
	if config.DebugLog != nil {
		config.DebugLog.Printf("[Client] %s (key attached: %v)", op, req.Header.Get(APIKeyHeader) != "")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reqErr := responseError(resp)
		if config.DebugLog != nil {
			config.DebugLog.Printf("[Client] %s failed: %v", op, reqErr)
		}
		return nil, reqErr
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, op, err)
	}
	return payload, nil
}

// transportError keeps caller cancellation distinguishable from a dead backend.
func transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return &UnreachableError{Op: op, Err: err}
}

// responseError builds a *RequestError from a non-2xx response. The detail is
// the JSON "detail" field (a string, or the first msg of a validation list),
// then "error"/"message", then the status text.
func responseError(resp *http.Response) *RequestError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &RequestError{
		StatusCode: resp.StatusCode,
		Detail:     errorDetail(body, resp.StatusCode),
	}
}

func errorDetail(body []byte, status int) string {
	var parsed struct {
		Detail  json.RawMessage `json:"detail"`
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if d := scalarString(parsed.Detail); d != "" {
			return d
		}
		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(parsed.Detail, &list); err == nil && len(list) > 0 && list[0].Msg != "" {
			return list[0].Msg
		}
		if d := errorText(parsed.Error); d != "" {
			return d
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return http.StatusText(status)
}

// decodeList accepts either a bare array or an object wrapping it under key.
func decodeList(payload []byte, key string, out any) error {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var wrapped map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return err
	}
	raw, ok := wrapped[key]
	if !ok || isNull(raw) {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// memoryKeys is the KeyStore used when none is configured. It never persists.
type memoryKeys struct {
	mu  sync.Mutex
	key string
}

func (m *memoryKeys) APIKey() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.key
}

func (m *memoryKeys) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = key
	return nil
}

func (m *memoryKeys) ClearAPIKey() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.key = ""
	return nil
}

func (m *memoryKeys) SetStorageType(t config.StorageType) error {
	if t != config.StorageMemory {
		return fmt.Errorf("storage type %q needs a configured credential store", t)
	}
	return nil
}

func (m *memoryKeys) StorageType() config.StorageType {
	return config.StorageMemory
}
