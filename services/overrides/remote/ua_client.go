// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// =============================================================================
// Configuration
// =============================================================================

// Credentials supplies basic-auth credentials per request.
//
// Implementations may keep secrets in protected memory and only expose
// them for the duration of the call.
type Credentials interface {
	BasicAuth() (username, password string, err error)
}

// StaticCredentials is a fixed username and password.
type StaticCredentials struct {
	Username string
	Password string
}

// BasicAuth implements Credentials.
func (c StaticCredentials) BasicAuth() (string, string, error) {
	return c.Username, c.Password, nil
}

// UAConfig configures a UAClient.
type UAConfig struct {
	// BaseURL is the API root, e.g. "https://ua.example.com:443/api".
	BaseURL string

	// Credentials for basic auth. Nil when certificate auth is used.
	Credentials Credentials

	// CertFile and KeyFile enable client certificate auth.
	CertFile string
	KeyFile  string

	// InsecureTLS skips server certificate verification.
	InsecureTLS bool

	// Timeout bounds each HTTP request. Default: 10s.
	Timeout time.Duration

	// RequestsPerSecond limits outgoing calls. Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default: 1.
	Burst int

	// MaxTries bounds transport-level attempts per call. Default: 3.
	// POST calls are sent once: a lost reply may follow a committed create,
	// and the caller reconciles that against the store.
	MaxTries uint

	// HTTPClient overrides the constructed client. Used by tests.
	HTTPClient *http.Client

	// Logger for request diagnostics. Uses slog.Default() if nil.
	Logger *slog.Logger
}

func applyUADefaults(cfg *UAConfig) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
}

// =============================================================================
// Client
// =============================================================================

// UAClient is a Store backed by the Unified Assurance rules REST API.
//
// # Description
//
// Transport failures and 5xx responses are retried with exponential
// backoff up to MaxTries. 4xx responses are mapped to ErrNotFound,
// ErrAlreadyExists or ErrUnauthorized where applicable and are not retried.
//
// # Thread Safety
//
// Safe for concurrent use.
type UAClient struct {
	cfg     UAConfig
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewUAClient creates a client for the rules API.
func NewUAClient(cfg UAConfig) (*UAClient, error) {
	applyUADefaults(&cfg)
	if cfg.BaseURL == "" {
		return nil, errors.New("ua client: base URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureTLS} //nolint:gosec // operator opt-in
		if cfg.CertFile != "" || cfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("ua client: load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		} else if cfg.Credentials == nil {
			return nil, errors.New("ua client: credentials or client certificate required")
		}
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &UAClient{
		cfg:     cfg,
		http:    httpClient,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  cfg.Logger.With("component", "remote.UAClient"),
	}, nil
}

// List implements Store.
func (c *UAClient) List(ctx context.Context, node string, start, limit int) (*ListPage, error) {
	if limit <= 0 {
		limit = 500
	}
	q := url.Values{}
	q.Set("node", node)
	q.Set("excludeMetadata", "true")
	q.Set("page", strconv.Itoa(start/limit+1))
	q.Set("start", strconv.Itoa(start))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort[0][property]", "Path")
	q.Set("sort[0][direction]", "ASC")

	body, err := c.do(ctx, http.MethodGet, "/rule/Rules/read", q, nil)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", node, err)
	}
	entries, total := entriesFromListing(body)
	return &ListPage{Entries: entries, Total: total}, nil
}

// Read implements Store.
func (c *UAClient) Read(ctx context.Context, pathID, revision string) (*Document, error) {
	if revision == "" {
		revision = HeadRevision
	}
	q := url.Values{}
	q.Set("revision", revision)

	body, err := c.do(ctx, http.MethodGet, rulePath(pathID), q, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pathID, err)
	}
	return documentFromResponse(pathID, body), nil
}

// Create implements Store.
func (c *UAClient) Create(ctx context.Context, req CreateRequest) error {
	payload := map[string]any{
		"name":    req.Name,
		"content": req.Content,
		"path":    req.ParentNode,
	}
	if req.Message != "" {
		payload["commit_message"] = req.Message
	}
	if req.TargetNode != "" {
		payload["node"] = req.TargetNode
	}
	if _, err := c.do(ctx, http.MethodPost, "/rule/Rules", nil, payload); err != nil {
		return fmt.Errorf("create %s: %w", req.Path(), err)
	}
	return nil
}

// Update implements Store.
func (c *UAClient) Update(ctx context.Context, pathID, content, message string) error {
	pathName := pathID
	if i := strings.LastIndex(pathID, "/"); i >= 0 {
		pathName = pathID[i+1:]
	}
	payload := map[string]any{
		"PathName":       pathName,
		"ClonedPath":     pathID,
		"CommitLog":      message,
		"RuleText":       content,
		"commit_message": message,
		"message":        message,
		"commitMessage":  message,
		"comment":        message,
	}
	q := url.Values{}
	q.Set("commit_message", message)

	if _, err := c.do(ctx, http.MethodPut, rulePath(pathID), q, payload); err != nil {
		return fmt.Errorf("update %s: %w", pathID, err)
	}
	return nil
}

// Delete implements Store.
func (c *UAClient) Delete(ctx context.Context, pathID, message string) error {
	payload := map[string]any{"commit_message": message}
	if _, err := c.do(ctx, http.MethodDelete, rulePath(pathID), nil, payload); err != nil {
		return fmt.Errorf("delete %s: %w", pathID, err)
	}
	return nil
}

// History implements Store.
func (c *UAClient) History(ctx context.Context, pathID string, limit, offset int) ([]Revision, error) {
	q := url.Values{}
	q.Set("id", pathID)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	body, err := c.do(ctx, http.MethodGet, "/rule/Rules/readRevisionHistory", q, nil)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", pathID, err)
	}
	return revisionsFromHistory(body), nil
}

// CreateFolder implements Store.
func (c *UAClient) CreateFolder(ctx context.Context, p string) error {
	payload := map[string]any{"path": p}
	if _, err := c.do(ctx, http.MethodPost, "/rule/Rules/executeCreateFolder", nil, payload); err != nil {
		return fmt.Errorf("create folder %s: %w", p, err)
	}
	return nil
}

// =============================================================================
// Transport
// =============================================================================

// do sends one logical call, retrying transport failures and 5xx responses.
// POST is not retried.
func (c *UAClient) do(ctx context.Context, method, endpoint string, query url.Values, payload any) (any, error) {
	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	target := c.cfg.BaseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = 2 * time.Second

	tries := c.cfg.MaxTries
	if method == http.MethodPost {
		tries = 1
	}

	attempt := 0
	return backoff.Retry(ctx, func() (any, error) {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		var bodyReader io.Reader
		if encoded != nil {
			bodyReader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.cfg.Credentials != nil {
			user, pass, err := c.cfg.Credentials.BasicAuth()
			if err != nil {
				return nil, backoff.Permanent(fmt.Errorf("credentials: %w", err))
			}
			req.SetBasicAuth(user, pass)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Debug("rules API transport error",
				slog.String("method", method),
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return c.interpret(resp.StatusCode, raw)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(tries))
}

// interpret maps an API response to a decoded body or a classified error.
func (c *UAClient) interpret(status int, raw []byte) (any, error) {
	var body any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil && status < 300 {
			return nil, backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	message := responseMessage(body, raw)

	switch {
	case status >= 500:
		return nil, fmt.Errorf("rules API status %d: %s", status, message)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, backoff.Permanent(ErrUnauthorized)
	case status == http.StatusNotFound:
		return nil, backoff.Permanent(ErrNotFound)
	case status == http.StatusConflict:
		return nil, backoff.Permanent(ErrAlreadyExists)
	case status >= 400:
		return nil, backoff.Permanent(classify(fmt.Errorf("rules API status %d: %s", status, message), message))
	}

	if m, ok := body.(map[string]any); ok {
		if success, ok := m["success"].(bool); ok && !success {
			return nil, backoff.Permanent(classify(fmt.Errorf("rules API rejected request: %s", message), message))
		}
	}
	return body, nil
}

// classify maps well-known API messages onto sentinel errors.
func classify(err error, message string) error {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "already exists"):
		return fmt.Errorf("%w: %s", ErrAlreadyExists, message)
	case strings.Contains(lower, "not found"):
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	}
	return err
}

func responseMessage(body any, raw []byte) string {
	if m, ok := body.(map[string]any); ok {
		for _, k := range []string{"message", "Message", "error"} {
			if s, ok := m[k].(string); ok && s != "" {
				return s
			}
		}
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}

// rulePath escapes each segment of a rule path for use in a URL.
func rulePath(pathID string) string {
	segments := strings.Split(strings.Trim(pathID, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/rule/Rules/" + strings.Join(segments, "/")
}

var _ Store = (*UAClient)(nil)
