// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport opens chat streams against the completion server and
// wraps its auxiliary endpoints (model list, health).
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// MaxErrorBody caps how much of a failed response body is read into the
// error message.
const MaxErrorBody = 4 << 10

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the client.
type ClientConfig struct {
	// BaseURL is the server base URL (default: http://127.0.0.1:8080)
	BaseURL string

	// ChatPath is the streaming chat endpoint (default: /api/chat)
	ChatPath string

	// ModelsPath is the model listing endpoint (default: /api/models)
	ModelsPath string

	// HealthPath is the health endpoint (default: /api/health)
	HealthPath string

	// Timeout for non-streaming requests (default: 10s)
	Timeout time.Duration

	// StreamTimeout bounds the wait for response headers when opening a
	// stream; the body itself is unbounded (default: 30s)
	StreamTimeout time.Duration

	// Tokens supplies the bearer credential. Nil sends no Authorization header.
	Tokens TokenSource

	// UserAgent header value (default: deskchat)
	UserAgent string

	// Logger receives request diagnostics. Nil discards them.
	Logger logrus.FieldLogger
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:       "http://127.0.0.1:8080",
		ChatPath:      "/api/chat",
		ModelsPath:    "/api/models",
		HealthPath:    "/api/health",
		Timeout:       10 * time.Second,
		StreamTimeout: 30 * time.Second,
		UserAgent:     "deskchat",
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to the completion server. It is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
	log          logrus.FieldLogger
}

// NewClient creates a client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a client with custom configuration. Zero
// fields are filled from DefaultConfig.
func NewClientWithConfig(config *ClientConfig) *Client {
	def := DefaultConfig()
	if config == nil {
		config = def
	}
	cfg := *config

	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ChatPath == "" {
		cfg.ChatPath = def.ChatPath
	}
	if cfg.ModelsPath == "" {
		cfg.ModelsPath = def.ModelsPath
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = def.HealthPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.StreamTimeout == 0 {
		cfg.StreamTimeout = def.StreamTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	log := cfg.Logger
	if log == nil {
		discard := logrus.New()
		discard.SetOutput(io.Discard)
		log = discard
	}

	// Streams stay open for as long as the server keeps writing, so the
	// stream client has no overall timeout; only header arrival is bounded.
	streamTransport := http.DefaultTransport.(*http.Transport).Clone()
	streamTransport.ResponseHeaderTimeout = cfg.StreamTimeout
	streamTransport.DisableCompression = true

	return &Client{
		config:       &cfg,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		streamClient: &http.Client{Transport: streamTransport},
		log:          log.WithField("component", "transport"),
	}
}

// Config returns a copy of the effective client configuration.
func (c *Client) Config() ClientConfig {
	return *c.config
}

// =============================================================================
// STREAMING
// =============================================================================

// OpenStream POSTs the request and returns the event-stream body. The caller
// owns the body and must close it. Cancelling ctx aborts both the request and
// any read in progress on the body.
func (c *Client) OpenStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	if req.Messages == nil {
		req.Messages = []Message{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeRequest, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+c.config.ChatPath, bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeRequest, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	if err := c.setHeaders(ctx, httpReq); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"model":    req.Model,
		"messages": len(req.Messages),
	}).Debug("opening chat stream")

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, requestError(ctx, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer drainAndClose(resp.Body)
		msg := readErrorBody(resp.Body)
		c.log.WithFields(logrus.Fields{
			"status": resp.StatusCode,
		}).Warn("chat stream rejected")
		return nil, statusError(resp.StatusCode, resp.Status, msg)
	}

	return resp.Body, nil
}

// =============================================================================
// AUXILIARY ENDPOINTS
// =============================================================================

// ListModels returns the models the server offers. Any failure yields an
// empty list; the cause is logged.
func (c *Client) ListModels(ctx context.Context) []ModelInfo {
	models, err := c.fetchModels(ctx)
	if err != nil {
		c.log.WithError(err).Debug("list models failed")
		return []ModelInfo{}
	}
	return models
}

func (c *Client) fetchModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := c.get(ctx, c.config.ModelsPath)
	if err != nil {
		return nil, err
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, resp.Status, readErrorBody(resp.Body))
	}

	var list modelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, &ClientError{Type: ErrTypeStatus, Message: "failed to decode response", Cause: err}
	}
	if list == nil {
		return []ModelInfo{}, nil
	}
	return list, nil
}

// Health probes the health endpoint. Any failure yields
// {Status: "unhealthy", Reachable: false}.
func (c *Client) Health(ctx context.Context) HealthStatus {
	unhealthy := HealthStatus{Status: StatusUnhealthy, Reachable: false}

	resp, err := c.get(ctx, c.config.HealthPath)
	if err != nil {
		c.log.WithError(err).Debug("health probe failed")
		return unhealthy
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.log.WithField("status", resp.StatusCode).Debug("health probe returned non-OK")
		return unhealthy
	}

	var status HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		c.log.WithError(err).Debug("health response undecodable")
		return unhealthy
	}
	if status.Status == "" {
		status.Status = "ok"
	}
	status.Reachable = true
	return status
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeRequest, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("Accept", "application/json")
	if err := c.setHeaders(ctx, req); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, requestError(ctx, err)
	}
	return resp, nil
}

func (c *Client) setHeaders(ctx context.Context, req *http.Request) error {
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.Tokens == nil {
		return nil
	}
	tok, err := c.config.Tokens.Token(ctx)
	if err != nil {
		return &ClientError{Type: ErrTypeUnauthorized, Message: "failed to load credential", Cause: err}
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// requestError classifies a failure from http.Client.Do.
func requestError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: ctxErr}
		}
		return &ClientError{Type: ErrTypeCancelled, Message: ErrCancelled.Message, Cause: ctxErr}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeUnreachable, Message: ErrUnreachable.Message, Cause: err}
}

// readErrorBody extracts a human-readable reason from a failed response.
// {"error": "..."} and {"error": {"message": "..."}} are unwrapped; anything
// else is returned as trimmed text.
func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, MaxErrorBody))
	text := strings.TrimSpace(string(data))
	if text == "" {
		return ""
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err == nil {
		if len(body.Error) > 0 {
			var s string
			if json.Unmarshal(body.Error, &s) == nil && s != "" {
				return s
			}
			var nested struct {
				Message string `json:"message"`
			}
			if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
				return nested.Message
			}
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return text
}

func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, MaxErrorBody))
	r.Close()
}
