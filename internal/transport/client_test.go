// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens TokenSource) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: server.URL, Tokens: tokens})
}

func TestOpenStream_SendsRequest(t *testing.T) {
	var got Request
	var headers http.Header
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/chat", r.URL.Path)
		headers = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"content\":\"Hi\",\"done\":true}\n\n")
	}, StaticToken("secret"))

	temp := 0.2
	body, err := client.OpenStream(context.Background(), Request{
		Messages:    []Message{{Role: "user", Content: "Hello"}, {Role: "assistant", Content: ""}},
		Model:       "m1",
		Temperature: &temp,
	})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"content":"Hi"`)

	assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
	assert.Equal(t, "text/event-stream", headers.Get("Accept"))
	assert.Equal(t, "application/json", headers.Get("Content-Type"))
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	assert.Equal(t, "", got.Messages[1].Content)
	assert.Equal(t, "m1", got.Model)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-9)
}

func TestOpenStream_NoTokenNoHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}, StaticToken(""))

	body, err := client.OpenStream(context.Background(), Request{})
	require.NoError(t, err)
	body.Close()
}

func TestOpenStream_ErrorBodies(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		wantType ErrorType
	}{
		{"json error string", http.StatusBadRequest, `{"error":"model not loaded"}`, "model not loaded", ErrTypeStatus},
		{"nested error", http.StatusInternalServerError, `{"error":{"message":"boom"}}`, "boom", ErrTypeServer},
		{"message field", http.StatusTooManyRequests, `{"message":"slow down"}`, "slow down", ErrTypeRateLimited},
		{"plain text", http.StatusUnauthorized, "bad token\n", "bad token", ErrTypeUnauthorized},
		{"empty body", http.StatusNotFound, "", "unexpected status: 404 Not Found", ErrTypeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}, nil)

			body, err := client.OpenStream(context.Background(), Request{})
			assert.Nil(t, body)
			require.Error(t, err)

			var clientErr *ClientError
			require.True(t, errors.As(err, &clientErr))
			assert.Equal(t, tt.wantMsg, clientErr.Error())
			assert.Equal(t, tt.wantType, clientErr.Type)
			assert.Equal(t, tt.status, clientErr.StatusCode)
		})
	}
}

func TestOpenStream_UnauthorizedSentinel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}, nil)

	_, err := client.OpenStream(context.Background(), Request{})
	assert.True(t, IsUnauthorized(err))
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, errors.Is(err, ErrUnreachable))
}

func TestOpenStream_ErrorBodyCapped(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		for i := 0; i < MaxErrorBody; i++ {
			io.WriteString(w, "xy")
		}
	}, nil)

	_, err := client.OpenStream(context.Background(), Request{})
	require.Error(t, err)
	assert.Len(t, err.Error(), MaxErrorBody)
}

func TestOpenStream_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url})
	_, err := client.OpenStream(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsUnreachable(err))
}

func TestOpenStream_Cancelled(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, nil)
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.OpenStream(ctx, Request{})
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestListModels(t *testing.T) {
	t.Run("array", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/models", r.URL.Path)
			io.WriteString(w, `[{"name":"small","size":1024},{"name":"large","size":5368709120}]`)
		}, nil)

		models := client.ListModels(context.Background())
		require.Len(t, models, 2)
		assert.Equal(t, "small", models[0].Name)
		assert.Equal(t, "1.0 KB", models[0].SizeString())
		assert.Equal(t, "5.0 GB", models[1].SizeString())
	})

	t.Run("envelope", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"models":[{"name":"only","size":0}]}`)
		}, nil)

		models := client.ListModels(context.Background())
		require.Len(t, models, 1)
		assert.Equal(t, "-", models[0].SizeString())
	})

	t.Run("failure yields empty list", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, nil)

		models := client.ListModels(context.Background())
		assert.NotNil(t, models)
		assert.Empty(t, models)
	})

	t.Run("garbage yields empty list", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "not json")
		}, nil)

		assert.Empty(t, client.ListModels(context.Background()))
	})
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/health", r.URL.Path)
			io.WriteString(w, `{"status":"ok"}`)
		}, nil)

		h := client.Health(context.Background())
		assert.Equal(t, "ok", h.Status)
		assert.True(t, h.Reachable)
		assert.True(t, h.Healthy())
	})

	t.Run("non-OK", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}, nil)

		h := client.Health(context.Background())
		assert.Equal(t, HealthStatus{Status: "unhealthy", Reachable: false}, h)
	})

	t.Run("unreachable", func(t *testing.T) {
		client := NewClientWithConfig(&ClientConfig{BaseURL: "http://127.0.0.1:1"})
		h := client.Health(context.Background())
		assert.Equal(t, HealthStatus{Status: "unhealthy", Reachable: false}, h)
		assert.False(t, h.Healthy())
	})
}

func TestNewClientWithConfig_Defaults(t *testing.T) {
	client := NewClientWithConfig(&ClientConfig{BaseURL: "http://example.test/"})
	cfg := client.Config()
	assert.Equal(t, "http://example.test", cfg.BaseURL)
	assert.Equal(t, "/api/chat", cfg.ChatPath)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, "deskchat", cfg.UserAgent)

	assert.Equal(t, DefaultConfig().BaseURL, NewClientWithConfig(nil).Config().BaseURL)
}

func TestTokenSources(t *testing.T) {
	ctx := context.Background()

	tok, err := StaticToken("  abc \n").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	t.Setenv("DESKCHAT_TEST_TOKEN", "from-env")
	tok, err = EnvToken("DESKCHAT_TEST_TOKEN").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0600))
	tok, err = FileToken(path).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok)

	_, err = FileToken(filepath.Join(t.TempDir(), "missing")).Token(ctx)
	assert.Error(t, err)

	chain := ChainTokens{StaticToken(""), EnvToken("DESKCHAT_TEST_UNSET_TOKEN"), FileToken(path)}
	tok, err = chain.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok)
}

func TestOpenStream_TokenFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be sent")
	}, FileToken(filepath.Join(t.TempDir(), "missing")))

	_, err := client.OpenStream(context.Background(), Request{})
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
}
