// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// TokenSource supplies the bearer credential attached to every request.
// An empty token means the request is sent without an Authorization header.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed credential.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	return strings.TrimSpace(string(t)), nil
}

// EnvToken reads the credential from an environment variable on each call.
type EnvToken string

// Token implements TokenSource.
func (e EnvToken) Token(context.Context) (string, error) {
	if e == "" {
		return "", nil
	}
	return strings.TrimSpace(os.Getenv(string(e))), nil
}

// FileToken reads the credential from a file on each call, so rotating the
// file takes effect without restarting.
type FileToken string

// Token implements TokenSource.
func (f FileToken) Token(context.Context) (string, error) {
	if f == "" {
		return "", nil
	}
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// ChainTokens returns the first non-empty token from its sources, in order.
type ChainTokens []TokenSource

// Token implements TokenSource.
func (c ChainTokens) Token(ctx context.Context) (string, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		tok, err := src.Token(ctx)
		if err != nil {
			return "", err
		}
		if tok != "" {
			return tok, nil
		}
	}
	return "", nil
}
