// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"encoding/json"
	"fmt"
)

// Message is one history entry in a chat request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the body POSTed to the chat endpoint.
type Request struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
}

// ModelInfo describes a model offered by the server.
type ModelInfo struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// SizeString returns a human-readable size string.
func (m ModelInfo) SizeString() string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)

	switch {
	case m.Size >= gb:
		return fmt.Sprintf("%.1f GB", float64(m.Size)/float64(gb))
	case m.Size >= mb:
		return fmt.Sprintf("%.1f MB", float64(m.Size)/float64(mb))
	case m.Size >= kb:
		return fmt.Sprintf("%.1f KB", float64(m.Size)/float64(kb))
	case m.Size > 0:
		return fmt.Sprintf("%d B", m.Size)
	default:
		return "-"
	}
}

// modelList accepts both a bare array and the {"models": [...]} envelope.
type modelList []ModelInfo

func (l *modelList) UnmarshalJSON(data []byte) error {
	var arr []ModelInfo
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = arr
		return nil
	}
	var env struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*l = env.Models
	return nil
}

// HealthStatus is the result of a health probe.
type HealthStatus struct {
	Status    string `json:"status"`
	Reachable bool   `json:"reachable"`
}

// Healthy reports whether the server answered with a healthy status.
func (h HealthStatus) Healthy() bool {
	return h.Reachable && h.Status != StatusUnhealthy
}

// StatusUnhealthy is reported when the health endpoint cannot be reached
// or returns something unusable.
const StatusUnhealthy = "unhealthy"

// errorBody is the JSON shape servers use to report a failed request.
type errorBody struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
}
