// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/jeranaias/rigrun-desk/internal/store"
	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/turn"
)

// SnapshotMsg carries a store snapshot into the update loop.
type SnapshotMsg struct {
	Snapshot store.Snapshot
}

// TurnDoneMsg is sent when a SendMessage call returns.
type TurnDoneMsg struct {
	Result turn.Result
}

// HealthMsg reports the result of a server health check.
type HealthMsg struct {
	Status transport.HealthStatus
}

// ModelsMsg reports the models the server offers.
type ModelsMsg struct {
	Models []transport.ModelInfo
}
