// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/time/rate"

	"github.com/jeranaias/rigrun-desk/internal/store"
)

// DefaultRedrawRate caps snapshot deliveries per second.
const DefaultRedrawRate = 30

// Pump bridges store observers into a Bubble Tea program. Observe never
// blocks: it keeps only the newest snapshot, and Run delivers it at most
// DefaultRedrawRate times per second. Intermediate snapshots are dropped,
// which is safe because each one is a complete state.
type Pump struct {
	send    func(tea.Msg)
	limiter *rate.Limiter
	notify  chan struct{}

	mu      sync.Mutex
	latest  store.Snapshot
	pending bool
	dropped uint64
}

// NewPump returns a pump that delivers through send. perSecond <= 0 uses
// DefaultRedrawRate.
func NewPump(send func(tea.Msg), perSecond float64) *Pump {
	if perSecond <= 0 {
		perSecond = DefaultRedrawRate
	}
	return &Pump{
		send:    send,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		notify:  make(chan struct{}, 1),
	}
}

// Observe implements store.Observer. Older versions than the one already
// pending are ignored.
func (p *Pump) Observe(s store.Snapshot) {
	p.mu.Lock()
	switch {
	case !p.pending:
		p.latest, p.pending = s, true
	case s.Version > p.latest.Version:
		p.latest = s
		p.dropped++
	}
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Run delivers snapshots until ctx is done.
func (p *Pump) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.notify:
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}

		p.mu.Lock()
		snap, ok := p.latest, p.pending
		p.pending = false
		p.mu.Unlock()

		if ok {
			p.send(SnapshotMsg{Snapshot: snap})
		}
	}
}

// Dropped returns how many snapshots were superseded before delivery.
func (p *Pump) Dropped() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
