// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package turn runs one user-to-assistant exchange: it records the user
// message, streams the reply into the store chunk by chunk and always
// leaves the store idle when it returns.
package turn

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigrun-desk/internal/sse"
	"github.com/jeranaias/rigrun-desk/internal/store"
	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

// Error texts recorded on the assistant message.
const (
	ReasonCancelled   = "request cancelled"
	ReasonIdleTimeout = "stream idle timeout exceeded"
)

var (
	// ErrIdleTimeout is the cancellation cause when no data arrives within
	// the idle window.
	ErrIdleTimeout = errors.New(ReasonIdleTimeout)

	// ErrTruncated is returned by StrictTruncation.
	ErrTruncated = errors.New("response ended before completion")
)

// Transport opens the event stream for a turn.
type Transport interface {
	OpenStream(ctx context.Context, req transport.Request) (io.ReadCloser, error)
}

// =============================================================================
// OPTIONS
// =============================================================================

// TruncationInfo describes a stream that ended without a done chunk.
type TruncationInfo struct {
	ConversationID string
	MessageID      string
	Chunks         int
	Discarded      int   // bytes of a partial trailing frame
	Err            error // read error that ended the stream, if any
}

// TruncationPolicy decides whether a truncated stream is an error. A non-nil
// return is recorded on the assistant message.
type TruncationPolicy func(TruncationInfo) error

// StrictTruncation treats every truncated stream as an error.
func StrictTruncation(TruncationInfo) error {
	return ErrTruncated
}

// Update is passed to the update hook after each accumulation step.
type Update struct {
	TurnID         string
	ConversationID string
	MessageID      string
	Chunk          sse.Chunk
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.log = log
		}
	}
}

// WithDefaultModel sets the model hint used when SendOptions.Model is empty.
func WithDefaultModel(model string) Option {
	return func(o *Orchestrator) { o.defaultModel = model }
}

// WithTemperature sets the default temperature sent with each request.
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = &t }
}

// WithIdleTimeout cancels a turn when no bytes arrive for d. Zero disables.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.idleTimeout = d }
}

// WithTruncationPolicy installs a policy for streams that end early.
func WithTruncationPolicy(p TruncationPolicy) Option {
	return func(o *Orchestrator) { o.truncation = p }
}

// WithUpdateHook runs fn after every chunk has been applied to the store.
func WithUpdateHook(fn func(Update)) Option {
	return func(o *Orchestrator) { o.onUpdate = fn }
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// SendOptions carries per-call request hints.
type SendOptions struct {
	ConversationID string
	Model          string
	Temperature    *float64
}

// Orchestrator sends messages. It is safe for concurrent use; the store
// admits one turn at a time.
type Orchestrator struct {
	store     *store.Store
	transport Transport
	log       logrus.FieldLogger

	defaultModel string
	temperature  *float64
	idleTimeout  time.Duration
	truncation   TruncationPolicy
	onUpdate     func(Update)
}

// New creates an orchestrator over st and tr.
func New(st *store.Store, tr Transport, opts ...Option) *Orchestrator {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	o := &Orchestrator{
		store:     st,
		transport: tr,
		log:       discard,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithField("component", "turn")
	return o
}

// SendMessage runs one turn and blocks until it ends. Blank text and calls
// made while a turn is in flight return immediately without touching state.
// Cancelling ctx ends the turn with the error "request cancelled"; the
// partial reply is kept.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, opts SendOptions) Result {
	if util.IsBlank(text) {
		return Result{Status: StatusSkipped}
	}
	if o.store.IsStreaming() {
		return Result{Status: StatusBusy}
	}

	model := opts.Model
	if model == "" {
		model = o.defaultModel
	}
	temperature := opts.Temperature
	if temperature == nil {
		temperature = o.temperature
	}

	turn, err := o.store.BeginTurn(store.TurnRequest{
		ConversationID: opts.ConversationID,
		Content:        text,
		Model:          model,
	})
	switch {
	case errors.Is(err, store.ErrTurnInFlight):
		return Result{Status: StatusBusy}
	case err != nil:
		return Result{Status: StatusSkipped}
	}

	r := &run{
		o:     o,
		turn:  turn,
		start: time.Now(),
		log: o.log.WithFields(logrus.Fields{
			"turn":         turn.ID,
			"conversation": turn.ConversationID,
		}),
	}
	return r.execute(ctx, transport.Request{
		Messages:    turn.History,
		Model:       model,
		Temperature: temperature,
	})
}

// run is the state of one SendMessage call.
type run struct {
	o       *Orchestrator
	turn    store.Turn
	log     logrus.FieldLogger
	start   time.Time
	content strings.Builder
	errText string
	result  Result
}

func (r *run) execute(parent context.Context, req transport.Request) Result {
	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	r.result = Result{
		TurnID:         r.turn.ID,
		ConversationID: r.turn.ConversationID,
		MessageID:      r.turn.AssistantMessageID,
	}

	idle := startIdleTimer(r.o.idleTimeout, func() { cancel(ErrIdleTimeout) })
	defer idle.stop()

	body, err := r.o.transport.OpenStream(ctx, req)
	if err != nil {
		if reason, cancelled := cancelReason(ctx); cancelled {
			return r.finish(StatusCancelled, reason)
		}
		r.log.WithError(err).Warn("failed to open stream")
		r.result.Cause = err
		return r.finish(StatusFailed, err.Error())
	}

	stream := sse.NewStream(body, nil)
	defer stream.Close()
	stream.OnFragment = func(int) { idle.reset() }

	sawDone, readErr := r.consume(ctx, stream)
	r.result.Skipped = stream.Skipped()

	if reason, cancelled := cancelReason(ctx); cancelled && !sawDone {
		r.log.WithField("chunks", r.result.Chunks).Info("turn cancelled")
		return r.finish(StatusCancelled, reason)
	}
	if sawDone {
		return r.finish(StatusCompleted, "")
	}

	info := TruncationInfo{
		ConversationID: r.turn.ConversationID,
		MessageID:      r.turn.AssistantMessageID,
		Chunks:         r.result.Chunks,
		Discarded:      stream.Discarded(),
		Err:            readErr,
	}
	entry := r.log.WithFields(logrus.Fields{
		"chunks":    info.Chunks,
		"discarded": info.Discarded,
	})
	if readErr != nil {
		entry = entry.WithError(readErr)
	}
	entry.Warn("stream ended without completion")

	if r.o.truncation != nil {
		if perr := r.o.truncation(info); perr != nil {
			return r.finish(StatusTruncated, perr.Error())
		}
	}
	return r.finish(StatusTruncated, "")
}

// consume applies chunks until the stream ends or a done chunk arrives.
func (r *run) consume(ctx context.Context, stream *sse.Stream) (sawDone bool, readErr error) {
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return false, nil
			}
			return false, err
		}

		if r.result.Chunks == 0 {
			r.result.FirstChunk = time.Since(r.start)
		}
		r.result.Chunks++
		if r.o.store.AppendChunk(r.turn.ID, chunk.Content) {
			r.content.WriteString(chunk.Content)
		}

		if chunk.HasError() {
			if r.errText == "" {
				r.errText = chunk.Error
			}
			r.o.store.RecordError(r.turn.ID, chunk.Error)
			r.log.WithField("error", chunk.Error).Warn("server reported error")
		}
		if r.o.onUpdate != nil {
			r.o.onUpdate(Update{
				TurnID:         r.turn.ID,
				ConversationID: r.turn.ConversationID,
				MessageID:      r.turn.AssistantMessageID,
				Chunk:          chunk,
			})
		}
		if chunk.Done {
			return true, nil
		}
	}
}

// finish finalizes the turn in the store and fills in the result.
func (r *run) finish(status Status, reason string) Result {
	r.o.store.FinalizeTurn(r.turn.ID, reason)

	if r.errText == "" {
		r.errText = reason
	}
	if status == StatusCompleted && r.errText != "" {
		status = StatusFailed
	}

	r.result.Status = status
	r.result.Content = r.content.String()
	r.result.Error = r.errText
	r.result.Duration = time.Since(r.start)

	r.log.WithFields(logrus.Fields{
		"status":   status.String(),
		"chunks":   r.result.Chunks,
		"duration": r.result.Duration,
	}).Debug("turn complete")
	return r.result
}

// cancelReason maps a done context to the error text recorded on the
// message.
func cancelReason(ctx context.Context) (string, bool) {
	if ctx.Err() == nil {
		return "", false
	}
	if errors.Is(context.Cause(ctx), ErrIdleTimeout) {
		return ReasonIdleTimeout, true
	}
	return ReasonCancelled, true
}

// =============================================================================
// IDLE TIMER
// =============================================================================

type idleTimer struct {
	d time.Duration
	t *time.Timer
}

func startIdleTimer(d time.Duration, fire func()) *idleTimer {
	if d <= 0 {
		return nil
	}
	return &idleTimer{d: d, t: time.AfterFunc(d, fire)}
}

func (i *idleTimer) reset() {
	if i != nil {
		i.t.Reset(i.d)
	}
}

func (i *idleTimer) stop() {
	if i != nil {
		i.t.Stop()
	}
}
