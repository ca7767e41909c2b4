// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store holds the conversation collection, the active selection and
// the single in-flight turn. Every mutation is one atomic transition;
// observers receive a snapshot after each transition, in order.
package store

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/transport"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

var (
	// ErrTurnInFlight is returned by BeginTurn while another turn is active.
	ErrTurnInFlight = errors.New("a message is already being sent")

	// ErrBlankMessage is returned by BeginTurn for empty or whitespace text.
	ErrBlankMessage = errors.New("message is empty")
)

// =============================================================================
// TURN STATE
// =============================================================================

// Phase is the coarse state of the turn state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
)

// String returns the phase name.
func (p Phase) String() string {
	if p == PhaseSending {
		return "sending"
	}
	return "idle"
}

// TurnState is Idle, or Sending with the ids of the turn in flight.
type TurnState struct {
	Phase          Phase
	TurnID         string
	ConversationID string
	MessageID      string
	StartedAt      time.Time
}

// Sending reports whether a turn is in flight.
func (t TurnState) Sending() bool {
	return t.Phase == PhaseSending
}

// Turn describes a turn started by BeginTurn.
type Turn struct {
	ID                 string
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string

	// History is every message of the conversation, ending with the empty
	// assistant placeholder.
	History []transport.Message
}

// TurnRequest is the input to BeginTurn.
type TurnRequest struct {
	// ConversationID targets an existing conversation. Empty or unknown ids
	// fall back to the active conversation, or a new one if none is active.
	ConversationID string
	Content        string
	Model          string
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a deep copy of the store state at one point in time.
type Snapshot struct {
	Conversations []*model.Conversation
	ActiveID      string
	Turn          TurnState
	Error         string
	Version       uint64
}

// Active returns the active conversation in the snapshot, or nil.
func (s Snapshot) Active() *model.Conversation {
	return s.Conversation(s.ActiveID)
}

// Conversation returns the conversation with the given id, or nil.
func (s Snapshot) Conversation(id string) *model.Conversation {
	if id == "" {
		return nil
	}
	for _, c := range s.Conversations {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// IsStreaming reports whether a turn was in flight.
func (s Snapshot) IsStreaming() bool {
	return s.Turn.Sending()
}

// Observer receives a snapshot after each transition. Observers may call
// read methods on the store but must not mutate it.
type Observer func(Snapshot)

// Stats summarizes the store contents.
type Stats struct {
	Conversations int
	Messages      int
	Streaming     bool
}

// =============================================================================
// STORE
// =============================================================================

// Store is the single owner of conversation state. It is safe for
// concurrent use.
type Store struct {
	mu       sync.Mutex
	order    []string
	convs    map[string]*model.Conversation
	activeID string
	turn     TurnState
	lastErr  string
	version  uint64
	titleMax int

	// emitMu serializes observer delivery so snapshots arrive in
	// transition order even when mutations race.
	emitMu    sync.Mutex
	observers map[int]Observer
	nextObs   int

	log logrus.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for transition diagnostics.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTitleMaxLength sets the rune limit for derived conversation titles.
func WithTitleMaxLength(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.titleMax = n
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	s := &Store{
		convs:     make(map[string]*model.Conversation),
		observers: make(map[int]Observer),
		titleMax:  model.DefaultTitleMaxLength,
		log:       discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("component", "store")
	return s
}

// Subscribe registers an observer and returns a function that removes it.
func (s *Store) Subscribe(fn Observer) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			s.mu.Unlock()
		})
	}
}

// =============================================================================
// READS
// =============================================================================

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Conversations returns copies of all conversations in collection order.
func (s *Store) Conversations() []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneAllLocked()
}

// Conversation returns a copy of one conversation.
func (s *Store) Conversation(id string) (*model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// Active returns a copy of the active conversation, or nil.
func (s *Store) Active() *model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, ok := s.convs[s.activeID]; ok {
		return conv.Clone()
	}
	return nil
}

// ActiveID returns the id of the active conversation, or "".
func (s *Store) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// Turn returns the turn state.
func (s *Store) Turn() TurnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn
}

// IsStreaming reports whether a turn is in flight.
func (s *Store) IsStreaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turn.Sending()
}

// Error returns the global error from the most recent turn, or "".
func (s *Store) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Stats returns counts over the whole collection.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Conversations: len(s.order), Streaming: s.turn.Sending()}
	for _, conv := range s.convs {
		st.Messages += conv.MessageCount()
	}
	return st
}

// =============================================================================
// COLLECTION MUTATIONS
// =============================================================================

// Create adds an empty conversation, makes it active and returns a copy.
func (s *Store) Create() *model.Conversation {
	s.lock()
	conv := s.createLocked()
	s.activeID = conv.ID
	clone := conv.Clone()
	s.commit()
	return clone
}

// Select makes id the active conversation. Unknown ids are ignored.
func (s *Store) Select(id string) {
	s.lock()
	if _, ok := s.convs[id]; !ok || s.activeID == id {
		s.unlock()
		return
	}
	s.activeID = id
	s.commit()
}

// Delete removes a conversation. If it was active, the next conversation in
// collection order becomes active, else the previous one, else none.
// Deleting the conversation that owns the in-flight turn is allowed; the
// turn's remaining chunks are dropped. Unknown ids are ignored.
func (s *Store) Delete(id string) {
	s.lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.unlock()
		return
	}

	s.order = append(s.order[:idx], s.order[idx+1:]...)
	delete(s.convs, id)

	if s.activeID == id {
		switch {
		case idx < len(s.order):
			s.activeID = s.order[idx]
		case idx > 0:
			s.activeID = s.order[idx-1]
		default:
			s.activeID = ""
		}
	}
	if s.turn.ConversationID == id {
		s.log.WithField("conversation", id).Debug("deleted conversation with turn in flight")
	}
	s.commit()
}

// Rename sets a conversation title. Unknown ids and blank titles are ignored.
func (s *Store) Rename(id, title string) {
	s.lock()
	conv, ok := s.convs[id]
	if !ok || !conv.Rename(title) {
		s.unlock()
		return
	}
	s.commit()
}

// Clear removes every conversation. It reports false and does nothing while
// a turn is in flight.
func (s *Store) Clear() bool {
	s.lock()
	if s.turn.Sending() {
		s.unlock()
		return false
	}
	s.order = nil
	s.convs = make(map[string]*model.Conversation)
	s.activeID = ""
	s.lastErr = ""
	s.commit()
	return true
}

// =============================================================================
// TURN TRANSITIONS
// =============================================================================

// BeginTurn starts a turn in one transition: it resolves or creates the
// target conversation and makes it active, appends the user message and an
// empty streaming assistant message, derives the title, enters the Sending
// state and clears the global error.
func (s *Store) BeginTurn(req TurnRequest) (Turn, error) {
	if util.IsBlank(req.Content) {
		return Turn{}, ErrBlankMessage
	}

	s.lock()
	if s.turn.Sending() {
		s.unlock()
		return Turn{}, ErrTurnInFlight
	}

	conv, ok := s.convs[req.ConversationID]
	if !ok {
		conv, ok = s.convs[s.activeID]
	}
	if !ok {
		conv = s.createLocked()
	}
	s.activeID = conv.ID

	user := model.NewUserMessage(req.Content)
	reply := model.NewAssistantPlaceholder()
	conv.AddMessage(user, s.titleMax)
	conv.AddMessage(reply, s.titleMax)
	if req.Model != "" {
		conv.Model = req.Model
	}

	turn := Turn{
		ID:                 uuid.NewString(),
		ConversationID:     conv.ID,
		UserMessageID:      user.ID,
		AssistantMessageID: reply.ID,
		History:            conv.History(),
	}
	s.turn = TurnState{
		Phase:          PhaseSending,
		TurnID:         turn.ID,
		ConversationID: conv.ID,
		MessageID:      reply.ID,
		StartedAt:      time.Now(),
	}
	s.lastErr = ""

	s.log.WithFields(logrus.Fields{
		"turn":         turn.ID,
		"conversation": conv.ID,
	}).Debug("turn started")
	s.commit()
	return turn, nil
}

// AppendChunk appends a content fragment to the turn's assistant message.
// It reports false if turnID is not the turn in flight or its conversation
// is gone.
func (s *Store) AppendChunk(turnID, content string) bool {
	s.lock()
	msg := s.turnMessageLocked(turnID)
	if msg == nil {
		s.unlock()
		return false
	}
	if content == "" {
		s.unlock()
		return true
	}
	msg.AppendContent(content)
	s.commit()
	return true
}

// RecordError records a server-reported error on the turn's assistant
// message. Only the first error of a turn is kept.
func (s *Store) RecordError(turnID, reason string) bool {
	s.lock()
	msg := s.turnMessageLocked(turnID)
	if msg == nil || !msg.SetError(reason) {
		s.unlock()
		return false
	}
	s.commit()
	return true
}

// FinalizeTurn ends the turn in one transition: the assistant message stops
// streaming, reason is recorded as its error if none was recorded yet, the
// message error is copied to the global error and the state returns to
// Idle. It reports false if turnID is not the turn in flight.
func (s *Store) FinalizeTurn(turnID, reason string) bool {
	s.lock()
	if !s.turn.Sending() || s.turn.TurnID != turnID {
		s.unlock()
		return false
	}

	errText := reason
	if msg := s.messageLocked(s.turn.ConversationID, s.turn.MessageID); msg != nil {
		msg.Finalize(reason)
		errText = msg.Error
	}
	s.lastErr = errText

	s.log.WithFields(logrus.Fields{
		"turn":         turnID,
		"conversation": s.turn.ConversationID,
		"error":        errText,
	}).Debug("turn finished")

	s.turn = TurnState{Phase: PhaseIdle}
	s.commit()
	return true
}

// =============================================================================
// INTERNALS
// =============================================================================

// lock starts a transition. Mutators take emitMu before mu, so a mutator
// waiting for the previous delivery to finish never holds mu and observers
// can still read.
func (s *Store) lock() {
	s.emitMu.Lock()
	s.mu.Lock()
}

// unlock ends a transition that changed nothing.
func (s *Store) unlock() {
	s.mu.Unlock()
	s.emitMu.Unlock()
}

// commit publishes the transition made under lock and releases both locks.
// Observers run after mu is released and before emitMu is, so the next
// transition's snapshot cannot overtake this one.
func (s *Store) commit() {
	defer s.emitMu.Unlock()

	s.version++
	if len(s.observers) == 0 {
		s.mu.Unlock()
		return
	}

	snap := s.snapshotLocked()
	observers := make([]Observer, 0, len(s.observers))
	for id := 0; id < s.nextObs; id++ {
		if fn, ok := s.observers[id]; ok {
			observers = append(observers, fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range observers {
		fn(snap)
	}
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Conversations: s.cloneAllLocked(),
		ActiveID:      s.activeID,
		Turn:          s.turn,
		Error:         s.lastErr,
		Version:       s.version,
	}
}

func (s *Store) cloneAllLocked() []*model.Conversation {
	out := make([]*model.Conversation, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.convs[id].Clone())
	}
	return out
}

func (s *Store) createLocked() *model.Conversation {
	conv := model.NewConversation()
	s.convs[conv.ID] = conv
	s.order = append(s.order, conv.ID)
	return conv
}

func (s *Store) indexLocked(id string) int {
	for i, v := range s.order {
		if v == id {
			return i
		}
	}
	return -1
}

func (s *Store) turnMessageLocked(turnID string) *model.Message {
	if !s.turn.Sending() || s.turn.TurnID != turnID {
		return nil
	}
	return s.messageLocked(s.turn.ConversationID, s.turn.MessageID)
}

func (s *Store) messageLocked(convID, msgID string) *model.Message {
	conv, ok := s.convs[convID]
	if !ok {
		return nil
	}
	return conv.MessageByID(msgID)
}
