// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects snapshots delivered to an observer.
type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func ids(s *Store) []string {
	var out []string
	for _, c := range s.Conversations() {
		out = append(out, c.ID)
	}
	return out
}

func TestCreate_BecomesActive(t *testing.T) {
	s := New()
	a := s.Create()
	b := s.Create()

	assert.Equal(t, b.ID, s.ActiveID())
	assert.Equal(t, []string{a.ID, b.ID}, ids(s))
	assert.NotEqual(t, a.ID, b.ID)
}

func TestSelect(t *testing.T) {
	s := New()
	a := s.Create()
	s.Create()

	s.Select(a.ID)
	assert.Equal(t, a.ID, s.ActiveID())

	s.Select("does-not-exist")
	assert.Equal(t, a.ID, s.ActiveID())
}

func TestDelete_ActiveFallback(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		deleteIdx  int
		wantActive int // index into original ids, -1 for none
	}{
		{"middle selects next", 3, 1, 2},
		{"first selects next", 3, 0, 1},
		{"last selects previous", 3, 2, 1},
		{"only leaves none", 1, 0, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New()
			var created []string
			for i := 0; i < tt.count; i++ {
				created = append(created, s.Create().ID)
			}
			s.Select(created[tt.deleteIdx])
			s.Delete(created[tt.deleteIdx])

			want := ""
			if tt.wantActive >= 0 {
				want = created[tt.wantActive]
			}
			assert.Equal(t, want, s.ActiveID())
			assert.Equal(t, tt.count-1, s.Len())
		})
	}
}

func TestDelete_InactiveKeepsSelection(t *testing.T) {
	s := New()
	a := s.Create()
	b := s.Create()

	s.Delete(a.ID)
	assert.Equal(t, b.ID, s.ActiveID())
	assert.Equal(t, []string{b.ID}, ids(s))
}

func TestInvalidIDsAreNoOps(t *testing.T) {
	s := New()
	a := s.Create()
	rec := &recorder{}
	s.Subscribe(rec.observe)
	before := s.Snapshot()

	s.Select("nope")
	s.Delete("nope")
	s.Rename("nope", "title")
	s.Rename(a.ID, "   ")

	assert.Empty(t, rec.all())
	assert.Equal(t, before.Version, s.Snapshot().Version)
	assert.Equal(t, a.ID, s.ActiveID())
}

func TestRename(t *testing.T) {
	s := New()
	a := s.Create()
	s.Rename(a.ID, "  Project   notes ")

	conv, ok := s.Conversation(a.ID)
	require.True(t, ok)
	assert.Equal(t, "Project notes", conv.Title)
}

func TestBeginTurn_CreatesConversationWhenNoneActive(t *testing.T) {
	s := New()
	rec := &recorder{}
	s.Subscribe(rec.observe)

	turn, err := s.BeginTurn(TurnRequest{Content: "Hello", Model: "m1"})
	require.NoError(t, err)

	// One transition covers create, append, title and Sending.
	snaps := rec.all()
	require.Len(t, snaps, 1)
	snap := snaps[0]

	assert.True(t, snap.IsStreaming())
	assert.Equal(t, turn.ID, snap.Turn.TurnID)
	assert.Equal(t, turn.ConversationID, snap.ActiveID)
	assert.Equal(t, turn.AssistantMessageID, snap.Turn.MessageID)

	conv := snap.Active()
	require.NotNil(t, conv)
	assert.Equal(t, "Hello", conv.Title)
	assert.Equal(t, "m1", conv.Model)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "Hello", conv.Messages[0].Content)
	assert.True(t, conv.Messages[1].IsStreaming)
	assert.Empty(t, conv.Messages[1].Content)

	require.Len(t, turn.History, 2)
	assert.Equal(t, "assistant", turn.History[1].Role)
	assert.Empty(t, turn.History[1].Content)
}

func TestBeginTurn_TargetsRequestedConversation(t *testing.T) {
	s := New()
	a := s.Create()
	s.Create()

	turn, err := s.BeginTurn(TurnRequest{ConversationID: a.ID, Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, turn.ConversationID)
	assert.Equal(t, a.ID, s.ActiveID())
	assert.Equal(t, 2, s.Len())
}

func TestBeginTurn_UnknownConversationFallsBackToActive(t *testing.T) {
	s := New()
	a := s.Create()

	turn, err := s.BeginTurn(TurnRequest{ConversationID: "gone", Content: "hi"})
	require.NoError(t, err)
	assert.Equal(t, a.ID, turn.ConversationID)
}

func TestBeginTurn_Guards(t *testing.T) {
	s := New()

	_, err := s.BeginTurn(TurnRequest{Content: "  \n\t"})
	assert.ErrorIs(t, err, ErrBlankMessage)
	assert.Zero(t, s.Len())

	first, err := s.BeginTurn(TurnRequest{Content: "one"})
	require.NoError(t, err)

	before := s.Snapshot()
	_, err = s.BeginTurn(TurnRequest{Content: "two"})
	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.Equal(t, before.Version, s.Snapshot().Version)

	require.True(t, s.FinalizeTurn(first.ID, ""))
	_, err = s.BeginTurn(TurnRequest{Content: "two"})
	assert.NoError(t, err)
}

func TestTurn_AppendRecordFinalize(t *testing.T) {
	s := New()
	turn, err := s.BeginTurn(TurnRequest{Content: "Hello"})
	require.NoError(t, err)

	assert.True(t, s.AppendChunk(turn.ID, "Hel"))
	assert.True(t, s.AppendChunk(turn.ID, "lo"))
	assert.True(t, s.RecordError(turn.ID, "overloaded"))
	assert.False(t, s.RecordError(turn.ID, "second error"))
	assert.True(t, s.AppendChunk(turn.ID, "!"))
	assert.True(t, s.FinalizeTurn(turn.ID, ""))

	assert.False(t, s.IsStreaming())
	assert.Equal(t, "overloaded", s.Error())

	conv := s.Active()
	reply := conv.MessageByID(turn.AssistantMessageID)
	require.NotNil(t, reply)
	assert.Equal(t, "Hello!", reply.Content)
	assert.Equal(t, "overloaded", reply.Error)
	assert.False(t, reply.IsStreaming)
}

func TestTurn_StaleTurnIDIgnored(t *testing.T) {
	s := New()
	turn, err := s.BeginTurn(TurnRequest{Content: "Hello"})
	require.NoError(t, err)

	assert.False(t, s.AppendChunk("stale", "x"))
	assert.False(t, s.RecordError("stale", "x"))
	assert.False(t, s.FinalizeTurn("stale", ""))
	assert.True(t, s.IsStreaming())

	require.True(t, s.FinalizeTurn(turn.ID, ""))
	assert.False(t, s.AppendChunk(turn.ID, "late"))
	assert.False(t, s.FinalizeTurn(turn.ID, ""))
}

func TestTurn_FinalizeWithReason(t *testing.T) {
	s := New()
	turn, err := s.BeginTurn(TurnRequest{Content: "Hello"})
	require.NoError(t, err)

	require.True(t, s.FinalizeTurn(turn.ID, "server unreachable"))
	assert.Equal(t, "server unreachable", s.Error())

	reply := s.Active().MessageByID(turn.AssistantMessageID)
	assert.Equal(t, "server unreachable", reply.Error)
	assert.Empty(t, reply.Content)
}

func TestTurn_NextTurnClearsGlobalError(t *testing.T) {
	s := New()
	turn, _ := s.BeginTurn(TurnRequest{Content: "one"})
	s.FinalizeTurn(turn.ID, "boom")
	require.Equal(t, "boom", s.Error())

	_, err := s.BeginTurn(TurnRequest{Content: "two"})
	require.NoError(t, err)
	assert.Empty(t, s.Error())
}

func TestTurn_DeleteConversationInFlight(t *testing.T) {
	s := New()
	turn, err := s.BeginTurn(TurnRequest{Content: "Hello"})
	require.NoError(t, err)

	s.Delete(turn.ConversationID)
	assert.Zero(t, s.Len())
	assert.True(t, s.IsStreaming())

	assert.False(t, s.AppendChunk(turn.ID, "dropped"))
	assert.True(t, s.FinalizeTurn(turn.ID, ""))
	assert.False(t, s.IsStreaming())
}

func TestClear(t *testing.T) {
	s := New()
	turn, _ := s.BeginTurn(TurnRequest{Content: "Hello"})
	assert.False(t, s.Clear())
	assert.Equal(t, 1, s.Len())

	s.FinalizeTurn(turn.ID, "")
	s.Create()
	assert.True(t, s.Clear())
	assert.Zero(t, s.Len())
	assert.Empty(t, s.ActiveID())
}

func TestStats(t *testing.T) {
	s := New()
	turn, _ := s.BeginTurn(TurnRequest{Content: "Hello"})
	s.Create()

	st := s.Stats()
	assert.Equal(t, Stats{Conversations: 2, Messages: 2, Streaming: true}, st)
	s.FinalizeTurn(turn.ID, "")
	assert.False(t, s.Stats().Streaming)
}

func TestSnapshotsAreDeepCopies(t *testing.T) {
	s := New()
	turn, _ := s.BeginTurn(TurnRequest{Content: "Hello"})
	snap := s.Snapshot()

	s.AppendChunk(turn.ID, "changed")
	snap.Active().Messages[0].Content = "mutated"

	assert.Empty(t, snap.Active().Messages[1].Content)
	assert.Equal(t, "Hello", s.Active().Messages[0].Content)
}

func TestObservers_OrderAndUnsubscribe(t *testing.T) {
	s := New()
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.observe)

	turn, _ := s.BeginTurn(TurnRequest{Content: "Hello"})
	s.AppendChunk(turn.ID, "a")
	s.AppendChunk(turn.ID, "b")
	s.FinalizeTurn(turn.ID, "")

	snaps := rec.all()
	require.Len(t, snaps, 4)
	var contents []string
	for i, snap := range snaps {
		if i > 0 {
			assert.Greater(t, snap.Version, snaps[i-1].Version)
		}
		contents = append(contents, snap.Active().Messages[1].Content)
	}
	assert.Equal(t, []string{"", "a", "ab", "ab"}, contents)
	assert.True(t, snaps[2].IsStreaming())
	assert.False(t, snaps[3].IsStreaming())

	unsubscribe()
	unsubscribe()
	s.Create()
	assert.Len(t, rec.all(), 4)
}

func TestObservers_MayReadDuringDelivery(t *testing.T) {
	s := New()
	var seen []bool
	s.Subscribe(func(snap Snapshot) {
		seen = append(seen, s.IsStreaming() == snap.IsStreaming())
	})

	turn, _ := s.BeginTurn(TurnRequest{Content: "Hello"})
	s.FinalizeTurn(turn.ID, "")
	assert.Equal(t, []bool{true, true}, seen)
}

func TestObservers_ConcurrentMutationsDeliveredInOrder(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var versions []uint64
	s.Subscribe(func(snap Snapshot) {
		mu.Lock()
		versions = append(versions, snap.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				s.Create()
			}
		}()
	}
	wg.Wait()

	require.Len(t, versions, 160)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

func TestObservers_ReadWhileOtherMutationsWait(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var lens []int
	s.Subscribe(func(Snapshot) {
		time.Sleep(time.Millisecond)
		n := s.Len()
		mu.Lock()
		lens = append(lens, n)
		mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					s.Create()
				}
			}()
		}
		wg.Wait()
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("mutations blocked while an observer read the store")
	}
	assert.Equal(t, 100, s.Len())
	assert.Len(t, lens, 100)
}
