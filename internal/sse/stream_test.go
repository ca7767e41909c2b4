// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trackingBody records whether Close was called.
type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func drain(t *testing.T, s *Stream) ([]Chunk, error) {
	t.Helper()
	var out []Chunk
	for {
		c, err := s.Next(context.Background())
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}

func TestStream_YieldsInOrderThenEOF(t *testing.T) {
	body := &trackingBody{Reader: iotest.OneByteReader(strings.NewReader(helloStream))}
	s := NewStream(body, nil)

	var sizes int
	s.OnFragment = func(n int) { sizes += n }

	chunks, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"Hel", "lo", ""}, contents(chunks))
	assert.Equal(t, len(helloStream), sizes)
	assert.True(t, body.closed)

	// Further calls keep reporting the end.
	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_TruncatedSourceDiscardsPartialFrame(t *testing.T) {
	src := "data: {\"content\":\"a\"}\n\ndata: {\"content\":\"b\"}\n\ndata: {\"cont"
	s := NewStream(io.NopCloser(strings.NewReader(src)), nil)

	chunks, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []string{"a", "b"}, contents(chunks))
	assert.Equal(t, len("data: {\"cont"), s.Discarded())
}

func TestStream_SkippedCount(t *testing.T) {
	src := "data: {\"content\":\"a\"}\n\ndata: oops\n\ndata: {\"content\":\"b\",\"done\":true}\n\n"
	s := NewStream(io.NopCloser(strings.NewReader(src)), nil)

	chunks, err := drain(t, s)
	assert.ErrorIs(t, err, io.EOF)
	assert.Len(t, chunks, 2)
	assert.Equal(t, 1, s.Skipped())
}

func TestStream_ReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("data: {\"content\":\"a\"}\n\n"), iotest.ErrReader(boom))
	body := &trackingBody{Reader: r}
	s := NewStream(body, nil)

	chunks, err := drain(t, s)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"a"}, contents(chunks))
	assert.True(t, body.closed)
}

func TestStream_CancelUnblocksRead(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStream(pr, nil)

	go func() {
		pw.Write([]byte("data: {\"content\":\"first\"}\n\n"))
	}()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := s.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", c.Content)

	done := make(chan error, 1)
	go func() {
		_, err := s.Next(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after cancellation")
	}
}

func TestStream_CancelledBeforeNext(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader(helloStream)}
	s := NewStream(body, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, body.closed)
}

func TestStream_CloseEarly(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader(helloStream)}
	s := NewStream(body, nil)

	c, err := s.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Hel", c.Content)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.True(t, body.closed)

	_, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStream_Chan(t *testing.T) {
	body := &trackingBody{Reader: iotest.HalfReader(strings.NewReader(helloStream))}
	s := NewStream(body, nil)

	var got []string
	for res := range s.Chan(context.Background()) {
		require.NoError(t, res.Err)
		got = append(got, res.Chunk.Content)
	}
	assert.Equal(t, []string{"Hel", "lo", ""}, got)
	assert.True(t, body.closed)
}

func TestStream_ChanDeliversError(t *testing.T) {
	boom := errors.New("reset")
	s := NewStream(io.NopCloser(iotest.ErrReader(boom)), nil)

	var errs []error
	for res := range s.Chan(context.Background()) {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], boom)
}

func TestStream_ChanStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	s := NewStream(pr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Chan(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// Only a cancellation error may arrive before the close.
			_, ok = <-ch
		}
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
