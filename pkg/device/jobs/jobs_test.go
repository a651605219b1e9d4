// MoonUnit Gateway
// Copyright (c) 2026 The MoonUnit Gateway Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of MoonUnit Gateway.
//
// MoonUnit Gateway is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// MoonUnit Gateway is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with MoonUnit Gateway.  If not, see <http://www.gnu.org/licenses/>.

package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/moonunit/gateway/pkg/device/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_ResolveOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	j := New(":15 ;", WithHandler(func(_ wire.Frame, _ error) {
		calls.Add(1)
	}))

	assert.False(t, j.Resolved())
	assert.True(t, j.Resolve(wire.Decode("=00ACKfirst")))
	assert.False(t, j.Resolve(wire.Decode("=00ACKsecond")))
	assert.False(t, j.Fail(errors.New("late")))
	assert.True(t, j.Resolved())

	frame, err := j.Future().Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", frame.Body)
	assert.Equal(t, int32(1), calls.Load())
}

func TestJob_ConcurrentResolve(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	j := New("x", WithHandler(func(_ wire.Frame, _ error) {
		calls.Add(1)
	}))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if j.Resolve(wire.TimeoutFrame()) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestJob_Fail(t *testing.T) {
	t.Parallel()

	boom := errors.New("write failed")
	j := New("x")
	j.Fail(boom)

	_, err := j.Future().Wait(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestFuture_WaitContext(t *testing.T) {
	t.Parallel()

	j := New("x")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := j.Future().Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// the job is still live after the waiter gave up
	assert.True(t, j.Resolve(wire.ClosedFrame()))
}

func TestAsSystem(t *testing.T) {
	t.Parallel()

	assert.True(t, New(":15 ;", AsSystem()).IsSystem)
	assert.False(t, New(":15 ;").IsSystem)
}

func TestQueue_LIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(LIFO)
	a, b, c := New("a"), New("b"), New("c")
	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))
	require.NoError(t, q.Push(c))

	for _, want := range []*Job{c, b, a} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Same(t, want, got)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_FIFO(t *testing.T) {
	t.Parallel()

	q := NewQueue(FIFO)
	a, b, c := New("a"), New("b"), New("c")
	require.NoError(t, q.Push(a))
	require.NoError(t, q.Push(b))
	require.NoError(t, q.Push(c))

	for _, want := range []*Job{a, b, c} {
		got, ok := q.Pop()
		require.True(t, ok)
		assert.Same(t, want, got)
	}
}

func TestQueue_PushTwice(t *testing.T) {
	t.Parallel()

	q := NewQueue(LIFO)
	j := New("a")
	require.NoError(t, q.Push(j))
	require.ErrorIs(t, q.Push(j), ErrAlreadyQueued)
	assert.Equal(t, 1, q.Len())

	// popping does not make a job queueable again
	_, _ = q.Pop()
	require.ErrorIs(t, q.Push(j), ErrAlreadyQueued)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Drain(t *testing.T) {
	t.Parallel()

	for _, order := range []Order{LIFO, FIFO} {
		q := NewQueue(order)
		a, b := New("a"), New("b")
		require.NoError(t, q.Push(a))
		require.NoError(t, q.Push(b))

		drained := q.Drain()
		require.Len(t, drained, 2)
		if order == LIFO {
			assert.Same(t, b, drained[0])
		} else {
			assert.Same(t, a, drained[0])
		}
		assert.Equal(t, 0, q.Len())
	}
}

func TestParseOrder(t *testing.T) {
	t.Parallel()

	o, err := ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, LIFO, o)

	o, err = ParseOrder(" FIFO ")
	require.NoError(t, err)
	assert.Equal(t, FIFO, o)
	assert.Equal(t, "fifo", o.String())

	_, err = ParseOrder("random")
	require.Error(t, err)
}
