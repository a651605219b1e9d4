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
	"errors"
	"fmt"
	"strings"

	"github.com/moonunit/gateway/pkg/helpers/syncutil"
)

// ErrAlreadyQueued is returned when a Job that has been queued before is
// pushed again.
var ErrAlreadyQueued = errors.New("job already queued")

// Order selects which end of the queue Pop takes from.
type Order int

const (
	// LIFO pops the most recently pushed Job first.
	LIFO Order = iota
	// FIFO pops the oldest Job first.
	FIFO
)

func (o Order) String() string {
	if o == FIFO {
		return "fifo"
	}
	return "lifo"
}

// ParseOrder parses a config value. An empty string is LIFO.
func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lifo":
		return LIFO, nil
	case "fifo":
		return FIFO, nil
	default:
		return LIFO, fmt.Errorf("unknown queue order: %q", s)
	}
}

// Queue is a mutex guarded list of pending Jobs. Jobs are pushed at the head.
type Queue struct {
	items []*Job // items[len-1] is the head
	mu    syncutil.Mutex
	order Order
}

// NewQueue creates an empty queue.
func NewQueue(order Order) *Queue {
	return &Queue{order: order}
}

// Push adds a Job to the head of the queue.
func (q *Queue) Push(j *Job) error {
	if !j.queued.CompareAndSwap(false, true) {
		return ErrAlreadyQueued
	}

	q.mu.Lock()
	q.items = append(q.items, j)
	q.mu.Unlock()
	return nil
}

// Pop removes the next Job according to the queue order.
func (q *Queue) Pop() (*Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.items)
	if n == 0 {
		return nil, false
	}

	var j *Job
	if q.order == FIFO {
		j = q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
	} else {
		j = q.items[n-1]
		q.items[n-1] = nil
		q.items = q.items[:n-1]
	}
	return j, true
}

// Len returns the number of queued Jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain empties the queue and returns what was in it, next-to-pop first.
// The caller resolves the returned Jobs.
func (q *Queue) Drain() []*Job {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.mu.Unlock()

	out := make([]*Job, len(items))
	for i, j := range items {
		if q.order == FIFO {
			out[i] = j
		} else {
			out[len(items)-1-i] = j
		}
	}
	return out
}
