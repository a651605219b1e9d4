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

// Package broker fans gateway notifications out to independent consumers
// without letting a slow consumer hold up the devices.
package broker

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

type subscriber struct {
	ch      chan models.Notification
	name    string
	methods []string
}

// Broker reads one source channel and copies every notification to each
// subscriber whose filter accepts it. Sends never block.
type Broker struct {
	source      <-chan models.Notification
	subscribers map[int]*subscriber
	done        chan struct{}
	dropped     atomic.Uint64
	mu          syncutil.RWMutex
	nextID      int
}

func NewBroker(source <-chan models.Notification) *Broker {
	return &Broker{
		source:      source,
		subscribers: make(map[int]*subscriber),
		done:        make(chan struct{}),
	}
}

// Start runs the broadcast loop until ctx is cancelled or the source
// closes. All subscriber channels are closed on the way out.
func (b *Broker) Start(ctx context.Context) {
	go func() {
		defer close(b.done)
		defer b.closeAllSubscribers()
		for {
			select {
			case notif, ok := <-b.source:
				if !ok {
					log.Debug().Msg("broker: source channel closed")
					return
				}
				b.broadcast(notif)
			case <-ctx.Done():
				log.Debug().Msg("broker: context cancelled, shutting down")
				return
			}
		}
	}()
}

// Done is closed once the loop started by Start has exited.
func (b *Broker) Done() <-chan struct{} {
	return b.done
}

// MatchMethod reports whether method passes filter. An empty filter passes
// everything. An entry matches the method itself or any method under it,
// so "gauger" matches "gauger.telemetry".
func MatchMethod(filter []string, method string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if method == f || strings.HasPrefix(method, f+".") {
			return true
		}
	}
	return false
}

func (b *Broker) broadcast(notif models.Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, sub := range b.subscribers {
		if !MatchMethod(sub.methods, notif.Method) {
			continue
		}
		select {
		case sub.ch <- notif:
		default:
			b.dropped.Add(1)
			log.Warn().
				Int("subscriber_id", id).
				Str("subscriber", sub.name).
				Str("method", notif.Method).
				Msg("subscriber channel full, dropping notification")
		}
	}
}

// Subscribe registers a consumer. Only notifications whose method passes
// methods are delivered; see MatchMethod.
func (b *Broker) Subscribe(
	name string,
	bufferSize int,
	methods ...string,
) (notifChan <-chan models.Notification, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id = b.nextID
	b.nextID++

	ch := make(chan models.Notification, bufferSize)
	b.subscribers[id] = &subscriber{ch: ch, name: name, methods: methods}

	log.Debug().
		Int("subscriber_id", id).
		Str("subscriber", name).
		Int("buffer_size", bufferSize).
		Msg("new subscriber registered")

	return ch, id
}

// Unsubscribe removes a subscription and closes its channel. Unknown IDs
// are ignored.
func (b *Broker) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
		log.Debug().Int("subscriber_id", id).Str("subscriber", sub.name).Msg("subscriber unsubscribed")
	}
}

// Dropped counts notifications discarded because a subscriber was full.
func (b *Broker) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Broker) closeAllSubscribers() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subscribers {
		close(sub.ch)
		log.Debug().Int("subscriber_id", id).Msg("closed subscriber channel on shutdown")
	}
	b.subscribers = make(map[int]*subscriber)
}
