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

// Package testutils provides an in-memory GPIO chip.
package testutils

import (
	"slices"

	"github.com/moonunit/gateway/pkg/gpio"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
)

// MockChip implements gpio.Chip. Line values live on the chip so tests can
// drive inputs with Set and observe outputs with Value.
type MockChip struct {
	values map[int]int
	lines  map[int]*mockLine
	failOn map[int]error
	mu     syncutil.Mutex
	closed bool
}

func NewMockChip() *MockChip {
	return &MockChip{
		values: make(map[int]int),
		lines:  make(map[int]*mockLine),
		failOn: make(map[int]error),
	}
}

// Opener returns a gpio.ChipOpener that always hands out c.
func (c *MockChip) Opener() gpio.ChipOpener {
	return func(string) (gpio.Chip, error) {
		return c, nil
	}
}

// FailRequest makes requests for offset return err.
func (c *MockChip) FailRequest(offset int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOn[offset] = err
}

func (c *MockChip) request(offset int) (*mockLine, error) {
	if err, ok := c.failOn[offset]; ok {
		return nil, err
	}
	l := &mockLine{chip: c, offset: offset}
	c.lines[offset] = l
	return l, nil
}

func (c *MockChip) RequestOutput(offset, initial int) (gpio.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.request(offset)
	if err != nil {
		return nil, err
	}
	c.values[offset] = initial
	return l, nil
}

func (c *MockChip) RequestInput(offset int) (gpio.Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.request(offset)
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (c *MockChip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *MockChip) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockChip) Value(offset int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[offset]
}

// Set drives a line, typically an input such as the ready line.
func (c *MockChip) Set(offset, v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[offset] = v
}

// History returns every value written to offset through its line.
func (c *MockChip) History(offset int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[offset]
	if !ok {
		return nil
	}
	return slices.Clone(l.history)
}

func (c *MockChip) Requested(offset int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.lines[offset]
	return ok
}

func (c *MockChip) LineClosed(offset int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[offset]
	return ok && l.closed
}

// Offsets lists every requested line.
func (c *MockChip) Offsets() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int, 0, len(c.lines))
	for offset := range c.lines {
		out = append(out, offset)
	}
	slices.Sort(out)
	return out
}

type mockLine struct {
	chip    *MockChip
	history []int
	offset  int
	closed  bool
}

func (l *mockLine) Value() (int, error) {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	return l.chip.values[l.offset], nil
}

func (l *mockLine) SetValue(v int) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	l.chip.values[l.offset] = v
	l.history = append(l.history, v)
	return nil
}

func (l *mockLine) Close() error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	l.closed = true
	return nil
}
