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

package gpio

import (
	"fmt"

	gpiod "github.com/warthog618/go-gpiocdev"
)

const consumer = "moonunit-gateway"

type cdevChip struct {
	chip *gpiod.Chip
}

// OpenCdevChip opens a chip through the Linux GPIO character device.
func OpenCdevChip(name string) (Chip, error) {
	chip, err := gpiod.NewChip(name, gpiod.WithConsumer(consumer))
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller
	}
	return &cdevChip{chip: chip}, nil
}

func (c *cdevChip) RequestOutput(offset, initial int) (Line, error) {
	line, err := c.chip.RequestLine(offset, gpiod.AsOutput(initial))
	if err != nil {
		return nil, fmt.Errorf("request output %d: %w", offset, err)
	}
	return line, nil
}

func (c *cdevChip) RequestInput(offset int) (Line, error) {
	line, err := c.chip.RequestLine(offset, gpiod.AsInput)
	if err != nil {
		return nil, fmt.Errorf("request input %d: %w", offset, err)
	}
	return line, nil
}

func (c *cdevChip) Close() error {
	if err := c.chip.Close(); err != nil {
		return fmt.Errorf("close chip: %w", err)
	}
	return nil
}
