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

package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/moonunit/gateway/pkg/config"
)

// APIClient abstracts API communication for testability.
type APIClient interface {
	// Get fetches path and returns the response body.
	Get(ctx context.Context, path string) (string, error)

	// Post sends body to path and returns the response body.
	Post(ctx context.Context, path, body string) (string, error)

	// WaitNotification blocks until a notification of the given method is received.
	WaitNotification(ctx context.Context, timeout time.Duration, method string) (string, error)
}

// LocalAPIClient implements APIClient against the gateway on this machine.
type LocalAPIClient struct {
	cfg *config.Instance
}

func NewLocalAPIClient(cfg *config.Instance) *LocalAPIClient {
	return &LocalAPIClient{cfg: cfg}
}

func (c *LocalAPIClient) Get(ctx context.Context, path string) (string, error) {
	resp, err := LocalClient(ctx, c.cfg, http.MethodGet, path, "")
	if err != nil {
		return "", fmt.Errorf("api call failed: %w", err)
	}
	return resp, nil
}

func (c *LocalAPIClient) Post(ctx context.Context, path, body string) (string, error) {
	resp, err := LocalClient(ctx, c.cfg, http.MethodPost, path, body)
	if err != nil {
		return "", fmt.Errorf("api call failed: %w", err)
	}
	return resp, nil
}

func (c *LocalAPIClient) WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	method string,
) (string, error) {
	resp, err := WaitNotification(ctx, timeout, c.cfg, method)
	if err != nil {
		return "", fmt.Errorf("wait notification failed: %w", err)
	}
	return resp, nil
}
