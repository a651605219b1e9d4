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

// Package client talks to a running gateway over its HTTP API and
// websocket feed.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/rs/zerolog/log"
)

var (
	ErrRequestTimeout   = errors.New("request timed out")
	ErrInvalidBody      = errors.New("invalid body")
	ErrRequestCancelled = errors.New("request cancelled")
)

// RequestTimeout bounds a single API call. It is a little longer than the
// server's own handler timeout.
const RequestTimeout = 35 * time.Second

// WebSocketPath is where the gateway serves its notification feed.
const WebSocketPath = "/ws"

// APIError is a non-2xx response from the gateway.
type APIError struct {
	Message    string
	State      string
	StatusCode int
}

func (e *APIError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s (%d, state %s)", e.Message, e.StatusCode, e.State)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

func localHost(cfg *config.Instance) string {
	return net.JoinHostPort("localhost", strconv.Itoa(cfg.APIPort()))
}

// LocalClient sends one request to the gateway running on this machine and
// returns the response body. An empty body sends no payload; otherwise it
// must be valid JSON.
func LocalClient(
	ctx context.Context,
	cfg *config.Instance,
	method string,
	path string,
	body string,
) (string, error) {
	u := url.URL{
		Scheme: "http",
		Host:   localHost(cfg),
		Path:   path,
	}

	var payload io.Reader = http.NoBody
	if body != "" {
		if !json.Valid([]byte(body)) {
			return "", ErrInvalidBody
		}
		payload = strings.NewReader(body)
	}

	reqCtx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), payload)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			return "", ErrRequestCancelled
		case errors.Is(err, context.DeadlineExceeded):
			return "", ErrRequestTimeout
		default:
			return "", fmt.Errorf("request failed: %w", err)
		}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing response body")
		}
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var er struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			State   string `json:"state"`
		}
		if json.Unmarshal(data, &er) == nil {
			switch {
			case er.Error != "":
				apiErr.Message = er.Error
			case er.Message != "":
				apiErr.Message = er.Message
			}
			apiErr.State = er.State
		}
		return "", apiErr
	}

	return string(data), nil
}

func dialFeed(ctx context.Context, cfg *config.Instance) (*websocket.Conn, error) {
	u := url.URL{
		Scheme: "ws",
		Host:   localHost(cfg),
		Path:   WebSocketPath,
	}
	c, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to notification feed: %w", err)
	}
	return c, nil
}

// readNotifications delivers every valid notification on c to fn until fn
// returns false or the socket fails.
func readNotifications(c *websocket.Conn, fn func(models.NotificationObject) bool) {
	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Debug().Err(err).Msg("notification feed closed")
			return
		}

		var n models.NotificationObject
		if err := json.Unmarshal(message, &n); err != nil {
			continue
		}
		if n.JSONRPC != "2.0" {
			log.Error().Msg("invalid jsonrpc version")
			continue
		}
		if !fn(n) {
			return
		}
	}
}

func closeConn(c *websocket.Conn) {
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Msg("error closing websocket")
	}
}

// WaitNotification blocks until a notification with the given method
// arrives and returns its params. A zero timeout uses RequestTimeout and a
// negative one waits forever.
func WaitNotification(
	ctx context.Context,
	timeout time.Duration,
	cfg *config.Instance,
	method string,
) (string, error) {
	c, err := dialFeed(ctx, cfg)
	if err != nil {
		return "", err
	}
	defer closeConn(c)

	done := make(chan struct{})
	var params json.RawMessage
	var found bool

	go func() {
		defer close(done)
		readNotifications(c, func(n models.NotificationObject) bool {
			if n.Method != method {
				return true
			}
			params = n.Params
			found = true
			return false
		})
	}()

	var timerChan <-chan time.Time
	if timeout == 0 {
		timeout = RequestTimeout
	}
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerChan = timer.C
	}

	select {
	case <-done:
	case <-timerChan:
		closeConn(c)
		<-done
		return "", ErrRequestTimeout
	case <-ctx.Done():
		closeConn(c)
		<-done
		return "", ErrRequestCancelled
	}

	if !found {
		return "", ErrRequestTimeout
	}
	return string(params), nil
}

// Watch streams every notification to fn until ctx is cancelled or the
// gateway closes the feed.
func Watch(ctx context.Context, cfg *config.Instance, fn func(models.NotificationObject)) error {
	c, err := dialFeed(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeConn(c)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readNotifications(c, func(n models.NotificationObject) bool {
			fn(n)
			return true
		})
	}()

	select {
	case <-done:
		return errors.New("notification feed closed by gateway")
	case <-ctx.Done():
		closeConn(c)
		<-done
		return nil
	}
}
