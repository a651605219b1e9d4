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

// Package api is the HTTP control surface of the gateway: synchronous
// device commands, connection control, GPIO pulses and a websocket feed
// of notifications.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	apimiddleware "github.com/moonunit/gateway/pkg/api/middleware"
	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/moonunit/gateway/pkg/gpio"
	"github.com/moonunit/gateway/pkg/peripherals/controller"
	"github.com/moonunit/gateway/pkg/peripherals/gauger"
	"github.com/olahol/melody"
	"github.com/rs/zerolog/log"
)

const (
	RequestTimeout  = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Env is everything the handlers need. Controller and Gauger are nil when
// the device is disabled, which leaves its routes unregistered.
type Env struct {
	Config        *config.Instance
	Controller    *controller.Controller
	Gauger        *gauger.Gauger
	Pins          *gpio.Helper
	Notifications <-chan models.Notification
}

func broadcastNotifications(
	ctx context.Context,
	session *melody.Melody,
	notifications <-chan models.Notification,
) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("closing notification broadcaster via context cancellation")
			return
		case notif, ok := <-notifications:
			if !ok {
				return
			}
			data, err := json.Marshal(models.NotificationObject{
				JSONRPC: "2.0",
				Method:  notif.Method,
				Params:  notif.Params,
			})
			if err != nil {
				log.Error().Err(err).Msg("marshalling notification")
				continue
			}
			if err := session.Broadcast(data); err != nil && !errors.Is(err, melody.ErrClosed) {
				log.Error().Err(err).Msg("broadcasting notification")
			}
		}
	}
}

// handleWSMessage answers the "ping" heartbeat. The socket is otherwise
// push only.
func handleWSMessage(session *melody.Session, msg []byte) {
	if string(msg) == "ping" {
		if err := session.Write([]byte("pong")); err != nil {
			log.Error().Err(err).Msg("sending pong")
		}
		return
	}
	log.Debug().Int("size", len(msg)).Msg("ignoring websocket message")
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}

func allowedOrigins(cfg *config.Instance) []string {
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		return origins
	}
	return []string{"https://*", "http://*"}
}

// NewRouter builds the HTTP handler. Notifications are broadcast to
// websocket clients until ctx is cancelled.
func NewRouter(ctx context.Context, env *Env) (http.Handler, *melody.Melody) {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(apimiddleware.HTTPIPFilterMiddleware(apimiddleware.NewIPFilter(env.Config.AllowedIPs())))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(env.Config),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		ExposedHeaders: []string{},
	}))

	limiter := apimiddleware.NewIPRateLimiter()
	limiter.StartCleanup(ctx)
	rateLimited := env.Config.RateLimitEnabled()

	session := melody.New()
	session.Upgrader.CheckOrigin = func(*http.Request) bool { return true }
	if rateLimited {
		session.HandleMessage(apimiddleware.WebSocketRateLimitHandler(limiter, handleWSMessage))
	} else {
		session.HandleMessage(handleWSMessage)
	}
	if env.Notifications != nil {
		go broadcastNotifications(ctx, session, env.Notifications)
	}

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := session.HandleRequest(w, r); err != nil {
			log.Error().Err(err).Msg("handling websocket request")
		}
	})

	r.Group(func(r chi.Router) {
		if rateLimited {
			r.Use(apimiddleware.HTTPRateLimitMiddleware(limiter))
		}
		r.Use(middleware.NoCache)
		r.Use(middleware.Timeout(RequestTimeout))

		r.Get("/status", handleStatus(env))
		r.Get("/gpio/state", handleGPIOState(env))
		r.Post("/gpio/stop", handleGPIOStop(env))

		if env.Controller != nil {
			ctrl := env.Controller
			r.Post("/controller/command/sync", handleCommandSync(ctrl, ctrl.ReadyState))
			r.Post("/controller/connect", handleConnect(ctrl))
			r.Post("/controller/disconnect", handleDisconnect(ctrl))
			r.Post("/gpio/reset", handleReset(env.Pins, ctrl))

			// routes of the single-device gateway, kept for old clients
			r.Post("/command/sync", handleCommandSync(ctrl, ctrl.ReadyState))
			r.Post("/connect", handleConnect(ctrl))
			r.Post("/disconnect", handleDisconnect(ctrl))
		}

		if env.Gauger != nil {
			g := env.Gauger
			r.Post("/gauger/command/sync", handleCommandSync(g, nil))
			r.Post("/gauger/connect", handleConnect(g))
			r.Post("/gauger/disconnect", handleDisconnect(g))
			r.Post("/gauger/reset", handleReset(env.Pins, g))
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, models.ErrorResponse{Error: "method not allowed"})
	})

	return r, session
}

// Server is a running HTTP server.
type Server struct {
	srv      *http.Server
	listener net.Listener
	session  *melody.Melody
	cancel   context.CancelFunc
	done     chan struct{}
}

// Start binds the configured address and serves in the background. The
// listener is open when Start returns, so clients can connect right away.
func Start(env *Env) (*Server, error) {
	addr := env.Config.APIListen()
	lc := net.ListenConfig{}
	listener, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	handler, session := NewRouter(ctx, env)

	s := &Server{
		srv: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: listener,
		session:  session,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("error serving http")
		}
	}()

	log.Info().Str("addr", listener.Addr().String()).Msg("http server listening")
	return s, nil
}

// Addr is the bound address, useful when the configured port is 0.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Stop closes websocket sessions and shuts the server down.
func (s *Server) Stop() error {
	s.cancel()
	if err := s.session.Close(); err != nil && !errors.Is(err, melody.ErrClosed) {
		log.Warn().Err(err).Msg("error closing websocket sessions")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}
