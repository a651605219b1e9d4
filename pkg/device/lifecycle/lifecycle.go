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

// Package lifecycle owns a device connection and the worker that drives its
// dispatcher, moving through open, settle, ready, close and reset.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/moonunit/gateway/pkg/device/dispatch"
	"github.com/moonunit/gateway/pkg/device/jobs"
	"github.com/moonunit/gateway/pkg/device/transport"
	"github.com/moonunit/gateway/pkg/device/wire"
	"github.com/moonunit/gateway/pkg/helpers/syncutil"
	"github.com/rs/zerolog/log"
)

const (
	DefaultOpenDelay  = 2 * time.Second
	DefaultResetDelay = 5 * time.Second
)

var (
	// ErrNotConnected is returned when a command is sent to a device that is
	// not Ready.
	ErrNotConnected = errors.New("device not connected")
	// ErrAborted is returned by Connect when a disconnect, reset or newer
	// connect superseded it.
	ErrAborted = errors.New("connect aborted")
	// ErrNoResetLine is returned by Reset when the device has no reset line.
	ErrNoResetLine = errors.New("device has no reset line")
	// ErrShutdown is returned by Connect and Reset after Shutdown.
	ErrShutdown = errors.New("device shut down")
)

// State is a point in the device lifecycle.
type State int

const (
	Closed State = iota
	Opening
	Settling
	Ready
	Closing
	Resetting
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Settling:
		return "settling"
	case Ready:
		return "ready"
	case Closing:
		return "closing"
	case Resetting:
		return "resetting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds lifecycle timing.
type Config struct {
	Name string
	// OpenDelay is how long to wait after opening before sending anything.
	// Boards reboot when the port opens and ignore input until they are up.
	OpenDelay time.Duration
	// ResetDelay is how long to wait after a reset pulse before reopening.
	ResetDelay time.Duration
}

// Hook runs after the device becomes Ready.
type Hook func(ctx context.Context, d *Device) error

// ResetFunc pulses the hardware reset line.
type ResetFunc func(ctx context.Context) error

// StateListener is told about every state change. It must not call back
// into the Device synchronously.
type StateListener func(name string, s State)

// Option configures a Device.
type Option func(*Device)

func WithClock(c clockwork.Clock) Option {
	return func(d *Device) {
		d.clock = c
	}
}

// WithReset enables Reset using fn to pulse the reset line.
func WithReset(fn ResetFunc) Option {
	return func(d *Device) {
		d.reset = fn
	}
}

// WithOnReady adds a hook run in the background each time the device
// becomes Ready. Hook errors are logged.
func WithOnReady(h Hook) Option {
	return func(d *Device) {
		d.onReady = append(d.onReady, h)
	}
}

func WithStateListener(fn StateListener) Option {
	return func(d *Device) {
		d.listeners = append(d.listeners, fn)
	}
}

// handle is what a connection epoch owns and teardown releases.
type handle struct {
	conn         transport.Conn
	stopWorker   context.CancelFunc
	workerDone   <-chan struct{}
	cancelSettle context.CancelFunc
}

// Device is one serial peripheral with its dispatcher.
type Device struct {
	clock      clockwork.Clock
	opener     transport.Opener
	dispatcher dispatch.Dispatcher
	life       context.Context
	stopLife   context.CancelFunc
	reset      ResetFunc
	cur        handle
	onReady    []Hook
	listeners  []StateListener
	notes      []State
	cfg        Config
	bg         sync.WaitGroup
	epoch      uint64
	mu         syncutil.Mutex
	state      State
	// closed is set by Shutdown. No background work starts after it.
	closed bool
}

// New creates a Closed device. Nothing is opened until Connect.
func New(cfg Config, opener transport.Opener, disp dispatch.Dispatcher, opts ...Option) *Device {
	life, stop := context.WithCancel(context.Background())
	d := &Device{
		cfg:        cfg,
		opener:     opener,
		dispatcher: disp,
		clock:      clockwork.NewRealClock(),
		life:       life,
		stopLife:   stop,
		state:      Closed,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Device) Name() string {
	return d.cfg.Name
}

// Endpoint describes where the device is connected, such as its port path.
func (d *Device) Endpoint() string {
	return d.opener.Describe()
}

func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// IsConnected reports whether the device is Ready for commands.
func (d *Device) IsConnected() bool {
	return d.State() == Ready
}

// Busy reports whether a command is on the wire.
func (d *Device) Busy() bool {
	return d.dispatcher.Busy()
}

// Pending returns the number of unresolved commands.
func (d *Device) Pending() int {
	return d.dispatcher.Pending()
}

// setState must be called with d.mu held; listeners fire on unlock.
func (d *Device) setState(s State) {
	if d.state == s {
		return
	}
	log.Debug().Str("device", d.cfg.Name).Stringer("from", d.state).Stringer("to", s).Msg("device state change")
	d.state = s
	d.notes = append(d.notes, s)
}

func (d *Device) unlock() {
	notes := d.notes
	d.notes = nil
	d.mu.Unlock()

	for _, s := range notes {
		for _, fn := range d.listeners {
			fn(d.cfg.Name, s)
		}
	}
}

// detach takes ownership of the current handle and starts a new epoch. The
// caller must hold d.mu and pass the result to teardown after unlocking.
func (d *Device) detach() (handle, uint64) {
	h := d.cur
	d.cur = handle{}
	d.epoch++
	return h, d.epoch
}

func (d *Device) teardown(h handle) {
	if h.cancelSettle != nil {
		h.cancelSettle()
	}
	if h.stopWorker != nil {
		h.stopWorker()
		<-h.workerDone
	}
	if h.conn != nil {
		if err := h.conn.Close(); err != nil {
			log.Warn().Err(err).Str("device", d.cfg.Name).Msg("error closing device")
		}
	}
}

// Connect opens the device, waits OpenDelay for it to settle, and starts
// the worker. Any existing connection is closed first.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrShutdown
	}
	prev, epoch := d.detach()
	settleCtx, cancelSettle := context.WithCancel(ctx)
	d.cur.cancelSettle = cancelSettle
	d.setState(Opening)
	d.unlock()

	d.teardown(prev)

	log.Info().Str("device", d.cfg.Name).Str("endpoint", d.opener.Describe()).Msg("opening device")
	conn, err := d.opener.Open(ctx)
	if err != nil {
		d.mu.Lock()
		if d.epoch == epoch {
			d.cur = handle{}
			d.setState(Closed)
		}
		d.unlock()
		cancelSettle()
		return fmt.Errorf("failed to open %s: %w", d.cfg.Name, err)
	}

	d.mu.Lock()
	if d.epoch != epoch {
		d.unlock()
		cancelSettle()
		_ = conn.Close()
		return ErrAborted
	}
	d.cur.conn = conn
	d.setState(Settling)
	d.unlock()

	select {
	case <-d.clock.After(d.cfg.OpenDelay):
	case <-settleCtx.Done():
	}

	d.mu.Lock()
	if d.epoch != epoch {
		// whoever bumped the epoch owns teardown
		d.unlock()
		return ErrAborted
	}
	if settleCtx.Err() != nil || d.closed {
		h, _ := d.detach()
		d.setState(Closed)
		d.unlock()
		d.teardown(h)
		return ErrAborted
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	done := make(chan struct{})
	d.cur.stopWorker = stopWorker
	d.cur.workerDone = done
	d.cur.cancelSettle = nil
	d.setState(Ready)
	// bg.Add must happen under mu; Shutdown may be in bg.Wait after unlock.
	d.bg.Add(1 + len(d.onReady))
	d.unlock()
	cancelSettle()

	go d.work(workerCtx, conn, done, epoch)

	log.Info().Str("device", d.cfg.Name).Msg("device ready")

	for _, hook := range d.onReady {
		go func() {
			defer d.bg.Done()
			if err := hook(d.life, d); err != nil {
				log.Error().Err(err).Str("device", d.cfg.Name).Msg("ready hook failed")
			}
		}()
	}
	return nil
}

func (d *Device) work(ctx context.Context, conn transport.Conn, done chan<- struct{}, epoch uint64) {
	defer d.bg.Done()
	err := d.dispatcher.Run(ctx, conn)
	close(done)

	if !errors.Is(err, dispatch.ErrConnectionLost) {
		return
	}

	d.mu.Lock()
	if d.epoch != epoch {
		d.unlock()
		return
	}
	h, _ := d.detach()
	d.setState(Closed)
	d.unlock()

	log.Warn().Str("device", d.cfg.Name).Msg("device connection lost")
	d.dispatcher.Drain()
	d.teardown(h)
}

// Disconnect drains queued commands, stops the worker and closes the
// device. It is idempotent and never fails.
func (d *Device) Disconnect() {
	d.mu.Lock()
	h, epoch := d.detach()
	if d.state != Closed {
		d.setState(Closing)
	}
	d.unlock()

	d.dispatcher.Drain()
	d.teardown(h)

	d.mu.Lock()
	if d.epoch == epoch {
		d.setState(Closed)
	}
	d.unlock()
	log.Info().Str("device", d.cfg.Name).Msg("device disconnected")
}

// Reset closes the device, pulses its reset line and reconnects once in
// the background after ResetDelay. A failed reconnect is logged and leaves
// the device Closed.
func (d *Device) Reset(ctx context.Context) error {
	if d.reset == nil {
		return ErrNoResetLine
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrShutdown
	}
	h, epoch := d.detach()
	d.setState(Resetting)
	d.unlock()

	d.dispatcher.Drain()
	d.teardown(h)

	log.Info().Str("device", d.cfg.Name).Msg("resetting device")
	if err := d.reset(ctx); err != nil {
		d.mu.Lock()
		if d.epoch == epoch {
			d.setState(Closed)
		}
		d.unlock()
		return fmt.Errorf("failed to reset %s: %w", d.cfg.Name, err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.bg.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.bg.Done()

		select {
		case <-d.clock.After(d.cfg.ResetDelay):
		case <-d.life.Done():
			return
		}

		d.mu.Lock()
		superseded := d.epoch != epoch
		d.mu.Unlock()
		if superseded {
			return
		}

		if err := d.Connect(d.life); err != nil {
			log.Error().Err(err).Str("device", d.cfg.Name).Msg("failed to reconnect after reset")
		}
	}()
	return nil
}

// Shutdown disconnects and waits for background work. It is safe to call
// on a device in any state.
func (d *Device) Shutdown() {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("device", d.cfg.Name).Msg("panic during device shutdown")
		}
	}()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.stopLife()
	d.Disconnect()
	d.bg.Wait()
}

// Enqueue submits a command if the device is Ready. The push happens under
// mu so a concurrent Disconnect or Reset always drains it.
func (d *Device) Enqueue(body string, opts ...jobs.Option) (*jobs.Future, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Ready {
		return nil, ErrNotConnected
	}
	return d.dispatcher.Enqueue(body, opts...), nil
}

// Send submits a command and waits for its response.
func (d *Device) Send(ctx context.Context, body string) (wire.Frame, error) {
	fut, err := d.Enqueue(body)
	if err != nil {
		return wire.Frame{}, err
	}
	frame, err := fut.Wait(ctx)
	if err != nil {
		return frame, fmt.Errorf("%s: %w", d.cfg.Name, err)
	}
	return frame, nil
}
