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

package publishers

import (
	"testing"
	"time"

	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPublisher(t *testing.T, filter []string) (*MQTTPublisher, *mockMQTTClient) {
	t.Helper()
	mock := newMockMQTTClient()
	p := NewMQTTPublisher(config.MQTTPublisher{
		Broker: "localhost:1883",
		Topic:  "moonunit/events/",
		Filter: filter,
	})
	p.newClient = mock.factory()
	return p, mock
}

func waitPublished(t *testing.T, mock *mockMQTTClient, n int) []publishedMessage {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(mock.published()) >= n
	}, time.Second, time.Millisecond)
	return mock.published()
}

func TestNewMQTTPublisher(t *testing.T) {
	t.Parallel()

	p := NewMQTTPublisher(config.MQTTPublisher{
		Broker: "broker.example.com:8883",
		Topic:  "gateway/",
		Filter: []string{"gauger"},
	})
	assert.Equal(t, "broker.example.com:8883", p.broker)
	assert.Equal(t, "gateway", p.topic)
	assert.Equal(t, []string{"gauger"}, p.Filter())
	assert.NotNil(t, p.stopCh)
}

func TestTopic(t *testing.T) {
	t.Parallel()

	p, _ := newTestPublisher(t, nil)
	assert.Equal(t, "moonunit/events/gauger/telemetry", p.Topic(models.NotificationGaugerTelemetry))
	assert.Equal(t, "moonunit/events/gpio/pulse", p.Topic(models.NotificationGPIOPulse))
}

func TestBrokerURL(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "tcp://localhost:1883", brokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", brokerURL("ssl://broker:8883"))
}

func TestStart_Publishes(t *testing.T) {
	t.Parallel()

	p, mock := newTestPublisher(t, nil)
	notifChan := make(chan models.Notification, 10)
	require.NoError(t, p.Start("dev-1", notifChan))
	defer p.Stop()

	require.NotNil(t, mock.opts)
	assert.True(t, mock.opts.WillEnabled)
	assert.Equal(t, "moonunit/events/gateway/online", mock.opts.WillTopic)
	assert.True(t, mock.opts.WillRetained)
	assert.JSONEq(t, `{"device_id":"dev-1","online":false}`, string(mock.opts.WillPayload))

	notifChan <- models.Notification{
		Method: models.NotificationGaugerTelemetry,
		Params: []byte(`{"tag":"GPS","values":[52.1,4.3]}`),
	}

	msgs := waitPublished(t, mock, 1)
	assert.Equal(t, "moonunit/events/gauger/telemetry", msgs[0].topic)
	assert.False(t, msgs[0].retained)
	assert.JSONEq(t, `{"tag":"GPS","values":[52.1,4.3]}`, string(msgs[0].payload.([]byte)))
}

func TestPublish_DeviceStateRetainedPerDevice(t *testing.T) {
	t.Parallel()

	p, mock := newTestPublisher(t, nil)
	notifChan := make(chan models.Notification, 10)
	require.NoError(t, p.Start("dev-1", notifChan))
	defer p.Stop()

	notifChan <- models.Notification{
		Method: models.NotificationDeviceState,
		Params: []byte(`{"device":"controller","state":"ready"}`),
	}

	msgs := waitPublished(t, mock, 1)
	assert.Equal(t, "moonunit/events/device/state/controller", msgs[0].topic)
	assert.True(t, msgs[0].retained)
}

func TestStart_ConnectError(t *testing.T) {
	t.Parallel()

	p, mock := newTestPublisher(t, nil)
	mock.connectError = assert.AnError

	err := p.Start("dev-1", make(chan models.Notification))
	require.ErrorIs(t, err, assert.AnError)
}

func TestPublish_ErrorIsLogged(t *testing.T) {
	t.Parallel()

	p, mock := newTestPublisher(t, nil)
	mock.publishError = assert.AnError
	notifChan := make(chan models.Notification)
	require.NoError(t, p.Start("dev-1", notifChan))

	// unbuffered, so the send returns once the loop has taken it
	notifChan <- models.Notification{Method: models.NotificationGPIOPulse, Params: []byte(`{}`)}
	notifChan <- models.Notification{Method: models.NotificationGPIOPulse, Params: []byte(`{}`)}

	p.Stop()
	assert.Empty(t, mock.published())
}

func TestPublishNotifications_ChannelClosed(t *testing.T) {
	t.Parallel()

	p, mock := newTestPublisher(t, nil)
	notifChan := make(chan models.Notification)
	require.NoError(t, p.Start("dev-1", notifChan))

	close(notifChan)
	p.Stop()
	assert.Equal(t, 1, mock.disconnects())
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	p, mock := newTestPublisher(t, nil)
	require.NoError(t, p.Start("dev-1", make(chan models.Notification)))

	p.Stop()
	p.Stop()

	assert.Equal(t, 1, mock.disconnects())
	assert.False(t, mock.IsConnected())
	_, ok := <-p.stopCh
	assert.False(t, ok, "stopCh should be closed after Stop()")
}

func TestStop_NeverStarted(t *testing.T) {
	t.Parallel()

	p, mock := newTestPublisher(t, nil)
	p.Stop()
	assert.Equal(t, 0, mock.disconnects())
}
