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

// Package publishers forwards gateway notifications to outside systems.
package publishers

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/moonunit/gateway/pkg/api/models"
	"github.com/moonunit/gateway/pkg/config"
	"github.com/rs/zerolog/log"
)

const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	disconnectQuiet = 250
)

// ClientFactory builds the MQTT client. Tests swap it for a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// MQTTPublisher publishes notifications under a topic prefix, one subtopic
// per notification method: "device.state" goes to "<topic>/device/state".
// Device state messages are retained so new subscribers see the current
// state straight away.
type MQTTPublisher struct {
	client    mqtt.Client
	newClient ClientFactory
	stopCh    chan struct{}
	broker    string
	topic     string
	filter    []string
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

func NewMQTTPublisher(cfg config.MQTTPublisher) *MQTTPublisher {
	return &MQTTPublisher{
		broker:    cfg.Broker,
		topic:     strings.TrimRight(cfg.Topic, "/"),
		filter:    cfg.Filter,
		newClient: mqtt.NewClient,
		stopCh:    make(chan struct{}),
	}
}

// Filter is the list of notification methods this publisher wants, for
// subscribing to the broker. Empty means all.
func (p *MQTTPublisher) Filter() []string {
	return p.filter
}

// Topic returns the MQTT topic a notification method is published to.
func (p *MQTTPublisher) Topic(method string) string {
	return p.topic + "/" + strings.ReplaceAll(method, ".", "/")
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Start connects to the broker and publishes notifications until Stop is
// called or the channel closes.
func (p *MQTTPublisher) Start(deviceID string, notifications <-chan models.Notification) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.broker))
	opts.SetClientID("moonunit-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(p.topic+"/gateway/online", offlinePayload(deviceID), 1, true)

	opts.OnConnect = func(c mqtt.Client) {
		log.Info().Msgf("mqtt publisher: connected to %s", p.broker)
		c.Publish(p.topic+"/gateway/online", 1, true, onlinePayload(deviceID))
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt publisher: connection lost")
	}

	p.client = p.newClient(opts)

	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn().Str("broker", p.broker).Msg("mqtt publisher: broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	p.wg.Add(1)
	go p.publishNotifications(notifications)
	return nil
}

func onlinePayload(deviceID string) string {
	return fmt.Sprintf(`{"device_id":%q,"online":true}`, deviceID)
}

func offlinePayload(deviceID string) string {
	return fmt.Sprintf(`{"device_id":%q,"online":false}`, deviceID)
}

// Stop ends publishing and disconnects. It is safe to call more than once.
func (p *MQTTPublisher) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.wg.Wait()
		if p.client != nil && p.client.IsConnected() {
			log.Debug().Msg("mqtt publisher: disconnecting")
			p.client.Disconnect(disconnectQuiet)
		}
	})
}

func (p *MQTTPublisher) publishNotifications(notifications <-chan models.Notification) {
	defer p.wg.Done()
	log.Debug().Msg("mqtt publisher: starting notification publisher goroutine")

	for {
		select {
		case <-p.stopCh:
			log.Debug().Msg("mqtt publisher: stopping notification publisher")
			return
		case notif, ok := <-notifications:
			if !ok {
				log.Debug().Msg("mqtt publisher: notification channel closed")
				return
			}
			p.publish(notif)
		}
	}
}

func (p *MQTTPublisher) publish(notif models.Notification) {
	retained := notif.Method == models.NotificationDeviceState
	topic := p.Topic(notif.Method)
	if notif.Method == models.NotificationDeviceState {
		// one retained topic per device
		var params models.DeviceStateParams
		if err := json.Unmarshal(notif.Params, &params); err == nil && params.Device != "" {
			topic += "/" + params.Device
		}
	}

	token := p.client.Publish(topic, 0, retained, []byte(notif.Params))
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Str("topic", topic).Msg("mqtt publisher: publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Msg("mqtt publisher: failed to publish message")
		return
	}
	log.Debug().Str("topic", topic).Msgf("mqtt publisher: published %s notification", notif.Method)
}
