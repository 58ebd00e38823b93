// Norrtek IoT Device Core
// Copyright (c) 2026 The Norrtek IoT Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of Norrtek IoT Device Core.
//
// Norrtek IoT Device Core is free software: you can redistribute it and/or
// modify it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Norrtek IoT Device Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Norrtek IoT Device Core.  If not, see <http://www.gnu.org/licenses/>.

// Package connectivity owns the WiFi and broker session lifecycle:
// reconnection backoff, the topic namespace, subscriptions, heartbeat
// and display-snapshot publication, and routing of inbound broker
// messages to the update engine and command handlers.
package connectivity

import (
	"context"
	"time"

	"github.com/NorrtekIoT/device-core/pkg/events"
	"github.com/NorrtekIoT/device-core/pkg/helpers/syncutil"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	// reconnectBackoff spaces broker connect attempts while the
	// network is up. Retried indefinitely; the device always wants
	// connectivity.
	reconnectBackoff = 5 * time.Second
	// heartbeatInterval is the periodic heartbeat publish period.
	heartbeatInterval = 60 * time.Second
	// snapshotInterval is the periodic display snapshot period.
	snapshotInterval = time.Hour
	// publishTimeout bounds a single fire-and-forget publish.
	publishTimeout = 5 * time.Second
	// restartSettleDelay gives a restart command response time to
	// leave the device before rebooting.
	restartSettleDelay = 2 * time.Second
	// maxSnapshotPayload caps the encoded display snapshot size.
	maxSnapshotPayload = 2000
)

// StatusSink is told about every connectivity transition, typically
// the LED indicator.
type StatusSink interface {
	SetConnectivity(networkUp, brokerUp bool)
}

// Updater receives update triggers and rollback commands routed from
// the broker.
type Updater interface {
	Trigger(ctx context.Context, candidateVersion string)
	Rollback(ctx context.Context, targetVersion string)
}

// Rebooter restarts the device on a restart command.
type Rebooter interface {
	Reboot()
}

// SnapshotSource provides the committed display pixel buffer for
// snapshot publication.
type SnapshotSource interface {
	PixelBuffer() []byte
}

// Telemetry provides best-effort host readings for the heartbeat.
type Telemetry interface {
	UptimeSeconds() uint64
	FreeMemory() uint64
}

// NetworkInfo provides best-effort readings from the network layer for
// the heartbeat payload. Implementations must tolerate being called
// before the network is ready and return zero values.
type NetworkInfo interface {
	SSID() string
	IP() string
	RSSI() int
}

// ClientFactory creates an MQTT client from options. Tests inject a
// mock client through this.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// DefaultClientFactory creates a real paho client.
func DefaultClientFactory(opts *mqtt.ClientOptions) mqtt.Client {
	return mqtt.NewClient(opts)
}

// Config carries the manager's fixed parameters. Product and DeviceID
// are set once at startup and never change.
type Config struct {
	Product         string
	DeviceID        string
	Board           string
	Platform        string
	FirmwareVersion string
	BrokerAddress   string
	BrokerUsername  string
	BrokerPassword  string
}

// Manager owns the broker session. OnNetworkUp and OnNetworkDown may
// be called from constrained callback contexts and only flip state;
// all blocking work happens in Tick, which runs on the cooperative
// main loop.
type Manager struct {
	clock         clockwork.Clock
	clientFactory ClientFactory
	client        mqtt.Client
	events        *events.Log
	status        StatusSink
	updater       Updater
	rebooter      Rebooter
	snapshot      SnapshotSource
	telemetry     Telemetry
	netInfo       NetworkInfo
	timersStop    chan struct{}
	topics        Topics
	cfg           Config
	lastAttempt   time.Time
	wifiUp        bool
	brokerUp      bool
	ready         bool
	connectReq    bool
	disconnectReq bool
	mu            syncutil.Mutex
}

// NewManager creates a disconnected manager. A nil clock defaults to
// the real clock; eventLog may be nil when no event reporting is
// wanted.
func NewManager(cfg Config, eventLog *events.Log, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		cfg:           cfg,
		topics:        NewTopics(cfg.Product, cfg.DeviceID),
		events:        eventLog,
		clock:         clock,
		clientFactory: DefaultClientFactory,
	}
}

// SetClientFactory replaces the MQTT client factory. Tests only.
func (m *Manager) SetClientFactory(factory ClientFactory) {
	m.clientFactory = factory
}

// SetStatusSink attaches the LED indicator. Set once at wiring time.
func (m *Manager) SetStatusSink(s StatusSink) { m.status = s }

// SetUpdater attaches the OTA engine. Set once at wiring time.
func (m *Manager) SetUpdater(u Updater) { m.updater = u }

// SetRebooter attaches the restart handler. Set once at wiring time.
func (m *Manager) SetRebooter(r Rebooter) { m.rebooter = r }

// SetSnapshotSource attaches the display buffer provider. Set once at
// wiring time.
func (m *Manager) SetSnapshotSource(s SnapshotSource) { m.snapshot = s }

// SetTelemetry attaches the host telemetry provider. Set once at
// wiring time.
func (m *Manager) SetTelemetry(t Telemetry) { m.telemetry = t }

// SetNetworkInfo attaches the network layer readings. Set once at
// wiring time.
func (m *Manager) SetNetworkInfo(n NetworkInfo) { m.netInfo = n }

// Topics returns the manager's topic builder.
func (m *Manager) Topics() Topics {
	return m.topics
}

// OnNetworkUp records that the network link came up and requests a
// broker connect on the next Tick. Minimal, non-blocking work only:
// it may run on a network callback with a small stack.
func (m *Manager) OnNetworkUp() {
	m.mu.Lock()
	m.wifiUp = true
	m.connectReq = true
	brokerUp := m.brokerUp
	m.mu.Unlock()

	log.Info().Msg("connectivity: network up")
	if m.events != nil {
		m.events.Add("wifi_connect", "")
	}
	if m.status != nil {
		m.status.SetConnectivity(true, brokerUp)
	}
}

// OnNetworkDown records that the network link dropped and requests a
// broker session teardown on the next Tick.
func (m *Manager) OnNetworkDown() {
	m.mu.Lock()
	m.wifiUp = false
	m.disconnectReq = true
	m.mu.Unlock()

	log.Warn().Msg("connectivity: network down")
	if m.events != nil {
		m.events.Add("wifi_disconnect", "")
	}
	if m.status != nil {
		m.status.SetConnectivity(false, false)
	}
}

// NetworkUp reports whether the network link is up.
func (m *Manager) NetworkUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wifiUp
}

// BrokerUp reports whether the broker session is established.
func (m *Manager) BrokerUp() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.brokerUp
}

// Ready reports whether the session is connected with subscriptions
// established. Event flushing gates on this, not on the bare
// connection, so queued events cannot race ahead of command handling.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Tick drives the connection lifecycle from the cooperative main
// loop: it tears down dead sessions and attempts broker connects with
// a fixed backoff while the network is up.
func (m *Manager) Tick() {
	m.mu.Lock()
	disconnectReq := m.disconnectReq
	m.disconnectReq = false
	brokerUp := m.brokerUp
	client := m.client
	m.mu.Unlock()

	if disconnectReq {
		m.Disconnect()
	} else if brokerUp && client != nil && !client.IsConnected() {
		log.Warn().Msg("connectivity: broker session lost unexpectedly, cleaning up")
		m.Disconnect()
	}

	m.mu.Lock()
	attempt := m.wifiUp && !m.brokerUp &&
		(m.connectReq || m.clock.Now().Sub(m.lastAttempt) >= reconnectBackoff)
	if attempt {
		m.connectReq = false
		m.lastAttempt = m.clock.Now()
	}
	m.mu.Unlock()

	if attempt {
		m.Connect()
	}
}

// Connect establishes the broker session, subscribes to the device
// command and version-response topics, starts the heartbeat and
// snapshot timers and flushes queued events. Idempotent; returns false
// without side effects while the network is down or on broker failure.
func (m *Manager) Connect() bool {
	m.mu.Lock()
	if m.brokerUp {
		m.mu.Unlock()
		return true
	}
	if !m.wifiUp {
		m.mu.Unlock()
		log.Debug().Msg("connectivity: network down, skipping broker connect")
		return false
	}
	m.mu.Unlock()

	clientID := m.cfg.Product + "-" + m.cfg.DeviceID
	opts := newClientOptions(
		m.cfg.BrokerAddress, clientID,
		m.cfg.BrokerUsername, m.cfg.BrokerPassword,
	)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("connectivity: broker connection lost")
		m.mu.Lock()
		m.disconnectReq = true
		m.mu.Unlock()
	}

	client := m.clientFactory(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		client.Disconnect(0)
		log.Warn().Msg("connectivity: broker connect timed out")
		m.notifyStatus()
		return false
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		log.Warn().Err(err).Msg("connectivity: broker connect failed")
		m.notifyStatus()
		return false
	}

	log.Info().Msgf("connectivity: connected to broker as %s", clientID)

	m.mu.Lock()
	m.client = client
	m.brokerUp = true
	m.mu.Unlock()

	subscribed := true
	for _, topic := range []string{
		m.topics.Device(TopicVersionResponse),
		m.topics.Device(TopicCommand),
	} {
		t := client.Subscribe(topic, 1, m.messageHandler())
		if t.WaitTimeout(publishTimeout) && t.Error() == nil {
			log.Info().Msgf("connectivity: subscribed to %s", topic)
		} else {
			log.Error().Err(t.Error()).Msgf("connectivity: failed to subscribe to %s", topic)
			subscribed = false
		}
	}

	m.mu.Lock()
	m.ready = subscribed
	m.mu.Unlock()

	m.notifyStatus()
	if m.events != nil {
		m.events.Add("mqtt_connect", "")
		m.events.Flush()
	}

	m.startTimers()
	return true
}

// Disconnect tears the broker session down: stops both timers, clears
// the ready and connected flags and releases the client. Nothing is
// published; telemetry is best-effort only. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if !m.brokerUp {
		m.mu.Unlock()
		return
	}
	m.brokerUp = false
	m.ready = false
	client := m.client
	m.client = nil
	m.mu.Unlock()

	log.Info().Msg("connectivity: disconnecting from broker")
	if m.events != nil {
		m.events.Add("mqtt_disconnect", "")
	}

	m.stopTimers()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	m.notifyStatus()
}

func (m *Manager) notifyStatus() {
	if m.status == nil {
		return
	}
	m.mu.Lock()
	wifi, broker := m.wifiUp, m.brokerUp
	m.mu.Unlock()
	m.status.SetConnectivity(wifi, broker)
}

// Publish sends a payload to a fully qualified topic, fire and forget.
// It never retries; the caller decides what a failure means.
func (m *Manager) Publish(topic string, payload []byte) bool {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil || !client.IsConnected() {
		log.Debug().Msgf("connectivity: not connected, dropping publish to %s", topic)
		return false
	}

	token := client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
		log.Warn().Err(token.Error()).Msgf("connectivity: publish to %s failed", topic)
		return false
	}
	log.Debug().Msgf("connectivity: published to %s", topic)
	return true
}

// PublishDevice publishes to the device-scoped form of subTopic.
func (m *Manager) PublishDevice(subTopic string, payload []byte) bool {
	return m.Publish(m.topics.Device(subTopic), payload)
}

// PublishEvent publishes an encoded event entry. Implements the event
// log's sink.
func (m *Manager) PublishEvent(payload []byte) bool {
	return m.PublishDevice(TopicEvents, payload)
}
