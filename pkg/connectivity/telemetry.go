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

package connectivity

import (
	"encoding/base64"
	"encoding/json"

	"github.com/rs/zerolog/log"
)

type heartbeatPayload struct {
	Product  string `json:"product"`
	Board    string `json:"board"`
	Version  string `json:"version"`
	Uptime   uint64 `json:"uptime"`
	RSSI     int    `json:"rssi"`
	FreeHeap uint64 `json:"free_heap"`
	SSID     string `json:"ssid"`
	IP       string `json:"ip"`
}

// publishHeartbeat sends the periodic device heartbeat. Every field is
// best-effort: a failed reading publishes as a zero value rather than
// aborting the heartbeat.
func (m *Manager) publishHeartbeat() {
	p := heartbeatPayload{
		Product: m.cfg.Product,
		Board:   m.cfg.Board,
		Version: m.cfg.FirmwareVersion,
	}
	if m.telemetry != nil {
		p.Uptime = m.telemetry.UptimeSeconds()
		p.FreeHeap = m.telemetry.FreeMemory()
	}
	if m.netInfo != nil {
		p.RSSI = m.netInfo.RSSI()
		p.SSID = m.netInfo.SSID()
		p.IP = m.netInfo.IP()
	}

	payload, err := json.Marshal(&p)
	if err != nil {
		log.Error().Err(err).Msg("connectivity: failed to encode heartbeat")
		return
	}
	m.PublishDevice(TopicHeartbeat, payload)
}

// publishDisplaySnapshot publishes the committed pixel buffer as
// base64. Empty buffers and payloads over the size cap are skipped.
func (m *Manager) publishDisplaySnapshot() {
	if m.snapshot == nil {
		log.Debug().Msg("connectivity: no snapshot source, skipping snapshot")
		return
	}

	buf := m.snapshot.PixelBuffer()
	if len(buf) == 0 {
		log.Debug().Msg("connectivity: empty snapshot payload, skipping")
		return
	}

	encoded := base64.StdEncoding.EncodeToString(buf)
	if len(encoded) > maxSnapshotPayload {
		log.Warn().Msgf(
			"connectivity: snapshot payload too large: %d bytes (max %d)",
			len(encoded), maxSnapshotPayload,
		)
		return
	}

	if m.PublishDevice(TopicDisplaySnapshot, []byte(encoded)) {
		log.Debug().Msgf("connectivity: display snapshot size %d bytes", len(encoded))
	}
}

// startTimers begins the heartbeat and snapshot publication loops,
// each with one immediate publish. Restarts cleanly if already
// running.
func (m *Manager) startTimers() {
	m.stopTimers()

	stop := make(chan struct{})
	m.mu.Lock()
	m.timersStop = stop
	m.mu.Unlock()

	m.publishHeartbeat()
	m.publishDisplaySnapshot()

	go func() {
		heartbeat := m.clock.NewTicker(heartbeatInterval)
		snapshot := m.clock.NewTicker(snapshotInterval)
		defer heartbeat.Stop()
		defer snapshot.Stop()
		for {
			select {
			case <-stop:
				return
			case <-heartbeat.Chan():
				m.publishHeartbeat()
			case <-snapshot.Chan():
				m.publishDisplaySnapshot()
			}
		}
	}()
}

// stopTimers halts the publication loops if running.
func (m *Manager) stopTimers() {
	m.mu.Lock()
	stop := m.timersStop
	m.timersStop = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
