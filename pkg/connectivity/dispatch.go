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
	"context"
	"encoding/json"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Inbound command names.
const (
	CommandRollback = "rollback"
	CommandRestart  = "restart"
	CommandSnapshot = "snapshot"
)

type versionResponse struct {
	LatestVersion   string `json:"latest_version"`
	UpdateAvailable bool   `json:"update_available"`
}

type commandMessage struct {
	Command       string `json:"command"`
	TargetVersion string `json:"target_version"`
}

// messageHandler routes inbound messages on the subscribed topics.
// Routing is by topic, payload parsing is best-effort: malformed
// payloads are ignored, never propagated.
func (m *Manager) messageHandler() mqtt.MessageHandler {
	versionTopic := m.topics.Device(TopicVersionResponse)
	commandTopic := m.topics.Device(TopicCommand)

	return func(_ mqtt.Client, msg mqtt.Message) {
		log.Debug().Msgf("connectivity: message on %s", msg.Topic())

		switch msg.Topic() {
		case versionTopic:
			m.handleVersionResponse(msg.Payload())
		case commandTopic:
			m.handleCommand(msg.Payload())
		default:
			log.Debug().Msgf("connectivity: ignoring message on %s", msg.Topic())
		}
	}
}

func (m *Manager) handleVersionResponse(payload []byte) {
	var resp versionResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		log.Debug().Err(err).Msg("connectivity: malformed version response, ignoring")
		return
	}

	if !resp.UpdateAvailable {
		log.Info().Msg("connectivity: firmware is up to date")
		return
	}
	if resp.LatestVersion == "" {
		log.Debug().Msg("connectivity: version response missing latest_version")
		return
	}
	if m.updater == nil {
		return
	}

	log.Info().Msgf("connectivity: update available: %s", resp.LatestVersion)
	// The download can take minutes; keep it off the broker callback.
	go m.updater.Trigger(context.Background(), resp.LatestVersion)
}

func (m *Manager) handleCommand(payload []byte) {
	var cmd commandMessage
	if err := json.Unmarshal(payload, &cmd); err != nil {
		log.Debug().Err(err).Msg("connectivity: malformed command, ignoring")
		return
	}

	switch cmd.Command {
	case CommandRollback:
		if m.updater == nil {
			return
		}
		log.Info().Msg("connectivity: rollback command received")
		go m.updater.Rollback(context.Background(), cmd.TargetVersion)
	case CommandRestart:
		log.Info().Msg("connectivity: restart command received, rebooting")
		if m.events != nil {
			m.events.Add("restart", "")
		}
		go func() {
			m.clock.Sleep(restartSettleDelay)
			if m.rebooter != nil {
				m.rebooter.Reboot()
			}
		}()
	case CommandSnapshot:
		log.Info().Msg("connectivity: snapshot command received")
		m.publishDisplaySnapshot()
	default:
		log.Debug().Msgf("connectivity: unknown command %q, ignoring", cmd.Command)
	}
}
