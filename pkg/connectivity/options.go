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
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// BrokerProtocolInfo is the transport selection parsed out of a broker
// address.
type BrokerProtocolInfo struct {
	Protocol  string
	Scheme    string
	Remainder string
	UseTLS    bool
}

// ParseBrokerProtocol splits an optional URL scheme off a broker
// address and maps it onto the transport paho dials. The "mqtts" and
// "ssl" schemes select TLS; any other scheme, or a bare "host:port"
// with no scheme at all, uses plain TCP.
func ParseBrokerProtocol(urlStr string) BrokerProtocolInfo {
	info := BrokerProtocolInfo{
		Protocol:  "tcp",
		Remainder: urlStr,
	}

	scheme, rest, found := strings.Cut(urlStr, "://")
	if !found {
		return info
	}

	info.Scheme = scheme
	info.Remainder = rest
	if scheme == "mqtts" || scheme == "ssl" {
		info.Protocol = "ssl"
		info.UseTLS = true
	}
	return info
}

// newClientOptions configures paho client options for a broker
// session. The client ID is "{product}-{deviceID}" so a device always
// presents the same session identity to the broker.
func newClientOptions(brokerURL, clientID, username, password string) *mqtt.ClientOptions {
	protocolInfo := ParseBrokerProtocol(brokerURL)
	fullBrokerURL := fmt.Sprintf("%s://%s", protocolInfo.Protocol, protocolInfo.Remainder)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fullBrokerURL)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(false) // Manager owns the reconnect backoff
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetOrderMatters(false) // Allow blocking in message handlers

	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
		log.Debug().Msgf("connectivity: using authentication for %s", protocolInfo.Remainder)
	}

	if protocolInfo.UseTLS {
		tlsConfig := &tls.Config{
			InsecureSkipVerify: false,
			MinVersion:         tls.VersionTLS12,
		}
		opts.SetTLSConfig(tlsConfig)
		log.Debug().Msgf("connectivity: using TLS for %s", protocolInfo.Remainder)
	}

	return opts
}
