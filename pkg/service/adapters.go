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

package service

import (
	"net"
	"os"

	"github.com/NorrtekIoT/device-core/pkg/device"
	"github.com/NorrtekIoT/device-core/pkg/display"
	"github.com/NorrtekIoT/device-core/pkg/indicator"
	"github.com/rs/zerolog/log"
)

// displaySnapshot adapts the display core to the connectivity
// snapshot source.
type displaySnapshot struct {
	core *display.Core
}

func (d displaySnapshot) PixelBuffer() []byte {
	return d.core.Buffer()
}

// updateIndicator adapts the LED indicator to the OTA engine's
// override hooks.
type updateIndicator struct {
	ind *indicator.Indicator
}

func (u updateIndicator) UpdateStarted() {
	u.ind.BeginOverride(indicator.PatternUpdateInProgress)
}

func (u updateIndicator) UpdateFinished() {
	u.ind.EndOverride()
}

// networkState adapts the connectivity manager's link state to the
// OTA engine's network gate.
type networkState struct {
	up func() bool
}

func (n networkState) Up() bool {
	return n.up()
}

// hostTelemetry reads heartbeat fields from the host.
type hostTelemetry struct{}

func (hostTelemetry) UptimeSeconds() uint64 { return device.UptimeSeconds() }
func (hostTelemetry) FreeMemory() uint64    { return device.FreeMemory() }

// hostNetworkInfo provides best-effort network readings. SSID and
// RSSI come from the external WiFi layer when one is wired in; the
// fallback reports zero values, which the heartbeat tolerates.
type hostNetworkInfo struct{}

func (hostNetworkInfo) SSID() string { return "" }
func (hostNetworkInfo) RSSI() int    { return 0 }

func (hostNetworkInfo) IP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// processRebooter exits the process so the service supervisor
// restarts it on the newly activated firmware image.
type processRebooter struct{}

func (processRebooter) Reboot() {
	log.Info().Msg("service: rebooting")
	os.Exit(0)
}

// logDriver is the default LED driver when no hardware pin is wired:
// it records level transitions at trace level and nothing else.
type logDriver struct {
	last bool
	set  bool
}

func (d *logDriver) Set(on bool) {
	if d.set && on == d.last {
		return
	}
	d.last = on
	d.set = true
	log.Trace().Msgf("indicator: led %v", on)
}
