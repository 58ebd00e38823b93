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

// Package device exposes the stable identity of the hardware the core is
// running on, plus best-effort host telemetry for heartbeat payloads.
package device

import (
	"errors"
	"net"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// ID returns a stable device identifier derived from the primary MAC
// address, formatted as lowercase hex without separators. The first
// non-loopback hardware interface wins, so the value survives reboots
// as long as the hardware does.
func ID() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		id := strings.ToLower(
			strings.ReplaceAll(iface.HardwareAddr.String(), ":", ""),
		)
		return id, nil
	}

	return "", errors.New("no hardware interface with a MAC address found")
}

// UptimeSeconds returns the host uptime, or 0 if it cannot be read.
func UptimeSeconds() uint64 {
	uptime, err := host.Uptime()
	if err != nil {
		log.Debug().Err(err).Msg("device: failed to read uptime")
		return 0
	}
	return uptime
}

// FreeMemory returns the available system memory in bytes, or 0 if it
// cannot be read.
func FreeMemory() uint64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Debug().Err(err).Msg("device: failed to read memory stats")
		return 0
	}
	return vm.Available
}
