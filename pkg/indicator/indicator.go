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

// Package indicator turns connectivity and update state into a blink
// pattern on a single status LED.
package indicator

import (
	"context"
	"time"

	"github.com/NorrtekIoT/device-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
)

// Pattern is a blink pattern for the status LED.
type Pattern int

const (
	// PatternOff keeps the LED dark.
	PatternOff Pattern = iota
	// PatternConnected is a single short pulse followed by a long
	// pause, repeating about every 2 seconds.
	PatternConnected
	// PatternBrokerDisconnected is 4 fast alternations then a pause.
	PatternBrokerDisconnected
	// PatternNetworkDisconnected is 6 fast alternations then a pause.
	PatternNetworkDisconnected
	// PatternUpdateInProgress alternates continuously; it is used as
	// an override while an OTA update runs.
	PatternUpdateInProgress
)

func (p Pattern) String() string {
	switch p {
	case PatternOff:
		return "off"
	case PatternConnected:
		return "connected"
	case PatternBrokerDisconnected:
		return "broker_disconnected"
	case PatternNetworkDisconnected:
		return "network_disconnected"
	case PatternUpdateInProgress:
		return "update_in_progress"
	default:
		return "unknown"
	}
}

// cycleTicks is the length of the repeating pattern window, in ticks.
const cycleTicks = 20

// Driver drives the physical LED. Implementations must be fast and
// non-blocking; Set is called from the tick path.
type Driver interface {
	Set(on bool)
}

// Indicator is the LED pattern state machine. Tick is driven from a
// fixed-period timer; all other methods may be called from any
// goroutine.
type Indicator struct {
	clock          clockwork.Clock
	driver         Driver
	pattern        Pattern
	override       Pattern
	flashCount     int
	level          bool
	overrideActive bool
	mu             syncutil.Mutex
}

// New creates an indicator in the PatternOff state. A nil clock
// defaults to the real clock.
func New(driver Driver, clock clockwork.Clock) *Indicator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Indicator{
		clock:  clock,
		driver: driver,
	}
}

// SetConnectivity derives the status pattern from the connectivity
// state: no network wins over no broker, both up means connected.
func (i *Indicator) SetConnectivity(networkUp, brokerUp bool) {
	pattern := PatternNetworkDisconnected
	switch {
	case networkUp && brokerUp:
		pattern = PatternConnected
	case networkUp:
		pattern = PatternBrokerDisconnected
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.pattern != pattern {
		i.pattern = pattern
		i.resetLocked()
	}
}

// BeginOverride suspends the status pattern, showing p until
// EndOverride is called.
func (i *Indicator) BeginOverride(p Pattern) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.override = p
	i.overrideActive = true
	i.resetLocked()
}

// EndOverride returns the LED to the derived status pattern.
func (i *Indicator) EndOverride() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.overrideActive {
		i.overrideActive = false
		i.resetLocked()
	}
}

// resetLocked restarts the sub-state after a pattern change.
func (i *Indicator) resetLocked() {
	i.flashCount = 0
	i.level = false
}

// Active returns the pattern currently shown, with an active override
// taking precedence over the derived status pattern.
func (i *Indicator) Active() Pattern {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.activeLocked()
}

func (i *Indicator) activeLocked() Pattern {
	if i.overrideActive {
		return i.override
	}
	return i.pattern
}

// Level returns the current LED level.
func (i *Indicator) Level() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.level
}

// Tick advances the pattern by one 100 ms step and drives the LED.
func (i *Indicator) Tick() {
	i.mu.Lock()

	switch i.activeLocked() {
	case PatternUpdateInProgress:
		i.level = !i.level
	case PatternConnected:
		switch i.flashCount {
		case 0:
			i.level = true
			i.flashCount = 1
		case 1:
			i.level = false
			i.flashCount = 2
		default:
			i.flashCount++
			if i.flashCount >= cycleTicks {
				i.flashCount = 0
			}
		}
	case PatternBrokerDisconnected:
		i.stepBurstLocked(4)
	case PatternNetworkDisconnected:
		i.stepBurstLocked(6)
	case PatternOff:
		i.level = false
	default:
		i.level = false
	}

	level := i.level
	driver := i.driver
	i.mu.Unlock()

	if driver != nil {
		driver.Set(level)
	}
}

// stepBurstLocked alternates the LED for the first n ticks of the
// cycle, then rests for the remainder.
func (i *Indicator) stepBurstLocked(n int) {
	if i.flashCount < n {
		i.level = i.flashCount%2 == 0
	} else {
		i.level = false
	}
	i.flashCount++
	if i.flashCount >= cycleTicks {
		i.flashCount = 0
	}
}

// TickPeriod is the fixed drive period for Run.
const TickPeriod = 100 * time.Millisecond

// Run drives Tick every 100 ms until ctx is cancelled. Intended to be
// run in its own goroutine, standing in for the hardware timer.
func (i *Indicator) Run(ctx context.Context) {
	ticker := i.clock.NewTicker(TickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			i.Tick()
		}
	}
}
