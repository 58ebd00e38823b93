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

package indicator

import (
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDriver struct {
	levels []bool
}

func (d *recordingDriver) Set(on bool) {
	d.levels = append(d.levels, on)
}

// cycle runs one full pattern window and returns the LED levels.
func cycle(ind *Indicator, drv *recordingDriver) []bool {
	drv.levels = nil
	for t := 0; t < cycleTicks; t++ {
		ind.Tick()
	}
	return drv.levels
}

func countTransitions(levels []bool) int {
	n := 0
	for i := 1; i < len(levels); i++ {
		if levels[i] != levels[i-1] {
			n++
		}
	}
	return n
}

func TestSetConnectivityDerivesPattern(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		networkUp bool
		brokerUp  bool
		want      Pattern
	}{
		{"both up", true, true, PatternConnected},
		{"broker down", true, false, PatternBrokerDisconnected},
		{"network down", false, false, PatternNetworkDisconnected},
		{"network down wins", false, true, PatternNetworkDisconnected},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ind := New(nil, clockwork.NewFakeClock())
			ind.SetConnectivity(tt.networkUp, tt.brokerUp)
			assert.Equal(t, tt.want, ind.Active())
		})
	}
}

func TestConnectedPatternSinglePulse(t *testing.T) {
	t.Parallel()

	drv := &recordingDriver{}
	ind := New(drv, clockwork.NewFakeClock())
	ind.SetConnectivity(true, true)

	levels := cycle(ind, drv)

	require.Len(t, levels, cycleTicks)
	assert.True(t, levels[0], "pulse on at the start of the window")
	for i := 1; i < cycleTicks; i++ {
		assert.False(t, levels[i], "tick %d must be dark", i)
	}

	// The window repeats.
	levels = cycle(ind, drv)
	assert.True(t, levels[0])
	assert.False(t, levels[1])
}

func TestBrokerDisconnectedBurst(t *testing.T) {
	t.Parallel()

	drv := &recordingDriver{}
	ind := New(drv, clockwork.NewFakeClock())
	ind.SetConnectivity(true, false)

	levels := cycle(ind, drv)

	// 4 alternating ticks then rest: on,off,on,off,off...
	assert.Equal(t, []bool{true, false, true, false}, levels[:4])
	for i := 4; i < cycleTicks; i++ {
		assert.False(t, levels[i], "tick %d must be in the rest phase", i)
	}
}

func TestNetworkDisconnectedBurstIsLonger(t *testing.T) {
	t.Parallel()

	drv := &recordingDriver{}
	ind := New(drv, clockwork.NewFakeClock())
	ind.SetConnectivity(false, false)

	levels := cycle(ind, drv)

	assert.Equal(t, []bool{true, false, true, false, true, false}, levels[:6])
	brokerDrv := &recordingDriver{}
	brokerInd := New(brokerDrv, clockwork.NewFakeClock())
	brokerInd.SetConnectivity(true, false)
	assert.Greater(t,
		countTransitions(levels),
		countTransitions(cycle(brokerInd, brokerDrv)),
		"network loss must flash more than broker loss")
}

func TestUpdateOverrideAlternatesContinuously(t *testing.T) {
	t.Parallel()

	drv := &recordingDriver{}
	ind := New(drv, clockwork.NewFakeClock())
	ind.SetConnectivity(true, true)

	ind.BeginOverride(PatternUpdateInProgress)
	require.Equal(t, PatternUpdateInProgress, ind.Active())

	levels := cycle(ind, drv)
	for i := 1; i < len(levels); i++ {
		assert.NotEqual(t, levels[i-1], levels[i], "tick %d must toggle", i)
	}
}

func TestEndOverrideRestoresStatusPattern(t *testing.T) {
	t.Parallel()

	ind := New(nil, clockwork.NewFakeClock())
	ind.SetConnectivity(true, false)

	ind.BeginOverride(PatternUpdateInProgress)
	ind.EndOverride()

	assert.Equal(t, PatternBrokerDisconnected, ind.Active())
}

func TestConnectivityChangeDuringOverrideDeferred(t *testing.T) {
	t.Parallel()

	ind := New(nil, clockwork.NewFakeClock())
	ind.SetConnectivity(true, true)
	ind.BeginOverride(PatternUpdateInProgress)

	// The status change lands while the override is shown.
	ind.SetConnectivity(true, false)
	assert.Equal(t, PatternUpdateInProgress, ind.Active())

	ind.EndOverride()
	assert.Equal(t, PatternBrokerDisconnected, ind.Active())
}

func TestPatternChangeRestartsCycle(t *testing.T) {
	t.Parallel()

	drv := &recordingDriver{}
	ind := New(drv, clockwork.NewFakeClock())
	ind.SetConnectivity(false, false)

	// Advance partway into the window.
	for i := 0; i < 3; i++ {
		ind.Tick()
	}

	ind.SetConnectivity(true, true)
	drv.levels = nil
	ind.Tick()

	require.Len(t, drv.levels, 1)
	assert.True(t, drv.levels[0], "new pattern must start from the top of its window")
}

func TestOffPatternKeepsLEDDark(t *testing.T) {
	t.Parallel()

	drv := &recordingDriver{}
	ind := New(drv, clockwork.NewFakeClock())

	for _, level := range cycle(ind, drv) {
		assert.False(t, level)
	}
}

func TestNilDriverDoesNotPanic(t *testing.T) {
	t.Parallel()

	ind := New(nil, clockwork.NewFakeClock())
	ind.SetConnectivity(true, true)

	assert.NotPanics(t, func() { ind.Tick() })
	assert.True(t, ind.Level())
}

func TestPatternString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "off", PatternOff.String())
	assert.Equal(t, "connected", PatternConnected.String())
	assert.Equal(t, "broker_disconnected", PatternBrokerDisconnected.String())
	assert.Equal(t, "network_disconnected", PatternNetworkDisconnected.String())
	assert.Equal(t, "update_in_progress", PatternUpdateInProgress.String())
	assert.Equal(t, "unknown", Pattern(99).String())
}
