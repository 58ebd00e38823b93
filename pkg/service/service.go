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

// Package service wires the device core together and runs its
// cooperative main loop.
package service

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/NorrtekIoT/device-core/pkg/config"
	"github.com/NorrtekIoT/device-core/pkg/connectivity"
	"github.com/NorrtekIoT/device-core/pkg/device"
	"github.com/NorrtekIoT/device-core/pkg/display"
	"github.com/NorrtekIoT/device-core/pkg/events"
	"github.com/NorrtekIoT/device-core/pkg/indicator"
	"github.com/NorrtekIoT/device-core/pkg/ota"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	// tickInterval paces the cooperative main loop.
	tickInterval = 250 * time.Millisecond
	// linkPollInterval paces network link state detection.
	linkPollInterval = 5 * time.Second
)

// RenderFunc draws the given row texts into the frame. Glyph
// rasterization lives outside the core; the default renderer leaves
// the frame untouched.
type RenderFunc func(rows []string, frame *display.Frame)

// Service is the assembled device core.
type Service struct {
	cfg      *config.Instance
	clock    clockwork.Clock
	display  *display.Core
	events   *events.Log
	ind      *indicator.Indicator
	manager  *connectivity.Manager
	engine   *ota.Engine
	render   RenderFunc
	cancel   context.CancelFunc
	done     chan struct{}
	deviceID string
}

// Options tune the service wiring. Zero values select working
// defaults.
type Options struct {
	// Clock overrides the real clock in every component. Tests only.
	Clock clockwork.Clock
	// LedDriver drives the physical status LED.
	LedDriver indicator.Driver
	// Render draws row text into the display frame.
	Render RenderFunc
	// DataDir holds firmware slots and other state.
	DataDir string
	// DualBank keeps the previous firmware image for instant
	// rollback.
	DualBank bool
}

// New assembles a stopped service from the loaded configuration.
func New(cfg *config.Instance, opts Options) (*Service, error) {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	deviceID, err := device.ID()
	if err != nil {
		return nil, fmt.Errorf("error reading device id: %w", err)
	}

	dispCfg := cfg.Display()
	core := display.NewCore(display.NewConfig(
		dispCfg.PanelWidth, dispCfg.PanelHeight, dispCfg.PanelsPerRow,
	))

	eventLog := events.NewLog(events.DefaultCapacity, clock)

	ledDriver := opts.LedDriver
	if ledDriver == nil {
		ledDriver = &logDriver{}
	}
	ind := indicator.New(ledDriver, clock)

	broker := cfg.Broker()
	manager := connectivity.NewManager(connectivity.Config{
		Product:         cfg.Product(),
		DeviceID:        deviceID,
		Board:           cfg.Board(),
		Platform:        cfg.Platform(),
		FirmwareVersion: config.AppVersion,
		BrokerAddress:   broker.Address,
		BrokerUsername:  broker.Username,
		BrokerPassword:  broker.Password,
	}, eventLog, clock)

	flasher, err := ota.NewSlotFlasher(
		filepath.Join(opts.DataDir, "firmware"), opts.DualBank,
	)
	if err != nil {
		return nil, fmt.Errorf("error preparing firmware storage: %w", err)
	}

	update := cfg.Update()
	engine := ota.NewEngine(ota.Config{
		Product:        cfg.Product(),
		Platform:       cfg.Platform(),
		CurrentVersion: config.AppVersion,
		ServerURL:      update.ServerURL,
		APIKey:         update.APIKey,
	}, manager, networkState{up: manager.NetworkUp}, flasher, processRebooter{}, clock)
	engine.SetIndicator(updateIndicator{ind: ind})

	manager.SetStatusSink(ind)
	manager.SetUpdater(engine)
	manager.SetRebooter(processRebooter{})
	manager.SetSnapshotSource(displaySnapshot{core: core})
	manager.SetTelemetry(hostTelemetry{})
	manager.SetNetworkInfo(hostNetworkInfo{})
	eventLog.SetSink(manager)

	return &Service{
		cfg:      cfg,
		clock:    clock,
		display:  core,
		events:   eventLog,
		ind:      ind,
		manager:  manager,
		engine:   engine,
		render:   opts.Render,
		deviceID: deviceID,
	}, nil
}

// Display returns the shared display core for application writers.
func (s *Service) Display() *display.Core {
	return s.display
}

// Events returns the device event log.
func (s *Service) Events() *events.Log {
	return s.events
}

// Manager returns the connectivity manager, for an external network
// layer to report link transitions into.
func (s *Service) Manager() *connectivity.Manager {
	return s.manager
}

// Engine returns the OTA engine.
func (s *Service) Engine() *ota.Engine {
	return s.engine
}

// Start launches the service loops and returns immediately.
func (s *Service) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	log.Info().Msgf(
		"service: starting %s %s (device %s)",
		s.cfg.Product(), config.AppVersion, s.deviceID,
	)
	s.events.Add("boot", fmt.Sprintf(
		`{"version":%q,"session":%q}`,
		config.AppVersion, uuid.New().String(),
	))

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.ind.Run(ctx)
		return nil
	})
	group.Go(func() error {
		s.runMainLoop(ctx)
		return nil
	})
	group.Go(func() error {
		s.runLinkMonitor(ctx)
		return nil
	})

	go func() {
		_ = group.Wait()
		close(s.done)
	}()
}

// Stop shuts the service down and waits for its loops to exit.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.manager.Disconnect()
	log.Info().Msg("service: stopped")
}

// runMainLoop is the cooperative main context: connectivity ticks and
// render cycles happen here, never on callback paths.
func (s *Service) runMainLoop(ctx context.Context) {
	ticker := s.clock.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.manager.Tick()
			s.renderPass()
		}
	}
}

// renderPass runs one optimistic render cycle when one is requested.
// A text write that lands mid-render leaves the flags set, so the
// next pass retries with the fresh text.
func (s *Service) renderPass() {
	if s.render == nil || !s.display.RenderRequested() {
		return
	}

	seq, rows := s.display.BeginRenderCycle()
	frame := display.NewFrame(s.display.Config())
	s.render(rows, frame)
	s.display.CommitPixelBuffer(frame.Bytes())
	if !s.display.EndRenderCycle(seq) {
		log.Debug().Msg("service: display changed mid-render, will re-render")
	}
}

// runLinkMonitor stands in for the embedded WiFi event callbacks: it
// polls for a usable non-loopback interface and reports transitions
// into the connectivity manager.
func (s *Service) runLinkMonitor(ctx context.Context) {
	up := false
	check := func() {
		nowUp := linkUp()
		if nowUp == up {
			return
		}
		up = nowUp
		if up {
			s.manager.OnNetworkUp()
		} else {
			s.manager.OnNetworkDown()
		}
	}
	check()

	ticker := s.clock.NewTicker(linkPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			check()
		}
	}
}

// linkUp reports whether any non-loopback interface has an address.
func linkUp() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for i := range ifaces {
		iface := &ifaces[i]
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}
