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

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/NorrtekIoT/device-core/pkg/config"
	"github.com/NorrtekIoT/device-core/pkg/helpers"
	"github.com/NorrtekIoT/device-core/pkg/service"
	"github.com/adrg/xdg"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	daemonMode := flag.Bool(
		"daemon",
		false,
		"run in foreground and log to stderr",
	)
	showVersion := flag.Bool(
		"version",
		false,
		"print version and exit",
	)
	dualBank := flag.Bool(
		"dual-bank",
		true,
		"keep the previous firmware image for instant rollback",
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", config.AppName, config.AppVersion)
		return nil
	}

	configDir := filepath.Join(xdg.ConfigHome, config.AppName)
	dataDir := filepath.Join(xdg.DataHome, config.AppName)
	logDir := filepath.Join(xdg.StateHome, config.AppName)

	cfg, err := config.NewConfig(configDir, config.BaseDefaults)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	var logWriters []io.Writer
	if *daemonMode {
		logWriters = append(logWriters, os.Stderr)
	}
	if err := helpers.InitLogging(logDir, cfg.DebugLogging(), logWriters); err != nil {
		return fmt.Errorf("error initializing logging: %w", err)
	}

	svc, err := service.New(cfg, service.Options{
		DataDir:  dataDir,
		DualBank: *dualBank,
	})
	if err != nil {
		return fmt.Errorf("error assembling service: %w", err)
	}

	defer func() {
		if err := recover(); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Panic: %s\n", err)
			log.Fatal().Msgf("panic: %v", err)
		}
	}()

	svc.Start()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	svc.Stop()
	return nil
}
