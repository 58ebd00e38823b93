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

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/NorrtekIoT/device-core/pkg/helpers/syncutil"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	SchemaVersion = 1
	CfgEnv        = "NORRTEK_CFG"
)

// Values is the on-disk TOML shape of the device configuration.
type Values struct {
	Device       Device  `toml:"device"`
	Broker       Broker  `toml:"broker,omitempty"`
	Update       Update  `toml:"update,omitempty"`
	Display      Display `toml:"display,omitempty"`
	ConfigSchema int     `toml:"config_schema"`
	DebugLogging bool    `toml:"debug_logging"`
}

// Device identifies the product this firmware build belongs to.
type Device struct {
	Product  string `toml:"product"`
	Board    string `toml:"board,omitempty"`
	Platform string `toml:"platform,omitempty"`
}

// Broker holds the MQTT connection settings. Address accepts
// "host:port", "mqtt://host:port" or "mqtts://host:port".
type Broker struct {
	Address  string `toml:"address"`
	Username string `toml:"username,omitempty"`
	Password string `toml:"password,omitempty"`
}

// Update holds the OTA update server settings.
type Update struct {
	ServerURL string `toml:"server_url"`
	APIKey    string `toml:"api_key,omitempty"`
}

// Display describes the physical panel geometry. PanelsPerRow lists how
// many panels are chained on each row; its length sets the row count.
type Display struct {
	PanelsPerRow []int `toml:"panels_per_row,omitempty,multiline"`
	PanelWidth   int   `toml:"panel_width"`
	PanelHeight  int   `toml:"panel_height"`
}

var BaseDefaults = Values{
	ConfigSchema: SchemaVersion,
	Device: Device{
		Product:  "generic",
		Board:    "unknown",
		Platform: "linux",
	},
	Display: Display{
		PanelWidth:   32,
		PanelHeight:  8,
		PanelsPerRow: []int{1},
	},
}

// Instance is a live, concurrency-safe view of the loaded configuration.
type Instance struct {
	cfgPath string
	vals    Values
	mu      syncutil.RWMutex
}

// NewConfig loads the config file under configDir, creating it with the
// given defaults if it does not exist. The NORRTEK_CFG environment
// variable overrides the config file location.
func NewConfig(configDir string, defaults Values) (*Instance, error) {
	cfgPath := filepath.Join(configDir, CfgFile)
	if envPath, ok := os.LookupEnv(CfgEnv); ok && envPath != "" {
		log.Info().Msgf("config: using custom config path from env: %s", envPath)
		cfgPath = envPath
	}

	cfg := Instance{
		cfgPath: cfgPath,
		vals:    defaults,
	}

	if err := cfg.Load(); err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}

	return &cfg, nil
}

func (c *Instance) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	if _, err := os.Stat(c.cfgPath); errors.Is(err, os.ErrNotExist) {
		log.Info().Msg("config: file does not exist, creating default")
		if err := c.saveLocked(); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(c.cfgPath)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	newVals := BaseDefaults
	if err := toml.Unmarshal(data, &newVals); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	if newVals.ConfigSchema != SchemaVersion {
		log.Warn().Msgf(
			"config: schema mismatch: %d != %d",
			newVals.ConfigSchema, SchemaVersion,
		)
	}

	c.vals = newVals
	return nil
}

func (c *Instance) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saveLocked()
}

func (c *Instance) saveLocked() error {
	if c.cfgPath == "" {
		return errors.New("config path not set")
	}

	if err := os.MkdirAll(filepath.Dir(c.cfgPath), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	c.vals.ConfigSchema = SchemaVersion

	data, err := toml.Marshal(&c.vals)
	if err != nil {
		return fmt.Errorf("error marshalling config: %w", err)
	}

	if err := os.WriteFile(c.cfgPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

func (c *Instance) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfgPath
}

// Product returns the configured product name, set once at startup.
func (c *Instance) Product() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Product
}

func (c *Instance) Board() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Board
}

func (c *Instance) Platform() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Device.Platform
}

func (c *Instance) Broker() Broker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Broker
}

func (c *Instance) Update() Update {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.Update
}

func (c *Instance) Display() Display {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.vals.Display
	d.PanelsPerRow = append([]int(nil), d.PanelsPerRow...)
	return d
}

func (c *Instance) DebugLogging() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.vals.DebugLogging
}

func (c *Instance) SetDebugLogging(debug bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vals.DebugLogging = debug
}
