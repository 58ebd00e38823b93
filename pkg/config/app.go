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

// AppVersion is the running firmware version. It is overridden at build
// time via -ldflags and must be either a "vMAJOR.MINOR.PATCH" tag or a
// "YEAR.MONTH.DAY.BUILD" timestamp build.
var AppVersion = "v0.0.0"

const (
	AppName = "norrtek-core"
	CfgFile = "config.toml"
	PidFile = "core.pid"
)
