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

package ota

import (
	"strconv"
	"strings"
)

// baseYear anchors the timestamped fold so release years stay within
// the int64 digit budget.
const baseYear = 2025

// ParseVersion folds a version string into a single comparable
// integer. Two formats are accepted:
//
//   - semantic: "[v]MAJOR.MINOR.PATCH", folded as
//     major*1_000_000 + minor*1_000 + patch
//   - timestamped: "YEAR.MONTH.DAY.BUILD", folded as
//     (year-2025)*100_000_000 + month*1_000_000 + day*10_000 + build
//
// The timestamped fold leaves four digits for the build number so a
// high build count on one day never outranks the following day.
// Components that fail to parse count as zero, so a malformed version
// compares low instead of erroring out.
func ParseVersion(version string) int64 {
	if strings.HasPrefix(version, "v") || strings.HasPrefix(version, "V") {
		version = version[1:]
	}

	parts := strings.Split(version, ".")
	nums := make([]int64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil || n < 0 {
			n = 0
		}
		nums[i] = n
	}

	if len(nums) >= 4 {
		return (nums[0]-baseYear)*100_000_000 + nums[1]*1_000_000 + nums[2]*10_000 + nums[3]
	}

	var major, minor, patch int64
	if len(nums) > 0 {
		major = nums[0]
	}
	if len(nums) > 1 {
		minor = nums[1]
	}
	if len(nums) > 2 {
		patch = nums[2]
	}
	return major*1_000_000 + minor*1_000 + patch
}

// CompareVersions returns -1, 0 or 1 as a sorts before, equal to or
// after b under the ParseVersion folding.
func CompareVersions(a, b string) int {
	av, bv := ParseVersion(a), ParseVersion(b)
	switch {
	case av < bv:
		return -1
	case av > bv:
		return 1
	default:
		return 0
	}
}
