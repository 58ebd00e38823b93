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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

const (
	slotAFile    = "firmware-a.bin"
	slotBFile    = "firmware-b.bin"
	stagingFile  = "firmware-staging.bin"
	bootSlotFile = "boot_slot"
)

// SlotFlasher stages firmware images as files under a state directory
// and flips a boot-slot marker on finalize. With dual-bank enabled the
// previous image stays in the other slot and rollback is instant; with
// it disabled the slot is overwritten and rollback needs a re-download.
type SlotFlasher struct {
	staging  *os.File
	dir      string
	size     int64
	written  int64
	dualBank bool
}

// NewSlotFlasher creates a flasher rooted at dir, creating it if
// needed.
func NewSlotFlasher(dir string, dualBank bool) (*SlotFlasher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating firmware directory: %w", err)
	}
	return &SlotFlasher{dir: dir, dualBank: dualBank}, nil
}

// Begin opens the staging file for an image of the given size.
func (f *SlotFlasher) Begin(size int64) error {
	if size <= 0 {
		return errors.New("invalid image size")
	}

	staging, err := os.OpenFile(
		filepath.Join(f.dir, stagingFile),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644,
	)
	if err != nil {
		return fmt.Errorf("error opening staging file: %w", err)
	}

	f.staging = staging
	f.size = size
	f.written = 0
	return nil
}

// Write appends a chunk to the staging file.
func (f *SlotFlasher) Write(p []byte) (int, error) {
	if f.staging == nil {
		return 0, errors.New("staging not open")
	}
	n, err := f.staging.Write(p)
	f.written += int64(n)
	return n, err
}

// Finalize validates the staged image and repoints the boot slot at
// it. The previously active slot is left untouched so it remains a
// rollback target on dual-bank setups.
func (f *SlotFlasher) Finalize() error {
	if f.staging == nil {
		return errors.New("staging not open")
	}

	if err := f.staging.Sync(); err != nil {
		f.Abort()
		return fmt.Errorf("error syncing staged image: %w", err)
	}
	if err := f.staging.Close(); err != nil {
		f.staging = nil
		return fmt.Errorf("error closing staged image: %w", err)
	}
	f.staging = nil

	if f.written != f.size {
		return fmt.Errorf("staged image is %d bytes, expected %d", f.written, f.size)
	}

	target := f.inactiveSlot()
	if err := os.Rename(filepath.Join(f.dir, stagingFile), filepath.Join(f.dir, target)); err != nil {
		return fmt.Errorf("error activating staged image: %w", err)
	}
	if err := f.setBootSlot(target); err != nil {
		return err
	}

	log.Info().Msgf("ota: boot slot set to %s", target)
	return nil
}

// Abort discards the staging file.
func (f *SlotFlasher) Abort() {
	if f.staging != nil {
		_ = f.staging.Close()
		f.staging = nil
	}
	_ = os.Remove(filepath.Join(f.dir, stagingFile))
}

// SupportsInstantRollback reports whether a previous image is kept in
// the other slot.
func (f *SlotFlasher) SupportsInstantRollback() bool {
	return f.dualBank
}

// RollbackToPrevious flips the boot slot back to the other bank.
func (f *SlotFlasher) RollbackToPrevious() error {
	if !f.dualBank {
		return errors.New("single-bank target cannot roll back in place")
	}

	previous := f.inactiveSlot()
	if _, err := os.Stat(filepath.Join(f.dir, previous)); err != nil {
		return fmt.Errorf("previous firmware slot missing: %w", err)
	}
	return f.setBootSlot(previous)
}

// BootSlot returns the filename of the currently active slot.
func (f *SlotFlasher) BootSlot() string {
	data, err := os.ReadFile(filepath.Join(f.dir, bootSlotFile))
	if err != nil {
		return slotAFile
	}
	slot := string(data)
	if slot != slotAFile && slot != slotBFile {
		return slotAFile
	}
	return slot
}

func (f *SlotFlasher) inactiveSlot() string {
	if f.BootSlot() == slotAFile {
		return slotBFile
	}
	return slotAFile
}

func (f *SlotFlasher) setBootSlot(slot string) error {
	marker := filepath.Join(f.dir, bootSlotFile)
	tmp := marker + ".tmp"
	if err := os.WriteFile(tmp, []byte(slot), 0o644); err != nil {
		return fmt.Errorf("error writing boot slot marker: %w", err)
	}
	if err := os.Rename(tmp, marker); err != nil {
		return fmt.Errorf("error committing boot slot marker: %w", err)
	}
	return nil
}
