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

// Package display owns the text-per-row state and the committed
// bit-packed pixel buffer shared between writers, the renderer and the
// telemetry publisher.
//
// Writers call SetText from any goroutine (including network callback
// paths). A single renderer at a time runs BeginRenderCycle, draws into
// its own Frame, commits the result with CommitPixelBuffer and closes
// with EndRenderCycle. The update sequence makes writes that land
// mid-render detectable: EndRenderCycle refuses to clear the dirty
// flags if the sequence moved, so a follow-up render pass is forced.
package display

import (
	"github.com/NorrtekIoT/device-core/pkg/helpers/syncutil"
)

const (
	// MaxTextLength is the per-row text capacity in bytes.
	MaxTextLength = 32
	// MaxBufferSize bounds the committed pixel buffer. Geometry that
	// derives a larger buffer is truncated to this, never grown.
	MaxBufferSize = 512
	// MaxRows is the maximum number of configured display rows.
	MaxRows = 4
)

// RowConfig describes one row of chained panels. PixelOffset is the
// row's starting index into the flat bit-packed buffer, precomputed at
// configuration time.
type RowConfig struct {
	Panels      int
	Width       int
	Height      int
	PixelOffset int
}

// Config is the fixed display geometry. It is derived once by
// NewConfig and never changes afterwards.
type Config struct {
	Rows        []RowConfig
	TotalPixels int
	BufferSize  int
}

// NewConfig derives the full geometry from panel dimensions and the
// number of panels chained on each row. Rows beyond MaxRows are
// dropped and a derived buffer larger than MaxBufferSize is truncated.
func NewConfig(panelWidth, panelHeight int, panelsPerRow []int) Config {
	if len(panelsPerRow) > MaxRows {
		panelsPerRow = panelsPerRow[:MaxRows]
	}

	cfg := Config{}
	offset := 0
	for _, panels := range panelsPerRow {
		if panels < 1 {
			panels = 1
		}
		row := RowConfig{
			Panels:      panels,
			Width:       panelWidth * panels,
			Height:      panelHeight,
			PixelOffset: offset,
		}
		rowPixels := row.Width * row.Height
		offset += rowPixels
		cfg.TotalPixels += rowPixels
		cfg.Rows = append(cfg.Rows, row)
	}

	cfg.BufferSize = (cfg.TotalPixels + 7) / 8
	if cfg.BufferSize > MaxBufferSize {
		cfg.BufferSize = MaxBufferSize
	}
	return cfg
}

// Core is the single shared display state instance for a device.
type Core struct {
	text   []string
	buffer []byte
	cfg    Config
	seq    uint64
	dirty  bool
	render bool
	mu     syncutil.Mutex
}

// NewCore creates the display state for the given fixed geometry.
func NewCore(cfg Config) *Core {
	return &Core{
		cfg:    cfg,
		text:   make([]string, len(cfg.Rows)),
		buffer: make([]byte, cfg.BufferSize),
	}
}

// Config returns the fixed geometry.
func (c *Core) Config() Config {
	return c.cfg
}

// SetText replaces the text of a row. It returns false without side
// effects when the row is out of range or the text is unchanged, so
// duplicate updates conflate to a single render. Text longer than
// MaxTextLength is truncated. Safe to call from any goroutine.
func (c *Core) SetText(row int, text string) bool {
	if row < 0 || row >= len(c.text) {
		return false
	}
	if len(text) > MaxTextLength {
		text = text[:MaxTextLength]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.text[row] == text {
		return false
	}
	c.text[row] = text
	c.seq++
	c.dirty = true
	c.render = true
	return true
}

// Text returns the current text of a row, or "" if out of range.
func (c *Core) Text(row int) string {
	if row < 0 || row >= len(c.text) {
		return ""
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text[row]
}

// BeginRenderCycle returns the current update sequence and an atomic
// snapshot of all row text. The renderer draws from the snapshot so it
// never observes a torn write.
func (c *Core) BeginRenderCycle() (uint64, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]string, len(c.text))
	copy(rows, c.text)
	return c.seq, rows
}

// CommitPixelBuffer atomically replaces the committed pixel buffer with
// the renderer's finished frame. Input longer than the configured
// buffer length is truncated.
func (c *Core) CommitPixelBuffer(buf []byte) {
	if len(buf) > len(c.buffer) {
		buf = buf[:len(c.buffer)]
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copy(c.buffer, buf)
}

// EndRenderCycle clears the dirty and render-requested flags only if
// no text write happened since the matching BeginRenderCycle. Returns
// whether the flags were cleared; false means a write raced the render
// and another cycle is needed.
func (c *Core) EndRenderCycle(startSeq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq != startSeq {
		return false
	}
	c.dirty = false
	c.render = false
	return true
}

// Sequence returns the current update sequence.
func (c *Core) Sequence() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Dirty reports whether the text changed since the last completed
// render.
func (c *Core) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// RenderRequested reports whether a render pass should run.
func (c *Core) RenderRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.render
}

// Buffer returns a copy of the last committed pixel buffer. Used by
// the telemetry path; the copy is taken under the same lock as
// CommitPixelBuffer so a half-written frame is never observed.
func (c *Core) Buffer() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := make([]byte, len(c.buffer))
	copy(buf, c.buffer)
	return buf
}
