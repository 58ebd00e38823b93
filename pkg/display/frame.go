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

package display

// Frame is a renderer-owned scratch buffer with the same bit-packed
// layout as the committed buffer: 1 bit per pixel, row-major within
// each display row, offset by the row's PixelOffset. A renderer draws
// glyphs into a Frame and hands the result to Core.CommitPixelBuffer.
type Frame struct {
	cfg Config
	buf []byte
}

// NewFrame creates an empty frame for the given geometry.
func NewFrame(cfg Config) *Frame {
	return &Frame{
		cfg: cfg,
		buf: make([]byte, cfg.BufferSize),
	}
}

// SetPixel sets or clears a single pixel. Out-of-range coordinates are
// silently dropped; a bad glyph table must never crash a running
// device.
func (f *Frame) SetPixel(row, x, y int, on bool) {
	idx, ok := f.pixelIndex(row, x, y)
	if !ok {
		return
	}
	byteIdx := idx / 8
	bit := byte(1) << (idx % 8)
	if on {
		f.buf[byteIdx] |= bit
	} else {
		f.buf[byteIdx] &^= bit
	}
}

// Pixel returns the state of a pixel, or false if out of range.
func (f *Frame) Pixel(row, x, y int) bool {
	idx, ok := f.pixelIndex(row, x, y)
	if !ok {
		return false
	}
	return f.buf[idx/8]&(byte(1)<<(idx%8)) != 0
}

func (f *Frame) pixelIndex(row, x, y int) (int, bool) {
	if row < 0 || row >= len(f.cfg.Rows) {
		return 0, false
	}
	rc := f.cfg.Rows[row]
	if x < 0 || x >= rc.Width || y < 0 || y >= rc.Height {
		return 0, false
	}
	idx := rc.PixelOffset + y*rc.Width + x
	if idx/8 >= len(f.buf) {
		return 0, false
	}
	return idx, true
}

// Clear resets every pixel to off.
func (f *Frame) Clear() {
	for i := range f.buf {
		f.buf[i] = 0
	}
}

// Bytes returns the frame's backing buffer. The caller must not hold
// on to it across a Clear.
func (f *Frame) Bytes() []byte {
	return f.buf
}
