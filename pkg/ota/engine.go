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

// Package ota downloads, stages and activates firmware updates, and
// handles rollback to a previous image.
package ota

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/NorrtekIoT/device-core/pkg/helpers/syncutil"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// State is the engine's lifecycle state. The engine returns to
// StateIdle after every attempt, successful or not.
type State int

const (
	StateIdle State = iota
	StateDownloading
	StateWriting
	StateSuccess
	StateFailed
)

// Failure reasons published to the broker. These are part of the
// operator-facing contract: always a human-readable string, never an
// internal error code.
const (
	reasonNoNetwork     = "network not connected"
	reasonHTTPFailed    = "HTTP GET failed"
	reasonBadLength     = "invalid content length"
	reasonNoSpace       = "not enough space for update"
	reasonWriteError    = "write error during update"
	reasonIncomplete    = "incomplete transfer"
	reasonValidation    = "update validation failed"
	reasonRollbackSlots = "previous firmware slot unavailable"
)

const (
	downloadChunkSize = 512
	// settleDelay gives the final MQTT publishes time to leave the
	// device before the reboot kills the session.
	settleDelay = 2 * time.Second
	userAgent   = "NorrtekIoT-OTA"
)

// Broker publishes to a device-scoped topic, fire and forget.
type Broker interface {
	PublishDevice(subTopic string, payload []byte) bool
}

// Network reports whether the network link is up.
type Network interface {
	Up() bool
}

// Flasher abstracts the platform's firmware storage: a staging region
// written in chunks, finalized into a bootable image, with an optional
// instant rollback to the previously active slot.
type Flasher interface {
	// Begin opens the staging region for an image of the given size.
	// It fails when there is not enough space.
	Begin(size int64) error
	// Write appends a chunk to the staging region. A short write is
	// fatal to the session.
	Write(p []byte) (int, error)
	// Finalize validates the staged image and marks it bootable.
	Finalize() error
	// Abort discards a partially staged image.
	Abort()
	// SupportsInstantRollback reports whether a previous firmware
	// slot can be activated without re-downloading.
	SupportsInstantRollback() bool
	// RollbackToPrevious repoints the boot slot at the previously
	// active image.
	RollbackToPrevious() error
}

// Rebooter restarts the device. Reboot does not return.
type Rebooter interface {
	Reboot()
}

// Indicator is notified while an update is running so the status LED
// can show the override pattern.
type Indicator interface {
	UpdateStarted()
	UpdateFinished()
}

// Session is the progress of the update in flight.
type Session struct {
	TargetVersion        string
	BytesWritten         int64
	ContentLength        int64
	LastReportedProgress int
	InProgress           bool
}

// Config carries the engine's fixed parameters.
type Config struct {
	Product        string
	Platform       string
	CurrentVersion string
	ServerURL      string
	APIKey         string
}

// Engine runs firmware updates. At most one session is in progress at
// any time; Trigger and Rollback are no-ops while one is running.
type Engine struct {
	clock     clockwork.Clock
	broker    Broker
	network   Network
	flasher   Flasher
	rebooter  Rebooter
	indicator Indicator
	client    *http.Client
	cfg       Config
	session   Session
	state     State
	mu        syncutil.Mutex
}

// NewEngine creates an idle update engine. A nil clock defaults to the
// real clock.
func NewEngine(
	cfg Config,
	broker Broker,
	network Network,
	flasher Flasher,
	rebooter Rebooter,
	clock clockwork.Clock,
) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		cfg:      cfg,
		broker:   broker,
		network:  network,
		flasher:  flasher,
		rebooter: rebooter,
		clock:    clock,
		client:   &http.Client{},
	}
}

// SetIndicator attaches the status LED hook. Set once at wiring time.
func (e *Engine) SetIndicator(ind Indicator) {
	e.indicator = ind
}

// SetHTTPClient replaces the download client.
func (e *Engine) SetHTTPClient(client *http.Client) {
	if client != nil {
		e.client = client
	}
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// InProgress reports whether an update session is running.
func (e *Engine) InProgress() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.InProgress
}

// CurrentSession returns a copy of the session state.
func (e *Engine) CurrentSession() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// Trigger starts an update to candidateVersion if it is strictly newer
// than the running firmware. It is a no-op while a session is already
// in progress, and rejects older or equal candidates without
// publishing anything.
func (e *Engine) Trigger(ctx context.Context, candidateVersion string) {
	if !e.beginSession(candidateVersion) {
		log.Info().Msg("ota: update already in progress, ignoring trigger")
		return
	}

	if CompareVersions(candidateVersion, e.cfg.CurrentVersion) <= 0 {
		log.Info().Msgf(
			"ota: candidate %s not newer than %s, firmware up to date",
			candidateVersion, e.cfg.CurrentVersion,
		)
		e.endSession()
		return
	}

	log.Info().Msgf(
		"ota: new version %s available (current %s), starting update",
		candidateVersion, e.cfg.CurrentVersion,
	)
	e.perform(ctx, candidateVersion)
}

// Rollback reverts to a previous firmware image. On dual-bank targets
// the previously active slot is activated directly; otherwise the
// download path is re-run against the broker-specified targetVersion.
// Both strategies report through the normal ota topics.
func (e *Engine) Rollback(ctx context.Context, targetVersion string) {
	if e.flasher.SupportsInstantRollback() {
		if !e.beginSession(targetVersion) {
			log.Info().Msg("ota: update in progress, ignoring rollback")
			return
		}
		log.Info().Msg("ota: rolling back to previous firmware slot")
		e.publishStart(targetVersion)
		if err := e.flasher.RollbackToPrevious(); err != nil {
			log.Error().Err(err).Msg("ota: rollback failed")
			e.fail(reasonRollbackSlots)
			return
		}
		e.publishProgress(100)
		e.succeed()
		return
	}

	if targetVersion == "" || targetVersion == "null" {
		log.Warn().Msg("ota: rollback requested without a target version")
		return
	}
	if !e.beginSession(targetVersion) {
		log.Info().Msg("ota: update in progress, ignoring rollback")
		return
	}
	log.Info().Msgf("ota: rolling back by re-downloading %s", targetVersion)
	e.perform(ctx, targetVersion)
}

// beginSession claims the single update slot. Returns false if a
// session is already in progress.
func (e *Engine) beginSession(targetVersion string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.InProgress {
		return false
	}
	e.session = Session{
		TargetVersion: targetVersion,
		InProgress:    true,
	}
	e.state = StateDownloading
	return true
}

// endSession discards the session and returns the engine to idle.
func (e *Engine) endSession() {
	e.mu.Lock()
	e.session = Session{}
	e.state = StateIdle
	e.mu.Unlock()
}

// perform runs the download-write-finalize sequence. The session must
// already be claimed.
func (e *Engine) perform(ctx context.Context, version string) {
	if e.network == nil || !e.network.Up() {
		log.Warn().Msg("ota: network not connected, aborting update")
		e.publishComplete(false, reasonNoNetwork)
		e.endSession()
		return
	}

	if e.indicator != nil {
		e.indicator.UpdateStarted()
	}

	e.publishStart(version)

	url := fmt.Sprintf("%s/api/firmware/%s", e.cfg.ServerURL, e.cfg.Platform)
	log.Info().Msgf(
		"ota: downloading %s -> %s from %s",
		e.cfg.CurrentVersion, version, url,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Error().Err(err).Msg("ota: failed to build download request")
		e.fail(reasonHTTPFailed)
		return
	}
	req.Header.Set("X-API-Key", e.cfg.APIKey)
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("ota: download request failed")
		e.fail(reasonHTTPFailed)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		log.Error().Msgf("ota: download returned status %d", resp.StatusCode)
		e.fail(reasonHTTPFailed)
		return
	}

	contentLength := resp.ContentLength
	if contentLength <= 0 {
		log.Error().Msgf("ota: invalid content length %d", contentLength)
		e.fail(reasonBadLength)
		return
	}
	log.Info().Msgf("ota: firmware size %d bytes", contentLength)

	if err := e.flasher.Begin(contentLength); err != nil {
		log.Error().Err(err).Msg("ota: flash staging rejected image size")
		e.fail(reasonNoSpace)
		return
	}

	e.mu.Lock()
	e.session.ContentLength = contentLength
	e.mu.Unlock()

	if !e.download(ctx, resp.Body, contentLength) {
		e.flasher.Abort()
		return
	}

	e.mu.Lock()
	finalReported := e.session.LastReportedProgress >= 100
	e.mu.Unlock()
	if !finalReported {
		e.publishProgress(100)
	}

	e.mu.Lock()
	e.state = StateWriting
	e.mu.Unlock()

	if err := e.flasher.Finalize(); err != nil {
		log.Error().Err(err).Msg("ota: image validation failed")
		e.fail(reasonValidation)
		return
	}

	log.Info().Msg("ota: update successful, rebooting")
	e.succeed()
}

// download streams the body into the flasher in bounded chunks,
// publishing progress in at least 10-point increments. Returns false
// after publishing a failure.
func (e *Engine) download(ctx context.Context, body io.Reader, contentLength int64) bool {
	buf := make([]byte, downloadChunkSize)
	var written int64

	for written < contentLength {
		if err := ctx.Err(); err != nil {
			log.Warn().Msg("ota: download cancelled")
			e.fail(reasonIncomplete)
			return false
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			wn, writeErr := e.flasher.Write(buf[:n])
			if writeErr != nil || wn != n {
				log.Error().Err(writeErr).Msgf(
					"ota: flash write failed at %d/%d", written, contentLength,
				)
				e.fail(reasonWriteError)
				return false
			}
			written += int64(wn)
			e.reportProgress(written, contentLength)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			log.Error().Err(readErr).Msg("ota: download stream error")
			e.fail(reasonIncomplete)
			return false
		}
	}

	if written != contentLength {
		log.Error().Msgf("ota: wrote %d of %d bytes", written, contentLength)
		e.fail(reasonIncomplete)
		return false
	}
	return true
}

func (e *Engine) reportProgress(written, contentLength int64) {
	progress := int(written * 100 / contentLength)

	e.mu.Lock()
	e.session.BytesWritten = written
	report := progress >= e.session.LastReportedProgress+10
	if report {
		e.session.LastReportedProgress = progress
	}
	e.mu.Unlock()

	if report {
		e.publishProgress(progress)
	}
}

func (e *Engine) succeed() {
	e.mu.Lock()
	e.state = StateSuccess
	e.mu.Unlock()

	e.publishComplete(true, "")
	if e.indicator != nil {
		e.indicator.UpdateFinished()
	}

	// The session stays claimed through the settle window so a late
	// trigger cannot start a download on a device about to reboot.
	e.clock.Sleep(settleDelay)
	e.rebooter.Reboot()
	e.endSession()
}

func (e *Engine) fail(reason string) {
	e.mu.Lock()
	e.state = StateFailed
	e.mu.Unlock()

	e.publishComplete(false, reason)
	if e.indicator != nil {
		e.indicator.UpdateFinished()
	}
	e.endSession()
}

type startPayload struct {
	Product    string `json:"product"`
	Platform   string `json:"platform"`
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
}

type progressPayload struct {
	Progress int `json:"progress"`
}

type completePayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (e *Engine) publishStart(newVersion string) {
	payload, _ := json.Marshal(&startPayload{
		Product:    e.cfg.Product,
		Platform:   e.cfg.Platform,
		OldVersion: e.cfg.CurrentVersion,
		NewVersion: newVersion,
	})
	e.broker.PublishDevice("ota/start", payload)
}

func (e *Engine) publishProgress(progress int) {
	payload, _ := json.Marshal(&progressPayload{Progress: progress})
	e.broker.PublishDevice("ota/progress", payload)
}

func (e *Engine) publishComplete(success bool, reason string) {
	p := completePayload{Status: "success"}
	if !success {
		p.Status = "failed"
		p.Error = reason
	}
	payload, _ := json.Marshal(&p)
	e.broker.PublishDevice("ota/complete", payload)
}
