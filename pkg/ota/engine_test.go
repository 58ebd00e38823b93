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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishRecord struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	mu       sync.Mutex
	messages []publishRecord
}

func (b *fakeBroker) PublishDevice(subTopic string, payload []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, publishRecord{topic: subTopic, payload: payload})
	return true
}

func (b *fakeBroker) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.messages))
	for i, m := range b.messages {
		out[i] = m.topic
	}
	return out
}

func (b *fakeBroker) onTopic(topic string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out [][]byte
	for _, m := range b.messages {
		if m.topic == topic {
			out = append(out, m.payload)
		}
	}
	return out
}

type fakeNetwork struct {
	up bool
}

func (n *fakeNetwork) Up() bool { return n.up }

type memFlasher struct {
	written     []byte
	beginErr    error
	writeErr    error
	finalizeErr error
	rollbackErr error
	beginSize   int64
	dualBank    bool
	finalized   bool
	aborted     bool
	rolledBack  bool
}

func (f *memFlasher) Begin(size int64) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	f.beginSize = size
	f.written = nil
	return nil
}

func (f *memFlasher) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *memFlasher) Finalize() error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized = true
	return nil
}

func (f *memFlasher) Abort() { f.aborted = true }

func (f *memFlasher) SupportsInstantRollback() bool { return f.dualBank }

func (f *memFlasher) RollbackToPrevious() error {
	if f.rollbackErr != nil {
		return f.rollbackErr
	}
	f.rolledBack = true
	return nil
}

type fakeRebooter struct {
	rebooted chan struct{}
}

func newFakeRebooter() *fakeRebooter {
	return &fakeRebooter{rebooted: make(chan struct{})}
}

func (r *fakeRebooter) Reboot() { close(r.rebooted) }

type fakeUpdateIndicator struct {
	started  int
	finished int
}

func (i *fakeUpdateIndicator) UpdateStarted()  { i.started++ }
func (i *fakeUpdateIndicator) UpdateFinished() { i.finished++ }

type engineFixture struct {
	engine   *Engine
	broker   *fakeBroker
	network  *fakeNetwork
	flasher  *memFlasher
	rebooter *fakeRebooter
	led      *fakeUpdateIndicator
	clock    *clockwork.FakeClock
}

func newEngineFixture(t *testing.T, serverURL string) *engineFixture {
	t.Helper()
	fx := &engineFixture{
		broker:   &fakeBroker{},
		network:  &fakeNetwork{up: true},
		flasher:  &memFlasher{},
		rebooter: newFakeRebooter(),
		led:      &fakeUpdateIndicator{},
		clock:    clockwork.NewFakeClock(),
	}
	fx.engine = NewEngine(Config{
		Product:        "ticker",
		Platform:       "esp32",
		CurrentVersion: "v1.0.0",
		ServerURL:      serverURL,
		APIKey:         "secret",
	}, fx.broker, fx.network, fx.flasher, fx.rebooter, fx.clock)
	fx.engine.SetIndicator(fx.led)
	return fx
}

// runToReboot drives fn in a goroutine, releases the settle delay once
// the engine reaches it and waits for the reboot.
func (fx *engineFixture) runToReboot(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()

	fx.clock.BlockUntil(1)
	fx.clock.Advance(settleDelay)

	select {
	case <-fx.rebooter.rebooted:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never rebooted")
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never returned")
	}
}

func firmwareServer(t *testing.T, image []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/firmware/esp32", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		assert.Equal(t, "NorrtekIoT-OTA", r.Header.Get("User-Agent"))
		// Images larger than net/http's response buffer would otherwise be
		// served chunked with ContentLength -1, which the engine rejects.
		w.Header().Set("Content-Length", fmt.Sprint(len(image)))
		_, _ = w.Write(image)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTriggerDownloadsFlashesAndReboots(t *testing.T) {
	t.Parallel()

	image := make([]byte, 1300)
	for i := range image {
		image[i] = byte(i)
	}
	srv := firmwareServer(t, image)
	fx := newEngineFixture(t, srv.URL)

	fx.runToReboot(t, func() {
		fx.engine.Trigger(context.Background(), "v2.0.0")
	})

	assert.Equal(t, image, fx.flasher.written)
	assert.True(t, fx.flasher.finalized)
	assert.Equal(t, 1, fx.led.started)
	assert.Equal(t, 1, fx.led.finished)
	assert.Equal(t, StateIdle, fx.engine.State())

	starts := fx.broker.onTopic("ota/start")
	require.Len(t, starts, 1)
	var start struct {
		Product    string `json:"product"`
		Platform   string `json:"platform"`
		OldVersion string `json:"old_version"`
		NewVersion string `json:"new_version"`
	}
	require.NoError(t, json.Unmarshal(starts[0], &start))
	assert.Equal(t, "ticker", start.Product)
	assert.Equal(t, "esp32", start.Platform)
	assert.Equal(t, "v1.0.0", start.OldVersion)
	assert.Equal(t, "v2.0.0", start.NewVersion)

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"success"}`, string(completes[0]))
}

func TestTriggerProgressIsMonotonicAndEndsAtHundred(t *testing.T) {
	t.Parallel()

	srv := firmwareServer(t, make([]byte, 5120))
	fx := newEngineFixture(t, srv.URL)

	fx.runToReboot(t, func() {
		fx.engine.Trigger(context.Background(), "v2.0.0")
	})

	var values []int
	for _, payload := range fx.broker.onTopic("ota/progress") {
		var p struct {
			Progress int `json:"progress"`
		}
		require.NoError(t, json.Unmarshal(payload, &p))
		values = append(values, p.Progress)
	}

	require.NotEmpty(t, values)
	finals := 0
	for i, v := range values {
		if i > 0 {
			assert.GreaterOrEqual(t, v, values[i-1])
		}
		if v == 100 {
			finals++
		}
	}
	assert.Equal(t, 100, values[len(values)-1])
	assert.Equal(t, 1, finals, "final progress should be reported once")
}

func TestTriggerRejectsOlderOrEqualWithoutPublishing(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, "http://unused.invalid")

	fx.engine.Trigger(context.Background(), "v1.0.0")
	fx.engine.Trigger(context.Background(), "v0.9.0")

	assert.Empty(t, fx.broker.topics())
	assert.Equal(t, StateIdle, fx.engine.State())
	assert.Zero(t, fx.led.started)
}

func TestTriggerWhileInProgressIgnored(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, "http://unused.invalid")
	require.True(t, fx.engine.beginSession("v9.9.9"))

	fx.engine.Trigger(context.Background(), "v2.0.0")

	assert.Empty(t, fx.broker.topics())
	assert.True(t, fx.engine.InProgress())
	assert.Equal(t, "v9.9.9", fx.engine.CurrentSession().TargetVersion)
}

func TestTriggerFailsWithoutNetwork(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, "http://unused.invalid")
	fx.network.up = false

	fx.engine.Trigger(context.Background(), "v2.0.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"failed","error":"network not connected"}`, string(completes[0]))
	assert.Empty(t, fx.broker.onTopic("ota/start"))
	assert.False(t, fx.engine.InProgress())
}

func TestTriggerFailsOnHTTPStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	fx := newEngineFixture(t, srv.URL)

	fx.engine.Trigger(context.Background(), "v2.0.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"failed","error":"HTTP GET failed"}`, string(completes[0]))
	assert.Empty(t, fx.flasher.written)
	assert.Equal(t, 1, fx.led.finished, "LED override must be released on failure")
}

func TestTriggerFailsOnUnknownContentLength(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		// Flushing before the first write forces a chunked response
		// with no Content-Length.
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("firmware"))
	}))
	t.Cleanup(srv.Close)
	fx := newEngineFixture(t, srv.URL)

	fx.engine.Trigger(context.Background(), "v2.0.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"failed","error":"invalid content length"}`, string(completes[0]))
}

func TestTriggerFailsWhenStagingRejectsSize(t *testing.T) {
	t.Parallel()

	srv := firmwareServer(t, make([]byte, 100))
	fx := newEngineFixture(t, srv.URL)
	fx.flasher.beginErr = errors.New("no room")

	fx.engine.Trigger(context.Background(), "v2.0.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"failed","error":"not enough space for update"}`, string(completes[0]))
}

func TestTriggerFailsOnFlashWriteError(t *testing.T) {
	t.Parallel()

	srv := firmwareServer(t, make([]byte, 2048))
	fx := newEngineFixture(t, srv.URL)
	fx.flasher.writeErr = errors.New("bad sector")

	fx.engine.Trigger(context.Background(), "v2.0.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"failed","error":"write error during update"}`, string(completes[0]))
	assert.True(t, fx.flasher.aborted, "a failed session must discard the staging area")
	assert.False(t, fx.flasher.finalized)
}

func TestTriggerFailsOnTruncatedBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "2000")
		_, _ = w.Write(make([]byte, 700))
	}))
	t.Cleanup(srv.Close)
	fx := newEngineFixture(t, srv.URL)

	fx.engine.Trigger(context.Background(), "v2.0.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"failed","error":"incomplete transfer"}`, string(completes[0]))
	assert.True(t, fx.flasher.aborted)
}

func TestTriggerFailsOnCancelledContext(t *testing.T) {
	t.Parallel()

	srv := firmwareServer(t, make([]byte, 2048))
	fx := newEngineFixture(t, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fx.engine.Trigger(ctx, "v2.0.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	var p struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(completes[0], &p))
	assert.Equal(t, "failed", p.Status)
	assert.False(t, fx.engine.InProgress())
}

func TestTriggerFailsOnValidation(t *testing.T) {
	t.Parallel()

	srv := firmwareServer(t, make([]byte, 512))
	fx := newEngineFixture(t, srv.URL)
	fx.flasher.finalizeErr = errors.New("bad magic")

	fx.engine.Trigger(context.Background(), "v2.0.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"failed","error":"update validation failed"}`, string(completes[0]))
	assert.Equal(t, StateIdle, fx.engine.State())
}

func TestRollbackInstant(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, "http://unused.invalid")
	fx.flasher.dualBank = true

	fx.runToReboot(t, func() {
		// An older target must not be gated by the newer-version check.
		fx.engine.Rollback(context.Background(), "v0.9.0")
	})

	assert.True(t, fx.flasher.rolledBack)
	assert.Equal(t,
		[]string{"ota/start", "ota/progress", "ota/complete"},
		fx.broker.topics())

	completes := fx.broker.onTopic("ota/complete")
	assert.JSONEq(t, `{"status":"success"}`, string(completes[0]))
}

func TestRollbackInstantSlotMissing(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, "http://unused.invalid")
	fx.flasher.dualBank = true
	fx.flasher.rollbackErr = errors.New("slot empty")

	fx.engine.Rollback(context.Background(), "v0.9.0")

	completes := fx.broker.onTopic("ota/complete")
	require.Len(t, completes, 1)
	assert.JSONEq(t, `{"status":"failed","error":"previous firmware slot unavailable"}`, string(completes[0]))
	assert.False(t, fx.engine.InProgress())
}

func TestRollbackRedownloadsOlderVersion(t *testing.T) {
	t.Parallel()

	image := make([]byte, 256)
	srv := firmwareServer(t, image)
	fx := newEngineFixture(t, srv.URL)

	fx.runToReboot(t, func() {
		fx.engine.Rollback(context.Background(), "v0.9.0")
	})

	assert.Equal(t, image, fx.flasher.written)
	assert.True(t, fx.flasher.finalized)

	starts := fx.broker.onTopic("ota/start")
	require.Len(t, starts, 1)
	var start struct {
		NewVersion string `json:"new_version"`
	}
	require.NoError(t, json.Unmarshal(starts[0], &start))
	assert.Equal(t, "v0.9.0", start.NewVersion)
}

func TestRollbackRedownloadNeedsTarget(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, "http://unused.invalid")

	fx.engine.Rollback(context.Background(), "")
	fx.engine.Rollback(context.Background(), "null")

	assert.Empty(t, fx.broker.topics())
	assert.False(t, fx.engine.InProgress())
}

func TestRollbackWhileUpdateInProgressIgnored(t *testing.T) {
	t.Parallel()

	fx := newEngineFixture(t, "http://unused.invalid")
	fx.flasher.dualBank = true
	require.True(t, fx.engine.beginSession("v2.0.0"))

	fx.engine.Rollback(context.Background(), "v0.9.0")

	assert.Empty(t, fx.broker.topics())
	assert.False(t, fx.flasher.rolledBack)
}
