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

package connectivity

// Sub-topic names. The full topic layout is part of the contract with
// the broker-side update service and must not change shape.
const (
	TopicHeartbeat       = "heartbeat"
	TopicVersionResponse = "version/response"
	TopicCommand         = "command"
	TopicOTAStart        = "ota/start"
	TopicOTAProgress     = "ota/progress"
	TopicOTAComplete     = "ota/complete"
	TopicDisplaySnapshot = "display/snapshot"
	TopicEvents          = "event"
)

// Topics builds broker topic names for one device. Device-scoped
// topics are "{product}/{sub}/{deviceID}"; product-wide topics are
// "{product}/{sub}".
type Topics struct {
	product  string
	deviceID string
}

// NewTopics creates a topic builder for the given product and device.
func NewTopics(product, deviceID string) Topics {
	return Topics{product: product, deviceID: deviceID}
}

// Device returns the device-scoped topic for a sub-topic.
func (t Topics) Device(subTopic string) string {
	return t.product + "/" + subTopic + "/" + t.deviceID
}

// Product returns the product-wide topic for a sub-topic.
func (t Topics) Product(subTopic string) string {
	return t.product + "/" + subTopic
}
