// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport defines the capability contract consumed from the
// physical wireless link. The relay never talks to a radio directly: it
// sends bounded packets through an Adapter and pulls inbound packets from
// the adapter's bounded channel, which makes ordering and backpressure
// explicit instead of hiding them in receive callbacks
package transport

import (
	"context"
	"errors"
)

var (
	// ErrOperationNotSupported is returned by adapters that cannot support
	// an operation. Adapters must never silently no-op
	ErrOperationNotSupported = errors.New(
		"operation not supported by transport adapter",
	)
	// ErrPayloadTooLarge indicates a packet exceeding the adapter's
	// maximum payload size
	ErrPayloadTooLarge = errors.New("packet exceeds maximum payload size")
	// ErrAdapterClosed indicates an operation on a closed adapter
	ErrAdapterClosed = errors.New("transport adapter is closed")
)

// Peer describes a discovered remote device
type Peer struct {
	Id   string
	Name string
}

// Adapter is the capability contract for a physical-link driver. Send-side
// operations may block on link throughput, so SendPacket takes a context.
// Inbound packets are delivered on the bounded channel returned by Packets;
// the channel is closed when the adapter closes
type Adapter interface {
	StartAdvertising(serviceId string, name string) error
	StopAdvertising() error
	IsAdvertising() bool
	SendPacket(ctx context.Context, data []byte) error
	MaxPayloadSize() int
	Packets() <-chan []byte
	ConnectedPeerCount() int
	Scan(ctx context.Context) error
	DiscoveredPeers() []Peer
	Close() error
}
