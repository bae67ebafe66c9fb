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

package hostapi

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	"github.com/blinklabs-io/meshtx/transport"
)

const (
	// DefaultHostMaxPayload is the default packet budget when the host has
	// not reported its link MTU
	DefaultHostMaxPayload = 512

	hostQueueSize = 256
)

// HostTransport adapts the host-driven packet interface to the transport
// capability contract. The host owns the physical link: outbound packets
// queue until the host pulls them, and inbound packets arrive only when the
// host pushes them. Advertising and scanning are host-side concerns and
// report not-supported here
type HostTransport struct {
	maxPayload   int
	packetChan   chan []byte
	outboundChan chan []byte
	peerCount    atomic.Int32
	onceClose    sync.Once
	// closeMutex serializes Push against Close closing the inbound
	// channel, so a host pushing packets around shutdown can never hit a
	// send on a closed channel
	closeMutex sync.Mutex
	closed     bool
}

// NewHostTransport returns a HostTransport with the given link MTU
func NewHostTransport(maxPayload int) *HostTransport {
	if maxPayload <= 0 {
		maxPayload = DefaultHostMaxPayload
	}
	return &HostTransport{
		maxPayload:   maxPayload,
		packetChan:   make(chan []byte, hostQueueSize),
		outboundChan: make(chan []byte, hostQueueSize),
	}
}

func (h *HostTransport) StartAdvertising(string, string) error {
	return transport.ErrOperationNotSupported
}

func (h *HostTransport) StopAdvertising() error {
	return transport.ErrOperationNotSupported
}

func (h *HostTransport) IsAdvertising() bool {
	return false
}

func (h *HostTransport) SendPacket(ctx context.Context, data []byte) error {
	if len(data) > h.maxPayload {
		return transport.ErrPayloadTooLarge
	}
	select {
	case h.outboundChan <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HostTransport) MaxPayloadSize() int {
	return h.maxPayload
}

func (h *HostTransport) Packets() <-chan []byte {
	return h.packetChan
}

func (h *HostTransport) ConnectedPeerCount() int {
	return int(h.peerCount.Load())
}

// SetConnectedPeerCount records the host-reported link peer count
func (h *HostTransport) SetConnectedPeerCount(count int) {
	h.peerCount.Store(int32(count))
}

func (h *HostTransport) Scan(context.Context) error {
	return transport.ErrOperationNotSupported
}

func (h *HostTransport) DiscoveredPeers() []transport.Peer {
	return nil
}

// Push delivers a host-received raw packet to the core. The core copies the
// buffer before returning, so the host may reuse it immediately. Pushing
// after Close drops the packet and returns false
func (h *HostTransport) Push(packet []byte) bool {
	h.closeMutex.Lock()
	defer h.closeMutex.Unlock()
	if h.closed {
		return false
	}
	select {
	case h.packetChan <- bytes.Clone(packet):
		return true
	default:
		return false
	}
}

// Pull removes and returns the next queued outbound packet. Ownership of
// the returned buffer transfers to the host; the core never touches it
// again. Returns false when the queue is empty
func (h *HostTransport) Pull() ([]byte, bool) {
	select {
	case packet := <-h.outboundChan:
		return packet, true
	default:
		return nil, false
	}
}

func (h *HostTransport) Close() error {
	h.onceClose.Do(func() {
		h.closeMutex.Lock()
		h.closed = true
		close(h.packetChan)
		h.closeMutex.Unlock()
	})
	return nil
}
