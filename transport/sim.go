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

package transport

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

const (
	// DefaultSimMaxPayload approximates a BLE link after ATT overhead
	DefaultSimMaxPayload = 512

	simPacketChanSize = 64
)

// SimHub is an in-memory mesh of simulated adapters. Every packet sent by
// one adapter is delivered to every other adapter on the hub, subject to
// the optional drop hook, which lets tests model a lossy link
// deterministically
type SimHub struct {
	mutex    sync.Mutex
	adapters map[string]*SimAdapter
	logger   *slog.Logger
	dropFunc func(from string, to string, packet []byte) bool
}

// SimHubOptionFunc is a function that modifies a SimHub
type SimHubOptionFunc func(*SimHub)

// WithDropFunc specifies a hook consulted for each delivery; returning
// true drops the packet for that destination
func WithDropFunc(
	dropFunc func(from string, to string, packet []byte) bool,
) SimHubOptionFunc {
	return func(h *SimHub) {
		h.dropFunc = dropFunc
	}
}

// WithSimLogger specifies the logger for hub diagnostics
func WithSimLogger(logger *slog.Logger) SimHubOptionFunc {
	return func(h *SimHub) {
		h.logger = logger
	}
}

// NewSimHub returns a new empty hub
func NewSimHub(options ...SimHubOptionFunc) *SimHub {
	h := &SimHub{
		adapters: map[string]*SimAdapter{},
	}
	for _, option := range options {
		option(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	return h
}

// NewAdapter creates a new adapter attached to the hub
func (h *SimHub) NewAdapter(
	id string,
	name string,
	options ...SimAdapterOptionFunc,
) *SimAdapter {
	a := &SimAdapter{
		id:         id,
		name:       name,
		hub:        h,
		maxPayload: DefaultSimMaxPayload,
		packetChan: make(chan []byte, simPacketChanSize),
	}
	for _, option := range options {
		option(a)
	}
	h.mutex.Lock()
	h.adapters[id] = a
	h.mutex.Unlock()
	return a
}

// broadcast delivers a packet to every adapter on the hub except the sender
func (h *SimHub) broadcast(from *SimAdapter, packet []byte) {
	h.mutex.Lock()
	peers := make([]*SimAdapter, 0, len(h.adapters))
	for id, adapter := range h.adapters {
		if id == from.id {
			continue
		}
		peers = append(peers, adapter)
	}
	dropFunc := h.dropFunc
	h.mutex.Unlock()
	for _, peer := range peers {
		if dropFunc != nil && dropFunc(from.id, peer.id, packet) {
			continue
		}
		peer.deliver(packet)
	}
}

func (h *SimHub) remove(id string) {
	h.mutex.Lock()
	delete(h.adapters, id)
	h.mutex.Unlock()
}

func (h *SimHub) peers(exceptId string) []Peer {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	var ret []Peer
	for id, adapter := range h.adapters {
		if id == exceptId {
			continue
		}
		ret = append(ret, Peer{Id: id, Name: adapter.name})
	}
	return ret
}

// SimAdapter is one simulated device on a SimHub
type SimAdapter struct {
	id          string
	name        string
	hub         *SimHub
	maxPayload  int
	packetChan  chan []byte
	mutex       sync.Mutex
	advertising bool
	serviceId   string
	closed      bool
}

// SimAdapterOptionFunc is a function that modifies a SimAdapter
type SimAdapterOptionFunc func(*SimAdapter)

// WithMaxPayloadSize specifies the adapter's maximum packet payload size
func WithMaxPayloadSize(maxPayload int) SimAdapterOptionFunc {
	return func(a *SimAdapter) {
		a.maxPayload = maxPayload
	}
}

// Id returns the adapter's device identifier on the hub
func (a *SimAdapter) Id() string {
	return a.id
}

func (a *SimAdapter) StartAdvertising(serviceId string, name string) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.closed {
		return ErrAdapterClosed
	}
	a.advertising = true
	a.serviceId = serviceId
	a.name = name
	return nil
}

func (a *SimAdapter) StopAdvertising() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.advertising = false
	return nil
}

func (a *SimAdapter) IsAdvertising() bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.advertising
}

func (a *SimAdapter) SendPacket(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mutex.Lock()
	if a.closed {
		a.mutex.Unlock()
		return ErrAdapterClosed
	}
	a.mutex.Unlock()
	if len(data) > a.maxPayload {
		return ErrPayloadTooLarge
	}
	a.hub.broadcast(a, bytes.Clone(data))
	return nil
}

func (a *SimAdapter) MaxPayloadSize() int {
	return a.maxPayload
}

func (a *SimAdapter) Packets() <-chan []byte {
	return a.packetChan
}

func (a *SimAdapter) ConnectedPeerCount() int {
	return len(a.hub.peers(a.id))
}

func (a *SimAdapter) Scan(ctx context.Context) error {
	return ctx.Err()
}

func (a *SimAdapter) DiscoveredPeers() []Peer {
	return a.hub.peers(a.id)
}

// Inject delivers a raw packet directly to this adapter's inbound queue,
// bypassing the hub. Tests use it to model duplicated or replayed packets
func (a *SimAdapter) Inject(packet []byte) {
	a.deliver(bytes.Clone(packet))
}

// deliver queues an inbound packet, dropping it when the bounded queue is
// full the way a saturated radio would
func (a *SimAdapter) deliver(packet []byte) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.closed {
		return
	}
	select {
	case a.packetChan <- packet:
	default:
		a.hub.logger.Warn(
			"inbound queue full, dropping packet",
			"component", "transport",
			"adapter", a.id,
		)
	}
}

func (a *SimAdapter) Close() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	close(a.packetChan)
	a.hub.remove(a.id)
	return nil
}
