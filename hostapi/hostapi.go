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

// Package hostapi exposes the small host-driven call surface a mobile
// application uses to drive the core: push an inbound raw packet, pull the
// next outbound raw packet, advance timers, build and fragment a
// transaction, and read metrics. All state hangs off an explicit Handle
// created once at startup and owned by the caller; there is no
// package-level registry. Every request/response pair carries a schema
// version so host and core can detect incompatible upgrades independently
// of each other's release cadence
package hostapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/blinklabs-io/meshtx"
	"github.com/blinklabs-io/meshtx/bundle"
	"github.com/blinklabs-io/meshtx/txbuilder"
)

var (
	// ErrSchemaVersion indicates a request with an incompatible schema
	// version
	ErrSchemaVersion = errors.New("incompatible host API schema version")
	// ErrNotConfigured indicates an operation whose collaborator (bundle
	// manager, transaction builder) was not provided at startup
	ErrNotConfigured = errors.New("operation not configured on this handle")
)

// Handle is the host application's entry point into the core. Its
// lifecycle is owned by the caller: create it once at startup, drive it,
// then Stop it
type Handle struct {
	hostTransport *HostTransport
	relay         *meshtx.Relay
	manager       *bundle.Manager
	builder       *txbuilder.Builder
	logger        *slog.Logger
	maxPayload    int
	relayOptions  []meshtx.RelayOptionFunc
}

// HandleOptionFunc is a function that modifies a Handle
type HandleOptionFunc func(*Handle)

// WithBundleManager specifies the nonce bundle manager backing
// BuildTransaction
func WithBundleManager(manager *bundle.Manager) HandleOptionFunc {
	return func(h *Handle) {
		h.manager = manager
	}
}

// WithBuilder specifies the transaction builder backing BuildTransaction
func WithBuilder(builder *txbuilder.Builder) HandleOptionFunc {
	return func(h *Handle) {
		h.builder = builder
	}
}

// WithMaxPayloadSize specifies the host-reported link MTU
func WithMaxPayloadSize(maxPayload int) HandleOptionFunc {
	return func(h *Handle) {
		h.maxPayload = maxPayload
	}
}

// WithLogger specifies the logger. Defaults to slog.Default()
func WithLogger(logger *slog.Logger) HandleOptionFunc {
	return func(h *Handle) {
		h.logger = logger
	}
}

// WithRelayOptions specifies additional relay options (mesh forwarding,
// stale transfer age, compression policy)
func WithRelayOptions(options ...meshtx.RelayOptionFunc) HandleOptionFunc {
	return func(h *Handle) {
		h.relayOptions = options
	}
}

// NewHandle creates the handle, its host transport, and its relay, and
// starts the relay's receive loop
func NewHandle(options ...HandleOptionFunc) (*Handle, error) {
	h := &Handle{}
	for _, option := range options {
		option(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.hostTransport = NewHostTransport(h.maxPayload)
	relayOptions := append(
		[]meshtx.RelayOptionFunc{
			meshtx.WithTransport(h.hostTransport),
			meshtx.WithLogger(h.logger),
		},
		h.relayOptions...,
	)
	relay, err := meshtx.NewRelay(relayOptions...)
	if err != nil {
		return nil, err
	}
	h.relay = relay
	h.relay.Start()
	return h, nil
}

// Stop tears the handle down
func (h *Handle) Stop() {
	h.relay.Stop()
	_ = h.hostTransport.Close()
}

// Relay returns the handle's relay
func (h *Handle) Relay() *meshtx.Relay {
	return h.relay
}

// Transport returns the handle's host transport
func (h *Handle) Transport() *HostTransport {
	return h.hostTransport
}

// PushPacket hands an inbound raw packet to the core. The core copies the
// buffer before returning; the host keeps ownership of its own buffer.
// Returns false when the inbound queue is full and the packet was dropped
func (h *Handle) PushPacket(packet []byte) bool {
	return h.hostTransport.Push(packet)
}

// PullPacket returns the next outbound raw packet, or false when none is
// queued. Ownership of the returned buffer transfers to the host
func (h *Handle) PullPacket() ([]byte, bool) {
	return h.hostTransport.Pull()
}

// Tick advances internal timers: stale incomplete transfers and forwarding
// dedup state older than the configured window are evicted
func (h *Handle) Tick(now time.Time) int {
	return len(h.relay.Sweep(now))
}

// PollDelivery returns the next fully reassembled inbound transfer, or
// false when none is pending. The returned payload is owned by the caller
func (h *Handle) PollDelivery() (*meshtx.Delivery, bool) {
	select {
	case delivery, ok := <-h.relay.Deliveries():
		if !ok {
			return nil, false
		}
		return &delivery, true
	default:
		return nil, false
	}
}

// BuildTransaction consumes the next available nonce, builds and signs the
// transaction around the given program payload, and sends the resulting
// bytes through the fragmentation pipeline. The signed transaction bytes
// and the transfer identifier are returned; the fragments are queued for
// PullPacket. Nonce exhaustion and persistence failures surface unchanged
// because both guard transaction correctness
func (h *Handle) BuildTransaction(
	ctx context.Context,
	payload []byte,
) ([]byte, string, error) {
	if h.manager == nil || h.builder == nil {
		return nil, "", ErrNotConfigured
	}
	var txBytes []byte
	_, err := h.manager.Consume(func(nonce bundle.CachedNonceData) error {
		var buildErr error
		txBytes, buildErr = h.builder.Build(nonce, payload)
		return buildErr
	})
	if err != nil {
		return nil, "", err
	}
	transferId, err := h.relay.Send(ctx, txBytes)
	if err != nil {
		return nil, "", fmt.Errorf("relay transaction: %w", err)
	}
	return txBytes, transferId, nil
}

// Metrics is the host-facing metrics snapshot
type Metrics struct {
	Relay          meshtx.Metrics
	NonceTotal     int
	NonceAvailable int
}

// Metrics returns a snapshot of relay and bundle counters
func (h *Handle) Metrics() Metrics {
	ret := Metrics{
		Relay: h.relay.Metrics(),
	}
	if h.manager != nil {
		ret.NonceTotal = h.manager.TotalCount()
		ret.NonceAvailable = h.manager.AvailableCount()
	}
	return ret
}
