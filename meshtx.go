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

// Package meshtx implements offline relay of signed blockchain
// transactions over a low-bandwidth, lossy, MTU-limited peer-to-peer mesh.
// A payload is compressed, split into bounded fragments, and carried
// hop-by-hop by whatever transport adapter the device has; receivers
// reassemble, decompress, and optionally re-forward fragments toward peers
// out of the sender's radio range.
//
// This package is the main entry point: the Relay type orchestrates the
// compress, fragment, transport, and bundle packages. Those packages can be
// used on their own, but that's not a primary design goal.
package meshtx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/meshtx/compress"
	"github.com/blinklabs-io/meshtx/fragment"
	"github.com/blinklabs-io/meshtx/transport"
	"github.com/google/uuid"
)

const (
	// DefaultStaleTransferAge is the default window after which incomplete
	// inbound transfers and forwarding dedup state are evicted
	DefaultStaleTransferAge = 60 * time.Second
	// DefaultSweepInterval is the default cadence of the background sweep
	DefaultSweepInterval = 10 * time.Second

	// fragmentWireOverhead is the worst-case size of the fragment framing
	// around the payload (CBOR array framing, UUID transfer identifier,
	// index/total/flags). Subtracted from the adapter MTU to budget the
	// per-fragment payload
	fragmentWireOverhead = 64

	deliveryChanSize = 16
)

var (
	// ErrNoTransport indicates a Relay created without a transport adapter
	ErrNoTransport = errors.New("no transport adapter provided")
	// ErrPayloadBudget indicates a transport MTU too small to fit any
	// fragment payload after framing overhead
	ErrPayloadBudget = errors.New(
		"transport maximum payload size leaves no room for fragment data",
	)
	// ErrRelayShuttingDown indicates an operation on a stopped Relay
	ErrRelayShuttingDown = errors.New("relay is shutting down")
)

// Delivery is a fully reassembled inbound transfer
type Delivery struct {
	TransferId string
	// Text marks transfers belonging to the text message channel
	Text    bool
	Payload []byte
}

// forwardEntry tracks which fragment indices of a transfer this relay has
// already forwarded (or originated), bounding mesh loops without a routing
// table
type forwardEntry struct {
	indices   map[uint32]struct{}
	origin    bool
	firstSeen time.Time
}

// Relay orchestrates outbound and inbound fragmented transfers over a
// transport adapter
type Relay struct {
	transportAdapter transport.Adapter
	policy           *compress.Policy
	reassembler      *fragment.Reassembler
	logger           *slog.Logger

	forwarding      bool
	staleAge        time.Duration
	sweepInterval   time.Duration
	payloadOverride int

	errorChan    chan error
	deliveryChan chan Delivery
	doneChan     chan struct{}
	onceStart    sync.Once
	onceStop     sync.Once
	waitGroup    sync.WaitGroup
	// stopMutex serializes channel sends against Stop closing the
	// channels, so a host pushing packets around shutdown can never hit a
	// send on a closed channel
	stopMutex sync.Mutex
	stopped   bool

	forwardMutex sync.Mutex
	forwardSeen  map[string]*forwardEntry

	sentCount      atomic.Uint64
	deliveredCount atomic.Uint64
	forwardedCount atomic.Uint64
	discardedCount atomic.Uint64
}

// NewRelay returns a new Relay with the specified options. A transport
// adapter is required
func NewRelay(options ...RelayOptionFunc) (*Relay, error) {
	r := &Relay{
		staleAge:      DefaultStaleTransferAge,
		sweepInterval: DefaultSweepInterval,
		doneChan:      make(chan struct{}),
		deliveryChan:  make(chan Delivery, deliveryChanSize),
		forwardSeen:   map[string]*forwardEntry{},
	}
	for _, option := range options {
		option(r)
	}
	if r.transportAdapter == nil {
		return nil, ErrNoTransport
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.errorChan == nil {
		r.errorChan = make(chan error, 10)
	}
	if r.policy == nil {
		codec, err := compress.NewZstdCodec()
		if err != nil {
			return nil, err
		}
		r.policy = compress.NewPolicy(codec)
	}
	if r.reassembler == nil {
		r.reassembler = fragment.NewReassembler(
			fragment.WithLogger(r.logger),
		)
	}
	if r.fragmentPayloadBudget() < 1 {
		return nil, ErrPayloadBudget
	}
	return r, nil
}

// Start launches the receive and sweep loops. Subsequent calls are no-ops
func (r *Relay) Start() {
	r.onceStart.Do(func() {
		r.waitGroup.Add(2)
		go r.receiveLoop()
		go r.sweepLoop()
	})
}

// Stop shuts the relay down. The transport adapter is owned by the caller
// and is not closed. HandlePacket remains safe to call after Stop; packets
// are silently dropped
func (r *Relay) Stop() {
	r.onceStop.Do(func() {
		close(r.doneChan)
		r.waitGroup.Wait()
		r.stopMutex.Lock()
		r.stopped = true
		close(r.deliveryChan)
		close(r.errorChan)
		r.stopMutex.Unlock()
	})
}

// Deliveries returns the bounded channel of reassembled inbound transfers
func (r *Relay) Deliveries() <-chan Delivery {
	return r.deliveryChan
}

// ErrorChan returns the channel for asynchronous errors
func (r *Relay) ErrorChan() <-chan error {
	return r.errorChan
}

func (r *Relay) fragmentPayloadBudget() int {
	if r.payloadOverride > 0 {
		return r.payloadOverride
	}
	return r.transportAdapter.MaxPayloadSize() - fragmentWireOverhead
}

// Send compresses the payload per the size-threshold policy, fragments it
// to the transport's payload budget under a fresh transfer identifier, and
// writes every fragment to the transport. Returns the transfer identifier.
// Cancelling the context abandons the remaining fragments; already-sent
// fragments are not retracted, and receivers time the transfer out
func (r *Relay) Send(ctx context.Context, payload []byte) (string, error) {
	return r.SendWithFlags(ctx, payload, 0)
}

// SendWithFlags is Send with additional transfer flags (fragment.FlagText
// for text channel transfers)
func (r *Relay) SendWithFlags(
	ctx context.Context,
	payload []byte,
	flags uint8,
) (string, error) {
	select {
	case <-r.doneChan:
		return "", ErrRelayShuttingDown
	default:
	}
	packed, compressed, err := r.policy.Pack(payload)
	if err != nil {
		return "", fmt.Errorf("compress payload: %w", err)
	}
	if compressed {
		flags |= fragment.FlagCompressed
	}
	transferId := uuid.NewString()
	frags, err := fragment.Split(
		transferId,
		packed,
		r.fragmentPayloadBudget(),
		flags,
	)
	if err != nil {
		return "", err
	}
	// Mark as originated so the forwarding path never echoes our own
	// fragments back into the mesh
	r.markOrigin(transferId)
	for i := range frags {
		data, err := fragment.Encode(frags[i])
		if err != nil {
			return "", fmt.Errorf("encode fragment: %w", err)
		}
		if err := r.transportAdapter.SendPacket(ctx, data); err != nil {
			return "", fmt.Errorf("send fragment %d/%d: %w", i+1, len(frags), err)
		}
	}
	r.sentCount.Add(1)
	r.logger.Debug(
		"sent transfer",
		"component", "relay",
		"transfer_id", transferId,
		"fragments", len(frags),
		"compressed", compressed,
	)
	return transferId, nil
}

// HandlePacket processes one raw inbound packet. The receive loop calls
// this for every packet pulled from the transport; hosts driving the core
// through the host API call it directly
func (r *Relay) HandlePacket(packet []byte) {
	frag, err := fragment.Decode(packet)
	if err != nil {
		r.discardedCount.Add(1)
		r.logger.Warn(
			"discarding undecodable packet",
			"component", "relay",
			"error", err,
		)
		return
	}
	if r.forwarding {
		r.maybeForward(frag, packet)
	}
	completed, err := r.reassembler.Ingest(*frag, time.Now())
	if err != nil {
		r.discardedCount.Add(1)
		r.logger.Warn(
			"fragment rejected",
			"component", "relay",
			"transfer_id", frag.Id,
			"error", err,
		)
		return
	}
	if completed == nil {
		return
	}
	payload, err := r.policy.Unpack(
		completed.Data,
		completed.Flags&fragment.FlagCompressed != 0,
	)
	if err != nil {
		r.discardedCount.Add(1)
		r.logger.Warn(
			"discarding transfer with malformed compressed payload",
			"component", "relay",
			"transfer_id", completed.Id,
			"error", err,
		)
		return
	}
	delivery := Delivery{
		TransferId: completed.Id,
		Text:       completed.Flags&fragment.FlagText != 0,
		Payload:    payload,
	}
	// Stop closes doneChan before it takes stopMutex, so a send blocked on
	// a full delivery channel always unblocks via the done case
	r.stopMutex.Lock()
	defer r.stopMutex.Unlock()
	if r.stopped {
		return
	}
	select {
	case r.deliveryChan <- delivery:
		r.deliveredCount.Add(1)
	case <-r.doneChan:
	}
}

// markOrigin records a transfer as locally originated
func (r *Relay) markOrigin(transferId string) {
	r.forwardMutex.Lock()
	defer r.forwardMutex.Unlock()
	r.forwardSeen[transferId] = &forwardEntry{
		origin:    true,
		firstSeen: time.Now(),
	}
}

// shouldForward records the fragment in the dedup set and reports whether
// it still needs forwarding. The lock covers only the map update, never
// the transport send
func (r *Relay) shouldForward(frag *fragment.Fragment) bool {
	r.forwardMutex.Lock()
	defer r.forwardMutex.Unlock()
	entry, ok := r.forwardSeen[frag.Id]
	if !ok {
		entry = &forwardEntry{
			indices:   map[uint32]struct{}{},
			firstSeen: time.Now(),
		}
		r.forwardSeen[frag.Id] = entry
	}
	if entry.origin {
		return false
	}
	if _, ok := entry.indices[frag.Index]; ok {
		return false
	}
	entry.indices[frag.Index] = struct{}{}
	return true
}

func (r *Relay) maybeForward(frag *fragment.Fragment, packet []byte) {
	if !r.shouldForward(frag) {
		return
	}
	if err := r.transportAdapter.SendPacket(
		context.Background(),
		packet,
	); err != nil {
		r.stopMutex.Lock()
		if !r.stopped {
			select {
			case r.errorChan <- fmt.Errorf("forward fragment: %w", err):
			default:
			}
		}
		r.stopMutex.Unlock()
		return
	}
	r.forwardedCount.Add(1)
}

// Sweep evicts stale incomplete transfers and stale forwarding state. The
// background sweep loop calls this periodically; hosts driving the core
// through the host API call it from their tick
func (r *Relay) Sweep(now time.Time) []fragment.IncompleteTransfer {
	incomplete := r.reassembler.Sweep(now, r.staleAge)
	for _, transfer := range incomplete {
		r.logger.Info(
			"evicted incomplete transfer",
			"component", "relay",
			"transfer_id", transfer.Id,
			"received", transfer.Received,
			"total", transfer.Total,
			"age", transfer.Age,
		)
	}
	r.forwardMutex.Lock()
	for id, entry := range r.forwardSeen {
		if now.Sub(entry.firstSeen) > r.staleAge {
			delete(r.forwardSeen, id)
		}
	}
	r.forwardMutex.Unlock()
	return incomplete
}

func (r *Relay) receiveLoop() {
	defer r.waitGroup.Done()
	for {
		select {
		case <-r.doneChan:
			return
		case packet, ok := <-r.transportAdapter.Packets():
			if !ok {
				return
			}
			r.HandlePacket(packet)
		}
	}
}

func (r *Relay) sweepLoop() {
	defer r.waitGroup.Done()
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.doneChan:
			return
		case now := <-ticker.C:
			r.Sweep(now)
		}
	}
}

// Metrics is a point-in-time snapshot of relay counters
type Metrics struct {
	SentTransfers      uint64
	DeliveredTransfers uint64
	ForwardedFragments uint64
	DiscardedPackets   uint64
	PendingTransfers   int
	ConnectedPeers     int
}

// Metrics returns a snapshot of relay counters
func (r *Relay) Metrics() Metrics {
	return Metrics{
		SentTransfers:      r.sentCount.Load(),
		DeliveredTransfers: r.deliveredCount.Load(),
		ForwardedFragments: r.forwardedCount.Load(),
		DiscardedPackets:   r.discardedCount.Load(),
		PendingTransfers:   r.reassembler.PendingTransfers(),
		ConnectedPeers:     r.transportAdapter.ConnectedPeerCount(),
	}
}
