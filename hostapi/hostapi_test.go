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
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/blinklabs-io/meshtx"
	"github.com/blinklabs-io/meshtx/bundle"
	"github.com/blinklabs-io/meshtx/cbor"
	"github.com/blinklabs-io/meshtx/compress"
	"github.com/blinklabs-io/meshtx/internal/test"
	"github.com/blinklabs-io/meshtx/txbuilder"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestHandle(
	t *testing.T,
	options ...HandleOptionFunc,
) *Handle {
	t.Helper()
	options = append(
		[]HandleOptionFunc{
			WithRelayOptions(
				meshtx.WithCompressionPolicy(compress.NewPolicy(nil)),
			),
		},
		options...,
	)
	h, err := NewHandle(options...)
	assert.NoError(t, err)
	return h
}

func newTestBundleHandle(t *testing.T, nonceCount int) *Handle {
	t.Helper()
	authority, privKey := test.Keypair(1)
	manager := bundle.NewManager(
		filepath.Join(t.TempDir(), "bundle.cbor"),
	)
	manager.SetBundle(
		bundle.NewBundle(test.NonceRecords(nonceCount, authority)),
	)
	builder, err := txbuilder.NewBuilder(privKey)
	assert.NoError(t, err)
	return newTestHandle(
		t,
		WithBundleManager(manager),
		WithBuilder(builder),
	)
}

// Two handles wired back to back by a host shuttling raw packets: packets
// pulled from one side and pushed into the other reassemble into the
// original transfer
func TestHandlePushPullRoundTrip(t *testing.T) {
	sender := newTestHandle(t)
	receiver := newTestHandle(t)
	defer sender.Stop()
	defer receiver.Stop()

	payload := test.Pattern(1, 1000)
	transferId, err := sender.Relay().Send(context.Background(), payload)
	assert.NoError(t, err)

	moved := 0
	for {
		packet, found := sender.PullPacket()
		if !found {
			break
		}
		assert.True(t, receiver.PushPacket(packet))
		moved++
	}
	assert.Equal(t, 3, moved)

	var delivery *meshtx.Delivery
	assert.Eventually(
		t,
		func() bool {
			var found bool
			delivery, found = receiver.PollDelivery()
			return found
		},
		5*time.Second,
		10*time.Millisecond,
	)
	assert.Equal(t, transferId, delivery.TransferId)
	assert.Equal(t, payload, delivery.Payload)
}

func TestHandlePushCopiesBuffer(t *testing.T) {
	h := newTestHandle(t)
	defer h.Stop()
	packet := []byte("reusable host buffer")
	assert.True(t, h.PushPacket(packet))
	packet[0] = 'X'
	// The mutated host buffer must not have reached the core; the pushed
	// packet is undecodable either way, so it lands in the discard counter
	assert.Eventually(
		t,
		func() bool {
			return h.Relay().Metrics().DiscardedPackets == 1
		},
		5*time.Second,
		10*time.Millisecond,
	)
}

// A host may still be shuttling packets asynchronously while the handle
// shuts down; pushing after Stop reports the drop instead of crashing
func TestHandlePushAfterStop(t *testing.T) {
	sender := newTestHandle(t)
	receiver := newTestHandle(t)
	defer sender.Stop()

	_, err := sender.Relay().Send(context.Background(), []byte("tiny"))
	assert.NoError(t, err)
	packet, found := sender.PullPacket()
	assert.True(t, found)

	receiver.Stop()
	for i := 0; i < 50; i++ {
		assert.False(t, receiver.PushPacket(packet))
	}
	// The relay behind the handle is equally safe to drive directly
	receiver.Relay().HandlePacket(packet)
	assert.Equal(t, uint64(0), receiver.Relay().Metrics().DeliveredTransfers)
}

func TestHandleBuildTransaction(t *testing.T) {
	h := newTestBundleHandle(t, 2)
	defer h.Stop()

	payload := []byte("program payload")
	txBytes, transferId, err := h.BuildTransaction(
		context.Background(),
		payload,
	)
	assert.NoError(t, err)
	assert.NotEmpty(t, transferId)

	tx, err := txbuilder.Decode(txBytes)
	assert.NoError(t, err)
	assert.Equal(t, payload, tx.Payload)

	// The signed transaction is queued as fragments for the host to pull
	packet, found := h.PullPacket()
	assert.True(t, found)
	assert.NotEmpty(t, packet)

	metrics := h.Metrics()
	assert.Equal(t, uint64(1), metrics.Relay.SentTransfers)
	assert.Equal(t, 2, metrics.NonceTotal)
	assert.Equal(t, 1, metrics.NonceAvailable)
}

func TestHandleBuildTransactionExhaustion(t *testing.T) {
	h := newTestBundleHandle(t, 1)
	defer h.Stop()

	_, _, err := h.BuildTransaction(context.Background(), []byte("first"))
	assert.NoError(t, err)
	_, _, err = h.BuildTransaction(context.Background(), []byte("second"))
	assert.ErrorIs(t, err, bundle.ErrNonceExhausted)
}

func TestHandleBuildTransactionNotConfigured(t *testing.T) {
	h := newTestHandle(t)
	defer h.Stop()
	_, _, err := h.BuildTransaction(context.Background(), []byte("payload"))
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestHandleTick(t *testing.T) {
	sender := newTestHandle(t)
	receiver := newTestHandle(t)
	defer sender.Stop()
	defer receiver.Stop()

	_, err := sender.Relay().Send(
		context.Background(),
		test.Pattern(2, 1000),
	)
	assert.NoError(t, err)
	// Deliver only the first fragment, then advance past the stale window
	packet, found := sender.PullPacket()
	assert.True(t, found)
	assert.True(t, receiver.PushPacket(packet))
	assert.Eventually(
		t,
		func() bool {
			return receiver.Relay().Metrics().PendingTransfers == 1
		},
		5*time.Second,
		10*time.Millisecond,
	)
	evicted := receiver.Tick(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 0, receiver.Relay().Metrics().PendingTransfers)
}

func TestCallEnvelopeRoundTrip(t *testing.T) {
	h := newTestBundleHandle(t, 1)
	defer h.Stop()

	call := func(op uint8, payload []byte) Response {
		req := Request{
			SchemaVersion: SchemaVersion,
			Operation:     op,
			Payload:       payload,
		}
		reqBytes, err := cbor.Encode(&req)
		assert.NoError(t, err)
		respBytes := h.Call(reqBytes)
		var resp Response
		_, err = cbor.Decode(respBytes, &resp)
		assert.NoError(t, err)
		assert.Equal(t, uint8(SchemaVersion), resp.SchemaVersion)
		return resp
	}

	// Build a transaction through the marshalled surface
	buildPayload, err := cbor.Encode(
		&buildRequest{Payload: []byte("program payload")},
	)
	assert.NoError(t, err)
	resp := call(OpBuildTransaction, buildPayload)
	assert.Empty(t, resp.Error)
	var build buildResult
	_, err = cbor.Decode(resp.Payload, &build)
	assert.NoError(t, err)
	assert.NotEmpty(t, build.TransferId)
	tx, err := txbuilder.Decode(build.Transaction)
	assert.NoError(t, err)
	assert.Equal(t, []byte("program payload"), tx.Payload)

	// Pull the queued fragment back out
	resp = call(OpPullPacket, nil)
	assert.Empty(t, resp.Error)
	var pull pullResult
	_, err = cbor.Decode(resp.Payload, &pull)
	assert.NoError(t, err)
	assert.True(t, pull.Found)
	assert.NotEmpty(t, pull.Packet)

	// Metrics reflect the consumed nonce and sent transfer
	resp = call(OpMetrics, nil)
	assert.Empty(t, resp.Error)
	var metrics metricsResult
	_, err = cbor.Decode(resp.Payload, &metrics)
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), metrics.SentTransfers)
	assert.Equal(t, 0, metrics.NonceAvailable)

	// Tick through the marshalled surface
	tickPayload, err := cbor.Encode(
		&tickRequest{NowUnixMilli: time.Now().UnixMilli()},
	)
	assert.NoError(t, err)
	resp = call(OpTick, tickPayload)
	assert.Empty(t, resp.Error)
	var tick tickResult
	_, err = cbor.Decode(resp.Payload, &tick)
	assert.NoError(t, err)
	assert.Equal(t, 0, tick.Evicted)

	// No delivery pending
	resp = call(OpPollDelivery, nil)
	assert.Empty(t, resp.Error)
	var poll pollResult
	_, err = cbor.Decode(resp.Payload, &poll)
	assert.NoError(t, err)
	assert.False(t, poll.Found)
}

func TestCallSchemaVersionMismatch(t *testing.T) {
	h := newTestHandle(t)
	defer h.Stop()
	req := Request{
		SchemaVersion: 99,
		Operation:     OpMetrics,
	}
	reqBytes, err := cbor.Encode(&req)
	assert.NoError(t, err)
	var resp Response
	_, err = cbor.Decode(h.Call(reqBytes), &resp)
	assert.NoError(t, err)
	assert.Contains(t, resp.Error, ErrSchemaVersion.Error())
}

func TestCallUnknownOperation(t *testing.T) {
	h := newTestHandle(t)
	defer h.Stop()
	req := Request{
		SchemaVersion: SchemaVersion,
		Operation:     42,
	}
	reqBytes, err := cbor.Encode(&req)
	assert.NoError(t, err)
	var resp Response
	_, err = cbor.Decode(h.Call(reqBytes), &resp)
	assert.NoError(t, err)
	assert.Contains(t, resp.Error, "unknown operation")
}

func TestCallGarbageRequest(t *testing.T) {
	h := newTestHandle(t)
	defer h.Stop()
	var resp Response
	_, err := cbor.Decode(h.Call([]byte("garbage")), &resp)
	assert.NoError(t, err)
	assert.Contains(t, resp.Error, "decode request")
}
