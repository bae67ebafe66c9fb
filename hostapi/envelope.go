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
	"fmt"
	"time"

	"github.com/blinklabs-io/meshtx/cbor"
)

// SchemaVersion is the current host API schema version. Requests carrying
// any other value are rejected with ErrSchemaVersion so host and core
// upgrades fail loudly instead of misinterpreting each other
const SchemaVersion = 1

// Host API operations
const (
	OpPushPacket       uint8 = 1
	OpPullPacket       uint8 = 2
	OpTick             uint8 = 3
	OpBuildTransaction uint8 = 4
	OpMetrics          uint8 = 5
	OpPollDelivery     uint8 = 6
)

// Request is the marshalled host-to-core envelope
type Request struct {
	cbor.StructAsArray
	SchemaVersion uint8
	Operation     uint8
	Payload       []byte
}

// Response is the marshalled core-to-host envelope. Error is empty on
// success. The returned buffer is a fresh copy owned by the caller
type Response struct {
	cbor.StructAsArray
	SchemaVersion uint8
	Error         string
	Payload       []byte
}

type tickRequest struct {
	cbor.StructAsArray
	NowUnixMilli int64
}

type tickResult struct {
	cbor.StructAsArray
	Evicted int
}

type pullResult struct {
	cbor.StructAsArray
	Found  bool
	Packet []byte
}

type buildRequest struct {
	cbor.StructAsArray
	Payload []byte
}

type buildResult struct {
	cbor.StructAsArray
	Transaction []byte
	TransferId  string
}

type pollResult struct {
	cbor.StructAsArray
	Found      bool
	TransferId string
	Text       bool
	Payload    []byte
}

type metricsResult struct {
	cbor.StructAsArray
	SentTransfers      uint64
	DeliveredTransfers uint64
	ForwardedFragments uint64
	DiscardedPackets   uint64
	PendingTransfers   int
	ConnectedPeers     int
	NonceTotal         int
	NonceAvailable     int
}

// Call is the single marshalled entry point for hosts that cannot link the
// typed API directly. It decodes a Request, dispatches, and always returns
// an encoded Response
func (h *Handle) Call(data []byte) []byte {
	var req Request
	if _, err := cbor.Decode(data, &req); err != nil {
		return encodeResponse(nil, fmt.Errorf("decode request: %w", err))
	}
	if req.SchemaVersion != SchemaVersion {
		return encodeResponse(
			nil,
			fmt.Errorf("%w: %d", ErrSchemaVersion, req.SchemaVersion),
		)
	}
	payload, err := h.dispatch(req)
	return encodeResponse(payload, err)
}

func (h *Handle) dispatch(req Request) (any, error) {
	switch req.Operation {
	case OpPushPacket:
		if !h.PushPacket(req.Payload) {
			return nil, fmt.Errorf("inbound queue full")
		}
		return nil, nil
	case OpPullPacket:
		packet, found := h.PullPacket()
		return &pullResult{Found: found, Packet: packet}, nil
	case OpTick:
		var tick tickRequest
		if _, err := cbor.Decode(req.Payload, &tick); err != nil {
			return nil, fmt.Errorf("decode tick request: %w", err)
		}
		evicted := h.Tick(time.UnixMilli(tick.NowUnixMilli))
		return &tickResult{Evicted: evicted}, nil
	case OpBuildTransaction:
		var build buildRequest
		if _, err := cbor.Decode(req.Payload, &build); err != nil {
			return nil, fmt.Errorf("decode build request: %w", err)
		}
		txBytes, transferId, err := h.BuildTransaction(
			context.Background(),
			build.Payload,
		)
		if err != nil {
			return nil, err
		}
		return &buildResult{Transaction: txBytes, TransferId: transferId}, nil
	case OpMetrics:
		metrics := h.Metrics()
		return &metricsResult{
			SentTransfers:      metrics.Relay.SentTransfers,
			DeliveredTransfers: metrics.Relay.DeliveredTransfers,
			ForwardedFragments: metrics.Relay.ForwardedFragments,
			DiscardedPackets:   metrics.Relay.DiscardedPackets,
			PendingTransfers:   metrics.Relay.PendingTransfers,
			ConnectedPeers:     metrics.Relay.ConnectedPeers,
			NonceTotal:         metrics.NonceTotal,
			NonceAvailable:     metrics.NonceAvailable,
		}, nil
	case OpPollDelivery:
		delivery, found := h.PollDelivery()
		ret := &pollResult{Found: found}
		if found {
			ret.TransferId = delivery.TransferId
			ret.Text = delivery.Text
			ret.Payload = delivery.Payload
		}
		return ret, nil
	}
	return nil, fmt.Errorf("unknown operation: %d", req.Operation)
}

func encodeResponse(payload any, err error) []byte {
	resp := Response{
		SchemaVersion: SchemaVersion,
	}
	if err != nil {
		resp.Error = err.Error()
	} else if payload != nil {
		data, encodeErr := cbor.Encode(payload)
		if encodeErr != nil {
			resp.Error = fmt.Sprintf("encode response: %s", encodeErr)
		} else {
			resp.Payload = data
		}
	}
	data, encodeErr := cbor.Encode(&resp)
	if encodeErr != nil {
		// A response envelope that cannot encode is unrepresentable to the
		// host; an empty buffer at least fails its decode loudly
		return []byte{}
	}
	return data
}
