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

package meshtx

import (
	"log/slog"
	"time"

	"github.com/blinklabs-io/meshtx/compress"
	"github.com/blinklabs-io/meshtx/fragment"
	"github.com/blinklabs-io/meshtx/transport"
)

// RelayOptionFunc is a type that represents functions that modify the Relay config
type RelayOptionFunc func(*Relay)

// WithTransport specifies the transport adapter. This option is required
func WithTransport(adapter transport.Adapter) RelayOptionFunc {
	return func(r *Relay) {
		r.transportAdapter = adapter
	}
}

// WithCompressionPolicy specifies the compression policy. If none is
// provided, a zstd policy with the default size threshold is used
func WithCompressionPolicy(policy *compress.Policy) RelayOptionFunc {
	return func(r *Relay) {
		r.policy = policy
	}
}

// WithReassembler specifies the reassembler. If none is provided, one will
// be created
func WithReassembler(reassembler *fragment.Reassembler) RelayOptionFunc {
	return func(r *Relay) {
		r.reassembler = reassembler
	}
}

// WithLogger specifies the logger. Defaults to slog.Default()
func WithLogger(logger *slog.Logger) RelayOptionFunc {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithErrorChan specifies the error channel to use. If none is provided,
// one will be created
func WithErrorChan(errorChan chan error) RelayOptionFunc {
	return func(r *Relay) {
		r.errorChan = errorChan
	}
}

// WithMeshForwarding specifies whether to re-forward fragments of transfers
// this relay did not originate. This is disabled by default
func WithMeshForwarding(forwarding bool) RelayOptionFunc {
	return func(r *Relay) {
		r.forwarding = forwarding
	}
}

// WithStaleTransferAge specifies the window after which incomplete inbound
// transfers and forwarding dedup state are evicted
func WithStaleTransferAge(staleAge time.Duration) RelayOptionFunc {
	return func(r *Relay) {
		r.staleAge = staleAge
	}
}

// WithSweepInterval specifies the cadence of the background sweep
func WithSweepInterval(sweepInterval time.Duration) RelayOptionFunc {
	return func(r *Relay) {
		r.sweepInterval = sweepInterval
	}
}

// WithFragmentPayloadSize overrides the per-fragment payload size derived
// from the transport MTU. Mostly useful in tests
func WithFragmentPayloadSize(payloadSize int) RelayOptionFunc {
	return func(r *Relay) {
		r.payloadOverride = payloadSize
	}
}
