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
	"context"
	"fmt"
)

// Kind selects a transport adapter variant at startup. The set is closed:
// platform drivers that are not wired up on the current build report
// ErrOperationNotSupported from every operation instead of panicking, so
// the rest of the system only ever has to handle that one error kind
type Kind string

const (
	// KindSim is the in-memory simulated mesh used by tests and demos
	KindSim Kind = "sim"
	// KindBLE is the Bluetooth Low Energy driver provided by the mobile
	// host platform. The host wires real packet I/O through the host API,
	// so the in-process adapter for this kind is a placeholder
	KindBLE Kind = "ble"
)

// New returns an adapter of the requested kind. KindSim adapters are
// created attached to a fresh single-member hub; use SimHub directly to
// build multi-device meshes
func New(kind Kind) (Adapter, error) {
	switch kind {
	case KindSim:
		return NewSimHub().NewAdapter("sim-0", "sim"), nil
	case KindBLE:
		return &unsupportedAdapter{kind: kind}, nil
	}
	return nil, fmt.Errorf("unknown transport kind: %q", kind)
}

// unsupportedAdapter satisfies Adapter for platform variants that have no
// in-process driver
type unsupportedAdapter struct {
	kind Kind
	// nil channel: never delivers, never closes
	packetChan chan []byte
}

func (u *unsupportedAdapter) StartAdvertising(string, string) error {
	return ErrOperationNotSupported
}

func (u *unsupportedAdapter) StopAdvertising() error {
	return ErrOperationNotSupported
}

func (u *unsupportedAdapter) IsAdvertising() bool {
	return false
}

func (u *unsupportedAdapter) SendPacket(context.Context, []byte) error {
	return ErrOperationNotSupported
}

func (u *unsupportedAdapter) MaxPayloadSize() int {
	return 0
}

func (u *unsupportedAdapter) Packets() <-chan []byte {
	return u.packetChan
}

func (u *unsupportedAdapter) ConnectedPeerCount() int {
	return 0
}

func (u *unsupportedAdapter) Scan(context.Context) error {
	return ErrOperationNotSupported
}

func (u *unsupportedAdapter) DiscoveredPeers() []Peer {
	return nil
}

func (u *unsupportedAdapter) Close() error {
	return nil
}
