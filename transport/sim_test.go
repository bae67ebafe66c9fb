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

package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/blinklabs-io/meshtx/transport"
	"github.com/stretchr/testify/assert"
)

func receiveOne(
	t *testing.T,
	adapter transport.Adapter,
) []byte {
	t.Helper()
	select {
	case packet, ok := <-adapter.Packets():
		assert.True(t, ok)
		return packet
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for packet")
		return nil
	}
}

func TestSimHubBroadcast(t *testing.T) {
	hub := transport.NewSimHub()
	alice := hub.NewAdapter("alice", "Alice")
	bob := hub.NewAdapter("bob", "Bob")
	carol := hub.NewAdapter("carol", "Carol")
	defer func() {
		_ = alice.Close()
		_ = bob.Close()
		_ = carol.Close()
	}()

	assert.NoError(t, alice.SendPacket(context.Background(), []byte("hi")))
	assert.Equal(t, []byte("hi"), receiveOne(t, bob))
	assert.Equal(t, []byte("hi"), receiveOne(t, carol))
	// The sender does not hear its own packet
	select {
	case packet := <-alice.Packets():
		t.Fatalf("unexpected self-delivery: %v", packet)
	default:
	}
}

func TestSimHubDropFunc(t *testing.T) {
	hub := transport.NewSimHub(
		transport.WithDropFunc(
			func(from string, to string, packet []byte) bool {
				return to == "bob"
			},
		),
	)
	alice := hub.NewAdapter("alice", "Alice")
	bob := hub.NewAdapter("bob", "Bob")
	carol := hub.NewAdapter("carol", "Carol")
	defer func() {
		_ = alice.Close()
		_ = bob.Close()
		_ = carol.Close()
	}()

	assert.NoError(t, alice.SendPacket(context.Background(), []byte("hi")))
	assert.Equal(t, []byte("hi"), receiveOne(t, carol))
	select {
	case packet := <-bob.Packets():
		t.Fatalf("packet should have been dropped: %v", packet)
	default:
	}
}

func TestSimAdapterPayloadTooLarge(t *testing.T) {
	hub := transport.NewSimHub()
	alice := hub.NewAdapter(
		"alice",
		"Alice",
		transport.WithMaxPayloadSize(16),
	)
	defer func() {
		_ = alice.Close()
	}()
	assert.Equal(t, 16, alice.MaxPayloadSize())
	err := alice.SendPacket(context.Background(), make([]byte, 17))
	assert.ErrorIs(t, err, transport.ErrPayloadTooLarge)
	assert.NoError(t, alice.SendPacket(context.Background(), make([]byte, 16)))
}

func TestSimAdapterSenderIsolation(t *testing.T) {
	// A mutation of the sent buffer after SendPacket must not reach the
	// receiver
	hub := transport.NewSimHub()
	alice := hub.NewAdapter("alice", "Alice")
	bob := hub.NewAdapter("bob", "Bob")
	defer func() {
		_ = alice.Close()
		_ = bob.Close()
	}()
	data := []byte("original")
	assert.NoError(t, alice.SendPacket(context.Background(), data))
	data[0] = 'X'
	assert.Equal(t, []byte("original"), receiveOne(t, bob))
}

func TestSimAdapterClose(t *testing.T) {
	hub := transport.NewSimHub()
	alice := hub.NewAdapter("alice", "Alice")
	bob := hub.NewAdapter("bob", "Bob")
	assert.Equal(t, 1, alice.ConnectedPeerCount())

	assert.NoError(t, bob.Close())
	assert.Equal(t, 0, alice.ConnectedPeerCount())
	_, ok := <-bob.Packets()
	assert.False(t, ok)
	err := bob.SendPacket(context.Background(), []byte("hi"))
	assert.ErrorIs(t, err, transport.ErrAdapterClosed)
	// Closing twice is harmless
	assert.NoError(t, bob.Close())
	assert.NoError(t, alice.Close())
}

func TestSimAdapterAdvertising(t *testing.T) {
	hub := transport.NewSimHub()
	alice := hub.NewAdapter("alice", "Alice")
	bob := hub.NewAdapter("bob", "Bob")
	defer func() {
		_ = alice.Close()
		_ = bob.Close()
	}()

	assert.False(t, alice.IsAdvertising())
	assert.NoError(t, alice.StartAdvertising("svc-1", "Alice Phone"))
	assert.True(t, alice.IsAdvertising())

	assert.NoError(t, bob.Scan(context.Background()))
	peers := bob.DiscoveredPeers()
	assert.Len(t, peers, 1)
	assert.Equal(t, "alice", peers[0].Id)
	assert.Equal(t, "Alice Phone", peers[0].Name)

	assert.NoError(t, alice.StopAdvertising())
	assert.False(t, alice.IsAdvertising())
}

func TestSimAdapterInject(t *testing.T) {
	hub := transport.NewSimHub()
	alice := hub.NewAdapter("alice", "Alice")
	defer func() {
		_ = alice.Close()
	}()
	alice.Inject([]byte("dup"))
	alice.Inject([]byte("dup"))
	assert.Equal(t, []byte("dup"), receiveOne(t, alice))
	assert.Equal(t, []byte("dup"), receiveOne(t, alice))
}

func TestNewKind(t *testing.T) {
	sim, err := transport.New(transport.KindSim)
	assert.NoError(t, err)
	assert.NoError(t, sim.Close())

	ble, err := transport.New(transport.KindBLE)
	assert.NoError(t, err)
	assert.ErrorIs(
		t,
		ble.StartAdvertising("svc", "name"),
		transport.ErrOperationNotSupported,
	)
	assert.ErrorIs(
		t,
		ble.SendPacket(context.Background(), []byte("hi")),
		transport.ErrOperationNotSupported,
	)
	assert.NoError(t, ble.Close())

	_, err = transport.New(transport.Kind("carrier-pigeon"))
	assert.Error(t, err)
}
