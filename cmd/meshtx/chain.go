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

package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/blinklabs-io/meshtx/transport"
)

// chainAdapter joins a device to the hubs on its left and right, merging
// their inbound packets into one channel, so a chain of devices only sees
// its direct neighbors
type chainAdapter struct {
	members    []*transport.SimAdapter
	packetChan chan []byte
	waitGroup  sync.WaitGroup
	onceClose  sync.Once
}

func newChainAdapter(
	hubs []*transport.SimHub,
	index int,
	maxPayload int,
) *chainAdapter {
	c := &chainAdapter{
		packetChan: make(chan []byte, 64),
	}
	join := func(hub *transport.SimHub, side string) {
		member := hub.NewAdapter(
			fmt.Sprintf("device-%d-%s", index, side),
			fmt.Sprintf("device-%d", index),
			transport.WithMaxPayloadSize(maxPayload),
		)
		c.members = append(c.members, member)
		c.waitGroup.Add(1)
		go func() {
			defer c.waitGroup.Done()
			for packet := range member.Packets() {
				c.packetChan <- packet
			}
		}()
	}
	if index > 0 {
		join(hubs[index-1], "left")
	}
	if index < len(hubs) {
		join(hubs[index], "right")
	}
	return c
}

func (c *chainAdapter) StartAdvertising(serviceId string, name string) error {
	for _, member := range c.members {
		if err := member.StartAdvertising(serviceId, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *chainAdapter) StopAdvertising() error {
	for _, member := range c.members {
		if err := member.StopAdvertising(); err != nil {
			return err
		}
	}
	return nil
}

func (c *chainAdapter) IsAdvertising() bool {
	for _, member := range c.members {
		if member.IsAdvertising() {
			return true
		}
	}
	return false
}

func (c *chainAdapter) SendPacket(ctx context.Context, data []byte) error {
	for _, member := range c.members {
		if err := member.SendPacket(ctx, data); err != nil {
			return err
		}
	}
	return nil
}

func (c *chainAdapter) MaxPayloadSize() int {
	ret := 0
	for _, member := range c.members {
		if ret == 0 || member.MaxPayloadSize() < ret {
			ret = member.MaxPayloadSize()
		}
	}
	return ret
}

func (c *chainAdapter) Packets() <-chan []byte {
	return c.packetChan
}

func (c *chainAdapter) ConnectedPeerCount() int {
	ret := 0
	for _, member := range c.members {
		ret += member.ConnectedPeerCount()
	}
	return ret
}

func (c *chainAdapter) Scan(ctx context.Context) error {
	return ctx.Err()
}

func (c *chainAdapter) DiscoveredPeers() []transport.Peer {
	var ret []transport.Peer
	for _, member := range c.members {
		ret = append(ret, member.DiscoveredPeers()...)
	}
	return ret
}

func (c *chainAdapter) Close() error {
	var err error
	c.onceClose.Do(func() {
		for _, member := range c.members {
			if closeErr := member.Close(); closeErr != nil {
				err = closeErr
			}
		}
		c.waitGroup.Wait()
		close(c.packetChan)
	})
	return err
}
