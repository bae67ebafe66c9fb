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

// Package textmessage implements a thin text channel over the relay: short
// human-readable messages travel the same compress/fragment pipeline as
// transactions, tagged with the text flag, and land in a bounded inbox the
// application polls
package textmessage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blinklabs-io/meshtx"
	"github.com/blinklabs-io/meshtx/cbor"
	"github.com/blinklabs-io/meshtx/fragment"
)

// DefaultInboxSize is the default bound of the pending-message inbox
const DefaultInboxSize = 32

// textEnvelope is the wire shape of a text message. Target names the
// intended recipient; delivery is mesh-wide, so the target is advisory and
// recorded for the application rather than enforced by the channel
type textEnvelope struct {
	cbor.StructAsArray
	Target string
	Body   string
}

// TextMessage is one received text message
type TextMessage struct {
	TransferId string
	Target     string
	Body       string
}

// Channel is a text message client over a Relay. It consumes the relay's
// delivery channel, queueing text transfers in the inbox and passing every
// other delivery through on its own Deliveries channel
type Channel struct {
	relay        *meshtx.Relay
	logger       *slog.Logger
	inboxSize    int
	deliveryChan chan meshtx.Delivery

	mutex sync.Mutex
	inbox []TextMessage

	waitGroup sync.WaitGroup
	onceStart sync.Once
}

// ChannelOptionFunc is a function that modifies a Channel
type ChannelOptionFunc func(*Channel)

// WithInboxSize specifies the inbox bound. When the inbox is full, the
// oldest pending message is dropped
func WithInboxSize(inboxSize int) ChannelOptionFunc {
	return func(c *Channel) {
		c.inboxSize = inboxSize
	}
}

// WithLogger specifies the logger. Defaults to slog.Default()
func WithLogger(logger *slog.Logger) ChannelOptionFunc {
	return func(c *Channel) {
		c.logger = logger
	}
}

// NewChannel returns a text channel over the given relay
func NewChannel(relay *meshtx.Relay, options ...ChannelOptionFunc) *Channel {
	c := &Channel{
		relay:     relay,
		inboxSize: DefaultInboxSize,
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.deliveryChan = make(chan meshtx.Delivery, c.inboxSize)
	return c
}

// Start launches the inbox ingestion loop. The loop exits when the relay
// shuts down and its delivery channel closes. Subsequent calls are no-ops
func (c *Channel) Start() {
	c.onceStart.Do(func() {
		c.waitGroup.Add(1)
		go c.ingestLoop()
	})
}

// Wait blocks until the ingestion loop has exited
func (c *Channel) Wait() {
	c.waitGroup.Wait()
}

// SendText sends a text message through the relay pipeline. Returns the
// transfer identifier
func (c *Channel) SendText(
	ctx context.Context,
	target string,
	message string,
) (string, error) {
	envelope := textEnvelope{
		Target: target,
		Body:   message,
	}
	data, err := cbor.Encode(&envelope)
	if err != nil {
		return "", fmt.Errorf("encode text message: %w", err)
	}
	return c.relay.SendWithFlags(ctx, data, fragment.FlagText)
}

// HasPending reports whether the inbox has undrained messages
func (c *Channel) HasPending() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.inbox) > 0
}

// Drain returns all pending messages in arrival order and empties the inbox
func (c *Channel) Drain() []TextMessage {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ret := c.inbox
	c.inbox = nil
	return ret
}

// Deliveries returns the passthrough channel of non-text transfers
func (c *Channel) Deliveries() <-chan meshtx.Delivery {
	return c.deliveryChan
}

func (c *Channel) ingestLoop() {
	defer c.waitGroup.Done()
	defer close(c.deliveryChan)
	for delivery := range c.relay.Deliveries() {
		if !delivery.Text {
			c.deliveryChan <- delivery
			continue
		}
		var envelope textEnvelope
		if _, err := cbor.Decode(delivery.Payload, &envelope); err != nil {
			c.logger.Warn(
				"discarding malformed text message",
				"component", "textmessage",
				"transfer_id", delivery.TransferId,
				"error", err,
			)
			continue
		}
		c.append(
			TextMessage{
				TransferId: delivery.TransferId,
				Target:     envelope.Target,
				Body:       envelope.Body,
			},
		)
	}
}

func (c *Channel) append(msg TextMessage) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.inbox) >= c.inboxSize {
		// FIFO: the oldest pending message gives way
		c.inbox = c.inbox[1:]
	}
	c.inbox = append(c.inbox, msg)
}
