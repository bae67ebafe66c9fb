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
	"crypto/ed25519"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/blinklabs-io/meshtx"
	"github.com/blinklabs-io/meshtx/bundle"
	"github.com/blinklabs-io/meshtx/compress"
	"github.com/blinklabs-io/meshtx/transport"
	"github.com/blinklabs-io/meshtx/txbuilder"
	"github.com/mr-tron/base58"
)

type globalFlags struct {
	flagset    *flag.FlagSet
	configFile string
	debug      bool
	hops       int
	payloadLen int
}

func newGlobalFlags() *globalFlags {
	f := &globalFlags{
		flagset: flag.NewFlagSet(os.Args[0], flag.ExitOnError),
	}
	f.flagset.StringVar(
		&f.configFile,
		"config",
		"",
		"path to TOML config file",
	)
	f.flagset.BoolVar(&f.debug, "debug", false, "enable debug logging")
	f.flagset.IntVar(
		&f.hops,
		"hops",
		1,
		"number of intermediate relay devices between sender and receiver",
	)
	f.flagset.IntVar(
		&f.payloadLen,
		"payload",
		1000,
		"demo transaction payload size in bytes",
	)
	return f
}

func main() {
	f := newGlobalFlags()
	if err := f.flagset.Parse(os.Args[1:]); err != nil {
		fmt.Printf("failed to parse command args: %s\n", err)
		os.Exit(1)
	}
	cfg, err := loadConfig(f.configFile)
	if err != nil {
		fmt.Printf("failed to load config: %s\n", err)
		os.Exit(1)
	}
	logLevel := slog.LevelInfo
	if f.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(
		slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: logLevel},
		),
	)
	if err := runDemo(cfg, f, logger); err != nil {
		logger.Error("demo failed", "error", err)
		os.Exit(1)
	}
}

// runDemo builds a simulated chain of devices where only direct neighbors
// share a hub, signs a transaction offline from a freshly generated bundle,
// and relays it hop-by-hop from the first device to the last
func runDemo(cfg Config, f *globalFlags, logger *slog.Logger) error {
	if cfg.Transport.Kind != string(transport.KindSim) {
		return fmt.Errorf(
			"demo requires the %q transport, got %q",
			transport.KindSim,
			cfg.Transport.Kind,
		)
	}
	staleAge := time.Duration(cfg.Relay.StaleAgeSeconds) * time.Second
	codec, err := compress.NewZstdCodec()
	if err != nil {
		return err
	}
	policy := compress.NewPolicy(
		codec,
		compress.WithMinSize(cfg.Relay.CompressMinSize),
	)

	// One hub per link keeps each device in radio range of its neighbors
	// only, so delivery to the far end genuinely exercises forwarding
	deviceCount := f.hops + 2
	hubs := make([]*transport.SimHub, deviceCount-1)
	for i := range hubs {
		hubs[i] = transport.NewSimHub(transport.WithSimLogger(logger))
	}
	relays := make([]*meshtx.Relay, deviceCount)
	adapters := make([]transport.Adapter, deviceCount)
	for i := 0; i < deviceCount; i++ {
		adapter := newChainAdapter(hubs, i, cfg.Transport.MaxPayload)
		adapters[i] = adapter
		relay, err := meshtx.NewRelay(
			meshtx.WithTransport(adapter),
			meshtx.WithLogger(logger.With("device", i)),
			meshtx.WithCompressionPolicy(policy),
			meshtx.WithMeshForwarding(cfg.Relay.MeshForwarding || i > 0),
			meshtx.WithStaleTransferAge(staleAge),
		)
		if err != nil {
			return err
		}
		relay.Start()
		defer relay.Stop()
		relays[i] = relay
	}

	txBytes, err := buildDemoTransaction(cfg, f.payloadLen, logger)
	if err != nil {
		return err
	}
	transferId, err := relays[0].Send(context.Background(), txBytes)
	if err != nil {
		return err
	}
	logger.Info(
		"sent transaction",
		"transfer_id", transferId,
		"bytes", len(txBytes),
		"devices", deviceCount,
	)

	select {
	case delivery := <-relays[deviceCount-1].Deliveries():
		tx, err := txbuilder.Decode(delivery.Payload)
		if err != nil {
			return fmt.Errorf("received transaction does not verify: %w", err)
		}
		logger.Info(
			"received transaction at far end",
			"transfer_id", delivery.TransferId,
			"tx_id", tx.Id(),
			"nonce_account", tx.NonceAccount,
		)
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for delivery")
	}
	return nil
}

// buildDemoTransaction generates a signing key and single-nonce bundle,
// optionally persisting the bundle to the configured path, then consumes
// the nonce to build a signed transaction
func buildDemoTransaction(
	cfg Config,
	payloadLen int,
	logger *slog.Logger,
) ([]byte, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	builder, err := txbuilder.NewBuilder(privKey)
	if err != nil {
		return nil, err
	}
	nonceValue := make([]byte, 32)
	nonceAccount := make([]byte, 32)
	nonceAccount[0] = 1
	demoBundle := bundle.NewBundle(
		[]bundle.CachedNonceData{
			{
				NonceAccount: base58.Encode(nonceAccount),
				NonceValue:   base58.Encode(nonceValue),
				Authority:    base58.Encode(pubKey),
			},
		},
	)
	bundlePath := cfg.Bundle.Path
	if bundlePath == "" {
		bundlePath = "meshtx-demo-bundle.cbor"
	}
	manager := bundle.NewManager(bundlePath, bundle.WithLogger(logger))
	manager.SetBundle(demoBundle)
	var txBytes []byte
	if _, err := manager.Consume(
		func(nonce bundle.CachedNonceData) error {
			var buildErr error
			txBytes, buildErr = builder.Build(
				nonce,
				make([]byte, payloadLen),
			)
			return buildErr
		},
	); err != nil {
		return nil, err
	}
	logger.Info(
		"consumed nonce",
		"bundle", bundlePath,
		"available", manager.AvailableCount(),
	)
	return txBytes, nil
}
