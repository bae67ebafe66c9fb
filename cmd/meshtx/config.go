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
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Transport TransportConfig `toml:"transport"`
	Relay     RelayConfig     `toml:"relay"`
	Bundle    BundleConfig    `toml:"bundle"`
}

type TransportConfig struct {
	Kind       string `toml:"kind"`
	MaxPayload int    `toml:"max_payload"`
}

type RelayConfig struct {
	MeshForwarding  bool `toml:"mesh_forwarding"`
	StaleAgeSeconds int  `toml:"stale_age_seconds"`
	CompressMinSize int  `toml:"compress_min_size"`
}

type BundleConfig struct {
	Path string `toml:"path"`
}

func defaultConfig() Config {
	return Config{
		Transport: TransportConfig{
			Kind:       "sim",
			MaxPayload: 512,
		},
		Relay: RelayConfig{
			MeshForwarding:  true,
			StaleAgeSeconds: 60,
			CompressMinSize: 128,
		},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Transport.MaxPayload < 1 {
		return cfg, fmt.Errorf(
			"invalid max_payload: %d",
			cfg.Transport.MaxPayload,
		)
	}
	return cfg, nil
}
