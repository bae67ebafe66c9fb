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

package bundle

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Manager owns the in-memory bundle and its on-disk mirror as one logical
// resource. A single lock serializes every select/build/mark/persist
// sequence, so two concurrent transaction attempts can never receive the
// same nonce. Persistence completes (or is known to have failed) before the
// lock is released: a crash between marking in memory and writing to disk
// would otherwise resurrect a consumed nonce on the next load
type Manager struct {
	mutex  sync.Mutex
	bundle *Bundle
	path   string
	// autoPersist rewrites the snapshot after every consumption. Disabling
	// it trades crash safety for fewer writes and requires an explicit
	// Persist before process exit
	autoPersist bool
	logger      *slog.Logger
}

// ManagerOptionFunc is a function that modifies a Manager
type ManagerOptionFunc func(*Manager)

// WithLogger specifies the logger for bundle diagnostics
func WithLogger(logger *slog.Logger) ManagerOptionFunc {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithAutoPersist specifies whether each consumption immediately rewrites
// the on-disk snapshot. This is enabled by default
func WithAutoPersist(autoPersist bool) ManagerOptionFunc {
	return func(m *Manager) {
		m.autoPersist = autoPersist
	}
}

// NewManager returns a Manager for the bundle file at the given path
func NewManager(path string, options ...ManagerOptionFunc) *Manager {
	m := &Manager{
		path:        path,
		autoPersist: true,
	}
	for _, option := range options {
		option(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Load reads and parses the bundle file. A missing file returns
// ErrBundleNotFound so the caller can distinguish "never refreshed" from
// corruption
func (m *Manager) Load() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	data, err := os.ReadFile(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrBundleNotFound, m.path)
		}
		return fmt.Errorf("read bundle: %w", err)
	}
	tmpBundle, err := Parse(data)
	if err != nil {
		return err
	}
	m.bundle = tmpBundle
	m.logger.Debug(
		"loaded nonce bundle",
		"component", "bundle",
		"path", m.path,
		"total", tmpBundle.TotalCount(),
		"available", tmpBundle.AvailableCount(),
	)
	return nil
}

// SetBundle replaces the in-memory bundle. This is how an external refresh
// step hands over a freshly populated bundle
func (m *Manager) SetBundle(b *Bundle) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.bundle = b
}

// TotalCount returns the number of records in the loaded bundle
func (m *Manager) TotalCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.bundle == nil {
		return 0
	}
	return m.bundle.TotalCount()
}

// AvailableCount returns the number of unused records in the loaded bundle
func (m *Manager) AvailableCount() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.bundle == nil {
		return 0
	}
	return m.bundle.AvailableCount()
}

// Consume runs one exclusive select/build/mark/persist sequence. The
// lowest-index unused record is passed to buildFunc; if it succeeds, the
// record is marked used and the snapshot is persisted before the lock is
// released. A persist failure rolls the in-memory mark back and surfaces
// the error, so the failed attempt is never silently masked. Returns the
// consumed index
func (m *Manager) Consume(buildFunc func(CachedNonceData) error) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.bundle == nil {
		return 0, ErrBundleNotFound
	}
	index, record, err := m.bundle.NextAvailable()
	if err != nil {
		return 0, err
	}
	if buildFunc != nil {
		if err := buildFunc(*record); err != nil {
			return 0, fmt.Errorf("build transaction: %w", err)
		}
	}
	if err := m.bundle.MarkUsed(index); err != nil {
		return 0, err
	}
	if m.autoPersist {
		if err := m.persist(); err != nil {
			// Roll back so the credential isn't lost to a transient I/O
			// failure. The caller must treat this attempt as failed
			m.bundle.Nonces[index].Used = false
			return 0, err
		}
	}
	m.logger.Debug(
		"consumed nonce",
		"component", "bundle",
		"index", index,
		"available", m.bundle.AvailableCount(),
	)
	return index, nil
}

// MarkUsed marks the record at index used and, unless auto-persist is
// disabled, rewrites the snapshot. A persist failure rolls the mark back
func (m *Manager) MarkUsed(index int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.bundle == nil {
		return ErrBundleNotFound
	}
	if err := m.bundle.MarkUsed(index); err != nil {
		return err
	}
	if m.autoPersist {
		if err := m.persist(); err != nil {
			m.bundle.Nonces[index].Used = false
			return err
		}
	}
	return nil
}

// NextAvailable returns the lowest-index unused record without consuming it
func (m *Manager) NextAvailable() (int, CachedNonceData, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.bundle == nil {
		return 0, CachedNonceData{}, ErrBundleNotFound
	}
	index, record, err := m.bundle.NextAvailable()
	if err != nil {
		return 0, CachedNonceData{}, err
	}
	return index, *record, nil
}

// Persist writes the current snapshot to disk
func (m *Manager) Persist() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.bundle == nil {
		return ErrBundleNotFound
	}
	return m.persist()
}

// persist atomically replaces the bundle file by writing a temp file in the
// same directory and renaming it over the old snapshot. A crash mid-write
// leaves the previous snapshot fully intact. Callers must hold the lock
func (m *Manager) persist() error {
	data, err := m.bundle.Encode()
	if err != nil {
		return fmt.Errorf("%w: encode: %s", ErrPersistence, err)
	}
	tmpFile, err := os.CreateTemp(filepath.Dir(m.path), ".bundle-*")
	if err != nil {
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	tmpPath := tmpFile.Name()
	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	if err := os.Rename(tmpPath, m.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %s", ErrPersistence, err)
	}
	return nil
}
