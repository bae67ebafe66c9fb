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

// Package bundle implements the persisted pool of offline transaction
// credentials. Each record is a single-use durable nonce captured while the
// device still had network access; consuming one lets a transaction be
// built and signed with no live handshake. Reusing a nonce produces a
// conflicting transaction, so consumption is exactly-once: records are
// marked used, never reset, and never deleted
package bundle

import (
	"crypto/ed25519"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/blinklabs-io/meshtx/cbor"
	"github.com/mr-tron/base58"
)

// BundleFormatVersion is the current persisted bundle schema version
const BundleFormatVersion = 1

// CachedNonceData is one offline-usable transaction credential
type CachedNonceData struct {
	cbor.StructAsArray
	// NonceAccount is the base58 address of the on-chain durable-nonce
	// account
	NonceAccount string
	// NonceValue is the nonce value captured when the bundle was refreshed
	NonceValue string
	// Authority is the base58 ed25519 public key that must sign to consume
	// the nonce
	Authority string
	// Used reports whether this credential has been consumed. Monotonic:
	// false to true, never reset
	Used bool
}

// Validate checks that the record's addresses are well-formed. The
// authority must decode to a valid curve point, since a mangled key would
// only be discovered when the signed transaction is rejected on-chain
func (n *CachedNonceData) Validate() error {
	if _, err := base58.Decode(n.NonceAccount); err != nil {
		return fmt.Errorf("nonce account: %w", err)
	}
	if _, err := base58.Decode(n.NonceValue); err != nil {
		return fmt.Errorf("nonce value: %w", err)
	}
	rawAuthority, err := base58.Decode(n.Authority)
	if err != nil {
		return fmt.Errorf("authority: %w", err)
	}
	if len(rawAuthority) != ed25519.PublicKeySize {
		return fmt.Errorf(
			"authority: expected %d bytes, got %d",
			ed25519.PublicKeySize,
			len(rawAuthority),
		)
	}
	if _, err := new(edwards25519.Point).SetBytes(rawAuthority); err != nil {
		return fmt.Errorf("authority: not a valid curve point: %w", err)
	}
	return nil
}

// Bundle is the persisted collection of nonce credentials. Record order is
// stable across save/load: the index position is the external handle used
// by MarkUsed. Counts are always derived from the records to avoid drift
type Bundle struct {
	cbor.StructAsArray
	Version uint8
	Nonces  []CachedNonceData
}

// NewBundle returns a Bundle at the current schema version
func NewBundle(nonces []CachedNonceData) *Bundle {
	return &Bundle{
		Version: BundleFormatVersion,
		Nonces:  nonces,
	}
}

// TotalCount returns the number of records, used or not
func (b *Bundle) TotalCount() int {
	return len(b.Nonces)
}

// AvailableCount returns the number of unused records
func (b *Bundle) AvailableCount() int {
	ret := 0
	for i := range b.Nonces {
		if !b.Nonces[i].Used {
			ret++
		}
	}
	return ret
}

// NextAvailable returns the lowest-index unused record, or ErrNonceExhausted
// when none remain. Callers must treat exhaustion as fatal to the current
// transaction attempt, not something to retry
func (b *Bundle) NextAvailable() (int, *CachedNonceData, error) {
	for i := range b.Nonces {
		if !b.Nonces[i].Used {
			return i, &b.Nonces[i], nil
		}
	}
	return 0, nil, ErrNonceExhausted
}

// MarkUsed transitions the record at index from unused to used. Marking an
// already-used record fails: double-marking means two transactions were
// built from one credential, which is a caller bug rather than something to
// paper over with idempotency
func (b *Bundle) MarkUsed(index int) error {
	if index < 0 || index >= len(b.Nonces) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}
	if b.Nonces[index].Used {
		return fmt.Errorf("%w: %d", ErrNonceAlreadyUsed, index)
	}
	b.Nonces[index].Used = true
	return nil
}

// Parse decodes a persisted bundle snapshot
func Parse(data []byte) (*Bundle, error) {
	var ret Bundle
	if _, err := cbor.Decode(data, &ret); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBundleParse, err)
	}
	if ret.Version != BundleFormatVersion {
		return nil, fmt.Errorf(
			"%w: unsupported version %d",
			ErrBundleParse,
			ret.Version,
		)
	}
	for i := range ret.Nonces {
		if err := ret.Nonces[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %s", ErrBundleParse, i, err)
		}
	}
	return &ret, nil
}

// Encode serializes the bundle for persistence
func (b *Bundle) Encode() ([]byte, error) {
	return cbor.Encode(b)
}
