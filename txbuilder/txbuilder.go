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

// Package txbuilder assembles signed transaction bytes fully offline. A
// cached durable nonce stands in for the live reference value a connected
// client would fetch, so the only inputs are a credential from the bundle,
// the opaque program payload, and the authority's signing key. Anything
// beyond "attach nonce, sign, produce bytes" (fees, balances, consensus)
// is out of scope
package txbuilder

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/blinklabs-io/meshtx/bundle"
	"github.com/blinklabs-io/meshtx/cbor"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// TransactionFormatVersion is the current signed transaction envelope
// version
const TransactionFormatVersion = 1

var (
	// ErrInvalidKey indicates a signing key of the wrong size
	ErrInvalidKey = errors.New("invalid ed25519 signing key")
	// ErrWrongAuthority indicates a nonce credential whose authority does
	// not match the builder's signing key
	ErrWrongAuthority = errors.New("nonce authority does not match signing key")
	// ErrInvalidTransaction indicates transaction bytes that fail to parse
	// or verify
	ErrInvalidTransaction = errors.New("invalid transaction bytes")
)

// txMessage is the signed portion of a transaction
type txMessage struct {
	cbor.StructAsArray
	Version      uint8
	NonceAccount string
	NonceValue   string
	Authority    string
	Payload      []byte
}

// txEnvelope is the full wire shape: signature over the blake2b-256 digest
// of the encoded message, followed by the message itself
type txEnvelope struct {
	cbor.StructAsArray
	Version   uint8
	Signature []byte
	Message   []byte
}

// Transaction is a decoded signed transaction
type Transaction struct {
	NonceAccount string
	NonceValue   string
	Authority    string
	Payload      []byte
	Signature    []byte
	digest       [blake2b.Size256]byte
}

// Id returns the base58 transaction identifier (the signed digest)
func (t *Transaction) Id() string {
	return base58.Encode(t.digest[:])
}

// Builder signs transactions as a single authority
type Builder struct {
	signingKey ed25519.PrivateKey
	authority  string
}

// NewBuilder returns a Builder for the given ed25519 signing key
func NewBuilder(signingKey ed25519.PrivateKey) (*Builder, error) {
	if len(signingKey) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKey
	}
	pubKey, ok := signingKey.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	b := &Builder{
		signingKey: signingKey,
		authority:  base58.Encode(pubKey),
	}
	return b, nil
}

// Authority returns the base58 public key this builder signs as
func (b *Builder) Authority() string {
	return b.authority
}

// Build attaches the nonce credential to the payload, signs the message,
// and returns the serialized transaction bytes. The credential's authority
// must match the builder's key: signing with the wrong key would produce a
// transaction the chain rejects, long after the nonce was burned
func (b *Builder) Build(
	nonce bundle.CachedNonceData,
	payload []byte,
) ([]byte, error) {
	if nonce.Authority != b.authority {
		return nil, ErrWrongAuthority
	}
	msg := txMessage{
		Version:      TransactionFormatVersion,
		NonceAccount: nonce.NonceAccount,
		NonceValue:   nonce.NonceValue,
		Authority:    nonce.Authority,
		Payload:      payload,
	}
	msgBytes, err := cbor.Encode(&msg)
	if err != nil {
		return nil, fmt.Errorf("encode transaction message: %w", err)
	}
	digest := blake2b.Sum256(msgBytes)
	envelope := txEnvelope{
		Version:   TransactionFormatVersion,
		Signature: ed25519.Sign(b.signingKey, digest[:]),
		Message:   msgBytes,
	}
	return cbor.Encode(&envelope)
}

// Decode parses transaction bytes and verifies the signature against the
// embedded authority key
func Decode(data []byte) (*Transaction, error) {
	var envelope txEnvelope
	if _, err := cbor.Decode(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}
	if envelope.Version != TransactionFormatVersion {
		return nil, fmt.Errorf(
			"%w: unsupported version %d",
			ErrInvalidTransaction,
			envelope.Version,
		)
	}
	var msg txMessage
	if _, err := cbor.Decode(envelope.Message, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}
	authorityKey, err := base58.Decode(msg.Authority)
	if err != nil || len(authorityKey) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: bad authority key", ErrInvalidTransaction)
	}
	digest := blake2b.Sum256(envelope.Message)
	if !ed25519.Verify(
		ed25519.PublicKey(authorityKey),
		digest[:],
		envelope.Signature,
	) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidTransaction)
	}
	ret := &Transaction{
		NonceAccount: msg.NonceAccount,
		NonceValue:   msg.NonceValue,
		Authority:    msg.Authority,
		Payload:      msg.Payload,
		Signature:    envelope.Signature,
		digest:       digest,
	}
	return ret, nil
}
