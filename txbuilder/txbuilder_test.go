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

package txbuilder_test

import (
	"testing"

	"github.com/blinklabs-io/meshtx/internal/test"
	"github.com/blinklabs-io/meshtx/txbuilder"
	"github.com/stretchr/testify/assert"
)

func TestBuildDecodeRoundTrip(t *testing.T) {
	authority, privKey := test.Keypair(1)
	builder, err := txbuilder.NewBuilder(privKey)
	assert.NoError(t, err)
	records := test.NonceRecords(1, authority)
	payload := []byte("transfer 5 tokens")

	txBytes, err := builder.Build(records[0], payload)
	assert.NoError(t, err)

	tx, err := txbuilder.Decode(txBytes)
	assert.NoError(t, err)
	assert.Equal(t, records[0].NonceAccount, tx.NonceAccount)
	assert.Equal(t, records[0].NonceValue, tx.NonceValue)
	assert.Equal(t, builder.Authority(), tx.Authority)
	assert.Equal(t, payload, tx.Payload)
	assert.NotEmpty(t, tx.Id())
}

func TestBuildDeterministicId(t *testing.T) {
	authority, privKey := test.Keypair(1)
	builder, err := txbuilder.NewBuilder(privKey)
	assert.NoError(t, err)
	records := test.NonceRecords(1, authority)

	txBytes1, err := builder.Build(records[0], []byte("payload"))
	assert.NoError(t, err)
	txBytes2, err := builder.Build(records[0], []byte("payload"))
	assert.NoError(t, err)
	tx1, err := txbuilder.Decode(txBytes1)
	assert.NoError(t, err)
	tx2, err := txbuilder.Decode(txBytes2)
	assert.NoError(t, err)
	assert.Equal(t, tx1.Id(), tx2.Id())
}

func TestBuildWrongAuthority(t *testing.T) {
	authority, _ := test.Keypair(1)
	_, otherKey := test.Keypair(2)
	builder, err := txbuilder.NewBuilder(otherKey)
	assert.NoError(t, err)
	records := test.NonceRecords(1, authority)
	_, err = builder.Build(records[0], []byte("payload"))
	assert.ErrorIs(t, err, txbuilder.ErrWrongAuthority)
}

func TestNewBuilderBadKey(t *testing.T) {
	_, err := txbuilder.NewBuilder([]byte("too short"))
	assert.ErrorIs(t, err, txbuilder.ErrInvalidKey)
}

func TestDecodeTamperedTransaction(t *testing.T) {
	authority, privKey := test.Keypair(1)
	builder, err := txbuilder.NewBuilder(privKey)
	assert.NoError(t, err)
	records := test.NonceRecords(1, authority)
	txBytes, err := builder.Build(records[0], []byte("payload"))
	assert.NoError(t, err)

	// Flip a byte near the end (inside the embedded message)
	txBytes[len(txBytes)-3] ^= 0xff
	_, err = txbuilder.Decode(txBytes)
	assert.ErrorIs(t, err, txbuilder.ErrInvalidTransaction)
}

func TestDecodeGarbage(t *testing.T) {
	_, err := txbuilder.Decode([]byte("not a transaction"))
	assert.ErrorIs(t, err, txbuilder.ErrInvalidTransaction)
}
