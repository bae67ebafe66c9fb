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

package fragment

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ingestAll(
	t *testing.T,
	r *Reassembler,
	frags []Fragment,
) *Completed {
	t.Helper()
	var ret *Completed
	now := time.Now()
	for _, frag := range frags {
		completed, err := r.Ingest(frag, now)
		if err != nil {
			t.Fatalf("unexpected error ingesting %s: %s", frag.String(), err)
		}
		if completed != nil {
			if ret != nil {
				t.Fatalf("transfer completed more than once")
			}
			ret = completed
		}
	}
	return ret
}

func TestRoundTrip(t *testing.T) {
	testDefs := []struct {
		dataLen    int
		maxPayload int
	}{
		{dataLen: 0, maxPayload: 1},
		{dataLen: 1, maxPayload: 1},
		{dataLen: 100, maxPayload: 1},
		{dataLen: 1000, maxPayload: 100},
		{dataLen: 999, maxPayload: 100},
		{dataLen: 1001, maxPayload: 100},
		{dataLen: 50000, maxPayload: 512},
	}
	for _, testDef := range testDefs {
		data := make([]byte, testDef.dataLen)
		for i := range data {
			data[i] = byte(i * 31)
		}
		frags, err := Split("test-transfer", data, testDef.maxPayload, 0)
		assert.NoError(t, err)
		completed := ingestAll(t, NewReassembler(), frags)
		if completed == nil {
			t.Fatalf(
				"transfer did not complete (len %d, payload %d)",
				testDef.dataLen,
				testDef.maxPayload,
			)
		}
		assert.True(t, bytes.Equal(data, completed.Data))
	}
}

func TestRoundTripOutOfOrder(t *testing.T) {
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i)
	}
	frags, err := Split("test-transfer", data, 100, 0)
	assert.NoError(t, err)
	// Deterministic shuffle
	rng := rand.New(rand.NewSource(42))
	rng.Shuffle(len(frags), func(i, j int) {
		frags[i], frags[j] = frags[j], frags[i]
	})
	completed := ingestAll(t, NewReassembler(), frags)
	if completed == nil {
		t.Fatal("transfer did not complete")
	}
	assert.True(t, bytes.Equal(data, completed.Data))
}

func TestIngestIdempotent(t *testing.T) {
	r := NewReassembler()
	frags, err := Split("test-transfer", make([]byte, 300), 100, 0)
	assert.NoError(t, err)
	now := time.Now()
	// First two fragments, the second twice
	_, err = r.Ingest(frags[0], now)
	assert.NoError(t, err)
	_, err = r.Ingest(frags[1], now)
	assert.NoError(t, err)
	completed, err := r.Ingest(frags[1], now)
	assert.NoError(t, err)
	assert.Nil(t, completed)
	// The duplicate must not count toward completion
	assert.Equal(t, 1, r.PendingTransfers())
	completed, err = r.Ingest(frags[2], now)
	assert.NoError(t, err)
	if completed == nil {
		t.Fatal("transfer did not complete")
	}
}

func TestIngestConflictingData(t *testing.T) {
	r := NewReassembler()
	now := time.Now()
	frags, err := Split("test-transfer", []byte("hello world, hello mesh"), 10, 0)
	assert.NoError(t, err)
	_, err = r.Ingest(frags[0], now)
	assert.NoError(t, err)
	// Same (id, index), different data
	conflicting := frags[0]
	conflicting.Data = []byte("evil data!")
	_, err = r.Ingest(conflicting, now)
	assert.ErrorIs(t, err, ErrFragmentConflict)
	// The rest of the entry is intact: finishing the transfer still works
	completed := ingestAll(t, r, frags[1:])
	if completed == nil {
		t.Fatal("transfer did not complete after conflict")
	}
	assert.Equal(t, []byte("hello world, hello mesh"), completed.Data)
}

func TestIngestConflictingTotal(t *testing.T) {
	r := NewReassembler()
	now := time.Now()
	_, err := r.Ingest(
		Fragment{Id: "test-transfer", Index: 0, Total: 5, Data: []byte("a")},
		now,
	)
	assert.NoError(t, err)
	_, err = r.Ingest(
		Fragment{Id: "test-transfer", Index: 1, Total: 6, Data: []byte("b")},
		now,
	)
	assert.ErrorIs(t, err, ErrFragmentInconsistency)
	// The whole entry is dropped
	assert.Equal(t, 0, r.PendingTransfers())
}

func TestIngestInvalidFragment(t *testing.T) {
	r := NewReassembler()
	now := time.Now()
	_, err := r.Ingest(Fragment{Id: "", Index: 0, Total: 1}, now)
	assert.ErrorIs(t, err, ErrEmptyTransferId)
	_, err = r.Ingest(Fragment{Id: "x", Index: 2, Total: 2}, now)
	assert.ErrorIs(t, err, ErrInvalidFragment)
	_, err = r.Ingest(Fragment{Id: "x", Index: 0, Total: 0}, now)
	assert.ErrorIs(t, err, ErrInvalidFragment)
}

func TestSweep(t *testing.T) {
	r := NewReassembler()
	start := time.Now()
	// Two incomplete transfers, one complete
	_, err := r.Ingest(
		Fragment{Id: "stale", Index: 0, Total: 3, Data: []byte("a")},
		start,
	)
	assert.NoError(t, err)
	_, err = r.Ingest(
		Fragment{Id: "fresh", Index: 0, Total: 2, Data: []byte("b")},
		start.Add(50*time.Second),
	)
	assert.NoError(t, err)
	evicted := r.Sweep(start.Add(61*time.Second), 60*time.Second)
	if len(evicted) != 1 {
		t.Fatalf("expected 1 evicted transfer, got %d", len(evicted))
	}
	assert.Equal(t, "stale", evicted[0].Id)
	assert.Equal(t, 1, evicted[0].Received)
	assert.Equal(t, uint32(3), evicted[0].Total)
	assert.Equal(t, 1, r.PendingTransfers())
}

func TestCompletionRemovesEntry(t *testing.T) {
	r := NewReassembler()
	frags, err := Split("test-transfer", []byte("solo"), 100, 0)
	assert.NoError(t, err)
	completed := ingestAll(t, r, frags)
	if completed == nil {
		t.Fatal("transfer did not complete")
	}
	assert.Equal(t, 0, r.PendingTransfers())
	// A late duplicate after completion starts a fresh entry rather than
	// completing twice
	dup, err := r.Ingest(frags[0], time.Now())
	assert.NoError(t, err)
	assert.NotNil(t, dup)
}
