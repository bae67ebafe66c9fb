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
	"log/slog"
	"sync"
	"time"
)

// Completed is a fully reassembled transfer
type Completed struct {
	Id    string
	Flags uint8
	Data  []byte
}

// IncompleteTransfer reports a transfer evicted before completion
type IncompleteTransfer struct {
	Id       string
	Received int
	Total    uint32
	Age      time.Duration
}

// reassemblyEntry is the receive-side state for one in-flight transfer.
// The received map doubles as the seen-index set and the per-index payload
// storage
type reassemblyEntry struct {
	total     uint32
	flags     uint8
	received  map[uint32][]byte
	firstSeen time.Time
}

func (e *reassemblyEntry) complete() bool {
	return uint32(len(e.received)) == e.total
}

// Reassembler accumulates fragments per transfer identifier and yields each
// original buffer exactly once, when its final missing fragment arrives. It
// is safe for concurrent use
type Reassembler struct {
	mutex   sync.Mutex
	entries map[string]*reassemblyEntry
	logger  *slog.Logger
}

// ReassemblerOptionFunc is a function that modifies a Reassembler
type ReassemblerOptionFunc func(*Reassembler)

// WithLogger specifies the logger for reassembly diagnostics
func WithLogger(logger *slog.Logger) ReassemblerOptionFunc {
	return func(r *Reassembler) {
		r.logger = logger
	}
}

// NewReassembler returns a new Reassembler
func NewReassembler(options ...ReassemblerOptionFunc) *Reassembler {
	r := &Reassembler{
		entries: map[string]*reassemblyEntry{},
	}
	for _, option := range options {
		option(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Ingest inserts a fragment into the entry for its transfer identifier,
// creating the entry on first sight. Re-ingesting an already-seen fragment
// with identical data is a no-op. A fragment whose total disagrees with the
// existing entry is a fatal protocol violation and drops the whole entry; a
// fragment carrying different data for an already-seen index fails without
// touching the rest of the entry. When the transfer becomes complete, the
// assembled buffer is returned and the entry is removed
func (r *Reassembler) Ingest(frag Fragment, now time.Time) (*Completed, error) {
	if frag.Id == "" {
		return nil, ErrEmptyTransferId
	}
	if frag.Total < 1 || frag.Index >= frag.Total {
		return nil, ErrInvalidFragment
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.entries[frag.Id]
	if !ok {
		entry = &reassemblyEntry{
			total:     frag.Total,
			flags:     frag.Flags,
			received:  map[uint32][]byte{},
			firstSeen: now,
		}
		r.entries[frag.Id] = entry
	}
	if entry.total != frag.Total || entry.flags != frag.Flags {
		// A benign duplicate always carries the same header. A conflicting
		// header means the sender (or a forwarder) is broken, and nothing
		// received so far for this transfer can be trusted
		delete(r.entries, frag.Id)
		r.logger.Warn(
			"dropping transfer with conflicting fragment header",
			"component", "reassembler",
			"transfer_id", frag.Id,
		)
		return nil, ErrFragmentInconsistency
	}
	if existing, ok := entry.received[frag.Index]; ok {
		if bytes.Equal(existing, frag.Data) {
			return nil, nil
		}
		return nil, ErrFragmentConflict
	}
	entry.received[frag.Index] = bytes.Clone(frag.Data)
	if !entry.complete() {
		return nil, nil
	}
	delete(r.entries, frag.Id)
	buf := bytes.NewBuffer(nil)
	for i := uint32(0); i < entry.total; i++ {
		buf.Write(entry.received[i])
	}
	ret := &Completed{
		Id:    frag.Id,
		Flags: entry.flags,
		Data:  buf.Bytes(),
	}
	return ret, nil
}

// Sweep evicts incomplete transfers older than maxAge and reports them.
// Without this, a sender that never finishes a transfer leaks entry state
// indefinitely
func (r *Reassembler) Sweep(
	now time.Time,
	maxAge time.Duration,
) []IncompleteTransfer {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	var ret []IncompleteTransfer
	for id, entry := range r.entries {
		age := now.Sub(entry.firstSeen)
		if age <= maxAge {
			continue
		}
		delete(r.entries, id)
		ret = append(
			ret,
			IncompleteTransfer{
				Id:       id,
				Received: len(entry.received),
				Total:    entry.total,
				Age:      age,
			},
		)
	}
	return ret
}

// PendingTransfers returns the number of in-flight transfers
func (r *Reassembler) PendingTransfers() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.entries)
}
