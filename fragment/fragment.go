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

// Package fragment implements splitting a byte buffer into bounded-size
// fragments for transport over an MTU-limited packet link, and reassembling
// the original buffer from fragments arriving out of order, duplicated, or
// not at all.
package fragment

import "fmt"

// Kind describes a fragment's position within its transfer
type Kind uint8

const (
	KindStart    Kind = 1
	KindContinue Kind = 2
	KindEnd      Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindContinue:
		return "continue"
	case KindEnd:
		return "end"
	}
	return "unknown"
}

// Transfer flags carried on every fragment of a transfer
const (
	// FlagCompressed marks a transfer whose reassembled payload must be
	// decompressed before delivery
	FlagCompressed uint8 = 1 << 0
	// FlagText marks a transfer belonging to the text message channel
	FlagText uint8 = 1 << 1
)

// Fragment is one packet of a fragmented transfer. Fragments are never
// mutated after creation
type Fragment struct {
	Id    string
	Index uint32
	Total uint32
	Flags uint8
	Data  []byte
}

// Kind derives the fragment's position marker from its index and total.
// The final fragment is always KindEnd, including the single fragment of a
// one-fragment transfer, so every transfer has an end marker
func (f *Fragment) Kind() Kind {
	switch {
	case f.Index == f.Total-1:
		return KindEnd
	case f.Index == 0:
		return KindStart
	}
	return KindContinue
}

func (f *Fragment) String() string {
	return fmt.Sprintf(
		"fragment %s %d/%d (%s, %d bytes)",
		f.Id,
		f.Index+1,
		f.Total,
		f.Kind(),
		len(f.Data),
	)
}

// Split divides data into fragments of at most maxPayload bytes, all tagged
// with the given transfer identifier and flags. An empty buffer still
// produces a single fragment with empty data, so zero-length transfers
// travel the same path as any other. Identical inputs always produce
// identical output
func Split(
	id string,
	data []byte,
	maxPayload int,
	flags uint8,
) ([]Fragment, error) {
	if id == "" {
		return nil, ErrEmptyTransferId
	}
	if maxPayload < 1 {
		return nil, ErrInvalidMaxPayload
	}
	total := (len(data) + maxPayload - 1) / maxPayload
	if total == 0 {
		total = 1
	}
	ret := make([]Fragment, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPayload
		end := min(start+maxPayload, len(data))
		ret = append(
			ret,
			Fragment{
				Id:    id,
				Index: uint32(i),
				Total: uint32(total),
				Flags: flags,
				Data:  data[start:end],
			},
		)
	}
	return ret, nil
}
