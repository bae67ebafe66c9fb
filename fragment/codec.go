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
	"fmt"

	"github.com/blinklabs-io/meshtx/cbor"
)

// WireFormatVersion is the current fragment wire format version. Decoding
// rejects any other value so incompatible peers fail loudly instead of
// corrupting transfers
const WireFormatVersion = 1

// wireFragment is the on-the-wire shape of a Fragment, encoded as a CBOR
// array to keep per-packet overhead small
type wireFragment struct {
	cbor.StructAsArray
	Version uint8
	Id      string
	Index   uint32
	Total   uint32
	Flags   uint8
	Data    []byte
}

// Encode serializes a fragment for transport
func Encode(frag Fragment) ([]byte, error) {
	tmp := wireFragment{
		Version: WireFormatVersion,
		Id:      frag.Id,
		Index:   frag.Index,
		Total:   frag.Total,
		Flags:   frag.Flags,
		Data:    frag.Data,
	}
	return cbor.Encode(&tmp)
}

// Decode parses an encoded fragment and validates its header fields
func Decode(data []byte) (*Fragment, error) {
	var tmp wireFragment
	if _, err := cbor.Decode(data, &tmp); err != nil {
		return nil, fmt.Errorf("decode fragment: %w", err)
	}
	if tmp.Version != WireFormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrWireVersion, tmp.Version)
	}
	if tmp.Id == "" {
		return nil, ErrEmptyTransferId
	}
	if tmp.Total < 1 || tmp.Index >= tmp.Total {
		return nil, fmt.Errorf(
			"%w: index %d, total %d",
			ErrInvalidFragment,
			tmp.Index,
			tmp.Total,
		)
	}
	ret := &Fragment{
		Id:    tmp.Id,
		Index: tmp.Index,
		Total: tmp.Total,
		Flags: tmp.Flags,
		Data:  tmp.Data,
	}
	return ret, nil
}
