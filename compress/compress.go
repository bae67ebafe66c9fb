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

// Package compress provides the pluggable payload compression used by the
// relay before fragmentation, along with the size-threshold policy that
// decides whether a given payload is worth compressing at all.
package compress

import "errors"

// ErrCompression is returned when decompression is given malformed input
var ErrCompression = errors.New("malformed compressed data")

// Codec is a reversible byte-buffer transform. Implementations must
// guarantee Decompress(Compress(x)) == x for every input, including the
// empty buffer, and must be safe for concurrent use
type Codec interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}
