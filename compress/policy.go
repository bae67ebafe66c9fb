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

package compress

// DefaultMinSize is the default payload size below which compression is
// skipped. Small payloads tend to grow once codec framing overhead is
// added, and the codec work buys nothing on a single-MTU transfer
const DefaultMinSize = 128

// Policy applies a Codec only to payloads at least MinSize bytes long
type Policy struct {
	codec   Codec
	minSize int
}

// PolicyOptionFunc is a function that modifies a Policy
type PolicyOptionFunc func(*Policy)

// WithMinSize specifies the minimum payload size eligible for compression
func WithMinSize(minSize int) PolicyOptionFunc {
	return func(p *Policy) {
		p.minSize = minSize
	}
}

// NewPolicy returns a Policy wrapping the provided codec
func NewPolicy(codec Codec, options ...PolicyOptionFunc) *Policy {
	p := &Policy{
		codec:   codec,
		minSize: DefaultMinSize,
	}
	for _, option := range options {
		option(p)
	}
	return p
}

// Pack compresses data when it meets the size threshold. The returned flag
// reports whether compression was applied, and must be carried alongside
// the payload so the receiving side knows whether to Unpack
func (p *Policy) Pack(data []byte) ([]byte, bool, error) {
	if p.codec == nil || len(data) < p.minSize {
		return data, false, nil
	}
	ret, err := p.codec.Compress(data)
	if err != nil {
		return nil, false, err
	}
	return ret, true, nil
}

// Unpack reverses Pack given the flag produced by the sending side
func (p *Policy) Unpack(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	if p.codec == nil {
		return nil, ErrCompression
	}
	return p.codec.Decompress(data)
}
