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

import "errors"

// Protocol violation errors cause the offending transfer to be discarded.
// Other in-flight transfers are unaffected
var (
	// ErrFragmentInconsistency indicates a fragment whose total count
	// disagrees with previously received fragments for the same transfer
	ErrFragmentInconsistency = errors.New(
		"protocol violation: fragment total conflicts with existing transfer state",
	)
	// ErrFragmentConflict indicates a fragment carrying different data for
	// an (id, index) pair that was already received
	ErrFragmentConflict = errors.New(
		"protocol violation: fragment data conflicts with previously received fragment",
	)
)

var (
	// ErrEmptyTransferId indicates a fragment or split request without a
	// transfer identifier
	ErrEmptyTransferId = errors.New("empty transfer identifier")
	// ErrInvalidMaxPayload indicates a maximum payload size below one byte
	ErrInvalidMaxPayload = errors.New("maximum payload size must be at least 1")
	// ErrInvalidFragment indicates a fragment whose index/total combination
	// is not representable
	ErrInvalidFragment = errors.New("invalid fragment index/total")
	// ErrWireVersion indicates an encoded fragment with an unknown wire
	// format version
	ErrWireVersion = errors.New("unknown fragment wire format version")
)
