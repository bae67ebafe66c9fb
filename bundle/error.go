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

package bundle

import "errors"

var (
	// ErrBundleNotFound indicates the persisted bundle does not exist at
	// the given path
	ErrBundleNotFound = errors.New("bundle not found")
	// ErrBundleParse indicates a corrupt or schema-incompatible bundle
	ErrBundleParse = errors.New("malformed bundle")
	// ErrNonceExhausted indicates no unused nonce remains. The bundle must
	// be refreshed out-of-band before another transaction can be built
	ErrNonceExhausted = errors.New("no available nonce in bundle")
	// ErrNonceAlreadyUsed indicates MarkUsed was called twice for the same
	// index. This is a caller bug: two transactions were built from one
	// credential
	ErrNonceAlreadyUsed = errors.New("nonce already marked used")
	// ErrIndexOutOfRange indicates a nonce index outside the bundle
	ErrIndexOutOfRange = errors.New("nonce index out of range")
	// ErrPersistence indicates an I/O failure writing the bundle. The
	// previous on-disk snapshot is left untouched
	ErrPersistence = errors.New("bundle persistence failure")
)
