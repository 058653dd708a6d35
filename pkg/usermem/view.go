// Copyright 2024 The Kestrel Authors.
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

package usermem

import (
	"github.com/kestrel-os/kestrel/pkg/kerrors"
)

// Readable is a read-only view over a validated region of process memory.
//
// A view is only valid for the duration of the call it was derived in;
// drivers must re-derive views from the kernel-held binding on each
// invocation rather than retaining them.
type Readable struct {
	data []byte
}

// Len returns the view's length in bytes.
func (v Readable) Len() int {
	return len(v.data)
}

// At returns the byte at offset i.
func (v Readable) At(i int) (byte, error) {
	if i < 0 || i >= len(v.data) {
		return 0, kerrors.OutOfBounds
	}
	return v.data[i], nil
}

// CopyTo copies from the view into dst, stopping at whichever is shorter.
// It returns the number of bytes copied.
func (v Readable) CopyTo(dst []byte) int {
	return copy(dst, v.data)
}

// ReadAt copies len(dst) bytes starting at offset off into dst. Unlike
// CopyTo it fails with OutOfBounds rather than truncating.
func (v Readable) ReadAt(dst []byte, off int) (int, error) {
	if off < 0 || off+len(dst) > len(v.data) {
		return 0, kerrors.OutOfBounds
	}
	return copy(dst, v.data[off:]), nil
}

// Writable is a read-write view over a validated region of process memory.
// The same single-invocation lifetime contract as Readable applies.
type Writable struct {
	Readable
}

// CopyFrom copies from src into the view, stopping at whichever is shorter.
// It returns the number of bytes copied.
func (v Writable) CopyFrom(src []byte) int {
	return copy(v.data, src)
}

// WriteAt copies len(src) bytes from src into the view starting at offset
// off. It fails with OutOfBounds rather than truncating.
func (v Writable) WriteAt(src []byte, off int) (int, error) {
	if off < 0 || off+len(src) > len(v.data) {
		return 0, kerrors.OutOfBounds
	}
	return copy(v.data[off:], src), nil
}

// Set writes the byte at offset i.
func (v Writable) Set(i int, b byte) error {
	if i < 0 || i >= len(v.data) {
		return kerrors.OutOfBounds
	}
	v.data[i] = b
	return nil
}
