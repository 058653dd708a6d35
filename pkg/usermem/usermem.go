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

// Package usermem governs access to process memory.
//
// Each process owns an Image: a contiguous byte range at a fixed base
// address, of which a prefix (up to the break) is writable by the process.
// The kernel validates shared regions against the Image at share time and
// derives checked, mode-tagged views from validated regions at use time.
// Every accessor returns an error on a bounds violation; nothing in this
// package panics on process-controlled input.
package usermem

import (
	"github.com/kestrel-os/kestrel/pkg/kerrors"
)

// Addr is an address in a process's address space. Addresses are 32 bits;
// the model targets 32-bit microcontrollers.
type Addr uint32

// AddLength adds the given length to the address, returning ok if no
// overflow occurred.
func (a Addr) AddLength(length uint32) (Addr, bool) {
	end := a + Addr(length)
	return end, end >= a
}

// AddrRange is a half-open range of addresses, [Start, End).
type AddrRange struct {
	Start Addr
	End   Addr
}

// Len returns the length of the range.
func (r AddrRange) Len() uint32 {
	return uint32(r.End - r.Start)
}

// IsSupersetOf returns true if r contains all addresses in other.
func (r AddrRange) IsSupersetOf(other AddrRange) bool {
	return r.Start <= other.Start && other.End <= r.End
}

// Image is the memory belonging to a single process: RAM from Base to
// Base+Size, of which [Base, Base+brk) is currently writable by the process.
// The break moves only via Brk, i.e. synchronously with the kernel.
type Image struct {
	base Addr
	data []byte
	brk  uint32
}

// NewImage creates an Image of size bytes based at base, with the break
// initially at size (the whole image writable).
func NewImage(base Addr, size uint32) *Image {
	if _, ok := base.AddLength(size); !ok {
		panic("image wraps the address space")
	}
	return &Image{
		base: base,
		data: make([]byte, size),
		brk:  size,
	}
}

// Base returns the lowest address of the image.
func (m *Image) Base() Addr {
	return m.base
}

// Size returns the total size of the image in bytes.
func (m *Image) Size() uint32 {
	return uint32(len(m.data))
}

// WritableRange returns the range the process may currently write,
// [Base, Base+brk).
func (m *Image) WritableRange() AddrRange {
	return AddrRange{m.base, m.base + Addr(m.brk)}
}

// Brk adjusts the break by delta bytes and returns the new break address.
// The break is clamped-free: an adjustment that would leave the writable
// range outside [0, Size] fails with Invalid and changes nothing.
func (m *Image) Brk(delta int32) (Addr, error) {
	nbrk := int64(m.brk) + int64(delta)
	if nbrk < 0 || nbrk > int64(len(m.data)) {
		return 0, kerrors.Invalid
	}
	m.brk = uint32(nbrk)
	return m.base + Addr(m.brk), nil
}

// CheckContains returns true if the (addr, length) region lies entirely
// within the process's current writable range. A zero-length region is
// valid at any address, including addresses outside the image.
func (m *Image) CheckContains(addr Addr, length uint32) bool {
	if length == 0 {
		return true
	}
	end, ok := addr.AddLength(length)
	if !ok {
		return false
	}
	return m.WritableRange().IsSupersetOf(AddrRange{addr, end})
}

// slice returns the backing bytes for (addr, length), checked against the
// full extent of the image rather than the current break: a region that was
// validated at share time stays dereferenceable even if the break has since
// moved down.
func (m *Image) slice(addr Addr, length uint32) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	end, ok := addr.AddLength(length)
	if !ok || addr < m.base || end > m.base+Addr(m.Size()) {
		return nil, kerrors.OutOfBounds
	}
	off := uint32(addr - m.base)
	return m.data[off : off+length], nil
}

// ReadView derives a read-only view over (addr, length). The caller is
// responsible for having validated the region at share time.
func (m *Image) ReadView(addr Addr, length uint32) (Readable, error) {
	b, err := m.slice(addr, length)
	if err != nil {
		return Readable{}, err
	}
	return Readable{data: b}, nil
}

// WriteView derives a read-write view over (addr, length).
func (m *Image) WriteView(addr Addr, length uint32) (Writable, error) {
	b, err := m.slice(addr, length)
	if err != nil {
		return Writable{}, err
	}
	return Writable{Readable{data: b}}, nil
}
