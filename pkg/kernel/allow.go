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

package kernel

import (
	"fmt"

	"github.com/kestrel-os/kestrel/pkg/kerrors"
	"github.com/kestrel-os/kestrel/pkg/usermem"
)

// Region is a (start, length) byte range in the owning process's address
// space. The zero Region is the null binding, always a valid value to hand
// back when a slot has never been allowed.
type Region struct {
	Addr usermem.Addr
	Len  uint32
}

// IsNull returns true for the zero-length region.
func (r Region) IsNull() bool {
	return r.Len == 0
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return fmt.Sprintf("(%#x, %d)", uint32(r.Addr), r.Len)
}

// AllowMode is the access mode of a shared-buffer binding.
type AllowMode int

// The allow modes. Read-only and read-write slots are separate spaces: slot
// 0 read-only and slot 0 read-write of the same driver are distinct
// bindings.
const (
	ReadOnly AllowMode = iota
	ReadWrite
)

// String implements fmt.Stringer.
func (m AllowMode) String() string {
	if m == ReadOnly {
		return "ro"
	}
	return "rw"
}

// allowTable returns the binding table for the given mode.
//
// The tables are the per-process half of the region table: the authoritative
// record of every buffer currently lent to every driver. Each slot holds at
// most one binding at a time; installing a new one atomically displaces the
// old, which is returned to the caller so no region is ever silently dropped
// or duplicated. The kernel performs no overlap detection between different
// slots: a process that deliberately allows overlapping regions into two
// slots of the same driver gets exactly the aliasing it asked for, and
// driver-facing documentation disclaims that hazard.
func (p *Process) allowTable(mode AllowMode) map[DriverSlot]Region {
	if mode == ReadOnly {
		return p.allowRO
	}
	return p.allowRW
}

// installAllow validates r against p's writable memory and installs it at
// (driver, slot), returning the displaced binding.
//
// Validation happens at the moment of sharing: the region must lie entirely
// within p's current writable range. A zero-length region is the null
// binding and is valid at any address; installing it leaves the slot empty.
// No bytes are copied.
func (p *Process) installAllow(mode AllowMode, id DriverSlot, r Region) (Region, error) {
	if !r.IsNull() && !p.mem.CheckContains(r.Addr, r.Len) {
		return Region{}, kerrors.OutOfBounds
	}
	tbl := p.allowTable(mode)
	prev, ok := tbl[id]
	if r.IsNull() {
		delete(tbl, id)
	} else {
		tbl[id] = r
	}
	if !ok {
		return Region{}, nil
	}
	return prev, nil
}

// allowRegion returns the current binding at (driver, slot), or the null
// region if the slot is empty. It never fails; this is the revoke-free read
// used when drivers re-derive their view of a buffer.
func (p *Process) allowRegion(mode AllowMode, id DriverSlot) Region {
	return p.allowTable(mode)[id]
}
