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
	"github.com/kestrel-os/kestrel/pkg/kerrors"
	"github.com/kestrel-os/kestrel/pkg/usermem"
)

// Driver is the syscall-facing interface a capsule implements. Subscribe
// and the allow calls are handled entirely by the kernel's tables; only
// Command reaches the driver, after validation.
type Driver interface {
	// Command executes a driver-defined operation on behalf of the process
	// named by key. Command number 0 is reserved as the existence check
	// and must return success with no values. Handlers must not block:
	// operations needing asynchronous completion return a pending-style
	// success immediately and deliver the result later through an upcall.
	Command(key ProcessKey, cmd uint32, arg2, arg3 uint32) CommandResult
}

// CommandResult is the driver-defined result of a Command: either a
// canonical error or up to two words of success values.
type CommandResult struct {
	Err    *kerrors.Error
	Values [2]uint32
}

// CommandSuccess returns the bare success result.
func CommandSuccess() CommandResult {
	return CommandResult{}
}

// CommandSuccessU32 returns success carrying one word.
func CommandSuccessU32(v uint32) CommandResult {
	return CommandResult{Values: [2]uint32{v, 0}}
}

// CommandSuccessU32U32 returns success carrying two words.
func CommandSuccessU32U32(v0, v1 uint32) CommandResult {
	return CommandResult{Values: [2]uint32{v0, v1}}
}

// CommandFailure returns a failure result.
func CommandFailure(err *kerrors.Error) CommandResult {
	return CommandResult{Err: err}
}

// DriverSpec declares the slot spaces a driver exposes. Slot numbers at or
// above the declared count are rejected with Invalid before the driver is
// involved.
type DriverSpec struct {
	UpcallCount    uint32
	ReadOnlyCount  uint32
	ReadWriteCount uint32
}

// driverEntry is one registered driver.
type driverEntry struct {
	num    uint32
	spec   DriverSpec
	driver Driver
}

// DriverRef is the kernel capability handed to a driver at registration.
// It is bound to the driver's number: everything reachable through it is
// scoped to that driver's own slots, so a driver can neither read another
// driver's buffers nor schedule another driver's upcalls. Process arguments
// are always ProcessKeys, re-resolved on every call.
type DriverRef struct {
	k   *Kernel
	num uint32
}

// Num returns the driver number this reference is bound to.
func (r *DriverRef) Num() uint32 {
	return r.num
}

// Schedule enqueues the upcall currently registered at slot for the process
// named by key. See Kernel.scheduleUpcall for the failure modes; a driver
// holding a stale key gets NoSuchProcess and nothing is invoked.
func (r *DriverRef) Schedule(key ProcessKey, slot uint32, args [3]uint32) error {
	return r.k.scheduleUpcall(key, DriverSlot{Driver: r.num, Slot: slot}, args)
}

// ReadOnly invokes body with a read-only view of the buffer currently
// allowed at slot by the process named by key. The view is derived from the
// kernel-held binding at call time and is valid only inside body; if the
// slot is empty, body sees an empty view.
func (r *DriverRef) ReadOnly(key ProcessKey, slot uint32, body func(buf usermem.Readable) error) error {
	if slot >= r.k.drivers[r.num].spec.ReadOnlyCount {
		return kerrors.Invalid
	}
	p := r.k.processFor(key)
	if p == nil {
		return kerrors.NoSuchProcess
	}
	reg := p.allowRegion(ReadOnly, DriverSlot{Driver: r.num, Slot: slot})
	buf, err := p.mem.ReadView(reg.Addr, reg.Len)
	if err != nil {
		return err
	}
	return body(buf)
}

// ReadWrite is ReadOnly for the read-write slot space, yielding a writable
// view.
func (r *DriverRef) ReadWrite(key ProcessKey, slot uint32, body func(buf usermem.Writable) error) error {
	if slot >= r.k.drivers[r.num].spec.ReadWriteCount {
		return kerrors.Invalid
	}
	p := r.k.processFor(key)
	if p == nil {
		return kerrors.NoSuchProcess
	}
	reg := p.allowRegion(ReadWrite, DriverSlot{Driver: r.num, Slot: slot})
	buf, err := p.mem.WriteView(reg.Addr, reg.Len)
	if err != nil {
		return err
	}
	return body(buf)
}
