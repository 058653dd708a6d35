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
	"github.com/kestrel-os/kestrel/pkg/log"
)

// Syscall is the single trusted entry point for every trap from userspace.
//
// Each invocation moves through received, validated, driver-invoked and
// result-returned stages, with an early exit straight to the result on any
// validation failure. No driver code runs before validation completes, and
// the result always carries back whatever previous binding or registration
// the call displaced.
func (k *Kernel) Syscall(p *Process, sc Syscall) Return {
	// Received: the caller must be a live instance in this kernel's
	// process table. A handle kept across an exit or restart names a dead
	// epoch.
	if p == nil || p.k != k || k.slots[p.index].p != p || !p.alive() {
		return failure(kerrors.NoSuchProcess)
	}
	p.state = Running

	if _, ok := sc.(SyscallYield); !ok && k.opts.Filter != nil {
		// A filtered syscall costs the process nothing but the trap; the
		// filter's error comes back like any other result.
		if err := k.opts.Filter(p, sc); err != nil {
			return failure(err)
		}
	}

	switch sc := sc.(type) {
	case SyscallCommand:
		return k.command(p, sc)
	case SyscallSubscribe:
		return k.subscribeSyscall(p, sc)
	case SyscallAllowReadOnly:
		return k.allowSyscall(p, ReadOnly, sc.Driver, sc.Slot, sc.Region)
	case SyscallAllowReadWrite:
		return k.allowSyscall(p, ReadWrite, sc.Driver, sc.Slot, sc.Region)
	case SyscallYield:
		if log.IsLogging(log.Debug) {
			log.Debugf("[%s] yield", p.Key())
		}
		p.state = Yielded
		return Return{}
	case SyscallMemop:
		return k.memop(p, sc)
	case SyscallExit:
		if log.IsLogging(log.Debug) {
			log.Debugf("[%s] exit(%d)", p.Key(), sc.Code)
		}
		k.exitProcess(p, sc.Code, false)
		return Return{}
	default:
		return failure(kerrors.NoSupport)
	}
}

func (k *Kernel) command(p *Process, sc SyscallCommand) Return {
	d, ok := k.drivers[sc.Driver]
	if !ok {
		return failure(kerrors.NoDevice)
	}
	// Validated. The driver runs with the process named by key only; any
	// grant entry happens inside the driver through the reentrancy guard.
	res := d.driver.Command(p.Key(), sc.Command, sc.Arg2, sc.Arg3)
	ret := Return{Err: res.Err, Values: res.Values}
	if log.IsLogging(log.Debug) {
		log.Debugf("[%s] cmd(%#x, %d, %#x, %#x) = %v",
			p.Key(), sc.Driver, sc.Command, sc.Arg2, sc.Arg3, ret)
	}
	return ret
}

func (k *Kernel) subscribeSyscall(p *Process, sc SyscallSubscribe) Return {
	d, ok := k.drivers[sc.Driver]
	if !ok {
		return failure(kerrors.NoDevice)
	}
	if sc.Slot >= d.spec.UpcallCount {
		return failure(kerrors.Invalid)
	}
	prev := p.subscribe(DriverSlot{Driver: sc.Driver, Slot: sc.Slot}, sc.Upcall)
	if log.IsLogging(log.Debug) {
		log.Debugf("[%s] subscribe(%#x, %d, null=%t, %#x)",
			p.Key(), sc.Driver, sc.Slot, sc.Upcall.IsNull(), sc.Upcall.Userdata)
	}
	return Return{PrevUpcall: prev}
}

func (k *Kernel) allowSyscall(p *Process, mode AllowMode, driver, slot uint32, r Region) Return {
	d, ok := k.drivers[driver]
	if !ok {
		return failure(kerrors.NoDevice)
	}
	count := d.spec.ReadOnlyCount
	if mode == ReadWrite {
		count = d.spec.ReadWriteCount
	}
	if slot >= count {
		return failure(kerrors.Invalid)
	}
	prev, err := p.installAllow(mode, DriverSlot{Driver: driver, Slot: slot}, r)
	if log.IsLogging(log.Debug) {
		log.Debugf("[%s] allow-%v(%#x, %d, %v) = prev %v err %v",
			p.Key(), mode, driver, slot, r, prev, err)
	}
	if err != nil {
		return failure(kerrors.OutOfBounds)
	}
	return Return{PrevRegion: prev}
}

func (k *Kernel) memop(p *Process, sc SyscallMemop) Return {
	switch sc.Op {
	case MemopBrk:
		cur := p.mem.WritableRange().End
		nbrk, err := p.mem.Brk(int32(sc.Arg - uint32(cur)))
		if err != nil {
			return failure(kerrors.Invalid)
		}
		return Return{Values: [2]uint32{uint32(nbrk), 0}}
	case MemopSbrk:
		nbrk, err := p.mem.Brk(int32(sc.Arg))
		if err != nil {
			return failure(kerrors.Invalid)
		}
		return Return{Values: [2]uint32{uint32(nbrk), 0}}
	case MemopMemoryStart:
		return Return{Values: [2]uint32{uint32(p.mem.Base()), 0}}
	case MemopMemoryEnd:
		return Return{Values: [2]uint32{uint32(p.mem.Base()) + p.mem.Size(), 0}}
	default:
		return failure(kerrors.NoSupport)
	}
}
