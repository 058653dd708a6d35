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
)

// Syscall is one trap from userspace. The concrete types below are the
// syscall classes of the ABI.
type Syscall interface {
	isSyscall()
}

// SyscallCommand invokes a driver-defined operation.
type SyscallCommand struct {
	Driver  uint32
	Command uint32
	Arg2    uint32
	Arg3    uint32
}

// SyscallSubscribe registers an upcall for asynchronous completion
// delivery. A null Upcall unregisters the slot.
type SyscallSubscribe struct {
	Driver uint32
	Slot   uint32
	Upcall Upcall
}

// SyscallAllowReadOnly lends a read-only memory region to a driver. The
// null region revokes the slot's current binding.
type SyscallAllowReadOnly struct {
	Driver uint32
	Slot   uint32
	Region Region
}

// SyscallAllowReadWrite lends a read-write memory region to a driver.
type SyscallAllowReadWrite struct {
	Driver uint32
	Slot   uint32
	Region Region
}

// SyscallYield parks the process until an upcall is delivered.
type SyscallYield struct{}

// SyscallMemop queries or adjusts the process's address space.
type SyscallMemop struct {
	Op  MemopOp
	Arg uint32
}

// SyscallExit terminates the process with a 32-bit completion code. Code 0
// is the clean-success convention; all other values are advisory.
type SyscallExit struct {
	Code uint32
}

func (SyscallCommand) isSyscall()        {}
func (SyscallSubscribe) isSyscall()      {}
func (SyscallAllowReadOnly) isSyscall()  {}
func (SyscallAllowReadWrite) isSyscall() {}
func (SyscallYield) isSyscall()          {}
func (SyscallMemop) isSyscall()          {}
func (SyscallExit) isSyscall()           {}

// MemopOp selects a memop operation.
type MemopOp uint32

// The memop operations.
const (
	// MemopBrk sets the absolute break address.
	MemopBrk MemopOp = 0

	// MemopSbrk adjusts the break by a signed delta and returns the new
	// break address.
	MemopSbrk MemopOp = 1

	// MemopMemoryStart returns the base of the process's memory.
	MemopMemoryStart MemopOp = 2

	// MemopMemoryEnd returns the first address past the process's memory.
	MemopMemoryEnd MemopOp = 3
)

// Return is the value handed back to userspace for one syscall. Err is nil
// on success. Values carries Command success words and memop results;
// PrevRegion and PrevUpcall carry back whatever binding or registration the
// call displaced, for the allow and subscribe classes respectively.
type Return struct {
	Err        *kerrors.Error
	Values     [2]uint32
	PrevRegion Region
	PrevUpcall Upcall
}

// failure returns a Return carrying err.
func failure(err *kerrors.Error) Return {
	return Return{Err: err}
}

// String implements fmt.Stringer.
func (r Return) String() string {
	if r.Err != nil {
		return fmt.Sprintf("failure(%v)", r.Err)
	}
	return fmt.Sprintf("success(%#x, %#x)", r.Values[0], r.Values[1])
}

// SyscallFilter is a board-supplied hook consulted before any non-Yield
// syscall is handled. Returning a non-nil error blocks the call; the error
// is returned to the process, which keeps its time-slice and decides how to
// proceed.
type SyscallFilter func(p *Process, sc Syscall) *kerrors.Error
