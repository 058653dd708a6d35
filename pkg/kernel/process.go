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
	"github.com/kestrel-os/kestrel/pkg/usermem"
)

// State is the scheduling state of a process.
type State int

// The process states.
const (
	// Unstarted means the process is loaded but has not yet run.
	Unstarted State = iota

	// Running means the process is the active execution context.
	Running

	// Yielded means the process is parked waiting for upcall deliveries.
	Yielded

	// Faulted means the kernel stopped the process after a fault; it will
	// not run again unless restarted.
	Faulted

	// Terminated means the process exited. Its transient identifier is
	// dead.
	Terminated
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	case Yielded:
		return "yielded"
	case Faulted:
		return "faulted"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// task is one pending upcall delivery. The registration is captured at
// schedule time; re-subscribing the slot removes any tasks captured from the
// displaced registration before they deliver.
type task struct {
	id     DriverSlot
	upcall Upcall
	args   [3]uint32
}

// Process is one running instance of an application.
//
// All mutation happens on the kernel's single thread of control: from a
// syscall made by the process, from a deferred call serviced by the kernel
// loop, or from process teardown. Drivers never touch a Process directly;
// they hold ProcessKeys and go through the kernel.
type Process struct {
	k *Kernel

	// index and serial form the process's ProcessKey. index is the
	// process-table slot; serial is the instance epoch, bumped on restart.
	// Both are immutable for the life of this instance.
	index  int
	serial uint64

	// app is the persistent identifier, stable across restarts.
	app AppID

	name string

	mem *usermem.Image

	state State

	// tasks is the FIFO of pending upcall deliveries, bounded by the
	// kernel's configured queue depth.
	tasks []task

	// Outstanding shared-buffer bindings, keyed by (driver, slot). These
	// are the per-process region table (see allow.go).
	allowRO map[DriverSlot]Region
	allowRW map[DriverSlot]Region

	// subs is the upcall registration table. Only the kernel writes it.
	subs map[DriverSlot]Upcall

	// grants holds this process's per-driver grant state, indexed by grant
	// number; nil entries are unallocated. grantBusy is the per-grant
	// reentrancy flag.
	grants    []any
	grantBusy []bool

	// exitCode is valid once state is Terminated.
	exitCode uint32
}

// Key returns the transient identifier for this instance.
func (p *Process) Key() ProcessKey {
	return ProcessKey{index: p.index, serial: p.serial}
}

// AppID returns the persistent application identifier.
func (p *Process) AppID() AppID {
	return p.app
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.name
}

// State returns the current scheduling state.
func (p *Process) State() State {
	return p.state
}

// Memory returns the process's memory image. It belongs to userspace; the
// kernel only reads or writes it through validated views.
func (p *Process) Memory() *usermem.Image {
	return p.mem
}

// ExitCode returns the code the process reported on exit. Zero is the
// reserved clean-success convention; the kernel never interprets nonzero
// values beyond the restart-policy zero-vs-nonzero branch.
func (p *Process) ExitCode() uint32 {
	return p.exitCode
}

// alive reports whether this instance can still be named by its key.
func (p *Process) alive() bool {
	return p.state != Terminated && p.state != Faulted
}

func (p *Process) enqueueTask(t task) error {
	if len(p.tasks) >= p.k.opts.TaskQueueDepth {
		return kerrors.NoMemory
	}
	p.tasks = append(p.tasks, t)
	return nil
}

// removePendingTasks drops queued deliveries for (driver, slot). Called when
// the slot's registration is replaced.
func (p *Process) removePendingTasks(id DriverSlot) {
	kept := p.tasks[:0]
	for _, t := range p.tasks {
		if t.id != id {
			kept = append(kept, t)
		}
	}
	p.tasks = kept
}

// deliverNext pops and invokes the oldest pending upcall. It returns false
// if the process is not yielded or has nothing queued.
//
// The upcall function runs as userspace: it may issue further syscalls
// against this process, and the state moves through Running for the
// duration. Deliveries for a given slot happen in schedule order.
func (p *Process) deliverNext() bool {
	if p.state != Yielded && p.state != Unstarted {
		return false
	}
	if len(p.tasks) == 0 {
		return false
	}
	t := p.tasks[0]
	p.tasks = p.tasks[1:]
	p.state = Running
	if log.IsLogging(log.Debug) {
		log.Debugf("[%s] deliver[%s](%#x, %#x, %#x, %#x)",
			p.Key(), t.id, t.args[0], t.args[1], t.args[2], t.upcall.Userdata)
	}
	t.upcall.Fn(t.args, t.upcall.Userdata)
	// The upcall may have exited or restarted the process; only a process
	// still running returns to the parked state.
	if p.state == Running {
		p.state = Yielded
	}
	return true
}
