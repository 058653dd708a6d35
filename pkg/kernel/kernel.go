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

// Package kernel implements the upcall, buffer-sharing and grant mechanism
// that mediates between untrusted processes and trusted-but-unverified
// drivers.
//
// There is a single thread of control: the kernel alternates between
// servicing a syscall trapped from the running process and running deferred
// driver bottom-halves between process time-slices. Nothing in the kernel
// blocks; asynchronous completions come back through scheduled upcalls.
// Concurrency hazards are interleavings (interrupt bottom-halves, syscalls,
// process death), not parallelism, which is why grants are guarded by a
// busy flag rather than a lock.
package kernel

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/kestrel-os/kestrel/pkg/kerrors"
	"github.com/kestrel-os/kestrel/pkg/log"
	"github.com/kestrel-os/kestrel/pkg/usermem"
)

// Process memory layout. Each process slot owns a fixed window of the
// simulated SRAM.
const (
	sramBase   usermem.Addr = 0x2000_0000
	slotStride uint32       = 0x0010_0000
)

// RestartPolicy selects what happens to a process slot after the process
// dies.
type RestartPolicy int

const (
	// RestartNever leaves the slot terminated.
	RestartNever RestartPolicy = iota

	// RestartOnFailure reloads the process after a fault or a nonzero exit
	// code, with exponential backoff between attempts. A clean exit (code
	// 0) never restarts. The kernel branches only on zero-vs-nonzero; the
	// specific nonzero value is never interpreted.
	RestartOnFailure
)

// Options configures a Kernel.
type Options struct {
	// NumProcSlots is the size of the process table.
	NumProcSlots int

	// TaskQueueDepth bounds each process's pending upcall queue.
	TaskQueueDepth int

	// GrantArenaSlots caps the total number of live grant allocations
	// across all processes and drivers.
	GrantArenaSlots int

	// Restart is the process restart policy.
	Restart RestartPolicy

	// RestartInitialInterval and RestartMaxInterval bound the restart
	// backoff for RestartOnFailure.
	RestartInitialInterval time.Duration
	RestartMaxInterval     time.Duration

	// Filter, if non-nil, is consulted before any non-Yield syscall is
	// handled.
	Filter SyscallFilter
}

func (o *Options) fillDefaults() {
	if o.NumProcSlots == 0 {
		o.NumProcSlots = 4
	}
	if o.TaskQueueDepth == 0 {
		o.TaskQueueDepth = 8
	}
	if o.GrantArenaSlots == 0 {
		o.GrantArenaSlots = 16
	}
	if o.RestartInitialInterval == 0 {
		o.RestartInitialInterval = 100 * time.Millisecond
	}
	if o.RestartMaxInterval == 0 {
		o.RestartMaxInterval = 5 * time.Second
	}
}

// procSlot is one entry of the process table: the current instance plus
// what is needed to load a replacement.
type procSlot struct {
	p *Process

	name    string
	app     AppID
	memSize uint32

	// bo paces restarts of this slot. It persists across instances so a
	// crash loop backs off; it resets when a replacement is loaded
	// explicitly rather than by policy.
	bo             *backoff.ExponentialBackOff
	restartPending bool
	restartAt      time.Time
}

// Kernel is the top-level state object: the driver table, the process
// table, the grant arena and the deferred-call queue. It is passed
// explicitly to everything that needs it; there are no ambient globals, so
// a test can own a kernel in isolation.
type Kernel struct {
	opts Options

	drivers map[uint32]*driverEntry

	slots []procSlot

	// nextSerial is the source of transient identifiers. Starts at 1; a
	// zero serial never names anything.
	nextSerial uint64

	// grantCount is the number of grants created; finalized freezes it
	// (and the driver table) when the first process loads.
	grantCount int
	finalized  bool

	// arenaUsed counts live grant allocations against
	// opts.GrantArenaSlots.
	arenaUsed int

	deferred    []*DeferredCall
	deferredSet []bool

	faultLog log.Logger
}

// New creates a Kernel. Drivers, grants and deferred calls are registered
// against it next, then processes are added, which finalizes the layout.
func New(opts Options) *Kernel {
	opts.fillDefaults()
	return &Kernel{
		opts:       opts,
		drivers:    make(map[uint32]*driverEntry),
		slots:      make([]procSlot, opts.NumProcSlots),
		nextSerial: 1,
		faultLog:   log.BasicRateLimitedLogger(time.Second),
	}
}

// RegisterDriver installs a driver at num. ctor receives the driver's bound
// kernel capability and returns the Driver; this is the only way a driver
// obtains a DriverRef, so every reference in existence is tied to a
// registered driver number.
func (k *Kernel) RegisterDriver(num uint32, spec DriverSpec, ctor func(ref *DriverRef) Driver) error {
	if k.finalized {
		return fmt.Errorf("driver %#x: kernel already finalized", num)
	}
	if _, ok := k.drivers[num]; ok {
		return fmt.Errorf("driver %#x: already registered", num)
	}
	entry := &driverEntry{num: num, spec: spec}
	k.drivers[num] = entry
	entry.driver = ctor(&DriverRef{k: k, num: num})
	if entry.driver == nil {
		delete(k.drivers, num)
		return fmt.Errorf("driver %#x: constructor returned nil", num)
	}
	return nil
}

// AddProcess loads a process into a free slot. The first load finalizes the
// kernel: no more drivers, grants or deferred calls can be created.
func (k *Kernel) AddProcess(name string, app AppID, memSize uint32) (*Process, error) {
	k.finalized = true
	for i := range k.slots {
		if k.slots[i].p == nil {
			s := &k.slots[i]
			s.name = name
			s.app = app
			s.memSize = memSize
			s.bo = k.newRestartBackoff()
			k.loadSlot(i)
			return s.p, nil
		}
	}
	return nil, kerrors.NoMemory
}

func (k *Kernel) newRestartBackoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = k.opts.RestartInitialInterval
	bo.MaxInterval = k.opts.RestartMaxInterval
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// loadSlot creates a fresh instance in slot i from the slot's template.
func (k *Kernel) loadSlot(i int) {
	s := &k.slots[i]
	serial := k.nextSerial
	k.nextSerial++
	p := &Process{
		k:         k,
		index:     i,
		serial:    serial,
		app:       s.app,
		name:      s.name,
		mem:       usermem.NewImage(sramBase+usermem.Addr(uint32(i)*slotStride), s.memSize),
		state:     Unstarted,
		allowRO:   make(map[DriverSlot]Region),
		allowRW:   make(map[DriverSlot]Region),
		subs:      make(map[DriverSlot]Upcall),
		grants:    make([]any, k.grantCount),
		grantBusy: make([]bool, k.grantCount),
	}
	s.p = p
	s.restartPending = false
	log.Infof("loaded process %s (app %d) as [%s], mem %#x+%#x",
		s.name, s.app, p.Key(), uint32(p.mem.Base()), p.mem.Size())
}

// processFor resolves a transient key to a live process, or nil. This is
// the only path from a key to a Process, so every stale key fails closed
// here.
func (k *Kernel) processFor(key ProcessKey) *Process {
	if key.index < 0 || key.index >= len(k.slots) {
		return nil
	}
	p := k.slots[key.index].p
	if p == nil || p.serial != key.serial || !p.alive() {
		return nil
	}
	return p
}

// teardown invalidates everything the instance owns: queued deliveries,
// subscriptions, buffer bindings and grant memory. After this no driver
// action can reach the instance; pending schedules against its key fail
// with NoSuchProcess.
func (k *Kernel) teardown(p *Process) {
	p.tasks = nil
	clear(p.subs)
	clear(p.allowRO)
	clear(p.allowRW)
	k.releaseGrants(p)
}

// exitProcess ends the instance and applies the restart policy.
func (k *Kernel) exitProcess(p *Process, code uint32, fault bool) {
	s := &k.slots[p.index]
	if s.p != p {
		return
	}
	p.exitCode = code
	if fault {
		p.state = Faulted
		k.faultLog.Warningf("process [%s] (%s) faulted", p.Key(), p.name)
	} else {
		p.state = Terminated
		log.Infof("process [%s] (%s) exited with code %d", p.Key(), p.name, code)
	}
	k.teardown(p)

	if k.opts.Restart == RestartOnFailure && (fault || code != 0) {
		delay := s.bo.NextBackOff()
		s.restartPending = true
		s.restartAt = time.Now().Add(delay)
		log.Infof("process %s: restart in %v", p.name, delay)
	}
}

// Fault stops p as faulted, as if it had violated a hardware protection,
// and applies the restart policy.
func (k *Kernel) Fault(p *Process) {
	if p != nil && p.k == k && p.alive() {
		k.exitProcess(p, 0, true)
	}
}

// Restart immediately replaces p with a fresh instance of the same
// application and returns it. The old instance's key is dead from here on.
// The slot's restart backoff resets: an explicit restart is a deliberate
// load, not a crash-loop iteration.
func (k *Kernel) Restart(p *Process) (*Process, error) {
	if p == nil || p.k != k || k.slots[p.index].p != p {
		return nil, kerrors.NoSuchProcess
	}
	if p.alive() {
		p.state = Terminated
		k.teardown(p)
	}
	s := &k.slots[p.index]
	s.bo.Reset()
	k.loadSlot(p.index)
	return s.p, nil
}

// RunOnce performs one pass of kernel housekeeping: service pending
// deferred calls, deliver one queued upcall to each parked process, and
// load any slot whose restart delay has elapsed. It returns true if any
// work was done, so callers can idle when it goes quiet.
func (k *Kernel) RunOnce() bool {
	did := k.serviceDeferred()
	for i := range k.slots {
		if p := k.slots[i].p; p != nil && p.deliverNext() {
			did = true
		}
	}
	now := time.Now()
	for i := range k.slots {
		s := &k.slots[i]
		if s.restartPending && !now.Before(s.restartAt) {
			k.loadSlot(i)
			did = true
		}
	}
	return did
}
