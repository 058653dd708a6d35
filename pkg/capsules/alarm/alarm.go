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

// Package alarm provides a virtualized tick alarm over a single counter.
// Each process arms its own alarm through its grant; expirations are
// detected in the deferred bottom-half and delivered through the slot 0
// upcall.
package alarm

import (
	"github.com/kestrel-os/kestrel/pkg/kerrors"
	"github.com/kestrel-os/kestrel/pkg/kernel"
)

// DriverNum is the alarm driver number.
const DriverNum uint32 = 0x0

// Spec declares the driver's slots: one upcall, no buffers.
var Spec = kernel.DriverSpec{UpcallCount: 1}

// Commands.
const (
	CmdExists      = 0
	CmdTime        = 1 // current tick count
	CmdSetRelative = 2 // arm, arg2 ticks from now
	CmdStop        = 3
)

// state is the per-process grant state.
type state struct {
	armed    bool
	deadline uint32
}

// Alarm is the capsule. Tick is called from interrupt context; everything
// else runs on the kernel's thread of control.
type Alarm struct {
	ref   *kernel.DriverRef
	grant *kernel.Grant[state]
	dc    *kernel.DeferredCall

	// now is the tick counter. It wraps; deadline comparison is done in
	// wrapping arithmetic, so relative alarms up to 2^31 ticks work across
	// the wrap.
	now uint32

	// armedKeys are processes with a possibly armed alarm. Keys resolve
	// lazily: a dead key is dropped the first time the bottom-half fails
	// to enter its grant.
	armedKeys []kernel.ProcessKey
}

// New creates the capsule. Must run at board initialization, before
// processes load.
func New(k *kernel.Kernel, ref *kernel.DriverRef) *Alarm {
	a := &Alarm{ref: ref}
	a.grant = kernel.NewGrant[state](k, nil)
	a.dc = kernel.NewDeferredCall(k, a.serviceExpired)
	return a
}

// Tick advances the counter by n ticks and pokes the bottom-half. This is
// the interrupt top-half: it does nothing but bookkeeping.
func (a *Alarm) Tick(n uint32) {
	a.now += n
	a.dc.Poke()
}

// Now returns the current tick count.
func (a *Alarm) Now() uint32 {
	return a.now
}

// Command implements kernel.Driver.
func (a *Alarm) Command(key kernel.ProcessKey, cmd uint32, arg2, arg3 uint32) kernel.CommandResult {
	switch cmd {
	case CmdExists:
		return kernel.CommandSuccess()
	case CmdTime:
		return kernel.CommandSuccessU32(a.now)
	case CmdSetRelative:
		deadline := a.now + arg2
		if err := a.grant.Enter(key, func(st *state) error {
			st.armed = true
			st.deadline = deadline
			return nil
		}); err != nil {
			return kernel.CommandFailure(asKernelError(err))
		}
		a.noteArmed(key)
		return kernel.CommandSuccessU32(deadline)
	case CmdStop:
		if err := a.grant.Enter(key, func(st *state) error {
			st.armed = false
			return nil
		}); err != nil {
			return kernel.CommandFailure(asKernelError(err))
		}
		return kernel.CommandSuccess()
	default:
		return kernel.CommandFailure(kerrors.NoSupport)
	}
}

func (a *Alarm) noteArmed(key kernel.ProcessKey) {
	for _, k := range a.armedKeys {
		if k == key {
			return
		}
	}
	a.armedKeys = append(a.armedKeys, key)
}

// serviceExpired is the bottom-half: fire the upcall for every armed alarm
// whose deadline has passed. Keys that no longer resolve are dropped; their
// processes are gone and a stale completion must reach nobody.
func (a *Alarm) serviceExpired() {
	kept := a.armedKeys[:0]
	for _, key := range a.armedKeys {
		var keep, fire bool
		var deadline uint32
		err := a.grant.Enter(key, func(st *state) error {
			if st.armed && int32(a.now-st.deadline) >= 0 {
				st.armed = false
				fire = true
				deadline = st.deadline
			}
			keep = st.armed
			return nil
		})
		if err != nil {
			continue
		}
		if fire {
			// A NoSuchProcess here means the process died between the
			// grant check and now; there is nothing to deliver to.
			_ = a.ref.Schedule(key, 0, [3]uint32{a.now, deadline, 0})
		}
		if keep {
			kept = append(kept, key)
		}
	}
	a.armedKeys = kept
}

func asKernelError(err error) *kerrors.Error {
	if e, ok := err.(*kerrors.Error); ok {
		return e
	}
	return kerrors.Fail
}
