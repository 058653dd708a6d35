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

// UpcallFn is the userspace entry point invoked when a scheduled upcall is
// delivered. args are driver-defined; userdata is the context word the
// process passed to Subscribe.
type UpcallFn func(args [3]uint32, userdata uint32)

// Upcall is a (function, context) registration. The zero value is the inert
// null registration: scheduling it succeeds and delivers nothing, so it can
// never be mistaken for a live callback.
type Upcall struct {
	Fn       UpcallFn
	Userdata uint32
}

// IsNull returns true for the inert registration.
func (u Upcall) IsNull() bool {
	return u.Fn == nil
}

// subscribe installs a registration at (driver, slot) for p and returns the
// displaced one. The kernel is the sole writer of the subscription table;
// drivers never see an Upcall value, only the (process, driver, slot) key.
//
// Deliveries still queued for the displaced registration are dropped, so a
// process that re-subscribes with a new context word can never receive the
// new function with arguments meant for the old one.
func (p *Process) subscribe(id DriverSlot, u Upcall) Upcall {
	p.removePendingTasks(id)
	prev, ok := p.subs[id]
	if u.IsNull() {
		delete(p.subs, id)
	} else {
		p.subs[id] = u
	}
	if !ok {
		return Upcall{}
	}
	return prev
}

// scheduleUpcall enqueues the current registration at (driver, slot) of the
// process named by key for delivery on that process's next resumption.
//
// The key is re-resolved here, at schedule time. An interrupt bottom-half
// may run long after the requesting process exited or restarted; in that
// case the delivery is dropped and NoSuchProcess returned. A null or absent
// registration behaves as if the upcall had been scheduled. A full task
// queue fails with NoMemory.
func (k *Kernel) scheduleUpcall(key ProcessKey, id DriverSlot, args [3]uint32) error {
	p := k.processFor(key)
	if p == nil {
		return kerrors.NoSuchProcess
	}
	u, ok := p.subs[id]
	if !ok || u.IsNull() {
		if log.IsLogging(log.Debug) {
			log.Debugf("[%s] schedule[%s] @null(%#x, %#x, %#x) (null upcall not scheduled)",
				key, id, args[0], args[1], args[2])
		}
		return nil
	}
	if err := p.enqueueTask(task{id: id, upcall: u, args: args}); err != nil {
		return err
	}
	if log.IsLogging(log.Debug) {
		log.Debugf("[%s] schedule[%s](%#x, %#x, %#x, %#x)",
			key, id, args[0], args[1], args[2], u.Userdata)
	}
	return nil
}
