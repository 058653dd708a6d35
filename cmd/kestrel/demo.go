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

package main

import (
	"github.com/kestrel-os/kestrel/pkg/capsules/alarm"
	"github.com/kestrel-os/kestrel/pkg/capsules/console"
	"github.com/kestrel-os/kestrel/pkg/kernel"
	"github.com/kestrel-os/kestrel/pkg/log"
	"github.com/kestrel-os/kestrel/pkg/usermem"
)

const greeting = "hello from userspace\n"

// alarmPeriod is the demo's alarm interval in ticks.
const alarmPeriod = 25

// demoApp is the scripted userspace workload: write a greeting through the
// console, take a few alarm upcalls, then exit cleanly. It stands in for
// an application binary; its methods run only via syscalls and delivered
// upcalls, so it exercises the ABI exactly as a real process would.
type demoApp struct {
	k      *kernel.Kernel
	proc   *kernel.Process
	fired  int
	target int
}

func newDemoApp(k *kernel.Kernel, p *kernel.Process) *demoApp {
	return &demoApp{k: k, proc: p, target: 3}
}

// start performs the app's setup syscalls and yields.
func (a *demoApp) start() {
	base := a.syscall(kernel.SyscallMemop{Op: kernel.MemopMemoryStart}).Values[0]

	// Stage the greeting in the app's own memory, then lend that region to
	// the console.
	buf, err := a.proc.Memory().WriteView(usermem.Addr(base), uint32(len(greeting)))
	if err != nil {
		log.Warningf("demo %s: staging greeting: %v", a.proc.Name(), err)
		a.syscall(kernel.SyscallExit{Code: 1})
		return
	}
	buf.CopyFrom([]byte(greeting))

	a.syscall(kernel.SyscallAllowReadOnly{
		Driver: console.DriverNum,
		Slot:   console.TxSlot,
		Region: kernel.Region{Addr: usermem.Addr(base), Len: uint32(len(greeting))},
	})
	a.syscall(kernel.SyscallSubscribe{
		Driver: console.DriverNum,
		Slot:   console.TxSlot,
		Upcall: kernel.Upcall{Fn: a.onWriteDone},
	})
	a.syscall(kernel.SyscallSubscribe{
		Driver: alarm.DriverNum,
		Slot:   0,
		Upcall: kernel.Upcall{Fn: a.onAlarm},
	})

	a.syscall(kernel.SyscallCommand{
		Driver:  console.DriverNum,
		Command: console.CmdWrite,
		Arg2:    uint32(len(greeting)),
	})
	a.syscall(kernel.SyscallCommand{
		Driver:  alarm.DriverNum,
		Command: alarm.CmdSetRelative,
		Arg2:    alarmPeriod,
	})
	a.syscall(kernel.SyscallYield{})
}

func (a *demoApp) onWriteDone(args [3]uint32, userdata uint32) {
	log.Infof("demo %s: console wrote %d bytes", a.proc.Name(), args[0])
}

func (a *demoApp) onAlarm(args [3]uint32, userdata uint32) {
	a.fired++
	log.Infof("demo %s: alarm %d/%d at tick %d", a.proc.Name(), a.fired, a.target, args[0])
	if a.fired >= a.target {
		a.syscall(kernel.SyscallExit{Code: 0})
		return
	}
	a.syscall(kernel.SyscallCommand{
		Driver:  alarm.DriverNum,
		Command: alarm.CmdSetRelative,
		Arg2:    alarmPeriod,
	})
	a.syscall(kernel.SyscallYield{})
}

func (a *demoApp) syscall(sc kernel.Syscall) kernel.Return {
	ret := a.k.Syscall(a.proc, sc)
	if ret.Err != nil {
		log.Warningf("demo %s: syscall %T failed: %v", a.proc.Name(), sc, ret.Err)
	}
	return ret
}
