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
	"testing"
)

const testDriverNum uint32 = 5

var testDriverSpec = DriverSpec{UpcallCount: 2, ReadOnlyCount: 2, ReadWriteCount: 2}

// testDriver records the last command and defers to onCommand if set.
type testDriver struct {
	ref *DriverRef

	lastCmd  uint32
	lastArgs [2]uint32
	calls    int

	onCommand func(key ProcessKey, cmd, arg2, arg3 uint32) CommandResult
}

func (d *testDriver) Command(key ProcessKey, cmd, arg2, arg3 uint32) CommandResult {
	d.calls++
	d.lastCmd = cmd
	d.lastArgs = [2]uint32{arg2, arg3}
	if d.onCommand != nil {
		return d.onCommand(key, cmd, arg2, arg3)
	}
	return CommandSuccess()
}

// newTestKernel builds a kernel with one registered test driver.
func newTestKernel(t *testing.T, opts Options) (*Kernel, *testDriver) {
	t.Helper()
	k := New(opts)
	d := &testDriver{}
	if err := k.RegisterDriver(testDriverNum, testDriverSpec, func(ref *DriverRef) Driver {
		d.ref = ref
		return d
	}); err != nil {
		t.Fatalf("RegisterDriver failed: %v", err)
	}
	return k, d
}

// addProcess loads a 4 KiB process.
func addProcess(t *testing.T, k *Kernel, name string) *Process {
	t.Helper()
	p, err := k.AddProcess(name, 1, 4096)
	if err != nil {
		t.Fatalf("AddProcess(%q) failed: %v", name, err)
	}
	return p
}

// drain runs the kernel until it goes quiet.
func drain(k *Kernel) {
	for k.RunOnce() {
	}
}

func TestRegisterDriverDuplicate(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	err := k.RegisterDriver(testDriverNum, testDriverSpec, func(ref *DriverRef) Driver {
		return &testDriver{ref: ref}
	})
	if err == nil {
		t.Errorf("expected duplicate registration to fail")
	}
}

func TestRegisterDriverAfterFinalize(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	addProcess(t, k, "app")
	err := k.RegisterDriver(testDriverNum+1, testDriverSpec, func(ref *DriverRef) Driver {
		return &testDriver{ref: ref}
	})
	if err == nil {
		t.Errorf("expected registration after finalize to fail")
	}
}

func TestProcessKeyResolution(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	p := addProcess(t, k, "app")
	key := p.Key()
	if got := k.processFor(key); got != p {
		t.Errorf("processFor(%v): expected %v, got %v", key, p, got)
	}

	np, err := k.Restart(p)
	if err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if got := k.processFor(key); got != nil {
		t.Errorf("stale key %v resolved to %v, expected nil", key, got)
	}
	if got := k.processFor(np.Key()); got != np {
		t.Errorf("new key %v: expected %v, got %v", np.Key(), np, got)
	}
	if np.Key() == key {
		t.Errorf("restart reused transient key %v", key)
	}
	if np.AppID() != p.AppID() {
		t.Errorf("restart changed persistent id: expected %v, got %v", p.AppID(), np.AppID())
	}
}

func TestProcessTableFull(t *testing.T) {
	k, _ := newTestKernel(t, Options{NumProcSlots: 1})
	addProcess(t, k, "a")
	if _, err := k.AddProcess("b", 2, 4096); err == nil {
		t.Errorf("expected AddProcess to fail with a full table")
	}
}

func TestFaultTerminatesProcess(t *testing.T) {
	k, _ := newTestKernel(t, Options{})
	p := addProcess(t, k, "app")
	key := p.Key()
	k.Fault(p)
	if p.State() != Faulted {
		t.Errorf("expected state %v, got %v", Faulted, p.State())
	}
	if got := k.processFor(key); got != nil {
		t.Errorf("faulted key resolved to %v, expected nil", got)
	}
}
