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

package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kestrel-os/kestrel/pkg/kerrors"
	"github.com/kestrel-os/kestrel/pkg/kernel"
	"github.com/kestrel-os/kestrel/pkg/usermem"
)

// consoleTest is a kernel with one console-backed process.
type consoleTest struct {
	k   *kernel.Kernel
	p   *kernel.Process
	out *bytes.Buffer
}

func newConsoleTest(t *testing.T, in string) *consoleTest {
	t.Helper()
	ct := &consoleTest{k: kernel.New(kernel.Options{}), out: &bytes.Buffer{}}
	var rd *strings.Reader
	if in != "" {
		rd = strings.NewReader(in)
	}
	err := ct.k.RegisterDriver(DriverNum, Spec, func(ref *kernel.DriverRef) kernel.Driver {
		if rd != nil {
			return New(ct.k, ref, ct.out, rd)
		}
		return New(ct.k, ref, ct.out, nil)
	})
	if err != nil {
		t.Fatalf("RegisterDriver failed: %v", err)
	}
	p, err := ct.k.AddProcess("app", 1, 4096)
	if err != nil {
		t.Fatalf("AddProcess failed: %v", err)
	}
	ct.p = p
	return ct
}

// stage copies data into process memory at offset off and returns its
// region.
func (ct *consoleTest) stage(t *testing.T, off usermem.Addr, data string) kernel.Region {
	t.Helper()
	buf, err := ct.p.Memory().WriteView(ct.p.Memory().Base()+off, uint32(len(data)))
	if err != nil {
		t.Fatalf("WriteView failed: %v", err)
	}
	buf.CopyFrom([]byte(data))
	return kernel.Region{Addr: ct.p.Memory().Base() + off, Len: uint32(len(data))}
}

func (ct *consoleTest) syscall(t *testing.T, sc kernel.Syscall) kernel.Return {
	t.Helper()
	return ct.k.Syscall(ct.p, sc)
}

func drain(k *kernel.Kernel) {
	for k.RunOnce() {
	}
}

func TestWrite(t *testing.T) {
	ct := newConsoleTest(t, "")
	r := ct.stage(t, 0, "hello\n")

	var done []uint32
	ct.syscall(t, kernel.SyscallAllowReadOnly{Driver: DriverNum, Slot: TxSlot, Region: r})
	ct.syscall(t, kernel.SyscallSubscribe{Driver: DriverNum, Slot: TxSlot, Upcall: kernel.Upcall{
		Fn: func(args [3]uint32, userdata uint32) { done = append(done, args[0]) },
	}})
	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdWrite, Arg2: r.Len}); ret.Err != nil {
		t.Fatalf("write command failed: %v", ret.Err)
	}
	ct.syscall(t, kernel.SyscallYield{})
	drain(ct.k)

	if got := ct.out.String(); got != "hello\n" {
		t.Errorf("expected output %q, got %q", "hello\n", got)
	}
	if len(done) != 1 || done[0] != 6 {
		t.Errorf("expected one completion of 6 bytes, got %v", done)
	}
}

func TestWriteBusy(t *testing.T) {
	ct := newConsoleTest(t, "")
	r := ct.stage(t, 0, "x")
	ct.syscall(t, kernel.SyscallAllowReadOnly{Driver: DriverNum, Slot: TxSlot, Region: r})

	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdWrite, Arg2: 1}); ret.Err != nil {
		t.Fatalf("first write failed: %v", ret.Err)
	}
	// A second write before the bottom-half runs is rejected, not queued.
	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdWrite, Arg2: 1}); ret.Err != kerrors.Busy {
		t.Errorf("expected %v, got %v", kerrors.Busy, ret.Err)
	}
	ct.syscall(t, kernel.SyscallYield{})
	drain(ct.k)
	// After completion the driver accepts a new transfer.
	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdWrite, Arg2: 1}); ret.Err != nil {
		t.Errorf("write after completion failed: %v", ret.Err)
	}
}

// TestWriteUsesCurrentBinding re-allows the transmit slot between the
// command and the transfer; the bytes that reach the stream are the new
// binding's, since the transfer reads the kernel's table at completion time.
func TestWriteUsesCurrentBinding(t *testing.T) {
	ct := newConsoleTest(t, "")
	old := ct.stage(t, 0, "old")
	fresh := ct.stage(t, 64, "new")

	ct.syscall(t, kernel.SyscallAllowReadOnly{Driver: DriverNum, Slot: TxSlot, Region: old})
	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdWrite, Arg2: 3}); ret.Err != nil {
		t.Fatalf("write command failed: %v", ret.Err)
	}
	ret := ct.syscall(t, kernel.SyscallAllowReadOnly{Driver: DriverNum, Slot: TxSlot, Region: fresh})
	if ret.Err != nil {
		t.Fatalf("re-allow failed: %v", ret.Err)
	}
	if ret.PrevRegion != old {
		t.Errorf("expected previous region %v, got %v", old, ret.PrevRegion)
	}
	ct.syscall(t, kernel.SyscallYield{})
	drain(ct.k)

	if got := ct.out.String(); got != "new" {
		t.Errorf("expected output %q, got %q", "new", got)
	}
}

// TestWriteAfterRevoke revokes the binding before the bottom-half runs; the
// transfer sees an empty buffer and completes with zero bytes.
func TestWriteAfterRevoke(t *testing.T) {
	ct := newConsoleTest(t, "")
	r := ct.stage(t, 0, "gone")

	var done []uint32
	ct.syscall(t, kernel.SyscallAllowReadOnly{Driver: DriverNum, Slot: TxSlot, Region: r})
	ct.syscall(t, kernel.SyscallSubscribe{Driver: DriverNum, Slot: TxSlot, Upcall: kernel.Upcall{
		Fn: func(args [3]uint32, userdata uint32) { done = append(done, args[0]) },
	}})
	ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdWrite, Arg2: 4})
	ct.syscall(t, kernel.SyscallAllowReadOnly{Driver: DriverNum, Slot: TxSlot, Region: kernel.Region{}})
	ct.syscall(t, kernel.SyscallYield{})
	drain(ct.k)

	if got := ct.out.String(); got != "" {
		t.Errorf("expected no output after revoke, got %q", got)
	}
	if len(done) != 1 || done[0] != 0 {
		t.Errorf("expected one zero-byte completion, got %v", done)
	}
}

func TestRead(t *testing.T) {
	ct := newConsoleTest(t, "input")
	r := ct.stage(t, 0, strings.Repeat("\x00", 8))

	var done []uint32
	ct.syscall(t, kernel.SyscallAllowReadWrite{Driver: DriverNum, Slot: RxSlot, Region: r})
	ct.syscall(t, kernel.SyscallSubscribe{Driver: DriverNum, Slot: RxUpcallSlot, Upcall: kernel.Upcall{
		Fn: func(args [3]uint32, userdata uint32) { done = append(done, args[0]) },
	}})
	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdRead, Arg2: 5}); ret.Err != nil {
		t.Fatalf("read command failed: %v", ret.Err)
	}
	ct.syscall(t, kernel.SyscallYield{})
	drain(ct.k)

	if len(done) != 1 || done[0] != 5 {
		t.Fatalf("expected one completion of 5 bytes, got %v", done)
	}
	buf, err := ct.p.Memory().ReadView(r.Addr, 5)
	if err != nil {
		t.Fatalf("ReadView failed: %v", err)
	}
	got := make([]byte, 5)
	buf.CopyTo(got)
	if string(got) != "input" {
		t.Errorf("expected buffer %q, got %q", "input", got)
	}
}

func TestReadWithoutBackingStream(t *testing.T) {
	ct := newConsoleTest(t, "")
	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdRead, Arg2: 1}); ret.Err != kerrors.NoSupport {
		t.Errorf("expected %v, got %v", kerrors.NoSupport, ret.Err)
	}
}

func TestUnknownCommand(t *testing.T) {
	ct := newConsoleTest(t, "")
	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: 99}); ret.Err != kerrors.NoSupport {
		t.Errorf("expected %v, got %v", kerrors.NoSupport, ret.Err)
	}
	if ret := ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdExists}); ret.Err != nil {
		t.Errorf("existence check failed: %v", ret.Err)
	}
}

// TestStaleTransfer restarts the process while a write is pending; nothing
// reaches the stream and nothing is delivered to the replacement.
func TestStaleTransfer(t *testing.T) {
	ct := newConsoleTest(t, "")
	r := ct.stage(t, 0, "stale")

	ct.syscall(t, kernel.SyscallAllowReadOnly{Driver: DriverNum, Slot: TxSlot, Region: r})
	ct.syscall(t, kernel.SyscallCommand{Driver: DriverNum, Command: CmdWrite, Arg2: 5})
	if _, err := ct.k.Restart(ct.p); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	drain(ct.k)

	if got := ct.out.String(); got != "" {
		t.Errorf("expected no output for a dead instance, got %q", got)
	}
}
