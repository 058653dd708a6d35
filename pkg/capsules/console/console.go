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

// Package console provides a byte-stream console driver.
//
// A process lends its transmit buffer read-only at allow-ro slot 0 and its
// receive buffer read-write at allow-rw slot 0, subscribes completion
// upcalls at slots 0 (write done) and 1 (read done), and issues write/read
// commands. Transfers complete in the deferred bottom-half: the capsule
// holds only the process key across the pending window and re-derives the
// buffer view from the kernel-held binding when the transfer actually
// happens.
package console

import (
	"io"

	"github.com/kestrel-os/kestrel/pkg/kerrors"
	"github.com/kestrel-os/kestrel/pkg/kernel"
	"github.com/kestrel-os/kestrel/pkg/usermem"
)

// DriverNum is the console driver number.
const DriverNum uint32 = 0x1

// Spec declares the driver's slots.
var Spec = kernel.DriverSpec{UpcallCount: 2, ReadOnlyCount: 1, ReadWriteCount: 1}

// Allow and subscribe slots.
const (
	// TxSlot is the allow-ro slot for the transmit buffer and the
	// subscribe slot for write completion.
	TxSlot = 0

	// RxSlot is the allow-rw slot for the receive buffer; read completion
	// is subscribe slot 1.
	RxSlot       = 0
	RxUpcallSlot = 1
)

// Commands.
const (
	CmdExists = 0
	CmdWrite  = 1 // arg2 = byte count
	CmdRead   = 2 // arg2 = byte count
)

// state is the per-process grant state: at most one outstanding transfer
// per direction.
type state struct {
	txPending bool
	txLen     uint32

	rxPending bool
	rxLen     uint32
}

// Console is the capsule. The backing stream is board-supplied.
type Console struct {
	ref   *kernel.DriverRef
	grant *kernel.Grant[state]
	dc    *kernel.DeferredCall

	out io.Writer
	in  io.Reader

	// pending is the set of keys with an outstanding transfer, serviced by
	// the bottom-half in arrival order.
	pending []kernel.ProcessKey
}

// New creates the capsule around the board's console stream. Must run at
// board initialization, before processes load.
func New(k *kernel.Kernel, ref *kernel.DriverRef, out io.Writer, in io.Reader) *Console {
	c := &Console{ref: ref, out: out, in: in}
	c.grant = kernel.NewGrant[state](k, nil)
	c.dc = kernel.NewDeferredCall(k, c.service)
	return c
}

// Command implements kernel.Driver. Write and read never block: they record
// the request, poke the bottom-half and return; the byte count comes back
// in the completion upcall.
func (c *Console) Command(key kernel.ProcessKey, cmd uint32, arg2, arg3 uint32) kernel.CommandResult {
	switch cmd {
	case CmdExists:
		return kernel.CommandSuccess()
	case CmdWrite:
		return c.start(key, arg2, func(st *state) *kerrors.Error {
			if st.txPending {
				return kerrors.Busy
			}
			st.txPending = true
			st.txLen = arg2
			return nil
		})
	case CmdRead:
		if c.in == nil {
			return kernel.CommandFailure(kerrors.NoSupport)
		}
		return c.start(key, arg2, func(st *state) *kerrors.Error {
			if st.rxPending {
				return kerrors.Busy
			}
			st.rxPending = true
			st.rxLen = arg2
			return nil
		})
	default:
		return kernel.CommandFailure(kerrors.NoSupport)
	}
}

func (c *Console) start(key kernel.ProcessKey, n uint32, arm func(*state) *kerrors.Error) kernel.CommandResult {
	var armErr *kerrors.Error
	if err := c.grant.Enter(key, func(st *state) error {
		armErr = arm(st)
		return nil
	}); err != nil {
		if e, ok := err.(*kerrors.Error); ok {
			return kernel.CommandFailure(e)
		}
		return kernel.CommandFailure(kerrors.Fail)
	}
	if armErr != nil {
		return kernel.CommandFailure(armErr)
	}
	c.notePending(key)
	c.dc.Poke()
	return kernel.CommandSuccess()
}

func (c *Console) notePending(key kernel.ProcessKey) {
	for _, k := range c.pending {
		if k == key {
			return
		}
	}
	c.pending = append(c.pending, key)
}

// service is the bottom-half: complete outstanding transfers and fire
// completion upcalls. A key that no longer resolves is dropped; the
// process it named is gone and so is its transfer.
func (c *Console) service() {
	keys := c.pending
	c.pending = nil
	for _, key := range keys {
		var doTx, doRx bool
		var txLen, rxLen uint32
		err := c.grant.Enter(key, func(st *state) error {
			doTx, txLen = st.txPending, st.txLen
			doRx, rxLen = st.rxPending, st.rxLen
			st.txPending = false
			st.rxPending = false
			return nil
		})
		if err != nil {
			continue
		}
		if doTx {
			c.completeWrite(key, txLen)
		}
		if doRx {
			c.completeRead(key, rxLen)
		}
	}
}

// completeWrite copies out of the transmit buffer as currently allowed. If
// the process re-allowed the slot since the command, the transfer uses the
// new binding: the kernel's table, not anything captured at command time,
// is the source of truth.
func (c *Console) completeWrite(key kernel.ProcessKey, n uint32) {
	var written uint32
	err := c.ref.ReadOnly(key, TxSlot, func(buf usermem.Readable) error {
		if l := uint32(buf.Len()); n > l {
			n = l
		}
		tmp := make([]byte, n)
		if _, err := buf.ReadAt(tmp, 0); err != nil {
			return err
		}
		m, err := c.out.Write(tmp)
		written = uint32(m)
		return err
	})
	if err != nil {
		return
	}
	_ = c.ref.Schedule(key, TxSlot, [3]uint32{written, 0, 0})
}

// completeRead fills the receive buffer as currently allowed.
func (c *Console) completeRead(key kernel.ProcessKey, n uint32) {
	var read uint32
	err := c.ref.ReadWrite(key, RxSlot, func(buf usermem.Writable) error {
		if l := uint32(buf.Len()); n > l {
			n = l
		}
		tmp := make([]byte, n)
		m, err := c.in.Read(tmp)
		if m > 0 {
			if _, werr := buf.WriteAt(tmp[:m], 0); werr != nil {
				return werr
			}
			read = uint32(m)
		}
		if err == io.EOF {
			return nil
		}
		return err
	})
	if err != nil {
		return
	}
	_ = c.ref.Schedule(key, RxUpcallSlot, [3]uint32{read, 0, 0})
}
