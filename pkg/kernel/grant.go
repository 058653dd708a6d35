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
)

// Grant gives one driver a piece of typed private state per process,
// allocated lazily from a fixed-capacity arena and reachable only through
// Enter.
//
// Grants must be created during board initialization, before the first
// process is added: processes size their grant tables from the number of
// grants that exist when they load, so NewGrant panics once the kernel is
// finalized.
type Grant[T any] struct {
	k     *Kernel
	index int
	init  func(*T)
}

// NewGrant creates a grant. init, if non-nil, runs on each per-process
// allocation after zero-initialization.
func NewGrant[T any](k *Kernel, init func(*T)) *Grant[T] {
	if k.finalized {
		panic("grants finalized; cannot create a new grant after processes are loaded")
	}
	g := &Grant[T]{k: k, index: k.grantCount, init: init}
	k.grantCount++
	return g
}

// Enter resolves key and invokes body with exclusive access to the
// process's instance of this grant's state, allocating and initializing it
// first if this is the process's first entry.
//
// Errors:
//   - NoSuchProcess if key no longer names a live process.
//   - NoMemory if a first entry finds the grant arena exhausted.
//   - AlreadyEntered if this (process, grant) pair is already entered
//     higher on the call stack. Reentry is detected with a busy flag, not a
//     lock: there is only one thread of control, so blocking could only
//     deadlock, while failing fast keeps a reentrant driver observable.
//
// The flag is cleared on every exit path, including a body error. Any error
// from body is returned as-is.
func (g *Grant[T]) Enter(key ProcessKey, body func(state *T) error) error {
	p := g.k.processFor(key)
	if p == nil {
		return kerrors.NoSuchProcess
	}
	if p.grantBusy[g.index] {
		return kerrors.AlreadyEntered
	}
	if p.grants[g.index] == nil {
		if g.k.arenaUsed >= g.k.opts.GrantArenaSlots {
			return kerrors.NoMemory
		}
		state := new(T)
		if g.init != nil {
			g.init(state)
		}
		p.grants[g.index] = state
		g.k.arenaUsed++
	}
	p.grantBusy[g.index] = true
	defer func() {
		p.grantBusy[g.index] = false
	}()
	return body(p.grants[g.index].(*T))
}

// releaseGrants reclaims all of p's grant allocations. Called on exit and
// restart; a replacement process always starts from a fresh allocation, so
// drivers can never observe state left by a previous instance.
func (k *Kernel) releaseGrants(p *Process) {
	for i, g := range p.grants {
		if g != nil {
			p.grants[i] = nil
			k.arenaUsed--
		}
		p.grantBusy[i] = false
	}
}
