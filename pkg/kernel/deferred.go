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

// DeferredCall is a driver bottom-half: work signaled from interrupt
// context and executed later on the kernel's thread of control, between
// process time-slices. Completion upcalls originate here, which is why
// upcall scheduling resolves process keys at call time rather than trusting
// anything captured when the operation started.
type DeferredCall struct {
	k       *Kernel
	index   int
	handler func()
}

// NewDeferredCall registers a bottom-half handler. Like grants, deferred
// calls are created at board initialization time.
func NewDeferredCall(k *Kernel, handler func()) *DeferredCall {
	if k.finalized {
		panic("kernel finalized; cannot register a new deferred call")
	}
	d := &DeferredCall{k: k, index: len(k.deferred), handler: handler}
	k.deferred = append(k.deferred, d)
	k.deferredSet = append(k.deferredSet, false)
	return d
}

// Poke marks the call pending. Safe to invoke multiple times before
// servicing; the handler runs once per servicing pass.
func (d *DeferredCall) Poke() {
	d.k.deferredSet[d.index] = true
}

// serviceDeferred runs all pending bottom-halves. Handlers may poke other
// deferred calls (or re-poke themselves); those run on the next pass, which
// keeps one servicing pass bounded. Returns true if any handler ran.
func (k *Kernel) serviceDeferred() bool {
	// Snapshot the pending set so pokes made by a handler, wherever they
	// land, wait for the next pass.
	pending := make([]bool, len(k.deferredSet))
	copy(pending, k.deferredSet)
	ran := false
	for i, set := range pending {
		if set {
			k.deferredSet[i] = false
			ran = true
			k.deferred[i].handler()
		}
	}
	return ran
}
