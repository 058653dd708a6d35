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

import "fmt"

// AppID is the persistent identifier of an application: it is stable across
// restarts of the same binary and is the identity used for storage ACLs.
// AppIDs may repeat across restarts; they say nothing about whether any
// instance is currently running.
type AppID uint32

// ProcessKey identifies one running instance of a process. It is the only
// form of process reference handed to drivers.
//
// Holding a ProcessKey does not keep the process alive. The key pairs the
// process table index with the instance serial; every use re-resolves the
// key against the process table, and a key whose serial no longer matches
// (the process exited or restarted) resolves to nothing. Serials are drawn
// from a monotonic counter and never reused while any process is loaded, so
// a stale key can never name a newer instance by accident.
type ProcessKey struct {
	index  int
	serial uint64
}

// Serial returns the instance serial, usable where a plain number is needed
// (trace output, IPC). A valid-looking serial is not evidence the instance
// is still live.
func (k ProcessKey) Serial() uint64 {
	return k.serial
}

// String implements fmt.Stringer.
func (k ProcessKey) String() string {
	return fmt.Sprintf("%d.%d", k.index, k.serial)
}

// DriverSlot names a subscription or allow slot within one driver: the
// (driver number, slot number) half of the (process, driver, slot) triple
// the kernel's tables are keyed by.
type DriverSlot struct {
	Driver uint32
	Slot   uint32
}

// String implements fmt.Stringer.
func (d DriverSlot) String() string {
	return fmt.Sprintf("%#x:%d", d.Driver, d.Slot)
}
