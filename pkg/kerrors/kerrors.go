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

// Package kerrors contains the kernel error taxonomy exported as pointers to
// immutable Error values. This allows for fast comparison and return
// operations: two errors are the same error iff they are the same pointer,
// and returning one allocates nothing.
//
// The numeric codes are part of the syscall ABI and must not change.
package kerrors

// Code is the stable numeric representation of a kernel error, as encoded in
// syscall failure results.
type Code uint32

// Error codes. The numbering is part of the syscall ABI.
const (
	codeFail          Code = 1
	codeBusy          Code = 2
	codeAlready       Code = 3
	codeOff           Code = 4
	codeReserve       Code = 5
	codeInvalid       Code = 6
	codeOutOfBounds   Code = 7
	codeCancel        Code = 8
	codeNoMemory      Code = 9
	codeNoSupport     Code = 10
	codeNoDevice      Code = 11
	codeNoSuchProcess Code = 12

	maxCode = codeNoSuchProcess + 1
)

// Error represents a kernel error. Error values are created once, at package
// initialization, and never mutated; callers compare them by identity.
type Error struct {
	code    Code
	message string
}

// New creates a new *Error.
func New(code Code, message string) *Error {
	if code == 0 || code >= maxCode {
		panic("invalid error code")
	}
	e := &Error{code: code, message: message}
	if codeTable[code] != nil {
		panic("duplicate error code")
	}
	codeTable[code] = e
	return e
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Code returns the ABI code for this error.
func (e *Error) Code() Code { return e.code }

var codeTable [maxCode]*Error

// The canonical kernel errors. Drivers and the dispatcher return these
// directly; they are never wrapped on the syscall path so that the encoder
// can recover the ABI code by identity.
var (
	// Fail is the unspecified failure, used by drivers when no other code
	// applies.
	Fail = New(codeFail, "unspecified failure")

	// Busy indicates the underlying resource is busy; retry after the
	// completion upcall.
	Busy = New(codeBusy, "device or resource busy")

	// AlreadyEntered indicates an attempt to enter a grant that is already
	// entered higher on the call stack.
	AlreadyEntered = New(codeAlready, "grant already entered")

	// Off indicates the underlying device is powered down.
	Off = New(codeOff, "device powered down")

	// Reserve indicates the operation needs a prior reservation.
	Reserve = New(codeReserve, "reservation required")

	// Invalid indicates a malformed slot or argument.
	Invalid = New(codeInvalid, "invalid argument")

	// OutOfBounds indicates a buffer not contained in the caller's writable
	// memory, or an access past a validated buffer's declared length.
	OutOfBounds = New(codeOutOfBounds, "buffer out of bounds")

	// Cancel indicates the operation was canceled.
	Cancel = New(codeCancel, "operation canceled")

	// NoMemory indicates the grant arena, or another fixed-capacity kernel
	// resource, is exhausted.
	NoMemory = New(codeNoMemory, "out of memory")

	// NoSupport indicates the driver exists but does not recognize the
	// operation.
	NoSupport = New(codeNoSupport, "operation not supported")

	// NoDevice indicates an unknown driver number.
	NoDevice = New(codeNoDevice, "no such device")

	// NoSuchProcess indicates the target process identifier is no longer
	// live, either because the process exited or because it restarted and
	// the identifier names the old instance.
	NoSuchProcess = New(codeNoSuchProcess, "no such process")
)

// FromCode returns the Error for an ABI code, or Fail if the code is unknown.
// It is the inverse of Code for all canonical errors.
func FromCode(c Code) *Error {
	if c > 0 && c < maxCode {
		if e := codeTable[c]; e != nil {
			return e
		}
	}
	return Fail
}
