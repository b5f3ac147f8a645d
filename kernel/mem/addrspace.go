package mem

import "unsafe"

// AddressSpace translates between the addresses a component reports to its
// callers (physical frame bases, or virtual addresses inside a mapped
// range) and the host pointer actually used to read or write that memory.
//
// On real hardware the two coincide: once the pager has installed a
// mapping and interrupts/paging are live, a virtual address can be cast
// straight to unsafe.Pointer and dereferenced. A host-side `go test` run
// has no MMU and no access to physical address 0, so every component that
// dereferences memory goes through this one small indirection instead:
// production code builds an AddressSpace with base == hostBase (delta
// zero), while tests build one over a host-allocated slice — a real
// `make([]byte, ...)` buffer — standing in for the managed region.
type AddressSpace struct {
	base uintptr
	hostBase uintptr
}

// NewAddressSpace returns an AddressSpace that reports addresses starting
// at base, backed by host memory starting at hostBase. Passing the same
// value for both yields an identity translation, appropriate once this
// code is actually running as the kernel.
func NewAddressSpace(base, hostBase uintptr) AddressSpace {
	return AddressSpace{base: base, hostBase: hostBase}
}

// NewIdentityAddressSpace returns an AddressSpace whose reported and host
// addresses are the same — the production configuration.
func NewIdentityAddressSpace(base uintptr) AddressSpace {
	return NewAddressSpace(base, base)
}

// Base returns the first address this address space reports.
func (a AddressSpace) Base() uintptr { return a.base }

// Host translates a reported address into the host pointer backing it.
func (a AddressSpace) Host(reported uintptr) unsafe.Pointer {
	return unsafe.Pointer(a.hostBase + (reported - a.base))
}

// Reported translates a host pointer back into the address this address
// space reports for it. It is the inverse of Host.
func (a AddressSpace) Reported(host unsafe.Pointer) uintptr {
	return a.base + (uintptr(host) - a.hostBase)
}
