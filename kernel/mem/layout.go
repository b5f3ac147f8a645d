package mem

// Layout constants for the flat, single-address-space virtual memory map.
// These are deployment parameters, not invariants: the only thing that
// must hold is the kernel/user split point and its one-way permission
// asymmetry (a page marked user-accessible always lies in the user zone;
// the converse need not hold). The values below are one valid choice of
// numbers satisfying that asymmetry.
const (
	// BIOSEnd marks the end of the BIOS/low-memory region. No code, in
	// any privilege level, may access an address below this one; doing so
	// is always fatal.
	BIOSEnd = uintptr(0x00100000)

	// KernelZoneEnd is the exclusive end of the kernel zone. Everything
	// in [BIOSEnd, KernelZoneEnd) is supervisor-only.
	KernelZoneEnd = uintptr(0x40000000)

	// KHeapStart/KHeapEnd bound the kernel heap's pre-mapped virtual
	// range. The range is half-open: KHeapEnd itself is not part of it.
	KHeapStart = uintptr(0x10000000)
	KHeapEnd = uintptr(0x10400000)

	// KVMemStart/KVMemEnd bound the kernel-zone counterpart of the
	// virtual-range allocator. The facade only wires up the user-zone
	// instance (see memsys.Init); nothing currently calls for a second,
	// kernel-private vmalloc/vfree/vsize/vbrk family, but the range is
	// reserved for one.
	KVMemStart = uintptr(0x10400000)
	KVMemEnd = uintptr(0x20000000)

	// UserZoneStart/UserZoneEnd bound the user zone. Pages mapped here
	// carry the user-accessible flag.
	UserZoneStart = uintptr(0x40000000)
	UserZoneEnd = uintptr(0xF0000000)

	// VMemStart/VMemEnd bound the user-zone virtual-range allocator's
	// region.
	VMemStart = uintptr(0x40000000)
	VMemEnd = uintptr(0xE0000000)

	// FrameCapBytes is the compile-time upper bound on the memory size
	// hint supplied at boot.
	FrameCapBytes = Size(10 * uint64(Mb))

	// MinMemBytes/MaxMemBytes bound the clamp applied to the bootloader's
	// memory-size hint.
	MinMemBytes = Size(1 * uint64(Mb))
	MaxMemBytes = Size(1 * uint64(Gb))

	// DefaultMemBytes is used when the bootloader does not provide a
	// memory-size hint at all.
	DefaultMemBytes = Size(10 * uint64(Mb))

	// KernelImageReserve is the minimum additional prefix, beyond the
	// BIOS region, reserved for the kernel image, its page tables, and
	// other boot-time structures.
	KernelImageReserve = Size(1 * uint64(Mb))
)

// ClampMemBytes clamps a bootloader-supplied memory size hint into
// [MinMemBytes, MaxMemBytes]. A hint of zero is treated as
// "not supplied" and replaced with DefaultMemBytes before clamping.
func ClampMemBytes(hint Size) Size {
	if hint == 0 {
		hint = DefaultMemBytes
	}
	if hint < MinMemBytes {
		return MinMemBytes
	}
	if hint > MaxMemBytes {
		return MaxMemBytes
	}
	return hint
}
