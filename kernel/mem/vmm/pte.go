// Package vmm implements the pager: the single page
// directory and its page tables, mapping and unmapping virtual pages to
// physical frames with access flags, and routing page-fault exceptions.
// It uses a flat two-level x86-32 PDE/PTE scheme — one page directory of
// 1024 entries, each either absent or pointing at a page table of 1024
// entries — rather than a recursively-mapped, variable-depth table, and
// keeps the hardware-privileged operations behind injectable function
// values so the pager can be driven from host tests without an MMU.
package vmm

import "kfscore/kernel/mem"

// entriesPerTable is the number of entries in a page directory or a page
// table on this target.
const entriesPerTable = 1024

// Flag is the single-byte page-entry flags vocabulary; only the three low
// bits are used.
type Flag uint8

const (
	// FlagPresent marks an entry as present.
	FlagPresent Flag = 1 << 0
	// FlagWritable marks a page as writable.
	FlagWritable Flag = 1 << 1
	// FlagUser marks a page as user-accessible.
	FlagUser Flag = 1 << 2

	flagMask = Flag(0x7)
)

// Has reports whether all bits in want are set in f.
func (f Flag) Has(want Flag) bool { return f&want == want }

// entry is a single page-directory or page-table entry: a frame/table base
// address (the high 20 bits) packed with a Flag (the low 3 bits), matching
// the x86-32 PDE/PTE layout: (phys & 0xFFFFF000) | (flags & 0xFFF).
type entry uint32

func makeEntry(base uintptr, flags Flag) entry {
	return entry(uint32(base)&^uint32(mem.PageOffsetMask) | uint32(flags&flagMask))
}

func (e entry) base() uintptr { return uintptr(e) & mem.PageMask }
func (e entry) flags() Flag { return Flag(uint32(e) & uint32(flagMask)) }
func (e entry) present() bool { return e.flags().Has(FlagPresent) }
func (e entry) raw() uint32 { return uint32(e) }
func entryFromRaw(v uint32) entry { return entry(v) }

// dirIndex returns the page-directory index for a virtual address (bits
// 31:22 on x86-32).
func dirIndex(virt uintptr) uint32 {
	return uint32(virt>>22) & (entriesPerTable - 1)
}

// tableIndex returns the page-table index for a virtual address (bits
// 21:12 on x86-32).
func tableIndex(virt uintptr) uint32 {
	return uint32(virt>>12) & (entriesPerTable - 1)
}
