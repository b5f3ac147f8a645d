// Package allocator implements the frame allocator: a dense
// bitmap over the physical frames available on this deployment, one bit
// per frame, with a branch-free first-fit scan accelerated by
// math/bits.TrailingZeros32.
package allocator

import (
	"math/bits"

	"kfscore/kernel"
	"kfscore/kernel/mem"
	"kfscore/kernel/mem/pmm"
)

const wordBits = 32

// Bitmap is a first-fit physical frame allocator backed by a dense bitmap,
// one bit per frame. It implements pmm.Source.
type Bitmap struct {
	addrSpace mem.AddressSpace
	totalPages uint32
	freePages uint32
	words []uint32
}

// Init prepares the bitmap allocator to manage the frames described by
// memBytes, following exactly:
// 1. clamp memBytes to the compile-time cap (mem.FrameCapBytes)
// 2. compute total_pages = floor(memBytes / PageSize)
// 3. mark every frame used
// 4. free the frames from base up to the end of the managed range,
// [base, total_pages*PageSize), so memBytes counts the low BIOS region too
// 5. reserve a prefix of at least mem.KernelImageReserve for the kernel
// image, starting right after the BIOS region
//
// addrSpace.Base() is the physical address corresponding to bit 0 — on real
// hardware this is 0; tests back it with a host buffer so that bit 0
// corresponds to a real, dereferenceable address (no component built on top
// of the allocator dereferences frame addresses through anything but an
// AddressSpace, so this substitution is invisible to them).
func (b *Bitmap) Init(memBytes mem.Size, addrSpace mem.AddressSpace) {
	if memBytes > mem.FrameCapBytes {
		memBytes = mem.FrameCapBytes
	}

	b.addrSpace = addrSpace
	b.totalPages = uint32(memBytes / mem.PageSize)
	b.words = make([]uint32, (b.totalPages+wordBits-1)/wordBits)

	// Mark every frame used first, not just the eventually-reserved
	// prefix, so free+used == total_pages holds at every point during
	// Init, not just after it returns.
	for i := range b.words {
		b.words[i] = ^uint32(0)
	}
	b.freePages = 0

	base := mem.BIOSEnd
	baseNumber := uint32(base >> mem.PageShift)
	if baseNumber >= b.totalPages {
		return
	}
	for n := baseNumber; n < b.totalPages; n++ {
		b.clearBit(n)
		b.freePages++
	}

	b.reservePrefix(base, mem.KernelImageReserve)
}

// reservePrefix marks the frames in [from, from+size) as used again,
// without affecting the rest of the bitmap.
func (b *Bitmap) reservePrefix(from uintptr, size mem.Size) {
	startNumber := uint32(from >> mem.PageShift)
	pages := uint32((size + mem.PageSize - 1) / mem.PageSize)
	for n := startNumber; n < startNumber+pages && n < b.totalPages; n++ {
		if b.testBit(n) {
			continue
		}
		b.setBit(n)
		b.freePages--
	}
}

// AllocFrame implements pmm.Source. It performs a branch-free, word-at-a-time
// first-fit scan that always restarts from index 0 — there is no hinting
// of where to resume after the previous allocation.
func (b *Bitmap) AllocFrame() pmm.Frame {
	for wordIdx, word := range b.words {
		if word == ^uint32(0) {
			continue
		}
		bit := bits.TrailingZeros32(^word)
		number := uint32(wordIdx)*wordBits + uint32(bit)
		if number >= b.totalPages {
			break
		}
		b.setBit(number)
		b.freePages--
		return pmm.FrameFromNumber(b.addrSpace.Base(), number)
	}

	kernel.Panic(kernel.ErrOutOfMemory, "frame allocator exhausted (%d/%d pages used)", b.totalPages-b.freePages, b.totalPages)
	return pmm.InvalidFrame
}

// FreeFrame implements pmm.Source. Addresses outside the managed range are
// silently ignored — the allocator never owned them.
func (b *Bitmap) FreeFrame(f pmm.Frame) {
	addr := f.Address()
	if addr < b.addrSpace.Base() {
		return
	}
	number := uint32((addr - b.addrSpace.Base()) >> mem.PageShift)
	if number >= b.totalPages {
		return
	}
	if !b.testBit(number) {
		kernel.Panic(kernel.ErrDoubleFree, "frame %#x already free", addr)
		return
	}
	b.clearBit(number)
	b.freePages++
}

// FreePages returns the number of currently free frames.
func (b *Bitmap) FreePages() uint32 { return b.freePages }

// TotalPages returns the total number of frames this allocator manages.
func (b *Bitmap) TotalPages() uint32 { return b.totalPages }

func (b *Bitmap) testBit(n uint32) bool {
	return b.words[n/wordBits]&(1<<(n%wordBits)) != 0
}

func (b *Bitmap) setBit(n uint32) {
	b.words[n/wordBits] |= 1 << (n % wordBits)
}

func (b *Bitmap) clearBit(n uint32) {
	b.words[n/wordBits] &^= 1 << (n % wordBits)
}
