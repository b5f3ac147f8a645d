package vheap

import (
	"kfscore/kernel"
	"kfscore/kernel/mem"
	"kfscore/kernel/mem/pmm"
	"kfscore/kernel/mem/vmm"
)

// Allocator is the virtual-range allocator. It carves
// blocks out of a free list the same way kheap does, but the backing
// region is grown lazily: when no free block fits, the watermark advances
// by whole pages, each newly touched page is mapped via mapper, and a
// fresh block header is placed at the start of the new span.
type Allocator struct {
	mapper vmm.Mapper
	frames pmm.Source

	addrSpace mem.AddressSpace

	watermark uintptr // next unmapped address in the region
	head uint64 // virtual address of the first free block, 0 if none
	used mem.Size
}

// Init prepares the allocator. No pages are mapped yet; the region grows
// as Alloc or Brk demand it.
func (a *Allocator) Init(mapper vmm.Mapper, frames pmm.Source, addrSpace mem.AddressSpace) {
	a.mapper = mapper
	a.frames = frames
	a.addrSpace = addrSpace
	a.watermark = mem.VMemStart
	a.head = 0
	a.used = 0
}

func (a *Allocator) at(addr uint64) *header {
	return (*header)(a.addrSpace.Host(uintptr(addr)))
}

// Alloc returns a pointer to a block able to hold n bytes, first-fit
// against the free list by capacity. If nothing fits, the watermark is
// advanced by whole pages and a new block is carved from
// the freshly mapped span. Panics fatally, via kernel.ErrRegionExhausted,
// if growing would cross mem.VMemEnd.
func (a *Allocator) Alloc(n mem.Size) uintptr {
	if n == 0 {
		return 0
	}
	need := align8(uint64(n))

	var prevAddr uint64
	addr := a.head
	for addr != 0 {
		blk := a.at(addr)
		if blk.capacity >= need {
			a.unlink(prevAddr, addr, blk.next)
			a.claim(addr, blk, need, n)
			a.used += n
			return uintptr(addr) + uintptr(headerSize)
		}
		prevAddr = addr
		addr = blk.next
	}

	blockAddr, capacity := a.expand(headerSize + need)
	if blockAddr == 0 {
		return 0
	}
	blk := a.at(blockAddr)
	blk.capacity = capacity - headerSize
	blk.size = uint64(n)
	blk.next = 0
	blk.markUsed()
	a.used += n
	return uintptr(blockAddr) + uintptr(headerSize)
}

// claim carves need bytes of capacity out of the free block at addr,
// splitting off a residual free block when one would be large enough to
// be useful, and records requested as the block's reportable size.
func (a *Allocator) claim(addr uint64, blk *header, need uint64, requested mem.Size) {
	residual := blk.capacity - need
	if residual >= headerSize+minSplitResidual {
		newAddr := addr + headerSize + need
		newBlk := a.at(newAddr)
		newBlk.capacity = residual - headerSize
		newBlk.size = 0
		newBlk.next = 0
		newBlk.markFree()
		a.insertFree(newAddr, newBlk)
		blk.capacity = need
	}
	blk.size = uint64(requested)
	blk.markUsed()
}

// expand advances the watermark by enough whole pages to cover minBytes,
// mapping each new page through mapper, and returns the address and
// capacity of the span that can be used for a new block.
func (a *Allocator) expand(minBytes uint64) (blockAddr uint64, capacity uint64) {
	start := a.watermark
	target := mem.PageAlignUp(start + uintptr(minBytes))
	if target > mem.VMemEnd {
		kernel.Panic(kernel.ErrRegionExhausted, "vheap: region exhausted (watermark=%#x requested=%d)", start, minBytes)
		return 0, 0
	}
	a.growTo(target)
	return uint64(start), uint64(target - start)
}

func (a *Allocator) growTo(target uintptr) {
	for a.watermark < target {
		phys := a.frames.AllocFrame()
		if err := a.mapper.MapPage(a.watermark, phys.Address(), vmm.FlagWritable|vmm.FlagUser); err != nil {
			kernel.Panic(err, "vheap: failed to map page at %#x", a.watermark)
			return
		}
		a.watermark += uintptr(mem.PageSize)
	}
}

// unlink removes the free-list node at addr, whose predecessor is
// prevAddr (0 if addr was the head) and whose successor is nextAddr.
func (a *Allocator) unlink(prevAddr, addr, nextAddr uint64) {
	if prevAddr == 0 {
		a.head = nextAddr
		return
	}
	a.at(prevAddr).next = nextAddr
	_ = addr
}

// insertFree threads a newly freed block into the list in address order,
// then coalesces it with whichever of its free-list neighbors is directly
// adjacent in address space.
func (a *Allocator) insertFree(addr uint64, blk *header) {
	var prevAddr uint64
	cur := a.head
	for cur != 0 && cur < addr {
		prevAddr = cur
		cur = a.at(cur).next
	}
	nextAddr := cur

	blk.next = nextAddr
	if prevAddr == 0 {
		a.head = addr
	} else {
		a.at(prevAddr).next = addr
	}

	if nextAddr != 0 && addr+headerSize+blk.capacity == nextAddr {
		nextBlk := a.at(nextAddr)
		blk.capacity += headerSize + nextBlk.capacity
		blk.next = nextBlk.next
	}

	if prevAddr != 0 {
		prevBlk := a.at(prevAddr)
		if prevAddr+headerSize+prevBlk.capacity == addr {
			prevBlk.capacity += headerSize + blk.capacity
			prevBlk.next = blk.next
		}
	}
}

// Free releases the block ptr was returned by Alloc, panicking fatally on
// double free (kernel.ErrDoubleFree) or an unrecognized magic
// (kernel.ErrInvalidBlock), then coalesces with any adjacent free blocks.
func (a *Allocator) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	addr := uint64(ptr) - headerSize
	blk := a.at(addr)

	switch blk.magic {
	case magicFreed:
		kernel.Panic(kernel.ErrDoubleFree, "vheap: double free at %#x", ptr)
		return
	case magicAllocated:
		// expected path
	default:
		kernel.Panic(kernel.ErrInvalidBlock, "vheap: invalid block at %#x", ptr)
		return
	}

	a.used -= mem.Size(blk.size)
	blk.markFree()
	a.insertFree(addr, blk)
}

// Size returns the payload size the caller originally requested from
// Alloc — not the page-aligned capacity backing the block — or 0 (after
// a kernel.Warn) if ptr is out of range or its header is corrupt.
func (a *Allocator) Size(ptr uintptr) mem.Size {
	if ptr == 0 {
		return 0
	}
	if ptr < mem.VMemStart+uintptr(headerSize) || ptr >= a.watermark {
		kernel.Warn("vheap: Size called with out-of-range pointer %#x", ptr)
		return 0
	}
	blk := a.at(uint64(ptr) - headerSize)
	if blk.magic != magicAllocated {
		kernel.Warn("vheap: Size called with corrupt or unallocated block at %#x", ptr)
		return 0
	}
	return mem.Size(blk.size)
}

// Brk sets the region's watermark directly, mapping whole pages as needed,
// and returns the new watermark. newBrk == 0 is a query: it returns the
// current watermark without moving it. Any other request below the current
// watermark, or outside [mem.VMemStart, mem.VMemEnd], is rejected by
// returning the all-ones sentinel instead of moving the watermark.
func (a *Allocator) Brk(newBrk uintptr) uintptr {
	if newBrk == 0 {
		return a.watermark
	}
	if newBrk < a.watermark || newBrk > mem.VMemEnd {
		return ^uintptr(0)
	}

	a.growTo(mem.PageAlignUp(newBrk))
	return a.watermark
}

// UsedBytes returns the sum of the requested sizes of all currently
// allocated blocks.
func (a *Allocator) UsedBytes() mem.Size { return a.used }

// Watermark returns the current top of the mapped region.
func (a *Allocator) Watermark() uintptr { return a.watermark }
