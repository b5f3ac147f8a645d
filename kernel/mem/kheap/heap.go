package kheap

import (
	"kfscore/kernel"
	"kfscore/kernel/mem"
	"kfscore/kernel/mem/pmm"
	"kfscore/kernel/mem/vmm"
)

// Heap is the kernel heap: a single pre-mapped virtual
// range, [mem.KHeapStart, mem.KHeapEnd), carved up by one sorted,
// singly-linked free list of block headers. Unlike vheap's allocator, the
// heap never grows past its initial mapping; exhaustion is fatal.
//
// addrSpace translates the heap's virtual addresses into dereferenceable
// host pointers. On real hardware, once the range below has been mapped
// and paging is enabled, a virtual address in [KHeapStart, KHeapEnd) is
// directly usable and addrSpace is an identity translation; tests back it
// with a real Go buffer the same way kernel/mem/vmm's own tests back
// physical memory.
type Heap struct {
	mapper vmm.Mapper
	addrSpace mem.AddressSpace

	head uint64 // virtual address of the first free block, 0 if none

	used mem.Size
	total mem.Size
}

// Init maps every page in [mem.KHeapStart, mem.KHeapEnd) through mapper,
// then installs a single free block spanning the entire range minus its
// own header.
func (h *Heap) Init(mapper vmm.Mapper, frames pmm.Source, addrSpace mem.AddressSpace) {
	h.mapper = mapper
	h.addrSpace = addrSpace

	for virt := mem.KHeapStart; virt < mem.KHeapEnd; virt += uintptr(mem.PageSize) {
		phys := frames.AllocFrame()
		if err := mapper.MapPage(virt, phys.Address(), vmm.FlagWritable); err != nil {
			kernel.Panic(err, "kheap: failed to map page at %#x", virt)
			return
		}
	}

	region := mem.Size(mem.KHeapEnd - mem.KHeapStart)
	h.total = region - mem.Size(headerSize)
	h.used = 0
	h.head = uint64(mem.KHeapStart)

	first := h.at(h.head)
	first.size = uint64(h.total)
	first.next = 0
	first.markFree()
}

func (h *Heap) at(addr uint64) *header {
	return (*header)(h.addrSpace.Host(uintptr(addr)))
}

// Alloc returns a pointer to a block of at least n usable bytes, first-fit,
// splitting the chosen free block if the residual leaves room for another
// header plus minSplitResidual bytes. Panics fatally, via
// kernel.ErrOutOfMemory, if no free block is large enough.
func (h *Heap) Alloc(n mem.Size) uintptr {
	if n == 0 {
		return 0
	}
	need := align8(uint64(n))

	var prevAddr uint64
	addr := h.head
	for addr != 0 {
		blk := h.at(addr)
		if blk.size >= need {
			h.unlink(prevAddr, addr, blk.next)
			h.claim(addr, blk, need)
			h.used += mem.Size(blk.size)
			return uintptr(addr) + uintptr(headerSize)
		}
		prevAddr = addr
		addr = blk.next
	}

	kernel.Panic(kernel.ErrOutOfMemory, "kernel heap exhausted (used=%d total=%d requested=%d)", h.used, h.total, n)
	return 0
}

// claim carves need bytes out of the free block at addr, splitting off and
// re-inserting a residual free block when it is large enough to be useful.
func (h *Heap) claim(addr uint64, blk *header, need uint64) {
	residual := blk.size - need
	if residual >= uint64(headerSize)+minSplitResidual {
		newAddr := addr + headerSize + need
		newBlk := h.at(newAddr)
		newBlk.size = residual - headerSize
		newBlk.next = 0
		newBlk.markFree()
		h.insertFree(newAddr, newBlk)
		blk.size = need
	}
	blk.markUsed()
}

// unlink removes the free-list node at addr, whose predecessor is prevAddr
// (0 if addr was the head) and whose successor is nextAddr.
func (h *Heap) unlink(prevAddr, addr, nextAddr uint64) {
	if prevAddr == 0 {
		h.head = nextAddr
		return
	}
	h.at(prevAddr).next = nextAddr
	_ = addr
}

// insertFree threads a newly freed block into the list in address order,
// then coalesces it with whichever of its free-list neighbors is directly
// adjacent in address space. A block can merge with both
// its predecessor and successor in the same call, e.g. freeing the block
// between two already-free blocks reunites all three.
func (h *Heap) insertFree(addr uint64, blk *header) {
	var prevAddr uint64
	cur := h.head
	for cur != 0 && cur < addr {
		prevAddr = cur
		cur = h.at(cur).next
	}
	nextAddr := cur

	blk.next = nextAddr
	if prevAddr == 0 {
		h.head = addr
	} else {
		h.at(prevAddr).next = addr
	}

	if nextAddr != 0 && addr+headerSize+blk.size == nextAddr {
		nextBlk := h.at(nextAddr)
		blk.size += headerSize + nextBlk.size
		blk.next = nextBlk.next
	}

	if prevAddr != 0 {
		prevBlk := h.at(prevAddr)
		if prevAddr+headerSize+prevBlk.size == addr {
			prevBlk.size += headerSize + blk.size
			prevBlk.next = blk.next
		}
	}
}

// Free releases the block ptr was returned by Alloc, panicking fatally on
// double free (kernel.ErrDoubleFree) or a magic that matches neither known
// state (kernel.ErrInvalidBlock), then coalesces with any adjacent free
// blocks.
func (h *Heap) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	addr := uint64(ptr) - headerSize
	blk := h.at(addr)

	switch blk.magic {
	case magicFreed:
		kernel.Panic(kernel.ErrDoubleFree, "kheap: double free at %#x", ptr)
		return
	case magicAllocated:
		// expected path
	default:
		kernel.Panic(kernel.ErrInvalidBlock, "kheap: invalid block at %#x", ptr)
		return
	}

	h.used -= mem.Size(blk.size)
	blk.markFree()
	h.insertFree(addr, blk)
}

// Size returns the usable payload size of the block ptr points at, or 0
// (after a kernel.Warn) if ptr is out of range or its header is corrupt.
func (h *Heap) Size(ptr uintptr) mem.Size {
	if ptr == 0 {
		return 0
	}
	if ptr < mem.KHeapStart+uintptr(headerSize) || ptr >= mem.KHeapEnd {
		kernel.Warn("kheap: Size called with out-of-range pointer %#x", ptr)
		return 0
	}
	blk := h.at(uint64(ptr) - headerSize)
	if blk.magic != magicAllocated {
		kernel.Warn("kheap: Size called with corrupt or unallocated block at %#x", ptr)
		return 0
	}
	return mem.Size(blk.size)
}

// UsedBytes returns the sum of the payload sizes of all currently
// allocated blocks.
func (h *Heap) UsedBytes() mem.Size { return h.used }

// TotalBytes returns the heap's usable capacity, excluding header overhead
// for the single block the range started as.
func (h *Heap) TotalBytes() mem.Size { return h.total }

// Brk reports the heap's fixed end address. newBrk == 0 is a query and
// always succeeds; the heap never grows past its initial mapping, so any
// other request is rejected with the all-ones sentinel unless it names the
// current end exactly.
func (h *Heap) Brk(newBrk uintptr) uintptr {
	if newBrk == 0 || newBrk == mem.KHeapEnd {
		return mem.KHeapEnd
	}
	return ^uintptr(0)
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}
