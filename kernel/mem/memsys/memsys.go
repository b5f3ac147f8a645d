// Package memsys is the memory subsystem facade: it owns
// one instance of each layer — the frame allocator, the pager, the kernel
// heap, and the virtual-range allocator — and sequences their
// construction so callers never touch the layers directly. Init probes
// memory, builds the frame allocator, builds the page tables, enables
// paging, and brings up both heaps, as a reusable, host-testable type
// rather than a sequence of free functions run once at boot.
package memsys

import (
	"unsafe"

	"kfscore/kernel"
	"kfscore/kernel/mem"
	"kfscore/kernel/mem/kheap"
	"kfscore/kernel/mem/pmm"
	"kfscore/kernel/mem/pmm/allocator"
	"kfscore/kernel/mem/vheap"
	"kfscore/kernel/mem/vmm"
)

// System aggregates the four memory-management layers behind a single API.
// It is constructed once per kernel instance (or once per test).
type System struct {
	frames allocator.Bitmap
	pager vmm.Pager
	kheap kheap.Heap
	vheap vheap.Allocator

	physMem mem.AddressSpace
	kheapSpace mem.AddressSpace
	vheapSpace mem.AddressSpace
}

// Init brings up the memory subsystem in the only order that makes sense:
// the frame allocator first (nothing else can obtain physical memory
// without it), then the pager (identity-mapping [0, identityEnd) and
// registering the page-fault handler) followed immediately by enabling
// paging, and finally the kernel heap, which needs a working pager to map
// its own range. The virtual-range allocator comes up last since it maps
// pages lazily and has nothing to do at init time beyond recording where
// its region starts.
//
// physMem translates physical frame addresses into host pointers;
// kheapSpace and vheapSpace do the same for the kernel heap's and the
// virtual-range allocator's virtual ranges respectively. On real
// hardware all three are identity translations once paging is enabled;
// tests back each with its own host buffer, the same pattern
// kernel/mem/vmm's pager tests use for physical memory.
func (s *System) Init(memBytes mem.Size, physMem, kheapSpace, vheapSpace mem.AddressSpace, identityEnd uintptr) *kernel.Error {
	s.physMem = physMem
	s.kheapSpace = kheapSpace
	s.vheapSpace = vheapSpace

	s.frames.Init(mem.ClampMemBytes(memBytes), physMem)

	if err := s.pager.Init(&s.frames, physMem, identityEnd); err != nil {
		return err
	}
	s.pager.Enable()

	s.kheap.Init(&s.pager, &s.frames, kheapSpace)
	s.vheap.Init(&s.pager, &s.frames, vheapSpace)

	kernel.Warn("memsys: ready (frames=%d kheap=%d vheap@%#x)", s.frames.TotalPages(), s.kheap.TotalBytes(), s.vheap.Watermark())

	return nil
}

// FrameAlloc allocates a single physical frame.
func (s *System) FrameAlloc() pmm.Frame { return s.frames.AllocFrame() }

// FrameFree releases a physical frame previously returned by FrameAlloc.
func (s *System) FrameFree(f pmm.Frame) { s.frames.FreeFrame(f) }

// MapPage maps a virtual page to a physical frame.
func (s *System) MapPage(virt, phys uintptr, flags vmm.Flag) *kernel.Error {
	return s.pager.MapPage(virt, phys, flags)
}

// UnmapPage removes a virtual page's mapping, if any.
func (s *System) UnmapPage(virt uintptr) { s.pager.UnmapPage(virt) }

// GetMapping returns the raw page-table entry backing virt, or 0.
func (s *System) GetMapping(virt uintptr) uint32 { return s.pager.GetMapping(virt) }

// PageFault reports an unrecoverable page fault, classifying it by fault
// address and error code. Kernel code normally never calls this directly:
// the pager registers it against irq.PageFault during Init.
func (s *System) PageFault(faultAddr uintptr, errorCode uint32) {
	s.pager.FaultHandler(faultAddr, errorCode)
}

// Kmalloc allocates n bytes from the kernel heap.
func (s *System) Kmalloc(n mem.Size) uintptr { return s.kheap.Alloc(n) }

// Kfree releases a pointer obtained from Kmalloc.
func (s *System) Kfree(ptr uintptr) { s.kheap.Free(ptr) }

// Ksize returns the usable payload size of a kernel heap allocation.
func (s *System) Ksize(ptr uintptr) mem.Size { return s.kheap.Size(ptr) }

// Kbrk reports the kernel heap's fixed end address; the heap never grows
// past its initial mapping, so this never moves it. Any nonzero request
// other than the current end itself is rejected with the all-ones
// sentinel, matching Vbrk's contract for an out-of-region request.
func (s *System) Kbrk(newBrk uintptr) uintptr { return s.kheap.Brk(newBrk) }

// Vmalloc allocates n bytes from the user-zone virtual-range allocator,
// growing its watermark if nothing free fits.
func (s *System) Vmalloc(n mem.Size) uintptr { return s.vheap.Alloc(n) }

// Vfree releases a pointer obtained from Vmalloc.
func (s *System) Vfree(ptr uintptr) { s.vheap.Free(ptr) }

// Vsize returns the caller-requested size of a Vmalloc allocation.
func (s *System) Vsize(ptr uintptr) mem.Size { return s.vheap.Size(ptr) }

// Vbrk raises the virtual-range allocator's watermark directly, mapping
// whole pages as needed, and returns the new watermark. newBrk == 0 queries
// the watermark without moving it. The watermark never shrinks: a request
// below it, or above mem.VMemEnd, returns the all-ones sentinel.
func (s *System) Vbrk(newBrk uintptr) uintptr { return s.vheap.Brk(newBrk) }

// Host dereferences a mapped virtual address, returning a pointer usable
// from Go code. It panics fatally, via kernel.ErrMapFailed, if virt is not
// currently mapped — the facade has no concept of demand paging, so an
// unmapped address here is a programmer error, not the asynchronous page
// fault a real CPU would raise on an unmapped access.
func (s *System) Host(virt uintptr) unsafe.Pointer {
	pte := s.pager.GetMapping(virt)
	if pte == 0 {
		kernel.Panic(kernel.ErrMapFailed, "memsys: address %#x is not mapped", virt)
		return nil
	}
	phys := uintptr(pte&^uint32(mem.PageOffsetMask)) | (virt & mem.PageOffsetMask)
	return s.physMem.Host(phys)
}

// khost and vhost dereference an address in the kernel heap's or the
// virtual-range allocator's own virtual range directly, bypassing the
// page tables. kheap and vheap already map their ranges through the
// pager; these exist only so package-internal callers (tests, mainly)
// can read back what Kmalloc/Vmalloc handed out without re-deriving the
// physical frame behind it.
func (s *System) khost(virt uintptr) unsafe.Pointer { return s.kheapSpace.Host(virt) }
func (s *System) vhost(virt uintptr) unsafe.Pointer { return s.vheapSpace.Host(virt) }

// CheckedWrite copies data into a Vmalloc-obtained buffer at virt,
// refusing — with kernel.ErrBufferOverflow — to write past the
// caller-declared buffer boundary. Client code that does not implicitly
// trust a buffer's size should go through this instead of writing through
// the raw mapping and silently corrupting whatever follows it in the heap.
func (s *System) CheckedWrite(virt uintptr, bufSize mem.Size, data []byte) *kernel.Error {
	if mem.Size(len(data)) > bufSize {
		return kernel.ErrBufferOverflow
	}
	dst := unsafe.Slice((*byte)(s.vhost(virt)), len(data))
	copy(dst, data)
	return nil
}
