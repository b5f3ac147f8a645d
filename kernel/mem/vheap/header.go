// Package vheap implements the virtual-range allocator: a
// user-zone heap that, unlike kheap, is not pre-mapped in full up front.
// It grows a watermark into [mem.VMemStart, mem.VMemEnd) on demand,
// mapping freshly allocated frames as it goes, and exposes the watermark
// directly through Brk for callers that want raw sbrk-style control.
//
// It uses the same free-list-of-intrusive-headers design as the kernel
// heap, but grows by whole pages on demand instead of mapping a single
// fixed-size region up front, and maps its pages with the user-accessible
// flag.
package vheap

type magic uint64

const (
	magicAllocated magic = 0xDEADBEEF0C0FFEE0
	magicFreed magic = 0xFEEED000C0FFEE0
)

const minSplitResidual = 16

// header precedes every client pointer. Unlike kheap's header, vheap keeps
// the client's requested payload size separate from the page-aligned
// capacity actually backing the block: Size reports the former, while
// first-fit matching and splitting operate on the latter, since that is
// what determines whether another allocation can be carved out of the
// same block. All fields are a fixed 8 bytes so unsafe.Sizeof(header{})
// is a multiple of 8 on any host architecture.
type header struct {
	size uint64
	capacity uint64
	free uint64
	magic magic
	next uint64
}

const headerSize = uint64(40) // 5 x 8-byte fields

func (h *header) markFree() { h.free = 1; h.magic = magicFreed }
func (h *header) markUsed() { h.free = 0; h.magic = magicAllocated }

func align8(n uint64) uint64 { return (n + 7) &^ 7 }
