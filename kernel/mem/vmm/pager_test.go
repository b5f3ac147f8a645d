package vmm

import (
	"fmt"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"kfscore/kernel"
	"kfscore/kernel/irq"
	"kfscore/kernel/mem"
	"kfscore/kernel/mem/pmm"
)

// fakeFrameSource is a bump allocator over a host-backed buffer, standing in
// for allocator.Bitmap in tests that only care about the pager's own logic.
// Frame addresses it returns start at physical address 0 and are translated
// into a make([]byte, ...) buffer through the returned mem.AddressSpace, the
// same way kernel/mem/memsys's tests back physical memory, so they fit the
// 32-bit page-table entries the pager writes.
type fakeFrameSource struct {
	buf []byte
	next uintptr
}

func newFakeFrameSource(pages int) (*fakeFrameSource, mem.AddressSpace) {
	buf := make([]byte, pages*int(mem.PageSize))
	hostBase := uintptr(unsafe.Pointer(&buf[0]))
	return &fakeFrameSource{buf: buf, next: 0}, mem.NewAddressSpace(0, hostBase)
}

func (f *fakeFrameSource) AllocFrame() pmm.Frame {
	addr := f.next
	f.next += uintptr(mem.PageSize)
	return pmm.Frame(addr)
}

func (f *fakeFrameSource) FreeFrame(pmm.Frame) {}

func newTestPager(t *testing.T, pages int) (*Pager, *fakeFrameSource) {
	t.Helper()
	src, addrSpace := newFakeFrameSource(pages)
	var p Pager
	err := p.Init(src, addrSpace, 0) // no identity-mapped prefix; tests map explicitly
	assert.Nil(t, err)
	return &p, src
}

func TestMapThenGetMappingThenUnmap(t *testing.T) {
	// The store/load-through-the-mapping part is exercised at the memsys
	// level, since it requires the mem.AddressSpace translation the
	// facade wires up.
	p, src := newTestPager(t, 8)

	virt := uintptr(0x10000000)
	phys := src.AllocFrame()

	assert.Nil(t, p.MapPage(virt, phys.Address(), FlagWritable))

	pte := p.GetMapping(virt)
	assert.NotZero(t, pte)
	assert.EqualValues(t, phys.Address()>>12, uint32(pte)>>12)

	p.UnmapPage(virt)
	assert.Zero(t, p.GetMapping(virt))
}

func TestGetMappingOnUnmappedAddressIsZero(t *testing.T) {
	p, _ := newTestPager(t, 8)
	assert.Zero(t, p.GetMapping(0x20000000))
}

func TestMapOverExistingMappingOverwrites(t *testing.T) {
	p, src := newTestPager(t, 8)
	virt := uintptr(0x10000000)

	phys1 := src.AllocFrame()
	phys2 := src.AllocFrame()

	assert.Nil(t, p.MapPage(virt, phys1.Address(), FlagWritable))
	assert.Nil(t, p.MapPage(virt, phys2.Address(), FlagWritable))

	pte := p.GetMapping(virt)
	assert.EqualValues(t, phys2.Address()>>12, uint32(pte)>>12)
}

func TestMapAllocatesPageTableLazily(t *testing.T) {
	p, src := newTestPager(t, 8)
	before := src.next

	phys := src.AllocFrame()
	assert.Nil(t, p.MapPage(0x10000000, phys.Address(), FlagWritable))

	// One extra frame should have been consumed for the new page table.
	assert.Greater(t, src.next, before+uintptr(mem.PageSize))
}

func TestMapUserZoneSetsUserFlagOnDirectoryEntry(t *testing.T) {
	p, src := newTestPager(t, 8)
	phys := src.AllocFrame()

	assert.Nil(t, p.MapPage(mem.UserZoneStart, phys.Address(), FlagWritable|FlagUser))

	dir := p.dirPtr()
	assert.True(t, dir[dirIndex(mem.UserZoneStart)].flags().Has(FlagUser))
}

func TestMapKernelZoneLeavesDirectoryEntryNotUserAccessible(t *testing.T) {
	p, src := newTestPager(t, 8)
	phys := src.AllocFrame()

	assert.Nil(t, p.MapPage(mem.KHeapStart, phys.Address(), FlagWritable))

	dir := p.dirPtr()
	assert.False(t, dir[dirIndex(mem.KHeapStart)].flags().Has(FlagUser))
}

func TestFaultHandlerClassifiesBIOSAccess(t *testing.T) {
	p, _ := newTestPager(t, 8)
	msg := capturePanic(t, func() { p.FaultHandler(0x500, 0) })
	assert.Contains(t, msg, "access to BIOS memory")
}

func TestFaultHandlerClassifiesUserAccessToKernelSpace(t *testing.T) {
	p, _ := newTestPager(t, 8)
	msg := capturePanic(t, func() { p.FaultHandler(mem.KHeapStart, ErrCodeUser) })
	assert.Contains(t, msg, "user access to kernel space")
}

func TestFaultHandlerClassifiesUserAccessToSupervisorOnlyPage(t *testing.T) {
	p, src := newTestPager(t, 8)
	phys := src.AllocFrame()
	virt := mem.UserZoneStart
	assert.Nil(t, p.MapPage(virt, phys.Address(), FlagWritable)) // no FlagUser: supervisor-only

	msg := capturePanic(t, func() { p.FaultHandler(virt, ErrCodeUser|ErrCodePresent) })
	assert.Contains(t, msg, "user access to supervisor-only page")
}

func TestFaultHandlerClassifiesGenericPageFault(t *testing.T) {
	p, _ := newTestPager(t, 8)
	msg := capturePanic(t, func() { p.FaultHandler(mem.UserZoneStart+0x1000, 0) })
	assert.Contains(t, msg, "page fault")
}

func TestFaultHandlerIsWiredToPageFaultVector(t *testing.T) {
	defer irq.Reset()
	p, _ := newTestPager(t, 8)

	msg := capturePanic(t, func() { irq.Dispatch(irq.PageFault, 0, 0x10) })
	_ = p
	assert.Contains(t, msg, "access to BIOS memory")
}

// capturePanic installs a recording kernel.Panic that re-panics with the
// formatted message, runs fn, and returns the captured message.
func capturePanic(t *testing.T, fn func()) (msg string) {
	t.Helper()
	prev := kernel.Panic
	defer func() { kernel.Panic = prev }()

	kernel.Panic = func(err *kernel.Error, format string, args ...interface{}) {
		panic(fmt.Sprintf(format, args...))
	}

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected a panic")
		}
		msg = r.(string)
	}()

	fn()
	return
}
