package vmm

import (
	"kfscore/kernel"
	"kfscore/kernel/cpu"
	"kfscore/kernel/irq"
	"kfscore/kernel/mem"
	"kfscore/kernel/mem/pmm"
)

// Page-fault error-code bits. Only the present and user bits are branched
// on below; the rest (write, reserved-bit, fetch) are carried through to
// the panic message but not inspected.
const (
	ErrCodePresent = uint32(1 << 0)
	ErrCodeWrite = uint32(1 << 1)
	ErrCodeUser = uint32(1 << 2)
)

// Mapper is the interface the two heap allocators (kheap, vheap) depend on,
// so each can be driven in tests against a fake pager instead of a real one.
type Mapper interface {
	MapPage(virt, phys uintptr, flags Flag) *kernel.Error
	UnmapPage(virt uintptr)
	GetMapping(virt uintptr) uint32
}

// Pager owns the single page directory and its page tables, using a flat
// two-level x86-32 layout rather than a recursively mapped, variable-depth
// scheme.
type Pager struct {
	frames pmm.Source
	physMem mem.AddressSpace
	dirFrame pmm.Frame
}

// Init zeroes the page directory and identity-maps [0, identityEnd) with
// {present, writable} flags. physMem translates the physical frame
// addresses frames.AllocFrame() hands back into dereferenceable host
// pointers; on real hardware, prior to enabling paging, physical addresses
// are directly addressable and physMem is an identity translation.
func (p *Pager) Init(frames pmm.Source, physMem mem.AddressSpace, identityEnd uintptr) *kernel.Error {
	p.frames = frames
	p.physMem = physMem

	p.dirFrame = frames.AllocFrame()
	dir := p.dirPtr()
	for i := range dir {
		dir[i] = 0
	}

	for virt := uintptr(0); virt < identityEnd; virt += uintptr(mem.PageSize) {
		if err := p.MapPage(virt, virt, FlagPresent|FlagWritable); err != nil {
			return err
		}
	}

	irq.Register(irq.PageFault, func(errorCode uint32, faultAddr uintptr) {
			p.FaultHandler(faultAddr, errorCode)
		})

	return nil
}

// Enable loads the page directory into the CPU's translation register and
// sets the paging-enable control bit.
func (p *Pager) Enable() {
	cpu.LoadPageDirectory(p.dirFrame.Address())
	cpu.EnablePaging()
}

func (p *Pager) dirPtr() *[entriesPerTable]entry {
	return (*[entriesPerTable]entry)(p.physMem.Host(p.dirFrame.Address()))
}

func (p *Pager) tablePtr(tableFrame pmm.Frame) *[entriesPerTable]entry {
	return (*[entriesPerTable]entry)(p.physMem.Host(tableFrame.Address()))
}

// MapPage maps virt to phys with the given flags. If the directory entry
// for virt is absent, a fresh page table frame is allocated, zeroed, and
// installed with {present, writable, user-accessible iff virt is in the
// user zone}. Mapping over an existing page overwrites it silently.
func (p *Pager) MapPage(virt, phys uintptr, flags Flag) *kernel.Error {
	dir := p.dirPtr()
	di := dirIndex(virt)

	var tableFrame pmm.Frame
	if !dir[di].present() {
		tableFrame = p.frames.AllocFrame()
		tbl := p.tablePtr(tableFrame)
		for i := range tbl {
			tbl[i] = 0
		}

		dirFlags := FlagPresent | FlagWritable
		if virt >= mem.UserZoneStart {
			dirFlags |= FlagUser
		}
		dir[di] = makeEntry(tableFrame.Address(), dirFlags)
	} else {
		tableFrame = pmm.Frame(dir[di].base())
	}

	tbl := p.tablePtr(tableFrame)
	tbl[tableIndex(virt)] = makeEntry(phys, flags|FlagPresent)

	return nil
}

// UnmapPage zeroes the page-table entry for virt, if present, and reloads
// the translation register to flush the TLB.
func (p *Pager) UnmapPage(virt uintptr) {
	dir := p.dirPtr()
	di := dirIndex(virt)
	if !dir[di].present() {
		return
	}

	tbl := p.tablePtr(pmm.Frame(dir[di].base()))
	tbl[tableIndex(virt)] = 0
	cpu.FlushTLB()
}

// GetMapping returns the raw page-table entry for virt, or 0 if it is not
// present. The high 20 bits of a present entry equal
// phys>>12<<12 (the mapped frame's base address).
func (p *Pager) GetMapping(virt uintptr) uint32 {
	dir := p.dirPtr()
	di := dirIndex(virt)
	if !dir[di].present() {
		return 0
	}

	tbl := p.tablePtr(pmm.Frame(dir[di].base()))
	pte := tbl[tableIndex(virt)]
	if !pte.present() {
		return 0
	}
	return pte.raw()
}

// FaultHandler classifies a page fault and reports it fatally: this kernel
// does not support demand paging, so every page fault is non-recoverable.
func (p *Pager) FaultHandler(faultAddr uintptr, errorCode uint32) {
	userMode := errorCode&ErrCodeUser != 0

	switch {
	case faultAddr < mem.BIOSEnd:
		kernel.Panic(kernel.ErrPageFault, "access to BIOS memory (addr=%#x err=%#x)", faultAddr, errorCode)
	case userMode && faultAddr < mem.UserZoneStart:
		kernel.Panic(kernel.ErrPageFault, "user access to kernel space (addr=%#x err=%#x)", faultAddr, errorCode)
	case userMode && p.presentAndSupervisorOnly(faultAddr):
		kernel.Panic(kernel.ErrPageFault, "user access to supervisor-only page (addr=%#x err=%#x)", faultAddr, errorCode)
	default:
		kernel.Panic(kernel.ErrPageFault, "page fault (addr=%#x err=%#x)", faultAddr, errorCode)
	}
}

func (p *Pager) presentAndSupervisorOnly(virt uintptr) bool {
	pte := entryFromRaw(p.GetMapping(virt))
	return pte.present() && !pte.flags().Has(FlagUser)
}
