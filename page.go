// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"sync"
	"unsafe"

	"code.hybscloud.com/atomix"
)

// PageAllocator is the paged-allocator collaborator (§6.2). Implementations
// must return page_size, page_alignment-aligned blocks and support pinning
// for the lock-free queue's multi-consumer variants.
type PageAllocator interface {
	// PageSize returns the constant page size in bytes, a power of two.
	PageSize() uintptr
	// PageAlignment returns the constant page alignment, >= PageSize and a
	// multiple of minAlignment.
	PageAlignment() uintptr

	// AllocatePage returns a new page, blocking if necessary.
	AllocatePage() (unsafe.Pointer, error)
	// TryAllocatePage returns a new page without blocking beyond guarantee,
	// or ErrWouldBlock.
	TryAllocatePage(guarantee ProgressGuarantee) (unsafe.Pointer, error)
	// DeallocatePage returns a page obtained from AllocatePage/TryAllocatePage.
	DeallocatePage(p unsafe.Pointer)

	// Allocate returns an arbitrary aligned block, for external payloads
	// and raw side blocks that don't fit in a page (§4.3, §3.7).
	Allocate(size, alignment uintptr) (unsafe.Pointer, error)
	// TryAllocate is the non-blocking counterpart of Allocate.
	TryAllocate(guarantee ProgressGuarantee, size, alignment uintptr) (unsafe.Pointer, error)
	// Deallocate returns a block obtained from Allocate/TryAllocate.
	Deallocate(p unsafe.Pointer, size, alignment uintptr)

	// PinPage increments the page's pin count, deferring deallocation
	// while the pin is held (§4.4 "Page pinning"). Single-consumer queues
	// may treat this as a no-op.
	PinPage(addr unsafe.Pointer)
	// UnpinPage decrements the page's pin count.
	UnpinPage(addr unsafe.Pointer)
	// PinCount returns the current pin count of the page containing addr.
	PinCount(addr unsafe.Pointer) int
}

// defaultPageSize matches the teacher's cache-line-multiple sizing
// instinct (pad is 64 bytes throughout lfq) scaled up to a typical OS page.
const defaultPageSize = 4096

// defaultPageAlignment equals defaultPageSize: pages are naturally aligned.
const defaultPageAlignment = defaultPageSize

// heapPageAllocator is the default PageAllocator, backed by the Go heap.
// Go provides no portable aligned-allocation primitive, so pages are
// over-allocated by one alignment unit and bumped up, the same pointer
// trick the source's void_allocator leaves to the platform allocator and
// the teacher's pointer-arithmetic helpers (spsc_indirect_asm.go) use to
// dodge bounds checks — here used to dodge the lack of posix_memalign.
type heapPageAllocator struct {
	pageSize  uintptr
	pageAlign uintptr

	mu   sync.Mutex
	pins map[uintptr]*atomix.Int32 // page base addr -> pin count
}

// NewPageAllocator returns the default heap-backed PageAllocator with the
// given page size. pageSize must be a power of two and satisfy
// pageSize > (minAlignment + sizeof(controlBlock)) * 4 (§6.2).
func NewPageAllocator(pageSize uintptr) (PageAllocator, error) {
	if pageSize == 0 {
		pageSize = defaultPageSize
	}
	if !isPowerOfTwo(pageSize) {
		return nil, ErrPreconditionViolated
	}
	minSpan := (minAlignmentFloor + unsafe.Sizeof(controlBlock{})) * 4
	if pageSize <= minSpan {
		return nil, ErrPreconditionViolated
	}
	return &heapPageAllocator{
		pageSize:  pageSize,
		pageAlign: pageSize,
		pins:      make(map[uintptr]*atomix.Int32),
	}, nil
}

func (a *heapPageAllocator) PageSize() uintptr      { return a.pageSize }
func (a *heapPageAllocator) PageAlignment() uintptr { return a.pageAlign }

func (a *heapPageAllocator) AllocatePage() (unsafe.Pointer, error) {
	p, err := a.Allocate(a.pageSize, a.pageAlign)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.pins[uintptr(p)] = new(atomix.Int32)
	a.mu.Unlock()
	return p, nil
}

func (a *heapPageAllocator) TryAllocatePage(guarantee ProgressGuarantee) (unsafe.Pointer, error) {
	return a.AllocatePage()
}

func (a *heapPageAllocator) DeallocatePage(p unsafe.Pointer) {
	a.mu.Lock()
	delete(a.pins, uintptr(p))
	a.mu.Unlock()
	a.Deallocate(p, a.pageSize, a.pageAlign)
}

// wordSize is the granularity pages are backed at; see the comment below.
const wordSize = unsafe.Sizeof(unsafe.Pointer(nil))

func (a *heapPageAllocator) Allocate(size, alignment uintptr) (unsafe.Pointer, error) {
	if alignment < wordSize {
		alignment = wordSize
	}
	// Pages back arbitrary, caller-chosen element types, which may embed
	// real Go pointers (slices, strings, interfaces, *T). A []byte backing
	// array carries no pointer bitmap, so the garbage collector would
	// never trace a pointer an element writes into it — the classic arena
	// hazard. Backing the page with []unsafe.Pointer instead makes every
	// word a GC root the collector precisely scans; words that don't hold
	// a real pointer are simply ignored if their bit pattern doesn't
	// resolve to a live heap address. This is the idiomatic Go answer to
	// "untyped but GC-safe arena" and has no equivalent concern in the
	// source, which never has to coexist with a tracing collector.
	words := (size+alignment)/wordSize + 1
	raw := make([]unsafe.Pointer, words)
	base := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	aligned := alignUp(base, alignment)
	retain(aligned, raw)
	return unsafe.Pointer(aligned), nil
}

func (a *heapPageAllocator) TryAllocate(guarantee ProgressGuarantee, size, alignment uintptr) (unsafe.Pointer, error) {
	return a.Allocate(size, alignment)
}

func (a *heapPageAllocator) Deallocate(p unsafe.Pointer, size, alignment uintptr) {
	release(uintptr(p))
}

func (a *heapPageAllocator) pinFor(addr unsafe.Pointer) *atomix.Int32 {
	base := alignDown(uintptr(addr), a.pageAlign)
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.pins[base]
	if !ok {
		p = new(atomix.Int32)
		a.pins[base] = p
	}
	return p
}

func (a *heapPageAllocator) PinPage(addr unsafe.Pointer) {
	a.pinFor(addr).AddAcqRel(1)
}

func (a *heapPageAllocator) UnpinPage(addr unsafe.Pointer) {
	a.pinFor(addr).AddAcqRel(-1)
}

func (a *heapPageAllocator) PinCount(addr unsafe.Pointer) int {
	base := alignDown(uintptr(addr), a.pageAlign)
	a.mu.Lock()
	p, ok := a.pins[base]
	a.mu.Unlock()
	if !ok {
		return 0
	}
	return int(p.LoadAcquire())
}

// retainer keeps GC roots for over-allocated blocks alive until Deallocate;
// see the comment on heapPageAllocator.Allocate.
var retainer sync.Map // uintptr -> []unsafe.Pointer

func retain(addr uintptr, raw []unsafe.Pointer) {
	retainer.Store(addr, raw)
}

func release(addr uintptr) {
	retainer.Delete(addr)
}
