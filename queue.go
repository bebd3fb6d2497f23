// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"errors"
	"reflect"
	"unsafe"
)

// Queue is a paginated, non-concurrent heterogeneous FIFO queue (§3, §4.2).
// It stores elements of arbitrary, possibly-mixed types, each tagged with
// its own RTD, inside a singly linked chain of fixed-size pages obtained
// from a PageAllocator. A Queue is not safe for concurrent use by more
// than one goroutine; see Concurrent for the lock-free counterpart.
type Queue struct {
	alloc        PageAllocator
	pageSize     uintptr
	minAlignment uintptr

	headPage uintptr
	head     uintptr
	tailPage uintptr
	tail     uintptr
}

// NewQueue returns an empty Queue backed by alloc. It fails with
// ErrPreconditionViolated if minAlignment is below minAlignmentFloor or
// not a power of two (§9, the tag-bit resolution in cb.go).
func NewQueue(alloc PageAllocator, minAlignment uintptr) (*Queue, error) {
	if alloc == nil {
		a, err := NewPageAllocator(defaultPageSize)
		if err != nil {
			return nil, err
		}
		alloc = a
	}
	if minAlignment < minAlignmentFloor || !isPowerOfTwo(minAlignment) {
		return nil, ErrPreconditionViolated
	}
	return &Queue{
		alloc:        alloc,
		pageSize:     alloc.PageSize(),
		minAlignment: minAlignment,
	}, nil
}

// Empty reports whether the queue holds no consumable element (§8
// property 3). This is a structural head==tail check, which is only
// accurate because every path that can leave a DEAD or page-jump slot at
// head (ConsumeOperation.Commit, PutTransaction.Cancel) calls reclaim()
// before returning, so head never stalls on a slot that isn't live.
func (q *Queue) Empty() bool {
	return q.head == q.tail && q.headPage == q.tailPage
}

// rtdAt reinterprets the word at addr as an RTD. RTD's sole field is a
// single pointer, so this cast is layout-compatible; the word's backing
// storage is the page's []unsafe.Pointer array (see heapPageAllocator.
// Allocate), so the garbage collector keeps the referenced featureTable's
// page alive exactly as it would any other pointer field.
func rtdAt(addr uintptr) *RTD {
	return (*RTD)(unsafe.Pointer(addr))
}

const (
	cbWordSize  = unsafe.Sizeof(controlBlock{})
	ptrWordSize = unsafe.Sizeof(uintptr(0))
)

// reserveSpan bump-allocates cbSize+ (ptrWordSize if withRTD) +payload
// bytes for payloadAlign-aligned payload of payloadSize bytes, installing
// a page-jump control block and crossing into a freshly allocated page
// whenever the current tail page can't fit the span (§4.2 "put
// algorithm", §4.3 "page jump"). The caller must have already verified
// the span fits within a single page's usable span.
func (q *Queue) reserveSpan(payloadSize, payloadAlign uintptr, withRTD bool) (cbAddr, rtdAddr, payloadAddr uintptr, err error) {
	if q.tailPage == 0 {
		base, aerr := q.alloc.AllocatePage()
		if aerr != nil {
			return 0, 0, 0, aerr
		}
		q.tailPage = uintptr(base)
		q.tail = uintptr(base)
		q.headPage = q.tailPage
		q.head = q.tail
	}

	for {
		cbAddr = alignUp(q.tail, q.minAlignment)
		bodyStart := cbAddr + cbWordSize
		if withRTD {
			rtdAddr = bodyStart
			bodyStart += ptrWordSize
		} else {
			rtdAddr = 0
		}
		payloadAddr = alignUp(bodyStart, payloadAlign)
		nextCB := alignUp(payloadAddr+payloadSize, q.minAlignment)
		pageLimit := q.tailPage + usablePageSpan(q.pageSize)

		if nextCB <= pageLimit {
			q.tail = nextCB
			return cbAddr, rtdAddr, payloadAddr, nil
		}

		newBase, aerr := q.alloc.AllocatePage()
		if aerr != nil {
			return 0, 0, 0, aerr
		}
		cbOf(unsafe.Pointer(cbAddr)).storeRelease(uintptr(newBase), cbPageJump)
		q.tailPage = uintptr(newBase)
		q.tail = uintptr(newBase)
	}
}

func (q *Queue) fitsInPage(size, align uintptr) bool {
	required := cbWordSize + ptrWordSize + (align - 1) + size
	return required <= usablePageSpan(q.pageSize)
}

// reserveTransaction places rtd's payload either in-page or, if it's too
// large for a single page, in an externally allocated block referenced by
// an in-page externalDescriptor (§3.6, §4.3).
func (q *Queue) reserveTransaction(rtd RTD, reentrant bool) (*PutTransaction, error) {
	size, align := rtd.Size(), rtd.Alignment()
	if align < q.minAlignment {
		align = q.minAlignment
	}
	if !q.fitsInPage(size, align) {
		return q.reserveExternalTransaction(rtd, reentrant, size, align)
	}

	cbAddr, rtdAddr, payloadAddr, err := q.reserveSpan(size, align, true)
	if err != nil {
		return nil, err
	}
	*rtdAt(rtdAddr) = rtd
	tag := cbClear
	if reentrant {
		tag = cbBusy
	}
	cbOf(unsafe.Pointer(cbAddr)).storeRelease(q.tail, tag)
	return &PutTransaction{
		q: q, cbAddr: cbAddr, payload: unsafe.Pointer(payloadAddr),
		rtdAddr: rtdAddr, rtd: rtd, reentrant: reentrant, state: txnPending,
	}, nil
}

func (q *Queue) reserveExternalTransaction(rtd RTD, reentrant bool, size, align uintptr) (*PutTransaction, error) {
	ptr, err := q.alloc.Allocate(size, align)
	if err != nil {
		return nil, err
	}
	descSize := unsafe.Sizeof(externalDescriptor{})
	descAlign := unsafe.Alignof(externalDescriptor{})
	cbAddr, rtdAddr, descAddr, err := q.reserveSpan(descSize, descAlign, true)
	if err != nil {
		q.alloc.Deallocate(ptr, size, align)
		return nil, err
	}
	*rtdAt(rtdAddr) = rtd
	*(*externalDescriptor)(unsafe.Pointer(descAddr)) = externalDescriptor{ptr: ptr, size: size, alignment: align}

	tag := cbExternal
	if reentrant {
		tag |= cbBusy
	}
	cbOf(unsafe.Pointer(cbAddr)).storeRelease(q.tail, tag)
	return &PutTransaction{
		q: q, cbAddr: cbAddr, payload: ptr, rtdAddr: rtdAddr, rtd: rtd,
		reentrant: reentrant, state: txnPending, extSize: size, extAlign: align,
	}, nil
}

// rawAllocate reserves a side block with no associated RTD (§3.7). Blocks
// that fit in the current page are embedded directly and freed as dead
// page bytes when crossed; oversized blocks are allocated out-of-page and
// referenced by an in-page externalDescriptor, identically to an external
// element except the control block is marked dead immediately since
// there's no element to construct, commit, or consume.
func (q *Queue) rawAllocate(size, alignment uintptr) (unsafe.Pointer, error) {
	if alignment == 0 {
		alignment = 1
	}
	if q.fitsInPage(size, alignment) {
		cbAddr, _, payloadAddr, err := q.reserveSpan(size, alignment, false)
		if err != nil {
			return nil, err
		}
		cbOf(unsafe.Pointer(cbAddr)).storeRelease(q.tail, cbDead)
		return unsafe.Pointer(payloadAddr), nil
	}

	ptr, err := q.alloc.Allocate(size, alignment)
	if err != nil {
		return nil, err
	}
	descSize := unsafe.Sizeof(externalDescriptor{})
	descAlign := unsafe.Alignof(externalDescriptor{})
	cbAddr, _, descAddr, err := q.reserveSpan(descSize, descAlign, false)
	if err != nil {
		q.alloc.Deallocate(ptr, size, alignment)
		return nil, err
	}
	*(*externalDescriptor)(unsafe.Pointer(descAddr)) = externalDescriptor{ptr: ptr, size: size, alignment: alignment}
	cbOf(unsafe.Pointer(cbAddr)).storeRelease(q.tail, cbDead|cbExternal)
	return ptr, nil
}

// reclaim advances head across any run of dead, page-jump, or external-dead
// slots left behind by committed consumes, returning vacated pages to the
// allocator (§4.2 "reclamation").
func (q *Queue) reclaim() {
	for !q.Empty() {
		cb := cbOf(unsafe.Pointer(q.head))
		next, tag := cb.loadAcquire()
		switch {
		case tag == cbPageJump:
			old := q.headPage
			q.headPage = next
			q.head = next
			q.alloc.DeallocatePage(unsafe.Pointer(old))
		case tag.has(cbDead) && tag.has(cbExternal):
			desc := (*externalDescriptor)(unsafe.Pointer(q.head + cbWordSize))
			q.alloc.Deallocate(desc.ptr, desc.size, desc.alignment)
			q.head = next
		case tag.has(cbDead):
			q.head = next
		default:
			return
		}
	}
}

// Push constructs value in place and publishes it immediately (§4.2
// non-reentrant put).
func Push[T any](q *Queue, value T) error {
	tx, err := StartPush(q, value)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// StartPush begins a non-reentrant put of value, returning a transaction
// the caller must Commit or Cancel.
func StartPush[T any](q *Queue, value T) (*PutTransaction, error) {
	rtd := Make[T](DefaultFeatures)
	tx, err := q.reserveTransaction(rtd, false)
	if err != nil {
		return nil, err
	}
	*(*T)(tx.payload) = value
	return tx, nil
}

// Emplace constructs the element in place via ctor, avoiding an extra copy
// for expensive-to-copy T (the Go analogue of the source's variadic
// in-place emplace, adapted since Go has no constructor-argument packs).
func Emplace[T any](q *Queue, ctor func() T) (tx *PutTransaction, err error) {
	rtd := Make[T](DefaultFeatures)
	tx, err = q.reserveTransaction(rtd, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Cancel()
			tx, err = nil, constructError(r)
		}
	}()
	*(*T)(tx.payload) = ctor()
	return tx, nil
}

// ReentrantPush is like Push but goes through a reentrant transaction,
// which it commits before returning. To keep the element hidden from
// consumers (tagged BUSY) while further elements are pushed onto q, use
// StartReentrantPush and Commit later (§4.2 "reentrancy").
func ReentrantPush[T any](q *Queue, value T) error {
	tx, err := StartReentrantPush(q, value)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// StartReentrantPush begins a reentrant put of value.
func StartReentrantPush[T any](q *Queue, value T) (*PutTransaction, error) {
	rtd := Make[T](DefaultFeatures)
	tx, err := q.reserveTransaction(rtd, true)
	if err != nil {
		return nil, err
	}
	*(*T)(tx.payload) = value
	return tx, nil
}

// DynPushCopy pushes a copy of the value at src, dynamically typed by rtd.
func DynPushCopy(q *Queue, rtd RTD, src unsafe.Pointer) error {
	tx, err := StartDynPushCopy(q, rtd, src)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// StartDynPushCopy begins a dynamically-typed copying put.
func StartDynPushCopy(q *Queue, rtd RTD, src unsafe.Pointer) (*PutTransaction, error) {
	tx, err := q.reserveTransaction(rtd, false)
	if err != nil {
		return nil, err
	}
	if err := rtd.CopyConstruct(tx.payload, src); err != nil {
		_ = tx.Cancel()
		return nil, err
	}
	return tx, nil
}

// DynPushMove pushes the value at src by moving it out, leaving *src
// zeroed (§4.1 move semantics).
func DynPushMove(q *Queue, rtd RTD, src unsafe.Pointer) error {
	tx, err := StartDynPushMove(q, rtd, src)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// StartDynPushMove begins a dynamically-typed moving put.
func StartDynPushMove(q *Queue, rtd RTD, src unsafe.Pointer) (*PutTransaction, error) {
	tx, err := q.reserveTransaction(rtd, false)
	if err != nil {
		return nil, err
	}
	if err := rtd.MoveConstruct(tx.payload, src); err != nil {
		_ = tx.Cancel()
		return nil, err
	}
	return tx, nil
}

// DynPush pushes the value at src, moving it if rtd supports moves and
// falling back to a copy otherwise (the source's "dyn_push" default).
func DynPush(q *Queue, rtd RTD, src unsafe.Pointer) error {
	if err := DynPushMove(q, rtd, src); err == nil {
		return nil
	} else if !errors.Is(err, ErrUnsupported) {
		return err
	}
	return DynPushCopy(q, rtd, src)
}

// StartDynPush is the transactional counterpart of DynPush.
func StartDynPush(q *Queue, rtd RTD, src unsafe.Pointer) (*PutTransaction, error) {
	if tx, err := StartDynPushMove(q, rtd, src); err == nil {
		return tx, nil
	} else if !errors.Is(err, ErrUnsupported) {
		return nil, err
	}
	return StartDynPushCopy(q, rtd, src)
}

// TryStartConsume begins removing the element at head, returning
// ErrWouldBlock if the queue is empty or the head element is a reentrant
// put still in flight (§4.2 "consume algorithm").
func (q *Queue) TryStartConsume() (*ConsumeOperation, error) {
	return q.startConsume()
}

// TryStartReentrantConsume is identical to TryStartConsume: the BUSY
// protocol a consume applies is the same whether or not the consumer
// itself intends to push more elements before committing, so only the
// put side needs a distinct reentrant code path (§4.2).
func (q *Queue) TryStartReentrantConsume() (*ConsumeOperation, error) {
	return q.startConsume()
}

// startConsume walks head forward skipping any CB tagged DEAD or
// page-jump (§4.2 consume algorithm step 1) before claiming the first
// live CB; reclaim() already implements exactly that walk (freeing
// external-dead blocks and vacated pages as it goes), so it's called
// here rather than duplicated.
func (q *Queue) startConsume() (*ConsumeOperation, error) {
	q.reclaim()
	if q.Empty() {
		return nil, ErrWouldBlock
	}
	cb := cbOf(unsafe.Pointer(q.head))
	next, tag := cb.loadAcquire()
	if tag.has(cbBusy) {
		return nil, ErrWouldBlock
	}
	cb.storeRelease(next, tag|cbBusy)

	rtdAddr := q.head + cbWordSize
	rtd := *rtdAt(rtdAddr)
	bodyStart := rtdAddr + ptrWordSize

	op := &ConsumeOperation{q: q, cbAddr: q.head, rtd: rtd, state: txnPending}
	if tag.has(cbExternal) {
		descAddr := alignUp(bodyStart, unsafe.Alignof(externalDescriptor{}))
		desc := (*externalDescriptor)(unsafe.Pointer(descAddr))
		op.extDesc = desc
		op.payload = desc.ptr
	} else {
		op.payload = unsafe.Pointer(alignUp(bodyStart, rtd.Alignment()))
	}
	return op, nil
}

// Pop removes and returns the head element as T, failing with
// ErrBadCast if the head element isn't a T, or ErrWouldBlock if the queue
// is empty (Pop never blocks — that signal is itself the "try" result, so
// there's no separate blocking variant).
func Pop[T any](q *Queue) (T, error) {
	var zero T
	op, err := q.TryStartConsume()
	if err != nil {
		return zero, err
	}
	v, err := ConsumeElement[T](op)
	if err != nil {
		_ = op.Cancel()
		return zero, err
	}
	if err := op.Commit(); err != nil {
		return zero, err
	}
	return v, nil
}

// TryPop is an alias of Pop kept for symmetry with the Try* put family.
func TryPop[T any](q *Queue) (T, error) {
	return Pop[T](q)
}

// PopAny removes the head element and boxes it as any, for callers that
// don't know the element's static type ahead of time.
func (q *Queue) PopAny() (any, error) {
	op, err := q.TryStartConsume()
	if err != nil {
		return nil, err
	}
	v := reflect.NewAt(op.rtd.RTTI(), op.payload).Elem().Interface()
	if err := op.Commit(); err != nil {
		return nil, err
	}
	return v, nil
}

// Clear removes and destroys every element.
func (q *Queue) Clear() {
	for {
		op, err := q.TryStartConsume()
		if err != nil {
			return
		}
		_ = op.Commit()
	}
}

// Swap exchanges the contents of q and other in constant time (§4.5 "Other
// operations"; the Go analogue of the source's swap, since both queues are
// plain structs of cursors and an allocator reference).
func (q *Queue) Swap(other *Queue) {
	*q, *other = *other, *q
}

// Clone returns a deep copy of q: every live element is copy-constructed
// into a fresh Queue sharing q's PageAllocator and minAlignment (§4.5
// "Other operations"). Fails with ErrUnsupported if any live element's RTD
// was built without FeatureCopyConstruct.
func (q *Queue) Clone() (*Queue, error) {
	clone, err := NewQueue(q.alloc, q.minAlignment)
	if err != nil {
		return nil, err
	}
	for it := q.Begin(); it.Valid(); it.Next() {
		rtd := it.RTD()
		tx, err := clone.reserveTransaction(rtd, false)
		if err != nil {
			return nil, err
		}
		if err := rtd.CopyConstruct(tx.ElementPtr(), it.ElementPtr()); err != nil {
			_ = tx.Cancel()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

// Iterator walks a Queue's live elements from head to tail without
// removing them (§4.2 "forward iteration").
type Iterator struct {
	q    *Queue
	cur  uintptr // 0 denotes End()
	page uintptr // page cur belongs to, to detect "reached tail" across a jump
}

// Begin returns an iterator positioned at the first live element, or an
// iterator equal to End() if the queue is empty.
func (q *Queue) Begin() Iterator {
	it := Iterator{q: q, cur: q.head, page: q.headPage}
	it.skipDead()
	return it
}

// End returns the sentinel past-the-end iterator.
func (q *Queue) End() Iterator {
	return Iterator{q: q}
}

func (it *Iterator) skipDead() {
	for it.cur != 0 {
		if it.cur == it.q.tail && it.page == it.q.tailPage {
			it.cur = 0
			return
		}
		cb := cbOf(unsafe.Pointer(it.cur))
		next, tag := cb.loadAcquire()
		switch {
		case tag == cbPageJump:
			it.page = next
			it.cur = next
		case tag.has(cbDead):
			it.cur = next
		default:
			return
		}
	}
}

// Valid reports whether it refers to a live element.
func (it Iterator) Valid() bool {
	return it.cur != 0
}

// Next advances it to the following live element.
func (it *Iterator) Next() {
	if it.cur == 0 {
		return
	}
	cb := cbOf(unsafe.Pointer(it.cur))
	next, _ := cb.loadAcquire()
	it.cur = next
	it.skipDead()
}

// RTD returns the descriptor of the element it currently refers to.
func (it Iterator) RTD() RTD {
	if it.cur == 0 {
		return Empty()
	}
	return *rtdAt(it.cur + cbWordSize)
}

// ElementPtr returns a pointer to the element it currently refers to.
func (it Iterator) ElementPtr() unsafe.Pointer {
	if it.cur == 0 {
		return nil
	}
	rtd := it.RTD()
	cb := cbOf(unsafe.Pointer(it.cur))
	_, tag := cb.loadAcquire()
	bodyStart := it.cur + cbWordSize + ptrWordSize
	if tag.has(cbExternal) {
		descAddr := alignUp(bodyStart, unsafe.Alignof(externalDescriptor{}))
		desc := (*externalDescriptor)(unsafe.Pointer(descAddr))
		return desc.ptr
	}
	return unsafe.Pointer(alignUp(bodyStart, rtd.Alignment()))
}

// Equal compares two iterators by position, not by identity: two distinct
// Iterator values positioned at the same element (or both at End())
// compare equal, and an iterator always compares equal to itself (§9,
// resolving the source's self-comparison defect by comparing the
// referenced slot rather than the iterator's own address).
func (it Iterator) Equal(other Iterator) bool {
	return it.q == other.q && it.cur == other.cur
}
