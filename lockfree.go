// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"
)

// Concurrent is a lock-free heterogeneous FIFO queue (§4.4). It shares the
// page-and-control-block layout of Queue but every head/tail mutation goes
// through a CAS loop, matching the teacher's mpmc.go/mpsc.go approach of
// layering progressively more contention-tolerant algorithms over the same
// slot representation rather than inventing a second one.
//
// Claiming a slot and advancing head are CAS retry loops: some goroutine
// always makes progress, but an individual call can retry indefinitely
// under contention. Appending a new page is not lock-free: one producer
// installs the page jump while the others spin until it has finished (see
// installPageJump).
type Concurrent struct {
	alloc        PageAllocator
	pageSize     uintptr
	minAlignment uintptr

	producers   ProducerCardinality
	consumers   ConsumerCardinality
	consistency Consistency

	tail atomix.Uintptr
	head atomix.Uintptr

	jumping atomix.Bool // true while one producer installs a page jump
}

func newConcurrent(alloc PageAllocator, opts Options) (*Concurrent, error) {
	minAlignment := opts.minAlignment
	if minAlignment < minAlignmentFloor || !isPowerOfTwo(minAlignment) {
		return nil, ErrPreconditionViolated
	}
	base, err := alloc.AllocatePage()
	if err != nil {
		return nil, err
	}
	c := &Concurrent{
		alloc:        alloc,
		pageSize:     alloc.PageSize(),
		minAlignment: minAlignment,
		producers:    opts.producers,
		consumers:    opts.consumers,
		consistency:  opts.consistency,
	}
	c.tail.StoreRelaxed(uintptr(base))
	c.head.StoreRelaxed(uintptr(base))
	return c, nil
}

func (c *Concurrent) pageOf(addr uintptr) uintptr {
	return alignDown(addr, c.pageSize)
}

// Empty reports whether the queue currently has no live elements. Under
// concurrent producers this is inherently a snapshot, true only at the
// instant it was taken (§4.4 "observability").
func (c *Concurrent) Empty() bool {
	return c.head.LoadAcquire() == c.tail.LoadAcquire()
}

func (c *Concurrent) computeSpan(oldTail, payloadSize, payloadAlign uintptr, withRTD bool) (cbAddr, rtdAddr, payloadAddr, nextCB uintptr, fits bool) {
	cbAddr = alignUp(oldTail, c.minAlignment)
	bodyStart := cbAddr + cbWordSize
	if withRTD {
		rtdAddr = bodyStart
		bodyStart += ptrWordSize
	}
	payloadAddr = alignUp(bodyStart, payloadAlign)
	nextCB = alignUp(payloadAddr+payloadSize, c.minAlignment)
	pageLimit := c.pageOf(oldTail) + usablePageSpan(c.pageSize)
	return cbAddr, rtdAddr, payloadAddr, nextCB, nextCB <= pageLimit
}

func (c *Concurrent) fitsInPage(size, align uintptr) bool {
	required := cbWordSize + ptrWordSize + (align - 1) + size
	return required <= usablePageSpan(c.pageSize)
}

// installPageJump has one producer race to append a fresh page when the
// current tail page is full, CAS-publishing a cbPageJump control block at
// the old tail so every other producer's retry observes the new page
// through the ordinary tail-advance CAS (§4.4 "page jump under
// contention"). jumping is a single-flight latch: a producer that loses
// the race simply spins until the winner has finished.
func (c *Concurrent) installPageJump(oldTail uintptr) error {
	if !c.jumping.CompareAndSwapAcqRel(false, true) {
		var backoff spin.Wait
		for c.jumping.LoadAcquire() {
			backoff.Once()
		}
		return nil
	}
	defer c.jumping.StoreRelease(false)

	// Another producer may have already installed the jump while we were
	// acquiring the latch; re-check before allocating a page we'd waste.
	if c.tail.LoadAcquire() != oldTail {
		return nil
	}
	newBase, err := c.alloc.AllocatePage()
	if err != nil {
		return err
	}
	cbAddr := alignUp(oldTail, c.minAlignment)
	cbOf(unsafe.Pointer(cbAddr)).storeRelease(uintptr(newBase), cbPageJump)
	c.tail.StoreRelease(uintptr(newBase))
	return nil
}

func (c *Concurrent) reserveTransaction(rtd RTD, reentrant bool) (*ConcurrentPutTransaction, error) {
	size, align := rtd.Size(), rtd.Alignment()
	if align < c.minAlignment {
		align = c.minAlignment
	}
	if !c.fitsInPage(size, align) {
		return c.reserveExternalTransaction(rtd, reentrant, size, align)
	}

	var backoff spin.Wait
	for {
		oldTail := c.tail.LoadAcquire()
		cbAddr, rtdAddr, payloadAddr, nextCB, fits := c.computeSpan(oldTail, size, align, true)
		if !fits {
			if err := c.installPageJump(oldTail); err != nil {
				return nil, err
			}
			backoff.Once()
			continue
		}
		if !c.tail.CompareAndSwapAcqRel(oldTail, nextCB) {
			backoff.Once()
			continue
		}
		*rtdAt(rtdAddr) = rtd
		tag := cbClear
		if reentrant {
			tag = cbBusy
		}
		cbOf(unsafe.Pointer(cbAddr)).storeRelease(nextCB, tag)
		return &ConcurrentPutTransaction{
			c: c, cbAddr: cbAddr, payload: unsafe.Pointer(payloadAddr),
			rtdAddr: rtdAddr, rtd: rtd, reentrant: reentrant, state: txnPending,
		}, nil
	}
}

func (c *Concurrent) reserveExternalTransaction(rtd RTD, reentrant bool, size, align uintptr) (*ConcurrentPutTransaction, error) {
	ptr, err := c.alloc.Allocate(size, align)
	if err != nil {
		return nil, err
	}
	descSize := unsafe.Sizeof(externalDescriptor{})
	descAlign := unsafe.Alignof(externalDescriptor{})

	var backoff spin.Wait
	for {
		oldTail := c.tail.LoadAcquire()
		cbAddr, rtdAddr, descAddr, nextCB, fits := c.computeSpan(oldTail, descSize, descAlign, true)
		if !fits {
			if err := c.installPageJump(oldTail); err != nil {
				c.alloc.Deallocate(ptr, size, align)
				return nil, err
			}
			backoff.Once()
			continue
		}
		if !c.tail.CompareAndSwapAcqRel(oldTail, nextCB) {
			backoff.Once()
			continue
		}
		*rtdAt(rtdAddr) = rtd
		*(*externalDescriptor)(unsafe.Pointer(descAddr)) = externalDescriptor{ptr: ptr, size: size, alignment: align}
		tag := cbExternal
		if reentrant {
			tag |= cbBusy
		}
		cbOf(unsafe.Pointer(cbAddr)).storeRelease(nextCB, tag)
		return &ConcurrentPutTransaction{
			c: c, cbAddr: cbAddr, payload: ptr, rtdAddr: rtdAddr, rtd: rtd,
			reentrant: reentrant, state: txnPending, extSize: size, extAlign: align,
		}, nil
	}
}

// rawAllocate reserves a side block with no associated element, the
// concurrent counterpart of Queue.rawAllocate.
func (c *Concurrent) rawAllocate(size, alignment uintptr) (unsafe.Pointer, error) {
	if alignment == 0 {
		alignment = 1
	}
	var backoff spin.Wait
	if c.fitsInPage(size, alignment) {
		for {
			oldTail := c.tail.LoadAcquire()
			cbAddr, _, payloadAddr, nextCB, fits := c.computeSpan(oldTail, size, alignment, false)
			if !fits {
				if err := c.installPageJump(oldTail); err != nil {
					return nil, err
				}
				backoff.Once()
				continue
			}
			if !c.tail.CompareAndSwapAcqRel(oldTail, nextCB) {
				backoff.Once()
				continue
			}
			cbOf(unsafe.Pointer(cbAddr)).storeRelease(nextCB, cbDead)
			return unsafe.Pointer(payloadAddr), nil
		}
	}

	ptr, err := c.alloc.Allocate(size, alignment)
	if err != nil {
		return nil, err
	}
	descSize := unsafe.Sizeof(externalDescriptor{})
	descAlign := unsafe.Alignof(externalDescriptor{})
	for {
		oldTail := c.tail.LoadAcquire()
		cbAddr, _, descAddr, nextCB, fits := c.computeSpan(oldTail, descSize, descAlign, false)
		if !fits {
			if jerr := c.installPageJump(oldTail); jerr != nil {
				c.alloc.Deallocate(ptr, size, alignment)
				return nil, jerr
			}
			backoff.Once()
			continue
		}
		if !c.tail.CompareAndSwapAcqRel(oldTail, nextCB) {
			backoff.Once()
			continue
		}
		*(*externalDescriptor)(unsafe.Pointer(descAddr)) = externalDescriptor{ptr: ptr, size: size, alignment: alignment}
		cbOf(unsafe.Pointer(cbAddr)).storeRelease(nextCB, cbDead|cbExternal)
		return ptr, nil
	}
}

// advanceHead tries once to move the shared head cursor past any
// now-dead, page-jump, or external-dead run starting at its current
// position. Called after every successful consume commit; a failed CAS
// means another consumer (or the same one, concurrently) already moved
// head at least as far, which is itself forward progress, so the failure
// is silently dropped (§4.4 "cooperative reclamation").
func (c *Concurrent) advanceHead() {
	for {
		oldHead := c.head.LoadAcquire()
		if oldHead == c.tail.LoadAcquire() {
			return
		}
		cb := cbOf(unsafe.Pointer(oldHead))
		next, tag := cb.loadAcquire()
		switch {
		case tag == cbPageJump:
			if c.head.CompareAndSwapAcqRel(oldHead, next) {
				if c.alloc.PinCount(unsafe.Pointer(oldHead)) == 0 {
					c.alloc.DeallocatePage(unsafe.Pointer(c.pageOf(oldHead)))
				}
				continue
			}
			return
		case tag.has(cbDead) && tag.has(cbExternal):
			desc := (*externalDescriptor)(unsafe.Pointer(oldHead + cbWordSize))
			if c.head.CompareAndSwapAcqRel(oldHead, next) {
				c.alloc.Deallocate(desc.ptr, desc.size, desc.alignment)
				continue
			}
			return
		case tag.has(cbDead):
			if c.head.CompareAndSwapAcqRel(oldHead, next) {
				continue
			}
			return
		default:
			return
		}
	}
}

// TryStartConsume claims the element at head, returning ErrWouldBlock if
// the queue is observably empty or the head element's slot is currently
// owned by another in-flight operation.
func (c *Concurrent) TryStartConsume() (*ConcurrentConsumeOperation, error) {
	var backoff spin.Wait
	for {
		oldHead := c.head.LoadAcquire()
		if oldHead == c.tail.LoadAcquire() {
			return nil, ErrWouldBlock
		}
		page := c.pageOf(oldHead)
		if c.consumers == MultipleConsumers {
			c.alloc.PinPage(unsafe.Pointer(page))
		}
		cb := cbOf(unsafe.Pointer(oldHead))
		next, tag := cb.loadAcquire()
		if tag == cbPageJump {
			if c.consumers == MultipleConsumers {
				c.alloc.UnpinPage(unsafe.Pointer(page))
			}
			c.advanceHead()
			backoff.Once()
			continue
		}
		if tag.has(cbBusy) {
			if c.consumers == MultipleConsumers {
				c.alloc.UnpinPage(unsafe.Pointer(page))
			}
			return nil, ErrWouldBlock
		}
		if tag.has(cbDead) {
			// A cancelled or raw-allocated slot at head: reclaim it (like
			// the page-jump case above) instead of stalling a concurrent
			// consumer until an unrelated committer happens to advance
			// head past it.
			if c.consumers == MultipleConsumers {
				c.alloc.UnpinPage(unsafe.Pointer(page))
			}
			c.advanceHead()
			backoff.Once()
			continue
		}

		if c.consumers == MultipleConsumers {
			if !cb.casAcqRel(next, tag, tag|cbBusy) {
				c.alloc.UnpinPage(unsafe.Pointer(page))
				backoff.Once()
				continue
			}
		}

		rtdAddr := oldHead + cbWordSize
		rtd := *rtdAt(rtdAddr)
		bodyStart := rtdAddr + ptrWordSize
		op := &ConcurrentConsumeOperation{c: c, cbAddr: oldHead, rtd: rtd, state: txnPending, page: page}
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
}

// ConcurrentPush constructs value in place and publishes it immediately.
func ConcurrentPush[T any](c *Concurrent, value T) error {
	tx, err := StartConcurrentPush(c, value)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// StartConcurrentPush begins a non-reentrant put of value.
func StartConcurrentPush[T any](c *Concurrent, value T) (*ConcurrentPutTransaction, error) {
	rtd := Make[T](DefaultFeatures)
	tx, err := c.reserveTransaction(rtd, false)
	if err != nil {
		return nil, err
	}
	*(*T)(tx.payload) = value
	return tx, nil
}

// StartReentrantConcurrentPush begins a reentrant put of value, staying
// BUSY (invisible to consumers) until Commit.
func StartReentrantConcurrentPush[T any](c *Concurrent, value T) (*ConcurrentPutTransaction, error) {
	rtd := Make[T](DefaultFeatures)
	tx, err := c.reserveTransaction(rtd, true)
	if err != nil {
		return nil, err
	}
	*(*T)(tx.payload) = value
	return tx, nil
}

// ConcurrentPop removes and returns the head element as T.
func ConcurrentPop[T any](c *Concurrent) (T, error) {
	var zero T
	op, err := c.TryStartConsume()
	if err != nil {
		return zero, err
	}
	v, err := ConcurrentConsumeElement[T](op)
	if err != nil {
		_ = op.Cancel()
		return zero, err
	}
	if err := op.Commit(); err != nil {
		return zero, err
	}
	return v, nil
}
