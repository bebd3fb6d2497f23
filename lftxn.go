// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"unsafe"

	"code.hybscloud.com/spin"
)

// ConcurrentPutTransaction is the lock-free counterpart of PutTransaction
// (§4.4). The slot is reserved via a CAS loop on Concurrent.tail before the
// transaction is returned, so by the time the caller sees one the element
// already has exclusive ownership of its memory.
type ConcurrentPutTransaction struct {
	c         *Concurrent
	cbAddr    uintptr
	payload   unsafe.Pointer
	rtdAddr   uintptr
	rtd       RTD
	reentrant bool
	state     txnState

	extSize, extAlign uintptr
}

// ConcurrentElement copies the in-flight value out as T.
func ConcurrentElement[T any](tx *ConcurrentPutTransaction) (T, error) {
	return As[T](tx.rtd, tx.payload)
}

// ElementPtr returns a pointer to the in-flight payload.
func (tx *ConcurrentPutTransaction) ElementPtr() unsafe.Pointer {
	return tx.payload
}

// CompleteType returns the RTD bound to the in-flight element.
func (tx *ConcurrentPutTransaction) CompleteType() RTD {
	return tx.rtd
}

// Commit publishes the element, clearing BUSY for reentrant transactions
// with a CAS loop so a racing consumer retry never observes a torn tag.
func (tx *ConcurrentPutTransaction) Commit() error {
	if tx.state != txnPending {
		return ErrPreconditionViolated
	}
	if tx.reentrant {
		cb := cbOf(unsafe.Pointer(tx.cbAddr))
		var backoff spin.Wait
		for {
			next, tag := cb.loadAcquire()
			if cb.casAcqRel(next, tag, tag&^cbBusy) {
				break
			}
			backoff.Once()
		}
	}
	tx.state = txnCommitted
	return nil
}

// Cancel destroys the in-flight element and marks DEAD. advanceHead is
// attempted afterwards so a cancelled slot at head is reclaimed right
// away rather than left for some future consumer to cross (§8 property
// 3, the same Empty() correctness fix as PutTransaction.Cancel).
func (tx *ConcurrentPutTransaction) Cancel() error {
	if tx.state != txnPending {
		return ErrPreconditionViolated
	}
	_ = tx.rtd.Destroy(tx.payload)
	cb := cbOf(unsafe.Pointer(tx.cbAddr))
	var backoff spin.Wait
	for {
		next, tag := cb.loadAcquire()
		newTag := cbDead
		if tag.has(cbExternal) {
			newTag |= cbExternal
		}
		if cb.casAcqRel(next, tag, newTag) {
			break
		}
		backoff.Once()
	}
	if tx.extSize != 0 {
		tx.c.alloc.Deallocate(tx.payload, tx.extSize, tx.extAlign)
	}
	tx.c.advanceHead()
	tx.state = txnCancelled
	return nil
}

// RawAllocate reserves a raw side block, same contract as
// PutTransaction.RawAllocate.
func (tx *ConcurrentPutTransaction) RawAllocate(size, alignment uintptr) (unsafe.Pointer, error) {
	if tx.state != txnPending {
		return nil, ErrPreconditionViolated
	}
	return tx.c.rawAllocate(size, alignment)
}

// ConcurrentConsumeOperation is the lock-free counterpart of
// ConsumeOperation. The slot is claimed (CAS'd to BUSY, for the
// MultipleConsumers dial) before the operation is returned, so two
// consumers can never observe the same element.
type ConcurrentConsumeOperation struct {
	c       *Concurrent
	cbAddr  uintptr
	payload unsafe.Pointer
	rtd     RTD
	state   txnState
	extDesc *externalDescriptor
	page    uintptr
}

// ConcurrentConsumeElement copies the consumed value out as T.
func ConcurrentConsumeElement[T any](op *ConcurrentConsumeOperation) (T, error) {
	return As[T](op.rtd, op.payload)
}

// ElementPtr returns a pointer to the consumed payload.
func (op *ConcurrentConsumeOperation) ElementPtr() unsafe.Pointer {
	return op.payload
}

// CompleteType returns the RTD bound to the consumed element.
func (op *ConcurrentConsumeOperation) CompleteType() RTD {
	return op.rtd
}

// Commit destroys the element, marks DEAD, and attempts to advance the
// shared head cursor (§4.4 "consume commit").
func (op *ConcurrentConsumeOperation) Commit() error {
	if op.state != txnPending {
		return ErrPreconditionViolated
	}
	_ = op.rtd.Destroy(op.payload)
	if op.extDesc != nil {
		op.c.alloc.Deallocate(op.extDesc.ptr, op.extDesc.size, op.extDesc.alignment)
	}
	cb := cbOf(unsafe.Pointer(op.cbAddr))
	next, _ := cb.loadRelaxed()
	cb.storeRelease(next, cbDead)
	if op.c.consumers == MultipleConsumers {
		op.c.alloc.UnpinPage(unsafe.Pointer(op.page))
	}
	op.c.advanceHead()
	op.state = txnCommitted
	return nil
}

// Cancel restores the element to consumable state.
func (op *ConcurrentConsumeOperation) Cancel() error {
	if op.state != txnPending {
		return ErrPreconditionViolated
	}
	cb := cbOf(unsafe.Pointer(op.cbAddr))
	var backoff spin.Wait
	for {
		next, tag := cb.loadAcquire()
		restored := cbClear
		if tag.has(cbExternal) {
			restored = cbExternal
		}
		if cb.casAcqRel(next, tag, restored) {
			break
		}
		backoff.Once()
	}
	if op.c.consumers == MultipleConsumers {
		op.c.alloc.UnpinPage(unsafe.Pointer(op.page))
	}
	op.state = txnCancelled
	return nil
}
