// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import "unsafe"

// PutTransaction is a two-phase element insertion (§4.2, heter_queue.h's
// put_transaction). The element is constructed as soon as the transaction
// is returned; Commit publishes it, Cancel destroys it and marks its slot
// DEAD. A transaction that is dropped without Commit or Cancel is not
// cancelled: a non-reentrant element stays visible to consumers and a
// reentrant one stays BUSY.
type PutTransaction struct {
	q         *Queue
	cbAddr    uintptr
	payload   unsafe.Pointer
	rtdAddr   uintptr
	rtd       RTD
	reentrant bool
	state     txnState

	// extSize/extAlign are set when payload was allocated out-of-page
	// (§3.6); Cancel must then release it explicitly since nothing else
	// references it yet.
	extSize, extAlign uintptr
}

type txnState uint8

const (
	txnPending txnState = iota
	txnCommitted
	txnCancelled
)

// Element copies the in-flight value out as T, failing with ErrBadCast if
// the transaction's RTD does not describe T.
func Element[T any](tx *PutTransaction) (T, error) {
	return As[T](tx.rtd, tx.payload)
}

// ElementPtr returns a pointer to the in-flight payload, valid until
// Commit or Cancel.
func (tx *PutTransaction) ElementPtr() unsafe.Pointer {
	return tx.payload
}

// CompleteType returns the RTD bound to the in-flight element.
func (tx *PutTransaction) CompleteType() RTD {
	return tx.rtd
}

// Commit publishes the element. For a non-reentrant transaction the
// element was already visible (§4.2 put algorithm step 4), so this only
// flips internal bookkeeping; for a reentrant transaction it clears BUSY.
func (tx *PutTransaction) Commit() error {
	if tx.state != txnPending {
		return ErrPreconditionViolated
	}
	if tx.reentrant {
		cb := cbOf(unsafe.Pointer(tx.cbAddr))
		next, tag := cb.loadRelaxed()
		cb.storeRelease(next, tag&^cbBusy)
	}
	tx.state = txnCommitted
	return nil
}

// Cancel destroys the in-flight element and marks its slot DEAD. The
// cancelled slot is then reclaimed immediately if it lies at head, so
// Empty() reflects consumable state right away rather than waiting for a
// future consume to cross it (§8 property 3: emptiness means no
// consumable element exists between head and tail, not merely
// head==tail structurally).
func (tx *PutTransaction) Cancel() error {
	if tx.state != txnPending {
		return ErrPreconditionViolated
	}
	tx.destroyAndMarkDead()
	tx.q.reclaim()
	tx.state = txnCancelled
	return nil
}

func (tx *PutTransaction) destroyAndMarkDead() {
	_ = tx.rtd.Destroy(tx.payload)
	cb := cbOf(unsafe.Pointer(tx.cbAddr))
	next, tag := cb.loadRelaxed()
	if tag.has(cbExternal) {
		tx.q.alloc.Deallocate(tx.payload, tx.extSize, tx.extAlign)
	}
	cb.storeRelease(next, cbDead)
}

// RawAllocate reserves a raw side block of size bytes at alignment,
// associated with this transaction's in-flight element (§3.7, §4.2
// raw_allocate). The block carries no RTD and is never destructed; it is
// freed automatically when a consumer crosses it during reclaim.
func (tx *PutTransaction) RawAllocate(size, alignment uintptr) (unsafe.Pointer, error) {
	if tx.state != txnPending {
		return nil, ErrPreconditionViolated
	}
	return tx.q.rawAllocate(size, alignment)
}

// RawAllocateCopy bulk-copies data into a fresh raw block.
func (tx *PutTransaction) RawAllocateCopy(data []byte) (unsafe.Pointer, error) {
	p, err := tx.RawAllocate(uintptr(len(data)), 1)
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		dst := unsafe.Slice((*byte)(p), len(data))
		copy(dst, data)
	}
	return p, nil
}

// ConsumeOperation is a two-phase element removal (§4.2, consume_operation).
// The element disappears from the queue as soon as the operation is
// returned; Commit destroys it and advances head, Cancel restores it to
// consumable state.
type ConsumeOperation struct {
	q       *Queue
	cbAddr  uintptr
	payload unsafe.Pointer
	rtd     RTD
	state   txnState

	// extDesc is non-nil when the element was stored out-of-page; payload
	// then points at extDesc.ptr rather than into the page itself (§3.6).
	extDesc *externalDescriptor
}

// ConsumeElement copies the consumed value out as T.
func ConsumeElement[T any](op *ConsumeOperation) (T, error) {
	return As[T](op.rtd, op.payload)
}

// ElementPtr returns a pointer to the consumed payload, valid until Commit
// or Cancel.
func (op *ConsumeOperation) ElementPtr() unsafe.Pointer {
	return op.payload
}

// CompleteType returns the RTD bound to the consumed element.
func (op *ConsumeOperation) CompleteType() RTD {
	return op.rtd
}

// Commit destroys the element, marks DEAD, and reclaims any run of DEAD
// slots (and the pages they vacate) starting at head.
func (op *ConsumeOperation) Commit() error {
	if op.state != txnPending {
		return ErrPreconditionViolated
	}
	cb := cbOf(unsafe.Pointer(op.cbAddr))
	next, _ := cb.loadRelaxed()
	_ = op.rtd.Destroy(op.payload)
	if op.extDesc != nil {
		op.q.alloc.Deallocate(op.extDesc.ptr, op.extDesc.size, op.extDesc.alignment)
	}
	cb.storeRelease(next, cbDead)
	op.q.reclaim()
	op.state = txnCommitted
	return nil
}

// Cancel restores the element to consumable state without destroying it.
func (op *ConsumeOperation) Cancel() error {
	if op.state != txnPending {
		return ErrPreconditionViolated
	}
	cb := cbOf(unsafe.Pointer(op.cbAddr))
	next, tag := cb.loadRelaxed()
	restored := cbClear
	if tag.has(cbExternal) {
		restored = cbExternal
	}
	cb.storeRelease(next, restored)
	op.state = txnCancelled
	return nil
}
