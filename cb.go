// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"unsafe"

	"code.hybscloud.com/atomix"
)

// cbTag occupies the low bits of a control block's next pointer (§3.4).
// Three bits are reserved, so minAlignment must be at least 8 — the
// source bug noted in spec.md §9 ("it is unclear whether the source
// guarantees three free low bits when min_alignment is configured by the
// user to be below 8") is resolved here by rejecting such configurations
// at queue-construction time instead of silently corrupting the tag.
type cbTag uintptr

const (
	cbClear    cbTag = 0
	cbBusy     cbTag = 1 << 0
	cbDead     cbTag = 1 << 1
	cbExternal cbTag = 1 << 2
	cbTagMask  cbTag = cbBusy | cbDead | cbExternal
	cbAddrMask        = ^uintptr(cbTagMask)

	// cbPageJump repurposes the otherwise-impossible all-bits-set tag (an
	// element can never be simultaneously busy, dead, and external) as the
	// page-jump marker: next holds the base address of the following page
	// instead of a sibling control block (§4.3 "page jump").
	cbPageJump cbTag = cbBusy | cbDead | cbExternal

	// minTagBits is the number of low bits the tag requires; minAlignment
	// must be >= 1<<minTagBits (§9 "Tagged pointers").
	minTagBits = 3
	minAlignmentFloor uintptr = 1 << minTagBits
)

// controlBlock is the per-element header stored inline in a page (§3.4).
// next packs the address of the following control block with the
// element's state tag into a single machine word, updated atomically so
// the lock-free queue's producers and consumers can make progress without
// a lock (§4.4).
type controlBlock struct {
	next atomix.Uintptr
}

func packNext(addr uintptr, tag cbTag) uintptr {
	return (addr & cbAddrMask) | uintptr(tag&cbTagMask)
}

func unpackNext(v uintptr) (addr uintptr, tag cbTag) {
	return v & cbAddrMask, cbTag(v) & cbTagMask
}

// cbOf reinterprets p as a *controlBlock. p must be minAlignment-aligned.
func cbOf(p unsafe.Pointer) *controlBlock {
	return (*controlBlock)(p)
}

// loadRelaxed/loadAcquire/storeRelaxed/storeRelease mirror the teacher's
// atomix usage for single-word tagged state (compare mpmc128Slot.entry in
// mpmc_128.go, which packs cycle+value into one atomic word the same way
// next packs address+tag here).

func (cb *controlBlock) loadRelaxed() (uintptr, cbTag) {
	return unpackNext(cb.next.LoadRelaxed())
}

func (cb *controlBlock) loadAcquire() (uintptr, cbTag) {
	return unpackNext(cb.next.LoadAcquire())
}

func (cb *controlBlock) storeRelaxed(addr uintptr, tag cbTag) {
	cb.next.StoreRelaxed(packNext(addr, tag))
}

func (cb *controlBlock) storeRelease(addr uintptr, tag cbTag) {
	cb.next.StoreRelease(packNext(addr, tag))
}

// casAcqRel attempts to move the CB from (addr,oldTag) to (addr,newTag),
// used to claim BUSY and to clear it on commit/cancel under contention.
func (cb *controlBlock) casAcqRel(addr uintptr, oldTag, newTag cbTag) bool {
	return cb.next.CompareAndSwapAcqRel(packNext(addr, oldTag), packNext(addr, newTag))
}

func (t cbTag) has(bit cbTag) bool { return t&bit != 0 }
