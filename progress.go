// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

// ProgressGuarantee is requested by the PageAllocator's try-variants
// (TryAllocatePage, TryAllocate). The queues in this package do not call
// those methods and take no ProgressGuarantee of their own: their puts use
// the blocking AllocatePage and Allocate. The page allocator is free to
// offer a stronger guarantee than
// requested but must never offer a weaker one silently; it should instead
// fail the allocation.
type ProgressGuarantee int

const (
	// ProgressBlocking allows the allocator to block indefinitely.
	ProgressBlocking ProgressGuarantee = iota
	// ProgressObstructionFree guarantees progress for a thread running in
	// isolation, but not under contention.
	ProgressObstructionFree
	// ProgressLockFree guarantees that some thread always makes progress.
	ProgressLockFree
	// ProgressWaitFree guarantees that every thread makes progress within
	// a bounded number of steps.
	ProgressWaitFree
)

// String returns the canonical name of the progress guarantee.
func (p ProgressGuarantee) String() string {
	switch p {
	case ProgressBlocking:
		return "blocking"
	case ProgressObstructionFree:
		return "obstruction-free"
	case ProgressLockFree:
		return "lock-free"
	case ProgressWaitFree:
		return "wait-free"
	default:
		return "unknown"
	}
}
