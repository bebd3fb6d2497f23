// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// Consume operations (TryStartConsume, Pop, ConcurrentPop, ...) return it
// when the queue is observably empty or its head element is still in
// flight. Put operations return it only if the PageAllocator itself does.
//
// ErrWouldBlock is a control flow signal, not a failure. The caller should
// retry the operation later (with backoff) rather than propagating the
// error.
//
// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
//
// Example:
//
//	backoff := iox.Backoff{}
//	for {
//	    op, err := cq.TryStartConsume()
//	    if err == nil {
//	        op.Commit()
//	        backoff.Reset()
//	        break
//	    }
//	    if hetq.IsWouldBlock(err) {
//	        backoff.Wait()
//	        continue
//	    }
//	    return err // Unexpected error
//	}
var ErrWouldBlock = iox.ErrWouldBlock

// ErrOutOfMemory is available for PageAllocator implementations to report
// that a page or external-block request cannot be satisfied. Put
// operations return the allocator's error unchanged and no element becomes
// observable; the default heap-backed allocator never returns it.
var ErrOutOfMemory = errors.New("hetq: out of memory")

// ErrConstructorFailed is returned when a user element constructor panics
// while building an in-flight element, or a feature implementation reports
// construction failure. The slot is marked DEAD and the transaction ends
// cancelled; the queue itself remains valid.
var ErrConstructorFailed = errors.New("hetq: element constructor failed")

// ErrUnsupported is returned when a feature is invoked against an RTD
// whose feature list does not carry it, or a mandatory feature (e.g.
// CopyConstruct) is requested for a type that opts out of it.
var ErrUnsupported = errors.New("hetq: feature not supported by type")

// ErrPreconditionViolated is returned on API misuse: committing an already
// committed or cancelled transaction, or operating on one after it ended.
var ErrPreconditionViolated = errors.New("hetq: precondition violated")

// ErrBadCast is returned by As when an RTD does not describe the requested
// static type.
var ErrBadCast = errors.New("hetq: bad cast")

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

// constructError wraps a user element constructor's panic value (the Go
// stand-in for a throwing C++ constructor) as an error chained from
// ErrConstructorFailed.
func constructError(recovered any) error {
	return fmt.Errorf("%w: %v", ErrConstructorFailed, recovered)
}
