// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package hetq provides heterogeneous FIFO queues: queues that hold
// elements of any mix of types in a single instance, each element
// remembering its own type through a runtime type descriptor (RTD).
//
// The package offers two queue variants:
//
//   - Queue: paginated, non-concurrent — safe for one goroutine at a time.
//   - Concurrent: lock-free, for any mix of producer/consumer goroutines.
//
// # Quick Start
//
//	q, err := hetq.New().Build()
//	if err != nil {
//	    // handle page allocator construction failure
//	}
//
//	if err := hetq.Push(q, 42); err != nil {
//	    // handle out-of-memory
//	}
//	if err := hetq.Push(q, "mixed in the same queue"); err != nil {
//	    // handle out-of-memory
//	}
//
//	v, err := hetq.Pop[int](q)
//	if err == nil {
//	    fmt.Println(v)
//	}
//
// # Runtime type descriptors
//
// RTD is the handle every element carries. Make builds (or reuses, from a
// process-wide registry) the descriptor for a (type, feature list) pair:
//
//	rtd := hetq.Make[Event](hetq.DefaultFeatures)
//	fmt.Println(rtd.Size(), rtd.Alignment())
//
// Features the concrete type doesn't implement fall back to reflection
// (Equatable, Lessable) or to a hash of the value's raw bytes (Hashable);
// a type can opt in to skip the copy
// feature by implementing HetqNoCopy().
//
// # Transactional put and consume
//
// Push/Pop are sugar over a two-phase protocol: Start* returns a
// transaction the caller must Commit or Cancel, which is how raw side
// blocks and reentrant puts are supported:
//
//	tx, err := hetq.StartPush(q, Event{ID: 1})
//	if err != nil {
//	    return err
//	}
//	buf, err := tx.RawAllocateCopy(payload) // attach an uninterpreted blob
//	if err != nil {
//	    tx.Cancel()
//	    return err
//	}
//	_ = buf
//	return tx.Commit()
//
// Reentrant puts (StartReentrantPush) stay hidden from consumers until
// Commit, so a producer may enqueue further elements — even onto the same
// queue — before publishing the first one; see the package tests for the
// resulting interleaving scenario.
//
// # Lock-free Concurrent queues
//
// Concurrent reuses the same page-and-control-block layout under CAS
// instead of single-goroutine bump pointers. Declare how many goroutines
// will put/consume so the right CAS discipline is used:
//
//	cq, err := hetq.New().
//	    Producers(hetq.MultipleProducers).
//	    Consumers(hetq.SingleConsumer).
//	    BuildConcurrent()
//
//	go func() {
//	    backoff := iox.Backoff{}
//	    for {
//	        if err := hetq.ConcurrentPush(cq, nextEvent()); err != nil {
//	            backoff.Wait()
//	            continue
//	        }
//	        backoff.Reset()
//	    }
//	}()
//
//	for {
//	    ev, err := hetq.ConcurrentPop[Event](cq)
//	    if hetq.IsWouldBlock(err) {
//	        continue
//	    }
//	    process(ev)
//	}
//
// # Error handling
//
// Consume operations that find no consumable element return
// [ErrWouldBlock], sourced from [code.hybscloud.com/iox] for ecosystem
// consistency:
//
//	backoff := iox.Backoff{}
//	for {
//	    ev, err := hetq.ConcurrentPop[Event](cq)
//	    if err == nil {
//	        process(ev)
//	        backoff.Reset()
//	        break
//	    }
//	    if !hetq.IsWouldBlock(err) {
//	        return err // Unexpected error
//	    }
//	    backoff.Wait()
//	}
//
// # Race detection
//
// Concurrent's CAS protocol establishes happens-before through
// acquire-release atomics the race detector cannot observe as such, so
// concurrent stress tests skip themselves when [RaceEnabled] is true
// (builds with -race).
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for atomic primitives with explicit memory
// ordering, and [code.hybscloud.com/spin] for CPU-pause CAS backoff.
package hetq
