// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

// ProducerCardinality selects how many goroutines may put concurrently
// into a Concurrent queue (§4.4).
type ProducerCardinality int

const (
	SingleProducer ProducerCardinality = iota
	MultipleProducers
)

// ConsumerCardinality selects how many goroutines may consume concurrently
// from a Concurrent queue (§4.4).
type ConsumerCardinality int

const (
	SingleConsumer ConsumerCardinality = iota
	MultipleConsumers
)

// Consistency selects the ordering guarantee a Concurrent queue provides
// relative to real time across producers (§4.4 "Consistency dials").
type Consistency int

const (
	// Relaxed allows elements from different producers to interleave in
	// any order consistent with each producer's own program order.
	Relaxed Consistency = iota
	// Sequential is recorded on the queue, but the put and consume paths
	// are the same as under Relaxed: every cursor and tag update uses the
	// same acquire/release atomics, and commits are not ordered by any
	// additional global sequence.
	Sequential
)

// Options configures queue creation, mirroring the source's
// runtime_type/queue construction parameters plus the Go-specific
// PageAllocator plug point (§6.2).
type Options struct {
	pageSize     uintptr
	minAlignment uintptr
	alloc        PageAllocator

	producers   ProducerCardinality
	consumers   ConsumerCardinality
	consistency Consistency
}

// Builder provides a fluent API for configuring and creating either a
// Queue (non-concurrent) or a Concurrent (lock-free) queue, the same
// pattern the teacher's options.go uses to pick an algorithm from a small
// set of declared constraints rather than exposing every knob directly.
//
// Example:
//
//	q, err := hetq.New().PageSize(1 << 16).Build()
//
//	cq, err := hetq.New().
//	    Producers(hetq.MultipleProducers).
//	    Consumers(hetq.SingleConsumer).
//	    BuildConcurrent()
type Builder struct {
	opts Options
}

// New creates a queue builder with default page size and alignment.
func New() *Builder {
	return &Builder{opts: Options{pageSize: defaultPageSize, minAlignment: minAlignmentFloor}}
}

// PageSize overrides the default page size. Must be a power of two.
func (b *Builder) PageSize(size uintptr) *Builder {
	b.opts.pageSize = size
	return b
}

// MinAlignment overrides the minimum element alignment the queue
// enforces. Build and BuildConcurrent fail with ErrPreconditionViolated
// for values below minAlignmentFloor (8) or not a power of two (§9).
func (b *Builder) MinAlignment(align uintptr) *Builder {
	b.opts.minAlignment = align
	return b
}

// PageAllocator supplies a custom PageAllocator instead of the default
// heap-backed one.
func (b *Builder) PageAllocator(alloc PageAllocator) *Builder {
	b.opts.alloc = alloc
	return b
}

// Producers declares how many goroutines will put concurrently. Only
// meaningful for BuildConcurrent.
func (b *Builder) Producers(c ProducerCardinality) *Builder {
	b.opts.producers = c
	return b
}

// Consumers declares how many goroutines will consume concurrently. Only
// meaningful for BuildConcurrent.
func (b *Builder) Consumers(c ConsumerCardinality) *Builder {
	b.opts.consumers = c
	return b
}

// WithConsistency selects the ordering guarantee for BuildConcurrent.
func (b *Builder) WithConsistency(c Consistency) *Builder {
	b.opts.consistency = c
	return b
}

// Build creates a non-concurrent Queue from the builder's configuration.
func (b *Builder) Build() (*Queue, error) {
	alloc, err := b.resolveAllocator()
	if err != nil {
		return nil, err
	}
	return NewQueue(alloc, b.opts.minAlignment)
}

// BuildConcurrent creates a lock-free Concurrent queue from the builder's
// configuration.
func (b *Builder) BuildConcurrent() (*Concurrent, error) {
	alloc, err := b.resolveAllocator()
	if err != nil {
		return nil, err
	}
	return newConcurrent(alloc, b.opts)
}

func (b *Builder) resolveAllocator() (PageAllocator, error) {
	if b.opts.alloc != nil {
		return b.opts.alloc, nil
	}
	return NewPageAllocator(b.opts.pageSize)
}
