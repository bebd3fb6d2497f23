// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq_test

import (
	"errors"
	"sync"
	"testing"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/hetq"
	"code.hybscloud.com/iox"
)

func newTestConcurrent(t *testing.T, producers hetq.ProducerCardinality, consumers hetq.ConsumerCardinality) *hetq.Concurrent {
	t.Helper()
	cq, err := hetq.New().PageSize(4096).Producers(producers).Consumers(consumers).BuildConcurrent()
	if err != nil {
		t.Fatalf("BuildConcurrent: %v", err)
	}
	return cq
}

func TestConcurrentBasicFIFO(t *testing.T) {
	cq := newTestConcurrent(t, hetq.SingleProducer, hetq.SingleConsumer)

	for i := range 200 {
		if err := hetq.ConcurrentPush(cq, i); err != nil {
			t.Fatalf("ConcurrentPush(%d): %v", i, err)
		}
	}
	for i := range 200 {
		v, err := hetq.ConcurrentPop[int](cq)
		if err != nil {
			t.Fatalf("ConcurrentPop(%d): %v", i, err)
		}
		if v != i {
			t.Fatalf("ConcurrentPop(%d): got %d, want %d", i, v, i)
		}
	}
	if _, err := hetq.ConcurrentPop[int](cq); !errors.Is(err, hetq.ErrWouldBlock) {
		t.Fatalf("ConcurrentPop on empty: got %v, want ErrWouldBlock", err)
	}
}

// TestConcurrentMPSCStress exercises the CAS tail-advance and page-jump
// paths under real contention from multiple producer goroutines feeding a
// single consumer, in the style of the teacher's seq_stress_test.go.
func TestConcurrentMPSCStress(t *testing.T) {
	if hetq.RaceEnabled {
		t.Skip("skip: CAS-based algorithm uses cross-variable memory ordering")
	}

	const (
		numProducers = 8
		itemsPerProd = 2000
	)

	cq := newTestConcurrent(t, hetq.MultipleProducers, hetq.SingleConsumer)

	var wg sync.WaitGroup
	for p := range numProducers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			backoff := iox.Backoff{}
			for i := range itemsPerProd {
				for hetq.ConcurrentPush(cq, id*itemsPerProd+i) != nil {
					backoff.Wait()
				}
				backoff.Reset()
			}
		}(p)
	}

	var consumed atomix.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		backoff := iox.Backoff{}
		want := int64(numProducers * itemsPerProd)
		for consumed.LoadAcquire() < want {
			if _, err := hetq.ConcurrentPop[int](cq); err == nil {
				consumed.AddAcqRel(1)
				backoff.Reset()
				continue
			}
			backoff.Wait()
		}
	}()

	wg.Wait()
	<-done

	if got, want := consumed.LoadAcquire(), int64(numProducers*itemsPerProd); got != want {
		t.Fatalf("consumed %d items, want %d", got, want)
	}
}

// TestConcurrentCancelledPutIsInvisibleToConsume mirrors
// TestQueueCancelledPutIsInvisibleToConsume for the lock-free queue.
func TestConcurrentCancelledPutIsInvisibleToConsume(t *testing.T) {
	cq := newTestConcurrent(t, hetq.SingleProducer, hetq.SingleConsumer)

	tx, err := hetq.StartConcurrentPush(cq, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Cancel(); err != nil {
		t.Fatal(err)
	}
	if !cq.Empty() {
		t.Fatal("queue must be empty immediately after cancelling its sole pending put")
	}

	if err := hetq.ConcurrentPush(cq, 42); err != nil {
		t.Fatal(err)
	}
	v, err := hetq.ConcurrentPop[int](cq)
	if err != nil {
		t.Fatalf("ConcurrentPop after a cancelled put: %v", err)
	}
	if v != 42 {
		t.Fatalf("ConcurrentPop after a cancelled put: got %d, want 42", v)
	}
}

func TestConcurrentReentrantPush(t *testing.T) {
	cq := newTestConcurrent(t, hetq.SingleProducer, hetq.SingleConsumer)

	if err := hetq.ConcurrentPush(cq, "A"); err != nil {
		t.Fatal(err)
	}
	tx, err := hetq.StartReentrantConcurrentPush(cq, "B")
	if err != nil {
		t.Fatal(err)
	}
	if err := hetq.ConcurrentPush(cq, "C"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{"A", "B", "C"} {
		v, err := hetq.ConcurrentPop[string](cq)
		if err != nil {
			t.Fatal(err)
		}
		if v != want {
			t.Fatalf("got %q, want %q", v, want)
		}
	}
}
