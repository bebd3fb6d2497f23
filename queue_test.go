// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq_test

import (
	"errors"
	"testing"
	"unsafe"

	"code.hybscloud.com/hetq"
)

func newTestQueue(t *testing.T) *hetq.Queue {
	t.Helper()
	q, err := hetq.New().PageSize(4096).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return q
}

func TestQueueBasicFIFO(t *testing.T) {
	q := newTestQueue(t)

	for i := range 100 {
		if err := hetq.Push(q, i); err != nil {
			t.Fatalf("Push(%d): %v", i, err)
		}
	}
	for i := range 100 {
		v, err := hetq.Pop[int](q)
		if err != nil {
			t.Fatalf("Pop(%d): %v", i, err)
		}
		if v != i {
			t.Fatalf("Pop(%d): got %d, want %d", i, v, i)
		}
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after draining")
	}
	if _, err := hetq.Pop[int](q); !errors.Is(err, hetq.ErrWouldBlock) {
		t.Fatalf("Pop on empty: got %v, want ErrWouldBlock", err)
	}
}

func TestQueueMixedTypes(t *testing.T) {
	q := newTestQueue(t)

	type Event struct {
		ID   int
		Name string
	}

	if err := hetq.Push(q, 7); err != nil {
		t.Fatal(err)
	}
	if err := hetq.Push(q, "hello"); err != nil {
		t.Fatal(err)
	}
	if err := hetq.Push(q, Event{ID: 1, Name: "e"}); err != nil {
		t.Fatal(err)
	}

	if v, err := hetq.Pop[int](q); err != nil || v != 7 {
		t.Fatalf("Pop[int]: %v, %v", v, err)
	}
	if v, err := hetq.Pop[string](q); err != nil || v != "hello" {
		t.Fatalf("Pop[string]: %v, %v", v, err)
	}
	if v, err := hetq.Pop[Event](q); err != nil || v != (Event{ID: 1, Name: "e"}) {
		t.Fatalf("Pop[Event]: %v, %v", v, err)
	}
}

func TestQueuePopWrongTypeIsBadCast(t *testing.T) {
	q := newTestQueue(t)
	if err := hetq.Push(q, 42); err != nil {
		t.Fatal(err)
	}
	if _, err := hetq.Pop[string](q); !errors.Is(err, hetq.ErrBadCast) {
		t.Fatalf("Pop wrong type: got %v, want ErrBadCast", err)
	}
	// The element is restored to consumable state by the failed pop's
	// Cancel, so a correctly typed pop afterwards still succeeds.
	if v, err := hetq.Pop[int](q); err != nil || v != 42 {
		t.Fatalf("Pop[int] after failed cast: %v, %v", v, err)
	}
}

func TestPutTransactionCancelDestroysElement(t *testing.T) {
	q := newTestQueue(t)

	tx, err := hetq.StartPush(q, "never committed")
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after the sole transaction was cancelled")
	}
	if err := tx.Cancel(); !errors.Is(err, hetq.ErrPreconditionViolated) {
		t.Fatalf("double Cancel: got %v, want ErrPreconditionViolated", err)
	}
}

// TestQueueCancelledPutIsInvisibleToConsume is spec scenario 2 (§8):
// StartPush a string, cancel it without committing, push an int, then
// consume — the cancelled slot must be skipped entirely rather than
// surfacing as a bad cast or resurrecting as consumable.
func TestQueueCancelledPutIsInvisibleToConsume(t *testing.T) {
	q := newTestQueue(t)

	tx, err := hetq.StartPush(q, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Cancel(); err != nil {
		t.Fatal(err)
	}
	if !q.Empty() {
		t.Fatal("queue must be empty immediately after cancelling its sole pending put")
	}

	if err := hetq.Push(q, 42); err != nil {
		t.Fatal(err)
	}
	v, err := hetq.Pop[int](q)
	if err != nil {
		t.Fatalf("Pop after a cancelled put: %v", err)
	}
	if v != 42 {
		t.Fatalf("Pop after a cancelled put: got %d, want 42", v)
	}
	if !q.Empty() {
		t.Fatal("queue should be empty after draining the only live element")
	}
}

func TestConsumeOperationCancelRestoresElement(t *testing.T) {
	q := newTestQueue(t)
	if err := hetq.Push(q, 1); err != nil {
		t.Fatal(err)
	}

	op, err := q.TryStartConsume()
	if err != nil {
		t.Fatal(err)
	}
	if err := op.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if q.Empty() {
		t.Fatal("element should still be consumable after Cancel")
	}
	v, err := hetq.Pop[int](q)
	if err != nil || v != 1 {
		t.Fatalf("Pop after Cancel: %v, %v", v, err)
	}
}

func TestQueueRawAllocate(t *testing.T) {
	q := newTestQueue(t)

	tx, err := hetq.StartPush(q, struct{ tag int }{tag: 1})
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte("side channel bytes")
	blk, err := tx.RawAllocateCopy(payload)
	if err != nil {
		t.Fatalf("RawAllocateCopy: %v", err)
	}
	got := unsafeBytes(blk, len(payload))
	if string(got) != string(payload) {
		t.Fatalf("raw block contents: got %q, want %q", got, payload)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, err := hetq.Pop[struct{ tag int }](q); err != nil {
		t.Fatal(err)
	}
}

func TestQueueOversizedElementGoesExternal(t *testing.T) {
	q, err := hetq.New().PageSize(4096).Build()
	if err != nil {
		t.Fatal(err)
	}

	type Big struct {
		data [8192]byte
	}
	var want Big
	want.data[0] = 0xAB
	want.data[8191] = 0xCD

	if err := hetq.Push(q, want); err != nil {
		t.Fatalf("Push(Big): %v", err)
	}
	got, err := hetq.Pop[Big](q)
	if err != nil {
		t.Fatalf("Pop(Big): %v", err)
	}
	if got != want {
		t.Fatal("oversized element round-trip mismatch")
	}
}

func TestQueueIteratorWalksLiveElements(t *testing.T) {
	q := newTestQueue(t)
	for i := range 5 {
		if err := hetq.Push(q, i); err != nil {
			t.Fatal(err)
		}
	}

	var got []int
	for it := q.Begin(); it.Valid(); it.Next() {
		v, err := hetq.As[int](it.RTD(), it.ElementPtr())
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v)
	}
	if len(got) != 5 {
		t.Fatalf("iterator visited %d elements, want 5", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("element %d: got %d, want %d", i, v, i)
		}
	}
}

func TestIteratorEqualIsPositionalNotIdentity(t *testing.T) {
	q := newTestQueue(t)
	if err := hetq.Push(q, 1); err != nil {
		t.Fatal(err)
	}

	a := q.Begin()
	b := q.Begin()
	if !a.Equal(b) {
		t.Fatal("two iterators at the same position must compare equal")
	}
	if !a.Equal(a) {
		t.Fatal("an iterator must compare equal to itself")
	}

	end1 := q.End()
	end2 := q.End()
	if !end1.Equal(end2) {
		t.Fatal("two End() iterators must compare equal")
	}

	a.Next()
	if !a.Equal(end1) {
		t.Fatal("iterator past the last element must compare equal to End()")
	}
	if b.Equal(a) {
		t.Fatal("an iterator that has not advanced must differ from one that has")
	}
}

func TestReentrantPushOrdering(t *testing.T) {
	// Scenario: a reentrant put of B stays pending (BUSY) while C and D are
	// pushed onto the same queue behind it; once B commits, consuming the
	// queue yields A, B, C, D in FIFO order (§4.2 "reentrancy").
	q := newTestQueue(t)
	if err := hetq.Push(q, "A"); err != nil {
		t.Fatal(err)
	}

	tx, err := hetq.StartReentrantPush(q, "B")
	if err != nil {
		t.Fatal(err)
	}
	if err := hetq.Push(q, "C"); err != nil {
		t.Fatal(err)
	}
	if err := hetq.Push(q, "D"); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	var got []string
	for {
		v, err := hetq.Pop[string](q)
		if errors.Is(err, hetq.ErrWouldBlock) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, v)
	}
	want := []string{"A", "B", "C", "D"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestQueueClear(t *testing.T) {
	q := newTestQueue(t)
	for i := range 10 {
		if err := hetq.Push(q, i); err != nil {
			t.Fatal(err)
		}
	}
	q.Clear()
	if !q.Empty() {
		t.Fatal("Clear should leave the queue empty")
	}
}

func TestQueueCloneIsIndependentDeepCopy(t *testing.T) {
	q := newTestQueue(t)
	for i := range 3 {
		if err := hetq.Push(q, i); err != nil {
			t.Fatal(err)
		}
	}

	clone, err := q.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if err := hetq.Push(q, 99); err != nil {
		t.Fatal(err)
	}

	for i := range 3 {
		v, err := hetq.Pop[int](clone)
		if err != nil || v != i {
			t.Fatalf("clone Pop(%d): %v, %v", i, v, err)
		}
	}
	if !clone.Empty() {
		t.Fatal("clone should not see the element pushed to q after Clone")
	}
}

func TestQueueSwapExchangesContents(t *testing.T) {
	a := newTestQueue(t)
	b := newTestQueue(t)
	if err := hetq.Push(a, "from-a"); err != nil {
		t.Fatal(err)
	}
	if err := hetq.Push(b, "from-b"); err != nil {
		t.Fatal(err)
	}

	a.Swap(b)

	if v, err := hetq.Pop[string](a); err != nil || v != "from-b" {
		t.Fatalf("a after swap: %v, %v", v, err)
	}
	if v, err := hetq.Pop[string](b); err != nil || v != "from-a" {
		t.Fatalf("b after swap: %v, %v", v, err)
	}
}

func unsafeBytes(p unsafe.Pointer, n int) []byte {
	return unsafe.Slice((*byte)(p), n)
}
