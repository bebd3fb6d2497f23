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

type point struct{ x, y int }

type noisyEquatable struct{ v int }

func (n noisyEquatable) Equal(other noisyEquatable) bool { return n.v == other.v }

func TestRTDSizeAndAlignment(t *testing.T) {
	rtd := hetq.Make[point](hetq.DefaultFeatures)
	if rtd.Size() != unsafe.Sizeof(point{}) {
		t.Fatalf("Size: got %d, want %d", rtd.Size(), unsafe.Sizeof(point{}))
	}
	if rtd.Alignment() != unsafe.Alignof(point{}) {
		t.Fatalf("Alignment: got %d, want %d", rtd.Alignment(), unsafe.Alignof(point{}))
	}
}

func TestRTDMakeIsStable(t *testing.T) {
	a := hetq.Make[point](hetq.DefaultFeatures)
	b := hetq.Make[point](hetq.DefaultFeatures)
	if !a.Equal(b) {
		t.Fatal("RTDs made for the same (type, feature list) pair must compare equal")
	}
}

func TestRTDIsAndAs(t *testing.T) {
	rtd := hetq.Make[point](hetq.DefaultFeatures)
	if !hetq.Is[point](rtd) {
		t.Fatal("Is[point] should be true")
	}
	if hetq.Is[int](rtd) {
		t.Fatal("Is[int] should be false")
	}

	p := point{x: 3, y: 4}
	if _, err := hetq.As[int](rtd, unsafe.Pointer(&p)); !errors.Is(err, hetq.ErrBadCast) {
		t.Fatalf("As[int] on a point RTD: got %v, want ErrBadCast", err)
	}
	got, err := hetq.As[point](rtd, unsafe.Pointer(&p))
	if err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatalf("As[point]: got %v, want %v", got, p)
	}
}

func TestRTDEqualsUsesEquatableWhenPresent(t *testing.T) {
	rtd := hetq.Make[noisyEquatable](hetq.DefaultFeatures)
	a := noisyEquatable{v: 1}
	b := noisyEquatable{v: 1}
	c := noisyEquatable{v: 2}

	eq, err := rtd.Equals(unsafe.Pointer(&a), unsafe.Pointer(&b))
	if err != nil || !eq {
		t.Fatalf("Equals(a,b): %v, %v", eq, err)
	}
	eq, err = rtd.Equals(unsafe.Pointer(&a), unsafe.Pointer(&c))
	if err != nil || eq {
		t.Fatalf("Equals(a,c): %v, %v", eq, err)
	}
}

func TestRTDEqualsFallsBackToReflectDeepEqual(t *testing.T) {
	rtd := hetq.Make[point](hetq.DefaultFeatures)
	a := point{1, 2}
	b := point{1, 2}
	c := point{1, 3}

	eq, err := rtd.Equals(unsafe.Pointer(&a), unsafe.Pointer(&b))
	if err != nil || !eq {
		t.Fatalf("Equals(a,b): %v, %v", eq, err)
	}
	eq, err = rtd.Equals(unsafe.Pointer(&a), unsafe.Pointer(&c))
	if err != nil || eq {
		t.Fatalf("Equals(a,c): %v, %v", eq, err)
	}
}

func TestRTDLessFallsBackToReflectOrdering(t *testing.T) {
	rtd := hetq.Make[int](hetq.DefaultFeatures)
	a, b := 1, 2

	lt, err := rtd.Less(unsafe.Pointer(&a), unsafe.Pointer(&b))
	if err != nil || !lt {
		t.Fatalf("Less(1,2): %v, %v", lt, err)
	}
	lt, err = rtd.Less(unsafe.Pointer(&b), unsafe.Pointer(&a))
	if err != nil || lt {
		t.Fatalf("Less(2,1): %v, %v", lt, err)
	}
}

func TestEmptyRTD(t *testing.T) {
	rtd := hetq.Empty()
	if !rtd.IsEmpty() {
		t.Fatal("Empty() must report IsEmpty")
	}
	if rtd.Size() != 0 {
		t.Fatalf("Empty RTD size: got %d, want 0", rtd.Size())
	}
	if rtd.Alignment() != 1 {
		t.Fatalf("Empty RTD alignment: got %d, want 1", rtd.Alignment())
	}
}

func TestFeatureListOperations(t *testing.T) {
	list := hetq.Merge(hetq.FeatureList(hetq.FeatureSize), hetq.FeatureList(hetq.FeatureHash))
	if !hetq.Contains(list, hetq.FeatureSize) || !hetq.Contains(list, hetq.FeatureHash) {
		t.Fatal("Merge should combine both features")
	}
	if hetq.Contains(list, hetq.FeatureInvoke) {
		t.Fatal("Merge should not introduce unrelated features")
	}
	removed := hetq.Remove(list, hetq.FeatureHash)
	if hetq.Contains(removed, hetq.FeatureHash) {
		t.Fatal("Remove should drop the feature")
	}
	if !hetq.Subset(list, removed) {
		t.Fatal("removed should be a subset of the original list")
	}
}
