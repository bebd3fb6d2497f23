// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"reflect"
	"sync"
	"unsafe"
)

// featureTable is the per-(type, feature list) table of operation
// callables (§4.1). It is read-only after construction and shared by every
// RTD value made for the same (T, list) pair; RTD itself stays a one
// pointer value handle (§3.1).
type featureTable struct {
	list      FeatureList
	typ       reflect.Type
	size      uintptr
	alignment uintptr

	defaultConstruct func(dest unsafe.Pointer)
	copyConstruct    func(dest, src unsafe.Pointer) error
	moveConstruct    func(dest, src unsafe.Pointer)
	destroy          func(p unsafe.Pointer)
	equals           func(a, b unsafe.Pointer) bool
	less             func(a, b unsafe.Pointer) (bool, error)
	hash             func(p unsafe.Pointer) uint64
	invoke           func(p unsafe.Pointer, args []any) ([]any, error)
}

type registryKey struct {
	typ  reflect.Type
	list FeatureList
}

// tableRegistry collapses table construction to one instance per (T, list)
// pair, the Go analogue of the source's "central registry keyed by
// (type_id(T), feature_list_id(F))" (§4.1, DESIGN NOTES).
var tableRegistry sync.Map // registryKey -> *featureTable

// emptyTable is the sentinel table backing an empty RTD (§3.1: "empty" is
// represented by a sentinel table pointer when the language has no
// value-less state; Go's nil pointer already serves that role, but a
// sentinel keeps Size/Alignment callable without a nil check at every
// call site).
var emptyTable = &featureTable{size: 0, alignment: 1}

// RTD is a runtime type descriptor: a value-sized handle over a per-type
// feature table (§3.1). The zero RTD is empty.
type RTD struct {
	table *featureTable
}

// Make returns the descriptor of T under list, building (or reusing) the
// feature table for the (T, list) pair. Every RTD made this way for the
// same pair compares equal and shares one table (§3.1 invariant).
func Make[T any](list FeatureList) RTD {
	key := registryKey{typ: reflect.TypeOf((*T)(nil)).Elem(), list: list}
	if v, ok := tableRegistry.Load(key); ok {
		return RTD{table: v.(*featureTable)}
	}
	table := buildTable[T](list)
	actual, _ := tableRegistry.LoadOrStore(key, table)
	return RTD{table: actual.(*featureTable)}
}

// Empty returns the empty RTD, for which Size()==0 and Alignment()==1.
func Empty() RTD {
	return RTD{}
}

// IsEmpty reports whether r has no bound type.
func (r RTD) IsEmpty() bool {
	return r.table == nil
}

// Size returns the payload byte length. Never zero for a non-empty RTD.
func (r RTD) Size() uintptr {
	if r.table == nil {
		return emptyTable.size
	}
	return r.table.size
}

// Alignment returns the payload's required alignment, a power of two.
func (r RTD) Alignment() uintptr {
	if r.table == nil {
		return emptyTable.alignment
	}
	return r.table.alignment
}

// RTTI returns the stable per-type identity token, or nil for an empty RTD.
func (r RTD) RTTI() reflect.Type {
	if r.table == nil {
		return nil
	}
	return r.table.typ
}

// Is reports whether r was made for exactly T.
func Is[T any](r RTD) bool {
	return r.RTTI() == reflect.TypeOf((*T)(nil)).Elem()
}

// As returns the value stored at p, reinterpreted as T, failing with
// ErrBadCast if r does not describe T.
func As[T any](r RTD, p unsafe.Pointer) (T, error) {
	if !Is[T](r) {
		var zero T
		return zero, ErrBadCast
	}
	return *(*T)(p), nil
}

// FeatureList returns the feature list this RTD's table was built from.
func (r RTD) FeatureList() FeatureList {
	if r.table == nil {
		return 0
	}
	return r.table.list
}

// AssignableFrom reports whether src can be assigned/constructed into a
// destination requiring r's feature list, i.e. every feature r.FeatureList()
// needs is present in src's list (§3.1 assignability rule).
func (r RTD) AssignableFrom(src RTD) bool {
	return Subset(src.FeatureList(), r.FeatureList())
}

// Equal reports whether r and other reference the same feature table —
// i.e. were made for the same (type, feature list) pair (§3.1: "An RTD
// constructed as 'the descriptor of T under F' compares equal to any
// other constructed the same way").
func (r RTD) Equal(other RTD) bool {
	return r.table == other.table
}

// DefaultConstruct in-place value-initialises the bound type at dest.
func (r RTD) DefaultConstruct(dest unsafe.Pointer) error {
	if r.table == nil || r.table.defaultConstruct == nil {
		return ErrUnsupported
	}
	r.table.defaultConstruct(dest)
	return nil
}

// CopyConstruct in-place copies *src into dest. Returns ErrUnsupported if
// the bound type opted out of copying.
func (r RTD) CopyConstruct(dest, src unsafe.Pointer) error {
	if r.table == nil || r.table.copyConstruct == nil {
		return ErrUnsupported
	}
	return r.table.copyConstruct(dest, src)
}

// MoveConstruct in-place moves *src into dest. Must not fail for any type
// that carries the feature.
func (r RTD) MoveConstruct(dest, src unsafe.Pointer) error {
	if r.table == nil || r.table.moveConstruct == nil {
		return ErrUnsupported
	}
	r.table.moveConstruct(dest, src)
	return nil
}

// Destroy in-place destroys the value at p.
func (r RTD) Destroy(p unsafe.Pointer) error {
	if r.table == nil || r.table.destroy == nil {
		return ErrUnsupported
	}
	r.table.destroy(p)
	return nil
}

// Equals reports value equality between a and b.
func (r RTD) Equals(a, b unsafe.Pointer) (bool, error) {
	if r.table == nil || r.table.equals == nil {
		return false, ErrUnsupported
	}
	return r.table.equals(a, b), nil
}

// Less reports a strict weak ordering between a and b.
func (r RTD) Less(a, b unsafe.Pointer) (bool, error) {
	if r.table == nil || r.table.less == nil {
		return false, ErrUnsupported
	}
	return r.table.less(a, b)
}

// Hash returns an integer hash over the value at p.
func (r RTD) Hash(p unsafe.Pointer) (uint64, error) {
	if r.table == nil || r.table.hash == nil {
		return 0, ErrUnsupported
	}
	return r.table.hash(p), nil
}

// Invoke calls the function value at p with args, for invocable features.
func (r RTD) Invoke(p unsafe.Pointer, args ...any) ([]any, error) {
	if r.table == nil || r.table.invoke == nil {
		return nil, ErrUnsupported
	}
	return r.table.invoke(p, args)
}
