// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import (
	"hash/maphash"
	"reflect"
	"unsafe"
)

// noCopier is the marker interface a type implements to opt out of
// CopyConstruct, mirroring the "non-copyable" detection the source performs
// with type traits (§4.5: "selecting whether to include copy/move/equality
// features ... is performed by a trait layer").
type noCopier interface {
	HetqNoCopy()
}

// Equatable lets T provide its own equality feature instead of the
// reflect.DeepEqual fallback.
type Equatable[T any] interface {
	Equal(other T) bool
}

// Lessable lets T provide its own strict weak ordering instead of the
// built-in-kind fallback.
type Lessable[T any] interface {
	Less(other T) bool
}

// Hashable lets T provide its own hash feature instead of the raw-bytes
// fallback.
type Hashable interface {
	Hash() uint64
}

var hashSeed = maphash.MakeSeed()

// buildTable instantiates the feature table for T under list. Each closure
// below is built once per (T, list) pair and cached by the registry; Go's
// generic instantiation collapses this to one compiled body per T, which
// is the idiomatic-Go analogue of the source's per-translation-unit
// template instantiation collapsed to a single symbol (§4.1).
func buildTable[T any](list FeatureList) *featureTable {
	var zero T
	size := unsafe.Sizeof(zero)
	if size == 0 {
		size = 1 // §3.1: zero-sized types pad to 1
	}
	align := unsafe.Alignof(zero)

	t := &featureTable{
		list:      list,
		typ:       reflect.TypeOf((*T)(nil)).Elem(),
		size:      size,
		alignment: align,
	}

	if Contains(list, FeatureDefaultConstruct) {
		t.defaultConstruct = func(dest unsafe.Pointer) {
			var v T
			*(*T)(dest) = v
		}
	}

	if Contains(list, FeatureCopyConstruct) {
		if _, noCopy := any(zero).(noCopier); noCopy {
			t.copyConstruct = func(dest, src unsafe.Pointer) error {
				return ErrUnsupported
			}
		} else {
			t.copyConstruct = func(dest, src unsafe.Pointer) error {
				*(*T)(dest) = *(*T)(src)
				return nil
			}
		}
	}

	if Contains(list, FeatureMoveConstruct) {
		// Go values carry no self-referential pointers, so a move is a
		// plain relocation: copy then clear the source (§9: "Exceptions
		// -> Result-returning puts"; move_construct must not fail).
		t.moveConstruct = func(dest, src unsafe.Pointer) {
			*(*T)(dest) = *(*T)(src)
			var clear T
			*(*T)(src) = clear
		}
	}

	if Contains(list, FeatureDestroy) {
		t.destroy = func(p unsafe.Pointer) {
			var clear T
			*(*T)(p) = clear
		}
	}

	if Contains(list, FeatureEquals) {
		if _, ok := any(zero).(Equatable[T]); ok {
			t.equals = func(a, b unsafe.Pointer) bool {
				return any(*(*T)(a)).(Equatable[T]).Equal(*(*T)(b))
			}
		} else {
			t.equals = func(a, b unsafe.Pointer) bool {
				return reflect.DeepEqual(*(*T)(a), *(*T)(b))
			}
		}
	}

	if Contains(list, FeatureLess) {
		if _, ok := any(zero).(Lessable[T]); ok {
			t.less = func(a, b unsafe.Pointer) (bool, error) {
				return any(*(*T)(a)).(Lessable[T]).Less(*(*T)(b)), nil
			}
		} else if lessFn := reflectLess(t.typ); lessFn != nil {
			t.less = func(a, b unsafe.Pointer) (bool, error) {
				return lessFn(reflect.NewAt(t.typ, a).Elem(), reflect.NewAt(t.typ, b).Elem()), nil
			}
		} else {
			t.less = func(a, b unsafe.Pointer) (bool, error) {
				return false, ErrUnsupported
			}
		}
	}

	if Contains(list, FeatureHash) {
		if _, ok := any(zero).(Hashable); ok {
			t.hash = func(p unsafe.Pointer) uint64 {
				return any(*(*T)(p)).(Hashable).Hash()
			}
		} else {
			t.hash = func(p unsafe.Pointer) uint64 {
				var h maphash.Hash
				h.SetSeed(hashSeed)
				_, _ = h.Write(unsafe.Slice((*byte)(p), size))
				return h.Sum64()
			}
		}
	}

	if Contains(list, FeatureInvoke) {
		if t.typ.Kind() == reflect.Func {
			t.invoke = func(p unsafe.Pointer, args []any) ([]any, error) {
				fn := *(*T)(p)
				fv := reflect.ValueOf(fn)
				in := make([]reflect.Value, len(args))
				for i, a := range args {
					in[i] = reflect.ValueOf(a)
				}
				out := fv.Call(in)
				results := make([]any, len(out))
				for i, o := range out {
					results[i] = o.Interface()
				}
				return results, nil
			}
		} else {
			t.invoke = func(p unsafe.Pointer, args []any) ([]any, error) {
				return nil, ErrUnsupported
			}
		}
	}

	return t
}

// reflectLess returns a reflect-based ordering for the built-in ordered
// kinds (int/uint/float/string families), or nil if typ has no natural
// order. Custom types should implement Lessable instead of relying on this
// fallback.
func reflectLess(typ reflect.Type) func(a, b reflect.Value) bool {
	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return func(a, b reflect.Value) bool { return a.Int() < b.Int() }
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return func(a, b reflect.Value) bool { return a.Uint() < b.Uint() }
	case reflect.Float32, reflect.Float64:
		return func(a, b reflect.Value) bool { return a.Float() < b.Float() }
	case reflect.String:
		return func(a, b reflect.Value) bool { return a.String() < b.String() }
	default:
		return nil
	}
}
