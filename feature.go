// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

// FeatureKind names one of the operations an RTD can expose over its
// target type. The mandatory set mirrors §3.2 of the data model: every
// kind here has a documented per-type implementation strategy.
type FeatureKind uint32

const (
	FeatureSize FeatureKind = 1 << iota
	FeatureAlignment
	FeatureDefaultConstruct
	FeatureCopyConstruct
	FeatureMoveConstruct
	FeatureDestroy
	FeatureRTTI
	FeatureEquals
	FeatureLess
	FeatureHash
	FeatureInvoke
)

// String returns a short label for the feature kind.
func (k FeatureKind) String() string {
	switch k {
	case FeatureSize:
		return "size"
	case FeatureAlignment:
		return "alignment"
	case FeatureDefaultConstruct:
		return "default_construct"
	case FeatureCopyConstruct:
		return "copy_construct"
	case FeatureMoveConstruct:
		return "move_construct"
	case FeatureDestroy:
		return "destroy"
	case FeatureRTTI:
		return "rtti"
	case FeatureEquals:
		return "equals"
	case FeatureLess:
		return "less"
	case FeatureHash:
		return "hash"
	case FeatureInvoke:
		return "invoke"
	default:
		return "unknown_feature"
	}
}

// DefaultFeatures is the mandatory feature set from §3.2: size, alignment,
// default/copy/move construct, destroy, rtti, equals, less and hash.
// invoke is optional per §3.2 and deliberately left out of this set; a
// caller wanting it builds its own FeatureList with DefaultFeatures.With
// (FeatureInvoke). The typed puts of Queue and Concurrent (Push,
// StartPush, ConcurrentPush, ...) build their RTDs from this set; DynPush
// and its variants accept any RTD and do not check its feature list
// against this set.
const DefaultFeatures = FeatureList(FeatureSize | FeatureAlignment |
	FeatureDefaultConstruct | FeatureCopyConstruct | FeatureMoveConstruct |
	FeatureDestroy | FeatureRTTI | FeatureEquals | FeatureLess | FeatureHash)

// FeatureList is an ordered, deduplicated set of feature kinds. Since kinds
// are individual bits, a FeatureList is itself just a bitmask; ordering is
// fixed by the bit position, matching §4.1's requirement that the table
// order be deterministic and identical for any two lists built from the
// same kinds.
type FeatureList FeatureKind

// Merge concatenates a and b, deduplicating (§4.1 merge).
func Merge(a, b FeatureList) FeatureList {
	return a | b
}

// Remove drops x from a (§4.1 remove).
func Remove(a FeatureList, x FeatureKind) FeatureList {
	return a &^ FeatureList(x)
}

// Contains reports whether a carries x (§4.1 contains).
func Contains(a FeatureList, x FeatureKind) bool {
	return FeatureKind(a)&x == x
}

// Subset reports whether every feature of b is present in a (§4.1 subset,
// and the assignability rule of §3.1: an RTD built from a can be assigned
// to a destination requiring only features in b iff Subset(a, b)).
func Subset(a, b FeatureList) bool {
	return FeatureKind(b)&^FeatureKind(a) == 0
}

// With returns a with x added.
func (a FeatureList) With(x FeatureKind) FeatureList {
	return Merge(a, FeatureList(x))
}

// Without returns a with x removed.
func (a FeatureList) Without(x FeatureKind) FeatureList {
	return Remove(a, x)
}

// Has reports whether a carries x.
func (a FeatureList) Has(x FeatureKind) bool {
	return Contains(a, x)
}
