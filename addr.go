// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import "unsafe"

// isPowerOfTwo reports whether n is a power of two. 0 is not.
func isPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}

// alignUp rounds addr up to the nearest multiple of align, which must be a
// power of two.
func alignUp(addr uintptr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// alignDown rounds addr down to the nearest multiple of align, which must
// be a power of two.
func alignDown(addr uintptr, align uintptr) uintptr {
	return addr &^ (align - 1)
}

// isAligned reports whether addr is a multiple of align.
func isAligned(addr uintptr, align uintptr) bool {
	return addr&(align-1) == 0
}

// bump advances base by size bytes after aligning base up to align, and
// reports whether the resulting span [alignedBase, alignedBase+size) still
// lies within [base, limit). Used to place CB+RTD+payload spans inside a
// page without overflowing it.
func bump(base, limit uintptr, size, align uintptr) (alignedBase, next uintptr, ok bool) {
	alignedBase = alignUp(base, align)
	if alignedBase < base || alignedBase > limit {
		return 0, 0, false
	}
	next = alignedBase + size
	if next < alignedBase || next > limit {
		return 0, 0, false
	}
	return alignedBase, next, true
}

// ptrAdd returns p advanced by n bytes, without bounds checking. Mirrors
// the pointer-arithmetic idiom the teacher uses in spsc_indirect_asm.go to
// avoid slice-bounds checks on the hot path.
func ptrAdd(p unsafe.Pointer, n uintptr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(p) + n)
}
