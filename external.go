// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package hetq

import "unsafe"

// externalDescriptor is stored in-page in place of the payload when an
// element doesn't fit in a page (§3.6, §4.3). The in-page slot still holds
// CB + RTD + this descriptor; the CB is tagged EXTERNAL.
type externalDescriptor struct {
	ptr       unsafe.Pointer
	size      uintptr
	alignment uintptr
}

// usablePageSpan is the per-page span available for CB+RTD+payload, after
// reserving room for a trailing page-jump control block so a put can
// always install one without overflowing the page.
func usablePageSpan(pageSize uintptr) uintptr {
	return pageSize - uintptr(unsafe.Sizeof(controlBlock{}))
}
