// SPDX-License-Identifier: Unlicense OR MIT

package unsafe

import (
	"unsafe"
)

// BytesView returns a byte slice view of a slice of fixed-size
// elements. The view shares the backing array; it is valid only as
// long as the original slice is.
func BytesView[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var t T
	sz := int(unsafe.Sizeof(t))
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*sz)
}

// StructView returns a byte slice view of a struct value. The view
// shares the value's storage.
func StructView[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), int(unsafe.Sizeof(*v)))
}

// Uint32View returns a uint32 slice view of SPIR-V bytecode. The
// byte length must be a multiple of four.
func Uint32View(b []byte) []uint32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// GoString converts a NUL-terminated C string to a Go string.
func GoString(s []byte) string {
	for i, v := range s {
		if v == 0 {
			return string(s[:i])
		}
	}
	return string(s)
}
