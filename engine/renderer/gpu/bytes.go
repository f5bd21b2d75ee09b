package gpu

import "unsafe"

// UniformAlignment is a conservative bound on minUniformBufferOffsetAlignment.
const UniformAlignment = 256

// AlignUp rounds size up to a multiple of align.
func AlignUp(size, align uint64) uint64 {
	if align == 0 {
		return size
	}
	return (size + align - 1) / align * align
}

// Bytes views a plain-old-data value as raw bytes for push constants and uniform uploads.
// T must not contain pointers.
func Bytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// SliceBytes views a slice of plain-old-data values as raw bytes.
func SliceBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), uintptr(len(s))*unsafe.Sizeof(zero))
}
