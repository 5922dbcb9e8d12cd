package rawimage

import (
	"unsafe"

	"github.com/pkg/errors"
)

const alignment = 16 // Row and bitmap alignment in bytes.

// An Allocator provides the byte arenas backing pixel buffers and bad pixel maps.
// Free is called exactly once per arena, when the last RawImage referencing
// the owning Data is released.
type Allocator interface {
	Alloc(size int) ([]byte, error)
	Free(buf []byte)
}

// DefaultAllocator allocates from the Go heap.
var DefaultAllocator Allocator = heapAllocator{}

type heapAllocator struct{}

func (heapAllocator) Alloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func (heapAllocator) Free([]byte) {}

// alignedAlloc returns the arena as allocated and a zeroed window of size bytes
// starting on a 16-byte boundary.
func alignedAlloc(a Allocator, size int) (arena, aligned []byte, err error) {
	if size <= 0 {
		return nil, nil, GeometryError("empty allocation")
	}
	arena, err = a.Alloc(size + alignment - 1)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "rawimage: could not allocate %d bytes", size)
	}
	if len(arena) < size+alignment-1 {
		return nil, nil, errors.Errorf("rawimage: allocator returned %d bytes, %d requested", len(arena), size+alignment-1)
	}

	shift := 0
	if rem := int(uintptr(unsafe.Pointer(&arena[0])) % alignment); rem != 0 {
		shift = alignment - rem
	}
	aligned = arena[shift : shift+size : shift+size]
	clear(aligned)
	return arena, aligned, nil
}

func roundUp(v, multiple int) int {
	if r := v % multiple; r != 0 {
		return v + multiple - r
	}
	return v
}

func ceilDiv(v, d int) int {
	return (v + d - 1) / d
}
