package rawimage

import (
	"fmt"
	"image"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// DataType is the element type of the samples held by a Data.
type DataType int

const (
	TypeUshort16 DataType = iota // 16-bit unsigned integer samples.
	TypeFloat32                  // 32-bit floating-point samples.
)

func (t DataType) String() string {
	switch t {
	case TypeUshort16:
		return "uint16"
	case TypeFloat32:
		return "float32"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

func (t DataType) bytesPerComponent() int {
	if t == TypeFloat32 {
		return 4
	}
	return 2
}

const (
	maxDimension      = 65535
	WhitePointUnknown = 65536 // WhitePoint sentinel triggering estimation.
)

// A BlackArea is a calibration strip of masked photosites, in uncropped coordinates.
// Offset is a row (or a column when Vertical) and counts from the end of the axis when negative.
type BlackArea struct {
	Offset   int
	Size     int
	Vertical bool
}

// Options configures a Data. A nil *Options means defaults.
type Options struct {
	// Threads is the number of workers used by row-range tasks.
	// Zero means runtime.NumCPU(), one or less than zero runs tasks inline.
	Threads int
	// Allocator provides the pixel and bad pixel arenas. Nil means DefaultAllocator.
	Allocator Allocator
}

func (o *Options) threads() int {
	if o == nil || o.Threads == 0 {
		return runtime.NumCPU()
	}
	return o.Threads
}

func (o *Options) allocator() Allocator {
	if o == nil || o.Allocator == nil {
		return DefaultAllocator
	}
	return o.Allocator
}

// Data is a raw pixel buffer. Rows are stored in a single 16-byte aligned arena;
// the visible frame is a window (crop offset + dimension) over the uncropped allocation.
type Data struct {
	typ       DataType
	dim       image.Point
	uncropped image.Point
	offset    image.Point
	cpp       int
	pitch     int

	arena []byte
	data  []byte

	IsCFA bool
	CFA   ColorFilterArray

	// BlackLevel is a single black level, -1 when unknown.
	BlackLevel int
	// BlackLevelSeparate holds one black level per 2x2 phase indexed by (y&1)<<1 | (x&1)
	// in uncropped coordinates. A negative first entry means it must be computed.
	BlackLevelSeparate [4]int
	// WhitePoint is the saturation level, WhitePointUnknown when it must be estimated.
	WhitePoint int
	BlackAreas []BlackArea
	// DitherScale adds a pseudo-random term when scaling 16-bit samples.
	DitherScale bool

	badMu             sync.Mutex
	badPixelPositions []image.Point
	badPixelArena     []byte
	badPixelMap       []byte
	badPixelMapPitch  int
	badPixelsPending  bool

	table *TableLookUp

	errMu sync.Mutex
	errs  []error

	threads int
	alloc   Allocator
	refs    atomic.Int32
}

func newData(typ DataType, opts *Options) *Data {
	d := &Data{
		typ:                typ,
		cpp:                1,
		BlackLevel:         -1,
		BlackLevelSeparate: [4]int{-1, -1, -1, -1},
		WhitePoint:         WhitePointUnknown,
		DitherScale:        true,
		threads:            opts.threads(),
		alloc:              opts.allocator(),
	}
	d.refs.Store(1)
	return d
}

// Type returns the sample type.
func (d *Data) Type() DataType { return d.typ }

// Dim returns the visible (cropped) dimension.
func (d *Data) Dim() image.Point { return d.dim }

// UncroppedDim returns the dimension of the allocation.
func (d *Data) UncroppedDim() image.Point { return d.uncropped }

// CropOffset returns the position of the visible frame inside the allocation.
func (d *Data) CropOffset() image.Point { return d.offset }

// Cpp returns the number of components per pixel.
func (d *Data) Cpp() int { return d.cpp }

// Bpp returns the number of bytes per pixel.
func (d *Data) Bpp() int { return d.cpp * d.typ.bytesPerComponent() }

// Pitch returns the number of bytes per row.
func (d *Data) Pitch() int { return d.pitch }

// Threads returns the number of workers used by row-range tasks.
func (d *Data) Threads() int { return d.threads }

// IsAllocated reports whether the pixel arena exists.
func (d *Data) IsAllocated() bool { return d.data != nil }

// SetDim sets the dimension of a Data that is not allocated yet.
func (d *Data) SetDim(dim image.Point) error {
	if d.data != nil {
		return StateError("cannot change dimension after allocation")
	}
	d.dim = dim
	return nil
}

// SetCpp sets the number of components per pixel (1 to 4).
func (d *Data) SetCpp(cpp int) error {
	if d.data != nil {
		return StateError("cannot change components per pixel after allocation")
	}
	if cpp < 1 || cpp > 4 {
		return StateError(fmt.Sprintf("%d components per pixel", cpp))
	}
	d.cpp = cpp
	return nil
}

// CreateData allocates the pixel arena for the current dimension.
func (d *Data) CreateData() error {
	if d.dim.X <= 0 || d.dim.Y <= 0 || d.dim.X > maxDimension || d.dim.Y > maxDimension {
		return GeometryError(fmt.Sprintf("cannot allocate a %dx%d image", d.dim.X, d.dim.Y))
	}
	if d.data != nil {
		return StateError("buffer already allocated")
	}

	pitch := roundUp(d.dim.X*d.Bpp(), alignment)
	arena, data, err := alignedAlloc(d.alloc, pitch*d.dim.Y)
	if err != nil {
		return err
	}
	d.pitch = pitch
	d.arena = arena
	d.data = data
	d.uncropped = d.dim
	d.offset = image.Point{}
	return nil
}

func (d *Data) destroy() {
	if d.arena != nil {
		d.alloc.Free(d.arena)
	}
	if d.badPixelArena != nil {
		d.alloc.Free(d.badPixelArena)
	}
	d.arena, d.data = nil, nil
	d.badPixelArena, d.badPixelMap = nil, nil
	d.table = nil
}

// Bytes returns the whole aligned arena.
func (d *Data) Bytes() ([]byte, error) {
	if d.data == nil {
		return nil, StateError("data not yet allocated")
	}
	return d.data, nil
}

func (d *Data) uncroppedRowBytes(y int) []byte {
	start := y * d.pitch
	return d.data[start : start+d.uncropped.X*d.Bpp()]
}

// UncroppedRow16 returns the samples of row y of the allocation.
func (d *Data) UncroppedRow16(y int) []uint16 {
	if d.typ != TypeUshort16 {
		panic("rawimage: UncroppedRow16 on " + d.typ.String() + " data")
	}
	row := d.uncroppedRowBytes(y)
	return unsafe.Slice((*uint16)(unsafe.Pointer(&row[0])), len(row)/2)
}

// UncroppedRowF32 returns the samples of row y of the allocation.
func (d *Data) UncroppedRowF32(y int) []float32 {
	if d.typ != TypeFloat32 {
		panic("rawimage: UncroppedRowF32 on " + d.typ.String() + " data")
	}
	row := d.uncroppedRowBytes(y)
	return unsafe.Slice((*float32)(unsafe.Pointer(&row[0])), len(row)/4)
}

// Row16 returns the samples of row y of the visible frame.
func (d *Data) Row16(y int) []uint16 {
	if y < 0 || y >= d.dim.Y {
		panic(fmt.Sprintf("rawimage: row %d out of range [0,%d)", y, d.dim.Y))
	}
	row := d.UncroppedRow16(y + d.offset.Y)
	return row[d.offset.X*d.cpp : (d.offset.X+d.dim.X)*d.cpp]
}

// RowF32 returns the samples of row y of the visible frame.
func (d *Data) RowF32(y int) []float32 {
	if y < 0 || y >= d.dim.Y {
		panic(fmt.Sprintf("rawimage: row %d out of range [0,%d)", y, d.dim.Y))
	}
	row := d.UncroppedRowF32(y + d.offset.Y)
	return row[d.offset.X*d.cpp : (d.offset.X+d.dim.X)*d.cpp]
}

// Pixel16 returns the components of the pixel (x, y) of the visible frame.
func (d *Data) Pixel16(x, y int) []uint16 {
	return d.Row16(y)[x*d.cpp : (x+1)*d.cpp]
}

// PixelF32 returns the components of the pixel (x, y) of the visible frame.
func (d *Data) PixelF32(x, y int) []float32 {
	return d.RowF32(y)[x*d.cpp : (x+1)*d.cpp]
}

// SubFrame narrows the visible frame to crop, expressed relative to the current frame.
func (d *Data) SubFrame(crop image.Rectangle) error {
	if crop.Dx() <= 0 || crop.Dy() <= 0 {
		return GeometryError(fmt.Sprintf("subframe %v has no positive area", crop))
	}
	if crop.Min.X < 0 || crop.Min.Y < 0 {
		return GeometryError(fmt.Sprintf("subframe %v has a negative offset", crop))
	}
	if crop.Max.X > d.dim.X || crop.Max.Y > d.dim.Y {
		return GeometryError(fmt.Sprintf("subframe %v larger than %dx%d", crop, d.dim.X, d.dim.Y))
	}

	if d.IsCFA {
		d.CFA.ShiftLeft(crop.Min.X)
		d.CFA.ShiftDown(crop.Min.Y)
	}
	d.offset = d.offset.Add(crop.Min)
	d.dim = crop.Size()
	return nil
}

// ClearArea sets every byte of area, in uncropped coordinates, to value.
func (d *Data) ClearArea(area image.Rectangle, value byte) error {
	if d.data == nil {
		return StateError("data not yet allocated")
	}
	area = area.Intersect(image.Rectangle{Max: d.uncropped})
	if area.Empty() {
		return nil
	}
	bpp := d.Bpp()
	for y := area.Min.Y; y < area.Max.Y; y++ {
		row := d.uncroppedRowBytes(y)[area.Min.X*bpp : area.Max.X*bpp]
		for i := range row {
			row[i] = value
		}
	}
	return nil
}

// SetError appends err to the error list of the image. It is safe for concurrent use.
func (d *Data) SetError(err error) {
	if err == nil {
		return
	}
	d.errMu.Lock()
	d.errs = append(d.errs, err)
	d.errMu.Unlock()
}

// Errors returns a copy of the errors recorded so far.
func (d *Data) Errors() []error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return append([]error(nil), d.errs...)
}

func (d *Data) errorCount() int {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return len(d.errs)
}

func (d *Data) firstErrorSince(n int) error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if len(d.errs) > n {
		return d.errs[n]
	}
	return nil
}
