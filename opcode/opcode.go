// Package opcode decodes DNG opcode lists and applies them to raw images.
//
// Resources:
// https://helpx.adobe.com/content/dam/help/en/photoshop/pdf/dng_spec_1_6_0_0.pdf (chapter 7, Opcode List Processing)
package opcode

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/mdouchement/dng/rawimage"
)

// Code identifies an opcode in a DNG opcode list.
type Code uint32

// Opcode codes (p. 84-93 of the DNG spec).
const (
	CodeWarpRectilinear      Code = 1
	CodeWarpFisheye          Code = 2
	CodeFixVignetteRadial    Code = 3
	CodeFixBadPixelsConstant Code = 4
	CodeFixBadPixelsList     Code = 5
	CodeTrimBounds           Code = 6
	CodeMapTable             Code = 7
	CodeMapPolynomial        Code = 8
	CodeGainMap              Code = 9
	CodeDeltaPerRow          Code = 10
	CodeDeltaPerColumn       Code = 11
	CodeScalePerRow          Code = 12
	CodeScalePerColumn       Code = 13
)

func (c Code) String() string {
	switch c {
	case CodeWarpRectilinear:
		return "WarpRectilinear"
	case CodeWarpFisheye:
		return "WarpFisheye"
	case CodeFixVignetteRadial:
		return "FixVignetteRadial"
	case CodeFixBadPixelsConstant:
		return "FixBadPixelsConstant"
	case CodeFixBadPixelsList:
		return "FixBadPixelsList"
	case CodeTrimBounds:
		return "TrimBounds"
	case CodeMapTable:
		return "MapTable"
	case CodeMapPolynomial:
		return "MapPolynomial"
	case CodeGainMap:
		return "GainMap"
	case CodeDeltaPerRow:
		return "DeltaPerRow"
	case CodeDeltaPerColumn:
		return "DeltaPerColumn"
	case CodeScalePerRow:
		return "ScalePerRow"
	case CodeScalePerColumn:
		return "ScalePerColumn"
	default:
		return fmt.Sprintf("Unknown(%d)", uint32(c))
	}
}

// Flags describe how an opcode may be applied.
type Flags uint8

const (
	// MultiThreaded opcodes may process disjoint row ranges concurrently.
	MultiThreaded Flags = 1 << iota
	// PureLookup opcodes substitute each sample through a fixed table.
	PureLookup
)

// Opcode is one normalization step. The set of implementations is closed to this package.
type Opcode interface {
	Code() Code
	// AOI returns the area of interest, relative to the visible frame.
	AOI() image.Rectangle
	Flags() Flags

	// createOutput validates the image and prepares the opcode; it returns the image apply writes to.
	createOutput(in rawimage.RawImage) (rawimage.RawImage, error)
	// apply processes the rows [top, bottom) of the area of interest.
	apply(in, out rawimage.RawImage, top, bottom int) error
	// rowStep is the distance between two processed rows.
	rowStep() int
}

// stream reads fixed-size fields of an opcode payload.
type stream struct {
	p     []byte
	order binary.ByteOrder
	off   int
}

// need fails when fewer than n bytes are available from the start of the payload.
func (s *stream) need(n uint64, what string) error {
	if uint64(len(s.p)) < n {
		return FormatError(fmt.Sprintf("%s needs %d bytes, only %d left", what, n, len(s.p)))
	}
	return nil
}

func (s *stream) u16() uint16 {
	v := s.order.Uint16(s.p[s.off:])
	s.off += 2
	return v
}

func (s *stream) u32() uint32 {
	v := s.order.Uint32(s.p[s.off:])
	s.off += 4
	return v
}

func (s *stream) i32() int {
	return int(int32(s.u32()))
}

func (s *stream) f32() float32 {
	return math.Float32frombits(s.u32())
}

func (s *stream) f64() float64 {
	v := math.Float64frombits(s.order.Uint64(s.p[s.off:]))
	s.off += 8
	return v
}

// rect reads top, left, bottom, right. The rectangle is not canonicalized.
func (s *stream) rect() image.Rectangle {
	top, left, bottom, right := s.i32(), s.i32(), s.i32(), s.i32()
	return image.Rectangle{
		Min: image.Point{X: left, Y: top},
		Max: image.Point{X: right, Y: bottom},
	}
}

const areaHeaderSize = 32

// area is the header shared by the opcodes working on planes of an area of interest.
type area struct {
	aoi        image.Rectangle
	firstPlane int
	planes     int
	rowPitch   int
	colPitch   int
}

func (s *stream) area() (area, error) {
	a := area{
		aoi:        s.rect(),
		firstPlane: s.i32(),
		planes:     s.i32(),
		rowPitch:   s.i32(),
		colPitch:   s.i32(),
	}
	if a.planes <= 0 {
		return a, FormatError(fmt.Sprintf("%d planes", a.planes))
	}
	if a.firstPlane < 0 {
		return a, FormatError(fmt.Sprintf("first plane %d", a.firstPlane))
	}
	if a.rowPitch <= 0 || a.colPitch <= 0 {
		return a, FormatError(fmt.Sprintf("invalid pitch %dx%d", a.colPitch, a.rowPitch))
	}
	return a, nil
}

func (a *area) AOI() image.Rectangle { return a.aoi }

func (a *area) rowStep() int { return a.rowPitch }

// checkPlanes fails when the planes of the area are not present in d.
func (a *area) checkPlanes(d *rawimage.Data) error {
	if a.firstPlane+a.planes > d.Cpp() {
		return rawimage.StateError(fmt.Sprintf("planes [%d,%d) not available in a %d components image",
			a.firstPlane, a.firstPlane+a.planes, d.Cpp()))
	}
	return nil
}

// check16 fails unless d holds 16-bit samples and the planes of the area.
func (a *area) check16(d *rawimage.Data) error {
	if d.Type() != rawimage.TypeUshort16 {
		return rawimage.StateError("only 16-bit images are supported")
	}
	return a.checkPlanes(d)
}

func ceilDiv(v, d int) int {
	return (v + d - 1) / d
}
