package opcode

import (
	"fmt"
	"image"

	"github.com/mdouchement/dng/rawimage"
)

// FixBadPixelsConstant flags every photosite holding a constant value.
type FixBadPixelsConstant struct {
	value      uint32
	bayerPhase uint32
	frame      image.Rectangle
}

func newFixBadPixelsConstant(s *stream) (Opcode, error) {
	if err := s.need(8, "FixBadPixelsConstant"); err != nil {
		return nil, err
	}
	return &FixBadPixelsConstant{
		value:      s.u32(),
		bayerPhase: s.u32(), // The map is per photosite, the phase is not needed.
	}, nil
}

func (f *FixBadPixelsConstant) Code() Code           { return CodeFixBadPixelsConstant }
func (f *FixBadPixelsConstant) AOI() image.Rectangle { return f.frame }
func (f *FixBadPixelsConstant) Flags() Flags         { return MultiThreaded }
func (f *FixBadPixelsConstant) rowStep() int         { return 1 }

// Value returns the sample value marking a bad photosite.
func (f *FixBadPixelsConstant) Value() uint32 { return f.value }

func (f *FixBadPixelsConstant) createOutput(in rawimage.RawImage) (rawimage.RawImage, error) {
	d := in.Get()
	if d.Type() != rawimage.TypeUshort16 {
		return in, rawimage.StateError("only 16-bit images are supported")
	}
	if d.Cpp() > 1 {
		return in, rawimage.StateError("only single component images are supported")
	}
	f.frame = image.Rectangle{Max: d.Dim()}
	return in, nil
}

func (f *FixBadPixelsConstant) apply(_, out rawimage.RawImage, top, bottom int) error {
	d := out.Get()
	offset := d.CropOffset()

	var positions []image.Point
	for y := top; y < bottom; y++ {
		for x, v := range d.Row16(y) {
			if uint32(v) == f.value {
				positions = append(positions, image.Point{X: x + offset.X, Y: y + offset.Y})
			}
		}
	}
	d.AddBadPixels(positions)
	return nil
}

// FixBadPixelsList flags listed photosites and rectangles.
type FixBadPixelsList struct {
	bayerPhase uint32
	points     []image.Point
	rects      []image.Rectangle
	frame      image.Rectangle
}

func newFixBadPixelsList(s *stream) (Opcode, error) {
	if err := s.need(12, "FixBadPixelsList"); err != nil {
		return nil, err
	}
	f := &FixBadPixelsList{bayerPhase: s.u32()}
	points := uint64(s.u32())
	rects := uint64(s.u32())
	if err := s.need(12+points*8+rects*16, "FixBadPixelsList entries"); err != nil {
		return nil, err
	}

	f.points = make([]image.Point, points)
	for i := range f.points {
		row, col := s.i32(), s.i32()
		f.points[i] = image.Point{X: col, Y: row}
	}
	f.rects = make([]image.Rectangle, rects)
	for i := range f.rects {
		f.rects[i] = s.rect()
	}
	return f, nil
}

func (f *FixBadPixelsList) Code() Code           { return CodeFixBadPixelsList }
func (f *FixBadPixelsList) AOI() image.Rectangle { return f.frame }
func (f *FixBadPixelsList) Flags() Flags         { return 0 }
func (f *FixBadPixelsList) rowStep() int         { return 1 }

// Points returns the listed photosites, X being the column.
func (f *FixBadPixelsList) Points() []image.Point {
	return append([]image.Point(nil), f.points...)
}

// Rects returns the listed half-open rectangles.
func (f *FixBadPixelsList) Rects() []image.Rectangle {
	return append([]image.Rectangle(nil), f.rects...)
}

func (f *FixBadPixelsList) createOutput(in rawimage.RawImage) (rawimage.RawImage, error) {
	f.frame = image.Rectangle{Max: in.Get().Dim()}
	return in, nil
}

func (f *FixBadPixelsList) apply(_, out rawimage.RawImage, _, _ int) error {
	d := out.Get()
	offset := d.CropOffset()

	positions := make([]image.Point, 0, len(f.points))
	for _, p := range f.points {
		if !p.In(f.frame) {
			return rawimage.GeometryError(fmt.Sprintf("bad pixel %v outside of %v", p, f.frame))
		}
		positions = append(positions, p.Add(offset))
	}
	for _, r := range f.rects {
		if r.Empty() {
			continue
		}
		if !r.In(f.frame) {
			return rawimage.GeometryError(fmt.Sprintf("bad rectangle %v outside of %v", r, f.frame))
		}
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				positions = append(positions, image.Point{X: x + offset.X, Y: y + offset.Y})
			}
		}
	}
	d.AddBadPixels(positions)
	return nil
}
