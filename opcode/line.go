package opcode

import (
	"fmt"

	"github.com/mdouchement/dng/rawimage"
)

// lineCorrection adds (delta) or multiplies (scale) the samples of an area
// by a value chosen per row or per column.
type lineCorrection struct {
	area
	code   Code
	values []float32
}

// DeltaPerRow adds a value per row of the area, in normalized units.
type DeltaPerRow struct{ lineCorrection }

// DeltaPerColumn adds a value per column of the area, in normalized units.
type DeltaPerColumn struct{ lineCorrection }

// ScalePerRow multiplies the samples of each row of the area.
type ScalePerRow struct{ lineCorrection }

// ScalePerColumn multiplies the samples of each column of the area.
type ScalePerColumn struct{ lineCorrection }

func newLineCorrection(code Code) func(s *stream) (Opcode, error) {
	return func(s *stream) (Opcode, error) {
		if err := s.need(areaHeaderSize+4, code.String()); err != nil {
			return nil, err
		}
		a, err := s.area()
		if err != nil {
			return nil, err
		}
		count := s.i32()

		l := lineCorrection{area: a, code: code}
		want := 0
		if l.perRow() && a.aoi.Dy() > 0 {
			want = ceilDiv(a.aoi.Dy(), a.rowPitch)
		}
		if !l.perRow() && a.aoi.Dx() > 0 {
			want = ceilDiv(a.aoi.Dx(), a.colPitch)
		}
		if count != want {
			return nil, FormatError(fmt.Sprintf("%s has %d entries, the area needs %d", code, count, want))
		}
		if err := s.need(uint64(areaHeaderSize+4+4*count), code.String()+" entries"); err != nil {
			return nil, err
		}

		l.values = make([]float32, count)
		for i := range l.values {
			l.values[i] = s.f32()
		}

		switch code {
		case CodeDeltaPerRow:
			return &DeltaPerRow{l}, nil
		case CodeDeltaPerColumn:
			return &DeltaPerColumn{l}, nil
		case CodeScalePerRow:
			return &ScalePerRow{l}, nil
		default:
			return &ScalePerColumn{l}, nil
		}
	}
}

func (l *lineCorrection) Code() Code   { return l.code }
func (l *lineCorrection) Flags() Flags { return MultiThreaded }

// Values returns the per-line values.
func (l *lineCorrection) Values() []float32 {
	return append([]float32(nil), l.values...)
}

func (l *lineCorrection) perRow() bool {
	return l.code == CodeDeltaPerRow || l.code == CodeScalePerRow
}

func (l *lineCorrection) scale() bool {
	return l.code == CodeScalePerRow || l.code == CodeScalePerColumn
}

func (l *lineCorrection) createOutput(in rawimage.RawImage) (rawimage.RawImage, error) {
	return in, l.checkPlanes(in.Get())
}

func (l *lineCorrection) value(x, y int) float32 {
	if l.perRow() {
		return l.values[(y-l.aoi.Min.Y)/l.rowPitch]
	}
	return l.values[(x-l.aoi.Min.X)/l.colPitch]
}

func (l *lineCorrection) apply(_, out rawimage.RawImage, top, bottom int) error {
	d := out.Get()
	cpp := d.Cpp()
	for y := top; y < bottom; y += l.rowPitch {
		for x := l.aoi.Min.X; x < l.aoi.Max.X; x += l.colPitch {
			v := l.value(x, y)
			start := x*cpp + l.firstPlane
			end := start + l.planes

			if d.Type() == rawimage.TypeFloat32 {
				px := d.RowF32(y)[start:end]
				for i := range px {
					if l.scale() {
						px[i] *= v
					} else {
						px[i] += v
					}
				}
				continue
			}

			px := d.Row16(y)[start:end]
			if l.scale() {
				scale := int64(1024 * v)
				for i := range px {
					px[i] = clamp16((scale*int64(px[i]) + 512) >> 10)
				}
				continue
			}
			delta := int64(65535 * v)
			for i := range px {
				px[i] = clamp16(delta + int64(px[i]))
			}
		}
	}
	return nil
}
