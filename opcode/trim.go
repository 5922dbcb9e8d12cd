package opcode

import (
	"fmt"
	"image"

	"github.com/mdouchement/dng/rawimage"
)

// TrimBounds crops the image to a rectangle.
type TrimBounds struct {
	bounds image.Rectangle
}

func newTrimBounds(s *stream) (Opcode, error) {
	if err := s.need(16, "TrimBounds"); err != nil {
		return nil, err
	}
	t := &TrimBounds{bounds: s.rect()}
	if t.bounds.Min.X < 0 || t.bounds.Min.Y < 0 {
		return nil, rawimage.GeometryError(fmt.Sprintf("trim bounds %v with a negative offset", t.bounds))
	}
	if t.bounds.Dx() <= 0 || t.bounds.Dy() <= 0 {
		return nil, rawimage.GeometryError(fmt.Sprintf("trim bounds %v without positive area", t.bounds))
	}
	return t, nil
}

func (t *TrimBounds) Code() Code           { return CodeTrimBounds }
func (t *TrimBounds) AOI() image.Rectangle { return t.bounds }
func (t *TrimBounds) Flags() Flags         { return 0 }
func (t *TrimBounds) rowStep() int         { return 1 }

func (t *TrimBounds) createOutput(in rawimage.RawImage) (rawimage.RawImage, error) {
	return in, nil
}

func (t *TrimBounds) apply(_, out rawimage.RawImage, _, _ int) error {
	return out.Get().SubFrame(t.bounds)
}
