package dng

import (
	"image"
	"image/color"
	"io"

	"github.com/mdouchement/dng/rawimage"
	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/pkg/errors"
)

// ToImage copies the visible frame of a normalized image into an image.Image:
// *image.Gray16 or *image.RGBA64 for 16-bit samples, *hdr.RGB for floating-point
// samples (65535 mapped to 1). Single component images are grey, images with 3
// or 4 components are read as RGB, a fourth component being dropped.
func ToImage(img rawimage.RawImage) (image.Image, error) {
	if img.IsNil() || !img.Get().IsAllocated() {
		return nil, rawimage.StateError("export of an unallocated image")
	}
	d := img.Get()
	cpp := d.Cpp()
	if cpp == 2 {
		return nil, UnsupportedError("export of 2 components images")
	}
	bounds := image.Rectangle{Max: d.Dim()}

	if d.Type() == rawimage.TypeFloat32 {
		m := hdr.NewRGB(bounds)
		for y := 0; y < bounds.Dy(); y++ {
			row := d.RowF32(y)
			for x := 0; x < bounds.Dx(); x++ {
				p := row[x*cpp:]
				c := hdrcolor.RGB{R: float64(p[0]) / 65535}
				if cpp == 1 {
					c.G, c.B = c.R, c.R
				} else {
					c.G, c.B = float64(p[1])/65535, float64(p[2])/65535
				}
				m.SetRGB(x, y, c)
			}
		}
		return m, nil
	}

	if cpp == 1 {
		m := image.NewGray16(bounds)
		for y := 0; y < bounds.Dy(); y++ {
			for x, v := range d.Row16(y) {
				m.SetGray16(x, y, color.Gray16{Y: v})
			}
		}
		return m, nil
	}

	m := image.NewRGBA64(bounds)
	for y := 0; y < bounds.Dy(); y++ {
		row := d.Row16(y)
		for x := 0; x < bounds.Dx(); x++ {
			p := row[x*cpp:]
			m.SetRGBA64(x, y, color.RGBA64{R: p[0], G: p[1], B: p[2], A: 0xffff})
		}
	}
	return m, nil
}

// decodeImage decodes and normalizes with default options and returns the result as an image.Image.
func decodeImage(r io.Reader) (image.Image, error) {
	img, err := Decode(r, nil)
	if err != nil {
		return nil, err
	}
	defer img.Release()
	m, err := ToImage(img)
	if err != nil {
		return nil, errors.Wrap(err, "dng: export")
	}
	return m, nil
}

func init() {
	image.RegisterFormat("dng", leHeader, decodeImage, DecodeConfig)
	image.RegisterFormat("dng", beHeader, decodeImage, DecodeConfig)
}
