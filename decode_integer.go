package dng

import (
	"github.com/mdouchement/dng/rawimage"
)

// decodeInteger unpacks the unsigned samples of the block held in d.buf into dst.
// Samples wider than 8 bits and narrower than 16 are packed MSB first, rows are
// byte aligned. 16-bit samples follow the byte order of the file.
func (d *decoder) decodeInteger(dst *rawimage.Data, xmin, ymin, xmax, ymax, blockWidth int) error {
	rMaxX := min(xmax, d.config.Width)
	rMaxY := min(ymax, d.config.Height)
	stride := rowBytes(blockWidth*d.cpp, d.bpp)
	cpp := d.cpp
	block := d.buf

	for y := ymin; y < rMaxY; y++ {
		line := block[(y-ymin)*stride:]
		row := dst.UncroppedRow16(y)[xmin*cpp : rMaxX*cpp]

		switch d.bpp {
		case 8:
			for i := range row {
				row[i] = uint16(line[i])
			}
		case 16:
			for i := range row {
				row[i] = d.byteOrder.Uint16(line[2*i:])
			}
		default:
			d.buf, d.off = line, 0
			d.flushBits()
			for i := range row {
				row[i] = uint16(d.readBits(d.bpp))
			}
		}

		// Apply horizontal predictor if necessary.
		// In this case, p contains the color difference to the preceding pixel.
		// See page 64-65 of the spec.
		if d.firstValOr(tPredictor, prNone) == prHorizontal {
			mask := uint16(1<<d.bpp - 1)
			for i := cpp; i < len(row); i++ {
				row[i] = (row[i] + row[i-cpp]) & mask
			}
		}
	}
	return nil
}

// rowBytes returns the number of bytes of a row of n samples of bpp bits.
func rowBytes(n int, bpp uint) int {
	return (n*int(bpp) + 7) / 8
}
