package dng

import (
	"math"

	"github.com/mdouchement/dng/rawimage"
	"github.com/mdouchement/hdr/format"
)

// decodeFloat copies the 32-bit floating-point samples of the block held in d.buf into dst.
func (d *decoder) decodeFloat(dst *rawimage.Data, xmin, ymin, xmax, ymax, blockWidth int) error {
	rMaxX := min(xmax, d.config.Width)
	rMaxY := min(ymax, d.config.Height)
	stride := blockWidth * d.cpp * 4
	cpp := d.cpp

	for y := ymin; y < rMaxY; y++ {
		line := d.buf[(y-ymin)*stride:]
		row := dst.UncroppedRowF32(y)[xmin*cpp : rMaxX*cpp]

		if cpp == 3 {
			var offset int
			for i := 0; i < len(row); i += 3 {
				R, G, B := format.FromBytes(d.byteOrder, line[offset:offset+12])
				row[i], row[i+1], row[i+2] = float32(R), float32(G), float32(B)
				offset += 12 // RGB is hold on 12 Bytes (4 Bytes per channel)
			}
			continue
		}

		for i := range row {
			row[i] = math.Float32frombits(d.byteOrder.Uint32(line[4*i:]))
		}
	}
	return nil
}
