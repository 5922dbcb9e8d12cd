package rawimage

import (
	"fmt"
	"image"
	"math"
)

// Border excluded when estimating levels; sensors are unreliable near their edges.
const (
	skipBorder16  = 250
	skipBorderF32 = 150
)

// ScaleBlackWhite maps samples from [black, white] onto [0, 65535], per 2x2 phase.
// Missing levels are estimated from the image interior, missing per-phase black
// levels are computed from the black areas.
func (d *Data) ScaleBlackWhite() error {
	if d.data == nil {
		return StateError("data not yet allocated")
	}
	if d.dim.X <= 0 || d.dim.Y <= 0 {
		return nil
	}

	estimate := (len(d.BlackAreas) == 0 && d.BlackLevelSeparate[0] < 0 && d.BlackLevel < 0) ||
		d.WhitePoint >= WhitePointUnknown

	switch d.typ {
	case TypeUshort16:
		if estimate {
			black, white := d.extrema16(d.interior(skipBorder16))
			d.applyEstimate(black, white)
		}
		if len(d.BlackAreas) == 0 && d.BlackLevel == 0 && d.WhitePoint == 65535 && d.BlackLevelSeparate[0] < 0 {
			debug("levels already normalized, scaling skipped")
			return nil
		}
	case TypeFloat32:
		if estimate {
			black, white := d.extremaF32(d.interior(skipBorderF32))
			d.applyEstimate(int(black), int(white))
		}
	}

	if d.BlackLevelSeparate[0] < 0 {
		if err := d.calculateBlackAreas(); err != nil {
			return err
		}
	}
	debug("black levels %v, white point %d", d.BlackLevelSeparate, d.WhitePoint)
	return d.startWorker(TaskScaleValues, true)
}

func (d *Data) applyEstimate(black, white int) {
	if d.BlackLevel < 0 {
		d.BlackLevel = black
	}
	if d.WhitePoint >= WhitePointUnknown {
		d.WhitePoint = white
	}
	debug("estimated black %d, estimated white %d", d.BlackLevel, d.WhitePoint)
}

// interior returns the visible frame minus border, or the whole frame when it is too small.
func (d *Data) interior(border int) image.Rectangle {
	r := image.Rectangle{
		Min: image.Point{X: border, Y: border},
		Max: image.Point{X: d.dim.X - border, Y: d.dim.Y - border},
	}
	if r.Dx() <= 0 || r.Dy() <= 0 {
		return image.Rectangle{Max: d.dim}
	}
	return r
}

func (d *Data) extrema16(r image.Rectangle) (lo, hi int) {
	lo, hi = 65535, 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for _, v := range d.Row16(y)[r.Min.X*d.cpp : r.Max.X*d.cpp] {
			lo = min(lo, int(v))
			hi = max(hi, int(v))
		}
	}
	return lo, hi
}

func (d *Data) extremaF32(r image.Rectangle) (lo, hi float32) {
	lo, hi = math.MaxFloat32, -math.MaxFloat32
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for _, v := range d.RowF32(y)[r.Min.X*d.cpp : r.Max.X*d.cpp] {
			lo = min(lo, v)
			hi = max(hi, v)
		}
	}
	return lo, hi
}

// resolveBlackArea returns the absolute offset and even size of area.
func (d *Data) resolveBlackArea(area BlackArea) (offset, size int, err error) {
	limit := d.uncropped.Y
	if area.Vertical {
		limit = d.uncropped.X
	}
	offset = area.Offset
	if offset < 0 {
		offset += limit
	}
	size = area.Size &^ 1
	if offset < 0 || size < 0 || offset+size > limit {
		return 0, 0, GeometryError(fmt.Sprintf("black area %+v outside of %dx%d", area, d.uncropped.X, d.uncropped.Y))
	}
	return offset, size, nil
}

// calculateBlackAreas sets BlackLevelSeparate from the black areas: the histogram
// median per phase for integer data, the mean for floating-point data.
func (d *Data) calculateBlackAreas() error {
	var hist []int
	var acc [4]float64
	if d.typ == TypeUshort16 {
		hist = make([]int, 4*65536)
	}
	add := func(x, y int) {
		phase := (y&1)<<1 | (x & 1)
		if d.typ == TypeUshort16 {
			hist[phase<<16+int(d.UncroppedRow16(y)[x*d.cpp])]++
			return
		}
		acc[phase] += float64(d.UncroppedRowF32(y)[x*d.cpp])
	}

	total := 0
	for _, area := range d.BlackAreas {
		offset, size, err := d.resolveBlackArea(area)
		if err != nil {
			return err
		}
		if !area.Vertical {
			for y := offset; y < offset+size; y++ {
				for x := d.offset.X; x < d.offset.X+d.dim.X; x++ {
					add(x, y)
				}
			}
			total += size * d.dim.X
			continue
		}
		for y := d.offset.Y; y < d.offset.Y+d.dim.Y; y++ {
			for x := offset; x < offset+size; x++ {
				add(x, y)
			}
		}
		total += size * d.dim.Y
	}

	if total == 0 {
		level := max(d.BlackLevel, 0)
		d.BlackLevelSeparate = [4]int{level, level, level, level}
		return nil
	}

	if d.typ == TypeUshort16 {
		// Half of the pixels of one phase.
		median := total / 8
		for i := 0; i < 4; i++ {
			h := hist[i<<16 : (i+1)<<16]
			count := h[0]
			value := 0
			for count <= median && value < 65535 {
				value++
				count += h[value]
			}
			d.BlackLevelSeparate[i] = value
		}
	} else {
		perPhase := float64(total) / 4
		for i := 0; i < 4; i++ {
			d.BlackLevelSeparate[i] = int(math.Round(acc[i] / perPhase))
		}
	}

	if !d.IsCFA {
		sum := 0
		for _, v := range d.BlackLevelSeparate {
			sum += v
		}
		avg := (sum + 2) >> 2
		d.BlackLevelSeparate = [4]int{avg, avg, avg, avg}
	}
	return nil
}

// phaseLevels returns, per visible-frame phase (y&1)<<1 | (x&1), the black level
// and the denominator white-black, clamped to at least 1.
func (d *Data) phaseLevels() (black, span [4]int) {
	for i := 0; i < 4; i++ {
		v := i
		if d.offset.X&1 != 0 {
			v ^= 1
		}
		if d.offset.Y&1 != 0 {
			v ^= 2
		}
		black[i] = d.BlackLevelSeparate[v]
		span[i] = max(d.WhitePoint-black[i], 1)
	}
	return black, span
}

func (d *Data) scaleValues(startY, endY int) error {
	if d.typ == TypeFloat32 {
		d.scaleValuesF32(startY, endY)
		return nil
	}
	d.scaleValues16(startY, endY)
	return nil
}

func (d *Data) scaleValues16(startY, endY int) {
	black, span := d.phaseLevels()
	var mul, sub [4]int64
	for i := 0; i < 4; i++ {
		mul[i] = int64(float32(16384*65535) / float32(span[i]))
		sub[i] = int64(black[i])
	}

	cpp := d.cpp
	for y := startY; y < endY; y++ {
		v := int32(d.dim.X) + int32(y)*36969
		m := mul[2*(y&1):]
		s := sub[2*(y&1):]
		row := d.Row16(y)
		for x, p := range row {
			rand := int64(1024)
			if d.DitherScale {
				v = 18000*(v&65535) + (v >> 16)
				rand = int64(v & 2047)
			}
			q := (x / cpp) & 1
			row[x] = clamp16(((int64(p)-s[q])*m[q] + 8192 + rand) >> 14)
		}
	}
}

func (d *Data) scaleValuesF32(startY, endY int) {
	black, span := d.phaseLevels()
	var mul, sub [4]float32
	for i := 0; i < 4; i++ {
		mul[i] = 65535 / float32(span[i])
		sub[i] = float32(black[i])
	}

	cpp := d.cpp
	for y := startY; y < endY; y++ {
		m := mul[2*(y&1):]
		s := sub[2*(y&1):]
		row := d.RowF32(y)
		for x, p := range row {
			q := (x / cpp) & 1
			row[x] = (p - s[q]) * m[q]
		}
	}
}
