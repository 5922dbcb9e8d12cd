package rawimage

import (
	"fmt"
	"image"
)

// AddBadPixel flags the photosite (x, y), in uncropped coordinates, for repair.
// It is safe for concurrent use.
func (d *Data) AddBadPixel(x, y int) {
	d.badMu.Lock()
	d.badPixelPositions = append(d.badPixelPositions, image.Point{X: x, Y: y})
	d.badMu.Unlock()
}

// AddBadPixels flags several photosites at once.
func (d *Data) AddBadPixels(positions []image.Point) {
	if len(positions) == 0 {
		return
	}
	d.badMu.Lock()
	d.badPixelPositions = append(d.badPixelPositions, positions...)
	d.badMu.Unlock()
}

// PendingBadPixels returns the number of flagged positions not yet folded into the map.
func (d *Data) PendingBadPixels() int {
	d.badMu.Lock()
	defer d.badMu.Unlock()
	return len(d.badPixelPositions)
}

// BadPixelMapPitch returns the number of bytes per row of the bad pixel map, 0 before it exists.
func (d *Data) BadPixelMapPitch() int {
	return d.badPixelMapPitch
}

// IsBadPixel reports whether (x, y), in uncropped coordinates, is set in the bad pixel map.
func (d *Data) IsBadPixel(x, y int) bool {
	if d.badPixelMap == nil || x < 0 || y < 0 || x >= d.uncropped.X || y >= d.uncropped.Y {
		return false
	}
	return d.badPixelMap[y*d.badPixelMapPitch+x>>3]>>(x&7)&1 == 1
}

func (d *Data) createBadPixelMap() error {
	if d.data == nil {
		return StateError("data not yet allocated")
	}
	pitch := roundUp(ceilDiv(d.uncropped.X, 8), alignment)
	arena, m, err := alignedAlloc(d.alloc, pitch*d.uncropped.Y)
	if err != nil {
		return err
	}
	d.badPixelMapPitch = pitch
	d.badPixelArena = arena
	d.badPixelMap = m
	return nil
}

// TransferBadPixelsToMap folds the flagged positions into the bad pixel map,
// creating it on first use. It does nothing when no position is pending.
func (d *Data) TransferBadPixelsToMap() error {
	d.badMu.Lock()
	defer d.badMu.Unlock()

	if len(d.badPixelPositions) == 0 {
		return nil
	}
	for _, p := range d.badPixelPositions {
		if p.X < 0 || p.Y < 0 || p.X >= d.uncropped.X || p.Y >= d.uncropped.Y {
			return GeometryError(fmt.Sprintf("bad pixel %v outside of %dx%d", p, d.uncropped.X, d.uncropped.Y))
		}
	}
	if d.badPixelMap == nil {
		if err := d.createBadPixelMap(); err != nil {
			return err
		}
	}

	for _, p := range d.badPixelPositions {
		d.badPixelMap[p.Y*d.badPixelMapPitch+p.X>>3] |= 1 << (p.X & 7)
	}
	debug("%d bad pixels transferred to map", len(d.badPixelPositions))
	d.badPixelPositions = d.badPixelPositions[:0]
	d.badPixelsPending = true
	return nil
}

// FixBadPixels interpolates every photosite flagged since the last repair.
func (d *Data) FixBadPixels() error {
	if err := d.TransferBadPixelsToMap(); err != nil {
		return err
	}
	if d.badPixelMap == nil || !d.badPixelsPending {
		return nil
	}
	d.badPixelsPending = false
	return d.startWorker(TaskFixBadPixels, false)
}

func (d *Data) fixBadPixelsThread(startY, endY int) error {
	width := ceilDiv(d.uncropped.X, 8)
	for y := startY; y < endY; y++ {
		line := d.badPixelMap[y*d.badPixelMapPitch : y*d.badPixelMapPitch+width]
		for i, bits := range line {
			if bits == 0 {
				continue
			}
			for j := 0; j < 8; j++ {
				x := i*8 + j
				if bits>>j&1 == 0 || x >= d.uncropped.X {
					continue
				}
				if d.typ == TypeFloat32 {
					d.fixBadPixelF32(x, y, 0)
				} else {
					d.fixBadPixel16(x, y, 0)
				}
			}
		}
	}
	return nil
}

// neighbours walks left, right, up and down from (x, y) until an unflagged photosite
// of the same CFA phase is found. dist is 0 where nothing was found.
func (d *Data) neighbours(x, y int) (pos [4]image.Point, dist [4]int) {
	step := 1
	if d.IsCFA {
		step = 2
	}

	for xf := x - step; xf >= 0; xf -= step {
		if !d.IsBadPixel(xf, y) {
			pos[0], dist[0] = image.Point{X: xf, Y: y}, x-xf
			break
		}
	}
	for xf := x + step; xf < d.uncropped.X; xf += step {
		if !d.IsBadPixel(xf, y) {
			pos[1], dist[1] = image.Point{X: xf, Y: y}, xf-x
			break
		}
	}
	for yf := y - step; yf >= 0; yf -= step {
		if !d.IsBadPixel(x, yf) {
			pos[2], dist[2] = image.Point{X: x, Y: yf}, y-yf
			break
		}
	}
	for yf := y + step; yf < d.uncropped.Y; yf += step {
		if !d.IsBadPixel(x, yf) {
			pos[3], dist[3] = image.Point{X: x, Y: yf}, yf-y
			break
		}
	}
	return pos, dist
}

// pairWeights splits 256 between two neighbours, the closer one weighing more.
func pairWeights(d0, d1 int) (w0, w1 int, ok bool) {
	switch {
	case d0 > 0 && d1 > 0:
		w0 = d1 * 256 / (d0 + d1)
		return w0, 256 - w0, true
	case d0 > 0:
		return 256, 0, true
	case d1 > 0:
		return 0, 256, true
	default:
		return 0, 0, false
	}
}

func (d *Data) fixBadPixel16(x, y, component int) {
	pos, dist := d.neighbours(x, y)

	var weight [4]int
	shifts := 7
	var okX, okY bool
	weight[0], weight[1], okX = pairWeights(dist[0], dist[1])
	weight[2], weight[3], okY = pairWeights(dist[2], dist[3])
	if !okX && !okY {
		return
	}
	if okX {
		shifts++
	}
	if okY {
		shifts++
	}

	total := 0
	for i := 0; i < 4; i++ {
		if dist[i] > 0 {
			total += int(d.UncroppedRow16(pos[i].Y)[pos[i].X*d.cpp+component]) * weight[i]
		}
	}
	// Weights add up to 256 per axis.
	d.UncroppedRow16(y)[x*d.cpp+component] = clamp16(int64(total >> shifts))

	if d.cpp > 1 && component == 0 {
		for c := 1; c < d.cpp; c++ {
			d.fixBadPixel16(x, y, c)
		}
	}
}

func (d *Data) fixBadPixelF32(x, y, component int) {
	pos, dist := d.neighbours(x, y)

	var weight [4]float32
	axes := 0
	if w0, w1, ok := pairWeights(dist[0], dist[1]); ok {
		weight[0], weight[1] = float32(w0)/256, float32(w1)/256
		axes++
	}
	if w2, w3, ok := pairWeights(dist[2], dist[3]); ok {
		weight[2], weight[3] = float32(w2)/256, float32(w3)/256
		axes++
	}
	if axes == 0 {
		return
	}

	var total float32
	for i := 0; i < 4; i++ {
		if dist[i] > 0 {
			total += d.UncroppedRowF32(pos[i].Y)[pos[i].X*d.cpp+component] * weight[i]
		}
	}
	d.UncroppedRowF32(y)[x*d.cpp+component] = total / float32(axes)

	if d.cpp > 1 && component == 0 {
		for c := 1; c < d.cpp; c++ {
			d.fixBadPixelF32(x, y, c)
		}
	}
}
