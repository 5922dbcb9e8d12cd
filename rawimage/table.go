package rawimage

import "fmt"

// TableSize is the number of entries of a 16-bit lookup table.
const TableSize = 65536

// TableLookUp owns one or more 16-bit lookup tables.
// A dithered table stores, per input value, a (base, delta) pair where delta is the
// distance between the neighbouring entries, so a consumer can add a random
// fraction of delta before rounding.
type TableLookUp struct {
	ntables int
	dither  bool
	tables  []uint16
}

// NewTableLookUp allocates ntables tables.
func NewTableLookUp(ntables int, dither bool) *TableLookUp {
	if ntables < 1 {
		ntables = 1
	}
	t := &TableLookUp{
		ntables: ntables,
		dither:  dither,
	}
	t.tables = make([]uint16, ntables*t.entrySize())
	return t
}

func (t *TableLookUp) entrySize() int {
	if t.dither {
		return TableSize * 2
	}
	return TableSize
}

// Tables returns the number of tables.
func (t *TableLookUp) Tables() int { return t.ntables }

// Dither reports whether the tables hold (base, delta) pairs.
func (t *TableLookUp) Dither() bool { return t.dither }

// SetTable fills table n from values. Indexes past len(values) repeat the last value.
func (t *TableLookUp) SetTable(n int, values []uint16) error {
	filled := len(values)
	if filled == 0 || filled > TableSize {
		return UnsupportedError(fmt.Sprintf("table lookup with %d entries", filled))
	}
	if n < 0 || n >= t.ntables {
		return StateError(fmt.Sprintf("table %d out of %d", n, t.ntables))
	}

	dst := t.tables[n*t.entrySize() : (n+1)*t.entrySize()]
	if !t.dither {
		copy(dst, values)
		for i := filled; i < TableSize; i++ {
			dst[i] = values[filled-1]
		}
		return nil
	}

	for i := 0; i < filled; i++ {
		center := int(values[i])
		lower, upper := center, center
		if i > 0 {
			lower = int(values[i-1])
		}
		if i < filled-1 {
			upper = int(values[i+1])
		}
		delta := upper - lower
		dst[i*2] = clamp16(int64(center - (delta+2)/4))
		dst[i*2+1] = uint16(int16(delta))
	}
	for i := filled; i < TableSize; i++ {
		dst[i*2] = values[filled-1]
		dst[i*2+1] = 0
	}
	return nil
}

// GetTable returns table n.
func (t *TableLookUp) GetTable(n int) ([]uint16, error) {
	if n < 0 || n >= t.ntables {
		return nil, StateError(fmt.Sprintf("table %d out of %d", n, t.ntables))
	}
	return t.tables[n*t.entrySize() : (n+1)*t.entrySize()], nil
}

// SetTable installs a single lookup table built from values.
func (d *Data) SetTable(values []uint16, dither bool) error {
	t := NewTableLookUp(1, dither)
	if err := t.SetTable(0, values); err != nil {
		return err
	}
	d.table = t
	return nil
}

// SetLookUp installs t, nil removes the current table.
func (d *Data) SetLookUp(t *TableLookUp) {
	d.table = t
}

// LookUp returns the installed table, if any.
func (d *Data) LookUp() *TableLookUp {
	return d.table
}

// SixteenBitLookup maps every sample of the allocation through the installed table.
func (d *Data) SixteenBitLookup() error {
	if d.table == nil {
		return nil
	}
	if d.data == nil {
		return StateError("data not yet allocated")
	}
	return d.startWorker(TaskApplyLookup, true)
}

func (d *Data) doLookup(startY, endY int) error {
	if d.typ != TypeUshort16 {
		return UnsupportedError("floating point lookup tables")
	}
	if d.table.ntables != 1 {
		return UnsupportedError("table lookup with multiple components")
	}
	t, err := d.table.GetTable(0)
	if err != nil {
		return err
	}

	if !d.table.dither {
		for y := startY; y < endY; y++ {
			row := d.UncroppedRow16(y)
			for x, v := range row {
				row[x] = t[v]
			}
		}
		return nil
	}

	for y := startY; y < endY; y++ {
		v := uint32(d.uncropped.X+y*13) ^ 0x45694584
		row := d.UncroppedRow16(y)
		for x, p := range row {
			base := int64(t[int(p)*2])
			delta := int64(int16(t[int(p)*2+1]))
			v = 15700*(v&65535) + (v >> 16)
			row[x] = clamp16(base + ((delta*int64(v&2047) + 1024) >> 12))
		}
	}
	return nil
}

func clamp16(v int64) uint16 {
	if v < 0 {
		return 0
	}
	if v > 65535 {
		return 65535
	}
	return uint16(v)
}
