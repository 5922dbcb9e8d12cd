package opcode

import (
	"fmt"
	"math"

	"github.com/mdouchement/dng/rawimage"
)

const maxPolynomialDegree = 8

// MapTable substitutes the samples of an area through a table.
// Indexes past the end of the table map to its last entry.
type MapTable struct {
	area
	table []uint16
}

func newMapTable(s *stream) (Opcode, error) {
	if err := s.need(areaHeaderSize+4, "MapTable"); err != nil {
		return nil, err
	}
	a, err := s.area()
	if err != nil {
		return nil, err
	}
	size := s.i32()
	if size <= 0 {
		return nil, FormatError(fmt.Sprintf("table size %d must be positive", size))
	}
	if size > rawimage.TableSize {
		return nil, FormatError(fmt.Sprintf("a map with %d entries, at most %d allowed", size, rawimage.TableSize))
	}
	if err := s.need(uint64(areaHeaderSize+4+2*size), "MapTable entries"); err != nil {
		return nil, err
	}

	m := &MapTable{
		area:  a,
		table: make([]uint16, rawimage.TableSize),
	}
	for i := 0; i < size; i++ {
		m.table[i] = s.u16()
	}
	for i := size; i < rawimage.TableSize; i++ {
		m.table[i] = m.table[size-1]
	}
	return m, nil
}

func (m *MapTable) Code() Code   { return CodeMapTable }
func (m *MapTable) Flags() Flags { return MultiThreaded | PureLookup }

func (m *MapTable) createOutput(in rawimage.RawImage) (rawimage.RawImage, error) {
	return in, m.check16(in.Get())
}

func (m *MapTable) apply(_, out rawimage.RawImage, top, bottom int) error {
	lookup(out.Get(), &m.area, m.table, top, bottom)
	return nil
}

// MapPolynomial maps the samples of an area through a polynomial of the normalized sample.
type MapPolynomial struct {
	area
	coefficients []float64
	table        []uint16
}

func newMapPolynomial(s *stream) (Opcode, error) {
	if err := s.need(areaHeaderSize+4, "MapPolynomial"); err != nil {
		return nil, err
	}
	a, err := s.area()
	if err != nil {
		return nil, err
	}
	degree := s.i32()
	if degree < 0 || degree > maxPolynomialDegree {
		return nil, FormatError(fmt.Sprintf("polynomial of degree %d, at most %d allowed", degree, maxPolynomialDegree))
	}
	if err := s.need(uint64(areaHeaderSize+4+8*(degree+1)), "MapPolynomial coefficients"); err != nil {
		return nil, err
	}

	p := &MapPolynomial{
		area:         a,
		coefficients: make([]float64, degree+1),
	}
	for i := range p.coefficients {
		p.coefficients[i] = s.f64()
	}
	return p, nil
}

func (p *MapPolynomial) Code() Code   { return CodeMapPolynomial }
func (p *MapPolynomial) Flags() Flags { return MultiThreaded | PureLookup }

// Coefficients returns the polynomial coefficients, constant term first.
func (p *MapPolynomial) Coefficients() []float64 {
	return append([]float64(nil), p.coefficients...)
}

func (p *MapPolynomial) createOutput(in rawimage.RawImage) (rawimage.RawImage, error) {
	if err := p.check16(in.Get()); err != nil {
		return in, err
	}
	if p.table == nil {
		p.table = make([]uint16, rawimage.TableSize)
		for i := range p.table {
			x := float64(i) / 65536
			val := p.coefficients[0]
			for j := 1; j < len(p.coefficients); j++ {
				val += p.coefficients[j] * math.Pow(x, float64(j))
			}
			p.table[i] = clampFloat16(val * 65535.5)
		}
	}
	return in, nil
}

func (p *MapPolynomial) apply(_, out rawimage.RawImage, top, bottom int) error {
	lookup(out.Get(), &p.area, p.table, top, bottom)
	return nil
}

func lookup(d *rawimage.Data, a *area, table []uint16, top, bottom int) {
	cpp := d.Cpp()
	for y := top; y < bottom; y += a.rowPitch {
		row := d.Row16(y)
		for x := a.aoi.Min.X; x < a.aoi.Max.X; x += a.colPitch {
			px := row[x*cpp+a.firstPlane : x*cpp+a.firstPlane+a.planes]
			for i, v := range px {
				px[i] = table[v]
			}
		}
	}
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

// clampFloat16 truncates v toward zero into [0, 65535]. NaN maps to 0.
func clampFloat16(v float64) uint16 {
	if !(v > 0) {
		return 0
	}
	if v >= 65535 {
		return 65535
	}
	return uint16(v)
}
