package dng_test

import (
	"bytes"
	"encoding/binary"
	"image"
	"math"
	"sort"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/mdouchement/dng"
	"github.com/mdouchement/dng/opcode"
	"github.com/mdouchement/dng/rawimage"
	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/mdouchement/hdrtool"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCFA(t *testing.T) {
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		values := gradient(8, 6, func(x, y int) uint16 { return uint16(x*1000 + y*7 + 1) })
		f := cfaFile(order, 8, 6, 16, samples(order, 16, 8, values))

		img := decode(t, f.encode(t), nil)
		d := img.Get()
		assert.Equal(t, rawimage.TypeUshort16, d.Type())
		assert.Equal(t, image.Pt(8, 6), d.Dim())
		assert.True(t, d.IsCFA)
		assert.Equal(t, "RGGB", d.CFA.String())
		assert.Equal(t, 65535, d.WhitePoint)
		assert.Equal(t, [4]int{0, 0, 0, 0}, d.BlackLevelSeparate)
		assertValues(t, d, values)
		img.Release()
	}
}

func TestDecodePacked(t *testing.T) {
	for _, bpp := range []uint{10, 12, 14} {
		white := 1<<bpp - 1
		values := gradient(7, 5, func(x, y int) uint16 { return uint16((x*37 + y*101) % (white + 1)) })
		f := cfaFile(binary.BigEndian, 7, 5, uint16(bpp), samples(binary.BigEndian, bpp, 7, values))

		img := decode(t, f.encode(t), &dng.Options{NoDither: true, Threads: 2})
		d := img.Get()
		assert.Equal(t, white, d.WhitePoint)
		for y := 0; y < 5; y++ {
			for x, v := range d.Row16(y) {
				want := float64(values[y*7+x]) * 65535 / float64(white)
				assert.InDelta(t, want, float64(v), 1, "%d bits (%d, %d)", bpp, x, y)
			}
		}
		img.Release()
	}
}

func TestDecodeCompression(t *testing.T) {
	// Pairs of equal samples make runs for PackBits.
	values := gradient(5, 6, func(x, y int) uint16 { return uint16(x/2*1000 + y*3) })

	for _, tc := range []struct {
		compression uint16
		encode      func(testing.TB, []byte) []byte
	}{
		{cNone, func(_ testing.TB, p []byte) []byte { return p }},
		{cDeflate, deflate},
		{cDeflateOld, deflate},
		{cPackBits, func(_ testing.TB, p []byte) []byte { return packBits(p) }},
	} {
		for _, rowsPerStrip := range []int{6, 4, 1} {
			f := cfaFile(binary.LittleEndian, 5, 6, 16, nil)
			f.ifd0.tags[tCompression] = shorts(tc.compression)
			f.ifd0.tags[tRowsPerStrip] = longs(uint32(rowsPerStrip))
			for y := 0; y < 6; y += rowsPerStrip {
				rows := values[y*5 : min(y+rowsPerStrip, 6)*5]
				f.ifd0.blocks = append(f.ifd0.blocks, tc.encode(t, samples(binary.LittleEndian, 16, 5, rows)))
			}

			img := decode(t, f.encode(t), nil)
			assertValues(t, img.Get(), values)
			img.Release()
		}
	}
}

func TestDecodeOversizedByteCount(t *testing.T) {
	values := gradient(4, 4, func(x, y int) uint16 { return uint16(100*y + x) })
	f := cfaFile(binary.LittleEndian, 4, 4, 16, samples(binary.LittleEndian, 16, 4, values))
	f.ifd0.counts = []uint32{0xfffffff0}

	img := decode(t, f.encode(t), nil)
	defer img.Release()
	assertValues(t, img.Get(), values)

	f.ifd0.counts = []uint32{31}
	_, err := dng.Decode(bytes.NewReader(f.encode(t)), nil)
	assert.IsType(t, dng.FormatError(""), errors.Cause(err))
}

func TestDecodeTiles(t *testing.T) {
	values := gradient(6, 6, func(x, y int) uint16 { return uint16(1 + x + 10*y) })
	f := cfaFile(binary.LittleEndian, 6, 6, 16, nil)
	delete(f.ifd0.tags, tRowsPerStrip)
	f.ifd0.tags[tCompression] = shorts(cDeflate)
	f.ifd0.tags[tTileWidth] = longs(4)
	f.ifd0.tags[tTileLength] = longs(4)
	f.ifd0.tiled = true

	for ty := 0; ty < 6; ty += 4 {
		for tx := 0; tx < 6; tx += 4 {
			tile := make([]uint16, 16)
			for y := ty; y < min(ty+4, 6); y++ {
				for x := tx; x < min(tx+4, 6); x++ {
					tile[(y-ty)*4+x-tx] = values[y*6+x]
				}
			}
			f.ifd0.blocks = append(f.ifd0.blocks, deflate(t, samples(binary.LittleEndian, 16, 4, tile)))
		}
	}

	img := decode(t, f.encode(t), nil)
	defer img.Release()
	assertValues(t, img.Get(), values)
}

func TestDecodePredictor(t *testing.T) {
	values := gradient(6, 3, func(x, y int) uint16 { return uint16(200 + 11*x - 50*y) })
	diff := make([]uint16, len(values))
	for i, v := range values {
		if i%6 == 0 {
			diff[i] = v
			continue
		}
		diff[i] = (v - values[i-1]) & 0xff
	}
	f := cfaFile(binary.LittleEndian, 6, 3, 8, samples(binary.LittleEndian, 8, 6, diff))
	f.ifd0.tags[tPredictor] = shorts(2)

	img := decode(t, f.encode(t), nil)
	defer img.Release()
	for y := 0; y < 3; y++ {
		for x, v := range img.Get().Row16(y) {
			assert.Equal(t, values[y*6+x]*257, v, "(%d, %d)", x, y)
		}
	}
}

func TestDecodeMaskedAreas(t *testing.T) {
	values := gradient(12, 10, func(x, y int) uint16 {
		if x < 2 || y < 2 {
			return 512
		}
		return uint16(512 + 100*(x-2) + 10*(y-2))
	})
	f := cfaFile(binary.LittleEndian, 12, 10, 16, samples(binary.LittleEndian, 16, 12, values))
	f.ifd0.tags[tWhiteLevel] = shorts(4095)
	f.ifd0.tags[tActiveArea] = longs(2, 2, 10, 12)
	f.ifd0.tags[tMaskedAreas] = longs(
		0, 2, 2, 12, // Rows above the active area.
		2, 0, 10, 2, // Columns on its left.
		0, 0, 2, 2, // Corner, ignored.
	)

	img := decode(t, f.encode(t), &dng.Options{NoDither: true})
	defer img.Release()
	d := img.Get()
	assert.Equal(t, image.Pt(10, 8), d.Dim())
	assert.Equal(t, image.Pt(2, 2), d.CropOffset())
	assert.Equal(t, [4]int{512, 512, 512, 512}, d.BlackLevelSeparate)
	for y := 0; y < 8; y++ {
		for x, v := range d.Row16(y) {
			want := float64(100*x+10*y) * 65535 / 3583
			assert.InDelta(t, want, float64(v), 1, "(%d, %d)", x, y)
		}
	}
}

func TestDecodeBlackLevelRepeat(t *testing.T) {
	levels := [4]int{100, 200, 300, 400}
	// The pattern starts at the odd origin of the active area.
	values := gradient(9, 7, func(x, y int) uint16 {
		r, c := (y-1)&1, (x-1)&1
		return uint16(levels[r<<1|c] + 1000)
	})
	f := cfaFile(binary.BigEndian, 9, 7, 16, samples(binary.BigEndian, 16, 9, values))
	f.ifd0.tags[tWhiteLevel] = longs(4095)
	f.ifd0.tags[tActiveArea] = shorts(1, 1, 7, 9)
	f.ifd0.tags[tBlackLevelRepeatDim] = shorts(2, 2)
	f.ifd0.tags[tBlackLevel] = rationals(100, 1, 400, 2, 600, 2, 400, 1)

	img := decode(t, f.encode(t), &dng.Options{NoDither: true, Threads: 3})
	defer img.Release()
	d := img.Get()
	assert.Equal(t, image.Pt(8, 6), d.Dim())
	assert.Equal(t, 250, d.BlackLevel)
	for y := 0; y < 6; y++ {
		for x, v := range d.Row16(y) {
			want := 1000 * 65535 / float64(4095-levels[(y&1)<<1|x&1])
			assert.InDelta(t, want, float64(v), 1, "(%d, %d)", x, y)
		}
	}
}

func TestDecodeLinearizationTable(t *testing.T) {
	values := gradient(16, 16, func(x, y int) uint16 { return uint16(16*y + x) })
	table := make([]uint16, 256)
	for i := range table {
		table[i] = uint16(16 * i)
	}
	f := cfaFile(binary.LittleEndian, 16, 16, 8, samples(binary.LittleEndian, 8, 16, values))
	f.ifd0.tags[tLinearizationTable] = shorts(table...)
	f.ifd0.tags[tWhiteLevel] = shorts(4080)

	img := decode(t, f.encode(t), &dng.Options{NoDither: true})
	defer img.Release()
	d := img.Get()
	assert.Nil(t, d.LookUp())
	for y := 0; y < 16; y++ {
		for x, v := range d.Row16(y) {
			assert.Equal(t, values[y*16+x]*257, v)
		}
	}
}

func TestDecodeOpcodes(t *testing.T) {
	f := cfaFile(binary.LittleEndian, 6, 6, 16, samples(binary.LittleEndian, 16, 6, make([]uint16, 36)))
	f.ifd0.tags[tOpcodeList1] = undefined(opcodeList(t, trimBounds(1, 1, 5, 5)))
	f.ifd0.tags[tOpcodeList2] = undefined(opcodeList(t, invertTable(0, 0, 4, 4)))
	f.ifd0.tags[tOpcodeList3] = undefined(opcodeList(t))
	data := f.encode(t)

	img := decode(t, data, nil)
	assert.Equal(t, image.Pt(4, 4), img.Get().Dim())
	assertValues(t, img.Get(), gradient(4, 4, func(int, int) uint16 { return 65535 }))
	img.Release()

	img = decode(t, data, &dng.Options{SkipOpcodes: true})
	assert.Equal(t, image.Pt(6, 6), img.Get().Dim())
	assertValues(t, img.Get(), make([]uint16, 36))
	img.Release()
}

func TestDecodeUnsupportedOpcodeList3(t *testing.T) {
	values := gradient(6, 6, func(x, y int) uint16 { return uint16(10*y + x) })
	f := cfaFile(binary.LittleEndian, 6, 6, 16, samples(binary.LittleEndian, 16, 6, values))
	warp := opcodeEntry{code: 1, payload: []interface{}{uint32(1), []float64{1, 0, 0, 0, 0, 0, 0.5, 0.5}}}
	f.ifd0.tags[tOpcodeList3] = undefined(opcodeList(t, warp))

	img := decode(t, f.encode(t), nil)
	defer img.Release()
	assertValues(t, img.Get(), values)

	// Lists that are applied still reject it.
	f.ifd0.tags[tOpcodeList2] = undefined(opcodeList(t, warp))
	_, err := dng.Decode(bytes.NewReader(f.encode(t)), nil)
	assert.IsType(t, opcode.UnsupportedError(""), errors.Cause(err))

	// Malformed lists are still rejected.
	delete(f.ifd0.tags, tOpcodeList2)
	f.ifd0.tags[tOpcodeList3] = undefined([]byte{0, 0, 0, 1})
	_, err = dng.Decode(bytes.NewReader(f.encode(t)), nil)
	assert.IsType(t, opcode.FormatError(""), errors.Cause(err))
}

func TestDecodeBadPixels(t *testing.T) {
	values := gradient(6, 6, func(x, y int) uint16 { return 2000 })
	values[3*6+2] = 4000
	f := cfaFile(binary.LittleEndian, 6, 6, 16, samples(binary.LittleEndian, 16, 6, values))
	f.ifd0.tags[tWhiteLevel] = shorts(4000)
	f.ifd0.tags[tOpcodeList1] = undefined(opcodeList(t, badPixelList(3, 2)))

	img := decode(t, f.encode(t), &dng.Options{NoDither: true})
	defer img.Release()
	d := img.Get()
	assert.True(t, d.IsBadPixel(2, 3))
	for y := 0; y < 6; y++ {
		for x, v := range d.Row16(y) {
			assert.InDelta(t, 32767.5, float64(v), 1, "(%d, %d)", x, y)
		}
	}
}

func TestDecodeLinearRaw(t *testing.T) {
	values := gradient(4*3, 3, func(x, y int) uint16 { return uint16(20 + 10*(x%3) + 1000*(x/3) + 100*y) })
	f := linearRawFile(binary.LittleEndian, 4, 3, 16, samples(binary.LittleEndian, 16, 12, values))
	f.ifd0.tags[tBlackLevel] = shorts(10, 20, 30) // Averaged.

	img := decode(t, f.encode(t), &dng.Options{NoDither: true})
	defer img.Release()
	d := img.Get()
	assert.False(t, d.IsCFA)
	assert.Equal(t, 3, d.Cpp())
	assert.Equal(t, 20, d.BlackLevel)

	m, err := dng.ToImage(img)
	require.NoError(t, err)
	rgba, ok := m.(*image.RGBA64)
	require.True(t, ok)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			c := rgba.RGBA64At(x, y)
			for i, v := range []uint16{c.R, c.G, c.B} {
				want := float64(values[y*12+x*3+i]-20) * 65535 / 65515
				assert.InDelta(t, want, float64(v), 1, "(%d, %d)", x, y)
			}
			assert.Equal(t, uint16(0xffff), c.A)
		}
	}
}

func TestDecodeFloat(t *testing.T) {
	const size = 32
	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		reference := hdr.NewRGB(image.Rect(0, 0, size, size))
		values := make([]float32, 0, 3*size*size)
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				c := hdrcolor.RGB{R: float64(x) / size, G: float64(y) / size, B: float64(x+y) / (2 * size)}
				reference.SetRGB(x, y, c)
				values = append(values, float32(c.R), float32(c.G), float32(c.B))
			}
		}
		f := linearRawFile(order, size, size, 32, floats(order, values))
		f.ifd0.tags[tSampleFormat] = shorts(3, 3, 3)

		img := decode(t, f.encode(t), nil)
		assert.Equal(t, rawimage.TypeFloat32, img.Get().Type())
		assert.InDelta(t, 65535*float64(values[3]), img.Get().RowF32(0)[3], 1e-2)

		m, err := dng.ToImage(img)
		require.NoError(t, err)
		img.Release()
		hm, ok := m.(*hdr.RGB)
		require.True(t, ok)

		r, g, b, _ := hm.HDRAt(5, 7).HDRRGBA()
		assert.InDelta(t, 5.0/size, r, 1e-6)
		assert.InDelta(t, 7.0/size, g, 1e-6)
		assert.InDelta(t, 12.0/(2*size), b, 1e-6)

		ssim := hdrtool.HDRSSIM(reference, hm)
		assert.InDelta(t, 1, ssim, 1e-3)
	}
}

func TestDecodeFloatCFA(t *testing.T) {
	values := []float32{0, 0.25, 0.5, 1}
	f := cfaFile(binary.LittleEndian, 2, 2, 32, floats(binary.LittleEndian, values))
	f.ifd0.tags[tSampleFormat] = shorts(3)

	img := decode(t, f.encode(t), nil)
	defer img.Release()
	assert.InDeltaSlice(t, []float32{0, 16383.75}, img.Get().RowF32(0), 1e-2)
	assert.InDeltaSlice(t, []float32{32767.5, 65535}, img.Get().RowF32(1), 1e-2)

	m, err := dng.ToImage(img)
	require.NoError(t, err)
	r, g, b, _ := m.(hdr.Image).HDRAt(1, 0).HDRRGBA()
	assert.InDelta(t, 0.25, r, 1e-6)
	assert.Equal(t, r, g)
	assert.Equal(t, r, b)
}

func TestDecodeSubIFD(t *testing.T) {
	values := gradient(4, 4, func(x, y int) uint16 { return uint16(x + 4*y) })
	raw := cfaFile(binary.LittleEndian, 4, 4, 16, samples(binary.LittleEndian, 16, 4, values)).ifd0
	delete(raw.tags, tDNGVersion)
	delete(raw.tags, tDNGBackwardVersion)

	thumbnail := &ifd{
		tags: map[uint16]value{
			tNewSubFileType:            longs(1),
			tImageWidth:                longs(2),
			tImageLength:               longs(2),
			tBitsPerSample:             shorts(8, 8, 8),
			tCompression:               shorts(cNone),
			tPhotometricInterpretation: shorts(2),
			tSamplesPerPixel:           shorts(3),
			tRowsPerStrip:              longs(2),
			tDNGVersion:                bytesOf(1, 6, 0, 0),
			tDNGBackwardVersion:        bytesOf(1, 4, 0, 0),
		},
		blocks: [][]byte{make([]byte, 12)},
		sub:    []*ifd{raw},
	}
	f := &file{order: binary.LittleEndian, ifd0: thumbnail}

	cfg, err := dng.DecodeConfig(bytes.NewReader(f.encode(t)))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Width)

	img := decode(t, f.encode(t), nil)
	assertValues(t, img.Get(), values)
	img.Release()

	thumbnail.tags[tDNGBackwardVersion] = bytesOf(1, 8, 0, 0)
	_, err = dng.Decode(bytes.NewReader(f.encode(t)), nil)
	assert.IsType(t, dng.UnsupportedError(""), err)
}

func TestDecodeFromStream(t *testing.T) {
	values := gradient(3, 3, func(x, y int) uint16 { return uint16(9 * (x + y)) })
	data := cfaFile(binary.LittleEndian, 3, 3, 16, samples(binary.LittleEndian, 16, 3, values)).encode(t)

	img, err := dng.Decode(bytes.NewBuffer(data), nil)
	require.NoError(t, err)
	defer img.Release()
	assertValues(t, img.Get(), values)
}

func TestDecodeAllocator(t *testing.T) {
	a := &countingAllocator{}
	data := cfaFile(binary.LittleEndian, 4, 4, 16, samples(binary.LittleEndian, 16, 4, make([]uint16, 16))).encode(t)

	img, err := dng.Decode(bytes.NewReader(data), &dng.Options{Allocator: a})
	require.NoError(t, err)
	assert.Equal(t, 1, a.allocs)
	img.Release()
	assert.Equal(t, 1, a.frees)
}

type countingAllocator struct {
	allocs, frees int
}

func (a *countingAllocator) Alloc(size int) ([]byte, error) {
	a.allocs++
	return make([]byte, size), nil
}

func (a *countingAllocator) Free([]byte) {
	a.frees++
}

///////////////////////////
//                       //
// Benchmarks            //
//                       //
///////////////////////////

// go test -run=NONE -bench=.

var rawimg rawimage.RawImage

func BenchmarkDecodePacked12(b *testing.B) {
	values := gradient(512, 512, func(x, y int) uint16 { return uint16((x*y + x) % 4096) })
	f := cfaFile(binary.BigEndian, 512, 512, 12, samples(binary.BigEndian, 12, 512, values))
	f.ifd0.tags[tBlackLevel] = shorts(64)
	f.ifd0.tags[tOpcodeList2] = undefined(opcodeList(b, invertTable(0, 0, 512, 512)))
	data := f.encode(b)

	var img rawimage.RawImage
	var err error
	for n := 0; n < b.N; n++ {
		img.Release()
		img, err = dng.Decode(bytes.NewReader(data), nil)
	}
	assert.NoError(b, err)
	rawimg = img
}

func BenchmarkDecodeDeflate(b *testing.B) {
	values := gradient(512, 512, func(x, y int) uint16 { return uint16(x * y) })
	f := cfaFile(binary.LittleEndian, 512, 512, 16, deflate(b, samples(binary.LittleEndian, 16, 512, values)))
	f.ifd0.tags[tCompression] = shorts(cDeflate)
	data := f.encode(b)

	var img rawimage.RawImage
	var err error
	for n := 0; n < b.N; n++ {
		img.Release()
		img, err = dng.Decode(bytes.NewReader(data), nil)
	}
	assert.NoError(b, err)
	rawimg = img
}

///////////////////////////
//                       //
// Synthetic files       //
//                       //
///////////////////////////

const (
	tNewSubFileType            = 254
	tImageWidth                = 256
	tImageLength               = 257
	tBitsPerSample             = 258
	tCompression               = 259
	tPhotometricInterpretation = 262
	tStripOffsets              = 273
	tSamplesPerPixel           = 277
	tRowsPerStrip              = 278
	tStripByteCounts           = 279
	tPlanarConfiguration       = 284
	tPredictor                 = 317
	tTileWidth                 = 322
	tTileLength                = 323
	tTileOffsets               = 324
	tTileByteCounts            = 325
	tSubIFDs                   = 330
	tSampleFormat              = 339
	tCFARepeatPatternDim       = 33421
	tCFAPattern                = 33422
	tDNGVersion                = 50706
	tDNGBackwardVersion        = 50707
	tLinearizationTable        = 50712
	tBlackLevelRepeatDim       = 50713
	tBlackLevel                = 50714
	tWhiteLevel                = 50717
	tActiveArea                = 50829
	tMaskedAreas               = 50830
	tOpcodeList1               = 51008
	tOpcodeList2               = 51009
	tOpcodeList3               = 51022

	cNone       = 1
	cJPEG       = 7
	cDeflate    = 8
	cPackBits   = 32773
	cDeflateOld = 32946
)

// value is an IFD entry payload, a slice of fixed-size values written in file order.
type value struct {
	datatype uint16
	count    int
	data     interface{}
}

func bytesOf(v ...byte) value     { return value{datatype: 1, count: len(v), data: v} }
func undefined(p []byte) value    { return value{datatype: 7, count: len(p), data: p} }
func shorts(v ...uint16) value    { return value{datatype: 3, count: len(v), data: v} }
func longs(v ...uint32) value     { return value{datatype: 4, count: len(v), data: v} }
func rationals(v ...uint32) value { return value{datatype: 5, count: len(v) / 2, data: v} }

type ifd struct {
	tags   map[uint16]value
	blocks [][]byte // Strips, or tiles when tiled.
	tiled  bool
	sub    []*ifd
	counts []uint32 // Written instead of the block lengths when set.
}

type file struct {
	order binary.ByteOrder
	ifd0  *ifd
}

// cfaFile returns a DNG holding an RGGB image in one uncompressed strip.
func cfaFile(order binary.ByteOrder, width, height int, bpp uint16, strip []byte) *file {
	f := &file{order: order, ifd0: &ifd{
		tags: map[uint16]value{
			tNewSubFileType:            longs(0),
			tImageWidth:                longs(uint32(width)),
			tImageLength:               longs(uint32(height)),
			tBitsPerSample:             shorts(bpp),
			tCompression:               shorts(cNone),
			tPhotometricInterpretation: shorts(32803),
			tSamplesPerPixel:           shorts(1),
			tRowsPerStrip:              longs(uint32(height)),
			tCFARepeatPatternDim:       shorts(2, 2),
			tCFAPattern:                bytesOf(0, 1, 1, 2),
			tDNGVersion:                bytesOf(1, 4, 0, 0),
			tDNGBackwardVersion:        bytesOf(1, 1, 0, 0),
		},
	}}
	if strip != nil {
		f.ifd0.blocks = [][]byte{strip}
	}
	return f
}

// linearRawFile returns a DNG holding a 3 samples per pixel image in one uncompressed strip.
func linearRawFile(order binary.ByteOrder, width, height int, bpp uint16, strip []byte) *file {
	f := cfaFile(order, width, height, bpp, strip)
	delete(f.ifd0.tags, tCFARepeatPatternDim)
	delete(f.ifd0.tags, tCFAPattern)
	f.ifd0.tags[tPhotometricInterpretation] = shorts(34892)
	f.ifd0.tags[tSamplesPerPixel] = shorts(3)
	f.ifd0.tags[tBitsPerSample] = shorts(bpp, bpp, bpp)
	return f
}

func (f *file) encode(t testing.TB) []byte {
	t.Helper()

	var buf bytes.Buffer
	if f.order == binary.LittleEndian {
		buf.WriteString("II\x2A\x00")
	} else {
		buf.WriteString("MM\x00\x2A")
	}
	buf.Write(make([]byte, 4))

	offset := f.writeIFD(t, &buf, f.ifd0)
	p := buf.Bytes()
	f.order.PutUint32(p[4:8], offset)
	return p
}

// writeIFD appends the blocks, the sub IFDs, the payloads and finally the entries
// of d to buf. It returns the offset of the entries.
func (f *file) writeIFD(t testing.TB, buf *bytes.Buffer, d *ifd) uint32 {
	tags := make(map[uint16]value, len(d.tags)+2)
	for id, v := range d.tags {
		tags[id] = v
	}

	if len(d.blocks) > 0 {
		var offsets, counts []uint32
		for _, p := range d.blocks {
			offsets = append(offsets, uint32(buf.Len()))
			counts = append(counts, uint32(len(p)))
			buf.Write(p)
		}
		if d.counts != nil {
			counts = d.counts
		}
		if d.tiled {
			tags[tTileOffsets], tags[tTileByteCounts] = longs(offsets...), longs(counts...)
		} else {
			tags[tStripOffsets], tags[tStripByteCounts] = longs(offsets...), longs(counts...)
		}
	}
	if len(d.sub) > 0 {
		var offsets []uint32
		for _, sub := range d.sub {
			offsets = append(offsets, f.writeIFD(t, buf, sub))
		}
		tags[tSubIFDs] = longs(offsets...)
	}

	ids := make([]int, 0, len(tags))
	for id := range tags {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)

	payloads := make(map[uint16][]byte, len(ids))
	pointers := make(map[uint16]uint32)
	for _, i := range ids {
		id := uint16(i)
		var p bytes.Buffer
		require.NoError(t, binary.Write(&p, f.order, tags[id].data))
		payloads[id] = p.Bytes()
		if p.Len() > 4 {
			pad(buf)
			pointers[id] = uint32(buf.Len())
			buf.Write(p.Bytes())
		}
	}

	pad(buf)
	start := uint32(buf.Len())
	write := func(v interface{}) {
		require.NoError(t, binary.Write(buf, f.order, v))
	}
	write(uint16(len(ids)))
	for _, i := range ids {
		id := uint16(i)
		write(id)
		write(tags[id].datatype)
		write(uint32(tags[id].count))
		if ptr, ok := pointers[id]; ok {
			write(ptr)
			continue
		}
		entry := make([]byte, 4)
		copy(entry, payloads[id])
		buf.Write(entry)
	}
	write(uint32(0)) // No next IFD.
	return start
}

// pad keeps offsets on a word boundary.
func pad(buf *bytes.Buffer) {
	if buf.Len()%2 != 0 {
		buf.WriteByte(0)
	}
}

func gradient(width, height int, fn func(x, y int) uint16) []uint16 {
	values := make([]uint16, 0, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			values = append(values, fn(x, y))
		}
	}
	return values
}

// samples encodes rows of n samples of bpp bits. 8 and 16-bit samples are written
// whole, the others are packed MSB first and rows are byte aligned.
func samples(order binary.ByteOrder, bpp uint, n int, values []uint16) []byte {
	var p []byte
	for y := 0; y*n < len(values); y++ {
		row := values[y*n : (y+1)*n]
		switch bpp {
		case 8:
			for _, v := range row {
				p = append(p, byte(v))
			}
		case 16:
			for _, v := range row {
				b := make([]byte, 2)
				order.PutUint16(b, v)
				p = append(p, b...)
			}
		default:
			var acc uint32
			var nbits uint
			for _, v := range row {
				acc = acc<<bpp | uint32(v)
				nbits += bpp
				for nbits >= 8 {
					nbits -= 8
					p = append(p, byte(acc>>nbits))
					acc &= 1<<nbits - 1
				}
			}
			if nbits > 0 {
				p = append(p, byte(acc<<(8-nbits)))
			}
		}
	}
	return p
}

func floats(order binary.ByteOrder, values []float32) []byte {
	p := make([]byte, 4*len(values))
	for i, v := range values {
		order.PutUint32(p[4*i:], math.Float32bits(v))
	}
	return p
}

func deflate(t testing.TB, p []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err := w.Write(p)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// packBits replicates runs of 3 bytes or more and copies the rest literally.
func packBits(p []byte) []byte {
	var out []byte
	for i := 0; i < len(p); {
		run := 1
		for i+run < len(p) && run < 128 && p[i+run] == p[i] {
			run++
		}
		if run >= 3 {
			out = append(out, byte(int8(1-run)), p[i])
			i += run
			continue
		}

		j := i
		for j < len(p) && j-i < 128 {
			if j+2 < len(p) && p[j] == p[j+1] && p[j] == p[j+2] {
				break
			}
			j++
		}
		out = append(out, byte(j-i-1))
		out = append(out, p[i:j]...)
		i = j
	}
	return out
}

type opcodeEntry struct {
	code    uint32
	payload []interface{}
}

// opcodeList encodes a big-endian opcode list.
func opcodeList(t testing.TB, ops ...opcodeEntry) []byte {
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(ops))))
	for _, o := range ops {
		var p bytes.Buffer
		for _, field := range o.payload {
			require.NoError(t, binary.Write(&p, binary.BigEndian, field))
		}
		require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{o.code, 0x01030000, 0, uint32(p.Len())}))
		buf.Write(p.Bytes())
	}
	return buf.Bytes()
}

func trimBounds(top, left, bottom, right int32) opcodeEntry {
	return opcodeEntry{code: 6, payload: []interface{}{[]int32{top, left, bottom, right}}}
}

func invertTable(top, left, bottom, right int32) opcodeEntry {
	table := make([]uint16, 65536)
	for i := range table {
		table[i] = uint16(65535 - i)
	}
	return opcodeEntry{code: 7, payload: []interface{}{
		[]int32{top, left, bottom, right, 0, 1, 1, 1}, int32(len(table)), table,
	}}
}

func badPixelList(row, col int32) opcodeEntry {
	return opcodeEntry{code: 5, payload: []interface{}{[]uint32{0, 1, 0}, []int32{row, col}}}
}

func decode(t testing.TB, data []byte, opts *dng.Options) rawimage.RawImage {
	t.Helper()
	img, err := dng.Decode(bytes.NewReader(data), opts)
	require.NoError(t, err)
	return img
}

func assertValues(t testing.TB, d *rawimage.Data, values []uint16) {
	t.Helper()
	n := d.Dim().X * d.Cpp()
	for y := 0; y < d.Dim().Y; y++ {
		assert.Equal(t, values[y*n:(y+1)*n], d.Row16(y), "row %d", y)
	}
}
