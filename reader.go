// Package dng decodes the raw image of DNG files and normalizes it: opcode
// lists, linearization, black/white level scaling and bad pixel repair.
// The result is a linear buffer, neither demosaiced nor colour corrected.
package dng

// Resources:
// https://github.com/golang/image/tree/master/tiff
// http://www.awaresystems.be/imaging/tiff.html
//
// TIFF/EP:
// https://www.awaresystems.be/imaging/tiff/specification/TIFFPM6.pdf (SubIFD Trees)
// DNG:
// https://helpx.adobe.com/photoshop/digital-negative.html
// https://helpx.adobe.com/content/dam/help/en/photoshop/pdf/dng_spec_1_6_0_0.pdf
// https://rcsumner.net/raw_guide/RAWguide.pdf (processing workflow)

import (
	"encoding/binary"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/mdouchement/dng/opcode"
	"github.com/mdouchement/dng/rawimage"
	"github.com/pkg/errors"
)

// Options configures Decode. A nil *Options means defaults.
type Options struct {
	// Threads is the number of workers, zero meaning one per CPU.
	Threads int
	// NoDither disables the random term added by the linearization table and the 16-bit scaling.
	NoDither bool
	// SkipOpcodes leaves OpcodeList1 and OpcodeList2 unapplied.
	SkipOpcodes bool
	// Allocator provides the pixel arenas. Nil means rawimage.DefaultAllocator.
	Allocator rawimage.Allocator
}

func (o *Options) rawOptions() *rawimage.Options {
	if o == nil {
		return nil
	}
	return &rawimage.Options{
		Threads:   o.Threads,
		Allocator: o.Allocator,
	}
}

//------------------------//
// Reader                 //
//------------------------//

// DecodeConfig returns the color model and dimensions of the raw image of a DNG
// file without decoding the entire image.
func DecodeConfig(r io.Reader) (image.Config, error) {
	d, err := newDecoder(r)
	if err != nil {
		return image.Config{}, err
	}
	return d.config, nil
}

// Describe returns a listing of the tags of the raw image IFD of a DNG file.
func Describe(r io.Reader) (string, error) {
	ra, err := newReaderAt(r)
	if err != nil {
		return "", err
	}
	d, err := newIDF(ra)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}

// Decode reads the raw image of a DNG file from r and returns it normalized:
// cropped to the active area, samples scaled from [black, white] to [0, 65535].
// The caller owns the returned handle and must Release it.
func Decode(r io.Reader, opts *Options) (rawimage.RawImage, error) {
	d, err := newDecoder(r)
	if err != nil {
		return rawimage.RawImage{}, err
	}
	if err = d.checkVersion(); err != nil {
		return rawimage.RawImage{}, err
	}

	img, err := rawimage.NewSized(d.typ, image.Pt(d.config.Width, d.config.Height), d.cpp, opts.rawOptions())
	if err != nil {
		return rawimage.RawImage{}, errors.Wrap(err, "dng: allocate")
	}
	if err = d.load(img.Get()); err != nil {
		img.Release()
		return rawimage.RawImage{}, err
	}
	if err = d.normalize(&img, opts); err != nil {
		img.Release()
		return rawimage.RawImage{}, err
	}
	return img, nil
}

// checkVersion rejects files written for a newer reader.
func (d *decoder) checkVersion() error {
	v := d.features[tDNGBackwardVersion].val
	if len(v) == 4 && (v[0] > 1 || v[1] > 7) {
		return UnsupportedError(fmt.Sprintf("DNG backward version %d.%d.%d.%d", v[0], v[1], v[2], v[3]))
	}
	return nil
}

// load decompresses and unpacks every strip or tile into dst.
func (d *decoder) load(dst *rawimage.Data) error {
	if d.mode == mColorFilterArray {
		if err := d.setupCFA(dst); err != nil {
			return err
		}
	}

	blockPadding := false
	blockWidth := d.config.Width
	blockHeight := d.config.Height
	blocksAcross := 1
	blocksDown := 1

	var blockOffsets, blockCounts []uint

	if int(d.firstVal(tTileWidth)) != 0 {
		blockPadding = true

		blockWidth = int(d.firstVal(tTileWidth))
		blockHeight = int(d.firstVal(tTileLength))
		if blockHeight == 0 {
			return FormatError("TileLength tag missing")
		}

		blocksAcross = (d.config.Width + blockWidth - 1) / blockWidth
		blocksDown = (d.config.Height + blockHeight - 1) / blockHeight

		blockCounts = d.features[tTileByteCounts].val
		blockOffsets = d.features[tTileOffsets].val
	} else {
		if rps := d.firstVal(tRowsPerStrip); rps != 0 && int(rps) < d.config.Height {
			blockHeight = int(rps)
		}
		blocksDown = (d.config.Height + blockHeight - 1) / blockHeight

		blockOffsets = d.features[tStripOffsets].val
		blockCounts = d.features[tStripByteCounts].val
	}

	// Check if we have the right number of strips/tiles, offsets and counts.
	if n := blocksAcross * blocksDown; len(blockOffsets) < n || len(blockCounts) < n {
		return FormatError("inconsistent header")
	}

	for j := 0; j < blocksDown; j++ {
		blkH := blockHeight
		if !blockPadding && j == blocksDown-1 && d.config.Height%blockHeight != 0 {
			blkH = d.config.Height % blockHeight
		}
		for i := 0; i < blocksAcross; i++ {
			offset := int64(blockOffsets[j*blocksAcross+i])
			n := int64(blockCounts[j*blocksAcross+i])

			if err := d.decompress(offset, n, d.blockSize(blockWidth, blkH)); err != nil {
				return err
			}

			xmin := i * blockWidth
			ymin := j * blockHeight
			xmax := xmin + blockWidth
			ymax := ymin + blkH
			var err error
			switch d.typ {
			case rawimage.TypeUshort16:
				err = d.decodeInteger(dst, xmin, ymin, xmax, ymax, blockWidth)
			case rawimage.TypeFloat32:
				err = d.decodeFloat(dst, xmin, ymin, xmax, ymax, blockWidth)
			default:
				err = InternalError(fmt.Sprintf("no decoder for %v samples", d.typ))
			}
			if err != nil {
				return err
			}
		}
	}
	d.buf = nil
	return nil
}

// blockSize returns the number of bytes of an uncompressed block.
func (d *decoder) blockSize(width, height int) int {
	return rowBytes(width*d.cpp, d.bpp) * height
}

func (d *decoder) setupCFA(dst *rawimage.Data) error {
	size := image.Pt(2, 2)
	if t, ok := d.features[tCFARepeatPatternDim]; ok {
		if len(t.val) != 2 {
			return FormatError("CFARepeatPatternDim needs 2 values")
		}
		size = image.Pt(int(t.val[1]), int(t.val[0])) // rows, cols
	}

	t, ok := d.features[tCFAPattern]
	if !ok {
		return FormatError("CFAPattern tag missing")
	}
	colors := make([]rawimage.CFAColor, len(t.val))
	for i, v := range t.val {
		colors[i] = rawimage.CFAColor(v)
	}
	cfa, err := rawimage.NewColorFilterArray(size, colors)
	if err != nil {
		return errors.Wrap(err, "dng: CFAPattern")
	}
	dst.IsCFA = true
	dst.CFA = cfa
	debug("CFA pattern %v", cfa)
	return nil
}

// normalize runs the processing stages of the DNG spec (chapter 5) on the raw
// image: OpcodeList1, linearization, active area crop, black/white scaling,
// OpcodeList2 and bad pixel repair.
func (d *decoder) normalize(img *rawimage.RawImage, opts *Options) (err error) {
	skipOpcodes := opts != nil && opts.SkipOpcodes
	noDither := opts != nil && opts.NoDither

	lists := map[uint16]*opcode.List{}
	for _, id := range []uint16{tOpcodeList1, tOpcodeList2, tOpcodeList3} {
		t, ok := d.features[id]
		if !ok {
			continue
		}
		// Opcode lists are always big-endian.
		l, err := opcode.Parse(t.raw, binary.BigEndian)
		if _, ok := errors.Cause(err).(opcode.UnsupportedError); ok && id == tOpcodeList3 {
			// The list is never applied.
			debug("%s ignored: %v", tagname(id), err)
			continue
		}
		if err != nil {
			return errors.Wrap(err, tagname(id))
		}
		lists[id] = l
		debug("%s: %d opcodes", tagname(id), l.Len())
	}

	if l, ok := lists[tOpcodeList1]; ok && !skipOpcodes {
		if err = d.applyOpcodes(img, l, tOpcodeList1); err != nil {
			return err
		}
	}

	data := img.Get()
	if err = d.linearize(data, !noDither); err != nil {
		return err
	}

	active := image.Rectangle{Max: data.UncroppedDim()}
	if t, ok := d.features[tActiveArea]; ok {
		if len(t.val) != 4 {
			return FormatError("ActiveArea needs 4 values")
		}
		active = image.Rectangle{
			Min: image.Point{X: int(t.val[1]), Y: int(t.val[0])},
			Max: image.Point{X: int(t.val[3]), Y: int(t.val[2])},
		}
		// The frame is still uncropped unless OpcodeList1 trimmed it.
		if err = data.SubFrame(active.Sub(data.CropOffset())); err != nil {
			return errors.Wrap(err, "dng: ActiveArea")
		}
	}
	data.BlackAreas = d.blackAreas(active)

	if err = d.setLevels(data, active.Min); err != nil {
		return err
	}
	data.DitherScale = !noDither
	if err = data.ScaleBlackWhite(); err != nil {
		return errors.Wrap(err, "dng: scale")
	}

	if l, ok := lists[tOpcodeList2]; ok && !skipOpcodes {
		if err = d.applyOpcodes(img, l, tOpcodeList2); err != nil {
			return err
		}
	}
	// OpcodeList3 applies to demosaiced data and is only validated here,
	// unsupported opcodes aside.

	if err = img.Get().FixBadPixels(); err != nil {
		return errors.Wrap(err, "dng: bad pixels")
	}
	return nil
}

func (d *decoder) applyOpcodes(img *rawimage.RawImage, l *opcode.List, id uint16) error {
	out, err := l.Apply(*img)
	if err != nil {
		return errors.Wrap(err, tagname(id))
	}
	img.Assign(out)
	return nil
}

// linearize maps the samples through the LinearizationTable tag, if any.
func (d *decoder) linearize(data *rawimage.Data, dither bool) error {
	t, ok := d.features[tLinearizationTable]
	if !ok {
		return nil
	}
	if data.Type() != rawimage.TypeUshort16 {
		return UnsupportedError("linearization of floating-point samples")
	}

	values := make([]uint16, len(t.val))
	for i, v := range t.val {
		values[i] = uint16(min(v, 65535))
	}
	if err := data.SetTable(values, dither); err != nil {
		return errors.Wrap(err, "dng: LinearizationTable")
	}
	defer data.SetLookUp(nil)
	if err := data.SixteenBitLookup(); err != nil {
		return errors.Wrap(err, "dng: LinearizationTable")
	}
	debug("linearized through %d entries", len(values))
	return nil
}

// blackAreas converts the MaskedAreas covering the whole active width (or height)
// into horizontal (or vertical) black areas.
func (d *decoder) blackAreas(active image.Rectangle) []rawimage.BlackArea {
	t, ok := d.features[tMaskedAreas]
	if !ok {
		return nil
	}

	var areas []rawimage.BlackArea
	for i := 0; i+3 < len(t.val); i += 4 {
		top, left, bottom, right := int(t.val[i]), int(t.val[i+1]), int(t.val[i+2]), int(t.val[i+3])
		switch {
		case bottom <= top || right <= left:
			continue
		case left <= active.Min.X && right >= active.Max.X:
			areas = append(areas, rawimage.BlackArea{Offset: top, Size: bottom - top})
		case top <= active.Min.Y && bottom >= active.Max.Y:
			areas = append(areas, rawimage.BlackArea{Offset: left, Size: right - left, Vertical: true})
		default:
			debug("masked area [%d %d %d %d] ignored", top, left, bottom, right)
		}
	}
	return areas
}

// setLevels reads BlackLevel, BlackLevelRepeatDim and WhiteLevel. Black levels
// repeat from the top-left corner of the active area at origin.
func (d *decoder) setLevels(data *rawimage.Data, origin image.Point) error {
	if d.typ == rawimage.TypeFloat32 {
		data.WhitePoint = 1
	} else {
		data.WhitePoint = 1<<d.bpp - 1
	}
	if t, ok := d.features[tWhiteLevel]; ok {
		data.WhitePoint = t.asInt(0)
	}

	t, ok := d.features[tBlackLevel]
	if !ok {
		if len(data.BlackAreas) == 0 {
			// Zero is the default black level.
			data.BlackLevel = 0
			data.BlackLevelSeparate = [4]int{}
		}
		return nil
	}

	rows, cols := 1, 1
	if dim, ok := d.features[tBlackLevelRepeatDim]; ok {
		if len(dim.val) != 2 || dim.val[0] == 0 || dim.val[1] == 0 {
			return FormatError("invalid BlackLevelRepeatDim")
		}
		rows, cols = int(dim.val[0]), int(dim.val[1])
	}
	if len(t.val) < rows*cols*d.cpp {
		return FormatError(fmt.Sprintf("BlackLevel holds %d values, %d expected", len(t.val), rows*cols*d.cpp))
	}

	// Per-sample levels are averaged.
	level := func(r, c int) float64 {
		var sum float64
		for s := 0; s < d.cpp; s++ {
			sum += t.asFloat((r*cols+c)*d.cpp + s)
		}
		return sum / float64(d.cpp)
	}

	var total float64
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			v := level(r%rows, c%cols)
			phase := ((origin.Y+r)&1)<<1 | ((origin.X + c) & 1)
			data.BlackLevelSeparate[phase] = int(math.Round(v))
			total += v
		}
	}
	data.BlackLevel = int(math.Round(total / 4))
	return nil
}
