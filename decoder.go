package dng

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/mdouchement/dng/rawimage"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff/lzw"
)

type decoder struct {
	*idf
	config       image.Config
	mode         imageMode
	bpp          uint
	cpp          int
	sampleFormat uint
	typ          rawimage.DataType

	buf   []byte
	off   int    // Current offset in buf.
	v     uint32 // Buffer value for reading with arbitrary bit depths.
	nbits uint   // Remaining number of bits in v.
}

// newReaderAt converts r to an io.ReaderAt, buffering the whole stream when needed.
func newReaderAt(r io.Reader) (io.ReaderAt, error) {
	if ra, ok := r.(io.ReaderAt); ok {
		return ra, nil
	}
	p, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "dng: read")
	}
	return bytes.NewReader(p), nil
}

func newDecoder(r io.Reader) (*decoder, error) {
	ra, err := newReaderAt(r)
	if err != nil {
		return nil, err
	}
	idf, err := newIDF(ra)
	if err != nil {
		return nil, err
	}

	d := &decoder{
		idf: idf,
	}

	d.config.Width = int(d.firstVal(tImageWidth))
	d.config.Height = int(d.firstVal(tImageLength))
	if d.config.Width <= 0 || d.config.Height <= 0 {
		return nil, FormatError(fmt.Sprintf("invalid dimension %dx%d", d.config.Width, d.config.Height))
	}

	if _, ok := d.features[tBitsPerSample]; !ok {
		return nil, FormatError("BitsPerSample tag missing")
	}
	d.bpp = d.firstVal(tBitsPerSample)
	d.cpp = int(d.firstValOr(tSamplesPerPixel, 1))
	if d.cpp < 1 || d.cpp > 4 {
		return nil, UnsupportedError(fmt.Sprintf("%d samples per pixel", d.cpp))
	}
	if d.cpp > 1 && d.firstValOr(tPlanarConfiguration, 1) != 1 {
		return nil, UnsupportedError("planar configuration")
	}

	d.sampleFormat = d.firstValOr(tSampleFormat, sfUnsigned)
	switch {
	case d.sampleFormat == sfUnsigned && d.bpp >= 1 && d.bpp <= 16:
		d.typ = rawimage.TypeUshort16
	case d.sampleFormat == sfFloat && d.bpp == 32:
		d.typ = rawimage.TypeFloat32
	default:
		return nil, UnsupportedError(fmt.Sprintf("%d-bit samples of format %d", d.bpp, d.sampleFormat))
	}

	// Determine the image mode.
	switch d.firstVal(tPhotometricInterpretation) {
	case pColorFilterArray:
		if d.cpp != 1 {
			return nil, FormatError(fmt.Sprintf("color filter array with %d samples per pixel", d.cpp))
		}
		d.mode = mColorFilterArray
	case pLinearRaw:
		d.mode = mLinearRaw
	default:
		return nil, UnsupportedError("color model")
	}

	switch {
	case d.cpp == 1:
		d.config.ColorModel = color.Gray16Model
	case d.typ == rawimage.TypeFloat32:
		d.config.ColorModel = hdrcolor.RGBModel
	default:
		d.config.ColorModel = color.RGBA64Model
	}

	return d, nil
}

// readBits reads n bits from the internal buffer starting at the current offset.
func (d *decoder) readBits(n uint) uint32 {
	for d.nbits < n {
		d.v <<= 8
		d.v |= uint32(d.buf[d.off])
		d.off++
		d.nbits += 8
	}
	d.nbits -= n
	rv := d.v >> d.nbits
	d.v &^= rv << d.nbits
	return rv
}

// flushBits discards the unread bits in the buffer used by readBits.
// It is used at the end of a line.
func (d *decoder) flushBits() {
	d.v = 0
	d.nbits = 0
}

// decompress decompresses a strip or a tile of n bytes at offset into d.buf.
// size is the expected length of the uncompressed block.
func (d *decoder) decompress(offset, n int64, size int) (err error) {
	switch d.firstVal(tCompression) {
	// According to the spec, Compression does not have a default value,
	// but some tools interpret a missing Compression value as none so we do
	// the same.
	case cNone, 0:
		// The byte count comes from the file, the block never needs more than size bytes.
		d.buf = make([]byte, min(n, int64(size)))
		_, err = io.ReadFull(io.NewSectionReader(d.r, offset, n), d.buf)
	case cLZW:
		r := lzw.NewReader(io.NewSectionReader(d.r, offset, n), lzw.MSB, 8)
		d.buf, err = io.ReadAll(io.LimitReader(r, int64(size)))
		r.Close()
	case cDeflate, cDeflateOld:
		var r io.ReadCloser
		r, err = zlib.NewReader(io.NewSectionReader(d.r, offset, n))
		if err != nil {
			return FormatError(fmt.Sprintf("deflate block: %v", err))
		}
		d.buf, err = io.ReadAll(io.LimitReader(r, int64(size)))
		r.Close()
	case cPackBits:
		d.buf, err = unpackBits(io.NewSectionReader(d.r, offset, n), size)
	case cJPEG:
		err = UnsupportedError("lossless JPEG compression")
	default:
		err = UnsupportedError(fmt.Sprintf("compression value %d", d.firstVal(tCompression)))
	}
	if err != nil {
		return errors.Wrapf(err, "block at offset %d", offset)
	}
	if len(d.buf) < size {
		return FormatError(fmt.Sprintf("block at offset %d holds %d bytes, %d expected", offset, len(d.buf), size))
	}
	return nil
}
