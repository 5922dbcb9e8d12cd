package dng

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"
)

//------------------------//
// Header parser          //
//------------------------//

const maxSubIFDDepth = 4

type (
	idf struct {
		r         io.ReaderAt
		byteOrder binary.ByteOrder
		format    int
		features  map[uint16]tag   // Raw IFD, completed with the DNG version of IFD0.
		tree      []map[uint16]tag // IDF-Tree, IFD0 first.
		visited   map[int64]bool
	}
)

func newIDF(r io.ReaderAt) (d *idf, err error) {
	d = &idf{
		r:        r,
		format:   fTIFF,
		features: make(map[uint16]tag),
		tree:     make([]map[uint16]tag, 0),
		visited:  make(map[int64]bool),
	}

	p := make([]byte, 8)
	if _, err = d.r.ReadAt(p, 0); err != nil {
		return nil, FormatError("truncated header")
	}
	switch string(p[0:4]) {
	case leHeader:
		d.byteOrder = binary.LittleEndian
	case beHeader:
		d.byteOrder = binary.BigEndian
	default:
		return nil, FormatError("malformed header")
	}

	ifdOffset := int64(d.byteOrder.Uint32(p[4:8]))
	if err = d.appendAndParseIDF(ifdOffset, 0); err != nil { // Main IDF is at index 0.
		return nil, err
	}

	ifd0 := d.tree[0]
	if _, ok := ifd0[tDNGVersion]; ok {
		d.format = fDNG
	}
	if d.format != fDNG {
		return nil, FormatError("DNGVersion tag missing, not a DNG file")
	}

	raw := d.rawIFD()
	if raw == nil {
		return nil, FormatError("no raw image IFD")
	}
	for k, v := range raw {
		d.features[k] = v
	}
	for _, id := range []uint16{tDNGVersion, tDNGBackwardVersion} {
		if _, ok := d.features[id]; !ok {
			if t, ok := ifd0[id]; ok {
				d.features[id] = t
			}
		}
	}
	return d, nil
}

// rawIFD returns the `Primary image` holding CFA or linear raw data, the
// highest-resolution and quality IFD.
func (d *idf) rawIFD() map[uint16]tag {
	for _, features := range d.tree {
		if t, ok := features[tNewSubFileType]; ok && t.firstVal() != sftPrimaryImage {
			continue
		}
		switch features[tPhotometricInterpretation].firstVal() {
		case pColorFilterArray, pLinearRaw:
			return features
		}
	}
	return nil
}

// firstVal is a convenient accessor of tag#firstVal().
func (d *idf) firstVal(tag uint16) uint {
	return d.features[tag].firstVal()
}

// firstValOr returns the first value of the tag, or def when the tag is absent.
func (d *idf) firstValOr(tag uint16, def uint) uint {
	t, ok := d.features[tag]
	if !ok || len(t.val) == 0 {
		return def
	}
	return t.val[0]
}

func (d *idf) appendAndParseIDF(ifdOffset int64, depth int) error {
	if d.visited[ifdOffset] {
		return FormatError(fmt.Sprintf("IFD loop at offset %d", ifdOffset))
	}
	d.visited[ifdOffset] = true

	fi := len(d.tree)
	d.tree = append(d.tree, make(map[uint16]tag)) // Append to `fi` index
	p := make([]byte, 8)

	// The first two bytes contain the number of entries (12 bytes each).
	if _, err := d.r.ReadAt(p[0:2], ifdOffset); err != nil {
		return FormatError(fmt.Sprintf("IFD at offset %d: %v", ifdOffset, err))
	}
	numItems := int(d.byteOrder.Uint16(p[0:2]))

	// All IFD entries are read in one chunk.
	p = make([]byte, ifdLen*numItems)
	if _, err := d.r.ReadAt(p, ifdOffset+2); err != nil {
		return FormatError(fmt.Sprintf("IFD at offset %d: %v", ifdOffset, err))
	}

	for i := 0; i < len(p); i += ifdLen {
		if err := d.parseIFD(fi, p[i:i+ifdLen]); err != nil {
			return err
		}
	}

	if subIDFs, ok := d.tree[fi][tSubIFDs]; ok {
		if depth >= maxSubIFDDepth {
			return FormatError("SubIFD tree too deep")
		}
		for _, offset := range subIDFs.val {
			if err := d.appendAndParseIDF(int64(offset), depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// parseIFD decides whether the the IFD entry in p is "interesting" and
// stows away the data in the decoder.
func (d *idf) parseIFD(fi int, p []byte) error {
	tid := d.byteOrder.Uint16(p[0:2]) // TagID
	switch tid {
	case tNewSubFileType,
		tImageWidth,
		tImageLength,
		tBitsPerSample,
		tCompression,
		tPhotometricInterpretation,
		tStripOffsets,
		tSamplesPerPixel,
		tRowsPerStrip,
		tStripByteCounts,
		tPlanarConfiguration,
		tPredictor,
		tTileWidth,
		tTileLength,
		tTileOffsets,
		tTileByteCounts,
		tSubIFDs,
		tSampleFormat,
		tCFARepeatPatternDim,
		tCFAPattern,
		tDNGVersion,
		tDNGBackwardVersion,
		tCFAPlaneColor,
		tCFALayout,
		tLinearizationTable,
		tBlackLevelRepeatDim,
		tBlackLevel,
		tWhiteLevel,
		tDefaultCropOrigin,
		tDefaultCropSize,
		tActiveArea,
		tMaskedAreas,
		tOpcodeList1,
		tOpcodeList2,
		tOpcodeList3:
		t, err := d.ifdTag(p)
		if err != nil {
			return errors.Wrap(err, tagname(tid))
		}
		d.tree[fi][tid] = t
	}
	return nil
}

// ifdTag decodes the IFD entry in p. Integer and floating-point data are stored
// as uint values (bit patterns for floats, numerator in the low and denominator
// in the high 32 bits for rationals). ASCII and Undefined payloads are kept raw.
func (d *idf) ifdTag(p []byte) (t tag, err error) {
	t.id = d.byteOrder.Uint16(p[0:2])
	datatype := d.byteOrder.Uint16(p[2:4])
	count := d.byteOrder.Uint32(p[4:8])
	if datatype == 0 || int(datatype) >= len(lengths) {
		return t, UnsupportedError(fmt.Sprintf("data type %d", datatype))
	}
	t.datatype = uint(datatype)

	datalen := uint64(lengths[datatype]) * uint64(count)
	if datalen > maxTagDataLen {
		return t, FormatError(fmt.Sprintf("%d bytes of tag data", datalen))
	}

	var raw []byte
	if datalen > 4 {
		// The IFD contains a pointer to the real value.
		raw = make([]byte, datalen)
		if _, err = d.r.ReadAt(raw, int64(d.byteOrder.Uint32(p[8:12]))); err != nil {
			return t, FormatError(fmt.Sprintf("tag data: %v", err))
		}
	} else {
		raw = p[8 : 8+datalen]
	}

	switch datatype {
	case dtASCII, dtUndefined:
		t.raw = append([]byte(nil), raw...)
		if datatype == dtUndefined && count <= 256 {
			// Short opaque payloads (CFAPattern written as Undefined) are read as bytes too.
			t.val = make([]uint, count)
			for i := range t.val {
				t.val[i] = uint(raw[i])
			}
		}
		return t, nil
	}

	t.val = make([]uint, count)
	switch datatype {
	case dtByte, dtSByte:
		for i := uint32(0); i < count; i++ {
			t.val[i] = uint(raw[i])
		}
	case dtShort, dtSShort:
		for i := uint32(0); i < count; i++ {
			t.val[i] = uint(d.byteOrder.Uint16(raw[2*i : 2*(i+1)]))
		}
	case dtLong, dtSLong, dtFloat:
		for i := uint32(0); i < count; i++ {
			t.val[i] = uint(d.byteOrder.Uint32(raw[4*i : 4*(i+1)]))
		}
	case dtRational, dtSRational:
		for i := uint32(0); i < count; i++ {
			num := uint64(d.byteOrder.Uint32(raw[8*i : 8*i+4]))
			denom := uint64(d.byteOrder.Uint32(raw[8*i+4 : 8*(i+1)]))
			t.val[i] = uint(num | denom<<32)
		}
	case dtDouble:
		for i := uint32(0); i < count; i++ {
			t.val[i] = uint(d.byteOrder.Uint64(raw[8*i : 8*(i+1)]))
		}
	}
	return t, nil
}

func (d *idf) String() string {
	buf := bytes.NewBufferString("")
	switch d.format {
	case fTIFF:
		buf.WriteString("== TIFF ==\n")
	case fDNG:
		buf.WriteString("== DNG ==\n")
	}
	ids := make([]int, 0, len(d.features))
	for id := range d.features {
		ids = append(ids, int(id))
	}
	sort.Ints(ids)
	for _, id := range ids {
		buf.WriteString(fmt.Sprintf("%v\n", d.features[uint16(id)]))
	}
	buf.WriteString(fmt.Sprintf("ByteOrder: %v\n", d.byteOrder))
	buf.WriteString(fmt.Sprintf("BPP: %d\n", d.firstVal(tBitsPerSample)))
	buf.WriteString(fmt.Sprintf("Bounds: %dx%d\n", d.firstVal(tImageWidth), d.firstVal(tImageLength)))
	return buf.String()
}
