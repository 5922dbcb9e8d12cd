package dng

import (
	"fmt"
	"math/big"

	"github.com/mdouchement/dng/rawimage"
)

// A FormatError reports that the input is not a valid DNG image.
type FormatError string

func (e FormatError) Error() string {
	return fmt.Sprintf("dng: invalid format: %s", string(e))
}

// An UnsupportedError reports that the input uses a valid but
// unimplemented feature.
type UnsupportedError string

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("dng: unsupported feature: %s", string(e))
}

// An InternalError reports that an internal error was encountered.
type InternalError string

func (e InternalError) Error() string {
	return fmt.Sprintf("dng: internal error: %s", string(e))
}

func tagname(t uint16) string {
	switch t {
	case tNewSubFileType:
		return "NewSubFileType"
	case tImageWidth:
		return "ImageWidth"
	case tImageLength:
		return "ImageLength"
	case tBitsPerSample:
		return "BitsPerSample"
	case tCompression:
		return "Compression"
	case tPhotometricInterpretation:
		return "PhotometricInterpretation"
	case tStripOffsets:
		return "StripOffsets"
	case tSamplesPerPixel:
		return "SamplesPerPixel"
	case tRowsPerStrip:
		return "RowsPerStrip"
	case tStripByteCounts:
		return "StripByteCounts"
	case tPlanarConfiguration:
		return "PlanarConfiguration"
	case tPredictor:
		return "Predictor"
	case tTileWidth:
		return "TileWidth"
	case tTileLength:
		return "TileLength"
	case tTileOffsets:
		return "TileOffsets"
	case tTileByteCounts:
		return "TileByteCounts"
	case tSubIFDs:
		return "SubIFDs"
	case tSampleFormat:
		return "SampleFormat"
	case tCFARepeatPatternDim:
		return "CFARepeatPatternDim"
	case tCFAPattern:
		return "CFAPattern"
	case tDNGVersion:
		return "DNG Version"
	case tDNGBackwardVersion:
		return "DNG Backward Version"
	case tCFAPlaneColor:
		return "CFAPlaneColor"
	case tCFALayout:
		return "CFALayout"
	case tLinearizationTable:
		return "LinearizationTable"
	case tBlackLevelRepeatDim:
		return "BlackLevelRepeatDim"
	case tBlackLevel:
		return "BlackLevel"
	case tWhiteLevel:
		return "WhiteLevel"
	case tDefaultCropOrigin:
		return "DefaultCropOrigin"
	case tDefaultCropSize:
		return "DefaultCropSize"
	case tActiveArea:
		return "ActiveArea"
	case tMaskedAreas:
		return "MaskedAreas"
	case tOpcodeList1:
		return "OpcodeList1"
	case tOpcodeList2:
		return "OpcodeList2"
	case tOpcodeList3:
		return "OpcodeList3"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

func valuename(t tag) string {
	var v interface{}
	switch t.id {
	case tNewSubFileType:
		switch t.firstVal() {
		case sftPrimaryImage:
			v = "Primary image"
		case sftThumbnail:
			v = "Thumbnail/Preview image"
		default:
			v = t.firstVal()
		}
	case tPhotometricInterpretation:
		switch t.firstVal() {
		case pWhiteIsZero:
			v = "WhiteIsZero"
		case pBlackIsZero:
			v = "BlackIsZero"
		case pRGB:
			v = "RGB"
		case pColorFilterArray:
			v = "Color Filter Array"
		case pLinearRaw:
			v = "Linear Raw"
		default:
			v = t.firstVal()
		}
	case tCompression:
		switch t.firstVal() {
		case cNone:
			v = "None"
		case cLZW:
			v = "LZW"
		case cJPEG:
			v = "JPEG"
		case cDeflate:
			v = "Deflate (zlib compression)"
		case cPackBits:
			v = "PackBits"
		case cDeflateOld:
			v = "Old Deflate"
		case cLossyJPEG:
			v = "Lossy JPEG"
		default:
			v = t.firstVal()
		}
	case tStripOffsets:
		v = fmt.Sprintf("contains %d offset entries", len(t.val))
	case tStripByteCounts:
		v = fmt.Sprintf("contains %d byte-count entries", len(t.val))
	case tCFAPattern:
		colors := make([]rawimage.CFAColor, len(t.val))
		for i, c := range t.val {
			colors[i] = rawimage.CFAColor(c)
		}
		v = fmt.Sprintf("%v %v", t.val, colors)
	case tDNGVersion, tDNGBackwardVersion:
		if len(t.val) == 4 {
			v = fmt.Sprintf("%d.%d.%d.%d", t.val[0], t.val[1], t.val[2], t.val[3])
		} else {
			v = t.val
		}
	case tOpcodeList1, tOpcodeList2, tOpcodeList3:
		v = fmt.Sprintf("%d bytes", len(t.raw))
	default:
		v = formatDatatype(t)
	}
	return fmt.Sprintf("%v", v)
}

func formatDatatype(t tag) interface{} {
	switch t.datatype {
	case dtRational:
		sl := make([]*big.Rat, 0, len(t.val))
		for i := range t.val {
			sl = append(sl, t.rational(i))
		}
		return sl
	case dtSRational:
		sl := make([]*big.Rat, 0, len(t.val))
		for i := range t.val {
			sl = append(sl, t.sRational(i))
		}
		return sl
	case dtFloat, dtDouble, dtSShort, dtSLong:
		sl := make([]float64, 0, len(t.val))
		for i := range t.val {
			sl = append(sl, t.asFloat(i))
		}
		return sl
	case dtASCII:
		return string(t.raw)
	default:
		return t.val
	}
}
