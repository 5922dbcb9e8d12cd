package dng

// A DNG file is a TIFF file. Its metadata is contained in Image File
// Directories (IFD), which contain entries of 12 bytes each and are described
// on page 14-16 of the TIFF specification. An IFD entry consists of
//
//  - a tag, which describes the signification of the entry,
//  - the data type and length of the entry,
//  - the data itself or a pointer to it if it is more than 4 bytes.
//
// The presence of a length means that each IFD is effectively an array.

const (
	leHeader = "II\x2A\x00" // Header for little-endian files.
	beHeader = "MM\x00\x2A" // Header for big-endian files.

	ifdLen = 12 // Length of an IFD entry in bytes.

	maxTagDataLen = 1 << 28 // Larger tag payloads are rejected.
)

// Data types (p. 14-16 of the TIFF spec).
const (
	dtByte      = 1
	dtASCII     = 2
	dtShort     = 3
	dtLong      = 4
	dtRational  = 5
	dtSByte     = 6
	dtUndefined = 7
	dtSShort    = 8
	dtSLong     = 9
	dtSRational = 10
	dtFloat     = 11
	dtDouble    = 12
)

// The length of one instance of each data type in bytes.
var lengths = [...]uint32{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

// Tags (see p. 28-41 of the TIFF spec and chapter 4 of the DNG spec).
const (
	tNewSubFileType            = 254
	tImageWidth                = 256
	tImageLength               = 257
	tBitsPerSample             = 258
	tCompression               = 259
	tPhotometricInterpretation = 262

	tStripOffsets    = 273
	tSamplesPerPixel = 277
	tRowsPerStrip    = 278
	tStripByteCounts = 279

	tPlanarConfiguration = 284

	tPredictor = 317

	tTileWidth      = 322
	tTileLength     = 323
	tTileOffsets    = 324
	tTileByteCounts = 325

	tSubIFDs      = 330
	tSampleFormat = 339

	tCFARepeatPatternDim = 33421
	tCFAPattern          = 33422

	tDNGVersion          = 50706
	tDNGBackwardVersion  = 50707
	tCFAPlaneColor       = 50710
	tCFALayout           = 50711
	tLinearizationTable  = 50712
	tBlackLevelRepeatDim = 50713
	tBlackLevel          = 50714
	tWhiteLevel          = 50717
	tDefaultCropOrigin   = 50719
	tDefaultCropSize     = 50720
	tActiveArea          = 50829
	tMaskedAreas         = 50830
	tOpcodeList1         = 51008
	tOpcodeList2         = 51009
	tOpcodeList3         = 51022
)

// Compression types (defined in various places in the TIFF spec and supplements).
const (
	cNone       = 1
	cCCITT      = 2
	cG3         = 3 // Group 3 Fax.
	cG4         = 4 // Group 4 Fax.
	cLZW        = 5
	cJPEGOld    = 6 // Superseded by cJPEG.
	cJPEG       = 7 // Lossless JPEG in DNG raw IFDs.
	cDeflate    = 8 // zlib compression.
	cPackBits   = 32773
	cDeflateOld = 32946 // Superseded by cDeflate.
	cLossyJPEG  = 34892 // Lossy JPEG is allowed for IFDs that use PhotometricInterpretation = 34892 (LinearRaw) and 8-bit integer data.
)

// Photometric interpretation values (see p. 37 of the TIFF spec and p. 19 of the DNG spec).
const (
	pWhiteIsZero      = 0
	pBlackIsZero      = 1
	pRGB              = 2
	pColorFilterArray = 32803
	pLinearRaw        = 34892
)

// Values for the tPredictor tag (page 64-65 of the TIFF spec).
const (
	prNone          = 1
	prHorizontal    = 2
	prFloatingPoint = 3 // Floating point horizontal differencing, a third specification supplement from Adobe
)

// Values for the tSampleFormat tag (page 80 of the TIFF spec).
const (
	sfUnsigned = 1
	sfSigned   = 2
	sfFloat    = 3
)

// Values for the tNewSubFileType tag.
const (
	sftPrimaryImage = 0
	sftThumbnail    = 1
)

// File formats.
const (
	fTIFF = iota
	fDNG
)

// imageMode represents the mode of the raw image.
type imageMode int

const (
	mColorFilterArray imageMode = iota
	mLinearRaw
)
