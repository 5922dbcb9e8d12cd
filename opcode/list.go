package opcode

import (
	"encoding/binary"
	"fmt"
	"image"
	"sync"

	"github.com/mdouchement/dng/rawimage"
	"github.com/pkg/errors"
)

const opcodeHeaderSize = 16 // code, version, flags, byte length.

var constructors = map[Code]func(s *stream) (Opcode, error){
	CodeFixBadPixelsConstant: newFixBadPixelsConstant,
	CodeFixBadPixelsList:     newFixBadPixelsList,
	CodeTrimBounds:           newTrimBounds,
	CodeMapTable:             newMapTable,
	CodeMapPolynomial:        newMapPolynomial,
	CodeDeltaPerRow:          newLineCorrection(CodeDeltaPerRow),
	CodeDeltaPerColumn:       newLineCorrection(CodeDeltaPerColumn),
	CodeScalePerRow:          newLineCorrection(CodeScalePerRow),
	CodeScalePerColumn:       newLineCorrection(CodeScalePerColumn),
}

// List is an ordered sequence of opcodes decoded from one DNG OpcodeList entry.
type List struct {
	opcodes []Opcode
}

// Parse decodes the opcode list held in data. DNG stores opcode lists big-endian
// whatever the byte order of the file.
func Parse(data []byte, order binary.ByteOrder) (*List, error) {
	if len(data) < 4 {
		return nil, FormatError(fmt.Sprintf("opcode list of %d bytes", len(data)))
	}
	count := order.Uint32(data)
	used := 4

	l := &List{
		opcodes: make([]Opcode, 0, min(int(count), 64)),
	}
	for i := uint32(0); i < count; i++ {
		if len(data)-used < opcodeHeaderSize {
			return nil, FormatError(fmt.Sprintf("not enough bytes to read opcode %d header", i))
		}
		code := Code(order.Uint32(data[used:]))
		// Version (data[used+4:]) and flags (data[used+8:]) are not used.
		expected := uint64(order.Uint32(data[used+12:]))
		used += opcodeHeaderSize

		constructor, ok := constructors[code]
		if !ok {
			switch code {
			case CodeWarpRectilinear, CodeWarpFisheye, CodeFixVignetteRadial, CodeGainMap:
				return nil, UnsupportedError(fmt.Sprintf("opcode %d: %s", i, code))
			default:
				return nil, FormatError(fmt.Sprintf("opcode %d: unknown code %d", i, uint32(code)))
			}
		}

		s := &stream{p: data[used:], order: order}
		op, err := constructor(s)
		if err != nil {
			return nil, errors.Wrapf(err, "opcode %d: %s", i, code)
		}
		if uint64(s.off) != expected {
			return nil, FormatError(fmt.Sprintf("opcode %d: %s uses %d bytes, %d declared", i, code, s.off, expected))
		}
		used += s.off
		if used > len(data) {
			return nil, FormatError(fmt.Sprintf("opcode %d: overruns the %d bytes of the list", i, len(data)))
		}

		debug("parsed %s (%d bytes)", code, s.off)
		l.opcodes = append(l.opcodes, op)
	}
	if used != len(data) {
		debug("%d trailing bytes after %d opcodes", len(data)-used, count)
	}
	return l, nil
}

// Len returns the number of opcodes.
func (l *List) Len() int {
	return len(l.opcodes)
}

// Opcodes returns the opcodes in stream order.
func (l *List) Opcodes() []Opcode {
	return append([]Opcode(nil), l.opcodes...)
}

// Apply runs every opcode in stream order, each one on the output of the previous one.
// The returned handle replaces img: it may reference the same Data with a new frame.
// Nothing is applied past the first failing opcode.
func (l *List) Apply(img rawimage.RawImage) (rawimage.RawImage, error) {
	if img.IsNil() || !img.Get().IsAllocated() {
		return img, rawimage.StateError("opcodes applied to an unallocated image")
	}

	for i, op := range l.opcodes {
		out, err := op.createOutput(img)
		if err != nil {
			return img, errors.Wrapf(err, "opcode %d: %s", i, op.Code())
		}

		aoi := op.AOI()
		frame := image.Rectangle{Max: img.Get().Dim()}
		if !inside(aoi, frame) {
			return img, errors.Wrapf(rawimage.GeometryError(fmt.Sprintf("area of interest %v not inside %v", aoi, frame)),
				"opcode %d: %s", i, op.Code())
		}
		if aoi.Dx() <= 0 || aoi.Dy() <= 0 {
			debug("%s skipped, empty area of interest", op.Code())
			continue
		}

		if err := run(op, img, out); err != nil {
			return img, errors.Wrapf(err, "opcode %d: %s", i, op.Code())
		}
		debug("applied %s on %v", op.Code(), aoi)
		img = out
	}
	return img, nil
}

// inside reports whether r is a well-formed rectangle contained in frame.
// Empty rectangles are inside when their corners are.
func inside(r, frame image.Rectangle) bool {
	return r.Min.X >= frame.Min.X && r.Min.Y >= frame.Min.Y &&
		r.Max.X <= frame.Max.X && r.Max.Y <= frame.Max.Y &&
		r.Min.X <= r.Max.X && r.Min.Y <= r.Max.Y
}

// run applies op, splitting the area rows across workers when op allows it.
func run(op Opcode, in, out rawimage.RawImage) error {
	aoi := op.AOI()
	threads := out.Get().Threads()
	if op.Flags()&MultiThreaded == 0 || threads <= 1 {
		return op.apply(in, out, aoi.Min.Y, aoi.Max.Y)
	}

	step := op.rowStep()
	var mu sync.Mutex
	var first error
	rawimage.ParallelRows(threads, ceilDiv(aoi.Dy(), step), func(start, end int) {
		top := aoi.Min.Y + start*step
		bottom := min(aoi.Min.Y+end*step, aoi.Max.Y)
		if err := op.apply(in, out, top, bottom); err != nil {
			mu.Lock()
			if first == nil {
				first = err
			}
			mu.Unlock()
		}
	})
	return first
}
