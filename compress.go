package dng

import (
	"bufio"
	"fmt"
	"io"
)

type byteReader interface {
	io.Reader
	io.ByteReader
}

// unpackBits decodes the PackBits-compressed data read from r and returns at most
// size bytes of uncompressed data. Runs crossing size are truncated.
//
// The PackBits compression format is described in section 9 (p. 42)
// of the TIFF spec.
func unpackBits(r io.Reader, size int) ([]byte, error) {
	buf := make([]byte, 128)
	dst := make([]byte, 0, size)
	br, ok := r.(byteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	for len(dst) < size {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return dst, nil
			}
			return nil, err
		}
		code := int(int8(b))
		n := 0
		switch {
		case code >= 0:
			n, err = io.ReadFull(br, buf[:code+1])
			if err != nil {
				return nil, FormatError(fmt.Sprintf("packbits literal run: %v", err))
			}
		case code == -128:
			// No-op.
		default:
			if b, err = br.ReadByte(); err != nil {
				return nil, FormatError(fmt.Sprintf("packbits replicate run: %v", err))
			}
			n = 1 - code
			for j := 0; j < n; j++ {
				buf[j] = b
			}
		}
		dst = append(dst, buf[:min(n, size-len(dst))]...)
	}
	return dst, nil
}
