package opcode

import "fmt"

// A FormatError reports that an opcode list is malformed.
type FormatError string

func (e FormatError) Error() string {
	return fmt.Sprintf("opcode: invalid format: %s", string(e))
}

// An UnsupportedError reports an opcode that is defined by DNG but not implemented.
type UnsupportedError string

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("opcode: unsupported feature: %s", string(e))
}
