package rawimage

import "fmt"

// A GeometryError reports a rectangle or a dimension that does not fit the image.
type GeometryError string

func (e GeometryError) Error() string {
	return fmt.Sprintf("rawimage: invalid geometry: %s", string(e))
}

// A StateError reports a call that is not allowed in the current state of the image
// (e.g. allocating twice or reading pixels before allocation).
type StateError string

func (e StateError) Error() string {
	return fmt.Sprintf("rawimage: invalid state: %s", string(e))
}

// An UnsupportedError reports a valid but unimplemented operation.
type UnsupportedError string

func (e UnsupportedError) Error() string {
	return fmt.Sprintf("rawimage: unsupported feature: %s", string(e))
}
