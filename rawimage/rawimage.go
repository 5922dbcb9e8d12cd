// Package rawimage holds raw sensor buffers and the row-parallel normalization
// steps run on them: black/white point scaling, bad pixel repair and table lookups.
package rawimage

import "image"

// RawImage is a shared handle over a Data. Handles are values: Clone a handle to
// share the Data and Release every handle you own; the Data and its arenas are
// freed when the last handle is released.
type RawImage struct {
	d *Data
}

// New returns a handle over an empty, unallocated Data of the given type.
func New(typ DataType, opts *Options) RawImage {
	return RawImage{d: newData(typ, opts)}
}

// NewSized returns a handle over a Data allocated with the given dimension and components per pixel.
func NewSized(typ DataType, dim image.Point, cpp int, opts *Options) (RawImage, error) {
	img := New(typ, opts)
	d := img.Get()
	if err := d.SetCpp(cpp); err != nil {
		img.Release()
		return RawImage{}, err
	}
	if err := d.SetDim(dim); err != nil {
		img.Release()
		return RawImage{}, err
	}
	if err := d.CreateData(); err != nil {
		img.Release()
		return RawImage{}, err
	}
	return img, nil
}

// Get returns the underlying Data, nil for a released or zero handle.
func (r RawImage) Get() *Data {
	return r.d
}

// IsNil reports whether the handle references nothing.
func (r RawImage) IsNil() bool {
	return r.d == nil
}

// RefCount returns the number of live handles sharing the Data.
func (r RawImage) RefCount() int {
	if r.d == nil {
		return 0
	}
	return int(r.d.refs.Load())
}

// Clone returns a new handle sharing the same Data.
func (r RawImage) Clone() RawImage {
	if r.d != nil {
		r.d.refs.Add(1)
	}
	return r
}

// Release drops the handle. The Data is destroyed when no handle is left.
func (r *RawImage) Release() {
	if r.d == nil {
		return
	}
	if r.d.refs.Add(-1) == 0 {
		r.d.destroy()
	}
	r.d = nil
}

// Assign makes r share o's Data, releasing what r referenced before.
// The new reference is taken before the old one is dropped.
func (r *RawImage) Assign(o RawImage) {
	if r.d == o.d {
		return
	}
	n := o.Clone()
	r.Release()
	*r = n
}
