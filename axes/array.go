// Package axes implements the broadcasting block iterator the VM consumes:
// strided typed arrays, right-aligned shape broadcasting, and blocked
// iteration yielding per-operand base offsets and byte strides.
package axes

import (
	"encoding/binary"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Array: a typed, strided view over raw bytes
// ---------------------------------------------------------------------------

// Array is a strided view over a raw byte buffer. Strides are in bytes and
// may be zero (a broadcast dimension) or negative (a reversed view). The
// element type is not recorded here; the VM's signature strings carry it.
type Array struct {
	Data     []byte
	Shape    []int
	Strides  []int // byte strides, one per dimension
	ItemSize int
}

// New allocates a zeroed, C-contiguous array.
func New(itemSize int, shape ...int) *Array {
	n := 1
	for _, d := range shape {
		n *= d
	}
	a := &Array{
		Data:     make([]byte, n*itemSize),
		Shape:    append([]int(nil), shape...),
		Strides:  make([]int, len(shape)),
		ItemSize: itemSize,
	}
	stride := itemSize
	for i := len(shape) - 1; i >= 0; i-- {
		a.Strides[i] = stride
		stride *= shape[i]
	}
	return a
}

// Size returns the number of logical elements.
func (a *Array) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// Reshape returns a view of a contiguous array with a new shape of the same
// total size.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	n := 1
	for _, d := range shape {
		n *= d
	}
	if n != a.Size() {
		return nil, fmt.Errorf("axes: cannot reshape %v to %v", a.Shape, shape)
	}
	v := New(a.ItemSize, shape...)
	v.Data = a.Data
	return v, nil
}

// ---------------------------------------------------------------------------
// Typed constructors and readers
// ---------------------------------------------------------------------------

// Float64s builds a 1-D float64 array from vals.
func Float64s(vals []float64) *Array {
	a := New(8, len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(a.Data[i*8:], math.Float64bits(v))
	}
	return a
}

// Float32s builds a 1-D float32 array from vals.
func Float32s(vals []float32) *Array {
	a := New(4, len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(a.Data[i*4:], math.Float32bits(v))
	}
	return a
}

// Int32s builds a 1-D int32 array from vals.
func Int32s(vals []int32) *Array {
	a := New(4, len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(a.Data[i*4:], uint32(v))
	}
	return a
}

// Int64s builds a 1-D int64 array from vals.
func Int64s(vals []int64) *Array {
	a := New(8, len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(a.Data[i*8:], uint64(v))
	}
	return a
}

// Bools builds a 1-D boolean array from vals.
func Bools(vals []bool) *Array {
	a := New(1, len(vals))
	for i, v := range vals {
		if v {
			a.Data[i] = 1
		}
	}
	return a
}

// Complex128s builds a 1-D complex128 array from vals.
func Complex128s(vals []complex128) *Array {
	a := New(16, len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(a.Data[i*16:], math.Float64bits(real(v)))
		binary.LittleEndian.PutUint64(a.Data[i*16+8:], math.Float64bits(imag(v)))
	}
	return a
}

// Strings builds a 1-D fixed-width string array. Values longer than width
// are truncated, shorter values are NUL-padded.
func Strings(width int, vals []string) *Array {
	a := New(width, len(vals))
	for i, v := range vals {
		copy(a.Data[i*width:(i+1)*width], v)
	}
	return a
}

// Float64Values decodes a contiguous array's elements as float64.
func (a *Array) Float64Values() []float64 {
	n := a.Size()
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return out
}

// Float32Values decodes a contiguous array's elements as float32.
func (a *Array) Float32Values() []float32 {
	n := a.Size()
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(a.Data[i*4:]))
	}
	return out
}

// Int32Values decodes a contiguous array's elements as int32.
func (a *Array) Int32Values() []int32 {
	n := a.Size()
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = int32(binary.LittleEndian.Uint32(a.Data[i*4:]))
	}
	return out
}

// Int64Values decodes a contiguous array's elements as int64.
func (a *Array) Int64Values() []int64 {
	n := a.Size()
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = int64(binary.LittleEndian.Uint64(a.Data[i*8:]))
	}
	return out
}

// BoolValues decodes a contiguous array's elements as bool.
func (a *Array) BoolValues() []bool {
	n := a.Size()
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = a.Data[i] != 0
	}
	return out
}

// Complex128Values decodes a contiguous array's elements as complex128.
func (a *Array) Complex128Values() []complex128 {
	n := a.Size()
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		re := math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*16:]))
		im := math.Float64frombits(binary.LittleEndian.Uint64(a.Data[i*16+8:]))
		out[i] = complex(re, im)
	}
	return out
}

// StringValues decodes a contiguous fixed-width string array. Trailing NULs
// are stripped.
func (a *Array) StringValues() []string {
	n := a.Size()
	w := a.ItemSize
	out := make([]string, n)
	for i := 0; i < n; i++ {
		raw := a.Data[i*w : (i+1)*w]
		end := len(raw)
		for end > 0 && raw[end-1] == 0 {
			end--
		}
		out[i] = string(raw[:end])
	}
	return out
}

// SameData reports whether two arrays share the same underlying buffer start.
func SameData(a, b *Array) bool {
	return len(a.Data) > 0 && len(b.Data) > 0 && &a.Data[0] == &b.Data[0]
}

// ---------------------------------------------------------------------------
// Broadcasting
// ---------------------------------------------------------------------------

// BroadcastShape returns the right-aligned broadcast shape of the given
// arrays, following the usual rule: missing or size-1 dimensions stretch.
func BroadcastShape(arrs ...*Array) ([]int, error) {
	nd := 0
	for _, a := range arrs {
		if len(a.Shape) > nd {
			nd = len(a.Shape)
		}
	}
	shape := make([]int, nd)
	for i := range shape {
		shape[i] = 1
	}
	for _, a := range arrs {
		off := nd - len(a.Shape)
		for i, d := range a.Shape {
			j := off + i
			switch {
			case shape[j] == 1:
				shape[j] = d
			case d != 1 && d != shape[j]:
				return nil, fmt.Errorf("axes: cannot broadcast %v into shape %v", a.Shape, shape)
			}
		}
	}
	return shape, nil
}

// StridesFor returns a's per-axis byte strides for iteration over shape,
// with zero strides on broadcast dimensions.
func StridesFor(a *Array, shape []int) ([]int, error) {
	nd := len(shape)
	off := nd - len(a.Shape)
	if off < 0 {
		return nil, fmt.Errorf("axes: array of rank %d cannot iterate shape %v", len(a.Shape), shape)
	}
	strides := make([]int, nd)
	for i, d := range a.Shape {
		j := off + i
		switch {
		case d == shape[j]:
			strides[j] = a.Strides[i]
		case d == 1:
			strides[j] = 0
		default:
			return nil, fmt.Errorf("axes: dimension %d (size %d) does not fit shape %v", i, d, shape)
		}
	}
	return strides, nil
}
