package axes

import "fmt"

// ---------------------------------------------------------------------------
// Iter: blocked iteration over a broadcast domain
// ---------------------------------------------------------------------------

// Block describes one run of elements yielded by an Iter: for every operand,
// the byte offset of the block's first element and the per-element byte
// stride valid for all Size elements.
type Block struct {
	Size    int
	Offsets []int
	Strides []int
}

// Iter walks a flat C-order index space over a set of operands, yielding
// blocks of up to blockSize elements. Blocks never cross the innermost
// dimension boundary, so the final block of each row may be short. An Iter
// can be range-restricted (for parallel partitioning), copied (one private
// cursor per worker), and re-based (for nested reduction loops).
type Iter struct {
	shape     []int
	strides   [][]int // per operand, per axis
	base      []int   // per operand byte offset added to every block
	blockSize int
	size      int
	start     int
	stop      int
	pos       int
	idx       []int // scratch multi-index
}

// NewIter builds an iterator over shape for the given per-operand axis
// strides. A 0-d shape iterates exactly one element.
func NewIter(blockSize int, shape []int, strides [][]int) (*Iter, error) {
	if blockSize < 1 {
		return nil, fmt.Errorf("axes: block size %d out of range", blockSize)
	}
	size := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("axes: negative dimension in shape %v", shape)
		}
		size *= d
	}
	for i, s := range strides {
		if len(s) != len(shape) {
			return nil, fmt.Errorf("axes: operand %d has %d stride entries for %d axes", i, len(s), len(shape))
		}
	}
	it := &Iter{
		shape:     append([]int(nil), shape...),
		strides:   make([][]int, len(strides)),
		base:      make([]int, len(strides)),
		blockSize: blockSize,
		size:      size,
		stop:      size,
		idx:       make([]int, len(shape)),
	}
	for i, s := range strides {
		it.strides[i] = append([]int(nil), s...)
	}
	return it, nil
}

// Size returns the total number of elements in the full domain.
func (it *Iter) Size() int { return it.size }

// NumOperands returns the number of operands the iterator tracks.
func (it *Iter) NumOperands() int { return len(it.strides) }

// SetRange restricts iteration to the flat index range [start, stop).
func (it *Iter) SetRange(start, stop int) error {
	if start < 0 || stop > it.size || start > stop {
		return fmt.Errorf("axes: range [%d,%d) outside domain of size %d", start, stop, it.size)
	}
	it.start, it.stop = start, stop
	it.pos = start
	return nil
}

// Reset rewinds the cursor to the start of the active range.
func (it *Iter) Reset() { it.pos = it.start }

// Copy returns an independent iterator with the same domain, range, and
// base offsets. The copy's cursor is rewound.
func (it *Iter) Copy() *Iter {
	c := &Iter{
		shape:     append([]int(nil), it.shape...),
		strides:   make([][]int, len(it.strides)),
		base:      append([]int(nil), it.base...),
		blockSize: it.blockSize,
		size:      it.size,
		start:     it.start,
		stop:      it.stop,
		pos:       it.start,
		idx:       make([]int, len(it.shape)),
	}
	for i, s := range it.strides {
		c.strides[i] = append([]int(nil), s...)
	}
	return c
}

// ResetBase replaces the per-operand base offsets and rewinds the cursor.
// Used by nested reduction loops to re-aim the inner iterator at the outer
// iterator's current position.
func (it *Iter) ResetBase(base []int) error {
	if len(base) != len(it.base) {
		return fmt.Errorf("axes: got %d base offsets for %d operands", len(base), len(it.base))
	}
	copy(it.base, base)
	it.pos = it.start
	return nil
}

// Next fills blk with the next block and advances the cursor. It returns
// false when the active range is exhausted. blk's slices are reused across
// calls.
func (it *Iter) Next(blk *Block) bool {
	if it.pos >= it.stop {
		return false
	}
	nops := len(it.strides)
	if cap(blk.Offsets) < nops {
		blk.Offsets = make([]int, nops)
		blk.Strides = make([]int, nops)
	}
	blk.Offsets = blk.Offsets[:nops]
	blk.Strides = blk.Strides[:nops]

	n := it.stop - it.pos
	if n > it.blockSize {
		n = it.blockSize
	}
	nd := len(it.shape)
	if nd == 0 {
		for i := range it.strides {
			blk.Offsets[i] = it.base[i]
			blk.Strides[i] = 0
		}
		blk.Size = 1
		it.pos++
		return true
	}

	// Decode the flat cursor into a multi-index.
	rem := it.pos
	for ax := nd - 1; ax >= 0; ax-- {
		if it.shape[ax] == 0 {
			return false
		}
		it.idx[ax] = rem % it.shape[ax]
		rem /= it.shape[ax]
	}
	if left := it.shape[nd-1] - it.idx[nd-1]; left < n {
		n = left
	}
	for i, s := range it.strides {
		off := it.base[i]
		for ax := 0; ax < nd; ax++ {
			off += it.idx[ax] * s[ax]
		}
		blk.Offsets[i] = off
		blk.Strides[i] = s[nd-1]
	}
	blk.Size = n
	it.pos += n
	return true
}

// ---------------------------------------------------------------------------
// Stepper: unbuffered single-element outer iteration
// ---------------------------------------------------------------------------

// Stepper walks a domain one element at a time, exposing the per-operand
// byte offset of the current element. It is the lightweight outer cursor of
// nested reduction loops; the buffered Iter handles the inner sweep.
type Stepper struct {
	shape   []int
	strides [][]int
	idx     []int
	offs    []int
	done    bool
}

// NewStepper builds a single-element iterator over shape. A 0-d shape has
// exactly one position.
func NewStepper(shape []int, strides [][]int) (*Stepper, error) {
	for i, s := range strides {
		if len(s) != len(shape) {
			return nil, fmt.Errorf("axes: operand %d has %d stride entries for %d axes", i, len(s), len(shape))
		}
	}
	st := &Stepper{
		shape:   append([]int(nil), shape...),
		strides: make([][]int, len(strides)),
		idx:     make([]int, len(shape)),
		offs:    make([]int, len(strides)),
	}
	for i, s := range strides {
		st.strides[i] = append([]int(nil), s...)
	}
	for _, d := range shape {
		if d == 0 {
			st.done = true
		}
	}
	return st, nil
}

// Offsets returns the per-operand byte offsets of the current element. The
// slice is reused across Advance calls.
func (st *Stepper) Offsets() []int {
	for i, s := range st.strides {
		off := 0
		for ax := range st.shape {
			off += st.idx[ax] * s[ax]
		}
		st.offs[i] = off
	}
	return st.offs
}

// Done reports whether the stepper has run off the end of the domain.
func (st *Stepper) Done() bool { return st.done }

// Advance moves to the next element, returning false when exhausted.
func (st *Stepper) Advance() bool {
	if st.done {
		return false
	}
	for ax := len(st.shape) - 1; ax >= 0; ax-- {
		st.idx[ax]++
		if st.idx[ax] < st.shape[ax] {
			return true
		}
		st.idx[ax] = 0
	}
	st.done = true
	return false
}
