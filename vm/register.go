package vm

// ---------------------------------------------------------------------------
// vmParams: per-invocation execution context
// ---------------------------------------------------------------------------

// vmParams bundles everything one execution path needs: the instruction
// stream, the per-register buffers and element sizes, and the register
// count. It is a transient value built per Run call and copied (never
// shared) into each worker's private task state; mem is a fresh slice per
// worker so temporaries stay private.
type vmParams struct {
	code     []byte
	mem      [][]byte // per-register buffer; temps filled by allocTemps
	memSizes []int    // element byte size per register
	rEnd     int

	nInputs    int
	nConstants int
	nTemps     int

	// outBuffer, when non-nil, stages register 0 writes for one block so an
	// output that aliases an input is not clobbered mid-block. Sized to one
	// block of output elements.
	outBuffer []byte
}

// clone duplicates the context for a worker: a private mem slice (sharing
// the output/input/constant buffers, with temp slots re-allocated by the
// worker) and a private stride scratch.
func (p *vmParams) clone() *vmParams {
	c := *p
	c.mem = append([][]byte(nil), p.mem...)
	c.outBuffer = nil
	return &c
}

// allocTemps sizes one buffer per temporary register for blocks of up to
// blockSize elements. All-or-nothing: on a bad request no temp slot is left
// half-initialized. Temporaries are never resized mid-call; a larger block
// requires freeTemps and a fresh allocation.
func (p *vmParams) allocTemps(blockSize int) error {
	if blockSize < 1 {
		return &AllocationError{Register: -1, Bytes: blockSize}
	}
	k := 1 + p.nInputs + p.nConstants
	for r := k; r < k+p.nTemps; r++ {
		n := blockSize * p.memSizes[r]
		if n < 0 {
			p.freeTemps()
			return &AllocationError{Register: r, Bytes: n}
		}
		p.mem[r] = make([]byte, n)
	}
	return nil
}

// freeTemps releases every temporary buffer for this call.
func (p *vmParams) freeTemps() {
	k := 1 + p.nInputs + p.nConstants
	for r := k; r < k+p.nTemps; r++ {
		p.mem[r] = nil
	}
}
