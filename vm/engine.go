package vm

import (
	"fmt"
	"runtime"

	"github.com/tliron/commonlog"

	"github.com/mindw/numexpr/axes"
)

var log = commonlog.GetLogger("numexpr.vm")

// DefaultBlockSize is the number of elements processed per interpreter
// block when the engine options leave it unset.
const DefaultBlockSize = 4096

// shortReductionAxis is the strategy threshold for axis-restricted
// reductions: a reduced axis shorter than this is folded into the buffered
// inner block loop, with the non-reduced axes driving the outer cursor.
const shortReductionAxis = 64

// ---------------------------------------------------------------------------
// Engine
// ---------------------------------------------------------------------------

// Options configures an Engine.
type Options struct {
	// BlockSize is the per-block element count; 0 means DefaultBlockSize.
	BlockSize int
	// Threads is the worker-pool size; 0 means one worker per CPU.
	Threads int
	// ForceSerial disables the parallel path regardless of Threads.
	ForceSerial bool
}

// Engine evaluates validated programs against typed array operands. It owns
// the worker pool, so construction and teardown are explicit: create one
// with New, reuse it across calls, and Close it when done. An Engine is
// safe for sequential reuse; concurrent Run calls on one Engine are not
// supported (the pool is a single rendezvous).
type Engine struct {
	blockSize   int
	threads     int
	forceSerial bool
	pool        *pool
}

// New creates an engine and, for thread counts above one, starts its
// worker pool.
func New(opts Options) *Engine {
	e := &Engine{
		blockSize:   opts.BlockSize,
		threads:     opts.Threads,
		forceSerial: opts.ForceSerial,
	}
	if e.blockSize <= 0 {
		e.blockSize = DefaultBlockSize
	}
	if e.threads <= 0 {
		e.threads = runtime.NumCPU()
	}
	if e.threads > 1 {
		e.pool = newPool(e.threads)
	}
	return e
}

// Close stops the worker pool. The engine is unusable afterwards.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.shutdown()
		e.pool = nil
	}
}

// BlockSize returns the engine's per-block element count.
func (e *Engine) BlockSize() int { return e.blockSize }

// Threads returns the engine's worker count.
func (e *Engine) Threads() int { return e.threads }

// ---------------------------------------------------------------------------
// Run: top-level dispatch
// ---------------------------------------------------------------------------

// Run evaluates the program, writing results into out. Exactly one path is
// selected: the constant path for zero-input programs, the serial path when
// the pool is unavailable, serial mode is forced, the domain is small, or
// the program is a reduction, and otherwise the parallel path. The output
// array is never resized; its shape must already match the result domain.
func (e *Engine) Run(p *Program, out *axes.Array, inputs ...*axes.Array) error {
	if p == nil {
		return &UnsupportedConfigError{Msg: "nil program"}
	}
	if !p.validated {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	if out == nil {
		return &UnsupportedConfigError{Msg: "output array required"}
	}
	if len(inputs) != p.NInputs() {
		return &UnsupportedConfigError{Msg: "number of inputs doesn't match program"}
	}
	retsig := p.ReturnSignature()
	if retsig == TagInvalid {
		return &UnsupportedConfigError{Msg: "program has no return value"}
	}

	memSizes, err := e.resolveMemSizes(p, retsig, out, inputs)
	if err != nil {
		return err
	}

	params := &vmParams{
		code:       p.Code,
		mem:        make([][]byte, p.REnd()),
		memSizes:   memSizes,
		rEnd:       p.REnd(),
		nInputs:    p.NInputs(),
		nConstants: p.NConstants(),
		nTemps:     p.NTemps(),
	}
	params.mem[0] = out.Data
	for j, in := range inputs {
		params.mem[1+j] = in.Data
	}
	for j, c := range p.Constants {
		params.mem[1+p.NInputs()+j] = c
	}

	// A case with a single constant output.
	if p.NInputs() == 0 {
		if out.Size() != 1 {
			return &UnsupportedConfigError{Msg: "output for a constant expression must have size 1"}
		}
		return e.runConst(params)
	}

	// Empty operands mean an empty result: nothing to execute. A reduction
	// over zero contributing elements still yields its identity, so the
	// output is seeded before returning.
	for _, in := range inputs {
		if in.Size() == 0 {
			if p.IsReduction() {
				seedReduction(out, retsig, p.lastOpcode())
			}
			return nil
		}
	}

	needBuffering := false
	for _, in := range inputs {
		if axes.SameData(out, in) {
			needBuffering = true
		}
	}

	plan, err := e.buildPlan(p, out, inputs, needBuffering)
	if err != nil {
		return err
	}

	if p.IsReduction() {
		seedReduction(out, retsig, p.lastOpcode())
	}

	forceSerial := e.forceSerial || e.pool == nil || p.IsReduction() ||
		plan.iterSize < 2*e.blockSize

	if forceSerial {
		return e.runSerial(params, plan)
	}
	return e.runParallel(params, plan)
}

// resolveMemSizes copies the program's per-register element sizes and fills
// in the string widths only the caller's arrays can supply.
func (e *Engine) resolveMemSizes(p *Program, retsig byte, out *axes.Array, inputs []*axes.Array) ([]int, error) {
	sizes := append([]int(nil), p.memSizes...)
	for j, in := range inputs {
		tag := p.InSig[j]
		if tag == TagString {
			sizes[1+j] = in.ItemSize
			continue
		}
		if in.ItemSize != TagSize(tag) {
			return nil, &UnsupportedConfigError{
				Msg: fmt.Sprintf("input %d has element size %d, signature %c wants %d",
					j, in.ItemSize, tag, TagSize(tag)),
			}
		}
	}
	if retsig == TagString {
		// The only string-returning operation is a copy, so the output
		// width comes from the first string input or constant register.
		for r := 1; r < 1+p.NInputs()+p.NConstants(); r++ {
			if p.FullSig[r] == TagString {
				sizes[0] = sizes[r]
				break
			}
		}
	}
	if out.ItemSize != sizes[0] {
		return nil, &UnsupportedConfigError{
			Msg: fmt.Sprintf("output element size %d does not match result type %c", out.ItemSize, retsig),
		}
	}
	return sizes, nil
}

// ---------------------------------------------------------------------------
// Reduction controller / plan construction
// ---------------------------------------------------------------------------

// runPlan is one invocation's iteration strategy: the buffered inner
// iterator, an optional unbuffered outer cursor for nested reductions, and
// the executor mode flags.
type runPlan struct {
	iter          *axes.Iter
	outer         *axes.Stepper
	mode          execMode
	needBuffering bool
	iterSize      int
}

// buildPlan constructs the iterators for this call. Operand order is
// [output, inputs...] throughout.
func (e *Engine) buildPlan(p *Program, out *axes.Array, inputs []*axes.Array, needBuffering bool) (*runPlan, error) {
	arrs := make([]*axes.Array, 0, len(inputs))
	arrs = append(arrs, inputs...)
	shape, err := axes.BroadcastShape(arrs...)
	if err != nil {
		return nil, fmt.Errorf("numexpr: %w", err)
	}
	nd := len(shape)
	total := 1
	for _, dim := range shape {
		total *= dim
	}

	inStrides := make([][]int, len(inputs))
	for j, in := range inputs {
		s, err := axes.StridesFor(in, shape)
		if err != nil {
			return nil, fmt.Errorf("numexpr: %w", err)
		}
		inStrides[j] = s
	}

	if !p.IsReduction() {
		outStrides, err := outStridesFor(out, shape)
		if err != nil {
			return nil, err
		}
		strides := append([][]int{outStrides}, inStrides...)
		it, err := axes.NewIter(e.blockSize, shape, strides)
		if err != nil {
			return nil, fmt.Errorf("numexpr: %w", err)
		}
		return &runPlan{
			iter:          it,
			mode:          0,
			needBuffering: needBuffering,
			iterSize:      total,
		}, nil
	}

	axis := p.ReductionAxis()
	if axis != FullReduction {
		// The wrapped byte encoding yields a negative index for an axis
		// counted from the end; resolve it against this call's rank.
		if axis < 0 {
			axis += nd
		}
		if axis < 0 || axis >= nd {
			return nil, &UnsupportedConfigError{Msg: "reduction axis is out of bounds"}
		}
		// Reducing the only axis collapses everything; take the flat path.
		if nd == 1 {
			axis = FullReduction
		}
	}

	if axis == FullReduction {
		if out.Size() != 1 {
			return nil, &UnsupportedConfigError{Msg: "output must have size 1 for a full reduction"}
		}
		strides := make([][]int, 0, 1+len(inputs))
		strides = append(strides, make([]int, nd)) // output pinned at its single element
		strides = append(strides, inStrides...)
		it, err := axes.NewIter(e.blockSize, shape, strides)
		if err != nil {
			return nil, fmt.Errorf("numexpr: %w", err)
		}
		return &runPlan{
			iter:     it,
			mode:     modeReductionInner | modeNoOutputBuffering,
			iterSize: total,
		}, nil
	}

	// Axis-restricted reduction: nested iteration. The output spans the
	// non-reduced axes; give it a full-rank stride table with a zero on the
	// reduced axis.
	outShape := deleteAxis(shape, axis)
	outStrides, err := outStridesFor(out, outShape)
	if err != nil {
		return nil, err
	}
	outFull := insertAxis(outStrides, axis, 0)

	reductionSize := shape[axis]
	fullStrides := append([][]int{outFull}, inStrides...)

	if reductionSize < shortReductionAxis {
		// Short reduced axis: it becomes the outer cursor and the buffered
		// block loop sweeps the non-reduced axes, accumulating per element.
		outer, err := axes.NewStepper([]int{shape[axis]}, selectAxes(fullStrides, []int{axis}))
		if err != nil {
			return nil, fmt.Errorf("numexpr: %w", err)
		}
		keep := otherAxes(nd, axis)
		it, err := axes.NewIter(e.blockSize, deleteAxis(shape, axis), selectAxes(fullStrides, keep))
		if err != nil {
			return nil, fmt.Errorf("numexpr: %w", err)
		}
		return &runPlan{
			iter:     it,
			outer:    outer,
			mode:     modeNoOutputBuffering,
			iterSize: total,
		}, nil
	}

	// Long reduced axis: the non-reduced axes drive the outer cursor and
	// the buffered loop accumulates along the reduced axis.
	keep := otherAxes(nd, axis)
	outer, err := axes.NewStepper(deleteAxis(shape, axis), selectAxes(fullStrides, keep))
	if err != nil {
		return nil, fmt.Errorf("numexpr: %w", err)
	}
	it, err := axes.NewIter(e.blockSize, []int{shape[axis]}, selectAxes(fullStrides, []int{axis}))
	if err != nil {
		return nil, fmt.Errorf("numexpr: %w", err)
	}
	return &runPlan{
		iter:     it,
		outer:    outer,
		mode:     modeReductionInner | modeNoOutputBuffering,
		iterSize: total,
	}, nil
}

// seedReduction pre-seeds the output with the reduction unit: the additive
// identity for the sum family, the multiplicative identity otherwise.
func seedReduction(out *axes.Array, tag byte, op Opcode) {
	unit := 1
	if op.IsSumReduction() {
		unit = 0
	}
	st, err := axes.NewStepper(out.Shape, [][]int{out.Strides})
	if err != nil || st.Done() {
		return
	}
	for {
		off := st.Offsets()[0]
		switch tag {
		case TagBool:
			storeB(out.Data, off, unit != 0)
		case TagInt:
			storeI(out.Data, off, int32(unit))
		case TagLong:
			storeL(out.Data, off, int64(unit))
		case TagFloat:
			storeF(out.Data, off, float32(unit))
		case TagDouble:
			storeD(out.Data, off, float64(unit))
		case TagComplex:
			storeC(out.Data, off, complex(float64(unit), 0))
		}
		if !st.Advance() {
			break
		}
	}
}

// ---------------------------------------------------------------------------
// Serial and constant paths
// ---------------------------------------------------------------------------

func (e *Engine) runSerial(params *vmParams, plan *runPlan) error {
	if err := params.allocTemps(e.blockSize); err != nil {
		return err
	}
	defer params.freeTemps()

	if plan.outer == nil {
		if plan.needBuffering {
			params.outBuffer = make([]byte, e.blockSize*params.memSizes[0])
		}
		log.Debugf("serial run over %d elements", plan.iterSize)
		code, pc := runIterTask(plan.iter, params, plan.mode)
		return runErr(code, pc, "")
	}

	// Nested reduction loop: re-aim the buffered iterator at each outer
	// position and sweep.
	log.Debugf("nested reduction over %d elements", plan.iterSize)
	if plan.outer.Done() {
		return nil
	}
	for {
		if err := plan.iter.ResetBase(plan.outer.Offsets()); err != nil {
			return fmt.Errorf("numexpr: %w", err)
		}
		if code, pc := runIterTask(plan.iter, params, plan.mode); code != codeOK {
			return runErr(code, pc, "")
		}
		if !plan.outer.Advance() {
			return nil
		}
	}
}

// runConst is the dedicated path for zero-input expressions: one element,
// no iterator, results written directly to the caller's output memory.
func (e *Engine) runConst(params *vmParams) error {
	if err := params.allocTemps(1); err != nil {
		return err
	}
	defer params.freeTemps()
	r := &regs{
		mem:   params.mem,
		offs:  make([]int, params.rEnd),
		steps: make([]int, params.rEnd),
	}
	code, pc := execBlock(params, r, 1, modeSingleItemConst|modeNoOutputBuffering)
	return runErr(code, pc, "")
}

// runIterTask drains the iterator's active range through the block
// executor. Register layout per block: operands 0..nInputs map to the
// iterator's offsets and strides, constants sit at offset 0 with stride 0,
// and temporaries are contiguous scratch. When output staging is active the
// block is executed against the scratch output buffer and copied out
// afterwards.
func runIterTask(it *axes.Iter, p *vmParams, mode execMode) (int, int) {
	offs := make([]int, p.rEnd)
	steps := make([]int, p.rEnd)
	k := 1 + p.nInputs + p.nConstants
	for reg := k; reg < p.rEnd; reg++ {
		steps[reg] = p.memSizes[reg]
	}

	mem := p.mem
	buffered := p.outBuffer != nil && mode&modeNoOutputBuffering == 0
	if buffered {
		mem = append([][]byte(nil), p.mem...)
	}
	r := &regs{mem: mem, offs: offs, steps: steps}

	nops := 1 + p.nInputs
	var blk axes.Block
	for it.Next(&blk) {
		for j := 0; j < nops; j++ {
			offs[j] = blk.Offsets[j]
			steps[j] = blk.Strides[j]
		}
		realOff, realStep := offs[0], steps[0]
		if buffered {
			mem[0] = p.outBuffer
			offs[0] = 0
			steps[0] = p.memSizes[0]
		}
		if code, pc := execBlock(p, r, blk.Size, mode); code != codeOK {
			return code, pc
		}
		if buffered {
			es := p.memSizes[0]
			for i := 0; i < blk.Size; i++ {
				dst := realOff + i*realStep
				copy(p.mem[0][dst:dst+es], p.outBuffer[i*es:(i+1)*es])
			}
		}
	}
	return codeOK, -1
}

// ---------------------------------------------------------------------------
// Shape helpers
// ---------------------------------------------------------------------------

// outStridesFor maps the output array onto the iteration shape. The output
// must either match the shape dimension-for-dimension or be a contiguous
// array of the same total size (a flat destination for a shaped domain).
func outStridesFor(out *axes.Array, shape []int) ([]int, error) {
	if len(out.Shape) == len(shape) {
		match := true
		for i := range shape {
			if out.Shape[i] != shape[i] {
				match = false
				break
			}
		}
		if match {
			return append([]int(nil), out.Strides...), nil
		}
	}
	total := 1
	for _, d := range shape {
		total *= d
	}
	if out.Size() == total && isContiguous(out) {
		strides := make([]int, len(shape))
		stride := out.ItemSize
		for i := len(shape) - 1; i >= 0; i-- {
			strides[i] = stride
			stride *= shape[i]
		}
		return strides, nil
	}
	return nil, &UnsupportedConfigError{
		Msg: fmt.Sprintf("output shape %v does not match result shape %v", out.Shape, shape),
	}
}

func isContiguous(a *axes.Array) bool {
	stride := a.ItemSize
	for i := len(a.Shape) - 1; i >= 0; i-- {
		if a.Shape[i] != 1 && a.Strides[i] != stride {
			return false
		}
		stride *= a.Shape[i]
	}
	return true
}

func deleteAxis(dims []int, axis int) []int {
	out := make([]int, 0, len(dims)-1)
	out = append(out, dims[:axis]...)
	return append(out, dims[axis+1:]...)
}

func insertAxis(dims []int, axis, v int) []int {
	out := make([]int, 0, len(dims)+1)
	out = append(out, dims[:axis]...)
	out = append(out, v)
	return append(out, dims[axis:]...)
}

func otherAxes(nd, axis int) []int {
	out := make([]int, 0, nd-1)
	for i := 0; i < nd; i++ {
		if i != axis {
			out = append(out, i)
		}
	}
	return out
}

// selectAxes projects per-operand full-rank stride tables onto the given
// axis subset.
func selectAxes(strides [][]int, axesIdx []int) [][]int {
	out := make([][]int, len(strides))
	for i, s := range strides {
		sel := make([]int, len(axesIdx))
		for j, ax := range axesIdx {
			sel[j] = s[ax]
		}
		out[i] = sel
	}
	return out
}
