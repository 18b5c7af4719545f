package vm

import (
	"math"
	"unsafe"

	"github.com/mindw/numexpr/funcs"
)

// ---------------------------------------------------------------------------
// Execution modes
// ---------------------------------------------------------------------------

// execMode selects the block-execution variant. The original macro-expanded
// interpreter instantiated one body per flag combination; here a single
// generic routine takes the flags as a runtime parameter.
type execMode uint8

const (
	// modeReductionInner accumulates the final reduction instruction into a
	// single destination element across the block (and across successive
	// blocks), instead of advancing the destination per element.
	modeReductionInner execMode = 1 << iota
	// modeNoOutputBuffering writes results straight into the supplied
	// destination memory; the caller guarantees no staging is needed.
	modeNoOutputBuffering
	// modeSingleItemConst is the zero-input constant path: block size is
	// fixed at one element and no iterator is involved.
	modeSingleItemConst
)

// ---------------------------------------------------------------------------
// Register accessors
// ---------------------------------------------------------------------------

// regs is the executor's view of the register file for one block: buffers,
// per-register block base offsets, and per-element byte strides.
type regs struct {
	mem   [][]byte
	offs  []int
	steps []int
}

func (r *regs) b(reg, i int) bool       { return loadB(r.mem[reg], r.offs[reg]+i*r.steps[reg]) }
func (r *regs) i(reg, i int) int32      { return loadI(r.mem[reg], r.offs[reg]+i*r.steps[reg]) }
func (r *regs) l(reg, i int) int64      { return loadL(r.mem[reg], r.offs[reg]+i*r.steps[reg]) }
func (r *regs) f(reg, i int) float32    { return loadF(r.mem[reg], r.offs[reg]+i*r.steps[reg]) }
func (r *regs) d(reg, i int) float64    { return loadD(r.mem[reg], r.offs[reg]+i*r.steps[reg]) }
func (r *regs) c(reg, i int) complex128 { return loadC(r.mem[reg], r.offs[reg]+i*r.steps[reg]) }

func (r *regs) setB(reg, i int, v bool)       { storeB(r.mem[reg], r.offs[reg]+i*r.steps[reg], v) }
func (r *regs) setI(reg, i int, v int32)      { storeI(r.mem[reg], r.offs[reg]+i*r.steps[reg], v) }
func (r *regs) setL(reg, i int, v int64)      { storeL(r.mem[reg], r.offs[reg]+i*r.steps[reg], v) }
func (r *regs) setF(reg, i int, v float32)    { storeF(r.mem[reg], r.offs[reg]+i*r.steps[reg], v) }
func (r *regs) setD(reg, i int, v float64)    { storeD(r.mem[reg], r.offs[reg]+i*r.steps[reg], v) }
func (r *regs) setC(reg, i int, v complex128) { storeC(r.mem[reg], r.offs[reg]+i*r.steps[reg], v) }

func (r *regs) str(reg, i, width int) []byte {
	off := r.offs[reg] + i*r.steps[reg]
	return r.mem[reg][off : off+width]
}

// ---------------------------------------------------------------------------
// Typed inner loops
// ---------------------------------------------------------------------------

func unI(r *regs, n, d, a int, f func(int32) int32) {
	for i := 0; i < n; i++ {
		r.setI(d, i, f(r.i(a, i)))
	}
}

func unL(r *regs, n, d, a int, f func(int64) int64) {
	for i := 0; i < n; i++ {
		r.setL(d, i, f(r.l(a, i)))
	}
}

func unF(r *regs, n, d, a int, f func(float32) float32) {
	for i := 0; i < n; i++ {
		r.setF(d, i, f(r.f(a, i)))
	}
}

func unD(r *regs, n, d, a int, f func(float64) float64) {
	for i := 0; i < n; i++ {
		r.setD(d, i, f(r.d(a, i)))
	}
}

func unC(r *regs, n, d, a int, f func(complex128) complex128) {
	for i := 0; i < n; i++ {
		r.setC(d, i, f(r.c(a, i)))
	}
}

func binI(r *regs, n, d, a, b int, f func(int32, int32) int32) {
	for i := 0; i < n; i++ {
		r.setI(d, i, f(r.i(a, i), r.i(b, i)))
	}
}

func binL(r *regs, n, d, a, b int, f func(int64, int64) int64) {
	for i := 0; i < n; i++ {
		r.setL(d, i, f(r.l(a, i), r.l(b, i)))
	}
}

func binF(r *regs, n, d, a, b int, f func(float32, float32) float32) {
	for i := 0; i < n; i++ {
		r.setF(d, i, f(r.f(a, i), r.f(b, i)))
	}
}

func binD(r *regs, n, d, a, b int, f func(float64, float64) float64) {
	for i := 0; i < n; i++ {
		r.setD(d, i, f(r.d(a, i), r.d(b, i)))
	}
}

func binC(r *regs, n, d, a, b int, f func(complex128, complex128) complex128) {
	for i := 0; i < n; i++ {
		r.setC(d, i, f(r.c(a, i), r.c(b, i)))
	}
}

func cmpI(r *regs, n, d, a, b int, f func(int32, int32) bool) {
	for i := 0; i < n; i++ {
		r.setB(d, i, f(r.i(a, i), r.i(b, i)))
	}
}

func cmpL(r *regs, n, d, a, b int, f func(int64, int64) bool) {
	for i := 0; i < n; i++ {
		r.setB(d, i, f(r.l(a, i), r.l(b, i)))
	}
}

func cmpF(r *regs, n, d, a, b int, f func(float32, float32) bool) {
	for i := 0; i < n; i++ {
		r.setB(d, i, f(r.f(a, i), r.f(b, i)))
	}
}

func cmpD(r *regs, n, d, a, b int, f func(float64, float64) bool) {
	for i := 0; i < n; i++ {
		r.setB(d, i, f(r.d(a, i), r.d(b, i)))
	}
}

// Integer division and modulo yield 0 on a zero divisor rather than trap
// inside the loop.

func divI(x, y int32) int32 {
	if y == 0 {
		return 0
	}
	return x / y
}

func divL(x, y int64) int64 {
	if y == 0 {
		return 0
	}
	return x / y
}

func modI(x, y int32) int32 {
	if y == 0 {
		return 0
	}
	return x % y
}

func modL(x, y int64) int64 {
	if y == 0 {
		return 0
	}
	return x % y
}

// ---------------------------------------------------------------------------
// execBlock: one pass of the program over one block
// ---------------------------------------------------------------------------

// execBlock executes every instruction in the program once over a block of
// n elements described by per-register offsets and strides, and returns an
// engine code plus the failing program counter (or -1). The validator has
// already guaranteed operand/register type agreement; the bounds checks
// here are belt and suspenders around register indices only.
func execBlock(p *vmParams, r *regs, n int, mode execMode) (int, int) {
	code := p.code
	for pc := 0; pc < len(code); pc += 4 {
		op := Opcode(code[pc])
		if op == OpNoop {
			continue
		}
		info, ok := opcodeTable[op]
		if !ok {
			return codeBadOpcode, pc
		}

		// Resolve operand registers, rechecking bounds.
		var arg [4]int
		nargs := 0
		for ; nargs < 4 && info.Sig[nargs] != 0; nargs++ {
			loc := pc + nargs + 1
			if nargs >= 3 {
				loc = pc + nargs + 2
			}
			if loc >= len(code) {
				return codeBadOperand, pc
			}
			a := int(code[loc])
			if info.Sig[nargs] != TagCount && a >= p.rEnd {
				return codeBadOperand, pc
			}
			arg[nargs] = a
		}
		d, a1, a2, a3 := arg[0], arg[1], arg[2], arg[3]

		switch op {
		case OpCopyBB:
			for i := 0; i < n; i++ {
				r.setB(d, i, r.b(a1, i))
			}
		case OpCopyII:
			unI(r, n, d, a1, func(x int32) int32 { return x })
		case OpCopyLL:
			unL(r, n, d, a1, func(x int64) int64 { return x })
		case OpCopyFF:
			unF(r, n, d, a1, func(x float32) float32 { return x })
		case OpCopyDD:
			unD(r, n, d, a1, func(x float64) float64 { return x })
		case OpCopyCC:
			unC(r, n, d, a1, func(x complex128) complex128 { return x })
		case OpCopySS:
			wd, ws := p.memSizes[d], p.memSizes[a1]
			for i := 0; i < n; i++ {
				dst := r.str(d, i, wd)
				m := copy(dst, r.str(a1, i, ws))
				for j := m; j < wd; j++ {
					dst[j] = 0
				}
			}

		case OpInvertBB:
			for i := 0; i < n; i++ {
				r.setB(d, i, !r.b(a1, i))
			}
		case OpAndBBB:
			for i := 0; i < n; i++ {
				r.setB(d, i, r.b(a1, i) && r.b(a2, i))
			}
		case OpOrBBB:
			for i := 0; i < n; i++ {
				r.setB(d, i, r.b(a1, i) || r.b(a2, i))
			}

		case OpGtBII:
			cmpI(r, n, d, a1, a2, func(x, y int32) bool { return x > y })
		case OpGeBII:
			cmpI(r, n, d, a1, a2, func(x, y int32) bool { return x >= y })
		case OpEqBII:
			cmpI(r, n, d, a1, a2, func(x, y int32) bool { return x == y })
		case OpNeBII:
			cmpI(r, n, d, a1, a2, func(x, y int32) bool { return x != y })
		case OpGtBLL:
			cmpL(r, n, d, a1, a2, func(x, y int64) bool { return x > y })
		case OpGeBLL:
			cmpL(r, n, d, a1, a2, func(x, y int64) bool { return x >= y })
		case OpEqBLL:
			cmpL(r, n, d, a1, a2, func(x, y int64) bool { return x == y })
		case OpNeBLL:
			cmpL(r, n, d, a1, a2, func(x, y int64) bool { return x != y })
		case OpGtBFF:
			cmpF(r, n, d, a1, a2, func(x, y float32) bool { return x > y })
		case OpGeBFF:
			cmpF(r, n, d, a1, a2, func(x, y float32) bool { return x >= y })
		case OpEqBFF:
			cmpF(r, n, d, a1, a2, func(x, y float32) bool { return x == y })
		case OpNeBFF:
			cmpF(r, n, d, a1, a2, func(x, y float32) bool { return x != y })
		case OpGtBDD:
			cmpD(r, n, d, a1, a2, func(x, y float64) bool { return x > y })
		case OpGeBDD:
			cmpD(r, n, d, a1, a2, func(x, y float64) bool { return x >= y })
		case OpEqBDD:
			cmpD(r, n, d, a1, a2, func(x, y float64) bool { return x == y })
		case OpNeBDD:
			cmpD(r, n, d, a1, a2, func(x, y float64) bool { return x != y })
		case OpEqBSS:
			w1, w2 := p.memSizes[a1], p.memSizes[a2]
			for i := 0; i < n; i++ {
				r.setB(d, i, stringCmp(r.str(a1, i, w1), r.str(a2, i, w2)) == 0)
			}
		case OpNeBSS:
			w1, w2 := p.memSizes[a1], p.memSizes[a2]
			for i := 0; i < n; i++ {
				r.setB(d, i, stringCmp(r.str(a1, i, w1), r.str(a2, i, w2)) != 0)
			}

		case OpAddIII:
			binI(r, n, d, a1, a2, func(x, y int32) int32 { return x + y })
		case OpSubIII:
			binI(r, n, d, a1, a2, func(x, y int32) int32 { return x - y })
		case OpMulIII:
			binI(r, n, d, a1, a2, func(x, y int32) int32 { return x * y })
		case OpDivIII:
			binI(r, n, d, a1, a2, divI)
		case OpAddLLL:
			binL(r, n, d, a1, a2, func(x, y int64) int64 { return x + y })
		case OpSubLLL:
			binL(r, n, d, a1, a2, func(x, y int64) int64 { return x - y })
		case OpMulLLL:
			binL(r, n, d, a1, a2, func(x, y int64) int64 { return x * y })
		case OpDivLLL:
			binL(r, n, d, a1, a2, divL)
		case OpAddFFF:
			binF(r, n, d, a1, a2, func(x, y float32) float32 { return x + y })
		case OpSubFFF:
			binF(r, n, d, a1, a2, func(x, y float32) float32 { return x - y })
		case OpMulFFF:
			binF(r, n, d, a1, a2, func(x, y float32) float32 { return x * y })
		case OpDivFFF:
			binF(r, n, d, a1, a2, func(x, y float32) float32 { return x / y })
		case OpAddDDD:
			binD(r, n, d, a1, a2, func(x, y float64) float64 { return x + y })
		case OpSubDDD:
			binD(r, n, d, a1, a2, func(x, y float64) float64 { return x - y })
		case OpMulDDD:
			binD(r, n, d, a1, a2, func(x, y float64) float64 { return x * y })
		case OpDivDDD:
			binD(r, n, d, a1, a2, func(x, y float64) float64 { return x / y })
		case OpAddCCC:
			binC(r, n, d, a1, a2, func(x, y complex128) complex128 { return x + y })
		case OpSubCCC:
			binC(r, n, d, a1, a2, func(x, y complex128) complex128 { return x - y })
		case OpMulCCC:
			binC(r, n, d, a1, a2, func(x, y complex128) complex128 { return x * y })
		case OpDivCCC:
			binC(r, n, d, a1, a2, func(x, y complex128) complex128 { return x / y })

		case OpNegII:
			unI(r, n, d, a1, func(x int32) int32 { return -x })
		case OpNegLL:
			unL(r, n, d, a1, func(x int64) int64 { return -x })
		case OpNegFF:
			unF(r, n, d, a1, func(x float32) float32 { return -x })
		case OpNegDD:
			unD(r, n, d, a1, func(x float64) float64 { return -x })
		case OpNegCC:
			unC(r, n, d, a1, func(x complex128) complex128 { return -x })

		case OpModIII:
			binI(r, n, d, a1, a2, modI)
		case OpModLLL:
			binL(r, n, d, a1, a2, modL)
		case OpModFFF:
			binF(r, n, d, a1, a2, func(x, y float32) float32 {
				return float32(math.Mod(float64(x), float64(y)))
			})
		case OpModDDD:
			binD(r, n, d, a1, a2, math.Mod)
		case OpPowFFF:
			binF(r, n, d, a1, a2, func(x, y float32) float32 {
				return float32(math.Pow(float64(x), float64(y)))
			})
		case OpPowDDD:
			binD(r, n, d, a1, a2, math.Pow)
		case OpSqrtFF:
			unF(r, n, d, a1, func(x float32) float32 { return float32(math.Sqrt(float64(x))) })
		case OpSqrtDD:
			unD(r, n, d, a1, math.Sqrt)
		case OpAbsII:
			unI(r, n, d, a1, func(x int32) int32 {
				if x < 0 {
					return -x
				}
				return x
			})
		case OpAbsLL:
			unL(r, n, d, a1, func(x int64) int64 {
				if x < 0 {
					return -x
				}
				return x
			})
		case OpAbsFF:
			unF(r, n, d, a1, func(x float32) float32 { return float32(math.Abs(float64(x))) })
		case OpAbsDD:
			unD(r, n, d, a1, math.Abs)

		case OpWhereIBII:
			for i := 0; i < n; i++ {
				if r.b(a1, i) {
					r.setI(d, i, r.i(a2, i))
				} else {
					r.setI(d, i, r.i(a3, i))
				}
			}
		case OpWhereLBLL:
			for i := 0; i < n; i++ {
				if r.b(a1, i) {
					r.setL(d, i, r.l(a2, i))
				} else {
					r.setL(d, i, r.l(a3, i))
				}
			}
		case OpWhereFBFF:
			for i := 0; i < n; i++ {
				if r.b(a1, i) {
					r.setF(d, i, r.f(a2, i))
				} else {
					r.setF(d, i, r.f(a3, i))
				}
			}
		case OpWhereDBDD:
			for i := 0; i < n; i++ {
				if r.b(a1, i) {
					r.setD(d, i, r.d(a2, i))
				} else {
					r.setD(d, i, r.d(a3, i))
				}
			}

		case OpCastIB:
			for i := 0; i < n; i++ {
				if r.b(a1, i) {
					r.setI(d, i, 1)
				} else {
					r.setI(d, i, 0)
				}
			}
		case OpCastLI:
			for i := 0; i < n; i++ {
				r.setL(d, i, int64(r.i(a1, i)))
			}
		case OpCastFI:
			for i := 0; i < n; i++ {
				r.setF(d, i, float32(r.i(a1, i)))
			}
		case OpCastFL:
			for i := 0; i < n; i++ {
				r.setF(d, i, float32(r.l(a1, i)))
			}
		case OpCastDI:
			for i := 0; i < n; i++ {
				r.setD(d, i, float64(r.i(a1, i)))
			}
		case OpCastDL:
			for i := 0; i < n; i++ {
				r.setD(d, i, float64(r.l(a1, i)))
			}
		case OpCastDF:
			for i := 0; i < n; i++ {
				r.setD(d, i, float64(r.f(a1, i)))
			}
		case OpCastCD:
			for i := 0; i < n; i++ {
				r.setC(d, i, complex(r.d(a1, i), 0))
			}

		case OpFuncFFN:
			fn := funcs.FF[a2]
			unF(r, n, d, a1, fn)
		case OpFuncDDN:
			if !execBlockDD(r, n, d, a1, a2) {
				fn := funcs.DD[a2]
				unD(r, n, d, a1, fn)
			}
		case OpFuncCCN:
			fn := funcs.CC[a2]
			unC(r, n, d, a1, fn)
		case OpFuncFFFN:
			fn := funcs.FFF[a3]
			binF(r, n, d, a1, a2, fn)
		case OpFuncDDDN:
			fn := funcs.DDD[a3]
			binD(r, n, d, a1, a2, fn)
		case OpFuncCCCN:
			fn := funcs.CCC[a3]
			binC(r, n, d, a1, a2, fn)

		case OpSumIIN:
			if mode&modeReductionInner != 0 {
				acc := loadI(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc += r.i(a1, i)
				}
				storeI(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setI(d, i, r.i(d, i)+r.i(a1, i))
				}
			}
		case OpSumLLN:
			if mode&modeReductionInner != 0 {
				acc := loadL(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc += r.l(a1, i)
				}
				storeL(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setL(d, i, r.l(d, i)+r.l(a1, i))
				}
			}
		case OpSumFFN:
			if mode&modeReductionInner != 0 {
				acc := loadF(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc += r.f(a1, i)
				}
				storeF(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setF(d, i, r.f(d, i)+r.f(a1, i))
				}
			}
		case OpSumDDN:
			if mode&modeReductionInner != 0 {
				acc := loadD(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc += r.d(a1, i)
				}
				storeD(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setD(d, i, r.d(d, i)+r.d(a1, i))
				}
			}
		case OpSumCCN:
			if mode&modeReductionInner != 0 {
				acc := loadC(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc += r.c(a1, i)
				}
				storeC(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setC(d, i, r.c(d, i)+r.c(a1, i))
				}
			}

		case OpProdIIN:
			if mode&modeReductionInner != 0 {
				acc := loadI(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc *= r.i(a1, i)
				}
				storeI(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setI(d, i, r.i(d, i)*r.i(a1, i))
				}
			}
		case OpProdLLN:
			if mode&modeReductionInner != 0 {
				acc := loadL(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc *= r.l(a1, i)
				}
				storeL(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setL(d, i, r.l(d, i)*r.l(a1, i))
				}
			}
		case OpProdFFN:
			if mode&modeReductionInner != 0 {
				acc := loadF(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc *= r.f(a1, i)
				}
				storeF(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setF(d, i, r.f(d, i)*r.f(a1, i))
				}
			}
		case OpProdDDN:
			if mode&modeReductionInner != 0 {
				acc := loadD(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc *= r.d(a1, i)
				}
				storeD(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setD(d, i, r.d(d, i)*r.d(a1, i))
				}
			}
		case OpProdCCN:
			if mode&modeReductionInner != 0 {
				acc := loadC(r.mem[d], r.offs[d])
				for i := 0; i < n; i++ {
					acc *= r.c(a1, i)
				}
				storeC(r.mem[d], r.offs[d], acc)
			} else {
				for i := 0; i < n; i++ {
					r.setC(d, i, r.c(d, i)*r.c(a1, i))
				}
			}

		default:
			return codeBadOpcode, pc
		}
	}
	return codeOK, -1
}

// execBlockDD tries the whole-block float64 kernel for a func_ddn
// instruction. It applies only when both registers are contiguous and
// 8-aligned within their buffers; otherwise the caller falls back to the
// element loop.
func execBlockDD(r *regs, n, d, a, fc int) bool {
	blockFn := funcs.DDBlock[fc]
	if blockFn == nil || n == 0 {
		return false
	}
	doff, aoff := r.offs[d], r.offs[a]
	if r.steps[d] != 8 || r.steps[a] != 8 || doff%8 != 0 || aoff%8 != 0 {
		return false
	}
	dst := unsafe.Slice((*float64)(unsafe.Pointer(&r.mem[d][doff])), n)
	src := unsafe.Slice((*float64)(unsafe.Pointer(&r.mem[a][aoff])), n)
	blockFn(dst, src)
	return true
}
