// Package funcs provides the numeric kernel tables consumed by the VM's
// function-application opcodes.
//
// Each opcode family (FF, FFF, DD, DDD, CC, CCC) has its own table, indexed
// by the function code embedded in the instruction stream. The first letter
// pair names the result and argument element types (f = float32, d = float64,
// c = complex128); a trailing letter means a second argument of that type.
// Function codes are bounds-checked at program-validation time against the
// *Last constants, never at execution time.
package funcs

import (
	"math"
	"math/cmplx"
)

// ---------------------------------------------------------------------------
// Function codes
// ---------------------------------------------------------------------------

// One-argument real function codes, shared by the FF and DD tables.
const (
	FSin = iota
	FCos
	FTan
	FAsin
	FAcos
	FAtan
	FSinh
	FCosh
	FTanh
	FExp
	FExpm1
	FLog
	FLog10
	FLog1p
	FSqrt
	FAbs
	FCeil
	FFloor
	ffLast
)

// Two-argument real function codes, shared by the FFF and DDD tables.
const (
	F2Atan2 = iota
	F2Fmod
	F2Pow
	fffLast
)

// One-argument complex function codes for the CC table.
const (
	CSqrt = iota
	CSin
	CCos
	CTan
	CExp
	CExpm1
	CLog
	CLog1p
	CAbs
	CConj
	ccLast
)

// Two-argument complex function codes for the CCC table.
const (
	C2Pow = iota
	cccLast
)

// Table bounds used by the program validator.
const (
	FFLast  = ffLast
	FFFLast = fffLast
	DDLast  = ffLast
	DDDLast = fffLast
	CCLast  = ccLast
	CCCLast = cccLast
)

// ---------------------------------------------------------------------------
// Scalar kernel tables
// ---------------------------------------------------------------------------

// DD holds the one-argument float64 kernels.
var DD = [DDLast]func(float64) float64{
	FSin:   math.Sin,
	FCos:   math.Cos,
	FTan:   math.Tan,
	FAsin:  math.Asin,
	FAcos:  math.Acos,
	FAtan:  math.Atan,
	FSinh:  math.Sinh,
	FCosh:  math.Cosh,
	FTanh:  math.Tanh,
	FExp:   math.Exp,
	FExpm1: math.Expm1,
	FLog:   math.Log,
	FLog10: math.Log10,
	FLog1p: math.Log1p,
	FSqrt:  math.Sqrt,
	FAbs:   math.Abs,
	FCeil:  math.Ceil,
	FFloor: math.Floor,
}

// DDD holds the two-argument float64 kernels.
var DDD = [DDDLast]func(float64, float64) float64{
	F2Atan2: math.Atan2,
	F2Fmod:  math.Mod,
	F2Pow:   math.Pow,
}

// FF holds the one-argument float32 kernels. They are thin wrappers over the
// float64 table; a platform with a real single-precision math library can
// swap these out without touching the VM.
var FF [FFLast]func(float32) float32

// FFF holds the two-argument float32 kernels.
var FFF [FFFLast]func(float32, float32) float32

func init() {
	for i, f := range DD {
		f := f
		FF[i] = func(x float32) float32 { return float32(f(float64(x))) }
	}
	for i, f := range DDD {
		f := f
		FFF[i] = func(x, y float32) float32 { return float32(f(float64(x), float64(y))) }
	}
}

// CC holds the one-argument complex128 kernels.
var CC = [CCLast]func(complex128) complex128{
	CSqrt:  cmplx.Sqrt,
	CSin:   cmplx.Sin,
	CCos:   cmplx.Cos,
	CTan:   cmplx.Tan,
	CExp:   cmplx.Exp,
	CExpm1: func(x complex128) complex128 { return cmplx.Exp(x) - 1 },
	CLog:   cmplx.Log,
	CLog1p: func(x complex128) complex128 { return cmplx.Log(x + 1) },
	// Abs keeps the complex element type: the magnitude lands in the real
	// part and the imaginary part is zeroed.
	CAbs:  func(x complex128) complex128 { return complex(cmplx.Abs(x), 0) },
	CConj: func(x complex128) complex128 { return complex(real(x), -imag(x)) },
}

// CCC holds the two-argument complex128 kernels.
var CCC = [CCCLast]func(complex128, complex128) complex128{
	C2Pow: cmplx.Pow,
}

// ---------------------------------------------------------------------------
// Block-capable kernel variants
// ---------------------------------------------------------------------------

// DDBlock holds whole-block float64 kernels, indexed like DD. A nil entry
// means only the scalar form exists and the executor falls back to an
// element loop. dst and src have equal length and may alias.
var DDBlock [DDLast]func(dst, src []float64)

func init() {
	DDBlock[FSqrt] = func(dst, src []float64) {
		for i, x := range src {
			dst[i] = math.Sqrt(x)
		}
	}
	DDBlock[FExp] = func(dst, src []float64) {
		for i, x := range src {
			dst[i] = math.Exp(x)
		}
	}
	DDBlock[FAbs] = func(dst, src []float64) {
		for i, x := range src {
			dst[i] = math.Abs(x)
		}
	}
}
