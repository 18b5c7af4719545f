package vm

import (
	"bytes"
	"math"
	"testing"

	"github.com/mindw/numexpr/axes"
	"github.com/mindw/numexpr/funcs"
)

func serialEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(Options{Threads: 1, BlockSize: 64})
	t.Cleanup(e.Close)
	return e
}

// ---------------------------------------------------------------------------
// Element-wise evaluation
// ---------------------------------------------------------------------------

func TestRunAddDouble(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpAddDDD, 0, 1, 2).MustBytes(), "ddd", "dd")

	a := axes.Float64s([]float64{1, 2, 3})
	b := axes.Float64s([]float64{10, 20, 30})
	out := axes.New(8, 3)
	if err := e.Run(p, out, a, b); err != nil {
		t.Fatal(err)
	}
	want := []float64{11, 22, 33}
	for i, v := range out.Float64Values() {
		if v != want[i] {
			t.Errorf("out[%d] = %g, want %g", i, v, want[i])
		}
	}
}

func TestRunExpressionWithConstantAndTemp(t *testing.T) {
	// out = 2*a + b
	e := serialEngine(t)
	code := (&Builder{}).
		Emit(OpMulDDD, 4, 1, 3).
		Emit(OpAddDDD, 0, 4, 2).
		MustBytes()
	p := mustValidate(t, code, "ddddd", "dd", [][]byte{f64bytes(2)})

	a := axes.Float64s([]float64{1, 2, 3, 4})
	b := axes.Float64s([]float64{0.5, 0.5, 0.5, 0.5})
	out := axes.New(8, 4)
	if err := e.Run(p, out, a, b); err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Float64Values() {
		want := 2*float64(i+1) + 0.5
		if v != want {
			t.Errorf("out[%d] = %g, want %g", i, v, want)
		}
	}
}

func TestRunBlockSizeInvariance(t *testing.T) {
	// Same expression evaluated with pathological block sizes must agree
	// element for element.
	vals := make([]float64, 503)
	for i := range vals {
		vals[i] = float64(i) * 0.25
	}
	a := axes.Float64s(vals)
	code := (&Builder{}).
		Emit(OpMulDDD, 2, 1, 1).
		Emit(OpAddDDD, 0, 2, 1).
		MustBytes()
	p := mustValidate(t, code, "ddd", "d")

	var ref []float64
	for _, bs := range []int{1, 3, 64, 4096} {
		e := New(Options{Threads: 1, BlockSize: bs})
		out := axes.New(8, len(vals))
		err := e.Run(p, out, a)
		e.Close()
		if err != nil {
			t.Fatalf("block size %d: %v", bs, err)
		}
		got := out.Float64Values()
		if ref == nil {
			ref = got
			continue
		}
		for i := range got {
			if got[i] != ref[i] {
				t.Fatalf("block size %d: out[%d] = %g, want %g", bs, i, got[i], ref[i])
			}
		}
	}
}

func TestRunIntegerDivModByZero(t *testing.T) {
	e := serialEngine(t)
	div := mustValidate(t, (&Builder{}).Emit(OpDivIII, 0, 1, 2).MustBytes(), "iii", "ii")
	mod := mustValidate(t, (&Builder{}).Emit(OpModIII, 0, 1, 2).MustBytes(), "iii", "ii")

	a := axes.Int32s([]int32{7, -9, 5})
	b := axes.Int32s([]int32{2, 0, -5})
	out := axes.New(4, 3)

	if err := e.Run(div, out, a, b); err != nil {
		t.Fatal(err)
	}
	wantDiv := []int32{3, 0, -1}
	for i, v := range out.Int32Values() {
		if v != wantDiv[i] {
			t.Errorf("div[%d] = %d, want %d", i, v, wantDiv[i])
		}
	}

	if err := e.Run(mod, out, a, b); err != nil {
		t.Fatal(err)
	}
	wantMod := []int32{1, 0, 0}
	for i, v := range out.Int32Values() {
		if v != wantMod[i] {
			t.Errorf("mod[%d] = %d, want %d", i, v, wantMod[i])
		}
	}
}

func TestRunWhere(t *testing.T) {
	e := serialEngine(t)
	code := (&Builder{}).Emit(OpWhereDBDD, 0, 1, 2, 3).MustBytes()
	p := mustValidate(t, code, "dbdd", "bdd")

	cond := axes.Bools([]bool{true, false, true, false})
	x := axes.Float64s([]float64{1, 2, 3, 4})
	y := axes.Float64s([]float64{-1, -2, -3, -4})
	out := axes.New(8, 4)
	if err := e.Run(p, out, cond, x, y); err != nil {
		t.Fatal(err)
	}
	want := []float64{1, -2, 3, -4}
	for i, v := range out.Float64Values() {
		if v != want[i] {
			t.Errorf("out[%d] = %g, want %g", i, v, want[i])
		}
	}
}

func TestRunComparisonsAndLogic(t *testing.T) {
	// out = (a > b) & !(a == b)
	e := serialEngine(t)
	code := (&Builder{}).
		Emit(OpGtBDD, 3, 1, 2).
		Emit(OpEqBDD, 4, 1, 2).
		Emit(OpInvertBB, 4, 4).
		Emit(OpAndBBB, 0, 3, 4).
		MustBytes()
	p := mustValidate(t, code, "bddbb", "dd")

	a := axes.Float64s([]float64{1, 2, 2})
	b := axes.Float64s([]float64{2, 2, 1})
	out := axes.New(1, 3)
	if err := e.Run(p, out, a, b); err != nil {
		t.Fatal(err)
	}
	want := []bool{false, false, true}
	for i, v := range out.BoolValues() {
		if v != want[i] {
			t.Errorf("out[%d] = %t, want %t", i, v, want[i])
		}
	}
}

func TestRunCastChain(t *testing.T) {
	// out(float64) = float64(int32 input)
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpCastDI, 0, 1).MustBytes(), "di", "i")
	a := axes.Int32s([]int32{-3, 0, 12})
	out := axes.New(8, 3)
	if err := e.Run(p, out, a); err != nil {
		t.Fatal(err)
	}
	want := []float64{-3, 0, 12}
	for i, v := range out.Float64Values() {
		if v != want[i] {
			t.Errorf("out[%d] = %g, want %g", i, v, want[i])
		}
	}
}

func TestRunCopyVariants(t *testing.T) {
	e := serialEngine(t)
	tests := []struct {
		name    string
		op      Opcode
		fullsig string
		in      *axes.Array
	}{
		{"bool", OpCopyBB, "bb", axes.Bools([]bool{true, false, true, true})},
		{"int32", OpCopyII, "ii", axes.Int32s([]int32{-7, 0, 1 << 20})},
		{"int64", OpCopyLL, "ll", axes.Int64s([]int64{-1, 9, 1 << 40})},
		{"float32", OpCopyFF, "ff", axes.Float32s([]float32{-0.5, 3.25, 8})},
		{"float64", OpCopyDD, "dd", axes.Float64s([]float64{1.5, -2.25, 1e300})},
		{"complex", OpCopyCC, "cc", axes.Complex128s([]complex128{1 + 2i, -3i, 4})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustValidate(t, (&Builder{}).Emit(tt.op, 0, 1).MustBytes(), tt.fullsig, tt.fullsig[1:])
			out := axes.New(tt.in.ItemSize, tt.in.Size())
			if err := e.Run(p, out, tt.in); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out.Data, tt.in.Data) {
				t.Errorf("copied bytes differ: got %x, want %x", out.Data, tt.in.Data)
			}
		})
	}
}

func TestRunCastVariants(t *testing.T) {
	// Each cast runs as a constant expression: one source constant, a single
	// output element compared against its little-endian encoding.
	e := serialEngine(t)
	tests := []struct {
		name    string
		op      Opcode
		fullsig string
		c       []byte
		want    []byte
	}{
		{"bool to int32", OpCastIB, "ib", []byte{1}, i32bytes(1)},
		{"int32 to int64", OpCastLI, "li", i32bytes(-7), i64bytes(-7)},
		{"int32 to float32", OpCastFI, "fi", i32bytes(3), f32bytes(3)},
		{"int64 to float32", OpCastFL, "fl", i64bytes(-2), f32bytes(-2)},
		{"int32 to float64", OpCastDI, "di", i32bytes(12), f64bytes(12)},
		{"int64 to float64", OpCastDL, "dl", i64bytes(1 << 40), f64bytes(1 << 40)},
		{"float32 to float64", OpCastDF, "df", f32bytes(2.5), f64bytes(2.5)},
		{"float64 to complex", OpCastCD, "cd", f64bytes(-1.5), c128bytes(complex(-1.5, 0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mustValidate(t, (&Builder{}).Emit(tt.op, 0, 1).MustBytes(), tt.fullsig, "", [][]byte{tt.c})
			out := axes.New(len(tt.want), 1)
			if err := e.Run(p, out); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(out.Data, tt.want) {
				t.Errorf("cast output = %x, want %x", out.Data, tt.want)
			}
		})
	}
}

func TestRunFuncApplication(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpFuncDDN, 0, 1, byte(funcs.FSqrt)).MustBytes(), "dd", "d")
	a := axes.Float64s([]float64{0, 1, 4, 9, 16})
	out := axes.New(8, 5)
	if err := e.Run(p, out, a); err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Float64Values() {
		if v != float64(i) {
			t.Errorf("sqrt out[%d] = %g, want %d", i, v, i)
		}
	}
}

func TestRunTwoArgFunc(t *testing.T) {
	e := serialEngine(t)
	code := (&Builder{}).Emit(OpFuncDDDN, 0, 1, 2, byte(funcs.F2Atan2)).MustBytes()
	p := mustValidate(t, code, "ddd", "dd")
	y := axes.Float64s([]float64{1, 0})
	x := axes.Float64s([]float64{1, 1})
	out := axes.New(8, 2)
	if err := e.Run(p, out, y, x); err != nil {
		t.Fatal(err)
	}
	got := out.Float64Values()
	if math.Abs(got[0]-math.Pi/4) > 1e-15 || got[1] != 0 {
		t.Errorf("atan2 = %v", got)
	}
}

func TestRunComplexArithmetic(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpMulCCC, 0, 1, 2).MustBytes(), "ccc", "cc")
	a := axes.Complex128s([]complex128{1 + 1i, 2i})
	b := axes.Complex128s([]complex128{1 - 1i, 3})
	out := axes.New(16, 2)
	if err := e.Run(p, out, a, b); err != nil {
		t.Fatal(err)
	}
	got := out.Complex128Values()
	if got[0] != 2 || got[1] != 6i {
		t.Errorf("complex mul = %v", got)
	}
}

func TestRunStringEquality(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpEqBSS, 0, 1, 2).MustBytes(), "bss", "ss")

	// Different widths: trailing NULs must not break equality.
	a := axes.Strings(4, []string{"ab", "cd", "xyz"})
	b := axes.Strings(6, []string{"ab", "ce", "xyz"})
	out := axes.New(1, 3)
	if err := e.Run(p, out, a, b); err != nil {
		t.Fatal(err)
	}
	want := []bool{true, false, true}
	for i, v := range out.BoolValues() {
		if v != want[i] {
			t.Errorf("eq[%d] = %t, want %t", i, v, want[i])
		}
	}
}

func TestRunStringInequality(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpNeBSS, 0, 1, 2).MustBytes(), "bss", "ss")

	a := axes.Strings(3, []string{"ab", "cd", "x"})
	b := axes.Strings(6, []string{"ab", "ce", "xy"})
	out := axes.New(1, 3)
	if err := e.Run(p, out, a, b); err != nil {
		t.Fatal(err)
	}
	want := []bool{false, true, true}
	for i, v := range out.BoolValues() {
		if v != want[i] {
			t.Errorf("ne[%d] = %t, want %t", i, v, want[i])
		}
	}
}

func TestRunStringCopy(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpCopySS, 0, 1).MustBytes(), "ss", "s")

	in := axes.Strings(5, []string{"alpha", "be", ""})
	out := axes.New(5, 3)
	if err := e.Run(p, out, in); err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha", "be", ""}
	for i, v := range out.StringValues() {
		if v != want[i] {
			t.Errorf("out[%d] = %q, want %q", i, v, want[i])
		}
	}
}

func TestRunStringCopyFromConstant(t *testing.T) {
	// The output width follows the copy's string constant even when the
	// first input register is numeric.
	e := serialEngine(t)
	code := (&Builder{}).Emit(OpCopySS, 0, 2).MustBytes()
	p := mustValidate(t, code, "sds", "d", [][]byte{[]byte("hi!")})

	out := axes.New(3, 4)
	if err := e.Run(p, out, axes.Float64s([]float64{1, 2, 3, 4})); err != nil {
		t.Fatal(err)
	}
	for i, v := range out.StringValues() {
		if v != "hi!" {
			t.Errorf("out[%d] = %q, want %q", i, v, "hi!")
		}
	}
}

// ---------------------------------------------------------------------------
// Broadcasting and aliasing
// ---------------------------------------------------------------------------

func TestRunBroadcastScalarOperand(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpMulDDD, 0, 1, 2).MustBytes(), "ddd", "dd")

	a := axes.Float64s([]float64{1, 2, 3, 4})
	scalar := axes.Float64s([]float64{10})
	scalar.Shape = nil
	scalar.Strides = nil
	out := axes.New(8, 4)
	if err := e.Run(p, out, a, scalar); err != nil {
		t.Fatal(err)
	}
	for i, v := range out.Float64Values() {
		if v != 10*float64(i+1) {
			t.Errorf("out[%d] = %g", i, v)
		}
	}
}

func TestRunBroadcastRowAcrossMatrix(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpAddDDD, 0, 1, 2).MustBytes(), "ddd", "dd")

	m, err := axes.Float64s([]float64{1, 2, 3, 4, 5, 6}).Reshape(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	row := axes.Float64s([]float64{10, 20, 30})
	out := axes.New(8, 2, 3)
	if err := e.Run(p, out, m, row); err != nil {
		t.Fatal(err)
	}
	want := []float64{11, 22, 33, 14, 25, 36}
	for i, v := range out.Float64Values() {
		if v != want[i] {
			t.Errorf("out[%d] = %g, want %g", i, v, want[i])
		}
	}
}

func TestRunOutputAliasesInput(t *testing.T) {
	// a = a + a must not read half-written output.
	e := New(Options{Threads: 1, BlockSize: 4})
	defer e.Close()
	p := mustValidate(t, (&Builder{}).Emit(OpAddDDD, 0, 1, 2).MustBytes(), "ddd", "dd")

	vals := make([]float64, 19)
	for i := range vals {
		vals[i] = float64(i)
	}
	a := axes.Float64s(vals)
	if err := e.Run(p, a, a, a); err != nil {
		t.Fatal(err)
	}
	for i, v := range a.Float64Values() {
		if v != 2*float64(i) {
			t.Errorf("out[%d] = %g, want %g", i, v, 2*float64(i))
		}
	}
}

// ---------------------------------------------------------------------------
// Reductions
// ---------------------------------------------------------------------------

func TestRunFullSum(t *testing.T) {
	e := New(Options{Threads: 1, BlockSize: 16})
	defer e.Close()
	p := mustValidate(t, (&Builder{}).Reduce(OpSumDDN, 0, 1, FullReduction).MustBytes(), "dd", "d")

	vals := make([]float64, 100)
	want := 0.0
	for i := range vals {
		vals[i] = float64(i)
		want += vals[i]
	}
	out := axes.New(8, 1)
	if err := e.Run(p, out, axes.Float64s(vals)); err != nil {
		t.Fatal(err)
	}
	if got := out.Float64Values()[0]; got != want {
		t.Errorf("sum = %g, want %g", got, want)
	}
}

func TestRunFullProduct(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Reduce(OpProdLLN, 0, 1, FullReduction).MustBytes(), "ll", "l")
	out := axes.New(8, 1)
	if err := e.Run(p, out, axes.Int64s([]int64{1, 2, 3, 4, 5})); err != nil {
		t.Fatal(err)
	}
	if got := out.Int64Values()[0]; got != 120 {
		t.Errorf("product = %d, want 120", got)
	}
}

func TestRunReductionTypeVariants(t *testing.T) {
	e := serialEngine(t)
	reduce := func(t *testing.T, op Opcode, sig string, itemSize int, in *axes.Array) *axes.Array {
		t.Helper()
		p := mustValidate(t, (&Builder{}).Reduce(op, 0, 1, FullReduction).MustBytes(), sig, sig[1:])
		out := axes.New(itemSize, 1)
		if err := e.Run(p, out, in); err != nil {
			t.Fatal(err)
		}
		return out
	}

	if got := reduce(t, OpSumLLN, "ll", 8, axes.Int64s([]int64{1 << 33, 2, 3})).Int64Values()[0]; got != 1<<33+5 {
		t.Errorf("sum_lln = %d", got)
	}
	if got := reduce(t, OpSumFFN, "ff", 4, axes.Float32s([]float32{0.5, 1.5, 2})).Float32Values()[0]; got != 4 {
		t.Errorf("sum_ffn = %g", got)
	}
	if got := reduce(t, OpSumCCN, "cc", 16, axes.Complex128s([]complex128{1 + 2i, 3 - 1i})).Complex128Values()[0]; got != 4+1i {
		t.Errorf("sum_ccn = %v", got)
	}
	if got := reduce(t, OpProdIIN, "ii", 4, axes.Int32s([]int32{2, 3, -4})).Int32Values()[0]; got != -24 {
		t.Errorf("prod_iin = %d", got)
	}
	if got := reduce(t, OpProdFFN, "ff", 4, axes.Float32s([]float32{2, 0.5, 8})).Float32Values()[0]; got != 8 {
		t.Errorf("prod_ffn = %g", got)
	}
	if got := reduce(t, OpProdDDN, "dd", 8, axes.Float64s([]float64{1.5, 4})).Float64Values()[0]; got != 6 {
		t.Errorf("prod_ddn = %g", got)
	}
	if got := reduce(t, OpProdCCN, "cc", 16, axes.Complex128s([]complex128{1 + 1i, 1 - 1i})).Complex128Values()[0]; got != 2 {
		t.Errorf("prod_ccn = %v", got)
	}
}

func TestRunSumOfExpression(t *testing.T) {
	// sum(a*b): the temp feeds the reduction.
	e := New(Options{Threads: 1, BlockSize: 8})
	defer e.Close()
	code := (&Builder{}).
		Emit(OpMulDDD, 3, 1, 2).
		Reduce(OpSumDDN, 0, 3, FullReduction).
		MustBytes()
	p := mustValidate(t, code, "dddd", "dd")

	n := 57
	av := make([]float64, n)
	bv := make([]float64, n)
	want := 0.0
	for i := range av {
		av[i] = float64(i)
		bv[i] = 1 / float64(i+1)
		want += av[i] * bv[i]
	}
	out := axes.New(8, 1)
	if err := e.Run(p, out, axes.Float64s(av), axes.Float64s(bv)); err != nil {
		t.Fatal(err)
	}
	if got := out.Float64Values()[0]; math.Abs(got-want) > 1e-9 {
		t.Errorf("sum = %g, want %g", got, want)
	}
}

// sumAxisRef computes a reference axis sum for a matrix given in row-major
// order.
func sumAxisRef(vals []float64, rows, cols, axis int) []float64 {
	var out []float64
	if axis == 0 {
		out = make([]float64, cols)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				out[c] += vals[r*cols+c]
			}
		}
	} else {
		out = make([]float64, rows)
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				out[r] += vals[r*cols+c]
			}
		}
	}
	return out
}

func TestRunAxisSum(t *testing.T) {
	// Both nesting strategies: a short reduced axis (rows=5) and a long one
	// (rows=100, past the strategy threshold).
	for _, rows := range []int{5, 100} {
		cols := 7
		vals := make([]float64, rows*cols)
		for i := range vals {
			vals[i] = float64(i%13) + 0.5
		}
		m, err := axes.Float64s(vals).Reshape(rows, cols)
		if err != nil {
			t.Fatal(err)
		}

		e := New(Options{Threads: 1, BlockSize: 16})
		p := mustValidate(t, (&Builder{}).Reduce(OpSumDDN, 0, 1, 0).MustBytes(), "dd", "d")
		out := axes.New(8, cols)
		err = e.Run(p, out, m)
		e.Close()
		if err != nil {
			t.Fatalf("rows=%d: %v", rows, err)
		}
		want := sumAxisRef(vals, rows, cols, 0)
		for i, v := range out.Float64Values() {
			if math.Abs(v-want[i]) > 1e-9 {
				t.Errorf("rows=%d: out[%d] = %g, want %g", rows, i, v, want[i])
			}
		}
	}
}

func TestRunAxisSumInnermost(t *testing.T) {
	rows, cols := 6, 70 // cols past the strategy threshold
	vals := make([]float64, rows*cols)
	for i := range vals {
		vals[i] = float64(i) * 0.5
	}
	m, err := axes.Float64s(vals).Reshape(rows, cols)
	if err != nil {
		t.Fatal(err)
	}

	e := New(Options{Threads: 1, BlockSize: 16})
	defer e.Close()
	p := mustValidate(t, (&Builder{}).Reduce(OpSumDDN, 0, 1, 1).MustBytes(), "dd", "d")
	out := axes.New(8, rows)
	if err := e.Run(p, out, m); err != nil {
		t.Fatal(err)
	}
	want := sumAxisRef(vals, rows, cols, 1)
	for i, v := range out.Float64Values() {
		if math.Abs(v-want[i]) > 1e-9 {
			t.Errorf("out[%d] = %g, want %g", i, v, want[i])
		}
	}
}

func TestRunAxisSumShortInner(t *testing.T) {
	// Short innermost axis goes through the outer-cursor-over-axis strategy.
	rows, cols := 4, 3
	vals := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	m, err := axes.Float64s(vals).Reshape(rows, cols)
	if err != nil {
		t.Fatal(err)
	}
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Reduce(OpSumDDN, 0, 1, 1).MustBytes(), "dd", "d")
	out := axes.New(8, rows)
	if err := e.Run(p, out, m); err != nil {
		t.Fatal(err)
	}
	want := []float64{6, 15, 24, 33}
	for i, v := range out.Float64Values() {
		if v != want[i] {
			t.Errorf("out[%d] = %g, want %g", i, v, want[i])
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	e := serialEngine(t)
	code := (&Builder{}).
		Emit(OpFuncDDN, 2, 1, byte(funcs.FSin)).
		Emit(OpMulDDD, 0, 2, 2).
		MustBytes()
	p := mustValidate(t, code, "ddd", "d")

	vals := make([]float64, 333)
	for i := range vals {
		vals[i] = float64(i) * 0.7
	}
	a := axes.Float64s(vals)
	first := axes.New(8, len(vals))
	second := axes.New(8, len(vals))
	if err := e.Run(p, first, a); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(p, second, a); err != nil {
		t.Fatal(err)
	}
	f, s := first.Float64Values(), second.Float64Values()
	for i := range f {
		if math.Float64bits(f[i]) != math.Float64bits(s[i]) {
			t.Fatalf("runs diverge at %d: %x vs %x", i, math.Float64bits(f[i]), math.Float64bits(s[i]))
		}
	}
}

func TestRunEmptyReductionYieldsIdentity(t *testing.T) {
	e := serialEngine(t)
	empty := axes.Float64s(nil)

	sum := mustValidate(t, (&Builder{}).Reduce(OpSumDDN, 0, 1, FullReduction).MustBytes(), "dd", "d")
	out := axes.Float64s([]float64{99})
	if err := e.Run(sum, out, empty); err != nil {
		t.Fatal(err)
	}
	if got := out.Float64Values()[0]; got != 0 {
		t.Errorf("empty sum = %g, want the additive identity", got)
	}

	prod := mustValidate(t, (&Builder{}).Reduce(OpProdDDN, 0, 1, FullReduction).MustBytes(), "dd", "d")
	out = axes.Float64s([]float64{99})
	if err := e.Run(prod, out, empty); err != nil {
		t.Fatal(err)
	}
	if got := out.Float64Values()[0]; got != 1 {
		t.Errorf("empty product = %g, want the multiplicative identity", got)
	}
}

func TestRunNegativeAxisConvention(t *testing.T) {
	// Axis byte MaxDims+1 decodes to -1, the last axis of this call. It must
	// match reducing that axis directly.
	vals := []float64{1, 2, 3, 4, 5, 6}
	m, err := axes.Float64s(vals).Reshape(2, 3)
	if err != nil {
		t.Fatal(err)
	}
	e := serialEngine(t)

	direct := mustValidate(t, (&Builder{}).Reduce(OpSumDDN, 0, 1, 1).MustBytes(), "dd", "d")
	wrapped := mustValidate(t, (&Builder{}).Reduce(OpSumDDN, 0, 1, MaxDims+1).MustBytes(), "dd", "d")

	a := axes.New(8, 2)
	if err := e.Run(direct, a, m); err != nil {
		t.Fatal(err)
	}
	b := axes.New(8, 2)
	if err := e.Run(wrapped, b, m); err != nil {
		t.Fatal(err)
	}
	av, bv := a.Float64Values(), b.Float64Values()
	for i := range av {
		if av[i] != bv[i] {
			t.Errorf("axis conventions disagree at %d: %g vs %g", i, av[i], bv[i])
		}
	}
	if av[0] != 6 || av[1] != 15 {
		t.Errorf("row sums = %v, want [6 15]", av)
	}
}

func TestRunReductionAxisOutOfBounds(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Reduce(OpSumDDN, 0, 1, 5).MustBytes(), "dd", "d")
	m, _ := axes.Float64s([]float64{1, 2, 3, 4}).Reshape(2, 2)
	out := axes.New(8, 2)
	err := e.Run(p, out, m)
	if _, ok := err.(*UnsupportedConfigError); !ok {
		t.Errorf("expected UnsupportedConfigError, got %v", err)
	}
}

func TestRunSingleAxisReductionIsFull(t *testing.T) {
	// Reducing axis 0 of a 1-d array is the same as a full reduction.
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Reduce(OpSumIIN, 0, 1, 0).MustBytes(), "ii", "i")
	out := axes.New(4, 1)
	if err := e.Run(p, out, axes.Int32s([]int32{1, 2, 3, 4})); err != nil {
		t.Fatal(err)
	}
	if got := out.Int32Values()[0]; got != 10 {
		t.Errorf("sum = %d, want 10", got)
	}
}

// ---------------------------------------------------------------------------
// Constant path and degenerate shapes
// ---------------------------------------------------------------------------

func TestRunConstantExpression(t *testing.T) {
	// out = 6 * 7 with no inputs at all.
	e := serialEngine(t)
	code := (&Builder{}).Emit(OpMulDDD, 0, 1, 2).MustBytes()
	p := mustValidate(t, code, "ddd", "", [][]byte{f64bytes(6), f64bytes(7)})

	out := axes.New(8, 1)
	if err := e.Run(p, out); err != nil {
		t.Fatal(err)
	}
	if got := out.Float64Values()[0]; got != 42 {
		t.Errorf("const result = %g, want 42", got)
	}

	big := axes.New(8, 2)
	if err := e.Run(p, big); err == nil {
		t.Error("expected error for multi-element constant output")
	}
}

func TestRunEmptyInput(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpCopyDD, 0, 1).MustBytes(), "dd", "d")
	out := axes.New(8, 0)
	if err := e.Run(p, out, axes.Float64s(nil)); err != nil {
		t.Fatalf("zero-length run should be a no-op, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Caller errors
// ---------------------------------------------------------------------------

func TestRunInputCountMismatch(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpAddDDD, 0, 1, 2).MustBytes(), "ddd", "dd")
	out := axes.New(8, 2)
	err := e.Run(p, out, axes.Float64s([]float64{1, 2}))
	if _, ok := err.(*UnsupportedConfigError); !ok {
		t.Errorf("expected UnsupportedConfigError, got %v", err)
	}
}

func TestRunInputElementSizeMismatch(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpCopyDD, 0, 1).MustBytes(), "dd", "d")
	out := axes.New(8, 2)
	err := e.Run(p, out, axes.Float32s([]float32{1, 2}))
	if _, ok := err.(*UnsupportedConfigError); !ok {
		t.Errorf("expected UnsupportedConfigError, got %v", err)
	}
}

func TestRunNoReturnValue(t *testing.T) {
	e := serialEngine(t)
	p := &Program{Code: []byte{byte(OpNoop), 0, 0, 0}, FullSig: "dd", InSig: "d"}
	if err := p.Validate(); err != nil {
		t.Fatal(err)
	}
	out := axes.New(8, 1)
	err := e.Run(p, out, axes.Float64s([]float64{1}))
	if _, ok := err.(*UnsupportedConfigError); !ok {
		t.Errorf("expected UnsupportedConfigError, got %v", err)
	}
}

func TestRunShapeMismatch(t *testing.T) {
	e := serialEngine(t)
	p := mustValidate(t, (&Builder{}).Emit(OpCopyDD, 0, 1).MustBytes(), "dd", "d")
	out := axes.New(8, 5)
	err := e.Run(p, out, axes.Float64s([]float64{1, 2, 3}))
	if _, ok := err.(*UnsupportedConfigError); !ok {
		t.Errorf("expected UnsupportedConfigError, got %v", err)
	}
}
