package funcs

import (
	"math"
	"testing"
)

func TestTablesFullyPopulated(t *testing.T) {
	for i, f := range DD {
		if f == nil {
			t.Errorf("DD[%d] is nil", i)
		}
	}
	for i, f := range FF {
		if f == nil {
			t.Errorf("FF[%d] is nil", i)
		}
	}
	for i, f := range DDD {
		if f == nil {
			t.Errorf("DDD[%d] is nil", i)
		}
	}
	for i, f := range FFF {
		if f == nil {
			t.Errorf("FFF[%d] is nil", i)
		}
	}
	for i, f := range CC {
		if f == nil {
			t.Errorf("CC[%d] is nil", i)
		}
	}
	for i, f := range CCC {
		if f == nil {
			t.Errorf("CCC[%d] is nil", i)
		}
	}
}

func TestFFMatchesDD(t *testing.T) {
	// The float32 table is derived from the float64 kernels; spot-check that
	// the wrapping kept the math.
	inputs := []float32{0, 0.5, 1, 2}
	for code := 0; code < FFLast; code++ {
		for _, x := range inputs {
			got := float64(FF[code](x))
			want := DD[code](float64(x))
			if math.IsNaN(want) {
				if !math.IsNaN(got) {
					t.Errorf("FF[%d](%g) = %g, want NaN", code, x, got)
				}
				continue
			}
			if math.Abs(got-want) > 1e-5*(1+math.Abs(want)) {
				t.Errorf("FF[%d](%g) = %g, want %g", code, x, got, want)
			}
		}
	}
}

func TestDDBlockMatchesScalar(t *testing.T) {
	src := []float64{0.25, 1, 2, 9}
	for code, blockFn := range DDBlock {
		if blockFn == nil {
			continue
		}
		dst := make([]float64, len(src))
		blockFn(dst, src)
		for i, x := range src {
			want := DD[code](x)
			if dst[i] != want && !(math.IsNaN(dst[i]) && math.IsNaN(want)) {
				t.Errorf("DDBlock[%d](%g) = %g, want %g", code, x, dst[i], want)
			}
		}
	}
}

func TestComplexKernels(t *testing.T) {
	if got := CC[CConj](3 + 4i); got != 3-4i {
		t.Errorf("conj(3+4i) = %v", got)
	}
	if got := CC[CAbs](3 + 4i); got != 5 {
		t.Errorf("abs(3+4i) = %v, want 5", got)
	}
	if got := CCC[C2Pow](2, 3); math.Abs(real(got)-8) > 1e-12 || math.Abs(imag(got)) > 1e-12 {
		t.Errorf("pow(2,3) = %v, want 8", got)
	}
}

func TestTwoArgKernels(t *testing.T) {
	if got := DDD[F2Atan2](1, 1); math.Abs(got-math.Pi/4) > 1e-15 {
		t.Errorf("atan2(1,1) = %g", got)
	}
	if got := DDD[F2Fmod](7, 3); got != 1 {
		t.Errorf("fmod(7,3) = %g", got)
	}
	if got := DDD[F2Pow](2, 10); got != 1024 {
		t.Errorf("pow(2,10) = %g", got)
	}
}
