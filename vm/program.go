package vm

import "fmt"

// ---------------------------------------------------------------------------
// Program: a compiled, validated expression
// ---------------------------------------------------------------------------

// Program is an immutable compiled expression: the instruction stream plus
// the type-signature strings describing its register file. Register 0 is
// the output; registers 1..NInputs are inputs; the next NConstants are
// compile-time constants; the rest are scratch temporaries.
//
// A Program is produced once by an external front end (or the Builder),
// validated once, and reused across arbitrarily many Run calls.
type Program struct {
	Code      []byte
	FullSig   string   // one tag per register, in layout order
	InSig     string   // tags of the input registers only
	Constants [][]byte // one single-element payload per constant register

	memSizes  []int // element byte size per register; 0 for unresolved strings
	validated bool
}

// NewProgram assembles and validates a program. fullSig describes every
// register; inSig must be the input slice of fullSig. Each constant payload
// supplies one element for the corresponding constant register; a string
// constant's width is the payload length.
func NewProgram(code []byte, fullSig, inSig string, constants ...[][]byte) (*Program, error) {
	var consts [][]byte
	if len(constants) > 0 {
		consts = constants[0]
	}
	p := &Program{
		Code:      code,
		FullSig:   fullSig,
		InSig:     inSig,
		Constants: consts,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// NInputs returns the number of input registers.
func (p *Program) NInputs() int { return len(p.InSig) }

// NConstants returns the number of constant registers.
func (p *Program) NConstants() int { return len(p.Constants) }

// NTemps returns the number of temporary registers.
func (p *Program) NTemps() int {
	return len(p.FullSig) - 1 - p.NInputs() - p.NConstants()
}

// REnd returns the register count, one past the last valid register index.
func (p *Program) REnd() int { return len(p.FullSig) }

// lastOpcode returns the opcode byte of the final instruction slot, without
// skipping trailing no-ops. A reduction instruction, being three operands
// wide, always occupies the final slot itself.
func (p *Program) lastOpcode() Opcode {
	if len(p.Code) < 4 {
		return OpNoop
	}
	return Opcode(p.Code[len(p.Code)-4])
}

// IsReduction reports whether the program ends in a reduction instruction.
func (p *Program) IsReduction() bool {
	return p.lastOpcode().IsReduction()
}

// ReturnSignature scans backward past trailing no-op slots and returns the
// result-type tag of the last real instruction, or TagInvalid when the
// program is empty, all no-ops, or malformed. Callers must treat TagInvalid
// as "cannot be executed as a returning expression".
func (p *Program) ReturnSignature() byte {
	end := len(p.Code)
	for {
		end -= 4
		if end < 0 {
			return TagInvalid
		}
		if Opcode(p.Code[end]) != OpNoop {
			break
		}
	}
	sig := opSignature(Opcode(p.Code[end]), 0)
	if sig <= 0 {
		return TagInvalid
	}
	return byte(sig)
}

// ReductionAxis decodes the trailing byte of the program: FullReduction for
// a reduction over all axes, otherwise an axis index, with byte values at or
// above MaxDims reinterpreted as MaxDims - value. The result is meaningful
// only when IsReduction reports true; out-of-range results are rejected at
// run time, not here.
func (p *Program) ReductionAxis() int {
	if len(p.Code) == 0 {
		return FullReduction
	}
	axis := int(p.Code[len(p.Code)-1])
	if axis != FullReduction && axis >= MaxDims {
		axis = MaxDims - axis
	}
	return axis
}

// tagOf returns the declared type tag of register r.
func (p *Program) tagOf(r int) byte { return p.FullSig[r] }

// buildMemSizes computes the per-register element sizes that are knowable
/// without caller arrays: everything except input/output string widths,
// which are resolved per call.
func (p *Program) buildMemSizes() error {
	sizes := make([]int, len(p.FullSig))
	nin := p.NInputs()
	for r := 0; r < len(p.FullSig); r++ {
		tag := p.FullSig[r]
		if tag != TagString {
			sizes[r] = TagSize(tag)
			continue
		}
		switch {
		case r == 0 || r <= nin:
			// Output and input string widths come from caller arrays.
			sizes[r] = 0
		case r < 1+nin+p.NConstants():
			sizes[r] = len(p.Constants[r-1-nin])
		default:
			return &ValidationError{PC: -1, Rule: "string temporaries are not supported"}
		}
	}
	p.memSizes = sizes
	return nil
}

// checkLayout verifies the register-layout bookkeeping the signatures imply.
func (p *Program) checkLayout() error {
	if len(p.FullSig) == 0 {
		return &ValidationError{PC: -1, Rule: "empty fullsig"}
	}
	if len(p.FullSig) > 255 {
		return &ValidationError{PC: -1, Rule: "too many buffers"}
	}
	nin := len(p.InSig)
	if 1+nin+len(p.Constants) > len(p.FullSig) {
		return &ValidationError{PC: -1, Rule: "signature does not fit fullsig"}
	}
	if p.FullSig[1:1+nin] != p.InSig {
		return &ValidationError{PC: -1, Rule: "signature does not match fullsig inputs"}
	}
	k := 1 + nin
	for j, c := range p.Constants {
		tag := p.FullSig[k+j]
		if tag == TagString {
			continue
		}
		if len(c) != TagSize(tag) {
			return &ValidationError{PC: -1,
				Rule: fmt.Sprintf("constant %d payload is %d bytes, want %d", j, len(c), TagSize(tag))}
		}
	}
	return nil
}
