package vm

import (
	"fmt"

	"github.com/mindw/numexpr/funcs"
)

// Validate walks the instruction stream once and checks every structural
// and type-consistency rule the executor will rely on afterwards:
//
//  1. the program length is a multiple of 4;
//  2. every opcode byte has a descriptor and its operand bytes are present
//     (a double-wide opcode may not sit in the final slot);
//  3. every register operand addresses a register below REnd;
//  4. every operand's expected tag matches the addressed register's
//     declared tag, except that 'i' and 'l' are mutually compatible;
//  5. count operands are bounds-checked against the function table the
//     opcode selects;
//  6. a reduction instruction may only be the last one.
//
// Validation fails on the first violation with the offending byte offset
// and does not attempt recovery. A program that validates here executes
// without runtime bounds errors.
func (p *Program) Validate() error {
	if len(p.Code)%4 != 0 {
		return &ValidationError{PC: -1, Rule: "program length not a multiple of 4"}
	}
	if err := p.checkLayout(); err != nil {
		return err
	}
	rEnd := len(p.FullSig)

	for pc := 0; pc < len(p.Code); pc += 4 {
		op := Opcode(p.Code[pc])
		if op == OpNoop {
			continue
		}
		if op >= OpReduction && pc != len(p.Code)-4 {
			return &ValidationError{PC: pc, Rule: "reduction operations must occur last"}
		}
		for argno := 0; ; argno++ {
			sig := opSignature(op, argno)
			if sig == -1 {
				return &ValidationError{PC: pc, Rule: fmt.Sprintf("illegal opcode %d", byte(op))}
			}
			if sig == 0 {
				break
			}
			argloc := pc + argno + 1
			if argno >= 3 {
				if pc+4 >= len(p.Code) {
					return &ValidationError{PC: pc, Rule: fmt.Sprintf("double-wide opcode %s at end of program", op)}
				}
				argloc = pc + argno + 2
			}
			arg := int(p.Code[argloc])

			if byte(sig) != TagCount && arg >= rEnd {
				return &ValidationError{PC: argloc, Rule: fmt.Sprintf("register out of range (%d)", arg)}
			}
			if byte(sig) == TagCount {
				if err := checkFuncCode(op, arg, argloc); err != nil {
					return err
				}
				continue
			}
			// The ('i','l') duality: 32- and 64-bit integer registers are
			// interchangeable at validation time.
			declared := p.FullSig[arg]
			if (byte(sig) == TagLong && declared == TagInt) ||
				(byte(sig) == TagInt && declared == TagLong) {
				continue
			}
			if byte(sig) != declared {
				return &ValidationError{PC: argloc,
					Rule: fmt.Sprintf("opcode signature doesn't match register (%c vs %c)", sig, declared)}
			}
		}
	}
	if err := p.buildMemSizes(); err != nil {
		return err
	}
	p.validated = true
	return nil
}

// checkFuncCode bounds-checks a count operand against the function table
// selected by the opcode. Reduction opcodes carry the axis byte in a count
// slot; it is decoded elsewhere and unchecked here.
func checkFuncCode(op Opcode, arg, argloc int) error {
	var last int
	switch op {
	case OpFuncFFN:
		last = funcs.FFLast
	case OpFuncFFFN:
		last = funcs.FFFLast
	case OpFuncDDN:
		last = funcs.DDLast
	case OpFuncDDDN:
		last = funcs.DDDLast
	case OpFuncCCN:
		last = funcs.CCLast
	case OpFuncCCCN:
		last = funcs.CCCLast
	default:
		if op > OpReduction {
			return nil
		}
		return &ValidationError{PC: argloc, Rule: "internal checker error"}
	}
	if arg >= last {
		return &ValidationError{PC: argloc, Rule: fmt.Sprintf("funccode out of range (%d)", arg)}
	}
	return nil
}
