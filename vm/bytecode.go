package vm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Type tags
// ---------------------------------------------------------------------------

// Type tags name the element type of a register or operand. TagCount marks
// an operand that is an embedded integer literal (a function-table index or
// the reduction axis) rather than a register reference. TagInvalid is the
// sentinel returned for programs with no returning instruction.
const (
	TagBool    byte = 'b' // 1-byte boolean
	TagInt     byte = 'i' // 32-bit signed integer
	TagLong    byte = 'l' // 64-bit signed integer
	TagFloat   byte = 'f' // 32-bit float
	TagDouble  byte = 'd' // 64-bit float
	TagComplex byte = 'c' // complex128
	TagString  byte = 's' // fixed-width byte string
	TagCount   byte = 'n' // embedded literal, not a register
	TagInvalid byte = 'X'
)

// TagSize returns the element byte size for a tag, or 0 for strings (whose
// width is per-register) and non-register tags.
func TagSize(tag byte) int {
	switch tag {
	case TagBool:
		return 1
	case TagInt, TagFloat:
		return 4
	case TagLong, TagDouble:
		return 8
	case TagComplex:
		return 16
	default:
		return 0
	}
}

// MaxDims is the maximum number of array dimensions. The reduction-axis byte
// reserves 255 for "all axes" and reinterprets values >= MaxDims as
// MaxDims - value.
const MaxDims = 32

// FullReduction is the axis byte meaning "reduce over all axes".
const FullReduction = 255

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode identifies a single instruction. The numeric order is load-bearing:
// every opcode greater than OpReduction is a reduction, and within the
// reduction range the sum family ends where the product family begins.
type Opcode byte

const (
	OpNoop Opcode = iota

	// Copies
	OpCopyBB
	OpCopyII
	OpCopyLL
	OpCopyFF
	OpCopyDD
	OpCopyCC
	OpCopySS

	// Boolean logic
	OpInvertBB
	OpAndBBB
	OpOrBBB

	// Comparisons (boolean result)
	OpGtBII
	OpGeBII
	OpEqBII
	OpNeBII
	OpGtBLL
	OpGeBLL
	OpEqBLL
	OpNeBLL
	OpGtBFF
	OpGeBFF
	OpEqBFF
	OpNeBFF
	OpGtBDD
	OpGeBDD
	OpEqBDD
	OpNeBDD
	OpEqBSS
	OpNeBSS

	// Arithmetic
	OpAddIII
	OpSubIII
	OpMulIII
	OpDivIII
	OpAddLLL
	OpSubLLL
	OpMulLLL
	OpDivLLL
	OpAddFFF
	OpSubFFF
	OpMulFFF
	OpDivFFF
	OpAddDDD
	OpSubDDD
	OpMulDDD
	OpDivDDD
	OpAddCCC
	OpSubCCC
	OpMulCCC
	OpDivCCC
	OpNegII
	OpNegLL
	OpNegFF
	OpNegDD
	OpNegCC
	OpModIII
	OpModLLL
	OpModFFF
	OpModDDD
	OpPowFFF
	OpPowDDD
	OpSqrtFF
	OpSqrtDD
	OpAbsII
	OpAbsLL
	OpAbsFF
	OpAbsDD

	// Ternary select (double-wide encoding)
	OpWhereIBII
	OpWhereLBLL
	OpWhereFBFF
	OpWhereDBDD

	// Casts (destination tag first)
	OpCastIB
	OpCastLI
	OpCastFI
	OpCastFL
	OpCastDI
	OpCastDL
	OpCastDF
	OpCastCD

	// Function application via the funcs tables
	OpFuncFFN
	OpFuncDDN
	OpFuncCCN
	OpFuncFFFN
	OpFuncDDDN
	OpFuncCCCN

	// OpReduction is a marker, never a real instruction: op > OpReduction
	// identifies a reduction program.
	OpReduction

	// Sum family (accumulator seeded with 0)
	OpSumIIN
	OpSumLLN
	OpSumFFN
	OpSumDDN
	OpSumCCN

	// Product family (accumulator seeded with 1)
	OpProdIIN
	OpProdLLN
	OpProdFFN
	OpProdDDN
	OpProdCCN

	opLast
)

// IsReduction reports whether op collapses an axis into an accumulator.
func (op Opcode) IsReduction() bool {
	return op > OpReduction && op < opLast
}

// IsSumReduction reports whether op belongs to the sum family, whose
// accumulation unit is the additive identity. Reduction opcodes outside the
// sum range belong to the product family.
func (op Opcode) IsSumReduction() bool {
	return op >= OpSumIIN && op < OpProdIIN
}

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds the static descriptor for one opcode: its mnemonic and
// the type signature of its result and operands. Sig[0] is the result tag;
// Sig[1..3] are operand tags, zero-terminated. Opcodes whose signature uses
// all four slots are double-wide: the fourth operand byte lives in the
// following instruction slot.
type OpcodeInfo struct {
	Name string
	Sig  [4]byte
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNoop: {"noop", [4]byte{}},

	OpCopyBB: {"copy_bb", [4]byte{'b', 'b'}},
	OpCopyII: {"copy_ii", [4]byte{'i', 'i'}},
	OpCopyLL: {"copy_ll", [4]byte{'l', 'l'}},
	OpCopyFF: {"copy_ff", [4]byte{'f', 'f'}},
	OpCopyDD: {"copy_dd", [4]byte{'d', 'd'}},
	OpCopyCC: {"copy_cc", [4]byte{'c', 'c'}},
	OpCopySS: {"copy_ss", [4]byte{'s', 's'}},

	OpInvertBB: {"invert_bb", [4]byte{'b', 'b'}},
	OpAndBBB:   {"and_bbb", [4]byte{'b', 'b', 'b'}},
	OpOrBBB:    {"or_bbb", [4]byte{'b', 'b', 'b'}},

	OpGtBII: {"gt_bii", [4]byte{'b', 'i', 'i'}},
	OpGeBII: {"ge_bii", [4]byte{'b', 'i', 'i'}},
	OpEqBII: {"eq_bii", [4]byte{'b', 'i', 'i'}},
	OpNeBII: {"ne_bii", [4]byte{'b', 'i', 'i'}},
	OpGtBLL: {"gt_bll", [4]byte{'b', 'l', 'l'}},
	OpGeBLL: {"ge_bll", [4]byte{'b', 'l', 'l'}},
	OpEqBLL: {"eq_bll", [4]byte{'b', 'l', 'l'}},
	OpNeBLL: {"ne_bll", [4]byte{'b', 'l', 'l'}},
	OpGtBFF: {"gt_bff", [4]byte{'b', 'f', 'f'}},
	OpGeBFF: {"ge_bff", [4]byte{'b', 'f', 'f'}},
	OpEqBFF: {"eq_bff", [4]byte{'b', 'f', 'f'}},
	OpNeBFF: {"ne_bff", [4]byte{'b', 'f', 'f'}},
	OpGtBDD: {"gt_bdd", [4]byte{'b', 'd', 'd'}},
	OpGeBDD: {"ge_bdd", [4]byte{'b', 'd', 'd'}},
	OpEqBDD: {"eq_bdd", [4]byte{'b', 'd', 'd'}},
	OpNeBDD: {"ne_bdd", [4]byte{'b', 'd', 'd'}},
	OpEqBSS: {"eq_bss", [4]byte{'b', 's', 's'}},
	OpNeBSS: {"ne_bss", [4]byte{'b', 's', 's'}},

	OpAddIII: {"add_iii", [4]byte{'i', 'i', 'i'}},
	OpSubIII: {"sub_iii", [4]byte{'i', 'i', 'i'}},
	OpMulIII: {"mul_iii", [4]byte{'i', 'i', 'i'}},
	OpDivIII: {"div_iii", [4]byte{'i', 'i', 'i'}},
	OpAddLLL: {"add_lll", [4]byte{'l', 'l', 'l'}},
	OpSubLLL: {"sub_lll", [4]byte{'l', 'l', 'l'}},
	OpMulLLL: {"mul_lll", [4]byte{'l', 'l', 'l'}},
	OpDivLLL: {"div_lll", [4]byte{'l', 'l', 'l'}},
	OpAddFFF: {"add_fff", [4]byte{'f', 'f', 'f'}},
	OpSubFFF: {"sub_fff", [4]byte{'f', 'f', 'f'}},
	OpMulFFF: {"mul_fff", [4]byte{'f', 'f', 'f'}},
	OpDivFFF: {"div_fff", [4]byte{'f', 'f', 'f'}},
	OpAddDDD: {"add_ddd", [4]byte{'d', 'd', 'd'}},
	OpSubDDD: {"sub_ddd", [4]byte{'d', 'd', 'd'}},
	OpMulDDD: {"mul_ddd", [4]byte{'d', 'd', 'd'}},
	OpDivDDD: {"div_ddd", [4]byte{'d', 'd', 'd'}},
	OpAddCCC: {"add_ccc", [4]byte{'c', 'c', 'c'}},
	OpSubCCC: {"sub_ccc", [4]byte{'c', 'c', 'c'}},
	OpMulCCC: {"mul_ccc", [4]byte{'c', 'c', 'c'}},
	OpDivCCC: {"div_ccc", [4]byte{'c', 'c', 'c'}},
	OpNegII:  {"neg_ii", [4]byte{'i', 'i'}},
	OpNegLL:  {"neg_ll", [4]byte{'l', 'l'}},
	OpNegFF:  {"neg_ff", [4]byte{'f', 'f'}},
	OpNegDD:  {"neg_dd", [4]byte{'d', 'd'}},
	OpNegCC:  {"neg_cc", [4]byte{'c', 'c'}},
	OpModIII: {"mod_iii", [4]byte{'i', 'i', 'i'}},
	OpModLLL: {"mod_lll", [4]byte{'l', 'l', 'l'}},
	OpModFFF: {"mod_fff", [4]byte{'f', 'f', 'f'}},
	OpModDDD: {"mod_ddd", [4]byte{'d', 'd', 'd'}},
	OpPowFFF: {"pow_fff", [4]byte{'f', 'f', 'f'}},
	OpPowDDD: {"pow_ddd", [4]byte{'d', 'd', 'd'}},
	OpSqrtFF: {"sqrt_ff", [4]byte{'f', 'f'}},
	OpSqrtDD: {"sqrt_dd", [4]byte{'d', 'd'}},
	OpAbsII:  {"abs_ii", [4]byte{'i', 'i'}},
	OpAbsLL:  {"abs_ll", [4]byte{'l', 'l'}},
	OpAbsFF:  {"abs_ff", [4]byte{'f', 'f'}},
	OpAbsDD:  {"abs_dd", [4]byte{'d', 'd'}},

	OpWhereIBII: {"where_ibii", [4]byte{'i', 'b', 'i', 'i'}},
	OpWhereLBLL: {"where_lbll", [4]byte{'l', 'b', 'l', 'l'}},
	OpWhereFBFF: {"where_fbff", [4]byte{'f', 'b', 'f', 'f'}},
	OpWhereDBDD: {"where_dbdd", [4]byte{'d', 'b', 'd', 'd'}},

	OpCastIB: {"cast_ib", [4]byte{'i', 'b'}},
	OpCastLI: {"cast_li", [4]byte{'l', 'i'}},
	OpCastFI: {"cast_fi", [4]byte{'f', 'i'}},
	OpCastFL: {"cast_fl", [4]byte{'f', 'l'}},
	OpCastDI: {"cast_di", [4]byte{'d', 'i'}},
	OpCastDL: {"cast_dl", [4]byte{'d', 'l'}},
	OpCastDF: {"cast_df", [4]byte{'d', 'f'}},
	OpCastCD: {"cast_cd", [4]byte{'c', 'd'}},

	OpFuncFFN:  {"func_ffn", [4]byte{'f', 'f', 'n'}},
	OpFuncDDN:  {"func_ddn", [4]byte{'d', 'd', 'n'}},
	OpFuncCCN:  {"func_ccn", [4]byte{'c', 'c', 'n'}},
	OpFuncFFFN: {"func_fffn", [4]byte{'f', 'f', 'f', 'n'}},
	OpFuncDDDN: {"func_dddn", [4]byte{'d', 'd', 'd', 'n'}},
	OpFuncCCCN: {"func_cccn", [4]byte{'c', 'c', 'c', 'n'}},

	OpSumIIN: {"sum_iin", [4]byte{'i', 'i', 'n'}},
	OpSumLLN: {"sum_lln", [4]byte{'l', 'l', 'n'}},
	OpSumFFN: {"sum_ffn", [4]byte{'f', 'f', 'n'}},
	OpSumDDN: {"sum_ddn", [4]byte{'d', 'd', 'n'}},
	OpSumCCN: {"sum_ccn", [4]byte{'c', 'c', 'n'}},

	OpProdIIN: {"prod_iin", [4]byte{'i', 'i', 'n'}},
	OpProdLLN: {"prod_lln", [4]byte{'l', 'l', 'n'}},
	OpProdFFN: {"prod_ffn", [4]byte{'f', 'f', 'n'}},
	OpProdDDN: {"prod_ddn", [4]byte{'d', 'd', 'n'}},
	OpProdCCN: {"prod_ccn", [4]byte{'c', 'c', 'n'}},
}

// Info returns the metadata for an opcode. The second result is false for
// unknown opcodes and for the OpReduction marker, which has no descriptor.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// String returns the opcode's mnemonic.
func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("op(%d)", byte(op))
}

// opSignature returns the type tag of the nth slot of op's signature
// (slot 0 is the result register), 0 when there are no more slots, or -1
// for an opcode with no descriptor.
func opSignature(op Opcode, n int) int {
	if n < 0 || n >= len(OpcodeInfo{}.Sig) {
		return 0
	}
	info, ok := opcodeTable[op]
	if !ok {
		return -1
	}
	return int(info.Sig[n])
}

// numOperands returns the number of operand bytes op consumes, counting the
// destination-register byte in slot 0.
func numOperands(op Opcode) int {
	info, ok := opcodeTable[op]
	if !ok {
		return 0
	}
	n := 0
	for _, t := range info.Sig {
		if t == 0 {
			break
		}
		n++
	}
	return n
}

// isDoubleWide reports whether op's fourth operand byte spills into the
// following instruction slot.
func isDoubleWide(op Opcode) bool {
	return numOperands(op) > 3
}

// ---------------------------------------------------------------------------
// Disassembler
// ---------------------------------------------------------------------------

// Disassemble renders the program's instruction stream, one instruction per
// line, resolving double-wide operands.
func (p *Program) Disassemble() string {
	var b strings.Builder
	code := p.Code
	for pc := 0; pc+4 <= len(code); pc += 4 {
		op := Opcode(code[pc])
		info, ok := opcodeTable[op]
		if !ok {
			fmt.Fprintf(&b, "%4d: ??? (%d)\n", pc, code[pc])
			continue
		}
		fmt.Fprintf(&b, "%4d: %-10s", pc, info.Name)
		for argno := 0; argno < numOperands(op); argno++ {
			loc := pc + argno + 1
			if argno >= 3 {
				loc = pc + argno + 2
			}
			if loc >= len(code) {
				b.WriteString(" <truncated>")
				break
			}
			if info.Sig[argno] == TagCount {
				fmt.Fprintf(&b, " #%d", code[loc])
			} else {
				fmt.Fprintf(&b, " r%d", code[loc])
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
