package vm

import "fmt"

// ---------------------------------------------------------------------------
// Builder: in-package program assembler
// ---------------------------------------------------------------------------

// Builder assembles an instruction stream. It exists for tests and hosts
// that construct programs directly; the usual producer is an external
// expression compiler. Emitting a double-wide instruction appends a no-op
// slot carrying the spilled fourth operand.
type Builder struct {
	code []byte
	err  error
}

// Emit appends one instruction. args are the operand bytes in signature
// order (destination register first).
func (b *Builder) Emit(op Opcode, args ...byte) *Builder {
	if b.err != nil {
		return b
	}
	want := numOperands(op)
	if op != OpNoop && want == 0 {
		b.err = fmt.Errorf("vm: cannot emit %s", op)
		return b
	}
	if len(args) != want {
		b.err = fmt.Errorf("vm: %s takes %d operands, got %d", op, want, len(args))
		return b
	}
	slot := [4]byte{byte(op)}
	copy(slot[1:], args[:min(3, len(args))])
	b.code = append(b.code, slot[:]...)
	if len(args) > 3 {
		b.code = append(b.code, byte(OpNoop), args[3], 0, 0)
	}
	return b
}

// Reduce appends a reduction instruction: dst accumulates src over axis.
// Use FullReduction to collapse all axes.
func (b *Builder) Reduce(op Opcode, dst, src, axis byte) *Builder {
	if b.err == nil && !op.IsReduction() {
		b.err = fmt.Errorf("vm: %s is not a reduction opcode", op)
		return b
	}
	return b.Emit(op, dst, src, axis)
}

// Bytes returns the assembled instruction stream.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.code, nil
}

// MustBytes is Bytes for hand-written programs known to be well-formed.
func (b *Builder) MustBytes() []byte {
	code, err := b.Bytes()
	if err != nil {
		panic(err)
	}
	return code
}
