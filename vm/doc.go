// Package vm implements a register-based bytecode interpreter for compiled
// numeric array expressions.
//
// A Program pairs an instruction stream with a register signature: register
// 0 is the output, followed by the inputs, then single-element constants,
// then block-sized temporaries. Each instruction occupies four bytes, an
// opcode and three register operands; instructions needing a fourth operand
// spill it into a trailing no-op slot. Programs are validated once, up
// front, so execution can trust every register index and opcode.
//
// An Engine evaluates validated programs over strided arrays. Evaluation is
// blocked: operands are walked in cache-sized chunks so temporaries stay
// small regardless of array size. Large element-wise expressions are
// spread across a worker pool; reductions, either over the whole domain or
// along one axis, always run on the serial path.
package vm
