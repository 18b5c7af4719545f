// Package dist serializes compiled programs for transport between
// processes. Encoding is canonical CBOR, so equal programs always produce
// identical bytes and program payloads can be content-addressed or cached
// by digest.
package dist

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/mindw/numexpr/vm"
)

// cborEncMode holds CBOR encoding options with canonical mode for
// deterministic encoding.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// wireProgram is the on-wire shape of a compiled program. Constants travel
// as raw little-endian element payloads, exactly as the interpreter holds
// them in memory.
type wireProgram struct {
	Code      []byte   `cbor:"1,keyasint"`
	FullSig   string   `cbor:"2,keyasint"`
	InSig     string   `cbor:"3,keyasint"`
	Constants [][]byte `cbor:"4,keyasint"`
}

// MarshalProgram serializes a validated program to CBOR bytes.
func MarshalProgram(p *vm.Program) ([]byte, error) {
	w := wireProgram{
		Code:      p.Code,
		FullSig:   p.FullSig,
		InSig:     p.InSig,
		Constants: p.Constants,
	}
	return cborEncMode.Marshal(&w)
}

// UnmarshalProgram deserializes a program from CBOR bytes. The decoded
// program is fully re-validated; bytes from an untrusted peer cannot yield
// a program the interpreter would reject.
func UnmarshalProgram(data []byte) (*vm.Program, error) {
	var w wireProgram
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("dist: unmarshal program: %w", err)
	}
	p, err := vm.NewProgram(w.Code, w.FullSig, w.InSig, w.Constants)
	if err != nil {
		return nil, fmt.Errorf("dist: rejected program: %w", err)
	}
	return p, nil
}
