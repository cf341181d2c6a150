package pgfault

import "golang.org/x/arch/x86/x86asm"

// describeFault decodes the bytes at the faulting instruction pointer
// (32-bit mode, matching this kernel's architecture) and renders a
// one-line disassembly, the kind of diagnostic a real kernel prints on
// an unrecoverable fault. Handle is not given the faulting bytes, so
// its "non-writable pte" panic message does not include this text.
// If code can't be decoded as a valid instruction (e.g. the caller
// doesn't have the faulting bytes, as in tests), it says so instead of
// failing the fault path over a cosmetic detail.
func describeFault(code []byte) string {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return "<instruction undecodable: " + err.Error() + ">"
	}
	return inst.String()
}

// accessWidth reports the memory operand size, in bytes, of the
// instruction encoded in code, and whether it has a memory operand at
// all. A non-memory instruction (register-only, or one that could not
// be decoded) reports ok == false.
func accessWidth(code []byte) (width int, ok bool) {
	inst, err := x86asm.Decode(code, 32)
	if err != nil || inst.MemBytes == 0 {
		return 0, false
	}
	return inst.MemBytes, true
}
