package pgfault

// Exercises the x86 instruction-decoding helpers in decode.go
// (accessWidth, describeFault) on a NOP and on empty input, the
// decoding a real fault-dispatch trace would use to annotate a fault
// with the instruction that caused it.

import "testing"

func TestAccessWidthOnNonMemoryInstructionIsFalse(t *testing.T) {
	nop := []byte{0x90} // NOP: no memory operand
	if width, ok := accessWidth(nop); ok {
		t.Fatalf("accessWidth(NOP) = (%d, true), want ok == false", width)
	}
}

func TestAccessWidthOnUndecodableBytesIsFalse(t *testing.T) {
	if _, ok := accessWidth(nil); ok {
		t.Fatal("accessWidth(nil) should not report a memory operand")
	}
}

func TestDescribeFaultRendersKnownInstruction(t *testing.T) {
	nop := []byte{0x90}
	if got := describeFault(nop); got == "" {
		t.Fatal("describeFault(NOP) returned an empty string")
	}
}

func TestDescribeFaultReportsUndecodable(t *testing.T) {
	got := describeFault(nil)
	if got == "" {
		t.Fatal("describeFault(nil) returned an empty string")
	}
}
