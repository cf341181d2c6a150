// Package kerrors defines the error vocabulary shared by the memory and
// scheduling core: a small signed code type in the tradition of biscuit's
// Err_t, plus the sentinel values spec'd for this layer (see §7 of the
// design: NoMemory, Invalid, IoError, and the Fault classifications
// returned by the page-fault handler).
package kerrors

import "fmt"

// Code is a negative-is-error status, mirroring the convention used
// throughout the frame and page-table routines: 0 means success, a
// negative value names a failure kind.
type Code int

// / Sentinel codes returned by the memory and scheduling core.
const (
	OK        Code = 0
	NoMemory  Code = -1 /// frame or swap-slot exhaustion
	Invalid   Code = -2 /// bad argument: unaligned, kernel-half, overlap
	IOErr     Code = -3 /// swap backing device failure
	Fault     Code = -4 /// unrecoverable page-fault classification
	NotFound  Code = -5 /// no VMA/PTE/slot at the requested location
	Exhausted Code = -6 /// policy-specific resource exhaustion (e.g. slots)
)

var names = map[Code]string{
	OK:        "ok",
	NoMemory:  "no memory",
	Invalid:   "invalid argument",
	IOErr:     "i/o error",
	Fault:     "page fault",
	NotFound:  "not found",
	Exhausted: "exhausted",
}

// Error implements the error interface so a Code can be returned/wrapped
// anywhere idiomatic Go expects an error, while trap-dispatch-style
// callers (schedule(), do_pgfault()) can still switch on the raw int.
func (c Code) Error() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("kerrors: code %d", int(c))
}

// Wrap attaches context to a Code, producing a standard Go error that
// still unwraps (via errors.Is) to the original Code.
func Wrap(c Code, context string) error {
	if c == OK {
		return nil
	}
	return fmt.Errorf("%s: %w", context, c)
}
