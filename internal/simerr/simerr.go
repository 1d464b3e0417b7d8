// Package simerr declares the sentinel error values and the fatal
// corruption-panic type used across ssdsim's layers, grounded on the
// fmt.Errorf("...: %w", err) wrapping idiom used throughout the teacher's
// storage package.
package simerr

import "errors"

// Sentinel errors. Callers match these with errors.Is; layers wrap them
// with context via fmt.Errorf("...: %w", Err...).
var (
	// ErrConfigInvalid marks a fatal configuration problem: bad geometry,
	// a PageAllocation/SuperblockSize string that isn't a clean permutation
	// or subset of {C,W,D,P}, or an LBASize that isn't a power of two.
	ErrConfigInvalid = errors.New("ssdsim: invalid configuration")

	// ErrOutOfFreeBlocks means garbage collection could not produce a free
	// block for an allocation. Fatal: simulated out-of-space.
	ErrOutOfFreeBlocks = errors.New("ssdsim: out of free blocks")

	// ErrUnmappedRead names the unmapped-read case but is not returned or
	// referenced anywhere: ftl.FTL.Read handles an unmapped LPN by returning
	// the arrival tick and a nil error. See spec open question #1 in
	// DESIGN.md.
	ErrUnmappedRead = errors.New("ssdsim: read of unmapped lpn")

	// ErrInvalidOpcode means the host issued an operation kind the
	// assembled pipeline does not support.
	ErrInvalidOpcode = errors.New("ssdsim: invalid opcode")

	// ErrNamespaceNotAttached means an I/O was issued against a namespace
	// that has not been attached to the simulated controller.
	ErrNamespaceNotAttached = errors.New("ssdsim: namespace not attached")
)

// CorruptionError indicates an impossible internal state: a block present
// in both pools, a mapping pointing at a block not in use, a write to an
// already-valid page, or a nonzero valid-page count on an erase target.
// Spec classifies this as "indicates a model bug, not a simulated hardware
// fault" — callers are expected to let it propagate as a panic rather than
// attempt recovery.
type CorruptionError struct {
	Op     string
	Detail string
}

func (e *CorruptionError) Error() string {
	return "ssdsim: corrupted state in " + e.Op + ": " + e.Detail
}

// Corrupt panics with a CorruptionError. Centralizing the panic call makes
// every "this should never happen" site in the FTL/block layers greppable.
func Corrupt(op, detail string) {
	panic(&CorruptionError{Op: op, Detail: detail})
}
