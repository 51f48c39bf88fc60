package guestfs

import (
	"fmt"
	"math/bits"
)

// Bitmask records which optional arguments are present in a call: bit i is
// set iff optional argument i of the action was supplied.
type Bitmask uint64

// Has reports whether bit i is set.
func (m Bitmask) Has(i int) bool {
	return i >= 0 && i < 64 && m&(1<<uint(i)) != 0
}

// Set returns m with bit i set.
func (m Bitmask) Set(i int) Bitmask {
	return m | 1<<uint(i)
}

// Count returns the number of optional arguments present.
func (m Bitmask) Count() int {
	return bits.OnesCount64(uint64(m))
}

// Check rejects any bit at or beyond declared, the number of optional
// arguments the action has.
func (m Bitmask) Check(declared int) error {
	if declared >= 64 {
		return nil
	}
	if extra := m >> uint(declared); extra != 0 {
		bit := declared + bits.TrailingZeros64(uint64(extra))
		return fmt.Errorf("%w: bit %d set, action declares %d", ErrUnknownOptArg, bit, declared)
	}
	return nil
}
