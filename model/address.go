// Package model holds the value types shared across the packing engine and
// the output formats: addresses and the transactions that reference them.
package model

// ShortAddressLen is the length, in bytes, of the trailing slice of a long
// address used as its map key throughout the index-building pipeline.
const ShortAddressLen = 20

// Address is a long-form address as it appears in the input stream. Two
// addresses collide at "short form" if their trailing ShortAddressLen bytes
// match; builders must reject that unless the full addresses are identical.
type Address []byte

// Short returns the trailing short-form bytes used as a map key. It panics if
// addr is shorter than ShortAddressLen; callers validate length up front.
func (a Address) Short() string {
	return string(a[len(a)-ShortAddressLen:])
}

// String renders the address as its short-form key, for logging.
func (a Address) String() string {
	return a.Short()
}

// Clone returns an independent copy, so callers can retain a.
func (a Address) Clone() Address {
	out := make(Address, len(a))
	copy(out, a)
	return out
}
