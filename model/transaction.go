package model

import "encoding/binary"

// LengthPrefixSize is the width, in bytes, of the length prefix written
// ahead of every transaction's payload in the transaction database.
const LengthPrefixSize = 4

// Transaction is one payload plus the set of addresses that reference it.
// Addresses is stored as a slice rather than a set: duplicate detection
// happens once, at ingestion, in input.Read.
type Transaction struct {
	Addresses []Address
	Payload   []byte
}

// PutLengthPrefix writes the little-endian, LengthPrefixSize-byte length of
// payload into dst, which must be at least LengthPrefixSize bytes.
func PutLengthPrefix(dst []byte, payload []byte) {
	binary.LittleEndian.PutUint32(dst, uint32(len(payload)))
}

// LengthPrefix returns a freshly allocated LengthPrefixSize-byte little-endian
// encoding of len(payload).
func LengthPrefix(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize)
	PutLengthPrefix(buf, payload)
	return buf
}
