// Package bip68 encodes and decodes BIP-68 relative-locktime sequence
// numbers: the 4-byte little-endian values placed in a transaction input's
// nSequence field to require a minimum number of confirmed seconds (or
// blocks) to elapse since the spent output was mined.
//
// Only the time-based (512-second granularity) encoding is used by this
// protocol: both CLAIM_TIMEOUT and REDEEM_TIMEOUT are expressed in seconds.
package bip68

import "fmt"

const (
	// typeFlag marks a sequence number as time-based (seconds) rather than
	// block-based.
	typeFlag = 1 << 22

	// disableFlag, if set, means BIP-68 relative locktime semantics are not
	// applied to the input at all. We never set it: every leaf that uses a
	// sequence number in this protocol relies on it being enforced.
	disableFlag = 1 << 31

	// granularity is the number of seconds one unit of the time-based
	// sequence number represents.
	granularity = 512

	maxUnits = 0xffff
)

// Encode returns the 4-byte little-endian sequence number for a relative
// timelock of seconds, using the time-based BIP-68 encoding. seconds must be
// a multiple of 512 and no more than 0xffff*512; otherwise ok is false.
func Encode(seconds uint32) (sequence uint32, ok bool) {
	if seconds%granularity != 0 {
		return 0, false
	}
	units := seconds / granularity
	if units > maxUnits {
		return 0, false
	}
	return typeFlag | units, true
}

// MustEncode is Encode, panicking on an unrepresentable input. Used for
// package-level constants derived from chainparams, where the timeout values
// are fixed and known-good at compile time.
func MustEncode(seconds uint32) uint32 {
	seq, ok := Encode(seconds)
	if !ok {
		panic(fmt.Sprintf("bip68: %d seconds is not representable as a BIP-68 time-based sequence", seconds))
	}
	return seq
}

// Decode reports the number of seconds encoded by sequence, and whether
// sequence is a valid, enabled, time-based BIP-68 relative locktime.
func Decode(sequence uint32) (seconds uint32, ok bool) {
	if sequence&disableFlag != 0 {
		return 0, false
	}
	if sequence&typeFlag == 0 {
		return 0, false
	}
	units := sequence & maxUnits
	// Any bits outside the type flag and the 16-bit unit field must be zero
	// for the encoding to be canonical.
	if sequence&^uint32(typeFlag|maxUnits) != 0 {
		return 0, false
	}
	return units * granularity, true
}

// Valid reports whether sequence is a well-formed, enabled, time-based
// BIP-68 relative locktime, i.e. whether Decode would succeed.
func Valid(sequence uint32) bool {
	_, ok := Decode(sequence)
	return ok
}
