// Package bitset256 provides a fixed 256-bit set over byte values.
//
// It plays the role of Hyperscan's CharReach: a compact representation of
// "the set of bytes for which some predicate holds", used throughout
// acceleration analysis to describe which bytes leave a DFA state.
package bitset256

import "math/bits"

// Set is a bitset over the 256 possible byte values.
type Set struct {
	words [4]uint64
}

// Set marks b as a member of the set.
func (s *Set) Set(b byte) {
	s.words[b>>6] |= 1 << (b & 63)
}

// Clear removes b from the set.
func (s *Set) Clear(b byte) {
	s.words[b>>6] &^= 1 << (b & 63)
}

// Test reports whether b is a member of the set.
func (s *Set) Test(b byte) bool {
	return s.words[b>>6]&(1<<(b&63)) != 0
}

// None reports whether the set is empty.
func (s *Set) None() bool {
	return s.words[0] == 0 && s.words[1] == 0 && s.words[2] == 0 && s.words[3] == 0
}

// Count returns the number of members.
func (s *Set) Count() int {
	return bits.OnesCount64(s.words[0]) + bits.OnesCount64(s.words[1]) +
		bits.OnesCount64(s.words[2]) + bits.OnesCount64(s.words[3])
}

// FindFirst returns the lowest member, or 256 if the set is empty.
func (s *Set) FindFirst() int {
	for w := 0; w < 4; w++ {
		if s.words[w] != 0 {
			return w*64 + bits.TrailingZeros64(s.words[w])
		}
	}
	return 256
}

// Merge ORs other into s.
func (s *Set) Merge(other *Set) {
	s.words[0] |= other.words[0]
	s.words[1] |= other.words[1]
	s.words[2] |= other.words[2]
	s.words[3] |= other.words[3]
}

// asciiCaseBit is the bit that distinguishes 'a' from 'A' etc.
const asciiCaseBit = 0x20

// IsCaselessChar reports whether the set is exactly {c, c^0x20} for some
// ASCII letter c; a single-member set reports false. This mirrors Hyperscan's
// CharReach::isCaselessChar, used to decide between VERM and VERM_NOCASE.
func (s *Set) IsCaselessChar() bool {
	if s.Count() != 2 {
		return false
	}
	first := s.FindFirst()
	partner := first ^ asciiCaseBit
	if !s.Test(byte(partner)) {
		return false
	}
	return isASCIILetter(byte(first)) && isASCIILetter(byte(partner))
}

func isASCIILetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// CaseClear strips the ASCII case bit from b, mirroring Hyperscan's
// CASE_CLEAR mask used when folding VERM/DVERM pairs to their caseless form.
func CaseClear(b byte) byte {
	if isASCIILetter(b) {
		return b &^ asciiCaseBit
	}
	return b
}

// Each calls f for every member of the set, in ascending order.
func (s *Set) Each(f func(b byte)) {
	for w := 0; w < 4; w++ {
		word := s.words[w]
		for word != 0 {
			bit := bits.TrailingZeros64(word)
			f(byte(w*64 + bit))
			word &^= 1 << uint(bit)
		}
	}
}
