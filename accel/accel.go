// Package accel implements Acceleration-Analysis: choosing, for each
// candidate DFA state, a compact descriptor of a SIMD-shaped scan that can
// skip forward while the state's transitions stay put, plus the "SDS proxy"
// search used to widen the stop-character budget for streaming starts.
//
// Analysis is grounded on Hyperscan's mcclellancompile.cpp (find_escape_strings,
// buildAccel, is_accel, has_self_loop, get_sds_or_proxy); the scan kernels
// reuse this module's own simd package rather than re-deriving SIMD from
// scratch.
package accel

import (
	"github.com/coregx/mcclellan/internal/bitset256"
	"github.com/coregx/mcclellan/internal/conv"
	"github.com/coregx/mcclellan/internal/sparse"
	"github.com/coregx/mcclellan/rawdfa"
	"github.com/coregx/mcclellan/simd"
)

// Type discriminates the shape of an acceleration descriptor. The order of
// the constants is not the order Analyze tries them in.
type Type uint8

const (
	// None means no accelerable shortcut was found (or acceleration was
	// disabled); the state is scanned byte by byte.
	None Type = iota
	// RedTape means the state has no escaping byte at all: once entered, a
	// scan can run to the end of the buffer without ever leaving.
	RedTape
	// Verm accelerates a single escaping byte.
	Verm
	// VermNocase accelerates a single escaping byte up to ASCII case.
	VermNocase
	// DVerm accelerates a single escaping two-byte sequence.
	DVerm
	// DVermNocase accelerates a two-byte sequence up to ASCII case.
	DVermNocase
	// Shufti accelerates an arbitrary escaping byte set representable as a
	// pair of 16-entry nibble masks.
	Shufti
	// DShufti accelerates an escaping byte set expressed as first/second
	// byte pairs, when the pair count stays within budget.
	DShufti
	// Truffle accelerates an arbitrary escaping byte set that Shufti could
	// not represent exactly.
	Truffle
)

// String names t the way buildAccel's tracing does.
func (t Type) String() string {
	switch t {
	case None:
		return "NONE"
	case RedTape:
		return "RED_TAPE"
	case Verm:
		return "VERM"
	case VermNocase:
		return "VERM_NOCASE"
	case DVerm:
		return "DVERM"
	case DVermNocase:
		return "DVERM_NOCASE"
	case Shufti:
		return "SHUFTI"
	case DShufti:
		return "DSHUFTI"
	case Truffle:
		return "TRUFFLE"
	default:
		return "UNKNOWN"
	}
}

// ACCEL_MAX_STOP_CHAR and ACCEL_MAX_FLOATING_STOP_CHAR bound how many
// distinct escaping bytes a state may have and still be worth accelerating,
// mirroring mcclellancompile.cpp's constants of the same name.
const (
	MaxStopChar         = 160
	MaxFloatingStopChar = 192
)

// maxShermanListLen-scale caps on the double-byte accelerator tables,
// mirroring buildAccel's own limits.
const maxOuts2Pairs = 8
const maxOuts2Single = 2

// Descriptor is the acceleration shortcut chosen for one DFA state.
//
// Every descriptor carries Outs, the full set of bytes that leave the
// state: this is what the descriptor's Scan is required to recognise
// exactly, independent of which Type ended up being cheapest to encode.
type Descriptor struct {
	Type Type
	Outs bitset256.Set

	// Verm / VermNocase
	C byte

	// DVerm / DVermNocase
	C1, C2 byte

	// Shufti
	Lo, Hi [16]byte

	// DShufti: first-byte shufti table plus the literal pair/singleton
	// sets it was built from (kept for Scan and for introspection).
	Lo1, Hi1  [16]byte
	Pairs     [][2]byte
	Singles   []byte

	// Truffle: an exact split of the 256-bit escape set into two 128-bit
	// halves, always representable regardless of how irregular Outs is.
	Mask1, Mask2 [16]byte
}

// escapeInfo is the result of find_escape_strings: the single-byte escape
// set plus the coarser double-byte breakdown used to pick DVERM/DSHUFTI.
type escapeInfo struct {
	outs        bitset256.Set
	outs2       map[[2]byte]struct{}
	outs2Single bitset256.Set
	outs2Broken bool
}

// findEscapeStrings computes, for stateID, every byte that leaves the
// state (outs) and a bounded breakdown of the two-byte sequences that
// follow each escaping byte (outs2 / outs2Single), mirroring
// mcclellancompile.cpp's find_escape_strings.
func findEscapeStrings(d *rawdfa.DFA, stateID rawdfa.StateID) escapeInfo {
	info := escapeInfo{outs2: make(map[[2]byte]struct{})}
	st := &d.States[stateID]

	for i := 0; i < rawdfa.NChars; i++ {
		symI := d.AlphaRemap[byte(i)]
		next := st.Next[symI]
		if next == stateID {
			continue
		}
		info.outs.Set(byte(i))

		if len(d.States[next].Reports) > 0 && d.Kind.GeneratesCallbacks() {
			info.outs2Broken = true
		}

		local := make(map[[2]byte]struct{})
		if !info.outs2Broken {
			nextRow := d.States[next].Next
			for j := 0; j < rawdfa.NChars; j++ {
				symJ := d.AlphaRemap[byte(j)]
				if nextRow[symJ] == st.Next[symJ] {
					continue
				}
				local[[2]byte{byte(i), byte(j)}] = struct{}{}
			}
		}

		if len(local) > maxOuts2Pairs {
			info.outs2Single.Set(byte(i))
		} else {
			for k := range local {
				info.outs2[k] = struct{}{}
			}
		}
		if len(info.outs2) > maxOuts2Pairs {
			info.outs2Broken = true
		}
	}
	return info
}

// IsAccelerable reports whether stateID has few enough escaping bytes, and
// (for callback-generating DFAs) no reports of its own, to be worth
// analysing at all. sdsOrProxy widens the budget for the stream start
// state, mirroring mcclellancompile.cpp's is_accel.
func IsAccelerable(d *rawdfa.DFA, sdsOrProxy, stateID rawdfa.StateID) bool {
	if stateID == rawdfa.DeadState {
		return false
	}
	st := &d.States[stateID]
	if d.Kind.GeneratesCallbacks() && len(st.Reports) > 0 {
		return false
	}

	limit := MaxStopChar
	if stateID == sdsOrProxy {
		limit = MaxFloatingStopChar
	}

	var outs bitset256.Set
	for i := 0; i < rawdfa.NChars; i++ {
		sym := d.AlphaRemap[byte(i)]
		if st.Next[sym] != stateID {
			outs.Set(byte(i))
		}
	}
	return outs.Count() <= limit
}

// Analyze chooses an acceleration descriptor for stateID, in the priority
// order buildAccel uses: DVERM, DVERM_NOCASE, DSHUFTI, RED_TAPE, VERM,
// VERM_NOCASE, then None if the state has more than MaxFloatingStopChar
// escaping bytes, then SHUFTI, and TRUFFLE last.
func Analyze(d *rawdfa.DFA, stateID, sdsOrProxy rawdfa.StateID) Descriptor {
	info := findEscapeStrings(d, stateID)

	if desc, ok := buildDouble(info); ok {
		return desc
	}

	if info.outs.None() {
		return Descriptor{Type: RedTape, Outs: info.outs}
	}
	if info.outs.Count() == 1 {
		return Descriptor{Type: Verm, Outs: info.outs, C: byte(info.outs.FindFirst())}
	}
	if info.outs.IsCaselessChar() {
		c := byte(info.outs.FindFirst())
		return Descriptor{Type: VermNocase, Outs: info.outs, C: bitset256.CaseClear(c)}
	}

	if info.outs.Count() > MaxFloatingStopChar {
		return Descriptor{Type: None, Outs: info.outs}
	}

	if lo, hi, ok := shuftiBuildMasks(info.outs); ok {
		return Descriptor{Type: Shufti, Outs: info.outs, Lo: lo, Hi: hi}
	}

	m1, m2 := truffleBuildMasks(info.outs)
	return Descriptor{Type: Truffle, Outs: info.outs, Mask1: m1, Mask2: m2}
}

// buildDouble tries the double-byte accelerator shapes (DVERM, DVERM_NOCASE,
// DSHUFTI), which buildAccel always prefers over the single-byte shapes
// when the two-byte breakdown stayed within budget.
func buildDouble(info escapeInfo) (Descriptor, bool) {
	if info.outs2Broken || !info.outs2Single.None() {
		return dshuftiOrNone(info)
	}

	if len(info.outs2) == 1 {
		for k := range info.outs2 {
			return Descriptor{Type: DVerm, Outs: info.outs, C1: k[0], C2: k[1]}, true
		}
	}

	if len(info.outs2) == 2 || len(info.outs2) == 4 {
		if c1, c2, ok := dvermNocaseFold(info.outs2); ok {
			return Descriptor{Type: DVermNocase, Outs: info.outs, C1: c1, C2: c2}, true
		}
	}

	return dshuftiOrNone(info)
}

// dvermNocaseFold checks whether every pair in pairs shares the same
// case-cleared first byte and the same case-cleared second byte as an
// arbitrary pair from the set, per mcclellancompile.cpp's buildAccel: it
// does not require the full four-way case closure to be present, only that
// no pair disagrees with the others once case is cleared.
func dvermNocaseFold(pairs map[[2]byte]struct{}) (byte, byte, bool) {
	var any [2]byte
	for k := range pairs {
		any = k
		break
	}
	c1, c2 := bitset256.CaseClear(any[0]), bitset256.CaseClear(any[1])

	for k := range pairs {
		if bitset256.CaseClear(k[0]) != c1 || bitset256.CaseClear(k[1]) != c2 {
			return 0, 0, false
		}
	}
	return c1, c2, true
}

// caseVariants returns c's case-cleared byte, plus its opposite-case letter
// if c is one; a non-letter byte has no other case to also try.
func caseVariants(c byte) []byte {
	folded := bitset256.CaseClear(c)
	if folded == c && !isLetter(c) {
		return []byte{c}
	}
	return []byte{folded, folded ^ 0x20}
}

func isLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// dshuftiOrNone builds a DSHUFTI descriptor from the pooled outs2/outs2Single
// data when it fits the budget, or reports it does not apply.
func dshuftiOrNone(info escapeInfo) (Descriptor, bool) {
	if info.outs2Broken {
		return Descriptor{}, false
	}
	singleCount := info.outs2Single.Count()
	if len(info.outs2) == 0 || singleCount > maxOuts2Single {
		return Descriptor{}, false
	}
	if singleCount+len(info.outs2) > maxOuts2Pairs {
		return Descriptor{}, false
	}
	if singleCount >= len(info.outs2) {
		// Too many bytes degenerated to per-byte singletons relative to
		// the pairs actually captured; DVERM/VERM already covers this
		// shape better.
		return Descriptor{}, false
	}

	desc := Descriptor{Type: DShufti, Outs: info.outs}
	info.outs2Single.Each(func(b byte) { desc.Singles = append(desc.Singles, b) })
	for k := range info.outs2 {
		desc.Pairs = append(desc.Pairs, k)
	}

	var firstBytes bitset256.Set
	firstBytes.Merge(&info.outs2Single)
	for _, p := range desc.Pairs {
		firstBytes.Set(p[0])
	}
	lo, hi, ok := shuftiBuildMasks(firstBytes)
	if !ok {
		return Descriptor{}, false
	}
	desc.Lo1, desc.Hi1 = lo, hi
	return desc, true
}

// shuftiBuildMasks tries to represent out exactly as a pair of 16-entry
// nibble masks: bucket byte values by their low-nibble/high-nibble
// membership row so that lo[low]&hi[high] != 0 iff the byte is a member.
// This needs at most 8 distinct high-nibble rows (one bit per bucket); it
// reports ok=false when out cannot be represented that way.
func shuftiBuildMasks(out bitset256.Set) (lo, hi [16]byte, ok bool) {
	rowOf := func(h int) uint16 {
		var row uint16
		for l := 0; l < 16; l++ {
			if out.Test(byte(h<<4 | l)) {
				row |= 1 << uint(l)
			}
		}
		return row
	}

	bucket := make(map[uint16]int)
	var buckets []uint16
	for h := 0; h < 16; h++ {
		row := rowOf(h)
		if row == 0 {
			continue
		}
		if _, seen := bucket[row]; seen {
			continue
		}
		if len(buckets) >= 8 {
			return lo, hi, false
		}
		bucket[row] = len(buckets)
		buckets = append(buckets, row)
	}

	for k, row := range buckets {
		for l := 0; l < 16; l++ {
			if row&(1<<uint(l)) != 0 {
				lo[l] |= 1 << uint(k)
			}
		}
	}
	for h := 0; h < 16; h++ {
		row := rowOf(h)
		if row == 0 {
			continue
		}
		hi[h] |= 1 << uint(bucket[row])
	}
	return lo, hi, true
}

// truffleBuildMasks splits out's 256-bit membership into two 128-bit
// halves. Unlike Shufti this always succeeds: it is the guaranteed
// fallback when no compact nibble-mask factoring exists.
func truffleBuildMasks(out bitset256.Set) (m1, m2 [16]byte) {
	for i := 0; i < 128; i++ {
		if out.Test(byte(i)) {
			m1[i/8] |= 1 << uint(i%8)
		}
	}
	for i := 128; i < 256; i++ {
		if out.Test(byte(i)) {
			m2[(i-128)/8] |= 1 << uint((i-128)%8)
		}
	}
	return m1, m2
}

// FindSDSProxy locates the stream-default-state, or (failing that) a
// self-looping stand-in reachable from the anchored start, mirroring
// get_sds_or_proxy. Degraded is true when no self-looping state could be
// found at all, in which case State is DeadState and the caller must not
// widen any state's stop-character budget.
type SDSResult struct {
	State    rawdfa.StateID
	Degraded bool
}

func FindSDSProxy(d *rawdfa.DFA) SDSResult {
	if d.StartFloating != rawdfa.DeadState {
		return SDSResult{State: d.StartFloating}
	}

	s := d.StartAnchored
	if d.HasSelfLoop(s) {
		return SDSResult{State: s}
	}

	top := d.TopSymbol()
	seen := sparse.NewSparseSet(conv.IntToUint32(len(d.States)))
	seen.Insert(uint32(s))
	for {
		row := d.States[s].Next
		for i, target := range row {
			if rawdfa.Symbol(i) == top || target == rawdfa.DeadState {
				continue
			}
			if d.HasSelfLoop(target) {
				return SDSResult{State: target}
			}
		}

		next, found := rawdfa.DeadState, false
		for i, target := range row {
			if rawdfa.Symbol(i) == top || target == rawdfa.DeadState || seen.Contains(uint32(target)) {
				continue
			}
			next, found = target, true
			break
		}
		if !found {
			return SDSResult{State: rawdfa.DeadState, Degraded: true}
		}
		s = next
		seen.Insert(uint32(s))
	}
}

// Scan returns the offset of the first byte in haystack that leaves the
// state d describes, or -1 if none does. It always recognises exactly
// d.Outs, regardless of which Type ended up cheapest to store.
func (d *Descriptor) Scan(haystack []byte) int {
	switch d.Type {
	case RedTape:
		return -1
	case Verm:
		return simd.Memchr(haystack, d.C)
	case VermNocase:
		return simd.Memchr2(haystack, d.C, d.C^0x20)
	case DVerm:
		return simd.MemchrPair(haystack, d.C1, d.C2, 1)
	case DVermNocase:
		return scanDVermNocase(haystack, d.C1, d.C2)
	default:
		table := d.outsTable()
		return simd.MemchrInTable(haystack, &table)
	}
}

func scanDVermNocase(haystack []byte, c1, c2 byte) int {
	best := -1
	for _, b1 := range caseVariants(c1) {
		for _, b2 := range caseVariants(c2) {
			if pos := simd.MemchrPair(haystack, b1, b2, 1); pos != -1 && (best == -1 || pos < best) {
				best = pos
			}
		}
	}
	return best
}

// outsTable renders Outs as the [256]bool lookup MemchrInTable wants.
func (d *Descriptor) outsTable() [256]bool {
	var table [256]bool
	d.Outs.Each(func(b byte) { table[b] = true })
	return table
}
