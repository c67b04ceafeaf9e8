package mcclellan

import (
	"encoding/binary"

	"github.com/coregx/mcclellan/accel"
	"github.com/coregx/mcclellan/rawdfa"
)

// Variant distinguishes the two transition-cell widths DFA-Lowering can
// choose between.
type Variant uint8

const (
	Variant8 Variant = iota
	Variant16
)

func (v Variant) String() string {
	if v == Variant8 {
		return "MCCLELLAN_NFA_8"
	}
	return "MCCLELLAN_NFA_16"
}

// Flag bits packed into a 16-bit transition cell, per §6.
const (
	AcceptFlag16 uint16 = 1 << 15
	AccelFlag16  uint16 = 1 << 14
	stateMask16  uint16 = ^(AcceptFlag16 | AccelFlag16)
)

// FlagAcceptsEOD marks an NFA header carrying at least one EOD report.
const FlagAcceptsEOD uint8 = 1 << 0

// Section alignments from §6.
const (
	rowAlign     = 16
	auxAlign     = 32
	accelAlign   = 8
	shermanAlign = 16
)

// NFAHeader is the outermost, engine-agnostic header every NFA variant
// carries.
type NFAHeader struct {
	Type             Variant
	Length           uint32
	NPositions       uint32
	StreamStateSize  uint32
	ScratchStateSize uint32
	Flags            uint8
}

// Header is the McClellan-specific header, §6 "mcclellan header".
type Header struct {
	Remap         [256]byte
	AlphaShift    uint8
	AuxOffset     uint32
	AccelOffset   uint32
	ShermanOffset uint32
	ShermanEnd    uint32
	ShermanLimit  uint32
	StateCount    uint32
	StartAnchored uint32
	StartFloating uint32
	ArbReport     uint32
	HasAccel      bool
	AcceptLimit8  uint32
	AccelLimit8   uint32
	Flags         uint8
}

// AuxRecord is one state's fixed-size metadata. Accept, AcceptEOD and
// AccelOffset are 1-based indices into their respective pools (0 means
// absent) — the arena-plus-index realization Design Notes call for, rather
// than absolute byte offsets.
type AuxRecord struct {
	Accept      uint32
	AcceptEOD   uint32
	Top         uint32
	AccelOffset uint32
}

// ReportList is a deduplicated, pool-allocated set of report IDs shared by
// every state whose report set is identical.
type ReportList struct {
	IDs []uint32
}

// Blob is the compiled automaton: a byte-exact serialization of every
// section (the transition table is decoded directly by Step, exercising the
// actual wire layout), plus pool caches for aux/report/accel/Sherman data
// resolved once at lowering time.
type Blob struct {
	Variant   Variant
	NFAHeader NFAHeader
	Header    Header
	RowWidth  int

	Data []byte // the full serialized blob: headers, transition table, aux, report lists, accel pool, Sherman region

	Aux         []AuxRecord // indexed by impl ID
	ReportLists []ReportList
	Accel       []accel.Descriptor
	Sherman     []ShermanEntry // Sherman[i] describes impl ID ShermanLimit+i

	transTableOffset int
}

// alphaMask returns the bitmask isolating a cell's state-ID bits.
func (b *Blob) alphaMask() uint16 {
	if b.Variant == Variant8 {
		return 0xFF
	}
	return stateMask16
}

// Step decodes the blob's own transition table to find the impl-ID
// successor of s on byte c, applying the remap and (for 16-bit) masking off
// the ACCEPT/ACCEL flag bits. Sherman states are dispatched through the
// Sherman region instead of the main table.
func (b *Blob) Step(s rawdfa.StateID, c byte) rawdfa.StateID {
	sym := b.Header.Remap[c]

	if b.Variant == Variant16 && uint32(s) >= b.Header.ShermanLimit {
		return b.stepSherman(s, sym)
	}

	return b.stepMain(s, sym)
}

func (b *Blob) stepMain(s rawdfa.StateID, sym byte) rawdfa.StateID {
	rowStart := b.transTableOffset + int(s)*b.RowWidth*b.cellSize()
	if b.Variant == Variant8 {
		return rawdfa.StateID(b.Data[rowStart+int(sym)])
	}
	off := rowStart + int(sym)*2
	cell := binary.LittleEndian.Uint16(b.Data[off : off+2])
	return rawdfa.StateID(cell & b.alphaMask())
}

func (b *Blob) stepSherman(s rawdfa.StateID, sym byte) rawdfa.StateID {
	idx := int(s) - int(b.Header.ShermanLimit)
	if idx < 0 || idx >= len(b.Sherman) {
		return rawdfa.DeadState
	}
	entry := b.Sherman[idx]
	for i, c := range entry.Chars {
		if c == sym {
			return rawdfa.StateID(uint16(entry.Targets[i]) & b.alphaMask())
		}
	}
	return b.stepMain(entry.Daddy, sym)
}

func (b *Blob) cellSize() int {
	if b.Variant == Variant8 {
		return 1
	}
	return 2
}

// AcceptsAt returns the non-EOD and EOD report lists for impl state s, or
// nil, nil if it has neither.
func (b *Blob) AcceptsAt(s rawdfa.StateID) (nonEOD, eod []uint32) {
	aux := b.Aux[s]
	if aux.Accept != 0 {
		nonEOD = b.ReportLists[aux.Accept-1].IDs
	}
	if aux.AcceptEOD != 0 {
		eod = b.ReportLists[aux.AcceptEOD-1].IDs
	}
	return nonEOD, eod
}

// AccelAt returns the acceleration descriptor for impl state s and whether
// one is present.
func (b *Blob) AccelAt(s rawdfa.StateID) (accel.Descriptor, bool) {
	off := b.Aux[s].AccelOffset
	if off == 0 {
		return accel.Descriptor{}, false
	}
	return b.Accel[off-1], true
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align int) int {
	if r := n % align; r != 0 {
		n += align - r
	}
	return n
}

// appendPadding grows buf with zero bytes until its length is a multiple of
// align, returning the padded slice.
func appendPadding(buf []byte, align int) []byte {
	target := alignUp(len(buf), align)
	for len(buf) < target {
		buf = append(buf, 0)
	}
	return buf
}

func putU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func putBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}
