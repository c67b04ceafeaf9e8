// Package scratch implements Scratch-Assembly (§4.4): deriving, from a
// compiled database's declared capacities, the exact set of per-scan working
// buffers a caller needs and packing them behind one self-describing handle.
//
// A real Hyperscan-style scratch is one contiguous, hand-aligned allocation
// because the C ABI hands callers a raw pointer they must later free with a
// matching raw free. Go has no such constraint — the GC owns every
// allocation — so this port keeps the byte-budget arithmetic and alignment
// rules of §4.4 (they are what §8's sizing and growth properties test)
// while giving each sub-buffer its own natural Go slice type instead of
// slicing one arena by hand with unsafe.Pointer. See DESIGN.md.
package scratch

import "fmt"

const scratchMagic = 0x53435241 // "SCRA"

// MaxScratchSize bounds the computed byte budget a single scratch region may
// occupy; exceeding it is this port's synthetic stand-in for the allocator
// failure §7 calls out-of-memory.
const MaxScratchSize = 1 << 30

// Alignment rules from §4.4's "Layout pass".
const (
	headerAlign  = 64
	wordAlign    = 8
	sidecarAlign = 16
	contextAlign = 64
	// alignmentSlack is added once to the computed byte budget, per §4.4's
	// "Sizing" paragraph.
	alignmentSlack = 256
	// nfaContextSize is the fixed footprint of one NFA execution context
	// (callback and state bookkeeping shared by every queue using it),
	// independent of any database's declared capacities.
	nfaContextSize = 128
)

// Queue is one entry of the scratch's queue array. Scratch stamps
// Owner during the finalization pass of a layout, per §4.4's "point every
// queue's per-queue scratch back-reference at the installed scratch".
type Queue struct {
	Owner *Scratch
}

// CatchupEntry is one slot of the catch-up priority-queue backing store,
// keyed by stream offset the way Hyperscan's catchup heap is.
type CatchupEntry struct {
	Loc      uint64
	QueueIdx uint32
}

// bitWords is a flat word-backed bitset sized to an arbitrary bit count,
// standing in for the fixed 256-bit internal/bitset256.Set where the width
// is a runtime capacity rather than a byte value's fixed 256.
type bitWords []uint64

func newBitWords(nbits uint32) bitWords {
	return make(bitWords, (nbits+63)/64)
}

func (w bitWords) Set(i uint32)       { w[i/64] |= 1 << (i % 64) }
func (w bitWords) Test(i uint32) bool { return w[i/64]&(1<<(i%64)) != 0 }
func (w bitWords) sizeBytes() int     { return len(w) * 8 }

// anchoredMatchLogWidth is the bit width of one queue's anchored-match log
// row: the caller-declared AnchoredMatches width widened by the anchored
// region §4.4's "Sizing" paragraph derives from AnchoredDistance and
// MaxSafeAnchoredDROffset, so AnchoredRegionLen actually drives the layout
// it is sized for rather than only being reachable through its own getter.
func anchoredMatchLogWidth(caps Capacities) uint32 {
	return caps.AnchoredMatches + caps.AnchoredRegionLen()
}

// Scratch is the assembled per-thread scratch region: a self-describing
// handle (Magic/Size/RawAlloc, §3's "Scratch region" header fields) plus one
// typed field per sub-buffer named in §3.
type Scratch struct {
	Magic    uint32
	Size     uint32
	RawAlloc []byte // back-pointer to the raw backing allocation

	Queues              []Queue
	SOMStore            []uint64
	SOMAttemptedStore   []uint64
	DelaySlots          bitWords
	AnchoredMatchLogs   []bitWords // one bit-matrix row per queue
	AnchoredLiteralLogs []bitWords
	CatchupPQ           []CatchupEntry
	BlockState          []byte
	TempState           []byte
	NFAContext          []byte
	NFAContextSOM       []byte
	DeduperLogsOdd      bitWords
	DeduperLogsEven     bitWords
	DeduperSomStarts    []uint64
	ActiveQueueBitset   bitWords
	HandledRoleBitset   bitWords
	SOMNowBitset        bitWords
	SOMAttemptedBitset  bitWords
	SidecarScratch      []byte
	FullState           []byte

	caps Capacities
}

// valid reports whether s looks like an installed scratch rather than a
// zero-value slot, the "magic check" of §4.4's public contract.
func (s *Scratch) valid() bool {
	return s != nil && s.Magic == scratchMagic
}

// alignUp rounds n up to a multiple of align.
func alignUp(n, align int) int {
	if r := n % align; r != 0 {
		n += align - r
	}
	return n
}

// computeSize sums every sub-buffer's byte footprint under its own
// alignment rule, plus the fixed header and the 256-byte alignment slack,
// mirroring §4.4's "Sizing" and "Layout pass" paragraphs.
func computeSize(caps Capacities) int {
	total := alignUp(headerAlign, headerAlign)

	round := func(n, align int) int { total += alignUp(n, align); return total }

	round(int(caps.QueueCount)*8, wordAlign)                                                     // Queues (Owner pointer width)
	round(int(caps.SOMLocationCount)*8, wordAlign)                                               // SOMStore
	round(int(caps.SOMLocationCount)*8, wordAlign)                                               // SOMAttemptedStore
	round(newBitWords(caps.DelayCount).sizeBytes(), wordAlign)                                   // DelaySlots
	round(int(caps.QueueCount)*newBitWords(anchoredMatchLogWidth(caps)).sizeBytes(), wordAlign)   // AnchoredMatchLogs
	round(int(caps.QueueCount)*newBitWords(caps.AnchoredCount).sizeBytes(), wordAlign)            // AnchoredLiteralLogs
	round(int(caps.QueueCount)*12, wordAlign)                                                     // CatchupPQ
	round(int(caps.StateOffsetsEnd), wordAlign)                                                   // BlockState
	round(int(caps.ScratchStateSize), wordAlign)                                                  // TempState
	round(nfaContextSize, contextAlign)                                                           // NFAContext
	round(nfaContextSize, contextAlign)                                                           // NFAContextSOM
	round(newBitWords(caps.DKeyCount).sizeBytes(), wordAlign)                                     // DeduperLogsOdd
	round(newBitWords(caps.DKeyCount).sizeBytes(), wordAlign)                                     // DeduperLogsEven
	round(int(caps.DKeyCount)*8, wordAlign)                                                       // DeduperSomStarts
	round(newBitWords(caps.QueueCount).sizeBytes(), wordAlign)                                    // ActiveQueueBitset
	round(newBitWords(caps.RoleCount).sizeBytes(), wordAlign)                                     // HandledRoleBitset
	round(newBitWords(caps.SOMLocationCount).sizeBytes(), wordAlign)                              // SOMNowBitset
	round(newBitWords(caps.SOMLocationCount).sizeBytes(), wordAlign)                              // SOMAttemptedBitset
	round(int(caps.SideScratchSize), sidecarAlign)                                                // SidecarScratch
	round(int(caps.ScratchStateSize)*int(caps.QueueCount), contextAlign)                          // FullState

	return total + alignmentSlack
}

// buildScratch allocates a fresh, fully independent Scratch sized to caps.
// It shares no mutable storage with any other Scratch, per §8's cloning
// invariant.
func buildScratch(caps Capacities) (*Scratch, error) {
	size := computeSize(caps)
	if size > MaxScratchSize {
		return nil, &ScratchError{Kind: OutOfMemory, Message: fmt.Sprintf("scratch region of %d bytes exceeds MaxScratchSize", size)}
	}

	s := &Scratch{
		Magic:               scratchMagic,
		Size:                uint32(size),
		RawAlloc:            make([]byte, size),
		Queues:              make([]Queue, caps.QueueCount),
		SOMStore:            make([]uint64, caps.SOMLocationCount),
		SOMAttemptedStore:   make([]uint64, caps.SOMLocationCount),
		DelaySlots:          newBitWords(caps.DelayCount),
		AnchoredMatchLogs:   make([]bitWords, caps.QueueCount),
		AnchoredLiteralLogs: make([]bitWords, caps.QueueCount),
		CatchupPQ:           make([]CatchupEntry, caps.QueueCount),
		BlockState:          make([]byte, caps.StateOffsetsEnd),
		TempState:           make([]byte, caps.ScratchStateSize),
		NFAContext:          make([]byte, nfaContextSize),
		NFAContextSOM:       make([]byte, nfaContextSize),
		DeduperLogsOdd:      newBitWords(caps.DKeyCount),
		DeduperLogsEven:     newBitWords(caps.DKeyCount),
		DeduperSomStarts:    make([]uint64, caps.DKeyCount),
		ActiveQueueBitset:   newBitWords(caps.QueueCount),
		HandledRoleBitset:   newBitWords(caps.RoleCount),
		SOMNowBitset:        newBitWords(caps.SOMLocationCount),
		SOMAttemptedBitset:  newBitWords(caps.SOMLocationCount),
		SidecarScratch:      make([]byte, caps.SideScratchSize),
		FullState:           make([]byte, int(caps.ScratchStateSize)*int(caps.QueueCount)),
		caps:                caps,
	}
	for i := range s.AnchoredMatchLogs {
		s.AnchoredMatchLogs[i] = newBitWords(anchoredMatchLogWidth(caps))
		s.AnchoredLiteralLogs[i] = newBitWords(caps.AnchoredCount)
	}
	// Finalization pass: stamp every queue's back-reference at the
	// installed scratch (§4.4's "Layout pass").
	for i := range s.Queues {
		s.Queues[i].Owner = s
	}
	return s, nil
}

// Alloc installs scratch on slot for db, per §4.4's public contract: if slot
// already holds a valid scratch whose capacities already cover db's, it is
// left untouched; otherwise slot is (re)built to cover the max of its prior
// capacities (if any) and db's.
func Alloc(db Database, slot *Scratch) error {
	if db == nil {
		return &ScratchError{Kind: InvalidArgument, Message: "nil database"}
	}
	if slot == nil {
		return &ScratchError{Kind: InvalidArgument, Message: "nil slot"}
	}

	needed := db.Capacities()
	if err := needed.validate(); err != nil {
		return err
	}

	if slot.valid() && slot.caps.atLeast(needed) {
		return nil // reuse: every field already covers what db needs
	}

	target := needed
	if slot.valid() {
		target = maxOf(slot.caps, needed)
	}

	built, err := buildScratch(target)
	if err != nil {
		// §4.4: the pre-existing scratch is already gone by the time
		// allocation can fail; the slot is left empty, not restored.
		*slot = Scratch{}
		return err
	}
	*slot = *built
	for i := range slot.Queues {
		slot.Queues[i].Owner = slot
	}
	return nil
}

// Clone returns a fresh, independently-backed Scratch matching src's
// capacities, for the "one scratch per thread" concurrent-scan pattern of
// §5.
func Clone(src *Scratch) (*Scratch, error) {
	if !src.valid() {
		return nil, &ScratchError{Kind: InvalidArgument, Message: "clone source is not an installed scratch"}
	}
	return buildScratch(src.caps)
}

// Free releases s's backing storage. Go's GC reclaims the memory once every
// reference is dropped; Free's role is to invalidate the handle so a
// use-after-free is caught by the magic check rather than silently
// succeeding against stale data.
func Free(s *Scratch) {
	if s == nil {
		return
	}
	*s = Scratch{}
}

// Size returns s's total byte footprint, matching what buildScratch computed
// for its capacities.
func Size(s *Scratch) (int, error) {
	if !s.valid() {
		return 0, &ScratchError{Kind: InvalidArgument, Message: "not an installed scratch"}
	}
	return int(s.Size), nil
}
