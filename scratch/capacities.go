package scratch

import "fmt"

// Mode distinguishes the scanning discipline a database was compiled for,
// mirroring original_source's bStateSize computation branching on block vs.
// vectored/streaming mode.
type Mode uint8

const (
	ModeBlock Mode = iota
	ModeStreaming
	ModeVectored
)

// Capacities is everything a database declares about the scratch it needs,
// per §4.4 "Sizing". A Database supplies one of these; Scratch-Assembly
// never inspects the database beyond this value.
type Capacities struct {
	QueueCount              uint32
	DKeyCount               uint32 // deduper log size, in bits
	SOMLocationCount        uint32
	RoleCount               uint32
	DelayCount              uint32
	AnchoredDistance        uint32
	MaxSafeAnchoredDROffset uint32
	AnchoredMatches         uint32 // width of each anchored-match log row, in bits
	AnchoredCount           uint32 // floating anchored-literal log width, in bits
	StateOffsetsEnd         uint32 // block-mode state size, in bytes
	ScratchStateSize        uint32 // full NFA state size, in bytes
	SideScratchSize         uint32 // sidecar scratch size, in bytes (0 if none)
	Mode                    Mode
}

// AnchoredRegionLen computes anchored_region_len = max(0, anchoredDistance -
// maxSafeAnchoredDROffset), per §4.4's "Sizing" paragraph.
func (c Capacities) AnchoredRegionLen() uint32 {
	if c.AnchoredDistance <= c.MaxSafeAnchoredDROffset {
		return 0
	}
	return c.AnchoredDistance - c.MaxSafeAnchoredDROffset
}

// atLeast reports whether every field of c is >= the matching field of other,
// the "all prior fields >= their first-call values" growth invariant of §8.
func (c Capacities) atLeast(other Capacities) bool {
	return c.QueueCount >= other.QueueCount &&
		c.DKeyCount >= other.DKeyCount &&
		c.SOMLocationCount >= other.SOMLocationCount &&
		c.RoleCount >= other.RoleCount &&
		c.DelayCount >= other.DelayCount &&
		c.AnchoredDistance >= other.AnchoredDistance &&
		c.MaxSafeAnchoredDROffset >= other.MaxSafeAnchoredDROffset &&
		c.AnchoredMatches >= other.AnchoredMatches &&
		c.AnchoredCount >= other.AnchoredCount &&
		c.StateOffsetsEnd >= other.StateOffsetsEnd &&
		c.ScratchStateSize >= other.ScratchStateSize &&
		c.SideScratchSize >= other.SideScratchSize
}

// maxOf raises every field of a to the larger of a's and b's value, the
// "every capacity is raised to the max-of-both" growth rule of §4.4.
func maxOf(a, b Capacities) Capacities {
	return Capacities{
		QueueCount:              maxU32(a.QueueCount, b.QueueCount),
		DKeyCount:               maxU32(a.DKeyCount, b.DKeyCount),
		SOMLocationCount:        maxU32(a.SOMLocationCount, b.SOMLocationCount),
		RoleCount:               maxU32(a.RoleCount, b.RoleCount),
		DelayCount:              maxU32(a.DelayCount, b.DelayCount),
		AnchoredDistance:        maxU32(a.AnchoredDistance, b.AnchoredDistance),
		MaxSafeAnchoredDROffset: maxU32(a.MaxSafeAnchoredDROffset, b.MaxSafeAnchoredDROffset),
		AnchoredMatches:         maxU32(a.AnchoredMatches, b.AnchoredMatches),
		AnchoredCount:           maxU32(a.AnchoredCount, b.AnchoredCount),
		StateOffsetsEnd:         maxU32(a.StateOffsetsEnd, b.StateOffsetsEnd),
		ScratchStateSize:        maxU32(a.ScratchStateSize, b.ScratchStateSize),
		SideScratchSize:         maxU32(a.SideScratchSize, b.SideScratchSize),
		Mode:                    a.Mode,
	}
}

func maxU32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// validate reports whether c names a scanning discipline Scratch-Assembly
// knows how to size for.
func (c Capacities) validate() error {
	switch c.Mode {
	case ModeBlock, ModeStreaming, ModeVectored:
		return nil
	default:
		return &ScratchError{Kind: DatabaseInvalid, Message: fmt.Sprintf("unknown Mode %d", c.Mode)}
	}
}

// Database is anything Scratch-Assembly can size a scratch region against.
// A real multi-engine database (McClellan blobs, literal matchers, and
// their combined queue/role/SOM bookkeeping) implements this by summing its
// embedded engines' requirements; mcclellan.Blob alone only ever
// contributes its own state-size fields, since queue/role/SOM counts are a
// property of the whole compiled ensemble, not any single DFA — see
// mcclellan.Blob.Capacities and DESIGN.md.
type Database interface {
	Capacities() Capacities
}
