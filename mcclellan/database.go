package mcclellan

import "github.com/coregx/mcclellan/scratch"

// Capacities implements scratch.Database for a single compiled Blob. It only
// ever fills in the state-size fields a lone DFA determines on its own
// (full-state and block-mode sizes); a real multi-engine database sums these
// across every embedded McClellan/NFA/literal-matcher engine plus the
// queue/role/SOM bookkeeping the ensemble as a whole needs, none of which a
// single Blob can know — those fields are left at zero, and a caller
// assembling a full database combines several Blobs' Capacities with its own
// queue/role/SOM counts before calling scratch.Alloc.
func (b *Blob) Capacities() scratch.Capacities {
	return scratch.Capacities{
		StateOffsetsEnd:  b.NFAHeader.StreamStateSize,
		ScratchStateSize: b.NFAHeader.ScratchStateSize,
	}
}
