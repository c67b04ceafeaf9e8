package mcclellan

import (
	"sort"

	"github.com/coregx/mcclellan/internal/sparseset"
	"github.com/coregx/mcclellan/rawdfa"
)

// MaxShermanListLen bounds how many overriding transitions a Sherman entry
// may store; a state only promotes to Sherman when its best daddy candidate
// leaves at most this many positions different.
const MaxShermanListLen = 8

// MaxShermanSelfLoop bounds how many alphabet positions a state may
// self-loop over and still be eligible for Sherman promotion; states
// visited this heavily stay dense.
const MaxShermanSelfLoop = 20

// shermanBanWindow is the number of raw states, counted from a start state,
// that are never eligible for Sherman promotion when that start is
// cyclic-near. See DESIGN.md's Open Question decisions for why this reads
// raw IDs directly rather than a graph-distance measure.
const shermanBanWindow = 3

// ShermanEntry is the diff-encoded row of a promoted Sherman state: every
// position stores the daddy it defers to plus the small list of positions
// where its own transition differs.
//
// Chars holds the differing alphabet SYMBOLS (not raw input bytes) cast to
// byte, which is safe because impl_alpha_size is guaranteed <= 256 by
// DFA-Lowering's public contract; the blob's Step function already
// remaps a raw byte to its symbol before consulting a Sherman row, so
// storing symbols instead of representative input bytes changes nothing
// observable and avoids picking an arbitrary byte to stand in for a whole
// equivalence class.
type ShermanEntry struct {
	Daddy   rawdfa.StateID
	Chars   []byte
	Targets []rawdfa.StateID
}

// shermanState tracks, per raw state, the outcome of Sherman-Selection.
type shermanState struct {
	promoted bool
	entry    ShermanEntry
}

// SelectSherman runs Sherman-Selection over every raw state in ID order,
// mirroring mcclellancompile.cpp's find_better_daddy driven from a single
// forward walk. It requires raw IDs to already be in BFS order (the ban
// window and the "current daddy" chain both assume it); see DESIGN.md.
func SelectSherman(d *rawdfa.DFA, allow bool) map[rawdfa.StateID]ShermanEntry {
	result := make(map[rawdfa.StateID]ShermanEntry)
	if !allow {
		return result
	}

	cyclicAnchored := isCyclicNear(d, d.StartAnchored)
	cyclicFloating := d.StartFloating != rawdfa.DeadState && isCyclicNear(d, d.StartFloating)

	states := make([]shermanState, len(d.States))

	for id := rawdfa.StateID(1); int(id) < len(d.States); id++ {
		if bannedByWindow(d, cyclicAnchored, cyclicFloating, id) {
			continue
		}
		if selfLoopCount(d, id) > MaxShermanSelfLoop {
			continue
		}

		daddy, score, ok := findBetterDaddy(d, states, id)
		if !ok {
			continue
		}

		alphaSize := int(d.AlphaSize)
		if score+MaxShermanListLen < alphaSize {
			continue
		}

		entry := buildShermanEntry(d, id, daddy)
		states[id] = shermanState{promoted: true, entry: entry}
		result[id] = entry
		d.States[id].Daddy = daddy
	}

	return result
}

// bannedByWindow implements Sherman eligibility rules (i) and (ii): a state
// within the first shermanBanWindow raw IDs after a cyclic-near start is
// never eligible, on either the anchored or the floating side.
func bannedByWindow(d *rawdfa.DFA, cyclicAnchored, cyclicFloating bool, id rawdfa.StateID) bool {
	if cyclicAnchored && id >= d.StartAnchored && id < d.StartAnchored+shermanBanWindow {
		return true
	}
	if cyclicFloating && id >= d.StartFloating && id < d.StartFloating+shermanBanWindow {
		return true
	}
	return false
}

// isCyclicNear reports whether s, or any non-TOP successor of s, has a
// self-loop, or a successor transitions back to s on the same symbol that
// reached it (a 2-cycle back to the root): a two-hop neighbourhood check
// mirroring is_cyclic_near.
func isCyclicNear(d *rawdfa.DFA, s rawdfa.StateID) bool {
	if d.HasSelfLoop(s) {
		return true
	}
	top := d.TopSymbol()
	for i, target := range d.States[s].Next {
		if rawdfa.Symbol(i) == top || target == rawdfa.DeadState {
			continue
		}
		if d.HasSelfLoop(target) {
			return true
		}
		if d.States[target].Next[i] == s {
			return true
		}
	}
	return false
}

// selfLoopCount counts the non-TOP alphabet positions where s transitions
// to itself.
func selfLoopCount(d *rawdfa.DFA, s rawdfa.StateID) int {
	top := d.TopSymbol()
	n := 0
	for i, target := range d.States[s].Next {
		if rawdfa.Symbol(i) != top && target == s {
			n++
		}
	}
	return n
}

// findBetterDaddy scores every daddy candidate for id and returns the one
// with the highest row-agreement score, breaking ties by lower ID.
// Candidates that are themselves already-promoted Sherman states are
// excluded (rule iii: no daddy chains).
func findBetterDaddy(d *rawdfa.DFA, states []shermanState, id rawdfa.StateID) (rawdfa.StateID, int, bool) {
	candidates := sparseset.New(uint16(len(d.States)))
	candidates.Insert(uint16(rawdfa.DeadState))
	candidates.Insert(uint16(d.StartAnchored))
	if d.StartFloating != rawdfa.DeadState {
		candidates.Insert(uint16(d.StartFloating))
	}

	curDaddy := d.States[id].Daddy
	var grandDaddy rawdfa.StateID
	if curDaddy != rawdfa.DeadState {
		candidates.Insert(uint16(curDaddy))
		grandDaddy = d.States[curDaddy].Daddy
		if grandDaddy != rawdfa.DeadState {
			candidates.Insert(uint16(grandDaddy))
		}
	}

	addSuccessors := func(from rawdfa.StateID) {
		if from == rawdfa.DeadState {
			return
		}
		for _, target := range d.States[from].Next {
			if target != rawdfa.DeadState && target != id {
				candidates.Insert(uint16(target))
			}
		}
	}
	addSuccessors(curDaddy)
	addSuccessors(grandDaddy)

	row := d.States[id].Next
	bestID := rawdfa.DeadState
	bestScore := -1
	found := false

	for _, v := range candidates.Values() {
		cand := rawdfa.StateID(v)
		if cand == id {
			continue
		}
		if int(cand) < len(states) && states[cand].promoted {
			continue // rule iii: no Sherman daddy chains
		}
		score := rowAgreement(row, d.States[cand].Next)
		if !found || score > bestScore || (score == bestScore && cand < bestID) {
			bestID, bestScore, found = cand, score, true
		}
	}

	return bestID, bestScore, found
}

// rowAgreement counts the alphabet positions where two rows already agree.
func rowAgreement(a, b []rawdfa.StateID) int {
	n := 0
	for i := range a {
		if i < len(b) && a[i] == b[i] {
			n++
		}
	}
	return n
}

// buildShermanEntry records, for a promoted state, every position where its
// row differs from its chosen daddy's row.
func buildShermanEntry(d *rawdfa.DFA, id, daddy rawdfa.StateID) ShermanEntry {
	row := d.States[id].Next
	daddyRow := d.States[daddy].Next
	entry := ShermanEntry{Daddy: daddy}
	for sym := range row {
		if sym < len(daddyRow) && row[sym] == daddyRow[sym] {
			continue
		}
		entry.Chars = append(entry.Chars, byte(sym))
		entry.Targets = append(entry.Targets, row[sym])
	}
	sort.Sort(byChar(entry))
	return entry
}

// byChar sorts a ShermanEntry's parallel Chars/Targets slices by symbol.
type byChar ShermanEntry

func (e byChar) Len() int      { return len(e.Chars) }
func (e byChar) Swap(i, j int) {
	e.Chars[i], e.Chars[j] = e.Chars[j], e.Chars[i]
	e.Targets[i], e.Targets[j] = e.Targets[j], e.Targets[i]
}
func (e byChar) Less(i, j int) bool { return e.Chars[i] < e.Chars[j] }
