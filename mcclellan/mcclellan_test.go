package mcclellan

import (
	"testing"

	"github.com/coregx/mcclellan/accel"
	"github.com/coregx/mcclellan/grey"
	"github.com/coregx/mcclellan/rawdfa"
	"github.com/coregx/mcclellan/scratch"
)

// buildScenario1 is spec.md's literal concrete scenario 1:
// {0:dead, 1:start->'a'->2|else->1, 2:accept 'X'->1} with alpha_remap['a']=1,
// others 0.
func buildScenario1() *rawdfa.DFA {
	d := &rawdfa.DFA{
		AlphaSize: 3, // {0: other, 1: 'a'}, plus TOP at index 2
		States: []rawdfa.State{
			{Next: []rawdfa.StateID{0, 0, 0}},
			{Next: []rawdfa.StateID{1, 2, 1}},
			{Next: []rawdfa.StateID{1, 1, 1}, Reports: []uint32{42}},
		},
		StartAnchored: 1,
		StartFloating: rawdfa.DeadState,
		Kind:          rawdfa.KindCallback,
	}
	d.AlphaRemap['a'] = 1
	return d
}

func TestLowerScenario1SingleReportAndAux(t *testing.T) {
	raw := buildScenario1()
	cfg := grey.Default().WithAccelerateDFA(false)
	blob, _, err := Lower(raw, cfg)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if blob.Variant != Variant8 {
		t.Fatalf("variant = %v, want Variant8", blob.Variant)
	}
	if blob.Header.Flags&HeaderFlagSingleReport == 0 {
		t.Fatal("expected single-report flag to be set")
	}
	if blob.Header.ArbReport != 42 {
		t.Fatalf("ArbReport = %d, want 42", blob.Header.ArbReport)
	}

	implAccept := blob.Step(rawdfa.StateID(blob.Header.StartAnchored), 'a')
	nonEOD, _ := blob.AcceptsAt(implAccept)
	if len(nonEOD) != 1 || nonEOD[0] != 42 {
		t.Fatalf("AcceptsAt(accept state) = %v, want [42]", nonEOD)
	}
}

func TestLowerScenario2VermAccel(t *testing.T) {
	raw := buildScenario1()
	cfg := grey.Default()
	blob, accelerated, err := Lower(raw, cfg)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(accelerated) != 1 || accelerated[0] != 1 {
		t.Fatalf("accelerated raw states = %v, want [1]", accelerated)
	}

	implStart := rawdfa.StateID(blob.Header.StartAnchored)
	desc, ok := blob.AccelAt(implStart)
	if !ok {
		t.Fatal("expected the start state to carry an accel descriptor")
	}
	if desc.Type != accel.Verm || desc.C != 'a' {
		t.Fatalf("got %+v, want VERM('a')", desc)
	}
}

// buildShermanScenario is spec.md's concrete scenario 3: a state (raw ID 5)
// whose row is equal to another state's (raw ID 4) except at two symbols.
// State 4's own best daddy candidate scores too low to promote (alpha_size
// is deliberately wide), so it stays dense and is available to serve as
// state 5's daddy; state 5's near-identical row promotes cleanly.
func buildShermanScenario() *rawdfa.DFA {
	const width = 16 // 15 real symbols + TOP at index 15
	rep := func(v rawdfa.StateID, n int) []rawdfa.StateID {
		out := make([]rawdfa.StateID, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	concat := func(parts ...[]rawdfa.StateID) []rawdfa.StateID {
		var out []rawdfa.StateID
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	row4 := concat(rep(1, 7), rep(3, 9))
	row5 := concat([]rawdfa.StateID{2}, rep(1, 6), []rawdfa.StateID{2}, rep(3, 8))

	d := &rawdfa.DFA{
		AlphaSize: width,
		States: []rawdfa.State{
			{Next: rep(0, width)}, // 0: dead
			{Next: rep(1, width)}, // 1: start, self-loops everywhere
			{Next: rep(2, width)}, // 2: filler, in the ban window
			{Next: rep(3, width)}, // 3: filler, in the ban window
			{Next: row4},          // 4: daddy candidate, stays dense
			{Next: row5, Daddy: 4},
		},
		StartAnchored: 1,
		StartFloating: rawdfa.DeadState,
		Kind:          rawdfa.KindCounting,
	}
	return d
}

func TestSelectShermanConcreteScenario(t *testing.T) {
	raw := buildShermanScenario()
	result := SelectSherman(raw, true)

	if _, promoted := result[4]; promoted {
		t.Fatal("state 4 must stay dense (its own best daddy scores too low to promote)")
	}
	entry, ok := result[5]
	if !ok {
		t.Fatal("state 5 should promote to Sherman")
	}
	if entry.Daddy != 4 {
		t.Fatalf("daddy = %d, want 4", entry.Daddy)
	}
	if len(entry.Chars) != 2 {
		t.Fatalf("len(Chars) = %d, want 2", len(entry.Chars))
	}
}

// buildShermanAcceptOverrideScenario is buildShermanScenario with state 5's
// second overriding transition retargeted from filler state 2 to a new
// accepting state 6, reachable only through that override. It exercises the
// ACCEPT_FLAG bit markShermanEdges ORs into a promoted state's cached
// override targets.
func buildShermanAcceptOverrideScenario() *rawdfa.DFA {
	const width = 16
	rep := func(v rawdfa.StateID, n int) []rawdfa.StateID {
		out := make([]rawdfa.StateID, n)
		for i := range out {
			out[i] = v
		}
		return out
	}
	concat := func(parts ...[]rawdfa.StateID) []rawdfa.StateID {
		var out []rawdfa.StateID
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	row4 := concat(rep(1, 7), rep(3, 9))
	row5 := concat([]rawdfa.StateID{2}, rep(1, 6), []rawdfa.StateID{6}, rep(3, 8))

	d := &rawdfa.DFA{
		AlphaSize: width,
		States: []rawdfa.State{
			{Next: rep(0, width)}, // 0: dead
			{Next: rep(1, width)}, // 1: start, self-loops everywhere
			{Next: rep(2, width)}, // 2: filler, in the ban window
			{Next: rep(3, width)}, // 3: filler, in the ban window
			{Next: row4},          // 4: daddy candidate, stays dense
			{Next: row5, Daddy: 4},
			{Next: rep(6, width), Reports: []uint32{7}}, // 6: accepting, reached only through 5's override
		},
		StartAnchored: 1,
		StartFloating: rawdfa.DeadState,
		Kind:          rawdfa.KindCounting,
	}
	d.AlphaRemap[7] = 7
	return d
}

// TestStepMasksShermanOverrideFlags guards the flag bits markShermanEdges
// ORs into a promoted state's cached override targets: stepSherman must
// mask them off exactly like stepMain does, or Step returns a corrupted
// impl ID for any override landing on an accepting or accelerable state.
func TestStepMasksShermanOverrideFlags(t *testing.T) {
	raw := buildShermanAcceptOverrideScenario()
	cfg := grey.Default().WithAccelerateDFA(false).WithAllowMcClellan8(false)
	blob, _, err := Lower(raw, cfg)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if len(blob.Sherman) != 1 {
		t.Fatalf("len(Sherman) = %d, want 1 (state 5 should promote)", len(blob.Sherman))
	}

	// State 5 is the sole promoted state, so assignImplIDs lands it at
	// impl ID ShermanLimit; state 6 is the last "normal" state assigned,
	// one impl ID below it.
	shermanImpl := rawdfa.StateID(blob.Header.ShermanLimit)
	wantImpl := rawdfa.StateID(blob.Header.ShermanLimit - 1)

	got := blob.Step(shermanImpl, 7)
	if got&rawdfa.StateID(AcceptFlag16) != 0 {
		t.Fatalf("Step returned %#04x with ACCEPT_FLAG still set, want it masked off", uint16(got))
	}
	if got != wantImpl {
		t.Fatalf("Step(sherman, 7) = %d, want %d (impl ID of accepting state 6)", got, wantImpl)
	}
	nonEOD, _ := blob.AcceptsAt(got)
	if len(nonEOD) != 1 || nonEOD[0] != 7 {
		t.Fatalf("AcceptsAt(%d) = %v, want [7]", got, nonEOD)
	}
}

func TestLowerShermanRegionEndToEnd(t *testing.T) {
	raw := buildShermanScenario()
	cfg := grey.Default().WithAccelerateDFA(false).WithAllowMcClellan8(false)
	blob, _, err := Lower(raw, cfg)
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if blob.Variant != Variant16 {
		t.Fatalf("variant = %v, want Variant16", blob.Variant)
	}
	if len(blob.Sherman) != 1 {
		t.Fatalf("len(Sherman) = %d, want 1", len(blob.Sherman))
	}
	if len(blob.Sherman[0].Chars) != 2 {
		t.Fatalf("Sherman entry len = %d, want 2", len(blob.Sherman[0].Chars))
	}
}

func TestNoShermanStateHasAShermanDaddy(t *testing.T) {
	raw := buildShermanScenario()
	result := SelectSherman(raw, true)
	for id, entry := range result {
		if _, daddyPromoted := result[entry.Daddy]; daddyPromoted {
			t.Fatalf("state %d's daddy %d is itself Sherman", id, entry.Daddy)
		}
	}
}

// buildUniformDFA constructs an N-state DFA with a trivial 2-symbol
// alphabet where every state loops to itself on symbol 0 and advances
// (wrapping) to the next state on symbol 1, purely to exercise boundary
// state counts.
func buildUniformDFA(n int) *rawdfa.DFA {
	states := make([]rawdfa.State, n)
	for i := range states {
		next := rawdfa.StateID(i)
		if i > 0 {
			next = rawdfa.StateID(i%(n-1)) + 1
		}
		states[i] = rawdfa.State{Next: []rawdfa.StateID{rawdfa.StateID(i), next, rawdfa.StateID(i)}}
	}
	return &rawdfa.DFA{
		AlphaSize:     3,
		States:        states,
		StartAnchored: 1,
		StartFloating: rawdfa.DeadState,
		Kind:          rawdfa.KindCounting,
	}
}

func TestLowerBoundary256StatesUses8Bit(t *testing.T) {
	raw := buildUniformDFA(256)
	blob, _, err := Lower(raw, grey.Default())
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if blob.Variant != Variant8 {
		t.Fatalf("variant = %v, want Variant8 at exactly 256 states", blob.Variant)
	}
}

func TestLowerBoundary257StatesForces16Bit(t *testing.T) {
	raw := buildUniformDFA(257)
	blob, _, err := Lower(raw, grey.Default())
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}
	if blob.Variant != Variant16 {
		t.Fatalf("variant = %v, want Variant16 at 257 states", blob.Variant)
	}
}

func TestLowerStateCountExceeded(t *testing.T) {
	raw := buildUniformDFA(MaxStates + 1)
	_, _, err := Lower(raw, grey.Default())
	if err == nil {
		t.Fatal("expected an error for 65537 states")
	}
	ce, ok := err.(*CompileError)
	if !ok || ce.Kind != StateCountExceeded {
		t.Fatalf("got %v, want StateCountExceeded", err)
	}
}

func TestStepMatchesRawTransitions(t *testing.T) {
	for _, raw := range []*rawdfa.DFA{buildScenario1(), buildShermanScenario()} {
		for _, cfg := range []grey.Config{grey.Default(), grey.Default().WithAllowMcClellan8(false)} {
			blob, _, err := Lower(raw, cfg)
			if err != nil {
				t.Fatalf("Lower: %v", err)
			}
			bytes := []byte{0, 1, 2, 'a', 'X', 'z'}
			for _, b1 := range bytes {
				for _, b2 := range bytes {
					for _, b3 := range bytes {
						checkPath(t, raw, blob, []byte{b1, b2, b3})
					}
				}
			}
		}
	}
}

func checkPath(t *testing.T, raw *rawdfa.DFA, blob *Blob, path []byte) {
	t.Helper()
	rawState := raw.StartAnchored
	implState := rawdfa.StateID(blob.Header.StartAnchored)
	for _, b := range path {
		if int(b) >= len(raw.AlphaRemap) {
			return
		}
		sym := raw.AlphaRemap[b]
		if int(sym) >= len(raw.States[rawState].Next) {
			return
		}
		rawState = raw.States[rawState].Next[sym]
		implState = blob.Step(implState, b)
	}
	wantAccept := len(raw.States[rawState].Reports) > 0
	gotAccept, _ := blob.AcceptsAt(implState)
	if wantAccept != (len(gotAccept) > 0) {
		t.Fatalf("path %v: raw accept=%v, blob accept=%v", path, wantAccept, gotAccept)
	}
}

func TestBlobCapacitiesFeedsScratchAlloc(t *testing.T) {
	raw := buildScenario1()
	blob, _, err := Lower(raw, grey.Default().WithAccelerateDFA(false))
	if err != nil {
		t.Fatalf("Lower: %v", err)
	}

	var db scratch.Database = blob
	caps := db.Capacities()
	if caps.ScratchStateSize != blob.NFAHeader.ScratchStateSize {
		t.Fatalf("ScratchStateSize = %d, want %d", caps.ScratchStateSize, blob.NFAHeader.ScratchStateSize)
	}

	var slot scratch.Scratch
	if err := scratch.Alloc(blob, &slot); err != nil {
		t.Fatalf("scratch.Alloc(blob, ...): %v", err)
	}
	if _, err := scratch.Size(&slot); err != nil {
		t.Fatalf("scratch.Size: %v", err)
	}
}

func TestEODStrippingStreamingSuperset(t *testing.T) {
	raw := func() *rawdfa.DFA {
		return &rawdfa.DFA{
			AlphaSize: 2,
			States: []rawdfa.State{
				{Next: []rawdfa.StateID{0, 0}},
				{Next: []rawdfa.StateID{1, 1}, Reports: []uint32{1}, ReportsEOD: []uint32{1, 2}},
			},
			StartAnchored: 1,
			StartFloating: rawdfa.DeadState,
			Kind:          rawdfa.KindCounting,
		}
	}

	block, _, err := Lower(raw(), grey.Default().WithStreaming(false).WithAccelerateDFA(false))
	if err != nil {
		t.Fatalf("Lower (block): %v", err)
	}
	streaming, _, err := Lower(raw(), grey.Default().WithStreaming(true).WithAccelerateDFA(false))
	if err != nil {
		t.Fatalf("Lower (streaming): %v", err)
	}

	_, blockEOD := block.AcceptsAt(rawdfa.StateID(block.Header.StartAnchored))
	_, streamEOD := streaming.AcceptsAt(rawdfa.StateID(streaming.Header.StartAnchored))

	blockSet := map[uint32]bool{}
	for _, id := range blockEOD {
		blockSet[id] = true
	}
	for id := range blockSet {
		found := false
		for _, s := range streamEOD {
			if s == id {
				found = true
			}
		}
		if !found {
			t.Fatalf("streaming EOD set %v missing block-mode EOD report %d", streamEOD, id)
		}
	}
}
