package rawdfa

import "testing"

// buildSample constructs the literal scenario from spec.md §8's "Concrete
// scenarios": {0:dead, 1:start-> 'a' -> 2 | else -> 1, 2: accept 'X' -> 1}
// with alpha_remap['a']=1, others 0.
func buildSample() *DFA {
	d := &DFA{
		AlphaSize: 3, // impl symbols: {0 (other), 1 ('a')}, plus TOP at index 2
		States: []State{
			{Next: []StateID{0, 0, 0}},          // dead
			{Next: []StateID{1, 2, 1}},           // start: else->1, 'a'->2, TOP->1
			{Next: []StateID{1, 1, 1}, Reports: []uint32{42}}, // accept
		},
		StartAnchored: 1,
		StartFloating: DeadState,
		Kind:          KindCallback,
	}
	d.AlphaRemap['a'] = 1
	return d
}

func TestValidateAcceptsSample(t *testing.T) {
	d := buildSample()
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestImplAlphaSize(t *testing.T) {
	d := buildSample()
	if got := d.ImplAlphaSize(); got != 2 {
		t.Fatalf("ImplAlphaSize() = %d, want 2", got)
	}
	if got := d.TopSymbol(); got != 2 {
		t.Fatalf("TopSymbol() = %d, want 2", got)
	}
}

func TestHasSelfLoopIgnoresTop(t *testing.T) {
	d := buildSample()
	// Retarget state 1's byte symbols to state 2 so that it transitions to
	// itself only via TOP (index 2); that must not count as a self-loop.
	d.States[1].Next = []StateID{2, 2, 1}
	if d.HasSelfLoop(1) {
		t.Fatalf("state 1 should not be considered self-looping (only loops via TOP)")
	}
	// State 2 loops to state 1, not itself; also not a self-loop.
	if d.HasSelfLoop(2) {
		t.Fatalf("state 2 has no self-loop")
	}
}

func TestStripExtraEODReports(t *testing.T) {
	d := &DFA{
		AlphaSize: 1,
		States: []State{
			{Next: []StateID{0}},
			{Next: []StateID{0}, Reports: []uint32{1, 2}, ReportsEOD: []uint32{2, 3}},
		},
	}
	d.StripExtraEODReports()
	got := d.States[1].ReportsEOD
	if len(got) != 1 || got[0] != 3 {
		t.Fatalf("StripExtraEODReports: got %v, want [3]", got)
	}
	if !d.HasEODReports() {
		t.Fatalf("HasEODReports should still be true after stripping (report 3 remains)")
	}
}

func TestValidateRejectsBadRowWidth(t *testing.T) {
	d := &DFA{
		AlphaSize: 2,
		States: []State{
			{Next: []StateID{0}}, // wrong width: 1 instead of 2
		},
	}
	err := d.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidateError)
	if !ok || ve.Kind != RowWidthMismatch {
		t.Fatalf("expected RowWidthMismatch, got %v", err)
	}
}

func TestValidateRejectsDanglingTransition(t *testing.T) {
	d := &DFA{
		AlphaSize: 1,
		States: []State{
			{Next: []StateID{5}},
		},
	}
	err := d.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidateError)
	if !ok || ve.Kind != DanglingTransition {
		t.Fatalf("expected DanglingTransition, got %v", err)
	}
}

func TestValidateRejectsEmpty(t *testing.T) {
	d := &DFA{}
	err := d.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidateError)
	if !ok || ve.Kind != EmptyStates {
		t.Fatalf("expected EmptyStates, got %v", err)
	}
}
