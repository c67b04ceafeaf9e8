package rawdfa

import "fmt"

// ValidateErrorKind classifies why a raw DFA failed validation before
// DFA-Lowering was willing to consume it.
type ValidateErrorKind uint8

const (
	// EmptyStates indicates the DFA has no states at all (not even a dead
	// state), which is never valid: State 0 must always be the dead state.
	EmptyStates ValidateErrorKind = iota
	// AlphabetTooLarge indicates AlphaSize exceeds the 256+specials the
	// implementation alphabet is allowed to occupy.
	AlphabetTooLarge
	// RowWidthMismatch indicates a state's Next row length doesn't match
	// DFA.AlphaSize.
	RowWidthMismatch
	// DanglingTransition indicates a transition target is out of range.
	DanglingTransition
)

// String returns a human-readable kind name.
func (k ValidateErrorKind) String() string {
	switch k {
	case EmptyStates:
		return "EmptyStates"
	case AlphabetTooLarge:
		return "AlphabetTooLarge"
	case RowWidthMismatch:
		return "RowWidthMismatch"
	case DanglingTransition:
		return "DanglingTransition"
	default:
		return fmt.Sprintf("UnknownValidateErrorKind(%d)", k)
	}
}

// ValidateError reports a structural problem with a raw DFA.
type ValidateError struct {
	Kind    ValidateErrorKind
	Message string
}

// Error implements the error interface.
func (e *ValidateError) Error() string {
	return fmt.Sprintf("rawdfa: %s: %s", e.Kind, e.Message)
}

// Is implements error comparison for errors.Is.
func (e *ValidateError) Is(target error) bool {
	t, ok := target.(*ValidateError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Validate performs the structural sanity checks DFA-Lowering assumes hold
// on entry: at least a dead state, alphabet within range, and every row the
// right width with in-range targets.
func (d *DFA) Validate() error {
	if len(d.States) == 0 {
		return &ValidateError{Kind: EmptyStates, Message: "DFA has no states"}
	}
	if int(d.AlphaSize) > NChars+N_SPECIAL_SYMBOL {
		return &ValidateError{Kind: AlphabetTooLarge, Message: fmt.Sprintf("alpha_size=%d exceeds %d", d.AlphaSize, NChars+N_SPECIAL_SYMBOL)}
	}
	n := len(d.States)
	for i := range d.States {
		row := d.States[i].Next
		if len(row) != int(d.AlphaSize) {
			return &ValidateError{Kind: RowWidthMismatch, Message: fmt.Sprintf("state %d has %d transitions, want %d", i, len(row), d.AlphaSize)}
		}
		for _, target := range row {
			if int(target) >= n {
				return &ValidateError{Kind: DanglingTransition, Message: fmt.Sprintf("state %d transitions to out-of-range state %d", i, target)}
			}
		}
	}
	return nil
}
