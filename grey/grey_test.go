package grey

import "testing"

func TestDefault(t *testing.T) {
	c := Default()
	if !c.AccelerateDFA || !c.AllowShermanStates || !c.AllowMcClellan8 || c.Streaming {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
}

func TestWithChaining(t *testing.T) {
	c := Default().
		WithAccelerateDFA(false).
		WithAllowShermanStates(false).
		WithAllowMcClellan8(false).
		WithStreaming(true)

	if c.AccelerateDFA || c.AllowShermanStates || c.AllowMcClellan8 || !c.Streaming {
		t.Fatalf("With* chain did not apply: %+v", c)
	}

	// Original default value must be unaffected (value semantics).
	d := Default()
	if !d.AccelerateDFA {
		t.Fatalf("Default() must not be mutated by With* on a copy")
	}
}
