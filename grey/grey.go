// Package grey carries the small set of compile-time and scratch-assembly
// tuning switches that spec.md calls "grey-switch configuration": flags
// that change compiler behavior but are not part of the pattern language
// itself.
//
// A grey.Config is passed explicitly to mcclellan.Lower and scratch.Alloc.
// There is no package-level mutable switch state: every entry point takes
// its Config as a value.
package grey

// Config holds the grey-switches consumed by DFA-Lowering,
// Acceleration-Analysis, Sherman-Selection and Scratch-Assembly.
type Config struct {
	// AccelerateDFA enables Acceleration-Analysis (§4.2). When false, no
	// state gets an accel descriptor and has_accel is always false.
	AccelerateDFA bool

	// AllowShermanStates enables Sherman-Selection (§4.3). When false, no
	// state is ever promoted to Sherman, and the 16-bit variant's Sherman
	// region is always empty.
	AllowShermanStates bool

	// AllowMcClellan8 permits the 8-bit transition-cell encoding when the
	// DFA has at most 256 states. When false, the 16-bit encoding is always
	// used regardless of state count.
	AllowMcClellan8 bool

	// Streaming controls whether EOD-report stripping (§4.1 step 1) is
	// skipped. When true (streaming compile), reports_eod is left as-is;
	// when false (block compile), reports already present in reports are
	// removed from reports_eod as a compile-time simplification.
	Streaming bool
}

// Default returns the grey-switch configuration used by a standard
// block-mode compile: acceleration and Sherman states on, 8-bit encoding
// permitted, not streaming.
func Default() Config {
	return Config{
		AccelerateDFA:      true,
		AllowShermanStates: true,
		AllowMcClellan8:    true,
		Streaming:          false,
	}
}

// WithAccelerateDFA returns a copy of c with AccelerateDFA set.
func (c Config) WithAccelerateDFA(enabled bool) Config {
	c.AccelerateDFA = enabled
	return c
}

// WithAllowShermanStates returns a copy of c with AllowShermanStates set.
func (c Config) WithAllowShermanStates(enabled bool) Config {
	c.AllowShermanStates = enabled
	return c
}

// WithAllowMcClellan8 returns a copy of c with AllowMcClellan8 set.
func (c Config) WithAllowMcClellan8(enabled bool) Config {
	c.AllowMcClellan8 = enabled
	return c
}

// WithStreaming returns a copy of c with Streaming set.
func (c Config) WithStreaming(enabled bool) Config {
	c.Streaming = enabled
	return c
}

// Validate reports whether c is internally consistent. Currently all
// combinations of the four boolean switches are valid; Validate exists so
// callers have a stable place to check configuration and so future
// switches can add constraints without changing the call shape.
func (c Config) Validate() error {
	return nil
}
