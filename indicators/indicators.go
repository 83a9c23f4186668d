// Package indicators provides streaming technical indicators fed one price at a time.
package indicators

// Indicator consumes prices one by one. It is deterministic, so the same
// sequence yields the same values live, in replay and in tests.
type Indicator interface {
	// Name returns a stable identifier like "EMA(20)".
	Name() string

	// Warmup returns how many updates are needed before Ready() can be true.
	Warmup() int

	// Reset clears all internal state.
	Reset()

	// Update consumes the next price.
	Update(price float64)

	// Ready reports whether Value() is meaningful (warmup completed).
	Ready() bool

	// Value returns the current value, or 0 while !Ready().
	Value() float64
}
