// Package rverr defines the core's typed-error hierarchy: capability
// failures the driver reports upward and abandons vectorization for,
// versus invariant violations that are internal bugs.
package rverr

import "fmt"

// Kind classifies an Error.
type Kind int

const (
	// Capability means the input is outside the supported subset
	// (irreducible control flow, an unsupported call, a switch
	// terminator). Not fatal to the driver.
	Capability Kind = iota
	// Invariant means an internal assertion failed. PanicInvariant
	// raises it as a panic; Degrade turns it into a Capability error
	// when it is recovered at the pipeline boundary.
	Invariant
)

func (k Kind) String() string {
	if k == Capability {
		return "capability"
	}
	return "invariant"
}

// Error is the error type every pass returns on failure.
type Error struct {
	Kind    Kind
	Pass    string
	Pos     string
	Message string
}

func (e *Error) Error() string {
	if e.Pos != "" {
		return fmt.Sprintf("%s: %s: %s (%s)", e.Pass, e.Kind, e.Message, e.Pos)
	}
	return fmt.Sprintf("%s: %s: %s", e.Pass, e.Kind, e.Message)
}

// CapabilityErr constructs a Capability-kind error.
func CapabilityErr(pass, pos, format string, args ...interface{}) *Error {
	return &Error{Kind: Capability, Pass: pass, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// InvariantErr constructs an Invariant-kind error without panicking;
// callers in debug-sensitive code paths should prefer PanicInvariant.
func InvariantErr(pass, pos, format string, args ...interface{}) *Error {
	return &Error{Kind: Invariant, Pass: pass, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// PanicInvariant panics with an *Error of Invariant kind.
// lib/pipeline.BuildAndVectorize recovers it and degrades it into a
// returned Capability error. There is no separate debug mode: every
// build recovers and degrades the violation, and none aborts on it.
func PanicInvariant(pass, pos, format string, args ...interface{}) {
	panic(InvariantErr(pass, pos, format, args...))
}

// AsError type-asserts a recovered panic value back into *Error,
// wrapping anything else (a genuine Go runtime panic) as an Invariant
// error so the pipeline's recover site never needs a second type switch.
func AsError(pass string, r interface{}) *Error {
	if e, ok := r.(*Error); ok {
		return e
	}
	return &Error{Kind: Invariant, Pass: pass, Message: fmt.Sprintf("%v", r)}
}

// Degrade converts an Invariant error into a Capability error while
// preserving its message, so that the pipeline's recover site never
// crashes the caller on an internal assertion.
func Degrade(e *Error) *Error {
	if e.Kind != Invariant {
		return e
	}
	return &Error{Kind: Capability, Pass: e.Pass, Pos: e.Pos, Message: "degraded invariant violation: " + e.Message}
}
