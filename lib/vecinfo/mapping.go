package vecinfo

import "github.com/vectorlab/regionvec/lib/shape"

// VectorMapping is the per-function "vector ABI": the shapes assigned
// to a vectorized function's arguments and the vector width it was
// built for.
//
// What is known about a callee reached from inside the region (its
// vector variant's name and whether the scalar callee is pure) lives
// in CalleeInfo entries of a FunctionMap instead. lib/callgraph
// populates the Pure bit for real Go programs from an actual call
// graph instead of a hand-authored map.
type VectorMapping struct {
	VectorWidth int
	ArgShapes   []shape.VectorShape
}

// CalleeInfo is one function-map entry consulted by a call's shape
// transfer function: an unknown callee with side effects yields
// Varying; a known-pure callee with all-uniform arguments yields
// Uniform.
type CalleeInfo struct {
	VectorName string
	Pure       bool
}

// FunctionMap is the read-only registry keyed by scalar callee name.
type FunctionMap map[string]CalleeInfo

// Lookup returns the callee info for name, and whether it is known.
func (m FunctionMap) Lookup(name string) (CalleeInfo, bool) {
	info, ok := m[name]
	return info, ok
}
