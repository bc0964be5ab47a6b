// Package mask defines the composite (predicate, active-vector-length)
// mask value used throughout the pipeline to describe which lanes of
// a block are live.
package mask

import "github.com/vectorlab/regionvec/lib/ir"

// Mask pairs a boolean-vector predicate with an active-vector-length
// value. Either component may be ir.InvalidValue, meaning "all true"
// / "all lanes up to vector width" respectively. Two masks compare
// equal iff their components are the same SSA value.
type Mask struct {
	Pred ir.ValueID
	AVL  ir.ValueID
}

// AllTrue is the mask with no predicate and no AVL restriction.
func AllTrue() Mask { return Mask{Pred: ir.InvalidValue, AVL: ir.InvalidValue} }

// Equal implements SSA-identity equality between two masks.
func Equal(a, b Mask) bool { return a.Pred == b.Pred && a.AVL == b.AVL }

// KnownAllTrue reports whether both components are statically absent.
func (m Mask) KnownAllTrue() bool {
	return m.Pred == ir.InvalidValue && m.AVL == ir.InvalidValue
}

// KnownAllFalse reports whether the predicate is a literal zero
// constant; f is used to resolve the predicate's defining instruction.
func (m Mask) KnownAllFalse(f *ir.Function) bool {
	if m.Pred == ir.InvalidValue {
		return false
	}
	in := f.Inst(m.Pred)
	return in != nil && in.Op == ir.OpConst && in.ConstInt == 0
}

// FromPredicate constructs a mask from a predicate value with no AVL
// restriction ("best-effort inference from the i1 predicate").
func FromPredicate(pred ir.ValueID) Mask { return Mask{Pred: pred, AVL: ir.InvalidValue} }

// FromAVL constructs a mask from an active-vector-length value with
// an all-true predicate.
func FromAVL(avl ir.ValueID) Mask { return Mask{Pred: ir.InvalidValue, AVL: avl} }
