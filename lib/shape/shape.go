// Package shape implements the vector-shape lattice used by the
// vectorization shape analysis to describe how a scalar SSA value is
// distributed across SIMD lanes.
package shape

import "fmt"

// Kind tags the category of a VectorShape.
type Kind int

const (
	// Undef is bottom: no information has reached this value yet.
	Undef Kind = iota
	// Uniform values are identical across all lanes.
	Uniform
	// Contiguous values hold base+stride*lane with unit stride.
	Contiguous
	// Strided values hold base+stride*lane with non-unit stride.
	Strided
	// Varying values are arbitrary per lane.
	Varying
)

func (k Kind) String() string {
	switch k {
	case Undef:
		return "undef"
	case Uniform:
		return "uniform"
	case Contiguous:
		return "contiguous"
	case Strided:
		return "strided"
	case Varying:
		return "varying"
	default:
		return "unknown"
	}
}

// VectorShape is a value in the shape lattice:
//
//	Undef ⊑ Uniform ⊑ Contiguous(s,a) ⊑ Strided(s,a) ⊑ Varying(a)
type VectorShape struct {
	kind   Kind
	stride int
	align  int
}

// UndefShape is the lattice bottom.
func UndefShape() VectorShape { return VectorShape{kind: Undef} }

// UniformShape is a value identical across all lanes.
func UniformShape() VectorShape { return VectorShape{kind: Uniform, stride: 0, align: 0} }

// ContiguousShape is lane i == base + stride*i, base aligned to align.
func ContiguousShape(stride, align int) VectorShape {
	if stride == 1 {
		return VectorShape{kind: Contiguous, stride: 1, align: align}
	}
	return VectorShape{kind: Strided, stride: stride, align: align}
}

// StridedShape is lane i == base + stride*i with arbitrary stride.
func StridedShape(stride, align int) VectorShape {
	return VectorShape{kind: Strided, stride: stride, align: align}
}

// VaryingShape is an arbitrary per-lane value with known base alignment.
func VaryingShape(align int) VectorShape {
	return VectorShape{kind: Varying, align: align}
}

func (s VectorShape) Kind() Kind    { return s.kind }
func (s VectorShape) Stride() int   { return s.stride }
func (s VectorShape) Align() int    { return s.align }
func (s VectorShape) IsUndef() bool { return s.kind == Undef }
func (s VectorShape) IsUniform() bool {
	return s.kind == Uniform || (s.kind == Contiguous && s.stride == 0)
}
func (s VectorShape) IsVarying() bool { return s.kind == Varying }

func (s VectorShape) String() string {
	switch s.kind {
	case Undef, Uniform:
		return s.kind.String()
	case Contiguous, Strided:
		return fmt.Sprintf("%s(stride=%d,align=%d)", s.kind, s.stride, s.align)
	case Varying:
		return fmt.Sprintf("%s(align=%d)", s.kind, s.align)
	default:
		return "?"
	}
}

// rank orders the lattice for comparisons independent of payload.
func (k Kind) rank() int {
	switch k {
	case Undef:
		return 0
	case Uniform:
		return 1
	case Contiguous:
		return 2
	case Strided:
		return 3
	case Varying:
		return 4
	default:
		return 5
	}
}

// Equal reports whether two shapes are identical under lattice equality.
func Equal(a, b VectorShape) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case Contiguous, Strided:
		return a.stride == b.stride && a.align == b.align
	case Varying:
		return a.align == b.align
	default:
		return true
	}
}

// LessEqual reports whether a ⊑ b in the shape lattice.
func LessEqual(a, b VectorShape) bool {
	return Equal(Meet(a, b), a)
}

func gcd(a, b int) int {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// Meet computes the least upper bound of a and b (RV calls this the
// "meet" operator; it moves values toward Varying, never toward Undef).
func Meet(a, b VectorShape) VectorShape {
	if a.kind == Undef {
		return b
	}
	if b.kind == Undef {
		return a
	}
	if a.kind == Uniform {
		return b
	}
	if b.kind == Uniform {
		return a
	}

	align := gcd(a.align, b.align)

	if (a.kind == Contiguous || a.kind == Strided) && (b.kind == Contiguous || b.kind == Strided) {
		if a.stride == b.stride {
			if a.kind == Contiguous && b.kind == Contiguous {
				return ContiguousShape(a.stride, align)
			}
			return StridedShape(a.stride, align)
		}
		return VaryingShape(align)
	}

	// Anything meeting a Varying value stays Varying.
	return VaryingShape(align)
}

// Join is the dual lattice operation (greatest lower bound), used by
// PHI transfer when narrowing candidate incoming shapes. In this
// lattice — which has no useful information below Undef — Join
// coincides with Meet: RV's PHI transfer is defined as the meet of
// incoming shapes, so Join is provided as an explicit alias for
// callers that mirror the source's terminology.
func Join(a, b VectorShape) VectorShape { return Meet(a, b) }

// MeetAll folds Meet across a slice, returning Undef for an empty slice.
func MeetAll(shapes []VectorShape) VectorShape {
	result := UndefShape()
	for _, s := range shapes {
		result = Meet(result, s)
	}
	return result
}

func safeMul(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	p := a * b
	if p/b != a {
		return 0, false
	}
	return p, true
}

// AddTransfer computes the shape of a+b (or a-b when sub is true).
func AddTransfer(a, b VectorShape, sub bool) VectorShape {
	if a.kind == Undef || b.kind == Undef {
		return UndefShape()
	}
	if a.IsUniform() && b.IsUniform() {
		return UniformShape()
	}
	if a.IsUniform() && (b.kind == Contiguous || b.kind == Strided) {
		if sub {
			return StridedShape(-b.stride, gcd(a.align, b.align)).normalize()
		}
		return b
	}
	if b.IsUniform() && (a.kind == Contiguous || a.kind == Strided) {
		return a
	}
	if (a.kind == Contiguous || a.kind == Strided) && (b.kind == Contiguous || b.kind == Strided) {
		stride := a.stride + b.stride
		if sub {
			stride = a.stride - b.stride
		}
		align := gcd(a.align, b.align)
		return StridedShape(stride, align).normalize()
	}
	return VaryingShape(gcd(a.align, b.align))
}

// AddConstTransfer computes the shape of factor+k (or factor-k when
// sub) for a known integer constant k: the stride is unaffected (a
// constant offset doesn't vary per lane) but the alignment refines via
// gcd, since adding a known offset to an unknown-aligned base can
// establish a stronger divisibility guarantee.
func AddConstTransfer(factor VectorShape, k int, sub bool) VectorShape {
	if factor.kind == Undef {
		return UndefShape()
	}
	if factor.IsUniform() {
		return UniformShape()
	}
	if sub {
		k = -k
	}
	align := gcd(factor.align, k)
	if factor.kind == Varying {
		return VaryingShape(align)
	}
	return StridedShape(factor.stride, align).normalize()
}

// normalize demotes a Strided shape with unit stride to Contiguous.
func (s VectorShape) normalize() VectorShape {
	if s.kind == Strided && s.stride == 1 {
		return ContiguousShape(1, s.align)
	}
	if s.kind == Strided && s.stride == 0 {
		return UniformShape()
	}
	return s
}

// MulTransfer computes the shape of a*b where neither factor's
// literal value is known (the common constant case is handled
// precisely by MulByConst instead). A non-uniform times a
// non-uniform factor is not representable in this lattice.
func MulTransfer(a, b VectorShape) VectorShape {
	if a.kind == Undef || b.kind == Undef {
		return UndefShape()
	}
	if a.IsUniform() && b.IsUniform() {
		return UniformShape()
	}
	return VaryingShape(gcd(a.align, b.align))
}

// MulByConst computes the shape of factor*k for a known integer
// constant k (the common induction-variable-scaling case, e.g. 2*i).
func MulByConst(factor VectorShape, k int) VectorShape {
	if factor.kind == Undef {
		return UndefShape()
	}
	if factor.IsUniform() {
		return UniformShape()
	}
	if factor.kind == Contiguous || factor.kind == Strided {
		align, ok := safeMul(factor.align, abs(k))
		if !ok {
			align = factor.align
		}
		stride, ok := safeMul(factor.stride, k)
		if !ok {
			return VaryingShape(factor.align)
		}
		return StridedShape(stride, align).normalize()
	}
	return VaryingShape(factor.align)
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ShiftLeftByConst computes the shape of factor<<k, equivalent to
// multiplying by 2^k.
func ShiftLeftByConst(factor VectorShape, k int) VectorShape {
	mul := 1
	for i := 0; i < k; i++ {
		mul *= 2
	}
	return MulByConst(factor, mul)
}

// ExtendTransfer handles sign/zero-extension: contiguity survives up
// to the alignment already known (widening a value cannot change
// which lanes it distinguishes), truncation collapses anything that
// isn't provably Uniform down to Varying since high bits may have
// carried the distinguishing stride information.
func ExtendTransfer(operand VectorShape) VectorShape { return operand }

func TruncateTransfer(operand VectorShape) VectorShape {
	if operand.kind == Undef {
		return UndefShape()
	}
	if operand.IsUniform() {
		return UniformShape()
	}
	return VaryingShape(1)
}

// CompareTransfer implements "a comparison of two Uniforms is
// Uniform; otherwise Varying."
func CompareTransfer(a, b VectorShape) VectorShape {
	if a.kind == Undef || b.kind == Undef {
		return UndefShape()
	}
	if a.IsUniform() && b.IsUniform() {
		return UniformShape()
	}
	return VaryingShape(1)
}

// DivTransfer implements integer division's shape transfer: division
// by a known-zero stride collapses to Varying instead of propagating a
// bogus stride; a uniform dividend divided by a uniform divisor stays
// Uniform; anything else is Varying.
func DivTransfer(a, b VectorShape) VectorShape {
	if a.kind == Undef || b.kind == Undef {
		return UndefShape()
	}
	if a.IsUniform() && b.IsUniform() {
		return UniformShape()
	}
	if b.kind == Uniform && b.stride == 0 {
		return VaryingShape(1)
	}
	return VaryingShape(1)
}

// GEPTransfer computes pointer arithmetic base[index] shapes: the
// index's shape is scaled by elemSize and added to the pointer's own
// shape, mirroring how LLVM GEPs fold into add/mul transfers.
func GEPTransfer(base VectorShape, index VectorShape, elemSize int) VectorShape {
	scaledIndex := MulByConst(index, elemSize)
	return AddTransfer(base, scaledIndex, false)
}
