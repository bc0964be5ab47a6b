package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatticeOrder(t *testing.T) {
	require.True(t, LessEqual(UndefShape(), UniformShape()))
	require.True(t, LessEqual(UniformShape(), ContiguousShape(1, 4)))
	require.True(t, LessEqual(ContiguousShape(1, 4), StridedShape(2, 4)))
	require.True(t, LessEqual(StridedShape(2, 4), VaryingShape(4)))
}

// TestMeetCorrectness checks the lattice-meet laws: meet(a,b) is a
// lower bound of both a and b, and meet is idempotent on equal inputs.
func TestMeetCorrectness(t *testing.T) {
	samples := []VectorShape{
		UndefShape(),
		UniformShape(),
		ContiguousShape(1, 8),
		StridedShape(3, 4),
		VaryingShape(1),
	}
	for _, a := range samples {
		for _, b := range samples {
			m := Meet(a, b)
			assert.True(t, LessEqual(m, a), "meet(%v,%v)=%v not <= %v", a, b, m, a)
			assert.True(t, LessEqual(m, b), "meet(%v,%v)=%v not <= %v", a, b, m, b)
		}
		assert.True(t, Equal(Meet(a, a), a), "meet(%v,%v) != %v", a, a, a)
	}
}

func TestMeetAlignmentIsGCD(t *testing.T) {
	got := Meet(ContiguousShape(1, 12), ContiguousShape(1, 8))
	require.Equal(t, 4, got.Align())
}

func TestAddTransferStrideArithmetic(t *testing.T) {
	// shape(i)=Contiguous(1,0); t = 2*i+1 => Strided(2,1); u = t + i => Strided(3,1).
	i := ContiguousShape(1, 0)
	two := MulByConst(i, 2)
	require.Equal(t, Strided, two.Kind())
	require.Equal(t, 2, two.Stride())

	t1 := AddConstTransfer(two, 1, false)
	require.Equal(t, 2, t1.Stride())
	require.Equal(t, 1, t1.Align())

	u := AddTransfer(t1, i, false)
	require.Equal(t, Strided, u.Kind())
	require.Equal(t, 3, u.Stride())
	require.Equal(t, 1, u.Align())
}

func TestDivByZeroStrideCollapsesToVarying(t *testing.T) {
	zero := UniformShape() // a uniform zero is still Uniform at this layer's granularity
	got := DivTransfer(ContiguousShape(1, 4), zero)
	require.Equal(t, Varying, got.Kind())
}

func TestCompareTransfer(t *testing.T) {
	require.True(t, CompareTransfer(UniformShape(), UniformShape()).IsUniform())
	require.True(t, CompareTransfer(ContiguousShape(1, 4), UniformShape()).IsVarying())
}

func TestTruncateCollapsesNonUniform(t *testing.T) {
	require.True(t, TruncateTransfer(ContiguousShape(1, 4)).IsVarying())
	require.True(t, TruncateTransfer(UniformShape()).IsUniform())
}

func TestUndefPropagatesThroughArithmetic(t *testing.T) {
	require.True(t, AddTransfer(UndefShape(), UniformShape(), false).IsUndef())
	require.True(t, MulTransfer(UndefShape(), UniformShape()).IsUndef())
}
