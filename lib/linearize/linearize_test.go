package linearize_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/ir/irtest"
	"github.com/vectorlab/regionvec/lib/linearize"
	"github.com/vectorlab/regionvec/lib/maskmat"
	"github.com/vectorlab/regionvec/lib/shape"
	"github.com/vectorlab/regionvec/lib/vecinfo"
	"github.com/vectorlab/regionvec/lib/vsa"
)

func prepare(f *ir.Function, argShapes []shape.VectorShape) (*vecinfo.VectorizationInfo, *ir.DomTree, *ir.LoopInfo) {
	region := vecinfo.WholeFunction(f)
	mapping := vecinfo.VectorMapping{VectorWidth: 8, ArgShapes: argShapes}
	vi := vecinfo.New(f, region, mapping, vecinfo.FunctionMap{})
	dt := ir.BuildDominatorTree(f)
	pdt := ir.BuildPostDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)
	vsa.Run(vi, dt, pdt, li)
	maskmat.Materialize(vi, dt)
	return vi, dt, li
}

func TestLinearizeFoldsDivergentDiamondIntoStraightLine(t *testing.T) {
	f, _, entry, then, els, join, joinPhi := irtest.DivergentIf()
	vi, dt, li := prepare(f, []shape.VectorShape{shape.VaryingShape(1)})

	require.NoError(t, linearize.Linearize(vi, dt, li))

	require.Empty(t, f.Phis(join))
	require.Len(t, f.Block(join).Preds, 1)
	require.Equal(t, ir.OpJump, f.Terminator(entry).Op)

	entryTarget := f.Terminator(entry).Target
	require.True(t, entryTarget == then || entryTarget == els)

	require.Nil(t, f.Inst(joinPhi), "the folded phi should be erased, not just emptied")
}

func TestLinearizeSerializesNonDiamondDivergentRegion(t *testing.T) {
	f, _, _, entry, inner, innerThen, innerElse, els, join, joinPhi := irtest.NestedDivergentIf()
	vi, dt, li := prepare(f, []shape.VectorShape{shape.VaryingShape(1), shape.VaryingShape(1)})

	require.NoError(t, linearize.Linearize(vi, dt, li))

	require.Empty(t, f.Phis(join), "the three-way join phi must be folded away")
	require.Nil(t, f.Inst(joinPhi))

	require.Equal(t, ir.OpJump, f.Terminator(entry).Op)
	require.Equal(t, inner, f.Terminator(entry).Target, "entry's outer branch runs its lower-index arm (inner) unconditionally first")

	require.Equal(t, ir.OpJump, f.Terminator(innerThen).Op)
	require.Equal(t, innerElse, f.Terminator(innerThen).Target, "inner's own divergent branch is serialized the same way, threading innerElse in place of the old join target")

	require.Equal(t, ir.OpJump, f.Terminator(innerElse).Op)
	require.Equal(t, els, f.Terminator(innerElse).Target, "the inner region's one exit edge is redirected from join to the outer branch's second arm")

	require.Len(t, f.Block(join).Preds, 1, "only els should still reach join directly")
	require.Equal(t, els, f.Block(join).Preds[0])
}

func TestLinearizeLeavesUniformBranchAsConditional(t *testing.T) {
	f, _, entry, then, join := irtest.UniformIf()
	vi, dt, li := prepare(f, []shape.VectorShape{shape.UniformShape()})

	require.NoError(t, linearize.Linearize(vi, dt, li))

	term := f.Terminator(entry)
	require.Equal(t, ir.OpBr, term.Op)
	require.Equal(t, then, term.TrueBlock)
	require.Equal(t, join, term.FalseBlock)
}
