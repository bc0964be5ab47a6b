package dlt_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vectorlab/regionvec/lib/dlt"
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/ir/irtest"
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

func TestDivergentWhileBreakGetsSingleUniformExit(t *testing.T) {
	f, _, header, body, latch, exit, _ := irtest.DivergentWhileBreak()
	vi, _, li := prepare(f, []shape.VectorShape{shape.VaryingShape(1)})
	loop := li.LoopOf[header]
	require.NotNil(t, loop)
	require.True(t, vi.IsDivergentLoop(loop))

	require.NoError(t, dlt.Regularize(vi, li))

	require.False(t, vi.IsDivergentLoop(loop))
	require.False(t, vi.IsDivergentLoopExit(exit))

	require.Len(t, f.Block(exit).Preds, 1)
	mergedExit := f.Block(exit).Preds[0]
	require.Equal(t, ir.OpJump, f.Terminator(mergedExit).Op)
	require.Equal(t, exit, f.Terminator(mergedExit).Target)

	latchTerm := f.Terminator(latch)
	require.Equal(t, ir.OpBr, latchTerm.Op)
	require.Equal(t, header, latchTerm.TrueBlock)
	require.Equal(t, mergedExit, latchTerm.FalseBlock)

	require.Equal(t, ir.OpJump, f.Terminator(header).Op)
	require.Equal(t, body, f.Terminator(header).Target)
	require.Equal(t, ir.OpJump, f.Terminator(body).Op)
	require.Equal(t, latch, f.Terminator(body).Target)
}

func TestKillExitStaysDirectWhileDivergentExitIsMasked(t *testing.T) {
	f, header, body, killExit, divExit, _, _ := irtest.KillAndDivergentExitLoop()
	vi, _, li := prepare(f, []shape.VectorShape{shape.UniformShape(), shape.VaryingShape(1)})
	loop := li.LoopOf[header]
	require.NotNil(t, loop)
	require.True(t, vi.IsDivergentLoop(loop))

	require.NoError(t, dlt.Regularize(vi, li))

	headerTerm := f.Terminator(header)
	require.Equal(t, ir.OpBr, headerTerm.Op)
	require.True(t, headerTerm.TrueBlock == body || headerTerm.FalseBlock == body)
	require.True(t, headerTerm.TrueBlock == killExit || headerTerm.FalseBlock == killExit)

	require.Len(t, f.Block(divExit).Preds, 1)
	require.False(t, vi.IsDivergentLoopExit(divExit))
	require.False(t, vi.IsDivergentLoop(loop))
}

func TestRegularizeIsNoOpWithoutDivergentLoops(t *testing.T) {
	f, x, _, _, _ := irtest.UniformIf()
	vi, dt, li := prepare(f, []shape.VectorShape{shape.UniformShape()})
	_ = dt
	_ = x
	require.NoError(t, dlt.Regularize(vi, li))
}
