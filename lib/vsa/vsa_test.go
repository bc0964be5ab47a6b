package vsa_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/vectorlab/regionvec/lib/bda"
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/ir/irtest"
	"github.com/vectorlab/regionvec/lib/shape"
	"github.com/vectorlab/regionvec/lib/vecinfo"
	"github.com/vectorlab/regionvec/lib/vsa"
)

// shapeCmp treats two VectorShapes as equal exactly when shape.Equal
// does, so a cmp.Diff against a whole map of them prints a readable
// per-key diff instead of panicking on VectorShape's unexported
// fields.
var shapeCmp = cmp.Comparer(func(a, b shape.VectorShape) bool { return shape.Equal(a, b) })

func analyze(f *ir.Function, argShapes []shape.VectorShape) *vecinfo.VectorizationInfo {
	region := vecinfo.WholeFunction(f)
	mapping := vecinfo.VectorMapping{VectorWidth: 8, ArgShapes: argShapes}
	vi := vecinfo.New(f, region, mapping, vecinfo.FunctionMap{})
	dt := ir.BuildDominatorTree(f)
	pdt := ir.BuildPostDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)
	vsa.Run(vi, dt, pdt, li)
	return vi
}

// S1: uniform-branch no-op.
func TestUniformBranchStaysUniform(t *testing.T) {
	f, x, entry, _, _ := irtest.UniformIf()
	_ = x
	vi := analyze(f, []shape.VectorShape{shape.UniformShape()})

	term := f.Terminator(entry)
	require.True(t, vi.GetShape(term.Cond).IsUniform())
}

// S2: simple divergent if — branch settles Varying, join phi becomes
// Varying because its block is join-divergent.
func TestDivergentIfMarksJoinPhiVarying(t *testing.T) {
	f, a, entry, _, _, join, joinPhi := irtest.DivergentIf()
	_ = a
	vi := analyze(f, []shape.VectorShape{shape.VaryingShape(1)})

	term := f.Terminator(entry)
	require.False(t, vi.GetShape(term.Cond).IsUniform())
	require.True(t, vi.IsJoinDivergent(join))
	require.True(t, vi.GetShape(joinPhi).IsVarying())
}

// S3: divergent while-loop with break — both the continue test and
// the break test are varying, so the loop is divergent.
func TestDivergentWhileBreakLoopIsDivergent(t *testing.T) {
	f, _, _, _, _, _, breakCond := irtest.DivergentWhileBreak()
	region := vecinfo.WholeFunction(f)
	mapping := vecinfo.VectorMapping{VectorWidth: 8, ArgShapes: []shape.VectorShape{shape.VaryingShape(1)}}
	vi := vecinfo.New(f, region, mapping, vecinfo.FunctionMap{})

	// Divergent loops are recorded per *ir.Loop, so query the same
	// LoopInfo the analysis ran with.
	dt := ir.BuildDominatorTree(f)
	pdt := ir.BuildPostDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)
	vsa.Run(vi, dt, pdt, li)

	require.False(t, vi.GetShape(breakCond).IsUniform())
	require.Len(t, li.TopLevel, 1)
	require.True(t, vi.IsDivergentLoop(li.TopLevel[0]))
}

// S6: kill vs divergent exit.
func TestKillExitVersusDivergentExit(t *testing.T) {
	f, header, body, _, _, uniformFlag, perLane := irtest.KillAndDivergentExitLoop()
	vi := analyze(f, []shape.VectorShape{shape.UniformShape(), shape.VaryingShape(1)})

	require.True(t, vi.GetShape(uniformFlag).IsUniform())
	require.False(t, vi.GetShape(perLane).IsUniform())

	dt := ir.BuildDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)
	loop := li.LoopOf[header]
	require.NotNil(t, loop)
	require.True(t, loop.Contains(body))

	exitEdges := loop.ExitEdges(f)
	require.Len(t, exitEdges, 2)
	for _, e := range exitEdges {
		exiting, exit := e[0], e[1]
		term := f.Terminator(exiting)
		if vi.GetShape(term.Cond).IsUniform() {
			require.True(t, vi.IsKillExit(exit))
		} else {
			require.True(t, vi.IsDivergentLoopExit(exit))
		}
	}
}

// S5: strided contiguous arithmetic, run through the solver end to end
// rather than calling the lattice transfer functions directly.
func TestStrideArithmeticThroughSolver(t *testing.T) {
	f := ir.NewFunction("stride")
	entry := f.NewBlock("entry")
	i := f.NewParam("i")
	b := ir.NewBuilder(f, entry.ID)
	two := b.Const("two", 2)
	one := b.Const("one", 1)
	tv := b.Mul("t", two, i)
	tv2 := b.Add("t2", tv, one)
	u := b.Add("u", tv2, i)
	b.Return(ir.InvalidValue)

	vi := analyze(f, []shape.VectorShape{shape.ContiguousShape(1, 0)})

	require.True(t, shape.Equal(shape.StridedShape(2, 1), vi.GetShape(tv2)))
	require.True(t, shape.Equal(shape.StridedShape(3, 1), vi.GetShape(u)))

	got := map[string]shape.VectorShape{"tv2": vi.GetShape(tv2), "u": vi.GetShape(u)}
	want := map[string]shape.VectorShape{"tv2": shape.StridedShape(2, 1), "u": shape.StridedShape(3, 1)}
	if diff := cmp.Diff(want, got, shapeCmp); diff != "" {
		t.Errorf("solved shapes differ from the hand-derived stride arithmetic (-want +got):\n%s", diff)
	}
}

func TestShapeMonotonicityAcrossReruns(t *testing.T) {
	f, _, _, _, _, _, _ := irtest.DivergentWhileBreak()
	vi1 := analyze(f, []shape.VectorShape{shape.VaryingShape(1)})
	vi2 := analyze(f, []shape.VectorShape{shape.VaryingShape(1)})

	for _, blk := range f.Blocks {
		for _, id := range blk.Insts {
			if !f.Inst(id).Result() {
				continue
			}
			require.True(t, shape.Equal(vi1.GetShape(id), vi2.GetShape(id)), "value %d", id)
		}
	}
}

func TestPinnedShapeSurvivesAnalysis(t *testing.T) {
	f, x, _, _, _ := irtest.UniformIf()
	region := vecinfo.WholeFunction(f)
	mapping := vecinfo.VectorMapping{VectorWidth: 8, ArgShapes: []shape.VectorShape{shape.UniformShape()}}
	vi := vecinfo.New(f, region, mapping, vecinfo.FunctionMap{})
	vi.SetPinnedShape(x, shape.VaryingShape(1))

	dt := ir.BuildDominatorTree(f)
	pdt := ir.BuildPostDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)
	vsa.Run(vi, dt, pdt, li)

	require.True(t, vi.GetShape(x).IsVarying())
}

func TestJoinDivergentBlocksOfFindsDiamondJoin(t *testing.T) {
	f, _, entry, _, _, join, _ := irtest.DivergentIf()
	dt := ir.BuildDominatorTree(f)
	joins := bda.JoinDivergentBlocksOf(f, dt, entry)
	require.True(t, joins[join])
}
