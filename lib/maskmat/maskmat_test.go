package maskmat_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/ir/irtest"
	"github.com/vectorlab/regionvec/lib/maskmat"
	"github.com/vectorlab/regionvec/lib/vecinfo"
)

func TestEntryMaskIsAllTrue(t *testing.T) {
	f, _, entry, _, _ := irtest.UniformIf()
	vi := vecinfo.New(f, vecinfo.WholeFunction(f), vecinfo.VectorMapping{}, vecinfo.FunctionMap{})
	dt := ir.BuildDominatorTree(f)

	maskmat.Materialize(vi, dt)

	require.True(t, vi.GetMask(entry).KnownAllTrue())
}

func TestThenBlockMaskIsBranchPredicate(t *testing.T) {
	f, _, entry, then, _ := irtest.UniformIf()
	vi := vecinfo.New(f, vecinfo.WholeFunction(f), vecinfo.VectorMapping{}, vecinfo.FunctionMap{})
	dt := ir.BuildDominatorTree(f)

	maskmat.Materialize(vi, dt)

	term := f.Terminator(entry)
	require.Equal(t, term.Cond, vi.GetMask(then).Pred)
}

func TestJoinMaskCombinesBothEdges(t *testing.T) {
	f, _, _, _, _, join, _ := irtest.DivergentIf()
	vi := vecinfo.New(f, vecinfo.WholeFunction(f), vecinfo.VectorMapping{}, vecinfo.FunctionMap{})
	dt := ir.BuildDominatorTree(f)

	maskmat.Materialize(vi, dt)

	require.False(t, vi.GetMask(join).KnownAllTrue())
}

func TestLoopHeaderGetsPlaceholderLiveMaskPhi(t *testing.T) {
	f, _, header, _, _, _, _ := irtest.DivergentWhileBreak()
	vi := vecinfo.New(f, vecinfo.WholeFunction(f), vecinfo.VectorMapping{}, vecinfo.FunctionMap{})
	dt := ir.BuildDominatorTree(f)

	maskmat.Materialize(vi, dt)

	m := vi.GetMask(header)
	require.NotEqual(t, ir.InvalidValue, m.Pred)
	phi := f.Inst(m.Pred)
	require.Equal(t, ir.OpPhi, phi.Op)
}
