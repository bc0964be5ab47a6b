package ir_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vectorlab/regionvec/lib/ir"
)

// buildDiamond builds:
//
//	entry -> then, else
//	then, else -> join
//	join -> return
func buildDiamond() (*ir.Function, ir.BlockID, ir.BlockID, ir.BlockID, ir.BlockID) {
	f := ir.NewFunction("diamond")
	entry := f.NewBlock("entry")
	then := f.NewBlock("then")
	els := f.NewBlock("else")
	join := f.NewBlock("join")

	b := ir.NewBuilder(f, entry.ID)
	cond := b.Const("cond", 1)
	b.Br(cond, then.ID, els.ID)

	b.SetBlock(then.ID)
	b.Jump(join.ID)

	b.SetBlock(els.ID)
	b.Jump(join.ID)

	b.SetBlock(join.ID)
	b.Return(ir.InvalidValue)

	return f, entry.ID, then.ID, els.ID, join.ID
}

func TestDominatorTreeDiamond(t *testing.T) {
	f, entry, then, els, join := buildDiamond()
	dt := ir.BuildDominatorTree(f)

	require.True(t, dt.Dominates(entry, then))
	require.True(t, dt.Dominates(entry, els))
	require.True(t, dt.Dominates(entry, join))
	require.False(t, dt.Dominates(then, join))
	require.False(t, dt.Dominates(els, join))
	require.Equal(t, entry, dt.IDom(join))
}

func TestPostDominatorTreeDiamond(t *testing.T) {
	f, entry, then, els, join := buildDiamond()
	pdt := ir.BuildPostDominatorTree(f)

	require.True(t, pdt.Dominates(join, then))
	require.True(t, pdt.Dominates(join, els))
	require.True(t, pdt.Dominates(join, entry))
	require.False(t, pdt.Dominates(then, entry))
}

func buildLoop() (*ir.Function, ir.BlockID, ir.BlockID, ir.BlockID, ir.BlockID) {
	f := ir.NewFunction("loop")
	entry := f.NewBlock("entry")
	header := f.NewBlock("header")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")

	b := ir.NewBuilder(f, entry.ID)
	b.Jump(header.ID)

	b.SetBlock(header.ID)
	cond := b.Const("cond", 1)
	b.Br(cond, body.ID, exit.ID)

	b.SetBlock(body.ID)
	b.Jump(header.ID)

	b.SetBlock(exit.ID)
	b.Return(ir.InvalidValue)

	return f, entry.ID, header.ID, body.ID, exit.ID
}

func TestLoopInfoDetectsSingleLoop(t *testing.T) {
	f, _, header, body, exit := buildLoop()
	dt := ir.BuildDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)

	require.Len(t, li.TopLevel, 1)
	l := li.TopLevel[0]
	require.Equal(t, header, l.Header)
	require.True(t, l.Contains(header))
	require.True(t, l.Contains(body))
	require.False(t, l.Contains(exit))
	require.Equal(t, []ir.BlockID{body}, l.Latches)
}

func TestLoopInfoNesting(t *testing.T) {
	f := ir.NewFunction("nested")
	entry := f.NewBlock("entry")
	outerHeader := f.NewBlock("outer.header")
	innerHeader := f.NewBlock("inner.header")
	innerBody := f.NewBlock("inner.body")
	outerLatch := f.NewBlock("outer.latch")
	exit := f.NewBlock("exit")

	b := ir.NewBuilder(f, entry.ID)
	b.Jump(outerHeader.ID)

	b.SetBlock(outerHeader.ID)
	c1 := b.Const("c1", 1)
	b.Br(c1, innerHeader.ID, exit.ID)

	b.SetBlock(innerHeader.ID)
	c2 := b.Const("c2", 1)
	b.Br(c2, innerBody.ID, outerLatch.ID)

	b.SetBlock(innerBody.ID)
	b.Jump(innerHeader.ID)

	b.SetBlock(outerLatch.ID)
	b.Jump(outerHeader.ID)

	b.SetBlock(exit.ID)
	b.Return(ir.InvalidValue)

	dt := ir.BuildDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)

	require.Len(t, li.TopLevel, 1)
	outer := li.TopLevel[0]
	require.Equal(t, outerHeader.ID, outer.Header)
	require.Len(t, outer.SubLoops, 1)
	inner := outer.SubLoops[0]
	require.Equal(t, innerHeader.ID, inner.Header)

	order := li.InnermostFirst()
	require.Equal(t, inner, order[0])
	require.Equal(t, outer, order[1])
}

func TestBuilderScopedRestoresInsertionPoint(t *testing.T) {
	f := ir.NewFunction("scoped")
	entry := f.NewBlock("entry")
	other := f.NewBlock("other")
	b := ir.NewBuilder(f, entry.ID)
	b.Const("a", 1)

	b.Scoped(other.ID, 0, func() {
		b.Const("inserted-into-other", 2)
	})

	require.Equal(t, entry.ID, b.Block)
	require.Len(t, f.Block(other.ID).Insts, 1)
}
