// Package irtest builds small hand-authored functions used across the
// pipeline's test suites, so each pass's tests exercise the same
// handful of representative control-flow shapes instead of every
// package hand-rolling its own.
package irtest

import "github.com/vectorlab/regionvec/lib/ir"

// UniformIf builds:
//
//	entry(x) --br x>0--> then -> join
//	                \-------------> join -> ret
//
// with x a Param, for the "uniform branch is a no-op" scenario.
func UniformIf() (f *ir.Function, x ir.ValueID, entry, then, join ir.BlockID) {
	f = ir.NewFunction("uniform_if")
	eb := f.NewBlock("entry")
	tb := f.NewBlock("then")
	jb := f.NewBlock("join")

	x = f.NewParam("x")
	b := ir.NewBuilder(f, eb.ID)
	zero := b.Const("zero", 0)
	cond := b.ICmp("cond", x, zero)
	b.Br(cond, tb.ID, jb.ID)

	b.SetBlock(tb.ID)
	b.Jump(jb.ID)

	b.SetBlock(jb.ID)
	b.Return(ir.InvalidValue)

	return f, x, eb.ID, tb.ID, jb.ID
}

// DivergentIf builds:
//
//	entry(a) --br a>0--> then(v=t) --\
//	                 \--> els(v=e)  --> join(phi v) -> ret
//
// where a is Varying, so the branch and the join phi are divergent.
func DivergentIf() (f *ir.Function, a ir.ValueID, entry, then, els, join ir.BlockID, joinPhi ir.ValueID) {
	f = ir.NewFunction("divergent_if")
	eb := f.NewBlock("entry")
	tb := f.NewBlock("then")
	xb := f.NewBlock("else")
	jb := f.NewBlock("join")

	a = f.NewParam("a")
	b := ir.NewBuilder(f, eb.ID)
	zero := b.Const("zero", 0)
	cond := b.ICmp("cond", a, zero)
	b.Br(cond, tb.ID, xb.ID)

	b.SetBlock(tb.ID)
	tval := b.Const("tval", 1)
	b.Jump(jb.ID)

	b.SetBlock(xb.ID)
	eval := b.Const("eval", 2)
	b.Jump(jb.ID)

	b.SetBlock(jb.ID)
	joinPhi = b.Phi("v", []ir.ValueID{tval, eval})
	b.Return(ir.InvalidValue)

	return f, a, eb.ID, tb.ID, xb.ID, jb.ID, joinPhi
}

// DivergentWhileBreak builds a single-latch while loop:
//
//	entry -> header --br p(i)--> body --br q(i)--> exit
//	           ^                    \-------------> latch -> header
//	           \----------------------latch
//
// p is the loop's continue test (Varying, data-dependent), q is an
// inner break test (also Varying) that exits directly to exit,
// bypassing the latch.
func DivergentWhileBreak() (f *ir.Function, entry, header, body, latch, exit ir.BlockID, breakCond ir.ValueID) {
	f = ir.NewFunction("divergent_while_break")
	eb := f.NewBlock("entry")
	hb := f.NewBlock("header")
	bb := f.NewBlock("body")
	lb := f.NewBlock("latch")
	xb := f.NewBlock("exit")

	i := f.NewParam("i")
	b := ir.NewBuilder(f, eb.ID)
	b.Jump(hb.ID)

	b.SetBlock(hb.ID)
	zero := b.Const("zero", 0)
	p := b.ICmp("p", i, zero)
	b.Br(p, bb.ID, xb.ID)

	b.SetBlock(bb.ID)
	one := b.Const("one", 1)
	q := b.ICmp("q", i, one)
	b.Br(q, xb.ID, lb.ID)

	b.SetBlock(lb.ID)
	b.Jump(hb.ID)

	b.SetBlock(xb.ID)
	b.Return(ir.InvalidValue)

	return f, eb.ID, hb.ID, bb.ID, lb.ID, xb.ID, q
}

// KillAndDivergentExitLoop builds a loop with two exits: a uniform
// flag test at the header (kill exit, every lane leaves together) and
// a per-lane value test in the body (divergent exit).
func KillAndDivergentExitLoop() (f *ir.Function, header, body, killExit, divExit ir.BlockID, uniformFlag, perLaneCond ir.ValueID) {
	f = ir.NewFunction("kill_and_divergent_exit")
	eb := f.NewBlock("entry")
	hb := f.NewBlock("header")
	bb := f.NewBlock("body")
	kb := f.NewBlock("kill_exit")
	db := f.NewBlock("div_exit")

	flag := f.NewParam("flag")
	idx := f.NewParam("idx")
	b := ir.NewBuilder(f, eb.ID)
	b.Jump(hb.ID)

	b.SetBlock(hb.ID)
	zero := b.Const("zero", 0)
	uniformFlag = b.ICmp("flagcheck", flag, zero)
	b.Br(uniformFlag, bb.ID, kb.ID)

	b.SetBlock(bb.ID)
	one := b.Const("one", 1)
	perLaneCond = b.ICmp("lanecheck", idx, one)
	b.Br(perLaneCond, db.ID, hb.ID)

	b.SetBlock(kb.ID)
	b.Return(ir.InvalidValue)

	b.SetBlock(db.ID)
	b.Return(ir.InvalidValue)

	return f, hb.ID, bb.ID, kb.ID, db.ID, uniformFlag, perLaneCond
}

// NestedDivergentIf builds a divergent branch whose "then" arm is
// itself a two-block region with its own divergent branch, not a
// single block — so the two arms reconverging at join is not a flat
// diamond:
//
//	entry(a) --br a>0--> inner --br b>0--> innerThen(v=it) --\
//	     \                          \-----> innerElse(v=ie) --> join(phi v)
//	      \-------------------------------------------> els(v=e) --/ -> ret
func NestedDivergentIf() (f *ir.Function, a, b2 ir.ValueID, entry, inner, innerThen, innerElse, els, join ir.BlockID, joinPhi ir.ValueID) {
	f = ir.NewFunction("nested_divergent_if")
	eb := f.NewBlock("entry")
	ib := f.NewBlock("inner")
	itb := f.NewBlock("inner_then")
	ieb := f.NewBlock("inner_else")
	xb := f.NewBlock("else")
	jb := f.NewBlock("join")

	a = f.NewParam("a")
	b2 = f.NewParam("b")
	bld := ir.NewBuilder(f, eb.ID)
	zero := bld.Const("zero", 0)
	outerCond := bld.ICmp("outercond", a, zero)
	bld.Br(outerCond, ib.ID, xb.ID)

	bld.SetBlock(ib.ID)
	innerCond := bld.ICmp("innercond", b2, zero)
	bld.Br(innerCond, itb.ID, ieb.ID)

	bld.SetBlock(itb.ID)
	itval := bld.Const("itval", 1)
	bld.Jump(jb.ID)

	bld.SetBlock(ieb.ID)
	ieval := bld.Const("ieval", 2)
	bld.Jump(jb.ID)

	bld.SetBlock(xb.ID)
	eval := bld.Const("eval", 3)
	bld.Jump(jb.ID)

	bld.SetBlock(jb.ID)
	joinPhi = bld.Phi("v", []ir.ValueID{itval, ieval, eval})
	bld.Return(ir.InvalidValue)

	return f, a, b2, eb.ID, ib.ID, itb.ID, ieb.ID, xb.ID, jb.ID, joinPhi
}
