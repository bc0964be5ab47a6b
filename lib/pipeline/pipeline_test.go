package pipeline_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/pipeline"
	"github.com/vectorlab/regionvec/lib/shape"
	"github.com/vectorlab/regionvec/lib/vecinfo"
)

// addOneKernel builds the IR lib/translate would produce for:
//
//	for i := 0; i < n; i++ {
//	    out[i] = a[i] + 1
//	}
//
// with a, out, n as the function's three parameters in that order.
func addOneKernel() (f *ir.Function, a, out, n ir.ValueID, header ir.BlockID) {
	f = ir.NewFunction("add_one")
	eb := f.NewBlock("entry")
	pb := f.NewBlock("preheader")
	hb := f.NewBlock("header")
	bb := f.NewBlock("body")
	lb := f.NewBlock("latch")
	xb := f.NewBlock("exit")

	a = f.NewParam("a")
	out = f.NewParam("out")
	n = f.NewParam("n")

	b := ir.NewBuilder(f, eb.ID)
	b.Jump(pb.ID)

	b.SetBlock(pb.ID)
	i0 := b.Const("i0", 0)
	b.Jump(hb.ID)

	b.SetBlock(hb.ID)
	iv := b.Phi("iv", []ir.ValueID{i0, ir.InvalidValue})
	cond := b.ICmp("cond", iv, n)
	b.Br(cond, bb.ID, xb.ID)

	b.SetBlock(bb.ID)
	srcAddr := b.GEP("srcaddr", a, iv, 8)
	loaded := b.Load("loaded", srcAddr)
	one := b.Const("one", 1)
	sum := b.Add("sum", loaded, one)
	dstAddr := b.GEP("dstaddr", out, iv, 8)
	b.Store(dstAddr, sum)
	b.Jump(lb.ID)

	b.SetBlock(lb.ID)
	step := b.Const("step", 1)
	ivNext := b.Add("ivnext", iv, step)
	b.Jump(hb.ID)

	b.SetBlock(xb.ID)
	b.Return(ir.InvalidValue)

	f.Inst(iv).PhiIncoming[1] = ivNext

	return f, a, out, n, hb.ID
}

func addOneMapping() vecinfo.VectorMapping {
	return vecinfo.VectorMapping{
		VectorWidth: 8,
		ArgShapes: []shape.VectorShape{
			shape.ContiguousShape(1, 8),
			shape.ContiguousShape(1, 8),
			shape.UniformShape(),
		},
	}
}

func TestVectorizeFunctionRestridesCountedLoopAndLeavesOriginalUntouched(t *testing.T) {
	f, _, _, n, header := addOneKernel()
	region := vecinfo.WholeFunction(f)

	vf, err := pipeline.VectorizeFunction(f, addOneMapping(), region, vecinfo.FunctionMap{}, pipeline.Options{VectorWidth: 8})
	require.NoError(t, err)
	require.NotNil(t, vf)
	require.NotSame(t, f, vf, "a successful run should hand back a rewritten clone, not the original")

	// The clone's loop now steps by the vector width.
	// Mask materialization puts its own header-mask phi ahead of the
	// induction variable, so look the IV up by name.
	var ivPhi *ir.Instruction
	for _, p := range vf.Phis(header) {
		if p.Name == "iv" {
			ivPhi = p
		}
	}
	require.NotNil(t, ivPhi)
	var incr *ir.Instruction
	for _, inc := range ivPhi.PhiIncoming {
		if cand := vf.Inst(inc); cand != nil && cand.Op == ir.OpAdd {
			incr = cand
		}
	}
	require.NotNil(t, incr, "expected to find the induction variable's increment instruction")
	var stepVal *ir.Instruction
	if incr.Operands[0] == ivPhi.ID {
		stepVal = vf.Inst(incr.Operands[1])
	} else {
		stepVal = vf.Inst(incr.Operands[0])
	}
	require.Equal(t, int64(8), stepVal.ConstInt)

	// The clone's exit test still compares against n, not the original iv.
	term := vf.Terminator(header)
	newCond := vf.Inst(term.Cond)
	require.NotContains(t, newCond.Operands, ivPhi.ID)
	require.Contains(t, newCond.Operands, n)

	// The original function is completely untouched: its loop still
	// steps by 1 and its exit test still compares iv itself.
	origPhi := f.Phis(header)[0]
	origTerm := f.Terminator(header)
	origCond := f.Inst(origTerm.Cond)
	require.Contains(t, origCond.Operands, origPhi.ID)
}

func TestVectorizeFunctionTailPredicationSeedsEntryAVL(t *testing.T) {
	f, _, _, _, header := addOneKernel()
	dt := ir.BuildDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)
	l := li.ContainingLoop(header)
	require.NotNil(t, l)
	region := vecinfo.OfLoop(l)

	res, err := pipeline.BuildAndVectorize(f, addOneMapping(), region, vecinfo.FunctionMap{}, pipeline.Options{VectorWidth: 4, TailPredicate: true})
	require.NoError(t, err)
	require.NotEqual(t, ir.InvalidValue, res.VI.EntryAVL)
	avl := res.Func.Inst(res.VI.EntryAVL)
	require.Equal(t, ir.OpSelect, avl.Op)
}

func TestVectorizeFunctionReturnsOriginalOnCapabilityFailure(t *testing.T) {
	f, _, _, _, _ := addOneKernel()
	region := vecinfo.WholeFunction(f)

	out, err := pipeline.VectorizeFunction(f, addOneMapping(), region, vecinfo.FunctionMap{}, pipeline.Options{VectorWidth: 0})
	require.Error(t, err)
	require.Same(t, f, out, "a failed run must return the original function completely unmodified")
}
