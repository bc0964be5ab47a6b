// Package remainder implements the Remainder Transform: given a
// counted loop the caller wants to vectorize at a fixed width, it
// either clones the loop into a width-strided "vector" copy plus a
// scalar remainder copy that mops up the leftover iterations, or — if
// the caller requests tail predication — leaves the loop as one copy
// and instead computes the active-vector-length value the rest of the
// pipeline narrows lanes with.
//
// This runs before any VectorizationInfo exists for the function: it
// operates directly on the plain scalar IR and a loop's own trip-count
// test, ahead of shape analysis and everything downstream of it.
package remainder

import (
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/rverr"
)

const passName = "remainder"

// Options configures one Prepare call.
type Options struct {
	Width         int
	TailPredicate bool
	// TripAlign is a known divisor of the loop's trip count; when it
	// is a multiple of Width, the caller may skip calling Prepare
	// altogether since no remainder is ever needed. Prepare does not
	// itself inspect TripAlign beyond recording it, and lib/pipeline
	// does not skip RT on it either.
	TripAlign int
}

// PreparedLoop is what Prepare hands back on success.
type PreparedLoop struct {
	VectorLoop    *ir.Loop
	RemainderLoop *ir.Loop // nil when tail-predicating
	InitialAVL    ir.ValueID
}

type ivInfo struct {
	phi       *ir.Instruction
	forwardIx int
	backIx    int
	incr      *ir.Instruction // the Add at the latch computing the next iv
	step      *ir.Instruction // the step operand's Const
	exiting   ir.BlockID
	cond      *ir.Instruction // the ICmp at the exiting block
	ivIsLHS   bool
	bound     ir.ValueID
}

// Prepare runs the capability check and, on success, rewrites f so
// that l becomes a width-strided loop guaranteed never to run a
// partial vector's worth of iterations, wiring a scalar remainder
// loop (or an active-vector-length value, under tail predication)
// after it. On any capability failure it returns a nil descriptor and
// leaves f completely unmodified.
func Prepare(f *ir.Function, li *ir.LoopInfo, l *ir.Loop, opts Options) (*PreparedLoop, error) {
	iv, err := recognizeCountedLoop(f, l)
	if err != nil {
		return nil, err
	}

	if opts.TailPredicate {
		avl, err := computeInitialAVL(f, l, iv, opts.Width)
		if err != nil {
			return nil, err
		}
		restride(f, iv, opts.Width)
		return &PreparedLoop{VectorLoop: l, RemainderLoop: nil, InitialAVL: avl}, nil
	}

	blockMap, valueMap, err := cloneLoop(f, l)
	if err != nil {
		return nil, err
	}
	remLoop := remappedLoop(l, blockMap)

	finalIV := iv.phi.ID
	restride(f, iv, opts.Width)

	exitTarget := externalExitTarget(f, l, iv.exiting)
	f.RemoveEdge(iv.exiting, exitTarget)
	retarget(f.Terminator(iv.exiting), exitTarget, remLoop.Header)
	f.AddEdge(iv.exiting, remLoop.Header)

	// The clone's header predecessors were assembled in cloning order
	// (back edge from the cloned latch) plus this function's own new
	// forward edge (from the vector loop's exiting block) — not
	// necessarily in the same relative order the original header's
	// predecessors were in. Rebuild the incoming list by predecessor
	// identity rather than trust the position the generic clone left it in.
	clonedLatch := blockMap[l.Latches[0]]
	remPhi := f.Inst(valueMap[iv.phi.ID])
	newPreds := f.Block(remLoop.Header).Preds
	incoming := make([]ir.ValueID, len(newPreds))
	for i, p := range newPreds {
		switch p {
		case clonedLatch:
			incoming[i] = valueMap[iv.incr.ID]
		case iv.exiting:
			incoming[i] = finalIV
		default:
			return nil, rverr.InvariantErr(passName, f.Block(l.Header).Name, "cloned header has an unexpected predecessor")
		}
	}
	remPhi.PhiIncoming = incoming

	li.TopLevel = append(li.TopLevel, remLoop)

	return &PreparedLoop{VectorLoop: l, RemainderLoop: remLoop, InitialAVL: ir.InvalidValue}, nil
}

// recognizeCountedLoop is the capability check: single latch, a lone
// induction-variable phi at the header stepped by a constant at the
// latch, a single exiting block whose branch compares that phi
// against a loop-invariant bound, and no value defined in the loop,
// the induction variable included, escaping it.
func recognizeCountedLoop(f *ir.Function, l *ir.Loop) (*ivInfo, error) {
	pos := f.Block(l.Header).Name
	if len(l.Latches) != 1 {
		return nil, rverr.CapabilityErr(passName, pos, "multi-latch loops are not supported")
	}
	if l.Preheader == ir.InvalidBlock {
		return nil, rverr.CapabilityErr(passName, pos, "loop has no single preheader")
	}
	latch := l.Latches[0]

	phis := f.Phis(l.Header)
	if len(phis) != 1 {
		return nil, rverr.CapabilityErr(passName, pos, "loop must carry exactly one header phi (the induction variable)")
	}
	phi := phis[0]
	preds := f.Block(l.Header).Preds
	forwardIx := indexOf(preds, l.Preheader)
	backIx := indexOf(preds, latch)
	if forwardIx < 0 || backIx < 0 || forwardIx == backIx {
		return nil, rverr.CapabilityErr(passName, pos, "header predecessors do not match preheader/latch")
	}

	incrID := phi.PhiIncoming[backIx]
	incr := f.Inst(incrID)
	if incr == nil || incr.Op != ir.OpAdd || incr.Block != latch {
		return nil, rverr.CapabilityErr(passName, pos, "latch does not compute a simple increment of the induction variable")
	}
	var step *ir.Instruction
	switch {
	case incr.Operands[0] == phi.ID:
		step = f.Inst(incr.Operands[1])
	case incr.Operands[1] == phi.ID:
		step = f.Inst(incr.Operands[0])
	default:
		return nil, rverr.CapabilityErr(passName, pos, "latch increment does not reference the induction variable")
	}
	if step == nil || step.Op != ir.OpConst {
		return nil, rverr.CapabilityErr(passName, pos, "induction variable step is not a constant")
	}

	exitingBlocks := l.ExitingBlocks(f)
	if len(exitingBlocks) != 1 {
		return nil, rverr.CapabilityErr(passName, pos, "loop must have exactly one exiting block")
	}
	exiting := exitingBlocks[0]
	term := f.Terminator(exiting)
	if term == nil || term.Op != ir.OpBr {
		return nil, rverr.CapabilityErr(passName, pos, "exiting block does not end in a conditional branch")
	}
	cond := f.Inst(term.Cond)
	if cond == nil || cond.Op != ir.OpICmp {
		return nil, rverr.CapabilityErr(passName, pos, "exit test is not a comparison")
	}
	var ivIsLHS bool
	var bound ir.ValueID
	switch {
	case cond.Operands[0] == phi.ID:
		ivIsLHS, bound = true, cond.Operands[1]
	case cond.Operands[1] == phi.ID:
		ivIsLHS, bound = false, cond.Operands[0]
	default:
		return nil, rverr.CapabilityErr(passName, pos, "exit test does not compare the induction variable")
	}
	boundInst := f.Inst(bound)
	if boundInst != nil && boundInst.Op != ir.OpConst && l.Contains(boundInst.Block) {
		return nil, rverr.CapabilityErr(passName, pos, "loop bound is not invariant")
	}

	if err := checkNoLiveOut(f, l); err != nil {
		return nil, err
	}

	return &ivInfo{
		phi: phi, forwardIx: forwardIx, backIx: backIx,
		incr: incr, step: step, exiting: exiting, cond: cond,
		ivIsLHS: ivIsLHS, bound: bound,
	}, nil
}

// checkNoLiveOut rejects a loop that has any value read after the
// loop, including the induction variable itself: splitting the loop
// into a strided vector copy and a scalar remainder means there is no
// longer one single "final" value of anything defined inside it — the
// real final value comes from the remainder loop's own copy, not this
// one, and this pass does not thread that rewiring through.
func checkNoLiveOut(f *ir.Function, l *ir.Loop) error {
	for b := range l.Blocks {
		for _, id := range f.Block(b).Insts {
			for _, u := range f.Users(id) {
				user := f.Inst(u)
				if user == nil || l.Contains(user.Block) {
					continue
				}
				return rverr.CapabilityErr(passName, f.Block(l.Header).Name, "loop has a value live out of the loop; the remainder transform does not support this")
			}
		}
	}
	return nil
}

// restride changes a recognized counted loop's step to width and
// shifts its exit test from "iv (cmp) bound" to "iv+width (cmp)
// bound", so the loop body only ever runs with a full vector's worth
// of remaining trip count ahead of it.
func restride(f *ir.Function, iv *ivInfo, width int) {
	iv.step.ConstInt = int64(width)

	b := ir.NewBuilder(f, iv.exiting)
	b.SetInsertBefore(len(f.Block(iv.exiting).Insts) - 1)
	wConst := b.Const("vw", int64(width))
	ivPlusW := b.Add("ivnext", iv.phi.ID, wConst)
	var newCond ir.ValueID
	if iv.ivIsLHS {
		newCond = b.ICmp("vexit", ivPlusW, iv.bound)
	} else {
		newCond = b.ICmp("vexit", iv.bound, ivPlusW)
	}
	f.Terminator(iv.exiting).Cond = newCond
}

// externalExitTarget returns whichever successor of the exiting block
// lies outside the loop: the block control reaches once the loop is
// done.
func externalExitTarget(f *ir.Function, l *ir.Loop, exiting ir.BlockID) ir.BlockID {
	term := f.Terminator(exiting)
	if !l.Contains(term.TrueBlock) {
		return term.TrueBlock
	}
	return term.FalseBlock
}

func retarget(term *ir.Instruction, old, new ir.BlockID) {
	if term.TrueBlock == old {
		term.TrueBlock = new
	}
	if term.FalseBlock == old {
		term.FalseBlock = new
	}
}

// computeInitialAVL builds, in the loop's preheader, the clamp
// max(min(bound-iv0, width), 0) — the number of lanes active on the
// loop's first iteration, and the value lib/pipeline seeds
// VectorizationInfo.EntryAVL with when the loop's region is this loop.
func computeInitialAVL(f *ir.Function, l *ir.Loop, iv *ivInfo, width int) (ir.ValueID, error) {
	iv0 := iv.phi.PhiIncoming[iv.forwardIx]
	b := ir.NewBuilder(f, l.Preheader)
	b.SetInsertBefore(len(f.Block(l.Preheader).Insts) - 1)

	diff := b.Sub("avl_diff", iv.bound, iv0)
	wConst := b.Const("avl_width", int64(width))
	ltW := b.ICmp("avl_lt_width", diff, wConst)
	clampedHigh := b.Select("avl_clamp_high", ltW, diff, wConst)
	zero := b.Const("avl_zero", 0)
	gtZero := b.ICmp("avl_gt_zero", zero, clampedHigh)
	avl := b.Select("avl0", gtZero, clampedHigh, zero)
	return avl, nil
}

// cloneLoop duplicates every block and instruction in l.Blocks,
// sharing (rather than duplicating) any value or block the loop body
// references but does not itself define. It is a pure structural
// clone: no block is wired to anything outside l.Blocks yet — that is
// Prepare's job once it knows which edge the vector loop hands off to
// the clone through.
func cloneLoop(f *ir.Function, l *ir.Loop) (map[ir.BlockID]ir.BlockID, map[ir.ValueID]ir.ValueID, error) {
	blockMap := map[ir.BlockID]ir.BlockID{}
	valueMap := map[ir.ValueID]ir.ValueID{}

	var order []ir.BlockID
	for b := range l.Blocks {
		order = append(order, b)
		nb := f.NewBlock(f.Block(b).Name + ".rem")
		blockMap[b] = nb.ID
	}

	for _, b := range order {
		for _, id := range f.Block(b).Insts {
			orig := f.Inst(id)
			clone := &ir.Instruction{
				Op: orig.Op, Name: orig.Name + ".rem", Callee: orig.Callee,
				SideEffect: orig.SideEffect, ConstInt: orig.ConstInt, ElemSize: orig.ElemSize,
			}
			cid := f.Append(blockMap[b], clone)
			valueMap[id] = cid
		}
	}

	remapV := func(v ir.ValueID) ir.ValueID {
		if v == ir.InvalidValue {
			return v
		}
		if nv, ok := valueMap[v]; ok {
			return nv
		}
		return v
	}
	remapB := func(bid ir.BlockID) ir.BlockID {
		if bid == ir.InvalidBlock {
			return bid
		}
		if nb, ok := blockMap[bid]; ok {
			return nb
		}
		return bid
	}

	for _, b := range order {
		for _, id := range f.Block(b).Insts {
			orig := f.Inst(id)
			clone := f.Inst(valueMap[id])
			for _, op := range orig.Operands {
				clone.Operands = append(clone.Operands, remapV(op))
			}
			for _, op := range orig.PhiIncoming {
				clone.PhiIncoming = append(clone.PhiIncoming, remapV(op))
			}
			clone.Cond = remapV(orig.Cond)
			clone.TrueBlock = remapB(orig.TrueBlock)
			clone.FalseBlock = remapB(orig.FalseBlock)
			clone.Target = remapB(orig.Target)
		}
	}

	for _, b := range order {
		term := f.Terminator(blockMap[b])
		if term == nil {
			return nil, nil, rverr.InvariantErr(passName, f.Block(b).Name, "cloned block has no terminator")
		}
		switch term.Op {
		case ir.OpJump:
			f.AddEdge(blockMap[b], term.Target)
		case ir.OpBr:
			f.AddEdge(blockMap[b], term.TrueBlock)
			f.AddEdge(blockMap[b], term.FalseBlock)
		}
	}

	return blockMap, valueMap, nil
}

func remappedLoop(l *ir.Loop, blockMap map[ir.BlockID]ir.BlockID) *ir.Loop {
	blocks := map[ir.BlockID]bool{}
	for b := range l.Blocks {
		blocks[blockMap[b]] = true
	}
	var latches []ir.BlockID
	for _, latch := range l.Latches {
		latches = append(latches, blockMap[latch])
	}
	return &ir.Loop{
		Header:    blockMap[l.Header],
		Latches:   latches,
		Blocks:    blocks,
		Preheader: ir.InvalidBlock,
	}
}

func indexOf(list []ir.BlockID, v ir.BlockID) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
