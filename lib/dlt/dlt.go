// Package dlt implements the divergent-loop transform: it turns a loop
// whose trip count or exits vary per lane into one with a single
// uniform exit, by masking lanes out of further iteration instead of
// branching them out early.
package dlt

import (
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/maskmat"
	"github.com/vectorlab/regionvec/lib/rverr"
	"github.com/vectorlab/regionvec/lib/shape"
	"github.com/vectorlab/regionvec/lib/vecinfo"
)

const passName = "dlt"

// Regularize rewrites every divergent loop of li, innermost first, so
// that regularizeLoop never runs on an outer loop before an inner one
// it contains has already settled.
func Regularize(vi *vecinfo.VectorizationInfo, li *ir.LoopInfo) error {
	for _, l := range li.InnermostFirst() {
		if !vi.IsDivergentLoop(l) {
			continue
		}
		if err := regularizeLoop(vi, l); err != nil {
			return err
		}
	}
	return nil
}

type divExit struct {
	exiting ir.BlockID
	exit    ir.BlockID
}

func regularizeLoop(vi *vecinfo.VectorizationInfo, l *ir.Loop) error {
	f := vi.F

	latch, err := ensurePureLatch(f, l)
	if err != nil {
		return err
	}

	exits, exitBlock, err := collectDivergentExits(vi, l)
	if err != nil {
		return err
	}

	preds := f.Block(l.Header).Preds
	if len(preds) != 2 {
		return rverr.CapabilityErr(passName, f.Block(l.Header).Name, "loop header must have exactly one non-latch predecessor")
	}
	backIdx := indexOf(preds, latch)
	if backIdx < 0 {
		return rverr.CapabilityErr(passName, f.Block(l.Header).Name, "latch is not a direct predecessor of header")
	}
	forwardIdx := 0
	if forwardIdx == backIdx {
		forwardIdx = 1
	}

	livePhiID := vi.GetMask(l.Header).Pred
	if livePhiID == ir.InvalidValue || f.Inst(livePhiID) == nil || f.Inst(livePhiID).Op != ir.OpPhi {
		return rverr.CapabilityErr(passName, f.Block(l.Header).Name, "loop header has no materialized live-mask phi")
	}
	livePhi := f.Inst(livePhiID)

	if len(exits) == 0 {
		// Every lane that enters stays for every iteration; the loop's
		// own trip count is uniform even though something inside it
		// branches divergently.
		livePhi.PhiIncoming[backIdx] = livePhi.PhiIncoming[forwardIdx]
		vi.RemoveDivergentLoop(l)
		f.DomDirty = true
		return nil
	}

	oldExitPreds := append([]ir.BlockID{}, f.Block(exitBlock).Preds...)
	if len(oldExitPreds) != len(exits) {
		return rverr.CapabilityErr(passName, f.Block(exitBlock).Name, "divergent exit block has predecessors outside this loop's exit set")
	}

	exitMaskOf := map[ir.BlockID]ir.ValueID{}
	edgeBuilder := ir.NewBuilder(f, latch)
	for _, e := range exits {
		m := maskmat.EdgeMask(vi, edgeBuilder, e.exiting, e.exit)
		exitMaskOf[e.exiting] = m.Pred
	}

	latchInsts := f.Block(latch).Insts
	oldLatchTerm := f.Inst(latchInsts[len(latchInsts)-1])
	latchB := ir.NewBuilder(f, latch)
	latchB.SetInsertBefore(len(latchInsts) - 1)

	finished := exitMaskOf[exits[0].exiting]
	for _, e := range exits[1:] {
		m := exitMaskOf[e.exiting]
		orID := latchB.Or("exitfinished", finished, m)
		vi.SetShape(orID, shape.VaryingShape(1))
		finished = orID
	}
	notFinished := negateAt(vi, latchB, finished)
	survivingID := latchB.And("surviving", livePhiID, notFinished)
	vi.SetShape(survivingID, shape.VaryingShape(1))
	livePhi.PhiIncoming[backIdx] = survivingID

	anyActiveID := latchB.ReduceAny("anyactive", survivingID)
	vi.SetShape(anyActiveID, shape.UniformShape())

	// Snapshot every LCSSA phi at the exit block before its
	// predecessors change, then build one tracker per tracked value
	// that freezes it the iteration its owning lane exits.
	headerB := ir.NewBuilder(f, l.Header)
	headerB.SetInsertBefore(0)

	type trackedPhi struct {
		phi      *ir.Instruction
		finalVal ir.ValueID
	}
	var tracked []trackedPhi
	for _, phi := range f.Phis(exitBlock) {
		origIncoming := append([]ir.ValueID{}, phi.PhiIncoming...)

		// The forward (preheader) incoming is never read: no lane can
		// have exited before the loop's first iteration, so it is left
		// an explicit undef rather than a fabricated constant.
		seedIncoming := make([]ir.ValueID, len(preds))
		seedIncoming[forwardIdx] = ir.InvalidValue
		seedIncoming[backIdx] = ir.InvalidValue
		var trackerID ir.ValueID
		headerB.Scoped(l.Header, 0, func() {
			trackerID = headerB.Phi("tracker", seedIncoming)
		})
		vi.SetShape(trackerID, shape.VaryingShape(1))

		update := trackerID
		for i, p := range oldExitPreds {
			em, ok := exitMaskOf[p]
			if !ok {
				continue
			}
			val := origIncoming[i]
			sel := latchB.Select("trackerupdate", em, val, update)
			vi.SetShape(sel, shape.VaryingShape(1))
			update = sel
		}
		f.Inst(trackerID).PhiIncoming[backIdx] = update
		tracked = append(tracked, trackedPhi{phi: phi, finalVal: update})
	}

	// Neutralize every divergent exit edge: the exiting block always
	// continues in-loop now, the mask alone decides which lanes still
	// do real work next iteration.
	for _, e := range exits {
		term := f.Terminator(e.exiting)
		if term == nil || term.Op != ir.OpBr {
			return rverr.CapabilityErr(passName, f.Block(e.exiting).Name, "divergent exit is not a conditional branch")
		}
		loopSucc := term.TrueBlock
		if loopSucc == e.exit {
			loopSucc = term.FalseBlock
		}
		f.RemoveEdge(e.exiting, e.exit)
		f.RemoveEdge(e.exiting, loopSucc)
		f.Erase(term.ID)
		nb := ir.NewBuilder(f, e.exiting)
		nb.Jump(loopSucc)
	}

	// Replace the latch's back edge with a branch on whether any lane
	// is still active; the "done" path lands in a fresh relay block
	// that rejoins the loop's single surviving exit.
	f.RemoveEdge(latch, l.Header)
	f.Erase(oldLatchTerm.ID)
	mergedExit := f.NewBlock(f.Block(exitBlock).Name + ".regexit")
	latchB.Br(anyActiveID, l.Header, mergedExit.ID)

	meB := ir.NewBuilder(f, mergedExit.ID)
	meB.Jump(exitBlock)

	for _, t := range tracked {
		t.phi.PhiIncoming = []ir.ValueID{t.finalVal}
	}

	vi.RemoveDivergentLoop(l)
	vi.RemoveDivergentLoopExit(exitBlock)
	f.DomDirty = true
	return nil
}

func collectDivergentExits(vi *vecinfo.VectorizationInfo, l *ir.Loop) ([]divExit, ir.BlockID, error) {
	var exits []divExit
	exitBlock := ir.InvalidBlock
	for _, edge := range l.ExitEdges(vi.F) {
		exiting, exit := edge[0], edge[1]
		if !vi.IsDivergentLoopExit(exit) {
			continue
		}
		if exitBlock == ir.InvalidBlock {
			exitBlock = exit
		} else if exitBlock != exit {
			return nil, ir.InvalidBlock, rverr.CapabilityErr(passName, vi.F.Block(l.Header).Name, "loop has divergent exits to more than one block")
		}
		exits = append(exits, divExit{exiting: exiting, exit: exit})
	}
	return exits, exitBlock, nil
}

// ensurePureLatch returns a block whose only job is the back edge: if
// the natural latch also does other work (a divergent exit test that
// loops back on its false arm, say) it is left untouched and a fresh
// relay block is spliced onto just the back-edge arm instead, so the
// exit test's own semantics don't have to be touched at all.
func ensurePureLatch(f *ir.Function, l *ir.Loop) (ir.BlockID, error) {
	if len(l.Latches) != 1 {
		return ir.InvalidBlock, rverr.CapabilityErr(passName, f.Block(l.Header).Name, "multi-latch loops are not supported")
	}
	latch := l.Latches[0]
	insts := f.Block(latch).Insts
	if len(insts) == 1 && f.Inst(insts[0]).Op == ir.OpJump && f.Inst(insts[0]).Target == l.Header {
		return latch, nil
	}

	term := f.Terminator(latch)
	if term == nil {
		return ir.InvalidBlock, rverr.CapabilityErr(passName, f.Block(latch).Name, "latch block is empty")
	}

	newLatch := f.NewBlock(f.Block(latch).Name + ".purelatch")
	headerPreds := f.Block(l.Header).Preds
	idx := indexOf(headerPreds, latch)

	f.RemoveEdge(latch, l.Header)
	switch term.Op {
	case ir.OpJump:
		term.Target = newLatch.ID
	case ir.OpBr:
		if term.TrueBlock == l.Header {
			term.TrueBlock = newLatch.ID
		} else if term.FalseBlock == l.Header {
			term.FalseBlock = newLatch.ID
		} else {
			return ir.InvalidBlock, rverr.CapabilityErr(passName, f.Block(latch).Name, "latch's branch does not target the header")
		}
	default:
		return ir.InvalidBlock, rverr.CapabilityErr(passName, f.Block(latch).Name, "latch does not end in a jump or branch")
	}
	f.AddEdge(latch, newLatch.ID)

	for _, phi := range f.Phis(l.Header) {
		val := phi.PhiIncoming[idx]
		phi.PhiIncoming = append(phi.PhiIncoming[:idx], phi.PhiIncoming[idx+1:]...)
		phi.PhiIncoming = append(phi.PhiIncoming, val)
	}

	ir.NewBuilder(f, newLatch.ID).Jump(l.Header)

	l.Latches[0] = newLatch.ID
	l.Blocks[newLatch.ID] = true
	f.DomDirty = true
	return newLatch.ID, nil
}

func negateAt(vi *vecinfo.VectorizationInfo, b *ir.Builder, cond ir.ValueID) ir.ValueID {
	allOnes := b.Const("allones", -1)
	vi.SetShape(allOnes, shape.UniformShape())
	notID := b.Xor("not", cond, allOnes)
	vi.SetShape(notID, vi.GetShape(cond))
	return notID
}

func indexOf(list []ir.BlockID, v ir.BlockID) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}
