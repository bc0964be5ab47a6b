// Package linearize turns the acyclic portion of a region — loops have
// already been regularized by lib/dlt — into a form where every
// surviving conditional branch has a Uniform-shaped condition. A
// divergent (Varying-shaped) branch's two arms are serialized into a
// single straight-line path instead: both arms execute, in sequence,
// for every lane, with the values they would have produced folded
// together at the original merge point via a mask-selected chain
// computed before any edge is rewired.
package linearize

import (
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/maskmat"
	"github.com/vectorlab/regionvec/lib/rverr"
	"github.com/vectorlab/regionvec/lib/shape"
	"github.com/vectorlab/regionvec/lib/vecinfo"
)

const passName = "linearize"

// Linearize folds every non-header phi in the region into a select
// chain over its predecessors' edge masks, then serializes every
// divergent conditional branch that remains.
//
// Every phi the region will ever need is folded up front, against the
// predecessor structure as it stood before any branch is touched —
// the reason this whole pass folds phis in one pass over every block
// before serializing any branch in a second pass. That ordering is
// what lets branch serialization skip the literal placeholder "repair
// phi" machinery: by the time any edge is rewired, nothing in the
// region still reads a value through a phi, so there is nothing left
// for a rewired edge to break. Serializing a branch only ever
// redirects an edge that used to leave one arm straight into the
// other arm's reconvergence point, which can only strengthen
// dominance (the arm now running first comes to dominate the arm
// that used to run independently of it) — so every select already
// folded against the old structure stays validly dominated by its
// operands under the new one.
func Linearize(vi *vecinfo.VectorizationInfo, dt *ir.DomTree, li *ir.LoopInfo) error {
	f := vi.F
	pdt := ir.BuildPostDominatorTree(f)

	isHeader := map[ir.BlockID]bool{}
	for _, l := range li.All() {
		isHeader[l.Header] = true
	}

	edgeB := ir.NewBuilder(f, f.Entry)
	for _, b := range f.Blocks {
		if !vi.InRegion(b.ID) || isHeader[b.ID] {
			continue
		}
		if err := foldPhis(vi, edgeB, b.ID); err != nil {
			return err
		}
	}

	order, err := topoOrder(f, vi, li)
	if err != nil {
		return err
	}
	topoIndex := map[ir.BlockID]int{}
	for i, b := range order {
		topoIndex[b] = i
	}

	// Serialize innermost-first: a branch nested inside one of another
	// branch's arms is dominated by that outer branch's header, so it
	// sorts later in topological order. Walking order in reverse
	// guarantees every nested branch is already a flat jump chain by
	// the time its enclosing branch is serialized, so the enclosing
	// branch's commonPostDom query — still answered against the pdt
	// built once at the top of this function — sees an exit point a
	// nested redirect never moved.
	for i := len(order) - 1; i >= 0; i-- {
		b := order[i]
		if isHeader[b] {
			continue
		}
		term := f.Terminator(b)
		if term == nil || term.Op != ir.OpBr {
			continue
		}
		if vi.GetShape(term.Cond).IsUniform() {
			continue
		}
		if err := serializeDivergentBranch(f, dt, pdt, topoIndex, b, term); err != nil {
			return err
		}
	}

	cleanupTerminators(f, order)
	f.DomDirty = true
	return nil
}

// foldPhis replaces every phi at block b with a right-folded chain of
// selects keyed by each predecessor's edge mask, computed against b's
// predecessor set as it stands before any branch in the function is
// rewired — the reason this whole pass folds phis in one pass over
// every block before serializing any branch in a second pass.
func foldPhis(vi *vecinfo.VectorizationInfo, edgeB *ir.Builder, b ir.BlockID) error {
	f := vi.F
	phis := f.Phis(b)
	if len(phis) == 0 {
		return nil
	}
	preds := append([]ir.BlockID{}, f.Block(b).Preds...)

	selB := ir.NewBuilder(f, b)
	selB.SetInsertBefore(len(phis))

	type replacement struct{ old, new ir.ValueID }
	var repls []replacement

	for _, phi := range phis {
		if len(phi.PhiIncoming) != len(preds) {
			return rverr.InvariantErr(passName, f.Block(b).Name, "phi incoming count does not match predecessor count")
		}
		if len(preds) == 0 {
			continue
		}
		acc := phi.PhiIncoming[len(preds)-1]
		for i := len(preds) - 2; i >= 0; i-- {
			em := maskmat.EdgeMask(vi, edgeB, preds[i], b)
			sel := selB.Select("phifold", em.Pred, phi.PhiIncoming[i], acc)
			vi.SetShape(sel, shape.Join(vi.GetShape(phi.PhiIncoming[i]), vi.GetShape(acc)))
			acc = sel
		}
		repls = append(repls, replacement{old: phi.ID, new: acc})
	}

	for _, r := range repls {
		f.ReplaceAllUses(r.old, r.new)
	}
	for _, phi := range phis {
		f.Erase(phi.ID)
	}
	return nil
}

// serializeDivergentBranch replaces h's Varying-shaped conditional
// branch with an unconditional chain that runs both arms for every
// lane: the lower-topological-index arm (first) runs in its entirety,
// then control falls through into the other arm (second), then both
// rejoin at their nearest common post-dominator (join) exactly as
// they did before.
//
// An arm is not restricted to a single block: every block h's first
// arm dominates but join does not is part of that arm's region, and
// every edge leaving that region for join is redirected to second
// instead — threading second into the region's one natural exit point
// rather than requiring the two arms be a flat, single-block diamond.
// A relay block is unnecessary here because the redirected edge itself
// plays that role: it already existed, aimed at the old join, and
// this only changes where it leads.
func serializeDivergentBranch(f *ir.Function, dt, pdt *ir.DomTree, topoIndex map[ir.BlockID]int, h ir.BlockID, term *ir.Instruction) error {
	a, b := term.TrueBlock, term.FalseBlock
	first, second := a, b
	if topoIndex[second] < topoIndex[first] {
		first, second = second, first
	}

	join := commonPostDom(pdt, first, second)
	if join == ir.VirtualExit {
		return rverr.CapabilityErr(passName, f.Block(h).Name, "divergent branch arms do not reconverge through a shared block")
	}

	for _, x := range f.Blocks {
		if !dt.Dominates(first, x.ID) || dt.Dominates(join, x.ID) {
			continue
		}
		redirectExitEdges(f, x.ID, join, second)
	}

	f.RemoveEdge(h, a)
	f.RemoveEdge(h, b)
	f.Erase(term.ID)
	ir.NewBuilder(f, h).Jump(first)
	return nil
}

// redirectExitEdges retargets any edge out of x that led to join so it
// leads to second instead.
func redirectExitEdges(f *ir.Function, x, join, second ir.BlockID) {
	term := f.Terminator(x)
	if term == nil {
		return
	}
	switch term.Op {
	case ir.OpJump:
		if term.Target == join {
			redirectJump(f, x, join, second)
		}
	case ir.OpBr:
		if term.TrueBlock == join {
			f.RemoveEdge(x, join)
			term.TrueBlock = second
			f.AddEdge(x, second)
		}
		if term.FalseBlock == join {
			f.RemoveEdge(x, join)
			term.FalseBlock = second
			f.AddEdge(x, second)
		}
	}
}

func redirectJump(f *ir.Function, from, oldTarget, newTarget ir.BlockID) {
	term := f.Terminator(from)
	f.RemoveEdge(from, oldTarget)
	term.Target = newTarget
	f.AddEdge(from, newTarget)
}

// commonPostDom returns the nearest block that post-dominates both a
// and b: the point every lane reaches regardless of which way a
// divergent branch between them went. Returns ir.VirtualExit when the
// only thing a and b have in common is the function's implicit exit —
// i.e. they never actually reconverge at a real block.
func commonPostDom(pdt *ir.DomTree, a, b ir.BlockID) ir.BlockID {
	onPathFromA := map[ir.BlockID]bool{}
	for _, x := range postDomAncestors(pdt, a) {
		onPathFromA[x] = true
	}
	for _, x := range postDomAncestors(pdt, b) {
		if onPathFromA[x] {
			return x
		}
	}
	return ir.VirtualExit
}

// postDomAncestors walks from b up through the post-dominator tree to
// its root (ir.VirtualExit), inclusive of b itself.
func postDomAncestors(pdt *ir.DomTree, b ir.BlockID) []ir.BlockID {
	var out []ir.BlockID
	cur := b
	for {
		out = append(out, cur)
		parent, ok := pdt.Idom[cur]
		if !ok || parent == cur {
			return out
		}
		cur = parent
	}
}

// cleanupTerminators replaces any conditional branch whose two
// successors coincided after rewiring with a plain jump.
func cleanupTerminators(f *ir.Function, order []ir.BlockID) {
	for _, b := range order {
		term := f.Terminator(b)
		if term == nil || term.Op != ir.OpBr {
			continue
		}
		if term.TrueBlock != term.FalseBlock {
			continue
		}
		target := term.TrueBlock
		f.RemoveEdge(b, target)
		f.RemoveEdge(b, target)
		f.Erase(term.ID)
		ir.NewBuilder(f, b).Jump(target)
	}
}

// topoOrder returns every in-region block in a topological order of
// the acyclic subgraph obtained by dropping each loop's back edges.
func topoOrder(f *ir.Function, vi *vecinfo.VectorizationInfo, li *ir.LoopInfo) ([]ir.BlockID, error) {
	isBackEdge := map[[2]ir.BlockID]bool{}
	for _, l := range li.All() {
		for _, latch := range l.Latches {
			isBackEdge[[2]ir.BlockID{latch, l.Header}] = true
		}
	}

	indegree := map[ir.BlockID]int{}
	for _, b := range f.Blocks {
		if !vi.InRegion(b.ID) {
			continue
		}
		indegree[b.ID] = 0
	}
	for _, b := range f.Blocks {
		if !vi.InRegion(b.ID) {
			continue
		}
		for _, s := range b.Succs {
			if !vi.InRegion(s) || isBackEdge[[2]ir.BlockID{b.ID, s}] {
				continue
			}
			indegree[s]++
		}
	}

	var ready []ir.BlockID
	for _, b := range f.Blocks {
		if vi.InRegion(b.ID) && indegree[b.ID] == 0 {
			ready = append(ready, b.ID)
		}
	}

	var order []ir.BlockID
	for len(ready) > 0 {
		b := ready[0]
		ready = ready[1:]
		order = append(order, b)
		for _, s := range f.Block(b).Succs {
			if !vi.InRegion(s) || isBackEdge[[2]ir.BlockID{b, s}] {
				continue
			}
			indegree[s]--
			if indegree[s] == 0 {
				ready = append(ready, s)
			}
		}
	}

	if len(order) != len(indegree) {
		return nil, rverr.CapabilityErr(passName, f.Block(f.Entry).Name, "region contains irreducible control flow outside the recognized loop nest")
	}
	return order, nil
}
