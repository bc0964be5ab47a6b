// Package maskmat materializes per-block entry masks: the boolean
// predicate (and, where tracked, active-vector-length) describing
// which lanes are live on entry to each in-region block.
package maskmat

import (
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/mask"
	"github.com/vectorlab/regionvec/lib/shape"
	"github.com/vectorlab/regionvec/lib/vecinfo"
)

// Materialize assigns vi an entry mask for every in-region block, in
// reverse-postorder so a block's predecessors (other than loop back
// edges) are always masked before it is.
func Materialize(vi *vecinfo.VectorizationInfo, dt *ir.DomTree) {
	b := ir.NewBuilder(vi.F, vi.F.Entry)
	for _, blk := range regionRPO(vi, dt) {
		if blk == vi.Region.Entry {
			vi.SetMask(blk, regionEntryMask(vi))
			continue
		}

		var forward []mask.Mask
		var backEdges []ir.BlockID
		for _, p := range vi.F.Block(blk).Preds {
			if !vi.InRegion(p) {
				continue
			}
			if dt.Dominates(blk, p) {
				backEdges = append(backEdges, p)
				continue
			}
			forward = append(forward, EdgeMask(vi, b, p, blk))
		}

		m := orAll(vi, b, blk, forward)
		if len(backEdges) > 0 {
			m = seedLoopHeaderMask(vi, b, blk, m, backEdges)
		}
		vi.SetMask(blk, m)
	}
}

// regionEntryMask is the region's entry predicate/AVL pair, as seeded
// externally onto VI (EntryAVL) before the pipeline runs; the entry
// predicate itself is always all-true — tail predication narrows lanes
// through AVL, not through a top-level boolean mask.
func regionEntryMask(vi *vecinfo.VectorizationInfo) mask.Mask {
	if vi.EntryAVL == ir.InvalidValue {
		return mask.AllTrue()
	}
	return mask.FromAVL(vi.EntryAVL)
}

// regionRPO returns every in-region block of vi.F in reverse
// postorder, restricted to successors that are themselves in-region.
func regionRPO(vi *vecinfo.VectorizationInfo, dt *ir.DomTree) []ir.BlockID {
	visited := map[ir.BlockID]bool{}
	var order []ir.BlockID
	var dfs func(ir.BlockID)
	dfs = func(b ir.BlockID) {
		if visited[b] || !vi.InRegion(b) {
			return
		}
		visited[b] = true
		for _, s := range vi.F.Block(b).Succs {
			dfs(s)
		}
		order = append(order, b)
	}
	dfs(vi.Region.Entry)
	for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
		order[i], order[j] = order[j], order[i]
	}
	return order
}

// EdgeMask computes the edge mask from p via its branch to target:
// entryMask(p) AND branchCondition(p, target), negating the condition
// for the "false" successor. Exported so later passes that need an
// edge's contribution — the divergent-loop transform's per-exit taken
// mask, for instance — don't recompute the negation logic.
func EdgeMask(vi *vecinfo.VectorizationInfo, b *ir.Builder, p, target ir.BlockID) mask.Mask {
	pm := vi.GetMask(p)
	term := vi.F.Terminator(p)
	if term == nil || term.Op == ir.OpJump {
		return pm
	}

	cond := term.Cond
	if term.FalseBlock == target {
		cond = negate(vi, b, p, cond)
	}

	if pm.Pred == ir.InvalidValue {
		return mask.Mask{Pred: cond, AVL: pm.AVL}
	}

	var andID ir.ValueID
	b.Scoped(p, beforeTerminator(vi.F, p), func() {
		andID = b.And("edgemask", pm.Pred, cond)
	})
	vi.SetShape(andID, shapeMeet(vi, pm.Pred, cond))
	return mask.Mask{Pred: andID, AVL: pm.AVL}
}

func negate(vi *vecinfo.VectorizationInfo, b *ir.Builder, blk ir.BlockID, cond ir.ValueID) ir.ValueID {
	var allOnes, notID ir.ValueID
	b.Scoped(blk, beforeTerminator(vi.F, blk), func() {
		allOnes = b.Const("allones", -1)
		notID = b.Xor("not", cond, allOnes)
	})
	vi.SetShape(allOnes, shape.UniformShape())
	vi.SetShape(notID, vi.GetShape(cond))
	return notID
}

func beforeTerminator(f *ir.Function, blk ir.BlockID) int {
	n := len(f.Block(blk).Insts)
	if n == 0 {
		return 0
	}
	return n - 1
}

// orAll ORs a set of edge masks together, short-circuiting to all-true
// the moment any input is known all-true.
func orAll(vi *vecinfo.VectorizationInfo, b *ir.Builder, blk ir.BlockID, masks []mask.Mask) mask.Mask {
	if len(masks) == 0 {
		return mask.AllTrue()
	}
	result := masks[0]
	at := len(vi.F.Phis(blk))
	for _, m := range masks[1:] {
		if result.KnownAllTrue() || m.KnownAllTrue() {
			result = mask.AllTrue()
			continue
		}
		var orID ir.ValueID
		b.Scoped(blk, at, func() {
			orID = b.Or("joinmask", result.Pred, m.Pred)
		})
		at++
		vi.SetShape(orID, shapeMeet(vi, result.Pred, m.Pred))
		result = mask.FromPredicate(orID)
	}
	return result
}

// seedLoopHeaderMask installs a placeholder phi at the header
// combining the already-known non-latch contribution with one
// undetermined incoming per back-edge predecessor. The divergent-loop
// transform later patches this exact phi's back-edge incomings in
// place to turn it into the loop's live-mask phi, rather than
// materializing a second phi and discarding this one.
func seedLoopHeaderMask(vi *vecinfo.VectorizationInfo, b *ir.Builder, header ir.BlockID, nonLatch mask.Mask, backEdges []ir.BlockID) mask.Mask {
	incoming := make([]ir.ValueID, 0, len(vi.F.Block(header).Preds))
	isBack := map[ir.BlockID]bool{}
	for _, p := range backEdges {
		isBack[p] = true
	}
	for _, p := range vi.F.Block(header).Preds {
		if isBack[p] {
			incoming = append(incoming, ir.InvalidValue)
		} else {
			incoming = append(incoming, nonLatch.Pred)
		}
	}
	var phiID ir.ValueID
	b.Scoped(header, 0, func() {
		phiID = b.Phi("loopheadermask", incoming)
	})
	vi.SetShape(phiID, vi.GetShape(nonLatch.Pred))
	return mask.Mask{Pred: phiID, AVL: nonLatch.AVL}
}

func shapeMeet(vi *vecinfo.VectorizationInfo, a, b ir.ValueID) shape.VectorShape {
	if a == ir.InvalidValue && b == ir.InvalidValue {
		return shape.UniformShape()
	}
	if a == ir.InvalidValue {
		return vi.GetShape(b)
	}
	if b == ir.InvalidValue {
		return vi.GetShape(a)
	}
	sa, sb := vi.GetShape(a), vi.GetShape(b)
	if sa.IsUniform() && sb.IsUniform() {
		return shape.UniformShape()
	}
	return shape.VaryingShape(1)
}
