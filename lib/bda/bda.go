// Package bda implements branch dependence and divergence analysis:
// given the shapes a shape analysis pass has assigned and the
// post-dominator tree, it derives join-divergent blocks and divergent
// loops.
package bda

import (
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/vecinfo"
)

// JoinDivergentBlocksOf returns every block J reachable from branch's
// two successors via two node-disjoint paths — the practical
// dominator-tree characterization for reducible control flow: for
// structured (goto-free) CFGs, two disjoint paths from B to J exist
// iff B dominates J but neither individual successor of B does.
func JoinDivergentBlocksOf(f *ir.Function, dt *ir.DomTree, branch ir.BlockID) map[ir.BlockID]bool {
	succs := f.Block(branch).Succs
	joins := map[ir.BlockID]bool{}
	if len(succs) < 2 {
		return joins
	}
	for _, b := range f.Blocks {
		j := b.ID
		if j == branch {
			continue
		}
		if !dt.Dominates(branch, j) {
			continue
		}
		soleGateway := false
		for _, s := range succs {
			if dt.Dominates(s, j) {
				soleGateway = true
				break
			}
		}
		if !soleGateway {
			joins[j] = true
		}
	}
	return joins
}

// ControlDependentBlocks computes the classical control-dependence set
// of branch via the post-dominator tree (Ferrante, Ottenstein & Warren):
// X depends on the edge (branch, S) iff X post-dominates S but X does
// not post-dominate branch itself.
func ControlDependentBlocks(f *ir.Function, pdt *ir.DomTree, branch ir.BlockID) map[ir.BlockID]bool {
	deps := map[ir.BlockID]bool{}
	ipdomBranch := pdt.IDom(branch)
	for _, s := range f.Block(branch).Succs {
		cur := s
		for {
			if cur == ipdomBranch {
				break
			}
			deps[cur] = true
			next := pdt.IDom(cur)
			if next == ir.InvalidBlock || next == cur {
				break
			}
			cur = next
		}
	}
	return deps
}

// varyingBranches returns every in-region block whose terminator is a
// conditional branch with a non-uniform condition shape.
func varyingBranches(vi *vecinfo.VectorizationInfo) []ir.BlockID {
	var out []ir.BlockID
	for _, b := range vi.F.Blocks {
		if !vi.InRegion(b.ID) {
			continue
		}
		term := vi.F.Terminator(b.ID)
		if term == nil || term.Op != ir.OpBr {
			continue
		}
		if !vi.GetShape(term.Cond).IsUniform() {
			out = append(out, b.ID)
		}
	}
	return out
}

// Analyze populates vi's join-divergent-block and divergent-loop(+exit)
// sets from shapes already assigned. It is safe to re-run: it only
// ever adds to these sets, and re-running on unchanged shapes adds
// nothing new.
func Analyze(vi *vecinfo.VectorizationInfo, dt, pdt *ir.DomTree, li *ir.LoopInfo) {
	for _, b := range varyingBranches(vi) {
		for j := range JoinDivergentBlocksOf(vi.F, dt, b) {
			if !vi.InRegion(j) {
				continue
			}
			vi.AddJoinDivergentBlock(j)
		}
	}

	for _, l := range li.All() {
		divergent := false
		for _, edge := range l.ExitEdges(vi.F) {
			exiting, exit := edge[0], edge[1]
			term := vi.F.Terminator(exiting)
			if term == nil || term.Op != ir.OpBr {
				continue
			}
			if !vi.GetShape(term.Cond).IsUniform() {
				divergent = true
				vi.AddDivergentLoopExit(exit)
			}
		}
		for b := range l.Blocks {
			if vi.IsJoinDivergent(b) {
				divergent = true
			}
		}
		if divergent {
			vi.AddDivergentLoop(l)
		}
	}
}
