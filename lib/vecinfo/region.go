package vecinfo

import "github.com/vectorlab/regionvec/lib/ir"

// Region delimits the subgraph of a function under transformation.
// Whole-function vectorization uses WholeFunction; outer-loop
// vectorization uses a Region scoped to one loop's blocks (OfLoop);
// the loop's exit blocks are not part of it.
type Region struct {
	blocks map[ir.BlockID]bool
	all    bool
	Entry  ir.BlockID
}

// WholeFunction returns a region covering every block of f.
func WholeFunction(f *ir.Function) *Region {
	return &Region{all: true, Entry: f.Entry}
}

// OfLoop returns a region scoped to a single loop's body.
func OfLoop(l *ir.Loop) *Region {
	blocks := map[ir.BlockID]bool{}
	for b := range l.Blocks {
		blocks[b] = true
	}
	return &Region{blocks: blocks, Entry: l.Header}
}

// InRegion reports whether block b is inside the region.
func (r *Region) InRegion(b ir.BlockID) bool {
	if r.all {
		return true
	}
	return r.blocks[b]
}

// Blocks returns every in-region block of f in function order.
func (r *Region) Blocks(f *ir.Function) []ir.BlockID {
	var out []ir.BlockID
	for _, b := range f.Blocks {
		if r.InRegion(b.ID) {
			out = append(out, b.ID)
		}
	}
	return out
}
