// Package vecinfo defines VectorizationInfo, the mutable artifact
// shared by every pass in the pipeline: shapes, per-block masks,
// divergence sets, and pinning.
package vecinfo

import (
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/mask"
	"github.com/vectorlab/regionvec/lib/shape"
)

// TriState models the "unknown | varying | uniform" tentative block
// predicate flag tracked before a block's mask is materialized.
type TriState int

const (
	Unknown TriState = iota
	IsVarying
	IsUniform
)

// VectorizationInfo is constructed once per function/region and lives
// for the whole pipeline, from shape analysis through linearization.
type VectorizationInfo struct {
	F      *ir.Function
	Region *Region
	Mapping VectorMapping
	Funcs   FunctionMap

	EntryAVL ir.ValueID

	shapes map[ir.ValueID]shape.VectorShape
	pinned map[ir.ValueID]bool

	masks map[ir.BlockID]mask.Mask

	divergentLoops      map[*ir.Loop]bool
	divergentLoopExits  map[ir.BlockID]bool
	joinDivergentBlocks map[ir.BlockID]bool
	varyingPredicate    map[ir.BlockID]TriState
}

// New constructs an empty VectorizationInfo over f scoped to region.
func New(f *ir.Function, region *Region, m VectorMapping, funcs FunctionMap) *VectorizationInfo {
	return &VectorizationInfo{
		F:                   f,
		Region:              region,
		Mapping:             m,
		Funcs:               funcs,
		EntryAVL:            ir.InvalidValue,
		shapes:              map[ir.ValueID]shape.VectorShape{},
		pinned:              map[ir.ValueID]bool{},
		masks:               map[ir.BlockID]mask.Mask{},
		divergentLoops:      map[*ir.Loop]bool{},
		divergentLoopExits:  map[ir.BlockID]bool{},
		joinDivergentBlocks: map[ir.BlockID]bool{},
		varyingPredicate:    map[ir.BlockID]TriState{},
	}
}

func (vi *VectorizationInfo) InRegion(b ir.BlockID) bool { return vi.Region.InRegion(b) }

// --- shapes ---

func (vi *VectorizationInfo) GetShape(v ir.ValueID) shape.VectorShape {
	if s, ok := vi.shapes[v]; ok {
		return s
	}
	return shape.UndefShape()
}

func (vi *VectorizationInfo) HasKnownShape(v ir.ValueID) bool {
	s, ok := vi.shapes[v]
	return ok && !s.IsUndef()
}

// SetShape assigns v's shape unless v is pinned, in which case the
// call is a no-op: a pinned value retains its shape across any number
// of shape-analysis runs.
func (vi *VectorizationInfo) SetShape(v ir.ValueID, s shape.VectorShape) {
	if vi.pinned[v] {
		return
	}
	vi.shapes[v] = s
}

func (vi *VectorizationInfo) DropShape(v ir.ValueID) { delete(vi.shapes, v) }

func (vi *VectorizationInfo) SetPinned(v ir.ValueID) { vi.pinned[v] = true }

func (vi *VectorizationInfo) IsPinned(v ir.ValueID) bool { return vi.pinned[v] }

// SetPinnedShape freezes v's shape to s for the remaining lifetime of
// this VectorizationInfo.
func (vi *VectorizationInfo) SetPinnedShape(v ir.ValueID, s shape.VectorShape) {
	vi.pinned[v] = true
	vi.shapes[v] = s
}

// --- divergent loops ---

func (vi *VectorizationInfo) AddDivergentLoop(l *ir.Loop) bool {
	if vi.divergentLoops[l] {
		return false
	}
	vi.divergentLoops[l] = true
	return true
}

func (vi *VectorizationInfo) RemoveDivergentLoop(l *ir.Loop) { delete(vi.divergentLoops, l) }

func (vi *VectorizationInfo) IsDivergentLoop(l *ir.Loop) bool { return vi.divergentLoops[l] }

// --- divergent loop exits ---

func (vi *VectorizationInfo) AddDivergentLoopExit(b ir.BlockID) bool {
	if vi.divergentLoopExits[b] {
		return false
	}
	vi.divergentLoopExits[b] = true
	return true
}

func (vi *VectorizationInfo) RemoveDivergentLoopExit(b ir.BlockID) {
	delete(vi.divergentLoopExits, b)
}

func (vi *VectorizationInfo) IsDivergentLoopExit(b ir.BlockID) bool { return vi.divergentLoopExits[b] }

// IsKillExit is the complement of IsDivergentLoopExit: an exit is a
// kill exit iff every lane that reaches it necessarily leaves together.
func (vi *VectorizationInfo) IsKillExit(b ir.BlockID) bool { return !vi.divergentLoopExits[b] }

// --- join-divergent blocks ---

func (vi *VectorizationInfo) AddJoinDivergentBlock(b ir.BlockID) bool {
	if vi.joinDivergentBlocks[b] {
		return false
	}
	vi.joinDivergentBlocks[b] = true
	return true
}

func (vi *VectorizationInfo) IsJoinDivergent(b ir.BlockID) bool { return vi.joinDivergentBlocks[b] }

// --- tentative varying-predicate flag ---

func (vi *VectorizationInfo) VaryingPredicateFlag(b ir.BlockID) TriState {
	if s, ok := vi.varyingPredicate[b]; ok {
		return s
	}
	return Unknown
}

func (vi *VectorizationInfo) SetVaryingPredicateFlag(b ir.BlockID, varying bool) {
	if varying {
		vi.varyingPredicate[b] = IsVarying
	} else {
		vi.varyingPredicate[b] = IsUniform
	}
}

func (vi *VectorizationInfo) RemoveVaryingPredicateFlag(b ir.BlockID) {
	delete(vi.varyingPredicate, b)
}

// --- masks ---

func (vi *VectorizationInfo) HasMask(b ir.BlockID) bool {
	_, ok := vi.masks[b]
	return ok
}

func (vi *VectorizationInfo) GetMask(b ir.BlockID) mask.Mask {
	if m, ok := vi.masks[b]; ok {
		return m
	}
	return mask.AllTrue()
}

// SetMask replaces b's mask. Masks are never silently dropped by
// downstream passes; DropMask makes any intentional removal explicit
// and auditable.
func (vi *VectorizationInfo) SetMask(b ir.BlockID, m mask.Mask) { vi.masks[b] = m }

func (vi *VectorizationInfo) DropMask(b ir.BlockID) { delete(vi.masks, b) }
