// Package vsa implements vectorization shape analysis: a worklist
// fixed-point solver that assigns every in-region value a shape from
// the lattice in lib/shape.
package vsa

import (
	"github.com/vectorlab/regionvec/lib/bda"
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/shape"
	"github.com/vectorlab/regionvec/lib/vecinfo"
)

// solver carries the mutable state threaded through one analysis run.
type solver struct {
	vi *vecinfo.VectorizationInfo
	dt *ir.DomTree

	queue      []ir.ValueID
	queued     map[ir.ValueID]bool
	allocaOf   map[ir.ValueID]ir.ValueID   // load/store pointer -> resolved alloca, when known
	allocaLoad map[ir.ValueID][]ir.ValueID // alloca -> loads that read it
}

// Run assigns shapes to every in-region value of vi.F, iterating to a
// fixed point, then marks dead values Uniform and runs bda.Analyze to
// record join-divergent blocks, divergent loops and divergent exits.
func Run(vi *vecinfo.VectorizationInfo, dt, pdt *ir.DomTree, li *ir.LoopInfo) {
	s := &solver{
		vi:         vi,
		dt:         dt,
		queued:     map[ir.ValueID]bool{},
		allocaOf:   map[ir.ValueID]ir.ValueID{},
		allocaLoad: map[ir.ValueID][]ir.ValueID{},
	}
	s.initialize()
	s.resolvePointers()
	s.seed()
	s.solve()
	s.postProcess()
	bda.Analyze(vi, dt, pdt, li)
}

// initialize seeds argument shapes from the function mapping and
// constants as Uniform, per the analysis's initialization rule.
func (s *solver) initialize() {
	for i, p := range s.vi.F.Params {
		if s.vi.IsPinned(p) {
			continue
		}
		if i < len(s.vi.Mapping.ArgShapes) {
			s.vi.SetShape(p, s.vi.Mapping.ArgShapes[i])
		} else {
			s.vi.SetShape(p, shape.UniformShape())
		}
	}
	for _, b := range s.vi.F.Blocks {
		for _, id := range b.Insts {
			in := s.vi.F.Inst(id)
			if in.Op == ir.OpConst {
				s.vi.SetShape(id, shape.UniformShape())
			}
		}
	}
}

// resolvePointers walks GEP chains rooted at an Alloca so load/store
// shape propagation can track the alloca's aggregate shape across its
// store chain, per the analysis's "allocas reachable via store chains"
// re-enqueue rule.
func (s *solver) resolvePointers() {
	var resolve func(ptr ir.ValueID) ir.ValueID
	resolve = func(ptr ir.ValueID) ir.ValueID {
		if alloca, ok := s.allocaOf[ptr]; ok {
			return alloca
		}
		in := s.vi.F.Inst(ptr)
		if in == nil {
			return ir.InvalidValue
		}
		switch in.Op {
		case ir.OpAlloca:
			s.allocaOf[ptr] = ptr
			return ptr
		case ir.OpGEP:
			base := resolve(in.Operands[0])
			if base != ir.InvalidValue {
				s.allocaOf[ptr] = base
			}
			return base
		default:
			return ir.InvalidValue
		}
	}
	for _, b := range s.vi.F.Blocks {
		for _, id := range b.Insts {
			in := s.vi.F.Inst(id)
			if in.Op == ir.OpLoad {
				if alloca := resolve(in.Operands[0]); alloca != ir.InvalidValue {
					s.allocaLoad[alloca] = append(s.allocaLoad[alloca], id)
				}
			}
			if in.Op == ir.OpStore {
				resolve(in.Operands[0])
			}
		}
	}
}

// seed fills the worklist with every in-region instruction whose
// operands are all initialized — in practice, every in-region
// instruction, since a missing operand only ever yields Undef and the
// re-enqueue rule handles that case without special-casing it here.
func (s *solver) seed() {
	for _, b := range s.vi.F.Blocks {
		if !s.vi.InRegion(b.ID) {
			continue
		}
		for _, id := range b.Insts {
			s.push(id)
		}
	}
}

func (s *solver) push(v ir.ValueID) {
	if s.queued[v] {
		return
	}
	s.queued[v] = true
	s.queue = append(s.queue, v)
}

func (s *solver) pop() ir.ValueID {
	v := s.queue[0]
	s.queue = s.queue[1:]
	delete(s.queued, v)
	return v
}

func (s *solver) solve() {
	for len(s.queue) > 0 {
		id := s.pop()
		in := s.vi.F.Inst(id)
		if in == nil {
			continue
		}
		if !in.Result() {
			s.enqueueDependents(id, in)
			continue
		}
		newShape := s.transfer(in)
		if shape.Equal(newShape, s.vi.GetShape(id)) {
			continue
		}
		s.vi.SetShape(id, newShape)
		s.enqueueDependents(id, in)
	}
}

func (s *solver) enqueueDependents(id ir.ValueID, in *ir.Instruction) {
	for _, u := range s.vi.F.Users(id) {
		s.push(u)
	}
	if in.Op == ir.OpStore {
		ptr := in.Operands[0]
		if alloca, ok := s.allocaOf[ptr]; ok {
			for _, load := range s.allocaLoad[alloca] {
				s.push(load)
			}
		}
	}
	if in.Op == ir.OpBr && !s.vi.GetShape(in.Cond).IsUniform() {
		for j := range bda.JoinDivergentBlocksOf(s.vi.F, s.dt, in.Block) {
			if !s.vi.InRegion(j) {
				continue
			}
			if s.vi.AddJoinDivergentBlock(j) {
				for _, phi := range s.vi.F.Phis(j) {
					s.push(phi.ID)
				}
			}
		}
	}
}

// allocaShape is the meet of every value stored into alloca so far.
func (s *solver) allocaShape(alloca ir.ValueID) shape.VectorShape {
	result := shape.UndefShape()
	for _, b := range s.vi.F.Blocks {
		for _, id := range b.Insts {
			in := s.vi.F.Inst(id)
			if in.Op != ir.OpStore {
				continue
			}
			if a, ok := s.allocaOf[in.Operands[0]]; ok && a == alloca {
				result = shape.Meet(result, s.vi.GetShape(in.Operands[1]))
			}
		}
	}
	return result
}

// transfer dispatches a single instruction to its shape transfer
// function, matching the analysis's per-opcode visitor dispatch.
func (s *solver) transfer(in *ir.Instruction) shape.VectorShape {
	get := func(v ir.ValueID) shape.VectorShape { return s.vi.GetShape(v) }

	switch in.Op {
	case ir.OpParam, ir.OpConst:
		return get(in.ID)

	case ir.OpPhi:
		result := shape.UndefShape()
		for _, v := range in.PhiIncoming {
			if v == ir.InvalidValue {
				continue
			}
			result = shape.Meet(result, get(v))
		}
		if s.vi.IsJoinDivergent(in.Block) && !result.IsUndef() {
			result = shape.Meet(result, shape.VaryingShape(result.Align()))
		}
		return result

	case ir.OpAdd, ir.OpSub:
		sub := in.Op == ir.OpSub
		x, y := get(in.Operands[0]), get(in.Operands[1])
		if c, ok := constInt(s.vi.F, in.Operands[1]); ok {
			return shape.AddConstTransfer(x, int(c), sub)
		}
		if !sub {
			if c, ok := constInt(s.vi.F, in.Operands[0]); ok {
				return shape.AddConstTransfer(y, int(c), false)
			}
		}
		return shape.AddTransfer(x, y, sub)
	case ir.OpMul:
		a, b := get(in.Operands[0]), get(in.Operands[1])
		if c, ok := constInt(s.vi.F, in.Operands[1]); ok {
			return shape.MulByConst(a, int(c))
		}
		if c, ok := constInt(s.vi.F, in.Operands[0]); ok {
			return shape.MulByConst(b, int(c))
		}
		return shape.MulTransfer(a, b)
	case ir.OpShl:
		a := get(in.Operands[0])
		if c, ok := constInt(s.vi.F, in.Operands[1]); ok {
			return shape.ShiftLeftByConst(a, int(c))
		}
		return shape.VaryingShape(1)
	case ir.OpSDiv:
		return shape.DivTransfer(get(in.Operands[0]), get(in.Operands[1]))
	case ir.OpSExt, ir.OpZExt:
		return shape.ExtendTransfer(get(in.Operands[0]))
	case ir.OpTrunc:
		return shape.TruncateTransfer(get(in.Operands[0]))
	case ir.OpICmp:
		return shape.CompareTransfer(get(in.Operands[0]), get(in.Operands[1]))
	case ir.OpGEP:
		return shape.GEPTransfer(get(in.Operands[0]), get(in.Operands[1]), in.ElemSize)

	case ir.OpAlloca:
		return shape.UniformShape()

	case ir.OpLoad:
		ptr := in.Operands[0]
		if alloca, ok := s.allocaOf[ptr]; ok {
			return s.allocaShape(alloca)
		}
		if get(ptr).IsUniform() {
			return shape.UniformShape()
		}
		return shape.VaryingShape(1)

	case ir.OpStore:
		return shape.UndefShape() // no result value

	case ir.OpCall:
		callee, known := s.vi.Funcs.Lookup(in.Callee)
		if !known {
			if in.SideEffect {
				return shape.VaryingShape(1)
			}
			return shape.VaryingShape(1)
		}
		if callee.Pure {
			allUniform := true
			for _, a := range in.Operands {
				if !get(a).IsUniform() {
					allUniform = false
					break
				}
			}
			if allUniform {
				return shape.UniformShape()
			}
		}
		return shape.VaryingShape(1)

	case ir.OpSelect:
		cond, t, f := get(in.Operands[0]), get(in.Operands[1]), get(in.Operands[2])
		if !cond.IsUniform() {
			return shape.VaryingShape(1)
		}
		return shape.Meet(t, f)

	case ir.OpAnd, ir.OpOr, ir.OpXor:
		a, b := get(in.Operands[0]), get(in.Operands[1])
		if a.IsUniform() && b.IsUniform() {
			return shape.UniformShape()
		}
		return shape.VaryingShape(1)

	case ir.OpReduceAny:
		return shape.UniformShape()

	default:
		return shape.UndefShape()
	}
}

func constInt(f *ir.Function, v ir.ValueID) (int64, bool) {
	in := f.Inst(v)
	if in == nil || in.Op != ir.OpConst {
		return 0, false
	}
	return in.ConstInt, true
}

// postProcess casts any value that never left Undef (dead or
// unreachable code) up to Uniform.
func (s *solver) postProcess() {
	for _, b := range s.vi.F.Blocks {
		if !s.vi.InRegion(b.ID) {
			continue
		}
		for _, id := range b.Insts {
			in := s.vi.F.Inst(id)
			if !in.Result() {
				continue
			}
			if s.vi.GetShape(id).IsUndef() {
				s.vi.SetShape(id, shape.UniformShape())
			}
		}
	}
}
