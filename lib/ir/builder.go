package ir

// Builder tracks a current insertion point (block, offset) and emits
// new instructions there. It is the "scoped IR builder" the design
// notes call for: Scoped runs a callback at a given position and
// restores the previous insertion point afterwards, so callers can
// insert around a branch without leaking their insertion point to the
// rest of the pass.
type Builder struct {
	F        *Function
	Block    BlockID
	insertAt int // index within F.Block(Block).Insts to insert before; -1 == append
}

// NewBuilder creates a builder positioned to append at the end of block.
func NewBuilder(f *Function, block BlockID) *Builder {
	return &Builder{F: f, Block: block, insertAt: -1}
}

// SetInsertBefore repositions the builder to insert before the
// instruction currently at index idx in its current block.
func (b *Builder) SetInsertBefore(idx int) { b.insertAt = idx }

// SetBlock repositions the builder to append at the end of block.
func (b *Builder) SetBlock(block BlockID) {
	b.Block = block
	b.insertAt = -1
}

// Scoped runs fn with the builder positioned as given, then restores
// the builder's original block/position on every exit path, including
// a panic unwinding through fn.
func (b *Builder) Scoped(block BlockID, insertAt int, fn func()) {
	savedBlock, savedAt := b.Block, b.insertAt
	b.Block, b.insertAt = block, insertAt
	defer func() { b.Block, b.insertAt = savedBlock, savedAt }()
	fn()
}

func (b *Builder) emit(inst *Instruction) ValueID {
	blk := b.F.Block(b.Block)
	if b.insertAt < 0 || b.insertAt >= len(blk.Insts) {
		return b.F.Append(b.Block, inst)
	}
	id := b.F.InsertAt(b.Block, b.insertAt, inst)
	b.insertAt++
	return id
}

func (b *Builder) Phi(name string, incoming []ValueID) ValueID {
	return b.emit(&Instruction{Op: OpPhi, PhiIncoming: append([]ValueID{}, incoming...), Name: name})
}

func (b *Builder) Select(name string, cond, ifTrue, ifFalse ValueID) ValueID {
	return b.emit(&Instruction{Op: OpSelect, Operands: []ValueID{cond, ifTrue, ifFalse}, Name: name})
}

func (b *Builder) And(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpAnd, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) Or(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpOr, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) Xor(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpXor, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) ReduceAny(name string, v ValueID) ValueID {
	return b.emit(&Instruction{Op: OpReduceAny, Operands: []ValueID{v}, Name: name})
}

func (b *Builder) Call(name, callee string, sideEffect bool, args []ValueID) ValueID {
	return b.emit(&Instruction{Op: OpCall, Callee: callee, SideEffect: sideEffect, Operands: args, Name: name})
}

// Jump replaces the builder's current block's terminator with an
// unconditional jump to target. Any previously-terminating
// instruction in the block must already have been erased by the
// caller; Jump only appends.
func (b *Builder) Jump(target BlockID) ValueID {
	id := b.F.Append(b.Block, &Instruction{Op: OpJump, Target: target})
	b.F.AddEdge(b.Block, target)
	return id
}

// Br appends a conditional branch terminator.
func (b *Builder) Br(cond ValueID, ifTrue, ifFalse BlockID) ValueID {
	id := b.F.Append(b.Block, &Instruction{Op: OpBr, Cond: cond, TrueBlock: ifTrue, FalseBlock: ifFalse})
	b.F.AddEdge(b.Block, ifTrue)
	b.F.AddEdge(b.Block, ifFalse)
	return id
}

func (b *Builder) Const(name string, v int64) ValueID {
	return b.emit(&Instruction{Op: OpConst, ConstInt: v, Name: name})
}

func (b *Builder) Add(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpAdd, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) Sub(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpSub, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) Mul(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpMul, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) Shl(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpShl, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) SDiv(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpSDiv, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) SExt(name string, x ValueID) ValueID {
	return b.emit(&Instruction{Op: OpSExt, Operands: []ValueID{x}, Name: name})
}

func (b *Builder) ZExt(name string, x ValueID) ValueID {
	return b.emit(&Instruction{Op: OpZExt, Operands: []ValueID{x}, Name: name})
}

func (b *Builder) Trunc(name string, x ValueID) ValueID {
	return b.emit(&Instruction{Op: OpTrunc, Operands: []ValueID{x}, Name: name})
}

func (b *Builder) ICmp(name string, x, y ValueID) ValueID {
	return b.emit(&Instruction{Op: OpICmp, Operands: []ValueID{x, y}, Name: name})
}

func (b *Builder) GEP(name string, base, index ValueID, elemSize int) ValueID {
	return b.emit(&Instruction{Op: OpGEP, Operands: []ValueID{base, index}, ElemSize: elemSize, Name: name})
}

func (b *Builder) Alloca(name string) ValueID {
	return b.emit(&Instruction{Op: OpAlloca, Name: name})
}

func (b *Builder) Load(name string, ptr ValueID) ValueID {
	return b.emit(&Instruction{Op: OpLoad, Operands: []ValueID{ptr}, Name: name})
}

func (b *Builder) Store(ptr, val ValueID) ValueID {
	return b.emit(&Instruction{Op: OpStore, Operands: []ValueID{ptr, val}})
}

func (b *Builder) Return(v ValueID) ValueID {
	ops := []ValueID{}
	if v != InvalidValue {
		ops = []ValueID{v}
	}
	return b.emit(&Instruction{Op: OpReturn, Operands: ops})
}
