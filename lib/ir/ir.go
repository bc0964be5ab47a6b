// Package ir is the IR Facade: it abstracts the SSA intermediate
// representation (blocks, instructions, defs/uses, CFG edges,
// dominators, loops) that every other core component touches the IR
// through. It stands in for a host compiler's own SSA IR: a small
// arena-indexed representation of its own, addressed by stable
// identifiers rather than raw pointers so mutation never invalidates
// a live reference.
package ir

import "fmt"

// ValueID is a stable handle into a Function's value arena. It
// survives any mutation that would relocate a node, unlike a raw
// pointer into a mutable slice.
type ValueID int

// InvalidValue marks the absence of a value (e.g. an unconditional
// jump's missing condition).
const InvalidValue ValueID = -1

// BlockID is a stable handle into a Function's block arena.
type BlockID int

// InvalidBlock marks the absence of a block.
const InvalidBlock BlockID = -1

// Opcode tags the operation an Instruction performs. Shape transfer
// and every other per-instruction dispatch in this repository matches
// on Opcode with a plain Go type switch / switch statement — the
// "tagged-union match" the design notes call idiomatic here.
type Opcode int

const (
	OpParam Opcode = iota
	OpConst
	OpAdd
	OpSub
	OpMul
	OpShl
	OpSDiv
	OpSExt
	OpZExt
	OpTrunc
	OpICmp
	OpGEP
	OpAlloca
	OpLoad
	OpStore
	OpCall
	OpPhi
	OpSelect
	OpAnd
	OpOr
	OpXor
	OpReduceAny
	OpJump
	OpBr
	OpReturn
)

func (op Opcode) String() string {
	names := [...]string{
		"param", "const", "add", "sub", "mul", "shl", "sdiv",
		"sext", "zext", "trunc", "icmp", "gep", "alloca", "load",
		"store", "call", "phi", "select", "and", "or", "xor",
		"reduce_any", "jump", "br", "return",
	}
	if int(op) < len(names) {
		return names[op]
	}
	return "unknown"
}

// IsTerminator reports whether op ends a basic block.
func (op Opcode) IsTerminator() bool {
	return op == OpJump || op == OpBr || op == OpReturn
}

// Instruction is one IR node. Not every instruction produces a usable
// value (Store/Jump/Br/Return do not); for those ID is InvalidValue's
// companion bookkeeping id used only for erase/splice tracking.
type Instruction struct {
	ID    ValueID
	Op    Opcode
	Block BlockID

	// Operands holds the generic operand list for opcodes that do not
	// need more specialized fields (Add/Sub/Mul/Shl/SDiv/ICmp/And/Or/
	// Xor/Select/ReduceAny/Call/GEP/SExt/ZExt/Trunc/Load/Store).
	Operands []ValueID

	// Phi-specific: PhiIncoming[i] is the value coming from
	// block.Preds[i]; the two slices are always kept parallel.
	PhiIncoming []ValueID

	// Br-specific.
	Cond       ValueID
	TrueBlock  BlockID
	FalseBlock BlockID

	// Jump-specific.
	Target BlockID

	// Call-specific: the callee's mangled name, looked up in the
	// function-mapping registry by VSA and by the purity oracle.
	Callee     string
	SideEffect bool

	// Const-specific.
	ConstInt int64

	// GEP-specific: element size in the same units as shape alignment.
	ElemSize int

	Name string
}

// Result reports whether this instruction defines a usable value.
func (i *Instruction) Result() bool {
	switch i.Op {
	case OpStore, OpJump, OpBr, OpReturn:
		return false
	default:
		return true
	}
}

// BasicBlock is a CFG node: an ordered instruction list plus its
// predecessor/successor edges.
type BasicBlock struct {
	ID    BlockID
	Name  string
	Insts []ValueID
	Preds []BlockID
	Succs []BlockID
}

// Function is the arena that owns every block and instruction of one
// region under transformation. It is built once per vectorized
// function/region and lives for the whole pipeline, same as the
// VectorizationInfo built over it.
type Function struct {
	Name   string
	Blocks []*BasicBlock
	insts  map[ValueID]*Instruction
	Params []ValueID
	Entry  BlockID

	nextValueID ValueID
	nextBlockID BlockID

	// DomDirty marks the dominator tree as conservatively invalid
	// after a large edit; the next analysis must rebuild it before use
	// rather than trust stale dominance facts.
	DomDirty bool
}

// NewFunction creates an empty arena-backed function.
func NewFunction(name string) *Function {
	return &Function{
		Name:        name,
		insts:       map[ValueID]*Instruction{},
		Entry:       InvalidBlock,
		nextValueID: 0,
		nextBlockID: 0,
	}
}

// NewBlock appends a fresh, empty block to the function.
func (f *Function) NewBlock(name string) *BasicBlock {
	b := &BasicBlock{ID: f.nextBlockID, Name: name}
	f.nextBlockID++
	f.Blocks = append(f.Blocks, b)
	if f.Entry == InvalidBlock {
		f.Entry = b.ID
	}
	return b
}

// NewParam declares a new function argument. Parameters are not part
// of any block's instruction stream but are addressable ValueIDs like
// any other value, so VSA can seed their shape from VectorMapping.
func (f *Function) NewParam(name string) ValueID {
	inst := &Instruction{Op: OpParam, Name: name}
	id := f.allocValue(inst)
	inst.Block = f.Entry
	f.Params = append(f.Params, id)
	return id
}

// Block looks up a block by id.
func (f *Function) Block(id BlockID) *BasicBlock {
	for _, b := range f.Blocks {
		if b.ID == id {
			return b
		}
	}
	return nil
}

// Inst looks up an instruction by value id.
func (f *Function) Inst(id ValueID) *Instruction { return f.insts[id] }

// allocValue reserves and registers a fresh instruction under a new id.
func (f *Function) allocValue(inst *Instruction) ValueID {
	id := f.nextValueID
	f.nextValueID++
	inst.ID = id
	f.insts[id] = inst
	return id
}

// AddEdge wires a CFG edge b -> succ, appending to both adjacency lists.
func (f *Function) AddEdge(b, succ BlockID) {
	bb := f.Block(b)
	sb := f.Block(succ)
	bb.Succs = append(bb.Succs, succ)
	sb.Preds = append(sb.Preds, b)
}

// RemoveEdge undoes AddEdge, removing one occurrence of the b->succ edge.
func (f *Function) RemoveEdge(b, succ BlockID) {
	bb := f.Block(b)
	sb := f.Block(succ)
	bb.Succs = removeOne(bb.Succs, succ)
	sb.Preds = removeOne(sb.Preds, b)
}

func removeOne(list []BlockID, v BlockID) []BlockID {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Users returns every instruction in the function that reads v as an
// operand — the "defs/uses" query of the IR Facade.
func (f *Function) Users(v ValueID) []ValueID {
	var users []ValueID
	for _, b := range f.Blocks {
		for _, id := range b.Insts {
			in := f.insts[id]
			if instUses(in, v) {
				users = append(users, id)
			}
		}
	}
	return users
}

func instUses(in *Instruction, v ValueID) bool {
	for _, op := range in.Operands {
		if op == v {
			return true
		}
	}
	for _, op := range in.PhiIncoming {
		if op == v {
			return true
		}
	}
	if in.Op == OpBr && in.Cond == v {
		return true
	}
	return false
}

// ReplaceOperand rewrites every occurrence of old with new across a
// single instruction's operand lists (including phi incomings and the
// branch condition).
func (f *Function) ReplaceOperand(instID ValueID, old, new ValueID) {
	in := f.insts[instID]
	for i, op := range in.Operands {
		if op == old {
			in.Operands[i] = new
		}
	}
	for i, op := range in.PhiIncoming {
		if op == old {
			in.PhiIncoming[i] = new
		}
	}
	if in.Cond == old {
		in.Cond = new
	}
}

// ReplaceAllUses rewrites old to new across every instruction in the
// function that references it (the RAUW operation).
func (f *Function) ReplaceAllUses(old, new ValueID) {
	for _, id := range f.Users(old) {
		f.ReplaceOperand(id, old, new)
	}
}

// InsertAt inserts inst into block at position idx (0 <= idx <=
// len(block.Insts)) and returns its freshly allocated id.
func (f *Function) InsertAt(block BlockID, idx int, inst *Instruction) ValueID {
	inst.Block = block
	id := f.allocValue(inst)
	b := f.Block(block)
	b.Insts = append(b.Insts, InvalidValue)
	copy(b.Insts[idx+1:], b.Insts[idx:])
	b.Insts[idx] = id
	return id
}

// Append adds inst to the end of block's instruction list.
func (f *Function) Append(block BlockID, inst *Instruction) ValueID {
	b := f.Block(block)
	return f.InsertAt(block, len(b.Insts), inst)
}

// Prepend adds inst to the front of block, after any existing phis —
// i.e. at the first non-phi position, unless inst is itself a phi.
func (f *Function) Prepend(block BlockID, inst *Instruction) ValueID {
	b := f.Block(block)
	if inst.Op == OpPhi {
		return f.InsertAt(block, 0, inst)
	}
	idx := 0
	for idx < len(b.Insts) && f.insts[b.Insts[idx]].Op == OpPhi {
		idx++
	}
	return f.InsertAt(block, idx, inst)
}

// Erase removes an instruction from its block. It must have no
// remaining users; callers that RAUW first satisfy this automatically.
func (f *Function) Erase(id ValueID) {
	in := f.insts[id]
	if in == nil {
		return
	}
	b := f.Block(in.Block)
	b.Insts = removeOneVal(b.Insts, id)
	delete(f.insts, id)
}

func removeOneVal(list []ValueID, v ValueID) []ValueID {
	for i, x := range list {
		if x == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// Splice moves instruction id out of its current block and into dst
// at position idx, preserving its identity and all existing uses.
func (f *Function) Splice(id ValueID, dst BlockID, idx int) {
	in := f.insts[id]
	old := f.Block(in.Block)
	old.Insts = removeOneVal(old.Insts, id)
	in.Block = dst
	nb := f.Block(dst)
	nb.Insts = append(nb.Insts, InvalidValue)
	copy(nb.Insts[idx+1:], nb.Insts[idx:])
	nb.Insts[idx] = id
}

// Terminator returns the block's terminating instruction, or nil if
// the block is (transiently, mid-construction) empty.
func (f *Function) Terminator(block BlockID) *Instruction {
	b := f.Block(block)
	if len(b.Insts) == 0 {
		return nil
	}
	last := f.insts[b.Insts[len(b.Insts)-1]]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// Phis returns every phi instruction at the head of block.
func (f *Function) Phis(block BlockID) []*Instruction {
	var phis []*Instruction
	b := f.Block(block)
	for _, id := range b.Insts {
		in := f.insts[id]
		if in.Op != OpPhi {
			break
		}
		phis = append(phis, in)
	}
	return phis
}

func (f *Function) String() string {
	s := fmt.Sprintf("func %s {\n", f.Name)
	for _, b := range f.Blocks {
		s += fmt.Sprintf("%s:\n", b.Name)
		for _, id := range b.Insts {
			in := f.insts[id]
			s += fmt.Sprintf("  v%d = %s\n", id, in.Op)
		}
	}
	return s + "}\n"
}
