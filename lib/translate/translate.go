// Package translate lowers a *ssa.Function from golang.org/x/tools
// into one lib/ir.Function, resolving every value and block through
// two passes: a forward pass that allocates every block and then
// translates instructions block by block in dominator-tree preorder,
// so each non-phi operand is translated before its use (phi operands
// seeded with a placeholder), and a second pass that backfills each
// phi's incoming values once every value in the function has a
// ValueID.
package translate

import (
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/ssa"

	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/rverr"
	"github.com/vectorlab/regionvec/lib/utils"
)

const passName = "translate"

// Result bundles a lowered function with the directives parsed from
// its doc comment; cmd/rvc uses these directives to seed VectorMapping
// and skips any *ssa.Function whose Pragma.Vectorize is false.
type Result struct {
	Func   *ir.Function
	Pragma Pragma
}

type pendingPhi struct {
	ssaPhi *ssa.Phi
	irID   ir.ValueID
}

// Lower translates fn into an ir.Function. It supports the subset of
// Go a numeric kernel loop actually uses: integer and pointer-to-array
// arithmetic, comparisons, loads/stores through Alloc/IndexAddr,
// static calls, and structured branching; anything else (channels,
// closures, dynamic dispatch, floating point, struct field access)
// is reported as a capability error rather than silently approximated.
func Lower(fn *ssa.Function) (*Result, error) {
	f := ir.NewFunction(fn.String())
	tr := &translator{
		fn:      fn,
		f:       f,
		valueOf: map[ssa.Value]ir.ValueID{},
		blockOf: map[*ssa.BasicBlock]ir.BlockID{},
	}

	for _, p := range fn.Params {
		tr.valueOf[p] = f.NewParam(p.Name())
	}

	for _, b := range fn.Blocks {
		irb := f.NewBlock(blockName(b))
		tr.blockOf[b] = irb.ID
	}

	for _, b := range fn.DomPreorder() {
		if err := tr.translateBlock(b); err != nil {
			return nil, err
		}
	}

	for _, pp := range tr.pending {
		if err := tr.backfillPhi(pp); err != nil {
			return nil, err
		}
	}

	decl, _ := fn.Syntax().(*ast.FuncDecl)
	return &Result{Func: f, Pragma: ParsePragma(decl)}, nil
}

func blockName(b *ssa.BasicBlock) string {
	if b.Comment != "" {
		return b.Comment
	}
	return b.String()
}

type translator struct {
	fn      *ssa.Function
	f       *ir.Function
	valueOf map[ssa.Value]ir.ValueID
	blockOf map[*ssa.BasicBlock]ir.BlockID
	pending []pendingPhi
}

func (t *translator) pos(in ssa.Instruction) string {
	return utils.PositionStringOfSsaInstruction(in)
}

func (t *translator) fail(in ssa.Instruction, format string, args ...interface{}) error {
	return rverr.CapabilityErr(passName, t.pos(in), format, args...)
}

func (t *translator) translateBlock(b *ssa.BasicBlock) error {
	irBlock := t.blockOf[b]
	bld := ir.NewBuilder(t.f, irBlock)
	for _, in := range b.Instrs {
		if err := t.translateInst(bld, b, in); err != nil {
			return err
		}
	}
	return nil
}

func (t *translator) operand(in ssa.Instruction, v ssa.Value) (ir.ValueID, error) {
	if id, ok := t.valueOf[v]; ok {
		return id, nil
	}
	switch c := v.(type) {
	case *ssa.Const:
		return t.translateConst(in, c)
	}
	return ir.InvalidValue, t.fail(in, "operand %s has no translated value", v.Name())
}

func (t *translator) translateConst(in ssa.Instruction, c *ssa.Const) (ir.ValueID, error) {
	if id, ok := t.valueOf[c]; ok {
		return id, nil
	}
	if c.Value == nil {
		return ir.InvalidValue, t.fail(in, "nil constant not supported")
	}
	iv, ok := constant.Int64Val(c.Value)
	if !ok {
		return ir.InvalidValue, t.fail(in, "non-integer constant %s not supported", c.Value.String())
	}
	// Prepended rather than appended: this constant may be discovered
	// while translating a block visited well after the entry block's
	// own terminator was already emitted.
	id := t.f.Prepend(t.f.Entry, &ir.Instruction{Op: ir.OpConst, ConstInt: iv, Name: c.Name()})
	t.valueOf[c] = id
	return id, nil
}

func (t *translator) translateInst(bld *ir.Builder, b *ssa.BasicBlock, in ssa.Instruction) error {
	switch v := in.(type) {
	case *ssa.BinOp:
		return t.translateBinOp(bld, in, v)

	case *ssa.UnOp:
		return t.translateUnOp(bld, in, v)

	case *ssa.Convert:
		return t.translateConvert(bld, in, v)

	case *ssa.ChangeType:
		x, err := t.operand(in, v.X)
		if err != nil {
			return err
		}
		t.valueOf[v] = x
		return nil

	case *ssa.Alloc:
		t.valueOf[v] = bld.Alloca(v.Name())
		return nil

	case *ssa.IndexAddr:
		return t.translateIndexAddr(bld, in, v)

	case *ssa.Store:
		addr, err := t.operand(in, v.Addr)
		if err != nil {
			return err
		}
		val, err := t.operand(in, v.Val)
		if err != nil {
			return err
		}
		bld.Store(addr, val)
		return nil

	case *ssa.Call:
		return t.translateCall(bld, in, v)

	case *ssa.Phi:
		seed := make([]ir.ValueID, len(v.Edges))
		for i := range seed {
			seed[i] = ir.InvalidValue
		}
		id := bld.Phi(v.Name(), seed)
		t.valueOf[v] = id
		t.pending = append(t.pending, pendingPhi{ssaPhi: v, irID: id})
		return nil

	case *ssa.If:
		cond, err := t.operand(in, v.Cond)
		if err != nil {
			return err
		}
		if len(b.Succs) != 2 {
			return t.fail(in, "If terminator without two successors")
		}
		bld.Br(cond, t.blockOf[b.Succs[0]], t.blockOf[b.Succs[1]])
		return nil

	case *ssa.Jump:
		if len(b.Succs) != 1 {
			return t.fail(in, "Jump terminator without one successor")
		}
		bld.Jump(t.blockOf[b.Succs[0]])
		return nil

	case *ssa.Return:
		switch len(v.Results) {
		case 0:
			bld.Return(ir.InvalidValue)
		case 1:
			r, err := t.operand(in, v.Results[0])
			if err != nil {
				return err
			}
			bld.Return(r)
		default:
			return t.fail(in, "multi-value return not supported")
		}
		return nil

	case *ssa.DebugRef:
		return nil

	default:
		return t.fail(in, "unsupported instruction %T", v)
	}
}

func (t *translator) translateBinOp(bld *ir.Builder, in ssa.Instruction, v *ssa.BinOp) error {
	x, err := t.operand(in, v.X)
	if err != nil {
		return err
	}
	y, err := t.operand(in, v.Y)
	if err != nil {
		return err
	}
	var id ir.ValueID
	switch v.Op {
	case token.ADD:
		id = bld.Add(v.Name(), x, y)
	case token.SUB:
		id = bld.Sub(v.Name(), x, y)
	case token.MUL:
		id = bld.Mul(v.Name(), x, y)
	case token.SHL:
		id = bld.Shl(v.Name(), x, y)
	case token.QUO:
		id = bld.SDiv(v.Name(), x, y)
	case token.AND:
		id = bld.And(v.Name(), x, y)
	case token.OR:
		id = bld.Or(v.Name(), x, y)
	case token.XOR:
		id = bld.Xor(v.Name(), x, y)
	case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
		id = bld.ICmp(v.Name(), x, y)
	default:
		return t.fail(in, "unsupported binary operator %s", v.Op)
	}
	t.valueOf[v] = id
	return nil
}

func (t *translator) translateUnOp(bld *ir.Builder, in ssa.Instruction, v *ssa.UnOp) error {
	switch v.Op {
	case token.MUL:
		ptr, err := t.operand(in, v.X)
		if err != nil {
			return err
		}
		t.valueOf[v] = bld.Load(v.Name(), ptr)
		return nil
	case token.SUB:
		x, err := t.operand(in, v.X)
		if err != nil {
			return err
		}
		zero := bld.Const(v.Name()+".zero", 0)
		t.valueOf[v] = bld.Sub(v.Name(), zero, x)
		return nil
	case token.XOR, token.NOT:
		x, err := t.operand(in, v.X)
		if err != nil {
			return err
		}
		allOnes := bld.Const(v.Name()+".allones", -1)
		t.valueOf[v] = bld.Xor(v.Name(), x, allOnes)
		return nil
	default:
		return t.fail(in, "unsupported unary operator %s", v.Op)
	}
}

func (t *translator) translateConvert(bld *ir.Builder, in ssa.Instruction, v *ssa.Convert) error {
	x, err := t.operand(in, v.X)
	if err != nil {
		return err
	}
	srcBits, srcOK := intBits(v.X.Type())
	dstBits, dstOK := intBits(v.Type())
	if !srcOK || !dstOK {
		return t.fail(in, "conversion between non-integer types not supported")
	}
	switch {
	case dstBits < srcBits:
		t.valueOf[v] = bld.Trunc(v.Name(), x)
	case isUnsigned(v.Type()):
		t.valueOf[v] = bld.ZExt(v.Name(), x)
	default:
		t.valueOf[v] = bld.SExt(v.Name(), x)
	}
	return nil
}

func (t *translator) translateIndexAddr(bld *ir.Builder, in ssa.Instruction, v *ssa.IndexAddr) error {
	base, err := t.operand(in, v.X)
	if err != nil {
		return err
	}
	idx, err := t.operand(in, v.Index)
	if err != nil {
		return err
	}
	elem := elementType(v.X.Type())
	if elem == nil {
		return t.fail(in, "indexing into non-array/slice/pointer type %s", v.X.Type())
	}
	size := types.SizesFor("gc", "amd64")
	elemSize := 1
	if size != nil {
		elemSize = int(size.Sizeof(elem))
	}
	t.valueOf[v] = bld.GEP(v.Name(), base, idx, elemSize)
	return nil
}

func (t *translator) translateCall(bld *ir.Builder, in ssa.Instruction, v *ssa.Call) error {
	callee := v.Call.StaticCallee()
	if callee == nil {
		return t.fail(in, "dynamic dispatch not supported")
	}
	args := make([]ir.ValueID, len(v.Call.Args))
	for i, a := range v.Call.Args {
		id, err := t.operand(in, a)
		if err != nil {
			return err
		}
		args[i] = id
	}
	name := utils.NormalizeFunctionName(callee.String())
	id := bld.Call(v.Name(), name, true, args)
	t.valueOf[v] = id
	return nil
}

func (t *translator) backfillPhi(pp pendingPhi) error {
	irBlock := t.f.Inst(pp.irID).Block
	preds := t.f.Block(irBlock).Preds
	inst := t.f.Inst(pp.irID)
	for i, ssaPred := range pp.ssaPhi.Block().Preds {
		want := t.blockOf[ssaPred]
		pos := indexOf(preds, want)
		if pos < 0 {
			return rverr.InvariantErr(passName, "", "phi predecessor %s not found among lowered block's predecessors", ssaPred)
		}
		val, err := t.operand(pp.ssaPhi, pp.ssaPhi.Edges[i])
		if err != nil {
			return err
		}
		inst.PhiIncoming[pos] = val
	}
	return nil
}

func indexOf(list []ir.BlockID, v ir.BlockID) int {
	for i, x := range list {
		if x == v {
			return i
		}
	}
	return -1
}

func elementType(t types.Type) types.Type {
	switch v := t.(type) {
	case *types.Pointer:
		return elementType(v.Elem())
	case *types.Array:
		return v.Elem()
	case *types.Slice:
		return v.Elem()
	}
	return nil
}

func intBits(t types.Type) (int, bool) {
	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return 0, false
	}
	switch basic.Kind() {
	case types.Int8, types.Uint8:
		return 8, true
	case types.Int16, types.Uint16:
		return 16, true
	case types.Int32, types.Uint32:
		return 32, true
	case types.Int, types.Uint, types.Int64, types.Uint64, types.Uintptr:
		return 64, true
	default:
		return 0, false
	}
}

func isUnsigned(t types.Type) bool {
	basic, ok := t.Underlying().(*types.Basic)
	if !ok {
		return false
	}
	return basic.Info()&types.IsUnsigned != 0
}
