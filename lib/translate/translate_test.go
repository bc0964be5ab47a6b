package translate_test

import (
	"go/ast"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/ssa"

	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/translate"
)

const kernelSrc = `
package kernel

//rv:vectorize width=8 tailpred
//rv:shape a=contiguous,align=8
//rv:shape out=contiguous,align=8
//rv:shape n=uniform
func AddOne(a []int, out []int, n int) {
	for i := 0; i < n; i++ {
		out[i] = a[i] + 1
	}
}
`

func buildSSAFunc(t *testing.T, src, fnName string) *ssa.Function {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "kernel.go", src, parser.ParseComments)
	require.NoError(t, err)
	files := []*ast.File{f}

	info := &types.Info{
		Types:      map[ast.Expr]types.TypeAndValue{},
		Defs:       map[*ast.Ident]types.Object{},
		Uses:       map[*ast.Ident]types.Object{},
		Implicits:  map[ast.Node]types.Object{},
		Selections: map[*ast.SelectorExpr]*types.Selection{},
		Scopes:     map[ast.Node]*types.Scope{},
	}
	conf := &types.Config{Importer: importer.Default()}
	pkg, err := conf.Check("kernel", fset, files, info)
	require.NoError(t, err)

	prog := ssa.NewProgram(fset, ssa.SanityCheckFunctions)
	ssaPkg := prog.CreatePackage(pkg, files, info, false)
	ssaPkg.Build()

	fn := ssaPkg.Func(fnName)
	require.NotNil(t, fn)
	return fn
}

func TestLowerSimpleLoopKernel(t *testing.T) {
	fn := buildSSAFunc(t, kernelSrc, "AddOne")

	res, err := translate.Lower(fn)
	require.NoError(t, err)
	require.NotNil(t, res)

	require.True(t, res.Pragma.Vectorize)
	require.Equal(t, 8, res.Pragma.Width)
	require.True(t, res.Pragma.TailPredicate)
	require.Contains(t, res.Pragma.ArgShapes, "a")
	require.Contains(t, res.Pragma.ArgShapes, "out")
	require.Contains(t, res.Pragma.ArgShapes, "n")
	require.True(t, res.Pragma.ArgShapes["a"].Kind().String() != "")

	f := res.Func
	require.NotEmpty(t, f.Blocks)

	var sawPhi, sawGEP, sawAdd, sawStore, sawBr, sawReturn bool
	for _, b := range f.Blocks {
		for _, id := range b.Insts {
			in := f.Inst(id)
			switch in.Op {
			case ir.OpPhi:
				sawPhi = true
			case ir.OpGEP:
				sawGEP = true
			case ir.OpAdd:
				sawAdd = true
			case ir.OpStore:
				sawStore = true
			case ir.OpBr:
				sawBr = true
			case ir.OpReturn:
				sawReturn = true
			}
		}
	}
	require.True(t, sawPhi, "expected a loop induction phi")
	require.True(t, sawGEP, "expected array indexing to lower to GEP")
	require.True(t, sawAdd, "expected the +1 to lower to Add")
	require.True(t, sawStore, "expected the assignment to lower to Store")
	require.True(t, sawBr, "expected the loop test to lower to a conditional branch")
	require.True(t, sawReturn, "expected a terminating return")
}

func TestLowerSkipsUnannotatedFunction(t *testing.T) {
	const src = `
package kernel

func Plain(a int) int { return a + 1 }
`
	fn := buildSSAFunc(t, src, "Plain")
	res, err := translate.Lower(fn)
	require.NoError(t, err)
	require.False(t, res.Pragma.Vectorize)
}

func TestLowerRejectsDynamicDispatch(t *testing.T) {
	const src = `
package kernel

type Adder interface{ Add(int) int }

//rv:vectorize width=8
func CallThroughInterface(a Adder, x int) int {
	return a.Add(x)
}
`
	fn := buildSSAFunc(t, src, "CallThroughInterface")
	_, err := translate.Lower(fn)
	require.Error(t, err)
}
