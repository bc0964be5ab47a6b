package translate

import (
	"go/ast"
	"strconv"
	"strings"

	"github.com/vectorlab/regionvec/lib/shape"
)

// Pragma is the parsed form of a function's //rv: doc-comment
// directives: whether it should be vectorized at all, at what width,
// whether to tail-predicate the remainder instead of peeling a scalar
// loop, and any argument shapes the caller asserts rather than leaves
// to shape analysis to infer.
type Pragma struct {
	Vectorize     bool
	Width         int
	TailPredicate bool
	TripAlign     int
	ArgShapes     map[string]shape.VectorShape
}

const directivePrefix = "rv:"

// ParsePragma scans decl's doc comment for //rv:vectorize and
// //rv:shape directives. A function with no //rv:vectorize line
// returns a zero Pragma (Vectorize == false) and is left alone by the
// driver.
func ParsePragma(decl *ast.FuncDecl) Pragma {
	p := Pragma{ArgShapes: map[string]shape.VectorShape{}}
	if decl == nil || decl.Doc == nil {
		return p
	}
	for _, c := range decl.Doc.List {
		text := strings.TrimSpace(strings.TrimPrefix(c.Text, "//"))
		if !strings.HasPrefix(text, directivePrefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(text, directivePrefix))
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "vectorize":
			p.Vectorize = true
			parseVectorizeArgs(&p, fields[1:])
		case "shape":
			parseShapeArgs(&p, fields[1:])
		}
	}
	return p
}

func parseVectorizeArgs(p *Pragma, args []string) {
	for _, a := range args {
		switch {
		case a == "tailpred":
			p.TailPredicate = true
		case strings.HasPrefix(a, "width="):
			p.Width = atoiDefault(a[len("width="):], 0)
		case strings.HasPrefix(a, "trip-align="):
			p.TripAlign = atoiDefault(a[len("trip-align="):], 0)
		}
	}
}

// parseShapeArgs reads "argName=kind[,stride=K][,align=K]" pairs.
func parseShapeArgs(p *Pragma, args []string) {
	for _, a := range args {
		name, spec, ok := strings.Cut(a, "=")
		if !ok {
			continue
		}
		parts := strings.Split(spec, ",")
		kind := parts[0]
		stride, align := 1, 0
		for _, part := range parts[1:] {
			k, v, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			switch k {
			case "stride":
				stride = atoiDefault(v, 1)
			case "align":
				align = atoiDefault(v, 0)
			}
		}
		switch kind {
		case "uniform":
			p.ArgShapes[name] = shape.UniformShape()
		case "contiguous":
			p.ArgShapes[name] = shape.ContiguousShape(1, align)
		case "strided":
			p.ArgShapes[name] = shape.StridedShape(stride, align)
		case "varying":
			p.ArgShapes[name] = shape.VaryingShape(align)
		}
	}
}

func atoiDefault(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
