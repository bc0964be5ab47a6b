//Copyright (c) 2020 Uber Technologies, Inc.
//
//Licensed under the Uber Non-Commercial License (the "License");
//you may not use this file except in compliance with the License.
//You may obtain a copy of the License at the root directory of this project.
//
//See the License for the specific language governing permissions and
//limitations under the License.

// Package callgraph builds a static call graph over an SSA program and
// derives a purity oracle from it: whether a callee reachable from a
// vectorized region does anything besides compute a result from its
// arguments, which is what the call shape transfer needs to decide
// between Uniform and Varying.
package callgraph

import (
	"github.com/vectorlab/regionvec/lib/rvlog"
	"github.com/vectorlab/regionvec/lib/vecinfo"

	"golang.org/x/tools/go/callgraph"
	"golang.org/x/tools/go/callgraph/cha"
	"golang.org/x/tools/go/callgraph/rta"
	"golang.org/x/tools/go/pointer"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// Algorithm selects which call-graph construction cmd/rvc uses to
// seed the purity oracle. CHA is the cheap default; RTA and points-to
// narrow the graph further at increasing cost, matching the tradeoff a
// whole-program compiler pass would make.
type Algorithm int

const (
	CHA Algorithm = iota
	RTA
	PointsTo
)

// BuildGraph constructs the call graph for prog using algo.
func BuildGraph(log *rvlog.Logger, prog *ssa.Program, algo Algorithm) *callgraph.Graph {
	switch algo {
	case RTA:
		return buildRTA(log, prog)
	case PointsTo:
		return buildPointsTo(log, prog)
	default:
		return buildCHA(log, prog)
	}
}

func buildCHA(log *rvlog.Logger, prog *ssa.Program) *callgraph.Graph {
	log.Verbosef("building call graph via CHA")
	g := cha.CallGraph(prog)
	g.DeleteSyntheticNodes()
	log.Verbosef("CHA call graph has %d node(s)", len(g.Nodes))
	return g
}

func buildRTA(log *rvlog.Logger, prog *ssa.Program) *callgraph.Graph {
	log.Verbosef("building call graph via RTA")
	var roots []*ssa.Function
	for fn := range ssautil.AllFunctions(prog) {
		if fn.Name() == "main" || fn.Name() == "init" {
			roots = append(roots, fn)
		}
	}
	g := rta.Analyze(roots, true).CallGraph
	g.DeleteSyntheticNodes()
	log.Verbosef("RTA call graph has %d node(s)", len(g.Nodes))
	return g
}

func buildPointsTo(log *rvlog.Logger, prog *ssa.Program) *callgraph.Graph {
	log.Verbosef("building call graph via points-to analysis")
	mains := ssautil.MainPackages(prog.AllPackages())
	cfg := &pointer.Config{Mains: mains, BuildCallGraph: true}
	result, err := pointer.Analyze(cfg)
	if err != nil {
		log.Infof("points-to analysis failed (%v), falling back to CHA", err)
		return buildCHA(log, prog)
	}
	g := result.CallGraph
	g.DeleteSyntheticNodes()
	log.Verbosef("points-to call graph has %d node(s)", len(g.Nodes))
	return g
}

// pureStdlib is the set of standard-library functions known to be free
// of side effects and safe to call with per-lane-varying arguments;
// their bodies are outside the SSA program (no *ssa.Function to walk)
// so purity can't be derived structurally.
var pureStdlib = map[string]bool{
	"math.Sqrt": true, "math.Abs": true, "math.Floor": true, "math.Ceil": true,
	"math.Max": true, "math.Min": true, "math.Pow": true, "math.Mod": true,
	"math.Trunc": true, "math.Round": true,
}

// Oracle answers whether a named callee is pure, memoizing the
// recursive walk over the call graph.
type Oracle struct {
	graph *callgraph.Graph
	byFn  map[*ssa.Function]bool
}

// NewOracle builds an oracle over g.
func NewOracle(g *callgraph.Graph) *Oracle {
	return &Oracle{graph: g, byFn: map[*ssa.Function]bool{}}
}

// IsPure reports whether fn (and everything it calls, transitively)
// never writes through a pointer to memory the caller doesn't own and
// never performs an unanalyzable call.
func (o *Oracle) IsPure(fn *ssa.Function) bool {
	if fn == nil {
		return false
	}
	if pure, ok := o.byFn[fn]; ok {
		return pure
	}
	o.byFn[fn] = true // break recursion optimistically; corrected below if false
	pure := o.computePure(fn, map[*ssa.Function]bool{fn: true})
	o.byFn[fn] = pure
	return pure
}

func (o *Oracle) computePure(fn *ssa.Function, visiting map[*ssa.Function]bool) bool {
	if fn.Blocks == nil {
		return pureStdlib[fn.String()]
	}
	for _, b := range fn.Blocks {
		for _, in := range b.Instrs {
			switch v := in.(type) {
			case *ssa.Store:
				if !isLocalAlloc(v.Addr) {
					return false
				}
			case *ssa.Call:
				callee := v.Call.StaticCallee()
				if callee == nil {
					return false // dynamic dispatch: can't bound its effects
				}
				if visiting[callee] {
					continue // recursive call, assume pure pending the rest of the walk
				}
				if pure, ok := o.byFn[callee]; ok {
					if !pure {
						return false
					}
					continue
				}
				visiting[callee] = true
				if !o.computePure(callee, visiting) {
					return false
				}
			case *ssa.Go, *ssa.Defer, *ssa.Send, *ssa.MapUpdate:
				return false
			}
		}
	}
	return true
}

// isLocalAlloc reports whether addr is a stack allocation local to the
// function currently being analyzed, as opposed to a pointer that may
// have escaped from a caller or a package-level global.
func isLocalAlloc(addr ssa.Value) bool {
	switch addr.(type) {
	case *ssa.Alloc:
		return true
	default:
		return false
	}
}

// ToFunctionMap projects the oracle's purity verdicts for the given
// functions into the read-only registry lib/vsa consults during shape
// analysis, keyed by the same normalized name lib/translate emits for
// an ir.Instruction's Callee field.
func ToFunctionMap(o *Oracle, fns []*ssa.Function, normalize func(string) string) vecinfo.FunctionMap {
	m := vecinfo.FunctionMap{}
	for _, fn := range fns {
		name := normalize(fn.String())
		m[name] = vecinfo.CalleeInfo{Pure: o.IsPure(fn)}
	}
	for name := range pureStdlib {
		m[name] = vecinfo.CalleeInfo{Pure: true}
	}
	return m
}

// IsRootNode reports whether n is the synthetic call graph root the
// analyses above insert for every call graph.
func IsRootNode(n *callgraph.Node) bool { return n.Func != nil && n.Func.String() == "<root>" }
