// Package pipeline drives the whole-function vectorization sequence:
// an optional remainder transform against the plain scalar IR, then
// shape analysis, mask materialization, divergence analysis, loop
// regularization, and linearization against one shared
// VectorizationInfo. BuildAndVectorize is the entry point cmd/rvc
// uses, and VectorizeFunction is its short form that returns only the
// rewritten function; the rest of this file exposes the individual
// stages for callers that want to inspect intermediate state between
// them.
package pipeline

import (
	"github.com/vectorlab/regionvec/lib/bda"
	"github.com/vectorlab/regionvec/lib/dlt"
	"github.com/vectorlab/regionvec/lib/ir"
	"github.com/vectorlab/regionvec/lib/linearize"
	"github.com/vectorlab/regionvec/lib/maskmat"
	"github.com/vectorlab/regionvec/lib/remainder"
	"github.com/vectorlab/regionvec/lib/rverr"
	"github.com/vectorlab/regionvec/lib/vecinfo"
	"github.com/vectorlab/regionvec/lib/vsa"
)

const passName = "pipeline"

// Options configures one VectorizeFunction call.
type Options struct {
	// VectorWidth is the number of lanes the caller is compiling for.
	// Must be positive.
	VectorWidth int
	// TailPredicate selects the remainder transform's tail-predication
	// mode over its default remainder-loop mode: see lib/remainder.
	TailPredicate bool
	// TripAlign, if positive, is a known divisor of a candidate loop's
	// trip count. It is recorded on the remainder.Options passed to
	// every loop the remainder transform runs against, but this driver
	// does not itself skip the transform when the width divides it —
	// lib/remainder always produces a correct (if sometimes
	// dead-at-runtime) remainder loop either way.
	TripAlign int
}

// Result bundles the rewritten function with the VectorizationInfo
// and analyses the pipeline built for it, so a caller can report
// shapes and divergent loops after the fact without recomputing them.
type Result struct {
	Func *ir.Function
	VI   *vecinfo.VectorizationInfo
	DT   *ir.DomTree
	PDT  *ir.DomTree
	LI   *ir.LoopInfo
}

// VectorizeFunction runs the full pipeline over a private clone of
// scalarFn and returns the rewritten function on success. On any
// capability or invariant failure it returns scalarFn itself,
// completely unmodified, alongside the error: a failed vectorization
// attempt never leaves partially-rewritten IR visible to the caller.
//
// An Invariant-kind failure surfaces here as a recovered panic
// (lib/rverr.PanicInvariant); BuildAndVectorize, which
// VectorizeFunction calls, is the pipeline's one recover site, and it
// degrades any invariant violation it catches into a Capability error
// rather than letting it crash the caller.
func VectorizeFunction(scalarFn *ir.Function, mapping vecinfo.VectorMapping, region *vecinfo.Region, funcs vecinfo.FunctionMap, opts Options) (*ir.Function, error) {
	res, err := BuildAndVectorize(scalarFn, mapping, region, funcs, opts)
	if err != nil {
		return scalarFn, err
	}
	return res.Func, nil
}

// BuildAndVectorize is VectorizeFunction's full form: it returns the
// whole Result, including the VectorizationInfo and analyses the
// pipeline built, instead of discarding everything but the rewritten
// function. Callers that only want the rewritten IR should use
// VectorizeFunction; callers that want to report shapes or divergent
// loops afterward (cmd/rvc's report mode) want this one.
//
// On any capability or invariant failure BuildAndVectorize returns a
// nil Result and an error; it never returns a partially-built Result.
func BuildAndVectorize(scalarFn *ir.Function, mapping vecinfo.VectorMapping, region *vecinfo.Region, funcs vecinfo.FunctionMap, opts Options) (result *Result, err error) {
	if opts.VectorWidth <= 0 {
		return nil, rverr.CapabilityErr(passName, scalarFn.Name, "vector width must be positive, got %d", opts.VectorWidth)
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = rverr.Degrade(rverr.AsError(passName, r))
		}
	}()

	work := cloneFunction(scalarFn)

	avl, err := prepareLoops(work, region, opts)
	if err != nil {
		return nil, err
	}

	res := BuildVectorizationInfo(work, region, mapping, funcs)
	if avl != ir.InvalidValue {
		res.VI.EntryAVL = avl
	}

	RunShapeAnalysis(res)

	if err := RegularizeDivergentLoops(res); err != nil {
		return nil, err
	}
	refreshAnalyses(res)
	if err := LinearizeRegion(res); err != nil {
		return nil, err
	}

	return res, nil
}

// refreshAnalyses rebuilds the dominator, post-dominator, and loop
// analyses a Result carries when the function they were built from
// has been mutated since (lib/dlt's loop regularization redirects
// exits and splits latches, leaving res.Func.DomDirty set). The
// Linearizer leans on accurate dominance to find where a serialized
// branch's two arms reconverge, so this must run before it.
func refreshAnalyses(r *Result) {
	if !r.Func.DomDirty {
		return
	}
	r.DT = ir.BuildDominatorTree(r.Func)
	r.PDT = ir.BuildPostDominatorTree(r.Func)
	r.LI = ir.BuildLoopInfo(r.Func, r.DT)
	r.Func.DomDirty = false
}

// prepareLoops runs the remainder transform against every top-level
// loop fully contained in region, before any VectorizationInfo for
// work exists. A loop the transform's capability check rejects is
// left completely alone; RT is best-effort, not a hard requirement —
// a rejected loop still gets vectorized scalar-width-1 style via
// tentative shape analysis like any other control flow, just without
// the induction-variable restride that gives it a real speedup.
//
// When region is scoped to exactly one loop and that loop was
// tail-predicated, prepareLoops returns the active-vector-length
// value lib/remainder computed for it, so the caller can seed
// VectorizationInfo.EntryAVL before shape analysis runs. In every
// other case it returns ir.InvalidValue.
func prepareLoops(work *ir.Function, region *vecinfo.Region, opts Options) (ir.ValueID, error) {
	dt := ir.BuildDominatorTree(work)
	li := ir.BuildLoopInfo(work, dt)

	ropts := remainder.Options{Width: opts.VectorWidth, TailPredicate: opts.TailPredicate, TripAlign: opts.TripAlign}

	var regionAVL ir.ValueID = ir.InvalidValue
	for _, l := range append([]*ir.Loop{}, li.TopLevel...) {
		if !region.InRegion(l.Header) {
			continue
		}
		prepared, err := remainder.Prepare(work, li, l, ropts)
		if err != nil {
			continue
		}
		work.DomDirty = true
		if prepared.InitialAVL != ir.InvalidValue && l.Header == region.Entry {
			regionAVL = prepared.InitialAVL
		}
	}
	return regionAVL, nil
}

// BuildVectorizationInfo constructs a fresh VectorizationInfo over f
// scoped to region, along with the dominator, post-dominator, and
// loop analyses every later stage needs. Call this after any
// CFG-mutating pass (like lib/remainder) and before RunShapeAnalysis.
func BuildVectorizationInfo(f *ir.Function, region *vecinfo.Region, mapping vecinfo.VectorMapping, funcs vecinfo.FunctionMap) *Result {
	vi := vecinfo.New(f, region, mapping, funcs)
	dt := ir.BuildDominatorTree(f)
	pdt := ir.BuildPostDominatorTree(f)
	li := ir.BuildLoopInfo(f, dt)
	return &Result{Func: f, VI: vi, DT: dt, PDT: pdt, LI: li}
}

// RunShapeAnalysis runs the value-shape fixpoint (which ends with its
// own branch-divergence pass), materializes masks from the shapes it
// found, then runs branch-divergence analysis once more. BDA classifies
// join-divergent blocks, divergent loops and their exits from
// branch-condition shapes alone; it does not read the masks or the
// per-block varying predicate flags.
func RunShapeAnalysis(r *Result) {
	vsa.Run(r.VI, r.DT, r.PDT, r.LI)
	maskmat.Materialize(r.VI, r.DT)
	bda.Analyze(r.VI, r.DT, r.PDT, r.LI)
}

// RegularizeDivergentLoops rewrites every divergent loop BDA found so
// each lane takes the same number of trips, via lib/dlt.
func RegularizeDivergentLoops(r *Result) error {
	return dlt.Regularize(r.VI, r.LI)
}

// LinearizeRegion folds the region's phis and serializes its
// remaining divergent branches via lib/linearize, leaving behind pure
// straight-line and Uniform-only-conditional control flow.
func LinearizeRegion(r *Result) error {
	return linearize.Linearize(r.VI, r.DT, r.LI)
}

// cloneFunction duplicates every parameter, block, and instruction of
// f into a fresh Function. Blocks are recreated in order, so every
// BlockID carries over and a Region built against f applies unchanged
// to the clone. Parameters are recreated first, so they keep their
// ValueIDs when f created its parameters before any instruction.
// Instructions are recreated in block order, so an instruction's
// ValueID matches the original's only when f allocated its
// instructions in that same order with none erased.
func cloneFunction(f *ir.Function) *ir.Function {
	nf := ir.NewFunction(f.Name)
	valueMap := map[ir.ValueID]ir.ValueID{}

	for _, p := range f.Params {
		orig := f.Inst(p)
		valueMap[p] = nf.NewParam(orig.Name)
	}

	for _, b := range f.Blocks {
		nf.NewBlock(b.Name)
	}
	nf.Entry = f.Entry

	for _, b := range f.Blocks {
		for _, id := range b.Insts {
			orig := f.Inst(id)
			clone := &ir.Instruction{
				Op: orig.Op, Name: orig.Name, Callee: orig.Callee,
				SideEffect: orig.SideEffect, ConstInt: orig.ConstInt, ElemSize: orig.ElemSize,
			}
			valueMap[id] = nf.Append(b.ID, clone)
		}
	}

	remapV := func(v ir.ValueID) ir.ValueID {
		if v == ir.InvalidValue {
			return v
		}
		return valueMap[v]
	}

	for _, b := range f.Blocks {
		for _, id := range b.Insts {
			orig := f.Inst(id)
			clone := nf.Inst(valueMap[id])
			for _, op := range orig.Operands {
				clone.Operands = append(clone.Operands, remapV(op))
			}
			for _, op := range orig.PhiIncoming {
				clone.PhiIncoming = append(clone.PhiIncoming, remapV(op))
			}
			clone.Cond = remapV(orig.Cond)
			clone.TrueBlock = orig.TrueBlock
			clone.FalseBlock = orig.FalseBlock
			clone.Target = orig.Target
		}
	}

	for _, b := range f.Blocks {
		term := nf.Terminator(b.ID)
		switch term.Op {
		case ir.OpJump:
			nf.AddEdge(b.ID, term.Target)
		case ir.OpBr:
			nf.AddEdge(b.ID, term.TrueBlock)
			nf.AddEdge(b.ID, term.FalseBlock)
		}
	}

	return nf
}
