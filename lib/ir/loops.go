package ir

// Loop is one natural loop of the CFG: a header dominating every
// block in its body, one or more latches with back edges into the
// header, and the blocks/edges that leave it.
type Loop struct {
	Header    BlockID
	Latches   []BlockID
	Blocks    map[BlockID]bool // body, including Header
	Parent    *Loop
	SubLoops  []*Loop
	Preheader BlockID // InvalidBlock if none exists yet
}

// Contains reports whether b is part of this loop's body.
func (l *Loop) Contains(b BlockID) bool { return l.Blocks[b] }

// ExitingBlocks returns every in-loop block with at least one
// successor outside the loop.
func (l *Loop) ExitingBlocks(f *Function) []BlockID {
	var out []BlockID
	for b := range l.Blocks {
		for _, s := range f.Block(b).Succs {
			if !l.Blocks[s] {
				out = append(out, b)
				break
			}
		}
	}
	return out
}

// ExitEdges returns every (exiting, exit) pair leaving the loop.
func (l *Loop) ExitEdges(f *Function) [][2]BlockID {
	var edges [][2]BlockID
	for b := range l.Blocks {
		for _, s := range f.Block(b).Succs {
			if !l.Blocks[s] {
				edges = append(edges, [2]BlockID{b, s})
			}
		}
	}
	return edges
}

// Depth returns the loop's nesting depth; a top-level loop has depth 1.
func (l *Loop) Depth() int {
	d := 1
	for p := l.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

// LoopInfo is the natural loop nest of one function.
type LoopInfo struct {
	TopLevel []*Loop
	LoopOf   map[BlockID]*Loop // innermost loop containing this block, if any
}

// ContainingLoop returns the innermost loop containing b, or nil.
func (li *LoopInfo) ContainingLoop(b BlockID) *Loop { return li.LoopOf[b] }

// All returns every loop in the nest, in no particular order.
func (li *LoopInfo) All() []*Loop {
	var all []*Loop
	var walk func(ls []*Loop)
	walk = func(ls []*Loop) {
		for _, l := range ls {
			all = append(all, l)
			walk(l.SubLoops)
		}
	}
	walk(li.TopLevel)
	return all
}

// InnermostFirst returns every loop ordered innermost-first, the order
// the divergent-loop transform needs so an outer loop's regularization
// never runs before an inner loop it contains has already settled.
func (li *LoopInfo) InnermostFirst() []*Loop {
	all := li.All()
	// A simple depth-descending stable sort: deeper loops (smaller
	// bodies, more nested) come first.
	for i := 1; i < len(all); i++ {
		j := i
		for j > 0 && all[j-1].Depth() < all[j].Depth() {
			all[j-1], all[j] = all[j], all[j-1]
			j--
		}
	}
	return all
}

func backEdges(f *Function, dt *DomTree) [][2]BlockID {
	visited := map[BlockID]bool{}
	onStack := map[BlockID]bool{}
	var edges [][2]BlockID
	var dfs func(BlockID)
	dfs = func(b BlockID) {
		visited[b] = true
		onStack[b] = true
		for _, s := range f.Block(b).Succs {
			if onStack[s] && dt.Dominates(s, b) {
				edges = append(edges, [2]BlockID{b, s})
				continue
			}
			if !visited[s] {
				dfs(s)
			}
		}
		onStack[b] = false
	}
	dfs(f.Entry)
	return edges
}

func naturalLoopBody(f *Function, header, latch BlockID) map[BlockID]bool {
	body := map[BlockID]bool{header: true}
	stack := []BlockID{latch}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if body[n] {
			continue
		}
		body[n] = true
		for _, p := range f.Block(n).Preds {
			if !body[p] {
				stack = append(stack, p)
			}
		}
	}
	return body
}

// BuildLoopInfo detects every natural loop in f using its dominator
// tree, merging multi-latch loops that share a header and nesting
// loops whose bodies are contained in one another.
func BuildLoopInfo(f *Function, dt *DomTree) *LoopInfo {
	byHeader := map[BlockID]*Loop{}
	var order []BlockID
	for _, edge := range backEdges(f, dt) {
		latch, header := edge[0], edge[1]
		if l, ok := byHeader[header]; ok {
			l.Latches = append(l.Latches, latch)
			for b := range naturalLoopBody(f, header, latch) {
				l.Blocks[b] = true
			}
			continue
		}
		l := &Loop{Header: header, Latches: []BlockID{latch}, Blocks: naturalLoopBody(f, header, latch), Preheader: InvalidBlock}
		byHeader[header] = l
		order = append(order, header)
	}

	var loops []*Loop
	for _, h := range order {
		loops = append(loops, byHeader[h])
	}

	// Nest by body containment: a loop A is nested in the smallest
	// loop B != A whose body contains A's header.
	for _, l := range loops {
		var bestParent *Loop
		for _, cand := range loops {
			if cand == l {
				continue
			}
			if cand.Blocks[l.Header] && (bestParent == nil || len(cand.Blocks) < len(bestParent.Blocks)) {
				bestParent = cand
			}
		}
		if bestParent != nil {
			l.Parent = bestParent
			bestParent.SubLoops = append(bestParent.SubLoops, l)
		}
	}

	li := &LoopInfo{LoopOf: map[BlockID]*Loop{}}
	for _, l := range loops {
		if l.Parent == nil {
			li.TopLevel = append(li.TopLevel, l)
		}
	}
	for b := range allBlockIDs(f) {
		var innermost *Loop
		for _, l := range loops {
			if l.Blocks[b] && (innermost == nil || len(l.Blocks) < len(innermost.Blocks)) {
				innermost = l
			}
		}
		if innermost != nil {
			li.LoopOf[b] = innermost
		}
	}

	// Resolve a pre-header where one unambiguously exists: a single
	// predecessor of the header outside the loop.
	for _, l := range loops {
		var outside []BlockID
		for _, p := range f.Block(l.Header).Preds {
			if !l.Blocks[p] {
				outside = append(outside, p)
			}
		}
		if len(outside) == 1 {
			l.Preheader = outside[0]
		} else {
			l.Preheader = InvalidBlock
		}
	}

	return li
}

func allBlockIDs(f *Function) map[BlockID]bool {
	m := map[BlockID]bool{}
	for _, b := range f.Blocks {
		m[b.ID] = true
	}
	return m
}
