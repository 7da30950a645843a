package ir

// This file computes the dominator tree of a function's CFG using the
// iterative Cooper/Harvey/Kennedy algorithm over a reverse-postorder
// traversal, the same shape as the Go compiler's own ssa.dom.go (postorder
// plus intersect). Unreachable blocks are simply absent from the tree.

// DomTree is a function's dominator tree, valid until the next CFG
// mutation. Obtain one via Function.Dominators(), never by constructing it
// directly; it must be recomputed whenever InvalidateCFG has been called.
type DomTree struct {
	fn        *Function
	idom      map[*BasicBlock]*BasicBlock
	postNum   map[*BasicBlock]int
	order     []*BasicBlock // postorder
	children  map[*BasicBlock][]*BasicBlock
}

// postorder computes a postorder traversal of reachable blocks starting at
// the entry block.
func postorder(fn *Function) []*BasicBlock {
	entry := fn.Entry()
	if entry == nil {
		return nil
	}
	seen := map[*BasicBlock]bool{entry: true}
	var order []*BasicBlock

	type frame struct {
		b     *BasicBlock
		index int
	}
	stack := []frame{{b: entry}}
	for len(stack) > 0 {
		top := len(stack) - 1
		x := &stack[top]
		succs := x.b.Successors()
		if x.index < len(succs) {
			next := succs[x.index]
			x.index++
			if next != nil && !seen[next] {
				seen[next] = true
				stack = append(stack, frame{b: next})
			}
			continue
		}
		stack = stack[:top]
		order = append(order, x.b)
	}
	return order
}

// intersect finds the closest common dominator of b and c, per the
// standard Cooper/Harvey/Kennedy formulation.
func intersect(b, c *BasicBlock, postNum map[*BasicBlock]int, idom map[*BasicBlock]*BasicBlock) *BasicBlock {
	for b != c {
		for postNum[b] < postNum[c] {
			b = idom[b]
		}
		for postNum[c] < postNum[b] {
			c = idom[c]
		}
	}
	return b
}

// Dominators returns the function's dominator tree, computing and caching
// it if necessary. Any pass that mutates the CFG must call
// Function.InvalidateCFG before this is called again.
func (fn *Function) Dominators() *DomTree {
	if fn.domTree != nil {
		return fn.domTree
	}
	fn.domTree = computeDomTree(fn)
	return fn.domTree
}

func computeDomTree(fn *Function) *DomTree {
	entry := fn.Entry()
	order := postorder(fn)
	postNum := make(map[*BasicBlock]int, len(order))
	for i, b := range order {
		postNum[b] = i
	}

	idom := make(map[*BasicBlock]*BasicBlock, len(order))
	if entry != nil {
		idom[entry] = entry
	}

	// predecessors restricted to reachable blocks, computed fresh rather
	// than trusting BasicBlock.predecessors (which may be stale).
	preds := make(map[*BasicBlock][]*BasicBlock, len(order))
	inOrder := make(map[*BasicBlock]bool, len(order))
	for _, b := range order {
		inOrder[b] = true
	}
	for _, b := range order {
		for _, s := range b.Successors() {
			if inOrder[s] {
				preds[s] = append(preds[s], b)
			}
		}
	}

	changed := true
	for changed {
		changed = false
		for i := len(order) - 2; i >= 0; i-- { // reverse postorder, skip entry
			b := order[i]
			var newIdom *BasicBlock
			for _, p := range preds[b] {
				if idom[p] == nil {
					continue
				}
				if newIdom == nil {
					newIdom = p
					continue
				}
				newIdom = intersect(newIdom, p, postNum, idom)
			}
			if newIdom != nil && idom[b] != newIdom {
				idom[b] = newIdom
				changed = true
			}
		}
	}

	children := make(map[*BasicBlock][]*BasicBlock, len(order))
	for _, b := range order {
		if b == entry {
			continue
		}
		d := idom[b]
		children[d] = append(children[d], b)
	}

	return &DomTree{fn: fn, idom: idom, postNum: postNum, order: order, children: children}
}

// IDom returns b's immediate dominator, or nil for the entry block or an
// unreachable block.
func (t *DomTree) IDom(b *BasicBlock) *BasicBlock {
	if t.idom[b] == b {
		return nil
	}
	return t.idom[b]
}

// Dominates reports whether a dominates b (every definition in a is visible
// to every use in b). A block dominates itself.
func (t *DomTree) Dominates(a, b *BasicBlock) bool {
	if a == b {
		return true
	}
	for cur := t.idom[b]; cur != nil; cur = t.idom[cur] {
		if cur == a {
			return true
		}
		if cur == t.idom[cur] {
			break // reached the entry block
		}
	}
	return false
}

// Children returns the blocks b immediately dominates.
func (t *DomTree) Children(b *BasicBlock) []*BasicBlock { return t.children[b] }

// Reachable reports whether b was reached by the traversal that built this
// tree.
func (t *DomTree) Reachable(b *BasicBlock) bool {
	_, ok := t.postNum[b]
	return ok
}
