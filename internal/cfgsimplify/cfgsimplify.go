// Package cfgsimplify implements the register-promotion/CFG-simplify glue
// the scheduler runs between non-trivial obfuscation passes (spec §4.7):
// pruning blocks the dominator walk no longer reaches, and collapsing
// single-successor/single-predecessor jump chains a pass left behind (a
// split-then-immediately-rejoined block pair, for instance), so the next
// pass in the pipeline never has to special-case them.
//
// Grounded on ObfUtils' own cleanup helpers in the original
// (obf_utilities.cpp run unreachable-block elimination and basic-block
// merging between passes the same way); this IR has no equivalent of
// LLVM's UnifyFunctionExitNodes/SimplifyCFG pass, so the two behaviors it
// actually needs are reimplemented directly against the dominator tree
// the ir package already exposes.
package cfgsimplify

import "ssaobf/internal/ir"

// Stats reports how much a Run call changed.
type Stats struct {
	BlocksPruned int
	BlocksMerged int
}

// Run simplifies every function in prog, returning the total blocks
// removed.
func Run(prog *ir.Program) Stats {
	var stats Stats
	for _, fn := range prog.Functions {
		if fn.IsDeclaration() {
			continue
		}
		stats.BlocksPruned += pruneUnreachable(fn)
		stats.BlocksMerged += mergeJumpChains(fn)
	}
	return stats
}

// pruneUnreachable removes every block the dominator tree's traversal
// never reached, leaving the entry block and anything it can still reach
// through the CFG.
func pruneUnreachable(fn *ir.Function) int {
	dom := fn.Dominators()
	var kept []*ir.BasicBlock
	removed := 0
	for _, b := range fn.Blocks {
		if b == fn.Entry() || dom.Reachable(b) {
			kept = append(kept, b)
			continue
		}
		removed++
	}
	if removed > 0 {
		fn.Blocks = kept
		fn.InvalidateCFG()
		fn.RecomputePredecessors()
	}
	return removed
}

// mergeJumpChains folds any block b into its sole predecessor p when p
// ends in a plain jump to b and b has no other predecessor: the two
// blocks never needed to be split in the first place, so their
// instructions are concatenated into p and b is deleted. Repeats until a
// full pass finds nothing left to merge, since folding one pair can make
// its own predecessor newly eligible.
func mergeJumpChains(fn *ir.Function) int {
	merged := 0
	for {
		did := false
		for _, b := range fn.Blocks {
			if b == fn.Entry() || b.LandingPad {
				continue
			}
			preds := b.Predecessors()
			if len(preds) != 1 {
				continue
			}
			p := preds[0]
			jump, ok := p.Terminator.(*ir.JumpTerm)
			if !ok || jump.Target != b || len(b.Phis()) > 0 {
				continue
			}
			p.Instructions = append(p.Instructions, b.Instructions...)
			p.Terminator = b.Terminator
			p.Terminator.SetBlock(p)
			removeBlock(fn, b)
			merged++
			did = true
			break
		}
		if !did {
			break
		}
		fn.InvalidateCFG()
		fn.RecomputePredecessors()
	}
	return merged
}

func removeBlock(fn *ir.Function, dead *ir.BasicBlock) {
	var kept []*ir.BasicBlock
	for _, b := range fn.Blocks {
		if b != dead {
			kept = append(kept, b)
		}
	}
	fn.Blocks = kept
}
