// Package flatten implements Control-Flow Flattening: every candidate
// block's terminator is reduced to "jump to one dispatch block", with a
// per-block index value threaded through a switch so the dispatcher alone
// decides, at runtime, which block executes next. Static recovery of the
// original CFG then requires solving that index's data-flow.
//
// The original lib/Transform/flatten.cpp only implements the eligibility
// checks below; the dispatcher construction itself was never written
// there, and comes entirely from spec.md §4.4.
package flatten

import (
	"fmt"

	"ssaobf/internal/ir"
	"ssaobf/internal/obfmeta"
)

// Config mirrors spec.md §6's flatten* flags.
type Config struct {
	Func []string
	Seed string
}

type Stats struct {
	FunctionsTransformed int
	FunctionsSkipped     int
}

type Pass struct {
	cfg  Config
	meta *obfmeta.Store
}

func New(cfg Config, meta *obfmeta.Store) *Pass {
	return &Pass{cfg: cfg, meta: meta}
}

func (p *Pass) allowed(fn *ir.Function) bool {
	if len(p.cfg.Func) == 0 {
		return true
	}
	for _, n := range p.cfg.Func {
		if n == fn.Name {
			return true
		}
	}
	return false
}

// hasUnsupportedTerminator reports whether fn contains an indirect-branch,
// switch, or invoke terminator - Flatten eligibility rule (c).
func hasUnsupportedTerminator(fn *ir.Function) bool {
	for _, b := range fn.Blocks {
		switch b.Terminator.(type) {
		case *ir.SwitchTerm, *ir.IndirectBrTerm, *ir.InvokeTerm:
			return true
		}
	}
	return false
}

// candidateBlocks returns every block except the entry block and landing
// pads - Flatten and Copy's shared eligibility predicate (spec §4.4,
// "Eligibility is the same predicate, exposed to Copy").
func candidateBlocks(fn *ir.Function) []*ir.BasicBlock {
	entry := fn.Entry()
	var out []*ir.BasicBlock
	for _, b := range fn.Blocks {
		if b == entry || b.LandingPad {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Eligible reports whether fn may be flattened: not a declaration, no
// unsupported terminator anywhere, at least two non-entry/non-landing-pad
// blocks remain, and the entry's terminator has fewer successors than
// that candidate count (otherwise the CFG is already a single dispatch
// step and flattening would be a no-op).
func Eligible(fn *ir.Function) bool {
	if fn.IsDeclaration() {
		return false
	}
	if hasUnsupportedTerminator(fn) {
		return false
	}
	candidates := candidateBlocks(fn)
	if len(candidates) < 2 {
		return false
	}
	entry := fn.Entry()
	if entry.Terminator == nil {
		return false
	}
	return len(entry.Terminator.Successors()) < len(candidates)
}

// Run flattens every eligible, allow-listed, untagged function in prog.
func (p *Pass) Run(prog *ir.Program) (Stats, error) {
	var stats Stats
	for _, fn := range prog.Functions {
		if !p.allowed(fn) {
			continue
		}
		if p.meta.CheckFunctionTagged(fn, obfmeta.Flatten) {
			stats.FunctionsSkipped++
			continue
		}
		if !Eligible(fn) {
			stats.FunctionsSkipped++
			continue
		}
		if err := p.flattenFunction(fn); err != nil {
			return stats, err
		}
		stats.FunctionsTransformed++
	}
	return stats, nil
}

func (p *Pass) flattenFunction(fn *ir.Function) error {
	candidates := candidateBlocks(fn)

	// Step 1: demote every PHI to a stack slot so dispatch rewiring never
	// has to reconcile incoming-edge bookkeeping mid-transform.
	ir.DemotePhisToMemory(fn)

	entry := fn.Entry()
	idx := make(map[*ir.BasicBlock]int, len(candidates))
	for i, c := range candidates {
		idx[c] = i
	}

	// Step 2: split the entry block when it branches (more than one
	// successor), so its work and branch survive as `initial` once entry is
	// reduced to a bare jump; a single-successor entry keeps its
	// instructions and its successor becomes `initial`.
	var initial *ir.BasicBlock
	if len(entry.Terminator.Successors()) > 1 {
		initial = fn.SplitBlock(entry, entry.FirstNonPhiOrDebug(), entry.Label+".flatten.initial")
	} else {
		succs := entry.Terminator.Successors()
		if len(succs) != 1 {
			return fmt.Errorf("flatten: %s: entry terminator has %d successors, expected exactly 1 when not splitting", fn.Name, len(succs))
		}
		initial = succs[0]
	}
	initialIdx, isCandidate := idx[initial]
	if !isCandidate {
		initialIdx = -1
	}

	// Step 3: the dispatch block itself.
	dispatch := &ir.BasicBlock{Label: fn.Name + ".flatten.dispatch"}
	fn.AddBlock(dispatch)
	jumpIndex := ir.NewPhi(ir.I32)
	jumpIndex.Res.Name = "jumpIndex"
	dispatch.Instructions = append(dispatch.Instructions, jumpIndex)
	sw := ir.NewSwitch(jumpIndex.Res, initial)
	sw.SetBlock(dispatch)
	dispatch.Terminator = sw
	for _, c := range candidates {
		if c == initial {
			continue // already the switch's default destination
		}
		sw.AddCase(constI32(idx[c]), c)
	}
	p.meta.Tag(sw, obfmeta.Switch, obfmeta.ValTrue)

	// Step 4: entry becomes an unconditional jump into dispatch, feeding
	// jumpIndex with initial's index for that edge.
	entry.Terminator = ir.NewJump(dispatch)
	entry.Terminator.SetBlock(entry)
	jumpIndex.AddIncoming(entry, constI32(initialIdx))

	// Step 5: fold each candidate's terminator down to "compute an index,
	// jump to dispatch", except blocks that never continue at all.
	for _, b := range candidates {
		switch t := b.Terminator.(type) {
		case *ir.ReturnTerm, *ir.ResumeTerm, *ir.UnreachableTerm:
			// 0 successors: leave unchanged.
		case *ir.JumpTerm:
			jumpIndex.AddIncoming(b, constI32(idx[t.Target]))
			b.Terminator = ir.NewJump(dispatch)
			b.Terminator.SetBlock(b)
		case *ir.BranchTerm:
			sel := ir.NewSelect(t.Cond, constI32(idx[t.True]), constI32(idx[t.False]))
			sel.SetBlock(b)
			b.Instructions = append(b.Instructions, sel)
			jumpIndex.AddIncoming(b, sel.Res)
			b.Terminator = ir.NewJump(dispatch)
			b.Terminator.SetBlock(b)
		default:
			return fmt.Errorf("flatten: %s: unsupported terminator %T in candidate block %s", fn.Name, t, b.Label)
		}
	}

	// Step 6: any value defined in a candidate block but used outside it
	// needs a dispatch-resident PHI so the def still dominates every use
	// once control only ever flows back through dispatch.
	for _, b := range candidates {
		for _, inst := range b.Instructions {
			v := inst.Result()
			if v == nil {
				continue
			}
			externalUses := collectExternalUses(fn, b, v)
			if len(externalUses) == 0 {
				continue
			}
			phi := ir.NewPhi(v.Type)
			dispatch.Instructions = append(dispatch.Instructions, phi)
			phi.AddIncoming(b, v)
			for _, use := range externalUses {
				use.ReplaceOperand(v, phi.Res)
			}
		}
	}

	// Step 7: complete every PHI in dispatch against the full predecessor
	// set (entry, plus every candidate whose terminator still has a
	// successor - i.e. now jumps to dispatch).
	dispatchPreds := []*ir.BasicBlock{entry}
	for _, b := range candidates {
		if len(b.Successors()) >= 1 {
			dispatchPreds = append(dispatchPreds, b)
		}
	}
	for _, inst := range dispatch.Instructions {
		phi, ok := inst.(*ir.PhiInst)
		if !ok {
			continue
		}
		for _, pred := range dispatchPreds {
			if phi.HasIncoming(pred) {
				continue
			}
			if pred == entry {
				phi.AddIncoming(pred, ir.NewUndef(phi.Res.Type).Res)
			} else {
				phi.AddIncoming(pred, phi.Res)
			}
		}
	}

	fn.InvalidateCFG()
	fn.RecomputePredecessors()

	// Step 8: promote the stack slots PHI demotion introduced back to SSA.
	ir.PromoteMemoryToRegisters(fn)

	// Step 9.
	p.meta.TagFunction(fn, obfmeta.Flatten, obfmeta.ValTrue)
	return nil
}

func constI32(v int) *ir.Value {
	c := ir.NewConst(ir.I32, int64(v))
	return c.Res
}

// collectExternalUses finds every instruction/terminator outside block def
// that references v as an operand. A PHI that reads v only along the edge
// from def sees v at the end of def, so it is not counted.
func collectExternalUses(fn *ir.Function, def *ir.BasicBlock, v *ir.Value) []ir.Instruction {
	var uses []ir.Instruction
	for _, b := range fn.Blocks {
		if b == def {
			continue
		}
		for _, inst := range b.Instructions {
			if phi, ok := inst.(*ir.PhiInst); ok {
				for _, from := range phi.Order {
					if from != def && phi.Incoming[from] == v {
						uses = append(uses, inst)
						break
					}
				}
				continue
			}
			if referencesValue(inst, v) {
				uses = append(uses, inst)
			}
		}
		if b.Terminator != nil && referencesValue(b.Terminator, v) {
			uses = append(uses, b.Terminator)
		}
	}
	return uses
}

func referencesValue(inst ir.Instruction, v *ir.Value) bool {
	for _, op := range inst.Operands() {
		if op == v {
			return true
		}
	}
	return false
}
