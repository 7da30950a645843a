package ir

import "fmt"

// DemotePhisToMemory rewrites every PHI in fn into a stack slot: an alloca
// at the entry block, a store at the end of each incoming predecessor (just
// before its terminator), and a load replacing the PHI's uses. BogusCF runs
// this before cloning blocks so that cloned siblings don't have to carry
// PHI incoming-edge bookkeeping; PromoteMemoryToRegisters reverses it once
// the CFG has settled (spec §4.3, §4 pipeline order "demote-registers-to-
// memory" step).
//
// Grounded on ObfUtils::promoteAllocas's counterpart in the original
// (obf_utilities.cpp), which runs the inverse direction after scheduling.
func DemotePhisToMemory(fn *Function) {
	entry := fn.Entry()
	if entry == nil {
		return
	}
	slot := 0
	for _, b := range fn.Blocks {
		phis := b.Phis()
		if len(phis) == 0 {
			continue
		}
		for _, phi := range phis {
			slot++
			alloca := NewAlloca(phi.Res.Type)
			alloca.Res.Name = fmt.Sprintf("phi.demote.%d", slot)
			entry.Instructions = append([]Instruction{alloca}, entry.Instructions...)

			for _, pred := range phi.Order {
				v := phi.Incoming[pred]
				store := NewStore(alloca.Res, v)
				insertBeforeTerminator(pred, store)
			}

			load := NewLoad(alloca.Res, phi.Res.Type)
			replaceAllUses(fn, phi.Res, load.Res)
			b.Instructions = replaceInstruction(b.Instructions, phi, load)
		}
	}
	fn.InvalidateCFG()
	fn.RecomputePredecessors()
}

// PromoteMemoryToRegisters rewrites every alloca in fn that is only ever
// stored to and loaded from (never address-taken otherwise) back into
// direct SSA values, reinserting PHIs at blocks with multiple reaching
// definitions. This is the standard mem2reg transform LLVM exposes as
// PromoteMemToReg and obf_utilities.cpp's promoteAllocas wraps; BogusCF's
// doFinalization and the pipeline's final promote-memory-to-registers step
// both rely on it to undo DemotePhisToMemory and clean up any allocas a
// pass introduced along the way.
func PromoteMemoryToRegisters(fn *Function) {
	dom := fn.Dominators()
	for _, entryInst := range append([]Instruction(nil), fn.Entry().Instructions...) {
		alloca, ok := entryInst.(*AllocaInst)
		if !ok {
			continue
		}
		if !promotable(fn, alloca) {
			continue
		}
		promoteOne(fn, alloca, dom)
	}
	fn.InvalidateCFG()
	fn.RecomputePredecessors()
}

// promotable reports whether every use of alloca.Res is as the Address
// operand of a LoadInst or StoreInst (never escaping as a stored value or
// call argument).
func promotable(fn *Function, alloca *AllocaInst) bool {
	ok := true
	forEachUse(fn, alloca.Res, func(inst Instruction) {
		switch ti := inst.(type) {
		case *LoadInst:
			if ti.Address != alloca.Res {
				ok = false
			}
		case *StoreInst:
			if ti.Address != alloca.Res {
				ok = false
			}
		default:
			ok = false
		}
	})
	return ok
}

// promoteOne replaces every load of alloca with the most recently stored
// value reaching that point, walking the dominator tree depth-first and
// carrying one "current value" per block; at a join with more than one
// incoming definition it materialises a PHI instead.
func promoteOne(fn *Function, alloca *AllocaInst, dom *DomTree) {
	type pending struct {
		block *BasicBlock
		value *Value
	}
	var defAt = map[*BasicBlock]*Value{}
	var phiOf = map[*BasicBlock]*PhiInst{}

	var removeInsts = map[Instruction]bool{alloca: true}

	var walk func(b *BasicBlock, incoming *Value)
	walk = func(b *BasicBlock, incoming *Value) {
		cur := incoming
		if len(b.Predecessors()) > 1 && alloca.definedAcrossPreds(b) {
			phi := NewPhi(alloca.Elem)
			b.Instructions = append([]Instruction{phi}, b.Instructions...)
			phiOf[b] = phi
			cur = phi.Res
		}

		var kept []Instruction
		for _, inst := range b.Instructions {
			switch ti := inst.(type) {
			case *StoreInst:
				if ti.Address == alloca.Res {
					cur = ti.Val
					removeInsts[ti] = true
					continue
				}
			case *LoadInst:
				if ti.Address == alloca.Res {
					replaceAllUses(fn, ti.Res, cur)
					removeInsts[ti] = true
					continue
				}
			case *PhiInst:
				if ti == phiOf[b] {
					kept = append(kept, ti)
					continue
				}
			}
			kept = append(kept, inst)
		}
		b.Instructions = kept
		defAt[b] = cur

		for _, child := range dom.Children(b) {
			walk(child, cur)
		}
	}
	walk(fn.Entry(), nil)

	// Wire PHI incoming edges now that every block's outgoing value is
	// known.
	for block, phi := range phiOf {
		for _, pred := range block.Predecessors() {
			v := defAt[pred]
			if v == nil {
				v = zeroValue(alloca.Elem)
			}
			phi.AddIncoming(pred, v)
		}
	}

	for _, b := range fn.Blocks {
		var kept []Instruction
		for _, inst := range b.Instructions {
			if removeInsts[inst] {
				continue
			}
			kept = append(kept, inst)
		}
		b.Instructions = kept
	}
}

// definedAcrossPreds reports whether two or more of b's predecessors can
// reach b with distinct definitions of alloca - a conservative stand-in
// for full SSA construction's iterated dominance frontier that always
// inserts a PHI at any block with more than one predecessor, erring on the
// side of an extra (dead) PHI rather than missing one.
func (a *AllocaInst) definedAcrossPreds(b *BasicBlock) bool {
	return len(b.Predecessors()) > 1
}

func zeroValue(t Type) *Value {
	c := NewConst(t, 0)
	return c.Res
}

func insertBeforeTerminator(b *BasicBlock, inst Instruction) {
	inst.SetBlock(b)
	b.Instructions = append(b.Instructions, inst)
}

func replaceInstruction(insts []Instruction, old, new Instruction) []Instruction {
	out := make([]Instruction, len(insts))
	copy(out, insts)
	for i, inst := range out {
		if inst == old {
			new.SetBlock(inst.Block())
			out[i] = new
			return out
		}
	}
	return append(out, new)
}

// ReplaceAllUses rewrites every operand reference to old, across every
// instruction and terminator in fn, to with. Exported for passes outside
// this package that splice in replacement values after the fact (e.g.
// inline's call-site substitution).
func ReplaceAllUses(fn *Function, old, with *Value) {
	replaceAllUses(fn, old, with)
}

// replaceAllUses rewrites every operand reference to old, across every
// instruction and terminator in fn, to with.
func replaceAllUses(fn *Function, old, with *Value) {
	if old == nil || old == with {
		return
	}
	for _, b := range fn.Blocks {
		for _, inst := range b.Instructions {
			inst.ReplaceOperand(old, with)
		}
		if b.Terminator != nil {
			b.Terminator.ReplaceOperand(old, with)
		}
	}
}

// forEachUse invokes fn for every instruction (including terminators) that
// references v as an operand.
func forEachUse(f *Function, v *Value, visit func(Instruction)) {
	for _, b := range f.Blocks {
		for _, inst := range b.Instructions {
			for _, op := range inst.Operands() {
				if op == v {
					visit(inst)
					break
				}
			}
		}
		if b.Terminator != nil {
			for _, op := range b.Terminator.Operands() {
				if op == v {
					visit(b.Terminator)
					break
				}
			}
		}
	}
}
