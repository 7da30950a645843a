package ir

import "fmt"

// RecomputePredecessors rebuilds every block's predecessor list from the
// current terminators. Passes that split, clone, or rewire blocks must call
// this (and Function.InvalidateCFG) before any code relies on
// BasicBlock.Predecessors.
func (fn *Function) RecomputePredecessors() {
	for _, b := range fn.Blocks {
		b.predecessors = nil
	}
	for _, b := range fn.Blocks {
		for _, s := range b.Successors() {
			if s != nil {
				s.predecessors = append(s.predecessors, b)
			}
		}
	}
}

// SplitBlock splits b immediately before Instructions[at], moving
// Instructions[at:] and b's terminator into a brand-new successor block.
// b itself is left ending in an unconditional jump to the new block. The
// new block is inserted immediately after b in Function.Blocks. Splitting
// never happens before a PHI (at must be >= FirstNonPhiOrDebug()).
//
// Grounded on llvm::BasicBlock::splitBasicBlock, the primitive the boguscf
// pass's runOnFunction uses to carve the "original" half away from each
// chosen block before installing a cloned sibling.
func (fn *Function) SplitBlock(b *BasicBlock, at int, newLabel string) *BasicBlock {
	if at < b.FirstNonPhiOrDebug() {
		panic("ir: SplitBlock cannot split before a PHI or debug instruction")
	}
	tail := &BasicBlock{
		Label:        newLabel,
		Func:         fn,
		Instructions: append([]Instruction(nil), b.Instructions[at:]...),
		Terminator:   b.Terminator,
	}
	for _, inst := range tail.Instructions {
		inst.SetBlock(tail)
	}
	tail.Terminator.SetBlock(tail)

	b.Instructions = b.Instructions[:at]
	b.Terminator = NewJump(tail)
	b.Terminator.SetBlock(b)

	idx := fn.BlockIndex(b)
	fn.Blocks = append(fn.Blocks, nil)
	copy(fn.Blocks[idx+2:], fn.Blocks[idx+1:])
	fn.Blocks[idx+1] = tail

	fn.InvalidateCFG()
	return tail
}

// ValueMap tracks old->new value substitutions while cloning a region of
// the IR; RemapInstruction consults it so intra-region references are
// rewired to point at the fresh copies instead of the originals.
type ValueMap struct {
	m map[*Value]*Value
}

func NewValueMap() *ValueMap { return &ValueMap{m: map[*Value]*Value{}} }

func (vm *ValueMap) Set(old, new *Value) { vm.m[old] = new }
func (vm *ValueMap) Get(v *Value) (*Value, bool) {
	nv, ok := vm.m[v]
	return nv, ok
}

// RemapInstruction rewrites inst's operands in place using vm, leaving any
// operand absent from vm untouched (it refers to a value defined outside
// the cloned region - a function parameter, a global, or a block that
// dominates the clone site - and intentionally stays shared).
func RemapInstruction(inst Instruction, vm *ValueMap) {
	for _, op := range inst.Operands() {
		if nv, ok := vm.Get(op); ok {
			inst.ReplaceOperand(op, nv)
		}
	}
	if term, ok := inst.(Terminator); ok {
		// Successor blocks are remapped separately via RemapTerminatorBlocks
		// once the clone's blocks all exist.
		_ = term
	}
}

// RemapTerminatorBlocks rewrites a cloned terminator's successor blocks
// using blockMap, leaving successors outside the cloned region (jumps back
// out to shared code) untouched.
func RemapTerminatorBlocks(term Terminator, blockMap map[*BasicBlock]*BasicBlock) {
	for i, s := range term.Successors() {
		if nb, ok := blockMap[s]; ok {
			term.SetSuccessor(i, nb)
		}
	}
}

// CloneBlock produces a structural copy of b's instructions and terminator
// (not yet rewired to point at any clone sibling), recording every
// old->new value substitution in vm. The caller is responsible for
// appending the clone to a function and then calling RemapInstruction /
// RemapTerminatorBlocks over its contents once every sibling in the region
// has been cloned.
//
// Grounded on llvm::CloneBasicBlock, the primitive boguscf's
// runOnFunction uses per candidate block.
func CloneBlock(b *BasicBlock, newLabel string, vm *ValueMap) *BasicBlock {
	clone := &BasicBlock{Label: newLabel, LandingPad: b.LandingPad}
	for _, inst := range b.Instructions {
		ni := inst.clone()
		ni.SetBlock(clone)
		clone.Instructions = append(clone.Instructions, ni)
		if r, nr := inst.Result(), ni.Result(); r != nil && nr != nil {
			vm.Set(r, nr)
		}
	}
	nt := b.Terminator.clone().(Terminator)
	nt.SetBlock(clone)
	clone.Terminator = nt
	return clone
}

// CloneFunctionInto deep-copies src's body into a fresh Function named
// name, remapping every intra-function value and block reference. Used by
// the function-copying pass (spec §4.5) to duplicate an entire function
// under a fresh identity.
func CloneFunctionInto(src *Function, name string) *Function {
	dst := &Function{
		Name:       name,
		ReturnType: src.ReturnType,
		Linkage:    src.Linkage,
	}

	vm := NewValueMap()
	for _, p := range src.Params {
		np := &Param{Name: p.Name, Type: p.Type}
		np.Value = &Value{Type: p.Type, Name: p.Name}
		dst.Params = append(dst.Params, np)
		vm.Set(p.Value, np.Value)
	}

	blockMap := make(map[*BasicBlock]*BasicBlock, len(src.Blocks))
	for _, b := range src.Blocks {
		nb := CloneBlock(b, fmt.Sprintf("%s.%s", name, b.Label), vm)
		nb.Func = dst
		dst.Blocks = append(dst.Blocks, nb)
		blockMap[b] = nb
	}

	for _, nb := range dst.Blocks {
		for _, inst := range nb.Instructions {
			RemapInstruction(inst, vm)
			if phi, ok := inst.(*PhiInst); ok {
				remapped := map[*BasicBlock]*Value{}
				var order []*BasicBlock
				for _, ob := range phi.Order {
					tb := ob
					if m, ok := blockMap[ob]; ok {
						tb = m
					}
					order = append(order, tb)
					remapped[tb] = phi.Incoming[ob]
				}
				phi.Order = order
				phi.Incoming = remapped
			}
		}
		RemapInstruction(nb.Terminator, vm)
		RemapTerminatorBlocks(nb.Terminator, blockMap)
	}

	dst.valueSeq = src.valueSeq
	dst.InvalidateCFG()
	dst.RecomputePredecessors()
	return dst
}
