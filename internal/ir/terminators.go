package ir

import (
	"fmt"
	"strings"
)

// termBase factors the Result()/operand-less bits shared by every
// terminator, none of which produce an SSA value.
type termBase struct{ instBase }

func (termBase) Result() *Value     { return nil }
func (termBase) IsTerminator() bool { return true }

// ReturnTerm exits the function, optionally with a value.
type ReturnTerm struct {
	termBase
	Val *Value // nil for a void return
}

func NewReturn(val *Value) *ReturnTerm { return &ReturnTerm{Val: val} }

func (r *ReturnTerm) Operands() []*Value {
	if r.Val == nil {
		return nil
	}
	return []*Value{r.Val}
}
func (r *ReturnTerm) Successors() []*BasicBlock     { return nil }
func (r *ReturnTerm) SetSuccessor(int, *BasicBlock) { panic("ir: ReturnTerm has no successors") }
func (r *ReturnTerm) String() string {
	if r.Val == nil {
		return "ret void"
	}
	return fmt.Sprintf("ret %s", r.Val)
}
func (r *ReturnTerm) ReplaceOperand(old, with *Value) {
	if r.Val == old {
		r.Val = with
	}
}
func (r *ReturnTerm) clone() Instruction { return NewReturn(r.Val) }

// JumpTerm is an unconditional branch.
type JumpTerm struct {
	termBase
	Target *BasicBlock
}

func NewJump(target *BasicBlock) *JumpTerm { return &JumpTerm{Target: target} }

func (j *JumpTerm) Operands() []*Value        { return nil }
func (j *JumpTerm) Successors() []*BasicBlock { return []*BasicBlock{j.Target} }
func (j *JumpTerm) SetSuccessor(i int, b *BasicBlock) {
	if i != 0 {
		panic("ir: JumpTerm has a single successor")
	}
	j.Target = b
}
func (j *JumpTerm) String() string               { return fmt.Sprintf("jmp %s", j.Target) }
func (j *JumpTerm) ReplaceOperand(*Value, *Value) {}
func (j *JumpTerm) clone() Instruction            { return NewJump(j.Target) }

// BranchTerm is a two-way conditional branch.
type BranchTerm struct {
	termBase
	Cond        *Value
	True, False *BasicBlock
}

func NewBranch(cond *Value, t, f *BasicBlock) *BranchTerm {
	return &BranchTerm{Cond: cond, True: t, False: f}
}

func (b *BranchTerm) Operands() []*Value        { return []*Value{b.Cond} }
func (b *BranchTerm) Successors() []*BasicBlock { return []*BasicBlock{b.True, b.False} }
func (b *BranchTerm) SetSuccessor(i int, blk *BasicBlock) {
	switch i {
	case 0:
		b.True = blk
	case 1:
		b.False = blk
	default:
		panic("ir: BranchTerm has two successors")
	}
}
func (b *BranchTerm) String() string {
	return fmt.Sprintf("br %s, %s, %s", b.Cond, b.True, b.False)
}
func (b *BranchTerm) ReplaceOperand(old, with *Value) {
	if b.Cond == old {
		b.Cond = with
	}
}
func (b *BranchTerm) clone() Instruction { return NewBranch(b.Cond, b.True, b.False) }

// SwitchCase is one value/target pair of a SwitchTerm.
type SwitchCase struct {
	Val    *Value
	Target *BasicBlock
}

// SwitchTerm dispatches on an integer value, grounding the Flatten pass's
// dispatcher block.
type SwitchTerm struct {
	termBase
	Cond    *Value
	Default *BasicBlock
	Cases   []SwitchCase
}

func NewSwitch(cond *Value, def *BasicBlock) *SwitchTerm {
	return &SwitchTerm{Cond: cond, Default: def}
}

func (s *SwitchTerm) AddCase(val *Value, target *BasicBlock) {
	s.Cases = append(s.Cases, SwitchCase{Val: val, Target: target})
}

func (s *SwitchTerm) Operands() []*Value {
	ops := []*Value{s.Cond}
	for _, c := range s.Cases {
		ops = append(ops, c.Val)
	}
	return ops
}
func (s *SwitchTerm) Successors() []*BasicBlock {
	succs := []*BasicBlock{s.Default}
	for _, c := range s.Cases {
		succs = append(succs, c.Target)
	}
	return succs
}
func (s *SwitchTerm) SetSuccessor(i int, blk *BasicBlock) {
	if i == 0 {
		s.Default = blk
		return
	}
	s.Cases[i-1].Target = blk
}
func (s *SwitchTerm) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "switch %s, default %s [", s.Cond, s.Default)
	for i, c := range s.Cases {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", c.Val, c.Target)
	}
	sb.WriteString("]")
	return sb.String()
}
func (s *SwitchTerm) ReplaceOperand(old, with *Value) {
	if s.Cond == old {
		s.Cond = with
	}
	for i := range s.Cases {
		if s.Cases[i].Val == old {
			s.Cases[i].Val = with
		}
	}
}
func (s *SwitchTerm) clone() Instruction {
	c := NewSwitch(s.Cond, s.Default)
	c.Cases = append([]SwitchCase(nil), s.Cases...)
	return c
}

// IndirectBrTerm is an indirect branch through a block-address value to one
// of a fixed candidate set.
type IndirectBrTerm struct {
	termBase
	Addr       *Value
	Candidates []*BasicBlock
}

func NewIndirectBr(addr *Value, candidates []*BasicBlock) *IndirectBrTerm {
	return &IndirectBrTerm{Addr: addr, Candidates: candidates}
}

func (i *IndirectBrTerm) Operands() []*Value        { return []*Value{i.Addr} }
func (i *IndirectBrTerm) Successors() []*BasicBlock { return i.Candidates }
func (i *IndirectBrTerm) SetSuccessor(idx int, blk *BasicBlock) { i.Candidates[idx] = blk }
func (i *IndirectBrTerm) String() string {
	return fmt.Sprintf("indirectbr %s, %v", i.Addr, i.Candidates)
}
func (i *IndirectBrTerm) ReplaceOperand(old, with *Value) {
	if i.Addr == old {
		i.Addr = with
	}
}
func (i *IndirectBrTerm) clone() Instruction {
	return NewIndirectBr(i.Addr, append([]*BasicBlock(nil), i.Candidates...))
}

// InvokeTerm calls a function that may unwind to a landing pad on
// exception, rather than falling through. BogusCF's candidate-block scan
// excludes blocks ending in InvokeTerm (spec §4.3 eligibility rule).
type InvokeTerm struct {
	termBase
	Res         *Value
	Callee      string
	Args        []*Value
	Normal, Unwind *BasicBlock
}

func NewInvoke(callee string, retType Type, args []*Value, normal, unwind *BasicBlock) *InvokeTerm {
	in := &InvokeTerm{Callee: callee, Args: args, Normal: normal, Unwind: unwind}
	if retType != nil {
		if _, void := retType.(*VoidType); !void {
			in.Res = &Value{Type: retType, Def: in}
		}
	}
	return in
}

func (i *InvokeTerm) Result() *Value        { return i.Res }
func (i *InvokeTerm) Operands() []*Value    { return i.Args }
func (i *InvokeTerm) IsTerminator() bool    { return true }
func (i *InvokeTerm) Successors() []*BasicBlock { return []*BasicBlock{i.Normal, i.Unwind} }
func (i *InvokeTerm) SetSuccessor(idx int, blk *BasicBlock) {
	switch idx {
	case 0:
		i.Normal = blk
	case 1:
		i.Unwind = blk
	default:
		panic("ir: InvokeTerm has two successors")
	}
}
func (i *InvokeTerm) String() string {
	return fmt.Sprintf("%s = invoke %s%v to %s unwind %s", i.Res, i.Callee, i.Args, i.Normal, i.Unwind)
}
func (i *InvokeTerm) ReplaceOperand(old, with *Value) {
	for idx, a := range i.Args {
		if a == old {
			i.Args[idx] = with
		}
	}
}
func (i *InvokeTerm) clone() Instruction {
	var rt Type = &VoidType{}
	if i.Res != nil {
		rt = i.Res.Type
	}
	return NewInvoke(i.Callee, rt, append([]*Value(nil), i.Args...), i.Normal, i.Unwind)
}

// ResumeTerm re-raises an in-flight exception out of a landing pad.
type ResumeTerm struct {
	termBase
	Val *Value
}

func NewResume(val *Value) *ResumeTerm { return &ResumeTerm{Val: val} }

func (r *ResumeTerm) Operands() []*Value        { return []*Value{r.Val} }
func (r *ResumeTerm) Successors() []*BasicBlock { return nil }
func (r *ResumeTerm) SetSuccessor(int, *BasicBlock) { panic("ir: ResumeTerm has no successors") }
func (r *ResumeTerm) String() string                { return fmt.Sprintf("resume %s", r.Val) }
func (r *ResumeTerm) ReplaceOperand(old, with *Value) {
	if r.Val == old {
		r.Val = with
	}
}
func (r *ResumeTerm) clone() Instruction { return NewResume(r.Val) }

// UnreachableTerm marks a block the optimizer may assume is never entered.
// Opaque-predicate materialisation installs one arm of its stub branch here.
type UnreachableTerm struct{ termBase }

func NewUnreachable() *UnreachableTerm { return &UnreachableTerm{} }

func (u *UnreachableTerm) Operands() []*Value            { return nil }
func (u *UnreachableTerm) Successors() []*BasicBlock      { return nil }
func (u *UnreachableTerm) SetSuccessor(int, *BasicBlock)  { panic("ir: UnreachableTerm has no successors") }
func (u *UnreachableTerm) String() string                 { return "unreachable" }
func (u *UnreachableTerm) ReplaceOperand(*Value, *Value)  {}
func (u *UnreachableTerm) clone() Instruction             { return NewUnreachable() }
