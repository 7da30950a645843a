package ir

import "fmt"

// Instruction is a typed operation producing at most one SSA value.
type Instruction interface {
	Result() *Value  // nil if the instruction has no result
	Operands() []*Value
	Block() *BasicBlock
	SetBlock(*BasicBlock)
	IsTerminator() bool
	String() string
	// ReplaceOperand swaps every operand equal to old for with. Instructions
	// with no matching operand are left untouched.
	ReplaceOperand(old, with *Value)
	clone() Instruction
}

// Terminator is an Instruction that ends a basic block and has zero or
// more successor blocks.
type Terminator interface {
	Instruction
	Successors() []*BasicBlock
	// SetSuccessor replaces the successor at index i.
	SetSuccessor(i int, block *BasicBlock)
}

// instBase factors the Block()/SetBlock() bookkeeping shared by every
// concrete instruction.
type instBase struct {
	block *BasicBlock
}

func (b *instBase) Block() *BasicBlock     { return b.block }
func (b *instBase) SetBlock(bb *BasicBlock) { b.block = bb }

// ---- PHI ----

// PhiInst merges values along incoming edges at a block's entry.
type PhiInst struct {
	instBase
	Res      *Value
	Incoming map[*BasicBlock]*Value
	// Order preserves insertion order of incoming edges for deterministic
	// printing/serialisation.
	Order []*BasicBlock
}

func NewPhi(typ Type) *PhiInst {
	p := &PhiInst{Incoming: map[*BasicBlock]*Value{}}
	p.Res = &Value{Type: typ, Def: p}
	return p
}

func (p *PhiInst) Result() *Value { return p.Res }
func (p *PhiInst) Operands() []*Value {
	ops := make([]*Value, 0, len(p.Order))
	for _, b := range p.Order {
		ops = append(ops, p.Incoming[b])
	}
	return ops
}
func (p *PhiInst) IsTerminator() bool { return false }
func (p *PhiInst) String() string {
	return fmt.Sprintf("%s = phi %s", p.Res, p.Incoming)
}
func (p *PhiInst) ReplaceOperand(old, with *Value) {
	for _, b := range p.Order {
		if p.Incoming[b] == old {
			p.Incoming[b] = with
		}
	}
}
func (p *PhiInst) AddIncoming(block *BasicBlock, v *Value) {
	if _, ok := p.Incoming[block]; !ok {
		p.Order = append(p.Order, block)
	}
	p.Incoming[block] = v
}
func (p *PhiInst) HasIncoming(block *BasicBlock) bool {
	_, ok := p.Incoming[block]
	return ok
}
func (p *PhiInst) clone() Instruction {
	c := NewPhi(p.Res.Type)
	for _, b := range p.Order {
		c.AddIncoming(b, p.Incoming[b])
	}
	return c
}

// ---- memory ----

// AllocaInst reserves a stack slot; its result is a pointer.
type AllocaInst struct {
	instBase
	Res  *Value
	Elem Type
}

func NewAlloca(elem Type) *AllocaInst {
	a := &AllocaInst{Elem: elem}
	a.Res = &Value{Type: &PointerType{Elem: elem}, Def: a}
	return a
}

func (a *AllocaInst) Result() *Value       { return a.Res }
func (a *AllocaInst) Operands() []*Value   { return nil }
func (a *AllocaInst) IsTerminator() bool   { return false }
func (a *AllocaInst) String() string       { return fmt.Sprintf("%s = alloca %s", a.Res, a.Elem) }
func (a *AllocaInst) ReplaceOperand(*Value, *Value) {}
func (a *AllocaInst) clone() Instruction    { return NewAlloca(a.Elem) }

// LoadInst reads through a pointer.
type LoadInst struct {
	instBase
	Res     *Value
	Address *Value
}

func NewLoad(addr *Value, typ Type) *LoadInst {
	l := &LoadInst{Address: addr}
	l.Res = &Value{Type: typ, Def: l}
	return l
}

func (l *LoadInst) Result() *Value     { return l.Res }
func (l *LoadInst) Operands() []*Value { return []*Value{l.Address} }
func (l *LoadInst) IsTerminator() bool { return false }
func (l *LoadInst) String() string     { return fmt.Sprintf("%s = load %s", l.Res, l.Address) }
func (l *LoadInst) ReplaceOperand(old, with *Value) {
	if l.Address == old {
		l.Address = with
	}
}
func (l *LoadInst) clone() Instruction { return NewLoad(l.Address, l.Res.Type) }

// StoreInst writes through a pointer; it has no result.
type StoreInst struct {
	instBase
	Address *Value
	Val     *Value
}

func NewStore(addr, val *Value) *StoreInst { return &StoreInst{Address: addr, Val: val} }

func (s *StoreInst) Result() *Value     { return nil }
func (s *StoreInst) Operands() []*Value { return []*Value{s.Address, s.Val} }
func (s *StoreInst) IsTerminator() bool { return false }
func (s *StoreInst) String() string     { return fmt.Sprintf("store %s, %s", s.Val, s.Address) }
func (s *StoreInst) ReplaceOperand(old, with *Value) {
	if s.Address == old {
		s.Address = with
	}
	if s.Val == old {
		s.Val = with
	}
}
func (s *StoreInst) clone() Instruction { return NewStore(s.Address, s.Val) }

// ---- arithmetic / compare ----

// IntBinOp is the closed family of 13 integer binary opcodes ReplaceInstruction
// rotates within.
type IntBinOp int

const (
	IAdd IntBinOp = iota
	ISub
	IMul
	IUDiv
	ISDiv
	IURem
	ISRem
	IShl
	ILShr
	IAShr
	IAnd
	IOr
	IXor
)

var intBinOpNames = [...]string{"add", "sub", "mul", "udiv", "sdiv", "urem", "srem", "shl", "lshr", "ashr", "and", "or", "xor"}

func (op IntBinOp) String() string { return intBinOpNames[op] }

// AllIntBinOps is the ordered family of integer binary opcodes.
func AllIntBinOps() []IntBinOp {
	ops := make([]IntBinOp, len(intBinOpNames))
	for i := range ops {
		ops[i] = IntBinOp(i)
	}
	return ops
}

// FloatBinOp is the closed family of 5 float binary opcodes.
type FloatBinOp int

const (
	FAdd FloatBinOp = iota
	FSub
	FMul
	FDiv
	FRem
)

var floatBinOpNames = [...]string{"fadd", "fsub", "fmul", "fdiv", "frem"}

func (op FloatBinOp) String() string { return floatBinOpNames[op] }

func AllFloatBinOps() []FloatBinOp {
	ops := make([]FloatBinOp, len(floatBinOpNames))
	for i := range ops {
		ops[i] = FloatBinOp(i)
	}
	return ops
}

// IntBinInst is an integer binary arithmetic instruction.
type IntBinInst struct {
	instBase
	Res         *Value
	Op          IntBinOp
	Left, Right *Value
}

func NewIntBin(op IntBinOp, left, right *Value) *IntBinInst {
	i := &IntBinInst{Op: op, Left: left, Right: right}
	i.Res = &Value{Type: left.Type, Def: i}
	return i
}

func (i *IntBinInst) Result() *Value     { return i.Res }
func (i *IntBinInst) Operands() []*Value { return []*Value{i.Left, i.Right} }
func (i *IntBinInst) IsTerminator() bool { return false }
func (i *IntBinInst) String() string {
	return fmt.Sprintf("%s = %s %s, %s", i.Res, i.Op, i.Left, i.Right)
}
func (i *IntBinInst) ReplaceOperand(old, with *Value) {
	if i.Left == old {
		i.Left = with
	}
	if i.Right == old {
		i.Right = with
	}
}
func (i *IntBinInst) clone() Instruction { return NewIntBin(i.Op, i.Left, i.Right) }

// FloatBinInst is a float binary arithmetic instruction.
type FloatBinInst struct {
	instBase
	Res         *Value
	Op          FloatBinOp
	Left, Right *Value
}

func NewFloatBin(op FloatBinOp, left, right *Value) *FloatBinInst {
	i := &FloatBinInst{Op: op, Left: left, Right: right}
	i.Res = &Value{Type: left.Type, Def: i}
	return i
}

func (i *FloatBinInst) Result() *Value     { return i.Res }
func (i *FloatBinInst) Operands() []*Value { return []*Value{i.Left, i.Right} }
func (i *FloatBinInst) IsTerminator() bool { return false }
func (i *FloatBinInst) String() string {
	return fmt.Sprintf("%s = %s %s, %s", i.Res, i.Op, i.Left, i.Right)
}
func (i *FloatBinInst) ReplaceOperand(old, with *Value) {
	if i.Left == old {
		i.Left = with
	}
	if i.Right == old {
		i.Right = with
	}
}
func (i *FloatBinInst) clone() Instruction { return NewFloatBin(i.Op, i.Left, i.Right) }

// IntPred is the closed family of 10 integer comparison predicates.
type IntPred int

const (
	ICmpEQ IntPred = iota
	ICmpNE
	ICmpUGT
	ICmpUGE
	ICmpULT
	ICmpULE
	ICmpSGT
	ICmpSGE
	ICmpSLT
	ICmpSLE
)

var intPredNames = [...]string{"eq", "ne", "ugt", "uge", "ult", "ule", "sgt", "sge", "slt", "sle"}

func (p IntPred) String() string { return intPredNames[p] }

func AllIntPreds() []IntPred {
	ps := make([]IntPred, len(intPredNames))
	for i := range ps {
		ps[i] = IntPred(i)
	}
	return ps
}

// FloatPred is LLVM's full 16-member fcmp predicate family: the 14
// ordered/unordered comparisons plus the two degenerate always-false/
// always-true predicates BogusCF's stub placeholder uses directly.
type FloatPred int

const (
	FCmpFalse FloatPred = iota
	FCmpOEQ
	FCmpOGT
	FCmpOGE
	FCmpOLT
	FCmpOLE
	FCmpONE
	FCmpORD
	FCmpUNO
	FCmpUEQ
	FCmpUGT
	FCmpUGE
	FCmpULT
	FCmpULE
	FCmpUNE
	FCmpTrue
)

var floatPredNames = [...]string{"false", "oeq", "ogt", "oge", "olt", "ole", "one", "ord", "uno", "ueq", "ugt", "uge", "ult", "ule", "une", "true"}

func (p FloatPred) String() string { return floatPredNames[p] }

// AllFloatPreds returns the full 16-member family, for callers that need
// every LLVM fcmp predicate rather than just the mutable subset.
func AllFloatPreds() []FloatPred {
	ps := make([]FloatPred, len(floatPredNames))
	for i := range ps {
		ps[i] = FloatPred(i)
	}
	return ps
}

// MutableFloatPreds is spec §4.6's 14-predicate rotation family for
// ReplaceInstruction: LLVM's 16 minus the degenerate always-false/
// always-true predicates, which a reverse engineer would immediately
// recognise as non-comparisons rather than plausible mutated code.
func MutableFloatPreds() []FloatPred {
	all := AllFloatPreds()
	out := make([]FloatPred, 0, len(all)-2)
	for _, p := range all {
		if p == FCmpFalse || p == FCmpTrue {
			continue
		}
		out = append(out, p)
	}
	return out
}

// IntCmpInst is an integer comparison.
type IntCmpInst struct {
	instBase
	Res         *Value
	Pred        IntPred
	Left, Right *Value
}

func NewIntCmp(pred IntPred, left, right *Value) *IntCmpInst {
	c := &IntCmpInst{Pred: pred, Left: left, Right: right}
	c.Res = &Value{Type: I1, Def: c}
	return c
}

func (c *IntCmpInst) Result() *Value     { return c.Res }
func (c *IntCmpInst) Operands() []*Value { return []*Value{c.Left, c.Right} }
func (c *IntCmpInst) IsTerminator() bool { return false }
func (c *IntCmpInst) String() string {
	return fmt.Sprintf("%s = icmp %s %s, %s", c.Res, c.Pred, c.Left, c.Right)
}
func (c *IntCmpInst) ReplaceOperand(old, with *Value) {
	if c.Left == old {
		c.Left = with
	}
	if c.Right == old {
		c.Right = with
	}
}
func (c *IntCmpInst) clone() Instruction { return NewIntCmp(c.Pred, c.Left, c.Right) }

// FloatCmpInst is a floating-point comparison.
type FloatCmpInst struct {
	instBase
	Res         *Value
	Pred        FloatPred
	Left, Right *Value
}

func NewFloatCmp(pred FloatPred, left, right *Value) *FloatCmpInst {
	c := &FloatCmpInst{Pred: pred, Left: left, Right: right}
	c.Res = &Value{Type: I1, Def: c}
	return c
}

func (c *FloatCmpInst) Result() *Value     { return c.Res }
func (c *FloatCmpInst) Operands() []*Value { return []*Value{c.Left, c.Right} }
func (c *FloatCmpInst) IsTerminator() bool { return false }
func (c *FloatCmpInst) String() string {
	return fmt.Sprintf("%s = fcmp %s %s, %s", c.Res, c.Pred, c.Left, c.Right)
}
func (c *FloatCmpInst) ReplaceOperand(old, with *Value) {
	if c.Left == old {
		c.Left = with
	}
	if c.Right == old {
		c.Right = with
	}
}
func (c *FloatCmpInst) clone() Instruction { return NewFloatCmp(c.Pred, c.Left, c.Right) }

// UndefInst materialises an unspecified value of a given type, used where
// a PHI needs an incoming value for an edge whose predecessor genuinely
// never produces one (Flatten step 7's `null(type)` placeholder).
type UndefInst struct {
	instBase
	Res *Value
}

func NewUndef(typ Type) *UndefInst {
	u := &UndefInst{}
	u.Res = &Value{Type: typ, Def: u}
	return u
}

func (u *UndefInst) Result() *Value               { return u.Res }
func (u *UndefInst) Operands() []*Value           { return nil }
func (u *UndefInst) IsTerminator() bool           { return false }
func (u *UndefInst) String() string               { return fmt.Sprintf("%s = undef", u.Res) }
func (u *UndefInst) ReplaceOperand(*Value, *Value) {}
func (u *UndefInst) clone() Instruction           { return NewUndef(u.Res.Type) }

// SelectInst picks Then or Else based on Cond, without branching - Flatten
// step 5 uses it to fold a conditional branch's two possible successor
// indices into a single dispatch-index value.
type SelectInst struct {
	instBase
	Res        *Value
	Cond       *Value
	Then, Else *Value
}

func NewSelect(cond, then, els *Value) *SelectInst {
	s := &SelectInst{Cond: cond, Then: then, Else: els}
	s.Res = &Value{Type: then.Type, Def: s}
	return s
}

func (s *SelectInst) Result() *Value     { return s.Res }
func (s *SelectInst) Operands() []*Value { return []*Value{s.Cond, s.Then, s.Else} }
func (s *SelectInst) IsTerminator() bool { return false }
func (s *SelectInst) String() string {
	return fmt.Sprintf("%s = select %s, %s, %s", s.Res, s.Cond, s.Then, s.Else)
}
func (s *SelectInst) ReplaceOperand(old, with *Value) {
	if s.Cond == old {
		s.Cond = with
	}
	if s.Then == old {
		s.Then = with
	}
	if s.Else == old {
		s.Else = with
	}
}
func (s *SelectInst) clone() Instruction { return NewSelect(s.Cond, s.Then, s.Else) }

// ---- constants, calls, debug ----

// ConstInst materialises a compile-time constant.
type ConstInst struct {
	instBase
	Res *Value
	Val interface{}
}

func NewConst(typ Type, val interface{}) *ConstInst {
	c := &ConstInst{Val: val}
	c.Res = &Value{Type: typ, Def: c}
	return c
}

func (c *ConstInst) Result() *Value               { return c.Res }
func (c *ConstInst) Operands() []*Value           { return nil }
func (c *ConstInst) IsTerminator() bool           { return false }
func (c *ConstInst) String() string               { return fmt.Sprintf("%s = const %v", c.Res, c.Val) }
func (c *ConstInst) ReplaceOperand(*Value, *Value) {}
func (c *ConstInst) clone() Instruction           { return NewConst(c.Res.Type, c.Val) }

// CallInst calls a function by name. Invoke (call with unwind edges) is
// not a CallInst: it is the InvokeTerm terminator, which carries its own
// Callee.
type CallInst struct {
	instBase
	Res    *Value // nil for void calls
	Callee string
	Args   []*Value
}

func NewCall(callee string, retType Type, args []*Value) *CallInst {
	c := &CallInst{Callee: callee, Args: args}
	if retType != nil {
		if _, void := retType.(*VoidType); !void {
			c.Res = &Value{Type: retType, Def: c}
		}
	}
	return c
}

func (c *CallInst) Result() *Value     { return c.Res }
func (c *CallInst) Operands() []*Value { return c.Args }
func (c *CallInst) IsTerminator() bool { return false }
func (c *CallInst) String() string     { return fmt.Sprintf("%s = call %s%v", c.Res, c.Callee, c.Args) }
func (c *CallInst) ReplaceOperand(old, with *Value) {
	for i, a := range c.Args {
		if a == old {
			c.Args[i] = with
		}
	}
}
func (c *CallInst) clone() Instruction {
	var rt Type = &VoidType{}
	if c.Res != nil {
		rt = c.Res.Type
	}
	args := append([]*Value(nil), c.Args...)
	return NewCall(c.Callee, rt, args)
}

// DebugInst is a debug-info or lifetime-intrinsic annotation. It is inert
// (no operands worth tracking for obfuscation purposes) and is one of the
// categories BogusCF/Flatten skip when scanning for a block's "real" first
// instruction.
type DebugInst struct {
	instBase
	Note string
}

func NewDebug(note string) *DebugInst { return &DebugInst{Note: note} }

func (d *DebugInst) Result() *Value               { return nil }
func (d *DebugInst) Operands() []*Value           { return nil }
func (d *DebugInst) IsTerminator() bool           { return false }
func (d *DebugInst) String() string               { return "dbg " + d.Note }
func (d *DebugInst) ReplaceOperand(*Value, *Value) {}
func (d *DebugInst) clone() Instruction           { return NewDebug(d.Note) }
