// Package predicate materialises opaque predicates: boolean expressions
// built from number-theoretic identities that are provably always true or
// always false for every input, but that a static analysis without that
// number-theoretic fact has no way to resolve at compile time.
//
// Ported from lib/Transform/opaque_predicate.cpp. Two divergences from the
// original are deliberate, not oversights:
//
//   - create's Random case used to fall through the True arm into
//     Indeterminate (a missing `break` in the original switch). Here the
//     True and Indeterminate arms are fully separate; Random. picks True or
//     False and returns, never falling into anything else.
//   - the original derives a nonzero additive constant via abs(randomner()),
//     which is undefined behaviour in C++ when randomner() returns INT_MIN.
//     DefaultSource.NonzeroConst here reduces the raw draw through an unsigned modulus instead
//     of negating a signed value, so there is no representable input that
//     misbehaves.
package predicate

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"ssaobf/internal/ir"
	"ssaobf/internal/obfmeta"
)

// Kind mirrors PredicateType from include/Transform/opaque_predicate.h.
type Kind int

const (
	KindFalse         Kind = 0
	KindTrue          Kind = 1
	KindIndeterminate Kind = 2 // unsupported: Create must reject it explicitly
	KindRandom        Kind = 3
	KindNone          Kind = 0xFF
)

func (k Kind) String() string {
	switch k {
	case KindFalse:
		return "false"
	case KindTrue:
		return "true"
	case KindIndeterminate:
		return "indeterminate"
	case KindRandom:
		return "random"
	case KindNone:
		return "none"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Formula is one of the three number-theoretic identities the original
// ships (formula0/1/2 in opaque_predicate.cpp).
type Formula int

const (
	Formula0 Formula = iota // 7y^2 - 1 != x^2, for all integers x, y
	Formula1                // (x^3 - x) mod 3 == 0, for all integers x
	Formula2                // (x mod 2 == 0) or ((x^2 - 1) mod 8 == 0), for all integers x
)

func (f Formula) String() string {
	return [...]string{"formula0", "formula1", "formula2"}[f]
}

// NumFormulas is the size of the closed formula family.
const NumFormulas = 3

// Source supplies the randomness Library needs: which formula to use,
// which branch polarity Random resolves to, and the additive constants
// advance folds into each guard global. Tests supply a deterministic
// Source; production code seeds DefaultSource from configuration.
type Source interface {
	// Formula picks a formula index in [0, NumFormulas).
	Formula() Formula
	// Bool flips an unbiased coin, used by Random to choose True or False.
	Bool() bool
	// NonzeroConst returns a nonzero bits-wide constant to fold into a
	// guard global's running value.
	NonzeroConst(bits uint) int64
}

// DefaultSource wraps math/rand/v1 behind the Source interface, seeded
// deterministically from a string (for reproducible builds) or from the
// system clock.
type DefaultSource struct {
	rng *rand.Rand
}

// NewSeededSource seeds from the FNV-1a hash of seed, so the same seed
// string always produces the same sequence of decisions - the property
// the determinism tests (spec §8, Q2) depend on.
func NewSeededSource(seed string) *DefaultSource {
	h := fnv.New64a()
	_, _ = h.Write([]byte(seed))
	return &DefaultSource{rng: rand.New(rand.NewSource(int64(h.Sum64())))}
}

// NewClockSource seeds from the current time, for non-reproducible runs.
func NewClockSource() *DefaultSource {
	return &DefaultSource{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *DefaultSource) Formula() Formula { return Formula(s.rng.Intn(NumFormulas)) }
func (s *DefaultSource) Bool() bool       { return s.rng.Intn(2) == 1 }

// NonzeroConst draws a value in [1, 2^bits) by reducing an unsigned 64-bit
// draw through the unsigned modulus, then forcing it off zero. Using
// s.rng.Uint64() directly (never a signed value passed through abs) is the
// fix for the original's abs(randomner()) UB on INT_MIN.
func (s *DefaultSource) NonzeroConst(bits uint) int64 {
	span := uint64(1) << bits
	v := s.rng.Uint64() % span
	if v == 0 {
		v = 1
	}
	return int64(v)
}

// Library is a prepared set of module-scope mutable guard globals plus the
// randomness source formulas and advance draw from. Grounded on
// OpaquePredicate::prepareModule/advanceGlobal/create.
type Library struct {
	Globals []*ir.Global
	Source  Source
}

// DefaultGuardCount matches the original's default `number` of globals (4).
const DefaultGuardCount = 4

// MinGuardCount is OpaquePredicate::prepareModule's asserted lower bound.
const MinGuardCount = 2

// PrepareModule creates count zero-initialised, common-linkage i32 globals
// on prog and returns a Library over them. count must be >= MinGuardCount.
func PrepareModule(prog *ir.Program, count int, src Source) (*Library, error) {
	if count < MinGuardCount {
		return nil, fmt.Errorf("predicate: guard count %d below minimum %d", count, MinGuardCount)
	}
	lib := &Library{Source: src}
	for i := 0; i < count; i++ {
		g := &ir.Global{
			Name:    fmt.Sprintf("obf.guard.%d", i),
			Type:    ir.I32,
			Init:    int64(0),
			Linkage: ir.Common,
		}
		prog.Globals = append(prog.Globals, g)
		lib.Globals = append(lib.Globals, g)
	}
	return lib, nil
}

// advance loads g's current value, folds in a nonzero random constant, and
// stores the result back guaranteed nonzero (forced odd via `| 1`, which
// trivially rules out zero without needing a runtime branch). It returns
// the value loaded BEFORE the update: the formulas below are universally
// quantified identities, true or false for every integer, so which value
// advance happens to have produced does not affect which branch the
// resulting predicate takes - only an attacker without that number-
// theoretic fact would need to track it.
func (lib *Library) advance(block *ir.BasicBlock, g *ir.Global) *ir.Value {
	addr := globalAddr(g)
	load := ir.NewLoad(addr, ir.I32)
	appendInst(block, load)

	k := ir.NewConst(ir.I32, lib.Source.NonzeroConst(31))
	appendInst(block, k)
	sum := ir.NewIntBin(ir.IAdd, load.Res, k.Res)
	appendInst(block, sum)

	one := ir.NewConst(ir.I32, int64(1))
	appendInst(block, one)
	forcedOdd := ir.NewIntBin(ir.IOr, sum.Res, one.Res)
	appendInst(block, forcedOdd)

	store := ir.NewStore(addr, forcedOdd.Res)
	appendInst(block, store)

	return load.Res
}

// globalAddr is a placeholder pointer-typed value standing in for a
// reference to g; a real linker/codegen layer resolves it to the global's
// address, but nothing in this package inspects its identity beyond using
// it as the Address operand of a load/store.
func globalAddr(g *ir.Global) *ir.Value {
	return &ir.Value{Name: g.Name, Type: &ir.PointerType{Elem: g.Type}}
}

func appendInst(block *ir.BasicBlock, inst ir.Instruction) {
	inst.SetBlock(block)
	block.Instructions = append(block.Instructions, inst)
}

// emitFormula appends the instructions for formula f to block using x (and
// y, for Formula0) as operands, returning an i1 value that is TRUE under
// the formula's natural (non-negated) statement. polarity false negates
// the result before returning it, so both polarities of createPolarity
// share one builder.
func emitFormula(block *ir.BasicBlock, f Formula, x, y *ir.Value, polarity bool) *ir.Value {
	var natural *ir.Value
	switch f {
	case Formula0:
		// 7*y*y - 1 != x*x
		seven := constI32(block, 7)
		one := constI32(block, 1)
		ySq := binI32(block, ir.IMul, y, y)
		sevenYSq := binI32(block, ir.IMul, seven.Res, ySq.Res)
		lhs := binI32(block, ir.ISub, sevenYSq.Res, one.Res)
		xSq := binI32(block, ir.IMul, x, x)
		cmp := ir.NewIntCmp(ir.ICmpNE, lhs.Res, xSq.Res)
		appendInst(block, cmp)
		natural = cmp.Res
	case Formula1:
		// (x*x*x - x) mod 3 == 0
		three := constI32(block, 3)
		xCube := binI32(block, ir.IMul, binI32(block, ir.IMul, x, x).Res, x)
		diff := binI32(block, ir.ISub, xCube.Res, x)
		rem := binI32(block, ir.ISRem, diff.Res, three.Res)
		zero := constI32(block, 0)
		cmp := ir.NewIntCmp(ir.ICmpEQ, rem.Res, zero.Res)
		appendInst(block, cmp)
		natural = cmp.Res
	case Formula2:
		// (x mod 2 == 0) || ((x*x - 1) mod 8 == 0)
		two := constI32(block, 2)
		zero := constI32(block, 0)
		evenRem := binI32(block, ir.ISRem, x, two.Res)
		evenCmp := ir.NewIntCmp(ir.ICmpEQ, evenRem.Res, zero.Res)
		appendInst(block, evenCmp)

		eight := constI32(block, 8)
		one := constI32(block, 1)
		xSq := binI32(block, ir.IMul, x, x)
		sub := binI32(block, ir.ISub, xSq.Res, one.Res)
		oddRem := binI32(block, ir.ISRem, sub.Res, eight.Res)
		oddCmp := ir.NewIntCmp(ir.ICmpEQ, oddRem.Res, zero.Res)
		appendInst(block, oddCmp)

		or := ir.NewIntBin(ir.IOr, evenCmp.Res, oddCmp.Res)
		appendInst(block, or)
		natural = or.Res
	default:
		panic(&obfmeta.InvariantError{Pass: "predicate", Detail: fmt.Sprintf("unknown formula %v", f)})
	}

	if polarity {
		return natural
	}
	falseConst := ir.NewConst(ir.I1, false)
	appendInst(block, falseConst)
	negated := ir.NewIntCmp(ir.ICmpEQ, natural, falseConst.Res)
	appendInst(block, negated)
	return negated.Res
}

func constI32(block *ir.BasicBlock, v int64) *ir.ConstInst {
	c := ir.NewConst(ir.I32, v)
	appendInst(block, c)
	return c
}

func binI32(block *ir.BasicBlock, op ir.IntBinOp, l, r *ir.Value) *ir.IntBinInst {
	b := ir.NewIntBin(op, l, r)
	appendInst(block, b)
	return b
}

// Result is what Create hands back: the materialised i1 value, which
// formula produced it, and the Kind actually realised (relevant when kind
// was KindRandom).
type Result struct {
	Value   *ir.Value
	Formula Formula
	Kind    Kind
}

// Create materialises a predicate of the requested kind in block, drawing
// fresh guard values via advance. KindIndeterminate and KindNone are
// rejected outright - the original enumerates Indeterminate as a kind but
// never implements it, and a silent "treat as Indeterminate" would make a
// predicate's truth value a guess rather than a proof.
func (lib *Library) Create(kind Kind, block *ir.BasicBlock) (*Result, error) {
	switch kind {
	case KindTrue:
		return lib.createPolarity(block, true)
	case KindFalse:
		return lib.createPolarity(block, false)
	case KindRandom:
		// No fallthrough: Random resolves to exactly one of True or False
		// and returns from that branch, full stop.
		if lib.Source.Bool() {
			return lib.createPolarity(block, true)
		}
		return lib.createPolarity(block, false)
	case KindIndeterminate:
		return nil, fmt.Errorf("predicate: indeterminate predicates are not implemented")
	case KindNone:
		return nil, fmt.Errorf("predicate: no predicate kind specified")
	default:
		return nil, fmt.Errorf("predicate: unknown kind %v", kind)
	}
}

func (lib *Library) createPolarity(block *ir.BasicBlock, polarity bool) (*Result, error) {
	if len(lib.Globals) < MinGuardCount {
		return nil, fmt.Errorf("predicate: library has %d guards, need at least %d", len(lib.Globals), MinGuardCount)
	}
	f := lib.Source.Formula()
	x := lib.advance(block, lib.Globals[0])
	var y *ir.Value
	if f == Formula0 {
		y = lib.advance(block, lib.Globals[1%len(lib.Globals)])
	}
	v := emitFormula(block, f, x, y, polarity)
	kind := KindFalse
	if polarity {
		kind = KindTrue
	}
	return &Result{Value: v, Formula: f, Kind: kind}, nil
}

// StubBranch is the two-way branch a (possibly not yet materialised) stub
// terminates block with: the edge that runs under the formula's real truth
// value, and the edge that is provably dead. CreateStub returns it for the
// placeholder, so Live is always the literal-true target and Mark is always
// true; Materialise does not update it. The polarity the real formula
// realises is recorded on the materialised branch instead, as its
// obfmeta.OpMark tag.
//
// mark records, explicitly, whether Live is the branch's True target. The
// original stores this fact inversely - by the absence of a tag rather
// than its presence - which reads backwards at every call site. Materialise
// always tags the branch with obfmeta.OpMark (true when the True edge is
// live, false otherwise) and never infers it from a tag's absence.
type StubBranch struct {
	Block *ir.BasicBlock
	Live  *ir.BasicBlock
	Dead  *ir.BasicBlock
	Mark  bool // true: Live is the branch's True edge; false: Live is False
}

// CreateStub installs spec §4.2's placeholder on block: a literal
// `fcmp true(1.0,1.0)` condition - always true regardless of its operands,
// so nothing here has decided True/False/Random yet - branching to
// trueSucc/falseSucc exactly as boguscf.cpp's runOnFunction installs its
// own FCMP_TRUE stub (line 443) ahead of doFinalization's materialisation
// pass. The branch is tagged obfmeta.Stub=kind so a later call to
// Materialise can find it and resolve the real formula; kind records what
// the eventual materialisation should realise (True/False/Random), not
// what has been realised yet.
//
// This intentionally does not implement the original's separate "mark"
// suppress-parameter (spec §4.2's createStub 5th argument, which disables
// automatic unreachable-tagging of the dead arm) - no caller in this
// pipeline ever needs to suppress that tagging, so Materialise always
// tags the dead arm.
func (lib *Library) CreateStub(meta *obfmeta.Store, block *ir.BasicBlock, trueSucc, falseSucc *ir.BasicBlock, kind Kind) (*StubBranch, error) {
	switch kind {
	case KindIndeterminate:
		return nil, fmt.Errorf("predicate: indeterminate predicates are not implemented")
	case KindNone:
		return nil, fmt.Errorf("predicate: no predicate kind specified")
	}

	lhs := constF32(block, 1.0)
	rhs := constF32(block, 1.0)
	cond := ir.NewFloatCmp(ir.FCmpTrue, lhs.Res, rhs.Res)
	appendInst(block, cond)

	br := ir.NewBranch(cond.Res, trueSucc, falseSucc)
	br.SetBlock(block)
	block.Terminator = br

	meta.Tag(br, obfmeta.Stub, kind.String())

	return &StubBranch{Block: block, Live: trueSucc, Dead: falseSucc, Mark: true}, nil
}

func constF32(block *ir.BasicBlock, v float64) *ir.ConstInst {
	c := ir.NewConst(ir.F32, v)
	appendInst(block, c)
	return c
}

// Materialise finds every obfmeta.Stub-tagged branch reachable from prog
// and resolves it per spec §4.2: validates the branch's condition really
// is the literal fcmp true(1.0,1.0) placeholder CreateStub installed,
// discards the stub, and installs a real number-theoretic predicate in its
// place. True/False formulas keep the branch's original true/false
// targets - a False kind simply negates the formula, so the arm that used
// to be live under the placeholder's literal truth becomes the dead one -
// and Random delegates to lib.Source.Bool() to pick between them. The
// newly dead arm's first instruction is tagged opaque_unreachable.
//
// Grounded on boguscf.cpp's doFinalization: locate every block whose
// terminator carries the stub metadata kind, assert its penultimate
// instruction is an FCmpInst with FCMP_TRUE, erase both, and call
// OpaquePredicate::create in its place.
func (lib *Library) Materialise(meta *obfmeta.Store, prog *ir.Program) (int, error) {
	count := 0
	for _, fn := range prog.Functions {
		if fn.IsDeclaration() {
			continue
		}
		for _, b := range fn.Blocks {
			if b.Terminator == nil {
				continue
			}
			kindName, ok := meta.Lookup(b.Terminator, obfmeta.Stub)
			if !ok {
				continue
			}
			if err := lib.materialiseStub(meta, b, kindName); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}

// materialiseStub resolves the single stub branch terminating block.
func (lib *Library) materialiseStub(meta *obfmeta.Store, block *ir.BasicBlock, kindName string) error {
	br, ok := block.Terminator.(*ir.BranchTerm)
	if !ok {
		panic(&obfmeta.InvariantError{Pass: "predicate", Detail: fmt.Sprintf("stub terminator in block %q is not a two-way branch", block.Label)})
	}
	if len(block.Instructions) == 0 {
		panic(&obfmeta.InvariantError{Pass: "predicate", Detail: fmt.Sprintf("stub block %q has no placeholder condition instruction", block.Label)})
	}
	cond, ok := block.Instructions[len(block.Instructions)-1].(*ir.FloatCmpInst)
	if !ok || cond.Pred != ir.FCmpTrue {
		panic(&obfmeta.InvariantError{Pass: "predicate", Detail: fmt.Sprintf("stub block %q's penultimate instruction is not fcmp true(1.0,1.0)", block.Label)})
	}

	kind, ok := kindFromName(kindName)
	if !ok {
		panic(&obfmeta.InvariantError{Pass: "predicate", Detail: fmt.Sprintf("stub block %q carries unknown predicate kind %q", block.Label, kindName)})
	}

	trueSucc, falseSucc := br.True, br.False
	meta.RemoveTag(block.Terminator, obfmeta.Stub)
	// Discard the placeholder fcmp together with the two constants it compares.
	stub := map[ir.Instruction]bool{cond: true}
	for _, op := range []*ir.Value{cond.Left, cond.Right} {
		if c, ok := op.Def.(*ir.ConstInst); ok {
			stub[c] = true
		}
	}
	kept := block.Instructions[:0]
	for _, inst := range block.Instructions {
		if !stub[inst] {
			kept = append(kept, inst)
		}
	}
	block.Instructions = kept

	res, err := lib.Create(kind, block)
	if err != nil {
		return err
	}

	mark := res.Kind == KindTrue
	dead := falseSucc
	if !mark {
		dead = trueSucc
	}

	newBr := ir.NewBranch(res.Value, trueSucc, falseSucc)
	newBr.SetBlock(block)
	block.Terminator = newBr

	meta.Tag(newBr, obfmeta.OpStub, res.Formula.String())
	if mark {
		meta.Tag(newBr, obfmeta.OpMark, obfmeta.ValTrue)
	} else {
		meta.Tag(newBr, obfmeta.OpMark, obfmeta.ValFalse)
	}

	// dead is provably never entered at runtime regardless of which
	// formula or polarity was realised - tag its anchor instruction so
	// ReplaceInstruction can find it, inserting an inert one if dead opens
	// directly with its terminator.
	tagBlockUnreachable(meta, dead, kind.String())

	return nil
}

// kindFromName reverses Kind.String() for the four normatively tagged
// kinds a stub can carry (KindNone is never installed on a stub).
func kindFromName(name string) (Kind, bool) {
	for _, k := range []Kind{KindFalse, KindTrue, KindIndeterminate, KindRandom} {
		if k.String() == name {
			return k, true
		}
	}
	return KindNone, false
}

// tagBlockUnreachable marks block's first instruction opaque_unreachable,
// inserting an inert debug instruction as an anchor if block has none -
// mirroring obfmeta's own function-tag anchoring convention, since this IR
// has no metadata node to hang the tag on directly.
func tagBlockUnreachable(meta *obfmeta.Store, block *ir.BasicBlock, kindName string) {
	if len(block.Instructions) == 0 {
		marker := ir.NewDebug("predicate.unreachable")
		marker.SetBlock(block)
		block.Instructions = append(block.Instructions, marker)
	}
	meta.Tag(block.Instructions[0], obfmeta.OpUnreach, kindName)
}
