// Package replaceinst implements Unreachable-Block Instruction Mutation: a
// block the opaque-predicate pass has already proven dead at runtime (tagged
// opaque_unreachable) has its arithmetic opcodes and comparison predicates
// swapped for a different member of their own family, so a reverse engineer
// reading the dead code's disassembly sees plausible but semantically
// unrelated computation, even though it can never execute.
//
// Ported from lib/Transform/replace_instruction.cpp's ReplaceInstruction
// pass, whose runOnBasicBlock in the original source is an unimplemented
// stub (`return false`); the mutation rules themselves come from spec.md
// §4.6.
package replaceinst

import (
	"math/rand"

	"ssaobf/internal/ir"
	"ssaobf/internal/obflog"
	"ssaobf/internal/obfmeta"
)

// Config mirrors spec.md §6's replace* flags.
type Config struct {
	Seed string
}

type Stats struct {
	BlocksSeen    int
	BlocksMutated int
	BlocksSkipped int
	InstsMutated  int
}

type Pass struct {
	cfg  Config
	meta *obfmeta.Store
	log  *obflog.Logger
	rng  *rand.Rand
}

func New(cfg Config, meta *obfmeta.Store, log *obflog.Logger) *Pass {
	return &Pass{cfg: cfg, meta: meta, log: log, rng: seededRand(cfg.Seed)}
}

func seededRand(seed string) *rand.Rand {
	if seed == "" {
		return rand.New(rand.NewSource(1))
	}
	var h uint64 = 14695981039346656037
	for i := 0; i < len(seed); i++ {
		h ^= uint64(seed[i])
		h *= 1099511628211
	}
	return rand.New(rand.NewSource(int64(h)))
}

// Run walks every block of every function in prog, mutating the ones tagged
// opaque_unreachable and clearing that tag once done.
func (p *Pass) Run(prog *ir.Program) (Stats, error) {
	var stats Stats
	for _, fn := range prog.Functions {
		if fn.IsDeclaration() {
			continue
		}
		for _, b := range fn.Blocks {
			stats.BlocksSeen++
			if !p.blockTagged(b) {
				continue
			}
			n, err := p.mutateBlock(fn, b)
			if err != nil {
				return stats, err
			}
			if n == 0 {
				stats.BlocksSkipped++
				p.log.Warnf("replaceinst: %s.%s: tagged opaque_unreachable but no eligible instruction found", fn.Name, b.Label)
			} else {
				stats.BlocksMutated++
				stats.InstsMutated += n
			}
			p.clearBlockTag(b)
		}
	}
	return stats, nil
}

// blockTagged reports whether any instruction in b (its first non-PHI/debug
// instruction is where BogusCF/OpaquePredicate would have tagged it, but a
// block may carry the tag on any instruction depending on which pass placed
// it) carries the opaque_unreachable key.
func (p *Pass) blockTagged(b *ir.BasicBlock) bool {
	for _, inst := range b.Instructions {
		if p.meta.Has(inst, obfmeta.OpUnreach) {
			return true
		}
	}
	if b.Terminator != nil && p.meta.Has(b.Terminator, obfmeta.OpUnreach) {
		return true
	}
	return false
}

func (p *Pass) clearBlockTag(b *ir.BasicBlock) {
	for _, inst := range b.Instructions {
		p.meta.RemoveTag(inst, obfmeta.OpUnreach)
	}
	if b.Terminator != nil {
		p.meta.RemoveTag(b.Terminator, obfmeta.OpUnreach)
	}
}

// mutation captures a planned opcode/predicate swap on an already-existing
// instruction; every block's mutations are computed up front and applied in
// a second pass so a later decision never sees an operand a prior mutation
// in the same block already rewrote (spec §4.6: "batches replacements
// atomically").
type mutation func()

func (p *Pass) mutateBlock(fn *ir.Function, b *ir.BasicBlock) (int, error) {
	var muts []mutation
	for _, inst := range b.Instructions {
		if m := p.planMutation(inst); m != nil {
			muts = append(muts, m)
		}
	}
	for _, m := range muts {
		m()
	}
	return len(muts), nil
}

// planMutation returns a closure that performs inst's opcode/predicate swap
// in place, or nil if inst is not eligible for mutation (spec §4.6: only
// binary-arithmetic and comparison instructions rotate within their own
// opcode family; loads/stores of non-int/non-float type, and every other
// instruction kind, are left untouched). Mutating fields in place rather
// than splicing in a new Instruction keeps every operand's *ir.Value
// identity - and therefore every other instruction's reference to it -
// intact.
func (p *Pass) planMutation(inst ir.Instruction) mutation {
	switch v := inst.(type) {
	case *ir.IntBinInst:
		return func() { v.Op = p.rotateIntBinOp(v.Op) }
	case *ir.FloatBinInst:
		return func() { v.Op = p.rotateFloatBinOp(v.Op) }
	case *ir.IntCmpInst:
		return func() { v.Pred = p.rotateIntPred(v.Pred) }
	case *ir.FloatCmpInst:
		return func() { v.Pred = p.rotateFloatPred(v.Pred) }
	case *ir.LoadInst, *ir.StoreInst:
		// Loads/stores carry no opcode family to rotate within; spec §4.6
		// only asks that non-int/non-float ones be skipped, which is moot
		// here since there is nothing to mutate on int/float ones either.
		return nil
	default:
		return nil
	}
}

// rotateIntBinOp picks a member of the 13-strong integer binary-opcode
// family other than op, uniformly at random.
func (p *Pass) rotateIntBinOp(op ir.IntBinOp) ir.IntBinOp {
	ops := ir.AllIntBinOps()
	return ops[p.pickOtherIndex(int(op), len(ops))]
}

func (p *Pass) rotateFloatBinOp(op ir.FloatBinOp) ir.FloatBinOp {
	ops := ir.AllFloatBinOps()
	return ops[p.pickOtherIndex(int(op), len(ops))]
}

func (p *Pass) rotateIntPred(pred ir.IntPred) ir.IntPred {
	preds := ir.AllIntPreds()
	return preds[p.pickOtherIndex(int(pred), len(preds))]
}

func (p *Pass) rotateFloatPred(pred ir.FloatPred) ir.FloatPred {
	preds := ir.MutableFloatPreds()
	idx := indexOfFloatPred(preds, pred)
	return preds[p.pickOtherIndex(idx, len(preds))]
}

// indexOfFloatPred finds pred's position in preds, or -1 if pred (e.g. the
// degenerate always-true/always-false predicates MutableFloatPreds excludes)
// is not itself a rotation-family member - pickOtherIndex still produces a
// valid in-family replacement for it in that case.
func indexOfFloatPred(preds []ir.FloatPred, pred ir.FloatPred) int {
	for i, p := range preds {
		if p == pred {
			return i
		}
	}
	return -1
}

// pickOtherIndex returns a uniformly-chosen index in [0,n) other than cur.
// n is always >= 2 for every family replaceinst rotates within, so a
// candidate distinct from cur always exists.
func (p *Pass) pickOtherIndex(cur, n int) int {
	if n < 2 {
		return cur
	}
	for {
		i := p.rng.Intn(n)
		if i != cur {
			return i
		}
	}
}
