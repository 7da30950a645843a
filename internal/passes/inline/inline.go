// Package inline implements a conservative inlining pass used by the
// "trivial" obfuscation preset (spec §4.7: Copy → Inline → Cleanup →
// Rename): a Bernoulli-selected subset of call sites targeting a
// single-block, non-recursive callee are replaced by a copy of that
// callee's body spliced directly into the caller, so a disassembly shows
// one function's code physically duplicated across its callers instead of
// a single shared symbol a reverse engineer can pivot off of.
//
// Ported from lib/Transform/inline_function.cpp's InlineFunctionPass,
// narrowed from LLVM's general-purpose inliner to the single-block case:
// this IR has no cloning utility capable of splicing a multi-block callee
// into an arbitrary call site without itself reimplementing Flatten-style
// dispatch, so only callees simple enough to paste in as a straight-line
// sequence are inlined.
package inline

import (
	"hash/fnv"
	"math/rand"
	"time"

	"ssaobf/internal/ir"
	"ssaobf/internal/obfmeta"
)

// Config mirrors the original's inlineProbability/inlineSeed flags.
type Config struct {
	Probability float64
	Seed        string
}

type Stats struct {
	CallSitesInlined int
}

type Pass struct {
	cfg  Config
	meta *obfmeta.Store
	rng  *rand.Rand
}

func New(cfg Config, meta *obfmeta.Store) *Pass {
	var rng *rand.Rand
	if cfg.Seed != "" {
		h := fnv.New64a()
		_, _ = h.Write([]byte(cfg.Seed))
		rng = rand.New(rand.NewSource(int64(h.Sum64())))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pass{cfg: cfg, meta: meta, rng: rng}
}

// inlinable reports whether callee is simple enough to splice into a call
// site directly: a single block, ending in a return, calling no other
// function (so there is no risk of inlining introducing unbounded growth
// or a self-recursive copy).
func inlinable(callee *ir.Function, callerName string) bool {
	if callee.IsDeclaration() || callee.Name == callerName {
		return false
	}
	if len(callee.Blocks) != 1 {
		return false
	}
	if _, ok := callee.Blocks[0].Terminator.(*ir.ReturnTerm); !ok {
		return false
	}
	for _, inst := range callee.Blocks[0].Instructions {
		if _, ok := inst.(*ir.CallInst); ok {
			return false
		}
	}
	return true
}

// Run walks every call site in prog, inlining a Bernoulli-selected subset
// whose callee qualifies.
func (p *Pass) Run(prog *ir.Program) (Stats, error) {
	var stats Stats
	if p.cfg.Probability == 0 {
		return stats, nil
	}
	for _, fn := range prog.Functions {
		if fn.IsDeclaration() {
			continue
		}
		for _, b := range fn.Blocks {
			i := 0
			for i < len(b.Instructions) {
				call, ok := b.Instructions[i].(*ir.CallInst)
				if !ok {
					i++
					continue
				}
				callee := prog.FuncByName(call.Callee)
				if callee == nil || !inlinable(callee, fn.Name) || p.rng.Float64() >= p.cfg.Probability {
					i++
					continue
				}
				n := p.inlineCall(fn, b, i, call, callee)
				stats.CallSitesInlined++
				i += n
			}
		}
	}
	return stats, nil
}

// inlineCall splices a remapped copy of callee's single block's
// instructions into b in place of the call at index i, rewriting every use
// of the call's result to the remapped return value. It returns the number
// of instructions inserted, so the caller's scan can skip over them rather
// than re-examine freshly spliced, already-inlined code.
func (p *Pass) inlineCall(fn *ir.Function, b *ir.BasicBlock, i int, call *ir.CallInst, callee *ir.Function) int {
	vm := ir.NewValueMap()
	for idx, param := range callee.Params {
		if idx < len(call.Args) {
			vm.Set(param.Value, call.Args[idx])
		}
	}

	var spliced []ir.Instruction
	var retVal *ir.Value
	calleeBlock := callee.Blocks[0]
	for _, inst := range calleeBlock.Instructions {
		c := cloneInto(inst, vm)
		c.SetBlock(b)
		spliced = append(spliced, c)
	}
	for _, c := range spliced {
		ir.RemapInstruction(c, vm)
	}
	if ret, ok := calleeBlock.Terminator.(*ir.ReturnTerm); ok && ret.Val != nil {
		if mapped, ok := vm.Get(ret.Val); ok {
			retVal = mapped
		} else {
			retVal = ret.Val
		}
	}

	if call.Res != nil && retVal != nil {
		ir.ReplaceAllUses(fn, call.Res, retVal)
	}

	p.meta.TagFunction(fn, obfmeta.Inline, obfmeta.ValTrue)

	rest := append([]ir.Instruction(nil), b.Instructions[i+1:]...)
	b.Instructions = append(b.Instructions[:i], spliced...)
	b.Instructions = append(b.Instructions, rest...)
	return len(spliced)
}

// cloneInto clones inst's value-producing shape via its own clone() method
// is unavailable (unexported), so cloneInto rebuilds the handful of
// instruction kinds a single-block, call-free callee can actually contain.
func cloneInto(inst ir.Instruction, vm *ir.ValueMap) ir.Instruction {
	switch v := inst.(type) {
	case *ir.ConstInst:
		c := ir.NewConst(v.Res.Type, v.Val)
		vm.Set(v.Res, c.Res)
		return c
	case *ir.IntBinInst:
		c := ir.NewIntBin(v.Op, resolve(v.Left, vm), resolve(v.Right, vm))
		vm.Set(v.Res, c.Res)
		return c
	case *ir.FloatBinInst:
		c := ir.NewFloatBin(v.Op, resolve(v.Left, vm), resolve(v.Right, vm))
		vm.Set(v.Res, c.Res)
		return c
	case *ir.IntCmpInst:
		c := ir.NewIntCmp(v.Pred, resolve(v.Left, vm), resolve(v.Right, vm))
		vm.Set(v.Res, c.Res)
		return c
	case *ir.FloatCmpInst:
		c := ir.NewFloatCmp(v.Pred, resolve(v.Left, vm), resolve(v.Right, vm))
		vm.Set(v.Res, c.Res)
		return c
	case *ir.SelectInst:
		c := ir.NewSelect(resolve(v.Cond, vm), resolve(v.Then, vm), resolve(v.Else, vm))
		vm.Set(v.Res, c.Res)
		return c
	case *ir.DebugInst:
		return ir.NewDebug(v.Note)
	default:
		// AllocaInst/LoadInst/StoreInst/PhiInst never appear in a
		// single-block callee with no internal control flow; if one
		// somehow does, leave it unresolved rather than guess.
		return inst
	}
}

func resolve(v *ir.Value, vm *ir.ValueMap) *ir.Value {
	if mapped, ok := vm.Get(v); ok {
		return mapped
	}
	return v
}
