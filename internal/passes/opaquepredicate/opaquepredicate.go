// Package opaquepredicate implements Opaque-Predicate Materialisation: the
// pipeline's dedicated finalisation step that locates every stub branch
// BogusCF left behind (tagged obfmeta.Stub) and resolves each into a real,
// number-theoretic predicate, marking the arm that formula proves dead so
// ReplaceInstruction can find it. It also places a further round of its own
// stub placeholders across the module's single-successor blocks before
// materialising everything together, so a disassembly is laced with
// conditional branches - BogusCF's and its own - whose real, always-taken
// direction is invisible without the same algebraic fact the compiler used
// to build it.
//
// Grounded on lib/Transform/opaque_predicate.cpp's OpaquePredicate module
// pass and boguscf.cpp's doFinalization, which the original fuses into one
// BogusCF-only hook; spec.md §2 separates them into independent pipeline
// stages, so this pass is what doFinalization's materialisation half
// becomes once BogusCF no longer performs it itself.
package opaquepredicate

import (
	"ssaobf/internal/ir"
	"ssaobf/internal/obfmeta"
	"ssaobf/internal/predicate"
)

// Config mirrors spec.md §6's opaque-seed / opaque-global flags.
type Config struct {
	Func        []string
	Seed        string
	GlobalCount int
}

type Stats struct {
	BlocksSeen        int
	BlocksGuarded     int
	StubsMaterialised int
	FunctionsSkipped  int
}

type Pass struct {
	cfg  Config
	meta *obfmeta.Store
}

func New(cfg Config, meta *obfmeta.Store) *Pass {
	if cfg.GlobalCount == 0 {
		cfg.GlobalCount = predicate.DefaultGuardCount
	}
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

// Eligible reports whether fn has at least one block the candidate filter
// below would accept. Copy does not query it; Copy's eligibility check
// covers BogusCF and Flatten only.
func Eligible(fn *ir.Function) bool {
	if fn.IsDeclaration() {
		return false
	}
	return len(candidateBlocks(fn)) > 0
}

// candidateBlocks are blocks the pass may re-terminate: not the entry
// block or a landing pad, and ending in a plain unconditional jump - a
// block already ending in a conditional branch, switch, or an exiting
// terminator has no single successor edge to guard.
func candidateBlocks(fn *ir.Function) []*ir.BasicBlock {
	entry := fn.Entry()
	var out []*ir.BasicBlock
	for _, b := range fn.Blocks {
		if b == entry || b.LandingPad {
			continue
		}
		if _, ok := b.Terminator.(*ir.JumpTerm); ok {
			out = append(out, b)
		}
	}
	return out
}

// Run prepares the module's guard globals once, places a further round of
// its own stub placeholders over allow-listed, eligible blocks, then
// materialises every obfmeta.Stub-tagged branch in the module - both the
// ones it just placed and any BogusCF left behind earlier in the pipeline -
// into a real predicate guarding a provably-dead arm.
func (p *Pass) Run(prog *ir.Program, src predicate.Source) (Stats, error) {
	var stats Stats

	lib, err := predicate.PrepareModule(prog, p.cfg.GlobalCount, src)
	if err != nil {
		return stats, err
	}

	for _, fn := range prog.Functions {
		if fn.IsDeclaration() || !p.allowed(fn) {
			continue
		}
		for _, b := range candidateBlocks(fn) {
			stats.BlocksSeen++
			if err := p.guardBlock(fn, lib, b); err != nil {
				return stats, err
			}
			stats.BlocksGuarded++
		}
	}

	n, err := lib.Materialise(p.meta, prog)
	if err != nil {
		return stats, err
	}
	stats.StubsMaterialised = n

	return stats, nil
}

// guardBlock splits b's single successor edge so that what used to be an
// unconditional jump becomes a stub-guarded one: b's original jump target
// is the stub's true edge, and a fresh, empty, unreachable-terminated
// block is its false edge. The stub is KindTrue, so once materialised the
// original target is always taken and the fresh block is the dead arm.
// Materialise resolves both this stub and every one BogusCF placed in the
// same pass over prog below.
func (p *Pass) guardBlock(fn *ir.Function, lib *predicate.Library, b *ir.BasicBlock) error {
	jump := b.Terminator.(*ir.JumpTerm)
	live := jump.Target

	dead := &ir.BasicBlock{Label: b.Label + ".opaque.dead"}
	dead.Terminator = ir.NewUnreachable()
	dead.Terminator.SetBlock(dead)
	fn.AddBlock(dead)

	if _, err := lib.CreateStub(p.meta, b, live, dead, predicate.KindTrue); err != nil {
		return err
	}

	fn.InvalidateCFG()
	fn.RecomputePredecessors()
	return nil
}
