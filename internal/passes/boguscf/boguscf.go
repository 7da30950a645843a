// Package boguscf implements the Bogus Control Flow pass: a subset of each
// eligible function's basic blocks is split in two, the tail half cloned,
// and an opaque-predicate-guarded branch installed ahead of both halves so
// both look reachable to a static analyser while only one of them, fixed
// by the polarity the predicate is materialised with, ever runs.
//
// Ported from lib/Transform/boguscf.cpp's runOnFunction/doFinalization.
package boguscf

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"ssaobf/internal/ir"
	"ssaobf/internal/obflog"
	"ssaobf/internal/obfmeta"
	"ssaobf/internal/predicate"
)

// Config mirrors spec.md §6's bcf* flags.
type Config struct {
	Func        []string // empty: every function is a candidate
	Probability float64
	Seed        string
	GlobalCount int
}

// Stats mirrors the original's STATISTIC counters
// (NumBlocksSeen/NumBlocksSkipped/NumBlocksTransformed).
type Stats struct {
	BlocksSeen        int
	BlocksSkipped     int
	BlocksTransformed int
	FunctionsSkipped  int
}

// Pass runs BogusCF over a program.
type Pass struct {
	cfg  Config
	meta *obfmeta.Store
	log  *obflog.Logger
	rng  *rand.Rand
}

func New(cfg Config, meta *obfmeta.Store, log *obflog.Logger) *Pass {
	var rng *rand.Rand
	if cfg.Seed != "" {
		h := fnv.New64a()
		_, _ = h.Write([]byte(cfg.Seed))
		rng = rand.New(rand.NewSource(int64(h.Sum64())))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Pass{cfg: cfg, meta: meta, log: log, rng: rng}
}

func (p *Pass) allowed(fn *ir.Function) bool {
	if len(p.cfg.Func) == 0 {
		return true
	}
	for _, name := range p.cfg.Func {
		if name == fn.Name {
			return true
		}
	}
	return false
}

// eligibleBlocks returns candidate blocks, excluding the entry block,
// landing pads, and blocks that hold nothing but their terminator (spec
// §4.3's eligibility rule).
func eligibleBlocks(fn *ir.Function) []*ir.BasicBlock {
	var out []*ir.BasicBlock
	entry := fn.Entry()
	for _, b := range fn.Blocks {
		if b == entry || b.LandingPad {
			continue
		}
		if b.FirstNonPhiOrDebug() == len(b.Instructions) {
			continue // terminator-only
		}
		out = append(out, b)
	}
	return out
}

func hasInvoke(fn *ir.Function) bool {
	for _, b := range fn.Blocks {
		if _, ok := b.Terminator.(*ir.InvokeTerm); ok {
			return true
		}
	}
	return false
}

// Run transforms prog in place, returning aggregate statistics.
func (p *Pass) Run(prog *ir.Program, lib *predicate.Library) (Stats, error) {
	var stats Stats
	for _, fn := range prog.Functions {
		if fn.IsDeclaration() {
			continue
		}
		if !p.allowed(fn) {
			stats.FunctionsSkipped++
			continue
		}
		if p.meta.CheckFunctionTagged(fn, obfmeta.BogusCF) {
			stats.FunctionsSkipped++
			continue
		}
		if hasInvoke(fn) {
			p.log.Debugf("boguscf: skipping %s, invoke terminator is unsupported IR", fn.Name)
			stats.FunctionsSkipped++
			continue
		}

		ir.DemotePhisToMemory(fn)

		candidates := eligibleBlocks(fn)
		stats.BlocksSeen += len(candidates)
		p.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })

		transformed := false
		for _, b := range candidates {
			if p.rng.Float64() >= p.cfg.Probability {
				stats.BlocksSkipped++
				continue
			}
			if err := p.transformBlock(fn, b, lib); err != nil {
				return stats, err
			}
			stats.BlocksTransformed++
			transformed = true
		}

		// Promote first: the slots PHI demotion prepended to the entry block
		// are removed here, and the tag must not sit on one of them.
		ir.PromoteMemoryToRegisters(fn)
		if transformed {
			p.meta.TagFunction(fn, obfmeta.BogusCF, obfmeta.ValTrue)
		}
	}
	return stats, nil
}

// transformBlock splits b at its first real instruction, clones the tail,
// and replaces b's terminator with an opaque-predicate-guarded branch whose
// true edge is the original tail and whose false edge is the clone. The
// stub is Random: once materialised, exactly one of the two is ever taken
// (the tail for a True predicate, the clone for a False one), and the
// other is tagged dead.
func (p *Pass) transformBlock(fn *ir.Function, b *ir.BasicBlock, lib *predicate.Library) error {
	splitAt := b.FirstNonPhiOrDebug()
	tail := fn.SplitBlock(b, splitAt, b.Label+".bcf.orig")

	vm := ir.NewValueMap()
	clone := ir.CloneBlock(tail, b.Label+".bcf.clone", vm)
	clone.Func = fn
	fn.Blocks = append(fn.Blocks, clone)
	for _, inst := range clone.Instructions {
		ir.RemapInstruction(inst, vm)
	}
	ir.RemapInstruction(clone.Terminator, vm)

	// Spec §4.3: "OpaquePredicateLib.createStub(block, original, cloned,
	// Random)" - BogusCF only ever installs the placeholder here; the
	// OpaquePredicate pass materialises it later, choosing True or False
	// itself via Random.
	stub, err := lib.CreateStub(p.meta, b, tail, clone, predicate.KindRandom)
	if err != nil {
		return fmt.Errorf("boguscf: %s: %w", fn.Name, err)
	}
	_ = stub

	fn.InvalidateCFG()
	fn.RecomputePredecessors()
	return nil
}
