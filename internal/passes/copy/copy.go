// Package copy implements Function Copying: a Bernoulli-selected subset of
// a module's functions are cloned, the clone tagged (obfmeta.Copy) with the
// obfuscation kind (BogusCF or Flatten) chosen for it, and a
// Bernoulli-selected subset of the original's call sites redirected to the
// clone - so a caller base is split between the original and its twin,
// with no single call site revealing that a twin exists at all. BogusCF
// and Flatten do not read the Copy tag: they select functions, clone and
// original alike, by their own allow-lists and eligibility checks, so the
// chosen kind is not applied to the clone alone.
//
// Ported from lib/Transform/copy.cpp's Copy::runOnModule, generalised from
// a single clone-or-not decision to the spec's fuller allow-list/
// eligibility/replacement-guarantee algorithm.
package copy

import (
	"hash/fnv"
	"math/rand"
	"time"

	"ssaobf/internal/ir"
	"ssaobf/internal/obfmeta"
	"ssaobf/internal/passes/flatten"
)

// Config mirrors spec.md §6's copy* flags.
type Config struct {
	Func               []string
	Probability        float64
	ReplaceProbability float64
	Seed               string
	EnsureEligibility  bool
	EnsureReplacement  bool
}

type Stats struct {
	FunctionsCloned  int
	CallSitesRewired int
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

func (p *Pass) allowListed(fn *ir.Function) bool {
	for _, n := range p.cfg.Func {
		if n == fn.Name {
			return true
		}
	}
	return false
}

// bogusCFEligible mirrors boguscf's own block-level eligibility closely
// enough for Copy's purposes: any non-declaration function with at least
// one non-entry, non-landing-pad, non-terminator-only block and no invoke
// terminator can, in principle, be chosen by BogusCF.
func bogusCFEligible(fn *ir.Function) bool {
	if fn.IsDeclaration() {
		return false
	}
	entry := fn.Entry()
	for _, b := range fn.Blocks {
		if _, ok := b.Terminator.(*ir.InvokeTerm); ok {
			return false
		}
	}
	for _, b := range fn.Blocks {
		if b == entry || b.LandingPad {
			continue
		}
		if b.FirstNonPhiOrDebug() < len(b.Instructions) {
			return true
		}
	}
	return false
}

// call site is a use of a function by name from a call or invoke instruction.
type callSite struct {
	fn    *ir.Function
	block *ir.BasicBlock
	inst  ir.Instruction
}

func (c callSite) callee() string {
	switch ti := c.inst.(type) {
	case *ir.CallInst:
		return ti.Callee
	case *ir.InvokeTerm:
		return ti.Callee
	}
	return ""
}

func (c callSite) setCallee(name string) {
	switch ti := c.inst.(type) {
	case *ir.CallInst:
		ti.Callee = name
	case *ir.InvokeTerm:
		ti.Callee = name
	}
}

// findCallSites collects every call/invoke across prog targeting callee.
func findCallSites(prog *ir.Program, callee string) []callSite {
	var sites []callSite
	for _, fn := range prog.Functions {
		for _, b := range fn.Blocks {
			for _, inst := range b.Instructions {
				if ci, ok := inst.(*ir.CallInst); ok && ci.Callee == callee {
					sites = append(sites, callSite{fn: fn, block: b, inst: ci})
				}
			}
			if it, ok := b.Terminator.(*ir.InvokeTerm); ok && it.Callee == callee {
				sites = append(sites, callSite{fn: fn, block: b, inst: it})
			}
		}
	}
	return sites
}

// Run clones a Bernoulli-selected subset of prog's functions, appending
// each clone to prog.Functions, and returns aggregate statistics.
func (p *Pass) Run(prog *ir.Program) (Stats, error) {
	var stats Stats

	type candidate struct {
		fn   *ir.Function
		kind obfmeta.Key
	}
	var toClone []candidate

	originals := append([]*ir.Function(nil), prog.Functions...)
	for _, fn := range originals {
		if fn.IsDeclaration() {
			continue
		}
		selected := p.allowListed(fn)
		if len(p.cfg.Func) == 0 {
			selected = p.rng.Float64() < p.cfg.Probability
		}
		if !selected {
			continue
		}

		kind := obfmeta.BogusCF
		if p.cfg.EnsureEligibility {
			bcfOK := bogusCFEligible(fn)
			flattenOK := flatten.Eligible(fn)
			switch {
			case bcfOK && flattenOK:
				if p.rng.Intn(2) == 0 {
					kind = obfmeta.BogusCF
				} else {
					kind = obfmeta.Flatten
				}
			case bcfOK:
				kind = obfmeta.BogusCF
			case flattenOK:
				kind = obfmeta.Flatten
			default:
				continue // neither pass would accept F: skip
			}
		}

		sites := findCallSites(prog, fn.Name)
		if p.cfg.EnsureReplacement && len(sites) < 2 {
			continue // not enough call sites to redirect some while keeping decoys
		}

		toClone = append(toClone, candidate{fn: fn, kind: kind})
	}

	for _, c := range toClone {
		cloneName := c.fn.Name + ".copy"
		clone := ir.CloneFunctionInto(c.fn, cloneName)
		prog.Functions = append(prog.Functions, clone)
		p.meta.TagFunction(clone, obfmeta.Copy, string(c.kind))
		stats.FunctionsCloned++

		sites := findCallSites(prog, c.fn.Name)
		rewired := p.rewireCallSites(sites, cloneName)
		if p.cfg.EnsureReplacement && rewired == 0 {
			// cfg.ReplaceProbability was validated > 0 by obfconfig, so a
			// retry pass is guaranteed to eventually flip at least one site.
			for rewired == 0 {
				rewired = p.rewireCallSites(findCallSites(prog, c.fn.Name), cloneName)
			}
		}
		stats.CallSitesRewired += rewired
	}

	return stats, nil
}

func (p *Pass) rewireCallSites(sites []callSite, newCallee string) int {
	rewired := 0
	for _, s := range sites {
		if p.rng.Float64() < p.cfg.ReplaceProbability {
			s.setCallee(newCallee)
			rewired++
		}
	}
	return rewired
}
