// Package scheduler orchestrates the obfuscation pipeline end to end:
// given a Config, it runs whichever passes were selected, in the order
// spec §4 fixes, threading register-promotion and CFG-simplify glue
// between every non-trivial pass the way the original's schedule.cpp
// registers its two passes onto LLVM's PassManagerBuilder's
// EP_OptimizerLast extension point.
//
// The original (lib/Transform/schedule.cpp) only ever registers Flatten
// and BogusCF unconditionally; the richer enumeration/trivial-preset/
// disable-everything behavior below comes entirely from spec.md §4.7,
// since the original never exposed pass ordering as a configurable
// surface at all.
package scheduler

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/segmentio/ksuid"

	"ssaobf/internal/cfgsimplify"
	"ssaobf/internal/ir"
	"ssaobf/internal/obfconfig"
	"ssaobf/internal/obflog"
	"ssaobf/internal/obfmeta"
	"ssaobf/internal/passes/boguscf"
	"ssaobf/internal/passes/cleanup"
	"ssaobf/internal/passes/copy"
	"ssaobf/internal/passes/flatten"
	"ssaobf/internal/passes/inline"
	"ssaobf/internal/passes/opaquepredicate"
	"ssaobf/internal/passes/rename"
	"ssaobf/internal/passes/replaceinst"
	"ssaobf/internal/predicate"
)

// Step names one pipeline stage the caller can enumerate explicitly.
type Step string

const (
	StepCopy            Step = "copy"
	StepBogusCF         Step = "bcf"
	StepOpaquePredicate Step = "opaque"
	StepReplaceInst     Step = "replace"
	StepFlatten         Step = "flatten"
	StepInline          Step = "inline"
	StepCleanup         Step = "cleanup"
	StepRename          Step = "rename"
)

// defaultPipeline is spec §2's full ordering, expressed as the subset of
// it that is independently selectable (register-promotion and CFG-
// simplify are glue the scheduler inserts itself, never user-selected).
var defaultPipeline = []Step{
	StepCopy, StepBogusCF, StepOpaquePredicate, StepReplaceInst, StepFlatten, StepCleanup, StepRename,
}

// trivialPipeline is spec §4.7's "trivial" preset.
var trivialPipeline = []Step{StepCopy, StepInline, StepCleanup, StepRename}

// Report summarises one scheduler run: every pass's own stats, plus a
// ksuid identifying the run so a caller can correlate it against logs
// emitted elsewhere.
type Report struct {
	ID               string
	Steps            []Step
	CopyStats        copy.Stats
	BogusCFStats     boguscf.Stats
	OpaqueStats      opaquepredicate.Stats
	ReplaceStats     replaceinst.Stats
	FlattenStats     flatten.Stats
	InlineStats      inline.Stats
	CleanupModified  bool
	RenameStats      rename.Stats
	CFGSimplifyStats cfgsimplify.Stats
}

// Run executes the pipeline Steps selects (or disables it entirely per
// cfg.NoObfSchedule) against prog, returning a Report.
//
// An Invariant-violation error (spec §7: an internal assertion a pass
// itself panics on, as opposed to a recoverable Unsupported-IR skip)
// is recovered here and returned as an error rather than crashing the
// caller's process - this is the pipeline's one panic/recover boundary.
func Run(prog *ir.Program, cfg *obfconfig.Config, log *obflog.Logger) (report Report, err error) {
	if cfg.NoObfSchedule {
		return Report{ID: ksuid.New().String()}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(*obfmeta.InvariantError); ok {
				err = errors.WithStack(ie)
				return
			}
			err = errors.WithStack(fmt.Errorf("scheduler: unexpected panic: %v", r))
		}
	}()

	steps := Steps(cfg)
	meta := obfmeta.NewStore()
	report.ID = ksuid.New().String()
	report.Steps = steps

	for _, fn := range prog.Functions {
		if !fn.IsDeclaration() {
			ir.DemotePhisToMemory(fn)
		}
	}

	// BogusCF takes an already-prepared Library, which it uses only to place
	// stub placeholders; OpaquePredicate prepares its own internally, since
	// it is an independent pass rather than a BogusCF collaborator. Every
	// stub, BogusCF's included, is materialised by OpaquePredicate against
	// OpaquePredicate's guard globals, so the set prepared here is added to
	// the module but read by no predicate. Both sets use the same
	// obf.guard.N names.
	var lib *predicate.Library
	if containsAny(steps, StepBogusCF) {
		lib, err = predicate.PrepareModule(prog, cfg.BcfGlobal, predicate.NewSeededSource(cfg.BcfSeed))
		if err != nil {
			return report, fmt.Errorf("scheduler: preparing BogusCF's opaque-predicate library: %w", err)
		}
	}

	isTrivial := isTrivialSelection(steps)

	for i, step := range steps {
		switch step {
		case StepCopy:
			p := copy.New(copy.Config{
				Func:               cfg.CopyFunc,
				Probability:        cfg.CopyProbability,
				ReplaceProbability: cfg.CopyReplaceProbability,
				Seed:               cfg.CopySeed,
				EnsureEligibility:  cfg.CopyEnsureEligibility,
				EnsureReplacement:  cfg.CopyEnsureReplacement,
			}, meta)
			report.CopyStats, err = p.Run(prog)
		case StepBogusCF:
			p := boguscf.New(boguscf.Config{
				Func:        cfg.BcfFunc,
				Probability: cfg.BcfProbability,
				Seed:        cfg.BcfSeed,
				GlobalCount: cfg.BcfGlobal,
			}, meta, log)
			report.BogusCFStats, err = p.Run(prog, lib)
		case StepOpaquePredicate:
			p := opaquepredicate.New(opaquepredicate.Config{
				Seed:        cfg.OpaqueSeed,
				GlobalCount: cfg.OpaqueGlobal,
			}, meta)
			report.OpaqueStats, err = p.Run(prog, predicate.NewSeededSource(cfg.OpaqueSeed))
		case StepReplaceInst:
			p := replaceinst.New(replaceinst.Config{Seed: cfg.ReplaceSeed}, meta, log)
			report.ReplaceStats, err = p.Run(prog)
		case StepFlatten:
			p := flatten.New(flatten.Config{Func: cfg.FlattenFunc, Seed: cfg.FlattenSeed}, meta)
			report.FlattenStats, err = p.Run(prog)
		case StepInline:
			p := inline.New(inline.Config{Probability: 1.0, Seed: cfg.CopySeed}, meta)
			report.InlineStats, err = p.Run(prog)
		case StepCleanup:
			report.CleanupModified = cleanup.Run(prog, meta)
		case StepRename:
			report.RenameStats = rename.Run(prog)
		}
		if err != nil {
			return report, fmt.Errorf("scheduler: step %s: %w", step, err)
		}

		if !isTrivial && i < len(steps)-1 {
			for _, fn := range prog.Functions {
				if !fn.IsDeclaration() {
					ir.PromoteMemoryToRegisters(fn)
					ir.DemotePhisToMemory(fn)
				}
			}
			s := cfgsimplify.Run(prog)
			report.CFGSimplifyStats.BlocksPruned += s.BlocksPruned
			report.CFGSimplifyStats.BlocksMerged += s.BlocksMerged
		}
	}

	for _, fn := range prog.Functions {
		if !fn.IsDeclaration() {
			ir.PromoteMemoryToRegisters(fn)
		}
	}
	s := cfgsimplify.Run(prog)
	report.CFGSimplifyStats.BlocksPruned += s.BlocksPruned
	report.CFGSimplifyStats.BlocksMerged += s.BlocksMerged

	return report, nil
}

// Steps resolves cfg's selection into an ordered step list: the trivial
// preset, the default full pipeline, or nothing when scheduling is
// disabled (callers should check cfg.NoObfSchedule themselves, since Run
// already short-circuits on it before calling this).
func Steps(cfg *obfconfig.Config) []Step {
	if cfg.TrivialObfuscation {
		return trivialPipeline
	}
	return defaultPipeline
}

func isTrivialSelection(steps []Step) bool {
	if len(steps) != len(trivialPipeline) {
		return false
	}
	for i, s := range steps {
		if s != trivialPipeline[i] {
			return false
		}
	}
	return true
}

func containsAny(steps []Step, want ...Step) bool {
	for _, s := range steps {
		for _, w := range want {
			if s == w {
				return true
			}
		}
	}
	return false
}
