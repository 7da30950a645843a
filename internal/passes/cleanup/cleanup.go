// Package cleanup implements the Cleanup pass: strips every obfuscation
// tag the pipeline wrote along the way so the program handed back to the
// caller carries none of the pipeline's internal bookkeeping.
//
// Ported from lib/Transform/cleanup.cpp's CleanupPass, generalised from
// its three hard-coded tag kinds to obfmeta's full registry, since this
// port's tag set is larger than the original's (OpaquePredicate and
// ReplaceInstruction's tags did not exist as distinct passes there).
package cleanup

import (
	"ssaobf/internal/ir"
	"ssaobf/internal/obfmeta"
)

// Run strips every known obfuscation tag from prog, returning whether any
// tag was actually present (mirrors the original's hasBeenModified result).
func Run(prog *ir.Program, meta *obfmeta.Store) bool {
	modified := false
	for _, fn := range prog.Functions {
		for _, b := range fn.Blocks {
			for _, inst := range b.Instructions {
				if hasAnyTag(meta, inst) {
					modified = true
				}
			}
			if b.Terminator != nil && hasAnyTag(meta, b.Terminator) {
				modified = true
			}
		}
	}
	meta.StripAll(prog)
	return modified
}

func hasAnyTag(meta *obfmeta.Store, inst ir.Instruction) bool {
	for _, k := range []obfmeta.Key{
		obfmeta.BogusCF, obfmeta.Flatten, obfmeta.Copy, obfmeta.Inline,
		obfmeta.Stub, obfmeta.Switch, obfmeta.OpStub, obfmeta.OpUnreach, obfmeta.OpMark,
	} {
		if meta.Has(inst, k) {
			return true
		}
	}
	return false
}
