// Package rename implements IdentifierRenamer: the pipeline's final step,
// stripping every identifier a disassembler could otherwise use as a
// readable anchor - internal/private function names, block labels, and
// named SSA values - leaving only the numeric identity the IR already
// carries underneath.
//
// Ported from lib/Transform/identifier_renamer.cpp's IdentifierRenamer.
package rename

import "ssaobf/internal/ir"

type Stats struct {
	FunctionsRenamed int
}

// Run clears the name of every internal or private-linkage function, and
// every block label and named SSA value across the whole program -
// external-linkage functions keep their name since callers outside the
// module still need to resolve them by symbol.
func Run(prog *ir.Program) Stats {
	var stats Stats
	for _, fn := range prog.Functions {
		if fn.IsDeclaration() {
			continue
		}
		if fn.Linkage == ir.Internal || fn.Linkage == ir.Private {
			fn.Name = ""
			stats.FunctionsRenamed++
		}
		for _, p := range fn.Params {
			p.Name = ""
			if p.Value != nil {
				p.Value.Name = ""
			}
		}
		for _, b := range fn.Blocks {
			b.Label = ""
			for _, inst := range b.Instructions {
				if res := inst.Result(); res != nil {
					res.Name = ""
				}
			}
		}
	}
	return stats
}
