package cleanup

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ssaobf/internal/ir"
	"ssaobf/internal/obfmeta"
)

func taggedFunc() *ir.Function {
	fn := &ir.Function{Name: "f", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	fn.AddBlock(entry)
	a := ir.NewConst(ir.I32, int64(1))
	entry.Instructions = []ir.Instruction{a}
	entry.Terminator = ir.NewReturn(a.Res)
	entry.Terminator.SetBlock(entry)
	fn.RecomputePredecessors()
	return fn
}

func TestRunStripsEveryKnownTag(t *testing.T) {
	fn := taggedFunc()
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{fn}}
	meta := obfmeta.NewStore()
	meta.TagFunction(fn, obfmeta.BogusCF, obfmeta.ValTrue)
	meta.Tag(fn.Blocks[0].Terminator, obfmeta.OpStub, "formula1")

	modified := Run(prog, meta)

	assert.True(t, modified)
	assert.False(t, meta.CheckFunctionTagged(fn, obfmeta.BogusCF))
	assert.False(t, meta.Has(fn.Blocks[0].Terminator, obfmeta.OpStub))
}

func TestRunReportsNoChangeWhenNothingWasTagged(t *testing.T) {
	fn := taggedFunc()
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{fn}}
	meta := obfmeta.NewStore()

	modified := Run(prog, meta)

	assert.False(t, modified)
}
