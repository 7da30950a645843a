package cfgsimplify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ssaobf/internal/ir"
)

// chainFunc builds entry -> mid -> tail, where mid is mid's only
// predecessor's only successor, so it should fold into entry.
func chainFunc() *ir.Function {
	fn := &ir.Function{Name: "f", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	mid := &ir.BasicBlock{Label: "mid"}
	fn.AddBlock(entry)
	fn.AddBlock(mid)

	entry.Terminator = ir.NewJump(mid)
	entry.Terminator.SetBlock(entry)

	a := ir.NewConst(ir.I32, int64(1))
	mid.Instructions = []ir.Instruction{a}
	mid.Terminator = ir.NewReturn(a.Res)
	mid.Terminator.SetBlock(mid)

	fn.RecomputePredecessors()
	return fn
}

func TestRunMergesATrivialJumpChain(t *testing.T) {
	fn := chainFunc()
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{fn}}

	stats := Run(prog)

	require.Equal(t, 1, stats.BlocksMerged)
	assert.Len(t, fn.Blocks, 1)
	_, isReturn := fn.Blocks[0].Terminator.(*ir.ReturnTerm)
	assert.True(t, isReturn)
}

func TestRunPrunesAnOrphanedBlock(t *testing.T) {
	fn := chainFunc()
	orphan := &ir.BasicBlock{Label: "orphan"}
	orphan.Terminator = ir.NewUnreachable()
	orphan.Terminator.SetBlock(orphan)
	fn.AddBlock(orphan)
	fn.RecomputePredecessors()
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{fn}}

	stats := Run(prog)

	assert.Equal(t, 1, stats.BlocksPruned)
	for _, b := range fn.Blocks {
		assert.NotEqual(t, "orphan", b.Label)
	}
}

func TestRunLeavesAnAlreadySimpleFunctionAlone(t *testing.T) {
	fn := &ir.Function{Name: "f", ReturnType: ir.I32}
	entry := &ir.BasicBlock{Label: "entry"}
	fn.AddBlock(entry)
	a := ir.NewConst(ir.I32, int64(1))
	entry.Instructions = []ir.Instruction{a}
	entry.Terminator = ir.NewReturn(a.Res)
	entry.Terminator.SetBlock(entry)
	fn.RecomputePredecessors()
	prog := &ir.Program{Name: "p", Functions: []*ir.Function{fn}}

	stats := Run(prog)

	assert.Equal(t, 0, stats.BlocksMerged)
	assert.Equal(t, 0, stats.BlocksPruned)
}
